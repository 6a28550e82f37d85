package api

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/Mindburn-Labs/roseglass/pkg/auth"
)

// HeaderIdempotencyKey lets clients retry paid calls without paying twice.
const HeaderIdempotencyKey = "Idempotency-Key"

type cachedResponse struct {
	status   int
	header   http.Header
	body     []byte
	cachedAt time.Time
}

// IdempotencyCache replays successful responses to repeated paid requests.
// Keys are scoped to the authenticated user.
type IdempotencyCache struct {
	mu      sync.Mutex
	entries map[string]*cachedResponse
	ttl     time.Duration
	now     func() time.Time
}

func NewIdempotencyCache(ttl time.Duration) *IdempotencyCache {
	return &IdempotencyCache{entries: make(map[string]*cachedResponse), ttl: ttl, now: time.Now}
}

func (c *IdempotencyCache) get(key string) (*cachedResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.cachedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e, true
}

func (c *IdempotencyCache) set(key string, e *cachedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, v := range c.entries {
		if now.Sub(v.cachedAt) > c.ttl {
			delete(c.entries, k)
		}
	}
	e.cachedAt = now
	c.entries[key] = e
}

type responseCapture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.status = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// Middleware replays the cached 2xx response for a repeated POST carrying
// the same Idempotency-Key. Requests without the header pass through.
func (c *IdempotencyCache) Middleware(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderIdempotencyKey)
		if r.Method != http.MethodPost || key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if p, err := auth.GetPrincipal(r.Context()); err == nil {
			key = p.UserID + ":" + key
		}
		key = r.URL.Path + "|" + key

		if cached, ok := c.get(key); ok {
			for k, vals := range cached.header {
				w.Header()[k] = vals
			}
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(cached.status)
			_, _ = w.Write(cached.body)
			return
		}

		capture := &responseCapture{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(capture, r)
		if capture.status >= 200 && capture.status < 300 {
			c.set(key, &cachedResponse{status: capture.status, header: w.Header().Clone(), body: capture.body.Bytes()})
		}
	})
}
