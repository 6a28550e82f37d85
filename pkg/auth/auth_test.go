package auth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/roseglass/pkg/auth"
	"github.com/Mindburn-Labs/roseglass/pkg/limiter"
)

type stubResolver struct {
	calls []string
	err   error
}

func (s *stubResolver) ResolveUser(_ context.Context, externalID, email string) (string, error) {
	s.calls = append(s.calls, externalID+"|"+email)
	if s.err != nil {
		return "", s.err
	}
	return "internal-" + externalID, nil
}

func createTestToken(t *testing.T, ks auth.KeySet, sub, email string, expiry time.Time) string {
	t.Helper()
	token, err := ks.Sign(context.Background(), auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Email: email,
	})
	require.NoError(t, err)
	return token
}

func capture(t *testing.T, got **auth.Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.GetPrincipal(r.Context())
		assert.NoError(t, err)
		*got = p
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestMiddlewareValidJWT(t *testing.T) {
	ks, err := auth.NewInMemoryKeySet()
	require.NoError(t, err)
	resolver := &stubResolver{}
	mw := auth.NewMiddleware(auth.NewJWTValidator(ks), resolver, auth.Options{})

	var p *auth.Principal
	token := createTestToken(t, ks, "user_2abc", "sam@example.com", time.Now().Add(time.Hour))
	w := serve(mw(capture(t, &p)), "/api/analyze/credits", "Bearer "+token)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, p)
	assert.Equal(t, "user_2abc", p.ExternalID)
	assert.Equal(t, "internal-user_2abc", p.UserID)
	assert.Equal(t, "sam@example.com", p.Email)
	assert.False(t, p.Dev)
	assert.Equal(t, []string{"user_2abc|sam@example.com"}, resolver.calls)
}

func TestMiddlewareMissingEmailFallsBack(t *testing.T) {
	ks, err := auth.NewInMemoryKeySet()
	require.NoError(t, err)
	mw := auth.NewMiddleware(auth.NewJWTValidator(ks), nil, auth.Options{})

	var p *auth.Principal
	token := createTestToken(t, ks, "user_x", "", time.Now().Add(time.Hour))
	w := serve(mw(capture(t, &p)), "/api/co-create", "bearer "+token)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "unknown@roseglass.dating", p.Email)
	assert.Equal(t, "user_x", p.UserID)
}

func TestMiddlewareRejects(t *testing.T) {
	ks, err := auth.NewInMemoryKeySet()
	require.NoError(t, err)
	other, err := auth.NewInMemoryKeySet()
	require.NoError(t, err)
	mw := auth.NewMiddleware(auth.NewJWTValidator(ks), nil, auth.Options{})
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"no token", "Bearer "},
		{"expired", "Bearer " + createTestToken(t, ks, "u", "", time.Now().Add(-time.Hour))},
		{"foreign key", "Bearer " + createTestToken(t, other, "u", "", time.Now().Add(time.Hour))},
		{"no subject", "Bearer " + createTestToken(t, ks, "", "", time.Now().Add(time.Hour))},
		{"dev user disabled", auth.DevToken},
		{"garbage", "Bearer not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(h, "/api/analyze", tt.header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
		})
	}
}

func TestMiddlewareNilValidatorFailsClosed(t *testing.T) {
	mw := auth.NewMiddleware(auth.NewJWTValidator(nil), nil, auth.Options{})
	w := serve(mw(http.NotFoundHandler()), "/api/analyze", "Bearer abc")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Authentication not configured")
}

func TestMiddlewareDevUser(t *testing.T) {
	resolver := &stubResolver{}
	mw := auth.NewMiddleware(nil, resolver, auth.Options{AllowDevUser: true})

	var p *auth.Principal
	w := serve(mw(capture(t, &p)), "/api/analyze/history", auth.DevToken)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, p.Dev)
	assert.Equal(t, auth.DevExternalID, p.ExternalID)
	assert.Equal(t, auth.DevEmail, p.Email)
	assert.Equal(t, "internal-"+auth.DevExternalID, p.UserID)
}

func TestMiddlewarePublicPaths(t *testing.T) {
	mw := auth.NewMiddleware(nil, nil, auth.Options{})
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })

	assert.Equal(t, http.StatusTeapot, serve(mw(ok), "/health", "").Code)
	assert.Equal(t, http.StatusTeapot, serve(mw(ok), "/api/webhooks/stripe", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(mw(ok), "/api/analyze", "").Code)
}

func TestMiddlewareResolverFailure(t *testing.T) {
	mw := auth.NewMiddleware(nil, &stubResolver{err: errors.New("db down")}, auth.Options{AllowDevUser: true})
	w := serve(mw(http.NotFoundHandler()), "/api/analyze", auth.DevToken)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "db down")
}

func TestHMACKeySet(t *testing.T) {
	_, err := auth.NewHMACKeySet("short")
	require.Error(t, err)

	ks, err := auth.NewHMACKeySet(strings.Repeat("s", 32))
	require.NoError(t, err)
	v := auth.NewJWTValidator(ks)

	token := createTestToken(t, ks, "user_h", "h@example.com", time.Now().Add(time.Minute))
	claims, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user_h", claims.Subject)
	assert.Equal(t, "h@example.com", claims.Email)

	// An Ed25519 token must not verify against the HMAC key set.
	ed, err := auth.NewInMemoryKeySet()
	require.NoError(t, err)
	_, err = v.Validate(createTestToken(t, ed, "user_h", "", time.Now().Add(time.Minute)))
	require.Error(t, err)
}

func TestRSAKeySet(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	ks, err := auth.NewRSAKeySet(pemBytes)
	require.NoError(t, err)

	_, err = ks.Sign(context.Background(), jwt.RegisteredClaims{})
	require.ErrorIs(t, err, auth.ErrVerifyOnly)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user_rsa", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
	}).SignedString(priv)
	require.NoError(t, err)

	claims, err := auth.NewJWTValidator(ks).Validate(signed)
	require.NoError(t, err)
	assert.Equal(t, "user_rsa", claims.Subject)

	_, err = auth.NewRSAKeySet([]byte("not pem"))
	require.Error(t, err)
}

func TestInMemoryKeySetRotation(t *testing.T) {
	ks, err := auth.NewInMemoryKeySet()
	require.NoError(t, err)
	v := auth.NewJWTValidator(ks)

	old := createTestToken(t, ks, "u", "", time.Now().Add(time.Hour))
	require.NoError(t, ks.Rotate())
	_, err = v.Validate(old)
	require.NoError(t, err, "recent keys stay valid after rotation")

	for i := 0; i < 6; i++ {
		require.NoError(t, ks.Rotate())
	}
	_, err = v.Validate(old)
	require.Error(t, err, "evicted keys no longer verify")
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := auth.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.GetRequestID(r.Context())
	}))

	w := serve(h, "/", "")
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-id")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "client-id", seen)
	assert.Equal(t, "", auth.GetRequestID(context.Background()))
}

func TestCORSMiddleware(t *testing.T) {
	h := auth.CORSMiddleware([]string{"https://roseglass.dating"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/analyze", nil)
	req.Header.Set("Origin", "https://roseglass.dating")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://roseglass.dating", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Required-Credits")

	req = httptest.NewRequest(http.MethodGet, "/api/analyze", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

type failingStore struct{}

func (failingStore) Allow(context.Context, string, limiter.Policy, int) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimitMiddleware(t *testing.T) {
	policy := limiter.Policy{RPM: 60, Burst: 1}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	h := auth.RateLimitMiddleware(limiter.NewMemoryStore(), policy)(ok)
	req := func(user string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/api/analyze", nil)
		r = r.WithContext(auth.WithPrincipal(r.Context(), &auth.Principal{UserID: user}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusOK, req("u1").Code)
	denied := req("u1")
	assert.Equal(t, http.StatusTooManyRequests, denied.Code)
	assert.Equal(t, "1", denied.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, req("u2").Code)

	assert.Equal(t, http.StatusOK, serve(auth.RateLimitMiddleware(nil, policy)(ok), "/", "").Code)
	assert.Equal(t, http.StatusOK, serve(auth.RateLimitMiddleware(failingStore{}, policy)(ok), "/", "").Code)
}
