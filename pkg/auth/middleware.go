// Package auth authenticates API callers and carries request-scoped identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/roseglass/pkg/apierror"
)

// Development identity accepted with "Authorization: dev_test_user".
const (
	DevToken      = "dev_test_user"
	DevExternalID = "dev_test_clerk_id"
	DevEmail      = "test@roseglass.dating"
	fallbackEmail = "unknown@roseglass.dating"
)

// Claims are the JWT claims expected from the identity provider.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// JWTValidator validates bearer tokens against a KeySet.
type JWTValidator struct {
	KeySet KeySet
	opts   []jwt.ParserOption
}

// NewJWTValidator returns nil when ks is nil so the middleware fails closed.
func NewJWTValidator(ks KeySet, opts ...jwt.ParserOption) *JWTValidator {
	if ks == nil {
		return nil
	}
	return &JWTValidator{KeySet: ks, opts: opts}
}

// Validate parses and verifies tokenStr.
func (v *JWTValidator) Validate(tokenStr string) (*Claims, error) {
	if v == nil || v.KeySet == nil {
		return nil, errors.New("validator uninitialized")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, v.KeySet.KeyFunc(), v.opts...)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// UserResolver maps an external identity to an internal user id, creating
// the account on first sight.
type UserResolver interface {
	ResolveUser(ctx context.Context, externalID, email string) (string, error)
}

// Options configures the middleware.
type Options struct {
	// AllowDevUser accepts the development token. Never enable in production.
	AllowDevUser bool
	// PublicPaths bypass authentication.
	PublicPaths []string
}

// DefaultPublicPaths need no credentials.
var DefaultPublicPaths = []string{"/health", "/api/webhooks/stripe"}

func isPublic(path string, public []string) bool {
	for _, p := range public {
		if path == p {
			return true
		}
	}
	return false
}

// NewMiddleware authenticates requests and attaches a Principal. A nil
// validator rejects every bearer token.
func NewMiddleware(validator *JWTValidator, users UserResolver, opts Options) func(http.Handler) http.Handler {
	public := opts.PublicPaths
	if public == nil {
		public = DefaultPublicPaths
	}
	logger := slog.Default().With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || isPublic(r.URL.Path, public) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				apierror.WriteUnauthorized(w, r, "Not authenticated")
				return
			}

			var p *Principal
			switch {
			case header == DevToken:
				if !opts.AllowDevUser {
					apierror.WriteUnauthorized(w, r, "Invalid authorization header")
					return
				}
				logger.Info("using development test user")
				p = &Principal{ExternalID: DevExternalID, Email: DevEmail, Dev: true}
			default:
				scheme, token, ok := strings.Cut(header, " ")
				if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
					apierror.WriteUnauthorized(w, r, "Invalid authentication scheme")
					return
				}
				if validator == nil {
					apierror.WriteUnauthorized(w, r, "Authentication not configured")
					return
				}
				claims, err := validator.Validate(token)
				if err != nil {
					logger.Debug("token rejected", "error", err)
					apierror.WriteUnauthorized(w, r, "Invalid or expired token")
					return
				}
				if claims.Subject == "" {
					apierror.WriteUnauthorized(w, r, "Invalid token payload")
					return
				}
				email := claims.Email
				if email == "" {
					email = fallbackEmail
				}
				p = &Principal{ExternalID: claims.Subject, Email: email}
			}

			if users != nil {
				id, err := users.ResolveUser(r.Context(), p.ExternalID, p.Email)
				if err != nil {
					apierror.WriteInternal(w, r, fmt.Errorf("resolve user: %w", err))
					return
				}
				p.UserID = id
			} else {
				p.UserID = p.ExternalID
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
