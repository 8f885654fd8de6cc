package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/x402labs/llm-router/config"
	"github.com/x402labs/llm-router/utils"
)

// AuthMiddleware guards admin routes with HMAC-signed bearer tokens.
type AuthMiddleware struct {
	secret []byte
	issuer string
	logger *zap.Logger
}

// NewAuthMiddleware creates an AuthMiddleware from the auth config.
func NewAuthMiddleware(cfg config.AuthConfig, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		logger: logger,
	}
}

// RequireAdmin validates the Authorization bearer token and stores the
// token subject in the request context. Admin routes stay closed when no
// secret is configured.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.secret) == 0 {
			_ = utils.WriteUnauthorized(w, "Admin access is not configured")
			return
		}

		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			_ = utils.WriteUnauthorized(w, "Missing bearer token")
			return
		}

		token, err := jwt.Parse(tokenString,
			func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return m.secret, nil
			},
			jwt.WithIssuer(m.issuer),
			jwt.WithExpirationRequired(),
		)
		if err != nil || !token.Valid {
			m.logger.Warn("admin token rejected", zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid token")
			return
		}

		subject, _ := token.Claims.GetSubject()
		next.ServeHTTP(w, r.WithContext(WithAdminSubject(r.Context(), subject)))
	})
}
