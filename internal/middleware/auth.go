// Package middleware содержит HTTP middleware сервиса заказов.
package middleware

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mmeshcher/orderflow/internal/model"
)

type contextKey string

const scopeKey contextKey = "scope"

var errInvalidClaims = errors.New("invalid token claims")

// Claims содержит утверждения токена доступа.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// AuthMiddleware проверяет bearer-токен и помещает область доступа в контекст запроса.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт AuthMiddleware с указанным секретным ключом.
// Пустой ключ заменяется случайным: выданные ранее токены перестают действовать после перезапуска.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет заголовок Authorization и добавляет область доступа в контекст.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		scope, err := a.parseToken(token)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), scope)))
	})
}

// IssueToken выпускает токен для области доступа.
func (a *AuthMiddleware) IssueToken(scope model.Scope, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID: scope.TenantID.String(),
		Role:     string(scope.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if scope.UserID != nil {
		claims.Subject = scope.UserID.String()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secretKey)
}

func (a *AuthMiddleware) parseToken(raw string) (model.Scope, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return model.Scope{}, err
	}

	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return model.Scope{}, errInvalidClaims
	}

	scope := model.Scope{TenantID: tenantID, Role: model.Role(claims.Role)}
	if scope.Role != model.RoleCustomer && scope.Role != model.RoleStaff {
		return model.Scope{}, errInvalidClaims
	}
	if claims.Subject != "" {
		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			return model.Scope{}, errInvalidClaims
		}
		scope.UserID = &userID
	}
	return scope, nil
}

// RequireRole пропускает только запросы с указанной ролью.
func RequireRole(role model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope, ok := ScopeFromContext(r.Context())
			if !ok || scope.Role != role {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithScope возвращает контекст с областью доступа.
func WithScope(ctx context.Context, scope model.Scope) context.Context {
	return context.WithValue(ctx, scopeKey, scope)
}

// ScopeFromContext извлекает область доступа из контекста запроса.
func ScopeFromContext(ctx context.Context) (model.Scope, bool) {
	scope, ok := ctx.Value(scopeKey).(model.Scope)
	return scope, ok
}
