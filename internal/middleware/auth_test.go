package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/orderflow/internal/model"
)

func serveWithToken(t *testing.T, h http.Handler, token string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestAuthMiddleware_WithValidToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	userID := uuid.New()
	want := model.Scope{TenantID: uuid.New(), UserID: &userID, Role: model.RoleStaff}

	token, err := m.IssueToken(want, time.Hour)
	require.NoError(t, err)

	var got model.Scope
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		got, ok = ScopeFromContext(r.Context())
		require.True(t, ok)
	})

	w := serveWithToken(t, m.Middleware(next), token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, want.TenantID, got.TenantID)
	assert.Equal(t, want.Role, got.Role)
	require.NotNil(t, got.UserID)
	assert.Equal(t, userID, *got.UserID)
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	tenant := uuid.New()

	sign := func(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := func() Claims {
		return Claims{
			TenantID: tenant.String(),
			Role:     string(model.RoleStaff),
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
	}

	tests := []struct {
		name  string
		token func(t *testing.T) string
	}{
		{"missing", func(*testing.T) string { return "" }},
		{"garbage", func(*testing.T) string { return "not-a-jwt" }},
		{"wrong secret", func(t *testing.T) string {
			return sign(t, jwt.SigningMethodHS256, []byte("other"), valid())
		}},
		{"wrong algorithm", func(t *testing.T) string {
			return sign(t, jwt.SigningMethodHS512, []byte("test-secret"), valid())
		}},
		{"expired", func(t *testing.T) string {
			c := valid()
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
			return sign(t, jwt.SigningMethodHS256, []byte("test-secret"), c)
		}},
		{"no expiry", func(t *testing.T) string {
			c := valid()
			c.ExpiresAt = nil
			return sign(t, jwt.SigningMethodHS256, []byte("test-secret"), c)
		}},
		{"bad tenant", func(t *testing.T) string {
			c := valid()
			c.TenantID = "acme"
			return sign(t, jwt.SigningMethodHS256, []byte("test-secret"), c)
		}},
		{"unknown role", func(t *testing.T) string {
			c := valid()
			c.Role = "ADMIN"
			return sign(t, jwt.SigningMethodHS256, []byte("test-secret"), c)
		}},
		{"bad subject", func(t *testing.T) string {
			c := valid()
			c.Subject = "42"
			return sign(t, jwt.SigningMethodHS256, []byte("test-secret"), c)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("next handler should not be called")
			})
			w := serveWithToken(t, m.Middleware(next), tt.token(t))
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRequireRole(t *testing.T) {
	m := NewAuthMiddleware("")
	h := m.Middleware(RequireRole(model.RoleStaff)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	staff, err := m.IssueToken(model.Scope{TenantID: uuid.New(), Role: model.RoleStaff}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, serveWithToken(t, h, staff).Code)

	customer, err := m.IssueToken(model.Scope{TenantID: uuid.New(), Role: model.RoleCustomer}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, serveWithToken(t, h, customer).Code)
}

func TestScopeFromContext_Empty(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := ScopeFromContext(r.Context())
	assert.False(t, ok)
}
