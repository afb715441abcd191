package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisgrid/mandate/pkg/identity"
)

func newAuthedHandler(t *testing.T) (http.Handler, *identity.TokenManager) {
	t.Helper()
	ks, err := identity.NewInMemoryKeySet()
	require.NoError(t, err)

	var principal *Principal
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ = GetPrincipal(r.Context())
		if principal == nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return NewMiddleware(NewJWTValidator(ks))(inner), identity.NewTokenManager(ks)
}

func send(h http.Handler, path, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_ValidToken(t *testing.T) {
	h, tm := newAuthedHandler(t)
	tok, err := tm.GenerateToken("operator-1", []string{identity.RoleOperator}, time.Hour)
	require.NoError(t, err)

	rec := send(h, "/api/v1/decisions", "Bearer "+tok)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMiddleware_Rejections(t *testing.T) {
	h, tm := newAuthedHandler(t)
	expired, err := tm.GenerateToken("operator-1", nil, -time.Minute)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not.a.jwt"},
		{"expired token", "Bearer " + expired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := send(h, "/api/v1/decisions", tc.header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestMiddleware_PublicPath(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := NewMiddleware(nil)(inner)

	rec := send(h, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// A nil validator fails closed everywhere else.
	rec = send(h, "/api/v1/decisions", "Bearer whatever")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	gate := RequireRole(identity.RoleOperator)(inner)

	withRoles := func(roles ...string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/decisions", nil)
		req = req.WithContext(WithPrincipal(req.Context(), &Principal{ID: "op", Roles: roles}))
		rec := httptest.NewRecorder()
		gate.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, withRoles(identity.RoleOperator).Code)
	// Admins pass every gate.
	assert.Equal(t, http.StatusNoContent, withRoles(identity.RoleAdmin).Code)
	assert.Equal(t, http.StatusForbidden, withRoles(identity.RoleAuditor).Code)

	// No principal in context at all.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/decisions", nil)
	rec := httptest.NewRecorder()
	gate.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
