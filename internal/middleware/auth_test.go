package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/rahulnair23/foyer/internal/auth"
	"github.com/rahulnair23/foyer/internal/models"
)

func newAuthTestRouter(t *testing.T) (*gin.Engine, *auth.TokenService) {
	t.Helper()

	gin.SetMode(gin.TestMode)

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret: "middleware-test-secret",
		Issuer: "foyer-test",
	})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/protected", Auth(tokens), func(c *gin.Context) {
		claims, ok := ClaimsFromContext(c)
		require.True(t, ok)

		role, ok := RoleFromContext(c)
		require.True(t, ok)

		c.JSON(http.StatusOK, gin.H{"email": claims.Email, "role": role})
	})
	return r, tokens
}

func TestAuthRejectsMissingHeader(t *testing.T) {
	r, _ := newAuthTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRejectsNonBearerScheme(t *testing.T) {
	r, _ := newAuthTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRejectsMalformedToken(t *testing.T) {
	r, _ := newAuthTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
}

func TestAuthRejectsRefreshToken(t *testing.T) {
	r, tokens := newAuthTestRouter(t)

	user := &models.User{Username: "alice", Email: "alice@example.com", Role: models.RoleClientAdmin}
	pair, err := tokens.IssuePair(user)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+pair.RefreshToken)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthAcceptsValidAccessToken(t *testing.T) {
	r, tokens := newAuthTestRouter(t)

	user := &models.User{Username: "alice", Email: "alice@example.com", Role: models.RoleClientAdmin}
	access, err := tokens.IssueAccessToken(user)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "alice@example.com")
	require.Contains(t, w.Body.String(), string(models.RoleClientAdmin))
}

func TestAuthRejectsExpiredAccessToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuing, err := auth.NewTokenService(auth.TokenConfig{
		Secret: "middleware-test-secret",
		Issuer: "foyer-test",
		Clock:  func() time.Time { return now.Add(-2 * time.Hour) },
	})
	require.NoError(t, err)

	verifying, err := auth.NewTokenService(auth.TokenConfig{
		Secret: "middleware-test-secret",
		Issuer: "foyer-test",
		Clock:  func() time.Time { return now },
	})
	require.NoError(t, err)

	user := &models.User{Username: "alice", Email: "alice@example.com", Role: models.RoleOperator}
	access, err := issuing.IssueAccessToken(user)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/protected", Auth(verifying), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}
