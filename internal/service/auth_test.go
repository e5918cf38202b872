package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/reelwave/internal/config"
	"github.com/ifuryst/reelwave/internal/testutil"
)

func newAuthRouter(auth *AuthService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/v1/batches", auth.AuthMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestValidateToken(t *testing.T) {
	setup := NewAuthService(&config.AuthConfig{Issuer: "Reelwave"}, testutil.Logger())
	secret, url, err := setup.GenerateSecret("ops@example.com")
	require.NoError(t, err)
	assert.Contains(t, url, "issuer=Reelwave")

	auth := NewAuthService(&config.AuthConfig{Enabled: true, TOTPSecret: secret, Issuer: "Reelwave"}, testutil.Logger())
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	assert.True(t, auth.ValidateToken(code))
	assert.False(t, auth.ValidateToken("000000x"))
}

func TestAuthMiddleware(t *testing.T) {
	auth := NewAuthService(&config.AuthConfig{Enabled: true, TOTPSecret: "JBSWY3DPEHPK3PXP"}, testutil.Logger())
	r := newAuthRouter(auth)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/batches", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	session := auth.CreateSession()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/batches", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: session})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/batches", nil)
	req.Header.Set("Authorization", "Bearer "+session)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionsExpire(t *testing.T) {
	auth := NewAuthService(&config.AuthConfig{Enabled: true}, testutil.Logger())
	now := time.Now()
	auth.now = func() time.Time { return now }

	session := auth.CreateSession()
	assert.True(t, auth.isValidSession(session))

	now = now.Add(sessionTTL + time.Minute)
	assert.False(t, auth.isValidSession(session))
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	auth := NewAuthService(&config.AuthConfig{Enabled: false}, testutil.Logger())
	w := httptest.NewRecorder()
	newAuthRouter(auth).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/batches", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
