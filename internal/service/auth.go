package service

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/ifuryst/reelwave/internal/config"
)

const (
	SessionCookie = "auth_token"
	sessionTTL    = 12 * time.Hour
)

type AuthService struct {
	cfg      *config.AuthConfig
	logger   *zap.Logger
	mu       sync.Mutex
	sessions map[string]time.Time
	now      func() time.Time
}

func NewAuthService(cfg *config.AuthConfig, logger *zap.Logger) *AuthService {
	return &AuthService{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (a *AuthService) Enabled() bool {
	return a.cfg.Enabled
}

// GenerateSecret creates a fresh TOTP secret and its provisioning URL
func (a *AuthService) GenerateSecret(accountName string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      a.cfg.Issuer,
		AccountName: accountName,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

func (a *AuthService) ValidateToken(token string) bool {
	valid := totp.Validate(strings.TrimSpace(token), a.cfg.TOTPSecret)
	if valid {
		a.logger.Info("TOTP token validation successful")
	} else {
		a.logger.Warn("TOTP token validation failed")
	}
	return valid
}

// CreateSession issues a session id valid for sessionTTL
func (a *AuthService) CreateSession() string {
	id := uuid.NewString()
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	for sid, expires := range a.sessions {
		if now.After(expires) {
			delete(a.sessions, sid)
		}
	}
	a.sessions[id] = now.Add(sessionTTL)
	return id
}

func (a *AuthService) isValidSession(token string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	expires, ok := a.sessions[token]
	return ok && a.now().Before(expires)
}

// AuthMiddleware guards operator routes. It is a no-op when auth is disabled.
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.cfg.Enabled {
			c.Next()
			return
		}

		token, err := c.Cookie(SessionCookie)
		if err != nil {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if token == "" || !a.isValidSession(token) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}

		c.Next()
	}
}
