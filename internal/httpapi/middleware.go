package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/loopline-social/guardpost/internal/config"
	"github.com/loopline-social/guardpost/internal/quota"
	"github.com/loopline-social/guardpost/internal/trust"
)

const (
	ctxAccountID = "account_id"
	ctxIsAdmin   = "is_admin"
)

// accountClaims are the JWT claims issued by the surrounding application.
type accountClaims struct {
	Admin bool `json:"admin"`
	jwt.RegisteredClaims
}

func parseBearerToken(c *gin.Context, secret string) (*accountClaims, error) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, fmt.Errorf("missing bearer token")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

	claims := &accountClaims{}
	token, errParse := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if errParse != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// AccountAuth authenticates the request and stores the account identity on
// the context. The subject claim carries the account UUID.
func AccountAuth(jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, errParse := parseBearerToken(c, jwtCfg.Secret)
		if errParse != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		accountID, errParseID := uuid.Parse(claims.Subject)
		if errParseID != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(ctxAccountID, accountID)
		c.Set(ctxIsAdmin, claims.Admin)
		c.Next()
	}
}

// OptionalAccountAuth resolves the account identity when a token is present
// but lets anonymous requests through. Used on device sighting registration.
func OptionalAccountAuth(jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, errParse := parseBearerToken(c, jwtCfg.Secret)
		if errParse == nil {
			if accountID, errParseID := uuid.Parse(claims.Subject); errParseID == nil {
				c.Set(ctxAccountID, accountID)
				c.Set(ctxIsAdmin, claims.Admin)
			}
		}
		c.Next()
	}
}

// RequireAdmin gates service/admin endpoints on the admin claim.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(ctxIsAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// accountFromContext returns the authenticated account ID, or uuid.Nil.
func accountFromContext(c *gin.Context) uuid.UUID {
	value, ok := c.Get(ctxAccountID)
	if !ok {
		return uuid.Nil
	}
	accountID, ok := value.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return accountID
}

// BanGuard rejects requests from banned accounts before any guarded action
// runs.
func BanGuard(engine *trust.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := accountFromContext(c)
		if accountID == uuid.Nil {
			c.Next()
			return
		}
		banned, errBanned := engine.IsBanned(c.Request.Context(), accountID)
		if errBanned != nil {
			abortWithError(c, errBanned)
			return
		}
		if banned {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account is suspended"})
			return
		}
		c.Next()
	}
}

// IPRateLimit enforces a fixed limit keyed by client IP on unauthenticated
// endpoints.
func IPRateLimit(limiter *quota.Limiter, action quota.Action, limit int, window quota.Window) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, errCheck := limiter.CheckAndConsumeIP(c.Request.Context(), c.ClientIP(), action, limit, window)
		if errCheck == nil && !decision.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded, try again later"})
			return
		}
		c.Next()
	}
}
