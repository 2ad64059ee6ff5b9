package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/loopline-social/guardpost/internal/models"
	"github.com/loopline-social/guardpost/internal/quota"
	"github.com/loopline-social/guardpost/internal/trust"
)

// TrustHandler serves an account's own reputation view and quota reads.
type TrustHandler struct {
	engine  *trust.Engine
	limiter *quota.Limiter
}

// NewTrustHandler constructs a TrustHandler.
func NewTrustHandler(engine *trust.Engine, limiter *quota.Limiter) *TrustHandler {
	return &TrustHandler{engine: engine, limiter: limiter}
}

// trustProfileView is the caller-facing profile shape. Strike and flag
// internals stay server-side.
type trustProfileView struct {
	AccountID      uuid.UUID  `json:"account_id"`
	TrustLevel     string     `json:"trust_level"`
	TrustPoints    int        `json:"trust_points"`
	AccountAgeDays int        `json:"account_age_days"`
	PostsCount     int        `json:"posts_count"`
	CommentsCount  int        `json:"comments_count"`
	LikesReceived  int        `json:"likes_received_count"`
	FollowersCount int        `json:"followers_count"`
	BannedUntil    *time.Time `json:"banned_until,omitempty"`
}

func profileView(profile *models.TrustProfile) trustProfileView {
	return trustProfileView{
		AccountID:      profile.AccountID,
		TrustLevel:     profile.Level().String(),
		TrustPoints:    profile.TrustPoints,
		AccountAgeDays: profile.AccountAgeDays,
		PostsCount:     profile.PostsCount,
		CommentsCount:  profile.CommentsCount,
		LikesReceived:  profile.LikesReceivedCount,
		FollowersCount: profile.FollowersCount,
		BannedUntil:    profile.BannedUntil,
	}
}

// GetMe returns the calling account's trust profile.
func (h *TrustHandler) GetMe(c *gin.Context) {
	accountID := accountFromContext(c)
	profile, errProfile := h.engine.GetProfile(c.Request.Context(), accountID)
	if errProfile != nil {
		abortWithError(c, errProfile)
		return
	}
	c.JSON(http.StatusOK, profileView(profile))
}

// ConsumeQuota checks and consumes one quota slot for the calling account.
// The surrounding application calls this before executing a guarded action.
func (h *TrustHandler) ConsumeQuota(c *gin.Context) {
	accountID := accountFromContext(c)
	action := quota.Action(c.Param("action"))

	level := models.TrustLevelNew
	if profile, errProfile := h.engine.GetProfile(c.Request.Context(), accountID); errProfile == nil {
		level = profile.Level()
	}

	decision, errCheck := h.limiter.CheckAndConsume(c.Request.Context(), accountID, action, level)
	if errCheck != nil {
		abortWithError(c, errCheck)
		return
	}
	if !decision.Allowed {
		retryAfter := int64(time.Until(decision.Reset).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"allowed":   false,
			"remaining": 0,
			"reset":     decision.Reset,
			"degraded":  decision.Degraded,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"allowed":   true,
		"remaining": decision.Remaining,
		"reset":     decision.Reset,
		"degraded":  decision.Degraded,
	})
}

// Remaining returns the caller's unconsumed quota for one action type.
func (h *TrustHandler) Remaining(c *gin.Context) {
	accountID := accountFromContext(c)
	action := quota.Action(c.Param("action"))

	level := models.TrustLevelNew
	if profile, errProfile := h.engine.GetProfile(c.Request.Context(), accountID); errProfile == nil {
		level = profile.Level()
	}

	remaining, errRemaining := h.limiter.Remaining(c.Request.Context(), accountID, action, level)
	if errRemaining != nil {
		abortWithError(c, errRemaining)
		return
	}
	c.JSON(http.StatusOK, gin.H{"action": action, "remaining": remaining})
}
