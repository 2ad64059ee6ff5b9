package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/loopline-social/guardpost/internal/devicerisk"
	"github.com/loopline-social/guardpost/internal/invites"
	"github.com/loopline-social/guardpost/internal/models"
	"github.com/loopline-social/guardpost/internal/trust"
)

// AdminHandler serves operator and service-to-service endpoints: strike and
// flag accrual, manual trust overrides, device review.
type AdminHandler struct {
	engine     *trust.Engine
	correlator *devicerisk.Correlator
	ledger     *invites.Ledger
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(engine *trust.Engine, correlator *devicerisk.Correlator, ledger *invites.Ledger) *AdminHandler {
	return &AdminHandler{engine: engine, correlator: correlator, ledger: ledger}
}

func parseAccountParam(c *gin.Context) (uuid.UUID, bool) {
	accountID, errParse := uuid.Parse(c.Param("account_id"))
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return uuid.Nil, false
	}
	return accountID, true
}

type recordActivityRequest struct {
	Kind string `json:"kind" binding:"required"`
}

// RecordActivity reports a guarded action outcome for an account. Called by
// the surrounding request handlers after each action completes.
func (h *AdminHandler) RecordActivity(c *gin.Context) {
	accountID, ok := parseAccountParam(c)
	if !ok {
		return
	}
	var req recordActivityRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if errRecord := h.engine.RecordActivity(c.Request.Context(), accountID, trust.ActivityKind(req.Kind)); errRecord != nil {
		abortWithError(c, errRecord)
		return
	}
	c.Status(http.StatusNoContent)
}

type addStrikeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// AddStrike records a violation strike against an account.
func (h *AdminHandler) AddStrike(c *gin.Context) {
	accountID, ok := parseAccountParam(c)
	if !ok {
		return
	}
	var req addStrikeRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	strikes, errStrike := h.engine.AddStrike(c.Request.Context(), accountID, req.Reason)
	if errStrike != nil {
		abortWithError(c, errStrike)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strikes": strikes})
}

// RecordFlag registers a report against an account.
func (h *AdminHandler) RecordFlag(c *gin.Context) {
	accountID, ok := parseAccountParam(c)
	if !ok {
		return
	}
	if errFlag := h.engine.RecordFlag(c.Request.Context(), accountID); errFlag != nil {
		abortWithError(c, errFlag)
		return
	}
	c.Status(http.StatusNoContent)
}

type setLevelRequest struct {
	Level string `json:"level" binding:"required"`
}

// SetLevel manually overrides an account's trust level.
func (h *AdminHandler) SetLevel(c *gin.Context) {
	accountID, ok := parseAccountParam(c)
	if !ok {
		return
	}
	var req setLevelRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	var level models.TrustLevel
	switch strings.ToLower(strings.TrimSpace(req.Level)) {
	case "new":
		level = models.TrustLevelNew
	case "basic":
		level = models.TrustLevelBasic
	case "trusted":
		level = models.TrustLevelTrusted
	case "verified":
		level = models.TrustLevelVerified
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trust level"})
		return
	}

	if errSet := h.engine.SetLevel(c.Request.Context(), accountID, level); errSet != nil {
		abortWithError(c, errSet)
		return
	}
	c.Status(http.StatusNoContent)
}

// InitializeProfile creates the trust profile for a new account.
func (h *AdminHandler) InitializeProfile(c *gin.Context) {
	accountID, ok := parseAccountParam(c)
	if !ok {
		return
	}
	if errInit := h.engine.Initialize(c.Request.Context(), accountID); errInit != nil {
		abortWithError(c, errInit)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetProfile returns the full trust profile of any account.
func (h *AdminHandler) GetProfile(c *gin.Context) {
	accountID, ok := parseAccountParam(c)
	if !ok {
		return
	}
	profile, errProfile := h.engine.GetProfile(c.Request.Context(), accountID)
	if errProfile != nil {
		abortWithError(c, errProfile)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// LevelStats returns profile counts per trust level.
func (h *AdminHandler) LevelStats(c *gin.Context) {
	stats, errStats := h.engine.LevelStats(c.Request.Context())
	if errStats != nil {
		abortWithError(c, errStats)
		return
	}
	view := make(map[string]int64, len(stats))
	for level, count := range stats {
		view[level.String()] = count
	}
	c.JSON(http.StatusOK, gin.H{"levels": view})
}

// CheckDeviceRisk returns the risk score and block state for a hash.
func (h *AdminHandler) CheckDeviceRisk(c *gin.Context) {
	hash := c.Param("hash")
	score, blocked, errCheck := h.correlator.CheckRisk(c.Request.Context(), hash)
	if errCheck != nil {
		abortWithError(c, errCheck)
		return
	}
	c.JSON(http.StatusOK, gin.H{"risk_score": score, "is_blocked": blocked})
}

type blockDeviceRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// BlockDevice blocks a device fingerprint.
func (h *AdminHandler) BlockDevice(c *gin.Context) {
	var req blockDeviceRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if errBlock := h.correlator.Block(c.Request.Context(), c.Param("hash"), req.Reason); errBlock != nil {
		abortWithError(c, errBlock)
		return
	}
	c.Status(http.StatusNoContent)
}

// UnblockDevice clears a device block.
func (h *AdminHandler) UnblockDevice(c *gin.Context) {
	if errUnblock := h.correlator.Unblock(c.Request.Context(), c.Param("hash")); errUnblock != nil {
		abortWithError(c, errUnblock)
		return
	}
	c.Status(http.StatusNoContent)
}

// HighRiskDevices lists unblocked devices above a risk threshold.
func (h *AdminHandler) HighRiskDevices(c *gin.Context) {
	minScore := 60
	if raw := strings.TrimSpace(c.Query("min")); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil || parsed < 0 || parsed > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid min score"})
			return
		}
		minScore = parsed
	}
	devices, errList := h.correlator.HighRisk(c.Request.Context(), minScore)
	if errList != nil {
		abortWithError(c, errList)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// InviteTree returns the invite forest below an account.
func (h *AdminHandler) InviteTree(c *gin.Context) {
	accountID, ok := parseAccountParam(c)
	if !ok {
		return
	}
	depth := 3
	if raw := strings.TrimSpace(c.Query("depth")); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil || parsed < 1 || parsed > 10 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid depth"})
			return
		}
		depth = parsed
	}
	tree, errTree := h.ledger.Tree(c.Request.Context(), accountID, depth)
	if errTree != nil {
		abortWithError(c, errTree)
		return
	}
	c.JSON(http.StatusOK, gin.H{"relationships": tree})
}
