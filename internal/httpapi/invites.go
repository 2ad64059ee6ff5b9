package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/loopline-social/guardpost/internal/invites"
	"github.com/loopline-social/guardpost/internal/models"
)

const defaultInviteValidityDays = 30

// InviteHandler serves invite issuance and consumption endpoints.
type InviteHandler struct {
	ledger *invites.Ledger
}

// NewInviteHandler constructs an InviteHandler.
func NewInviteHandler(ledger *invites.Ledger) *InviteHandler {
	return &InviteHandler{ledger: ledger}
}

type createInviteRequest struct {
	ValidityDays int `json:"validity_days"`
}

type inviteView struct {
	Code      string     `json:"code"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	IsValid   bool       `json:"is_valid"`
	UseCount  int        `json:"use_count"`
	MaxUses   int        `json:"max_uses"`
}

func toInviteView(invite models.InviteCode) inviteView {
	return inviteView{
		Code:      invite.Code,
		CreatedAt: invite.CreatedAt,
		ExpiresAt: invite.ExpiresAt,
		UsedAt:    invite.UsedAt,
		IsValid:   invite.IsValid,
		UseCount:  invite.UseCount,
		MaxUses:   invite.MaxUses,
	}
}

// Create issues a new invite code for the calling account.
func (h *InviteHandler) Create(c *gin.Context) {
	accountID := accountFromContext(c)

	var req createInviteRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.ValidityDays <= 0 {
		req.ValidityDays = defaultInviteValidityDays
	}

	invite, errCreate := h.ledger.Create(c.Request.Context(), accountID, req.ValidityDays)
	if errCreate != nil {
		abortWithError(c, errCreate)
		return
	}
	c.JSON(http.StatusCreated, toInviteView(*invite))
}

// List returns the calling account's invite codes.
func (h *InviteHandler) List(c *gin.Context) {
	accountID := accountFromContext(c)
	rows, errList := h.ledger.ListFor(c.Request.Context(), accountID)
	if errList != nil {
		abortWithError(c, errList)
		return
	}
	views := make([]inviteView, 0, len(rows))
	for _, row := range rows {
		views = append(views, toInviteView(row))
	}
	c.JSON(http.StatusOK, gin.H{"invites": views})
}

// Stats returns the calling account's invite usage summary.
func (h *InviteHandler) Stats(c *gin.Context) {
	accountID := accountFromContext(c)
	stats, errStats := h.ledger.StatsFor(c.Request.Context(), accountID)
	if errStats != nil {
		abortWithError(c, errStats)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Revoke invalidates one of the calling account's codes.
func (h *InviteHandler) Revoke(c *gin.Context) {
	accountID := accountFromContext(c)
	code := c.Param("code")

	revoked, errRevoke := h.ledger.Revoke(c.Request.Context(), code, accountID)
	if errRevoke != nil {
		abortWithError(c, errRevoke)
		return
	}
	if !revoked {
		c.JSON(http.StatusNotFound, gin.H{"error": "invite code not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

type consumeInviteRequest struct {
	Code      string    `json:"code" binding:"required"`
	AccountID uuid.UUID `json:"account_id" binding:"required"`
}

// Consume redeems an invite code for a newly created account. Called by the
// surrounding signup flow.
func (h *InviteHandler) Consume(c *gin.Context) {
	var req consumeInviteRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	inviterID, errConsume := h.ledger.Consume(c.Request.Context(), req.Code, req.AccountID)
	if errConsume != nil {
		abortWithError(c, errConsume)
		return
	}
	c.JSON(http.StatusOK, gin.H{"inviter_id": inviterID})
}
