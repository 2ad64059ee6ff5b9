package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/loopline-social/guardpost/internal/devicerisk"
)

// DeviceHandler serves device fingerprint registration.
type DeviceHandler struct {
	correlator *devicerisk.Correlator
}

// NewDeviceHandler constructs a DeviceHandler.
func NewDeviceHandler(correlator *devicerisk.Correlator) *DeviceHandler {
	return &DeviceHandler{correlator: correlator}
}

type registerSightingRequest struct {
	Fingerprint string `json:"fingerprint" binding:"required"`
}

// RegisterSighting records a device observation for the calling account, or
// anonymously when unauthenticated. The response deliberately carries no
// risk detail; blocked devices only see a denial.
func (h *DeviceHandler) RegisterSighting(c *gin.Context) {
	var req registerSightingRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Fingerprint) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	hash := devicerisk.HashFingerprint(req.Fingerprint)
	accountID := accountFromContext(c)
	userAgent := c.GetHeader("User-Agent")

	sighting, errRegister := h.correlator.RegisterSighting(c.Request.Context(), hash, accountID, userAgent)
	if errRegister != nil {
		abortWithError(c, errRegister)
		return
	}
	if sighting.Blocked {
		c.JSON(http.StatusForbidden, gin.H{"error": "device is blocked"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMine returns the calling account's known devices, without risk
// scores.
func (h *DeviceHandler) ListMine(c *gin.Context) {
	accountID := accountFromContext(c)
	devices, errList := h.correlator.DevicesFor(c.Request.Context(), accountID)
	if errList != nil {
		abortWithError(c, errList)
		return
	}

	type deviceView struct {
		FingerprintHash string `json:"fingerprint_hash"`
		FirstSeenAt     string `json:"first_seen_at"`
		LastSeenAt      string `json:"last_seen_at"`
	}
	views := make([]deviceView, 0, len(devices))
	for _, device := range devices {
		views = append(views, deviceView{
			FingerprintHash: device.FingerprintHash,
			FirstSeenAt:     device.FirstSeenAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			LastSeenAt:      device.LastSeenAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	c.JSON(http.StatusOK, gin.H{"devices": views})
}
