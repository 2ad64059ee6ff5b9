package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/loopline-social/guardpost/internal/config"
	"github.com/loopline-social/guardpost/internal/devicerisk"
	"github.com/loopline-social/guardpost/internal/invites"
	"github.com/loopline-social/guardpost/internal/quota"
	"github.com/loopline-social/guardpost/internal/trust"
	"gorm.io/gorm"
)

// Signup consumption is IP-limited since it runs before any account exists.
const (
	signupIPLimit  = 10
	sightingsLimit = 60
)

// Services bundles the control-system components mounted on the router.
type Services struct {
	DB         *gorm.DB
	Trust      *trust.Engine
	Limiter    *quota.Limiter
	Correlator *devicerisk.Correlator
	Ledger     *invites.Ledger
	JWT        config.JWTConfig
}

// NewRouter builds the gin engine with all control-system routes.
func NewRouter(s Services) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", healthz(s.DB))

	v1 := r.Group("/v1")

	// Device sightings accept anonymous traffic; signup happens before any
	// account token exists.
	v1.POST("/devices/sightings",
		OptionalAccountAuth(s.JWT),
		IPRateLimit(s.Limiter, "device_sighting", sightingsLimit, quota.WindowHour),
		NewDeviceHandler(s.Correlator).RegisterSighting)

	inviteHandler := NewInviteHandler(s.Ledger)
	v1.POST("/invites/consume",
		IPRateLimit(s.Limiter, "invite_consume", signupIPLimit, quota.WindowHour),
		inviteHandler.Consume)

	authed := v1.Group("")
	authed.Use(AccountAuth(s.JWT))
	authed.Use(BanGuard(s.Trust))

	trustHandler := NewTrustHandler(s.Trust, s.Limiter)
	authed.GET("/trust/me", trustHandler.GetMe)
	authed.POST("/quota/:action/consume", trustHandler.ConsumeQuota)
	authed.GET("/quota/:action/remaining", trustHandler.Remaining)

	deviceHandler := NewDeviceHandler(s.Correlator)
	authed.GET("/devices", deviceHandler.ListMine)

	authed.POST("/invites", inviteHandler.Create)
	authed.GET("/invites", inviteHandler.List)
	authed.GET("/invites/stats", inviteHandler.Stats)
	authed.DELETE("/invites/:code", inviteHandler.Revoke)

	admin := v1.Group("/admin")
	admin.Use(AccountAuth(s.JWT))
	admin.Use(RequireAdmin())

	adminHandler := NewAdminHandler(s.Trust, s.Correlator, s.Ledger)
	admin.POST("/trust/:account_id/initialize", adminHandler.InitializeProfile)
	admin.GET("/trust/:account_id", adminHandler.GetProfile)
	admin.POST("/trust/:account_id/activities", adminHandler.RecordActivity)
	admin.POST("/trust/:account_id/strikes", adminHandler.AddStrike)
	admin.POST("/trust/:account_id/flags", adminHandler.RecordFlag)
	admin.PUT("/trust/:account_id/level", adminHandler.SetLevel)
	admin.GET("/trust-stats", adminHandler.LevelStats)
	admin.GET("/devices", adminHandler.HighRiskDevices)
	admin.GET("/devices/:hash/risk", adminHandler.CheckDeviceRisk)
	admin.POST("/devices/:hash/block", adminHandler.BlockDevice)
	admin.POST("/devices/:hash/unblock", adminHandler.UnblockDevice)
	admin.GET("/invites/:account_id/tree", adminHandler.InviteTree)

	return r
}

// healthz reports process and database liveness.
func healthz(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, errDB := db.DB()
		if errDB != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
