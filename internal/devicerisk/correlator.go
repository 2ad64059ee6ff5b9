package devicerisk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	dbutil "github.com/loopline-social/guardpost/internal/db"
	"github.com/loopline-social/guardpost/internal/models"
	apperrors "github.com/loopline-social/guardpost/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Sighting is the outcome of registering a device observation.
type Sighting struct {
	FingerprintHash string
	AccountCount    int
	RiskScore       int
	Blocked         bool
}

// Correlator links device fingerprints to accounts and raises a risk score
// when one device backs many accounts.
type Correlator struct {
	db    *gorm.DB
	nowFn func() time.Time
}

// NewCorrelator constructs a Correlator. A nil nowFn defaults to time.Now.
func NewCorrelator(db *gorm.DB, nowFn func() time.Time) *Correlator {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Correlator{db: db, nowFn: nowFn}
}

// HashFingerprint hashes raw client fingerprint data into the stable key
// stored server-side.
func HashFingerprint(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// RegisterSighting records a device observation. A zero accountID records an
// unauthenticated sighting that only refreshes visibility timestamps. New
// account associations step the risk score by the band table; the score
// never decreases here and blocking latches once it passes the threshold.
func (c *Correlator) RegisterSighting(ctx context.Context, fingerprintHash string, accountID uuid.UUID, userAgent string) (*Sighting, error) {
	now := c.nowFn().UTC()

	var device models.DeviceFingerprint
	errFind := c.db.WithContext(ctx).
		Where("fingerprint_hash = ?", fingerprintHash).
		First(&device).Error
	if errFind != nil {
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, apperrors.StoreUnavailable("load device fingerprint", errFind)
		}
		return c.createDevice(ctx, fingerprintHash, accountID, userAgent, now)
	}

	if device.IsBlocked {
		return &Sighting{
			FingerprintHash: fingerprintHash,
			AccountCount:    device.AccountCount,
			RiskScore:       device.RiskScore,
			Blocked:         true,
		}, nil
	}

	if accountID != uuid.Nil {
		known, errKnown := device.HasAccount(accountID)
		if errKnown != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "decode device accounts", errKnown)
		}
		if !known {
			return c.associateAccount(ctx, &device, accountID, now)
		}
	}

	if errTouch := c.db.WithContext(ctx).
		Model(&models.DeviceFingerprint{}).
		Where("fingerprint_hash = ?", fingerprintHash).
		Update("last_seen_at", now).Error; errTouch != nil {
		return nil, apperrors.StoreUnavailable("touch device fingerprint", errTouch)
	}

	return &Sighting{
		FingerprintHash: fingerprintHash,
		AccountCount:    device.AccountCount,
		RiskScore:       device.RiskScore,
		Blocked:         false,
	}, nil
}

func (c *Correlator) createDevice(ctx context.Context, fingerprintHash string, accountID uuid.UUID, userAgent string, now time.Time) (*Sighting, error) {
	device := models.DeviceFingerprint{
		FingerprintHash: fingerprintHash,
		UserAgent:       userAgent,
		LastSeenAt:      now,
	}
	accounts := []uuid.UUID{}
	if accountID != uuid.Nil {
		accounts = append(accounts, accountID)
	}
	if errSet := device.SetAccounts(accounts); errSet != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "encode device accounts", errSet)
	}

	if errCreate := c.db.WithContext(ctx).Create(&device).Error; errCreate != nil {
		return nil, apperrors.StoreUnavailable("create device fingerprint", errCreate)
	}

	log.WithFields(log.Fields{
		"fingerprint":   shortHash(fingerprintHash),
		"account_count": device.AccountCount,
	}).Info("devicerisk: new device fingerprint registered")

	return &Sighting{
		FingerprintHash: fingerprintHash,
		AccountCount:    device.AccountCount,
		RiskScore:       0,
		Blocked:         false,
	}, nil
}

func (c *Correlator) associateAccount(ctx context.Context, device *models.DeviceFingerprint, accountID uuid.UUID, now time.Time) (*Sighting, error) {
	accounts, errAccounts := device.Accounts()
	if errAccounts != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "decode device accounts", errAccounts)
	}

	preCount := len(accounts)
	accounts = append(accounts, accountID)

	score := device.RiskScore + riskDelta(preCount)
	if score > riskCap {
		score = riskCap
	}

	if errSet := device.SetAccounts(accounts); errSet != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "encode device accounts", errSet)
	}

	updates := map[string]any{
		"account_ids":   device.AccountIDs,
		"account_count": device.AccountCount,
		"risk_score":    score,
		"last_seen_at":  now,
		"updated_at":    now,
	}

	blocked := score > blockThreshold
	if blocked {
		updates["is_blocked"] = true
		updates["block_reason"] = "risk score threshold exceeded"
		updates["blocked_at"] = now
	}

	if errUpdate := c.db.WithContext(ctx).
		Model(&models.DeviceFingerprint{}).
		Where("fingerprint_hash = ?", device.FingerprintHash).
		Updates(updates).Error; errUpdate != nil {
		return nil, apperrors.StoreUnavailable("update device fingerprint", errUpdate)
	}

	entry := log.WithFields(log.Fields{
		"fingerprint":   shortHash(device.FingerprintHash),
		"account_count": device.AccountCount,
		"risk_score":    score,
	})
	if blocked {
		entry.Warn("devicerisk: device auto-blocked")
	} else {
		entry.Info("devicerisk: device fingerprint updated")
	}

	return &Sighting{
		FingerprintHash: device.FingerprintHash,
		AccountCount:    device.AccountCount,
		RiskScore:       score,
		Blocked:         blocked,
	}, nil
}

// CheckRisk returns the risk score and block state for a hash. Unknown
// devices are the common case for first-time signups and report (0, false).
func (c *Correlator) CheckRisk(ctx context.Context, fingerprintHash string) (int, bool, error) {
	var device models.DeviceFingerprint
	errFind := c.db.WithContext(ctx).
		Select("risk_score", "is_blocked").
		Where("fingerprint_hash = ?", fingerprintHash).
		First(&device).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, apperrors.StoreUnavailable("check device risk", errFind)
	}
	return device.RiskScore, device.IsBlocked, nil
}

// Block marks a device blocked with an operator-supplied reason.
func (c *Correlator) Block(ctx context.Context, fingerprintHash, reason string) error {
	now := c.nowFn().UTC()
	result := c.db.WithContext(ctx).
		Model(&models.DeviceFingerprint{}).
		Where("fingerprint_hash = ?", fingerprintHash).
		Updates(map[string]any{
			"is_blocked":   true,
			"block_reason": reason,
			"blocked_at":   now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return apperrors.StoreUnavailable("block device", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrDeviceNotFound
	}
	log.WithFields(log.Fields{
		"fingerprint": shortHash(fingerprintHash),
		"reason":      reason,
	}).Warn("devicerisk: device blocked")
	return nil
}

// Unblock clears the block and halves the risk score as remediation.
func (c *Correlator) Unblock(ctx context.Context, fingerprintHash string) error {
	result := c.db.WithContext(ctx).
		Model(&models.DeviceFingerprint{}).
		Where("fingerprint_hash = ?", fingerprintHash).
		Updates(map[string]any{
			"is_blocked":   false,
			"block_reason": "",
			"blocked_at":   nil,
			"risk_score":   gorm.Expr("risk_score / 2"),
			"updated_at":   c.nowFn().UTC(),
		})
	if result.Error != nil {
		return apperrors.StoreUnavailable("unblock device", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrDeviceNotFound
	}
	return nil
}

// DevicesFor lists every device associated with an account, most recently
// seen first.
func (c *Correlator) DevicesFor(ctx context.Context, accountID uuid.UUID) ([]models.DeviceFingerprint, error) {
	var devices []models.DeviceFingerprint
	if errFind := c.db.WithContext(ctx).
		Where(dbutil.JSONArrayContainsExpr(c.db, "account_ids"),
			dbutil.JSONArrayContainsValue(c.db, accountID.String())).
		Order("last_seen_at DESC").
		Find(&devices).Error; errFind != nil {
		return nil, apperrors.StoreUnavailable("list account devices", errFind)
	}
	return devices, nil
}

// HighRisk lists unblocked devices at or above the given score, capped at
// 100 rows for admin review.
func (c *Correlator) HighRisk(ctx context.Context, minScore int) ([]models.DeviceFingerprint, error) {
	var devices []models.DeviceFingerprint
	if errFind := c.db.WithContext(ctx).
		Where("risk_score >= ? AND is_blocked = ?", minScore, false).
		Order("risk_score DESC").
		Limit(100).
		Find(&devices).Error; errFind != nil {
		return nil, apperrors.StoreUnavailable("list high risk devices", errFind)
	}
	return devices, nil
}

// shortHash truncates a fingerprint hash for log lines.
func shortHash(hash string) string {
	if len(hash) <= 8 {
		return hash
	}
	return hash[:8]
}
