package invites

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	dbutil "github.com/loopline-social/guardpost/internal/db"
	"github.com/loopline-social/guardpost/internal/models"
	"github.com/loopline-social/guardpost/internal/trust"
	apperrors "github.com/loopline-social/guardpost/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const inviterRewardPoints = 10

// maxInvitesFor maps a trust level to its invite issuance ceiling.
func maxInvitesFor(level models.TrustLevel) int {
	switch level {
	case models.TrustLevelBasic:
		return 10
	case models.TrustLevelTrusted:
		return 50
	case models.TrustLevelVerified:
		return 200
	default:
		return 3
	}
}

// Stats summarizes an account's invite issuance and consumption.
type Stats struct {
	InvitesSent       int `json:"invites_sent"`
	SuccessfulInvites int `json:"successful_invites"`
	RemainingInvites  int `json:"remaining_invites"`
	MaxInvites        int `json:"max_invites"`
}

// Ledger issues, bounds, and atomically consumes invitation codes.
type Ledger struct {
	db    *gorm.DB
	trust *trust.Engine
	nowFn func() time.Time
}

// NewLedger constructs a Ledger. A nil nowFn defaults to time.Now.
func NewLedger(db *gorm.DB, trustEngine *trust.Engine, nowFn func() time.Time) *Ledger {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Ledger{db: db, trust: trustEngine, nowFn: nowFn}
}

// Create issues a new invite code for the account. The ceiling depends on
// the account's trust level; exceeding it returns a quota error.
func (l *Ledger) Create(ctx context.Context, accountID uuid.UUID, validityDays int) (*models.InviteCode, error) {
	profile, errProfile := l.trust.GetProfile(ctx, accountID)
	if errProfile != nil {
		return nil, errProfile
	}

	maxInvites := maxInvitesFor(profile.Level())
	if profile.InvitesSent >= maxInvites {
		return nil, apperrors.ErrInviteQuotaExceeded
	}

	code, errCode := l.generateUniqueCode(ctx)
	if errCode != nil {
		return nil, errCode
	}

	now := l.nowFn().UTC()
	invite := models.InviteCode{
		Code:      code,
		CreatedBy: accountID,
		ExpiresAt: now.AddDate(0, 0, validityDays),
		IsValid:   true,
		MaxUses:   defaultMaxUses,
	}

	if errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(&invite).Error; errCreate != nil {
			return errCreate
		}
		return tx.Model(&models.TrustProfile{}).
			Where("account_id = ?", accountID).
			Update("invites_sent", gorm.Expr("invites_sent + 1")).Error
	}); errTx != nil {
		return nil, apperrors.StoreUnavailable("create invite", errTx)
	}

	log.WithFields(log.Fields{
		"account_id": accountID,
		"code":       code,
	}).Info("invites: invite code created")

	return &invite, nil
}

// generateUniqueCode retries collisions a bounded number of times; beyond
// that the store is assumed unhealthy and the call fails.
func (l *Ledger) generateUniqueCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		candidate, errRandom := randomCode()
		if errRandom != nil {
			return "", apperrors.Wrap(apperrors.CodeInternal, "generate invite code", errRandom)
		}
		var count int64
		if errCount := l.db.WithContext(ctx).
			Model(&models.InviteCode{}).
			Where("code = ?", candidate).
			Count(&count).Error; errCount != nil {
			return "", apperrors.StoreUnavailable("check invite code uniqueness", errCount)
		}
		if count == 0 {
			return candidate, nil
		}
	}
	return "", apperrors.ErrCodeGeneration
}

// Consume validates and redeems a code for a new account as one atomic
// unit. The code row is locked for the duration of the transaction so two
// concurrent signups presenting the same code can never both succeed.
// Returns the inviter's account ID.
func (l *Ledger) Consume(ctx context.Context, code string, newAccountID uuid.UUID) (uuid.UUID, error) {
	now := l.nowFn().UTC()
	var inviterID uuid.UUID

	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("code = ?", code)
		// SQLite serializes writers at the connection level; the row lock is
		// a Postgres concern.
		if !dbutil.IsSQLite(tx) {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var invite models.InviteCode
		if errFind := query.First(&invite).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return apperrors.ErrInviteInvalid
			}
			return apperrors.StoreUnavailable("load invite code", errFind)
		}

		switch {
		case invite.UseCount >= invite.MaxUses:
			return apperrors.ErrInviteExhausted
		case !invite.IsValid:
			return apperrors.ErrInviteRevoked
		case invite.ExpiresAt.Before(now):
			return apperrors.ErrInviteExpired
		}

		useCount := invite.UseCount + 1
		updates := map[string]any{
			"use_count":  useCount,
			"is_valid":   useCount < invite.MaxUses,
			"updated_at": now,
		}
		if invite.UsedBy == nil {
			updates["used_by"] = newAccountID
			updates["used_at"] = now
		}
		if errUpdate := tx.Model(&models.InviteCode{}).
			Where("code = ?", code).
			Updates(updates).Error; errUpdate != nil {
			return apperrors.StoreUnavailable("consume invite code", errUpdate)
		}

		relationship := models.InviteRelationship{
			InviterID:  invite.CreatedBy,
			InviteeID:  newAccountID,
			InviteCode: code,
			InvitedAt:  now,
		}
		if errCreate := tx.Create(&relationship).Error; errCreate != nil {
			return apperrors.StoreUnavailable("record invite relationship", errCreate)
		}

		var inviter models.TrustProfile
		if errInviter := tx.Where("account_id = ?", invite.CreatedBy).
			First(&inviter).Error; errInviter != nil {
			return apperrors.StoreUnavailable("load inviter profile", errInviter)
		}
		points := inviter.TrustPoints + inviterRewardPoints
		// The reward can push the inviter over a promotion threshold.
		level := trust.NextLevel(inviter.Level(), inviter.AccountAgeDays, inviter.PostsCount,
			points, inviter.FlagsReceived, inviter.Strikes)
		if errReward := tx.Model(&models.TrustProfile{}).
			Where("account_id = ?", invite.CreatedBy).
			Updates(map[string]any{
				"successful_invites": gorm.Expr("successful_invites + 1"),
				"trust_points":       points,
				"trust_level":        int(level),
				"updated_at":         now,
			}).Error; errReward != nil {
			return apperrors.StoreUnavailable("reward inviter", errReward)
		}

		inviterID = invite.CreatedBy
		return nil
	})
	if errTx != nil {
		// Codes are single-use; a redemption attempt on a spent code is
		// worth noticing.
		if errors.Is(errTx, apperrors.ErrInviteExhausted) {
			log.WithField("code", code).Warn("invites: attempt to redeem spent code")
		}
		return uuid.Nil, errTx
	}

	log.WithFields(log.Fields{
		"inviter_id": inviterID,
		"invitee_id": newAccountID,
		"code":       code,
	}).Info("invites: invite code consumed")

	return inviterID, nil
}

// ListFor returns the account's most recently created invite codes.
func (l *Ledger) ListFor(ctx context.Context, accountID uuid.UUID) ([]models.InviteCode, error) {
	var invites []models.InviteCode
	if errFind := l.db.WithContext(ctx).
		Where("created_by = ?", accountID).
		Order("created_at DESC").
		Limit(maxListedInvites).
		Find(&invites).Error; errFind != nil {
		return nil, apperrors.StoreUnavailable("list invites", errFind)
	}
	return invites, nil
}

// Revoke invalidates a still-valid code owned by the account. Returns
// whether a code was revoked.
func (l *Ledger) Revoke(ctx context.Context, code string, accountID uuid.UUID) (bool, error) {
	result := l.db.WithContext(ctx).
		Model(&models.InviteCode{}).
		Where("code = ? AND created_by = ? AND is_valid = ?", code, accountID, true).
		Updates(map[string]any{
			"is_valid":   false,
			"updated_at": l.nowFn().UTC(),
		})
	if result.Error != nil {
		return false, apperrors.StoreUnavailable("revoke invite", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// StatsFor summarizes the account's invite usage against its ceiling.
func (l *Ledger) StatsFor(ctx context.Context, accountID uuid.UUID) (Stats, error) {
	profile, errProfile := l.trust.GetProfile(ctx, accountID)
	if errProfile != nil {
		return Stats{}, errProfile
	}
	maxInvites := maxInvitesFor(profile.Level())
	remaining := maxInvites - profile.InvitesSent
	if remaining < 0 {
		remaining = 0
	}
	return Stats{
		InvitesSent:       profile.InvitesSent,
		SuccessfulInvites: profile.SuccessfulInvites,
		RemainingInvites:  remaining,
		MaxInvites:        maxInvites,
	}, nil
}

// Tree walks the invite forest below an account up to the given depth.
func (l *Ledger) Tree(ctx context.Context, accountID uuid.UUID, depth int) ([]models.InviteRelationship, error) {
	var relationships []models.InviteRelationship
	if errWalk := l.walkTree(ctx, accountID, depth, &relationships); errWalk != nil {
		return nil, errWalk
	}
	return relationships, nil
}

func (l *Ledger) walkTree(ctx context.Context, accountID uuid.UUID, depth int, out *[]models.InviteRelationship) error {
	if depth <= 0 {
		return nil
	}
	var rows []models.InviteRelationship
	if errFind := l.db.WithContext(ctx).
		Where("inviter_id = ?", accountID).
		Find(&rows).Error; errFind != nil {
		return apperrors.StoreUnavailable("walk invite tree", errFind)
	}
	for _, row := range rows {
		*out = append(*out, row)
		if errWalk := l.walkTree(ctx, row.InviteeID, depth-1, out); errWalk != nil {
			return errWalk
		}
	}
	return nil
}
