package trust

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/loopline-social/guardpost/internal/models"
	apperrors "github.com/loopline-social/guardpost/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Strike penalties. Every strike also counts as a flag and docks points.
const (
	strikePointPenalty = 50
	flagPointPenalty   = 10
	flagsPerAutoStrike = 10
)

// banDurationDays returns the escalating ban length for a strike count.
func banDurationDays(strikes int) int {
	switch strikes {
	case 3:
		return 7
	case 4:
		return 30
	default:
		return 365
	}
}

// Engine owns per-account reputation state and its progression rules.
// Point arithmetic is last-writer-wins; trust level is a coarse signal, not
// a hard security boundary, so small races are tolerated.
type Engine struct {
	db    *gorm.DB
	nowFn func() time.Time
}

// NewEngine constructs an Engine. A nil nowFn defaults to time.Now.
func NewEngine(db *gorm.DB, nowFn func() time.Time) *Engine {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Engine{db: db, nowFn: nowFn}
}

// Initialize creates a trust profile at level New with zero points. It is a
// no-op when the profile already exists.
func (e *Engine) Initialize(ctx context.Context, accountID uuid.UUID) error {
	profile := models.TrustProfile{AccountID: accountID}
	if errCreate := e.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&profile).Error; errCreate != nil {
		return apperrors.StoreUnavailable("initialize trust profile", errCreate)
	}
	return nil
}

// GetProfile loads the trust profile for an account.
func (e *Engine) GetProfile(ctx context.Context, accountID uuid.UUID) (*models.TrustProfile, error) {
	var profile models.TrustProfile
	errFind := e.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		First(&profile).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrProfileNotFound
		}
		return nil, apperrors.StoreUnavailable("load trust profile", errFind)
	}
	return &profile, nil
}

// loadOrInit loads the profile, creating a fresh one when missing. A missing
// profile on a mutation path is a recoverable precondition, never fatal.
func (e *Engine) loadOrInit(ctx context.Context, accountID uuid.UUID) (*models.TrustProfile, error) {
	profile, errGet := e.GetProfile(ctx, accountID)
	if errGet == nil {
		return profile, nil
	}
	if apperrors.CodeOf(errGet) != apperrors.CodeNotFound {
		return nil, errGet
	}
	if errInit := e.Initialize(ctx, accountID); errInit != nil {
		return nil, errInit
	}
	return e.GetProfile(ctx, accountID)
}

// RecordActivity applies the point delta and counter bump for one reported
// activity, then recomputes the trust level. Unknown kinds only refresh the
// activity timestamp.
func (e *Engine) RecordActivity(ctx context.Context, accountID uuid.UUID, kind ActivityKind) error {
	profile, errLoad := e.loadOrInit(ctx, accountID)
	if errLoad != nil {
		return errLoad
	}

	effect := activityEffects[kind]
	now := e.nowFn().UTC()

	points := profile.TrustPoints + effect.points
	if points < 0 {
		points = 0
	}

	updates := map[string]any{
		"trust_points":     points,
		"last_activity_at": now,
		"updated_at":       now,
	}
	switch effect.counter {
	case "posts_count":
		updates["posts_count"] = profile.PostsCount + 1
		profile.PostsCount++
	case "comments_count":
		updates["comments_count"] = profile.CommentsCount + 1
	case "likes_received_count":
		updates["likes_received_count"] = profile.LikesReceivedCount + 1
	case "followers_count":
		updates["followers_count"] = profile.FollowersCount + 1
	}

	level := NextLevel(profile.Level(), profile.AccountAgeDays, profile.PostsCount,
		points, profile.FlagsReceived, profile.Strikes)
	updates["trust_level"] = int(level)

	if errUpdate := e.db.WithContext(ctx).
		Model(&models.TrustProfile{}).
		Where("account_id = ?", accountID).
		Updates(updates).Error; errUpdate != nil {
		return apperrors.StoreUnavailable("record activity", errUpdate)
	}
	return nil
}

// RecomputeLevel re-derives the trust level from the stored metrics and
// persists it. Returns the resulting level.
func (e *Engine) RecomputeLevel(ctx context.Context, accountID uuid.UUID) (models.TrustLevel, error) {
	profile, errLoad := e.loadOrInit(ctx, accountID)
	if errLoad != nil {
		return models.TrustLevelNew, errLoad
	}

	level := NextLevel(profile.Level(), profile.AccountAgeDays, profile.PostsCount,
		profile.TrustPoints, profile.FlagsReceived, profile.Strikes)
	if int(level) == profile.TrustLevel {
		return level, nil
	}

	if errUpdate := e.db.WithContext(ctx).
		Model(&models.TrustProfile{}).
		Where("account_id = ?", accountID).
		Updates(map[string]any{
			"trust_level": int(level),
			"updated_at":  e.nowFn().UTC(),
		}).Error; errUpdate != nil {
		return models.TrustLevelNew, apperrors.StoreUnavailable("recompute trust level", errUpdate)
	}
	return level, nil
}

// AddStrike records a violation. Crossing three strikes triggers escalating
// temporary bans: 7 days, then 30, then 365. Returns the new strike count.
func (e *Engine) AddStrike(ctx context.Context, accountID uuid.UUID, reason string) (int, error) {
	profile, errLoad := e.loadOrInit(ctx, accountID)
	if errLoad != nil {
		return 0, errLoad
	}

	now := e.nowFn().UTC()
	strikes := profile.Strikes + 1
	flags := profile.FlagsReceived + 1
	points := profile.TrustPoints - strikePointPenalty
	if points < 0 {
		points = 0
	}

	updates := map[string]any{
		"strikes":        strikes,
		"flags_received": flags,
		"trust_points":   points,
		"updated_at":     now,
	}

	if strikes >= demotionStrikes {
		bannedUntil := now.AddDate(0, 0, banDurationDays(strikes))
		updates["banned_until"] = bannedUntil
		log.WithFields(log.Fields{
			"account_id":   accountID,
			"strikes":      strikes,
			"banned_until": bannedUntil,
			"reason":       reason,
		}).Warn("trust: account banned due to strikes")
	}

	level := NextLevel(profile.Level(), profile.AccountAgeDays, profile.PostsCount,
		points, flags, strikes)
	updates["trust_level"] = int(level)

	if errUpdate := e.db.WithContext(ctx).
		Model(&models.TrustProfile{}).
		Where("account_id = ?", accountID).
		Updates(updates).Error; errUpdate != nil {
		return 0, apperrors.StoreUnavailable("add strike", errUpdate)
	}
	return strikes, nil
}

// RecordFlag registers a report against the account. Every tenth flag
// converts into an automatic strike.
func (e *Engine) RecordFlag(ctx context.Context, accountID uuid.UUID) error {
	profile, errLoad := e.loadOrInit(ctx, accountID)
	if errLoad != nil {
		return errLoad
	}

	flags := profile.FlagsReceived + 1
	points := profile.TrustPoints - flagPointPenalty
	if points < 0 {
		points = 0
	}

	level := NextLevel(profile.Level(), profile.AccountAgeDays, profile.PostsCount,
		points, flags, profile.Strikes)

	if errUpdate := e.db.WithContext(ctx).
		Model(&models.TrustProfile{}).
		Where("account_id = ?", accountID).
		Updates(map[string]any{
			"flags_received": flags,
			"trust_points":   points,
			"trust_level":    int(level),
			"updated_at":     e.nowFn().UTC(),
		}).Error; errUpdate != nil {
		return apperrors.StoreUnavailable("record flag", errUpdate)
	}

	if flags >= flagsPerAutoStrike && flags%flagsPerAutoStrike == 0 {
		if _, errStrike := e.AddStrike(ctx, accountID, "excessive flags received"); errStrike != nil {
			return errStrike
		}
	}
	return nil
}

// IsBanned reports whether the account is banned as of now. A missing
// profile is not banned.
func (e *Engine) IsBanned(ctx context.Context, accountID uuid.UUID) (bool, error) {
	profile, errGet := e.GetProfile(ctx, accountID)
	if errGet != nil {
		if apperrors.CodeOf(errGet) == apperrors.CodeNotFound {
			return false, nil
		}
		return false, errGet
	}
	return profile.Banned(e.nowFn().UTC()), nil
}

// SetLevel manually overrides the trust level. This is the only path to
// Verified.
func (e *Engine) SetLevel(ctx context.Context, accountID uuid.UUID, level models.TrustLevel) error {
	if _, errLoad := e.loadOrInit(ctx, accountID); errLoad != nil {
		return errLoad
	}
	if errUpdate := e.db.WithContext(ctx).
		Model(&models.TrustProfile{}).
		Where("account_id = ?", accountID).
		Updates(map[string]any{
			"trust_level": int(level),
			"updated_at":  e.nowFn().UTC(),
		}).Error; errUpdate != nil {
		return apperrors.StoreUnavailable("set trust level", errUpdate)
	}
	log.WithFields(log.Fields{
		"account_id": accountID,
		"level":      level.String(),
	}).Info("trust: level manually set")
	return nil
}

// LevelStats returns the number of profiles per trust level.
func (e *Engine) LevelStats(ctx context.Context) (map[models.TrustLevel]int64, error) {
	type statRow struct {
		TrustLevel int
		Count      int64
	}
	var rows []statRow
	if errFind := e.db.WithContext(ctx).
		Model(&models.TrustProfile{}).
		Select("trust_level, COUNT(*) as count").
		Group("trust_level").
		Find(&rows).Error; errFind != nil {
		return nil, apperrors.StoreUnavailable("trust level stats", errFind)
	}
	stats := make(map[models.TrustLevel]int64, len(rows))
	for _, row := range rows {
		stats[models.TrustLevelFromInt(row.TrustLevel)] = row.Count
	}
	return stats, nil
}
