package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/loopline-social/guardpost/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const ageBatchSize = 500

// AgeRecomputer periodically recomputes accountAgeDays for every trust
// profile from its creation timestamp. Each row is updated independently,
// so an interrupted run resumes safely on the next tick.
type AgeRecomputer struct {
	db       *gorm.DB
	interval time.Duration
	nowFn    func() time.Time
}

// NewAgeRecomputer constructs an AgeRecomputer. A nil nowFn defaults to
// time.Now.
func NewAgeRecomputer(db *gorm.DB, interval time.Duration, nowFn func() time.Time) *AgeRecomputer {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &AgeRecomputer{db: db, interval: interval, nowFn: nowFn}
}

// Run executes RunOnce on the configured interval until the context ends.
func (r *AgeRecomputer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	if err := r.RunOnce(ctx); err != nil {
		log.WithError(err).Warn("jobs: account age recompute failed")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				log.WithError(err).Warn("jobs: account age recompute failed")
			}
		}
	}
}

// RunOnce walks all profiles in account-ID order and updates stale ages.
// Idempotent; re-running with the same clock changes nothing.
func (r *AgeRecomputer) RunOnce(ctx context.Context) error {
	now := r.nowFn().UTC()
	updated := 0

	var cursor uuid.UUID
	for {
		type profileRow struct {
			AccountID      uuid.UUID
			AccountAgeDays int
			CreatedAt      time.Time
		}
		var rows []profileRow
		query := r.db.WithContext(ctx).
			Model(&models.TrustProfile{}).
			Select("account_id", "account_age_days", "created_at").
			Order("account_id ASC").
			Limit(ageBatchSize)
		if cursor != uuid.Nil {
			query = query.Where("account_id > ?", cursor)
		}
		if errFind := query.Find(&rows).Error; errFind != nil {
			return errFind
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			age := int(now.Sub(row.CreatedAt).Hours() / 24)
			if age < 0 {
				age = 0
			}
			if age == row.AccountAgeDays {
				continue
			}
			if errUpdate := r.db.WithContext(ctx).
				Model(&models.TrustProfile{}).
				Where("account_id = ?", row.AccountID).
				Update("account_age_days", age).Error; errUpdate != nil {
				return errUpdate
			}
			updated++
		}
		cursor = rows[len(rows)-1].AccountID
	}

	if updated > 0 {
		log.WithField("updated", updated).Info("jobs: account ages recomputed")
	}
	return nil
}
