package invites

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/loopline-social/guardpost/internal/models"
	"github.com/loopline-social/guardpost/internal/trust"
	apperrors "github.com/loopline-social/guardpost/pkg/errors"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := conn.AutoMigrate(
		&models.TrustProfile{},
		&models.InviteCode{},
		&models.InviteRelationship{},
	); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func newTestLedger(t *testing.T, db *gorm.DB) (*Ledger, *trust.Engine) {
	t.Helper()
	engine := trust.NewEngine(db, nil)
	return NewLedger(db, engine, nil), engine
}

func initAccount(t *testing.T, engine *trust.Engine) uuid.UUID {
	t.Helper()
	accountID := uuid.New()
	if err := engine.Initialize(context.Background(), accountID); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return accountID
}

func TestCreate_QuotaByTrustLevel(t *testing.T) {
	db := openTestDB(t)
	ledger, engine := newTestLedger(t, db)
	accountID := initAccount(t, engine)
	ctx := context.Background()

	// New accounts may hold three outstanding invites.
	for i := 0; i < 3; i++ {
		invite, err := ledger.Create(ctx, accountID, 30)
		if err != nil {
			t.Fatalf("create invite %d: %v", i, err)
		}
		if len(invite.Code) != codeLength {
			t.Fatalf("expected %d-char code, got %q", codeLength, invite.Code)
		}
	}

	_, err := ledger.Create(ctx, accountID, 30)
	if !errors.Is(err, apperrors.ErrInviteQuotaExceeded) {
		t.Fatalf("expected quota error on fourth invite, got %v", err)
	}

	// Promotion raises the ceiling.
	if errSet := engine.SetLevel(ctx, accountID, models.TrustLevelBasic); errSet != nil {
		t.Fatalf("set level: %v", errSet)
	}
	if _, errCreate := ledger.Create(ctx, accountID, 30); errCreate != nil {
		t.Fatalf("expected basic tier to allow fourth invite, got %v", errCreate)
	}
}

func TestCreate_UnknownAccount(t *testing.T) {
	db := openTestDB(t)
	ledger, _ := newTestLedger(t, db)

	_, err := ledger.Create(context.Background(), uuid.New(), 30)
	if apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestConsume_HappyPath(t *testing.T) {
	db := openTestDB(t)
	ledger, engine := newTestLedger(t, db)
	inviterID := initAccount(t, engine)
	inviteeID := uuid.New()
	ctx := context.Background()

	invite, err := ledger.Create(ctx, inviterID, 30)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	gotInviter, err := ledger.Consume(ctx, invite.Code, inviteeID)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if gotInviter != inviterID {
		t.Fatalf("expected inviter %s, got %s", inviterID, gotInviter)
	}

	var stored models.InviteCode
	if errFind := db.Where("code = ?", invite.Code).First(&stored).Error; errFind != nil {
		t.Fatalf("find invite: %v", errFind)
	}
	if stored.UseCount != 1 || stored.IsValid {
		t.Fatalf("expected single-use invite spent, got use_count=%d is_valid=%v", stored.UseCount, stored.IsValid)
	}
	if stored.UsedBy == nil || *stored.UsedBy != inviteeID {
		t.Fatalf("expected used_by=%s, got %v", inviteeID, stored.UsedBy)
	}

	var relationship models.InviteRelationship
	if errFind := db.Where("invitee_id = ?", inviteeID).First(&relationship).Error; errFind != nil {
		t.Fatalf("find relationship: %v", errFind)
	}
	if relationship.InviterID != inviterID || relationship.InviteCode != invite.Code {
		t.Fatalf("unexpected relationship row: %+v", relationship)
	}

	profile, err := engine.GetProfile(ctx, inviterID)
	if err != nil {
		t.Fatalf("get inviter profile: %v", err)
	}
	if profile.SuccessfulInvites != 1 {
		t.Fatalf("expected 1 successful invite, got %d", profile.SuccessfulInvites)
	}
	if profile.TrustPoints != inviterRewardPoints {
		t.Fatalf("expected %d reward points, got %d", inviterRewardPoints, profile.TrustPoints)
	}
}

func TestConsume_SecondUseExhausted(t *testing.T) {
	db := openTestDB(t)
	ledger, engine := newTestLedger(t, db)
	inviterID := initAccount(t, engine)
	ctx := context.Background()

	invite, err := ledger.Create(ctx, inviterID, 30)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if _, errConsume := ledger.Consume(ctx, invite.Code, uuid.New()); errConsume != nil {
		t.Fatalf("first consume: %v", errConsume)
	}

	_, err = ledger.Consume(ctx, invite.Code, uuid.New())
	if !errors.Is(err, apperrors.ErrInviteExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
}

func TestConsume_ConcurrentSingleUse(t *testing.T) {
	db := openTestDB(t)
	ledger, engine := newTestLedger(t, db)
	inviterID := initAccount(t, engine)
	ctx := context.Background()

	invite, err := ledger.Create(ctx, inviterID, 30)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	// Two signups race on the same single-use code; the transaction must
	// let exactly one through.
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = ledger.Consume(ctx, invite.Code, uuid.New())
		}(i)
	}
	wg.Wait()

	var succeeded, rejected int
	for _, errConsume := range results {
		switch {
		case errConsume == nil:
			succeeded++
		case errors.Is(errConsume, apperrors.ErrInviteExhausted),
			errors.Is(errConsume, apperrors.ErrInviteInvalid):
			rejected++
		default:
			t.Fatalf("unexpected consume error: %v", errConsume)
		}
	}
	if succeeded != 1 || rejected != 1 {
		t.Fatalf("expected exactly one success, got %d successes and %d rejections", succeeded, rejected)
	}

	var stored models.InviteCode
	if errFind := db.Where("code = ?", invite.Code).First(&stored).Error; errFind != nil {
		t.Fatalf("find invite: %v", errFind)
	}
	if stored.UseCount != 1 || stored.UseCount > stored.MaxUses || stored.IsValid {
		t.Fatalf("expected code spent exactly once, got use_count=%d max_uses=%d is_valid=%v",
			stored.UseCount, stored.MaxUses, stored.IsValid)
	}
}

func TestConsume_RewardPromotesInviter(t *testing.T) {
	db := openTestDB(t)
	ledger, engine := newTestLedger(t, db)
	inviterID := initAccount(t, engine)
	ctx := context.Background()

	// One reward short of the basic tier.
	if errSeed := db.Model(&models.TrustProfile{}).
		Where("account_id = ?", inviterID).
		Updates(map[string]any{
			"account_age_days": 10,
			"posts_count":      5,
			"trust_points":     15,
		}).Error; errSeed != nil {
		t.Fatalf("seed profile: %v", errSeed)
	}

	invite, err := ledger.Create(ctx, inviterID, 30)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if _, errConsume := ledger.Consume(ctx, invite.Code, uuid.New()); errConsume != nil {
		t.Fatalf("consume: %v", errConsume)
	}

	profile, err := engine.GetProfile(ctx, inviterID)
	if err != nil {
		t.Fatalf("get inviter profile: %v", err)
	}
	if profile.TrustPoints != 15+inviterRewardPoints {
		t.Fatalf("expected %d points after reward, got %d", 15+inviterRewardPoints, profile.TrustPoints)
	}
	if profile.Level() != models.TrustLevelBasic {
		t.Fatalf("expected reward to promote inviter to basic, got %s", profile.Level())
	}
}

func TestConsume_Expired(t *testing.T) {
	db := openTestDB(t)
	ledger, engine := newTestLedger(t, db)
	inviterID := initAccount(t, engine)
	ctx := context.Background()

	invite := models.InviteCode{
		Code:      "EXPIREDCODE1",
		CreatedBy: inviterID,
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
		IsValid:   true,
		MaxUses:   1,
	}
	if errCreate := db.Create(&invite).Error; errCreate != nil {
		t.Fatalf("seed invite: %v", errCreate)
	}

	_, err := ledger.Consume(ctx, invite.Code, uuid.New())
	if !errors.Is(err, apperrors.ErrInviteExpired) {
		t.Fatalf("expected expired error, got %v", err)
	}
}

func TestConsume_Revoked(t *testing.T) {
	db := openTestDB(t)
	ledger, engine := newTestLedger(t, db)
	inviterID := initAccount(t, engine)
	ctx := context.Background()

	invite, err := ledger.Create(ctx, inviterID, 30)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	revoked, err := ledger.Revoke(ctx, invite.Code, inviterID)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if !revoked {
		t.Fatalf("expected revoke to succeed")
	}

	_, err = ledger.Consume(ctx, invite.Code, uuid.New())
	if !errors.Is(err, apperrors.ErrInviteRevoked) {
		t.Fatalf("expected revoked error, got %v", err)
	}
}

func TestConsume_UnknownCode(t *testing.T) {
	db := openTestDB(t)
	ledger, _ := newTestLedger(t, db)

	_, err := ledger.Consume(context.Background(), "NOSUCHCODE00", uuid.New())
	if !errors.Is(err, apperrors.ErrInviteInvalid) {
		t.Fatalf("expected invalid error, got %v", err)
	}
}

func TestRevoke_OwnerScoped(t *testing.T) {
	db := openTestDB(t)
	ledger, engine := newTestLedger(t, db)
	inviterID := initAccount(t, engine)
	otherID := initAccount(t, engine)
	ctx := context.Background()

	invite, err := ledger.Create(ctx, inviterID, 30)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	revoked, err := ledger.Revoke(ctx, invite.Code, otherID)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked {
		t.Fatalf("expected foreign revoke to be a no-op")
	}

	if _, errConsume := ledger.Consume(ctx, invite.Code, uuid.New()); errConsume != nil {
		t.Fatalf("expected invite still consumable, got %v", errConsume)
	}
}

func TestStatsFor(t *testing.T) {
	db := openTestDB(t)
	ledger, engine := newTestLedger(t, db)
	inviterID := initAccount(t, engine)
	ctx := context.Background()

	invite, err := ledger.Create(ctx, inviterID, 30)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if _, errConsume := ledger.Consume(ctx, invite.Code, uuid.New()); errConsume != nil {
		t.Fatalf("consume: %v", errConsume)
	}
	if _, errCreate := ledger.Create(ctx, inviterID, 30); errCreate != nil {
		t.Fatalf("create second invite: %v", errCreate)
	}

	stats, err := ledger.StatsFor(ctx, inviterID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := Stats{InvitesSent: 2, SuccessfulInvites: 1, RemainingInvites: 1, MaxInvites: 3}
	if stats != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}
}

func TestTree_DepthBounded(t *testing.T) {
	db := openTestDB(t)
	ledger, engine := newTestLedger(t, db)
	rootID := initAccount(t, engine)
	ctx := context.Background()

	invite, err := ledger.Create(ctx, rootID, 30)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	childID := uuid.New()
	if _, errConsume := ledger.Consume(ctx, invite.Code, childID); errConsume != nil {
		t.Fatalf("consume: %v", errConsume)
	}

	if errInit := engine.Initialize(ctx, childID); errInit != nil {
		t.Fatalf("initialize child: %v", errInit)
	}
	childInvite, err := ledger.Create(ctx, childID, 30)
	if err != nil {
		t.Fatalf("create child invite: %v", err)
	}
	grandchildID := uuid.New()
	if _, errConsume := ledger.Consume(ctx, childInvite.Code, grandchildID); errConsume != nil {
		t.Fatalf("consume child invite: %v", errConsume)
	}

	shallow, err := ledger.Tree(ctx, rootID, 1)
	if err != nil {
		t.Fatalf("tree depth 1: %v", err)
	}
	if len(shallow) != 1 || shallow[0].InviteeID != childID {
		t.Fatalf("expected only the direct invitee at depth 1, got %+v", shallow)
	}

	deep, err := ledger.Tree(ctx, rootID, 3)
	if err != nil {
		t.Fatalf("tree depth 3: %v", err)
	}
	if len(deep) != 2 {
		t.Fatalf("expected 2 edges at depth 3, got %d", len(deep))
	}
}

func TestRandomCode_Charset(t *testing.T) {
	code, err := randomCode()
	if err != nil {
		t.Fatalf("random code: %v", err)
	}
	if len(code) != codeLength {
		t.Fatalf("expected %d chars, got %d", codeLength, len(code))
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			t.Fatalf("unexpected character %q in code %q", r, code)
		}
	}
}

func TestRandomCode_CoversAlphabet(t *testing.T) {
	// 12k characters make a missing alphabet member a practical
	// impossibility under uniform sampling.
	seen := make(map[byte]bool, len(codeCharset))
	for i := 0; i < 1000; i++ {
		code, err := randomCode()
		if err != nil {
			t.Fatalf("random code: %v", err)
		}
		if len(code) != codeLength {
			t.Fatalf("expected %d chars, got %d", codeLength, len(code))
		}
		for j := 0; j < len(code); j++ {
			seen[code[j]] = true
		}
	}
	for i := 0; i < len(codeCharset); i++ {
		if !seen[codeCharset[i]] {
			t.Fatalf("character %q never generated", codeCharset[i])
		}
	}
}
