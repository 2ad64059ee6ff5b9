package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/loopline-social/guardpost/internal/config"
	"github.com/loopline-social/guardpost/internal/devicerisk"
	"github.com/loopline-social/guardpost/internal/invites"
	"github.com/loopline-social/guardpost/internal/models"
	"github.com/loopline-social/guardpost/internal/quota"
	"github.com/loopline-social/guardpost/internal/trust"
	"gorm.io/gorm"
)

const testJWTSecret = "router-test-secret"

type testEnv struct {
	router *gin.Engine
	db     *gorm.DB
	engine *trust.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.AutoMigrate(
		&models.TrustProfile{},
		&models.DeviceFingerprint{},
		&models.InviteCode{},
		&models.InviteRelationship{},
	); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	engine := trust.NewEngine(db, nil)
	manager := quota.NewManager(config.RedisConfig{}, nil, nil)
	limiter := quota.NewLimiter(manager, nil)
	correlator := devicerisk.NewCorrelator(db, nil)
	ledger := invites.NewLedger(db, engine, nil)

	router := NewRouter(Services{
		DB:         db,
		Trust:      engine,
		Limiter:    limiter,
		Correlator: correlator,
		Ledger:     ledger,
		JWT:        config.JWTConfig{Secret: testJWTSecret},
	})
	return &testEnv{router: router, db: db, engine: engine}
}

func signToken(t *testing.T, accountID uuid.UUID, admin bool) string {
	t.Helper()
	claims := accountClaims{
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (env *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestTrustMe_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/trust/me", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/v1/trust/me", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestTrustMe_HidesModerationCounters(t *testing.T) {
	env := newTestEnv(t)
	accountID := uuid.New()
	if err := env.engine.Initialize(context.Background(), accountID); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/v1/trust/me", signToken(t, accountID, false), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var view map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if view["account_id"] != accountID.String() {
		t.Fatalf("expected account_id %s, got %v", accountID, view["account_id"])
	}
	if view["trust_level"] != "new" {
		t.Fatalf("expected trust_level new, got %v", view["trust_level"])
	}
	body := rec.Body.String()
	if strings.Contains(body, "strikes") || strings.Contains(body, "flags") {
		t.Fatalf("expected moderation counters hidden, got %s", body)
	}
}

func TestQuotaConsume_DeniesWithRetryAfter(t *testing.T) {
	env := newTestEnv(t)
	accountID := uuid.New()
	token := signToken(t, accountID, false)

	// Missing profile falls back to the tightest tier: one post per hour.
	rec := env.do(t, http.MethodPost, "/v1/quota/post/consume", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/v1/quota/post/consume", token, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header on denial")
	}
}

func TestQuotaRemaining(t *testing.T) {
	env := newTestEnv(t)
	accountID := uuid.New()
	token := signToken(t, accountID, false)

	rec := env.do(t, http.MethodGet, "/v1/quota/like/remaining", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var view struct {
		Action    string `json:"action"`
		Remaining int    `json:"remaining"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if view.Action != "like" || view.Remaining != 30 {
		t.Fatalf("expected full like quota, got %+v", view)
	}
}

func TestBanGuard_BlocksBannedAccounts(t *testing.T) {
	env := newTestEnv(t)
	accountID := uuid.New()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := env.engine.AddStrike(ctx, accountID, "abuse"); err != nil {
			t.Fatalf("add strike: %v", err)
		}
	}

	rec := env.do(t, http.MethodGet, "/v1/trust/me", signToken(t, accountID, false), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for banned account, got %d", rec.Code)
	}
}

func TestDeviceSightings_AnonymousAndBlocked(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]string{"fingerprint": "canvas:xyz"}

	rec := env.do(t, http.MethodPost, "/v1/devices/sightings", "", body)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for anonymous sighting, got %d: %s", rec.Code, rec.Body.String())
	}

	hash := devicerisk.HashFingerprint("canvas:xyz")
	if err := env.db.Model(&models.DeviceFingerprint{}).
		Where("fingerprint_hash = ?", hash).
		Update("is_blocked", true).Error; err != nil {
		t.Fatalf("block device: %v", err)
	}

	rec = env.do(t, http.MethodPost, "/v1/devices/sightings", "", body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for blocked device, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "risk") {
		t.Fatalf("expected no risk detail in response, got %s", rec.Body.String())
	}
}

func TestInviteFlow_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	inviterID := uuid.New()
	if err := env.engine.Initialize(context.Background(), inviterID); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	token := signToken(t, inviterID, false)

	rec := env.do(t, http.MethodPost, "/v1/invites", token, map[string]int{"validity_days": 14})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	inviteeID := uuid.New()
	rec = env.do(t, http.MethodPost, "/v1/invites/consume", "", map[string]string{
		"code":       created.Code,
		"account_id": inviteeID.String(),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var consumed struct {
		InviterID string `json:"inviter_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &consumed); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if consumed.InviterID != inviterID.String() {
		t.Fatalf("expected inviter %s, got %s", inviterID, consumed.InviterID)
	}

	rec = env.do(t, http.MethodPost, "/v1/invites/consume", "", map[string]string{
		"code":       created.Code,
		"account_id": uuid.New().String(),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for spent code, got %d", rec.Code)
	}
}

func TestAdmin_RequiresAdminClaim(t *testing.T) {
	env := newTestEnv(t)
	accountID := uuid.New()

	rec := env.do(t, http.MethodGet, "/v1/admin/trust-stats", signToken(t, accountID, false), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/v1/admin/trust-stats", signToken(t, accountID, true), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdmin_StrikeAndProfile(t *testing.T) {
	env := newTestEnv(t)
	adminToken := signToken(t, uuid.New(), true)
	targetID := uuid.New()

	path := fmt.Sprintf("/v1/admin/trust/%s/strikes", targetID)
	rec := env.do(t, http.MethodPost, path, adminToken, map[string]string{"reason": "spam wave"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var view struct {
		Strikes int `json:"strikes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if view.Strikes != 1 {
		t.Fatalf("expected 1 strike, got %d", view.Strikes)
	}

	rec = env.do(t, http.MethodGet, "/v1/admin/trust/"+targetID.String(), adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/v1/admin/trust/not-a-uuid", adminToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad account id, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
