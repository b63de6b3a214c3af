package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/luxeride/business-wallet/internal/config"
	"github.com/luxeride/business-wallet/internal/db"
	"github.com/luxeride/business-wallet/internal/gateway"
	"github.com/luxeride/business-wallet/internal/models"
	"github.com/luxeride/business-wallet/internal/security"
	"gorm.io/gorm"
)

const (
	testCronSecret  = "cron-secret"
	testJWTSecret   = "jwt-secret"
	testAdminSecret = "admin-secret"
)

type stubGateway struct {
	mu      sync.Mutex
	creates int
}

func (g *stubGateway) CreateCharge(_ context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	g.mu.Lock()
	g.creates++
	n := g.creates
	g.mu.Unlock()
	return &gateway.Charge{
		Ref:            fmt.Sprintf("pi_%d", n),
		Status:         gateway.StatusSucceeded,
		RawStatus:      "succeeded",
		AmountCents:    req.AmountCents,
		AmountReceived: req.AmountCents,
		Currency:       req.Currency,
	}, nil
}

func (g *stubGateway) GetCharge(_ context.Context, ref string) (*gateway.Charge, error) {
	return nil, fmt.Errorf("unexpected retrieve of %s", ref)
}

func (g *stubGateway) ConfirmCharge(_ context.Context, req gateway.ConfirmRequest) (*gateway.Charge, error) {
	return nil, fmt.Errorf("unexpected confirm of %s", req.ChargeRef)
}

type testServer struct {
	t        *testing.T
	db       *gorm.DB
	router   *gin.Engine
	services *Services
	gw       *stubGateway
	account  models.BusinessAccount
	owner    models.BusinessUser
	member   models.BusinessUser
	admin    models.Admin
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dsn := fmt.Sprintf("file:app_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		t.Fatalf("sql db: %v", errDB)
	}
	sqlDB.SetMaxOpenConns(1)
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{Mode: gin.TestMode},
		Auth: config.AuthConfig{
			JWTSecret:      testJWTSecret,
			AdminJWTSecret: testAdminSecret,
			CronSecret:     testCronSecret,
		},
		Recharge: config.RechargeConfig{MaxRetries: 3, PortalURL: "https://business.luxeride.test"},
	}
	gw := &stubGateway{}
	services, errBuild := BuildServices(context.Background(), cfg, conn, gw)
	if errBuild != nil {
		t.Fatalf("build services: %v", errBuild)
	}
	t.Cleanup(func() {
		services.Orchestrator.Drain()
		_ = sqlDB.Close()
	})

	s := &testServer{t: t, db: conn, router: NewRouter(cfg, services), services: services, gw: gw}
	s.seed()
	return s
}

func (s *testServer) seed() {
	s.account = models.BusinessAccount{
		Name:                       "Acme Travel",
		BillingEmail:               "billing@acme.test",
		Currency:                   "usd",
		IsActive:                   true,
		CustomerRef:                "cus_acme",
		BalanceCents:               6000,
		InitialBalanceCents:        6000,
		AutoRechargeEnabled:        true,
		AutoRechargeThresholdCents: 5000,
		AutoRechargeAmountCents:    10000,
	}
	if err := s.db.Create(&s.account).Error; err != nil {
		s.t.Fatalf("create account: %v", err)
	}
	method := models.PaymentMethod{
		BusinessAccountID: s.account.ID,
		GatewayRef:        "pm_acme",
		Brand:             "visa",
		Last4:             "4242",
		ExpMonth:          12,
		ExpYear:           2099,
		IsDefault:         true,
		IsActive:          true,
	}
	if err := s.db.Create(&method).Error; err != nil {
		s.t.Fatalf("create payment method: %v", err)
	}
	if err := s.db.Model(&s.account).Update("default_payment_method_id", method.ID).Error; err != nil {
		s.t.Fatalf("set default method: %v", err)
	}
	s.owner = models.BusinessUser{BusinessAccountID: s.account.ID, Email: "owner@acme.test", Role: "owner"}
	s.member = models.BusinessUser{BusinessAccountID: s.account.ID, Email: "member@acme.test", Role: "member"}
	for _, user := range []*models.BusinessUser{&s.owner, &s.member} {
		if err := s.db.Create(user).Error; err != nil {
			s.t.Fatalf("create user: %v", err)
		}
	}
	s.admin = models.Admin{Username: "ops", Active: true}
	if err := s.db.Create(&s.admin).Error; err != nil {
		s.t.Fatalf("create admin: %v", err)
	}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) userToken(user models.BusinessUser) string {
	s.t.Helper()
	token, err := security.GenerateBusinessToken(testJWTSecret, user.ID, user.BusinessAccountID, user.Email, user.Role, time.Hour)
	if err != nil {
		s.t.Fatalf("sign user token: %v", err)
	}
	return token
}

func (s *testServer) adminToken() string {
	s.t.Helper()
	token, err := security.GenerateAdminToken(testAdminSecret, s.admin.ID, s.admin.Username, time.Hour)
	if err != nil {
		s.t.Fatalf("sign admin token: %v", err)
	}
	return token
}

func (s *testServer) balance() int64 {
	s.t.Helper()
	var account models.BusinessAccount
	if err := s.db.Where("id = ?", s.account.ID).Take(&account).Error; err != nil {
		s.t.Fatalf("load account: %v", err)
	}
	return account.BalanceCents
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if body := decode(t, rec); body["ok"] != true || body["database"] != db.DialectSQLite {
		t.Fatalf("body = %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodGet, "/healthz", "", nil)
	rec := s.do(http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("http_requests_total")) {
		t.Fatalf("metrics output missing http_requests_total")
	}
}

func TestCronRoutesRequireSecret(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(http.MethodGet, "/v0/internal/auto-recharge/process", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no auth status = %d", rec.Code)
	}
	if rec := s.do(http.MethodGet, "/v0/internal/auto-recharge/process", "wrong", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret status = %d", rec.Code)
	}
	rec := s.do(http.MethodGet, "/v0/internal/auto-recharge/process", testCronSecret, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if body := decode(t, rec); body["processed"] != float64(0) {
		t.Fatalf("body = %v", body)
	}
}

func TestDebitTriggersRechargeThroughSweep(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/v0/internal/wallet/debits", testCronSecret, map[string]any{
		"business_account_id": s.account.ID,
		"amount":              "20.00",
		"description":         "Ride #981",
		"reference":           "booking-981",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("debit status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	attempt, ok := body["auto_recharge_attempt"].(map[string]any)
	if !ok {
		t.Fatalf("debit did not open an attempt: %v", body)
	}
	if attempt["status"] != string(models.AttemptStatusPending) || attempt["amount"] != "100.00" {
		t.Fatalf("attempt = %v", attempt)
	}
	if got := s.balance(); got != 4000 {
		t.Fatalf("balance after debit = %d, want 4000", got)
	}

	again := s.do(http.MethodPost, "/v0/internal/wallet/debits", testCronSecret, map[string]any{
		"business_account_id": s.account.ID,
		"amount":              "20.00",
		"reference":           "booking-981",
	})
	if again.Code != http.StatusOK || decode(t, again)["duplicate"] != true {
		t.Fatalf("replayed debit status = %d, body = %s", again.Code, again.Body.String())
	}

	rec = s.do(http.MethodGet, "/v0/internal/auto-recharge/process", testCronSecret, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sweep status = %d, body = %s", rec.Code, rec.Body.String())
	}
	summary := decode(t, rec)
	if summary["processed"] != float64(1) || summary["succeeded"] != float64(1) {
		t.Fatalf("summary = %v", summary)
	}
	if got := s.balance(); got != 14000 {
		t.Fatalf("balance after recharge = %d, want 14000", got)
	}
}

func TestProcessSingleAttempt(t *testing.T) {
	s := newTestServer(t)
	attempt, created, err := s.services.Trigger.Evaluate(context.Background(), s.account.ID, models.TriggerSourceManual)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if created {
		t.Fatalf("balance above threshold opened an attempt")
	}
	if attempt != nil {
		t.Fatalf("unexpected attempt %v", attempt)
	}
	if err := s.db.Model(&s.account).Update("balance_cents", 1000).Error; err != nil {
		t.Fatalf("lower balance: %v", err)
	}
	attempt, created, err = s.services.Trigger.Evaluate(context.Background(), s.account.ID, models.TriggerSourceManual)
	if err != nil || !created {
		t.Fatalf("evaluate: created=%v err=%v", created, err)
	}

	if rec := s.do(http.MethodPost, "/v0/internal/auto-recharge/process", testCronSecret, map[string]any{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing id status = %d", rec.Code)
	}
	if rec := s.do(http.MethodPost, "/v0/internal/auto-recharge/process", testCronSecret, map[string]any{"attempt_id": 999}); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id status = %d", rec.Code)
	}

	rec := s.do(http.MethodPost, "/v0/internal/auto-recharge/process", testCronSecret, map[string]any{"attempt_id": attempt.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["outcome"] != "succeeded" {
		t.Fatalf("body = %v", body)
	}
	view := body["attempt"].(map[string]any)
	if view["status"] != string(models.AttemptStatusSucceeded) || view["charge_ref"] != "pi_1" {
		t.Fatalf("attempt = %v", view)
	}

	rec = s.do(http.MethodPost, "/v0/internal/auto-recharge/process", testCronSecret, map[string]any{"attempt_id": attempt.ID})
	if rec.Code != http.StatusOK || decode(t, rec)["already_terminal"] != true {
		t.Fatalf("replay status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if s.gw.creates != 1 {
		t.Fatalf("gateway creates = %d, want 1", s.gw.creates)
	}
}

func TestBusinessWalletRoutes(t *testing.T) {
	s := newTestServer(t)
	owner := s.userToken(s.owner)
	member := s.userToken(s.member)

	if rec := s.do(http.MethodGet, "/v0/business/wallet", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", rec.Code)
	}

	rec := s.do(http.MethodGet, "/v0/business/wallet", member, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("wallet status = %d, body = %s", rec.Code, rec.Body.String())
	}
	wallet := decode(t, rec)["wallet"].(map[string]any)
	if wallet["balance"] != "60.00" || wallet["latest_attempt"] != nil {
		t.Fatalf("wallet = %v", wallet)
	}
	card := wallet["default_payment_method"].(map[string]any)
	if card["display"] != "Visa •••• 4242" {
		t.Fatalf("card = %v", card)
	}

	update := map[string]any{"threshold": "75.00"}
	if rec := s.do(http.MethodPut, "/v0/business/wallet/auto-recharge", member, update); rec.Code != http.StatusForbidden {
		t.Fatalf("member update status = %d", rec.Code)
	}
	if rec := s.do(http.MethodPut, "/v0/business/wallet/auto-recharge", owner, map[string]any{"amount": "0"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("zero amount status = %d", rec.Code)
	}

	rec = s.do(http.MethodPut, "/v0/business/wallet/auto-recharge", owner, update)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner update status = %d, body = %s", rec.Code, rec.Body.String())
	}
	wallet = decode(t, rec)["wallet"].(map[string]any)
	settings := wallet["auto_recharge"].(map[string]any)
	if settings["threshold"] != "75.00" {
		t.Fatalf("auto_recharge = %v", settings)
	}
	latest, ok := wallet["latest_attempt"].(map[string]any)
	if !ok || latest["status"] != string(models.AttemptStatusPending) {
		t.Fatalf("raising the threshold above the balance should open an attempt: %v", wallet["latest_attempt"])
	}

	rec = s.do(http.MethodGet, "/v0/business/wallet/auto-recharge/attempts", member, nil)
	if rec.Code != http.StatusOK || decode(t, rec)["total"] != float64(1) {
		t.Fatalf("attempts status = %d, body = %s", rec.Code, rec.Body.String())
	}
	rec = s.do(http.MethodGet, "/v0/business/payment-methods", member, nil)
	if rec.Code != http.StatusOK || len(decode(t, rec)["payment_methods"].([]any)) != 1 {
		t.Fatalf("payment methods status = %d, body = %s", rec.Code, rec.Body.String())
	}
	rec = s.do(http.MethodGet, "/v0/business/wallet/transactions", member, nil)
	if rec.Code != http.StatusOK || decode(t, rec)["total"] != float64(0) {
		t.Fatalf("transactions status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestBusinessNotifications(t *testing.T) {
	s := newTestServer(t)
	token := s.userToken(s.member)
	note := models.Notification{
		BusinessAccountID: s.account.ID,
		Category:          "billing",
		Type:              "auto_recharge_succeeded",
		Title:             "Wallet recharged",
		Message:           "We added 100.00 USD to your wallet.",
	}
	if err := s.db.Create(&note).Error; err != nil {
		t.Fatalf("create notification: %v", err)
	}

	rec := s.do(http.MethodGet, "/v0/business/notifications?unread=1", token, nil)
	if rec.Code != http.StatusOK || decode(t, rec)["total"] != float64(1) {
		t.Fatalf("list status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec := s.do(http.MethodPost, fmt.Sprintf("/v0/business/notifications/%d/read", note.ID), token, nil); rec.Code != http.StatusOK {
		t.Fatalf("mark read status = %d, body = %s", rec.Code, rec.Body.String())
	}
	rec = s.do(http.MethodGet, "/v0/business/notifications?unread=1", token, nil)
	if decode(t, rec)["total"] != float64(0) {
		t.Fatalf("notification still unread: %s", rec.Body.String())
	}
	if rec := s.do(http.MethodPost, "/v0/business/notifications/999/read", token, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown notification status = %d", rec.Code)
	}
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)
	token := s.adminToken()

	if rec := s.do(http.MethodGet, "/v0/admin/auto-recharge/attempts", s.userToken(s.owner), nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("user token on admin route status = %d", rec.Code)
	}

	path := fmt.Sprintf("/v0/admin/business-accounts/%d/adjustments", s.account.ID)
	rec := s.do(http.MethodPost, path, token, map[string]any{"amount": "-15.50", "description": "Goodwill reversal"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("adjustment status = %d, body = %s", rec.Code, rec.Body.String())
	}
	tx := decode(t, rec)["transaction"].(map[string]any)
	if tx["amount"] != "-15.50" || tx["created_by"] != "admin:ops" || tx["balance_after"] != "44.50" {
		t.Fatalf("transaction = %v", tx)
	}
	if rec := s.do(http.MethodPost, path, token, map[string]any{"amount": "100000000000000000000000", "description": "oversized"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized adjustment status = %d", rec.Code)
	}
	if rec := s.do(http.MethodPost, path, token, map[string]any{"amount": "-1000", "description": "too much"}); rec.Code != http.StatusConflict {
		t.Fatalf("overdraw status = %d", rec.Code)
	}

	rec = s.do(http.MethodGet, "/v0/admin/auto-recharge/attempts?status=pending", token, nil)
	if rec.Code != http.StatusOK || decode(t, rec)["total"] != float64(1) {
		t.Fatalf("attempts status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = s.do(http.MethodGet, fmt.Sprintf("/v0/admin/business-accounts/%d/ledger-check", s.account.ID), token, nil)
	if rec.Code != http.StatusOK || decode(t, rec)["consistent"] != true {
		t.Fatalf("ledger check status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec := s.do(http.MethodGet, "/v0/admin/business-accounts/999/ledger-check", token, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown account status = %d", rec.Code)
	}
	if rec := s.do(http.MethodPost, "/v0/admin/auto-recharge/attempts/999/reconcile", token, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown attempt reconcile status = %d", rec.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(http.MethodGet, "/nope", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}
