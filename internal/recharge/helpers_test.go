package recharge

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/luxeride/business-wallet/internal/db"
	"github.com/luxeride/business-wallet/internal/gateway"
	"github.com/luxeride/business-wallet/internal/lock"
	"github.com/luxeride/business-wallet/internal/models"
	"github.com/luxeride/business-wallet/internal/notify"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:recharge_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeGateway struct {
	mu        sync.Mutex
	creates   []gateway.ChargeRequest
	gets      []string
	confirms  []gateway.ConfirmRequest
	delay     time.Duration
	createFn  func(req gateway.ChargeRequest) (*gateway.Charge, error)
	getFn     func(ref string) (*gateway.Charge, error)
	confirmFn func(req gateway.ConfirmRequest) (*gateway.Charge, error)
}

func (g *fakeGateway) CreateCharge(_ context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	g.mu.Lock()
	g.creates = append(g.creates, req)
	fn := g.createFn
	delay := g.delay
	g.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if fn == nil {
		return succeededCharge("pi_default", req.AmountCents), nil
	}
	return fn(req)
}

func (g *fakeGateway) GetCharge(_ context.Context, ref string) (*gateway.Charge, error) {
	g.mu.Lock()
	g.gets = append(g.gets, ref)
	fn := g.getFn
	g.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("unexpected retrieve of %s", ref)
	}
	return fn(ref)
}

func (g *fakeGateway) ConfirmCharge(_ context.Context, req gateway.ConfirmRequest) (*gateway.Charge, error) {
	g.mu.Lock()
	g.confirms = append(g.confirms, req)
	fn := g.confirmFn
	g.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("unexpected confirm of %s", req.ChargeRef)
	}
	return fn(req)
}

func (g *fakeGateway) counts() (creates, gets, confirms int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.creates), len(g.gets), len(g.confirms)
}

func succeededCharge(ref string, amount int64) *gateway.Charge {
	return &gateway.Charge{Ref: ref, Status: gateway.StatusSucceeded, RawStatus: "succeeded", AmountCents: amount, AmountReceived: amount, Currency: "usd"}
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
	err      error
}

func (n *fakeNotifier) Notify(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return n.err
}

func (n *fakeNotifier) sent() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Message, len(n.messages))
	copy(out, n.messages)
	return out
}

type fixture struct {
	db       *gorm.DB
	gw       *fakeGateway
	notifier *fakeNotifier
	clock    *testClock
	locker   *lock.LocalLocker
	orch     *Orchestrator
	account  *models.BusinessAccount
	method   *models.PaymentMethod
}

func testPolicy() Policy {
	return Policy{
		MaxRetries:          3,
		BaseDelay:           time.Minute,
		MaxDelay:            10 * time.Minute,
		Multiplier:          2,
		Jitter:              0,
		PollInterval:        2 * time.Minute,
		BatchSize:           10,
		StaleAfter:          10 * time.Minute,
		NotificationTimeout: time.Second,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:       openTestDB(t),
		gw:       &fakeGateway{},
		notifier: &fakeNotifier{},
		clock:    newTestClock(),
		locker:   lock.NewLocalLocker(),
	}
	f.orch = f.newOrchestrator(f.locker)
	f.account, f.method = f.seedAccount(t, "Acme Travel", "cus_acme")
	return f
}

func (f *fixture) newOrchestrator(locker lock.Locker) *Orchestrator {
	return NewOrchestrator(Options{
		DB:        f.db,
		Gateway:   f.gw,
		Notifier:  f.notifier,
		Locker:    locker,
		Policy:    testPolicy(),
		Now:       f.clock.Now,
		PortalURL: "https://business.luxeride.test",
	})
}

func (f *fixture) seedAccount(t *testing.T, name, customer string) (*models.BusinessAccount, *models.PaymentMethod) {
	t.Helper()
	account := &models.BusinessAccount{
		Name:                       name,
		BillingEmail:               "billing@example.test",
		Currency:                   "usd",
		IsActive:                   true,
		CustomerRef:                customer,
		BalanceCents:               2000,
		InitialBalanceCents:        2000,
		AutoRechargeEnabled:        true,
		AutoRechargeThresholdCents: 5000,
		AutoRechargeAmountCents:    10000,
	}
	if errCreate := f.db.Create(account).Error; errCreate != nil {
		t.Fatalf("create account: %v", errCreate)
	}
	method := &models.PaymentMethod{
		BusinessAccountID: account.ID,
		GatewayRef:        "pm_" + customer,
		Brand:             "visa",
		Last4:             "4242",
		ExpMonth:          12,
		ExpYear:           2030,
		IsDefault:         true,
		IsActive:          true,
	}
	if errCreate := f.db.Create(method).Error; errCreate != nil {
		t.Fatalf("create payment method: %v", errCreate)
	}
	if errUpdate := f.db.Model(account).Update("default_payment_method_id", method.ID).Error; errUpdate != nil {
		t.Fatalf("set default payment method: %v", errUpdate)
	}
	account.DefaultPaymentMethodID = &method.ID
	return account, method
}

func (f *fixture) newAttempt(t *testing.T, account *models.BusinessAccount, method *models.PaymentMethod, mutate ...func(*models.AutoRechargeAttempt)) *models.AutoRechargeAttempt {
	t.Helper()
	now := f.clock.Now()
	attempt := &models.AutoRechargeAttempt{
		BusinessAccountID:   account.ID,
		TriggerBalanceCents: account.BalanceCents,
		AmountCents:         10000,
		Currency:            "usd",
		PaymentMethodID:     &method.ID,
		TriggerSource:       models.TriggerSourceThreshold,
		IdempotencyKey:      fmt.Sprintf("key-%d-%d", account.ID, time.Now().UnixNano()),
		MaxRetries:          3,
		Status:              models.AttemptStatusPending,
		NextRetryAt:         now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	for _, fn := range mutate {
		fn(attempt)
	}
	if errCreate := f.db.Create(attempt).Error; errCreate != nil {
		t.Fatalf("create attempt: %v", errCreate)
	}
	return attempt
}

func (f *fixture) reload(t *testing.T, id uint64) *models.AutoRechargeAttempt {
	t.Helper()
	attempt, errGet := f.orch.Store().Get(context.Background(), id)
	if errGet != nil {
		t.Fatalf("reload attempt %d: %v", id, errGet)
	}
	return attempt
}

func (f *fixture) balance(t *testing.T, accountID uint64) int64 {
	t.Helper()
	var account models.BusinessAccount
	if errFind := f.db.Select("balance_cents").Where("id = ?", accountID).Take(&account).Error; errFind != nil {
		t.Fatalf("load balance: %v", errFind)
	}
	return account.BalanceCents
}

func (f *fixture) ledgerRows(t *testing.T, accountID uint64) []models.WalletTransaction {
	t.Helper()
	var rows []models.WalletTransaction
	if errFind := f.db.Where("business_account_id = ?", accountID).Order("id ASC").Find(&rows).Error; errFind != nil {
		t.Fatalf("load ledger: %v", errFind)
	}
	return rows
}
