package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/luxeride/business-wallet/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:notify_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := conn.AutoMigrate(&models.BusinessAccount{}, &models.BusinessUser{}, &models.Notification{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

type emailSink struct {
	mu       sync.Mutex
	requests []EmailRequest
	auth     []string
	status   int
}

func (s *emailSink) handler(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	status := s.status
	s.mu.Unlock()
	if status == 0 {
		status = http.StatusAccepted
	}
	w.WriteHeader(status)
}

func seedAccount(t *testing.T, conn *gorm.DB) *models.BusinessAccount {
	t.Helper()
	account := &models.BusinessAccount{Name: "Acme", BillingEmail: "billing@acme.test", Currency: "usd", IsActive: true}
	if errCreate := conn.Create(account).Error; errCreate != nil {
		t.Fatalf("create account: %v", errCreate)
	}
	users := []models.BusinessUser{
		{BusinessAccountID: account.ID, Email: "owner@acme.test", Role: "owner"},
		{BusinessAccountID: account.ID, Email: "Billing@acme.test", Role: "admin"},
		{BusinessAccountID: account.ID, Email: "member@acme.test", Role: "member"},
		{BusinessAccountID: account.ID, Email: "gone@acme.test", Role: "owner", Disabled: true},
	}
	if errCreate := conn.Create(&users).Error; errCreate != nil {
		t.Fatalf("create users: %v", errCreate)
	}
	return account
}

func TestDispatcherStoresInAppAndEmailsBillingContacts(t *testing.T) {
	conn := openTestDB(t)
	account := seedAccount(t, conn)
	sink := &emailSink{}
	srv := httptest.NewServer(http.HandlerFunc(sink.handler))
	defer srv.Close()

	d := NewDispatcher(conn, NewEmailClient(srv.URL, "k", "noreply@luxeride.test", time.Second))
	errNotify := d.Notify(context.Background(), Message{
		BusinessAccountID: account.ID,
		Type:              TypeAutoRechargeSucceeded,
		Title:             "Wallet recharged",
		Body:              "100.00 USD added",
		Data:              map[string]any{"amount": "100.00"},
	})
	if errNotify != nil {
		t.Fatalf("notify: %v", errNotify)
	}

	var rows []models.Notification
	if errFind := conn.Find(&rows).Error; errFind != nil {
		t.Fatalf("find: %v", errFind)
	}
	if len(rows) != 1 || rows[0].Category != CategoryBilling || rows[0].Type != TypeAutoRechargeSucceeded {
		t.Fatalf("unexpected notifications %+v", rows)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.requests) != 1 {
		t.Fatalf("email requests = %d", len(sink.requests))
	}
	req := sink.requests[0]
	if req.Template != TypeAutoRechargeSucceeded || req.From != "noreply@luxeride.test" {
		t.Fatalf("unexpected email %+v", req)
	}
	if len(req.To) != 2 || req.To[0] != "billing@acme.test" || req.To[1] != "owner@acme.test" {
		t.Fatalf("recipients = %v", req.To)
	}
	if sink.auth[0] != "Bearer k" {
		t.Fatalf("authorization = %q", sink.auth[0])
	}
}

func TestDispatcherEmailFailureKeepsInAppRow(t *testing.T) {
	conn := openTestDB(t)
	account := seedAccount(t, conn)
	sink := &emailSink{status: http.StatusBadGateway}
	srv := httptest.NewServer(http.HandlerFunc(sink.handler))
	defer srv.Close()

	d := NewDispatcher(conn, NewEmailClient(srv.URL, "", "", time.Second))
	errNotify := d.Notify(context.Background(), Message{BusinessAccountID: account.ID, Type: TypeAutoRechargeFailed, Title: "t", Body: "b"})
	if errNotify == nil {
		t.Fatalf("expected email error")
	}
	var count int64
	conn.Model(&models.Notification{}).Count(&count)
	if count != 1 {
		t.Fatalf("notifications = %d, want 1", count)
	}
}

func TestNewEmailClientDisabledWithoutEndpoint(t *testing.T) {
	if c := NewEmailClient(" ", "k", "f", 0); c != nil {
		t.Fatalf("expected nil client")
	}
}

func TestDispatcherWithoutMailerOnlyStoresInApp(t *testing.T) {
	conn := openTestDB(t)
	account := seedAccount(t, conn)
	d := NewDispatcher(conn, NewEmailClient("", "", "", 0))
	if errNotify := d.Notify(context.Background(), Message{BusinessAccountID: account.ID, Type: TypeAutoRechargeFailed, Title: "t", Body: "b"}); errNotify != nil {
		t.Fatalf("notify: %v", errNotify)
	}
}
