package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/luxeride/business-wallet/internal/metrics"
	"github.com/luxeride/business-wallet/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Notification types.
const (
	TypeAutoRechargeSucceeded = "auto_recharge_succeeded"
	TypeAutoRechargeFailed    = "auto_recharge_failed"

	CategoryBilling = "billing"
)

// Message is one notification fanned out to the in-app inbox and email.
type Message struct {
	BusinessAccountID uint64
	Type              string
	Category          string
	Title             string
	Body              string
	Link              string
	Data              map[string]any
}

// Notifier delivers messages to account members.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Mailer sends a templated email.
type Mailer interface {
	Send(ctx context.Context, req EmailRequest) error
}

// Dispatcher stores in-app notifications and forwards them to the email service.
type Dispatcher struct {
	db     *gorm.DB
	mailer Mailer
}

// NewDispatcher builds a dispatcher; a nil mailer disables email.
func NewDispatcher(db *gorm.DB, mailer Mailer) *Dispatcher {
	if c, ok := mailer.(*EmailClient); ok && c == nil {
		mailer = nil
	}
	return &Dispatcher{db: db, mailer: mailer}
}

// Notify writes the in-app row, then emails billing contacts. Both channels are attempted
// and their errors joined.
func (d *Dispatcher) Notify(ctx context.Context, msg Message) error {
	if msg.BusinessAccountID == 0 || strings.TrimSpace(msg.Type) == "" {
		return errors.New("notify: missing account or type")
	}
	if msg.Category == "" {
		msg.Category = CategoryBilling
	}

	var errs []error
	if errInApp := d.storeInApp(ctx, msg); errInApp != nil {
		metrics.NotificationFailures.WithLabelValues("in_app").Inc()
		errs = append(errs, errInApp)
	}
	if d.mailer != nil {
		if errEmail := d.sendEmail(ctx, msg); errEmail != nil {
			metrics.NotificationFailures.WithLabelValues("email").Inc()
			errs = append(errs, errEmail)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) storeInApp(ctx context.Context, msg Message) error {
	var data datatypes.JSON
	if len(msg.Data) > 0 {
		raw, errMarshal := json.Marshal(msg.Data)
		if errMarshal != nil {
			return fmt.Errorf("notify: encode data: %w", errMarshal)
		}
		data = raw
	}
	row := models.Notification{
		BusinessAccountID: msg.BusinessAccountID,
		Category:          msg.Category,
		Type:              msg.Type,
		Title:             msg.Title,
		Message:           msg.Body,
		Data:              data,
		Link:              msg.Link,
	}
	if errCreate := d.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return fmt.Errorf("notify: create notification: %w", errCreate)
	}
	return nil
}

func (d *Dispatcher) sendEmail(ctx context.Context, msg Message) error {
	recipients, errRecipients := d.recipients(ctx, msg.BusinessAccountID)
	if errRecipients != nil {
		return errRecipients
	}
	if len(recipients) == 0 {
		log.WithField("business_account_id", msg.BusinessAccountID).Debug("notify: no email recipients")
		return nil
	}
	return d.mailer.Send(ctx, EmailRequest{
		To:       recipients,
		Template: msg.Type,
		Subject:  msg.Title,
		Data:     msg.Data,
	})
}

// recipients returns the billing email plus owners and admins, de-duplicated.
func (d *Dispatcher) recipients(ctx context.Context, accountID uint64) ([]string, error) {
	var account models.BusinessAccount
	if errFind := d.db.WithContext(ctx).
		Select("id", "billing_email").
		Where("id = ?", accountID).
		Take(&account).Error; errFind != nil {
		return nil, fmt.Errorf("notify: load account: %w", errFind)
	}
	var users []models.BusinessUser
	if errFind := d.db.WithContext(ctx).
		Select("email").
		Where("business_account_id = ? AND disabled = ? AND role IN ?", accountID, false, []string{"owner", "admin"}).
		Order("id ASC").
		Find(&users).Error; errFind != nil {
		return nil, fmt.Errorf("notify: load users: %w", errFind)
	}

	seen := make(map[string]struct{}, len(users)+1)
	var out []string
	add := func(email string) {
		email = strings.TrimSpace(email)
		key := strings.ToLower(email)
		if email == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, email)
	}
	add(account.BillingEmail)
	for _, u := range users {
		add(u.Email)
	}
	return out, nil
}

var _ Notifier = (*Dispatcher)(nil)
