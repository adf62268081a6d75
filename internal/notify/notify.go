// Package notify turns domain events into queued messages. Enqueue only
// writes notification rows; the delivery worker hands them to a Transport.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/metrics"
	"github.com/sirdesai22/event-service/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Kind string

const (
	KindCredentials      Kind = "credentials"
	KindApproval         Kind = "approval"
	KindRejection        Kind = "rejection"
	KindGroupApproval    Kind = "group_approval"
	KindCancellation     Kind = "cancellation"
	KindBulk             Kind = "bulk"
	KindCertificate      Kind = "certificate"
	KindAwardCertificate Kind = "award_certificate"
	KindEventCreated     Kind = "event_created"
	KindAdminInvitation  Kind = "admin_invitation"
	KindAdminCredentials Kind = "admin_credentials"
)

// Kinds lists every kind the template catalogue must define.
var Kinds = []Kind{
	KindCredentials, KindApproval, KindRejection, KindGroupApproval,
	KindCancellation, KindBulk, KindCertificate, KindAwardCertificate,
	KindEventCreated, KindAdminInvitation, KindAdminCredentials,
}

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// Data feeds the templates; absent keys render empty.
type Data map[string]string

type Recipient struct {
	PersonID *uuid.UUID
	Name     string
	Email    string
	Phone    string
}

// RecipientFor builds a recipient from a person.
func RecipientFor(p models.Person) Recipient {
	id := p.ID
	return Recipient{PersonID: &id, Name: p.FullName(), Email: p.Email, Phone: p.Phone}
}

// Attachment references a blob sent along with an email.
type Attachment struct {
	Name   string `json:"name"`
	Handle string `json:"handle"`
}

// Message is one templated notification addressed to a recipient set.
// Data is shared; per-recipient values go in PerRecipient keyed by index.
type Message struct {
	Kind         Kind
	EventID      *uuid.UUID
	To           []Recipient
	Data         Data
	PerRecipient map[int]Data
	Attachments  map[int][]Attachment
}

// Notifier is what the engines depend on.
type Notifier interface {
	Enqueue(ctx context.Context, msg Message) []string
}

type Dispatcher struct {
	DB        *gorm.DB
	Templates *Templates
	// SMS enables the sms channel for kinds that define an sms template.
	SMS       bool
	SMSPrefix string
	Clock     func() time.Time
}

func NewDispatcher(db *gorm.DB, templates *Templates) *Dispatcher {
	return &Dispatcher{DB: db, Templates: templates, Clock: models.UTCNow}
}

// Enqueue writes one notification row per recipient and channel. Failures
// are isolated per recipient and come back as warnings; nothing is rolled
// back on the caller's side.
func (d *Dispatcher) Enqueue(ctx context.Context, msg Message) []string {
	var warnings []string
	now := d.Clock()
	for i, to := range msg.To {
		data := Data{"Name": to.Name}
		for k, v := range msg.Data {
			data[k] = v
		}
		for k, v := range msg.PerRecipient[i] {
			data[k] = v
		}
		rendered, err := d.Templates.Render(msg.Kind, data)
		if err != nil {
			warnings = append(warnings, d.warn(msg.Kind, to, err))
			continue
		}

		if to.Email == "" {
			warnings = append(warnings, d.warn(msg.Kind, to, fmt.Errorf("recipient has no email address")))
		} else {
			n := models.Notification{
				Kind:          string(msg.Kind),
				Channel:       ChannelEmail,
				EventID:       msg.EventID,
				PersonID:      to.PersonID,
				Recipient:     to.Email,
				Status:        models.NotificationPending,
				NextAttemptAt: now,
			}
			if err := d.queue(ctx, &n, rendered, msg.Attachments[i]); err != nil {
				warnings = append(warnings, d.warn(msg.Kind, to, err))
			} else {
				metrics.NotificationsEnqueued.WithLabelValues(string(msg.Kind)).Inc()
			}
		}

		if d.SMS && rendered.SMS != "" && to.Phone != "" {
			n := models.Notification{
				Kind:          string(msg.Kind),
				Channel:       ChannelSMS,
				EventID:       msg.EventID,
				PersonID:      to.PersonID,
				Recipient:     NormalizePhone(to.Phone, d.SMSPrefix),
				Status:        models.NotificationPending,
				NextAttemptAt: now,
			}
			if err := d.queue(ctx, &n, Rendered{Body: rendered.SMS}, nil); err != nil {
				warnings = append(warnings, d.warn(msg.Kind, to, err))
			}
		}
	}
	return warnings
}

// queue encodes the payload and attachments into n and inserts it. A nil
// attachments value leaves the column empty.
func (d *Dispatcher) queue(ctx context.Context, n *models.Notification, payload, attachments any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	n.Payload = datatypes.JSON(body)
	if attachments != nil {
		atts, err := json.Marshal(attachments)
		if err != nil {
			return fmt.Errorf("encode attachments: %w", err)
		}
		n.Attachments = datatypes.JSON(atts)
	}
	return d.DB.WithContext(ctx).Create(n).Error
}

func (d *Dispatcher) warn(kind Kind, to Recipient, err error) string {
	who := to.Email
	if who == "" {
		who = to.Name
	}
	log.Printf("⚠️ notification %s for %s not queued: %v", kind, who, err)
	return fmt.Sprintf("%s notification for %s not queued: %v", kind, who, err)
}

// NormalizePhone prefixes local numbers with the default country code.
func NormalizePhone(phone, prefix string) string {
	phone = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(phone)
	if strings.HasPrefix(phone, "+") || prefix == "" {
		return phone
	}
	return prefix + strings.TrimLeft(phone, "0")
}

// RoleLabel is the wording templates use for an enrollment role.
func RoleLabel(role models.Role) string {
	switch role {
	case models.RoleAttendee:
		return "asistente"
	case models.RoleExponent:
		return "expositor"
	case models.RoleEvaluator:
		return "evaluador"
	case models.RoleEventAdmin:
		return "administrador de evento"
	}
	return string(role)
}
