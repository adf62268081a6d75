package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sirdesai22/event-service/internal/blob"
	"github.com/sirdesai22/event-service/internal/metrics"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/notify"
	"gorm.io/gorm"
)

// staleAfter is how long a claimed notification may stay in sending.
const staleAfter = 10 * time.Minute

// errPermanent marks failures that retrying cannot fix.
var errPermanent = errors.New("permanent delivery failure")

// DeliveryWorker drains the notification table through a transport.
type DeliveryWorker struct {
	DB          *gorm.DB
	Transport   notify.Transport
	Blobs       blob.Store
	Interval    time.Duration
	Batch       int
	MaxAttempts int
	Clock       func() time.Time
}

func NewDeliveryWorker(db *gorm.DB, t notify.Transport, blobs blob.Store) *DeliveryWorker {
	return &DeliveryWorker{
		DB: db, Transport: t, Blobs: blobs,
		Interval: time.Second, Batch: 100, MaxAttempts: 5,
		Clock: models.UTCNow,
	}
}

// Backoff is the wait before attempt n+1 after n failures: 30s doubling,
// capped at one hour.
func Backoff(n int) time.Duration {
	d := 30 * time.Second
	for i := 1; i < n && d < time.Hour; i++ {
		d *= 2
	}
	if d > time.Hour {
		d = time.Hour
	}
	return d
}

func (w *DeliveryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := ResetStale(ctx, w.DB, w.Clock().Add(-staleAfter)); err != nil {
				log.Printf("delivery reset error: %v", err)
			} else if n > 0 {
				log.Printf("♻️ %d stale notifications requeued", n)
			}
			if _, err := w.ProcessOnce(ctx); err != nil {
				log.Printf("delivery error: %v", err)
			}
		}
	}
}

// DeliveryStats counts one pass.
type DeliveryStats struct {
	Sent    int
	Retried int
	Dead    int
}

// ProcessOnce sends one batch of due notifications.
func (w *DeliveryWorker) ProcessOnce(ctx context.Context) (DeliveryStats, error) {
	var stats DeliveryStats
	rows, err := FetchDueNotifications(ctx, w.DB, w.Clock(), w.Batch)
	if err != nil || len(rows) == 0 {
		return stats, err
	}
	for _, n := range rows {
		err := w.deliver(ctx, n)
		now := w.Clock()
		if err == nil {
			metrics.NotificationsSent.WithLabelValues(n.Channel).Inc()
			w.DB.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", n.ID).Updates(map[string]any{
				"status": models.NotificationSent, "attempts": n.Attempts + 1, "sent_at": &now, "last_error": "",
			})
			stats.Sent++
			continue
		}

		metrics.NotificationsFailed.WithLabelValues(n.Channel).Inc()
		n.Attempts++
		n.LastError = err.Error()
		if errors.Is(err, errPermanent) || n.Attempts >= w.MaxAttempts {
			n.Status = models.NotificationDead
			w.DB.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", n.ID).Updates(map[string]any{
				"status": n.Status, "attempts": n.Attempts, "last_error": n.LastError,
			})
			putNotificationDLQ(w.DB.WithContext(ctx), n, n.LastError)
			stats.Dead++
			continue
		}
		w.DB.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", n.ID).Updates(map[string]any{
			"status": models.NotificationPending, "attempts": n.Attempts, "last_error": n.LastError,
			"next_attempt_at": now.Add(Backoff(n.Attempts)),
		})
		log.Printf("⚠️ notification %d attempt %d failed: %v", n.ID, n.Attempts, err)
		stats.Retried++
	}
	log.Printf("📨 delivery sent=%d retried=%d dead=%d", stats.Sent, stats.Retried, stats.Dead)
	return stats, nil
}

func (w *DeliveryWorker) deliver(ctx context.Context, n models.Notification) error {
	env, err := w.envelope(ctx, n)
	if err != nil {
		return err
	}
	return w.Transport.Send(ctx, env)
}

func (w *DeliveryWorker) envelope(ctx context.Context, n models.Notification) (notify.Envelope, error) {
	var body notify.Rendered
	if err := json.Unmarshal(n.Payload, &body); err != nil {
		return notify.Envelope{}, fmt.Errorf("%w: payload: %v", errPermanent, err)
	}
	env := notify.Envelope{
		ID: n.ID, Kind: notify.Kind(n.Kind), Channel: n.Channel, To: n.Recipient,
		Subject: body.Subject, Body: body.Body,
	}
	if len(n.Attachments) == 0 {
		return env, nil
	}
	var atts []notify.Attachment
	if err := json.Unmarshal(n.Attachments, &atts); err != nil {
		return notify.Envelope{}, fmt.Errorf("%w: attachments: %v", errPermanent, err)
	}
	for _, a := range atts {
		data, err := w.Blobs.Get(ctx, a.Handle)
		if errors.Is(err, blob.ErrNotFound) {
			return notify.Envelope{}, fmt.Errorf("%w: attachment %s is gone", errPermanent, a.Handle)
		}
		if err != nil {
			return notify.Envelope{}, err
		}
		env.Attachments = append(env.Attachments, notify.File{Name: a.Name, Data: data})
	}
	return env, nil
}
