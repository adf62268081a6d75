// Package workers runs the background loops: notification delivery, search
// sync, DLQ retries and the lifecycle sweeper.
package workers

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/sirdesai22/event-service/internal/metrics"
	"github.com/sirdesai22/event-service/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const EntityNotification = "notification"

type OutboxBatch struct{ Events []models.Outbox }

// skipLocked lets several workers claim disjoint rows on postgres. Sqlite
// ignores the clause and serialises writers instead.
var skipLocked = clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}

// FetchOutboxBatch claims up to limit unprocessed outbox events, oldest first.
func FetchOutboxBatch(ctx context.Context, db *gorm.DB, limit int) (OutboxBatch, error) {
	var evts []models.Outbox
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(skipLocked).
			Where("processed = ?", false).
			Order("id ASC").Limit(limit).
			Find(&evts).Error; err != nil {
			return err
		}
		if len(evts) == 0 {
			return nil
		}
		return tx.Model(&models.Outbox{}).Where("id IN ?", outboxIDs(evts)).Update("processed", true).Error
	})
	return OutboxBatch{Events: evts}, err
}

// FetchDueNotifications claims pending notifications whose next attempt is
// due and marks them as sending.
func FetchDueNotifications(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]models.Notification, error) {
	var rows []models.Notification
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(skipLocked).
			Where("status = ? AND next_attempt_at <= ?", models.NotificationPending, now).
			Order("next_attempt_at ASC").Order("id ASC").Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]int64, 0, len(rows))
		for _, n := range rows {
			ids = append(ids, n.ID)
		}
		return tx.Model(&models.Notification{}).Where("id IN ?", ids).
			Updates(map[string]any{"status": models.NotificationSending, "updated_at": now}).Error
	})
	return rows, err
}

// ResetStale returns notifications stuck in sending since before cutoff to
// the pending queue. A worker that died mid-batch leaves them there.
func ResetStale(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Model(&models.Notification{}).
		Where("status = ? AND updated_at < ?", models.NotificationSending, cutoff).
		Updates(map[string]any{"status": models.NotificationPending, "next_attempt_at": cutoff})
	return res.RowsAffected, res.Error
}

func outboxIDs(evts []models.Outbox) []int64 {
	ids := make([]int64, 0, len(evts))
	for _, e := range evts {
		ids = append(ids, e.ID)
	}
	return ids
}

// PutDLQ inserts a failed outbox event into the DLQ table.
func PutDLQ(db *gorm.DB, ob models.Outbox, msg string) {
	metrics.DLQEvents.Inc()
	dlq := models.DLQ{
		OutboxID:   ob.ID,
		EntityType: ob.EntityType,
		EntityID:   ob.EntityID.String(),
		Op:         ob.Op,
		ErrorMsg:   msg,
		Payload:    ob.Payload,
		CreatedAt:  models.UTCNow(),
	}
	if err := db.Create(&dlq).Error; err != nil {
		log.Printf("❌ Failed to insert into DLQ: %v", err)
	} else {
		log.Printf("💀 DLQ record created for outbox_id=%d", ob.ID)
	}
}

// putNotificationDLQ parks a notification that exhausted its attempts.
func putNotificationDLQ(db *gorm.DB, n models.Notification, msg string) {
	metrics.DLQEvents.Inc()
	payload, _ := json.Marshal(n)
	dlq := models.DLQ{
		OutboxID:   n.ID,
		EntityType: EntityNotification,
		EntityID:   strconv.FormatInt(n.ID, 10),
		Op:         n.Kind,
		ErrorMsg:   msg,
		Payload:    payload,
		CreatedAt:  models.UTCNow(),
	}
	if err := db.Create(&dlq).Error; err != nil {
		log.Printf("❌ Failed to insert into DLQ: %v", err)
	} else {
		log.Printf("💀 DLQ record created for notification_id=%d", n.ID)
	}
}
