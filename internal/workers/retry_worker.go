package workers

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/metrics"
	"github.com/sirdesai22/event-service/internal/models"
	"gorm.io/gorm"
)

// Retrier replays DLQ rows: dead notifications go back to the pending queue,
// failed sync events are reapplied when search is configured.
type Retrier struct {
	DB       *gorm.DB
	Sync     *SyncWorker
	Interval time.Duration
	Clock    func() time.Time
}

func NewRetrier(db *gorm.DB, sync *SyncWorker) *Retrier {
	return &Retrier{DB: db, Sync: sync, Interval: 30 * time.Second, Clock: models.UTCNow}
}

func (r *Retrier) RetryDLQ(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RetryOnce(ctx, 50); err != nil {
				log.Printf("DLQ fetch error: %v", err)
			}
		}
	}
}

// RetryOnce replays up to limit unresolved sync events. Dead notifications
// are only requeued on request, since their failure is usually permanent.
func (r *Retrier) RetryOnce(ctx context.Context, limit int) (int, error) {
	if r.Sync == nil || r.Sync.ES == nil {
		return 0, nil
	}
	var dlqs []models.DLQ
	if err := r.DB.WithContext(ctx).
		Where("resolved = ? AND entity_type <> ?", false, EntityNotification).
		Order("id ASC").Limit(limit).Find(&dlqs).Error; err != nil {
		return 0, err
	}
	resolved := 0
	for _, d := range dlqs {
		log.Printf("♻️ Retrying DLQ id=%d entity=%s op=%s", d.ID, d.EntityType, d.Op)
		if err := r.replay(ctx, d); err != nil {
			log.Printf("DLQ id=%d still failing: %v", d.ID, err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

// Requeue replays one DLQ row now, whatever its entity.
func (r *Retrier) Requeue(ctx context.Context, id int64) error {
	var d models.DLQ
	if err := r.DB.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return apperr.NotFound("dlq entry")
	}
	if d.Resolved {
		return apperr.Newf(apperr.CodeStateNotAllowed, "dlq entry %d is already resolved", id)
	}
	return r.replay(ctx, d)
}

func (r *Retrier) replay(ctx context.Context, d models.DLQ) error {
	now := r.Clock()
	if d.EntityType == EntityNotification {
		n, err := strconv.ParseInt(d.EntityID, 10, 64)
		if err != nil {
			return fmt.Errorf("dlq %d: bad notification id %q", d.ID, d.EntityID)
		}
		err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.Notification{}).Where("id = ? AND status = ?", n, models.NotificationDead).
				Updates(map[string]any{"status": models.NotificationPending, "attempts": 0, "next_attempt_at": now})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return apperr.NotFound("dead notification")
			}
			return markResolved(tx, d.ID, now)
		})
		if err == nil {
			log.Printf("✅ DLQ id=%d requeued notification %d", d.ID, n)
		}
		return err
	}

	if r.Sync == nil || r.Sync.ES == nil {
		return apperr.New(apperr.CodeTransportFailure, "search sync is not configured")
	}
	entityID, err := uuid.Parse(d.EntityID)
	if err != nil {
		return fmt.Errorf("dlq %d: bad entity id %q", d.ID, d.EntityID)
	}
	ob := models.Outbox{ID: d.OutboxID, EntityType: d.EntityType, EntityID: entityID, Op: d.Op, Payload: d.Payload}
	if err := r.Sync.Apply(ctx, ob); err != nil {
		return apperr.Wrap(apperr.CodeTransportFailure, "search sync failed", err)
	}
	if err := markResolved(r.DB.WithContext(ctx), d.ID, now); err != nil {
		return err
	}
	metrics.ProcessedEvents.Inc()
	log.Printf("✅ DLQ id=%d resolved", d.ID)
	return nil
}

func markResolved(db *gorm.DB, id int64, now time.Time) error {
	return db.Model(&models.DLQ{}).Where("id = ?", id).Updates(map[string]any{
		"resolved":   true,
		"retried_at": &now,
	}).Error
}
