// Package lifecycle owns the clock-driven parts of an event's life: the
// soft-cancel grace window, hard purge, finalization and archival.
// Windows are evaluated lazily by Touch; Sweep only makes it prompt.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/blob"
	"github.com/sirdesai22/event-service/internal/locks"
	"github.com/sirdesai22/event-service/internal/metrics"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/notify"
	"github.com/sirdesai22/event-service/internal/repo"
	"gorm.io/gorm"
)

const (
	CancelWindow  = 5 * time.Hour
	ArchiveWindow = 90 * 24 * time.Hour

	// ConfirmationPhrase must be typed verbatim to archive an event.
	ConfirmationPhrase = "CERRAR EVENTO DE FORMA PERMANENTE"

	ReasonReactivated = "reactivated for audit review"

	lockTTL = time.Minute
)

type Controller struct {
	DB       *gorm.DB
	Blobs    blob.Store
	Notifier notify.Notifier
	Locks    locks.Locker
	Clock    func() time.Time
}

func New(db *gorm.DB, blobs blob.Store, n notify.Notifier, l locks.Locker) *Controller {
	return &Controller{DB: db, Blobs: blobs, Notifier: n, Locks: l, Clock: models.UTCNow}
}

// Touch applies any transition the clock has made due: an expired soft
// cancel is purged (the event then reports NotFound) and a published event
// past its end date becomes Finalized.
func (c *Controller) Touch(ctx context.Context, eventID uuid.UUID) error {
	ev, err := repo.GetEvent(c.DB.WithContext(ctx), eventID)
	if err != nil {
		return err
	}
	now := c.Clock()
	switch {
	case ev.State == models.EventCancelled && windowElapsed(ev, now):
		if err := c.Purge(ctx, eventID); err != nil && !errors.Is(err, locks.ErrHeld) {
			return err
		}
		return apperr.NotFound("event")
	case ev.State == models.EventPublished && ev.Ended(now):
		_, err := c.finalize(ctx, eventID)
		return err
	}
	return nil
}

func windowElapsed(ev *models.Event, now time.Time) bool {
	return ev.CancellationInitiatedAt != nil && now.Sub(*ev.CancellationInitiatedAt) >= CancelWindow
}

// ---------------- SOFT CANCEL ----------------

// SoftCancel moves a Published event to Cancelled, stamps the start of the
// grace window and notifies every enrollee.
func (c *Controller) SoftCancel(ctx context.Context, act actor.Context, eventID uuid.UUID) (models.Event, []string, error) {
	if err := c.Touch(ctx, eventID); err != nil {
		return models.Event{}, nil, err
	}
	var (
		out        models.Event
		recipients []notify.Recipient
	)
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev, err := repo.LockEvent(tx, eventID)
		if err != nil {
			return err
		}
		if err := act.RequireEventAdmin(ev); err != nil {
			return err
		}
		if ev.State != models.EventPublished {
			return apperr.Newf(apperr.CodeStateNotAllowed, "only published events can be cancelled, event is %s", ev.State)
		}
		now := c.Clock()
		ev.State = models.EventCancelled
		ev.CancellationInitiatedAt = &now
		if err := tx.Save(ev).Error; err != nil {
			return err
		}
		if err := repo.AppendAudit(tx, models.AuditRecord{
			EventID: ev.ID, ActorID: &act.PersonID, OldState: models.EventPublished, NewState: models.EventCancelled,
			Reason: "cancellation initiated", At: now,
		}); err != nil {
			return err
		}
		if err := repo.SyncEvent(tx, ev); err != nil {
			return err
		}
		if recipients, err = enrollees(tx, ev.ID); err != nil {
			return err
		}
		out = *ev
		return nil
	})
	if err != nil {
		return models.Event{}, nil, err
	}
	deadline := out.CancellationInitiatedAt.Add(CancelWindow)
	warnings := c.Notifier.Enqueue(ctx, notify.Message{
		Kind:    notify.KindCancellation,
		EventID: &out.ID,
		To:      recipients,
		Data: notify.Data{
			"Event":  out.Title,
			"Reason": fmt.Sprintf("El evento \"%s\" fue cancelado. La cancelación será definitiva el %s.", out.Title, deadline.Format("2006-01-02 15:04 MST")),
		},
	})
	log.Printf("🛑 event %s soft-cancelled, purge due %s", out.ID, deadline.Format(time.RFC3339))
	return out, warnings, nil
}

// Revert undoes a soft cancel while the grace window is open.
func (c *Controller) Revert(ctx context.Context, act actor.Context, eventID uuid.UUID) (models.Event, []string, error) {
	if err := c.Touch(ctx, eventID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return models.Event{}, nil, apperr.Wrap(apperr.CodeWindowElapsed, "cancellation window elapsed; event purged", err)
		}
		return models.Event{}, nil, err
	}
	var (
		out        models.Event
		recipients []notify.Recipient
	)
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev, err := repo.LockEvent(tx, eventID)
		if err != nil {
			return err
		}
		if err := act.RequireEventAdmin(ev); err != nil {
			return err
		}
		if ev.State != models.EventCancelled || ev.CancellationInitiatedAt == nil {
			return apperr.Newf(apperr.CodeStateNotAllowed, "event is %s, not cancelled", ev.State)
		}
		now := c.Clock()
		if windowElapsed(ev, now) {
			return apperr.ErrWindowElapsed
		}
		ev.State = models.EventPublished
		ev.CancellationInitiatedAt = nil
		if err := tx.Save(ev).Error; err != nil {
			return err
		}
		if err := repo.AppendAudit(tx, models.AuditRecord{
			EventID: ev.ID, ActorID: &act.PersonID, OldState: models.EventCancelled, NewState: models.EventPublished,
			Reason: "cancellation reverted", At: now,
		}); err != nil {
			return err
		}
		if err := repo.SyncEvent(tx, ev); err != nil {
			return err
		}
		if recipients, err = enrollees(tx, ev.ID); err != nil {
			return err
		}
		out = *ev
		return nil
	})
	if err != nil {
		return models.Event{}, nil, err
	}
	warnings := c.Notifier.Enqueue(ctx, notify.Message{
		Kind:    notify.KindCancellation,
		EventID: &out.ID,
		To:      recipients,
		Data: notify.Data{
			"Event":  out.Title,
			"Reason": fmt.Sprintf("La cancelación del evento \"%s\" fue revertida; el evento sigue en pie.", out.Title),
		},
	})
	return out, warnings, nil
}

// ---------------- HARD PURGE ----------------

// Purge deletes a cancelled event whose window has elapsed together with
// its enrollments, scores, criteria, memories, categories and audit trail. It is all or
// nothing; on failure the event stays Cancelled with its timestamp so a
// later Touch or Sweep retries.
func (c *Controller) Purge(ctx context.Context, eventID uuid.UUID) error {
	release, err := c.Locks.TryLock(ctx, "event:"+eventID.String(), lockTTL)
	if err != nil {
		return err
	}
	defer release()

	var handles []string
	err = c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev, err := repo.LockEvent(tx, eventID)
		if err != nil {
			return err
		}
		if ev.State != models.EventCancelled || !windowElapsed(ev, c.Clock()) {
			return apperr.Newf(apperr.CodeStateNotAllowed, "event %s is not due for purge", eventID)
		}
		if handles, err = blobHandles(tx, ev); err != nil {
			return err
		}
		for _, m := range []any{
			&models.Score{}, &models.Criterion{}, &models.Enrollment{},
			&models.Memory{}, &models.EventCategory{}, &models.AuditRecord{},
		} {
			if err := tx.Where("event_id = ?", eventID).Delete(m).Error; err != nil {
				return err
			}
		}
		if err := tx.Delete(&models.Event{}, "id = ?", eventID).Error; err != nil {
			return err
		}
		return repo.AddOutboxEvent(tx, repo.EntityEvent, eventID, repo.OpDelete, nil)
	})
	if err != nil {
		return err
	}
	c.dropBlobs(ctx, handles)
	metrics.EventsPurged.Inc()
	log.Printf("🧹 event %s purged after cancellation window", eventID)
	return nil
}

func blobHandles(tx *gorm.DB, ev *models.Event) ([]string, error) {
	var handles []string
	for _, h := range []string{ev.CoverHandle, ev.AgendaHandle, ev.TechInfoHandle} {
		if h != "" {
			handles = append(handles, h)
		}
	}
	var rows []models.Enrollment
	if err := tx.Select("receipt_handle", "document_handle", "qr_handle").
		Where("event_id = ?", ev.ID).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		for _, h := range []string{r.ReceiptHandle, r.DocumentHandle, r.QRHandle} {
			if h != "" {
				handles = append(handles, h)
			}
		}
	}
	var mems []models.Memory
	if err := tx.Where("event_id = ?", ev.ID).Find(&mems).Error; err != nil {
		return nil, err
	}
	for _, m := range mems {
		handles = append(handles, m.BlobHandle)
	}
	return handles, nil
}

// dropBlobs runs after commit; a leftover blob is harmless.
func (c *Controller) dropBlobs(ctx context.Context, handles []string) {
	for _, h := range handles {
		if err := c.Blobs.Delete(ctx, h); err != nil {
			log.Printf("⚠️ blob %s not deleted: %v", h, err)
		}
	}
}

// ---------------- FINALIZATION & ARCHIVAL ----------------

// finalize reports whether this call made the transition.
func (c *Controller) finalize(ctx context.Context, eventID uuid.UUID) (bool, error) {
	finalized := false
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev, err := repo.LockEvent(tx, eventID)
		if err != nil {
			return err
		}
		now := c.Clock()
		if ev.State != models.EventPublished || !ev.Ended(now) {
			return nil
		}
		ev.State = models.EventFinalized
		ev.FinalizedAt = &now
		if err := tx.Save(ev).Error; err != nil {
			return err
		}
		if err := repo.AppendAudit(tx, models.AuditRecord{
			EventID: ev.ID, OldState: models.EventPublished, NewState: models.EventFinalized,
			Reason: "end date reached", At: now,
		}); err != nil {
			return err
		}
		if err := repo.SyncEvent(tx, ev); err != nil {
			return err
		}
		finalized = true
		return nil
	})
	if finalized {
		metrics.EventsFinalized.Inc()
		log.Printf("🏁 event %s finalized", eventID)
	}
	return finalized, err
}

// Archive closes a Finalized event at least 90 days after its end date.
// Memories are purged; the audit trail remains.
func (c *Controller) Archive(ctx context.Context, act actor.Context, eventID uuid.UUID, confirmation string) (models.Event, error) {
	if confirmation != ConfirmationPhrase {
		return models.Event{}, apperr.Newf(apperr.CodeConfirmationMismatch, "type %q to confirm", ConfirmationPhrase)
	}
	if err := c.Touch(ctx, eventID); err != nil {
		return models.Event{}, err
	}
	var (
		out     models.Event
		handles []string
	)
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev, err := repo.LockEvent(tx, eventID)
		if err != nil {
			return err
		}
		if err := act.RequireEventAdmin(ev); err != nil {
			return err
		}
		if ev.State != models.EventFinalized {
			return apperr.Newf(apperr.CodeStateNotAllowed, "only finalized events can be archived, event is %s", ev.State)
		}
		now := c.Clock()
		if now.Sub(models.Day(ev.EndDate)) < ArchiveWindow {
			return apperr.Newf(apperr.CodeStateNotAllowed, "event can be archived from %s",
				models.Day(ev.EndDate).Add(ArchiveWindow).Format(models.DateLayout))
		}
		var mems []models.Memory
		if err := tx.Where("event_id = ?", ev.ID).Find(&mems).Error; err != nil {
			return err
		}
		for _, m := range mems {
			handles = append(handles, m.BlobHandle)
		}
		if err := tx.Where("event_id = ?", ev.ID).Delete(&models.Memory{}).Error; err != nil {
			return err
		}
		ev.State = models.EventArchived
		ev.ArchivedAt = &now
		if err := tx.Save(ev).Error; err != nil {
			return err
		}
		if err := repo.AppendAudit(tx, models.AuditRecord{
			EventID: ev.ID, ActorID: &act.PersonID, OldState: models.EventFinalized, NewState: models.EventArchived,
			Reason: "archived by administrator", At: now,
		}); err != nil {
			return err
		}
		if err := repo.SyncEvent(tx, ev); err != nil {
			return err
		}
		out = *ev
		return nil
	})
	if err != nil {
		return models.Event{}, err
	}
	c.dropBlobs(ctx, handles)
	metrics.EventsArchived.Inc()
	log.Printf("🗄️ event %s archived", out.ID)
	return out, nil
}

// Reactivate returns an Archived event to Finalized for audit review.
// Purged memories are not restored.
func (c *Controller) Reactivate(ctx context.Context, act actor.Context, eventID uuid.UUID) (models.Event, error) {
	var out models.Event
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev, err := repo.LockEvent(tx, eventID)
		if err != nil {
			return err
		}
		if err := act.RequireEventAdmin(ev); err != nil {
			return err
		}
		if ev.State != models.EventArchived {
			return apperr.Newf(apperr.CodeStateNotAllowed, "only archived events can be reactivated, event is %s", ev.State)
		}
		now := c.Clock()
		ev.State = models.EventFinalized
		ev.ArchivedAt = nil
		if err := tx.Save(ev).Error; err != nil {
			return err
		}
		if err := repo.AppendAudit(tx, models.AuditRecord{
			EventID: ev.ID, ActorID: &act.PersonID, OldState: models.EventArchived, NewState: models.EventFinalized,
			Reason: ReasonReactivated, At: now,
		}); err != nil {
			return err
		}
		if err := repo.SyncEvent(tx, ev); err != nil {
			return err
		}
		out = *ev
		return nil
	})
	return out, err
}

// AuditTrail lists an event's audit records, oldest first.
func (c *Controller) AuditTrail(ctx context.Context, act actor.Context, eventID uuid.UUID) ([]models.AuditRecord, error) {
	db := c.DB.WithContext(ctx)
	ev, err := repo.GetEvent(db, eventID)
	if err != nil {
		return nil, err
	}
	if err := act.RequireEventAdmin(ev); err != nil {
		return nil, err
	}
	var out []models.AuditRecord
	return out, db.Where("event_id = ?", eventID).Order("at ASC").Order("created_at ASC").Find(&out).Error
}

// ---------------- SWEEP ----------------

// SweepResult counts what one sweep did.
type SweepResult struct {
	Purged    int
	Finalized int
	Failed    int
}

// Sweep applies due transitions to every event in one pass.
func (c *Controller) Sweep(ctx context.Context) (SweepResult, error) {
	now := c.Clock()
	var res SweepResult

	var cancelled []models.Event
	if err := c.DB.WithContext(ctx).
		Where("state = ? AND cancellation_initiated_at <= ?", models.EventCancelled, now.Add(-CancelWindow)).
		Find(&cancelled).Error; err != nil {
		return res, err
	}
	for _, ev := range cancelled {
		if err := c.Purge(ctx, ev.ID); err != nil {
			if !errors.Is(err, locks.ErrHeld) {
				res.Failed++
				log.Printf("❌ purge %s: %v", ev.ID, err)
			}
			continue
		}
		res.Purged++
	}

	var published []models.Event
	if err := c.DB.WithContext(ctx).
		Where("state = ? AND end_date < ?", models.EventPublished, models.Day(now)).
		Find(&published).Error; err != nil {
		return res, err
	}
	for _, ev := range published {
		if !ev.Ended(now) {
			continue
		}
		done, err := c.finalize(ctx, ev.ID)
		if err != nil {
			res.Failed++
			log.Printf("❌ finalize %s: %v", ev.ID, err)
			continue
		}
		if done {
			res.Finalized++
		}
	}
	return res, nil
}

// enrollees lists every person holding a live enrollment in the event.
func enrollees(tx *gorm.DB, eventID uuid.UUID) ([]notify.Recipient, error) {
	var rows []models.Enrollment
	if err := tx.Where("event_id = ? AND state IN ?", eventID,
		[]models.EnrollmentState{models.EnrollmentPending, models.EnrollmentApproved}).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.PersonID)
	}
	people, err := repo.PeopleByID(tx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]notify.Recipient, 0, len(ids))
	for _, id := range ids {
		if p, ok := people[id]; ok {
			out = append(out, notify.RecipientFor(p))
		}
	}
	return out, nil
}
