package enrollment

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/credentials"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/notify"
	"github.com/sirdesai22/event-service/internal/repo"
	"gorm.io/gorm"
)

// ---------------- CANCEL ----------------

// CancelByOwner withdraws the actor's own enrollment before the event ends.
// A leader cancels the whole project; a member only detaches from it.
func (e *Engine) CancelByOwner(ctx context.Context, act actor.Context, eventID uuid.UUID) (Result, error) {
	if act.IsSystem() {
		return Result{}, apperr.ErrForbidden
	}
	if err := e.touch(ctx, eventID); err != nil {
		return Result{}, err
	}

	var (
		ev        models.Event
		cancelled []models.Enrollment
		notice    []models.Enrollment
		revoked   []string
	)
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := repo.LockEvent(tx, eventID)
		if err != nil {
			return err
		}
		ev = *locked
		if ev.Ended(e.Clock()) {
			return apperr.ErrEventEnded
		}
		if ev.State != models.EventPublished {
			return apperr.ErrEventNotModifiable
		}
		row, err := repo.FindEnrollment(tx, ev.ID, act.PersonID)
		if err != nil {
			return err
		}
		if row == nil {
			return apperr.NotFound("enrollment")
		}
		if row.State != models.EnrollmentPending && row.State != models.EnrollmentApproved {
			return apperr.Newf(apperr.CodeStateNotAllowed, "cannot cancel a %s enrollment", row.State)
		}

		targets := []models.Enrollment{*row}
		if row.IsLeader() {
			rows, err := repo.ProjectRows(tx, ev.ID, row.Code())
			if err != nil {
				return err
			}
			targets = targets[:0]
			for _, r := range rows {
				if r.State == models.EnrollmentPending || r.State == models.EnrollmentApproved {
					targets = append(targets, r)
				}
			}
			notice = targets[1:]
		}
		for i := range targets {
			t := &targets[i]
			if t.Role == models.RoleAttendee && t.State == models.EnrollmentApproved {
				if err := repo.IncrementCapacity(tx, ev.ID); err != nil {
					return err
				}
			}
			revoked = append(revoked, t.QRHandle)
			t.ClearCredentials()
			t.State = models.EnrollmentCancelled
			if t.Role == models.RoleExponent && !row.IsLeader() {
				t.ProjectLeaderID = nil
				t.ProjectCode = nil
			}
			if err := tx.Save(t).Error; err != nil {
				return err
			}
		}
		cancelled = targets
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	e.dropBlobs(ctx, revoked)
	for _, r := range cancelled {
		transition(r)
	}
	log.Printf("↩️ %d enrollment(s) cancelled by owner in event %s", len(cancelled), ev.ID)

	res := Result{Enrollment: cancelled[0], Members: cancelled[1:]}
	if len(notice) > 0 {
		res.Warnings = e.noticeMembers(ctx, ev, cancelled[0], notice)
	}
	return res, nil
}

// noticeMembers tells a cancelled project's members their leader withdrew.
func (e *Engine) noticeMembers(ctx context.Context, ev models.Event, leader models.Enrollment, members []models.Enrollment) []string {
	people, err := peopleOf(e.DB.WithContext(ctx), append([]models.Enrollment{leader}, members...))
	if err != nil {
		return []string{err.Error()}
	}
	eventID := ev.ID
	msg := notify.Message{
		Kind:    notify.KindCancellation,
		EventID: &eventID,
		Data: notify.Data{
			"Event":  ev.Title,
			"Reason": "El proyecto " + leader.Code() + " fue retirado por su líder " + people[leader.PersonID].FullName() + ".",
		},
	}
	for _, m := range members {
		msg.To = append(msg.To, notify.RecipientFor(people[m.PersonID]))
	}
	return e.Notifier.Enqueue(ctx, msg)
}

// ---------------- DOCUMENTS ----------------

// UpdateDocuments replaces the receipt or document of a Pending enrollment
// owned by the actor. Nil uploads keep the current file.
func (e *Engine) UpdateDocuments(ctx context.Context, act actor.Context, id uuid.UUID, receipt, document *Upload) (models.Enrollment, error) {
	row, err := e.eventOf(ctx, id)
	if err != nil {
		return models.Enrollment{}, err
	}
	if err := act.RequireSelf(row.PersonID); err != nil {
		return models.Enrollment{}, err
	}
	if receipt.empty() && document.empty() {
		return models.Enrollment{}, apperr.ErrMissingDocument
	}
	if !document.empty() && row.Role == models.RoleExponent && !document.pdf() {
		return models.Enrollment{}, apperr.New(apperr.CodeValidation, "exposition document must be a PDF")
	}

	var uploaded, replaced []string
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.LockEvent(tx, row.EventID); err != nil {
			return err
		}
		current, err := repo.GetEnrollment(tx, id)
		if err != nil {
			return err
		}
		if current.State != models.EnrollmentPending {
			return apperr.Newf(apperr.CodeStateNotAllowed, "documents of a %s enrollment are frozen", current.State)
		}
		if !receipt.empty() {
			if current.Role != models.RoleAttendee {
				return apperr.New(apperr.CodeValidation, "only attendees hand in a payment receipt")
			}
			h, err := e.Blobs.Put(ctx, "receipt", receipt.Name, receipt.Data)
			if err != nil {
				return err
			}
			uploaded = append(uploaded, h)
			replaced = append(replaced, current.ReceiptHandle)
			current.ReceiptHandle = h
		}
		if !document.empty() {
			if current.Role == models.RoleAttendee || (current.Role == models.RoleExponent && !current.IsLeader()) {
				return apperr.New(apperr.CodeValidation, "this enrollment carries no document")
			}
			kind := "document"
			if current.Role == models.RoleEvaluator {
				kind = "cv"
			}
			h, err := e.Blobs.Put(ctx, kind, document.Name, document.Data)
			if err != nil {
				return err
			}
			uploaded = append(uploaded, h)
			replaced = append(replaced, current.DocumentHandle)
			current.DocumentHandle = h
		}
		*row = *current
		return tx.Save(current).Error
	})
	if err != nil {
		e.dropBlobs(ctx, uploaded)
		return models.Enrollment{}, err
	}
	e.dropBlobs(ctx, replaced)
	return *row, nil
}

// ---------------- CHECK-IN ----------------

// CheckIn validates an access key at the door. The second scan of the same
// key reports already=true without changing the row.
func (e *Engine) CheckIn(ctx context.Context, act actor.Context, eventID uuid.UUID, key string) (row models.Enrollment, already bool, err error) {
	if !credentials.ValidAccessKey(key) {
		return models.Enrollment{}, false, apperr.New(apperr.CodeValidation, "malformed access key")
	}
	if err := e.touch(ctx, eventID); err != nil {
		return models.Enrollment{}, false, err
	}
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev, err := repo.LockEvent(tx, eventID)
		if err != nil {
			return err
		}
		if err := act.RequireEventAdmin(ev); err != nil {
			return err
		}
		if ev.State != models.EventPublished {
			return apperr.ErrEventNotModifiable
		}
		var rows []models.Enrollment
		if err := tx.Where("event_id = ? AND access_key = ? AND state = ?", eventID, key, models.EnrollmentApproved).
			Limit(1).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return apperr.NotFound("access key")
		}
		row = rows[0]
		if row.CheckedInAt != nil {
			already = true
			return nil
		}
		now := e.Clock()
		row.CheckedInAt = &now
		return tx.Save(&row).Error
	})
	if err != nil {
		return models.Enrollment{}, false, err
	}
	return row, already, nil
}

// ---------------- QUERIES ----------------

// Get returns an enrollment to its owner or the event's administrator.
func (e *Engine) Get(ctx context.Context, act actor.Context, id uuid.UUID) (models.Enrollment, error) {
	row, err := e.eventOf(ctx, id)
	if err != nil {
		return models.Enrollment{}, err
	}
	if act.RequireSelf(row.PersonID) == nil {
		return *row, nil
	}
	ev, err := repo.GetEvent(e.DB.WithContext(ctx), row.EventID)
	if err != nil {
		return models.Enrollment{}, err
	}
	if err := act.RequireEventAdmin(ev); err != nil {
		return models.Enrollment{}, err
	}
	return *row, nil
}

// List returns an event's enrollments filtered by role and state.
func (e *Engine) List(ctx context.Context, act actor.Context, eventID uuid.UUID, role models.Role, state models.EnrollmentState) ([]models.Enrollment, error) {
	if err := e.touch(ctx, eventID); err != nil {
		return nil, err
	}
	db := e.DB.WithContext(ctx)
	ev, err := repo.GetEvent(db, eventID)
	if err != nil {
		return nil, err
	}
	if err := act.RequireEventAdmin(ev); err != nil {
		return nil, err
	}
	return repo.ListEnrollments(db, eventID, role, state)
}

// Mine pairs an enrollment with its event for the owner's dashboard.
type Mine struct {
	Enrollment models.Enrollment
	Event      models.Event
}

// ForPerson lists every enrollment of personID, newest first.
func (e *Engine) ForPerson(ctx context.Context, act actor.Context, personID uuid.UUID) ([]Mine, error) {
	if err := act.RequireSelf(personID); err != nil {
		return nil, err
	}
	db := e.DB.WithContext(ctx)
	var rows []models.Enrollment
	if err := db.Where("person_id = ?", personID).Order("submitted_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.EventID)
	}
	var evs []models.Event
	if len(ids) > 0 {
		if err := db.Where("id IN ?", ids).Find(&evs).Error; err != nil {
			return nil, err
		}
	}
	byID := make(map[uuid.UUID]models.Event, len(evs))
	for _, ev := range evs {
		byID[ev.ID] = ev
	}
	out := make([]Mine, 0, len(rows))
	for _, r := range rows {
		if ev, ok := byID[r.EventID]; ok {
			out = append(out, Mine{Enrollment: r, Event: ev})
		}
	}
	return out, nil
}
