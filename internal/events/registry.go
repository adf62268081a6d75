// Package events is the registry of event descriptors and their catalogue.
package events

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/notify"
	"github.com/sirdesai22/event-service/internal/repo"
	"gorm.io/gorm"
)

// Toucher brings an event up to date with the clock before it is used.
type Toucher interface {
	Touch(ctx context.Context, eventID uuid.UUID) error
}

type Registry struct {
	DB       *gorm.DB
	Notifier notify.Notifier
	// SuperadminEmail receives the new-event notice.
	SuperadminEmail string
	Lifecycle       Toucher
	Clock           func() time.Time
}

func NewRegistry(db *gorm.DB, n notify.Notifier) *Registry {
	return &Registry{DB: db, Notifier: n, Clock: models.UTCNow}
}

// Descriptor is the creation input of an event.
type Descriptor struct {
	Title          string
	Description    string
	City           string
	Venue          string
	StartDate      time.Time
	EndDate        time.Time
	Capacity       int
	HasCost        bool
	CoverHandle    string
	AgendaHandle   string
	TechInfoHandle string
	CategoryIDs    []uuid.UUID
}

func (d Descriptor) validate() error {
	var v apperr.Validation
	v.Check(strings.TrimSpace(d.Title) != "", "nombre", "title is required")
	v.Check(strings.TrimSpace(d.City) != "", "ciudad", "city is required")
	v.Check(!d.StartDate.IsZero(), "fecha_inicio", "start date is required")
	v.Check(!d.EndDate.IsZero(), "fecha_fin", "end date is required")
	v.Check(!models.Day(d.EndDate).Before(models.Day(d.StartDate)), "fecha_fin", "end date must not precede start date")
	v.Check(d.Capacity >= 0, "capacidad", "capacity must not be negative")
	return v.Err()
}

// Create registers a Draft event owned by the acting administrator.
func (r *Registry) Create(ctx context.Context, act actor.Context, d Descriptor) (models.Event, []string, error) {
	if err := act.Require(models.RoleEventAdmin, models.RoleSuperAdmin); err != nil {
		return models.Event{}, nil, err
	}
	if err := d.validate(); err != nil {
		return models.Event{}, nil, err
	}
	ev := models.Event{
		Title:          strings.TrimSpace(d.Title),
		Description:    d.Description,
		City:           strings.TrimSpace(d.City),
		Venue:          d.Venue,
		StartDate:      models.Day(d.StartDate),
		EndDate:        models.Day(d.EndDate),
		State:          models.EventDraft,
		AdminID:        act.PersonID,
		Capacity:       d.Capacity,
		TotalCapacity:  d.Capacity,
		HasCost:        d.HasCost,
		CoverHandle:    d.CoverHandle,
		AgendaHandle:   d.AgendaHandle,
		TechInfoHandle: d.TechInfoHandle,
	}
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&ev).Error; err != nil {
			return err
		}
		return setCategories(tx, ev.ID, d.CategoryIDs)
	})
	if err != nil {
		return models.Event{}, nil, err
	}
	log.Printf("📅 event %s created by %s", ev.ID, act.PersonID)
	return ev, r.noticeSuperadmin(ctx, ev), nil
}

func (r *Registry) noticeSuperadmin(ctx context.Context, ev models.Event) []string {
	if r.SuperadminEmail == "" {
		return nil
	}
	admin, err := repo.GetPerson(r.DB.WithContext(ctx), ev.AdminID)
	name := ""
	if err == nil {
		name = admin.FullName()
	}
	return r.Notifier.Enqueue(ctx, notify.Message{
		Kind:    notify.KindEventCreated,
		EventID: &ev.ID,
		To:      []notify.Recipient{{Name: "superadmin", Email: r.SuperadminEmail}},
		Data: notify.Data{
			"Event": ev.Title, "Admin": name, "City": ev.City,
			"Start": ev.StartDate.Format(models.DateLayout), "End": ev.EndDate.Format(models.DateLayout),
		},
	})
}

// Patch carries optional updates; nil fields are left untouched.
type Patch struct {
	Title          *string
	Description    *string
	City           *string
	Venue          *string
	StartDate      *time.Time
	EndDate        *time.Time
	Capacity       *int
	HasCost        *bool
	CoverHandle    *string
	AgendaHandle   *string
	TechInfoHandle *string
	CategoryIDs    []uuid.UUID
}

// Update edits a Draft or Published event. A capacity change moves the
// remaining counter by the same delta and may not drop below the seats
// already taken.
func (r *Registry) Update(ctx context.Context, act actor.Context, id uuid.UUID, p Patch) (models.Event, error) {
	if err := r.touch(ctx, id); err != nil {
		return models.Event{}, err
	}
	var out models.Event
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev, err := repo.LockEvent(tx, id)
		if err != nil {
			return err
		}
		if err := act.RequireEventAdmin(ev); err != nil {
			return err
		}
		if ev.State != models.EventDraft && ev.State != models.EventPublished {
			return apperr.ErrEventNotModifiable
		}

		d := Descriptor{
			Title: ev.Title, Description: ev.Description, City: ev.City, Venue: ev.Venue,
			StartDate: ev.StartDate, EndDate: ev.EndDate, Capacity: ev.TotalCapacity, HasCost: ev.HasCost,
		}
		apply(&d.Title, p.Title)
		apply(&d.Description, p.Description)
		apply(&d.City, p.City)
		apply(&d.Venue, p.Venue)
		apply(&d.StartDate, p.StartDate)
		apply(&d.EndDate, p.EndDate)
		apply(&d.Capacity, p.Capacity)
		apply(&d.HasCost, p.HasCost)
		if err := d.validate(); err != nil {
			return err
		}

		taken := ev.TotalCapacity - ev.Capacity
		if d.Capacity < taken {
			var v apperr.Validation
			v.Add("capacidad", "capacity is below the seats already approved")
			return v.Err()
		}

		ev.Title = strings.TrimSpace(d.Title)
		ev.Description = d.Description
		ev.City = strings.TrimSpace(d.City)
		ev.Venue = d.Venue
		ev.StartDate = models.Day(d.StartDate)
		ev.EndDate = models.Day(d.EndDate)
		ev.Capacity = d.Capacity - taken
		ev.TotalCapacity = d.Capacity
		ev.HasCost = d.HasCost
		apply(&ev.CoverHandle, p.CoverHandle)
		apply(&ev.AgendaHandle, p.AgendaHandle)
		apply(&ev.TechInfoHandle, p.TechInfoHandle)
		if err := tx.Save(ev).Error; err != nil {
			return err
		}
		if p.CategoryIDs != nil {
			if err := setCategories(tx, ev.ID, p.CategoryIDs); err != nil {
				return err
			}
		}
		if err := repo.SyncEvent(tx, ev); err != nil {
			return err
		}
		out = *ev
		return nil
	})
	if err == nil {
		log.Printf("📤 Outbox event recorded for event %s", out.ID)
	}
	return out, err
}

func apply[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// SetState moves an event along the admin-driven edges of its state
// machine: publishing a draft and finalizing an ended event. Cancellation
// and archival belong to the lifecycle controller.
func (r *Registry) SetState(ctx context.Context, act actor.Context, id uuid.UUID, next models.EventState) (models.Event, error) {
	if err := r.touch(ctx, id); err != nil {
		return models.Event{}, err
	}
	var out models.Event
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev, err := repo.LockEvent(tx, id)
		if err != nil {
			return err
		}
		if err := act.RequireEventAdmin(ev); err != nil {
			return err
		}
		now := r.Clock()
		switch {
		case ev.State == models.EventDraft && next == models.EventPublished:
		case ev.State == models.EventPublished && next == models.EventFinalized:
			if !ev.Ended(now) {
				return apperr.Newf(apperr.CodeStateNotAllowed, "event ends on %s", ev.EndDate.Format(models.DateLayout))
			}
			ev.FinalizedAt = &now
		default:
			return apperr.Newf(apperr.CodeStateNotAllowed, "cannot move event from %s to %s", ev.State, next)
		}
		old := ev.State
		ev.State = next
		if err := tx.Save(ev).Error; err != nil {
			return err
		}
		if err := repo.AppendAudit(tx, models.AuditRecord{
			EventID: ev.ID, ActorID: &act.PersonID, OldState: old, NewState: next,
			Reason: "state changed by administrator", At: now,
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

// TogglePreinscription opens or closes preinscription for one role.
func (r *Registry) TogglePreinscription(ctx context.Context, act actor.Context, id uuid.UUID, role models.Role, enabled bool) (models.Event, error) {
	if err := r.touch(ctx, id); err != nil {
		return models.Event{}, err
	}
	var out models.Event
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev, err := repo.LockEvent(tx, id)
		if err != nil {
			return err
		}
		if err := act.RequireEventAdmin(ev); err != nil {
			return err
		}
		if ev.State != models.EventDraft && ev.State != models.EventPublished {
			return apperr.ErrEventNotModifiable
		}
		if !ev.SetPreinscription(role, enabled) {
			return apperr.Newf(apperr.CodeValidation, "role %q has no preinscription", role)
		}
		if err := tx.Save(ev).Error; err != nil {
			return err
		}
		out = *ev
		return nil
	})
	return out, err
}

// Get returns an event visible to the public (Published or Finalized).
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (models.Event, error) {
	if err := r.touch(ctx, id); err != nil {
		return models.Event{}, err
	}
	ev, err := repo.GetEvent(r.DB.WithContext(ctx), id)
	if err != nil {
		return models.Event{}, err
	}
	if !ev.Public() {
		return models.Event{}, apperr.NotFound("event")
	}
	return *ev, nil
}

// GetForAdmin returns the event in any state to its administrator.
func (r *Registry) GetForAdmin(ctx context.Context, act actor.Context, id uuid.UUID) (models.Event, error) {
	if err := r.touch(ctx, id); err != nil {
		return models.Event{}, err
	}
	ev, err := repo.GetEvent(r.DB.WithContext(ctx), id)
	if err != nil {
		return models.Event{}, err
	}
	if err := act.RequireEventAdmin(ev); err != nil {
		return models.Event{}, err
	}
	return *ev, nil
}

// ListByAdmin lists the events an administrator owns, newest first.
func (r *Registry) ListByAdmin(ctx context.Context, act actor.Context) ([]models.Event, error) {
	if err := act.Require(models.RoleEventAdmin, models.RoleSuperAdmin); err != nil {
		return nil, err
	}
	q := r.DB.WithContext(ctx).Order("start_date DESC")
	if act.Role != models.RoleSuperAdmin {
		q = q.Where("admin_id = ?", act.PersonID)
	}
	var out []models.Event
	return out, q.Find(&out).Error
}

func (r *Registry) touch(ctx context.Context, id uuid.UUID) error {
	if r.Lifecycle == nil {
		return nil
	}
	return r.Lifecycle.Touch(ctx, id)
}

// Reindex queues a search upsert for every public event, for use after the
// index was rebuilt.
func (r *Registry) Reindex(ctx context.Context, act actor.Context) (int, error) {
	if err := act.Require(models.RoleSuperAdmin); err != nil {
		return 0, err
	}
	var ids []uuid.UUID
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Event{}).
			Where("state IN ?", []models.EventState{models.EventPublished, models.EventFinalized}).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		return repo.AddBatchOutboxEvents(tx, repo.EntityEvent, repo.OpUpsert, ids)
	})
	return len(ids), err
}
