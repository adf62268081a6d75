// Package scoring holds the weighted rubric of an event and turns
// evaluator scores into project marks and rankings.
package scoring

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/events"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/repo"
	"gorm.io/gorm"
)

// FullWeight is the rubric total that enables scoring.
const FullWeight = 100

type Engine struct {
	DB        *gorm.DB
	Lifecycle events.Toucher
	Clock     func() time.Time
}

func NewEngine(db *gorm.DB) *Engine {
	return &Engine{DB: db, Clock: models.UTCNow}
}

// ---------------- RUBRIC ----------------

// AddCriterion appends a criterion unless the rubric would exceed 100.
func (e *Engine) AddCriterion(ctx context.Context, act actor.Context, eventID uuid.UUID, description string, weight int) (models.Criterion, error) {
	if err := validCriterion(description, weight); err != nil {
		return models.Criterion{}, err
	}
	if err := e.touch(ctx, eventID); err != nil {
		return models.Criterion{}, err
	}
	c := models.Criterion{EventID: eventID, Description: strings.TrimSpace(description), Weight: weight}
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockRubric(tx, act, eventID); err != nil {
			return err
		}
		total, err := weightSum(tx, eventID, uuid.Nil)
		if err != nil {
			return err
		}
		if total+weight > FullWeight {
			return apperr.Newf(apperr.CodeRubricOverweight, "rubric would weigh %d, limit is %d", total+weight, FullWeight)
		}
		return tx.Create(&c).Error
	})
	if err != nil {
		return models.Criterion{}, err
	}
	log.Printf("📐 criterion %q (%d) added to event %s", c.Description, c.Weight, eventID)
	return c, nil
}

// UpdateCriterion edits an unscored criterion.
func (e *Engine) UpdateCriterion(ctx context.Context, act actor.Context, id uuid.UUID, description string, weight int) (models.Criterion, error) {
	if err := validCriterion(description, weight); err != nil {
		return models.Criterion{}, err
	}
	var c models.Criterion
	err := e.withCriterion(ctx, act, id, func(tx *gorm.DB, cur models.Criterion) error {
		total, err := weightSum(tx, cur.EventID, cur.ID)
		if err != nil {
			return err
		}
		if total+weight > FullWeight {
			return apperr.Newf(apperr.CodeRubricOverweight, "rubric would weigh %d, limit is %d", total+weight, FullWeight)
		}
		cur.Description = strings.TrimSpace(description)
		cur.Weight = weight
		c = cur
		return tx.Save(&c).Error
	})
	return c, err
}

// DeleteCriterion removes an unscored criterion.
func (e *Engine) DeleteCriterion(ctx context.Context, act actor.Context, id uuid.UUID) error {
	return e.withCriterion(ctx, act, id, func(tx *gorm.DB, cur models.Criterion) error {
		return tx.Delete(&models.Criterion{}, "id = ?", cur.ID).Error
	})
}

func (e *Engine) withCriterion(ctx context.Context, act actor.Context, id uuid.UUID, fn func(tx *gorm.DB, cur models.Criterion) error) error {
	var cur models.Criterion
	if err := e.DB.WithContext(ctx).First(&cur, "id = ?", id).Error; err != nil {
		return apperr.NotFound("criterion")
	}
	if err := e.touch(ctx, cur.EventID); err != nil {
		return err
	}
	return e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockRubric(tx, act, cur.EventID); err != nil {
			return err
		}
		var scored int64
		if err := tx.Model(&models.Score{}).Where("criterion_id = ?", id).Count(&scored).Error; err != nil {
			return err
		}
		if scored > 0 {
			return apperr.New(apperr.CodeCriterionInUse, "criterion already has scores")
		}
		return fn(tx, cur)
	})
}

// Criteria lists the rubric in creation order.
func (e *Engine) Criteria(ctx context.Context, eventID uuid.UUID) ([]models.Criterion, error) {
	var out []models.Criterion
	err := e.DB.WithContext(ctx).Where("event_id = ?", eventID).Order("created_at ASC").Order("id ASC").Find(&out).Error
	return out, err
}

// ScoringEnabled reports whether the rubric weighs exactly 100 and the
// event is Published.
func (e *Engine) ScoringEnabled(ctx context.Context, eventID uuid.UUID) (bool, error) {
	if err := e.touch(ctx, eventID); err != nil {
		return false, err
	}
	db := e.DB.WithContext(ctx)
	ev, err := repo.GetEvent(db, eventID)
	if err != nil {
		return false, err
	}
	return scoringEnabled(db, ev)
}

func scoringEnabled(db *gorm.DB, ev *models.Event) (bool, error) {
	if ev.State != models.EventPublished {
		return false, nil
	}
	total, err := weightSum(db, ev.ID, uuid.Nil)
	if err != nil {
		return false, err
	}
	return total == FullWeight, nil
}

// lockRubric locks the event for a rubric edit by its administrator.
func lockRubric(tx *gorm.DB, act actor.Context, eventID uuid.UUID) (*models.Event, error) {
	ev, err := repo.LockEvent(tx, eventID)
	if err != nil {
		return nil, err
	}
	if err := act.RequireEventAdmin(ev); err != nil {
		return nil, err
	}
	if ev.State != models.EventDraft && ev.State != models.EventPublished {
		return nil, apperr.ErrEventNotModifiable
	}
	return ev, nil
}

// weightSum adds the weights of the event's criteria, skipping except.
func weightSum(db *gorm.DB, eventID, except uuid.UUID) (int, error) {
	var total int
	q := db.Model(&models.Criterion{}).Where("event_id = ?", eventID)
	if except != uuid.Nil {
		q = q.Where("id <> ?", except)
	}
	err := q.Select("COALESCE(SUM(weight), 0)").Scan(&total).Error
	return total, err
}

func validCriterion(description string, weight int) error {
	var v apperr.Validation
	v.Check(strings.TrimSpace(description) != "", "descripcion", "description is required")
	v.Check(weight > 0 && weight <= FullWeight, "peso", "weight must be between 1 and 100")
	return v.Err()
}

func (e *Engine) touch(ctx context.Context, eventID uuid.UUID) error {
	if e.Lifecycle == nil {
		return nil
	}
	return e.Lifecycle.Touch(ctx, eventID)
}
