package events

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/repo"
	"gorm.io/gorm"
)

// ---------------- AREAS & CATEGORIES ----------------

func (r *Registry) CreateArea(ctx context.Context, act actor.Context, name, description string) (models.Area, error) {
	if err := act.Require(models.RoleSuperAdmin, models.RoleEventAdmin); err != nil {
		return models.Area{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		var v apperr.Validation
		v.Add("nombre", "name is required")
		return models.Area{}, v.Err()
	}
	area := models.Area{Name: name, Description: description}
	if err := r.DB.WithContext(ctx).Create(&area).Error; err != nil {
		if repo.IsDuplicate(err) {
			return models.Area{}, apperr.Newf(apperr.CodeValidation, "area %q already exists", name)
		}
		return models.Area{}, err
	}
	return area, nil
}

func (r *Registry) CreateCategory(ctx context.Context, act actor.Context, areaID uuid.UUID, name, description string) (models.Category, error) {
	if err := act.Require(models.RoleSuperAdmin, models.RoleEventAdmin); err != nil {
		return models.Category{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		var v apperr.Validation
		v.Add("nombre", "name is required")
		return models.Category{}, v.Err()
	}
	db := r.DB.WithContext(ctx)
	var n int64
	if err := db.Model(&models.Area{}).Where("id = ?", areaID).Count(&n).Error; err != nil {
		return models.Category{}, err
	}
	if n == 0 {
		return models.Category{}, apperr.NotFound("area")
	}
	c := models.Category{Name: name, Description: description, AreaID: areaID}
	return c, db.Create(&c).Error
}

func (r *Registry) ListAreas(ctx context.Context) ([]models.Area, error) {
	var out []models.Area
	return out, r.DB.WithContext(ctx).Order("name").Find(&out).Error
}

// ListCategories lists every category, or those of one area when areaID is set.
func (r *Registry) ListCategories(ctx context.Context, areaID *uuid.UUID) ([]models.Category, error) {
	q := r.DB.WithContext(ctx).Order("name")
	if areaID != nil {
		q = q.Where("area_id = ?", *areaID)
	}
	var out []models.Category
	return out, q.Find(&out).Error
}

// SetCategories replaces the event's categories.
func (r *Registry) SetCategories(ctx context.Context, act actor.Context, eventID uuid.UUID, ids []uuid.UUID) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev, err := repo.LockEvent(tx, eventID)
		if err != nil {
			return err
		}
		if err := act.RequireEventAdmin(ev); err != nil {
			return err
		}
		if err := setCategories(tx, eventID, ids); err != nil {
			return err
		}
		return repo.SyncEvent(tx, ev)
	})
}

// EventCategories returns the categories attached to an event.
func (r *Registry) EventCategories(ctx context.Context, eventID uuid.UUID) ([]models.Category, error) {
	var out []models.Category
	err := r.DB.WithContext(ctx).
		Joins("JOIN event_categories ec ON ec.category_id = categories.id").
		Where("ec.event_id = ?", eventID).
		Order("categories.name").
		Find(&out).Error
	return out, err
}

func setCategories(tx *gorm.DB, eventID uuid.UUID, ids []uuid.UUID) error {
	if err := tx.Where("event_id = ?", eventID).Delete(&models.EventCategory{}).Error; err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	var n int64
	if err := tx.Model(&models.Category{}).Where("id IN ?", ids).Count(&n).Error; err != nil {
		return err
	}
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	if int(n) != len(seen) {
		return apperr.NotFound("category")
	}
	for id := range seen {
		if err := tx.Create(&models.EventCategory{EventID: eventID, CategoryID: id}).Error; err != nil {
			return err
		}
	}
	return nil
}
