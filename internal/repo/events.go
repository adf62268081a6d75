// Package repo holds the transaction-scoped queries shared by the engines.
// Every helper takes the handle it must run on; inside db.Transaction that
// is the tx, never the outer *gorm.DB.
package repo

import (
	"errors"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetEvent loads an event without locking it.
func GetEvent(db *gorm.DB, id uuid.UUID) (*models.Event, error) {
	var ev models.Event
	if err := db.First(&ev, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "event")
	}
	return &ev, nil
}

// LockEvent loads an event with SELECT ... FOR UPDATE. Every mutation of an
// event's capacity, enrollments or state goes through this lock.
func LockEvent(tx *gorm.DB, id uuid.UUID) (*models.Event, error) {
	var ev models.Event
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&ev, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "event")
	}
	return &ev, nil
}

// DecrementCapacity takes one seat; it fails with CapacityExhausted when
// none is left.
func DecrementCapacity(tx *gorm.DB, eventID uuid.UUID) error {
	res := tx.Model(&models.Event{}).
		Where("id = ? AND capacity > 0", eventID).
		UpdateColumn("capacity", gorm.Expr("capacity - 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrCapacityExhausted
	}
	return nil
}

// IncrementCapacity returns one seat, never above the total.
func IncrementCapacity(tx *gorm.DB, eventID uuid.UUID) error {
	return tx.Model(&models.Event{}).
		Where("id = ? AND capacity < total_capacity", eventID).
		UpdateColumn("capacity", gorm.Expr("capacity + 1")).Error
}

// AppendAudit writes one append-only audit record.
func AppendAudit(tx *gorm.DB, rec models.AuditRecord) error {
	return tx.Create(&rec).Error
}

// GetPerson loads a person by id.
func GetPerson(db *gorm.DB, id uuid.UUID) (*models.Person, error) {
	var p models.Person
	if err := db.First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "person")
	}
	return &p, nil
}

// PeopleByID loads persons keyed by id.
func PeopleByID(db *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]models.Person, error) {
	out := make(map[uuid.UUID]models.Person, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var people []models.Person
	if err := db.Where("id IN ?", ids).Find(&people).Error; err != nil {
		return nil, err
	}
	for _, p := range people {
		out[p.ID] = p
	}
	return out, nil
}

// IsDuplicate reports a unique-index violation.
func IsDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func notFound(err error, entity string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(entity)
	}
	return err
}
