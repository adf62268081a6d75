package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base carries the uuid primary key and timestamps shared by the domain tables.
// IDs are assigned in Go so the same models migrate on postgres and sqlite.
type Base struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// DateLayout is the persisted/on-the-wire date format (ISO YYYY-MM-DD).
const DateLayout = "2006-01-02"

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// UTCNow is the default clock of every service. Timestamps are stored in
// UTC so sqlite's textual time comparisons order correctly.
func UTCNow() time.Time {
	return time.Now().UTC()
}
