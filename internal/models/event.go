package models

import (
	"time"

	"github.com/google/uuid"
)

type EventState string

const (
	EventDraft     EventState = "draft"
	EventPublished EventState = "published"
	EventCancelled EventState = "cancelled"
	EventFinalized EventState = "finalized"
	EventArchived  EventState = "archived"
)

// ---------------- EVENTS ----------------
type Event struct {
	Base
	Title                   string `gorm:"index;not null"`
	Description             string
	City                    string `gorm:"index"`
	Venue                   string
	StartDate               time.Time  `gorm:"not null"`
	EndDate                 time.Time  `gorm:"not null"`
	State                   EventState `gorm:"index;not null"`
	AdminID                 uuid.UUID  `gorm:"type:uuid;index;not null"`
	Capacity                int        // remaining seats; decremented on attendee approval
	TotalCapacity           int
	HasCost                 bool
	CoverHandle             string
	AgendaHandle            string
	TechInfoHandle          string
	PreinsAttendee          bool
	PreinsExponent          bool
	PreinsEvaluator         bool
	CancellationInitiatedAt *time.Time
	FinalizedAt             *time.Time
	ArchivedAt              *time.Time
}

func (e *Event) PreinscriptionEnabled(role Role) bool {
	switch role {
	case RoleAttendee:
		return e.PreinsAttendee
	case RoleExponent:
		return e.PreinsExponent
	case RoleEvaluator:
		return e.PreinsEvaluator
	}
	return false
}

// SetPreinscription reports false when role has no preinscription flag.
func (e *Event) SetPreinscription(role Role, enabled bool) bool {
	switch role {
	case RoleAttendee:
		e.PreinsAttendee = enabled
	case RoleExponent:
		e.PreinsExponent = enabled
	case RoleEvaluator:
		e.PreinsEvaluator = enabled
	default:
		return false
	}
	return true
}

// Ended reports whether the event's last day is over at now.
func (e *Event) Ended(now time.Time) bool {
	return !now.Before(Day(e.EndDate).Add(24 * time.Hour))
}

func (e *Event) Public() bool {
	return e.State == EventPublished || e.State == EventFinalized
}

// ---------------- CATALOGUE ----------------
type Area struct {
	Base
	Name        string `gorm:"uniqueIndex;not null"`
	Description string
}

type Category struct {
	Base
	Name        string `gorm:"not null"`
	Description string
	AreaID      uuid.UUID `gorm:"type:uuid;index;not null"`
}

type EventCategory struct {
	EventID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	CategoryID uuid.UUID `gorm:"type:uuid;primaryKey"`
}

// ---------------- MEMORIES & AUDIT ----------------
type Memory struct {
	Base
	EventID    uuid.UUID `gorm:"type:uuid;index;not null"`
	Label      string    `gorm:"not null"`
	BlobHandle string    `gorm:"not null"`
	UploadedAt time.Time
}

// AuditRecord is append-only and survives archival.
type AuditRecord struct {
	Base
	EventID  uuid.UUID  `gorm:"type:uuid;index;not null"`
	ActorID  *uuid.UUID `gorm:"type:uuid"` // nil for clock-driven transitions
	OldState EventState
	NewState EventState
	Reason   string
	At       time.Time `gorm:"index"`
}
