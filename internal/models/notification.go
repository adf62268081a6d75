package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	NotificationPending = "pending"
	NotificationSending = "sending"
	NotificationSent    = "sent"
	NotificationDead    = "dead"
)

// ---------------- NOTIFICATIONS (message outbox) ----------------
type Notification struct {
	ID            int64      `gorm:"primaryKey;autoIncrement"`
	Kind          string     `gorm:"index;not null"`
	Channel       string     `gorm:"not null"` // email | sms
	EventID       *uuid.UUID `gorm:"type:uuid;index"`
	PersonID      *uuid.UUID `gorm:"type:uuid"`
	Recipient     string     `gorm:"not null"`
	Payload       datatypes.JSON
	Attachments   datatypes.JSON // [{name, handle}] blob references
	Status        string         `gorm:"index;not null"`
	Attempts      int
	NextAttemptAt time.Time `gorm:"index"`
	LastError     string
	SentAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ---------------- OUTBOX (search sync events) ----------------
type Outbox struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	EntityType string    `gorm:"index;not null"`
	EntityID   uuid.UUID `gorm:"type:uuid;not null"`
	Op         string    `gorm:"not null"` // UPSERT | DELETE
	Payload    datatypes.JSON
	CreatedAt  time.Time
	Processed  bool
}
