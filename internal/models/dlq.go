package models

import "time"

// DLQ holds outbox events and notifications that exhausted their attempts.
type DLQ struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	OutboxID   int64  `gorm:"index"` // outbox id or notification id, depending on EntityType
	EntityType string `gorm:"index"`
	EntityID   string
	Op         string
	ErrorMsg   string
	Payload    []byte
	CreatedAt  time.Time
	RetriedAt  *time.Time
	Resolved   bool
}
