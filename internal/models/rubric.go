package models

import "github.com/google/uuid"

// ---------------- RUBRIC ----------------
type Criterion struct {
	Base
	EventID     uuid.UUID `gorm:"type:uuid;index;not null"`
	Description string    `gorm:"not null"`
	Weight      int       `gorm:"not null"`
}

// Score targets a project by its code so it survives leadership transfer.
type Score struct {
	Base
	EventID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_score_target;index"`
	EvaluatorID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_score_target"`
	CriterionID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_score_target;index"`
	ProjectCode string    `gorm:"size:8;not null;uniqueIndex:idx_score_target"`
	Value       int       `gorm:"not null"`
}
