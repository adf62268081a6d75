package models

import (
	"time"

	"github.com/google/uuid"
)

type EnrollmentState string

const (
	EnrollmentPending   EnrollmentState = "pending"
	EnrollmentApproved  EnrollmentState = "approved"
	EnrollmentRejected  EnrollmentState = "rejected"
	EnrollmentCancelled EnrollmentState = "cancelled"
)

// ---------------- ENROLLMENTS ----------------
// Enrollment is the (Person, Event, Role) relation for all three consumer roles.
// The unique (event_id, person_id) index is what enforces cross-role exclusivity.
type Enrollment struct {
	Base
	EventID         uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_enrollment_event_person;index:idx_enrollment_project,priority:1"`
	PersonID        uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_enrollment_event_person;index"`
	Role            Role            `gorm:"not null;index"`
	State           EnrollmentState `gorm:"not null;index"`
	SubmittedAt     time.Time
	ReceiptHandle   string // attendee payment receipt
	DocumentHandle  string // exponent exposition document or evaluator CV
	AccessKey       string `gorm:"index"`
	QRHandle        string
	IsGroupRecord   bool
	ProjectLeaderID *uuid.UUID `gorm:"type:uuid;index"`
	ProjectCode     *string    `gorm:"size:8;index:idx_enrollment_project,priority:2"`
	ProjectTitle    string
	FinalMark       *int
	RejectionReason string
	CheckedInAt     *time.Time
}

func (e *Enrollment) IsLeader() bool {
	return e.Role == RoleExponent && e.IsGroupRecord && e.ProjectLeaderID == nil
}

func (e *Enrollment) Code() string {
	if e.ProjectCode == nil {
		return ""
	}
	return *e.ProjectCode
}

// ClearCredentials empties the access key and QR handle; only Approved rows carry them.
func (e *Enrollment) ClearCredentials() {
	e.AccessKey = ""
	e.QRHandle = ""
}
