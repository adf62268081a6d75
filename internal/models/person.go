package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSuperAdmin Role = "superadmin"
	RoleEventAdmin Role = "event_admin"
	RoleExponent   Role = "exponent"
	RoleEvaluator  Role = "evaluator"
	RoleAttendee   Role = "attendee"
	RoleVisitor    Role = "visitor"
)

// EnrollmentRoles are the three consumer roles that enroll in events.
var EnrollmentRoles = []Role{RoleAttendee, RoleExponent, RoleEvaluator}

func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleEventAdmin, RoleExponent, RoleEvaluator, RoleAttendee, RoleVisitor:
		return true
	}
	return false
}

func (r Role) Enrolls() bool {
	return r == RoleAttendee || r == RoleExponent || r == RoleEvaluator
}

// ---------------- PERSONS ----------------
type Person struct {
	Base
	NationalID      string `gorm:"uniqueIndex;not null"`
	Username        string `gorm:"uniqueIndex;not null"`
	Email           string `gorm:"uniqueIndex;not null"`
	GivenName       string
	FamilyName      string
	Phone           string
	PasswordHash    string `json:"-"`
	PrimaryRole     Role   `gorm:"not null"`
	FirstLogin      bool
	Active          bool
	CreatedForEvent *uuid.UUID `gorm:"type:uuid"` // set when a group roster created the person
}

func (p Person) FullName() string {
	return strings.TrimSpace(p.GivenName + " " + p.FamilyName)
}

// PersonRole is one entry of a person's additive role set.
type PersonRole struct {
	PersonID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	Role      Role      `gorm:"primaryKey"`
	CreatedAt time.Time
}

// ---------------- ADMIN INVITATIONS ----------------
type AdminInvitation struct {
	Base
	Email string    `gorm:"index;not null"`
	Token uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	Used  bool
}
