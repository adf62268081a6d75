package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/models"
	"gorm.io/gorm"
)

// Now is the reference instant used by fixtures and fixed clocks.
var Now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// Clock returns a clock frozen at t.
func Clock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// Person inserts an active person with the given primary role.
func Person(t testing.TB, db *gorm.DB, role models.Role, mutate ...func(*models.Person)) models.Person {
	t.Helper()
	id := uuid.New()
	short := id.String()[:8]
	p := models.Person{
		Base:        models.Base{ID: id},
		NationalID:  "NID-" + short,
		Username:    "user-" + short,
		Email:       fmt.Sprintf("%s@example.com", short),
		GivenName:   "Given" + short[:3],
		FamilyName:  "Family",
		PrimaryRole: role,
		Active:      true,
	}
	for _, m := range mutate {
		m(&p)
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("create person: %v", err)
	}
	if err := db.Create(&models.PersonRole{PersonID: p.ID, Role: role}).Error; err != nil {
		t.Fatalf("create person role: %v", err)
	}
	return p
}

// Event inserts a published event with open preinscription for every role,
// running from Now to two days later.
func Event(t testing.TB, db *gorm.DB, adminID uuid.UUID, mutate ...func(*models.Event)) models.Event {
	t.Helper()
	ev := models.Event{
		Title:           "Expo Ciencia",
		Description:     "Annual science expo",
		City:            "Manizales",
		Venue:           "Auditorio",
		StartDate:       models.Day(Now),
		EndDate:         models.Day(Now).Add(48 * time.Hour),
		State:           models.EventPublished,
		AdminID:         adminID,
		Capacity:        10,
		TotalCapacity:   10,
		PreinsAttendee:  true,
		PreinsExponent:  true,
		PreinsEvaluator: true,
	}
	for _, m := range mutate {
		m(&ev)
	}
	if err := db.Create(&ev).Error; err != nil {
		t.Fatalf("create event: %v", err)
	}
	return ev
}

// Enrollment inserts an enrollment row as-is.
func Enrollment(t testing.TB, db *gorm.DB, en models.Enrollment) models.Enrollment {
	t.Helper()
	if en.SubmittedAt.IsZero() {
		en.SubmittedAt = Now
	}
	if err := db.Create(&en).Error; err != nil {
		t.Fatalf("create enrollment: %v", err)
	}
	return en
}

// Reload refetches a row by primary key.
func Reload[T any](t testing.TB, db *gorm.DB, id any) T {
	t.Helper()
	var v T
	if err := db.First(&v, "id = ?", id).Error; err != nil {
		t.Fatalf("reload %T: %v", v, err)
	}
	return v
}
