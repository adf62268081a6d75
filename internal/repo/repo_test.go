package repo_test

import (
	"errors"
	"testing"

	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/dbtest"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/repo"
)

func TestCapacityCounters(t *testing.T) {
	t.Parallel()

	db := dbtest.Open(t)
	admin := dbtest.Person(t, db, models.RoleEventAdmin)
	ev := dbtest.Event(t, db, admin.ID, func(e *models.Event) {
		e.Capacity, e.TotalCapacity = 1, 1
	})

	if err := repo.DecrementCapacity(db, ev.ID); err != nil {
		t.Fatalf("first decrement: %v", err)
	}
	if err := repo.DecrementCapacity(db, ev.ID); !errors.Is(err, apperr.ErrCapacityExhausted) {
		t.Fatalf("second decrement err = %v, want capacity exhausted", err)
	}
	for i := 0; i < 2; i++ {
		if err := repo.IncrementCapacity(db, ev.ID); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	got := dbtest.Reload[models.Event](t, db, ev.ID)
	if got.Capacity != 1 {
		t.Fatalf("capacity = %d, want 1", got.Capacity)
	}
}

func TestClaimSlot(t *testing.T) {
	t.Parallel()

	db := dbtest.Open(t)
	admin := dbtest.Person(t, db, models.RoleEventAdmin)
	p := dbtest.Person(t, db, models.RoleAttendee)
	ev := dbtest.Event(t, db, admin.ID)

	if err := repo.ClaimSlot(db, ev.ID, p.ID, models.RoleAttendee); err != nil {
		t.Fatalf("empty slot: %v", err)
	}
	en := dbtest.Enrollment(t, db, models.Enrollment{EventID: ev.ID, PersonID: p.ID, Role: models.RoleAttendee, State: models.EnrollmentApproved})

	if err := repo.ClaimSlot(db, ev.ID, p.ID, models.RoleExponent); !errors.Is(err, apperr.ErrRoleConflict) {
		t.Fatalf("other role err = %v, want role conflict", err)
	}
	if err := repo.ClaimSlot(db, ev.ID, p.ID, models.RoleAttendee); !errors.Is(err, apperr.ErrAlreadyEnrolled) {
		t.Fatalf("same role err = %v, want already enrolled", err)
	}

	db.Model(&models.Enrollment{}).Where("id = ?", en.ID).Update("state", models.EnrollmentCancelled)
	if err := repo.ClaimSlot(db, ev.ID, p.ID, models.RoleExponent); err != nil {
		t.Fatalf("cancelled slot should be reusable: %v", err)
	}
	if left, _ := repo.FindEnrollment(db, ev.ID, p.ID); left != nil {
		t.Fatal("cancelled row should be removed")
	}
}

func TestClaimSlotDetachesCancelledProject(t *testing.T) {
	t.Parallel()

	db := dbtest.Open(t)
	admin := dbtest.Person(t, db, models.RoleEventAdmin)
	ev := dbtest.Event(t, db, admin.ID)
	lp := dbtest.Person(t, db, models.RoleExponent)
	mp := dbtest.Person(t, db, models.RoleExponent)
	code := "CAN00001"

	leader := dbtest.Enrollment(t, db, models.Enrollment{
		EventID: ev.ID, PersonID: lp.ID, Role: models.RoleExponent,
		State: models.EnrollmentCancelled, IsGroupRecord: true, ProjectCode: &code,
	})
	m := dbtest.Enrollment(t, db, models.Enrollment{
		EventID: ev.ID, PersonID: mp.ID, Role: models.RoleExponent,
		State: models.EnrollmentCancelled, ProjectLeaderID: &leader.ID, ProjectCode: &code,
	})

	if err := repo.ClaimSlot(db, ev.ID, lp.ID, models.RoleExponent); err != nil {
		t.Fatalf("claim: %v", err)
	}
	got := dbtest.Reload[models.Enrollment](t, db, m.ID)
	if got.ProjectLeaderID != nil || got.ProjectCode != nil {
		t.Fatalf("member leader = %v code = %v, want detached", got.ProjectLeaderID, got.ProjectCode)
	}
}

func TestInsertEnrollmentDuplicate(t *testing.T) {
	t.Parallel()

	db := dbtest.Open(t)
	admin := dbtest.Person(t, db, models.RoleEventAdmin)
	p := dbtest.Person(t, db, models.RoleAttendee)
	ev := dbtest.Event(t, db, admin.ID)

	first := models.Enrollment{EventID: ev.ID, PersonID: p.ID, Role: models.RoleAttendee, State: models.EnrollmentPending}
	if err := repo.InsertEnrollment(db, &first); err != nil {
		t.Fatalf("insert: %v", err)
	}
	second := models.Enrollment{EventID: ev.ID, PersonID: p.ID, Role: models.RoleEvaluator, State: models.EnrollmentPending}
	if err := repo.InsertEnrollment(db, &second); !errors.Is(err, apperr.ErrAlreadyEnrolled) {
		t.Fatalf("err = %v, want already enrolled", err)
	}
}

func TestNewProjectCode(t *testing.T) {
	t.Parallel()

	db := dbtest.Open(t)
	admin := dbtest.Person(t, db, models.RoleEventAdmin)
	p := dbtest.Person(t, db, models.RoleExponent)
	ev := dbtest.Event(t, db, admin.ID)
	taken := "ABC12345"
	dbtest.Enrollment(t, db, models.Enrollment{
		EventID: ev.ID, PersonID: p.ID, Role: models.RoleExponent,
		State: models.EnrollmentPending, IsGroupRecord: true, ProjectCode: &taken,
	})

	gen := &dbtest.Sequence{ProjectCodes: []string{taken, "ZZZ00001"}}
	code, err := repo.NewProjectCode(db, ev.ID, gen)
	if err != nil {
		t.Fatalf("new code: %v", err)
	}
	if code != "ZZZ00001" {
		t.Fatalf("code = %q, want ZZZ00001", code)
	}

	stuck := &dbtest.Sequence{ProjectCodes: []string{taken}}
	if _, err := repo.NewProjectCode(db, ev.ID, stuck); err == nil {
		t.Fatal("expected exhausted sequence to fail")
	}
}

func TestProjectRowsLeaderFirst(t *testing.T) {
	t.Parallel()

	db := dbtest.Open(t)
	admin := dbtest.Person(t, db, models.RoleEventAdmin)
	ev := dbtest.Event(t, db, admin.ID)
	lp := dbtest.Person(t, db, models.RoleExponent)
	mp := dbtest.Person(t, db, models.RoleExponent)
	code := "QWE98765"

	leader := dbtest.Enrollment(t, db, models.Enrollment{
		EventID: ev.ID, PersonID: lp.ID, Role: models.RoleExponent,
		State: models.EnrollmentPending, IsGroupRecord: true, ProjectCode: &code,
		SubmittedAt: dbtest.Now.Add(1),
	})
	dbtest.Enrollment(t, db, models.Enrollment{
		EventID: ev.ID, PersonID: mp.ID, Role: models.RoleExponent,
		State: models.EnrollmentPending, ProjectLeaderID: &leader.ID, ProjectCode: &code,
	})

	rows, err := repo.ProjectRows(db, ev.ID, code)
	if err != nil {
		t.Fatalf("project rows: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != leader.ID {
		t.Fatalf("rows = %d leader first = %v", len(rows), rows[0].ID == leader.ID)
	}
	if _, err := repo.ProjectRows(db, ev.ID, "NOPE0000"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}
