package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/blob"
	"github.com/sirdesai22/event-service/internal/dbtest"
	"github.com/sirdesai22/event-service/internal/locks"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/notify"
	"gorm.io/gorm"
)

type fakeNotifier struct {
	messages []notify.Message
}

func (f *fakeNotifier) Enqueue(ctx context.Context, msg notify.Message) []string {
	f.messages = append(f.messages, msg)
	return nil
}

type fixture struct {
	c     *Controller
	db    *gorm.DB
	blobs *blob.Memory
	n     *fakeNotifier
	now   time.Time
	admin actor.Context
	event models.Event
}

// newFixture builds a published event starting at noon with one approved
// attendee, one scored project and a rubric.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	f := &fixture{db: db, blobs: blob.NewMemory(), n: &fakeNotifier{}, now: dbtest.Now}
	f.c = New(db, f.blobs, f.n, locks.NewLocal())
	f.c.Clock = func() time.Time { return f.now }

	admin := dbtest.Person(t, db, models.RoleEventAdmin)
	f.admin = actor.New(admin.ID, models.RoleEventAdmin)
	f.event = dbtest.Event(t, db, admin.ID)

	ctx := context.Background()
	qr, _ := f.blobs.Put(ctx, "qr", "a.png", []byte("png"))
	attendee := dbtest.Person(t, db, models.RoleAttendee)
	dbtest.Enrollment(t, db, models.Enrollment{
		EventID: f.event.ID, PersonID: attendee.ID, Role: models.RoleAttendee,
		State: models.EnrollmentApproved, AccessKey: "AbCdE12345", QRHandle: qr,
	})
	exp := dbtest.Person(t, db, models.RoleExponent)
	code := "ABC12345"
	dbtest.Enrollment(t, db, models.Enrollment{
		EventID: f.event.ID, PersonID: exp.ID, Role: models.RoleExponent,
		State: models.EnrollmentApproved, IsGroupRecord: true, ProjectCode: &code,
	})
	crit := models.Criterion{EventID: f.event.ID, Description: "Impacto", Weight: 100}
	db.Create(&crit)
	db.Create(&models.Score{EventID: f.event.ID, EvaluatorID: uuid.New(), CriterionID: crit.ID, ProjectCode: code, Value: 80})
	return f
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(model).Where("event_id = ?", f.event.ID).Count(&n).Error; err != nil {
		t.Fatalf("count %T: %v", model, err)
	}
	return n
}

func TestSoftCancelRevertWithinWindow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	ev, _, err := f.c.SoftCancel(ctx, f.admin, f.event.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if ev.State != models.EventCancelled || ev.CancellationInitiatedAt == nil {
		t.Fatalf("event = %+v", ev)
	}
	if len(f.n.messages) != 1 || len(f.n.messages[0].To) != 2 {
		t.Fatalf("cancellation should reach both enrollees: %+v", f.n.messages)
	}

	f.now = f.now.Add(4*time.Hour + 59*time.Minute)
	ev, _, err = f.c.Revert(ctx, f.admin, f.event.ID)
	if err != nil {
		t.Fatalf("revert at 4h59m: %v", err)
	}
	if ev.State != models.EventPublished || ev.CancellationInitiatedAt != nil {
		t.Fatalf("event = %+v, want published without timestamp", ev)
	}
	if f.count(t, &models.Enrollment{}) != 2 {
		t.Fatal("enrollments must survive a revert")
	}
}

func TestRevertAfterWindowPurges(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	if _, _, err := f.c.SoftCancel(ctx, f.admin, f.event.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	f.now = f.now.Add(5*time.Hour + time.Minute)
	_, _, err := f.c.Revert(ctx, f.admin, f.event.ID)
	if !errors.Is(err, apperr.ErrWindowElapsed) {
		t.Fatalf("err = %v, want window_elapsed", err)
	}

	for _, m := range []any{&models.Enrollment{}, &models.Score{}, &models.Criterion{}, &models.Memory{}} {
		if n := f.count(t, m); n != 0 {
			t.Fatalf("%T rows = %d, want 0 after purge", m, n)
		}
	}
	var events int64
	f.db.Model(&models.Event{}).Where("id = ?", f.event.ID).Count(&events)
	if events != 0 {
		t.Fatal("event should be deleted")
	}
	if f.blobs.Len() != 0 {
		t.Fatalf("blobs left = %d, want 0", f.blobs.Len())
	}
	var outbox models.Outbox
	if err := f.db.Where("entity_id = ?", f.event.ID).Order("id DESC").First(&outbox).Error; err != nil || outbox.Op != "DELETE" {
		t.Fatalf("last outbox = %+v, %v; want DELETE", outbox, err)
	}
}

func TestPurgeRefusedInsideWindow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	if _, _, err := f.c.SoftCancel(ctx, f.admin, f.event.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := f.c.Purge(ctx, f.event.ID); !errors.Is(err, apperr.ErrStateNotAllowed) {
		t.Fatalf("err = %v, want state_not_allowed", err)
	}
	if f.count(t, &models.Enrollment{}) != 2 {
		t.Fatal("nothing may be deleted inside the window")
	}
}

func TestSoftCancelRequiresOwnerAndPublished(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	other := actor.New(uuid.New(), models.RoleEventAdmin)
	if _, _, err := f.c.SoftCancel(ctx, other, f.event.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
	f.db.Model(&models.Event{}).Where("id = ?", f.event.ID).Update("state", models.EventDraft)
	if _, _, err := f.c.SoftCancel(ctx, f.admin, f.event.ID); !errors.Is(err, apperr.ErrStateNotAllowed) {
		t.Fatalf("err = %v, want state_not_allowed", err)
	}
}

func TestTouchFinalizesEndedEvent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if err := f.c.Touch(ctx, f.event.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if got := dbtest.Reload[models.Event](t, f.db, f.event.ID); got.State != models.EventPublished {
		t.Fatalf("state = %s before end, want published", got.State)
	}

	f.now = models.Day(f.event.EndDate).Add(24 * time.Hour)
	if err := f.c.Touch(ctx, f.event.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got := dbtest.Reload[models.Event](t, f.db, f.event.ID)
	if got.State != models.EventFinalized || got.FinalizedAt == nil {
		t.Fatalf("event = %+v, want finalized", got)
	}
}

func TestArchiveAndReactivate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	handle, _ := f.blobs.Put(ctx, "memories", "fotos.zip", []byte("zip"))
	f.db.Create(&models.Memory{EventID: f.event.ID, Label: "Fotos", BlobHandle: handle, UploadedAt: f.now})

	f.now = models.Day(f.event.EndDate).Add(24 * time.Hour)
	if err := f.c.Touch(ctx, f.event.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}

	if _, err := f.c.Archive(ctx, f.admin, f.event.ID, "cerrar evento"); apperr.CodeOf(err) != apperr.CodeConfirmationMismatch {
		t.Fatalf("code = %s, want confirmation_mismatch", apperr.CodeOf(err))
	}
	if _, err := f.c.Archive(ctx, f.admin, f.event.ID, ConfirmationPhrase); !errors.Is(err, apperr.ErrStateNotAllowed) {
		t.Fatalf("early archive err = %v, want state_not_allowed", err)
	}

	f.now = models.Day(f.event.EndDate).Add(ArchiveWindow)
	ev, err := f.c.Archive(ctx, f.admin, f.event.ID, ConfirmationPhrase)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if ev.State != models.EventArchived || ev.ArchivedAt == nil {
		t.Fatalf("event = %+v", ev)
	}
	if f.count(t, &models.Memory{}) != 0 || f.blobs.Has(handle) {
		t.Fatal("memories should be purged")
	}
	if f.count(t, &models.Enrollment{}) != 2 {
		t.Fatal("archival keeps enrollments")
	}

	ev, err = f.c.Reactivate(ctx, f.admin, f.event.ID)
	if err != nil || ev.State != models.EventFinalized {
		t.Fatalf("reactivate = %s, %v", ev.State, err)
	}
	trail, err := f.c.AuditTrail(ctx, f.admin, f.event.ID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	last := trail[len(trail)-1]
	if last.OldState != models.EventArchived || last.NewState != models.EventFinalized || last.Reason != ReasonReactivated {
		t.Fatalf("last audit = %+v", last)
	}
	if len(trail) != 3 {
		t.Fatalf("audit records = %d, want finalize, archive, reactivate", len(trail))
	}
}

func TestSweep(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	ended := dbtest.Event(t, f.db, f.admin.PersonID, func(e *models.Event) {
		e.StartDate = models.Day(f.now).AddDate(0, 0, -10)
		e.EndDate = models.Day(f.now).AddDate(0, 0, -9)
	})
	if _, _, err := f.c.SoftCancel(ctx, f.admin, f.event.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	res, err := f.c.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Purged != 0 || res.Finalized != 1 {
		t.Fatalf("first sweep = %+v, want 0 purged 1 finalized", res)
	}

	f.now = f.now.Add(6 * time.Hour)
	res, err = f.c.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Purged != 1 || res.Finalized != 0 {
		t.Fatalf("second sweep = %+v, want 1 purged", res)
	}
	if got := dbtest.Reload[models.Event](t, f.db, ended.ID); got.State != models.EventFinalized {
		t.Fatalf("ended event state = %s", got.State)
	}
}
