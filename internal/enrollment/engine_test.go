package enrollment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/blob"
	"github.com/sirdesai22/event-service/internal/dbtest"
	"github.com/sirdesai22/event-service/internal/identity"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/notify"
	"gorm.io/gorm"
)

type fakeNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (f *fakeNotifier) Enqueue(ctx context.Context, msg notify.Message) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeNotifier) kinds() []notify.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]notify.Kind, 0, len(f.messages))
	for _, m := range f.messages {
		out = append(out, m.Kind)
	}
	return out
}

func (f *fakeNotifier) last() notify.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[len(f.messages)-1]
}

type fixture struct {
	e     *Engine
	db    *gorm.DB
	blobs *blob.Memory
	n     *fakeNotifier
	gen   *dbtest.Sequence
	admin actor.Context
	event models.Event
}

func newFixture(t *testing.T, mutate ...func(*models.Event)) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	f := &fixture{db: db, blobs: blob.NewMemory(), n: &fakeNotifier{}, gen: &dbtest.Sequence{}}
	ident := identity.NewRegistry(db, f.gen, f.n)
	ident.Clock = dbtest.Clock(dbtest.Now)
	f.e = NewEngine(db, ident, f.blobs, f.gen, f.n)
	f.e.Clock = dbtest.Clock(dbtest.Now)

	admin := dbtest.Person(t, db, models.RoleEventAdmin)
	f.admin = actor.New(admin.ID, models.RoleEventAdmin)
	f.event = dbtest.Event(t, db, admin.ID, mutate...)
	return f
}

func applicant(nid, email, name string) Applicant {
	return Applicant{NationalID: nid, Profile: identity.Profile{Email: email, GivenName: name, FamilyName: "Test"}}
}

func existing(p models.Person) Applicant {
	return Applicant{NationalID: p.NationalID, Profile: identity.Profile{Email: p.Email, GivenName: p.GivenName}}
}

func (f *fixture) submitAttendee(t *testing.T, a Applicant) models.Enrollment {
	t.Helper()
	res, err := f.e.Submit(context.Background(), Submission{EventID: f.event.ID, Role: models.RoleAttendee, Applicant: a})
	if err != nil {
		t.Fatalf("submit attendee: %v", err)
	}
	return res.Enrollment
}

func pdf() *Upload {
	return &Upload{Name: "expo.pdf", Data: []byte("%PDF-1.4")}
}

func TestCapacityRaceLastSeat(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(ev *models.Event) { ev.Capacity, ev.TotalCapacity = 1, 1 })
	ctx := context.Background()

	a := f.submitAttendee(t, applicant("A-1", "a@example.com", "Ana"))
	b := f.submitAttendee(t, applicant("B-1", "b@example.com", "Beto"))

	if _, err := f.e.Approve(ctx, f.admin, a.ID); err != nil {
		t.Fatalf("approve a: %v", err)
	}
	_, err := f.e.Approve(ctx, f.admin, b.ID)
	if !errors.Is(err, apperr.ErrCapacityExhausted) {
		t.Fatalf("approve b err = %v, want capacity_exhausted", err)
	}

	ev := dbtest.Reload[models.Event](t, f.db, f.event.ID)
	if ev.Capacity != 0 {
		t.Fatalf("capacity = %d, want 0", ev.Capacity)
	}
	if got := dbtest.Reload[models.Enrollment](t, f.db, a.ID); got.State != models.EnrollmentApproved || got.AccessKey == "" || got.QRHandle == "" {
		t.Fatalf("a = %+v, want approved with credentials", got)
	}
	if got := dbtest.Reload[models.Enrollment](t, f.db, b.ID); got.State != models.EnrollmentPending || got.AccessKey != "" {
		t.Fatalf("b = %+v, want pending without key", got)
	}
	if f.blobs.Len() != 1 {
		t.Fatalf("blobs = %d, want only a's QR", f.blobs.Len())
	}
}

func TestConcurrentApprovalsNeverOversell(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(ev *models.Event) { ev.Capacity, ev.TotalCapacity = 3, 3 })
	ids := make([]uuid.UUID, 0, 6)
	for i := 0; i < 6; i++ {
		nid := uuid.NewString()[:8]
		ids = append(ids, f.submitAttendee(t, applicant(nid, nid+"@example.com", "P"+nid)).ID)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		approved  int
		exhausted int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := f.e.Approve(context.Background(), f.admin, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				approved++
			case errors.Is(err, apperr.ErrCapacityExhausted):
				exhausted++
			default:
				t.Errorf("approve %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	if approved != 3 || exhausted != 3 {
		t.Fatalf("approved=%d exhausted=%d, want 3/3", approved, exhausted)
	}
	if ev := dbtest.Reload[models.Event](t, f.db, f.event.ID); ev.Capacity != 0 {
		t.Fatalf("capacity = %d, want 0", ev.Capacity)
	}
}

func TestCrossRoleExclusivity(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	p := dbtest.Person(t, f.db, models.RoleAttendee)
	dbtest.Enrollment(t, f.db, models.Enrollment{
		EventID: f.event.ID, PersonID: p.ID, Role: models.RoleAttendee, State: models.EnrollmentApproved,
	})

	_, err := f.e.Submit(ctx, Submission{
		EventID: f.event.ID, Role: models.RoleEvaluator, Applicant: existing(p),
		Document: &Upload{Name: "cv.pdf", Data: []byte("cv")},
	})
	if !errors.Is(err, apperr.ErrRoleConflict) {
		t.Fatalf("err = %v, want role_conflict", err)
	}
	_, err = f.e.Submit(ctx, Submission{EventID: f.event.ID, Role: models.RoleAttendee, Applicant: existing(p)})
	if !errors.Is(err, apperr.ErrAlreadyEnrolled) {
		t.Fatalf("err = %v, want already_enrolled", err)
	}

	var n int64
	f.db.Model(&models.Enrollment{}).Where("person_id = ?", p.ID).Count(&n)
	if n != 1 {
		t.Fatalf("enrollments = %d, want 1", n)
	}
	if f.blobs.Len() != 0 {
		t.Fatalf("blobs = %d, want none left by the failed submission", f.blobs.Len())
	}
}

func TestSubmitPreconditions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*models.Event)
		sub    func(eventID uuid.UUID) Submission
		want   apperr.Code
	}{
		{
			name:   "draft event",
			mutate: func(ev *models.Event) { ev.State = models.EventDraft },
			sub: func(id uuid.UUID) Submission {
				return Submission{EventID: id, Role: models.RoleAttendee, Applicant: applicant("1", "x@example.com", "X")}
			},
			want: apperr.CodeEventNotModifiable,
		},
		{
			name:   "preinscription closed",
			mutate: func(ev *models.Event) { ev.PreinsEvaluator = false },
			sub: func(id uuid.UUID) Submission {
				return Submission{EventID: id, Role: models.RoleEvaluator, Applicant: applicant("1", "x@example.com", "X"), Document: pdf()}
			},
			want: apperr.CodeStateNotAllowed,
		},
		{
			name:   "no seats left",
			mutate: func(ev *models.Event) { ev.Capacity = 0 },
			sub: func(id uuid.UUID) Submission {
				return Submission{EventID: id, Role: models.RoleAttendee, Applicant: applicant("1", "x@example.com", "X")}
			},
			want: apperr.CodeCapacityExhausted,
		},
		{
			name:   "paid without receipt",
			mutate: func(ev *models.Event) { ev.HasCost = true },
			sub: func(id uuid.UUID) Submission {
				return Submission{EventID: id, Role: models.RoleAttendee, Applicant: applicant("1", "x@example.com", "X")}
			},
			want: apperr.CodeMissingDocument,
		},
		{
			name: "exponent without document",
			sub: func(id uuid.UUID) Submission {
				return Submission{EventID: id, Role: models.RoleExponent, Applicant: applicant("1", "x@example.com", "X"), ProjectTitle: "Robots"}
			},
			want: apperr.CodeMissingDocument,
		},
		{
			name: "exponent document not pdf",
			sub: func(id uuid.UUID) Submission {
				return Submission{
					EventID: id, Role: models.RoleExponent, Applicant: applicant("1", "x@example.com", "X"),
					ProjectTitle: "Robots", Document: &Upload{Name: "expo.docx", Data: []byte("doc")},
				}
			},
			want: apperr.CodeValidation,
		},
		{
			name: "roster too large",
			sub: func(id uuid.UUID) Submission {
				sub := Submission{EventID: id, Role: models.RoleExponent, Applicant: applicant("1", "x@example.com", "X"), Document: pdf(), ProjectTitle: "Robots"}
				for i := 0; i < 5; i++ {
					sub.Members = append(sub.Members, applicant(uuid.NewString()[:6], uuid.NewString()[:6]+"@example.com", "M"))
				}
				return sub
			},
			want: apperr.CodeGroupFull,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var mutate []func(*models.Event)
			if tt.mutate != nil {
				mutate = append(mutate, tt.mutate)
			}
			f := newFixture(t, mutate...)
			_, err := f.e.Submit(context.Background(), tt.sub(f.event.ID))
			if got := apperr.CodeOf(err); got != tt.want {
				t.Fatalf("code = %v (%v), want %v", got, err, tt.want)
			}
			var people int64
			f.db.Model(&models.Person{}).Where("national_id = ?", "1").Count(&people)
			if people != 0 {
				t.Fatalf("person created despite failure")
			}
		})
	}
}

func TestSubmitCreatesPersonAndMailsSecret(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(ev *models.Event) { ev.HasCost = true })
	f.gen.Secrets = []string{"s3cr3t-s3cr3t-s3cr3t"}
	res, err := f.e.Submit(context.Background(), Submission{
		EventID: f.event.ID, Role: models.RoleAttendee,
		Applicant: applicant("C-1", "carla@example.com", "Carla"),
		Receipt:   &Upload{Name: "recibo.jpg", Data: []byte("jpg")},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Enrollment.State != models.EnrollmentPending || res.Enrollment.ReceiptHandle == "" {
		t.Fatalf("enrollment = %+v, want pending with receipt", res.Enrollment)
	}
	msg := f.n.last()
	if msg.Kind != notify.KindCredentials {
		t.Fatalf("kind = %v, want credentials", msg.Kind)
	}
	if got := msg.PerRecipient[0]["Secret"]; got != "s3cr3t-s3cr3t-s3cr3t" {
		t.Fatalf("secret = %q, want generated secret", got)
	}

	// a known person gets the mail without a secret
	p := dbtest.Person(t, f.db, models.RoleVisitor)
	if _, err := f.e.Submit(context.Background(), Submission{
		EventID: f.event.ID, Role: models.RoleAttendee, Applicant: existing(p),
		Receipt: &Upload{Name: "r.png", Data: []byte("png")},
	}); err != nil {
		t.Fatalf("submit existing: %v", err)
	}
	if got := f.n.last().PerRecipient[0]["Secret"]; got != "" {
		t.Fatalf("secret = %q, want none for existing person", got)
	}
}

func TestExponentSubmissionFormsProject(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.gen.ProjectCodes = []string{"ABC12345"}
	res, err := f.e.Submit(context.Background(), Submission{
		EventID: f.event.ID, Role: models.RoleExponent,
		Applicant:    applicant("L-1", "lider@example.com", "Lina"),
		Document:     pdf(),
		ProjectTitle: "Robots solares",
		Members: []Applicant{
			applicant("M-1", "m1@example.com", "Mario"),
			applicant("M-2", "m2@example.com", "Marta"),
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Enrollment.IsLeader() || res.Enrollment.Code() != "ABC12345" {
		t.Fatalf("leader = %+v, want leader of ABC12345", res.Enrollment)
	}
	if len(res.Members) != 2 {
		t.Fatalf("members = %d, want 2", len(res.Members))
	}
	for _, m := range res.Members {
		if m.Code() != "ABC12345" || m.ProjectLeaderID == nil || *m.ProjectLeaderID != res.Enrollment.ID {
			t.Fatalf("member = %+v, want linked to leader", m)
		}
	}
	var roster models.Person
	f.db.First(&roster, "national_id = ?", "M-1")
	if roster.CreatedForEvent == nil || *roster.CreatedForEvent != f.event.ID {
		t.Fatalf("roster person CreatedForEvent = %v, want event", roster.CreatedForEvent)
	}
	if got := len(f.n.last().To); got != 3 {
		t.Fatalf("credential mails = %d, want 3", got)
	}
}

func TestApproveThenRejectRestoresCapacity(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	en := f.submitAttendee(t, applicant("D-1", "d@example.com", "Dora"))

	if _, err := f.e.Approve(ctx, f.admin, en.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if ev := dbtest.Reload[models.Event](t, f.db, f.event.ID); ev.Capacity != 9 {
		t.Fatalf("capacity after approve = %d, want 9", ev.Capacity)
	}
	if _, err := f.e.Reject(ctx, f.admin, en.ID, ""); apperr.CodeOf(err) != apperr.CodeValidation {
		t.Fatalf("reject without reason err = %v, want validation", err)
	}
	res, err := f.e.Reject(ctx, f.admin, en.ID, "comprobante ilegible")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if res.Enrollment.AccessKey != "" || res.Enrollment.QRHandle != "" {
		t.Fatalf("credentials not cleared: %+v", res.Enrollment)
	}
	if ev := dbtest.Reload[models.Event](t, f.db, f.event.ID); ev.Capacity != 10 {
		t.Fatalf("capacity after reject = %d, want 10", ev.Capacity)
	}
	if f.blobs.Len() != 0 {
		t.Fatalf("qr blob not deleted")
	}
	if got := f.n.last(); got.Kind != notify.KindRejection || got.Data["Reason"] != "comprobante ilegible" {
		t.Fatalf("last message = %+v, want rejection with reason", got)
	}
}

func TestReviewRequiresEventAdmin(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	en := f.submitAttendee(t, applicant("E-1", "e@example.com", "Eva"))
	other := dbtest.Person(t, f.db, models.RoleEventAdmin)

	_, err := f.e.Approve(context.Background(), actor.New(other.ID, models.RoleEventAdmin), en.ID)
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
}

func TestCancelByOwner(t *testing.T) {
	t.Parallel()

	t.Run("approved attendee returns seat", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()
		en := f.submitAttendee(t, applicant("F-1", "f@example.com", "Fito"))
		if _, err := f.e.Approve(ctx, f.admin, en.ID); err != nil {
			t.Fatalf("approve: %v", err)
		}
		res, err := f.e.CancelByOwner(ctx, actor.New(en.PersonID, models.RoleAttendee), f.event.ID)
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if res.Enrollment.State != models.EnrollmentCancelled || res.Enrollment.AccessKey != "" {
			t.Fatalf("enrollment = %+v, want cancelled without key", res.Enrollment)
		}
		if ev := dbtest.Reload[models.Event](t, f.db, f.event.ID); ev.Capacity != 10 {
			t.Fatalf("capacity = %d, want 10", ev.Capacity)
		}
		// the slot is free again
		if _, err := f.e.Submit(ctx, Submission{EventID: f.event.ID, Role: models.RoleAttendee,
			Applicant: applicant("F-1", "f@example.com", "Fito")}); err != nil {
			t.Fatalf("resubmit: %v", err)
		}
	})

	t.Run("leader cancels project member detaches", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()
		res, err := f.e.Submit(ctx, Submission{
			EventID: f.event.ID, Role: models.RoleExponent,
			Applicant: applicant("L-2", "l2@example.com", "Luz"), Document: pdf(), ProjectTitle: "Agua",
			Members: []Applicant{applicant("M-3", "m3@example.com", "Mia"), applicant("M-4", "m4@example.com", "Mel")},
		})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}

		detached, err := f.e.CancelByOwner(ctx, actor.New(res.Members[0].PersonID, models.RoleExponent), f.event.ID)
		if err != nil {
			t.Fatalf("member cancel: %v", err)
		}
		if detached.Enrollment.ProjectCode != nil || detached.Enrollment.ProjectLeaderID != nil {
			t.Fatalf("member still linked: %+v", detached.Enrollment)
		}

		whole, err := f.e.CancelByOwner(ctx, actor.New(res.Enrollment.PersonID, models.RoleExponent), f.event.ID)
		if err != nil {
			t.Fatalf("leader cancel: %v", err)
		}
		if len(whole.Members) != 1 {
			t.Fatalf("cancelled members = %d, want the remaining 1", len(whole.Members))
		}
		if got := dbtest.Reload[models.Enrollment](t, f.db, res.Members[1].ID); got.State != models.EnrollmentCancelled {
			t.Fatalf("member state = %v, want cancelled", got.State)
		}
		if got := f.n.last(); got.Kind != notify.KindCancellation || len(got.To) != 1 {
			t.Fatalf("last message = %+v, want cancellation to 1 member", got)
		}
	})

	t.Run("ended event", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		en := f.submitAttendee(t, applicant("G-1", "g@example.com", "Gus"))
		f.e.Clock = dbtest.Clock(dbtest.Now.Add(72 * time.Hour))
		_, err := f.e.CancelByOwner(context.Background(), actor.New(en.PersonID, models.RoleAttendee), f.event.ID)
		if !errors.Is(err, apperr.ErrEventEnded) {
			t.Fatalf("err = %v, want event_ended", err)
		}
	})
}

func TestCheckIn(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.gen.AccessKeys = []string{"KEY1234567"}
	en := f.submitAttendee(t, applicant("H-1", "h@example.com", "Hugo"))
	if _, err := f.e.Approve(ctx, f.admin, en.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	row, already, err := f.e.CheckIn(ctx, f.admin, f.event.ID, "KEY1234567")
	if err != nil || already || row.CheckedInAt == nil {
		t.Fatalf("first scan = %+v, %v, %v", row, already, err)
	}
	if _, already, err = f.e.CheckIn(ctx, f.admin, f.event.ID, "KEY1234567"); err != nil || !already {
		t.Fatalf("second scan already=%v err=%v, want true/nil", already, err)
	}
	if _, _, err = f.e.CheckIn(ctx, f.admin, f.event.ID, "NOPE000000"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unknown key err = %v, want not_found", err)
	}
	if _, _, err = f.e.CheckIn(ctx, f.admin, f.event.ID, "bad key!"); apperr.CodeOf(err) != apperr.CodeValidation {
		t.Fatalf("malformed key err = %v, want validation", err)
	}
}

func TestUpdateDocumentsOnlyWhilePending(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(ev *models.Event) { ev.HasCost = true })
	ctx := context.Background()
	res, err := f.e.Submit(ctx, Submission{
		EventID: f.event.ID, Role: models.RoleAttendee,
		Applicant: applicant("I-1", "i@example.com", "Ines"),
		Receipt:   &Upload{Name: "old.png", Data: []byte("old")},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	owner := actor.New(res.Enrollment.PersonID, models.RoleAttendee)

	updated, err := f.e.UpdateDocuments(ctx, owner, res.Enrollment.ID, &Upload{Name: "new.png", Data: []byte("new")}, nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ReceiptHandle == res.Enrollment.ReceiptHandle || f.blobs.Has(res.Enrollment.ReceiptHandle) {
		t.Fatalf("receipt not replaced")
	}

	if _, err := f.e.Approve(ctx, f.admin, res.Enrollment.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, err = f.e.UpdateDocuments(ctx, owner, res.Enrollment.ID, &Upload{Name: "late.png", Data: []byte("x")}, nil)
	if !errors.Is(err, apperr.ErrStateNotAllowed) {
		t.Fatalf("err = %v, want state_not_allowed", err)
	}
}

func TestForPersonListsOwnEnrollments(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	en := f.submitAttendee(t, applicant("J-1", "j@example.com", "Juan"))
	mine, err := f.e.ForPerson(context.Background(), actor.New(en.PersonID, models.RoleAttendee), en.PersonID)
	if err != nil {
		t.Fatalf("for person: %v", err)
	}
	if len(mine) != 1 || mine[0].Event.ID != f.event.ID {
		t.Fatalf("mine = %+v, want one entry for the event", mine)
	}
	stranger := dbtest.Person(t, f.db, models.RoleAttendee)
	if _, err := f.e.ForPerson(context.Background(), actor.New(stranger.ID, models.RoleAttendee), en.PersonID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
}
