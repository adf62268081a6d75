package identity

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/credentials"
	"github.com/sirdesai22/event-service/internal/dbtest"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/notify"
)

type fakeNotifier struct {
	messages []notify.Message
}

func (f *fakeNotifier) Enqueue(ctx context.Context, msg notify.Message) []string {
	f.messages = append(f.messages, msg)
	return nil
}

func newRegistry(t *testing.T) (*Registry, *fakeNotifier) {
	t.Helper()
	n := &fakeNotifier{}
	r := NewRegistry(dbtest.Open(t), credentials.Random{}, n)
	r.Clock = dbtest.Clock(dbtest.Now)
	return r, n
}

func TestEnsurePersonCreatesThenRefreshes(t *testing.T) {
	t.Parallel()

	r, _ := newRegistry(t)
	profile := Profile{Email: "Ana@Example.com", GivenName: "Ana", FamilyName: "Ruiz", Role: models.RoleAttendee}

	first, err := r.EnsurePerson(r.DB, "1001", profile)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !first.Created || len(first.Secret) != credentials.SecretLength {
		t.Fatalf("created = %v secret len = %d", first.Created, len(first.Secret))
	}
	if first.Person.Username != "ana" || first.Person.Email != "ana@example.com" || !first.Person.FirstLogin {
		t.Fatalf("unexpected person %+v", first.Person)
	}
	if !credentials.CheckSecret(first.Person.PasswordHash, first.Secret) {
		t.Fatal("stored hash must match the one-time secret")
	}

	profile.Phone = "3001234567"
	profile.Role = models.RoleExponent
	second, err := r.EnsurePerson(r.DB, "1001", profile)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if second.Created || second.Secret != "" || second.Person.ID != first.Person.ID {
		t.Fatalf("second call should return the same person without a secret: %+v", second)
	}
	if second.Person.Phone != "3001234567" {
		t.Fatalf("phone = %q, want refreshed", second.Person.Phone)
	}
	roles, _ := r.Roles(context.Background(), first.Person.ID)
	if len(roles) != 2 {
		t.Fatalf("roles = %v, want attendee and exponent", roles)
	}
}

func TestEnsurePersonDuplicates(t *testing.T) {
	t.Parallel()

	r, _ := newRegistry(t)
	if _, err := r.EnsurePerson(r.DB, "1", Profile{Username: "ana", Email: "ana@example.com", GivenName: "Ana"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := r.EnsurePerson(r.DB, "2", Profile{Username: "ana", Email: "other@example.com", GivenName: "Otra"})
	if apperr.CodeOf(err) != apperr.CodeDuplicateUsername {
		t.Fatalf("code = %s, want duplicate_username", apperr.CodeOf(err))
	}
	_, err = r.EnsurePerson(r.DB, "3", Profile{Username: "otra", Email: "ana@example.com", GivenName: "Otra"})
	if apperr.CodeOf(err) != apperr.CodeDuplicateEmail {
		t.Fatalf("code = %s, want duplicate_email", apperr.CodeOf(err))
	}
	_, err = r.EnsurePerson(r.DB, "", Profile{Email: "bad"})
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || len(appErr.Fields) != 3 {
		t.Fatalf("err = %v, want 3 aggregated fields", err)
	}
}

func TestDerivedUsernameTakesCounter(t *testing.T) {
	t.Parallel()

	r, _ := newRegistry(t)
	want := []string{"ana", "ana1", "ana2"}
	for i, email := range []string{"ana@gmail.com", "ana@yahoo.com", "ANA@example.org"} {
		got, err := r.EnsurePerson(r.DB, "100"+strconv.Itoa(i), Profile{Email: email, GivenName: "Ana"})
		if err != nil {
			t.Fatalf("ensure %s: %v", email, err)
		}
		if got.Person.Username != want[i] {
			t.Fatalf("username = %q, want %q", got.Person.Username, want[i])
		}
	}
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	r, _ := newRegistry(t)
	ensured, err := r.EnsurePerson(r.DB, "9", Profile{Username: "luis", Email: "luis@example.com", GivenName: "Luis"})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	ctx := context.Background()

	for _, id := range []string{"luis", "LUIS@example.com"} {
		if _, err := r.Authenticate(ctx, id, ensured.Secret); err != nil {
			t.Fatalf("authenticate %q: %v", id, err)
		}
	}
	if _, err := r.Authenticate(ctx, "nobody", "x"); apperr.CodeOf(err) != apperr.CodeAuthNotFound {
		t.Fatalf("code = %s, want auth_not_found", apperr.CodeOf(err))
	}
	if _, err := r.Authenticate(ctx, "luis", "wrong"); apperr.CodeOf(err) != apperr.CodeAuthBadSecret {
		t.Fatalf("code = %s, want auth_bad_secret", apperr.CodeOf(err))
	}
}

func TestChangePassword(t *testing.T) {
	t.Parallel()

	r, _ := newRegistry(t)
	ensured, _ := r.EnsurePerson(r.DB, "7", Profile{Email: "eva@example.com", GivenName: "Eva"})
	act := actor.New(ensured.Person.ID, models.RoleEvaluator)
	ctx := context.Background()

	if err := r.ChangePassword(ctx, act, "nope", "newsecret1"); apperr.CodeOf(err) != apperr.CodeAuthBadSecret {
		t.Fatalf("code = %s, want auth_bad_secret", apperr.CodeOf(err))
	}
	if err := r.ChangePassword(ctx, act, ensured.Secret, "short"); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("kind = %s, want validation", apperr.KindOf(err))
	}
	if err := r.ChangePassword(ctx, act, ensured.Secret, "newsecret1"); err != nil {
		t.Fatalf("change: %v", err)
	}
	p := dbtest.Reload[models.Person](t, r.DB, ensured.Person.ID)
	if p.FirstLogin || !credentials.CheckSecret(p.PasswordHash, "newsecret1") {
		t.Fatal("password should be replaced and first-login cleared")
	}
}

func TestRemoveProfileGuards(t *testing.T) {
	t.Parallel()

	r, _ := newRegistry(t)
	db := r.DB
	ctx := context.Background()
	admin := dbtest.Person(t, db, models.RoleEventAdmin)
	ev := dbtest.Event(t, db, admin.ID)

	busy := dbtest.Person(t, db, models.RoleAttendee)
	dbtest.Enrollment(t, db, models.Enrollment{EventID: ev.ID, PersonID: busy.ID, Role: models.RoleAttendee, State: models.EnrollmentApproved, AccessKey: "k", QRHandle: "q"})
	if err := r.RemoveProfile(ctx, actor.New(busy.ID, models.RoleAttendee)); !errors.Is(err, apperr.ErrStateNotAllowed) {
		t.Fatalf("err = %v, want state_not_allowed", err)
	}

	leader := dbtest.Person(t, db, models.RoleExponent)
	member := dbtest.Person(t, db, models.RoleExponent)
	code := "LEAD0001"
	lrow := dbtest.Enrollment(t, db, models.Enrollment{EventID: ev.ID, PersonID: leader.ID, Role: models.RoleExponent, State: models.EnrollmentPending, IsGroupRecord: true, ProjectCode: &code})
	dbtest.Enrollment(t, db, models.Enrollment{EventID: ev.ID, PersonID: member.ID, Role: models.RoleExponent, State: models.EnrollmentPending, ProjectLeaderID: &lrow.ID, ProjectCode: &code})
	if err := r.RemoveProfile(ctx, actor.New(leader.ID, models.RoleExponent)); !errors.Is(err, apperr.ErrStateNotAllowed) {
		t.Fatalf("leader err = %v, want state_not_allowed", err)
	}

	free := dbtest.Person(t, db, models.RoleAttendee)
	dbtest.Enrollment(t, db, models.Enrollment{EventID: ev.ID, PersonID: free.ID, Role: models.RoleAttendee, State: models.EnrollmentPending})
	if err := r.RemoveProfile(ctx, actor.New(free.ID, models.RoleAttendee)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	var people, rows int64
	db.Model(&models.Person{}).Where("id = ?", free.ID).Count(&people)
	db.Model(&models.Enrollment{}).Where("person_id = ?", free.ID).Count(&rows)
	if people != 0 || rows != 0 {
		t.Fatal("person and enrollments should be gone")
	}
}

func TestAdminInvitationFlow(t *testing.T) {
	t.Parallel()

	r, n := newRegistry(t)
	ctx := context.Background()
	super := dbtest.Person(t, r.DB, models.RoleSuperAdmin)
	superAct := actor.New(super.ID, models.RoleSuperAdmin)

	if _, _, err := r.InviteAdmin(ctx, actor.New(uuid.New(), models.RoleEventAdmin), "x@example.com"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
	inv, _, err := r.InviteAdmin(ctx, superAct, "Nuevo@Example.com")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if len(n.messages) != 1 || n.messages[0].Kind != notify.KindAdminInvitation {
		t.Fatalf("messages = %+v", n.messages)
	}

	p, err := r.RegisterAdmin(ctx, inv.Token, "5555", Profile{GivenName: "Nuevo"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if p.Active || p.Email != "nuevo@example.com" {
		t.Fatalf("registered admin should be inactive with the invited email: %+v", p)
	}
	if _, err := r.RegisterAdmin(ctx, inv.Token, "6666", Profile{GivenName: "Otro"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("reused token err = %v, want not found", err)
	}

	if _, _, err := r.ActivateAdmin(ctx, superAct, p.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	last := n.messages[len(n.messages)-1]
	if last.Kind != notify.KindAdminCredentials || len(last.Data["Secret"]) != credentials.SecretLength {
		t.Fatalf("activation mail = %+v", last)
	}
	if _, err := r.Authenticate(ctx, "nuevo@example.com", last.Data["Secret"]); err != nil {
		t.Fatalf("activated admin should log in: %v", err)
	}
}
