package main

import (
	"bytes"
	"context"
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/sirdesai22/event-service/internal/blob"
	"github.com/sirdesai22/event-service/internal/dbtest"
	"github.com/sirdesai22/event-service/internal/events"
	"github.com/sirdesai22/event-service/internal/lifecycle"
	"github.com/sirdesai22/event-service/internal/locks"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/notify"
	"github.com/sirdesai22/event-service/internal/scoring"
	"github.com/sirdesai22/event-service/internal/workers"
)

type discard struct{}

func (discard) Enqueue(context.Context, notify.Message) []string { return nil }

func noEnv(string) (string, bool) { return "", false }

func TestParseConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantCmd string
		wantErr bool
	}{
		{"no command", nil, "", true},
		{"unknown command", []string{"explode"}, "", true},
		{"missing target", []string{"archive"}, "", true},
		{"extra target", []string{"sweep", "x"}, "sweep", false},
		{"sweep", []string{"sweep"}, "sweep", false},
		{"archive with flags", []string{"-as", "a@example.com", "-confirm", "X", "archive", "id"}, "archive", false},
	}
	for _, tt := range tests {
		cfg, err := ParseConfig(flag.NewFlagSet("eventctl", flag.ContinueOnError), tt.args, noEnv)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%s: err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if err != nil {
			if got := exitCode(err); got != 2 {
				t.Fatalf("%s: exit = %d, want 2", tt.name, got)
			}
			continue
		}
		if cfg.Command != tt.wantCmd {
			t.Fatalf("%s: command = %q, want %q", tt.name, cfg.Command, tt.wantCmd)
		}
	}

	cfg, err := ParseConfig(flag.NewFlagSet("eventctl", flag.ContinueOnError), []string{"stats", "id"},
		func(k string) (string, bool) { return "root@example.com", k == "SUPERADMIN_EMAIL" })
	if err != nil || cfg.As != "root@example.com" || cfg.Target != "id" {
		t.Fatalf("cfg = %+v, %v, want -as from SUPERADMIN_EMAIL", cfg, err)
	}
}

type fixture struct {
	svc   Services
	now   time.Time
	admin models.Person
	event models.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	f := &fixture{now: dbtest.Now}
	lc := lifecycle.New(db, blob.NewMemory(), discard{}, locks.NewLocal())
	lc.Clock = func() time.Time { return f.now }
	f.svc = Services{
		DB:        db,
		Lifecycle: lc,
		Events:    events.NewRegistry(db, discard{}),
		Scoring:   scoring.NewEngine(db),
		Retrier:   workers.NewRetrier(db, nil),
	}
	f.admin = dbtest.Person(t, db, models.RoleEventAdmin)
	f.event = dbtest.Event(t, db, f.admin.ID)
	return f
}

func (f *fixture) run(t *testing.T, cfg Config) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := Run(context.Background(), f.svc, cfg, &out)
	return out.String(), err
}

func TestSweepArchiveReactivate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.event.ID.String()

	f.now = dbtest.Now.Add(72 * time.Hour)
	out, err := f.run(t, Config{Command: "sweep"})
	if err != nil || !strings.Contains(out, "finalized 1") {
		t.Fatalf("sweep = %q, %v, want one finalized", out, err)
	}

	f.now = dbtest.Now.Add(100 * 24 * time.Hour)
	_, err = f.run(t, Config{Command: "archive", Target: id, As: f.admin.Email, Confirm: "yes"})
	if got := exitCode(err); got != 2 {
		t.Fatalf("wrong phrase exit = %d (%v), want 2", got, err)
	}
	if _, err := f.run(t, Config{Command: "archive", Target: id, As: f.admin.Email, Confirm: lifecycle.ConfirmationPhrase}); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if got := dbtest.Reload[models.Event](t, f.svc.DB, f.event.ID).State; got != models.EventArchived {
		t.Fatalf("state = %s, want archived", got)
	}

	other := dbtest.Person(t, f.svc.DB, models.RoleEventAdmin)
	_, err = f.run(t, Config{Command: "reactivate", Target: id, As: other.Email})
	if got := exitCode(err); got != 5 {
		t.Fatalf("other admin exit = %d (%v), want 5", got, err)
	}
	if _, err := f.run(t, Config{Command: "reactivate", Target: id, As: f.admin.Email}); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if got := dbtest.Reload[models.Event](t, f.svc.DB, f.event.ID).State; got != models.EventFinalized {
		t.Fatalf("state = %s, want finalized", got)
	}
}

func TestRankingAndPodiumTables(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	for i, code := range []string{"AAAA0001", "BBBB0002", "CCCC0003", "DDDD0004"} {
		c, mark := code, 60+i*10
		dbtest.Enrollment(t, f.svc.DB, models.Enrollment{
			EventID: f.event.ID, PersonID: dbtest.Person(t, f.svc.DB, models.RoleExponent).ID,
			Role: models.RoleExponent, State: models.EnrollmentApproved, IsGroupRecord: true,
			ProjectCode: &c, ProjectTitle: "Proyecto " + code, FinalMark: &mark,
		})
	}

	out, err := f.run(t, Config{Command: "ranking", Target: f.event.ID.String()})
	if err != nil {
		t.Fatalf("ranking: %v", err)
	}
	if first, last := strings.Index(out, "DDDD0004"), strings.Index(out, "AAAA0001"); first < 0 || last < first {
		t.Fatalf("ranking out of order:\n%s", out)
	}
	out, err = f.run(t, Config{Command: "podium", Target: f.event.ID.String()})
	if err != nil {
		t.Fatalf("podium: %v", err)
	}
	if strings.Contains(out, "AAAA0001") || !strings.Contains(out, "BBBB0002") {
		t.Fatalf("podium should hold the top three:\n%s", out)
	}
}

func TestRunErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name string
		cfg  Config
		want int
	}{
		{"bad event id", Config{Command: "stats", Target: "nope", As: f.admin.Email}, 2},
		{"unknown person", Config{Command: "stats", Target: f.event.ID.String(), As: "ghost@example.com"}, 4},
		{"no actor", Config{Command: "stats", Target: f.event.ID.String()}, 2},
		{"requeue needs superadmin", Config{Command: "requeue", Target: "1", As: f.admin.Email}, 5},
		{"requeue bad id", Config{Command: "requeue", Target: "x"}, 2},
		{"reindex needs superadmin", Config{Command: "reindex", As: f.admin.Email}, 5},
	}
	for _, tt := range tests {
		_, err := f.run(t, tt.cfg)
		if got := exitCode(err); got != tt.want {
			t.Fatalf("%s: exit = %d (%v), want %d", tt.name, got, err, tt.want)
		}
	}

	out, err := f.run(t, Config{Command: "stats", Target: f.event.ID.String(), As: f.admin.Email})
	if err != nil || !strings.Contains(out, "ROLE") {
		t.Fatalf("stats = %q, %v", out, err)
	}
}
