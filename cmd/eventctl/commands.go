package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/events"
	"github.com/sirdesai22/event-service/internal/lifecycle"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/scoring"
	"github.com/sirdesai22/event-service/internal/workers"
	"gorm.io/gorm"
)

const usage = `usage: eventctl [-as email] [-confirm phrase] <command> [target]

commands:
  sweep                  finalize ended events and purge expired cancellations
  archive <event>        archive a finalized event (needs -confirm)
  reactivate <event>     return an archived event to finalized
  ranking <event>        print the project ranking
  podium <event>         print the top three projects
  stats <event>          print enrollment statistics
  requeue <dlq-id>       replay one dead-letter row
  reindex                queue a search upsert for every public event`

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// Config holds one eventctl invocation.
type Config struct {
	Command string
	Target  string
	// As is the email of the person the command acts for.
	As      string
	Confirm string
}

var targets = map[string]bool{
	"sweep":      false,
	"archive":    true,
	"reactivate": true,
	"ranking":    true,
	"podium":     true,
	"stats":      true,
	"requeue":    true,
	"reindex":    false,
}

// ParseConfig parses flags and the positional command.
func ParseConfig(fs *flag.FlagSet, args []string, lookup EnvLookup) (Config, error) {
	var cfg Config
	def, _ := lookup("SUPERADMIN_EMAIL")
	fs.StringVar(&cfg.As, "as", def, "email of the acting person (defaults to SUPERADMIN_EMAIL)")
	fs.StringVar(&cfg.Confirm, "confirm", "", "confirmation phrase for archive")
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return Config{}, apperr.Wrap(apperr.CodeValidation, usage, err)
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return Config{}, apperr.New(apperr.CodeValidation, usage)
	}
	cfg.Command = rest[0]
	needsTarget, known := targets[cfg.Command]
	if !known {
		return Config{}, apperr.Newf(apperr.CodeValidation, "unknown command %q\n%s", cfg.Command, usage)
	}
	if needsTarget {
		if len(rest) != 2 {
			return Config{}, apperr.Newf(apperr.CodeValidation, "%s needs exactly one target\n%s", cfg.Command, usage)
		}
		cfg.Target = rest[1]
	}
	return cfg, nil
}

// Services are the operations eventctl drives.
type Services struct {
	DB        *gorm.DB
	Lifecycle *lifecycle.Controller
	Events    *events.Registry
	Scoring   *scoring.Engine
	Retrier   *workers.Retrier
}

// Run executes cfg and writes the result to out.
func Run(ctx context.Context, svc Services, cfg Config, out io.Writer) error {
	if cfg.Command == "sweep" {
		res, err := svc.Lifecycle.Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "🧹 finalized %d, purged %d, failed %d\n", res.Finalized, res.Purged, res.Failed)
		return nil
	}
	if cfg.Command == "requeue" {
		id, err := strconv.ParseInt(cfg.Target, 10, 64)
		if err != nil {
			return apperr.Newf(apperr.CodeValidation, "dlq id %q is not a number", cfg.Target)
		}
		act, err := resolveActor(ctx, svc.DB, cfg.As)
		if err != nil {
			return err
		}
		if err := act.Require(models.RoleSuperAdmin); err != nil {
			return err
		}
		if err := svc.Retrier.Requeue(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(out, "🔁 dlq row %d requeued\n", id)
		return nil
	}

	if cfg.Command == "reindex" {
		act, err := resolveActor(ctx, svc.DB, cfg.As)
		if err != nil {
			return err
		}
		n, err := svc.Events.Reindex(ctx, act)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "📦 %d event(s) queued for reindex\n", n)
		return nil
	}

	eventID, err := uuid.Parse(cfg.Target)
	if err != nil {
		return apperr.Newf(apperr.CodeValidation, "event %q is not a uuid", cfg.Target)
	}
	switch cfg.Command {
	case "ranking", "podium":
		rank := svc.Scoring.Ranking
		if cfg.Command == "podium" {
			rank = svc.Scoring.Podium
		}
		list, err := rank(ctx, eventID)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, standings(list))
		return nil
	}

	act, err := resolveActor(ctx, svc.DB, cfg.As)
	if err != nil {
		return err
	}
	switch cfg.Command {
	case "archive":
		ev, err := svc.Lifecycle.Archive(ctx, act, eventID, cfg.Confirm)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "🗄️ %s archived\n", ev.Title)
	case "reactivate":
		ev, err := svc.Lifecycle.Reactivate(ctx, act, eventID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "♻️ %s is %s again\n", ev.Title, ev.State)
	case "stats":
		st, err := svc.Events.Stats(ctx, act, eventID)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, statsTable(st))
	}
	return nil
}

// resolveActor acts for the person with the given email under their
// primary role.
func resolveActor(ctx context.Context, db *gorm.DB, email string) (actor.Context, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return actor.Context{}, apperr.New(apperr.CodeValidation, "-as or SUPERADMIN_EMAIL is required")
	}
	var p models.Person
	if err := db.WithContext(ctx).First(&p, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return actor.Context{}, apperr.NotFound("person " + email)
		}
		return actor.Context{}, err
	}
	if !p.Active {
		return actor.Context{}, apperr.New(apperr.CodeAuthInactive, "account is not active")
	}
	return actor.New(p.ID, p.PrimaryRole), nil
}

// ---------------- OUTPUT ----------------

var header = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))

func render(headers []string, rows [][]string) string {
	if len(rows) == 0 {
		return "(empty)"
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return lipgloss.NewStyle()
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}

func standings(list []scoring.Standing) string {
	rows := make([][]string, 0, len(list))
	for _, s := range list {
		rows = append(rows, []string{strconv.Itoa(s.Position), s.Code, s.Title, s.Leader, strconv.Itoa(s.Mark)})
	}
	return render([]string{"#", "CODE", "TITLE", "LEADER", "MARK"}, rows)
}

func statsTable(st events.Stats) string {
	rows := make([][]string, 0, len(models.EnrollmentRoles))
	for _, role := range models.EnrollmentRoles {
		by := st.ByRole[role]
		rows = append(rows, []string{
			string(role),
			strconv.FormatInt(by[models.EnrollmentPending], 10),
			strconv.FormatInt(by[models.EnrollmentApproved], 10),
			strconv.FormatInt(by[models.EnrollmentRejected], 10),
		})
	}
	summary := fmt.Sprintf("capacity %d/%d occupied, %d remaining, %d checked in, %d projects",
		st.Occupied, st.TotalCapacity, st.Remaining, st.CheckedIn, st.Projects)
	return render([]string{"ROLE", "PENDING", "APPROVED", "REJECTED"}, rows) + "\n" + summary
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	return apperr.KindOf(err).ExitCode()
}
