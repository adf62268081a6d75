// Package enrollment runs the submission and review pipeline for attendees,
// exponents and evaluators. Every mutation locks the event row first, so
// capacity and cross-role checks see a consistent snapshot.
package enrollment

import (
	"context"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/blob"
	"github.com/sirdesai22/event-service/internal/credentials"
	"github.com/sirdesai22/event-service/internal/events"
	"github.com/sirdesai22/event-service/internal/identity"
	"github.com/sirdesai22/event-service/internal/metrics"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/notify"
	"github.com/sirdesai22/event-service/internal/repo"
	"gorm.io/gorm"
)

type Engine struct {
	DB        *gorm.DB
	Identity  *identity.Registry
	Blobs     blob.Store
	Gen       credentials.Generator
	Notifier  notify.Notifier
	Lifecycle events.Toucher
	Clock     func() time.Time
}

func NewEngine(db *gorm.DB, ident *identity.Registry, blobs blob.Store, gen credentials.Generator, n notify.Notifier) *Engine {
	return &Engine{DB: db, Identity: ident, Blobs: blobs, Gen: gen, Notifier: n, Clock: models.UTCNow}
}

// Upload is a file handed in with a submission.
type Upload struct {
	Name string
	Data []byte
}

func (u *Upload) empty() bool {
	return u == nil || len(u.Data) == 0
}

func (u *Upload) pdf() bool {
	return strings.EqualFold(filepath.Ext(u.Name), ".pdf")
}

// Applicant identifies the person behind a submission or roster entry.
type Applicant struct {
	NationalID string
	identity.Profile
}

type Submission struct {
	EventID      uuid.UUID
	Role         models.Role
	Applicant    Applicant
	Receipt      *Upload // attendees of paid events
	Document     *Upload // exponent exposition document or evaluator CV
	ProjectTitle string
	// Members is an exponent's roster, leader excluded.
	Members []Applicant
}

// Result carries the rows an operation touched plus delivery warnings.
type Result struct {
	Enrollment models.Enrollment
	Members    []models.Enrollment
	Warnings   []string
}

type credentialNote struct {
	person models.Person
	secret string
	row    models.Enrollment
}

// ---------------- SUBMIT ----------------

// Submit registers a Pending enrollment, creating the applicant (and any
// roster member) when unknown. An exponent submission always forms a
// project: the applicant becomes its leader under a fresh code.
func (e *Engine) Submit(ctx context.Context, sub Submission) (Result, error) {
	if !sub.Role.Enrolls() {
		return Result{}, apperr.Newf(apperr.CodeValidation, "role %q does not enroll in events", sub.Role)
	}
	if len(sub.Members) > 0 && sub.Role != models.RoleExponent {
		return Result{}, apperr.New(apperr.CodeValidation, "only exponents submit a roster")
	}
	if len(sub.Members) > repo.MaxProjectSize-1 {
		return Result{}, apperr.ErrGroupFull
	}
	if err := e.touch(ctx, sub.EventID); err != nil {
		return Result{}, err
	}

	now := e.Clock()
	var (
		ev       models.Event
		res      Result
		notes    []credentialNote
		uploaded []string
	)
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := repo.LockEvent(tx, sub.EventID)
		if err != nil {
			return err
		}
		ev = *locked
		if ev.State != models.EventPublished {
			return apperr.ErrEventNotModifiable
		}
		if !ev.PreinscriptionEnabled(sub.Role) {
			return apperr.Newf(apperr.CodeStateNotAllowed, "preinscription for %s is closed", sub.Role)
		}

		profile := sub.Applicant.Profile
		profile.Role = sub.Role
		ensured, err := e.Identity.EnsurePerson(tx, sub.Applicant.NationalID, profile)
		if err != nil {
			return err
		}
		if err := repo.ClaimSlot(tx, ev.ID, ensured.Person.ID, sub.Role); err != nil {
			return err
		}
		if sub.Role == models.RoleAttendee && ev.Capacity <= 0 {
			return apperr.ErrCapacityExhausted
		}

		row := models.Enrollment{
			EventID:     ev.ID,
			PersonID:    ensured.Person.ID,
			Role:        sub.Role,
			State:       models.EnrollmentPending,
			SubmittedAt: now,
		}
		switch sub.Role {
		case models.RoleAttendee:
			if ev.HasCost {
				if sub.Receipt.empty() {
					return apperr.New(apperr.CodeMissingDocument, "payment receipt is required for paid events")
				}
				h, err := e.Blobs.Put(ctx, "receipt", sub.Receipt.Name, sub.Receipt.Data)
				if err != nil {
					return err
				}
				uploaded = append(uploaded, h)
				row.ReceiptHandle = h
			}
		case models.RoleExponent:
			if sub.Document.empty() {
				return apperr.New(apperr.CodeMissingDocument, "exposition document is required")
			}
			if !sub.Document.pdf() {
				return apperr.New(apperr.CodeValidation, "exposition document must be a PDF")
			}
			if strings.TrimSpace(sub.ProjectTitle) == "" {
				return apperr.New(apperr.CodeValidation, "project title is required")
			}
			h, err := e.Blobs.Put(ctx, "document", sub.Document.Name, sub.Document.Data)
			if err != nil {
				return err
			}
			uploaded = append(uploaded, h)
			code, err := repo.NewProjectCode(tx, ev.ID, e.Gen)
			if err != nil {
				return err
			}
			row.DocumentHandle = h
			row.IsGroupRecord = true
			row.ProjectCode = &code
			row.ProjectTitle = strings.TrimSpace(sub.ProjectTitle)
		case models.RoleEvaluator:
			if sub.Document.empty() {
				return apperr.New(apperr.CodeMissingDocument, "curriculum document is required")
			}
			h, err := e.Blobs.Put(ctx, "cv", sub.Document.Name, sub.Document.Data)
			if err != nil {
				return err
			}
			uploaded = append(uploaded, h)
			row.DocumentHandle = h
		}
		if err := repo.InsertEnrollment(tx, &row); err != nil {
			return err
		}
		res.Enrollment = row
		notes = append(notes, credentialNote{person: ensured.Person, secret: ensured.Secret, row: row})

		for _, m := range sub.Members {
			member, note, err := e.addMember(tx, &ev, &row, m, now)
			if err != nil {
				return err
			}
			res.Members = append(res.Members, member)
			notes = append(notes, note)
		}
		return nil
	})
	if err != nil {
		e.dropBlobs(ctx, uploaded)
		return Result{}, err
	}

	metrics.EnrollmentsSubmitted.WithLabelValues(string(sub.Role)).Add(float64(1 + len(res.Members)))
	log.Printf("📝 %s enrollment %s submitted for event %s", sub.Role, res.Enrollment.ID, ev.ID)
	res.Warnings = e.sendCredentials(ctx, ev, notes)
	return res, nil
}

// AddRosterMember enrolls one more Pending member under leader. It runs
// inside the caller's transaction, which must hold the event lock.
// The returned notice sends the member's credentials mail; call it after
// the transaction commits.
func (e *Engine) AddRosterMember(tx *gorm.DB, ev *models.Event, leader *models.Enrollment, a Applicant) (models.Enrollment, func(context.Context) []string, error) {
	member, note, err := e.addMember(tx, ev, leader, a, e.Clock())
	if err != nil {
		return models.Enrollment{}, nil, err
	}
	evCopy := *ev
	notice := func(ctx context.Context) []string {
		return e.sendCredentials(ctx, evCopy, []credentialNote{note})
	}
	return member, notice, nil
}

func (e *Engine) addMember(tx *gorm.DB, ev *models.Event, leader *models.Enrollment, a Applicant, now time.Time) (models.Enrollment, credentialNote, error) {
	profile := a.Profile
	profile.Role = models.RoleExponent
	profile.CreatedForEvent = &ev.ID
	ensured, err := e.Identity.EnsurePerson(tx, a.NationalID, profile)
	if err != nil {
		return models.Enrollment{}, credentialNote{}, err
	}
	if err := repo.ClaimSlot(tx, ev.ID, ensured.Person.ID, models.RoleExponent); err != nil {
		return models.Enrollment{}, credentialNote{}, err
	}
	leaderID := leader.ID
	code := leader.Code()
	member := models.Enrollment{
		EventID:         ev.ID,
		PersonID:        ensured.Person.ID,
		Role:            models.RoleExponent,
		State:           models.EnrollmentPending,
		SubmittedAt:     now,
		ProjectLeaderID: &leaderID,
		ProjectCode:     &code,
		ProjectTitle:    leader.ProjectTitle,
		FinalMark:       leader.FinalMark,
	}
	if err := repo.InsertEnrollment(tx, &member); err != nil {
		return models.Enrollment{}, credentialNote{}, err
	}
	return member, credentialNote{person: ensured.Person, secret: ensured.Secret, row: member}, nil
}

func (e *Engine) sendCredentials(ctx context.Context, ev models.Event, notes []credentialNote) []string {
	if len(notes) == 0 {
		return nil
	}
	eventID := ev.ID
	msg := notify.Message{
		Kind:         notify.KindCredentials,
		EventID:      &eventID,
		Data:         notify.Data{"Event": ev.Title},
		PerRecipient: make(map[int]notify.Data, len(notes)),
	}
	for i, n := range notes {
		msg.To = append(msg.To, notify.RecipientFor(n.person))
		msg.PerRecipient[i] = notify.Data{
			"Role":     notify.RoleLabel(n.row.Role),
			"Username": n.person.Username,
			"Secret":   n.secret,
			"Code":     n.row.Code(),
		}
	}
	return e.Notifier.Enqueue(ctx, msg)
}

// ---------------- HELPERS ----------------

func (e *Engine) touch(ctx context.Context, eventID uuid.UUID) error {
	if e.Lifecycle == nil {
		return nil
	}
	return e.Lifecycle.Touch(ctx, eventID)
}

// DropBlobs deletes handles left behind by a rolled back or completed
// transition. Failures are logged only.
func (e *Engine) DropBlobs(ctx context.Context, handles []string) {
	e.dropBlobs(ctx, handles)
}

func (e *Engine) dropBlobs(ctx context.Context, handles []string) {
	for _, h := range handles {
		if h == "" {
			continue
		}
		if err := e.Blobs.Delete(ctx, h); err != nil {
			log.Printf("⚠️ blob %s not deleted: %v", h, err)
		}
	}
}

func transition(row models.Enrollment) {
	metrics.EnrollmentTransitions.WithLabelValues(string(row.Role), string(row.State)).Inc()
}
