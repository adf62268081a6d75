// Package certificates issues participation and award certificates after an
// event ends and manages the event's memories.
package certificates

import (
	"bytes"
	"context"
	"log"
	"strconv"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/blob"
	"github.com/sirdesai22/event-service/internal/events"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/notify"
	"github.com/sirdesai22/event-service/internal/repo"
	"github.com/sirdesai22/event-service/internal/scoring"
	"gorm.io/gorm"
)

var artifact = template.Must(template.New("certificate").Option("missingkey=zero").Parse(
	`CERTIFICADO{{if .Position}} DE RECONOCIMIENTO{{end}}

Se certifica que {{.Name}}, identificado con documento {{.NationalID}},
participó como {{.Role}} en el evento "{{.Event}}",
realizado en {{.City}} entre el {{.Start}} y el {{.End}}.
{{- if .Code}}

Proyecto {{.Code}}{{if .Title}}: {{.Title}}{{end}}
{{- end}}
{{- if .Position}}
Puesto obtenido: {{.Position}}, calificación final {{.Mark}}.
{{- end}}

Emitido el {{.Issued}}.
`))

type Service struct {
	DB        *gorm.DB
	Blobs     blob.Store
	Notifier  notify.Notifier
	Scoring   *scoring.Engine
	Lifecycle events.Toucher
	Clock     func() time.Time
}

func NewService(db *gorm.DB, blobs blob.Store, n notify.Notifier, s *scoring.Engine) *Service {
	return &Service{DB: db, Blobs: blobs, Notifier: n, Scoring: s, Clock: models.UTCNow}
}

// Issued is one rendered certificate.
type Issued struct {
	EnrollmentID uuid.UUID `json:"enrollment_id"`
	Handle       string    `json:"handle"`
}

// Batch summarizes a bulk issue.
type Batch struct {
	Issued   []Issued `json:"issued"`
	Warnings []string `json:"warnings,omitempty"`
}

// ---------------- CERTIFICATES ----------------

// IssueCertificate renders the certificate of one Approved enrollment and
// mails it. The event must be Finalized or Archived.
func (s *Service) IssueCertificate(ctx context.Context, act actor.Context, enrollmentID uuid.UUID) (Batch, error) {
	db := s.DB.WithContext(ctx)
	row, err := repo.GetEnrollment(db, enrollmentID)
	if err != nil {
		return Batch{}, err
	}
	ev, err := s.closedEvent(ctx, act, row.EventID)
	if err != nil {
		return Batch{}, err
	}
	if row.State != models.EnrollmentApproved {
		return Batch{}, apperr.Newf(apperr.CodeStateNotAllowed, "certificates require an approved enrollment, got %s", row.State)
	}
	return s.issue(ctx, ev, []models.Enrollment{*row})
}

// IssueAll certifies every Approved enrollment of role in the event.
func (s *Service) IssueAll(ctx context.Context, act actor.Context, eventID uuid.UUID, role models.Role) (Batch, error) {
	if !role.Enrolls() {
		return Batch{}, apperr.Newf(apperr.CodeValidation, "role %q has no certificates", role)
	}
	ev, err := s.closedEvent(ctx, act, eventID)
	if err != nil {
		return Batch{}, err
	}
	rows, err := repo.ListEnrollments(s.DB.WithContext(ctx), eventID, role, models.EnrollmentApproved)
	if err != nil {
		return Batch{}, err
	}
	if len(rows) == 0 {
		return Batch{}, nil
	}
	return s.issue(ctx, ev, rows)
}

func (s *Service) issue(ctx context.Context, ev *models.Event, rows []models.Enrollment) (Batch, error) {
	people, err := peopleOf(s.DB.WithContext(ctx), rows)
	if err != nil {
		return Batch{}, err
	}
	eventID := ev.ID
	msg := notify.Message{
		Kind:         notify.KindCertificate,
		EventID:      &eventID,
		Data:         eventData(ev),
		PerRecipient: map[int]notify.Data{},
		Attachments:  map[int][]notify.Attachment{},
	}
	var out Batch
	for _, row := range rows {
		p := people[row.PersonID]
		handle, err := s.render(ctx, ev, row, p, "", "")
		if err != nil {
			out.Warnings = append(out.Warnings, "certificate for "+p.Email+": "+err.Error())
			continue
		}
		out.Issued = append(out.Issued, Issued{EnrollmentID: row.ID, Handle: handle})
		i := len(msg.To)
		msg.To = append(msg.To, notify.RecipientFor(p))
		msg.PerRecipient[i] = notify.Data{"Role": notify.RoleLabel(row.Role)}
		msg.Attachments[i] = []notify.Attachment{{Name: "certificado.txt", Handle: handle}}
	}
	if len(msg.To) > 0 {
		out.Warnings = append(out.Warnings, s.Notifier.Enqueue(ctx, msg)...)
	}
	log.Printf("📜 %d certificate(s) issued for event %s", len(out.Issued), ev.ID)
	return out, nil
}

// AwardPodium sends award certificates to every member of the podium
// projects, each carrying the position and the final mark.
func (s *Service) AwardPodium(ctx context.Context, act actor.Context, eventID uuid.UUID) (Batch, error) {
	ev, err := s.closedEvent(ctx, act, eventID)
	if err != nil {
		return Batch{}, err
	}
	podium, err := s.Scoring.Podium(ctx, eventID)
	if err != nil {
		return Batch{}, err
	}
	db := s.DB.WithContext(ctx)
	msg := notify.Message{
		Kind:         notify.KindAwardCertificate,
		EventID:      &eventID,
		Data:         eventData(ev),
		PerRecipient: map[int]notify.Data{},
		Attachments:  map[int][]notify.Attachment{},
	}
	var out Batch
	for _, place := range podium {
		rows, err := repo.ProjectRows(db, eventID, place.Code)
		if err != nil {
			return Batch{}, err
		}
		people, err := peopleOf(db, rows)
		if err != nil {
			return Batch{}, err
		}
		position, mark := strconv.Itoa(place.Position), strconv.Itoa(place.Mark)
		for _, row := range rows {
			if row.State != models.EnrollmentApproved {
				continue
			}
			p := people[row.PersonID]
			handle, err := s.render(ctx, ev, row, p, position, mark)
			if err != nil {
				out.Warnings = append(out.Warnings, "award for "+p.Email+": "+err.Error())
				continue
			}
			out.Issued = append(out.Issued, Issued{EnrollmentID: row.ID, Handle: handle})
			i := len(msg.To)
			msg.To = append(msg.To, notify.RecipientFor(p))
			msg.PerRecipient[i] = notify.Data{
				"Position": position,
				"Mark":     mark,
				"Code":     place.Code,
				"Title":    place.Title,
			}
			msg.Attachments[i] = []notify.Attachment{{Name: "reconocimiento.txt", Handle: handle}}
		}
	}
	if len(msg.To) > 0 {
		out.Warnings = append(out.Warnings, s.Notifier.Enqueue(ctx, msg)...)
	}
	log.Printf("🏆 %d award certificate(s) issued for event %s", len(out.Issued), eventID)
	return out, nil
}

func (s *Service) render(ctx context.Context, ev *models.Event, row models.Enrollment, p models.Person, position, mark string) (string, error) {
	var buf bytes.Buffer
	err := artifact.Execute(&buf, map[string]string{
		"Name":       p.FullName(),
		"NationalID": p.NationalID,
		"Role":       notify.RoleLabel(row.Role),
		"Event":      ev.Title,
		"City":       ev.City,
		"Start":      ev.StartDate.Format(models.DateLayout),
		"End":        ev.EndDate.Format(models.DateLayout),
		"Code":       row.Code(),
		"Title":      row.ProjectTitle,
		"Position":   position,
		"Mark":       mark,
		"Issued":     s.Clock().Format(models.DateLayout),
	})
	if err != nil {
		return "", err
	}
	kind := "certificate"
	if position != "" {
		kind = "award"
	}
	return s.Blobs.Put(ctx, kind, row.ID.String()+".txt", buf.Bytes())
}

// closedEvent loads an event whose administrator is act and that has ended.
func (s *Service) closedEvent(ctx context.Context, act actor.Context, eventID uuid.UUID) (*models.Event, error) {
	if err := s.touch(ctx, eventID); err != nil {
		return nil, err
	}
	ev, err := repo.GetEvent(s.DB.WithContext(ctx), eventID)
	if err != nil {
		return nil, err
	}
	if err := act.RequireEventAdmin(ev); err != nil {
		return nil, err
	}
	if ev.State != models.EventFinalized && ev.State != models.EventArchived {
		return nil, apperr.Newf(apperr.CodeStateNotAllowed, "certificates are issued once the event is finalized, it is %s", ev.State)
	}
	return ev, nil
}

func (s *Service) touch(ctx context.Context, eventID uuid.UUID) error {
	if s.Lifecycle == nil {
		return nil
	}
	return s.Lifecycle.Touch(ctx, eventID)
}

func eventData(ev *models.Event) notify.Data {
	return notify.Data{
		"Event": ev.Title,
		"City":  ev.City,
		"Start": ev.StartDate.Format(models.DateLayout),
		"End":   ev.EndDate.Format(models.DateLayout),
	}
}

func peopleOf(db *gorm.DB, rows []models.Enrollment) (map[uuid.UUID]models.Person, error) {
	ids := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.PersonID)
	}
	return repo.PeopleByID(db, ids)
}
