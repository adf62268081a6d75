// Package projects manages group projects: exponent enrollments bound by a
// shared project code under one leader row.
package projects

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/enrollment"
	"github.com/sirdesai22/event-service/internal/identity"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/notify"
	"github.com/sirdesai22/event-service/internal/repo"
	"gorm.io/gorm"
)

type Service struct {
	DB       *gorm.DB
	Engine   *enrollment.Engine
	Notifier notify.Notifier
}

func NewService(db *gorm.DB, engine *enrollment.Engine, n notify.Notifier) *Service {
	return &Service{DB: db, Engine: engine, Notifier: n}
}

// Project is the leader row plus its members.
type Project struct {
	Code    string
	Title   string
	Leader  models.Enrollment
	Members []models.Enrollment
}

// ---------------- CREATE ----------------

// CreateGroup submits a leader with a roster of one to four members and
// returns the project code.
func (s *Service) CreateGroup(ctx context.Context, sub enrollment.Submission) (string, enrollment.Result, error) {
	sub.Role = models.RoleExponent
	if len(sub.Members) == 0 {
		return "", enrollment.Result{}, apperr.New(apperr.CodeValidation, "a group needs at least one member besides the leader")
	}
	res, err := s.Engine.Submit(ctx, sub)
	if err != nil {
		return "", enrollment.Result{}, err
	}
	return res.Enrollment.Code(), res, nil
}

// Get returns the project led by leaderID.
func (s *Service) Get(ctx context.Context, act actor.Context, leaderID uuid.UUID) (Project, error) {
	db := s.DB.WithContext(ctx)
	leader, err := leaderRow(db, leaderID)
	if err != nil {
		return Project{}, err
	}
	if err := s.authorize(db, act, leader); err != nil {
		return Project{}, err
	}
	rows, err := repo.ProjectRows(db, leader.EventID, leader.Code())
	if err != nil {
		return Project{}, err
	}
	return project(rows), nil
}

// ---------------- ROSTER ----------------

// AddMember appends a person to the project. The member mirrors the
// project: Pending alongside a Pending project, or Approved with fresh
// credentials when the project is already Approved.
func (s *Service) AddMember(ctx context.Context, act actor.Context, leaderID uuid.UUID, a enrollment.Applicant) (enrollment.Result, error) {
	if err := s.touch(ctx, leaderID); err != nil {
		return enrollment.Result{}, err
	}

	var (
		ev       models.Event
		leader   *models.Enrollment
		member   models.Enrollment
		person   *models.Person
		notice   func(context.Context) []string
		uploaded string
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if ev, leader, err = s.lockProject(tx, act, leaderID); err != nil {
			return err
		}
		if leader.State != models.EnrollmentPending && leader.State != models.EnrollmentApproved {
			return apperr.Newf(apperr.CodeStateNotAllowed, "cannot add members to a %s project", leader.State)
		}
		n, err := repo.CountProject(tx, ev.ID, leader.Code())
		if err != nil {
			return err
		}
		if n >= repo.MaxProjectSize {
			return apperr.ErrGroupFull
		}
		if member, notice, err = s.Engine.AddRosterMember(tx, &ev, leader, a); err != nil {
			return err
		}
		if leader.State != models.EnrollmentApproved {
			return nil
		}
		if person, err = repo.GetPerson(tx, member.PersonID); err != nil {
			return err
		}
		err = s.Engine.Issue(ctx, tx, &ev, &member, person)
		uploaded = member.QRHandle
		return err
	})
	if err != nil {
		s.Engine.DropBlobs(ctx, []string{uploaded})
		return enrollment.Result{}, err
	}
	log.Printf("👥 member %s added to project %s", member.ID, leader.Code())

	warnings := notice(ctx)
	if member.State == models.EnrollmentApproved {
		warnings = append(warnings, s.groupApproval(ctx, ev, *leader, member, *person)...)
	}
	return enrollment.Result{Enrollment: *leader, Members: []models.Enrollment{member}, Warnings: warnings}, nil
}

func (s *Service) groupApproval(ctx context.Context, ev models.Event, leader, member models.Enrollment, person models.Person) []string {
	lp, err := repo.GetPerson(s.DB.WithContext(ctx), leader.PersonID)
	if err != nil {
		return []string{err.Error()}
	}
	eventID := ev.ID
	return s.Notifier.Enqueue(ctx, notify.Message{
		Kind:    notify.KindGroupApproval,
		EventID: &eventID,
		To:      []notify.Recipient{notify.RecipientFor(person)},
		Data: notify.Data{
			"Event":  ev.Title,
			"Code":   leader.Code(),
			"Title":  leader.ProjectTitle,
			"Leader": lp.FullName(),
			"Key":    member.AccessKey,
		},
		Attachments: map[int][]notify.Attachment{0: {{Name: "acceso-" + member.AccessKey + ".png", Handle: member.QRHandle}}},
	})
}

// RemoveMember deletes a member row while the project is Pending or
// Approved. A person created only for this roster is deleted with it.
func (s *Service) RemoveMember(ctx context.Context, act actor.Context, leaderID, memberID uuid.UUID) error {
	if err := s.touch(ctx, leaderID); err != nil {
		return err
	}
	var revoked string
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev, leader, err := s.lockProject(tx, act, leaderID)
		if err != nil {
			return err
		}
		if leader.State != models.EnrollmentPending && leader.State != models.EnrollmentApproved {
			return apperr.Newf(apperr.CodeStateNotAllowed, "cannot remove members from a %s project", leader.State)
		}
		member, err := repo.GetEnrollment(tx, memberID)
		if err != nil {
			return err
		}
		if member.ID == leader.ID {
			return apperr.New(apperr.CodeStateNotAllowed, "the leader cannot be removed; transfer leadership first")
		}
		if member.EventID != ev.ID || member.Code() != leader.Code() {
			return apperr.NotFound("project member")
		}
		revoked = member.QRHandle
		if err := tx.Delete(&models.Enrollment{}, "id = ?", member.ID).Error; err != nil {
			return err
		}
		return identity.DeleteRosterPerson(tx, member.PersonID, ev.ID)
	})
	if err != nil {
		return err
	}
	s.Engine.DropBlobs(ctx, []string{revoked})
	log.Printf("👥 member %s removed from project led by %s", memberID, leaderID)
	return nil
}

// ---------------- LEADERSHIP ----------------

// TransferLeadership hands the leader role, the exposition document and
// the project to newLeaderID in one transaction. Transferring back
// restores the original rows.
func (s *Service) TransferLeadership(ctx context.Context, act actor.Context, leaderID, newLeaderID uuid.UUID) (Project, error) {
	if err := s.touch(ctx, leaderID); err != nil {
		return Project{}, err
	}
	var out Project
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev, leader, err := s.lockProject(tx, act, leaderID)
		if err != nil {
			return err
		}
		if leader.State == models.EnrollmentCancelled {
			return apperr.New(apperr.CodeStateNotAllowed, "cannot transfer a cancelled project")
		}
		rows, err := repo.ProjectRows(tx, ev.ID, leader.Code())
		if err != nil {
			return err
		}
		idx := -1
		for i, r := range rows {
			if r.ID == newLeaderID && !r.IsLeader() {
				idx = i
			}
		}
		if idx < 0 {
			return apperr.NotFound("project member")
		}

		next := &rows[idx]
		old := &rows[0]
		next.IsGroupRecord, old.IsGroupRecord = true, false
		next.DocumentHandle, old.DocumentHandle = old.DocumentHandle, ""
		next.ProjectLeaderID = nil
		for i := range rows {
			if rows[i].ID == next.ID {
				continue
			}
			id := next.ID
			rows[i].ProjectLeaderID = &id
		}
		for i := range rows {
			if err := tx.Save(&rows[i]).Error; err != nil {
				return err
			}
		}
		reordered, err := repo.ProjectRows(tx, ev.ID, leader.Code())
		if err != nil {
			return err
		}
		out = project(reordered)
		return nil
	})
	if err != nil {
		return Project{}, err
	}
	log.Printf("👑 project %s now led by %s", out.Code, out.Leader.ID)
	return out, nil
}

// ---------------- REVIEW ----------------

// ApproveProject approves every row of the project at once.
func (s *Service) ApproveProject(ctx context.Context, act actor.Context, leaderID uuid.UUID) (enrollment.Result, error) {
	return s.Engine.ApproveProject(ctx, act, leaderID)
}

// RejectProject rejects every row of the project at once.
func (s *Service) RejectProject(ctx context.Context, act actor.Context, leaderID uuid.UUID, reason string) (enrollment.Result, error) {
	return s.Engine.RejectProject(ctx, act, leaderID, reason)
}

// ---------------- HELPERS ----------------

// lockProject locks the event and rereads the leader under that lock.
// The leader's owner and the event administrator may edit the project.
func (s *Service) lockProject(tx *gorm.DB, act actor.Context, leaderID uuid.UUID) (models.Event, *models.Enrollment, error) {
	leader, err := leaderRow(tx, leaderID)
	if err != nil {
		return models.Event{}, nil, err
	}
	ev, err := repo.LockEvent(tx, leader.EventID)
	if err != nil {
		return models.Event{}, nil, err
	}
	if act.RequireSelf(leader.PersonID) != nil {
		if err := act.RequireEventAdmin(ev); err != nil {
			return models.Event{}, nil, err
		}
	}
	if ev.State != models.EventPublished {
		return models.Event{}, nil, apperr.ErrEventNotModifiable
	}
	if leader, err = leaderRow(tx, leaderID); err != nil {
		return models.Event{}, nil, err
	}
	return *ev, leader, nil
}

func (s *Service) authorize(db *gorm.DB, act actor.Context, leader *models.Enrollment) error {
	rows, err := repo.ProjectRows(db, leader.EventID, leader.Code())
	if err != nil {
		return err
	}
	for _, r := range rows {
		if act.RequireSelf(r.PersonID) == nil {
			return nil
		}
	}
	ev, err := repo.GetEvent(db, leader.EventID)
	if err != nil {
		return err
	}
	return act.RequireEventAdmin(ev)
}

func (s *Service) touch(ctx context.Context, leaderID uuid.UUID) error {
	if s.Engine.Lifecycle == nil {
		return nil
	}
	leader, err := repo.GetEnrollment(s.DB.WithContext(ctx), leaderID)
	if err != nil {
		return err
	}
	return s.Engine.Lifecycle.Touch(ctx, leader.EventID)
}

func leaderRow(db *gorm.DB, id uuid.UUID) (*models.Enrollment, error) {
	row, err := repo.GetEnrollment(db, id)
	if err != nil {
		return nil, err
	}
	if !row.IsLeader() {
		return nil, apperr.New(apperr.CodeStateNotAllowed, "enrollment does not lead a project")
	}
	return row, nil
}

func project(rows []models.Enrollment) Project {
	p := Project{Code: rows[0].Code(), Title: rows[0].ProjectTitle, Leader: rows[0]}
	if len(rows) > 1 {
		p.Members = rows[1:]
	}
	return p
}
