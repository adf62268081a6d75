package enrollment

import (
	"context"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/credentials"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/notify"
	"github.com/sirdesai22/event-service/internal/repo"
	"gorm.io/gorm"
)

// reviewScope is what every admin review loads under the event lock.
type reviewScope struct {
	ev  models.Event
	row models.Enrollment
}

func (e *Engine) lockForReview(tx *gorm.DB, act actor.Context, id uuid.UUID) (reviewScope, error) {
	row, err := repo.GetEnrollment(tx, id)
	if err != nil {
		return reviewScope{}, err
	}
	ev, err := repo.LockEvent(tx, row.EventID)
	if err != nil {
		return reviewScope{}, err
	}
	if err := act.RequireEventAdmin(ev); err != nil {
		return reviewScope{}, err
	}
	if ev.State != models.EventPublished {
		return reviewScope{}, apperr.ErrEventNotModifiable
	}
	// reread under the lock
	row, err = repo.GetEnrollment(tx, id)
	if err != nil {
		return reviewScope{}, err
	}
	return reviewScope{ev: *ev, row: *row}, nil
}

func (e *Engine) eventOf(ctx context.Context, id uuid.UUID) (*models.Enrollment, error) {
	row, err := repo.GetEnrollment(e.DB.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	if err := e.touch(ctx, row.EventID); err != nil {
		return nil, err
	}
	return row, nil
}

// ---------------- APPROVE ----------------

// Approve issues credentials to a Pending enrollment. Attendees take one
// seat; exponent leaders approve their whole project.
func (e *Engine) Approve(ctx context.Context, act actor.Context, id uuid.UUID) (Result, error) {
	row, err := e.eventOf(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if row.Role == models.RoleExponent {
		if !row.IsLeader() {
			return Result{}, apperr.New(apperr.CodeStateNotAllowed, "project members are reviewed through their leader")
		}
		return e.ApproveProject(ctx, act, id)
	}

	var (
		scope  reviewScope
		person *models.Person
		issued []string
	)
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if scope, err = e.lockForReview(tx, act, id); err != nil {
			return err
		}
		if scope.row.State != models.EnrollmentPending {
			return apperr.Newf(apperr.CodeStateNotAllowed, "cannot approve a %s enrollment", scope.row.State)
		}
		if scope.row.Role == models.RoleAttendee {
			if err := repo.DecrementCapacity(tx, scope.ev.ID); err != nil {
				return err
			}
		}
		if person, err = repo.GetPerson(tx, scope.row.PersonID); err != nil {
			return err
		}
		err = e.Issue(ctx, tx, &scope.ev, &scope.row, person)
		issued = append(issued, scope.row.QRHandle)
		return err
	})
	if err != nil {
		e.dropBlobs(ctx, issued)
		return Result{}, err
	}
	transition(scope.row)
	log.Printf("✅ %s enrollment %s approved", scope.row.Role, scope.row.ID)

	eventID := scope.ev.ID
	warnings := e.Notifier.Enqueue(ctx, notify.Message{
		Kind:    notify.KindApproval,
		EventID: &eventID,
		To:      []notify.Recipient{notify.RecipientFor(*person)},
		Data: notify.Data{
			"Event": scope.ev.Title,
			"Role":  notify.RoleLabel(scope.row.Role),
			"Key":   scope.row.AccessKey,
		},
		Attachments: map[int][]notify.Attachment{0: {qrAttachment(scope.row)}},
	})
	return Result{Enrollment: scope.row, Warnings: warnings}, nil
}

// Issue generates the access key and QR image of row and marks it
// Approved. It runs inside the caller's transaction; on error the caller
// owns deleting row.QRHandle if it was set.
func (e *Engine) Issue(ctx context.Context, tx *gorm.DB, ev *models.Event, row *models.Enrollment, person *models.Person) error {
	key, err := e.Gen.AccessKey()
	if err != nil {
		return err
	}
	png, err := credentials.RenderQR(credentials.QRPayload(string(row.Role), person.GivenName, ev.Title, key))
	if err != nil {
		return err
	}
	handle, err := e.Blobs.Put(ctx, "qr", key+".png", png)
	if err != nil {
		return err
	}
	row.State = models.EnrollmentApproved
	row.AccessKey = key
	row.QRHandle = handle
	row.RejectionReason = ""
	return tx.Save(row).Error
}

func qrAttachment(row models.Enrollment) notify.Attachment {
	return notify.Attachment{Name: "acceso-" + row.AccessKey + ".png", Handle: row.QRHandle}
}

// ---------------- REJECT ----------------

// Reject records the reason and revokes any credentials. Rejecting an
// Approved attendee returns the seat; a Rejected row may be rejected
// again to update the reason.
func (e *Engine) Reject(ctx context.Context, act actor.Context, id uuid.UUID, reason string) (Result, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Result{}, apperr.New(apperr.CodeValidation, "a rejection reason is required")
	}
	row, err := e.eventOf(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if row.Role == models.RoleExponent {
		if !row.IsLeader() {
			return Result{}, apperr.New(apperr.CodeStateNotAllowed, "project members are reviewed through their leader")
		}
		return e.RejectProject(ctx, act, id, reason)
	}

	var (
		scope   reviewScope
		person  *models.Person
		revoked string
	)
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if scope, err = e.lockForReview(tx, act, id); err != nil {
			return err
		}
		if scope.row.State == models.EnrollmentCancelled {
			return apperr.New(apperr.CodeStateNotAllowed, "cannot reject a cancelled enrollment")
		}
		if scope.row.Role == models.RoleAttendee && scope.row.State == models.EnrollmentApproved {
			if err := repo.IncrementCapacity(tx, scope.ev.ID); err != nil {
				return err
			}
		}
		if person, err = repo.GetPerson(tx, scope.row.PersonID); err != nil {
			return err
		}
		revoked = scope.row.QRHandle
		scope.row.ClearCredentials()
		scope.row.State = models.EnrollmentRejected
		scope.row.RejectionReason = reason
		return tx.Save(&scope.row).Error
	})
	if err != nil {
		return Result{}, err
	}
	e.dropBlobs(ctx, []string{revoked})
	transition(scope.row)
	log.Printf("🚫 %s enrollment %s rejected", scope.row.Role, scope.row.ID)

	eventID := scope.ev.ID
	warnings := e.Notifier.Enqueue(ctx, notify.Message{
		Kind:    notify.KindRejection,
		EventID: &eventID,
		To:      []notify.Recipient{notify.RecipientFor(*person)},
		Data: notify.Data{
			"Event":  scope.ev.Title,
			"Role":   notify.RoleLabel(scope.row.Role),
			"Reason": reason,
		},
	})
	return Result{Enrollment: scope.row, Warnings: warnings}, nil
}

// ---------------- PROJECTS ----------------

// ApproveProject approves every Pending row of the project led by
// leaderID, each with its own key and QR, in one transaction.
func (e *Engine) ApproveProject(ctx context.Context, act actor.Context, leaderID uuid.UUID) (Result, error) {
	if _, err := e.eventOf(ctx, leaderID); err != nil {
		return Result{}, err
	}
	var (
		scope  reviewScope
		rows   []models.Enrollment
		people map[uuid.UUID]models.Person
		issued []string
	)
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if scope, err = e.lockForReview(tx, act, leaderID); err != nil {
			return err
		}
		if !scope.row.IsLeader() {
			return apperr.New(apperr.CodeStateNotAllowed, "enrollment does not lead a project")
		}
		if scope.row.State != models.EnrollmentPending {
			return apperr.Newf(apperr.CodeStateNotAllowed, "cannot approve a %s project", scope.row.State)
		}
		if rows, err = repo.ProjectRows(tx, scope.ev.ID, scope.row.Code()); err != nil {
			return err
		}
		if people, err = peopleOf(tx, rows); err != nil {
			return err
		}
		for i := range rows {
			if rows[i].State != models.EnrollmentPending {
				continue
			}
			person := people[rows[i].PersonID]
			err := e.Issue(ctx, tx, &scope.ev, &rows[i], &person)
			issued = append(issued, rows[i].QRHandle)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.dropBlobs(ctx, issued)
		return Result{}, err
	}
	for _, r := range rows {
		transition(r)
	}
	log.Printf("✅ project %s approved (%d rows)", scope.row.Code(), len(rows))

	warnings := e.Notifier.Enqueue(ctx, projectMessage(scope.ev, rows, people, notify.KindGroupApproval, ""))
	return projectResult(rows, warnings), nil
}

// RejectProject rejects every row of the project and revokes credentials.
func (e *Engine) RejectProject(ctx context.Context, act actor.Context, leaderID uuid.UUID, reason string) (Result, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Result{}, apperr.New(apperr.CodeValidation, "a rejection reason is required")
	}
	if _, err := e.eventOf(ctx, leaderID); err != nil {
		return Result{}, err
	}
	var (
		scope   reviewScope
		rows    []models.Enrollment
		people  map[uuid.UUID]models.Person
		revoked []string
	)
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if scope, err = e.lockForReview(tx, act, leaderID); err != nil {
			return err
		}
		if !scope.row.IsLeader() {
			return apperr.New(apperr.CodeStateNotAllowed, "enrollment does not lead a project")
		}
		if scope.row.State == models.EnrollmentCancelled {
			return apperr.New(apperr.CodeStateNotAllowed, "cannot reject a cancelled project")
		}
		if rows, err = repo.ProjectRows(tx, scope.ev.ID, scope.row.Code()); err != nil {
			return err
		}
		if people, err = peopleOf(tx, rows); err != nil {
			return err
		}
		for i := range rows {
			if rows[i].State == models.EnrollmentCancelled {
				continue
			}
			revoked = append(revoked, rows[i].QRHandle)
			rows[i].ClearCredentials()
			rows[i].State = models.EnrollmentRejected
			rows[i].RejectionReason = reason
			if err := tx.Save(&rows[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	e.dropBlobs(ctx, revoked)
	for _, r := range rows {
		transition(r)
	}
	log.Printf("🚫 project %s rejected", scope.row.Code())

	warnings := e.Notifier.Enqueue(ctx, projectMessage(scope.ev, rows, people, notify.KindRejection, reason))
	return projectResult(rows, warnings), nil
}

// projectMessage addresses every row of a project. A one-person project
// gets the plain approval wording.
func projectMessage(ev models.Event, rows []models.Enrollment, people map[uuid.UUID]models.Person, kind notify.Kind, reason string) notify.Message {
	if kind == notify.KindGroupApproval && len(rows) == 1 {
		kind = notify.KindApproval
	}
	leader := people[rows[0].PersonID]
	eventID := ev.ID
	msg := notify.Message{
		Kind:    kind,
		EventID: &eventID,
		Data: notify.Data{
			"Event":  ev.Title,
			"Role":   notify.RoleLabel(models.RoleExponent),
			"Code":   rows[0].Code(),
			"Title":  rows[0].ProjectTitle,
			"Leader": leader.FullName(),
			"Reason": reason,
		},
		PerRecipient: map[int]notify.Data{},
		Attachments:  map[int][]notify.Attachment{},
	}
	for _, r := range rows {
		if r.State == models.EnrollmentCancelled {
			continue
		}
		i := len(msg.To)
		msg.To = append(msg.To, notify.RecipientFor(people[r.PersonID]))
		if r.AccessKey != "" {
			msg.PerRecipient[i] = notify.Data{"Key": r.AccessKey}
			msg.Attachments[i] = []notify.Attachment{qrAttachment(r)}
		}
	}
	return msg
}

func projectResult(rows []models.Enrollment, warnings []string) Result {
	res := Result{Enrollment: rows[0], Warnings: warnings}
	if len(rows) > 1 {
		res.Members = rows[1:]
	}
	return res
}

func peopleOf(tx *gorm.DB, rows []models.Enrollment) (map[uuid.UUID]models.Person, error) {
	ids := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.PersonID)
	}
	return repo.PeopleByID(tx, ids)
}
