package notify

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/repo"
)

// Announce sends a bulk message to the approved enrollees of the given
// roles. It returns how many people were addressed.
func (d *Dispatcher) Announce(ctx context.Context, act actor.Context, eventID uuid.UUID, roles []models.Role, subject, body string) (int, []string, error) {
	var v apperr.Validation
	v.Check(strings.TrimSpace(subject) != "", "asunto", "subject is required")
	v.Check(strings.TrimSpace(body) != "", "mensaje", "body is required")
	v.Check(len(roles) > 0, "roles", "at least one role is required")
	for _, r := range roles {
		v.Check(r.Enrolls(), "roles", "unknown role "+string(r))
	}
	if err := v.Err(); err != nil {
		return 0, nil, err
	}

	db := d.DB.WithContext(ctx)
	ev, err := repo.GetEvent(db, eventID)
	if err != nil {
		return 0, nil, err
	}
	if err := act.RequireEventAdmin(ev); err != nil {
		return 0, nil, err
	}

	var rows []models.Enrollment
	if err := db.Where("event_id = ? AND state = ? AND role IN ?", eventID, models.EnrollmentApproved, roles).
		Find(&rows).Error; err != nil {
		return 0, nil, err
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.PersonID)
	}
	people, err := repo.PeopleByID(db, ids)
	if err != nil {
		return 0, nil, err
	}

	msg := Message{
		Kind:    KindBulk,
		EventID: &ev.ID,
		Data:    Data{"Event": ev.Title, "Subject": subject, "Body": body},
	}
	for _, id := range ids {
		if p, ok := people[id]; ok {
			msg.To = append(msg.To, RecipientFor(p))
		}
	}
	return len(msg.To), d.Enqueue(ctx, msg), nil
}
