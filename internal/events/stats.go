package events

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/repo"
)

// Stats tallies an event's enrollments.
type Stats struct {
	EventID       uuid.UUID                                        `json:"event_id"`
	ByRole        map[models.Role]map[models.EnrollmentState]int64 `json:"by_role"`
	Projects      int64                                            `json:"projects"`
	CheckedIn     int64                                            `json:"checked_in"`
	TotalCapacity int                                              `json:"total_capacity"`
	Remaining     int                                              `json:"remaining"`
	Occupied      int                                              `json:"occupied"`
}

func (r *Registry) Stats(ctx context.Context, act actor.Context, eventID uuid.UUID) (Stats, error) {
	db := r.DB.WithContext(ctx)
	ev, err := repo.GetEvent(db, eventID)
	if err != nil {
		return Stats{}, err
	}
	if err := act.RequireEventAdmin(ev); err != nil {
		return Stats{}, err
	}

	var tallies []struct {
		Role  models.Role
		State models.EnrollmentState
		N     int64
	}
	if err := db.Model(&models.Enrollment{}).
		Select("role, state, COUNT(*) AS n").
		Where("event_id = ?", eventID).
		Group("role, state").
		Scan(&tallies).Error; err != nil {
		return Stats{}, err
	}

	s := Stats{
		EventID:       eventID,
		ByRole:        make(map[models.Role]map[models.EnrollmentState]int64),
		TotalCapacity: ev.TotalCapacity,
		Remaining:     ev.Capacity,
		Occupied:      ev.TotalCapacity - ev.Capacity,
	}
	for _, role := range models.EnrollmentRoles {
		s.ByRole[role] = map[models.EnrollmentState]int64{}
	}
	for _, t := range tallies {
		if s.ByRole[t.Role] == nil {
			s.ByRole[t.Role] = map[models.EnrollmentState]int64{}
		}
		s.ByRole[t.Role][t.State] = t.N
	}

	if err := db.Model(&models.Enrollment{}).
		Where("event_id = ? AND role = ? AND is_group_record = ?", eventID, models.RoleExponent, true).
		Count(&s.Projects).Error; err != nil {
		return Stats{}, err
	}
	if err := db.Model(&models.Enrollment{}).
		Where("event_id = ? AND checked_in_at IS NOT NULL", eventID).
		Count(&s.CheckedIn).Error; err != nil {
		return Stats{}, err
	}
	return s, nil
}
