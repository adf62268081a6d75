package repo

import (
	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/credentials"
	"github.com/sirdesai22/event-service/internal/models"
	"gorm.io/gorm"
)

// MaxProjectSize counts the leader.
const MaxProjectSize = 5

const codeAttempts = 32

// GetEnrollment loads an enrollment by id.
func GetEnrollment(db *gorm.DB, id uuid.UUID) (*models.Enrollment, error) {
	var en models.Enrollment
	if err := db.First(&en, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "enrollment")
	}
	return &en, nil
}

// FindEnrollment returns the person's enrollment in the event, or nil.
func FindEnrollment(db *gorm.DB, eventID, personID uuid.UUID) (*models.Enrollment, error) {
	var rows []models.Enrollment
	err := db.Where("event_id = ? AND person_id = ?", eventID, personID).Limit(1).Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// ClaimSlot enforces one enrollment per (person, event) across roles.
// A cancelled row no longer occupies the slot and is removed so a new
// enrollment can take its place; members of a removed leader row are
// detached from the old project. Must run under the event lock.
func ClaimSlot(tx *gorm.DB, eventID, personID uuid.UUID, role models.Role) error {
	existing, err := FindEnrollment(tx, eventID, personID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	if existing.State == models.EnrollmentCancelled {
		if existing.IsLeader() {
			err := tx.Model(&models.Enrollment{}).
				Where("project_leader_id = ?", existing.ID).
				Updates(map[string]any{"project_leader_id": nil, "project_code": nil}).Error
			if err != nil {
				return err
			}
		}
		return tx.Delete(&models.Enrollment{}, "id = ?", existing.ID).Error
	}
	if existing.Role != role {
		return apperr.ErrRoleConflict
	}
	return apperr.ErrAlreadyEnrolled
}

// InsertEnrollment creates en, translating a lost race on the unique
// (event, person) index into AlreadyEnrolled.
func InsertEnrollment(tx *gorm.DB, en *models.Enrollment) error {
	if err := tx.Create(en).Error; err != nil {
		if IsDuplicate(err) {
			return apperr.ErrAlreadyEnrolled
		}
		return err
	}
	return nil
}

// ListEnrollments filters by role and state when they are non-empty.
func ListEnrollments(db *gorm.DB, eventID uuid.UUID, role models.Role, state models.EnrollmentState) ([]models.Enrollment, error) {
	q := db.Where("event_id = ?", eventID)
	if role != "" {
		q = q.Where("role = ?", role)
	}
	if state != "" {
		q = q.Where("state = ?", state)
	}
	var rows []models.Enrollment
	err := q.Order("submitted_at ASC").Order("id ASC").Find(&rows).Error
	return rows, err
}

// ---------------- PROJECTS ----------------

// ProjectRows returns every row of the project, leader first.
func ProjectRows(db *gorm.DB, eventID uuid.UUID, code string) ([]models.Enrollment, error) {
	var rows []models.Enrollment
	err := db.Where("event_id = ? AND project_code = ? AND role = ?", eventID, code, models.RoleExponent).
		Order("is_group_record DESC").Order("submitted_at ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.NotFound("project")
	}
	return rows, nil
}

// LeaderOf resolves the leader row of the project en belongs to.
func LeaderOf(db *gorm.DB, en *models.Enrollment) (*models.Enrollment, error) {
	if en.Role != models.RoleExponent {
		return nil, apperr.Newf(apperr.CodeStateNotAllowed, "enrollment is not an exponent enrollment")
	}
	if en.IsLeader() {
		return en, nil
	}
	if en.ProjectLeaderID == nil {
		return nil, apperr.NotFound("project leader")
	}
	return GetEnrollment(db, *en.ProjectLeaderID)
}

// ProjectLeaders lists every leader row of the event.
func ProjectLeaders(db *gorm.DB, eventID uuid.UUID, state models.EnrollmentState) ([]models.Enrollment, error) {
	q := db.Where("event_id = ? AND role = ? AND is_group_record = ?", eventID, models.RoleExponent, true)
	if state != "" {
		q = q.Where("state = ?", state)
	}
	var rows []models.Enrollment
	err := q.Order("project_code ASC").Find(&rows).Error
	return rows, err
}

// CountProject counts rows sharing the code, leader included.
func CountProject(db *gorm.DB, eventID uuid.UUID, code string) (int64, error) {
	var n int64
	err := db.Model(&models.Enrollment{}).
		Where("event_id = ? AND project_code = ? AND role = ?", eventID, code, models.RoleExponent).
		Count(&n).Error
	return n, err
}

// NewProjectCode draws codes from gen until one is unused in the event.
func NewProjectCode(tx *gorm.DB, eventID uuid.UUID, gen credentials.Generator) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := gen.ProjectCode()
		if err != nil {
			return "", err
		}
		var n int64
		if err := tx.Model(&models.Enrollment{}).
			Where("event_id = ? AND project_code = ?", eventID, code).
			Count(&n).Error; err != nil {
			return "", err
		}
		if n == 0 {
			return code, nil
		}
	}
	return "", apperr.New(apperr.CodeProjectCodeExhausted, "could not allocate a unique project code")
}
