package identity

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/credentials"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/repo"
	"gorm.io/gorm"
)

const minSecretLength = 8

// ChangePassword replaces the actor's secret and clears the first-login flag.
func (r *Registry) ChangePassword(ctx context.Context, act actor.Context, current, next string) error {
	if act.IsSystem() {
		return apperr.ErrForbidden
	}
	var v apperr.Validation
	v.Check(len(next) >= minSecretLength, "nueva", "new password must have at least 8 characters")
	v.Check(next != current, "nueva", "new password must differ from the current one")
	if err := v.Err(); err != nil {
		return err
	}

	db := r.DB.WithContext(ctx)
	p, err := repo.GetPerson(db, act.PersonID)
	if err != nil {
		return err
	}
	if !credentials.CheckSecret(p.PasswordHash, current) {
		return apperr.New(apperr.CodeAuthBadSecret, "wrong password")
	}
	hash, err := credentials.HashSecret(next)
	if err != nil {
		return err
	}
	return db.Model(p).Updates(map[string]any{"password_hash": hash, "first_login": false}).Error
}

// UpdateProfile edits the actor's own contact data.
func (r *Registry) UpdateProfile(ctx context.Context, act actor.Context, p Profile) (models.Person, error) {
	var out models.Person
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		person, err := repo.GetPerson(tx, act.PersonID)
		if err != nil {
			return err
		}
		if err := act.RequireSelf(person.ID); err != nil {
			return err
		}
		if p.Email == "" {
			p.Email = person.Email
		}
		if p.GivenName == "" {
			p.GivenName = person.GivenName
		}
		if err := validateProfile(person.NationalID, p); err != nil {
			return err
		}
		if p.Username != "" && p.Username != person.Username {
			if err := uniqueField(tx, "username", p.Username, person.ID); err != nil {
				return err
			}
			if err := tx.Model(person).Update("username", p.Username).Error; err != nil {
				return err
			}
		}
		if err := r.refresh(tx, person, p); err != nil {
			return err
		}
		out = *person
		return nil
	})
	return out, err
}

// RemoveProfile deletes the actor's person record. It is refused while the
// person holds an approved enrollment in a published event or leads a
// project that still has members.
func (r *Registry) RemoveProfile(ctx context.Context, act actor.Context) error {
	if act.IsSystem() {
		return apperr.ErrForbidden
	}
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		person, err := repo.GetPerson(tx, act.PersonID)
		if err != nil {
			return err
		}

		var active int64
		if err := tx.Model(&models.Enrollment{}).
			Joins("JOIN events ON events.id = enrollments.event_id").
			Where("enrollments.person_id = ? AND enrollments.state = ? AND events.state = ?",
				person.ID, models.EnrollmentApproved, models.EventPublished).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return apperr.New(apperr.CodeStateNotAllowed, "profile has approved enrollments in active events")
		}

		var leads []models.Enrollment
		if err := tx.Where("person_id = ? AND role = ? AND is_group_record = ?", person.ID, models.RoleExponent, true).
			Find(&leads).Error; err != nil {
			return err
		}
		for _, l := range leads {
			n, err := repo.CountProject(tx, l.EventID, l.Code())
			if err != nil {
				return err
			}
			if n > 1 {
				return apperr.New(apperr.CodeStateNotAllowed, "profile leads a project with members; transfer leadership first")
			}
		}

		if err := tx.Where("person_id = ?", person.ID).Delete(&models.Enrollment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("person_id = ?", person.ID).Delete(&models.PersonRole{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Person{}, "id = ?", person.ID).Error; err != nil {
			return err
		}
		log.Printf("🗑️ profile %s removed", person.Username)
		return nil
	})
}

// DeleteRosterPerson removes a person created only for a project roster,
// provided nothing else references them. Runs inside the caller's tx.
func DeleteRosterPerson(tx *gorm.DB, personID, eventID uuid.UUID) error {
	var p models.Person
	if err := tx.First(&p, "id = ?", personID).Error; err != nil {
		return nil
	}
	if p.CreatedForEvent == nil || *p.CreatedForEvent != eventID {
		return nil
	}
	var others int64
	if err := tx.Model(&models.Enrollment{}).Where("person_id = ?", personID).Count(&others).Error; err != nil {
		return err
	}
	if others > 0 {
		return nil
	}
	if err := tx.Where("person_id = ?", personID).Delete(&models.PersonRole{}).Error; err != nil {
		return err
	}
	return tx.Delete(&models.Person{}, "id = ?", personID).Error
}
