package identity

import (
	"context"
	"errors"
	"net/mail"
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

// InviteAdmin records an invitation token and mails it.
func (r *Registry) InviteAdmin(ctx context.Context, act actor.Context, email string) (models.AdminInvitation, []string, error) {
	if err := act.Require(models.RoleSuperAdmin); err != nil {
		return models.AdminInvitation{}, nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		var v apperr.Validation
		v.Add("correo", "a valid email is required")
		return models.AdminInvitation{}, nil, v.Err()
	}
	inv := models.AdminInvitation{Email: email, Token: uuid.New()}
	if err := r.DB.WithContext(ctx).Create(&inv).Error; err != nil {
		return models.AdminInvitation{}, nil, err
	}
	warnings := r.Notifier.Enqueue(ctx, notify.Message{
		Kind: notify.KindAdminInvitation,
		To:   []notify.Recipient{{Name: email, Email: email}},
		Data: notify.Data{"Token": inv.Token.String()},
	})
	return inv, warnings, nil
}

// RegisterAdmin consumes an invitation and creates an inactive event admin.
func (r *Registry) RegisterAdmin(ctx context.Context, token uuid.UUID, nationalID string, p Profile) (models.Person, error) {
	var out models.Person
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inv models.AdminInvitation
		if err := tx.Where("token = ? AND used = ?", token, false).First(&inv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("invitation")
			}
			return err
		}
		p.Email = inv.Email
		p.Role = models.RoleEventAdmin
		ensured, err := r.EnsurePerson(tx, nationalID, p)
		if err != nil {
			return err
		}
		updates := map[string]any{"primary_role": models.RoleEventAdmin}
		if ensured.Created {
			// the generated secret is replaced at activation
			updates["active"] = false
		}
		if err := tx.Model(&ensured.Person).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.Model(&inv).Update("used", true).Error; err != nil {
			return err
		}
		out = ensured.Person
		out.PrimaryRole = models.RoleEventAdmin
		out.Active = !ensured.Created
		return nil
	})
	return out, err
}

// ActivateAdmin issues a fresh secret to an invited admin and activates them.
func (r *Registry) ActivateAdmin(ctx context.Context, act actor.Context, personID uuid.UUID) (models.Person, []string, error) {
	if err := act.Require(models.RoleSuperAdmin); err != nil {
		return models.Person{}, nil, err
	}
	db := r.DB.WithContext(ctx)
	p, err := repo.GetPerson(db, personID)
	if err != nil {
		return models.Person{}, nil, err
	}
	if p.PrimaryRole != models.RoleEventAdmin {
		return models.Person{}, nil, apperr.New(apperr.CodeStateNotAllowed, "person is not an event administrator")
	}
	secret, err := r.Gen.Secret()
	if err != nil {
		return models.Person{}, nil, err
	}
	hash, err := credentials.HashSecret(secret)
	if err != nil {
		return models.Person{}, nil, err
	}
	if err := db.Model(p).Updates(map[string]any{"password_hash": hash, "active": true, "first_login": true}).Error; err != nil {
		return models.Person{}, nil, err
	}
	warnings := r.Notifier.Enqueue(ctx, notify.Message{
		Kind: notify.KindAdminCredentials,
		To:   []notify.Recipient{notify.RecipientFor(*p)},
		Data: notify.Data{"Username": p.Username, "Secret": secret},
	})
	return *p, warnings, nil
}
