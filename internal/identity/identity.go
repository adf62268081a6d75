// Package identity is the registry of persons and their roles.
package identity

import (
	"context"
	"errors"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/credentials"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/notify"
	"github.com/sirdesai22/event-service/internal/repo"
	"gorm.io/gorm"
)

// Profile holds the mutable fields of a person.
type Profile struct {
	Username   string
	Email      string
	GivenName  string
	FamilyName string
	Phone      string
	Role       models.Role
	// CreatedForEvent marks persons created by a group roster.
	CreatedForEvent *uuid.UUID
}

// Ensured is the outcome of EnsurePerson. Secret is set only for new persons
// and must be dispatched once, never stored.
type Ensured struct {
	Person  models.Person
	Secret  string
	Created bool
}

type Registry struct {
	DB       *gorm.DB
	Gen      credentials.Generator
	Notifier notify.Notifier
	Clock    func() time.Time
}

func NewRegistry(db *gorm.DB, gen credentials.Generator, n notify.Notifier) *Registry {
	return &Registry{DB: db, Gen: gen, Notifier: n, Clock: models.UTCNow}
}

func validateProfile(nationalID string, p Profile) error {
	var v apperr.Validation
	v.Check(strings.TrimSpace(nationalID) != "", "documento", "national id is required")
	v.Check(strings.TrimSpace(p.GivenName) != "", "nombre", "given name is required")
	if _, err := mail.ParseAddress(p.Email); err != nil {
		v.Add("correo", "a valid email is required")
	}
	return v.Err()
}

// EnsurePerson returns the person with nationalID, refreshing its profile,
// or creates one with a generated secret. It runs on db, which may be a
// transaction owned by the caller.
func (r *Registry) EnsurePerson(db *gorm.DB, nationalID string, p Profile) (Ensured, error) {
	nationalID = strings.TrimSpace(nationalID)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	if err := validateProfile(nationalID, p); err != nil {
		return Ensured{}, err
	}

	var existing models.Person
	err := db.Where("national_id = ?", nationalID).First(&existing).Error
	switch {
	case err == nil:
		if err := r.refresh(db, &existing, p); err != nil {
			return Ensured{}, err
		}
		if p.Role != "" {
			if err := AssignRole(db, existing.ID, p.Role); err != nil {
				return Ensured{}, err
			}
		}
		return Ensured{Person: existing}, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return Ensured{}, err
	}

	username := strings.TrimSpace(p.Username)
	if username == "" {
		if username, err = derivedUsername(db, strings.SplitN(p.Email, "@", 2)[0]); err != nil {
			return Ensured{}, err
		}
	} else if err := uniqueField(db, "username", username, uuid.Nil); err != nil {
		return Ensured{}, err
	}
	if err := uniqueField(db, "email", p.Email, uuid.Nil); err != nil {
		return Ensured{}, err
	}

	secret, err := r.Gen.Secret()
	if err != nil {
		return Ensured{}, err
	}
	hash, err := credentials.HashSecret(secret)
	if err != nil {
		return Ensured{}, err
	}
	role := p.Role
	if role == "" {
		role = models.RoleVisitor
	}
	person := models.Person{
		NationalID:      nationalID,
		Username:        username,
		Email:           p.Email,
		GivenName:       strings.TrimSpace(p.GivenName),
		FamilyName:      strings.TrimSpace(p.FamilyName),
		Phone:           strings.TrimSpace(p.Phone),
		PasswordHash:    hash,
		PrimaryRole:     role,
		FirstLogin:      true,
		Active:          true,
		CreatedForEvent: p.CreatedForEvent,
	}
	if err := db.Create(&person).Error; err != nil {
		if repo.IsDuplicate(err) {
			return Ensured{}, apperr.Wrap(apperr.CodeDuplicateNationalID, "person already registered", err)
		}
		return Ensured{}, err
	}
	if err := AssignRole(db, person.ID, role); err != nil {
		return Ensured{}, err
	}
	return Ensured{Person: person, Secret: secret, Created: true}, nil
}

func (r *Registry) refresh(db *gorm.DB, person *models.Person, p Profile) error {
	updates := map[string]any{}
	if g := strings.TrimSpace(p.GivenName); g != "" && g != person.GivenName {
		updates["given_name"] = g
	}
	if f := strings.TrimSpace(p.FamilyName); f != "" && f != person.FamilyName {
		updates["family_name"] = f
	}
	if ph := strings.TrimSpace(p.Phone); ph != "" && ph != person.Phone {
		updates["phone"] = ph
	}
	if p.Email != "" && p.Email != person.Email {
		if err := uniqueField(db, "email", p.Email, person.ID); err != nil {
			return err
		}
		updates["email"] = p.Email
	}
	if len(updates) == 0 {
		return nil
	}
	if err := db.Model(person).Updates(updates).Error; err != nil {
		return err
	}
	return db.First(person, "id = ?", person.ID).Error
}

func uniqueField(db *gorm.DB, column, value string, except uuid.UUID) error {
	var n int64
	q := db.Model(&models.Person{}).Where(column+" = ?", value)
	if except != uuid.Nil {
		q = q.Where("id <> ?", except)
	}
	if err := q.Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	if column == "username" {
		return apperr.Newf(apperr.CodeDuplicateUsername, "username %q is taken", value)
	}
	return apperr.Newf(apperr.CodeDuplicateEmail, "email %q is taken", value)
}

// derivedUsername returns base, or base followed by the first counter
// that is not taken yet.
func derivedUsername(db *gorm.DB, base string) (string, error) {
	candidate := base
	for i := 1; ; i++ {
		var n int64
		if err := db.Model(&models.Person{}).Where("username = ?", candidate).Count(&n).Error; err != nil {
			return "", err
		}
		if n == 0 {
			return candidate, nil
		}
		candidate = base + strconv.Itoa(i)
	}
}

// AssignRole adds role to the person's role set; repeated calls are no-ops.
func AssignRole(db *gorm.DB, personID uuid.UUID, role models.Role) error {
	if !role.Valid() {
		return apperr.Newf(apperr.CodeValidation, "unknown role %q", role)
	}
	return db.Where(models.PersonRole{PersonID: personID, Role: role}).
		FirstOrCreate(&models.PersonRole{PersonID: personID, Role: role}).Error
}

// Roles lists the person's accumulated roles.
func (r *Registry) Roles(ctx context.Context, personID uuid.UUID) ([]models.Role, error) {
	var rows []models.PersonRole
	if err := r.DB.WithContext(ctx).Where("person_id = ?", personID).Order("role").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Role, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Role)
	}
	return out, nil
}

// HasRole reports whether the person holds role.
func (r *Registry) HasRole(ctx context.Context, personID uuid.UUID, role models.Role) (bool, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.PersonRole{}).
		Where("person_id = ? AND role = ?", personID, role).Count(&n).Error
	return n > 0, err
}

// Authenticate resolves identifier (email or username) and checks secret.
func (r *Registry) Authenticate(ctx context.Context, identifier, secret string) (models.Person, error) {
	identifier = strings.TrimSpace(identifier)
	var p models.Person
	err := r.DB.WithContext(ctx).
		Where("email = ? OR username = ?", strings.ToLower(identifier), identifier).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Person{}, apperr.New(apperr.CodeAuthNotFound, "unknown user")
	}
	if err != nil {
		return models.Person{}, err
	}
	if !credentials.CheckSecret(p.PasswordHash, secret) {
		return models.Person{}, apperr.New(apperr.CodeAuthBadSecret, "wrong password")
	}
	if !p.Active {
		return models.Person{}, apperr.New(apperr.CodeAuthInactive, "account is not active")
	}
	return p, nil
}
