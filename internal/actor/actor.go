// Package actor carries the authenticated caller into every core operation.
package actor

import (
	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/models"
)

// Context identifies who is acting, in which role, and optionally which event.
type Context struct {
	PersonID   uuid.UUID
	Role       models.Role
	EventScope *uuid.UUID
}

// System is used by clock-driven transitions (sweeps, lazy window checks).
var System = Context{}

func New(personID uuid.UUID, role models.Role) Context {
	return Context{PersonID: personID, Role: role}
}

// Scoped returns a copy of c bound to eventID.
func (c Context) Scoped(eventID uuid.UUID) Context {
	c.EventScope = &eventID
	return c
}

func (c Context) IsSystem() bool {
	return c.PersonID == uuid.Nil
}

func (c Context) Is(role models.Role) bool {
	return c.Role == role
}

// Require fails with apperr.ErrForbidden unless the actor holds one of roles.
func (c Context) Require(roles ...models.Role) error {
	if c.IsSystem() {
		return apperr.ErrForbidden
	}
	for _, r := range roles {
		if c.Role == r {
			return nil
		}
	}
	return apperr.ErrForbidden
}

// RequireEventAdmin fails unless the actor administers ev. Superadmins pass.
func (c Context) RequireEventAdmin(ev *models.Event) error {
	if c.IsSystem() {
		return apperr.ErrForbidden
	}
	if c.Role == models.RoleSuperAdmin {
		return nil
	}
	if c.Role != models.RoleEventAdmin || ev.AdminID != c.PersonID {
		return apperr.ErrForbidden
	}
	return nil
}

// RequireSelf fails unless the actor is personID or a superadmin.
func (c Context) RequireSelf(personID uuid.UUID) error {
	if c.IsSystem() {
		return apperr.ErrForbidden
	}
	if c.PersonID == personID || c.Role == models.RoleSuperAdmin {
		return nil
	}
	return apperr.ErrForbidden
}
