package actor

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/models"
)

func TestRequireEventAdmin(t *testing.T) {
	t.Parallel()

	owner := uuid.New()
	ev := &models.Event{AdminID: owner}

	tests := []struct {
		name  string
		actor Context
		ok    bool
	}{
		{"owner", New(owner, models.RoleEventAdmin), true},
		{"other admin", New(uuid.New(), models.RoleEventAdmin), false},
		{"superadmin", New(uuid.New(), models.RoleSuperAdmin), true},
		{"owner in attendee role", New(owner, models.RoleAttendee), false},
		{"system", System, false},
	}
	for _, tt := range tests {
		err := tt.actor.RequireEventAdmin(ev)
		if tt.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.ok && !errors.Is(err, apperr.ErrForbidden) {
			t.Fatalf("%s: err = %v, want forbidden", tt.name, err)
		}
	}
}

func TestRequireAndScope(t *testing.T) {
	t.Parallel()

	c := New(uuid.New(), models.RoleEvaluator)
	if err := c.Require(models.RoleAttendee, models.RoleEvaluator); err != nil {
		t.Fatalf("require: %v", err)
	}
	if err := c.Require(models.RoleEventAdmin); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
	ev := uuid.New()
	scoped := c.Scoped(ev)
	if scoped.EventScope == nil || *scoped.EventScope != ev || c.EventScope != nil {
		t.Fatal("Scoped should bind a copy")
	}
}
