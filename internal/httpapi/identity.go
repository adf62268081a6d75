package httpapi

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/identity"
	"github.com/sirdesai22/event-service/internal/models"
)

// ---------------- SESSIONS ----------------

func (s *Server) login(w http.ResponseWriter, r *http.Request, _ actor.Context) error {
	if err := parseForm(r); err != nil {
		return err
	}
	f := fields{r: r}
	person, err := s.Identity.Authenticate(r.Context(), f.str("identificador"), r.FormValue("clave"))
	if err != nil {
		return err
	}
	role := person.PrimaryRole
	if want := models.Role(f.str("rol")); want != "" {
		has, err := s.Identity.HasRole(r.Context(), person.ID, want)
		if err != nil {
			return err
		}
		if !has {
			return apperr.ErrForbidden
		}
		role = want
	}
	signed, exp, err := s.Sessions.Issue(actor.New(person.ID, role))
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name: cookieName, Value: signed, Path: "/", Expires: exp,
		HttpOnly: true, SameSite: http.SameSiteLaxMode,
	})
	return ok(w, map[string]any{
		"token":       signed,
		"expires_at":  exp,
		"person":      person,
		"role":        role,
		"first_login": person.FirstLogin,
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request, _ actor.Context) error {
	http.SetCookie(w, &http.Cookie{Name: cookieName, Value: "", Path: "/", MaxAge: -1})
	return ok(w, nil)
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	if err := parseForm(r); err != nil {
		return err
	}
	if err := s.Identity.ChangePassword(r.Context(), act, r.FormValue("actual"), r.FormValue("nueva")); err != nil {
		return err
	}
	return ok(w, nil)
}

func profileFrom(f *fields) identity.Profile {
	return identity.Profile{
		Username:   f.str("usuario"),
		Email:      f.str("correo"),
		GivenName:  f.str("nombre"),
		FamilyName: f.str("apellido"),
		Phone:      f.str("telefono"),
	}
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	if err := parseForm(r); err != nil {
		return err
	}
	p, err := s.Identity.UpdateProfile(r.Context(), act, profileFrom(&fields{r: r}))
	if err != nil {
		return err
	}
	return ok(w, p)
}

func (s *Server) removeProfile(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	if err := s.Identity.RemoveProfile(r.Context(), act); err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{Name: cookieName, Value: "", Path: "/", MaxAge: -1})
	return ok(w, nil)
}

// ---------------- SUPERADMIN ----------------

func (s *Server) inviteAdmin(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	if err := parseForm(r); err != nil {
		return err
	}
	inv, warnings, err := s.Identity.InviteAdmin(r.Context(), act, (&fields{r: r}).str("correo"))
	if err != nil {
		return err
	}
	return created(w, map[string]any{"email": inv.Email, "created_at": inv.CreatedAt}, warnings...)
}

func (s *Server) registerAdmin(w http.ResponseWriter, r *http.Request, _ actor.Context) error {
	tok, err := uuid.Parse(r.PathValue("token"))
	if err != nil {
		return apperr.NotFound("invitation")
	}
	if err := parseForm(r); err != nil {
		return err
	}
	f := fields{r: r}
	p, err := s.Identity.RegisterAdmin(r.Context(), tok, f.str("documento"), profileFrom(&f))
	if err != nil {
		return err
	}
	return created(w, p)
}

func (s *Server) activateAdmin(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "person")
	if err != nil {
		return err
	}
	p, warnings, err := s.Identity.ActivateAdmin(r.Context(), act, id)
	if err != nil {
		return err
	}
	return ok(w, p, warnings...)
}

func (s *Server) requeueDLQ(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	if err := act.Require(models.RoleSuperAdmin); err != nil {
		return err
	}
	id, err := parseInt64(r.PathValue("id"))
	if err != nil {
		return err
	}
	if err := s.Retrier.Requeue(r.Context(), id); err != nil {
		return err
	}
	return ok(w, map[string]string{"status": "retried"})
}

func (s *Server) reindex(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	n, err := s.Events.Reindex(r.Context(), act)
	if err != nil {
		return err
	}
	return ok(w, map[string]int{"queued": n})
}
