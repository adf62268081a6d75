package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/elastic"
	"github.com/sirdesai22/event-service/internal/events"
	"github.com/sirdesai22/event-service/internal/models"
)

// ---------------- PUBLIC CATALOGUE ----------------

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request, _ actor.Context) error {
	if err := parseForm(r); err != nil {
		return err
	}
	f := fields{r: r}
	filter := events.Filter{
		Title:      f.str("nombre"),
		City:       f.str("ciudad"),
		CategoryID: f.optUUID("categoria"),
		AreaID:     f.optUUID("area"),
		HasCost:    f.optBool("costo"),
		State:      models.EventState(f.str("estado")),
	}
	if err := f.err(); err != nil {
		return err
	}
	list, err := s.Events.ListPublic(r.Context(), filter)
	if err != nil {
		return err
	}
	return ok(w, list)
}

// search uses the index when one is configured and the title filter of the
// listing otherwise.
func (s *Server) search(w http.ResponseWriter, r *http.Request, _ actor.Context) error {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if s.ES != nil {
		hits, err := elastic.Search(r.Context(), s.ES, q, 20)
		if err != nil {
			return apperr.Wrap(apperr.CodeTransportFailure, "search unavailable", err)
		}
		return ok(w, hits)
	}
	list, err := s.Events.ListPublic(r.Context(), events.Filter{Title: q})
	if err != nil {
		return err
	}
	return ok(w, list)
}

func (s *Server) eventDetail(w http.ResponseWriter, r *http.Request, _ actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	ev, err := s.Events.Get(r.Context(), id)
	if err != nil {
		return err
	}
	cats, err := s.Events.EventCategories(r.Context(), id)
	if err != nil {
		return err
	}
	return ok(w, map[string]any{"event": ev, "categories": cats})
}

func (s *Server) listAreas(w http.ResponseWriter, r *http.Request, _ actor.Context) error {
	areas, err := s.Events.ListAreas(r.Context())
	if err != nil {
		return err
	}
	return ok(w, areas)
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request, _ actor.Context) error {
	if err := parseForm(r); err != nil {
		return err
	}
	f := fields{r: r}
	area := f.optUUID("area")
	if err := f.err(); err != nil {
		return err
	}
	cats, err := s.Events.ListCategories(r.Context(), area)
	if err != nil {
		return err
	}
	return ok(w, cats)
}

func (s *Server) createArea(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	if err := parseForm(r); err != nil {
		return err
	}
	f := fields{r: r}
	a, err := s.Events.CreateArea(r.Context(), act, f.str("nombre"), f.str("descripcion"))
	if err != nil {
		return err
	}
	return created(w, a)
}

func (s *Server) createCategory(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	if err := parseForm(r); err != nil {
		return err
	}
	f := fields{r: r}
	area := f.optUUID("area")
	if area == nil {
		f.v.Add("area", "area is required")
	}
	if err := f.err(); err != nil {
		return err
	}
	c, err := s.Events.CreateCategory(r.Context(), act, *area, f.str("nombre"), f.str("descripcion"))
	if err != nil {
		return err
	}
	return created(w, c)
}

// ---------------- ADMINISTRATION ----------------

func (s *Server) myEvents(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	list, err := s.Events.ListByAdmin(r.Context(), act)
	if err != nil {
		return err
	}
	return ok(w, list)
}

// storeFiles uploads the optional event files and returns their handles by
// field name.
func (s *Server) storeFiles(ctx context.Context, r *http.Request, names ...string) (map[string]string, error) {
	out := map[string]string{}
	for _, name := range names {
		up, err := upload(r, name)
		if err != nil {
			return nil, err
		}
		if up == nil {
			continue
		}
		handle, err := s.Blobs.Put(ctx, "event-"+name, up.Name, up.Data)
		if err != nil {
			for _, h := range out {
				_ = s.Blobs.Delete(ctx, h)
			}
			return nil, apperr.Wrap(apperr.CodeTransportFailure, "file storage failed", err)
		}
		out[name] = handle
	}
	return out, nil
}

func (s *Server) dropFiles(ctx context.Context, handles map[string]string) {
	for _, h := range handles {
		_ = s.Blobs.Delete(ctx, h)
	}
}

func (s *Server) createEvent(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	if err := parseForm(r); err != nil {
		return err
	}
	f := fields{r: r}
	d := events.Descriptor{
		Title:       f.str("nombre"),
		Description: f.str("descripcion"),
		City:        f.str("ciudad"),
		Venue:       f.str("lugar"),
		StartDate:   f.date("fecha_inicio"),
		EndDate:     f.date("fecha_fin"),
		Capacity:    f.integer("capacidad"),
		CategoryIDs: f.uuids("categorias"),
	}
	if c := f.optBool("costo"); c != nil {
		d.HasCost = *c
	}
	if err := f.err(); err != nil {
		return err
	}
	files, err := s.storeFiles(r.Context(), r, "portada", "agenda", "ficha_tecnica")
	if err != nil {
		return err
	}
	d.CoverHandle, d.AgendaHandle, d.TechInfoHandle = files["portada"], files["agenda"], files["ficha_tecnica"]
	ev, warnings, err := s.Events.Create(r.Context(), act, d)
	if err != nil {
		s.dropFiles(r.Context(), files)
		return err
	}
	return created(w, ev, warnings...)
}

func (s *Server) updateEvent(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := parseForm(r); err != nil {
		return err
	}
	f := fields{r: r}
	p := events.Patch{
		Title:       f.optStr("nombre"),
		Description: f.optStr("descripcion"),
		City:        f.optStr("ciudad"),
		Venue:       f.optStr("lugar"),
		StartDate:   f.optDate("fecha_inicio"),
		EndDate:     f.optDate("fecha_fin"),
		Capacity:    f.optInt("capacidad"),
		HasCost:     f.optBool("costo"),
		CategoryIDs: f.uuids("categorias"),
	}
	if err := f.err(); err != nil {
		return err
	}
	files, err := s.storeFiles(r.Context(), r, "portada", "agenda", "ficha_tecnica")
	if err != nil {
		return err
	}
	for name, dst := range map[string]**string{"portada": &p.CoverHandle, "agenda": &p.AgendaHandle, "ficha_tecnica": &p.TechInfoHandle} {
		if h, found := files[name]; found {
			*dst = &h
		}
	}
	ev, err := s.Events.Update(r.Context(), act, id, p)
	if err != nil {
		s.dropFiles(r.Context(), files)
		return err
	}
	return ok(w, ev)
}

func (s *Server) eventForAdmin(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	ev, err := s.Events.GetForAdmin(r.Context(), act, id)
	if err != nil {
		return err
	}
	return ok(w, ev)
}

func (s *Server) setState(next models.EventState) handler {
	return func(w http.ResponseWriter, r *http.Request, act actor.Context) error {
		id, err := pathID(r, "id")
		if err != nil {
			return err
		}
		ev, err := s.Events.SetState(r.Context(), act, id, next)
		if err != nil {
			return err
		}
		return ok(w, ev)
	}
}

func (s *Server) setCategories(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := parseForm(r); err != nil {
		return err
	}
	f := fields{r: r}
	ids := f.uuids("categorias")
	if err := f.err(); err != nil {
		return err
	}
	if err := s.Events.SetCategories(r.Context(), act, id, ids); err != nil {
		return err
	}
	cats, err := s.Events.EventCategories(r.Context(), id)
	if err != nil {
		return err
	}
	return ok(w, cats)
}

func (s *Server) togglePreinscription(role models.Role) handler {
	return func(w http.ResponseWriter, r *http.Request, act actor.Context) error {
		id, err := pathID(r, "id")
		if err != nil {
			return err
		}
		ev, err := s.Events.GetForAdmin(r.Context(), act, id)
		if err != nil {
			return err
		}
		ev, err = s.Events.TogglePreinscription(r.Context(), act, id, role, !ev.PreinscriptionEnabled(role))
		if err != nil {
			return err
		}
		return ok(w, ev)
	}
}

func (s *Server) eventStats(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	st, err := s.Events.Stats(r.Context(), act, id)
	if err != nil {
		return err
	}
	return ok(w, st)
}

func (s *Server) announce(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := parseForm(r); err != nil {
		return err
	}
	f := fields{r: r}
	var roles []models.Role
	for _, raw := range strings.Split(f.str("roles"), ",") {
		if raw = strings.TrimSpace(raw); raw == "" {
			continue
		}
		role, _ := roleParam(raw)
		roles = append(roles, role)
	}
	n, warnings, err := s.Dispatcher.Announce(r.Context(), act, id, roles, f.str("asunto"), f.str("mensaje"))
	if err != nil {
		return err
	}
	return ok(w, map[string]int{"recipients": n}, warnings...)
}

// ---------------- LIFECYCLE ----------------

func (s *Server) softCancel(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	ev, warnings, err := s.Lifecycle.SoftCancel(r.Context(), act, id)
	if err != nil {
		return err
	}
	return ok(w, ev, warnings...)
}

func (s *Server) revert(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	ev, warnings, err := s.Lifecycle.Revert(r.Context(), act, id)
	if err != nil {
		return err
	}
	return ok(w, ev, warnings...)
}

func (s *Server) archive(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := parseForm(r); err != nil {
		return err
	}
	ev, err := s.Lifecycle.Archive(r.Context(), act, id, r.FormValue("confirmacion"))
	if err != nil {
		return err
	}
	return ok(w, ev)
}

func (s *Server) reactivate(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	ev, err := s.Lifecycle.Reactivate(r.Context(), act, id)
	if err != nil {
		return err
	}
	return ok(w, ev)
}

func (s *Server) auditTrail(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	trail, err := s.Lifecycle.AuditTrail(r.Context(), act, id)
	if err != nil {
		return err
	}
	return ok(w, trail)
}
