package httpapi

import (
	"net/http"
	"path/filepath"

	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
)

func (s *Server) issueCertificate(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	b, err := s.Certificates.IssueCertificate(r.Context(), act, id)
	if err != nil {
		return err
	}
	return ok(w, b, b.Warnings...)
}

func (s *Server) issueAll(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	role, known := roleParam(r.PathValue("rol"))
	if !known {
		return apperr.NotFound("role")
	}
	b, err := s.Certificates.IssueAll(r.Context(), act, id, role)
	if err != nil {
		return err
	}
	return ok(w, b, b.Warnings...)
}

func (s *Server) awardPodium(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	b, err := s.Certificates.AwardPodium(r.Context(), act, id)
	if err != nil {
		return err
	}
	return ok(w, b, b.Warnings...)
}

// ---------------- MEMORIES ----------------

func (s *Server) listMemories(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	list, err := s.Certificates.ListMemories(r.Context(), act, id)
	if err != nil {
		return err
	}
	return ok(w, list)
}

func (s *Server) addMemory(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := parseForm(r); err != nil {
		return err
	}
	up, err := upload(r, "archivo")
	if err != nil {
		return err
	}
	name, data := "", []byte(nil)
	if up != nil {
		name, data = up.Name, up.Data
	}
	m, err := s.Certificates.AddMemory(r.Context(), act, id, (&fields{r: r}).str("nombre"), name, data)
	if err != nil {
		return err
	}
	return created(w, m)
}

func (s *Server) openMemory(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	m, data, err := s.Certificates.OpenMemory(r.Context(), act, id)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(m.BlobHandle)+`"`)
	_, err = w.Write(data)
	return err
}

func (s *Server) deleteMemory(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := s.Certificates.DeleteMemory(r.Context(), act, id); err != nil {
		return err
	}
	return ok(w, nil)
}
