package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/enrollment"
	"github.com/sirdesai22/event-service/internal/models"
)

// member is one roster entry of the integrantes field.
type member struct {
	NationalID string `json:"documento"`
	GivenName  string `json:"nombre"`
	FamilyName string `json:"apellido"`
	Email      string `json:"correo"`
	Phone      string `json:"telefono"`
}

func applicantFrom(f *fields) enrollment.Applicant {
	return enrollment.Applicant{NationalID: f.str("documento"), Profile: profileFrom(f)}
}

func (s *Server) preinscribe(w http.ResponseWriter, r *http.Request, _ actor.Context) error {
	role, found := rolePaths[r.PathValue("rol")]
	if !found {
		return apperr.NotFound("enrollment form")
	}
	eventID, err := pathID(r, "event")
	if err != nil {
		return err
	}
	if err := parseForm(r); err != nil {
		return err
	}
	f := fields{r: r}
	sub := enrollment.Submission{
		EventID:      eventID,
		Role:         role,
		Applicant:    applicantFrom(&f),
		ProjectTitle: f.str("titulo"),
	}
	if raw := f.str("integrantes"); raw != "" {
		var roster []member
		if err := json.Unmarshal([]byte(raw), &roster); err != nil {
			f.v.Add("integrantes", "must be a JSON list of members")
		}
		for _, m := range roster {
			a := enrollment.Applicant{NationalID: m.NationalID}
			a.GivenName, a.FamilyName, a.Email, a.Phone = m.GivenName, m.FamilyName, m.Email, m.Phone
			sub.Members = append(sub.Members, a)
		}
	}
	if err := f.err(); err != nil {
		return err
	}
	if sub.Receipt, err = upload(r, "recibo"); err != nil {
		return err
	}
	if sub.Document, err = upload(r, "archivo"); err != nil {
		return err
	}
	res, err := s.Enrollment.Submit(r.Context(), sub)
	if err != nil {
		return err
	}
	return created(w, res, res.Warnings...)
}

// review approves or rejects an enrollment of the given role in the event.
func (s *Server) review(role models.Role, approve bool) handler {
	return func(w http.ResponseWriter, r *http.Request, act actor.Context) error {
		eventID, err := pathID(r, "id")
		if err != nil {
			return err
		}
		id, err := pathID(r, "enrollment")
		if err != nil {
			return err
		}
		row, err := s.Enrollment.Get(r.Context(), act, id)
		if err != nil {
			return err
		}
		if row.EventID != eventID || row.Role != role {
			return apperr.NotFound("enrollment")
		}
		var res enrollment.Result
		if approve {
			res, err = s.Enrollment.Approve(r.Context(), act, id)
		} else {
			if err := parseForm(r); err != nil {
				return err
			}
			res, err = s.Enrollment.Reject(r.Context(), act, id, r.FormValue("motivo"))
		}
		if err != nil {
			return err
		}
		return ok(w, res, res.Warnings...)
	}
}

func (s *Server) getEnrollment(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	row, err := s.Enrollment.Get(r.Context(), act, id)
	if err != nil {
		return err
	}
	return ok(w, row)
}

func (s *Server) updateDocuments(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := parseForm(r); err != nil {
		return err
	}
	receipt, err := upload(r, "recibo")
	if err != nil {
		return err
	}
	doc, err := upload(r, "archivo")
	if err != nil {
		return err
	}
	row, err := s.Enrollment.UpdateDocuments(r.Context(), act, id, receipt, doc)
	if err != nil {
		return err
	}
	return ok(w, row)
}

func (s *Server) cancelEnrollment(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	res, err := s.Enrollment.CancelByOwner(r.Context(), act, id)
	if err != nil {
		return err
	}
	return ok(w, res, res.Warnings...)
}

func (s *Server) listEnrollments(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	q := r.URL.Query()
	var role models.Role
	if raw := q.Get("rol"); raw != "" {
		var known bool
		if role, known = roleParam(raw); !known {
			return &apperr.Error{Code: apperr.CodeValidation, Message: "invalid input",
				Fields: map[string]string{"rol": "unknown role"}}
		}
	}
	rows, err := s.Enrollment.List(r.Context(), act, id, role, models.EnrollmentState(q.Get("estado")))
	if err != nil {
		return err
	}
	return ok(w, rows)
}

func (s *Server) myEnrollments(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	rows, err := s.Enrollment.ForPerson(r.Context(), act, act.PersonID)
	if err != nil {
		return err
	}
	return ok(w, rows)
}

func (s *Server) checkIn(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := parseForm(r); err != nil {
		return err
	}
	row, already, err := s.Enrollment.CheckIn(r.Context(), act, id, (&fields{r: r}).str("clave"))
	if err != nil {
		return err
	}
	return ok(w, map[string]any{"enrollment": row, "already_checked_in": already})
}

// ---------------- PROJECTS ----------------

func (s *Server) getProject(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "leader")
	if err != nil {
		return err
	}
	p, err := s.Projects.Get(r.Context(), act, id)
	if err != nil {
		return err
	}
	return ok(w, p)
}

func (s *Server) addMember(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "leader")
	if err != nil {
		return err
	}
	if err := parseForm(r); err != nil {
		return err
	}
	res, err := s.Projects.AddMember(r.Context(), act, id, applicantFrom(&fields{r: r}))
	if err != nil {
		return err
	}
	return created(w, res, res.Warnings...)
}

func (s *Server) removeMember(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	leader, err := pathID(r, "leader")
	if err != nil {
		return err
	}
	memberID, err := pathID(r, "member")
	if err != nil {
		return err
	}
	if err := s.Projects.RemoveMember(r.Context(), act, leader, memberID); err != nil {
		return err
	}
	return ok(w, nil)
}

func (s *Server) transferLeadership(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	leader, err := pathID(r, "leader")
	if err != nil {
		return err
	}
	memberID, err := pathID(r, "member")
	if err != nil {
		return err
	}
	p, err := s.Projects.TransferLeadership(r.Context(), act, leader, memberID)
	if err != nil {
		return err
	}
	return ok(w, p)
}
