package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/enrollment"
	"github.com/sirdesai22/event-service/internal/models"
)

const maxUpload = 20 << 20

type envelope struct {
	Data     any      `json:"data"`
	Warnings []string `json:"warnings,omitempty"`
}

type errorBody struct {
	Error   apperr.Code       `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("⚠️ encode response: %v", err)
	}
}

func ok(w http.ResponseWriter, data any, warnings ...string) error {
	writeJSON(w, http.StatusOK, envelope{Data: data, Warnings: warnings})
	return nil
}

func created(w http.ResponseWriter, data any, warnings ...string) error {
	writeJSON(w, http.StatusCreated, envelope{Data: data, Warnings: warnings})
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		log.Printf("❌ %s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: apperr.CodeInternal, Message: "internal error"})
		return
	}
	status := e.Kind().HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Printf("❌ %s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, errorBody{Error: e.Code, Message: e.Message, Fields: e.Fields})
}

// ---------------- REQUEST PARSING ----------------

func parseForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			return apperr.Wrap(apperr.CodeValidation, "unreadable multipart form", err)
		}
		return nil
	}
	if err := r.ParseForm(); err != nil {
		return apperr.Wrap(apperr.CodeValidation, "unreadable form", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, &apperr.Error{Code: apperr.CodeValidation, Message: "invalid input",
			Fields: map[string]string{name: "must be a uuid"}}
	}
	return id, nil
}

// upload reads an optional file field. A missing field yields nil.
func upload(r *http.Request, field string) (*enrollment.Upload, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, "unreadable file "+field, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUpload))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, "unreadable file "+field, err)
	}
	return &enrollment.Upload{Name: hdr.Filename, Data: data}, nil
}

// fields reads typed form values, collecting per-field errors.
type fields struct {
	r *http.Request
	v apperr.Validation
}

func (f *fields) str(name string) string {
	return strings.TrimSpace(f.r.FormValue(name))
}

func (f *fields) optStr(name string) *string {
	if _, present := f.r.Form[name]; !present {
		return nil
	}
	s := f.str(name)
	return &s
}

func (f *fields) integer(name string) int {
	n, err := strconv.Atoi(f.str(name))
	if err != nil {
		f.v.Add(name, "must be an integer")
	}
	return n
}

func (f *fields) optInt(name string) *int {
	if f.str(name) == "" {
		return nil
	}
	n := f.integer(name)
	return &n
}

func (f *fields) optBool(name string) *bool {
	s := f.str(name)
	if s == "" {
		return nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		f.v.Add(name, "must be true or false")
		return nil
	}
	return &b
}

func (f *fields) date(name string) time.Time {
	s := f.str(name)
	if s == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(models.DateLayout, s, time.UTC)
	if err != nil {
		f.v.Add(name, "must be a YYYY-MM-DD date")
	}
	return t
}

func (f *fields) optDate(name string) *time.Time {
	if f.str(name) == "" {
		return nil
	}
	t := f.date(name)
	return &t
}

func (f *fields) optUUID(name string) *uuid.UUID {
	s := f.str(name)
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		f.v.Add(name, "must be a uuid")
		return nil
	}
	return &id
}

// uuids reads a comma separated or repeated list of ids.
func (f *fields) uuids(name string) []uuid.UUID {
	var out []uuid.UUID
	for _, raw := range f.r.Form[name] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s == "" {
				continue
			}
			id, err := uuid.Parse(s)
			if err != nil {
				f.v.Add(name, "must list uuids")
				continue
			}
			out = append(out, id)
		}
	}
	return out
}

func (f *fields) err() error {
	return f.v.Err()
}

// ---------------- ROLE NAMES ----------------

var rolePaths = map[string]models.Role{
	"asistente":    models.RoleAttendee,
	"participante": models.RoleExponent,
	"evaluador":    models.RoleEvaluator,
}

var roleShort = map[string]models.Role{
	"asi": models.RoleAttendee,
	"par": models.RoleExponent,
	"eva": models.RoleEvaluator,
}

func roleParam(s string) (models.Role, bool) {
	if r, found := rolePaths[s]; found {
		return r, true
	}
	r := models.Role(s)
	return r, r.Enrolls()
}

func parseInt64(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &apperr.Error{Code: apperr.CodeValidation, Message: "invalid input",
			Fields: map[string]string{"id": "must be an integer"}}
	}
	return n, nil
}
