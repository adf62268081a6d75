package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/repo"
)

const scorePrefix = "criterio_"

// ---------------- RUBRIC ----------------

func (s *Server) listCriteria(w http.ResponseWriter, r *http.Request, _ actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	list, err := s.Scoring.Criteria(r.Context(), id)
	if err != nil {
		return err
	}
	enabled, err := s.Scoring.ScoringEnabled(r.Context(), id)
	if err != nil {
		return err
	}
	return ok(w, map[string]any{"criteria": list, "scoring_enabled": enabled})
}

func (s *Server) addCriterion(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := parseForm(r); err != nil {
		return err
	}
	f := fields{r: r}
	weight := f.integer("peso")
	if err := f.err(); err != nil {
		return err
	}
	c, err := s.Scoring.AddCriterion(r.Context(), act, id, f.str("descripcion"), weight)
	if err != nil {
		return err
	}
	return created(w, c)
}

// criterionIn resolves the criterion path value and checks it belongs to the
// event in the path.
func (s *Server) criterionIn(r *http.Request) (uuid.UUID, error) {
	eventID, err := pathID(r, "id")
	if err != nil {
		return uuid.Nil, err
	}
	id, err := pathID(r, "criterio")
	if err != nil {
		return uuid.Nil, err
	}
	var c models.Criterion
	if err := s.DB.WithContext(r.Context()).First(&c, "id = ? AND event_id = ?", id, eventID).Error; err != nil {
		return uuid.Nil, apperr.NotFound("criterion")
	}
	return id, nil
}

func (s *Server) updateCriterion(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := s.criterionIn(r)
	if err != nil {
		return err
	}
	if err := parseForm(r); err != nil {
		return err
	}
	f := fields{r: r}
	weight := f.integer("peso")
	if err := f.err(); err != nil {
		return err
	}
	c, err := s.Scoring.UpdateCriterion(r.Context(), act, id, f.str("descripcion"), weight)
	if err != nil {
		return err
	}
	return ok(w, c)
}

func (s *Server) deleteCriterion(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := s.criterionIn(r)
	if err != nil {
		return err
	}
	if err := s.Scoring.DeleteCriterion(r.Context(), act, id); err != nil {
		return err
	}
	return ok(w, nil)
}

// ---------------- SCORES ----------------

// recordScores reads one criterio_<id>=<value> field per criterion.
func (s *Server) recordScores(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	leaderID, err := pathID(r, "leader")
	if err != nil {
		return err
	}
	eventID, err := pathID(r, "event")
	if err != nil {
		return err
	}
	leader, err := repo.GetEnrollment(s.DB.WithContext(r.Context()), leaderID)
	if err != nil {
		return err
	}
	if leader.EventID != eventID {
		return apperr.NotFound("project")
	}
	if err := parseForm(r); err != nil {
		return err
	}
	var v apperr.Validation
	values := map[uuid.UUID]int{}
	for key, raw := range r.PostForm {
		if !strings.HasPrefix(key, scorePrefix) || len(raw) == 0 {
			continue
		}
		id, err := uuid.Parse(strings.TrimPrefix(key, scorePrefix))
		if err != nil {
			v.Add(key, "unknown criterion")
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw[0]))
		if err != nil {
			v.Add(key, "must be an integer")
			continue
		}
		values[id] = n
	}
	if err := v.Err(); err != nil {
		return err
	}
	scores, err := s.Scoring.RecordScores(r.Context(), act, leaderID, values)
	if err != nil {
		return err
	}
	mark, err := s.Scoring.ComputeFinalMark(r.Context(), leaderID)
	if err != nil {
		return err
	}
	return ok(w, map[string]any{"scores": scores, "final_mark": mark})
}

func (s *Server) pendingProjects(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "event")
	if err != nil {
		return err
	}
	list, err := s.Scoring.PendingProjects(r.Context(), act, id)
	if err != nil {
		return err
	}
	return ok(w, list)
}

func (s *Server) scoreSheet(w http.ResponseWriter, r *http.Request, act actor.Context) error {
	id, err := pathID(r, "leader")
	if err != nil {
		return err
	}
	sheet, err := s.Scoring.ScoreSheet(r.Context(), act, id)
	if err != nil {
		return err
	}
	return ok(w, sheet)
}

func (s *Server) ranking(w http.ResponseWriter, r *http.Request, _ actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	list, err := s.Scoring.Ranking(r.Context(), id)
	if err != nil {
		return err
	}
	return ok(w, list)
}

func (s *Server) podium(w http.ResponseWriter, r *http.Request, _ actor.Context) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	list, err := s.Scoring.Podium(r.Context(), id)
	if err != nil {
		return err
	}
	return ok(w, list)
}
