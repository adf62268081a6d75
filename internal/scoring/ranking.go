package scoring

import (
	"context"
	"math/big"
	"sort"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/repo"
)

// PodiumSize is how many projects the podium holds.
const PodiumSize = 3

// Standing is one ranked project.
type Standing struct {
	Position int       `json:"position"`
	Code     string    `json:"code"`
	Title    string    `json:"title"`
	LeaderID uuid.UUID `json:"leader_id"`
	Leader   string    `json:"leader"`
	Mark     int       `json:"mark"`
}

// ---------------- RANKING ----------------

// Ranking orders the event's approved projects by final mark, highest
// first, breaking ties by project code. Unmarked projects are left out.
func (e *Engine) Ranking(ctx context.Context, eventID uuid.UUID) ([]Standing, error) {
	if err := e.touch(ctx, eventID); err != nil {
		return nil, err
	}
	db := e.DB.WithContext(ctx)
	if _, err := repo.GetEvent(db, eventID); err != nil {
		return nil, err
	}
	leaders, err := repo.ProjectLeaders(db, eventID, models.EnrollmentApproved)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(leaders))
	for _, l := range leaders {
		ids = append(ids, l.PersonID)
	}
	people, err := repo.PeopleByID(db, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Standing, 0, len(leaders))
	for _, l := range leaders {
		if l.FinalMark == nil {
			continue
		}
		out = append(out, Standing{
			Code:     l.Code(),
			Title:    l.ProjectTitle,
			LeaderID: l.ID,
			Leader:   people[l.PersonID].FullName(),
			Mark:     *l.FinalMark,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mark != out[j].Mark {
			return out[i].Mark > out[j].Mark
		}
		return out[i].Code < out[j].Code
	})
	for i := range out {
		out[i].Position = i + 1
	}
	return out, nil
}

// Podium is the top three of the ranking.
func (e *Engine) Podium(ctx context.Context, eventID uuid.UUID) ([]Standing, error) {
	ranking, err := e.Ranking(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if len(ranking) > PodiumSize {
		ranking = ranking[:PodiumSize]
	}
	return ranking, nil
}

// ---------------- EVALUATOR QUEUE ----------------

// PendingProjects lists approved projects the evaluator has not scored on
// every criterion yet.
func (e *Engine) PendingProjects(ctx context.Context, act actor.Context, eventID uuid.UUID) ([]models.Enrollment, error) {
	if err := e.touch(ctx, eventID); err != nil {
		return nil, err
	}
	db := e.DB.WithContext(ctx)
	if err := requireApprovedEvaluator(db, act, eventID); err != nil {
		return nil, err
	}
	var criteria int64
	if err := db.Model(&models.Criterion{}).Where("event_id = ?", eventID).Count(&criteria).Error; err != nil {
		return nil, err
	}
	leaders, err := repo.ProjectLeaders(db, eventID, models.EnrollmentApproved)
	if err != nil {
		return nil, err
	}
	type tally struct {
		ProjectCode string
		N           int64
	}
	var done []tally
	if err := db.Model(&models.Score{}).
		Select("project_code, COUNT(*) AS n").
		Where("event_id = ? AND evaluator_id = ?", eventID, act.PersonID).
		Group("project_code").Scan(&done).Error; err != nil {
		return nil, err
	}
	scored := make(map[string]int64, len(done))
	for _, d := range done {
		scored[d.ProjectCode] = d.N
	}
	out := make([]models.Enrollment, 0, len(leaders))
	for _, l := range leaders {
		if criteria == 0 || scored[l.Code()] < criteria {
			out = append(out, l)
		}
	}
	return out, nil
}

// ---------------- SCORE SHEET ----------------

type EvaluatorScore struct {
	EvaluatorID uuid.UUID `json:"evaluator_id"`
	Evaluator   string    `json:"evaluator"`
	Value       int       `json:"value"`
}

type SheetRow struct {
	Criterion models.Criterion `json:"criterion"`
	Scores    []EvaluatorScore `json:"scores"`
	// Average is exact, formatted with two decimals.
	Average string `json:"average"`
}

type Sheet struct {
	Code  string     `json:"code"`
	Title string     `json:"title"`
	Mark  *int       `json:"mark"`
	Rows  []SheetRow `json:"rows"`
}

// ScoreSheet details every score of a project. The event administrator,
// approved evaluators and the project's own members may read it.
func (e *Engine) ScoreSheet(ctx context.Context, act actor.Context, leaderID uuid.UUID) (Sheet, error) {
	db := e.DB.WithContext(ctx)
	leader, err := repo.GetEnrollment(db, leaderID)
	if err != nil {
		return Sheet{}, err
	}
	if !leader.IsLeader() {
		return Sheet{}, apperr.New(apperr.CodeStateNotAllowed, "score sheets belong to project leaders")
	}
	if err := e.touch(ctx, leader.EventID); err != nil {
		return Sheet{}, err
	}
	ev, err := repo.GetEvent(db, leader.EventID)
	if err != nil {
		return Sheet{}, err
	}
	if act.RequireEventAdmin(ev) != nil && requireApprovedEvaluator(db, act, ev.ID) != nil {
		rows, err := repo.ProjectRows(db, ev.ID, leader.Code())
		if err != nil {
			return Sheet{}, err
		}
		member := false
		for _, r := range rows {
			member = member || (r.PersonID == act.PersonID && !act.IsSystem())
		}
		if !member {
			return Sheet{}, apperr.ErrForbidden
		}
	}

	criteria, err := e.Criteria(ctx, ev.ID)
	if err != nil {
		return Sheet{}, err
	}
	var scores []models.Score
	if err := db.Where("event_id = ? AND project_code = ?", ev.ID, leader.Code()).
		Order("evaluator_id ASC").Find(&scores).Error; err != nil {
		return Sheet{}, err
	}
	ids := make([]uuid.UUID, 0, len(scores))
	for _, s := range scores {
		ids = append(ids, s.EvaluatorID)
	}
	people, err := repo.PeopleByID(db, ids)
	if err != nil {
		return Sheet{}, err
	}

	sheet := Sheet{Code: leader.Code(), Title: leader.ProjectTitle, Mark: leader.FinalMark}
	for _, c := range criteria {
		row := SheetRow{Criterion: c, Average: "0.00"}
		var sum int64
		for _, s := range scores {
			if s.CriterionID != c.ID {
				continue
			}
			row.Scores = append(row.Scores, EvaluatorScore{
				EvaluatorID: s.EvaluatorID,
				Evaluator:   people[s.EvaluatorID].FullName(),
				Value:       s.Value,
			})
			sum += int64(s.Value)
		}
		if n := len(row.Scores); n > 0 {
			row.Average = big.NewRat(sum, int64(n)).FloatString(2)
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet, nil
}
