package scoring

import (
	"context"
	"math/big"
	"sort"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/metrics"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/repo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ---------------- SCORES ----------------

// RecordScore upserts the actor's score for one criterion of a project and
// refreshes the project's mark.
func (e *Engine) RecordScore(ctx context.Context, act actor.Context, leaderID, criterionID uuid.UUID, value int) (models.Score, error) {
	scores, err := e.RecordScores(ctx, act, leaderID, map[uuid.UUID]int{criterionID: value})
	if err != nil {
		return models.Score{}, err
	}
	return scores[0], nil
}

// RecordScores upserts a whole score form in one transaction: either every
// value is stored or none is.
func (e *Engine) RecordScores(ctx context.Context, act actor.Context, leaderID uuid.UUID, values map[uuid.UUID]int) ([]models.Score, error) {
	if len(values) == 0 {
		return nil, apperr.New(apperr.CodeValidation, "no scores submitted")
	}
	leader, err := repo.GetEnrollment(e.DB.WithContext(ctx), leaderID)
	if err != nil {
		return nil, err
	}
	if err := e.touch(ctx, leader.EventID); err != nil {
		return nil, err
	}

	var out []models.Score
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev, err := repo.LockEvent(tx, leader.EventID)
		if err != nil {
			return err
		}
		enabled, err := scoringEnabled(tx, ev)
		if err != nil {
			return err
		}
		if !enabled {
			return apperr.ErrScoringDisabled
		}
		if err := requireApprovedEvaluator(tx, act, ev.ID); err != nil {
			return err
		}
		leader, err := repo.GetEnrollment(tx, leaderID)
		if err != nil {
			return err
		}
		if !leader.IsLeader() {
			return apperr.New(apperr.CodeStateNotAllowed, "scores target a project leader")
		}
		if leader.State != models.EnrollmentApproved {
			return apperr.Newf(apperr.CodeStateNotAllowed, "cannot score a %s project", leader.State)
		}

		criteria, err := criteriaByID(tx, ev.ID)
		if err != nil {
			return err
		}
		ids := make([]uuid.UUID, 0, len(values))
		for id := range values {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
		for _, id := range ids {
			c, ok := criteria[id]
			if !ok {
				return apperr.NotFound("criterion")
			}
			v := values[id]
			if v < 0 || v > c.Weight {
				return apperr.Newf(apperr.CodeScoreOutOfRange, "score for %q must be between 0 and %d", c.Description, c.Weight)
			}
			s := models.Score{
				EventID:     ev.ID,
				EvaluatorID: act.PersonID,
				CriterionID: id,
				ProjectCode: leader.Code(),
				Value:       v,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "event_id"}, {Name: "evaluator_id"}, {Name: "criterion_id"}, {Name: "project_code"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			}).Create(&s).Error; err != nil {
				return err
			}
			// the insert may have hit the existing row
			var stored models.Score
			if err := tx.Where("event_id = ? AND evaluator_id = ? AND criterion_id = ? AND project_code = ?",
				s.EventID, s.EvaluatorID, s.CriterionID, s.ProjectCode).First(&stored).Error; err != nil {
				return err
			}
			out = append(out, stored)
		}
		_, err = computeFinalMark(tx, ev.ID, leader.Code())
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.ScoresRecorded.Add(float64(len(out)))
	return out, nil
}

func requireApprovedEvaluator(tx *gorm.DB, act actor.Context, eventID uuid.UUID) error {
	if act.IsSystem() {
		return apperr.ErrForbidden
	}
	row, err := repo.FindEnrollment(tx, eventID, act.PersonID)
	if err != nil {
		return err
	}
	if row == nil || row.Role != models.RoleEvaluator || row.State != models.EnrollmentApproved {
		return apperr.New(apperr.CodeForbidden, "only approved evaluators of the event may score")
	}
	return nil
}

func criteriaByID(db *gorm.DB, eventID uuid.UUID) (map[uuid.UUID]models.Criterion, error) {
	var list []models.Criterion
	if err := db.Where("event_id = ?", eventID).Find(&list).Error; err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]models.Criterion, len(list))
	for _, c := range list {
		out[c.ID] = c
	}
	return out, nil
}

// ---------------- FINAL MARK ----------------

// ComputeFinalMark recomputes the project's mark from the stored scores and
// mirrors it onto every row of the project.
func (e *Engine) ComputeFinalMark(ctx context.Context, leaderID uuid.UUID) (*int, error) {
	var mark *int
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		leader, err := repo.GetEnrollment(tx, leaderID)
		if err != nil {
			return err
		}
		if !leader.IsLeader() {
			return apperr.New(apperr.CodeStateNotAllowed, "final marks belong to project leaders")
		}
		if _, err := repo.LockEvent(tx, leader.EventID); err != nil {
			return err
		}
		mark, err = computeFinalMark(tx, leader.EventID, leader.Code())
		return err
	})
	return mark, err
}

// computeFinalMark sums, per criterion, the average of the evaluators'
// scores and rounds half to even. No scores at all yields nil.
func computeFinalMark(tx *gorm.DB, eventID uuid.UUID, code string) (*int, error) {
	var scores []models.Score
	if err := tx.Where("event_id = ? AND project_code = ?", eventID, code).Find(&scores).Error; err != nil {
		return nil, err
	}
	mark := aggregate(scores)
	err := tx.Model(&models.Enrollment{}).
		Where("event_id = ? AND project_code = ? AND role = ?", eventID, code, models.RoleExponent).
		Update("final_mark", mark).Error
	return mark, err
}

func aggregate(scores []models.Score) *int {
	if len(scores) == 0 {
		return nil
	}
	type acc struct{ sum, n int64 }
	per := map[uuid.UUID]*acc{}
	for _, s := range scores {
		a := per[s.CriterionID]
		if a == nil {
			a = &acc{}
			per[s.CriterionID] = a
		}
		a.sum += int64(s.Value)
		a.n++
	}
	total := new(big.Rat)
	for _, a := range per {
		total.Add(total, big.NewRat(a.sum, a.n))
	}
	v := roundHalfEven(total)
	return &v
}

func roundHalfEven(r *big.Rat) int {
	den := r.Denom()
	q, m := new(big.Int).DivMod(r.Num(), den, new(big.Int))
	switch new(big.Int).Lsh(m, 1).Cmp(den) {
	case 1:
		q.Add(q, big.NewInt(1))
	case 0:
		if q.Bit(0) == 1 {
			q.Add(q, big.NewInt(1))
		}
	}
	return int(q.Int64())
}
