package events

import (
	"context"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Filter narrows the public listing. Zero fields do not filter.
type Filter struct {
	Title      string
	City       string
	AreaID     *uuid.UUID
	CategoryID *uuid.UUID
	HasCost    *bool
	State      models.EventState
}

// Fold lowercases s and strips accents so "Bogotá" matches "bogota".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(strings.TrimSpace(out))
}

// ListPublic returns Published and Finalized events, newest start date first.
func (r *Registry) ListPublic(ctx context.Context, f Filter) ([]models.Event, error) {
	states := []models.EventState{models.EventPublished, models.EventFinalized}
	if f.State != "" {
		if f.State != models.EventPublished && f.State != models.EventFinalized {
			return []models.Event{}, nil
		}
		states = []models.EventState{f.State}
	}

	q := r.DB.WithContext(ctx).Model(&models.Event{}).Where("events.state IN ?", states)
	if f.HasCost != nil {
		q = q.Where("events.has_cost = ?", *f.HasCost)
	}
	if f.CategoryID != nil {
		q = q.Where("EXISTS (SELECT 1 FROM event_categories ec WHERE ec.event_id = events.id AND ec.category_id = ?)", *f.CategoryID)
	}
	if f.AreaID != nil {
		q = q.Where(`EXISTS (SELECT 1 FROM event_categories ec JOIN categories c ON c.id = ec.category_id
			WHERE ec.event_id = events.id AND c.area_id = ?)`, *f.AreaID)
	}

	var rows []models.Event
	if err := q.Order("events.start_date DESC").Order("events.title ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	title, city := Fold(f.Title), Fold(f.City)
	out := rows[:0]
	for _, ev := range rows {
		if title != "" && !strings.Contains(Fold(ev.Title), title) {
			continue
		}
		if city != "" && Fold(ev.City) != city {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}
