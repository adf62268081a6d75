package elastic

import (
	"encoding/json"
	"time"

	"github.com/sirdesai22/event-service/internal/models"
)

// EventDoc is the indexed view of a public event.
type EventDoc struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	City        string    `json:"city"`
	Venue       string    `json:"venue"`
	State       string    `json:"state"`
	HasCost     bool      `json:"has_cost"`
	Categories  []string  `json:"categories"`
	Areas       []string  `json:"areas"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func BuildEventDoc(ev models.Event, categories []models.Category, areas []models.Area) ([]byte, error) {
	doc := EventDoc{
		Title:       ev.Title,
		Description: ev.Description,
		City:        ev.City,
		Venue:       ev.Venue,
		State:       string(ev.State),
		HasCost:     ev.HasCost,
		Categories:  []string{},
		Areas:       []string{},
		StartDate:   ev.StartDate,
		EndDate:     ev.EndDate,
		UpdatedAt:   ev.UpdatedAt,
	}
	for _, c := range categories {
		doc.Categories = append(doc.Categories, c.Name)
	}
	for _, a := range areas {
		doc.Areas = append(doc.Areas, a.Name)
	}
	return json.Marshal(doc)
}
