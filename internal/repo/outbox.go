package repo

import (
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	EntityEvent = "event"

	OpUpsert = "UPSERT"
	OpDelete = "DELETE"
)

// AddOutboxEvent records a search-sync event in the same transaction as
// the change it describes.
func AddOutboxEvent(tx *gorm.DB, entityType string, entityID uuid.UUID, op string, payload any) error {
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return err
		}
	}
	event := models.Outbox{
		EntityType: entityType,
		EntityID:   entityID,
		Op:         op,
		Payload:    datatypes.JSON(data),
	}
	if err := tx.Create(&event).Error; err != nil {
		log.Printf("❌ Failed to create outbox event: %v", err)
		return err
	}
	return nil
}

// SyncEvent queues the search document change matching ev's visibility.
// Drafts were never indexed.
func SyncEvent(tx *gorm.DB, ev *models.Event) error {
	if ev.State == models.EventDraft {
		return nil
	}
	if ev.Public() {
		return AddOutboxEvent(tx, EntityEvent, ev.ID, OpUpsert, nil)
	}
	return AddOutboxEvent(tx, EntityEvent, ev.ID, OpDelete, nil)
}

// AddBatchOutboxEvents inserts one event per id.
func AddBatchOutboxEvents(tx *gorm.DB, entityType string, op string, ids []uuid.UUID) error {
	for _, id := range ids {
		if err := AddOutboxEvent(tx, entityType, id, op, nil); err != nil {
			log.Printf("❌ Failed to insert batch outbox for %s: %v", entityType, err)
			return err
		}
	}
	if len(ids) > 0 {
		log.Printf("📦 %d outbox events created for %s", len(ids), entityType)
	}
	return nil
}
