package certificates

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/actor"
	"github.com/sirdesai22/event-service/internal/apperr"
	"github.com/sirdesai22/event-service/internal/blob"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/repo"
	"gorm.io/gorm"
)

// ---------------- MEMORIES ----------------

// AddMemory stores a post-event resource. Memories can be uploaded while
// the event is Published or Finalized.
func (s *Service) AddMemory(ctx context.Context, act actor.Context, eventID uuid.UUID, label, filename string, data []byte) (models.Memory, error) {
	var v apperr.Validation
	v.Check(strings.TrimSpace(label) != "", "nombre", "label is required")
	v.Check(len(data) > 0, "archivo", "file is required")
	if err := v.Err(); err != nil {
		return models.Memory{}, err
	}
	if err := s.touch(ctx, eventID); err != nil {
		return models.Memory{}, err
	}
	db := s.DB.WithContext(ctx)
	ev, err := repo.GetEvent(db, eventID)
	if err != nil {
		return models.Memory{}, err
	}
	if err := act.RequireEventAdmin(ev); err != nil {
		return models.Memory{}, err
	}
	if ev.State != models.EventPublished && ev.State != models.EventFinalized {
		return models.Memory{}, apperr.ErrEventNotModifiable
	}

	handle, err := s.Blobs.Put(ctx, "memory", filename, data)
	if err != nil {
		return models.Memory{}, err
	}
	m := models.Memory{EventID: eventID, Label: strings.TrimSpace(label), BlobHandle: handle, UploadedAt: s.Clock()}
	if err := db.Create(&m).Error; err != nil {
		_ = s.Blobs.Delete(ctx, handle)
		return models.Memory{}, err
	}
	log.Printf("🖼️ memory %q added to event %s", m.Label, eventID)
	return m, nil
}

// DeleteMemory removes a memory and its file.
func (s *Service) DeleteMemory(ctx context.Context, act actor.Context, memoryID uuid.UUID) error {
	db := s.DB.WithContext(ctx)
	var m models.Memory
	if err := db.First(&m, "id = ?", memoryID).Error; err != nil {
		return apperr.NotFound("memory")
	}
	ev, err := repo.GetEvent(db, m.EventID)
	if err != nil {
		return err
	}
	if err := act.RequireEventAdmin(ev); err != nil {
		return err
	}
	if err := db.Delete(&models.Memory{}, "id = ?", m.ID).Error; err != nil {
		return err
	}
	if err := s.Blobs.Delete(ctx, m.BlobHandle); err != nil && !errors.Is(err, blob.ErrNotFound) {
		log.Printf("⚠️ memory blob %s not deleted: %v", m.BlobHandle, err)
	}
	return nil
}

// ListMemories returns the event's memories to an Approved enrollee once
// the event is Finalized. The administrator may always list them.
func (s *Service) ListMemories(ctx context.Context, act actor.Context, eventID uuid.UUID) ([]models.Memory, error) {
	if err := s.touch(ctx, eventID); err != nil {
		return nil, err
	}
	db := s.DB.WithContext(ctx)
	if err := s.canReadMemories(db, act, eventID); err != nil {
		return nil, err
	}
	var out []models.Memory
	err := db.Where("event_id = ?", eventID).Order("uploaded_at ASC").Find(&out).Error
	return out, err
}

// OpenMemory returns one memory's file under the same rule as ListMemories.
func (s *Service) OpenMemory(ctx context.Context, act actor.Context, memoryID uuid.UUID) (models.Memory, []byte, error) {
	db := s.DB.WithContext(ctx)
	var m models.Memory
	if err := db.First(&m, "id = ?", memoryID).Error; err != nil {
		return models.Memory{}, nil, apperr.NotFound("memory")
	}
	if err := s.canReadMemories(db, act, m.EventID); err != nil {
		return models.Memory{}, nil, err
	}
	data, err := s.Blobs.Get(ctx, m.BlobHandle)
	if err != nil {
		return models.Memory{}, nil, err
	}
	return m, data, nil
}

func (s *Service) canReadMemories(db *gorm.DB, act actor.Context, eventID uuid.UUID) error {
	ev, err := repo.GetEvent(db, eventID)
	if err != nil {
		return err
	}
	if act.RequireEventAdmin(ev) == nil {
		return nil
	}
	if ev.State != models.EventFinalized {
		return apperr.Newf(apperr.CodeStateNotAllowed, "memories open once the event is finalized")
	}
	if act.IsSystem() {
		return apperr.ErrForbidden
	}
	row, err := repo.FindEnrollment(db, eventID, act.PersonID)
	if err != nil {
		return err
	}
	if row == nil || row.State != models.EnrollmentApproved {
		return apperr.ErrForbidden
	}
	return nil
}
