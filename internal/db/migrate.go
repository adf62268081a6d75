package db

import (
	"fmt"
	"log"

	"github.com/sirdesai22/event-service/internal/models"
	"gorm.io/gorm"
)

// All lists every persisted model in dependency-free order.
var All = []any{
	&models.Person{},
	&models.PersonRole{},
	&models.AdminInvitation{},
	&models.Area{},
	&models.Category{},
	&models.Event{},
	&models.EventCategory{},
	&models.Enrollment{},
	&models.Criterion{},
	&models.Score{},
	&models.Memory{},
	&models.AuditRecord{},
	&models.Notification{},
	&models.Outbox{},
	&models.DLQ{},
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(All...); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Println("✅ database migrated successfully")
	return nil
}
