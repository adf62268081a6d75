package db

import (
	"log"

	"github.com/sirdesai22/event-service/internal/config"
	"github.com/sirdesai22/event-service/internal/credentials"
	"github.com/sirdesai22/event-service/internal/models"
	"gorm.io/gorm"
)

var seedCatalogue = map[string][]string{
	"Ingeniería": {"Software", "Electrónica", "Industrial"},
	"Ciencias":   {"Biología", "Matemáticas", "Física"},
	"Artes":      {"Música", "Diseño"},
	"Negocios":   {"Emprendimiento", "Finanzas"},
}

// Seed loads the default catalogue and, when SEED_SUPERADMIN_PASSWORD is
// set, the first superadmin. Both steps are skipped if data already exists.
func Seed(db *gorm.DB, cfg config.Config) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var areas int64
		if err := tx.Model(&models.Area{}).Count(&areas).Error; err != nil {
			return err
		}
		if areas == 0 {
			for name, categories := range seedCatalogue {
				area := models.Area{Name: name}
				if err := tx.Create(&area).Error; err != nil {
					return err
				}
				for _, c := range categories {
					if err := tx.Create(&models.Category{Name: c, AreaID: area.ID}).Error; err != nil {
						return err
					}
				}
			}
			log.Println("🌱 catalogue seeded")
		} else {
			log.Println("🌱 catalogue already exists, skipping seed.")
		}

		if cfg.SeedSuperadminPassword == "" || cfg.SuperadminEmail == "" {
			return nil
		}
		var supers int64
		if err := tx.Model(&models.Person{}).Where("primary_role = ?", models.RoleSuperAdmin).Count(&supers).Error; err != nil {
			return err
		}
		if supers > 0 {
			return nil
		}
		hash, err := credentials.HashSecret(cfg.SeedSuperadminPassword)
		if err != nil {
			return err
		}
		admin := models.Person{
			NationalID:   "superadmin",
			Username:     "superadmin",
			Email:        cfg.SuperadminEmail,
			GivenName:    "Super",
			FamilyName:   "Admin",
			PasswordHash: hash,
			PrimaryRole:  models.RoleSuperAdmin,
			Active:       true,
		}
		if err := tx.Create(&admin).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.PersonRole{PersonID: admin.ID, Role: models.RoleSuperAdmin}).Error; err != nil {
			return err
		}
		log.Printf("🌱 superadmin %s created", admin.Email)
		return nil
	})
}
