package models

import (
	"log"

	"github.com/mmdatafocus/kardex_backend/config"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&MovementType{},
		&KardexTransaction{},
		&KardexEntry{},
		&KardexGroupBalance{}, &KardexDailyBalance{},
		&BalanceSnapshot{},
		&IdempotencyKey{},
	)
}

func MigrateTable() {
	db := config.GetDB()

	if err := Migrate(db); err != nil {
		log.Fatal(err)
	}
	if _, err := SeedMovementTypes(db); err != nil {
		log.Fatal(err)
	}
}
