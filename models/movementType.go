package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/kardex_backend/kardex"
	"gorm.io/gorm"
)

type MovementType struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:100;not null;uniqueIndex" json:"name"`
	Kind      string    `gorm:"size:10;not null" json:"kind"`
	Special   string    `gorm:"size:30;not null;default:NONE;index" json:"special"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (mt MovementType) toDomain() kardex.MovementType {
	return kardex.MovementType{
		ID:      mt.ID,
		Name:    mt.Name,
		Kind:    kardex.MovementKind(mt.Kind),
		Special: kardex.SpecialKind(mt.Special),
	}
}

// SystemMovementTypes are the movement types the engine creates or reacts to.
var SystemMovementTypes = []MovementType{
	{Name: "SALDO INICIAL", Kind: string(kardex.MovementIngress), Special: string(kardex.SpecialOpeningBalance)},
	{Name: "AJUSTE CUADRATURA", Kind: string(kardex.MovementIngress), Special: string(kardex.SpecialBalancingAdjustment)},
	{Name: "AJUSTE AUTO TOLERANCIA", Kind: string(kardex.MovementIngress), Special: string(kardex.SpecialToleranceAdjustment)},
	{Name: "AJUSTE INGRESO", Kind: string(kardex.MovementIngress), Special: string(kardex.SpecialManualAdjustmentIn)},
	{Name: "AJUSTE EGRESO", Kind: string(kardex.MovementEgress), Special: string(kardex.SpecialManualAdjustmentOut)},
}

// SeedMovementTypes creates the missing system movement types and returns how many were created.
func SeedMovementTypes(db *gorm.DB) (int, error) {
	created := 0
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, mt := range SystemMovementTypes {
			var existing MovementType
			err := tx.Where("special = ?", mt.Special).Order("id").First(&existing).Error
			if err == nil {
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			record := mt
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
			created++
		}
		return nil
	})
	return created, err
}

// CreateMovementType registers a user-defined movement type. An existing type
// with the same name is returned when its kind matches.
func CreateMovementType(db *gorm.DB, name string, kind kardex.MovementKind) (kardex.MovementType, error) {
	if !kind.IsValid() {
		return kardex.MovementType{}, errors.New("invalid movement kind " + string(kind))
	}
	var record MovementType
	err := db.Where(MovementType{Name: name}).
		Attrs(MovementType{Kind: string(kind), Special: string(kardex.SpecialNone)}).
		FirstOrCreate(&record).Error
	if err != nil {
		return kardex.MovementType{}, err
	}
	if record.Kind != string(kind) {
		return kardex.MovementType{}, fmt.Errorf("movement type %q exists with kind %s", name, record.Kind)
	}
	return record.toDomain(), nil
}
