package materials

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Material is a spool or other consumable whose usage is tracked.
type Material struct {
	ID        string    `json:"id" gorm:"primaryKey;type:text"`
	Name      string    `json:"name" gorm:"not null"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (m *Material) BeforeCreate(_ *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// Usage records one removal of material. WeightUsed is in grams.
type Usage struct {
	ID         string    `json:"id" gorm:"primaryKey;type:text"`
	MaterialID string    `json:"materialId" gorm:"type:text;not null;index"`
	WeightUsed float64   `json:"weightUsed" gorm:"not null"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`

	// Deleting a material is refused while usages reference it; renaming its
	// id carries the usages along.
	Material Material `json:"-" gorm:"foreignKey:MaterialID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

func (Usage) TableName() string {
	return "material_usages"
}

func (u *Usage) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}
