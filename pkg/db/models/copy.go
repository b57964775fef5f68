package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// Copy is one physical, barcoded item of a Title.
type Copy struct {
	ID        uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	TitleID   uuid.UUID        `gorm:"column:title_id;type:uuid;not null;index:idx_copies_title_status,priority:1"`
	Barcode   string           `gorm:"column:barcode;not null;uniqueIndex:ux_copies_barcode"`
	Status    enums.CopyStatus `gorm:"column:status;type:copy_status;not null;index:idx_copies_title_status,priority:2"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (Copy) TableName() string { return "copies" }
