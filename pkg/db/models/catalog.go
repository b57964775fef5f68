package models

import (
	"time"

	"github.com/google/uuid"
)

// Category groups titles for browsing.
type Category struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name      string    `gorm:"column:name;not null;uniqueIndex:ux_categories_name"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Category) TableName() string { return "categories" }

// Title is the logical catalog record. Copy counts are never stored here.
type Title struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	Name       string     `gorm:"column:name;not null"`
	Author     string     `gorm:"column:author;not null"`
	ISBN       string     `gorm:"column:isbn;not null;uniqueIndex:ux_titles_isbn"`
	CategoryID *uuid.UUID `gorm:"column:category_id;type:uuid"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Title) TableName() string { return "titles" }
