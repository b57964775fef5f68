package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ensureID assigns a v4 id in Go so rows look the same on Postgres and on the
// sqlite databases used in tests.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (u *User) BeforeCreate(*gorm.DB) error        { ensureID(&u.ID); return nil }
func (c *Category) BeforeCreate(*gorm.DB) error    { ensureID(&c.ID); return nil }
func (t *Title) BeforeCreate(*gorm.DB) error       { ensureID(&t.ID); return nil }
func (c *Copy) BeforeCreate(*gorm.DB) error        { ensureID(&c.ID); return nil }
func (e *LedgerEntry) BeforeCreate(*gorm.DB) error { ensureID(&e.ID); return nil }
func (f *Fine) BeforeCreate(*gorm.DB) error        { ensureID(&f.ID); return nil }
func (o *OutboxEvent) BeforeCreate(*gorm.DB) error { ensureID(&o.ID); return nil }

// All lists every model, in dependency order, for AutoMigrate in tests.
func All() []any {
	return []any{
		&User{},
		&Category{},
		&Title{},
		&Copy{},
		&LedgerEntry{},
		&Fine{},
		&OutboxEvent{},
	}
}
