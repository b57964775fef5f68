// Package dbtest opens throwaway sqlite databases carrying the full schema and
// builds the fixtures service tests share.
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// Open returns an isolated in-memory database with every model migrated.
// The pool is pinned to one connection so concurrent transactions queue
// instead of tripping sqlite's table locks.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:circ_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return conn
}

func User(t testing.TB, conn *gorm.DB, role enums.UserRole) *models.User {
	t.Helper()
	u := &models.User{
		Username:     "user_" + uuid.NewString()[:8],
		FullName:     "Test User",
		PasswordHash: "hash",
		Role:         role,
	}
	if err := conn.Create(u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func Title(t testing.TB, conn *gorm.DB) *models.Title {
	t.Helper()
	title := &models.Title{
		Name:   "Title " + uuid.NewString()[:6],
		Author: "Author",
		ISBN:   "978" + uuid.NewString()[:10],
	}
	if err := conn.Create(title).Error; err != nil {
		t.Fatalf("create title: %v", err)
	}
	return title
}

// Copies creates n copies of the title in the given status, oldest first.
func Copies(t testing.TB, conn *gorm.DB, titleID uuid.UUID, n int, status enums.CopyStatus) []models.Copy {
	t.Helper()
	out := make([]models.Copy, 0, n)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < n; i++ {
		c := models.Copy{
			TitleID:   titleID,
			Barcode:   "BC-" + uuid.NewString(),
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := conn.Create(&c).Error; err != nil {
			t.Fatalf("create copy: %v", err)
		}
		out = append(out, c)
	}
	return out
}
