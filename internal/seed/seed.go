// Package seed loads the demo catalog and the two demo accounts into an empty
// database.
package seed

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/internal/catalog"
	"github.com/angelmondragon/circulation-backend/internal/users"
	"github.com/angelmondragon/circulation-backend/pkg/auth"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/security"
)

// DemoPassword is shared by both seeded accounts.
const DemoPassword = "password123"

type demoTitle struct {
	name     string
	category string
	author   string
	isbn     string
	copies   int
}

var demoCategories = []string{"Technology", "Science", "Fiction"}

var demoTitles = []demoTitle{
	{"Python for Beginners", "Technology", "John Doe", "978-0134076251", 3},
	{"Clean Code", "Technology", "Robert C. Martin", "978-0132350884", 2},
	{"Introduction to Physics", "Science", "Halliday", "978-1118230718", 2},
	{"The Great Gatsby", "Fiction", "F. Scott Fitzgerald", "978-0743273565", 1},
}

type demoUser struct {
	username string
	fullName string
	email    string
	role     enums.UserRole
}

var demoUsers = []demoUser{
	{"sarah_lib", "Sarah Connor", "sarah@lib.com", enums.UserRoleLibrarian},
	{"alex_mem", "Alex Murphy", "alex@mem.com", enums.UserRoleMember},
}

type userStore interface {
	Create(ctx context.Context, dto users.CreateUserDTO) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
}

// Result summarises what a seed run created.
type Result struct {
	Skipped    bool
	Categories int
	Titles     int
	Copies     int
	Users      int
}

type Seeder struct {
	users   userStore
	catalog catalog.Service
	logg    *logger.Logger
}

func NewSeeder(userRepo userStore, catalogSvc catalog.Service, logg *logger.Logger) (*Seeder, error) {
	if userRepo == nil {
		return nil, fmt.Errorf("user repository required")
	}
	if catalogSvc == nil {
		return nil, fmt.Errorf("catalog service required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Seeder{users: userRepo, catalog: catalogSvc, logg: logg}, nil
}

// Run seeds once. A database that already holds the demo librarian is left
// untouched.
func (s *Seeder) Run(ctx context.Context) (Result, error) {
	var res Result

	_, err := s.users.FindByUsername(ctx, demoUsers[0].username)
	switch {
	case err == nil:
		s.logg.Info(ctx, "demo data already present, skipping seed")
		return Result{Skipped: true}, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return res, fmt.Errorf("lookup demo librarian: %w", err)
	}

	hash, err := security.HashPassword(DemoPassword)
	if err != nil {
		return res, fmt.Errorf("hash demo password: %w", err)
	}

	var librarian auth.Actor
	for _, u := range demoUsers {
		email := u.email
		created, err := s.users.Create(ctx, users.CreateUserDTO{
			Username:     u.username,
			FullName:     u.fullName,
			Email:        &email,
			PasswordHash: hash,
			Role:         u.role,
		})
		if err != nil {
			return res, fmt.Errorf("create user %s: %w", u.username, err)
		}
		res.Users++
		if u.role == enums.UserRoleLibrarian {
			librarian = auth.Actor{UserID: created.ID, Role: created.Role}
		}
	}

	categoryIDs := make(map[string]*models.Category, len(demoCategories))
	for _, name := range demoCategories {
		c, err := s.catalog.CreateCategory(ctx, librarian, name)
		if err != nil {
			return res, fmt.Errorf("create category %s: %w", name, err)
		}
		categoryIDs[name] = c
		res.Categories++
	}

	for _, t := range demoTitles {
		input := catalog.CreateTitleInput{
			Name:   t.name,
			Author: t.author,
			ISBN:   t.isbn,
			Copies: t.copies,
			Actor:  librarian,
		}
		if c, ok := categoryIDs[t.category]; ok {
			input.CategoryID = &c.ID
		}
		view, err := s.catalog.CreateTitle(ctx, input)
		if err != nil {
			return res, fmt.Errorf("create title %s: %w", t.name, err)
		}
		res.Titles++
		res.Copies += int(view.Total)
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"categories": res.Categories,
		"titles":     res.Titles,
		"copies":     res.Copies,
		"users":      res.Users,
	}), "demo data seeded")
	return res, nil
}
