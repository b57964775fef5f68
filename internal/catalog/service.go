package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/internal/copies"
	"github.com/angelmondragon/circulation-backend/pkg/auth"
	"github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/pagination"
)

const (
	barcodeSeqStart  = 1000
	maxCopiesPerCall = 50
	barcodeAttempts  = 3
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// TitleView is a title with its live copy counts.
type TitleView struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Author     string     `json:"author"`
	ISBN       string     `json:"isbn"`
	CategoryID *uuid.UUID `json:"category_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	Available  int64      `json:"available"`
	Total      int64      `json:"total"`
}

func newTitleView(t models.Title, available, total int64) TitleView {
	return TitleView{
		ID:         t.ID,
		Name:       t.Name,
		Author:     t.Author,
		ISBN:       t.ISBN,
		CategoryID: t.CategoryID,
		CreatedAt:  t.CreatedAt,
		Available:  available,
		Total:      total,
	}
}

type CreateTitleInput struct {
	Name       string
	Author     string
	ISBN       string
	CategoryID *uuid.UUID
	Copies     int
	Actor      auth.Actor
}

type AddCopiesInput struct {
	TitleID uuid.UUID
	Count   int
	Actor   auth.Actor
}

type SearchInput struct {
	Query  string
	Params pagination.Params
}

type Service interface {
	CreateCategory(ctx context.Context, actor auth.Actor, name string) (*models.Category, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
	CreateTitle(ctx context.Context, input CreateTitleInput) (*TitleView, error)
	AddCopies(ctx context.Context, input AddCopiesInput) ([]models.Copy, error)
	GetTitle(ctx context.Context, id uuid.UUID) (*TitleView, error)
	SearchTitles(ctx context.Context, input SearchInput) (pagination.Page[TitleView], error)
}

type service struct {
	repo   Repository
	copies copies.Repository
	tx     txRunner
}

func NewService(repo Repository, copyRepo copies.Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if copyRepo == nil {
		return nil, fmt.Errorf("copy repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, copies: copyRepo, tx: tx}, nil
}

func (s *service) CreateCategory(ctx context.Context, actor auth.Actor, name string) (*models.Category, error) {
	if err := auth.RequireCapability(actor, auth.CapabilityManageCatalog); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "category name required")
	}
	c, err := s.repo.CreateCategory(ctx, &models.Category{Name: name})
	if err != nil {
		if db.IsUniqueViolation(err, "ux_categories_name") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "category already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create category")
	}
	return c, nil
}

func (s *service) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list categories")
	}
	return rows, nil
}

// CreateTitle registers a title and, optionally, its first copies in one
// transaction.
func (s *service) CreateTitle(ctx context.Context, input CreateTitleInput) (*TitleView, error) {
	if err := auth.RequireCapability(input.Actor, auth.CapabilityManageCatalog); err != nil {
		return nil, err
	}
	title := &models.Title{
		Name:       strings.TrimSpace(input.Name),
		Author:     strings.TrimSpace(input.Author),
		ISBN:       strings.TrimSpace(input.ISBN),
		CategoryID: input.CategoryID,
	}
	if title.Name == "" || title.Author == "" || title.ISBN == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name, author and isbn are required")
	}
	if input.Copies < 0 || input.Copies > maxCopiesPerCall {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "copies must be between 0 and %d", maxCopiesPerCall)
	}

	err := s.withBarcodeRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if title.CategoryID != nil {
			if _, err := repo.FindCategory(ctx, *title.CategoryID); err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeValidation, "category does not exist")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load category")
			}
		}
		title.ID = uuid.Nil
		if _, err := repo.CreateTitle(ctx, title); err != nil {
			if db.IsUniqueViolation(err, "ux_titles_isbn") {
				return pkgerrors.New(pkgerrors.CodeConflict, "a title with this ISBN already exists")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create title")
		}
		_, err := s.createCopies(ctx, tx, title, input.Copies)
		return err
	})
	if err != nil {
		return nil, err
	}
	view := newTitleView(*title, int64(input.Copies), int64(input.Copies))
	return &view, nil
}

func (s *service) AddCopies(ctx context.Context, input AddCopiesInput) ([]models.Copy, error) {
	if err := auth.RequireCapability(input.Actor, auth.CapabilityManageCatalog); err != nil {
		return nil, err
	}
	if input.Count < 1 || input.Count > maxCopiesPerCall {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "count must be between 1 and %d", maxCopiesPerCall)
	}

	var created []models.Copy
	err := s.withBarcodeRetry(ctx, func(tx *gorm.DB) error {
		title, err := s.repo.WithTx(tx).FindTitle(ctx, input.TitleID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "title not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load title")
		}
		created, err = s.createCopies(ctx, tx, title, input.Count)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) createCopies(ctx context.Context, tx *gorm.DB, title *models.Title, n int) ([]models.Copy, error) {
	if n == 0 {
		return nil, nil
	}
	existing, err := s.repo.WithTx(tx).CountCopies(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count copies")
	}
	copyRepo := s.copies.WithTx(tx)
	out := make([]models.Copy, 0, n)
	for i := 0; i < n; i++ {
		c := &models.Copy{
			TitleID: title.ID,
			Barcode: Barcode(title.ISBN, barcodeSeqStart+int(existing)+i),
			Status:  enums.CopyStatusAvailable,
		}
		if _, err := copyRepo.Create(ctx, c); err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// withBarcodeRetry reruns fn when two writers raced for the same barcode
// sequence.
func (s *service) withBarcodeRetry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < barcodeAttempts; attempt++ {
		err = s.tx.WithTx(ctx, fn)
		if err == nil || !db.IsUniqueViolation(err, "ux_copies_barcode") {
			break
		}
	}
	if err != nil && pkgerrors.As(err) == nil {
		if db.IsUniqueViolation(err, "ux_copies_barcode") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "barcode collision, try again")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create copies")
	}
	return err
}

// Barcode formats a copy barcode as BC-<last four ISBN digits>-<seq>.
func Barcode(isbn string, seq int) string {
	digits := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == 'X' || r == 'x' {
			return r
		}
		return -1
	}, isbn)
	if len(digits) > 4 {
		digits = digits[len(digits)-4:]
	}
	return fmt.Sprintf("BC-%s-%d", strings.ToUpper(digits), seq)
}

func (s *service) GetTitle(ctx context.Context, id uuid.UUID) (*TitleView, error) {
	title, err := s.repo.FindTitle(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "title not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load title")
	}
	view, err := s.withCounts(ctx, *title)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

func (s *service) SearchTitles(ctx context.Context, input SearchInput) (pagination.Page[TitleView], error) {
	cursor, err := pagination.ParseCursor(input.Params.Cursor)
	if err != nil {
		return pagination.Page[TitleView]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.SearchTitles(ctx, input.Query, cursor, pagination.LimitWithBuffer(input.Params.Limit))
	if err != nil {
		return pagination.Page[TitleView]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search titles")
	}

	page := pagination.Paginate(rows, input.Params.Limit, func(t models.Title) pagination.Cursor {
		return pagination.Cursor{At: t.CreatedAt, ID: t.ID}
	})
	views := make([]TitleView, 0, len(page.Items))
	for _, t := range page.Items {
		v, err := s.withCounts(ctx, t)
		if err != nil {
			return pagination.Page[TitleView]{}, err
		}
		views = append(views, v)
	}
	return pagination.Page[TitleView]{Items: views, NextCursor: page.NextCursor}, nil
}

func (s *service) withCounts(ctx context.Context, t models.Title) (TitleView, error) {
	available, err := s.copies.AvailableCount(ctx, t.ID)
	if err != nil {
		return TitleView{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count available copies")
	}
	total, err := s.copies.TotalCount(ctx, t.ID)
	if err != nil {
		return TitleView{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count copies")
	}
	return newTitleView(t, available, total), nil
}
