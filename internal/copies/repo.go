package copies

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// Repository is the Copy Registry's persistence surface.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, c *models.Copy) (*models.Copy, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Copy, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Copy, error)
	FindAvailableCopy(ctx context.Context, titleID uuid.UUID) (*models.Copy, error)
	MarkBorrowed(ctx context.Context, copyID uuid.UUID) error
	MarkAvailable(ctx context.Context, copyID uuid.UUID) error
	UpdateStatus(ctx context.Context, copyID uuid.UUID, status enums.CopyStatus) error
	AvailableCount(ctx context.Context, titleID uuid.UUID) (int64, error)
	TotalCount(ctx context.Context, titleID uuid.UUID) (int64, error)
	ListByTitle(ctx context.Context, titleID uuid.UUID) ([]models.Copy, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a copy repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, c *models.Copy) (*models.Copy, error) {
	if c.Status == "" {
		c.Status = enums.CopyStatusAvailable
	}
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Copy, error) {
	var c models.Copy
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Copy, error) {
	var c models.Copy
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindAvailableCopy picks the oldest Available copy of the title and locks it.
// Rows already locked by a concurrent approval are skipped rather than waited
// on. It returns nil, nil when no copy is free.
func (r *repository) FindAvailableCopy(ctx context.Context, titleID uuid.UUID) (*models.Copy, error) {
	var c models.Copy
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("title_id = ? AND status = ?", titleID, enums.CopyStatusAvailable).
		Order("created_at ASC").
		Order("id ASC").
		Limit(1).
		Take(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *repository) MarkBorrowed(ctx context.Context, copyID uuid.UUID) error {
	return r.UpdateStatus(ctx, copyID, enums.CopyStatusBorrowed)
}

func (r *repository) MarkAvailable(ctx context.Context, copyID uuid.UUID) error {
	return r.UpdateStatus(ctx, copyID, enums.CopyStatusAvailable)
}

func (r *repository) UpdateStatus(ctx context.Context, copyID uuid.UUID, status enums.CopyStatus) error {
	res := r.db.WithContext(ctx).
		Model(&models.Copy{}).
		Where("id = ?", copyID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) AvailableCount(ctx context.Context, titleID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Copy{}).
		Where("title_id = ? AND status = ?", titleID, enums.CopyStatusAvailable).
		Count(&n).Error
	return n, err
}

func (r *repository) TotalCount(ctx context.Context, titleID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Copy{}).
		Where("title_id = ?", titleID).
		Count(&n).Error
	return n, err
}

func (r *repository) ListByTitle(ctx context.Context, titleID uuid.UUID) ([]models.Copy, error) {
	var rows []models.Copy
	err := r.db.WithContext(ctx).
		Where("title_id = ?", titleID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}
