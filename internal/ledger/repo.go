package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// Repository persists ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	TitleExists(ctx context.Context, titleID uuid.UUID) (bool, error)
	HasOpenEntry(ctx context.Context, borrowerID, titleID uuid.UUID) (bool, error)
	Create(ctx context.Context, entry *models.LedgerEntry) (*models.LedgerEntry, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	SaveTransition(ctx context.Context, entry *models.LedgerEntry) error
	ListForBorrower(ctx context.Context, borrowerID uuid.UUID) ([]models.LedgerEntry, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]models.LedgerEntry, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) TitleExists(ctx context.Context, titleID uuid.UUID) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Title{}).Where("id = ?", titleID).Count(&n).Error
	return n > 0, err
}

// HasOpenEntry reports whether the borrower holds a Pending or Active entry
// for the title.
func (r *repository) HasOpenEntry(ctx context.Context, borrowerID, titleID uuid.UUID) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("borrower_id = ? AND title_id = ?", borrowerID, titleID).
		Where("status IN ?", []enums.LedgerStatus{enums.LedgerStatusPending, enums.LedgerStatusActive}).
		Count(&n).Error
	return n > 0, err
}

func (r *repository) Create(ctx context.Context, entry *models.LedgerEntry) (*models.LedgerEntry, error) {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// SaveTransition writes every field a state transition may touch, including
// zero values.
func (r *repository) SaveTransition(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).
		Model(entry).
		Select("copy_id", "status", "requested_at", "due_at", "returned_at", "renew_count", "updated_at").
		Updates(entry).Error
}

func (r *repository) ListForBorrower(ctx context.Context, borrowerID uuid.UUID) ([]models.LedgerEntry, error) {
	var rows []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("borrower_id = ?", borrowerID).
		Order("requested_at DESC").
		Order("id DESC").
		Find(&rows).Error
	return rows, err
}

// ListOverdue returns Active entries whose due date has passed, most overdue first.
func (r *repository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]models.LedgerEntry, error) {
	var rows []models.LedgerEntry
	q := r.db.WithContext(ctx).
		Where("status = ? AND due_at IS NOT NULL AND due_at < ?", enums.LedgerStatusActive, now).
		Order("due_at ASC").
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rows).Error
	return rows, err
}
