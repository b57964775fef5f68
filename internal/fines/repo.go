package fines

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, fine *models.Fine) (*models.Fine, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Fine, error)
	FindByLedgerEntry(ctx context.Context, entryID uuid.UUID) (*models.Fine, error)
	ListForBorrower(ctx context.Context, borrowerID uuid.UUID) ([]models.Fine, error)
	MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) error
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

func (r *repository) Create(ctx context.Context, fine *models.Fine) (*models.Fine, error) {
	if fine.Status == "" {
		fine.Status = enums.FineStatusUnpaid
	}
	if err := r.db.WithContext(ctx).Create(fine).Error; err != nil {
		return nil, err
	}
	return fine, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Fine, error) {
	var fine models.Fine
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&fine).Error
	if err != nil {
		return nil, err
	}
	return &fine, nil
}

func (r *repository) FindByLedgerEntry(ctx context.Context, entryID uuid.UUID) (*models.Fine, error) {
	var fine models.Fine
	if err := r.db.WithContext(ctx).Where("ledger_entry_id = ?", entryID).First(&fine).Error; err != nil {
		return nil, err
	}
	return &fine, nil
}

func (r *repository) ListForBorrower(ctx context.Context, borrowerID uuid.UUID) ([]models.Fine, error) {
	var rows []models.Fine
	err := r.db.WithContext(ctx).
		Where("borrower_id = ?", borrowerID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Fine{}).
		Where("id = ? AND status = ?", id, enums.FineStatusUnpaid).
		Updates(map[string]any{
			"status":  enums.FineStatusPaid,
			"paid_at": paidAt,
		}).Error
}
