package fines

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

type FineDTO struct {
	ID            uuid.UUID        `json:"id"`
	LedgerEntryID uuid.UUID        `json:"ledger_entry_id"`
	BorrowerID    uuid.UUID        `json:"borrower_id"`
	Amount        decimal.Decimal  `json:"amount"`
	Status        enums.FineStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	PaidAt        *time.Time       `json:"paid_at,omitempty"`
}

func FromModel(f *models.Fine) FineDTO {
	return FineDTO{
		ID:            f.ID,
		LedgerEntryID: f.LedgerEntryID,
		BorrowerID:    f.BorrowerID,
		Amount:        f.Amount,
		Status:        f.Status,
		CreatedAt:     f.CreatedAt,
		PaidAt:        f.PaidAt,
	}
}

func FromModels(rows []models.Fine) []FineDTO {
	out := make([]FineDTO, 0, len(rows))
	for i := range rows {
		out = append(out, FromModel(&rows[i]))
	}
	return out
}
