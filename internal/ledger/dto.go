package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/internal/fines"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// EntryDTO is the transport shape of a ledger entry. Overdue is derived at
// render time and never stored.
type EntryDTO struct {
	ID          uuid.UUID          `json:"id"`
	BorrowerID  uuid.UUID          `json:"borrower_id"`
	TitleID     uuid.UUID          `json:"title_id"`
	CopyID      *uuid.UUID         `json:"copy_id,omitempty"`
	Status      enums.LedgerStatus `json:"status"`
	RequestedAt time.Time          `json:"requested_at"`
	DueAt       *time.Time         `json:"due_at,omitempty"`
	ReturnedAt  *time.Time         `json:"returned_at,omitempty"`
	RenewCount  int                `json:"renew_count"`
	Overdue     bool               `json:"overdue"`
}

type ReturnDTO struct {
	Entry EntryDTO       `json:"entry"`
	Fine  *fines.FineDTO `json:"fine,omitempty"`
}

func EntryFromModel(e *models.LedgerEntry, now time.Time) EntryDTO {
	return EntryDTO{
		ID:          e.ID,
		BorrowerID:  e.BorrowerID,
		TitleID:     e.TitleID,
		CopyID:      e.CopyID,
		Status:      e.Status,
		RequestedAt: e.RequestedAt,
		DueAt:       e.DueAt,
		ReturnedAt:  e.ReturnedAt,
		RenewCount:  e.RenewCount,
		Overdue:     IsOverdue(*e, now),
	}
}

func EntriesFromModels(rows []models.LedgerEntry, now time.Time) []EntryDTO {
	out := make([]EntryDTO, 0, len(rows))
	for i := range rows {
		out = append(out, EntryFromModel(&rows[i], now))
	}
	return out
}

func ReturnFromResult(res *ReturnResult, now time.Time) ReturnDTO {
	dto := ReturnDTO{Entry: EntryFromModel(res.Entry, now)}
	if res.Fine != nil {
		f := fines.FromModel(res.Fine)
		dto.Fine = &f
	}
	return dto
}
