package copies

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

type CopyDTO struct {
	ID        uuid.UUID        `json:"id"`
	TitleID   uuid.UUID        `json:"title_id"`
	Barcode   string           `json:"barcode"`
	Status    enums.CopyStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

func FromModel(c *models.Copy) CopyDTO {
	return CopyDTO{ID: c.ID, TitleID: c.TitleID, Barcode: c.Barcode, Status: c.Status, CreatedAt: c.CreatedAt}
}

func FromModels(rows []models.Copy) []CopyDTO {
	out := make([]CopyDTO, 0, len(rows))
	for i := range rows {
		out = append(out, FromModel(&rows[i]))
	}
	return out
}
