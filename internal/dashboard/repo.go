package dashboard

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// EntryRow is a ledger entry joined with the names a librarian reads.
type EntryRow struct {
	ID               uuid.UUID          `json:"id"`
	BorrowerID       uuid.UUID          `json:"borrower_id"`
	BorrowerUsername string             `json:"borrower_username"`
	TitleID          uuid.UUID          `json:"title_id"`
	TitleName        string             `json:"title_name"`
	CopyID           *uuid.UUID         `json:"copy_id,omitempty"`
	Barcode          *string            `json:"barcode,omitempty"`
	Status           enums.LedgerStatus `json:"status"`
	RequestedAt      time.Time          `json:"requested_at"`
	DueAt            *time.Time         `json:"due_at,omitempty"`
	ReturnedAt       *time.Time         `json:"returned_at,omitempty"`
	RenewCount       int                `json:"renew_count"`
	Overdue          bool               `json:"overdue" gorm:"-"`
}

type MemberRow struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TitleAvailability is a title with at least one copy on the shelf.
type TitleAvailability struct {
	TitleID   uuid.UUID `json:"title_id"`
	Name      string    `json:"name"`
	Author    string    `json:"author"`
	ISBN      string    `json:"isbn"`
	Available int64     `json:"available"`
}

type Repository interface {
	ListByStatus(ctx context.Context, status enums.LedgerStatus, order string, limit int) ([]EntryRow, error)
	CountByStatus(ctx context.Context, status enums.LedgerStatus) (int64, error)
	ListMembers(ctx context.Context) ([]MemberRow, error)
	ListAvailableTitles(ctx context.Context) ([]TitleAvailability, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

const entryColumns = `le.id, le.borrower_id, u.username AS borrower_username, le.title_id,
	t.name AS title_name, le.copy_id, c.barcode, le.status, le.requested_at, le.due_at,
	le.returned_at, le.renew_count`

func (r *repository) ListByStatus(ctx context.Context, status enums.LedgerStatus, order string, limit int) ([]EntryRow, error) {
	var rows []EntryRow
	q := r.db.WithContext(ctx).
		Table("ledger_entries AS le").
		Select(entryColumns).
		Joins("JOIN titles t ON t.id = le.title_id").
		Joins("JOIN users u ON u.id = le.borrower_id").
		Joins("LEFT JOIN copies c ON c.id = le.copy_id").
		Where("le.status = ?", status).
		Order(order).
		Order("le.id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Scan(&rows).Error
	return rows, err
}

func (r *repository) CountByStatus(ctx context.Context, status enums.LedgerStatus) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Table("ledger_entries").
		Where("status = ?", status).
		Count(&n).Error
	return n, err
}

func (r *repository) ListMembers(ctx context.Context) ([]MemberRow, error) {
	var rows []MemberRow
	err := r.db.WithContext(ctx).
		Table("users").
		Select("id, username, full_name, email, created_at").
		Where("role = ?", enums.UserRoleMember).
		Order("username ASC").
		Scan(&rows).Error
	return rows, err
}

func (r *repository) ListAvailableTitles(ctx context.Context) ([]TitleAvailability, error) {
	var rows []TitleAvailability
	err := r.db.WithContext(ctx).
		Table("titles AS t").
		Select("t.id AS title_id, t.name, t.author, t.isbn, COUNT(c.id) AS available").
		Joins("JOIN copies c ON c.title_id = t.id AND c.status = ?", enums.CopyStatusAvailable).
		Group("t.id, t.name, t.author, t.isbn").
		Having("COUNT(c.id) > 0").
		Order("t.name ASC").
		Scan(&rows).Error
	return rows, err
}
