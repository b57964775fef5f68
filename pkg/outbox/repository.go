package outbox

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/circulation-backend/pkg/db/models"
)

const maxErrorLen = 1024

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event *models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(event).Error
}

// ExistsByDedupeKey reports whether an event with the key was already queued.
func (r *Repository) ExistsByDedupeKey(tx *gorm.DB, key string) (bool, error) {
	var count int64
	err := tx.Model(&models.OutboxEvent{}).Where("dedupe_key = ?", key).Count(&count).Error
	return count > 0, err
}

// FetchUnpublishedForPublish locks a batch of pending rows so concurrent
// publishers never pick the same event.
func (r *Repository) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("published_at IS NULL").
		Where("attempt_count < ?", maxAttempts).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"published_at": time.Now().UTC(),
			"last_error":   nil,
		}).Error
}

func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    msg,
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
}

// DeletePublishedBefore prunes delivered rows and returns how many were removed.
func (r *Repository) DeletePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error) {
	res := tx.Where("published_at IS NOT NULL AND published_at < ?", cutoff).
		Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

// MarkTerminalTx records the failure and pushes attempt_count to the ceiling so
// the row is never fetched again.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, cause error, terminalAttempts int) error {
	msg := "terminal failure"
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    msg,
			"attempt_count": terminalAttempts,
		}).Error
}

// Backlog summarises lending events not yet on the topic.
type Backlog struct {
	Pending int64
	// Stuck rows hit the attempt ceiling and wait for an operator.
	Stuck  int64
	Oldest *time.Time
}

// Backlog counts undelivered rows. The oldest timestamp covers only rows the
// publisher will still try.
func (r *Repository) Backlog(tx *gorm.DB, maxAttempts int) (Backlog, error) {
	if tx == nil {
		tx = r.db
	}
	var b Backlog
	undelivered := tx.Model(&models.OutboxEvent{}).Where("published_at IS NULL").Session(&gorm.Session{})
	if err := undelivered.Where("attempt_count < ?", maxAttempts).Count(&b.Pending).Error; err != nil {
		return Backlog{}, err
	}
	if err := undelivered.Where("attempt_count >= ?", maxAttempts).Count(&b.Stuck).Error; err != nil {
		return Backlog{}, err
	}
	if b.Pending == 0 {
		return b, nil
	}
	var oldest []models.OutboxEvent
	err := tx.Where("published_at IS NULL AND attempt_count < ?", maxAttempts).
		Order("created_at ASC").
		Limit(1).
		Find(&oldest).Error
	if err != nil {
		return Backlog{}, err
	}
	if len(oldest) == 1 {
		b.Oldest = &oldest[0].CreatedAt
	}
	return b, nil
}
