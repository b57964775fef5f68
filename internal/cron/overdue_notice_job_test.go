package cron

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/internal/fines"
	"github.com/angelmondragon/circulation-backend/internal/ledger"
	"github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/db/dbtest"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
)

func seedEntry(t *testing.T, conn *gorm.DB, status enums.LedgerStatus, due *time.Time) models.LedgerEntry {
	t.Helper()
	member := dbtest.User(t, conn, enums.UserRoleMember)
	title := dbtest.Title(t, conn)
	entry := models.LedgerEntry{
		BorrowerID:  member.ID,
		TitleID:     title.ID,
		RequestedAt: time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		DueAt:       due,
		Status:      status,
	}
	if status == enums.LedgerStatusActive {
		cp := dbtest.Copies(t, conn, title.ID, 1, enums.CopyStatusBorrowed)[0]
		entry.CopyID = &cp.ID
	}
	require.NoError(t, conn.Create(&entry).Error)
	return entry
}

func newOverdueJob(t *testing.T, conn *gorm.DB, now time.Time) *overdueNoticeJob {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test"})
	jobIface, err := NewOverdueNoticeJob(OverdueNoticeJobParams{
		Logger:     logg,
		DB:         db.Wrap(conn),
		Ledger:     ledger.NewRepository(conn),
		Outbox:     outbox.NewService(outbox.NewRepository(conn), logg),
		Calculator: fines.NewCalculator(decimal.RequireFromString("5.00")),
	})
	require.NoError(t, err)
	job := jobIface.(*overdueNoticeJob)
	job.now = func() time.Time { return now }
	return job
}

func TestOverdueNoticeJobEmitsOncePerDay(t *testing.T) {
	conn := dbtest.Open(t)
	now := time.Date(2026, 10, 10, 12, 0, 0, 0, time.UTC)
	overdueAt := now.Add(-3*24*time.Hour - time.Hour)
	notDue := now.Add(24 * time.Hour)

	late := seedEntry(t, conn, enums.LedgerStatusActive, &overdueAt)
	seedEntry(t, conn, enums.LedgerStatusActive, &notDue)
	seedEntry(t, conn, enums.LedgerStatusPending, nil)

	job := newOverdueJob(t, conn, now)
	ctx := context.Background()
	first, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{"scanned": 1, "queued": 1, "failed": 0}, first)
	second, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{"scanned": 1, "queued": 0, "failed": 0}, second)

	var events []models.OutboxEvent
	require.NoError(t, conn.Where("event_type = ?", enums.EventLoanOverdue).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, late.ID, events[0].AggregateID)
	require.NotNil(t, events[0].DedupeKey)
	assert.Equal(t, OverdueDedupeKey(late.ID.String(), now), *events[0].DedupeKey)

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(events[0].Payload, &envelope))
	var data outbox.LoanOverdueEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, 3, data.OverdueDays)
	assert.True(t, data.AccruedFine.Equal(decimal.RequireFromString("15.00")))

	// next day queues a fresh notice
	job.now = func() time.Time { return now.Add(24 * time.Hour) }
	_, err = job.Run(ctx)
	require.NoError(t, err)
	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventLoanOverdue).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

type failingOnceEmitter struct {
	fail  uuid.UUID
	calls int
}

func (f *failingOnceEmitter) EmitOnce(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error) {
	f.calls++
	if event.AggregateID == f.fail {
		return false, errors.New("insert failed")
	}
	return true, nil
}

type staticOverdueReader struct {
	entries []models.LedgerEntry
}

func (s staticOverdueReader) ListOverdue(ctx context.Context, now time.Time, limit int) ([]models.LedgerEntry, error) {
	return s.entries, nil
}

func TestOverdueNoticeJobContinuesPastFailures(t *testing.T) {
	due := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	bad := models.LedgerEntry{ID: uuid.New(), DueAt: &due}
	good := models.LedgerEntry{ID: uuid.New(), DueAt: &due}
	emitter := &failingOnceEmitter{fail: bad.ID}

	jobIface, err := NewOverdueNoticeJob(OverdueNoticeJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		DB:         passthroughTxRunner{},
		Ledger:     staticOverdueReader{entries: []models.LedgerEntry{bad, good}},
		Outbox:     emitter,
		Calculator: fines.NewCalculator(decimal.Zero),
	})
	require.NoError(t, err)

	report, err := jobIface.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, Report{"scanned": 2, "queued": 1, "failed": 1}, report)
	assert.Contains(t, err.Error(), bad.ID.String())
	assert.Equal(t, 2, emitter.calls)
}

func TestOverdueDedupeKeyUsesUTCDay(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	at := time.Date(2026, 10, 10, 22, 0, 0, 0, loc)
	assert.Equal(t, "loan_overdue:abc:2026-10-11", OverdueDedupeKey("abc", at))
}

func TestOverdueNoticeJobRequiresCalculator(t *testing.T) {
	_, err := NewOverdueNoticeJob(OverdueNoticeJobParams{
		Logger: logger.Nop(),
		DB:     passthroughTxRunner{},
		Ledger: staticOverdueReader{},
		Outbox: &failingOnceEmitter{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fine calculator")
}
