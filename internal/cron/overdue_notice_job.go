package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/internal/fines"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
)

const overdueScanBatch = 500

type overdueReader interface {
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]models.LedgerEntry, error)
}

type onceEmitter interface {
	EmitOnce(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error)
}

type OverdueNoticeJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Ledger     overdueReader
	Outbox     onceEmitter
	Calculator fines.Calculator
}

// NewOverdueNoticeJob builds the job that queues one loan_overdue event per
// overdue entry per UTC day.
func NewOverdueNoticeJob(params OverdueNoticeJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger reader required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if !params.Calculator.Configured() {
		return nil, fmt.Errorf("fine calculator required")
	}
	return &overdueNoticeJob{
		logg:   params.Logger,
		db:     params.DB,
		ledger: params.Ledger,
		outbox: params.Outbox,
		calc:   params.Calculator,
		now:    time.Now,
	}, nil
}

type overdueNoticeJob struct {
	logg   *logger.Logger
	db     txRunner
	ledger overdueReader
	outbox onceEmitter
	calc   fines.Calculator
	now    func() time.Time
}

func (j *overdueNoticeJob) Name() string { return "overdue_notice" }

// Run reports how many overdue entries it scanned, how many notices it
// queued and how many entries failed. Entries already noticed today count
// as scanned only.
func (j *overdueNoticeJob) Run(ctx context.Context) (Report, error) {
	now := j.now().UTC()
	entries, err := j.ledger.ListOverdue(ctx, now, overdueScanBatch)
	if err != nil {
		return nil, fmt.Errorf("query overdue entries: %w", err)
	}

	var errs []error
	report := Report{"scanned": int64(len(entries)), "queued": 0, "failed": 0}
	for i := range entries {
		written, err := j.notify(ctx, entries[i], now)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %s: %w", entries[i].ID, err))
			report["failed"]++
			continue
		}
		if written {
			report["queued"]++
		}
	}
	if len(entries) == overdueScanBatch {
		j.logg.Warn(ctx, "overdue scan hit its batch limit; remaining entries wait for the next tick")
	}
	return report, multierr.Combine(errs...)
}

func (j *overdueNoticeJob) notify(ctx context.Context, entry models.LedgerEntry, now time.Time) (bool, error) {
	if entry.DueAt == nil {
		return false, nil
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventLoanOverdue,
		AggregateType: enums.AggregateLedgerEntry,
		AggregateID:   entry.ID,
		Data: outbox.LoanOverdueEvent{
			EntryID:     entry.ID,
			BorrowerID:  entry.BorrowerID,
			TitleID:     entry.TitleID,
			DueAt:       *entry.DueAt,
			OverdueDays: fines.OverdueDays(*entry.DueAt, now),
			AccruedFine: j.calc.Compute(entry.DueAt, now),
		},
		OccurredAt: now,
		DedupeKey:  OverdueDedupeKey(entry.ID.String(), now),
	}
	var written bool
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := j.outbox.EmitOnce(ctx, tx, event)
		written = ok
		return err
	})
	return written, err
}

// OverdueDedupeKey scopes a loan_overdue event to one entry and one UTC day.
func OverdueDedupeKey(entryID string, now time.Time) string {
	return fmt.Sprintf("loan_overdue:%s:%s", entryID, now.UTC().Format("2006-01-02"))
}
