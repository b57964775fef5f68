package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/internal/copies"
	"github.com/angelmondragon/circulation-backend/internal/fines"
	"github.com/angelmondragon/circulation-backend/pkg/auth"
	"github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/db/dbtest"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
)

func TestRequestBorrowCreatesPendingEntry(t *testing.T) {
	f := newFixture(t)
	title, _ := f.titleWithCopies(t, 1)
	borrower := f.member(t)

	entry := f.request(t, borrower, title.ID)

	assert.Equal(t, enums.LedgerStatusPending, entry.Status)
	assert.Nil(t, entry.CopyID)
	assert.Nil(t, entry.DueAt)
	assert.True(t, entry.RequestedAt.Equal(f.clock.Now()))
	f.assertInvariants(t, title.ID)
}

func TestRequestBorrowWithoutStockCreatesNothing(t *testing.T) {
	f := newFixture(t)
	title, _ := f.titleWithCopies(t, 0)

	_, err := f.svc.RequestBorrow(context.Background(), RequestBorrowInput{Borrower: asMember(f.member(t)), TitleID: title.ID})

	require.True(t, pkgerrors.IsNoStock(err), "got %v", err)
	assert.Zero(t, f.entryCount(t))
}

func TestRequestBorrowUnknownTitle(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RequestBorrow(context.Background(), RequestBorrowInput{Borrower: asMember(f.member(t)), TitleID: uuid.New()})
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestRequestBorrowDuplicateIsRefused(t *testing.T) {
	f := newFixture(t)
	title, _ := f.titleWithCopies(t, 2)
	borrower := f.member(t)
	entry := f.request(t, borrower, title.ID)

	_, err := f.svc.RequestBorrow(context.Background(), RequestBorrowInput{Borrower: asMember(borrower), TitleID: title.ID})
	require.True(t, pkgerrors.IsAlreadyRequested(err), "pending duplicate: %v", err)

	f.approve(t, entry.ID)
	_, err = f.svc.RequestBorrow(context.Background(), RequestBorrowInput{Borrower: asMember(borrower), TitleID: title.ID})
	require.True(t, pkgerrors.IsAlreadyRequested(err), "active duplicate: %v", err)

	assert.EqualValues(t, 1, f.entryCount(t))
}

func TestRequestAgainAfterReturnIsAllowed(t *testing.T) {
	f := newFixture(t)
	title, _ := f.titleWithCopies(t, 1)
	borrower := f.member(t)
	entry := f.request(t, borrower, title.ID)
	f.approve(t, entry.ID)
	_, err := f.svc.ReturnEntry(context.Background(), DecisionInput{EntryID: entry.ID, Actor: f.librarian})
	require.NoError(t, err)

	again := f.request(t, borrower, title.ID)
	assert.NotEqual(t, entry.ID, again.ID)
}

func TestApproveBindsCopyAndSetsDueDate(t *testing.T) {
	f := newFixture(t)
	title, created := f.titleWithCopies(t, 2)
	entry := f.request(t, f.member(t), title.ID)
	f.clock.Advance(time.Hour)

	approved := f.approve(t, entry.ID)

	require.Equal(t, enums.LedgerStatusActive, approved.Status)
	require.NotNil(t, approved.CopyID)
	assert.Equal(t, created[0].ID, *approved.CopyID, "oldest available copy wins")
	require.NotNil(t, approved.DueAt)
	assert.WithinDuration(t, f.clock.Now().Add(loanPeriod), *approved.DueAt, time.Minute)
	assert.True(t, approved.RequestedAt.Equal(f.clock.Now()))

	stored := f.reload(t, entry.ID)
	assert.Equal(t, enums.LedgerStatusActive, stored.Status)
	assert.Equal(t, enums.CopyStatusBorrowed, f.copyStatus(t, created[0].ID))
	assert.Equal(t, enums.CopyStatusAvailable, f.copyStatus(t, created[1].ID))
	f.assertInvariants(t, title.ID)
}

func TestApproveWithoutStockLeavesEntryPending(t *testing.T) {
	f := newFixture(t)
	title, created := f.titleWithCopies(t, 1)
	entry := f.request(t, f.member(t), title.ID)
	require.NoError(t, f.copies.UpdateStatus(context.Background(), created[0].ID, enums.CopyStatusMaintenance))

	_, err := f.svc.ApproveBorrow(context.Background(), DecisionInput{EntryID: entry.ID, Actor: f.librarian})

	require.True(t, pkgerrors.IsNoStock(err), "got %v", err)
	stored := f.reload(t, entry.ID)
	assert.Equal(t, enums.LedgerStatusPending, stored.Status)
	assert.Nil(t, stored.CopyID)
	f.assertInvariants(t, title.ID)
}

func TestApproveNonPendingIsNoop(t *testing.T) {
	f := newFixture(t)
	title, _ := f.titleWithCopies(t, 2)
	entry := f.request(t, f.member(t), title.ID)
	first := f.approve(t, entry.ID)

	second := f.approve(t, entry.ID)

	assert.Equal(t, *first.CopyID, *second.CopyID)
	avail, err := f.copies.AvailableCount(context.Background(), title.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, avail, "second approve must not consume another copy")
	assert.Equal(t, 1.0, f.counter(t, "circulation_ledger_transitions_total", map[string]string{"transition": "approve", "outcome": "noop"}))
}

func TestConcurrentApprovalsForLastCopy(t *testing.T) {
	f := newFixture(t)
	title, _ := f.titleWithCopies(t, 1)
	a := f.request(t, f.member(t), title.ID)
	b := f.request(t, f.member(t), title.ID)

	var (
		wg      sync.WaitGroup
		results = make([]error, 2)
		start   = make(chan struct{})
	)
	for i, id := range []uuid.UUID{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			<-start
			_, results[i] = f.svc.ApproveBorrow(context.Background(), DecisionInput{EntryID: id, Actor: f.librarian})
		}(i, id)
	}
	close(start)
	wg.Wait()

	var ok, noStock int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case pkgerrors.IsNoStock(err):
			noStock++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, noStock)

	statuses := map[enums.LedgerStatus]int{}
	for _, id := range []uuid.UUID{a.ID, b.ID} {
		statuses[f.reload(t, id).Status]++
	}
	assert.Equal(t, 1, statuses[enums.LedgerStatusActive])
	assert.Equal(t, 1, statuses[enums.LedgerStatusPending])
	f.assertInvariants(t, title.ID)
}

func TestRejectLeavesCopiesAlone(t *testing.T) {
	f := newFixture(t)
	title, created := f.titleWithCopies(t, 1)
	entry := f.request(t, f.member(t), title.ID)

	rejected, err := f.svc.RejectBorrow(context.Background(), DecisionInput{EntryID: entry.ID, Actor: f.librarian})

	require.NoError(t, err)
	assert.Equal(t, enums.LedgerStatusRejected, rejected.Status)
	assert.Nil(t, rejected.CopyID)
	assert.Equal(t, enums.CopyStatusAvailable, f.copyStatus(t, created[0].ID))

	again, err := f.svc.ApproveBorrow(context.Background(), DecisionInput{EntryID: entry.ID, Actor: f.librarian})
	require.NoError(t, err)
	assert.Equal(t, enums.LedgerStatusRejected, again.Status, "rejected is terminal")
	f.assertInvariants(t, title.ID)
}

func TestRenewTwiceExtendsDueDate(t *testing.T) {
	f := newFixture(t)
	title, _ := f.titleWithCopies(t, 1)
	borrower := f.member(t)
	entry := f.approve(t, f.request(t, borrower, title.ID).ID)
	original := *entry.DueAt

	first, err := f.svc.Renew(context.Background(), RenewInput{EntryID: entry.ID, Borrower: asMember(borrower)})
	require.NoError(t, err)
	second, err := f.svc.Renew(context.Background(), RenewInput{EntryID: entry.ID, Borrower: asMember(borrower)})
	require.NoError(t, err)

	assert.True(t, first.After(original))
	assert.True(t, second.After(first))
	assert.WithinDuration(t, original.Add(2*loanPeriod), second, time.Second)

	stored := f.reload(t, entry.ID)
	assert.Equal(t, 2, stored.RenewCount)
	assert.Equal(t, enums.LedgerStatusActive, stored.Status)
}

func TestRenewRefusals(t *testing.T) {
	f := newFixture(t)
	title, _ := f.titleWithCopies(t, 1)
	borrower := f.member(t)
	pending := f.request(t, borrower, title.ID)

	_, err := f.svc.Renew(context.Background(), RenewInput{EntryID: pending.ID, Borrower: asMember(borrower)})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict), "pending: %v", err)

	f.approve(t, pending.ID)
	_, err = f.svc.Renew(context.Background(), RenewInput{EntryID: pending.ID, Borrower: asMember(f.member(t))})
	assert.True(t, pkgerrors.IsForbidden(err), "other borrower: %v", err)

	_, err = f.svc.Renew(context.Background(), RenewInput{EntryID: uuid.New(), Borrower: asMember(borrower)})
	assert.True(t, pkgerrors.IsNotFound(err))

	assert.Equal(t, 0, f.reload(t, pending.ID).RenewCount)
}

func TestReturnBeforeDueHasNoFine(t *testing.T) {
	f := newFixture(t)
	title, created := f.titleWithCopies(t, 1)
	entry := f.approve(t, f.request(t, f.member(t), title.ID).ID)
	f.clock.Advance(2 * 24 * time.Hour)

	res, err := f.svc.ReturnEntry(context.Background(), DecisionInput{EntryID: entry.ID, Actor: f.librarian})

	require.NoError(t, err)
	assert.Nil(t, res.Fine)
	assert.Equal(t, enums.LedgerStatusReturned, res.Entry.Status)
	require.NotNil(t, res.Entry.ReturnedAt)
	assert.True(t, res.Entry.ReturnedAt.Equal(f.clock.Now()))
	assert.Equal(t, enums.CopyStatusAvailable, f.copyStatus(t, created[0].ID))
	assert.Zero(t, f.fineCount(t, entry.ID))
	f.assertInvariants(t, title.ID)
}

func TestReturnThreeDaysLateAssessesFine(t *testing.T) {
	f := newFixture(t)
	title, _ := f.titleWithCopies(t, 1)
	borrower := f.member(t)
	entry := f.approve(t, f.request(t, borrower, title.ID).ID)
	f.clock.Set(entry.DueAt.Add(3*24*time.Hour + 2*time.Hour))

	res, err := f.svc.ReturnEntry(context.Background(), DecisionInput{EntryID: entry.ID, Actor: f.librarian})

	require.NoError(t, err)
	require.NotNil(t, res.Fine)
	assert.True(t, res.Fine.Amount.Equal(decimal.RequireFromString("15.00")), "got %s", res.Fine.Amount)
	assert.Equal(t, enums.FineStatusUnpaid, res.Fine.Status)
	assert.Equal(t, borrower, res.Fine.BorrowerID)

	var stored []models.Fine
	require.NoError(t, f.conn.Where("ledger_entry_id = ?", entry.ID).Find(&stored).Error)
	require.Len(t, stored, 1)
	assert.Equal(t, "15.00", stored[0].Amount.StringFixed(2))
	assert.Equal(t, 1.0, f.counter(t, "circulation_fines_assessed_total", nil))
}

func TestSecondReturnChangesNothing(t *testing.T) {
	f := newFixture(t)
	title, _ := f.titleWithCopies(t, 1)
	entry := f.approve(t, f.request(t, f.member(t), title.ID).ID)
	f.clock.Set(entry.DueAt.Add(4 * 24 * time.Hour))

	first, err := f.svc.ReturnEntry(context.Background(), DecisionInput{EntryID: entry.ID, Actor: f.librarian})
	require.NoError(t, err)
	require.NotNil(t, first.Fine)

	f.clock.Advance(24 * time.Hour)
	second, err := f.svc.ReturnEntry(context.Background(), DecisionInput{EntryID: entry.ID, Actor: f.librarian})
	require.NoError(t, err)
	assert.Nil(t, second.Fine)
	assert.True(t, second.Entry.ReturnedAt.Equal(*first.Entry.ReturnedAt))
	assert.EqualValues(t, 1, f.fineCount(t, entry.ID))
	f.assertInvariants(t, title.ID)
}

func TestReturnPendingIsNoop(t *testing.T) {
	f := newFixture(t)
	title, _ := f.titleWithCopies(t, 1)
	entry := f.request(t, f.member(t), title.ID)

	res, err := f.svc.ReturnEntry(context.Background(), DecisionInput{EntryID: entry.ID, Actor: f.librarian})
	require.NoError(t, err)
	assert.Equal(t, enums.LedgerStatusPending, res.Entry.Status)
	assert.Nil(t, res.Fine)
}

func TestLibrarianGuard(t *testing.T) {
	f := newFixture(t)
	title, _ := f.titleWithCopies(t, 1)
	borrower := f.member(t)
	entry := f.request(t, borrower, title.ID)
	member := auth.Actor{UserID: borrower, Role: enums.UserRoleMember}

	_, err := f.svc.ApproveBorrow(context.Background(), DecisionInput{EntryID: entry.ID, Actor: member})
	assert.True(t, pkgerrors.IsForbidden(err))
	_, err = f.svc.RejectBorrow(context.Background(), DecisionInput{EntryID: entry.ID, Actor: member})
	assert.True(t, pkgerrors.IsForbidden(err))
	_, err = f.svc.ReturnEntry(context.Background(), DecisionInput{EntryID: entry.ID, Actor: member})
	assert.True(t, pkgerrors.IsForbidden(err))

	assert.Equal(t, enums.LedgerStatusPending, f.reload(t, entry.ID).Status)
	assert.Equal(t, 1.0, f.counter(t, "circulation_ledger_transitions_total", map[string]string{"transition": "approve", "outcome": "refused"}))
}

func TestApproveUnknownEntry(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ApproveBorrow(context.Background(), DecisionInput{EntryID: uuid.New(), Actor: f.librarian})
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestGetRestrictsMembersToOwnEntries(t *testing.T) {
	f := newFixture(t)
	title, _ := f.titleWithCopies(t, 1)
	borrower := f.member(t)
	entry := f.request(t, borrower, title.ID)

	got, err := f.svc.Get(context.Background(), entry.ID, auth.Actor{UserID: borrower, Role: enums.UserRoleMember})
	require.NoError(t, err)
	assert.Equal(t, entry.ID, got.ID)

	_, err = f.svc.Get(context.Background(), entry.ID, auth.Actor{UserID: uuid.New(), Role: enums.UserRoleMember})
	assert.True(t, pkgerrors.IsForbidden(err))

	_, err = f.svc.Get(context.Background(), entry.ID, f.librarian)
	assert.NoError(t, err)

	rows, err := f.svc.ListForBorrower(context.Background(), borrower)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestTransitionsEmitOutboxEvents(t *testing.T) {
	f := newFixture(t)
	title, _ := f.titleWithCopies(t, 1)
	borrower := f.member(t)
	entry := f.approve(t, f.request(t, borrower, title.ID).ID)
	_, err := f.svc.Renew(context.Background(), RenewInput{EntryID: entry.ID, Borrower: asMember(borrower)})
	require.NoError(t, err)
	f.clock.Set(f.reload(t, entry.ID).DueAt.Add(48 * time.Hour))
	_, err = f.svc.ReturnEntry(context.Background(), DecisionInput{EntryID: entry.ID, Actor: f.librarian})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, f.conn.Order("created_at ASC").Find(&rows).Error)
	var types []enums.OutboxEventType
	for _, r := range rows {
		types = append(types, r.EventType)
	}
	assert.ElementsMatch(t, []enums.OutboxEventType{
		enums.EventBorrowRequested,
		enums.EventBorrowApproved,
		enums.EventLoanRenewed,
		enums.EventLoanReturned,
		enums.EventFineAssessed,
	}, types)

	for _, r := range rows {
		if r.EventType != enums.EventBorrowApproved {
			continue
		}
		env, err := outbox.DecodeEnvelope(r.Payload)
		require.NoError(t, err)
		require.NotNil(t, env.Actor)
		assert.Equal(t, f.librarian.UserID, env.Actor.UserID)
		assert.Contains(t, string(env.Data), `"status":"active"`)
	}
}

func TestIsOverdue(t *testing.T) {
	now := time.Date(2026, 10, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, IsOverdue(models.LedgerEntry{}, now), "no due date")
	assert.False(t, IsOverdue(models.LedgerEntry{DueAt: &future}, now))
	assert.False(t, IsOverdue(models.LedgerEntry{DueAt: &now}, now), "due exactly now")
	assert.True(t, IsOverdue(models.LedgerEntry{DueAt: &past}, now))
	assert.False(t, IsOverdue(models.LedgerEntry{DueAt: &past, ReturnedAt: &now}, now), "returned")
}

// conflictingTx fails the first n transactions the way Postgres aborts a
// serializable transaction, without running fn.
type conflictingTx struct {
	inner    txRunner
	failures int
	calls    int
}

func (c *conflictingTx) WithSerializableTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	c.calls++
	if c.failures > 0 {
		c.failures--
		return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	}
	return c.inner.WithSerializableTx(ctx, fn)
}

func TestSerializationFailureIsReplayed(t *testing.T) {
	var flaky *conflictingTx
	f := newFixtureWithTx(t, func(inner txRunner) txRunner {
		flaky = &conflictingTx{inner: inner, failures: 2}
		return flaky
	})
	title, _ := f.titleWithCopies(t, 1)

	entry, err := f.svc.RequestBorrow(context.Background(), RequestBorrowInput{Borrower: asMember(f.member(t)), TitleID: title.ID})

	require.NoError(t, err)
	assert.Equal(t, enums.LedgerStatusPending, entry.Status)
	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, 2.0, f.counter(t, "circulation_ledger_tx_retries_total", map[string]string{"transition": "request"}))
}

func TestSerializationFailureGivesUpAsConflict(t *testing.T) {
	f := newFixtureWithTx(t, func(inner txRunner) txRunner {
		return &conflictingTx{inner: inner, failures: 100}
	})
	title, _ := f.titleWithCopies(t, 1)

	_, err := f.svc.RequestBorrow(context.Background(), RequestBorrowInput{Borrower: asMember(f.member(t)), TitleID: title.ID})

	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict), "got %v", err)
	assert.Zero(t, f.entryCount(t))
}

func TestBusinessRefusalsAreNotReplayed(t *testing.T) {
	var flaky *conflictingTx
	f := newFixtureWithTx(t, func(inner txRunner) txRunner {
		flaky = &conflictingTx{inner: inner}
		return flaky
	})
	title, _ := f.titleWithCopies(t, 0)

	_, err := f.svc.RequestBorrow(context.Background(), RequestBorrowInput{Borrower: asMember(f.member(t)), TitleID: title.ID})

	assert.True(t, pkgerrors.IsNoStock(err))
	assert.Equal(t, 1, flaky.calls)
}

func TestNewServiceRequiresCalculator(t *testing.T) {
	conn := dbtest.Open(t)
	params := ServiceParams{
		Repository: NewRepository(conn),
		Copies:     copies.NewRepository(conn),
		Fines:      fines.NewRepository(conn),
		Tx:         db.Wrap(conn),
		Outbox:     outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
	}

	_, err := NewService(params)
	require.ErrorContains(t, err, "fine calculator required")

	params.Calculator = fines.NewCalculator(decimal.RequireFromString("-1"))
	_, err = NewService(params)
	require.ErrorContains(t, err, "must not be negative")

	params.Calculator = fines.NewCalculator(decimal.Zero)
	_, err = NewService(params)
	require.NoError(t, err)
}

func TestBorrowEventsRecordCallerRole(t *testing.T) {
	f := newFixture(t)
	title, _ := f.titleWithCopies(t, 1)

	entry, err := f.svc.RequestBorrow(context.Background(), RequestBorrowInput{Borrower: f.librarian, TitleID: title.ID})
	require.NoError(t, err)
	f.approve(t, entry.ID)
	_, err = f.svc.Renew(context.Background(), RenewInput{EntryID: entry.ID, Borrower: f.librarian})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, f.conn.Where("event_type IN ?", []enums.OutboxEventType{enums.EventBorrowRequested, enums.EventLoanRenewed}).Find(&rows).Error)
	require.Len(t, rows, 2)
	for _, r := range rows {
		env, err := outbox.DecodeEnvelope(r.Payload)
		require.NoError(t, err)
		require.NotNil(t, env.Actor)
		assert.Equal(t, f.librarian.UserID, env.Actor.UserID)
		assert.Equal(t, enums.UserRoleLibrarian.String(), env.Actor.Role, "event %s", r.EventType)
	}
}

func TestRequestBorrowRequiresCallerRole(t *testing.T) {
	f := newFixture(t)
	title, _ := f.titleWithCopies(t, 1)

	_, err := f.svc.RequestBorrow(context.Background(), RequestBorrowInput{Borrower: auth.Actor{UserID: f.member(t)}, TitleID: title.ID})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.As(err).Code())
	assert.Zero(t, f.entryCount(t))
}
