package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/internal/copies"
	"github.com/angelmondragon/circulation-backend/internal/fines"
	"github.com/angelmondragon/circulation-backend/pkg/auth"
	"github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/db/dbtest"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/metrics"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
)

var loanPeriod = 7 * 24 * time.Hour

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	conn      *gorm.DB
	svc       Service
	clock     *testClock
	reg       *prometheus.Registry
	librarian auth.Actor
	copies    copies.Repository
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithTx(t, nil)
}

// newFixtureWithTx builds the service over sqlite. wrapTx may decorate the
// transaction runner.
func newFixtureWithTx(t *testing.T, wrapTx func(txRunner) txRunner) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	clock := &testClock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	reg := prometheus.NewRegistry()

	var tx txRunner = db.Wrap(conn)
	if wrapTx != nil {
		tx = wrapTx(tx)
	}

	copyRepo := copies.NewRepository(conn)
	svc, err := NewService(ServiceParams{
		Repository: NewRepository(conn),
		Copies:     copyRepo,
		Fines:      fines.NewRepository(conn),
		Calculator: fines.NewCalculator(decimal.RequireFromString("5.00")),
		Tx:         tx,
		Outbox:     outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		Logger:     logger.Nop(),
		Metrics:    metrics.NewLendingMetrics(reg),
		LoanPeriod: loanPeriod,
		MaxRetries: 3,
		Now:        clock.Now,
	})
	require.NoError(t, err)

	lib := dbtest.User(t, conn, enums.UserRoleLibrarian)
	return &fixture{
		conn:      conn,
		svc:       svc,
		clock:     clock,
		reg:       reg,
		librarian: auth.Actor{UserID: lib.ID, Role: enums.UserRoleLibrarian},
		copies:    copyRepo,
	}
}

func (f *fixture) member(t *testing.T) uuid.UUID {
	t.Helper()
	return dbtest.User(t, f.conn, enums.UserRoleMember).ID
}

func asMember(id uuid.UUID) auth.Actor {
	return auth.Actor{UserID: id, Role: enums.UserRoleMember}
}

func (f *fixture) titleWithCopies(t *testing.T, n int) (*models.Title, []models.Copy) {
	t.Helper()
	title := dbtest.Title(t, f.conn)
	return title, dbtest.Copies(t, f.conn, title.ID, n, enums.CopyStatusAvailable)
}

func (f *fixture) request(t *testing.T, borrowerID, titleID uuid.UUID) *models.LedgerEntry {
	t.Helper()
	entry, err := f.svc.RequestBorrow(context.Background(), RequestBorrowInput{Borrower: asMember(borrowerID), TitleID: titleID})
	require.NoError(t, err)
	return entry
}

func (f *fixture) approve(t *testing.T, entryID uuid.UUID) *models.LedgerEntry {
	t.Helper()
	entry, err := f.svc.ApproveBorrow(context.Background(), DecisionInput{EntryID: entryID, Actor: f.librarian})
	require.NoError(t, err)
	return entry
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) models.LedgerEntry {
	t.Helper()
	var entry models.LedgerEntry
	require.NoError(t, f.conn.First(&entry, "id = ?", id).Error)
	return entry
}

func (f *fixture) copyStatus(t *testing.T, id uuid.UUID) enums.CopyStatus {
	t.Helper()
	var c models.Copy
	require.NoError(t, f.conn.First(&c, "id = ?", id).Error)
	return c.Status
}

func (f *fixture) entryCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.Model(&models.LedgerEntry{}).Count(&n).Error)
	return n
}

func (f *fixture) fineCount(t *testing.T, entryID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.Model(&models.Fine{}).Where("ledger_entry_id = ?", entryID).Count(&n).Error)
	return n
}

// assertInvariants checks the two inventory rules for every copy of the title:
// the available count matches the Available copies, and a copy is Borrowed
// exactly when one Active entry points at it.
func (f *fixture) assertInvariants(t *testing.T, titleID uuid.UUID) {
	t.Helper()
	var all []models.Copy
	require.NoError(t, f.conn.Where("title_id = ?", titleID).Find(&all).Error)

	var availableRows int64
	for _, c := range all {
		if c.Status == enums.CopyStatusAvailable {
			availableRows++
		}
		var active int64
		require.NoError(t, f.conn.Model(&models.LedgerEntry{}).
			Where("copy_id = ? AND status = ?", c.ID, enums.LedgerStatusActive).
			Count(&active).Error)
		if c.Status == enums.CopyStatusBorrowed {
			require.EqualValuesf(t, 1, active, "borrowed copy %s must back exactly one active entry", c.ID)
		} else {
			require.EqualValuesf(t, 0, active, "copy %s in %s must not back an active entry", c.ID, c.Status)
		}
	}

	count, err := f.copies.AvailableCount(context.Background(), titleID)
	require.NoError(t, err)
	require.Equal(t, availableRows, count)
}

func (f *fixture) counter(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := f.reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := 0
			for _, pair := range m.GetLabel() {
				if v, ok := labels[pair.GetName()]; ok && v == pair.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
