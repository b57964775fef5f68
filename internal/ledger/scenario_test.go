package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
)

// Two members compete for a title with two copies while a third is refused,
// then everything comes back, one of it late.
func TestLendingScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	title, _ := f.titleWithCopies(t, 2)
	alice, bob, carol := f.member(t), f.member(t), f.member(t)

	aliceEntry := f.request(t, alice, title.ID)
	bobEntry := f.request(t, bob, title.ID)
	carolEntry := f.request(t, carol, title.ID)

	f.approve(t, aliceEntry.ID)
	f.approve(t, bobEntry.ID)
	f.assertInvariants(t, title.ID)

	_, err := f.svc.ApproveBorrow(ctx, DecisionInput{EntryID: carolEntry.ID, Actor: f.librarian})
	require.True(t, pkgerrors.IsNoStock(err))
	_, err = f.svc.RejectBorrow(ctx, DecisionInput{EntryID: carolEntry.ID, Actor: f.librarian})
	require.NoError(t, err)

	_, err = f.svc.RequestBorrow(ctx, RequestBorrowInput{Borrower: asMember(f.member(t)), TitleID: title.ID})
	require.True(t, pkgerrors.IsNoStock(err), "no copies left to request")

	_, err = f.svc.Renew(ctx, RenewInput{EntryID: aliceEntry.ID, Borrower: asMember(alice)})
	require.NoError(t, err)

	f.clock.Advance(loanPeriod + 24*time.Hour + time.Hour)
	aliceReturn, err := f.svc.ReturnEntry(ctx, DecisionInput{EntryID: aliceEntry.ID, Actor: f.librarian})
	require.NoError(t, err)
	assert.Nil(t, aliceReturn.Fine, "renewed loan is not late yet")

	bobReturn, err := f.svc.ReturnEntry(ctx, DecisionInput{EntryID: bobEntry.ID, Actor: f.librarian})
	require.NoError(t, err)
	require.NotNil(t, bobReturn.Fine)
	assert.Equal(t, "5.00", bobReturn.Fine.Amount.StringFixed(2))

	f.assertInvariants(t, title.ID)
	avail, err := f.copies.AvailableCount(ctx, title.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, avail)

	assert.Equal(t, enums.LedgerStatusReturned, f.reload(t, aliceEntry.ID).Status)
	assert.Equal(t, enums.LedgerStatusReturned, f.reload(t, bobEntry.ID).Status)
	assert.Equal(t, enums.LedgerStatusRejected, f.reload(t, carolEntry.ID).Status)

	carolAgain := f.request(t, carol, title.ID)
	assert.Equal(t, enums.LedgerStatusPending, carolAgain.Status)
}
