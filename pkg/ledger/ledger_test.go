package ledger_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/synod-run/synod/pkg/ledger"
	"github.com/synod-run/synod/pkg/models"
	"github.com/synod-run/synod/test/dbtest"
)

func newLedger(t *testing.T) *ledger.Ledger {
	db := dbtest.Setup(t)
	return ledger.New(db)
}

func TestEnsurePrincipalIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	id := uuid.New()

	p1, err := l.EnsurePrincipal(ctx, id, models.PrincipalStandard, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, p1.Credits)

	p2, err := l.EnsurePrincipal(ctx, id, models.PrincipalStandard, 999)
	require.NoError(t, err)
	assert.Equal(t, 5, p2.Credits, "existing balance must not be reset on re-ensure")
}

func TestReserveDeductsAndRejectsOverdraw(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	id := uuid.New()
	_, err := l.EnsurePrincipal(ctx, id, models.PrincipalStandard, 3)
	require.NoError(t, err)

	remaining, err := l.Reserve(ctx, id, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	_, err = l.Reserve(ctx, id, 1)
	require.Error(t, err)
	var insufficient *ledger.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 1, insufficient.Required)
	assert.Equal(t, 0, insufficient.Available)
}

func TestRefundRestoresBalance(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	id := uuid.New()
	_, err := l.EnsurePrincipal(ctx, id, models.PrincipalStandard, 6)
	require.NoError(t, err)

	_, err = l.Reserve(ctx, id, 6)
	require.NoError(t, err)

	remaining, err := l.Refund(ctx, id, 6)
	require.NoError(t, err)
	assert.Equal(t, 6, remaining)
}

func TestUnlimitedPrincipalBypassesBalanceCheck(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	id := uuid.New()
	_, err := l.EnsurePrincipal(ctx, id, models.PrincipalUnlimited, 0)
	require.NoError(t, err)

	remaining, err := l.Reserve(ctx, id, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining, "unlimited principals never have their stored balance touched")

	remaining, err = l.Refund(ctx, id, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining, "refund is a no-op for unlimited principals too")

	balance, err := l.Balance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
}

// TestConcurrentReservesNeverOverdraw exercises I3 directly: N concurrent
// reserves against a balance that can only satisfy one of them must leave
// exactly one winner and a balance that never goes negative for a standard
// principal.
func TestConcurrentReservesNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	id := uuid.New()
	_, err := l.EnsurePrincipal(ctx, id, models.PrincipalStandard, 1)
	require.NoError(t, err)

	var g errgroup.Group
	successes := make(chan int, 5)
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			if _, err := l.Reserve(ctx, id, 1); err == nil {
				successes <- 1
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(successes)

	count := 0
	for range successes {
		count++
	}
	assert.Equal(t, 1, count, "exactly one reserve should succeed against a balance of 1")

	balance, err := l.Balance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
}
