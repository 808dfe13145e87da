package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-marketplace/internal/domain"
)

func TestPointLedgerHoldReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	l := NewPointLedger()
	require.NoError(t, l.Deposit(ctx, "u1", 1000))

	_, err := l.Hold(ctx, "u1", "a1", 300)
	require.NoError(t, err)
	_, err = l.Hold(ctx, "u1", "a1", 500)
	require.NoError(t, err)

	b, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), b.Available)
	assert.Equal(t, int64(500), b.Held)

	amount, ok := l.ActiveHold("u1", "a1")
	assert.True(t, ok)
	assert.Equal(t, int64(500), amount)
}

func TestPointLedgerHoldInsufficient(t *testing.T) {
	ctx := context.Background()
	l := NewPointLedger()
	require.NoError(t, l.Deposit(ctx, "u1", 100))

	_, err := l.Hold(ctx, "u1", "a1", 101)
	assert.ErrorIs(t, err, domain.ErrInsufficientPoints)

	b, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.Available)
	assert.Zero(t, b.Held)
}

func TestPointLedgerReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewPointLedger()
	require.NoError(t, l.Deposit(ctx, "u1", 100))
	_, err := l.Hold(ctx, "u1", "a1", 60)
	require.NoError(t, err)

	require.NoError(t, l.Release(ctx, "u1", "a1"))
	require.NoError(t, l.Release(ctx, "u1", "a1"))

	b, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.Available)
	assert.Zero(t, b.Held)
	_, ok := l.ActiveHold("u1", "a1")
	assert.False(t, ok)
}

func TestPointLedgerFinalize(t *testing.T) {
	ctx := context.Background()
	l := NewPointLedger()
	require.NoError(t, l.Deposit(ctx, "winner", 1000))
	require.NoError(t, l.Deposit(ctx, "loser", 1000))
	_, err := l.Hold(ctx, "winner", "a1", 400)
	require.NoError(t, err)
	_, err = l.Hold(ctx, "loser", "a1", 300)
	require.NoError(t, err)

	res, err := l.Finalize(ctx, "a1", "winner")
	require.NoError(t, err)
	assert.Equal(t, int64(400), res.UsedAmount)
	assert.Equal(t, 1, res.Released)

	w, _ := l.Balance(ctx, "winner")
	assert.Equal(t, domain.PointBalance{UserID: "winner", Available: 600, Used: 400}, *w)
	lo, _ := l.Balance(ctx, "loser")
	assert.Equal(t, domain.PointBalance{UserID: "loser", Available: 1000}, *lo)

	again, err := l.Finalize(ctx, "a1", "winner")
	require.NoError(t, err)
	assert.Zero(t, again.UsedAmount)
}

func TestPointLedgerDepositRejectsNonPositive(t *testing.T) {
	assert.Error(t, NewPointLedger().Deposit(context.Background(), "u1", 0))
}
