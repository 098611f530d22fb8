package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/tokenledger/internal/domain"
)

func TestStore_ApplyDelta(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.CreateAccount(ctx, 1, decimal.RequireFromString("10.50"))
	require.NoError(t, err)

	change, err := s.ApplyDelta(ctx, 1, decimal.RequireFromString("-0.50"))
	require.NoError(t, err)
	assert.Equal(t, "10.5", change.Before.String())
	assert.Equal(t, "10", change.After.String())
	assert.Equal(t, int64(1), change.Version)

	_, err = s.ApplyDelta(ctx, 1, decimal.RequireFromString("-10.01"))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	acc, err := s.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(decimal.NewFromInt(10)), "failed debit must not touch the balance")
	assert.Equal(t, int64(1), acc.Version, "failed debit must not bump the version")

	_, err = s.ApplyDelta(ctx, 2, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestStore_CreateAccountTwice(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.CreateAccount(ctx, 1, decimal.Zero)
	require.NoError(t, err)
	_, err = s.CreateAccount(ctx, 1, decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrAccountExists)
}

func TestStore_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.CreateAccount(ctx, 1, decimal.NewFromInt(100))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ApplyDelta(ctx, 1, decimal.NewFromInt(-7)); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	acc, err := s.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 14, succeeded)
	assert.Equal(t, "2", acc.Balance.String())
}

func TestStore_InsertEntryKeepsCreatedAtNonDecreasing(t *testing.T) {
	ctx := context.Background()
	s := New()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	first := &domain.AuditEntry{ID: "a", UserID: 1, CreatedAt: t0}
	second := &domain.AuditEntry{ID: "b", UserID: 1, CreatedAt: t0.Add(-time.Second)}
	require.NoError(t, s.InsertEntry(ctx, first))
	require.NoError(t, s.InsertEntry(ctx, second))

	assert.Equal(t, t0, second.CreatedAt)

	var ids []string
	require.NoError(t, s.StreamEntries(ctx, 1, 10, func(e domain.AuditEntry) bool {
		ids = append(ids, e.ID)
		return true
	}))
	assert.Equal(t, []string{"b", "a"}, ids)
}

func TestStore_ListSince(t *testing.T) {
	ctx := context.Background()
	s := New()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, offset := range []time.Duration{0, 30 * time.Minute, 61 * time.Minute} {
		e := &domain.AuditEntry{ID: string(rune('a' + i)), UserID: 1, CreatedAt: t0.Add(offset)}
		require.NoError(t, s.InsertEntry(ctx, e))
	}

	got, err := s.ListSince(ctx, 1, t0.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestStore_ApplyDeltaRejectsOverflow(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.CreateAccount(ctx, 1, decimal.RequireFromString("9999999999999999"))
	require.NoError(t, err)

	_, err = s.ApplyDelta(ctx, 1, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	acc, err := s.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "9999999999999999", acc.Balance.String())
}

func TestStore_StreamEntriesOrdersByVersion(t *testing.T) {
	ctx := context.Background()
	s := New()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for _, e := range []*domain.AuditEntry{
		{ID: "v1", UserID: 1, Version: 1, CreatedAt: t0},
		{ID: "v3", UserID: 1, Version: 3, CreatedAt: t0},
		{ID: "v2", UserID: 1, Version: 2, CreatedAt: t0},
	} {
		require.NoError(t, s.InsertEntry(ctx, e))
	}

	var ids []string
	require.NoError(t, s.StreamEntries(ctx, 1, 10, func(e domain.AuditEntry) bool {
		ids = append(ids, e.ID)
		return true
	}))
	assert.Equal(t, []string{"v3", "v2", "v1"}, ids)
}
