package detector

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/tokenledger/internal/domain"
	"github.com/punchamoorthee/tokenledger/internal/store/memory"
)

var now = time.Date(2026, 5, 4, 15, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type brokenSource struct{}

func (brokenSource) ListSince(context.Context, int64, time.Time) ([]domain.AuditEntry, error) {
	return nil, errors.New("timeout")
}

func seed(t *testing.T, s *memory.Store, userID int64, typ domain.TransactionType, amount string, at time.Time) {
	t.Helper()
	require.NoError(t, s.InsertEntry(context.Background(), &domain.AuditEntry{
		ID:              at.String(),
		UserID:          userID,
		TransactionType: typ,
		Amount:          decimal.RequireFromString(amount),
		CreatedAt:       at,
	}))
}

func newDetector(t *testing.T, src Source) *Detector {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return New(src, logger, WithClock(clock))
}

func TestEvaluate_Velocity(t *testing.T) {
	s := memory.New()
	for i := range 11 {
		seed(t, s, 1, domain.TypeSpend, decimal.NewFromInt(int64(i+1)).String(), now.Add(-time.Duration(50-i)*time.Minute))
	}

	v := newDetector(t, s).Evaluate(context.Background(), 1, domain.TypeSpend, decimal.NewFromInt(99))
	assert.Equal(t, Verdict{Suspicious: true, Reason: ReasonVelocity}, v)
}

func TestEvaluate_VelocityBoundary(t *testing.T) {
	s := memory.New()
	for i := range 10 {
		seed(t, s, 1, domain.TypeSpend, decimal.NewFromInt(int64(i+1)).String(), now.Add(-time.Duration(i)*time.Minute))
	}
	// Outside the window.
	seed(t, s, 2, domain.TypeSpend, "1", now.Add(-2*time.Hour))

	v := newDetector(t, s).Evaluate(context.Background(), 1, domain.TypeSpend, decimal.NewFromInt(99))
	assert.False(t, v.Suspicious)
}

func TestEvaluate_IgnoresEntriesOlderThanWindow(t *testing.T) {
	s := memory.New()
	for i := range 11 {
		seed(t, s, 1, domain.TypeSpend, "5", now.Add(-61*time.Minute).Add(time.Duration(i)*time.Second))
	}
	v := newDetector(t, s).Evaluate(context.Background(), 1, domain.TypeSpend, decimal.NewFromInt(5))
	assert.False(t, v.Suspicious)
}

func TestEvaluate_Magnitude(t *testing.T) {
	d := newDetector(t, memory.New())
	ctx := context.Background()

	v := d.Evaluate(ctx, 1, domain.TypeConvert, decimal.NewFromInt(10001))
	assert.Equal(t, Verdict{Suspicious: true, Reason: ReasonMagnitude}, v)

	v = d.Evaluate(ctx, 1, domain.TypeConvert, decimal.NewFromInt(10000))
	assert.False(t, v.Suspicious)

	v = d.Evaluate(ctx, 1, domain.TypeConvert, decimal.RequireFromString("10000.0001"))
	assert.True(t, v.Suspicious)

	v = d.Evaluate(ctx, 1, domain.TypePurchase, decimal.NewFromInt(50000))
	assert.False(t, v.Suspicious, "magnitude rule only covers conversions")
}

func TestEvaluate_Repetition(t *testing.T) {
	s := memory.New()
	d := newDetector(t, s)
	ctx := context.Background()

	for i := range 3 {
		seed(t, s, 1, domain.TypePurchase, "50", now.Add(-time.Duration(10-i)*time.Minute))
		v := d.Evaluate(ctx, 1, domain.TypePurchase, decimal.NewFromInt(50))
		assert.False(t, v.Suspicious, "after %d identical entries", i+1)
	}

	seed(t, s, 1, domain.TypePurchase, "50.00", now.Add(-time.Minute))
	v := d.Evaluate(ctx, 1, domain.TypePurchase, decimal.NewFromInt(50))
	assert.Equal(t, Verdict{Suspicious: true, Reason: ReasonRepetition}, v)

	v = d.Evaluate(ctx, 1, domain.TypeSpend, decimal.NewFromInt(50))
	assert.False(t, v.Suspicious, "different type is not identical")
}

func TestEvaluate_PriorityVelocityBeforeMagnitude(t *testing.T) {
	s := memory.New()
	for i := range 11 {
		seed(t, s, 1, domain.TypeConvert, "20000", now.Add(-time.Duration(i)*time.Minute))
	}
	v := newDetector(t, s).Evaluate(context.Background(), 1, domain.TypeConvert, decimal.NewFromInt(20000))
	assert.Equal(t, ReasonVelocity, v.Reason)
}

func TestEvaluate_PriorityMagnitudeBeforeRepetition(t *testing.T) {
	s := memory.New()
	for i := range 5 {
		seed(t, s, 1, domain.TypeConvert, "20000", now.Add(-time.Duration(i)*time.Minute))
	}
	v := newDetector(t, s).Evaluate(context.Background(), 1, domain.TypeConvert, decimal.NewFromInt(20000))
	assert.Equal(t, ReasonMagnitude, v.Reason)
}

func TestEvaluate_FailsOpen(t *testing.T) {
	logger, hook := test.NewNullLogger()
	d := New(brokenSource{}, logger, WithClock(clock))

	v := d.Evaluate(context.Background(), 1, domain.TypeConvert, decimal.NewFromInt(1_000_000))
	assert.Equal(t, Verdict{}, v)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestEvaluateAny_NormalisesAmounts(t *testing.T) {
	s := memory.New()
	for i := range 4 {
		seed(t, s, 1, domain.TypePurchase, "50", now.Add(-time.Duration(i)*time.Minute))
	}
	d := newDetector(t, s)
	for _, amount := range []any{"50", "50.0", 50, int64(50), float64(50), decimal.NewFromInt(50)} {
		v := d.EvaluateAny(context.Background(), 1, domain.TypePurchase, amount)
		assert.True(t, v.Suspicious, "amount %#v", amount)
	}

	v := d.EvaluateAny(context.Background(), 1, domain.TypePurchase, "fifty")
	assert.False(t, v.Suspicious)

	for _, bad := range []float64{math.NaN(), math.Inf(1)} {
		assert.NotPanics(t, func() {
			assert.Equal(t, Verdict{}, d.EvaluateAny(context.Background(), 1, domain.TypeConvert, bad))
		})
	}
}

func TestEvaluate_CustomThresholds(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := memory.New()
	seed(t, s, 1, domain.TypeSpend, "1", now.Add(-time.Minute))
	seed(t, s, 1, domain.TypeSpend, "2", now.Add(-time.Minute))

	d := New(s, logger, WithClock(clock), WithThresholds(Thresholds{
		Window:          time.Hour,
		MaxTransactions: 1,
		MaxConversion:   decimal.NewFromInt(10000),
		MaxIdentical:    3,
	}))
	v := d.Evaluate(context.Background(), 1, domain.TypeSpend, decimal.NewFromInt(3))
	assert.Equal(t, ReasonVelocity, v.Reason)
}
