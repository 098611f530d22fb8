package detector

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/tokenledger/internal/domain"
)

const (
	ReasonVelocity   = "too many transactions"
	ReasonMagnitude  = "unusually large conversion"
	ReasonRepetition = "multiple identical transactions"
)

var (
	flagsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenledger_detector_flags_total",
		Help: "Transactions flagged as suspicious, labeled by reason",
	}, []string{"reason"})

	failuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenledger_detector_failures_total",
		Help: "Evaluations that failed open because the activity window could not be read",
	})
)

// Source yields a user's recent audit entries.
type Source interface {
	ListSince(ctx context.Context, userID int64, since time.Time) ([]domain.AuditEntry, error)
}

// Verdict is advisory; callers decide what to do with it.
type Verdict struct {
	Suspicious bool   `json:"suspicious"`
	Reason     string `json:"reason,omitempty"`
}

type Thresholds struct {
	Window          time.Duration
	MaxTransactions int
	MaxConversion   decimal.Decimal
	MaxIdentical    int
}

var DefaultThresholds = Thresholds{
	Window:          time.Hour,
	MaxTransactions: 10,
	MaxConversion:   decimal.NewFromInt(10000),
	MaxIdentical:    3,
}

// Detector scans a user's last hour of activity for suspicious patterns. It
// never writes anything.
type Detector struct {
	source     Source
	log        logrus.FieldLogger
	now        func() time.Time
	thresholds Thresholds
}

type Option func(*Detector)

func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

func WithThresholds(t Thresholds) Option {
	return func(d *Detector) { d.thresholds = t }
}

func New(source Source, log logrus.FieldLogger, opts ...Option) *Detector {
	d := &Detector{
		source:     source,
		log:        log,
		now:        time.Now,
		thresholds: DefaultThresholds,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Evaluate applies the velocity, magnitude and repetition rules in that order.
// If the window cannot be read the verdict is "not suspicious".
func (d *Detector) Evaluate(ctx context.Context, userID int64, txType domain.TransactionType, amount decimal.Decimal) Verdict {
	since := d.now().Add(-d.thresholds.Window)
	recent, err := d.source.ListSince(ctx, userID, since)
	if err != nil {
		failuresTotal.Inc()
		d.log.WithFields(logrus.Fields{
			"user_id":          userID,
			"transaction_type": txType,
		}).WithError(err).Warn("suspicious-activity check skipped")
		return Verdict{}
	}

	v := evaluate(recent, since, txType, amount, d.thresholds)
	if v.Suspicious {
		flagsTotal.WithLabelValues(v.Reason).Inc()
		d.log.WithFields(logrus.Fields{
			"user_id":          userID,
			"transaction_type": txType,
			"amount":           amount.String(),
			"reason":           v.Reason,
		}).Warn("suspicious activity")
	}
	return v
}

// EvaluateAny is Evaluate for amounts that have not been normalised yet.
func (d *Detector) EvaluateAny(ctx context.Context, userID int64, txType domain.TransactionType, amount any) Verdict {
	a, err := domain.ParseAmount(amount)
	if err != nil {
		failuresTotal.Inc()
		d.log.WithField("user_id", userID).WithError(err).Warn("suspicious-activity check skipped")
		return Verdict{}
	}
	return d.Evaluate(ctx, userID, txType, a)
}

func evaluate(recent []domain.AuditEntry, since time.Time, txType domain.TransactionType, amount decimal.Decimal, th Thresholds) Verdict {
	inWindow := 0
	identical := 0
	for _, e := range recent {
		if e.CreatedAt.Before(since) {
			continue
		}
		inWindow++
		if e.TransactionType == txType && e.Amount.Equal(amount) {
			identical++
		}
	}

	switch {
	case inWindow > th.MaxTransactions:
		return Verdict{Suspicious: true, Reason: ReasonVelocity}
	case txType == domain.TypeConvert && amount.Abs().GreaterThan(th.MaxConversion):
		return Verdict{Suspicious: true, Reason: ReasonMagnitude}
	case identical > th.MaxIdentical:
		return Verdict{Suspicious: true, Reason: ReasonRepetition}
	}
	return Verdict{}
}
