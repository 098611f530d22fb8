package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/tokenledger/internal/domain"
)

var (
	entriesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenledger_audit_entries_total",
		Help: "Audit entries written, labeled by transaction type",
	}, []string{"type"})

	writeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenledger_audit_write_failures_total",
		Help: "Audit entries that could not be written, labeled by transaction type",
	}, []string{"type"})
)

// ErrInconsistentEntry is reported when before/after snapshots disagree with the amount.
var ErrInconsistentEntry = errors.New("audit entry balance snapshot is inconsistent")

// Store is the append-only persistence behind the audit log.
type Store interface {
	// InsertEntry appends e. The store may move CreatedAt forward to keep it
	// non-decreasing per user and writes the final value back into e.
	InsertEntry(ctx context.Context, e *domain.AuditEntry) error
	// StreamEntries calls fn for at most limit entries of userID, highest
	// Version first, stopping early when fn returns false.
	StreamEntries(ctx context.Context, userID int64, limit int, fn func(domain.AuditEntry) bool) error
}

// Observer is notified after an entry is durably written.
type Observer interface {
	Observe(ctx context.Context, e domain.AuditEntry) error
}

// Record is the input of one audit write. Version is the account version
// the balance store assigned to the change.
type Record struct {
	UserID         int64
	Version        int64
	Type           domain.TransactionType
	Amount         decimal.Decimal
	BalanceBefore  decimal.Decimal
	BalanceAfter   decimal.Decimal
	Metadata       map[string]any
	RequestContext *domain.RequestContext
}

// Result reports the outcome of a best-effort audit write. A non-nil Warning
// means no entry was written; the caller's balance change still stands.
type Result struct {
	EntryID string
	Entry   *domain.AuditEntry
	Warning error
}

func (r Result) OK() bool { return r.Warning == nil }

// Logger writes and reads the audit trail.
type Logger struct {
	store     Store
	log       logrus.FieldLogger
	now       func() time.Time
	newID     func() string
	observers []Observer
}

type Option func(*Logger)

func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(l *Logger) { l.newID = fn }
}

func WithObserver(o Observer) Option {
	return func(l *Logger) {
		if o != nil {
			l.observers = append(l.observers, o)
		}
	}
}

func NewLogger(store Store, log logrus.FieldLogger, opts ...Option) *Logger {
	l := &Logger{
		store: store,
		log:   log,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends one audit entry. Failures never propagate as errors; they are
// logged, counted and returned as Result.Warning.
func (l *Logger) Record(ctx context.Context, rec Record) Result {
	fields := logrus.Fields{
		"user_id":          rec.UserID,
		"transaction_type": rec.Type,
		"amount":           rec.Amount.String(),
	}

	expected := rec.BalanceBefore.Add(rec.Type.Signed(rec.Amount))
	if !expected.Equal(rec.BalanceAfter) {
		writeFailures.WithLabelValues(string(rec.Type)).Inc()
		l.log.WithFields(fields).WithFields(logrus.Fields{
			"balance_before": rec.BalanceBefore.String(),
			"balance_after":  rec.BalanceAfter.String(),
		}).Error("audit entry rejected: snapshot does not match amount")
		return Result{Warning: ErrInconsistentEntry}
	}

	entry := &domain.AuditEntry{
		ID:              l.newID(),
		UserID:          rec.UserID,
		Version:         rec.Version,
		TransactionType: rec.Type,
		Amount:          rec.Amount,
		BalanceBefore:   rec.BalanceBefore,
		BalanceAfter:    rec.BalanceAfter,
		Metadata:        rec.Metadata,
		CreatedAt:       l.now().UTC().Truncate(time.Microsecond),
	}
	if rc := rec.RequestContext; rc != nil {
		entry.IPAddress = rc.IPAddress
		entry.UserAgent = rc.UserAgent
	}

	if err := l.store.InsertEntry(ctx, entry); err != nil {
		writeFailures.WithLabelValues(string(rec.Type)).Inc()
		l.log.WithFields(fields).WithError(err).Error("audit write failed; balance change kept")
		return Result{Warning: fmt.Errorf("audit write: %w", err)}
	}
	entriesWritten.WithLabelValues(string(rec.Type)).Inc()

	for _, o := range l.observers {
		if err := o.Observe(ctx, *entry); err != nil {
			l.log.WithFields(fields).WithError(err).Warn("audit observer failed")
		}
	}

	return Result{EntryID: entry.ID, Entry: entry}
}
