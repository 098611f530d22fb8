package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/punchamoorthee/tokenledger/internal/audit"
	"github.com/punchamoorthee/tokenledger/internal/detector"
	"github.com/punchamoorthee/tokenledger/internal/domain"
	"github.com/punchamoorthee/tokenledger/internal/review"
)

var transactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tokenledger_transactions_total",
	Help: "Ledger transactions processed, labeled by type and outcome",
}, []string{"type", "outcome"})

// BalanceStore performs the atomic read-modify-write of a user's balance.
type BalanceStore interface {
	ApplyDelta(ctx context.Context, userID int64, delta decimal.Decimal) (domain.BalanceChange, error)
}

type AuditLog interface {
	Record(ctx context.Context, rec audit.Record) audit.Result
}

type Detector interface {
	Evaluate(ctx context.Context, userID int64, txType domain.TransactionType, amount decimal.Decimal) detector.Verdict
}

type Reviewer interface {
	Submit(ctx context.Context, f review.Flag) error
}

// Request is one intended balance change. Amount follows the audit-log
// convention: a magnitude for every type except admin_adjustment.
type Request struct {
	UserID         int64
	Type           domain.TransactionType
	Amount         decimal.Decimal
	Metadata       map[string]any
	RequestContext *domain.RequestContext
}

type Result struct {
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	AuditEntryID  string
	// AuditWarning is set when the balance changed but no audit entry was written.
	AuditWarning error
	Verdict      detector.Verdict
}

// LedgerService applies a balance change, then records it, then checks it.
type LedgerService struct {
	balances BalanceStore
	audit    AuditLog
	detector Detector
	reviewer Reviewer
	log      logrus.FieldLogger
	tracer   trace.Tracer
	now      func() time.Time
}

type Option func(*LedgerService)

func WithDetector(d Detector) Option {
	return func(s *LedgerService) { s.detector = d }
}

func WithReviewer(r Reviewer) Option {
	return func(s *LedgerService) { s.reviewer = r }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *LedgerService) { s.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

func NewLedgerService(balances BalanceStore, auditLog AuditLog, log logrus.FieldLogger, opts ...Option) *LedgerService {
	s := &LedgerService{
		balances: balances,
		audit:    auditLog,
		log:      log,
		tracer:   otel.Tracer("github.com/punchamoorthee/tokenledger/internal/service"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs one transaction. Only precondition failures (invalid input,
// unknown account, insufficient balance) are returned as errors, and in those
// cases nothing was written. Audit, detector and review failures degrade to
// fields on the Result.
func (s *LedgerService) Execute(ctx context.Context, req Request) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Execute", trace.WithAttributes(
		attribute.Int64("ledger.user_id", req.UserID),
		attribute.String("ledger.transaction_type", string(req.Type)),
	))
	defer span.End()

	if err := req.Type.ValidateAmount(req.Amount); err != nil {
		transactionsTotal.WithLabelValues(string(req.Type), "invalid").Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	change, err := s.balances.ApplyDelta(ctx, req.UserID, req.Type.Signed(req.Amount))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		switch {
		case errors.Is(err, domain.ErrInsufficientBalance):
			transactionsTotal.WithLabelValues(string(req.Type), "insufficient").Inc()
			return nil, err
		case errors.Is(err, domain.ErrAccountNotFound):
			transactionsTotal.WithLabelValues(string(req.Type), "not_found").Inc()
			return nil, err
		case errors.Is(err, domain.ErrInvalidAmount):
			transactionsTotal.WithLabelValues(string(req.Type), "invalid").Inc()
			return nil, err
		}
		transactionsTotal.WithLabelValues(string(req.Type), "error").Inc()
		return nil, fmt.Errorf("apply balance change: %w", err)
	}

	span.SetAttributes(attribute.Int64("ledger.balance_version", change.Version))
	res := &Result{BalanceBefore: change.Before, BalanceAfter: change.After}

	rec := s.audit.Record(ctx, audit.Record{
		UserID:         req.UserID,
		Version:        change.Version,
		Type:           req.Type,
		Amount:         req.Amount,
		BalanceBefore:  change.Before,
		BalanceAfter:   change.After,
		Metadata:       req.Metadata,
		RequestContext: req.RequestContext,
	})
	res.AuditEntryID = rec.EntryID
	res.AuditWarning = rec.Warning
	if rec.Warning != nil {
		span.AddEvent("audit write skipped")
	}

	if s.detector != nil {
		res.Verdict = s.detector.Evaluate(ctx, req.UserID, req.Type, req.Amount)
		span.SetAttributes(attribute.Bool("ledger.suspicious", res.Verdict.Suspicious))
		if res.Verdict.Suspicious {
			s.submitForReview(ctx, req, res)
		}
	}

	transactionsTotal.WithLabelValues(string(req.Type), "ok").Inc()
	return res, nil
}

func (s *LedgerService) submitForReview(ctx context.Context, req Request, res *Result) {
	if s.reviewer == nil {
		return
	}
	err := s.reviewer.Submit(ctx, review.Flag{
		AuditEntryID:    res.AuditEntryID,
		UserID:          req.UserID,
		TransactionType: req.Type,
		Amount:          req.Amount.String(),
		BalanceAfter:    res.BalanceAfter.String(),
		Reason:          res.Verdict.Reason,
		FlaggedAt:       s.now().UTC(),
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"user_id":        req.UserID,
			"audit_entry_id": res.AuditEntryID,
		}).WithError(err).Warn("review submission failed")
	}
}
