package api

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/tokenledger/internal/audit"
	"github.com/punchamoorthee/tokenledger/internal/detector"
	"github.com/punchamoorthee/tokenledger/internal/domain"
	"github.com/punchamoorthee/tokenledger/internal/models"
	"github.com/punchamoorthee/tokenledger/internal/service"
)

const maxBodyBytes = 1 << 20

type Ledger interface {
	Execute(ctx context.Context, req service.Request) (*service.Result, error)
}

type Accounts interface {
	CreateAccount(ctx context.Context, userID int64, initial decimal.Decimal) (*domain.Account, error)
	GetAccount(ctx context.Context, userID int64) (*domain.Account, error)
}

type HistoryReader interface {
	History(ctx context.Context, userID int64, limit int) iter.Seq2[domain.AuditEntry, error]
}

type Evaluator interface {
	EvaluateAny(ctx context.Context, userID int64, txType domain.TransactionType, amount any) detector.Verdict
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	ledger    Ledger
	accounts  Accounts
	history   HistoryReader
	evaluator Evaluator
	pinger    Pinger
	log       logrus.FieldLogger
}

type HandlerOption func(*Handler)

func WithEvaluator(e Evaluator) HandlerOption {
	return func(h *Handler) { h.evaluator = e }
}

func WithPinger(p Pinger) HandlerOption {
	return func(h *Handler) { h.pinger = p }
}

func NewHandler(ledger Ledger, accounts Accounts, history HistoryReader, log logrus.FieldLogger, opts ...HandlerOption) *Handler {
	h := &Handler{ledger: ledger, accounts: accounts, history: history, log: log}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			h.log.WithError(err).Warn("health check failed")
			respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateAccountHandler opens a zero-balance account for the caller. Repeating
// the call returns the existing account with 200 instead of 201.
func (h *Handler) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID := ClaimsFromContext(r.Context()).UserID

	acc, err := h.accounts.CreateAccount(r.Context(), userID, decimal.Zero)
	if errors.Is(err, domain.ErrAccountExists) {
		acc, err = h.accounts.GetAccount(r.Context(), userID)
		if err != nil {
			h.respondWithDomainError(w, err)
			return
		}
		respondWithJSON(w, http.StatusOK, acc)
		return
	}
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, acc)
}

func (h *Handler) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID := ClaimsFromContext(r.Context()).UserID

	acc, err := h.accounts.GetAccount(r.Context(), userID)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.BalanceResponse{UserID: acc.UserID, Balance: acc.Balance})
}

func (h *Handler) ConvertHandler(w http.ResponseWriter, r *http.Request) {
	h.userTransaction(w, r, domain.TypeConvert)
}

func (h *Handler) SpendHandler(w http.ResponseWriter, r *http.Request) {
	h.userTransaction(w, r, domain.TypeSpend)
}

func (h *Handler) userTransaction(w http.ResponseWriter, r *http.Request, typ domain.TransactionType) {
	var req models.TransactionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.execute(w, r, ClaimsFromContext(r.Context()).UserID, typ, req.Amount, req.Metadata)
}

func (h *Handler) PurchaseHandler(w http.ResponseWriter, r *http.Request) {
	var req models.PurchaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		respondWithError(w, http.StatusBadRequest, "product_id is required")
		return
	}
	meta := req.Metadata
	if meta == nil {
		meta = make(map[string]any, 1)
	}
	meta["product_id"] = req.ProductID
	h.execute(w, r, ClaimsFromContext(r.Context()).UserID, domain.TypePurchase, req.Amount, meta)
}

func (h *Handler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	h.listTransactions(w, r, ClaimsFromContext(r.Context()).UserID)
}

func (h *Handler) AdminListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	h.listTransactions(w, r, userID)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request, userID int64) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	limit = audit.ClampLimit(limit)

	entries, err := audit.Collect(h.history.History(r.Context(), userID, limit))
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	respondWithJSON(w, http.StatusOK, models.HistoryResponse{UserID: userID, Limit: limit, Entries: entries})
}

// AdminAdjustmentHandler applies a signed correction. The reason and the
// acting admin are kept in the audit metadata.
func (h *Handler) AdminAdjustmentHandler(w http.ResponseWriter, r *http.Request) {
	h.adminTransaction(w, r, domain.TypeAdminAdjustment, true)
}

func (h *Handler) AdminPayoutHandler(w http.ResponseWriter, r *http.Request) {
	h.adminTransaction(w, r, domain.TypePayout, false)
}

func (h *Handler) adminTransaction(w http.ResponseWriter, r *http.Request, typ domain.TransactionType, reasonRequired bool) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	var req models.AdminRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if reasonRequired && req.Reason == "" {
		respondWithError(w, http.StatusBadRequest, "reason is required")
		return
	}
	meta := map[string]any{"admin_id": ClaimsFromContext(r.Context()).UserID}
	if req.Reason != "" {
		meta["reason"] = req.Reason
	}
	h.execute(w, r, userID, typ, req.Amount, meta)
}

// EvaluateHandler returns the detector's verdict for a hypothetical transaction.
func (h *Handler) EvaluateHandler(w http.ResponseWriter, r *http.Request) {
	if h.evaluator == nil {
		respondWithError(w, http.StatusServiceUnavailable, "suspicious-activity detection is disabled")
		return
	}
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	var req models.EvaluateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	typ, err := domain.ParseTransactionType(req.TransactionType)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := domain.ParseAmount(req.Amount); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	v := h.evaluator.EvaluateAny(r.Context(), userID, typ, req.Amount)
	respondWithJSON(w, http.StatusOK, models.VerdictResponse{UserID: userID, Suspicious: v.Suspicious, Reason: v.Reason})
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request, userID int64, typ domain.TransactionType, amount decimal.Decimal, meta map[string]any) {
	res, err := h.ledger.Execute(r.Context(), service.Request{
		UserID:         userID,
		Type:           typ,
		Amount:         amount,
		Metadata:       meta,
		RequestContext: RequestContextFrom(r.Context()),
	})
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}

	resp := models.TransactionResponse{
		UserID:          userID,
		TransactionType: typ,
		Amount:          amount,
		BalanceBefore:   res.BalanceBefore,
		BalanceAfter:    res.BalanceAfter,
		AuditEntryID:    res.AuditEntryID,
		Flagged:         res.Verdict.Suspicious,
		FlagReason:      res.Verdict.Reason,
	}
	if res.AuditWarning != nil {
		resp.AuditWarning = "audit entry not recorded"
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) respondWithDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		respondWithError(w, http.StatusUnprocessableEntity, "Insufficient balance")
	case errors.Is(err, domain.ErrAccountNotFound):
		respondWithError(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidTransactionType):
		respondWithError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.WithError(err).Error("request failed")
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func pathUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return false
	}
	return true
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, models.ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}
