package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func NewRouter(h *Handler, tokens *TokenIssuer, log logrus.FieldLogger) *mux.Router {
	r := mux.NewRouter()
	r.Use(AccessLog(log))
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(Instrument, ClientMetadata, Authenticate(tokens))

	v1.HandleFunc("/accounts", h.CreateAccountHandler).Methods(http.MethodPost)
	v1.HandleFunc("/balance", h.GetBalanceHandler).Methods(http.MethodGet)
	v1.HandleFunc("/transactions", h.ListTransactionsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/transactions/convert", h.ConvertHandler).Methods(http.MethodPost)
	v1.HandleFunc("/transactions/spend", h.SpendHandler).Methods(http.MethodPost)
	v1.HandleFunc("/transactions/purchase", h.PurchaseHandler).Methods(http.MethodPost)

	admin := v1.PathPrefix("/admin/users/{id:[0-9]+}").Subrouter()
	admin.Use(RequireAdmin)
	admin.HandleFunc("/adjustments", h.AdminAdjustmentHandler).Methods(http.MethodPost)
	admin.HandleFunc("/payouts", h.AdminPayoutHandler).Methods(http.MethodPost)
	admin.HandleFunc("/transactions", h.AdminListTransactionsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/evaluate", h.EvaluateHandler).Methods(http.MethodPost)

	return r
}
