package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"foliocore/pkg/foliocore"
)

// NewRouter builds the HTTP API router.
func NewRouter(core *foliocore.Core, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLoggingMiddleware(logger))
	r.Use(recoveryLoggingMiddleware(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	h := &handler{core: core, logger: logger}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.health)

		r.Get("/accounts", h.getAccounts)
		r.Post("/accounts", h.createAccount)
		r.Patch("/accounts/{id}", h.updateAccount)
		r.Delete("/accounts/{id}", h.deleteAccount)

		r.Get("/instruments", h.getInstruments)
		r.Post("/instruments", h.createInstrument)
		r.Patch("/instruments/{id}", h.updateInstrument)
		r.Delete("/instruments/{id}", h.deleteInstrument)

		r.Get("/allocation/nodes", h.getNodes)
		r.Post("/allocation/nodes", h.createNode)
		r.Patch("/allocation/nodes/weights/batch", h.batchUpdateWeights)
		r.Patch("/allocation/nodes/{id}", h.updateNode)
		r.Delete("/allocation/nodes/{id}", h.deleteNode)

		r.Get("/allocation/tag-groups", h.getTagGroups)
		r.Post("/allocation/tag-groups", h.createTagGroup)
		r.Patch("/allocation/tag-groups/{id}", h.updateTagGroup)
		r.Delete("/allocation/tag-groups/{id}", h.deleteTagGroup)

		r.Get("/allocation/tags", h.getTags)
		r.Post("/allocation/tags", h.createTag)
		r.Patch("/allocation/tags/{id}", h.updateTag)
		r.Delete("/allocation/tags/{id}", h.deleteTag)

		r.Get("/allocation/instrument-tags", h.getInstrumentTags)
		r.Put("/allocation/instrument-tags", h.upsertInstrumentTag)
		r.Delete("/allocation/instrument-tags/{instrumentID}/{groupID}", h.deleteInstrumentTag)

		r.Get("/allocation/account-tags", h.getAccountTags)
		r.Put("/allocation/account-tags", h.upsertAccountTag)
		r.Delete("/allocation/account-tags/{accountID}/{groupID}", h.deleteAccountTag)

		r.Get("/transactions", h.getTransactions)
		r.Post("/transactions", h.createTransaction)
		r.Post("/transactions/import-csv", h.importTransactionsCSV)
		r.Post("/transactions/{id}/reverse", h.reverseTransaction)
		r.Patch("/transactions/{id}", h.updateTransaction)
		r.Delete("/transactions/{id}", h.deleteTransaction)

		r.Get("/holdings", h.getHoldings)
		r.Get("/cash-balances", h.getCashBalances)
		r.Get("/rebalance/drift", h.getDrift)
		r.Get("/dashboard/summary", h.getDashboardSummary)
		r.Get("/dashboard/returns-curve", h.getReturnsCurve)

		r.Post("/quotes/refresh", h.refreshQuotes)
		r.Get("/quotes/lookup", h.lookupSymbol)
		r.Get("/quotes/latest", h.getLatestPrice)
		r.Get("/quotes", h.getQuotes)
		r.Get("/quotes/manual-overrides", h.getManualOverrides)
		r.Post("/quotes/manual-overrides", h.createManualOverride)

		r.Get("/fx-rates", h.getFxRates)
		r.Put("/fx-rates", h.setFxRate)
		r.Delete("/fx-rates/{id}", h.deleteFxRate)

		r.Get("/audit-logs", h.getAuditLogs)
	})

	return r
}

type handler struct {
	core   *foliocore.Core
	logger *slog.Logger
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
