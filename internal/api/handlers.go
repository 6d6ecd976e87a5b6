package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"foliocore/pkg/foliocore"
)

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Accounts.

func (h *handler) getAccounts(w http.ResponseWriter, r *http.Request) {
	result, err := h.core.GetAccounts(r.Context())
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var payload foliocore.Account
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := h.core.CreateAccount(r.Context(), payload)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (h *handler) updateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var patch foliocore.AccountPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := h.core.UpdateAccount(r.Context(), id, patch)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.core.DeleteAccount(r.Context(), id); err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Instruments.

func (h *handler) getInstruments(w http.ResponseWriter, r *http.Request) {
	result, err := h.core.GetInstruments(r.Context())
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) createInstrument(w http.ResponseWriter, r *http.Request) {
	var payload foliocore.Instrument
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	instrument, err := h.core.CreateInstrument(r.Context(), payload)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, instrument)
}

func (h *handler) updateInstrument(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var patch foliocore.InstrumentPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	instrument, err := h.core.UpdateInstrument(r.Context(), id, patch)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instrument)
}

func (h *handler) deleteInstrument(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.core.DeleteInstrument(r.Context(), id); err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Transactions.

func (h *handler) getTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := foliocore.TransactionFilter{
		AccountID:    parseInt64(query.Get("account_id")),
		InstrumentID: parseInt64(query.Get("instrument_id")),
		Type:         query.Get("type"),
		Currency:     query.Get("currency"),
		StartDate:    query.Get("start_date"),
		EndDate:      query.Get("end_date"),
		Limit:        parseIntDefault(query.Get("limit"), 100),
		Offset:       parseIntDefault(query.Get("offset"), 0),
	}
	result, err := h.core.GetTransactions(r.Context(), filter)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) createTransaction(w http.ResponseWriter, r *http.Request) {
	var payload foliocore.CreateTransactionRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tx, err := h.core.CreateTransaction(r.Context(), payload)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *handler) updateTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var patch foliocore.TransactionPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tx, err := h.core.UpdateTransaction(r.Context(), id, patch)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *handler) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.core.DeleteTransaction(r.Context(), id)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) reverseTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	tx, err := h.core.ReverseTransaction(r.Context(), id)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// importTransactionsCSV reads the request body as raw CSV text. The
// rollback_on_error query flag voids the whole batch when any row fails.
func (h *handler) importTransactionsCSV(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body: "+err.Error())
		return
	}
	rollbackOnError := parseBoolFlag(r.URL.Query().Get("rollback_on_error"))
	result, err := h.core.ImportCSV(r.Context(), string(body), rollbackOnError)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Portfolio views.

func (h *handler) getHoldings(w http.ResponseWriter, r *http.Request) {
	result, err := h.core.ListHoldings(r.Context())
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) getCashBalances(w http.ResponseWriter, r *http.Request) {
	result, err := h.core.GetCashBalances(r.Context())
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) getDrift(w http.ResponseWriter, r *http.Request) {
	result, err := h.core.ComputeDrift(r.Context())
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) getDashboardSummary(w http.ResponseWriter, r *http.Request) {
	result, err := h.core.GetDashboardSummary(r.Context())
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) getReturnsCurve(w http.ResponseWriter, r *http.Request) {
	days := parseIntDefault(r.URL.Query().Get("days"), 180)
	result, err := h.core.ReturnsCurve(r.Context(), days)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Quotes.

func (h *handler) refreshQuotes(w http.ResponseWriter, r *http.Request) {
	var payload refreshQuotesPayload
	if err := decodeJSON(r, &payload); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.core.RefreshQuotes(r.Context(), payload.InstrumentIDs)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) lookupSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol query parameter is required")
		return
	}
	result, err := h.core.LookupSymbol(r.Context(), symbol)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) getLatestPrice(w http.ResponseWriter, r *http.Request) {
	instrumentID := parseInt64(r.URL.Query().Get("instrument_id"))
	if instrumentID == 0 {
		writeError(w, http.StatusBadRequest, "instrument_id query parameter is required")
		return
	}
	result, err := h.core.GetLatestPrice(r.Context(), instrumentID)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) getQuotes(w http.ResponseWriter, r *http.Request) {
	instrumentID := parseInt64(r.URL.Query().Get("instrument_id"))
	if instrumentID == 0 {
		writeError(w, http.StatusBadRequest, "instrument_id query parameter is required")
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 100)
	result, err := h.core.GetQuotes(r.Context(), instrumentID, limit)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) getManualOverrides(w http.ResponseWriter, r *http.Request) {
	instrumentID := parseInt64(r.URL.Query().Get("instrument_id"))
	result, err := h.core.GetManualOverrides(r.Context(), instrumentID)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) createManualOverride(w http.ResponseWriter, r *http.Request) {
	var payload foliocore.ManualPriceOverride
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.core.CreateManualOverride(r.Context(), payload)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// FX rates.

func (h *handler) getFxRates(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 100)
	result, err := h.core.GetFxRates(r.Context(), limit)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) setFxRate(w http.ResponseWriter, r *http.Request) {
	var payload foliocore.FxRate
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rate, err := h.core.SetFxRate(r.Context(), payload)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rate)
}

func (h *handler) deleteFxRate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.core.DeleteFxRate(r.Context(), id); err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Audit.

func (h *handler) getAuditLogs(w http.ResponseWriter, r *http.Request) {
	entity := r.URL.Query().Get("entity")
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	result, err := h.core.GetAuditLogs(entity, limit, offset)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Helpers.

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+param)
		return 0, false
	}
	return id, true
}

func parseInt64(value string) int64 {
	if value == "" {
		return 0
	}
	i, _ := strconv.ParseInt(value, 10, 64)
	return i
}

func parseIntDefault(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return i
}

func parseBoolFlag(value string) bool {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false
	}
	return b
}
