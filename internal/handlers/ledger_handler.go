package handlers

import (
	"net/http"
	"strconv"

	"github.com/galleryhq/marketplace/internal/services"
	"go.uber.org/zap"
)

type LedgerHandler struct {
	service *services.LedgerService
	log     *zap.Logger
}

func NewLedgerHandler(service *services.LedgerService, log *zap.Logger) *LedgerHandler {
	return &LedgerHandler{service: service, log: log}
}

// Withdraw pays out the caller's withdrawable balance
// @Summary Withdraw
// @Tags Ledger
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{account=string,amount=int}
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /withdrawals [post]
func (h *LedgerHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	amount, err := h.service.Withdraw(r.Context(), caller)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"account": caller, "amount": amount})
}

// GetBalance returns an account's withdrawable balance
// @Summary Balance
// @Tags Ledger
// @Produce json
// @Param account path string true "Account address"
// @Success 200 {object} object{account=string,balance=int}
// @Router /balances/{account} [get]
func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	balance, err := h.service.Balance(r.Context(), account)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"account": account, "balance": balance})
}

// GetEntries returns the newest ledger entries of an account
// @Summary Ledger entries
// @Tags Ledger
// @Produce json
// @Param account path string true "Account address"
// @Param limit query int false "Maximum entries (default 50, max 500)"
// @Success 200 {array} models.LedgerEntry
// @Router /balances/{account}/entries [get]
func (h *LedgerHandler) GetEntries(w http.ResponseWriter, r *http.Request) {
	account, ok := addressParam(w, r, "account")
	if !ok {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			SendErrorResponse(w, "limit must be between 1 and 500", "INVALID_REQUEST", http.StatusBadRequest, nil)
			return
		}
		limit = n
	}

	entries, err := h.service.Entries(r.Context(), account, limit)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	sendJSON(w, http.StatusOK, entries)
}
