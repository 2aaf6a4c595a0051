/**
 * @description
 * This file contains the HTTP handlers for the wallet service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/qraft-Inc/coffeetrace-sub001/internal/app"
	"github.com/qraft-Inc/coffeetrace-sub001/internal/domain"
	"github.com/qraft-Inc/coffeetrace-sub001/internal/store"
)

// WalletHandlers holds the application service that handlers will use.
type WalletHandlers struct {
	service *app.Service
}

// NewWalletHandlers creates a new set of API handlers.
func NewWalletHandlers(service *app.Service) *WalletHandlers {
	return &WalletHandlers{service: service}
}

// CreditHandler applies a credit-eligible event to a farmer's wallet. It is
// called by other platform services over the internal API.
func (h *WalletHandlers) CreditHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tx, err := h.service.Credit(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidAmount), errors.Is(err, app.ErrMissingReference):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("level=error component=api handler=credit farmer_id=%s err=%v", req.FarmerID, err)
			h.writeError(w, http.StatusInternalServerError, "failed to credit wallet")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, tx)
}

// GetBalanceHandler returns the balance snapshot for a farmer's wallet.
func (h *WalletHandlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	farmerID, ok := h.parseUUIDParam(w, r, "farmerID")
	if !ok {
		return
	}

	balance, err := h.service.GetBalance(r.Context(), farmerID)
	if err != nil {
		h.handleLookupError(w, err, "balance", farmerID.String())
		return
	}
	h.writeJSON(w, http.StatusOK, balance)
}

// ListTransactionsHandler returns a page of a farmer's ledger history.
func (h *WalletHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	farmerID, ok := h.parseUUIDParam(w, r, "farmerID")
	if !ok {
		return
	}

	opts := domain.TransactionListOptions{
		Type:   strings.TrimSpace(r.URL.Query().Get("type")),
		Limit:  parseIntQuery(r, "limit"),
		Offset: parseIntQuery(r, "offset"),
	}
	if opts.Type != "" && opts.Type != domain.TransactionTypeCredit && opts.Type != domain.TransactionTypeDebit {
		h.writeError(w, http.StatusBadRequest, "type must be 'credit' or 'debit'")
		return
	}

	txs, err := h.service.ListTransactions(r.Context(), farmerID, opts)
	if err != nil {
		h.handleLookupError(w, err, "transactions", farmerID.String())
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, txs)
}

// ListPayoutsHandler returns a page of a farmer's payout history.
func (h *WalletHandlers) ListPayoutsHandler(w http.ResponseWriter, r *http.Request) {
	farmerID, ok := h.parseUUIDParam(w, r, "farmerID")
	if !ok {
		return
	}

	opts := domain.PayoutListOptions{
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
		Limit:  parseIntQuery(r, "limit"),
		Offset: parseIntQuery(r, "offset"),
	}

	payouts, err := h.service.ListPayouts(r.Context(), farmerID, opts)
	if err != nil {
		h.handleLookupError(w, err, "payouts", farmerID.String())
		return
	}
	if payouts == nil {
		payouts = []domain.Payout{}
	}
	h.writeJSON(w, http.StatusOK, payouts)
}

// SetDestinationHandler registers or replaces the farmer's mobile-money
// destination.
func (h *WalletHandlers) SetDestinationHandler(w http.ResponseWriter, r *http.Request) {
	farmerID, ok := h.parseUUIDParam(w, r, "farmerID")
	if !ok {
		return
	}

	var dest domain.Destination
	if err := json.NewDecoder(r.Body).Decode(&dest); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.service.SetDestination(r.Context(), farmerID, dest); err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidDestination):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrWalletNotFound):
			h.writeError(w, http.StatusNotFound, "wallet not found")
		default:
			log.Printf("level=error component=api handler=set_destination farmer_id=%s err=%v", farmerID, err)
			h.writeError(w, http.StatusInternalServerError, "failed to set destination")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetDestinationHandler returns the farmer's registered destination.
func (h *WalletHandlers) GetDestinationHandler(w http.ResponseWriter, r *http.Request) {
	farmerID, ok := h.parseUUIDParam(w, r, "farmerID")
	if !ok {
		return
	}

	dest, err := h.service.GetDestination(r.Context(), farmerID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrWalletNotFound), errors.Is(err, store.ErrDestinationNotFound):
			h.writeError(w, http.StatusNotFound, "destination not found")
		default:
			log.Printf("level=error component=api handler=get_destination farmer_id=%s err=%v", farmerID, err)
			h.writeError(w, http.StatusInternalServerError, "failed to fetch destination")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, dest)
}

// GetPayoutHandler returns a single payout by id.
func (h *WalletHandlers) GetPayoutHandler(w http.ResponseWriter, r *http.Request) {
	payoutID, ok := h.parseUUIDParam(w, r, "payoutID")
	if !ok {
		return
	}

	payout, err := h.service.GetPayout(r.Context(), payoutID)
	if err != nil {
		h.handleLookupError(w, err, "payout", payoutID.String())
		return
	}
	h.writeJSON(w, http.StatusOK, payout)
}

type cancelPayoutRequest struct {
	Reason string `json:"reason"`
}

// CancelPayoutHandler cancels an in-flight payout, releasing its locked funds.
func (h *WalletHandlers) CancelPayoutHandler(w http.ResponseWriter, r *http.Request) {
	payoutID, ok := h.parseUUIDParam(w, r, "payoutID")
	if !ok {
		return
	}

	// The body is optional; an absent or malformed reason falls back to a
	// default.
	var req cancelPayoutRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if strings.TrimSpace(req.Reason) == "" {
		req.Reason = "cancelled by operator"
	}

	payout, err := h.service.CancelPayout(r.Context(), payoutID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrPayoutNotFound):
			h.writeError(w, http.StatusNotFound, "payout not found")
		case errors.Is(err, app.ErrPayoutNotCancellable):
			h.writeError(w, http.StatusConflict, "payout can no longer be cancelled")
		default:
			log.Printf("level=error component=api handler=cancel_payout payout_id=%s err=%v", payoutID, err)
			h.writeError(w, http.StatusInternalServerError, "failed to cancel payout")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, payout)
}

// pspWebhookPayload is the wire shape of the PSP's status callback.
type pspWebhookPayload struct {
	PSPReference string `json:"pspReference"`
	Status       string `json:"status"`
	Detail       string `json:"detail"`
}

// PSPWebhookHandler receives asynchronous status callbacks from the PSP and
// feeds them into the reconciler. The response is always 200 for
// well-formed payloads: discarding an unmatched report is our problem, not
// the PSP's.
func (h *WalletHandlers) PSPWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var payload pspWebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid callback body")
		return
	}
	if strings.TrimSpace(payload.PSPReference) == "" || strings.TrimSpace(payload.Status) == "" {
		h.writeError(w, http.StatusBadRequest, "pspReference and status are required")
		return
	}

	ev := domain.PSPStatusEvent{
		PSPReference: payload.PSPReference,
		Status:       payload.Status,
		Detail:       payload.Detail,
	}
	if err := h.service.HandleStatusUpdate(r.Context(), ev); err != nil {
		log.Printf("level=error component=api handler=psp_webhook psp_reference=%s err=%v", payload.PSPReference, err)
		h.writeError(w, http.StatusInternalServerError, "failed to process callback")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func (h *WalletHandlers) parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func (h *WalletHandlers) handleLookupError(w http.ResponseWriter, err error, what, id string) {
	switch {
	case errors.Is(err, store.ErrWalletNotFound):
		h.writeError(w, http.StatusNotFound, "wallet not found")
	case errors.Is(err, store.ErrPayoutNotFound):
		h.writeError(w, http.StatusNotFound, "payout not found")
	default:
		log.Printf("level=error component=api handler=%s id=%s err=%v", what, id, err)
		h.writeError(w, http.StatusInternalServerError, "failed to fetch "+what)
	}
}

func parseIntQuery(r *http.Request, name string) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func (h *WalletHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (h *WalletHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
