// Package handlers provides the HTTP boundary of the trade lifecycle:
// principal resolution, policy checks and error-to-status mapping.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/aristath/tradeapproval/internal/modules/identity"
	"github.com/aristath/tradeapproval/internal/modules/trades"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler serves the trade lifecycle API
type Handler struct {
	service *trades.Service
	policy  *trades.Policy
	log     zerolog.Logger
}

// NewHandler creates a new trades handler
func NewHandler(service *trades.Service, policy *trades.Policy, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		policy:  policy,
		log:     log.With().Str("handler", "trades").Logger(),
	}
}

// HandleSubmit handles POST /trades
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authorize(w, r, trades.PolicySubmit, "")
	if !ok {
		return
	}

	var req detailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Details == nil {
		h.writeError(w, http.StatusBadRequest, "Trade details are required.")
		return
	}
	if err := checkRequired(*req.Details); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	trade, err := h.service.Submit(r.Context(), principal.ID, *req.Details)
	if err != nil {
		h.writeServiceError(w, err, "")
		return
	}

	h.writeJSON(w, http.StatusOK, toTradeResponse(trade))
}

// HandleApprove handles POST /trades/{tradeId}/approve
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeId")
	principal, ok := h.authorize(w, r, trades.PolicyApprove, tradeID)
	if !ok {
		return
	}

	trade, err := h.service.Approve(r.Context(), tradeID, principal.ID)
	h.respondTrade(w, trade, err, tradeID)
}

// HandleUpdate handles POST /trades/{tradeId}/update
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeId")
	principal, ok := h.authorize(w, r, trades.PolicyUpdate, tradeID)
	if !ok {
		return
	}

	var req detailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Details == nil {
		h.writeError(w, http.StatusBadRequest, "Updated trade details are required.")
		return
	}
	if err := checkRequired(*req.Details); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	trade, err := h.service.Update(r.Context(), tradeID, principal, *req.Details)
	h.respondTrade(w, trade, err, tradeID)
}

// HandleCancel handles POST /trades/{tradeId}/cancel
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeId")
	principal, ok := h.authorize(w, r, trades.PolicyCancel, tradeID)
	if !ok {
		return
	}

	trade, err := h.service.Cancel(r.Context(), tradeID, principal)
	h.respondTrade(w, trade, err, tradeID)
}

// HandleSendToExecute handles POST /trades/{tradeId}/send_to_execute
func (h *Handler) HandleSendToExecute(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeId")
	principal, ok := h.authorize(w, r, trades.PolicySendToExecute, tradeID)
	if !ok {
		return
	}

	trade, err := h.service.SendToExecute(r.Context(), tradeID, principal.ID)
	h.respondTrade(w, trade, err, tradeID)
}

// HandleBook handles POST /trades/{tradeId}/book
func (h *Handler) HandleBook(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeId")
	principal, ok := h.authorize(w, r, trades.PolicyBook, tradeID)
	if !ok {
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Strike == nil {
		h.writeError(w, http.StatusBadRequest, "strike is required")
		return
	}

	trade, err := h.service.Book(r.Context(), tradeID, principal.ID, *req.Strike)
	h.respondTrade(w, trade, err, tradeID)
}

// HandleGetHistory handles GET /trades/{tradeId}/history
func (h *Handler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeId")
	if _, ok := h.authorize(w, r, trades.PolicyGetHistory, tradeID); !ok {
		return
	}

	history, err := h.service.GetHistory(r.Context(), tradeID)
	if err != nil {
		h.writeServiceError(w, err, tradeID)
		return
	}

	h.writeJSON(w, http.StatusOK, HistoryListResponse{History: toHistoryResponses(history)})
}

// HandleDiff handles GET /trades/{tradeId}/diff?from_index=&to_index=
func (h *Handler) HandleDiff(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeId")
	if _, ok := h.authorize(w, r, trades.PolicyDiff, tradeID); !ok {
		return
	}

	from, errFrom := parseIndex(r.URL.Query().Get("from_index"))
	to, errTo := parseIndex(r.URL.Query().Get("to_index"))
	if errFrom != nil || errTo != nil {
		h.writeError(w, http.StatusBadRequest, "from_index and to_index must be non-negative integers")
		return
	}

	diffs, err := h.service.Diff(r.Context(), tradeID, from, to)
	if err != nil {
		h.writeServiceError(w, err, tradeID)
		return
	}

	h.writeJSON(w, http.StatusOK, DiffResponse{Differences: diffs})
}

// HandleGetStatus handles GET /trades/{tradeId}/status
func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeId")
	if _, ok := h.authorize(w, r, trades.PolicyGetStatus, tradeID); !ok {
		return
	}

	status, err := h.service.GetStatus(r.Context(), tradeID)
	if err != nil {
		h.writeServiceError(w, err, tradeID)
		return
	}

	h.writeJSON(w, http.StatusOK, status)
}

// HandleGetTrade handles GET /trades/{tradeId}
func (h *Handler) HandleGetTrade(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeId")
	if _, ok := h.authorize(w, r, trades.PolicyGetTrade, tradeID); !ok {
		return
	}

	trade, err := h.service.GetTrade(r.Context(), tradeID)
	h.respondTrade(w, trade, err, tradeID)
}

// HandleListTrades handles GET /trades
func (h *Handler) HandleListTrades(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authorize(w, r, trades.PolicyList, "")
	if !ok {
		return
	}

	list, err := h.service.ListTrades(r.Context(), principal.ID, principal.IsApprover())
	if err != nil {
		h.writeServiceError(w, err, "")
		return
	}

	out := make([]TradeResponse, 0, len(list))
	for _, t := range list {
		out = append(out, toTradeResponse(t))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// authorize resolves the principal and evaluates the policy. For
// ownership-dependent actions the trade's requester is looked up first, so
// an unknown trade surfaces as 404 before any permission decision.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, action trades.PolicyAction, tradeID string) (trades.Principal, bool) {
	principal, ok := identity.PrincipalFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "User not found")
		return trades.Principal{}, false
	}

	var requesterID string
	if h.policy.RequiresOwner(action) {
		owner, err := h.service.RequesterOf(r.Context(), tradeID)
		if err != nil {
			h.writeServiceError(w, err, tradeID)
			return trades.Principal{}, false
		}
		requesterID = owner
	}

	if err := h.policy.Authorize(principal, action, requesterID); err != nil {
		h.log.Warn().
			Str("principal", principal.ID).
			Str("role", string(principal.Role)).
			Str("action", string(action)).
			Str("trade_id", tradeID).
			Msg("Request denied by policy")
		h.writeError(w, http.StatusForbidden, err.Error())
		return trades.Principal{}, false
	}

	return principal, true
}

func (h *Handler) respondTrade(w http.ResponseWriter, trade *trades.Trade, err error, tradeID string) {
	if err != nil {
		h.writeServiceError(w, err, tradeID)
		return
	}
	h.writeJSON(w, http.StatusOK, toTradeResponse(trade))
}

// statusFor maps lifecycle errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, trades.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, trades.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, trades.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, trades.ErrInvalidTransition),
		errors.Is(err, trades.ErrDateOrder),
		errors.Is(err, trades.ErrAlreadyExecuted),
		errors.Is(err, trades.ErrIndexOutOfRange):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, tradeID string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("trade_id", tradeID).Msg("Trade operation failed")
		h.writeError(w, status, "Internal server error")
		return
	}

	h.log.Warn().Err(err).Str("trade_id", tradeID).Int("status", status).Msg("Trade operation rejected")
	h.writeError(w, status, businessMessage(err))
}

// businessMessage returns the innermost lifecycle error's message, without
// the wrapping added on the way up
func businessMessage(err error) string {
	var (
		notFound   *trades.NotFoundError
		transition *trades.TransitionError
		dateOrder  *trades.DateOrderError
		executed   *trades.AlreadyExecutedError
		index      *trades.IndexOutOfRangeError
		conflict   *trades.ConcurrentModificationError
	)
	switch {
	case errors.As(err, &notFound):
		return notFound.Error()
	case errors.As(err, &transition):
		return transition.Error()
	case errors.As(err, &dateOrder):
		return dateOrder.Error()
	case errors.As(err, &executed):
		return executed.Error()
	case errors.As(err, &index):
		return index.Error()
	case errors.As(err, &conflict):
		return conflict.Error()
	}
	return err.Error()
}

func parseIndex(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
