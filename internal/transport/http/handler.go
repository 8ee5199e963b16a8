package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"ecopoints/internal/model"
	"ecopoints/internal/repository"
	"ecopoints/internal/service"
)

type Handler struct {
	svc service.RewardsService
}

func NewHandler(svc service.RewardsService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /api/deposit", h.Deposit)
	mux.HandleFunc("POST /api/redeem", h.Redeem)
	mux.HandleFunc("GET /api/balance", h.Balance)
	mux.HandleFunc("GET /api/history", h.History)
	mux.HandleFunc("GET /api/admin/history", h.AdminHistory)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Deposit is what the RVM machine calls after it accepts an item.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req model.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := h.svc.RecordDeposit(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "success",
		"added_points": res.AddedPoints,
		"user":         res.Account.ID,
	})
}

// Redeem spends points against a reward, called from the dashboard.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req model.RedemptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := h.svc.RecordRedemption(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "success",
		"new_balance": res.NewBalance,
	})
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	points, err := h.svc.Balance(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"points":  points,
	})
}

// History serves the dashboard's per-user transaction list.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	entries := h.svc.History(r.Context(), userID, limitParam(r))
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":      userID,
		"transactions": entries,
	})
}

// AdminHistory serves the global transaction list. Unauthenticated, like the
// rest of the admin view.
func (h *Handler) AdminHistory(w http.ResponseWriter, r *http.Request) {
	entries := h.svc.AdminHistory(r.Context(), limitParam(r))
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": entries,
	})
}

// limitParam reads an optional "limit" query parameter; zero means "use the
// service default".
func limitParam(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

// respondServiceError maps the error taxonomy onto HTTP statuses. Expected
// business failures keep their message; anything else is a generic 500 with
// the cause logged for operators.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var insufficient *repository.InsufficientBalanceError
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		h.respondError(w, http.StatusForbidden, "unauthorized machine")
	case errors.Is(err, service.ErrInvalidInput):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrAccountNotFound):
		h.respondError(w, http.StatusNotFound, "user not found")
	case errors.As(err, &insufficient):
		h.respondError(w, http.StatusBadRequest, insufficient.Error())
	default:
		slog.Error("request failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"status": "error", "message": message})
}
