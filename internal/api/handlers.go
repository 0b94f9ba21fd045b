package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/gharti/bike-market/internal/market"
	"github.com/gharti/bike-market/internal/models"
	"github.com/gharti/bike-market/internal/store"
)

// actingUser resolves the identity injected by the upstream auth layer.
func (h *Handler) actingUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		respondError(w, http.StatusUnauthorized, "missing X-User-ID")
		return nil, false
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid X-User-ID")
		return nil, false
	}

	user, err := store.GetUser(r.Context(), h.db, id)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unknown user")
		return nil, false
	}
	return user, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email   string `json:"email"`
		Name    string `json:"name"`
		IsAdmin bool   `json:"is_admin"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := store.CreateUser(r.Context(), h.db, req.Email, req.Name, req.IsAdmin)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	user, err := store.GetUser(r.Context(), h.db, id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (h *Handler) SubmitListing(w http.ResponseWriter, r *http.Request) {
	user, ok := h.actingUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Title       string  `json:"title"`
		Description string  `json:"description"`
		Price       float64 `json:"price"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	bicycle, err := h.svc.SubmitListing(r.Context(), user.ID, req.Title, req.Description, decimal.NewFromFloat(req.Price))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, bicycle)
}

func (h *Handler) ListBicycles(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)

	result, err := h.svc.ListAvailableBicycles(r.Context(), page, pageSize)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) GetBicycle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	bicycle, err := h.svc.GetBicycle(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, bicycle)
}

func (h *Handler) ApproveListing(w http.ResponseWriter, r *http.Request) {
	h.listingAction(w, r, h.svc.ApproveListing)
}

func (h *Handler) WithdrawListing(w http.ResponseWriter, r *http.Request) {
	h.listingAction(w, r, h.svc.WithdrawListing)
}

func (h *Handler) ResubmitListing(w http.ResponseWriter, r *http.Request) {
	h.listingAction(w, r, h.svc.ResubmitListing)
}

func (h *Handler) listingAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, *models.User, int64) (*models.Bicycle, error)) {
	user, ok := h.actingUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	bicycle, err := fn(r.Context(), user, id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, bicycle)
}

func (h *Handler) ListThread(w http.ResponseWriter, r *http.Request) {
	user, ok := h.actingUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	messages, err := h.svc.ListThread(r.Context(), id, user.ID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := h.actingUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		RecipientID int64  `json:"recipient_id"`
		Content     string `json:"content"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	message, err := h.svc.SendMessage(r.Context(), user.ID, req.RecipientID, id, req.Content)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, message)
}

func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	user, ok := h.actingUser(w, r)
	if !ok {
		return
	}

	var req struct {
		RecipientID int64   `json:"recipient_id"`
		BicycleID   int64   `json:"bicycle_id"`
		Content     string  `json:"content"`
		Amount      float64 `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	offer, err := h.svc.CreateOffer(r.Context(), user.ID, req.RecipientID, req.BicycleID, decimal.NewFromFloat(req.Amount), req.Content)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, offer)
}

func (h *Handler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	user, ok := h.actingUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	result, err := h.svc.AcceptOffer(r.Context(), id, user.ID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) RejectOffer(w http.ResponseWriter, r *http.Request) {
	user, ok := h.actingUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	result, err := h.svc.RejectOffer(r.Context(), id, user.ID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := h.actingUser(w, r)
	if !ok {
		return
	}

	var params market.CreateOrderParams
	if !decodeBody(w, r, &params) {
		return
	}

	order, err := h.svc.CreateOrder(r.Context(), user.ID, params)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := h.actingUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	order, err := h.svc.GetOrder(r.Context(), user, id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	user, ok := h.actingUser(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	result, err := h.svc.ListOrders(r.Context(), user.ID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) SubmitPaymentProof(w http.ResponseWriter, r *http.Request) {
	user, ok := h.actingUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Message string `json:"message"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	payment, err := h.svc.SubmitPaymentProof(r.Context(), user, id, req.Message)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, payment)
}

func (h *Handler) AdminConfirmPayment(w http.ResponseWriter, r *http.Request) {
	user, ok := h.actingUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	order, err := h.svc.AdminConfirmPayment(r.Context(), user, id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *Handler) AdminRejectPayment(w http.ResponseWriter, r *http.Request) {
	user, ok := h.actingUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	payment, err := h.svc.AdminRejectPayment(r.Context(), user, id, req.Reason)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, payment)
}

func (h *Handler) AdminApproveSale(w http.ResponseWriter, r *http.Request) {
	user, ok := h.actingUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	order, err := h.svc.AdminApproveSale(r.Context(), user, id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *Handler) AdminRejectSale(w http.ResponseWriter, r *http.Request) {
	user, ok := h.actingUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	order, err := h.svc.AdminRejectSale(r.Context(), user, id, req.Reason)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	h.orderAction(w, r, h.svc.CancelOrder)
}

func (h *Handler) MarkShipped(w http.ResponseWriter, r *http.Request) {
	h.orderAction(w, r, h.svc.MarkShipped)
}

func (h *Handler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	h.orderAction(w, r, h.svc.MarkDelivered)
}

func (h *Handler) orderAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, *models.User, int64) (*models.Order, error)) {
	user, ok := h.actingUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	order, err := fn(r.Context(), user, id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
