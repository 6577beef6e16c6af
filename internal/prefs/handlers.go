package prefs

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-bizops/internal/common"
)

// Handler exposes preferences, wishlist and recent orders.
type Handler struct {
	Store *Store
}

type wishlistReq struct {
	ProductID string `json:"productId" validate:"required,max=64"`
}

// Get handles GET /api/v1/preferences.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.Get(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, p)
}

// Update handles PUT /api/v1/preferences.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var patch Patch
	if err := common.DecodeJSON(r, &patch); err != nil {
		common.WriteError(w, err)
		return
	}
	p, err := h.Store.Update(r.Context(), patch)
	if errors.Is(err, ErrInvalidTemplate) {
		appErr := common.NewAppError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest, err)
		appErr.Details = map[string]string{"invoiceTemplate": "must be one of: short comprehensive"}
		common.WriteError(w, appErr)
		return
	}
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, p)
}

// Wishlist handles GET /api/v1/wishlist.
func (h *Handler) Wishlist(w http.ResponseWriter, r *http.Request) {
	ids, err := h.Store.Wishlist(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, ids)
}

// AddWishlist handles POST /api/v1/wishlist.
func (h *Handler) AddWishlist(w http.ResponseWriter, r *http.Request) {
	var req wishlistReq
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		common.WriteError(w, common.BadRequest("productId is required"))
		return
	}
	ids, err := h.Store.AddToWishlist(r.Context(), productID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, ids)
}

// RemoveWishlist handles DELETE /api/v1/wishlist/{productId}.
func (h *Handler) RemoveWishlist(w http.ResponseWriter, r *http.Request) {
	productID := strings.TrimSpace(chi.URLParam(r, "productId"))
	if productID == "" {
		common.WriteError(w, common.BadRequest("productId is required"))
		return
	}
	ids, err := h.Store.RemoveFromWishlist(r.Context(), productID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, ids)
}

// RecentOrders handles GET /api/v1/orders/recent.
func (h *Handler) RecentOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Store.RecentOrders(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, orders)
}
