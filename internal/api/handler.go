// Package api exposes the storefront stores over HTTP and a WebSocket
// change feed. Handlers only call store operations; all state rules live in
// the stores.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/atmx/storefront-engine/internal/catalog"
	"github.com/atmx/storefront-engine/internal/checkout"
	"github.com/atmx/storefront-engine/internal/loyalty"
	"github.com/atmx/storefront-engine/internal/model"
	"github.com/atmx/storefront-engine/internal/store"
	"github.com/atmx/storefront-engine/internal/storefront"
)

// Handler serves the /api/v1 routes for one storefront profile.
type Handler struct {
	sf  *storefront.Storefront
	log zerolog.Logger
}

// NewHandler creates a Handler.
func NewHandler(sf *storefront.Storefront, log zerolog.Logger) *Handler {
	return &Handler{sf: sf, log: log.With().Str("component", "api").Logger()}
}

// --- Request/Response types ---

// AddToCartRequest is the body of POST /cart/items.
type AddToCartRequest struct {
	ProductID int64 `json:"product_id" validate:"gt=0"`
	Quantity  int   `json:"quantity" validate:"gte=0,lte=999"` // 0 means 1
}

// SetQuantityRequest is the body of PUT /cart/items/{productID}.
type SetQuantityRequest struct {
	Quantity int `json:"quantity" validate:"gte=0,lte=999"`
}

// ProductRequest names a catalog product.
type ProductRequest struct {
	ProductID int64 `json:"product_id" validate:"gt=0"`
}

// EarnRequest is the body of POST /loyalty/earn.
type EarnRequest struct {
	Amount int64  `json:"amount" validate:"gt=0,lte=1000000"`
	Reason string `json:"reason" validate:"required,max=120"`
}

// RedeemRequest is the body of POST /loyalty/redeem.
type RedeemRequest struct {
	Amount int64 `json:"amount" validate:"gt=0"`
}

// CheckoutRequest is the body of the checkout endpoints.
type CheckoutRequest struct {
	ShippingMethod string `json:"shipping_method" validate:"required"`
	PointsToUse    int64  `json:"points_to_use" validate:"gte=0"`
}

// CartResponse is the cart view.
type CartResponse struct {
	Lines      []model.CartLine `json:"lines"`
	TotalItems int              `json:"total_items"`
	TotalPrice decimal.Decimal  `json:"total_price"`
}

// LoyaltyResponse is the account plus its derived values.
type LoyaltyResponse struct {
	model.LoyaltyAccount
	Tier              loyalty.Tier    `json:"tier"`
	PointsValue       decimal.Decimal `json:"points_value"`
	LevelProgress     decimal.Decimal `json:"level_progress"`
	PointsToNextLevel int64           `json:"points_to_next_level"`
}

// RedeemResponse reports whether a redemption went through.
type RedeemResponse struct {
	Redeemed bool            `json:"redeemed"`
	Loyalty  LoyaltyResponse `json:"loyalty"`
}

// ShippingOption is one row of GET /checkout/shipping-methods.
type ShippingOption struct {
	Method string          `json:"method"`
	Price  decimal.Decimal `json:"price"`
}

// --- Catalog ---

// ListProducts handles GET /api/v1/products
// Optional filters: category, brand, min_price, max_price, min_rating.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := catalog.Filter{Category: q.Get("category"), Brand: q.Get("brand")}

	var err error
	if v := q.Get("min_price"); v != "" {
		if f.MinPrice, err = decimal.NewFromString(v); err != nil {
			writeError(w, "invalid min_price", http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("max_price"); v != "" {
		if f.MaxPrice, err = decimal.NewFromString(v); err != nil {
			writeError(w, "invalid max_price", http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("min_rating"); v != "" {
		if f.MinRating, err = strconv.ParseFloat(v, 64); err != nil {
			writeError(w, "invalid min_rating", http.StatusBadRequest)
			return
		}
	}
	writeJSON(w, http.StatusOK, h.sf.Catalog().Filter(f))
}

// GetProduct handles GET /api/v1/products/{productID}
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := productIDParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := h.sf.Product(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- Cart ---

// GetCart handles GET /api/v1/cart
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cartView())
}

// AddToCart handles POST /api/v1/cart/items
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req AddToCartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.stop(w, h.sf.AddToCart(r.Context(), req.ProductID, req.Quantity)) {
		return
	}
	writeJSON(w, http.StatusOK, h.cartView())
}

// SetCartQuantity handles PUT /api/v1/cart/items/{productID}
func (h *Handler) SetCartQuantity(w http.ResponseWriter, r *http.Request) {
	id, err := productIDParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req SetQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.stop(w, h.sf.Cart().SetQuantity(r.Context(), id, req.Quantity)) {
		return
	}
	writeJSON(w, http.StatusOK, h.cartView())
}

// RemoveFromCart handles DELETE /api/v1/cart/items/{productID}
func (h *Handler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	id, err := productIDParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.stop(w, h.sf.Cart().RemoveItem(r.Context(), id)) {
		return
	}
	writeJSON(w, http.StatusOK, h.cartView())
}

// ClearCart handles DELETE /api/v1/cart
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	if h.stop(w, h.sf.Cart().Clear(r.Context())) {
		return
	}
	writeJSON(w, http.StatusOK, h.cartView())
}

func (h *Handler) cartView() CartResponse {
	st := h.sf.Cart().Snapshot()
	return CartResponse{Lines: st.Lines, TotalItems: st.TotalItems(), TotalPrice: st.TotalPrice()}
}

// --- Wishlist ---

// GetWishlist handles GET /api/v1/wishlist
func (h *Handler) GetWishlist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sf.Wishlist().List())
}

// AddToWishlist handles POST /api/v1/wishlist
func (h *Handler) AddToWishlist(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.stop(w, h.sf.SaveForLater(r.Context(), req.ProductID)) {
		return
	}
	writeJSON(w, http.StatusOK, h.sf.Wishlist().List())
}

// RemoveFromWishlist handles DELETE /api/v1/wishlist/{productID}
func (h *Handler) RemoveFromWishlist(w http.ResponseWriter, r *http.Request) {
	id, err := productIDParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.stop(w, h.sf.Wishlist().Remove(r.Context(), id)) {
		return
	}
	writeJSON(w, http.StatusOK, h.sf.Wishlist().List())
}

// ToggleWishlist handles POST /api/v1/wishlist/{productID}/toggle
func (h *Handler) ToggleWishlist(w http.ResponseWriter, r *http.Request) {
	id, err := productIDParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	saved, err := h.sf.ToggleSaved(r.Context(), id)
	if h.stop(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": id, "saved": saved})
}

// MoveToCart handles POST /api/v1/wishlist/{productID}/move-to-cart
func (h *Handler) MoveToCart(w http.ResponseWriter, r *http.Request) {
	id, err := productIDParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.stop(w, h.sf.MoveToCart(r.Context(), id)) {
		return
	}
	writeJSON(w, http.StatusOK, h.cartView())
}

// --- Recently viewed ---

// RecordView handles POST /api/v1/recently-viewed
func (h *Handler) RecordView(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	_, err := h.sf.View(r.Context(), req.ProductID)
	if h.stop(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, h.sf.Recent().List(0))
}

// ListRecentlyViewed handles GET /api/v1/recently-viewed?limit=
func (h *Handler) ListRecentlyViewed(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.sf.Recent().List(limit))
}

// Trending handles GET /api/v1/recently-viewed/trending?limit=
func (h *Handler) Trending(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.sf.Recent().Trending(limit))
}

// Recommendations handles GET /api/v1/recently-viewed/{productID}/recommendations?limit=
func (h *Handler) Recommendations(w http.ResponseWriter, r *http.Request) {
	id, err := productIDParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.sf.Recent().RecommendationsFor(id, limit))
}

// --- Loyalty ---

// GetLoyalty handles GET /api/v1/loyalty
func (h *Handler) GetLoyalty(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.loyaltyView())
}

// EarnPoints handles POST /api/v1/loyalty/earn
func (h *Handler) EarnPoints(w http.ResponseWriter, r *http.Request) {
	var req EarnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	badges, err := h.sf.Loyalty().AddPoints(r.Context(), req.Amount, req.Reason)
	if h.stop(w, err) {
		return
	}
	if badges == nil {
		badges = []model.Badge{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"badges_awarded": badges, "loyalty": h.loyaltyView()})
}

// RedeemPoints handles POST /api/v1/loyalty/redeem
// An amount above the balance is not an error: the response reports
// redeemed=false and the account is unchanged.
func (h *Handler) RedeemPoints(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	ok, err := h.sf.Loyalty().RedeemPoints(r.Context(), req.Amount)
	if h.stop(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, RedeemResponse{Redeemed: ok, Loyalty: h.loyaltyView()})
}

// GenerateReferralCode handles POST /api/v1/loyalty/referral-code
func (h *Handler) GenerateReferralCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.sf.Loyalty().GenerateReferralCode(r.Context())
	if h.stop(w, err) {
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"referral_code": code})
}

func (h *Handler) loyaltyView() LoyaltyResponse {
	l := h.sf.Loyalty()
	return LoyaltyResponse{
		LoyaltyAccount:    l.Account(),
		Tier:              l.Tier(),
		PointsValue:       l.PointsValue(),
		LevelProgress:     l.LevelProgress(),
		PointsToNextLevel: l.PointsToNextLevel(),
	}
}

// --- Checkout ---

// ShippingMethods handles GET /api/v1/checkout/shipping-methods
func (h *Handler) ShippingMethods(w http.ResponseWriter, r *http.Request) {
	rates := h.sf.Rates()
	out := make([]ShippingOption, 0, len(rates))
	for _, m := range rates.Methods() {
		out = append(out, ShippingOption{Method: m, Price: rates[m]})
	}
	writeJSON(w, http.StatusOK, out)
}

// Quote handles POST /api/v1/checkout/quote
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	summary, err := h.sf.Quote(req.ShippingMethod, req.PointsToUse)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// PlaceOrder handles POST /api/v1/checkout/orders
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	receipt, err := h.sf.PlaceOrder(r.Context(), req.ShippingMethod, req.PointsToUse)
	if h.stop(w, err) {
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// --- Profile ---

// ResetProfile handles DELETE /api/v1/profile
func (h *Handler) ResetProfile(w http.ResponseWriter, r *http.Request) {
	if h.stop(w, h.sf.Reset(r.Context())) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// stop writes an error response and reports true unless err is nil or only
// a persistence failure. A failed snapshot write does not undo the change,
// so the caller still gets the new state.
func (h *Handler) stop(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, store.ErrPersist) && !isDomainError(err) {
		h.log.Warn().Err(err).Msg("state changed but snapshot not saved")
		return false
	}
	h.fail(w, err)
	return true
}

func isDomainError(err error) bool {
	return errors.Is(err, storefront.ErrUnknownProduct) ||
		errors.Is(err, storefront.ErrEmptyCart) ||
		errors.Is(err, checkout.ErrUnknownShippingMethod) ||
		errors.Is(err, loyalty.ErrPointsOverflow)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storefront.ErrUnknownProduct):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, storefront.ErrEmptyCart):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, checkout.ErrUnknownShippingMethod):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, loyalty.ErrPointsOverflow):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.log.Error().Err(err).Msg("request failed")
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
