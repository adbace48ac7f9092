package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/storefront-engine/internal/api"
	"github.com/atmx/storefront-engine/internal/catalog"
	"github.com/atmx/storefront-engine/internal/checkout"
	"github.com/atmx/storefront-engine/internal/model"
	"github.com/atmx/storefront-engine/internal/store"
	"github.com/atmx/storefront-engine/internal/storefront"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv builds a storefront over an in-memory store and the full router.
func newTestEnv(t *testing.T, hub *api.Hub) (*storefront.Storefront, chi.Router) {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)

	params := storefront.Params{KV: store.NewMemoryStore(), Catalog: cat, Log: zerolog.Nop()}
	if hub != nil {
		params.Notifier = hub
	}
	sf, err := storefront.New(context.Background(), params)
	require.NoError(t, err)

	h := api.NewHandler(sf, zerolog.Nop())
	return sf, api.NewRouter(h, api.RouterOptions{Log: zerolog.Nop(), Hub: hub})
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	_, router := newTestEnv(t, nil)
	w := do(t, router, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestListProducts_Filters(t *testing.T) {
	_, router := newTestEnv(t, nil)

	w := do(t, router, "GET", "/api/v1/products?category=kitchen", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.Product](t, w), 2)

	w = do(t, router, "GET", "/api/v1/products?min_price=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetProduct(t *testing.T) {
	_, router := newTestEnv(t, nil)

	w := do(t, router, "GET", "/api/v1/products/4", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Trailblazer Smartwatch", decode[model.Product](t, w).Name)

	assert.Equal(t, http.StatusNotFound, do(t, router, "GET", "/api/v1/products/404", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, "GET", "/api/v1/products/x", nil).Code)
}

func TestCartFlow(t *testing.T) {
	_, router := newTestEnv(t, nil)

	w := do(t, router, "POST", "/api/v1/cart/items", api.AddToCartRequest{ProductID: 1, Quantity: 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(t, router, "POST", "/api/v1/cart/items", api.AddToCartRequest{ProductID: 1, Quantity: 1})
	require.Equal(t, http.StatusOK, w.Code)

	cart := decode[api.CartResponse](t, w)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, 2, cart.TotalItems)
	assert.True(t, cart.TotalPrice.Equal(d(100)))

	w = do(t, router, "PUT", "/api/v1/cart/items/1", api.SetQuantityRequest{Quantity: 5})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, decode[api.CartResponse](t, w).TotalItems)

	w = do(t, router, "DELETE", "/api/v1/cart/items/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, router, "DELETE", "/api/v1/cart/items/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[api.CartResponse](t, w).Lines)
}

func TestAddToCart_Validation(t *testing.T) {
	_, router := newTestEnv(t, nil)

	w := do(t, router, "POST", "/api/v1/cart/items", map[string]any{"product_id": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "product_id")

	w = do(t, router, "POST", "/api/v1/cart/items", map[string]any{"product_id": 1, "colour": "red"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "POST", "/api/v1/cart/items", api.AddToCartRequest{ProductID: 999})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWishlistFlow(t *testing.T) {
	sf, router := newTestEnv(t, nil)

	w := do(t, router, "POST", "/api/v1/wishlist", api.ProductRequest{ProductID: 9})
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, router, "POST", "/api/v1/wishlist", api.ProductRequest{ProductID: 9})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.WishlistEntry](t, w), 1)

	w = do(t, router, "POST", "/api/v1/wishlist/10/toggle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, w)["saved"])

	w = do(t, router, "POST", "/api/v1/wishlist/9/move-to-cart", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[api.CartResponse](t, w).TotalItems)
	assert.False(t, sf.Wishlist().Contains(9))

	w = do(t, router, "POST", "/api/v1/wishlist/9/move-to-cart", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, "DELETE", "/api/v1/wishlist/10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]model.WishlistEntry](t, w))
}

func TestRecentlyViewedFlow(t *testing.T) {
	_, router := newTestEnv(t, nil)
	for _, id := range []int64{1, 2, 4, 3} {
		w := do(t, router, "POST", "/api/v1/recently-viewed", api.ProductRequest{ProductID: id})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := do(t, router, "GET", "/api/v1/recently-viewed?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[[]model.RecentlyViewedEntry](t, w)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(3), entries[0].ProductID)

	w = do(t, router, "GET", "/api/v1/recently-viewed/1/recommendations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ids []int64
	for _, e := range decode[[]model.RecentlyViewedEntry](t, w) {
		ids = append(ids, e.ProductID)
	}
	assert.Equal(t, []int64{3, 2}, ids)

	w = do(t, router, "GET", "/api/v1/recently-viewed/trending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.RecentlyViewedEntry](t, w), 4)

	assert.Equal(t, http.StatusBadRequest, do(t, router, "GET", "/api/v1/recently-viewed?limit=-1", nil).Code)
}

func TestLoyaltyFlow(t *testing.T) {
	_, router := newTestEnv(t, nil)

	w := do(t, router, "POST", "/api/v1/loyalty/earn", api.EarnRequest{Amount: 120, Reason: "Review"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, "POST", "/api/v1/loyalty/redeem", api.RedeemRequest{Amount: 500})
	require.Equal(t, http.StatusOK, w.Code)
	rejected := decode[api.RedeemResponse](t, w)
	assert.False(t, rejected.Redeemed)
	assert.Equal(t, int64(120), rejected.Loyalty.Points)

	w = do(t, router, "POST", "/api/v1/loyalty/redeem", map[string]any{"amount": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "POST", "/api/v1/loyalty/redeem", api.RedeemRequest{Amount: 20})
	require.Equal(t, http.StatusOK, w.Code)
	ok := decode[api.RedeemResponse](t, w)
	assert.True(t, ok.Redeemed)
	assert.Equal(t, int64(100), ok.Loyalty.Points)
	assert.Equal(t, "Silver", ok.Loyalty.Tier.Name)
	assert.True(t, ok.Loyalty.PointsValue.Equal(d(1)))

	w = do(t, router, "POST", "/api/v1/loyalty/referral-code", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, strings.HasPrefix(decode[map[string]string](t, w)["referral_code"], "SHOP-"))

	w = do(t, router, "GET", "/api/v1/loyalty", nil)
	require.Equal(t, http.StatusOK, w.Code)
	acct := decode[api.LoyaltyResponse](t, w)
	assert.Equal(t, 1, acct.Referrals)
	// 120 earned in total; Gold starts at 500.
	assert.Equal(t, int64(380), acct.PointsToNextLevel)
}

func TestEarnPoints_AmountIsBounded(t *testing.T) {
	sf, router := newTestEnv(t, nil)

	w := do(t, router, "POST", "/api/v1/loyalty/earn", api.EarnRequest{Amount: math.MaxInt64, Reason: "Gift"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for i := 0; i < 2; i++ {
		w = do(t, router, "POST", "/api/v1/loyalty/earn", api.EarnRequest{Amount: 1_000_000, Reason: "Gift"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	acct := sf.Loyalty().Account()
	assert.Equal(t, int64(2_000_000), acct.Points)
	assert.Equal(t, int64(2_000_000), acct.TotalEarned)
}

func TestCheckoutFlow(t *testing.T) {
	sf, router := newTestEnv(t, nil)

	w := do(t, router, "POST", "/api/v1/checkout/orders", api.CheckoutRequest{ShippingMethod: checkout.ShippingStandard})
	assert.Equal(t, http.StatusConflict, w.Code)

	require.Equal(t, http.StatusOK, do(t, router, "POST", "/api/v1/cart/items", api.AddToCartRequest{ProductID: 1, Quantity: 2}).Code)

	w = do(t, router, "POST", "/api/v1/checkout/quote", api.CheckoutRequest{ShippingMethod: "rocket"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "POST", "/api/v1/checkout/quote", api.CheckoutRequest{ShippingMethod: checkout.ShippingStandard})
	require.Equal(t, http.StatusOK, w.Code)
	quote := decode[checkout.Summary](t, w)
	assert.True(t, quote.Tax.Equal(d(8)))
	assert.True(t, quote.Total.Equal(d(108)))

	w = do(t, router, "POST", "/api/v1/checkout/orders", api.CheckoutRequest{ShippingMethod: checkout.ShippingStandard})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	receipt := decode[storefront.Receipt](t, w)
	assert.NotEmpty(t, receipt.OrderID)
	assert.Equal(t, int64(100), receipt.PointsBalance)
	assert.Equal(t, "Silver", receipt.LoyaltyTier)
	assert.Equal(t, 0, sf.Cart().TotalItems())

	w = do(t, router, "GET", "/api/v1/checkout/shipping-methods", nil)
	require.Equal(t, http.StatusOK, w.Code)
	methods := decode[[]api.ShippingOption](t, w)
	require.Len(t, methods, 3)
	assert.Equal(t, checkout.ShippingStandard, methods[0].Method)
}

func TestResetProfile(t *testing.T) {
	sf, router := newTestEnv(t, nil)
	require.NoError(t, sf.AddToCart(context.Background(), 2, 3))

	w := do(t, router, "DELETE", "/api/v1/profile", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, sf.Cart().TotalItems())
}

func TestChangeFeed(t *testing.T) {
	hub := api.NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	_, router := newTestEnv(t, hub)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/api/v1/cart/items", "application/json", strings.NewReader(`{"product_id":1,"quantity":1}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg api.ChangeMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "cart_changed", msg.Type)
	assert.Equal(t, "add_item", msg.Intent)
}
