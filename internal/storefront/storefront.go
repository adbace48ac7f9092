// Package storefront wires the per-profile stores together and owns the
// operations that span more than one of them.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/atmx/storefront-engine/internal/cart"
	"github.com/atmx/storefront-engine/internal/catalog"
	"github.com/atmx/storefront-engine/internal/checkout"
	"github.com/atmx/storefront-engine/internal/loyalty"
	"github.com/atmx/storefront-engine/internal/metrics"
	"github.com/atmx/storefront-engine/internal/model"
	"github.com/atmx/storefront-engine/internal/recent"
	"github.com/atmx/storefront-engine/internal/store"
	"github.com/atmx/storefront-engine/internal/wishlist"
)

var (
	ErrEmptyCart      = errors.New("storefront: cart is empty")
	ErrUnknownProduct = errors.New("storefront: unknown product")
)

// PurchaseReason is recorded on points earned by an order.
const PurchaseReason = "Purchase"

// Notifier receives a message for every store transition.
type Notifier interface {
	Notify(store, intent string)
}

// Params configures New.
type Params struct {
	KV       store.KV
	Catalog  *catalog.Catalog
	Log      zerolog.Logger
	Notifier Notifier
	Now      func() time.Time

	// Rates and TaxRate default to the checkout package defaults when nil.
	Rates   checkout.Rates
	TaxRate *decimal.Decimal
}

// Storefront is the state of one profile. It is created once at startup and
// shared by reference.
type Storefront struct {
	cart     *cart.Store
	wishlist *wishlist.Store
	recent   *recent.Store
	loyalty  *loyalty.Store
	catalog  *catalog.Catalog

	rates   checkout.Rates
	taxRate decimal.Decimal
	now     func() time.Time
	log     zerolog.Logger

	// orderMu keeps quote, redeem and line removal of one order together.
	orderMu sync.Mutex
}

// New loads every store from p.KV.
func New(ctx context.Context, p Params) (*Storefront, error) {
	if p.KV == nil {
		return nil, errors.New("storefront: nil kv")
	}
	if p.Catalog == nil {
		return nil, errors.New("storefront: nil catalog")
	}
	now := p.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	rates := p.Rates
	if rates == nil {
		rates = checkout.DefaultRates()
	}
	taxRate := checkout.DefaultTaxRate
	if p.TaxRate != nil {
		taxRate = *p.TaxRate
	}

	var n Notifier = nopNotifier{}
	if p.Notifier != nil {
		n = p.Notifier
	}

	sf := &Storefront{
		cart:     cart.New(ctx, p.KV, cart.Options{Log: p.Log, Notifier: n}),
		wishlist: wishlist.New(ctx, p.KV, wishlist.Options{Log: p.Log, Notifier: n, Now: now}),
		recent:   recent.New(ctx, p.KV, recent.Options{Log: p.Log, Notifier: n, Now: now}),
		loyalty:  loyalty.New(ctx, p.KV, loyalty.Options{Log: p.Log, Notifier: n, Now: now}),
		catalog:  p.Catalog,
		rates:    rates,
		taxRate:  taxRate,
		now:      now,
		log:      p.Log,
	}
	sf.log.Info().
		Int("cart_items", sf.cart.TotalItems()).
		Int("wishlist", sf.wishlist.Len()).
		Int64("points", sf.loyalty.Points()).
		Msg("profile state loaded")
	return sf, nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, string) {}

func (sf *Storefront) Cart() *cart.Store         { return sf.cart }
func (sf *Storefront) Wishlist() *wishlist.Store { return sf.wishlist }
func (sf *Storefront) Recent() *recent.Store     { return sf.recent }
func (sf *Storefront) Loyalty() *loyalty.Store   { return sf.loyalty }
func (sf *Storefront) Catalog() *catalog.Catalog { return sf.catalog }
func (sf *Storefront) Rates() checkout.Rates     { return sf.rates }

// Product resolves id against the catalog.
func (sf *Storefront) Product(id int64) (model.Product, error) {
	p, ok := sf.catalog.Get(id)
	if !ok {
		return model.Product{}, fmt.Errorf("%w: %d", ErrUnknownProduct, id)
	}
	return p, nil
}

// AddToCart adds quantity units of catalog product id.
func (sf *Storefront) AddToCart(ctx context.Context, id int64, quantity int) error {
	p, err := sf.Product(id)
	if err != nil {
		return err
	}
	return sf.cart.AddItem(ctx, p, quantity)
}

// SaveForLater adds catalog product id to the wishlist.
func (sf *Storefront) SaveForLater(ctx context.Context, id int64) error {
	p, err := sf.Product(id)
	if err != nil {
		return err
	}
	return sf.wishlist.Add(ctx, p)
}

// ToggleSaved flips catalog product id in the wishlist.
func (sf *Storefront) ToggleSaved(ctx context.Context, id int64) (bool, error) {
	p, err := sf.Product(id)
	if err != nil {
		return false, err
	}
	return sf.wishlist.Toggle(ctx, p)
}

// View records that catalog product id was viewed and returns it.
func (sf *Storefront) View(ctx context.Context, id int64) (model.Product, error) {
	p, err := sf.Product(id)
	if err != nil {
		return model.Product{}, err
	}
	return p, sf.recent.RecordView(ctx, p)
}

// MoveToCart puts one unit of a saved product in the cart and drops it from
// the wishlist. Product details come from the catalog so the cart line gets
// the current price.
func (sf *Storefront) MoveToCart(ctx context.Context, id int64) error {
	if !sf.wishlist.Contains(id) {
		return fmt.Errorf("%w: %d not in wishlist", ErrUnknownProduct, id)
	}
	p, err := sf.Product(id)
	if err != nil {
		return err
	}
	return multierr.Append(
		sf.cart.AddItem(ctx, p, 1),
		sf.wishlist.Remove(ctx, id),
	)
}

// Quote prices the current cart. It reads fresh snapshots on every call.
func (sf *Storefront) Quote(method string, pointsToUse int64) (checkout.Summary, error) {
	return sf.quote(sf.cart.Lines(), method, pointsToUse)
}

func (sf *Storefront) quote(lines []model.CartLine, method string, pointsToUse int64) (checkout.Summary, error) {
	return checkout.Calculate(checkout.Input{
		Lines:           lines,
		ShippingMethod:  method,
		Rates:           sf.rates,
		TaxRate:         &sf.taxRate,
		PointsToUse:     pointsToUse,
		AvailablePoints: sf.loyalty.Points(),
	})
}

// Receipt describes a placed order.
type Receipt struct {
	OrderID       string           `json:"order_id"`
	PlacedAt      time.Time        `json:"placed_at"`
	Lines         []model.CartLine `json:"lines"`
	Summary       checkout.Summary `json:"summary"`
	PointsEarned  int64            `json:"points_earned"`
	BadgesAwarded []model.Badge    `json:"badges_awarded"`
	PointsBalance int64            `json:"points_balance"`
	LoyaltyLevel  int              `json:"loyalty_level"`
	LoyaltyTier   string           `json:"loyalty_tier"`
}

// PlaceOrder checks out the cart: it redeems the points the quote applied,
// credits points for the subtotal, and takes the ordered lines out of the
// cart. The order covers one snapshot of the cart; units added while it is
// being placed stay in the cart.
//
// A non-nil error alongside a receipt with an OrderID reports snapshot
// persistence failures only; the order itself went through.
func (sf *Storefront) PlaceOrder(ctx context.Context, method string, pointsToUse int64) (Receipt, error) {
	sf.orderMu.Lock()
	defer sf.orderMu.Unlock()

	lines := sf.cart.Lines()
	if len(lines) == 0 {
		return Receipt{}, ErrEmptyCart
	}
	summary, err := sf.quote(lines, method, pointsToUse)
	if err != nil {
		return Receipt{}, err
	}

	var persistErr error
	if summary.PointsUsed > 0 {
		ok, err := sf.loyalty.RedeemPoints(ctx, summary.PointsUsed)
		persistErr = multierr.Append(persistErr, err)
		if !ok {
			return Receipt{}, fmt.Errorf("storefront: redeem %d points rejected", summary.PointsUsed)
		}
	}

	earned := checkout.PointsEarned(summary.Subtotal)
	badges, err := sf.loyalty.AddPoints(ctx, earned, PurchaseReason)
	if errors.Is(err, loyalty.ErrPointsOverflow) {
		sf.log.Warn().Int64("points", earned).Msg("order points not credited")
		earned, err = 0, nil
	}
	persistErr = multierr.Append(persistErr, err)
	persistErr = multierr.Append(persistErr, sf.cart.RemoveLines(ctx, lines))

	acct := sf.loyalty.Account()
	r := Receipt{
		OrderID:       uuid.NewString(),
		PlacedAt:      sf.now(),
		Lines:         lines,
		Summary:       summary,
		PointsEarned:  earned,
		BadgesAwarded: badges,
		PointsBalance: acct.Points,
		LoyaltyLevel:  acct.Level,
		LoyaltyTier:   loyalty.TierAt(acct.Level).Name,
	}
	if r.BadgesAwarded == nil {
		r.BadgesAwarded = []model.Badge{}
	}

	metrics.OrdersPlaced.WithLabelValues(method).Inc()
	sf.log.Info().
		Str("order_id", r.OrderID).
		Str("shipping", method).
		Str("total", summary.Total.StringFixed(2)).
		Int64("points_used", summary.PointsUsed).
		Int64("points_earned", earned).
		Msg("order placed")
	if persistErr != nil {
		sf.log.Warn().Err(persistErr).Str("order_id", r.OrderID).Msg("order placed with unsaved state")
	}
	return r, persistErr
}

// Reset clears every store of the profile.
func (sf *Storefront) Reset(ctx context.Context) error {
	err := multierr.Combine(
		sf.cart.Clear(ctx),
		sf.wishlist.Clear(ctx),
		sf.recent.Clear(ctx),
		sf.loyalty.Reset(ctx),
	)
	sf.log.Info().Err(err).Msg("profile reset")
	return err
}
