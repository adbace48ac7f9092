package cart

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/atmx/storefront-engine/internal/metrics"
	"github.com/atmx/storefront-engine/internal/model"
	"github.com/atmx/storefront-engine/internal/store"
)

// StorageKey is the durable key the cart snapshot lives under.
const StorageKey = "cart-state"

const storeName = "cart"

// Notifier is told about every applied transition.
type Notifier interface {
	Notify(store, intent string)
}

// Options configures a Store. The zero value is usable.
type Options struct {
	Log      zerolog.Logger
	Notifier Notifier
}

// Store serializes cart transitions and persists after each one.
type Store struct {
	mu       sync.Mutex
	state    State
	kv       store.KV
	log      zerolog.Logger
	notifier Notifier
}

// New loads the persisted cart (or an empty one) from kv.
func New(ctx context.Context, kv store.KV, opts Options) *Store {
	log := opts.Log.With().Str("store", storeName).Logger()
	st := store.Load(ctx, kv, StorageKey, State{Lines: []model.CartLine{}}, log)
	if st.Lines == nil {
		st.Lines = []model.CartLine{}
	}
	return &Store{
		state:    st,
		kv:       kv,
		log:      log,
		notifier: opts.Notifier,
	}
}

// AddItem adds quantity units of p, incrementing an existing line.
func (s *Store) AddItem(ctx context.Context, p model.Product, quantity int) error {
	return s.Dispatch(ctx, AddItem{Product: p, Quantity: quantity})
}

// RemoveItem deletes the line for productID; absent ids are a no-op.
func (s *Store) RemoveItem(ctx context.Context, productID int64) error {
	return s.Dispatch(ctx, RemoveItem{ProductID: productID})
}

// SetQuantity overwrites a line's quantity, removing it when quantity < 1.
func (s *Store) SetQuantity(ctx context.Context, productID int64, quantity int) error {
	return s.Dispatch(ctx, SetQuantity{ProductID: productID, Quantity: quantity})
}

// RemoveLines takes a previously read set of lines out of the cart.
func (s *Store) RemoveLines(ctx context.Context, lines []model.CartLine) error {
	return s.Dispatch(ctx, RemoveLines{Lines: lines})
}

// Clear empties the cart.
func (s *Store) Clear(ctx context.Context) error {
	return s.Dispatch(ctx, Clear{})
}

// Dispatch applies in and persists the result. A persistence error is
// returned but the in-memory state keeps the mutation.
func (s *Store) Dispatch(ctx context.Context, in Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = Reduce(s.state, in)
	metrics.StoreMutations.WithLabelValues(storeName, in.intentName()).Inc()
	s.log.Debug().
		Str("intent", in.intentName()).
		Int("lines", len(s.state.Lines)).
		Int("items", s.state.TotalItems()).
		Msg("cart updated")

	err := store.Save(ctx, s.kv, StorageKey, s.state)
	if err != nil {
		metrics.PersistFailures.WithLabelValues(storeName).Inc()
		s.log.Error().Err(err).Msg("persist cart snapshot")
		err = fmt.Errorf("%w: cart: %w", store.ErrPersist, err)
	}
	if s.notifier != nil {
		s.notifier.Notify(storeName, in.intentName())
	}
	return err
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{Lines: cloneLines(s.state.Lines)}
}

// Lines returns the cart lines in insertion order.
func (s *Store) Lines() []model.CartLine {
	return s.Snapshot().Lines
}

// TotalItems is the sum of quantities across all lines.
func (s *Store) TotalItems() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.TotalItems()
}

// TotalPrice is Σ price × quantity over snapshot prices.
func (s *Store) TotalPrice() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.TotalPrice()
}
