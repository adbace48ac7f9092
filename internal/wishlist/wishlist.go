// Package wishlist holds the saved-products set.
package wishlist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/atmx/storefront-engine/internal/metrics"
	"github.com/atmx/storefront-engine/internal/model"
	"github.com/atmx/storefront-engine/internal/store"
)

// StorageKey is the durable key the wishlist snapshot lives under.
const StorageKey = "wishlist-state"

const storeName = "wishlist"

// State is the persisted wishlist snapshot, in insertion order.
type State struct {
	Items []model.WishlistEntry `json:"items" validate:"unique=ProductID,dive"`
}

// Validate rejects snapshots that save a product twice.
func (s State) Validate() error { return model.Validate(s) }

// Intent is a requested wishlist transition.
type Intent interface {
	intentName() string
}

// Add saves Product, stamped with At on first insertion only.
type Add struct {
	Product model.Product
	At      time.Time
}

// Remove drops ProductID from the set.
type Remove struct {
	ProductID int64
}

// Toggle adds Product when absent and removes it otherwise.
type Toggle struct {
	Product model.Product
	At      time.Time
}

// Clear empties the set.
type Clear struct{}

func (Add) intentName() string    { return "add" }
func (Remove) intentName() string { return "remove" }
func (Toggle) intentName() string { return "toggle" }
func (Clear) intentName() string  { return "clear" }

// Reduce returns the state that results from applying in to s.
func Reduce(s State, in Intent) State {
	switch in := in.(type) {
	case Add:
		if s.Contains(in.Product.ID) {
			return s
		}
		items := make([]model.WishlistEntry, 0, len(s.Items)+1)
		items = append(items, s.Items...)
		items = append(items, model.WishlistEntry{
			ProductID: in.Product.ID,
			Name:      in.Product.Name,
			Category:  in.Product.Category,
			Brand:     in.Product.Brand,
			Price:     in.Product.Price,
			DateAdded: in.At,
		})
		return State{Items: items}

	case Remove:
		if !s.Contains(in.ProductID) {
			return s
		}
		items := make([]model.WishlistEntry, 0, len(s.Items)-1)
		for _, it := range s.Items {
			if it.ProductID != in.ProductID {
				items = append(items, it)
			}
		}
		return State{Items: items}

	case Toggle:
		if s.Contains(in.Product.ID) {
			return Reduce(s, Remove{ProductID: in.Product.ID})
		}
		return Reduce(s, Add{Product: in.Product, At: in.At})

	case Clear:
		return State{Items: []model.WishlistEntry{}}
	}
	return s
}

// Contains reports whether productID is saved.
func (s State) Contains(productID int64) bool {
	for _, it := range s.Items {
		if it.ProductID == productID {
			return true
		}
	}
	return false
}

// Notifier is told about every applied transition.
type Notifier interface {
	Notify(store, intent string)
}

// Options configures a Store. The zero value is usable.
type Options struct {
	Log      zerolog.Logger
	Notifier Notifier
	Now      func() time.Time
}

// Store serializes wishlist transitions and persists after each one.
type Store struct {
	mu       sync.Mutex
	state    State
	kv       store.KV
	log      zerolog.Logger
	notifier Notifier
	now      func() time.Time
}

// New loads the persisted wishlist (or an empty one) from kv.
func New(ctx context.Context, kv store.KV, opts Options) *Store {
	log := opts.Log.With().Str("store", storeName).Logger()
	st := store.Load(ctx, kv, StorageKey, State{Items: []model.WishlistEntry{}}, log)
	if st.Items == nil {
		st.Items = []model.WishlistEntry{}
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{state: st, kv: kv, log: log, notifier: opts.Notifier, now: now}
}

// Add saves p. Adding a saved product changes nothing.
func (s *Store) Add(ctx context.Context, p model.Product) error {
	return s.Dispatch(ctx, Add{Product: p, At: s.now()})
}

// Remove drops productID; absent ids are a no-op.
func (s *Store) Remove(ctx context.Context, productID int64) error {
	return s.Dispatch(ctx, Remove{ProductID: productID})
}

// Clear empties the wishlist.
func (s *Store) Clear(ctx context.Context) error {
	return s.Dispatch(ctx, Clear{})
}

// Toggle saves p if absent and removes it otherwise. It reports whether p
// is saved afterwards.
func (s *Store) Toggle(ctx context.Context, p model.Product) (bool, error) {
	st, err := s.apply(ctx, Toggle{Product: p, At: s.now()})
	return st.Contains(p.ID), err
}

// Dispatch applies in and persists the result.
func (s *Store) Dispatch(ctx context.Context, in Intent) error {
	_, err := s.apply(ctx, in)
	return err
}

func (s *Store) apply(ctx context.Context, in Intent) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = Reduce(s.state, in)
	metrics.StoreMutations.WithLabelValues(storeName, in.intentName()).Inc()
	s.log.Debug().Str("intent", in.intentName()).Int("items", len(s.state.Items)).Msg("wishlist updated")

	err := store.Save(ctx, s.kv, StorageKey, s.state)
	if err != nil {
		metrics.PersistFailures.WithLabelValues(storeName).Inc()
		s.log.Error().Err(err).Msg("persist wishlist snapshot")
		err = fmt.Errorf("%w: wishlist: %w", store.ErrPersist, err)
	}
	if s.notifier != nil {
		s.notifier.Notify(storeName, in.intentName())
	}
	return s.state, err
}

// Contains reports whether productID is saved.
func (s *Store) Contains(productID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Contains(productID)
}

// List returns the saved entries in insertion order.
func (s *Store) List() []model.WishlistEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.WishlistEntry, len(s.state.Items))
	copy(out, s.state.Items)
	return out
}

// Len is the number of saved products.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.Items)
}
