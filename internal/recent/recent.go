// Package recent keeps the bounded, most-recent-first log of viewed products
// and derives simple recommendations from it.
package recent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/atmx/storefront-engine/internal/metrics"
	"github.com/atmx/storefront-engine/internal/model"
	"github.com/atmx/storefront-engine/internal/store"
)

const (
	// StorageKey is the durable key the view log lives under.
	StorageKey = "recentlyViewed"

	// MaxEntries bounds the log; the oldest views are evicted first.
	MaxEntries = 20

	DefaultListLimit      = 10
	DefaultRecommendLimit = 5
	DefaultTrendingLimit  = 5
)

const storeName = "recently_viewed"

// State is the persisted log, most recent first.
type State struct {
	Entries []model.RecentlyViewedEntry `json:"entries" validate:"unique=ProductID,dive"`
}

func (s State) Validate() error { return model.Validate(s) }

// Intent is a requested log transition.
type Intent interface {
	intentName() string
}

// RecordView moves (or inserts) Product to the front of the log.
type RecordView struct {
	Product model.Product
	At      time.Time
}

// Clear empties the log.
type Clear struct{}

func (RecordView) intentName() string { return "record_view" }
func (Clear) intentName() string      { return "clear" }

// Reduce returns the state that results from applying in to s.
func Reduce(s State, in Intent) State {
	switch in := in.(type) {
	case RecordView:
		entries := make([]model.RecentlyViewedEntry, 0, len(s.Entries)+1)
		entries = append(entries, model.RecentlyViewedEntry{
			ProductID: in.Product.ID,
			Name:      in.Product.Name,
			Category:  in.Product.Category,
			Brand:     in.Product.Brand,
			Price:     in.Product.Price,
			ViewedAt:  in.At,
		})
		for _, e := range s.Entries {
			if e.ProductID != in.Product.ID {
				entries = append(entries, e)
			}
		}
		if len(entries) > MaxEntries {
			entries = entries[:MaxEntries]
		}
		return State{Entries: entries}

	case Clear:
		return State{Entries: []model.RecentlyViewedEntry{}}
	}
	return s
}

// List returns up to limit entries, most recent first.
func (s State) List(limit int) []model.RecentlyViewedEntry {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return head(s.Entries, limit)
}

// RecommendationsFor returns logged entries sharing a category or brand with
// productID, excluding productID itself. Unknown ids yield nothing.
func (s State) RecommendationsFor(productID int64, limit int) []model.RecentlyViewedEntry {
	if limit <= 0 {
		limit = DefaultRecommendLimit
	}
	var target *model.RecentlyViewedEntry
	for i := range s.Entries {
		if s.Entries[i].ProductID == productID {
			target = &s.Entries[i]
			break
		}
	}
	out := []model.RecentlyViewedEntry{}
	if target == nil {
		return out
	}
	for _, e := range s.Entries {
		if len(out) == limit {
			break
		}
		if e.ProductID == productID {
			continue
		}
		if e.Category == target.Category || e.Brand == target.Brand {
			out = append(out, e)
		}
	}
	return out
}

// Trending ranks logged products by how often they occur, ties broken by the
// most recent position.
func (s State) Trending(limit int) []model.RecentlyViewedEntry {
	if limit <= 0 {
		limit = DefaultTrendingLimit
	}
	counts := make(map[int64]int, len(s.Entries))
	var firstSeen []model.RecentlyViewedEntry
	for _, e := range s.Entries {
		if counts[e.ProductID] == 0 {
			firstSeen = append(firstSeen, e)
		}
		counts[e.ProductID]++
	}
	// Stable sort keeps log order (most recent first) among equal counts.
	sort.SliceStable(firstSeen, func(i, j int) bool {
		return counts[firstSeen[i].ProductID] > counts[firstSeen[j].ProductID]
	})
	return head(firstSeen, limit)
}

func head(entries []model.RecentlyViewedEntry, n int) []model.RecentlyViewedEntry {
	if n > len(entries) {
		n = len(entries)
	}
	out := make([]model.RecentlyViewedEntry, n)
	copy(out, entries[:n])
	return out
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

// Store serializes view-log transitions and persists after each one.
type Store struct {
	mu       sync.Mutex
	state    State
	kv       store.KV
	log      zerolog.Logger
	notifier Notifier
	now      func() time.Time
}

// New loads the persisted log (or an empty one) from kv. A stored log longer
// than MaxEntries is truncated on load.
func New(ctx context.Context, kv store.KV, opts Options) *Store {
	log := opts.Log.With().Str("store", storeName).Logger()
	st := store.Load(ctx, kv, StorageKey, State{}, log)
	if len(st.Entries) > MaxEntries {
		st.Entries = st.Entries[:MaxEntries]
	}
	if st.Entries == nil {
		st.Entries = []model.RecentlyViewedEntry{}
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{state: st, kv: kv, log: log, notifier: opts.Notifier, now: now}
}

// RecordView logs a view of p at the current time.
func (s *Store) RecordView(ctx context.Context, p model.Product) error {
	return s.Dispatch(ctx, RecordView{Product: p, At: s.now()})
}

// Clear empties the log.
func (s *Store) Clear(ctx context.Context) error {
	return s.Dispatch(ctx, Clear{})
}

// Dispatch applies in and persists the result.
func (s *Store) Dispatch(ctx context.Context, in Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = Reduce(s.state, in)
	metrics.StoreMutations.WithLabelValues(storeName, in.intentName()).Inc()
	s.log.Debug().Str("intent", in.intentName()).Int("entries", len(s.state.Entries)).Msg("view log updated")

	err := store.Save(ctx, s.kv, StorageKey, s.state)
	if err != nil {
		metrics.PersistFailures.WithLabelValues(storeName).Inc()
		s.log.Error().Err(err).Msg("persist view log snapshot")
		err = fmt.Errorf("%w: recently viewed: %w", store.ErrPersist, err)
	}
	if s.notifier != nil {
		s.notifier.Notify(storeName, in.intentName())
	}
	return err
}

// Snapshot returns a copy of the whole log.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{Entries: head(s.state.Entries, len(s.state.Entries))}
}

// List returns up to limit entries, most recent first.
func (s *Store) List(limit int) []model.RecentlyViewedEntry {
	return s.Snapshot().List(limit)
}

// RecommendationsFor returns related logged products for productID.
func (s *Store) RecommendationsFor(productID int64, limit int) []model.RecentlyViewedEntry {
	return s.Snapshot().RecommendationsFor(productID, limit)
}

// Trending returns the most frequently logged products.
func (s *Store) Trending(limit int) []model.RecentlyViewedEntry {
	return s.Snapshot().Trending(limit)
}
