// Package loyalty holds the points ledger, the tier ladder and the badge
// rules of the current profile.
package loyalty

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/atmx/storefront-engine/internal/metrics"
	"github.com/atmx/storefront-engine/internal/model"
	"github.com/atmx/storefront-engine/internal/store"
)

// StorageKey is the durable key the account snapshot lives under.
const StorageKey = "loyaltyData"

// ReferralPrefix starts every generated referral code.
const ReferralPrefix = "SHOP-"

const storeName = "loyalty"

// pointValue is the currency value of a single point.
var pointValue = decimal.New(1, -2)

// Notifier is told about every applied transition.
type Notifier interface {
	Notify(store, intent string)
}

// Options configures a Store. The zero value is usable.
type Options struct {
	Log      zerolog.Logger
	Notifier Notifier
	Now      func() time.Time
	// NewCode returns the random part of a referral code.
	NewCode func() string
}

// Store serializes ledger transitions and persists after each one.
type Store struct {
	mu       sync.Mutex
	acct     model.LoyaltyAccount
	kv       store.KV
	log      zerolog.Logger
	notifier Notifier
	now      func() time.Time
	newCode  func() string
}

// New loads the persisted account (or a fresh one) from kv.
func New(ctx context.Context, kv store.KV, opts Options) *Store {
	log := opts.Log.With().Str("store", storeName).Logger()
	acct := store.Load(ctx, kv, StorageKey, NewAccount(), log)
	if t := TierFor(acct.TotalEarned); acct.Level < t.Level {
		acct.Level = t.Level
	}
	if acct.Badges == nil {
		acct.Badges = []model.Badge{}
	}
	if acct.History == nil {
		acct.History = []model.PointsTransaction{}
	}

	s := &Store{acct: acct, kv: kv, log: log, notifier: opts.Notifier, now: opts.Now, newCode: opts.NewCode}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newCode == nil {
		s.newCode = randomCode
	}
	return s
}

func randomCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// AddPoints credits amount points and returns the badges the credit unlocked.
// Non-positive amounts change nothing; a credit past the int64 range fails
// with ErrPointsOverflow.
func (s *Store) AddPoints(ctx context.Context, amount int64, reason string) ([]model.Badge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if amount <= 0 {
		return nil, nil
	}
	if overflows(s.acct, amount) {
		s.log.Warn().Int64("amount", amount).Int64("total_earned", s.acct.TotalEarned).Msg("credit rejected")
		return nil, ErrPointsOverflow
	}
	before := s.acct
	err := s.applyLocked(ctx, Earn{Amount: amount, Reason: reason, At: s.now()})

	metrics.PointsEarned.Add(float64(amount))
	awarded := newBadges(before, s.acct)
	for _, b := range awarded {
		metrics.BadgesAwarded.WithLabelValues(string(b.Type)).Inc()
		s.log.Info().Str("badge", b.ID).Str("type", string(b.Type)).Msg("badge awarded")
	}
	if s.acct.Level > before.Level {
		s.log.Info().Int("from", before.Level).Int("to", s.acct.Level).Msg("tier upgraded")
	}
	return awarded, err
}

// RedeemPoints debits amount points. It reports false, leaving the account
// untouched, when amount is not positive or exceeds the balance.
func (s *Store) RedeemPoints(ctx context.Context, amount int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if amount <= 0 || amount > s.acct.Points {
		metrics.RedemptionRejections.Inc()
		s.log.Debug().Int64("amount", amount).Int64("balance", s.acct.Points).Msg("redemption rejected")
		return false, nil
	}
	err := s.applyLocked(ctx, Redeem{Amount: amount, At: s.now()})
	metrics.PointsRedeemed.Add(float64(amount))
	return true, err
}

// GenerateReferralCode issues a new referral code, counts the referral and
// stores the code on the account.
func (s *Store) GenerateReferralCode(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := ReferralPrefix + s.newCode()
	return code, s.applyLocked(ctx, SetReferral{Code: code})
}

// Reset discards the account.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(ctx, Reset{})
}

// applyLocked must be called with s.mu held.
func (s *Store) applyLocked(ctx context.Context, in Intent) error {
	s.acct = Reduce(s.acct, in)
	metrics.StoreMutations.WithLabelValues(storeName, in.intentName()).Inc()
	s.log.Debug().
		Str("intent", in.intentName()).
		Int64("points", s.acct.Points).
		Int("level", s.acct.Level).
		Msg("loyalty updated")

	err := store.Save(ctx, s.kv, StorageKey, s.acct)
	if err != nil {
		metrics.PersistFailures.WithLabelValues(storeName).Inc()
		s.log.Error().Err(err).Msg("persist loyalty snapshot")
		err = fmt.Errorf("%w: loyalty: %w", store.ErrPersist, err)
	}
	if s.notifier != nil {
		s.notifier.Notify(storeName, in.intentName())
	}
	return err
}

// Account returns a copy of the ledger.
func (s *Store) Account() model.LoyaltyAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.acct)
}

// Points is the current balance.
func (s *Store) Points() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acct.Points
}

// Tier is the tier of the account's current level.
func (s *Store) Tier() Tier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TierAt(s.acct.Level)
}

// PointsValue is the currency value of the balance, one cent per point.
func (s *Store) PointsValue() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return decimal.NewFromInt(s.acct.Points).Mul(pointValue)
}

// LevelProgress is how far, in percent, lifetime earnings have moved from
// the current tier's floor toward the next tier's. It is 100 at the top tier.
func (s *Store) LevelProgress() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return levelProgress(s.acct)
}

// PointsToNextLevel is how many more points must be earned to reach the
// next tier, or 0 at the top tier.
func (s *Store) PointsToNextLevel() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := TierAt(s.acct.Level)
	if t.Top() || s.acct.TotalEarned >= t.Max {
		return 0
	}
	return t.Max - s.acct.TotalEarned
}

var hundred = decimal.NewFromInt(100)

func levelProgress(a model.LoyaltyAccount) decimal.Decimal {
	t := TierAt(a.Level)
	if t.Top() {
		return hundred
	}
	pct := decimal.NewFromInt(a.TotalEarned - t.Min).
		Mul(hundred).
		Div(decimal.NewFromInt(t.Max - t.Min)).
		Round(2)
	switch {
	case pct.IsNegative():
		return decimal.Zero
	case pct.GreaterThan(hundred):
		return hundred
	}
	return pct
}
