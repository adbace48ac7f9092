package loyalty

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/storefront-engine/internal/model"
	"github.com/atmx/storefront-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var t0 = time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)

func newStore(kv store.KV) *Store {
	return New(context.Background(), kv, Options{
		Log:     zerolog.Nop(),
		Now:     func() time.Time { return t0 },
		NewCode: func() string { return "ABCD1234" },
	})
}

func countBadge(a model.LoyaltyAccount, id string) int {
	n := 0
	for _, b := range a.Badges {
		if b.ID == id {
			n++
		}
	}
	return n
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		points int64
		level  int
		name   string
	}{
		{0, 1, "Bronze"},
		{99, 1, "Bronze"},
		{100, 2, "Silver"},
		{499, 2, "Silver"},
		{500, 3, "Gold"},
		{1000, 4, "Platinum"},
		{2500, 5, "Diamond"},
		{4999, 5, "Diamond"},
		{5000, 6, "Elite"},
		{1_000_000, 6, "Elite"},
	}
	for _, tt := range tests {
		tier := TierFor(tt.points)
		assert.Equal(t, tt.level, tier.Level, "points=%d", tt.points)
		assert.Equal(t, tt.name, tier.Name, "points=%d", tt.points)
	}
}

func TestAddPoints_CrossingIntoSilverAwardsOneBadge(t *testing.T) {
	s := newStore(store.NewMemoryStore())
	ctx := context.Background()

	_, err := s.AddPoints(ctx, 99, "Signup")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Account().Level)

	awarded, err := s.AddPoints(ctx, 1, "Review")
	require.NoError(t, err)
	acct := s.Account()
	assert.Equal(t, 2, acct.Level)
	require.Len(t, awarded, 1)
	assert.Equal(t, "level-2", awarded[0].ID)
	assert.Equal(t, "Silver Member", awarded[0].Name)
	assert.Equal(t, model.BadgeLevel, awarded[0].Type)

	// Staying within Silver does not grant it again.
	for i := 0; i < 5; i++ {
		_, err := s.AddPoints(ctx, 10, "Review")
		require.NoError(t, err)
	}
	acct = s.Account()
	assert.Equal(t, 2, acct.Level)
	assert.Equal(t, 1, countBadge(acct, "level-2"))
}

func TestAddPoints_FixedBadges(t *testing.T) {
	s := newStore(store.NewMemoryStore())
	ctx := context.Background()

	awarded, err := s.AddPoints(ctx, 10, "Purchase")
	require.NoError(t, err)
	require.Len(t, awarded, 1)
	assert.Equal(t, BadgeFirstPurchase, awarded[0].ID)
	assert.Equal(t, model.BadgeAchievement, awarded[0].Type)

	awarded, err = s.AddPoints(ctx, 150, "Purchase")
	require.NoError(t, err)
	var ids []string
	for _, b := range awarded {
		ids = append(ids, b.ID)
	}
	assert.Equal(t, []string{"level-2", BadgeBigSpender}, ids)

	_, err = s.AddPoints(ctx, 900, "Purchase")
	require.NoError(t, err)
	acct := s.Account()
	assert.True(t, acct.HasBadge(BadgeLoyalCustomer))
	assert.Equal(t, 1, countBadge(acct, BadgeBigSpender))
	assert.Equal(t, 1, countBadge(acct, BadgeFirstPurchase))
}

func TestAddPoints_NonPositiveIsNoop(t *testing.T) {
	kv := store.NewMemoryStore()
	s := newStore(kv)

	awarded, err := s.AddPoints(context.Background(), 0, "nothing")
	require.NoError(t, err)
	assert.Empty(t, awarded)
	assert.Equal(t, int64(0), s.Points())

	_, ok, err := kv.Get(context.Background(), StorageKey)
	require.NoError(t, err)
	assert.False(t, ok, "no-op must not write a snapshot")
}

func TestRedeemPoints_Property(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	s := newStore(store.NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 300; i++ {
		if rng.Intn(3) == 0 {
			_, err := s.AddPoints(ctx, rng.Int63n(200), "Purchase")
			require.NoError(t, err)
			continue
		}
		before := s.Account()
		amount := rng.Int63n(400) - 20

		ok, err := s.RedeemPoints(ctx, amount)
		require.NoError(t, err)
		after := s.Account()

		if amount <= 0 || amount > before.Points {
			assert.False(t, ok)
			assert.Equal(t, before.Points, after.Points)
			assert.Equal(t, before.TotalRedeemed, after.TotalRedeemed)
			continue
		}
		assert.True(t, ok)
		assert.Equal(t, before.Points-amount, after.Points)
		assert.Equal(t, before.TotalRedeemed+amount, after.TotalRedeemed)
		assert.LessOrEqual(t, after.TotalRedeemed, after.TotalEarned)
	}
}

func TestRedeemPoints_NeverDowngradesLevel(t *testing.T) {
	s := newStore(store.NewMemoryStore())
	ctx := context.Background()

	_, err := s.AddPoints(ctx, 600, "Purchase")
	require.NoError(t, err)
	require.Equal(t, 3, s.Account().Level)

	ok, err := s.RedeemPoints(ctx, 550)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 3, s.Account().Level)
	assert.Equal(t, "Gold", s.Tier().Name)
	// Progress follows lifetime earnings, not the balance left after redeeming.
	assert.True(t, s.LevelProgress().Equal(d(20)), "progress = %s", s.LevelProgress())
	assert.Equal(t, int64(400), s.PointsToNextLevel())

	// Earning back into Gold range must not re-award the Gold badge.
	_, err = s.AddPoints(ctx, 500, "Purchase")
	require.NoError(t, err)
	assert.Equal(t, 1, countBadge(s.Account(), "level-3"))
}

func TestLevel_FollowsLifetimeEarnings(t *testing.T) {
	s := newStore(store.NewMemoryStore())
	ctx := context.Background()

	_, err := s.AddPoints(ctx, 450, "Purchase")
	require.NoError(t, err)
	ok, err := s.RedeemPoints(ctx, 400)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, s.Account().Level)

	awarded, err := s.AddPoints(ctx, 100, "Purchase")
	require.NoError(t, err)

	acct := s.Account()
	assert.Equal(t, int64(550), acct.TotalEarned)
	assert.Equal(t, int64(150), acct.Points)
	assert.Equal(t, 3, acct.Level)
	assert.Equal(t, "Gold", s.Tier().Name)
	assert.Equal(t, 1, countBadge(acct, "level-3"))
	assert.Equal(t, int64(450), s.PointsToNextLevel())
	assert.True(t, s.LevelProgress().Equal(d(10)), "progress = %s", s.LevelProgress())

	var levelBadges int
	for _, b := range awarded {
		if b.Type == model.BadgeLevel {
			levelBadges++
		}
	}
	assert.Equal(t, 1, levelBadges)
}

func TestReduce_EarnNeverOverflows(t *testing.T) {
	a := Reduce(NewAccount(), Earn{Amount: math.MaxInt64, Reason: "seed", At: t0})
	require.Equal(t, int64(math.MaxInt64), a.Points)

	after := Reduce(a, Earn{Amount: 1, Reason: "more", At: t0})
	assert.Equal(t, a.Points, after.Points)
	assert.Equal(t, a.TotalEarned, after.TotalEarned)
	assert.Len(t, after.History, len(a.History))
	assert.NoError(t, after.Validate())
}

func TestAddPoints_RejectsOverflow(t *testing.T) {
	kv := store.NewMemoryStore()
	s := newStore(kv)
	ctx := context.Background()

	_, err := s.AddPoints(ctx, math.MaxInt64-10, "seed")
	require.NoError(t, err)

	awarded, err := s.AddPoints(ctx, 11, "overflow")
	assert.ErrorIs(t, err, ErrPointsOverflow)
	assert.Empty(t, awarded)
	assert.Equal(t, int64(math.MaxInt64-10), s.Points())
	assert.Equal(t, int64(math.MaxInt64-10), newStore(kv).Points())

	_, err = s.AddPoints(ctx, 10, "fits")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), s.Points())
}

func TestPointsValue(t *testing.T) {
	s := newStore(store.NewMemoryStore())
	_, err := s.AddPoints(context.Background(), 1234, "Purchase")
	require.NoError(t, err)
	assert.True(t, s.PointsValue().Equal(d(12.34)), "value = %s", s.PointsValue())
}

func TestLevelProgress(t *testing.T) {
	tests := []struct {
		name   string
		points int64
		want   decimal.Decimal
	}{
		{"bronze floor", 0, d(0)},
		{"bronze half", 50, d(50)},
		{"silver quarter", 200, d(25)},
		{"gold", 750, d(50)},
		{"diamond third", 3333, d(33.32)},
		{"elite", 7000, d(100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(store.NewMemoryStore())
			if tt.points > 0 {
				_, err := s.AddPoints(context.Background(), tt.points, "seed")
				require.NoError(t, err)
			}
			got := s.LevelProgress()
			assert.True(t, got.Equal(tt.want), "progress = %s, want %s", got, tt.want)
		})
	}
}

func TestPointsToNextLevel(t *testing.T) {
	s := newStore(store.NewMemoryStore())
	ctx := context.Background()
	assert.Equal(t, int64(100), s.PointsToNextLevel())

	_, err := s.AddPoints(ctx, 420, "Purchase")
	require.NoError(t, err)
	assert.Equal(t, int64(80), s.PointsToNextLevel())

	_, err = s.AddPoints(ctx, 10_000, "Purchase")
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.PointsToNextLevel())
}

func TestGenerateReferralCode(t *testing.T) {
	kv := store.NewMemoryStore()
	s := newStore(kv)
	ctx := context.Background()

	code, err := s.GenerateReferralCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SHOP-ABCD1234", code)

	_, err = s.GenerateReferralCode(ctx)
	require.NoError(t, err)

	reloaded := newStore(kv)
	acct := reloaded.Account()
	assert.Equal(t, "SHOP-ABCD1234", acct.ReferralCode)
	assert.Equal(t, 2, acct.Referrals)
}

func TestRandomCodeShape(t *testing.T) {
	code := randomCode()
	assert.Len(t, code, 8)
	assert.Equal(t, strings.ToUpper(code), code)
}

func TestHistoryIsBounded(t *testing.T) {
	s := newStore(store.NewMemoryStore())
	ctx := context.Background()
	for i := 0; i < MaxHistory+25; i++ {
		_, err := s.AddPoints(ctx, 1, "tick")
		require.NoError(t, err)
	}
	h := s.Account().History
	require.Len(t, h, MaxHistory)
	assert.Equal(t, int64(MaxHistory+25), h[len(h)-1].BalanceAfter)
}

func TestNew_RestoresAccount(t *testing.T) {
	kv := store.NewMemoryStore()
	s := newStore(kv)
	ctx := context.Background()
	_, err := s.AddPoints(ctx, 250, "Purchase")
	require.NoError(t, err)
	_, err = s.RedeemPoints(ctx, 40)
	require.NoError(t, err)

	acct := newStore(kv).Account()
	assert.Equal(t, int64(210), acct.Points)
	assert.Equal(t, int64(250), acct.TotalEarned)
	assert.Equal(t, int64(40), acct.TotalRedeemed)
	assert.Equal(t, 2, acct.Level)
	assert.Len(t, acct.History, 2)
	assert.True(t, acct.Badges[0].EarnedAt.Equal(t0))
}

func TestNew_CorruptSnapshotStartsFresh(t *testing.T) {
	kv := store.NewMemoryStore()
	require.NoError(t, kv.Set(context.Background(), StorageKey, `{"points":"lots"`))

	acct := newStore(kv).Account()
	assert.Equal(t, int64(0), acct.Points)
	assert.Equal(t, 1, acct.Level)
	assert.NotNil(t, acct.Badges)
}

func TestNew_InconsistentSnapshotStartsFresh(t *testing.T) {
	tests := map[string]string{
		"negative points":      `{"points":-5,"total_earned":0,"total_redeemed":5,"level":1}`,
		"redeemed over earned": `{"points":0,"total_earned":10,"total_redeemed":20,"level":1}`,
		"points out of step":   `{"points":900,"total_earned":100,"total_redeemed":0,"level":2}`,
		"duplicate badge":      `{"points":0,"level":1,"badges":[{"id":"level-2","type":"level"},{"id":"level-2","type":"level"}]}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			kv := store.NewMemoryStore()
			require.NoError(t, kv.Set(context.Background(), StorageKey, raw))

			acct := newStore(kv).Account()
			assert.Equal(t, int64(0), acct.Points)
			assert.Equal(t, int64(0), acct.TotalRedeemed)
			assert.Empty(t, acct.Badges)
		})
	}
}

type failingKV struct{ *store.MemoryStore }

func (failingKV) Set(context.Context, string, string) error { return errors.New("quota exceeded") }

func TestAddPoints_PersistFailureKeepsCredit(t *testing.T) {
	s := newStore(failingKV{MemoryStore: store.NewMemoryStore()})

	awarded, err := s.AddPoints(context.Background(), 120, "Purchase")
	require.ErrorIs(t, err, store.ErrPersist)
	assert.Equal(t, int64(120), s.Points())
	assert.NotEmpty(t, awarded)
}

func TestReset(t *testing.T) {
	s := newStore(store.NewMemoryStore())
	ctx := context.Background()
	_, err := s.AddPoints(ctx, 700, "Purchase")
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx))
	acct := s.Account()
	assert.Equal(t, int64(0), acct.Points)
	assert.Equal(t, 1, acct.Level)
	assert.Empty(t, acct.Badges)
}
