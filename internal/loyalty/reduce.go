package loyalty

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/atmx/storefront-engine/internal/model"
)

// MaxHistory bounds the transaction log kept in the snapshot.
const MaxHistory = 100

// ErrPointsOverflow is returned for a credit the ledger cannot represent.
var ErrPointsOverflow = errors.New("loyalty: points total would overflow")

// Fixed badge ids.
const (
	BadgeFirstPurchase = "first-purchase"
	BadgeBigSpender    = "big-spender"
	BadgeLoyalCustomer = "loyal-customer"
)

const (
	bigSpenderThreshold    = 100
	loyalCustomerThreshold = 1000
)

// Intent is a requested ledger transition.
type Intent interface {
	intentName() string
}

// Earn credits Amount points. A credit that would overflow the lifetime
// total is ignored.
type Earn struct {
	Amount int64
	Reason string
	At     time.Time
}

// Redeem debits Amount points. Amounts outside (0, points] leave the
// account untouched.
type Redeem struct {
	Amount int64
	At     time.Time
}

// SetReferral stores a freshly issued referral code.
type SetReferral struct {
	Code string
}

// Reset returns the account to its initial state.
type Reset struct{}

func (Earn) intentName() string        { return "earn" }
func (Redeem) intentName() string      { return "redeem" }
func (SetReferral) intentName() string { return "referral" }
func (Reset) intentName() string       { return "reset" }

// NewAccount is the state of a profile that has never earned anything.
func NewAccount() model.LoyaltyAccount {
	return model.LoyaltyAccount{
		Level:   1,
		Badges:  []model.Badge{},
		History: []model.PointsTransaction{},
	}
}

// Reduce returns the account that results from applying in to a.
//
// The level follows lifetime earnings (TotalEarned), so it only moves up and
// a redemption never demotes the account.
func Reduce(a model.LoyaltyAccount, in Intent) model.LoyaltyAccount {
	switch in := in.(type) {
	case Earn:
		if in.Amount <= 0 || overflows(a, in.Amount) {
			return a
		}
		next := clone(a)
		firstEarn := next.TotalEarned == 0
		next.Points += in.Amount
		next.TotalEarned += in.Amount
		next.History = appendHistory(next.History, model.PointsTransaction{
			Type:         model.TransactionEarn,
			Amount:       in.Amount,
			Reason:       in.Reason,
			BalanceAfter: next.Points,
			At:           in.At,
		})

		if t := TierFor(next.TotalEarned); t.Level > next.Level {
			next.Level = t.Level
			award(&next, model.Badge{
				ID:   fmt.Sprintf("level-%d", t.Level),
				Name: t.Name + " Member",
				Type: model.BadgeLevel,
			}, in.At)
		}
		if firstEarn {
			award(&next, model.Badge{ID: BadgeFirstPurchase, Name: "First Purchase", Type: model.BadgeAchievement}, in.At)
		}
		if in.Amount >= bigSpenderThreshold {
			award(&next, model.Badge{ID: BadgeBigSpender, Name: "Big Spender", Type: model.BadgeMilestone}, in.At)
		}
		if next.TotalEarned >= loyalCustomerThreshold {
			award(&next, model.Badge{ID: BadgeLoyalCustomer, Name: "Loyal Customer", Type: model.BadgeLoyalty}, in.At)
		}
		return next

	case Redeem:
		if in.Amount <= 0 || in.Amount > a.Points {
			return a
		}
		next := clone(a)
		next.Points -= in.Amount
		next.TotalRedeemed += in.Amount
		next.History = appendHistory(next.History, model.PointsTransaction{
			Type:         model.TransactionRedeem,
			Amount:       in.Amount,
			BalanceAfter: next.Points,
			At:           in.At,
		})
		return next

	case SetReferral:
		next := clone(a)
		next.ReferralCode = in.Code
		next.Referrals++
		return next

	case Reset:
		return NewAccount()
	}
	return a
}

// overflows reports whether crediting amount would exceed int64. Points never
// exceeds TotalEarned, so checking the lifetime total covers both.
func overflows(a model.LoyaltyAccount, amount int64) bool {
	return a.TotalEarned > math.MaxInt64-amount
}

// award appends b unless an account badge already carries its id.
func award(a *model.LoyaltyAccount, b model.Badge, at time.Time) {
	if a.HasBadge(b.ID) {
		return
	}
	b.EarnedAt = at
	a.Badges = append(a.Badges, b)
}

func appendHistory(h []model.PointsTransaction, tx model.PointsTransaction) []model.PointsTransaction {
	h = append(h, tx)
	if len(h) > MaxHistory {
		h = h[len(h)-MaxHistory:]
	}
	return h
}

func clone(a model.LoyaltyAccount) model.LoyaltyAccount {
	out := a
	out.Badges = append(make([]model.Badge, 0, len(a.Badges)+1), a.Badges...)
	out.History = append(make([]model.PointsTransaction, 0, len(a.History)+1), a.History...)
	return out
}

// newBadges returns the badges present in after but not in before. Badges
// are append-only, so this is the tail of after.
func newBadges(before, after model.LoyaltyAccount) []model.Badge {
	if len(after.Badges) <= len(before.Badges) {
		return nil
	}
	out := make([]model.Badge, len(after.Badges)-len(before.Badges))
	copy(out, after.Badges[len(before.Badges):])
	return out
}
