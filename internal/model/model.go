// Package model defines the core domain types shared across the storefront engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"fmt"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Lets numeric tags such as gte=0 apply to decimal fields.
	v.RegisterCustomTypeFunc(func(f reflect.Value) any {
		d, ok := f.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		out, _ := d.Float64()
		return out
	}, decimal.Decimal{})
	return v
}

// Validate checks the validate struct tags of a snapshot value.
func Validate(v any) error {
	return validate.Struct(v)
}

// Product is a read-only catalog record. Stores only keep ids or shallow
// copies of the fields they need.
type Product struct {
	ID          int64           `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Price       decimal.Decimal `json:"price" yaml:"price"`
	Category    string          `json:"category" yaml:"category"`
	Brand       string          `json:"brand" yaml:"brand"`
	Rating      float64         `json:"rating" yaml:"rating"`             // 0–5
	ReviewCount int             `json:"review_count" yaml:"review_count"` // >= 0
	Features    []string        `json:"features,omitempty" yaml:"features"`
}

// CartLine is one product's accumulated quantity within the cart.
// Price is captured when the line is first created and never refreshed.
type CartLine struct {
	ProductID int64           `json:"product_id" validate:"gt=0"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price" validate:"gte=0"`
	Quantity  int             `json:"quantity" validate:"min=1"`
}

// Subtotal returns price × quantity for the line.
func (l CartLine) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// WishlistEntry is a saved product. DateAdded is stamped on first insertion only.
type WishlistEntry struct {
	ProductID int64           `json:"product_id" validate:"gt=0"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Brand     string          `json:"brand"`
	Price     decimal.Decimal `json:"price" validate:"gte=0"`
	DateAdded time.Time       `json:"date_added"`
}

// RecentlyViewedEntry is one slot of the bounded most-recent-first view log.
type RecentlyViewedEntry struct {
	ProductID int64           `json:"product_id" validate:"gt=0"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Brand     string          `json:"brand"`
	Price     decimal.Decimal `json:"price" validate:"gte=0"`
	ViewedAt  time.Time       `json:"viewed_at"`
}

// BadgeType classifies how a badge was earned.
type BadgeType string

const (
	BadgeLevel       BadgeType = "level"
	BadgeMilestone   BadgeType = "milestone"
	BadgeAchievement BadgeType = "achievement"
	BadgeLoyalty     BadgeType = "loyalty"
)

// Badge is a one-time achievement marker. IDs are unique within an account.
type Badge struct {
	ID       string    `json:"id" validate:"required"`
	Name     string    `json:"name"`
	Type     BadgeType `json:"type" validate:"oneof=level milestone achievement loyalty"`
	EarnedAt time.Time `json:"earned_at"`
}

// TransactionType is the direction of a points movement.
type TransactionType string

const (
	TransactionEarn   TransactionType = "earn"
	TransactionRedeem TransactionType = "redeem"
)

// PointsTransaction is an immutable record of one earn or redeem event.
type PointsTransaction struct {
	Type         TransactionType `json:"type" validate:"oneof=earn redeem"`
	Amount       int64           `json:"amount" validate:"gt=0"`
	Reason       string          `json:"reason,omitempty"`
	BalanceAfter int64           `json:"balance_after" validate:"gte=0"`
	At           time.Time       `json:"at"`
}

// LoyaltyAccount is the points ledger of the current profile.
//
// Invariants: Points >= 0, TotalEarned and TotalRedeemed never decrease,
// TotalRedeemed <= TotalEarned, Level in [1,6], badge ids unique.
type LoyaltyAccount struct {
	Points        int64               `json:"points" validate:"gte=0"`
	TotalEarned   int64               `json:"total_earned" validate:"gte=0"`
	TotalRedeemed int64               `json:"total_redeemed" validate:"gte=0,ltefield=TotalEarned"`
	Level         int                 `json:"level" validate:"gte=0,lte=6"`
	Badges        []Badge             `json:"badges" validate:"unique=ID,dive"`
	ReferralCode  string              `json:"referral_code,omitempty"`
	Referrals     int                 `json:"referrals" validate:"gte=0"`
	History       []PointsTransaction `json:"history" validate:"dive"`
}

// Validate reports whether the ledger satisfies its invariants.
func (a LoyaltyAccount) Validate() error {
	if err := Validate(a); err != nil {
		return err
	}
	if a.Points != a.TotalEarned-a.TotalRedeemed {
		return fmt.Errorf("loyalty: points %d do not match earned %d minus redeemed %d",
			a.Points, a.TotalEarned, a.TotalRedeemed)
	}
	return nil
}

// HasBadge reports whether a badge with the given id was already awarded.
func (a LoyaltyAccount) HasBadge(id string) bool {
	for _, b := range a.Badges {
		if b.ID == id {
			return true
		}
	}
	return false
}
