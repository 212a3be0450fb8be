package billing

import (
	"errors"
	"strings"
	"time"

	"github.com/NMMonteiro/apps4eu-marketplace/internal/money"
	"github.com/NMMonteiro/apps4eu-marketplace/models"
)

type Plan string

const (
	PlanLifetime Plan = "LIFETIME"
	PlanMonthly  Plan = "1m"
	PlanYearly   Plan = "12m"
	PlanBiennial Plan = "24m"
)

var (
	ErrUnknownPlan     = errors.New("billing: unknown plan")
	ErrPlanUnavailable = errors.New("billing: plan not offered for product")
)

// ParsePlan accepts the plan selector sent by the storefront. An empty
// selector means lifetime.
func ParsePlan(s string) (Plan, error) {
	switch strings.TrimSpace(s) {
	case "":
		return PlanLifetime, nil
	case "1m":
		return PlanMonthly, nil
	case "12m":
		return PlanYearly, nil
	case "24m":
		return PlanBiennial, nil
	}
	if strings.EqualFold(strings.TrimSpace(s), string(PlanLifetime)) {
		return PlanLifetime, nil
	}
	return "", ErrUnknownPlan
}

func (p Plan) Recurring() bool {
	return p == PlanMonthly || p == PlanYearly || p == PlanBiennial
}

type IntervalUnit string

const (
	IntervalMonth IntervalUnit = "month"
	IntervalYear  IntervalUnit = "year"
)

type Interval struct {
	Unit  IntervalUnit
	Count int64
}

// Interval returns the billing cycle of a recurring plan.
func (p Plan) Interval() (Interval, bool) {
	switch p {
	case PlanMonthly:
		return Interval{Unit: IntervalMonth, Count: 1}, true
	case PlanYearly:
		return Interval{Unit: IntervalYear, Count: 1}, true
	case PlanBiennial:
		return Interval{Unit: IntervalYear, Count: 2}, true
	}
	return Interval{}, false
}

// ExpiresAt is the end of one billing cycle starting at from.
func (i Interval) ExpiresAt(from time.Time) time.Time {
	if i.Unit == IntervalYear {
		return from.AddDate(int(i.Count), 0, 0)
	}
	return from.AddDate(0, int(i.Count), 0)
}

// Quote is the price the buyer is charged for a product and plan.
type Quote struct {
	Plan       Plan
	UnitAmount money.Amount
	Interval   Interval
}

func (q Quote) Recurring() bool {
	return q.Plan.Recurring()
}

// LicenseExpiry returns when a license bought with this quote lapses, or nil
// for lifetime purchases.
func (q Quote) LicenseExpiry(from time.Time) *time.Time {
	if !q.Recurring() {
		return nil
	}
	t := q.Interval.ExpiresAt(from)
	return &t
}

// ResolveQuote picks the unit price for plan. Products without tiered
// prices are always sold at their lifetime price whatever plan was asked for.
func ResolveQuote(product *models.Product, planParam string) (Quote, error) {
	lifetime := Quote{Plan: PlanLifetime, UnitAmount: product.Price}
	if product.BillingType != models.BillingSubscription || !product.HasTieredPrices() {
		return lifetime, nil
	}

	plan, err := ParsePlan(planParam)
	if err != nil {
		return Quote{}, err
	}
	if plan == PlanLifetime {
		return lifetime, nil
	}

	var price *money.Amount
	switch plan {
	case PlanMonthly:
		price = product.Price1m
	case PlanYearly:
		price = product.Price12m
	case PlanBiennial:
		price = product.Price24m
	}
	if price == nil {
		return Quote{}, ErrPlanUnavailable
	}

	interval, _ := plan.Interval()
	return Quote{Plan: plan, UnitAmount: *price, Interval: interval}, nil
}
