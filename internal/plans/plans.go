// Package plans holds the static billing catalog: per-plan monthly credits,
// the provider price to plan map, and the one-off credit packages.
package plans

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"creditledger/internal/config"
	"creditledger/internal/money"
)

const (
	FreePlanID     = "free"
	LifetimePlanID = "lifetime"
)

var (
	ErrPlanNotFound    = errors.New("plan not found")
	ErrPackageNotFound = errors.New("credit package not found")
	ErrInvalidPriceMap = errors.New("invalid price plan map")
)

// Plan is the credit configuration of one subscription plan.
type Plan struct {
	ID              string `json:"id"`
	MonthlyCredits  int64  `json:"monthly_credits"`
	RolloverEnabled bool   `json:"rollover_enabled"`
	Lifetime        bool   `json:"lifetime"`
}

// Package is a one-off credit bundle sold in the purchase-enabled variant.
type Package struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Credits    int64  `json:"credits"`
	PriceCents int64  `json:"price_cents"`
	Price      string `json:"price"`
	Popular    bool   `json:"popular,omitempty"`
}

type Catalog struct {
	plans    map[string]Plan
	prices   map[string]string
	packages []Package
}

var subscriptionPlans = []Plan{
	{ID: FreePlanID, MonthlyCredits: 0},
	{ID: "basic_monthly", MonthlyCredits: 50},
	{ID: "basic_yearly", MonthlyCredits: 50},
	{ID: "pro_monthly", MonthlyCredits: 100},
	{ID: "pro_yearly", MonthlyCredits: 100},
	{ID: "business_monthly", MonthlyCredits: 500},
	{ID: "business_yearly", MonthlyCredits: 500},
	{ID: LifetimePlanID, MonthlyCredits: 200, Lifetime: true},
}

var purchasePlans = []Plan{
	{ID: FreePlanID, MonthlyCredits: 5},
	{ID: "basic_monthly", MonthlyCredits: 100, RolloverEnabled: true},
	{ID: "basic_yearly", MonthlyCredits: 100, RolloverEnabled: true},
	{ID: "pro_monthly", MonthlyCredits: 300, RolloverEnabled: true},
	{ID: "pro_yearly", MonthlyCredits: 300, RolloverEnabled: true},
	{ID: "business_monthly", MonthlyCredits: 1000, RolloverEnabled: true},
	{ID: "business_yearly", MonthlyCredits: 1000, RolloverEnabled: true},
	{ID: LifetimePlanID, MonthlyCredits: 500, RolloverEnabled: true, Lifetime: true},
}

var defaultPrices = map[string]string{
	"price_basic_monthly":    "basic_monthly",
	"price_basic_yearly":     "basic_yearly",
	"price_pro_monthly":      "pro_monthly",
	"price_pro_yearly":       "pro_yearly",
	"price_business_monthly": "business_monthly",
	"price_business_yearly":  "business_yearly",
	"price_lifetime":         LifetimePlanID,
}

var packageCatalog = []struct {
	id, name string
	credits  int64
	price    string
	popular  bool
}{
	{"starter", "Starter Pack", 50, "4.99", false},
	{"popular", "Popular Pack", 150, "12.99", true},
	{"pro", "Pro Pack", 500, "39.99", false},
}

// New builds the catalog for a ledger variant. priceOverrides are merged over
// the built-in price map.
func New(variant config.Variant, priceOverrides map[string]string) (*Catalog, error) {
	source := subscriptionPlans
	if variant == config.VariantPurchase {
		source = purchasePlans
	}
	c := &Catalog{
		plans:  make(map[string]Plan, len(source)),
		prices: make(map[string]string, len(defaultPrices)+len(priceOverrides)),
	}
	for _, p := range source {
		if variant == config.VariantSubscription {
			p.RolloverEnabled = false
		}
		c.plans[p.ID] = p
	}
	for price, plan := range defaultPrices {
		c.prices[price] = plan
	}
	for price, plan := range priceOverrides {
		if _, ok := c.plans[plan]; !ok {
			return nil, fmt.Errorf("%w: price %q maps to unknown plan %q", ErrInvalidPriceMap, price, plan)
		}
		c.prices[price] = plan
	}
	if variant == config.VariantPurchase {
		for _, entry := range packageCatalog {
			cents, err := money.ParseMinor(entry.price)
			if err != nil {
				return nil, fmt.Errorf("package %s: %w", entry.id, err)
			}
			c.packages = append(c.packages, Package{
				ID:         entry.id,
				Name:       entry.name,
				Credits:    entry.credits,
				PriceCents: cents,
				Price:      money.FormatMinor(cents),
				Popular:    entry.popular,
			})
		}
	}
	return c, nil
}

// Plan looks up a plan's credit configuration.
func (c *Catalog) Plan(planID string) (Plan, error) {
	p, ok := c.plans[planID]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	return p, nil
}

// MonthlyCredits returns 0 for unknown and free plans.
func (c *Catalog) MonthlyCredits(planID string) int64 {
	return c.plans[planID].MonthlyCredits
}

// PlanForPrice translates a provider price or product identifier.
func (c *Catalog) PlanForPrice(priceID string) (string, bool) {
	plan, ok := c.prices[priceID]
	return plan, ok
}

func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Packages is empty outside the purchase-enabled variant.
func (c *Catalog) Packages() []Package {
	out := make([]Package, len(c.packages))
	copy(out, c.packages)
	return out
}

func (c *Catalog) Package(packageID string) (Package, error) {
	for _, p := range c.packages {
		if p.ID == packageID {
			return p, nil
		}
	}
	return Package{}, fmt.Errorf("%w: %s", ErrPackageNotFound, packageID)
}

// ParsePriceMap parses "price_a:plan_a,price_b:plan_b".
func ParsePriceMap(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		price, plan, ok := strings.Cut(pair, ":")
		price, plan = strings.TrimSpace(price), strings.TrimSpace(plan)
		if !ok || price == "" || plan == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPriceMap, pair)
		}
		out[price] = plan
	}
	return out, nil
}
