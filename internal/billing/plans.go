package billing

import (
	"errors"
	"fmt"
	"sort"
)

const (
	ModeSubscription = "subscription"
	ModePayment      = "payment"
)

var ErrUnknownPlan = errors.New("unknown plan")

// Plan is a sellable item. Subscriptions bill monthly; token packs are
// one-off payments crediting the organization's wallet.
type Plan struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Mode        string `json:"mode"`
	AmountCents int64  `json:"amount_cents"`
	Tokens      int64  `json:"tokens,omitempty"`
	PriceID     string `json:"-"`
}

var basePlans = []Plan{
	{Key: "starter", Name: "Starter", Mode: ModeSubscription, AmountCents: 9700},
	{Key: "pro", Name: "Pro", Mode: ModeSubscription, AmountCents: 19700},
	{Key: "business", Name: "Business", Mode: ModeSubscription, AmountCents: 39700},
	{Key: "tokens_1k", Name: "1.000 tokens", Mode: ModePayment, AmountCents: 2900, Tokens: 1000},
	{Key: "tokens_5k", Name: "5.000 tokens", Mode: ModePayment, AmountCents: 11900, Tokens: 5000},
}

// Catalog maps plan keys to plans with their processor price ids.
type Catalog map[string]Plan

// NewCatalog attaches price ids (by plan key) to the built-in plans.
func NewCatalog(prices map[string]string) Catalog {
	c := Catalog{}
	for _, p := range basePlans {
		p.PriceID = prices[p.Key]
		c[p.Key] = p
	}
	return c
}

func (c Catalog) Lookup(key string) (Plan, error) {
	p, ok := c[key]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, key)
	}
	return p, nil
}

// List returns plans ordered by price.
func (c Catalog) List() []Plan {
	out := make([]Plan, 0, len(c))
	for _, p := range c {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mode != out[j].Mode {
			return out[i].Mode == ModeSubscription
		}
		return out[i].AmountCents < out[j].AmountCents
	})
	return out
}
