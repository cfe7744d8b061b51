package app

import (
	"math/rand/v2"
	"sync"

	"github.com/shopspring/decimal"

	"bookhaven/pkg/domain"
)

// PricingPolicy assigns a price to books fetched from the external catalog,
// which carries no price of its own.
type PricingPolicy interface {
	Price(book domain.Book) decimal.Decimal
}

// RandomPricing draws a placeholder price in [100.00, 1100.00).
type RandomPricing struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomPricing seeds the generator; seed 0 uses a random seed.
func NewRandomPricing(seed uint64) *RandomPricing {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &RandomPricing{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (p *RandomPricing) Price(domain.Book) decimal.Decimal {
	p.mu.Lock()
	cents := 10000 + p.rnd.Int64N(100000)
	p.mu.Unlock()
	return decimal.New(cents, -2)
}

// FixedPricing prices every external book the same.
type FixedPricing struct {
	Amount decimal.Decimal
}

func (p FixedPricing) Price(domain.Book) decimal.Decimal {
	return p.Amount.Round(2)
}
