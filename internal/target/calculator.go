// Package target computes round target prices from a current oracle price and
// a market's configured policy.
package target

import (
	"fmt"
	"math/rand/v2"

	"github.com/shopspring/decimal"

	"github.com/velikanghost/riskon/internal/domain"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// CoinFlip decides the direction of a random fixed-offset target: true means
// above the current price. Injectable so tests can pin the outcome.
type CoinFlip func() bool

// Calculator derives target prices. The zero value is not usable; construct
// with NewCalculator.
type Calculator struct {
	flip CoinFlip
}

// NewCalculator creates a Calculator. A nil flip falls back to a uniform
// 50/50 draw.
func NewCalculator(flip CoinFlip) *Calculator {
	if flip == nil {
		flip = func() bool { return rand.IntN(2) == 0 }
	}
	return &Calculator{flip: flip}
}

// Compute returns the target price for the given current price and policy,
// rounded half-up to 2 decimal places.
func (c *Calculator) Compute(current decimal.Decimal, policy domain.TargetPolicy) (decimal.Decimal, error) {
	if current.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("target: current price must be positive, got %s", current)
	}
	if err := policy.Validate(); err != nil {
		return decimal.Zero, fmt.Errorf("target: %w", err)
	}

	switch policy.Kind {
	case domain.PolicyPercent:
		// target = current * (1 + pct/100), always above.
		factor := one.Add(policy.Percent.Div(hundred))
		return current.Mul(factor).Round(2), nil

	case domain.PolicyFixed:
		above := false
		switch policy.Direction {
		case domain.DirectionAbove:
			above = true
		case domain.DirectionBelow:
			above = false
		case domain.DirectionRandom:
			above = c.flip()
		}
		if above {
			return current.Add(policy.OffsetUSD).Round(2), nil
		}
		return current.Sub(policy.OffsetUSD).Round(2), nil
	}

	return decimal.Zero, fmt.Errorf("target: unknown policy kind %q", policy.Kind)
}
