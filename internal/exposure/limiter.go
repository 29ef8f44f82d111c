// Package exposure enforces liquidity concentration limits on the pool.
//
// The fair-share exit rule bounds what any one participant can drain, but a
// single oversized provider exiting first still maximizes the haircut applied
// to everyone behind them. Capping per-position size and per-provider share
// of total principal keeps the exit queue shallow.
package exposure

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/curvebank/pool-engine/internal/model"
)

var (
	// ErrPositionTooLarge is returned when a single deposit exceeds the
	// per-position principal maximum.
	ErrPositionTooLarge = errors.New("exposure: position principal limit exceeded")

	// ErrProviderConcentration is returned when a deposit would push one
	// provider's aggregate principal beyond the allowed share of the pool.
	ErrProviderConcentration = errors.New("exposure: provider share limit exceeded")
)

// Limiter enforces liquidity concentration limits.
type Limiter struct {
	// MaxPositionPrincipal is the maximum stable-valued principal of any
	// single position. Zero disables the check.
	MaxPositionPrincipal decimal.Decimal

	// MaxProviderShare is the maximum fraction (0,1] of total live principal
	// one provider may hold after the deposit. Zero disables the check.
	MaxProviderShare decimal.Decimal
}

// NewLimiter creates a limiter. Either limit may be zero to disable it.
func NewLimiter(maxPositionPrincipal, maxProviderShare decimal.Decimal) *Limiter {
	return &Limiter{
		MaxPositionPrincipal: maxPositionPrincipal,
		MaxProviderShare:     maxProviderShare,
	}
}

// CheckAdd validates a prospective liquidity add.
//
//   - owner: the depositing provider
//   - principal: stable-valued principal of the new position (stable leg plus
//     asset leg at current price)
//   - live: all currently open positions
//
// Returns nil if the deposit is within limits.
func (l *Limiter) CheckAdd(owner string, principal decimal.Decimal, live map[string]model.Position) error {
	if l.MaxPositionPrincipal.IsPositive() && principal.GreaterThan(l.MaxPositionPrincipal) {
		return ErrPositionTooLarge
	}

	if !l.MaxProviderShare.IsPositive() {
		return nil
	}
	// The first provider necessarily holds the whole pool.
	if len(live) == 0 {
		return nil
	}

	ownerTotal := principal
	poolTotal := principal
	for _, p := range live {
		v := p.PrincipalValue()
		poolTotal = poolTotal.Add(v)
		if p.Owner == owner {
			ownerTotal = ownerTotal.Add(v)
		}
	}
	if poolTotal.IsZero() {
		return nil
	}
	if ownerTotal.Div(poolTotal).GreaterThan(l.MaxProviderShare) {
		return ErrProviderConcentration
	}
	return nil
}
