// Package curve implements the constant-product bonding curve over virtual
// reserves that prices the scarce asset against the stable asset.
//
// Reserves are derived per call from configuration and live principal — never
// stored — so the curve stays well-defined near the supply cap and at zero
// principal:
//   - the token reserve shrinks as issued supply approaches the cap
//   - a bootstrap "virtual liquidity" pads the stable reserve before real
//     principal exists, decaying linearly as principal grows toward the
//     virtual limit
//
// Only buy-side principal (plus its allocated share of vault yield) enters
// the stable reserve; liquidity-add principal is excluded by construction so
// that adds are price-neutral.
//
// All monetary values use shopspring/decimal — never float64 for money.
package curve

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/curvebank/pool-engine/internal/model"
)

var (
	// ErrInvalidConfig is returned when cap, exposure factor, virtual limit
	// or scale constant is not positive.
	ErrInvalidConfig = errors.New("curve: config parameters must be positive")

	// ErrSupplyExhausted is returned when a quote is requested at or beyond
	// the supply cap, where the token reserve is empty.
	ErrSupplyExhausted = errors.New("curve: issued supply at cap, token reserve empty")

	// QuoteScale is the number of decimal places quotes are rounded to.
	QuoteScale int32 = 9
)

// minExposure floors the exposure term so the token reserve never divides
// by zero as issued supply approaches the cap.
var minExposure = decimal.New(1, -9)

var one = decimal.NewFromInt(1)

// Curve computes quotes for a fixed configuration. It is stateless — pool
// state and the vault balance are passed as arguments, not stored.
type Curve struct {
	cfg model.CurveConfig
}

// New creates a quoter for the given configuration.
func New(cfg model.CurveConfig) (*Curve, error) {
	if cfg.Cap.LessThanOrEqual(decimal.Zero) ||
		cfg.ExposureFactor.LessThanOrEqual(decimal.Zero) ||
		cfg.VirtualLimit.LessThanOrEqual(decimal.Zero) ||
		cfg.ScaleConstant.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidConfig
	}
	return &Curve{cfg: cfg}, nil
}

// Config returns the curve configuration.
func (c *Curve) Config() model.CurveConfig {
	return c.cfg
}

// PrincipalWithYield allocates the vault's total balance proportionally
// across the two principal ledgers and returns the price-affecting share:
//
//	buyPrincipal * vaultBalance / (buyPrincipal + lpPrincipal)
//
// Defined as buyPrincipal unchanged when the pool holds no principal. Always
// derived from the live vault balance, never cached.
func (c *Curve) PrincipalWithYield(st model.CurveState, vaultBalance decimal.Decimal) decimal.Decimal {
	total := st.BuyPrincipal.Add(st.LPPrincipal)
	if total.IsZero() {
		return st.BuyPrincipal
	}
	return st.BuyPrincipal.Mul(vaultBalance).Div(total)
}

// YieldIndex returns the vault growth index: vaultBalance / total principal,
// or 1 when no principal is deposited. Positions snapshot this at entry.
func (c *Curve) YieldIndex(st model.CurveState, vaultBalance decimal.Decimal) decimal.Decimal {
	total := st.BuyPrincipal.Add(st.LPPrincipal)
	if total.IsZero() {
		return one
	}
	return vaultBalance.Div(total)
}

// Reserves derives the virtual reserve pair for the current state.
//
//	exposure     = exposureFactor * (1 - min(supply*scaleConstant, cap)/cap), floored at epsilon
//	tokenReserve = (cap - supply) / exposure
//	virtualLiq   = (cap/exposureFactor) * (1 - min(pwy, virtualLimit)/virtualLimit)
//	               floored at max(0, tokenReserve - pwy)
//	usdcReserve  = pwy + virtualLiq
//
// where pwy is PrincipalWithYield. The floor on virtualLiq keeps
// usdcReserve >= tokenReserve from inverting.
func (c *Curve) Reserves(st model.CurveState, vaultBalance decimal.Decimal) (tokenReserve, usdcReserve decimal.Decimal) {
	scaled := decimal.Min(st.IssuedSupply.Mul(c.cfg.ScaleConstant), c.cfg.Cap)
	exposure := c.cfg.ExposureFactor.Mul(one.Sub(scaled.Div(c.cfg.Cap)))
	if exposure.LessThan(minExposure) {
		exposure = minExposure
	}
	tokenReserve = c.cfg.Cap.Sub(st.IssuedSupply).Div(exposure)

	pwy := c.PrincipalWithYield(st, vaultBalance)
	capped := decimal.Min(pwy, c.cfg.VirtualLimit)
	virtualLiq := c.cfg.Cap.Div(c.cfg.ExposureFactor).Mul(one.Sub(capped.Div(c.cfg.VirtualLimit)))

	floor := tokenReserve.Sub(pwy)
	if floor.IsNegative() {
		floor = decimal.Zero
	}
	if virtualLiq.LessThan(floor) {
		virtualLiq = floor
	}

	usdcReserve = pwy.Add(virtualLiq)
	return tokenReserve, usdcReserve
}

// MarginalPrice returns usdcReserve / tokenReserve. Strictly increases with
// buys and with vault yield credited to buy principal; unaffected by
// liquidity adds.
func (c *Curve) MarginalPrice(st model.CurveState, vaultBalance decimal.Decimal) (decimal.Decimal, error) {
	tokenReserve, usdcReserve := c.Reserves(st, vaultBalance)
	if tokenReserve.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrSupplyExhausted
	}
	return usdcReserve.Div(tokenReserve), nil
}

// QuoteBuy solves (tokenReserve - out) * (usdcReserve + stableIn) = k for the
// asset output of a buy. Pure: identical state and input give identical output.
func (c *Curve) QuoteBuy(st model.CurveState, vaultBalance, stableIn decimal.Decimal) (decimal.Decimal, error) {
	tokenReserve, usdcReserve := c.Reserves(st, vaultBalance)
	if tokenReserve.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrSupplyExhausted
	}
	// out = tokenReserve * stableIn / (usdcReserve + stableIn)
	out := tokenReserve.Mul(stableIn).Div(usdcReserve.Add(stableIn))
	return out.Round(QuoteScale), nil
}

// QuoteSell solves (tokenReserve + assetIn) * (usdcReserve - out) = k for the
// raw stable output of a sell. The committed payout is capped by the engine's
// fair-share rule; this is the curve quote only.
func (c *Curve) QuoteSell(st model.CurveState, vaultBalance, assetIn decimal.Decimal) (decimal.Decimal, error) {
	tokenReserve, usdcReserve := c.Reserves(st, vaultBalance)
	if tokenReserve.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrSupplyExhausted
	}
	// out = usdcReserve * assetIn / (tokenReserve + assetIn)
	out := usdcReserve.Mul(assetIn).Div(tokenReserve.Add(assetIn))
	return out.Round(QuoteScale), nil
}
