// Package vault abstracts the external yield-bearing venue the pool
// rehypothecates its stable principal into.
//
// The engine only ever sees the three-operation capability interface below;
// how the vault earns yield is opaque. This keeps the engine's solvency
// invariants property-testable against simulated vaults with adversarial
// yield schedules.
package vault

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNegativeAmount is returned for deposit/withdraw of a negative amount.
	ErrNegativeAmount = errors.New("vault: amount must not be negative")
)

// Adapter is the capability interface over an opaque yield source.
//
// Withdraw may return less than requested; callers must treat a shortfall as
// a solvency signal, not clamp it silently. BalanceOf is read-only and may be
// called any number of times per operation.
type Adapter interface {
	Deposit(ctx context.Context, amount decimal.Decimal) error
	Withdraw(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error)
	BalanceOf(ctx context.Context) (decimal.Decimal, error)
}

var (
	one     = decimal.NewFromInt(1)
	daysPer = decimal.NewFromInt(365)
)

// SimVault simulates a compounding yield venue. The balance grows by a daily
// index factor of (1 + apy/365); compounding runs lazily for each whole day
// elapsed on the injected clock, and eagerly via Advance in tests.
type SimVault struct {
	mu sync.Mutex

	balance     decimal.Decimal
	principal   decimal.Decimal // deposited minus withdrawn, yield excluded
	dailyFactor decimal.Decimal

	now            func() time.Time
	lastCompounded time.Time
}

// NewSimVault creates a simulated vault with the given APY (e.g. 0.05 for 5%).
// now may be nil, in which case the wall clock is used.
func NewSimVault(apy decimal.Decimal, now func() time.Time) *SimVault {
	if now == nil {
		now = time.Now
	}
	return &SimVault{
		balance:        decimal.Zero,
		principal:      decimal.Zero,
		dailyFactor:    one.Add(apy.Div(daysPer)),
		now:            now,
		lastCompounded: now(),
	}
}

// compound applies the daily factor for each whole day elapsed since the
// last compounding. Caller holds the lock.
func (v *SimVault) compound() {
	elapsed := v.now().Sub(v.lastCompounded)
	days := int64(elapsed / (24 * time.Hour))
	if days <= 0 {
		return
	}
	v.balance = v.balance.Mul(v.dailyFactor.Pow(decimal.NewFromInt(days)))
	v.lastCompounded = v.lastCompounded.Add(time.Duration(days) * 24 * time.Hour)
}

// Advance compounds the vault by the given number of days immediately,
// independent of the clock. Test and simulation hook.
func (v *SimVault) Advance(days int64) {
	if days <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balance = v.balance.Mul(v.dailyFactor.Pow(decimal.NewFromInt(days)))
}

// Deposit adds principal to the vault.
func (v *SimVault) Deposit(_ context.Context, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.compound()
	v.balance = v.balance.Add(amount)
	v.principal = v.principal.Add(amount)
	return nil
}

// Withdraw removes up to amount from the vault and returns the amount
// actually released, which is the full request unless the balance is short.
func (v *SimVault) Withdraw(_ context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.compound()

	actual := decimal.Min(amount, v.balance)
	v.balance = v.balance.Sub(actual)
	v.principal = v.principal.Sub(decimal.Min(amount, v.principal))
	if v.principal.IsNegative() {
		v.principal = decimal.Zero
	}
	return actual, nil
}

// BalanceOf returns the current redeemable total.
func (v *SimVault) BalanceOf(_ context.Context) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.compound()
	return v.balance, nil
}

// PrincipalDeposited returns deposited-minus-withdrawn principal, excluding
// accrued yield. Tracked by the adapter, not the engine.
func (v *SimVault) PrincipalDeposited() decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.principal
}
