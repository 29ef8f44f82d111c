// Package engine orchestrates the pool: it combines curve quotes, vault fund
// movement, and the position ledger into atomic buy / sell / addLiquidity /
// removeLiquidity operations, enforcing the solvency invariant on every exit.
//
// The engine is a pure state machine with no internal concurrency: each entry
// point runs to completion under one mutex, and every call either commits all
// of its writes or none of them. Validation and quoting happen before the
// vault is touched; the vault call is the last fallible step before state is
// applied.
//
// All monetary values use shopspring/decimal — never float64 for money.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/curvebank/pool-engine/internal/curve"
	"github.com/curvebank/pool-engine/internal/exposure"
	"github.com/curvebank/pool-engine/internal/metrics"
	"github.com/curvebank/pool-engine/internal/model"
	"github.com/curvebank/pool-engine/internal/store"
	"github.com/curvebank/pool-engine/internal/vault"
)

var (
	// ErrInvalidAmount is returned when an input amount is not positive, or
	// a sell exceeds circulating supply.
	ErrInvalidAmount = errors.New("engine: amount must be positive")

	// ErrInsufficientOutput is returned when a quote rounds to zero.
	ErrInsufficientOutput = errors.New("engine: output rounds to zero")

	// ErrCapExceeded is returned when a mint would breach the supply cap.
	ErrCapExceeded = errors.New("engine: mint would exceed supply cap")

	// ErrImbalancedDeposit is returned when a liquidity add's stable leg is
	// outside the configured tolerance of the asset leg at current price.
	ErrImbalancedDeposit = errors.New("engine: liquidity deposit outside price tolerance")

	// ErrUnknownPosition is returned for a remove on a missing position id.
	ErrUnknownPosition = errors.New("engine: unknown position")

	// ErrVaultShortfall is returned when the vault releases less than
	// requested. It signals the solvency invariant may be at risk upstream
	// and must propagate rather than be clamped.
	ErrVaultShortfall = errors.New("engine: vault returned less than requested")

	// ErrArithmeticOverflow is returned when an intermediate leaves the
	// representable range, e.g. pricing against an empty token reserve.
	ErrArithmeticOverflow = errors.New("engine: arithmetic result out of range")
)

var one = decimal.NewFromInt(1)

// Config holds engine parameters. Immutable after construction.
type Config struct {
	Curve model.CurveConfig

	// ImbalanceTolerance is the allowed relative deviation between the
	// stable leg and assetIn * marginalPrice on addLiquidity (e.g. 0.01).
	ImbalanceTolerance decimal.Decimal
}

// Engine is the accounting engine. It exclusively owns CurveState and the
// position ledger; callers serialize through its entry points.
type Engine struct {
	mu sync.Mutex

	cfg     Config
	curve   *curve.Curve
	vault   vault.Adapter
	limiter *exposure.Limiter // optional
	store   store.Store       // optional write-through persistence

	state     model.CurveState
	positions map[string]model.Position
}

// New creates an engine. limiter and st may be nil; the vault adapter is
// required.
func New(cfg Config, v vault.Adapter, st store.Store, limiter *exposure.Limiter) (*Engine, error) {
	c, err := curve.New(cfg.Curve)
	if err != nil {
		return nil, err
	}
	if cfg.ImbalanceTolerance.LessThanOrEqual(decimal.Zero) {
		cfg.ImbalanceTolerance = decimal.NewFromFloat(0.01)
	}
	return &Engine{
		cfg:       cfg,
		curve:     c,
		vault:     v,
		limiter:   limiter,
		store:     st,
		positions: make(map[string]model.Position),
	}, nil
}

// Restore loads the latest snapshot from the store, if any. Called once at
// startup before the engine serves operations.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	snap, err := e.store.LoadSnapshot(ctx)
	if errors.Is(err, store.ErrNoSnapshot) {
		return nil
	}
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = model.CurveState{
		IssuedSupply: snap.IssuedSupply,
		BuyPrincipal: snap.BuyPrincipal,
		LPPrincipal:  snap.LPPrincipal,
	}
	e.positions = make(map[string]model.Position, len(snap.Positions))
	for id, p := range snap.Positions {
		e.positions[id] = p
	}
	slog.Info("engine state restored",
		"issued_supply", snap.IssuedSupply.String(),
		"positions", len(snap.Positions),
	)
	return nil
}

// --- Results ---

// BuyResult is returned from Buy.
type BuyResult struct {
	AssetOut decimal.Decimal `json:"asset_out"`
	Price    decimal.Decimal `json:"price"`
}

// AddLiquidityResult is returned from AddLiquidity.
type AddLiquidityResult struct {
	PositionID      string          `json:"position_id"`
	EntryYieldIndex decimal.Decimal `json:"entry_yield_index"`
	Price           decimal.Decimal `json:"price"`
}

// RemoveLiquidityResult is returned from RemoveLiquidity.
type RemoveLiquidityResult struct {
	StableOut decimal.Decimal `json:"stable_out"`
	AssetOut  decimal.Decimal `json:"asset_out"`
	Scale     decimal.Decimal `json:"scale"`
	Price     decimal.Decimal `json:"price"`
}

// SellResult is returned from Sell.
type SellResult struct {
	StableOut decimal.Decimal `json:"stable_out"`
	Scale     decimal.Decimal `json:"scale"`
	Price     decimal.Decimal `json:"price"`
}

// --- Entry points ---

// Buy deposits stableIn into the vault and mints asset along the curve.
func (e *Engine) Buy(ctx context.Context, owner string, stableIn decimal.Decimal) (*BuyResult, error) {
	if !stableIn.IsPositive() {
		return nil, ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	bal, err := e.vault.BalanceOf(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: vault balance: %w", err)
	}

	assetOut, err := e.curve.QuoteBuy(e.state, bal, stableIn)
	if err != nil {
		return nil, e.mapCurveErr(err)
	}
	if assetOut.IsZero() {
		metrics.RejectionsTotal.WithLabelValues("insufficient_output").Inc()
		return nil, ErrInsufficientOutput
	}
	newSupply := e.state.IssuedSupply.Add(assetOut)
	if newSupply.GreaterThan(e.cfg.Curve.Cap) {
		metrics.RejectionsTotal.WithLabelValues("cap_exceeded").Inc()
		return nil, ErrCapExceeded
	}

	// Last fallible step before state is applied.
	if err := e.vault.Deposit(ctx, stableIn); err != nil {
		return nil, fmt.Errorf("engine: vault deposit: %w", err)
	}

	e.state.IssuedSupply = newSupply
	e.state.BuyPrincipal = e.state.BuyPrincipal.Add(stableIn)

	price, balAfter := e.priceAfter(ctx)
	e.commit(ctx, &model.OperationRecord{
		ID:         uuid.New().String(),
		Kind:       model.OpBuy,
		Owner:      owner,
		StableIn:   stableIn,
		AssetOut:   assetOut,
		Scale:      one,
		Price:      price,
		VaultAfter: balAfter,
		Timestamp:  time.Now().UTC(),
	}, start)

	slog.Info("buy committed",
		"owner", owner,
		"stable_in", stableIn.String(),
		"asset_out", assetOut.String(),
		"price", price.String(),
	)
	return &BuyResult{AssetOut: assetOut, Price: price}, nil
}

// AddLiquidity takes a balanced asset+stable deposit, moves the stable leg
// into the vault, and opens a position. Marginal price is unchanged by
// construction: only the yield-only ledger grows.
func (e *Engine) AddLiquidity(ctx context.Context, owner string, assetIn, stableIn decimal.Decimal) (*AddLiquidityResult, error) {
	if !assetIn.IsPositive() || !stableIn.IsPositive() {
		return nil, ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	bal, err := e.vault.BalanceOf(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: vault balance: %w", err)
	}

	price, err := e.curve.MarginalPrice(e.state, bal)
	if err != nil {
		return nil, e.mapCurveErr(err)
	}

	expected := assetIn.Mul(price)
	if expected.IsZero() ||
		stableIn.Sub(expected).Abs().Div(expected).GreaterThan(e.cfg.ImbalanceTolerance) {
		metrics.RejectionsTotal.WithLabelValues("imbalanced_deposit").Inc()
		return nil, ErrImbalancedDeposit
	}

	if e.limiter != nil {
		principal := stableIn.Add(expected)
		if err := e.limiter.CheckAdd(owner, principal, e.positions); err != nil {
			metrics.RejectionsTotal.WithLabelValues("exposure_limit").Inc()
			return nil, err
		}
	}

	if err := e.vault.Deposit(ctx, stableIn); err != nil {
		return nil, fmt.Errorf("engine: vault deposit: %w", err)
	}

	e.state.LPPrincipal = e.state.LPPrincipal.Add(stableIn)

	// Entry index is snapshotted after the deposit landed, against the
	// post-deposit ledgers.
	balAfter, err := e.vault.BalanceOf(ctx)
	if err != nil {
		balAfter = bal.Add(stableIn)
	}
	entryIndex := e.curve.YieldIndex(e.state, balAfter)

	pos := model.Position{
		ID:              uuid.New().String(),
		Owner:           owner,
		PrincipalStable: stableIn,
		PrincipalAsset:  assetIn,
		EntryYieldIndex: entryIndex,
		EntryPrice:      price,
		CreatedAt:       time.Now().UTC(),
	}
	e.positions[pos.ID] = pos

	e.commit(ctx, &model.OperationRecord{
		ID:         uuid.New().String(),
		Kind:       model.OpAddLiquidity,
		Owner:      owner,
		PositionID: pos.ID,
		StableIn:   stableIn,
		AssetIn:    assetIn,
		Scale:      one,
		Price:      price,
		VaultAfter: balAfter,
		Timestamp:  pos.CreatedAt,
	}, start)

	slog.Info("liquidity added",
		"owner", owner,
		"position", pos.ID,
		"stable_in", stableIn.String(),
		"asset_in", assetIn.String(),
		"entry_index", entryIndex.String(),
	)
	return &AddLiquidityResult{PositionID: pos.ID, EntryYieldIndex: entryIndex, Price: price}, nil
}

// RemoveLiquidity closes a position: principal plus accrued yield plus
// proportional asset inflation, shrunk by the three-way fair-share scale
//
//	scale = min(1, fairShare/requested, vaultAvailable/requested)
//
// applied uniformly to both payout legs so their ratio is never distorted.
func (e *Engine) RemoveLiquidity(ctx context.Context, positionID string) (*RemoveLiquidityResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	pos, ok := e.positions[positionID]
	if !ok {
		metrics.RejectionsTotal.WithLabelValues("unknown_position").Inc()
		return nil, ErrUnknownPosition
	}

	bal, err := e.vault.BalanceOf(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: vault balance: %w", err)
	}

	price, err := e.curve.MarginalPrice(e.state, bal)
	if err != nil {
		return nil, e.mapCurveErr(err)
	}

	// Yield ratio since entry. A ratio below 1 is a degraded-yield vault
	// condition, not an error: the stable leg shrinks with it, the asset
	// leg never drops below principal (those tokens never left the pool).
	delta := one
	if pos.EntryYieldIndex.IsPositive() {
		delta = e.curve.YieldIndex(e.state, bal).Div(pos.EntryYieldIndex)
	}
	rawStable := pos.PrincipalStable.Mul(delta)
	inflation := decimal.Zero
	if delta.GreaterThan(one) {
		inflation = pos.PrincipalAsset.Mul(delta.Sub(one))
	}
	rawAsset := pos.PrincipalAsset.Add(inflation)

	requested := rawStable.Add(inflation.Mul(price))
	scale := e.fairShareScale(pos, requested, bal)

	finalStable := rawStable.Mul(scale).Round(curve.QuoteScale)
	finalAsset := rawAsset.Mul(scale).Round(curve.QuoteScale)

	// Inflation is newly minted supply; clamp the mint at the cap and trim
	// the asset leg by whatever could not be minted.
	minted := inflation.Mul(scale)
	headroom := e.cfg.Curve.Cap.Sub(e.state.IssuedSupply)
	if minted.GreaterThan(headroom) {
		finalAsset = finalAsset.Sub(minted.Sub(headroom))
		minted = headroom
	}

	actual, err := e.vault.Withdraw(ctx, finalStable)
	if err != nil {
		return nil, fmt.Errorf("engine: vault withdraw: %w", err)
	}
	if actual.LessThan(finalStable) {
		slog.Error("vault shortfall on remove",
			"position", positionID,
			"requested", finalStable.String(),
			"actual", actual.String(),
		)
		return nil, ErrVaultShortfall
	}

	e.state.IssuedSupply = e.state.IssuedSupply.Add(minted)
	e.state.LPPrincipal = e.state.LPPrincipal.Sub(pos.PrincipalStable)
	if e.state.LPPrincipal.IsNegative() {
		e.state.LPPrincipal = decimal.Zero
	}
	delete(e.positions, positionID)

	priceAfter, balAfter := e.priceAfter(ctx)
	metrics.ExitScale.Observe(scale.InexactFloat64())
	e.commit(ctx, &model.OperationRecord{
		ID:         uuid.New().String(),
		Kind:       model.OpRemoveLiquidity,
		Owner:      pos.Owner,
		PositionID: positionID,
		StableOut:  finalStable,
		AssetOut:   finalAsset,
		Scale:      scale,
		Price:      priceAfter,
		VaultAfter: balAfter,
		Timestamp:  time.Now().UTC(),
	}, start)

	slog.Info("liquidity removed",
		"owner", pos.Owner,
		"position", positionID,
		"stable_out", finalStable.String(),
		"asset_out", finalAsset.String(),
		"scale", scale.String(),
	)
	return &RemoveLiquidityResult{
		StableOut: finalStable,
		AssetOut:  finalAsset,
		Scale:     scale,
		Price:     priceAfter,
	}, nil
}

// Sell burns assetIn along the curve and pays stable out of the vault. The
// payout is capped one-sidedly at the seller's supply-proportional share of
// the vault balance — deliberately not the three-way scale removeLiquidity
// uses; the residual trade-off between the two rules is unresolved upstream
// and the asymmetry is kept as observed.
func (e *Engine) Sell(ctx context.Context, owner string, assetIn decimal.Decimal) (*SellResult, error) {
	if !assetIn.IsPositive() {
		return nil, ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	if assetIn.GreaterThan(e.state.IssuedSupply) {
		return nil, ErrInvalidAmount
	}

	bal, err := e.vault.BalanceOf(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: vault balance: %w", err)
	}

	rawStable, err := e.curve.QuoteSell(e.state, bal, assetIn)
	if err != nil {
		return nil, e.mapCurveErr(err)
	}
	if rawStable.IsZero() {
		metrics.RejectionsTotal.WithLabelValues("insufficient_output").Inc()
		return nil, ErrInsufficientOutput
	}

	fraction := assetIn.Div(e.state.IssuedSupply)
	fairShare := fraction.Mul(bal)
	final := decimal.Min(rawStable, fairShare).Round(curve.QuoteScale)
	if final.IsNegative() {
		final = decimal.Zero
	}

	actual, err := e.vault.Withdraw(ctx, final)
	if err != nil {
		return nil, fmt.Errorf("engine: vault withdraw: %w", err)
	}
	if actual.LessThan(final) {
		slog.Error("vault shortfall on sell",
			"owner", owner,
			"requested", final.String(),
			"actual", actual.String(),
		)
		return nil, ErrVaultShortfall
	}

	// Shrink the price-affecting ledger pro-rata to the supply fraction
	// burned, scaled by the payout fraction actually delivered.
	delivered := one
	if rawStable.IsPositive() {
		delivered = final.Div(rawStable)
	}
	reduction := e.state.BuyPrincipal.Mul(fraction).Mul(delivered)
	e.state.BuyPrincipal = e.state.BuyPrincipal.Sub(reduction)
	if e.state.BuyPrincipal.IsNegative() {
		e.state.BuyPrincipal = decimal.Zero
	}
	e.state.IssuedSupply = e.state.IssuedSupply.Sub(assetIn)

	scale := delivered
	if scale.GreaterThan(one) {
		scale = one
	}

	priceAfter, balAfter := e.priceAfter(ctx)
	metrics.ExitScale.Observe(scale.InexactFloat64())
	e.commit(ctx, &model.OperationRecord{
		ID:         uuid.New().String(),
		Kind:       model.OpSell,
		Owner:      owner,
		AssetIn:    assetIn,
		StableOut:  final,
		Scale:      scale,
		Price:      priceAfter,
		VaultAfter: balAfter,
		Timestamp:  time.Now().UTC(),
	}, start)

	slog.Info("sell committed",
		"owner", owner,
		"asset_in", assetIn.String(),
		"stable_out", final.String(),
		"scale", scale.String(),
	)
	return &SellResult{StableOut: final, Scale: scale, Price: priceAfter}, nil
}

// --- Read-only entry points ---

// QuoteBuy returns the asset output a buy of stableIn would mint right now.
// Pure: no state is touched.
func (e *Engine) QuoteBuy(ctx context.Context, stableIn decimal.Decimal) (decimal.Decimal, error) {
	if !stableIn.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	bal, err := e.vault.BalanceOf(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("engine: vault balance: %w", err)
	}
	out, err := e.curve.QuoteBuy(e.state, bal, stableIn)
	if err != nil {
		return decimal.Zero, e.mapCurveErr(err)
	}
	return out, nil
}

// QuoteSell returns the curve-quoted stable output for assetIn, before the
// fair-share cap.
func (e *Engine) QuoteSell(ctx context.Context, assetIn decimal.Decimal) (decimal.Decimal, error) {
	if !assetIn.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	bal, err := e.vault.BalanceOf(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("engine: vault balance: %w", err)
	}
	out, err := e.curve.QuoteSell(e.state, bal, assetIn)
	if err != nil {
		return decimal.Zero, e.mapCurveErr(err)
	}
	return out, nil
}

// MarginalPrice returns the current marginal price.
func (e *Engine) MarginalPrice(ctx context.Context) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bal, err := e.vault.BalanceOf(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("engine: vault balance: %w", err)
	}
	price, err := e.curve.MarginalPrice(e.state, bal)
	if err != nil {
		return decimal.Zero, e.mapCurveErr(err)
	}
	return price, nil
}

// State returns a copy of the pricing state.
func (e *Engine) State() model.CurveState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Position returns a live position by id.
func (e *Engine) Position(id string) (model.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[id]
	if !ok {
		return model.Position{}, ErrUnknownPosition
	}
	return pos, nil
}

// Snapshot returns a deep copy of the full engine state.
func (e *Engine) Snapshot() *model.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// --- Internals ---

// fairShareScale computes the uniform shrink factor for a position exit:
// the claimant's principal-proportional share of the live vault balance,
// bounded by what the vault can actually release, clamped to [0, 1].
func (e *Engine) fairShareScale(pos model.Position, requested, vaultAvailable decimal.Decimal) decimal.Decimal {
	if !requested.IsPositive() {
		return one
	}

	totalPrincipal := decimal.Zero
	for _, p := range e.positions {
		totalPrincipal = totalPrincipal.Add(p.PrincipalValue())
	}
	if !totalPrincipal.IsPositive() {
		return one
	}

	fairShare := pos.PrincipalValue().Div(totalPrincipal).Mul(vaultAvailable)
	scale := decimal.Min(one, fairShare.Div(requested), vaultAvailable.Div(requested))
	if scale.IsNegative() {
		return decimal.Zero
	}
	return scale
}

func (e *Engine) mapCurveErr(err error) error {
	if errors.Is(err, curve.ErrSupplyExhausted) {
		return ErrArithmeticOverflow
	}
	return err
}

// priceAfter re-reads the vault and prices the committed state for the
// operation record. Failures degrade to zero values; the record is
// best-effort observability, not the ledger of truth.
func (e *Engine) priceAfter(ctx context.Context) (decimal.Decimal, decimal.Decimal) {
	bal, err := e.vault.BalanceOf(ctx)
	if err != nil {
		return decimal.Zero, decimal.Zero
	}
	price, err := e.curve.MarginalPrice(e.state, bal)
	if err != nil {
		return decimal.Zero, bal
	}
	return price, bal
}

func (e *Engine) snapshotLocked() *model.Snapshot {
	snap := &model.Snapshot{
		IssuedSupply: e.state.IssuedSupply,
		BuyPrincipal: e.state.BuyPrincipal,
		LPPrincipal:  e.state.LPPrincipal,
		Positions:    make(map[string]model.Position, len(e.positions)),
		TakenAt:      time.Now().UTC(),
	}
	for id, p := range e.positions {
		snap.Positions[id] = p
	}
	return snap
}

// commit records metrics and persists the snapshot plus operation record
// write-through. Persistence failures are logged, not fatal: in-memory state
// is authoritative for the run and the next successful commit re-syncs it.
func (e *Engine) commit(ctx context.Context, rec *model.OperationRecord, start time.Time) {
	metrics.OperationsTotal.WithLabelValues(rec.Kind).Inc()
	metrics.OperationLatency.WithLabelValues(rec.Kind).Observe(time.Since(start).Seconds())
	metrics.IssuedSupply.Set(e.state.IssuedSupply.InexactFloat64())
	metrics.VaultBalance.Set(rec.VaultAfter.InexactFloat64())
	metrics.MarginalPrice.Set(rec.Price.InexactFloat64())

	if e.store == nil {
		return
	}
	if err := e.store.SaveSnapshot(ctx, e.snapshotLocked()); err != nil {
		slog.Error("snapshot persist failed", "err", err)
	}
	if err := e.store.InsertOperation(ctx, rec); err != nil {
		slog.Error("operation persist failed", "op", rec.ID, "err", err)
	}
}
