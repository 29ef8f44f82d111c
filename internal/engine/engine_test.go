package engine_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/curvebank/pool-engine/internal/engine"
	"github.com/curvebank/pool-engine/internal/exposure"
	"github.com/curvebank/pool-engine/internal/model"
	"github.com/curvebank/pool-engine/internal/store"
	"github.com/curvebank/pool-engine/internal/vault"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// testConfig is the worked-example configuration.
func testConfig() engine.Config {
	return engine.Config{
		Curve: model.CurveConfig{
			Cap:            d(1e9),
			ExposureFactor: d(1e5),
			VirtualLimit:   d(1e5),
			ScaleConstant:  d(1),
		},
		ImbalanceTolerance: d(0.01),
	}
}

// newTestEngine creates an engine over a fresh sim vault and memory store.
func newTestEngine(t *testing.T) (*engine.Engine, *vault.SimVault, *store.MemoryStore) {
	t.Helper()
	vlt := vault.NewSimVault(d(0.05), nil)
	ms := store.NewMemoryStore()
	eng, err := engine.New(testConfig(), vlt, ms, nil)
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}
	return eng, vlt, ms
}

// addBalanced opens a position with the stable leg priced exactly at the
// current marginal price.
func addBalanced(t *testing.T, eng *engine.Engine, owner string, assetIn decimal.Decimal) *engine.AddLiquidityResult {
	t.Helper()
	ctx := context.Background()
	price, err := eng.MarginalPrice(ctx)
	if err != nil {
		t.Fatalf("marginal price: %v", err)
	}
	res, err := eng.AddLiquidity(ctx, owner, assetIn, assetIn.Mul(price))
	if err != nil {
		t.Fatalf("add liquidity: %v", err)
	}
	return res
}

// stubVault is a controllable vault double. With shortchange set it releases
// half of every withdrawal request, exercising the shortfall path.
type stubVault struct {
	balance     decimal.Decimal
	shortchange bool
}

func (v *stubVault) Deposit(_ context.Context, amount decimal.Decimal) error {
	v.balance = v.balance.Add(amount)
	return nil
}

func (v *stubVault) Withdraw(_ context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	actual := amount
	if v.shortchange {
		actual = amount.Div(d(2))
	}
	actual = decimal.Min(actual, v.balance)
	v.balance = v.balance.Sub(actual)
	return actual, nil
}

func (v *stubVault) BalanceOf(_ context.Context) (decimal.Decimal, error) {
	return v.balance, nil
}

// --- Buy tests ---

func TestBuy_WorkedExample(t *testing.T) {
	eng, vlt, _ := newTestEngine(t)
	ctx := context.Background()

	res, err := eng.Buy(ctx, "trader", d(500))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.AssetOut.Sub(d(476.190476)).Abs().GreaterThan(d(0.001)) {
		t.Errorf("expected ≈476.19 asset out, got %s", res.AssetOut)
	}
	if res.Price.Sub(d(1.045)).Abs().GreaterThan(d(0.001)) {
		t.Errorf("expected price ≈1.045, got %s", res.Price)
	}

	st := eng.State()
	if !st.BuyPrincipal.Equal(d(500)) {
		t.Errorf("expected buy principal 500, got %s", st.BuyPrincipal)
	}
	if !st.IssuedSupply.Equal(res.AssetOut) {
		t.Errorf("issued supply %s != asset out %s", st.IssuedSupply, res.AssetOut)
	}

	bal, _ := vlt.BalanceOf(ctx)
	if !bal.Equal(d(500)) {
		t.Errorf("expected vault balance 500, got %s", bal)
	}
}

func TestBuy_InvalidAmount(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	for _, amount := range []decimal.Decimal{decimal.Zero, d(-10)} {
		if _, err := eng.Buy(ctx, "trader", amount); err != engine.ErrInvalidAmount {
			t.Errorf("expected ErrInvalidAmount for %s, got %v", amount, err)
		}
	}
}

func TestBuy_InsufficientOutput(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	// Output rounds to zero at quote scale.
	_, err := eng.Buy(ctx, "trader", decimal.New(1, -10))
	if err != engine.ErrInsufficientOutput {
		t.Errorf("expected ErrInsufficientOutput, got %v", err)
	}

	// State untouched.
	st := eng.State()
	if !st.IssuedSupply.IsZero() || !st.BuyPrincipal.IsZero() {
		t.Errorf("state mutated by failed buy: %+v", st)
	}
}

func TestBuy_CapExceeded(t *testing.T) {
	// Sub-unit exposure factor lets the curve quote beyond the remaining
	// headroom, which must be rejected before any funds move.
	cfg := engine.Config{
		Curve: model.CurveConfig{
			Cap:            d(1000),
			ExposureFactor: d(0.5),
			VirtualLimit:   d(100),
			ScaleConstant:  d(1),
		},
		ImbalanceTolerance: d(0.01),
	}
	vlt := vault.NewSimVault(d(0.05), nil)
	eng, err := engine.New(cfg, vlt, nil, nil)
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}

	ctx := context.Background()
	if _, err := eng.Buy(ctx, "trader", d(10000)); err != engine.ErrCapExceeded {
		t.Errorf("expected ErrCapExceeded, got %v", err)
	}

	bal, _ := vlt.BalanceOf(ctx)
	if !bal.IsZero() {
		t.Errorf("funds moved on rejected buy: %s", bal)
	}
}

func TestBuy_StrictlyIncreasesPrice(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	eng.Buy(ctx, "trader", d(500))
	before, _ := eng.MarginalPrice(ctx)

	eng.Buy(ctx, "trader", d(500))
	after, _ := eng.MarginalPrice(ctx)

	if after.LessThanOrEqual(before) {
		t.Errorf("buy should strictly increase price: before=%s after=%s", before, after)
	}
}

func TestQuoteBuy_MatchesCommittedBuy(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	q1, err := eng.QuoteBuy(ctx, d(500))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q2, _ := eng.QuoteBuy(ctx, d(500))
	if !q1.Equal(q2) {
		t.Errorf("quote not idempotent: %s vs %s", q1, q2)
	}

	res, err := eng.Buy(ctx, "trader", d(500))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.AssetOut.Equal(q1) {
		t.Errorf("committed buy %s diverged from quote %s", res.AssetOut, q1)
	}
}

// --- AddLiquidity tests ---

func TestAddLiquidity_PriceNeutral(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	buy, err := eng.Buy(ctx, "trader", d(500))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	before, _ := eng.MarginalPrice(ctx)
	addBalanced(t, eng, "trader", buy.AssetOut)
	after, _ := eng.MarginalPrice(ctx)

	if before.Sub(after).Abs().GreaterThan(d(1e-9)) {
		t.Errorf("addLiquidity moved the price: before=%s after=%s", before, after)
	}

	st := eng.State()
	if !st.LPPrincipal.IsPositive() {
		t.Error("lp principal not credited")
	}
	if !st.BuyPrincipal.Equal(d(500)) {
		t.Errorf("buy principal touched by add: %s", st.BuyPrincipal)
	}
}

func TestAddLiquidity_EntryIndexCapturedAfterDeposit(t *testing.T) {
	eng, vlt, _ := newTestEngine(t)
	ctx := context.Background()

	buy, _ := eng.Buy(ctx, "trader", d(500))
	vlt.Advance(100)

	res := addBalanced(t, eng, "trader", buy.AssetOut)

	// The vault grew before the add; the deposit lands at the elevated
	// index, so the position earns nothing retroactively.
	if res.EntryYieldIndex.LessThanOrEqual(d(1)) {
		t.Errorf("entry index should reflect accrued yield, got %s", res.EntryYieldIndex)
	}

	pos, err := eng.Position(res.PositionID)
	if err != nil {
		t.Fatalf("position lookup: %v", err)
	}
	if !pos.EntryYieldIndex.Equal(res.EntryYieldIndex) {
		t.Errorf("stored entry index %s != returned %s", pos.EntryYieldIndex, res.EntryYieldIndex)
	}
}

func TestAddLiquidity_Imbalanced(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	buy, _ := eng.Buy(ctx, "trader", d(500))

	// Stable leg 20% above the priced asset leg.
	price, _ := eng.MarginalPrice(ctx)
	stable := buy.AssetOut.Mul(price).Mul(d(1.2))
	if _, err := eng.AddLiquidity(ctx, "trader", buy.AssetOut, stable); err != engine.ErrImbalancedDeposit {
		t.Errorf("expected ErrImbalancedDeposit, got %v", err)
	}
}

func TestAddLiquidity_InvalidAmounts(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.AddLiquidity(ctx, "lp", decimal.Zero, d(100)); err != engine.ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount for zero asset, got %v", err)
	}
	if _, err := eng.AddLiquidity(ctx, "lp", d(100), d(-1)); err != engine.ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount for negative stable, got %v", err)
	}
}

func TestAddLiquidity_ExposureLimit(t *testing.T) {
	vlt := vault.NewSimVault(d(0.05), nil)
	limiter := exposure.NewLimiter(d(100), decimal.Zero)
	eng, err := engine.New(testConfig(), vlt, nil, limiter)
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}

	ctx := context.Background()
	buy, _ := eng.Buy(ctx, "whale", d(500))
	price, _ := eng.MarginalPrice(ctx)

	_, err = eng.AddLiquidity(ctx, "whale", buy.AssetOut, buy.AssetOut.Mul(price))
	if err != exposure.ErrPositionTooLarge {
		t.Errorf("expected ErrPositionTooLarge, got %v", err)
	}
}

// --- RemoveLiquidity tests ---

func TestRemoveLiquidity_UnknownPosition(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	if _, err := eng.RemoveLiquidity(context.Background(), "nope"); err != engine.ErrUnknownPosition {
		t.Errorf("expected ErrUnknownPosition, got %v", err)
	}
}

func TestRemoveLiquidity_PositionLifecycle(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	buy, _ := eng.Buy(ctx, "lp", d(500))
	res := addBalanced(t, eng, "lp", buy.AssetOut)

	if _, err := eng.Position(res.PositionID); err != nil {
		t.Fatalf("position should be open: %v", err)
	}

	if _, err := eng.RemoveLiquidity(ctx, res.PositionID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	// Closed is terminal: the id no longer resolves.
	if _, err := eng.Position(res.PositionID); err != engine.ErrUnknownPosition {
		t.Errorf("expected ErrUnknownPosition after close, got %v", err)
	}
	if _, err := eng.RemoveLiquidity(ctx, res.PositionID); err != engine.ErrUnknownPosition {
		t.Errorf("double remove should fail, got %v", err)
	}
}

func TestRemoveLiquidity_YieldAccrues(t *testing.T) {
	eng, vlt, _ := newTestEngine(t)
	ctx := context.Background()

	buy, _ := eng.Buy(ctx, "lp", d(500))
	res := addBalanced(t, eng, "lp", buy.AssetOut)
	pos, _ := eng.Position(res.PositionID)

	vlt.Advance(100)

	out, err := eng.RemoveLiquidity(ctx, res.PositionID)
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	if out.Scale.LessThan(decimal.Zero) || out.Scale.GreaterThan(d(1)) {
		t.Errorf("scale out of [0,1]: %s", out.Scale)
	}
	if out.StableOut.LessThanOrEqual(pos.PrincipalStable.Mul(out.Scale)) {
		t.Errorf("stable payout %s should include yield on principal %s",
			out.StableOut, pos.PrincipalStable)
	}
	// Inflation mints extra asset on top of principal when yield accrued.
	if out.AssetOut.LessThan(pos.PrincipalAsset.Mul(out.Scale)) {
		t.Errorf("asset payout %s below scaled principal %s", out.AssetOut, pos.PrincipalAsset)
	}
}

func TestRemoveLiquidity_DegradedVault(t *testing.T) {
	// Vault lost value: balance below deposited principal. The stable leg
	// shrinks with the yield ratio; the asset leg stays at principal.
	vlt := &stubVault{}
	eng, err := engine.New(testConfig(), vlt, nil, nil)
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}
	ctx := context.Background()

	buy, _ := eng.Buy(ctx, "lp", d(500))
	res := addBalanced(t, eng, "lp", buy.AssetOut)
	pos, _ := eng.Position(res.PositionID)

	// Simulate a 20% vault loss.
	vlt.balance = vlt.balance.Mul(d(0.8))

	out, err := eng.RemoveLiquidity(ctx, res.PositionID)
	if err != nil {
		t.Fatalf("degraded vault must not error the exit: %v", err)
	}
	if out.StableOut.GreaterThanOrEqual(pos.PrincipalStable) {
		t.Errorf("stable payout %s should reflect the loss (principal %s)",
			out.StableOut, pos.PrincipalStable)
	}
	if out.AssetOut.GreaterThan(pos.PrincipalAsset) {
		t.Errorf("asset payout %s should not exceed principal %s without yield",
			out.AssetOut, pos.PrincipalAsset)
	}
}

// --- Sell tests ---

func TestSell_InvalidAmount(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Sell(ctx, "trader", decimal.Zero); err != engine.ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount for zero, got %v", err)
	}

	eng.Buy(ctx, "trader", d(500))
	supply := eng.State().IssuedSupply
	if _, err := eng.Sell(ctx, "trader", supply.Add(d(1))); err != engine.ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount beyond supply, got %v", err)
	}
}

func TestSell_StrictlyDecreasesPrice(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	buy, _ := eng.Buy(ctx, "trader", d(1000))
	before, _ := eng.MarginalPrice(ctx)

	if _, err := eng.Sell(ctx, "trader", buy.AssetOut.Div(d(2))); err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	after, _ := eng.MarginalPrice(ctx)

	if after.GreaterThanOrEqual(before) {
		t.Errorf("sell should strictly decrease price: before=%s after=%s", before, after)
	}
}

func TestSell_FairShareCapAgainstDegradedVault(t *testing.T) {
	vlt := &stubVault{}
	eng, err := engine.New(testConfig(), vlt, nil, nil)
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}
	ctx := context.Background()

	buy, _ := eng.Buy(ctx, "trader", d(500))

	// Vault collapses to 100: the curve still quotes against virtual
	// reserves, but the one-sided cap pins the payout to the seller's
	// supply-proportional share of what is actually there.
	vlt.balance = d(100)

	res, err := eng.Sell(ctx, "trader", buy.AssetOut)
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if res.StableOut.GreaterThan(d(100)) {
		t.Errorf("payout %s exceeds vault balance 100", res.StableOut)
	}
	if res.Scale.GreaterThan(d(1)) || res.Scale.LessThan(decimal.Zero) {
		t.Errorf("scale out of [0,1]: %s", res.Scale)
	}
}

func TestSell_VaultShortfallLeavesStateUnchanged(t *testing.T) {
	vlt := &stubVault{}
	eng, err := engine.New(testConfig(), vlt, nil, nil)
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}
	ctx := context.Background()

	buy, _ := eng.Buy(ctx, "trader", d(500))
	before := eng.State()

	vlt.shortchange = true
	if _, err := eng.Sell(ctx, "trader", buy.AssetOut); err != engine.ErrVaultShortfall {
		t.Fatalf("expected ErrVaultShortfall, got %v", err)
	}

	after := eng.State()
	if !after.IssuedSupply.Equal(before.IssuedSupply) ||
		!after.BuyPrincipal.Equal(before.BuyPrincipal) ||
		!after.LPPrincipal.Equal(before.LPPrincipal) {
		t.Errorf("state mutated on shortfall: before=%+v after=%+v", before, after)
	}
}

func TestRemoveLiquidity_VaultShortfall(t *testing.T) {
	vlt := &stubVault{}
	eng, err := engine.New(testConfig(), vlt, nil, nil)
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}
	ctx := context.Background()

	buy, _ := eng.Buy(ctx, "lp", d(500))
	res := addBalanced(t, eng, "lp", buy.AssetOut)

	vlt.shortchange = true
	if _, err := eng.RemoveLiquidity(ctx, res.PositionID); err != engine.ErrVaultShortfall {
		t.Fatalf("expected ErrVaultShortfall, got %v", err)
	}

	// Position survives the failed exit.
	if _, err := eng.Position(res.PositionID); err != nil {
		t.Errorf("position should remain open after shortfall: %v", err)
	}
}

// --- Cross-cutting properties ---

func TestRoundTrip_WorkedExample(t *testing.T) {
	eng, vlt, _ := newTestEngine(t)
	ctx := context.Background()

	// Buy 500 on the empty curve.
	buy, err := eng.Buy(ctx, "trader", d(500))
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if buy.AssetOut.Sub(d(476.190476)).Abs().GreaterThan(d(0.001)) {
		t.Fatalf("expected ≈476.19, got %s", buy.AssetOut)
	}

	// Balanced add leaves the marginal price numerically unchanged.
	before, _ := eng.MarginalPrice(ctx)
	add := addBalanced(t, eng, "trader", buy.AssetOut)
	after, _ := eng.MarginalPrice(ctx)
	if before.Sub(after).Abs().GreaterThan(d(1e-9)) {
		t.Fatalf("add moved price: %s -> %s", before, after)
	}

	// 100 days of 5% APY daily compounding.
	vlt.Advance(100)
	withYield, _ := eng.MarginalPrice(ctx)
	if withYield.LessThanOrEqual(after) {
		t.Fatalf("yield should lift the price: %s -> %s", after, withYield)
	}

	balBefore, _ := vlt.BalanceOf(ctx)

	// Full exit: remove then sell everything received. Neither call may
	// fail, and the combined stable payout may not overdraw the vault.
	rem, err := eng.RemoveLiquidity(ctx, add.PositionID)
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	sellIn := decimal.Min(rem.AssetOut, eng.State().IssuedSupply)
	sell, err := eng.Sell(ctx, "trader", sellIn)
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	total := rem.StableOut.Add(sell.StableOut)
	if total.GreaterThan(balBefore) {
		t.Errorf("exit payouts %s exceed vault balance %s before the exits", total, balBefore)
	}

	balAfter, _ := vlt.BalanceOf(ctx)
	if balAfter.IsNegative() {
		t.Errorf("vault balance went negative: %s", balAfter)
	}
}

func TestBankRun_NoOverdraw(t *testing.T) {
	orders := map[string][]int{
		"entry order":   {0, 1, 2, 3},
		"reverse order": {3, 2, 1, 0},
		"mixed order":   {2, 0, 3, 1},
	}

	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			eng, vlt, _ := newTestEngine(t)
			ctx := context.Background()

			// Four providers enter at different curve depths.
			ids := make([]string, 4)
			for i := 0; i < 4; i++ {
				owner := string(rune('a' + i))
				buy, err := eng.Buy(ctx, owner, d(1000))
				if err != nil {
					t.Fatalf("buy %d failed: %v", i, err)
				}
				ids[i] = addBalanced(t, eng, owner, buy.AssetOut).PositionID
			}

			// Identical elapsed yield for everyone.
			vlt.Advance(50)
			balBefore, _ := vlt.BalanceOf(ctx)

			total := decimal.Zero
			for _, i := range order {
				out, err := eng.RemoveLiquidity(ctx, ids[i])
				if err != nil {
					t.Fatalf("remove %d failed: %v", i, err)
				}
				if out.Scale.LessThan(decimal.Zero) || out.Scale.GreaterThan(d(1)) {
					t.Errorf("scale out of [0,1]: %s", out.Scale)
				}
				total = total.Add(out.StableOut)
			}

			if total.GreaterThan(balBefore) {
				t.Errorf("exits drained %s, vault held %s before the run", total, balBefore)
			}
			balAfter, _ := vlt.BalanceOf(ctx)
			if balAfter.IsNegative() {
				t.Errorf("vault balance went negative: %s", balAfter)
			}
		})
	}
}

func TestSolvency_LongSequence(t *testing.T) {
	eng, vlt, _ := newTestEngine(t)
	ctx := context.Background()

	check := func(step string) {
		t.Helper()
		bal, err := vlt.BalanceOf(ctx)
		if err != nil {
			t.Fatalf("%s: balance: %v", step, err)
		}
		if bal.IsNegative() {
			t.Fatalf("%s: vault balance negative: %s", step, bal)
		}
	}

	buyA, _ := eng.Buy(ctx, "a", d(2000))
	check("buy a")
	buyB, _ := eng.Buy(ctx, "b", d(750))
	check("buy b")

	posA := addBalanced(t, eng, "a", buyA.AssetOut)
	check("add a")

	vlt.Advance(30)

	if _, err := eng.Sell(ctx, "b", buyB.AssetOut); err != nil {
		t.Fatalf("sell b: %v", err)
	}
	check("sell b")

	posB := addBalanced(t, eng, "c", d(100))
	check("add c")

	vlt.Advance(200)

	if _, err := eng.RemoveLiquidity(ctx, posA.PositionID); err != nil {
		t.Fatalf("remove a: %v", err)
	}
	check("remove a")

	if _, err := eng.RemoveLiquidity(ctx, posB.PositionID); err != nil {
		t.Fatalf("remove c: %v", err)
	}
	check("remove c")
}

func TestSnapshotRestore_QuoteIdentity(t *testing.T) {
	eng, vlt, ms := newTestEngine(t)
	ctx := context.Background()

	buy, _ := eng.Buy(ctx, "trader", d(500))
	addBalanced(t, eng, "trader", buy.AssetOut)

	// A second engine over the same store and vault must price identically
	// after restoring the persisted snapshot.
	restored, err := engine.New(testConfig(), vlt, ms, nil)
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	q1, err := eng.QuoteBuy(ctx, d(250))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	q2, err := restored.QuoteBuy(ctx, d(250))
	if err != nil {
		t.Fatalf("restored quote: %v", err)
	}
	if !q1.Equal(q2) {
		t.Errorf("restored engine quotes %s, original %s", q2, q1)
	}

	s1, s2 := eng.State(), restored.State()
	if !s1.IssuedSupply.Equal(s2.IssuedSupply) ||
		!s1.BuyPrincipal.Equal(s2.BuyPrincipal) ||
		!s1.LPPrincipal.Equal(s2.LPPrincipal) {
		t.Errorf("restored state diverged: %+v vs %+v", s1, s2)
	}
}

func TestOperationLedger_RecordsCommits(t *testing.T) {
	eng, _, ms := newTestEngine(t)
	ctx := context.Background()

	buy, _ := eng.Buy(ctx, "trader", d(500))
	addBalanced(t, eng, "trader", buy.AssetOut)

	recs, err := ms.ListOperations(ctx, 0)
	if err != nil {
		t.Fatalf("list operations: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 operation records, got %d", len(recs))
	}
	if recs[0].Kind != model.OpBuy || recs[1].Kind != model.OpAddLiquidity {
		t.Errorf("unexpected kinds: %s, %s", recs[0].Kind, recs[1].Kind)
	}

	mine, err := ms.ListOperationsByOwner(ctx, "trader", 0)
	if err != nil {
		t.Fatalf("list by owner: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("expected 2 records for trader, got %d", len(mine))
	}
}
