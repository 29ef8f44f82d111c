// Package model defines the core domain types shared across the pool engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CurveConfig holds the immutable-per-epoch curve parameters.
type CurveConfig struct {
	// Cap is the maximum issuable supply of the scarce asset.
	Cap decimal.Decimal `json:"cap"`

	// ExposureFactor scales how quickly the token-side virtual reserve
	// shrinks as supply approaches the cap.
	ExposureFactor decimal.Decimal `json:"exposure_factor"`

	// VirtualLimit is the stable-principal level at which the bootstrap
	// virtual liquidity has fully decayed.
	VirtualLimit decimal.Decimal `json:"virtual_limit"`

	// ScaleConstant rescales issued supply inside the exposure formula.
	// 1 for pools whose supply and cap share units.
	ScaleConstant decimal.Decimal `json:"scale_constant"`
}

// CurveState is the mutable pricing state of the pool.
//
// BuyPrincipal and LPPrincipal are the two stable-asset ledgers: only
// BuyPrincipal (plus its allocated share of vault yield) enters the price
// formula. LPPrincipal accrues yield but is price-neutral by construction.
type CurveState struct {
	IssuedSupply decimal.Decimal `json:"issued_supply"`
	BuyPrincipal decimal.Decimal `json:"buy_principal"`
	LPPrincipal  decimal.Decimal `json:"lp_principal"`
}

// Position is one liquidity provider's live deposit. Created on addLiquidity,
// deleted on removeLiquidity; partial removal is remove-then-re-add.
type Position struct {
	ID              string          `json:"id"`
	Owner           string          `json:"owner"`
	PrincipalStable decimal.Decimal `json:"principal_stable"`
	PrincipalAsset  decimal.Decimal `json:"principal_asset"`

	// EntryYieldIndex is the vault yield index (balance / total principal)
	// snapshotted immediately after the deposit landed in the vault.
	EntryYieldIndex decimal.Decimal `json:"entry_yield_index"`

	// EntryPrice is the marginal price at add time, used to value the
	// asset leg of the principal in stable terms.
	EntryPrice decimal.Decimal `json:"entry_price"`

	CreatedAt time.Time `json:"created_at"`
}

// PrincipalValue returns the position's principal valued in stable terms:
// the stable leg plus the asset leg at its entry price.
func (p Position) PrincipalValue() decimal.Decimal {
	return p.PrincipalStable.Add(p.PrincipalAsset.Mul(p.EntryPrice))
}

// Snapshot is the persisted engine state. Reloading a snapshot must
// reproduce identical quotes.
type Snapshot struct {
	IssuedSupply decimal.Decimal     `json:"issued_supply"`
	BuyPrincipal decimal.Decimal     `json:"buy_principal"`
	LPPrincipal  decimal.Decimal     `json:"lp_principal"`
	Positions    map[string]Position `json:"positions"`
	TakenAt      time.Time           `json:"taken_at"`
}

// Operation kinds recorded in the immutable operation ledger.
const (
	OpBuy             = "buy"
	OpSell            = "sell"
	OpAddLiquidity    = "add_liquidity"
	OpRemoveLiquidity = "remove_liquidity"
)

// OperationRecord is an immutable record of a committed engine operation.
// Once created, these are never modified or deleted.
type OperationRecord struct {
	ID         string          `json:"id" db:"id"`
	Kind       string          `json:"kind" db:"kind"`
	Owner      string          `json:"owner" db:"owner"`
	PositionID string          `json:"position_id,omitempty" db:"position_id"`
	StableIn   decimal.Decimal `json:"stable_in" db:"stable_in"`
	AssetIn    decimal.Decimal `json:"asset_in" db:"asset_in"`
	StableOut  decimal.Decimal `json:"stable_out" db:"stable_out"`
	AssetOut   decimal.Decimal `json:"asset_out" db:"asset_out"`
	Scale      decimal.Decimal `json:"scale" db:"scale"` // fair-share scale applied (1 for entries)
	Price      decimal.Decimal `json:"price" db:"price"` // marginal price after commit
	VaultAfter decimal.Decimal `json:"vault_after" db:"vault_after"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
}
