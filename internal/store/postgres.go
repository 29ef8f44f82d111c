package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/curvebank/pool-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
//
// Layout: a single-row engine_snapshot table plus a positions table replaced
// wholesale inside one transaction per save, and an append-only operations
// table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO engine_snapshot (id, issued_supply, buy_principal, lp_principal, taken_at)
		 VALUES (1, $1::NUMERIC, $2::NUMERIC, $3::NUMERIC, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET issued_supply = EXCLUDED.issued_supply,
		     buy_principal = EXCLUDED.buy_principal,
		     lp_principal  = EXCLUDED.lp_principal,
		     taken_at      = EXCLUDED.taken_at`,
		snap.IssuedSupply.String(), snap.BuyPrincipal.String(),
		snap.LPPrincipal.String(), snap.TakenAt,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	for _, p := range snap.Positions {
		_, err := tx.Exec(ctx,
			`INSERT INTO positions (id, owner, principal_stable, principal_asset, entry_yield_index, entry_price, created_at)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7)`,
			p.ID, p.Owner,
			p.PrincipalStable.String(), p.PrincipalAsset.String(),
			p.EntryYieldIndex.String(), p.EntryPrice.String(),
			p.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("save snapshot position %s: %w", p.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context) (*model.Snapshot, error) {
	var snap model.Snapshot
	var issued, buy, lp string

	err := s.pool.QueryRow(ctx,
		`SELECT issued_supply::TEXT, buy_principal::TEXT, lp_principal::TEXT, taken_at
		 FROM engine_snapshot WHERE id = 1`).
		Scan(&issued, &buy, &lp, &snap.TakenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	snap.IssuedSupply, _ = decimal.NewFromString(issued)
	snap.BuyPrincipal, _ = decimal.NewFromString(buy)
	snap.LPPrincipal, _ = decimal.NewFromString(lp)
	snap.Positions = make(map[string]model.Position)

	rows, err := s.pool.Query(ctx,
		`SELECT id, owner,
		        principal_stable::TEXT, principal_asset::TEXT,
		        entry_yield_index::TEXT, entry_price::TEXT,
		        created_at
		 FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("load snapshot positions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Position
		var stable, asset, index, price string
		if err := rows.Scan(&p.ID, &p.Owner, &stable, &asset, &index, &price, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.PrincipalStable, _ = decimal.NewFromString(stable)
		p.PrincipalAsset, _ = decimal.NewFromString(asset)
		p.EntryYieldIndex, _ = decimal.NewFromString(index)
		p.EntryPrice, _ = decimal.NewFromString(price)
		snap.Positions[p.ID] = p
	}
	return &snap, rows.Err()
}

func (s *PostgresStore) InsertOperation(ctx context.Context, rec *model.OperationRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO operations (id, kind, owner, position_id, stable_in, asset_in, stable_out, asset_out, scale, price, vault_after, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12)`,
		rec.ID, rec.Kind, rec.Owner, rec.PositionID,
		rec.StableIn.String(), rec.AssetIn.String(),
		rec.StableOut.String(), rec.AssetOut.String(),
		rec.Scale.String(), rec.Price.String(), rec.VaultAfter.String(),
		rec.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListOperations(ctx context.Context, limit int) ([]model.OperationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, owner, position_id,
		        stable_in::TEXT, asset_in::TEXT, stable_out::TEXT, asset_out::TEXT,
		        scale::TEXT, price::TEXT, vault_after::TEXT, timestamp
		 FROM operations ORDER BY timestamp DESC LIMIT $1`, limitOrDefault(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs, err := scanOperations(rows)
	if err != nil {
		return nil, err
	}
	reverse(recs)
	return recs, nil
}

func (s *PostgresStore) ListOperationsByOwner(ctx context.Context, owner string, limit int) ([]model.OperationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, owner, position_id,
		        stable_in::TEXT, asset_in::TEXT, stable_out::TEXT, asset_out::TEXT,
		        scale::TEXT, price::TEXT, vault_after::TEXT, timestamp
		 FROM operations WHERE owner = $1 ORDER BY timestamp DESC LIMIT $2`,
		owner, limitOrDefault(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs, err := scanOperations(rows)
	if err != nil {
		return nil, err
	}
	reverse(recs)
	return recs, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 1000
	}
	return limit
}

func reverse(recs []model.OperationRecord) {
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
}

func scanOperations(rows pgx.Rows) ([]model.OperationRecord, error) {
	var recs []model.OperationRecord
	for rows.Next() {
		var rec model.OperationRecord
		var stableIn, assetIn, stableOut, assetOut, scale, price, vaultAfter string

		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.Owner, &rec.PositionID,
			&stableIn, &assetIn, &stableOut, &assetOut,
			&scale, &price, &vaultAfter, &rec.Timestamp); err != nil {
			return nil, err
		}

		rec.StableIn, _ = decimal.NewFromString(stableIn)
		rec.AssetIn, _ = decimal.NewFromString(assetIn)
		rec.StableOut, _ = decimal.NewFromString(stableOut)
		rec.AssetOut, _ = decimal.NewFromString(assetOut)
		rec.Scale, _ = decimal.NewFromString(scale)
		rec.Price, _ = decimal.NewFromString(price)
		rec.VaultAfter, _ = decimal.NewFromString(vaultAfter)

		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
