// Package archive persists terminal orders and settled contracts to SQLite.
//
// The engine treats persistence as a collaborator behind its Store seam: the
// dispatcher goroutine upserts records as their terminal events flow past,
// never from inside a writer section. The archive is an audit trail, not a
// source of truth — the engine never reads it back during matching.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"gridtrade/pkg/types"
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the archive database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			id                TEXT PRIMARY KEY,
			side              TEXT NOT NULL,
			category          TEXT NOT NULL,
			quantity          TEXT NOT NULL,
			limit_price       TEXT NOT NULL,
			user_id           TEXT NOT NULL,
			state             TEXT NOT NULL,
			matched_with      TEXT NOT NULL DEFAULT '',
			contract_id       TEXT NOT NULL DEFAULT '',
			execution_latency INTEGER NOT NULL DEFAULT 0,
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);
		CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at);

		CREATE TABLE IF NOT EXISTS contracts (
			id                 TEXT PRIMARY KEY,
			buyer_order_id     TEXT NOT NULL,
			seller_order_id    TEXT NOT NULL,
			buyer              TEXT NOT NULL,
			seller             TEXT NOT NULL,
			category           TEXT NOT NULL,
			quantity           TEXT NOT NULL,
			execution_price    TEXT NOT NULL,
			total_value        TEXT NOT NULL,
			tx_hash            TEXT NOT NULL,
			state              TEXT NOT NULL,
			verification       TEXT NOT NULL,
			created_at         TEXT NOT NULL,
			deployed_at        TEXT,
			executed_at        TEXT,
			execution_duration INTEGER NOT NULL DEFAULT 0,
			gas_used           TEXT NOT NULL,
			block_number       INTEGER NOT NULL DEFAULT 0,
			failure_reason     TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_contracts_created ON contracts(created_at);
	`)
	return err
}

// SaveOrder upserts one order record. Later saves of the same ID overwrite
// earlier ones, so the row always reflects the latest observed state.
func (s *Store) SaveOrder(ctx context.Context, o types.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders
			(id, side, category, quantity, limit_price, user_id, state,
			 matched_with, contract_id, execution_latency, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			matched_with = excluded.matched_with,
			contract_id = excluded.contract_id,
			execution_latency = excluded.execution_latency,
			updated_at = excluded.updated_at`,
		o.ID, string(o.Side), string(o.Category), o.Quantity.String(),
		o.LimitPrice.String(), o.UserID, string(o.State),
		o.MatchedWith, o.ContractID, int64(o.ExecutionLatency),
		o.CreatedAt.UTC().Format(time.RFC3339Nano),
		o.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save order %s: %w", o.ID, err)
	}
	return nil
}

// SaveContract upserts one contract record.
func (s *Store) SaveContract(ctx context.Context, c types.Contract) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contracts
			(id, buyer_order_id, seller_order_id, buyer, seller, category,
			 quantity, execution_price, total_value, tx_hash, state,
			 verification, created_at, deployed_at, executed_at,
			 execution_duration, gas_used, block_number, failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			verification = excluded.verification,
			deployed_at = excluded.deployed_at,
			executed_at = excluded.executed_at,
			execution_duration = excluded.execution_duration,
			gas_used = excluded.gas_used,
			block_number = excluded.block_number,
			failure_reason = excluded.failure_reason`,
		c.ID, c.BuyerOrderID, c.SellerOrderID, c.Buyer, c.Seller,
		string(c.Category), c.Quantity.String(), c.ExecutionPrice.String(),
		c.TotalValue.String(), c.TxHash, string(c.State),
		string(c.Verification), c.CreatedAt.UTC().Format(time.RFC3339Nano),
		formatNullableTime(c.DeployedAt), formatNullableTime(c.ExecutedAt),
		int64(c.ExecutionDuration), c.GasUsed.String(),
		int64(c.BlockNumber), c.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("save contract %s: %w", c.ID, err)
	}
	return nil
}

// Orders returns archived orders newest-first, up to limit (0 = no cap).
func (s *Store) Orders(ctx context.Context, limit int) ([]types.Order, error) {
	query := `
		SELECT id, side, category, quantity, limit_price, user_id, state,
		       matched_with, contract_id, execution_latency, created_at, updated_at
		FROM orders ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []types.Order
	for rows.Next() {
		var (
			o                          types.Order
			side, cat, qty, price, st  string
			latencyNs                  int64
			createdAt, updatedAt       string
		)
		if err := rows.Scan(&o.ID, &side, &cat, &qty, &price, &o.UserID, &st,
			&o.MatchedWith, &o.ContractID, &latencyNs, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Side = types.Side(side)
		o.Category = types.Category(cat)
		o.State = types.OrderState(st)
		o.ExecutionLatency = time.Duration(latencyNs)
		if o.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("order %s quantity: %w", o.ID, err)
		}
		if o.LimitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("order %s limit price: %w", o.ID, err)
		}
		if o.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("order %s created_at: %w", o.ID, err)
		}
		if o.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("order %s updated_at: %w", o.ID, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Contracts returns archived contracts newest-first, up to limit (0 = no cap).
func (s *Store) Contracts(ctx context.Context, limit int) ([]types.Contract, error) {
	query := `
		SELECT id, buyer_order_id, seller_order_id, buyer, seller, category,
		       quantity, execution_price, total_value, tx_hash, state,
		       verification, created_at, deployed_at, executed_at,
		       execution_duration, gas_used, block_number, failure_reason
		FROM contracts ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query contracts: %w", err)
	}
	defer rows.Close()

	var out []types.Contract
	for rows.Next() {
		var (
			c                               types.Contract
			cat, qty, price, total, st, ver string
			gas, createdAt                  string
			deployedAt, executedAt          sql.NullString
			durationNs, blockNumber         int64
		)
		if err := rows.Scan(&c.ID, &c.BuyerOrderID, &c.SellerOrderID,
			&c.Buyer, &c.Seller, &cat, &qty, &price, &total, &c.TxHash,
			&st, &ver, &createdAt, &deployedAt, &executedAt,
			&durationNs, &gas, &blockNumber, &c.FailureReason); err != nil {
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		c.Category = types.Category(cat)
		c.State = types.ContractState(st)
		c.Verification = types.Verification(ver)
		c.ExecutionDuration = time.Duration(durationNs)
		c.BlockNumber = uint64(blockNumber)
		if c.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("contract %s quantity: %w", c.ID, err)
		}
		if c.ExecutionPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("contract %s execution price: %w", c.ID, err)
		}
		if c.TotalValue, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("contract %s total value: %w", c.ID, err)
		}
		if c.GasUsed, err = decimal.NewFromString(gas); err != nil {
			return nil, fmt.Errorf("contract %s gas: %w", c.ID, err)
		}
		if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("contract %s created_at: %w", c.ID, err)
		}
		if c.DeployedAt, err = parseNullableTime(deployedAt); err != nil {
			return nil, fmt.Errorf("contract %s deployed_at: %w", c.ID, err)
		}
		if c.ExecutedAt, err = parseNullableTime(executedAt); err != nil {
			return nil, fmt.Errorf("contract %s executed_at: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// NopStore discards everything. It stands in when the archive is disabled.
type NopStore struct{}

func (NopStore) SaveOrder(context.Context, types.Order) error       { return nil }
func (NopStore) SaveContract(context.Context, types.Contract) error { return nil }
func (NopStore) Close() error                                       { return nil }
