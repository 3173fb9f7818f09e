// Package store owns every read-modify-write cycle over ledger
// entities. All mutations go through conditional updates that carry the
// previously read version and the non-negative floor in the WHERE
// clause, so a lost race or an overdraft fails closed as a Conflict
// instead of silently proceeding with stale data.
package store

import (
	"context"
	"errors"
	"time"

	"bullion-ledger/internal/errs"
	"bullion-ledger/internal/model"
	"bullion-ledger/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithTx runs fn against a transaction handle. The transaction commits
// only when fn returns nil; any error aborts the whole unit, so no
// partial state is ever observable.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx EntityTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(ctx, &entityTx{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) WalletByOwner(ctx context.Context, ownerID string) (*model.Wallet, error) {
	return scanWallet(s.pool.QueryRow(ctx, walletByOwnerSQL, ownerID))
}

func (s *Store) HoldingsByOwner(ctx context.Context, ownerID string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, product_id, amount, locked_amount, version, created_at, updated_at
		FROM holdings WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Holding
	for rows.Next() {
		var h model.Holding
		if err := rows.Scan(&h.ID, &h.OwnerID, &h.ProductID, &h.Amount, &h.LockedAmount, &h.Version, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) OnlineHoldingsByOwner(ctx context.Context, ownerID string) ([]model.OnlineHolding, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, commodity, weight, version, updated_at
		FROM online_holdings WHERE owner_id = $1 ORDER BY commodity`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.OnlineHolding
	for rows.Next() {
		var h model.OnlineHolding
		if err := rows.Scan(&h.ID, &h.OwnerID, &h.Commodity, &h.Weight, &h.Version, &h.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// PendingOrders lists PENDING orders split by expiry relative to now:
// the sweeper confirms the live ones and fails the expired ones.
func (s *Store) PendingOrders(ctx context.Context, expired bool, now time.Time) ([]model.Order, error) {
	cmp := ">"
	if expired {
		cmp = "<="
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, product_id, side, type, grams, price_per_unit, total_price,
		       status, expires_at, confirmed_at, version, created_at
		FROM orders WHERE status = $1 AND expires_at `+cmp+` $2
		ORDER BY created_at`, string(types.OrderStatusPending), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Order
	for rows.Next() {
		o, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *Store) OrdersByOwner(ctx context.Context, ownerID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, product_id, side, type, grams, price_per_unit, total_price,
		       status, expires_at, confirmed_at, version, created_at
		FROM orders WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Order
	for rows.Next() {
		o, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *Store) TransactionsByOwner(ctx context.Context, ownerID string, limit int) ([]model.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, coalesce(product_id::text, ''), coalesce(commodity, ''), type, status,
		       amount, price, fee, total, ref_id, meta, created_at
		FROM transactions WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.ProductID, &t.Commodity, &t.Type, &t.Status,
			&t.Amount, &t.Price, &t.Fee, &t.Total, &t.RefID, &t.Meta, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ProductByID(ctx context.Context, id string) (*model.Product, error) {
	return scanProduct(s.pool.QueryRow(ctx, productByIDSQL, id))
}

func (s *Store) ActiveProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, coalesce(karat, 0), unit, buy_price, sell_price, is_active, version, created_at, updated_at
		FROM products WHERE is_active ORDER BY type, karat`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.Type, &p.Karat, &p.Unit, &p.BuyPrice, &p.SellPrice, &p.IsActive, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReleaseProduct re-opens the product mutex outside any transaction.
// This is the compensating step for a reservation that claimed the
// product and then aborted. The aborted claim rolled back with its
// transaction, so by the time this runs another request may hold a
// legitimate claim; the NOT EXISTS guard keeps the re-open from
// clobbering a product backing a live PENDING order.
func (s *Store) ReleaseProduct(ctx context.Context, productID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE products SET is_active = true, version = version + 1, updated_at = now()
		WHERE id = $1 AND NOT is_active
		  AND NOT EXISTS (SELECT 1 FROM orders WHERE product_id = $1 AND status = $2)`,
		productID, string(types.OrderStatusPending))
	return err
}

func notFoundOrErr(err error, msg string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.NotFound(msg)
	}
	return err
}
