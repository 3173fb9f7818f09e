// Package pricefeed serves the commodity price surface: current prices,
// the product catalog and a live price stream. Prices are written here
// and only read by the ledger, inside its own transactions.
package pricefeed

import (
	"context"

	"bullion-ledger/internal/errs"
	"bullion-ledger/internal/model"
	"bullion-ledger/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Store struct {
	pool *pgxpool.Pool
	bus  *Bus
}

func NewStore(pool *pgxpool.Pool, bus *Bus) *Store {
	return &Store{pool: pool, bus: bus}
}

func (s *Store) Prices(ctx context.Context) ([]model.CommodityPrice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT commodity, price, fee_percent, updated_at
		FROM commodity_prices ORDER BY commodity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.CommodityPrice
	for rows.Next() {
		var p model.CommodityPrice
		if err := rows.Scan(&p.Commodity, &p.Price, &p.FeePercent, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) PriceFor(ctx context.Context, commodity types.Commodity) (*model.CommodityPrice, error) {
	var p model.CommodityPrice
	err := s.pool.QueryRow(ctx, `
		SELECT commodity, price, fee_percent, updated_at
		FROM commodity_prices WHERE commodity = $1`, string(commodity)).
		Scan(&p.Commodity, &p.Price, &p.FeePercent, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errs.NotFound("commodity price not found")
		}
		return nil, err
	}
	return &p, nil
}

// SetPrice upserts the price row and publishes the update to stream
// subscribers.
func (s *Store) SetPrice(ctx context.Context, commodity types.Commodity, price, feePercent decimal.Decimal) (*model.CommodityPrice, error) {
	if !types.ValidCommodity(commodity) {
		return nil, errs.BadRequest("unknown commodity")
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, errs.BadRequest("price must be positive")
	}
	if feePercent.IsNegative() {
		return nil, errs.BadRequest("fee percent must not be negative")
	}
	var p model.CommodityPrice
	err := s.pool.QueryRow(ctx, `
		INSERT INTO commodity_prices (commodity, price, fee_percent)
		VALUES ($1, $2, $3)
		ON CONFLICT (commodity)
		DO UPDATE SET price = EXCLUDED.price, fee_percent = EXCLUDED.fee_percent, updated_at = now()
		RETURNING commodity, price, fee_percent, updated_at`,
		string(commodity), price, feePercent).
		Scan(&p.Commodity, &p.Price, &p.FeePercent, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if s.bus != nil {
		s.bus.Publish(p)
	}
	return &p, nil
}
