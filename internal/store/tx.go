package store

import (
	"context"
	"strconv"
	"time"

	"bullion-ledger/internal/errs"
	"bullion-ledger/internal/model"
	"bullion-ledger/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// WalletDelta is a version-guarded balance mutation. MinBalance and
// MinLocked, when set, are baked into the UPDATE's WHERE clause so the
// floor check and the write are one indivisible statement.
type WalletDelta struct {
	Balance       decimal.Decimal
	LockedBalance decimal.Decimal
	MinBalance    *decimal.Decimal
	MinLocked     *decimal.Decimal
}

// EntityTx is the transaction handle handed to ledger operations. Every
// conditional method returns a Conflict error when zero rows match,
// which aborts the surrounding transaction.
type EntityTx interface {
	WalletByOwner(ctx context.Context, ownerID string) (*model.Wallet, error)
	ApplyWalletDelta(ctx context.Context, w *model.Wallet, d WalletDelta) (*model.Wallet, error)

	HoldingByID(ctx context.Context, ownerID, holdingID string) (*model.Holding, error)
	HoldingByProduct(ctx context.Context, ownerID, productID string) (*model.Holding, error)
	AddHolding(ctx context.Context, ownerID, productID string, grams decimal.Decimal) (*model.Holding, error)
	DeleteHolding(ctx context.Context, h *model.Holding) error

	ProductByID(ctx context.Context, id string) (*model.Product, error)
	ClaimProduct(ctx context.Context, id string) (*model.Product, error)
	OpenProduct(ctx context.Context, id string) error
	CloseProduct(ctx context.Context, id string) error

	CommodityPriceFor(ctx context.Context, commodity types.Commodity) (*model.CommodityPrice, error)
	OnlineHoldingFor(ctx context.Context, ownerID string, commodity types.Commodity) (*model.OnlineHolding, error)
	AddOnlineWeight(ctx context.Context, ownerID string, commodity types.Commodity, delta decimal.Decimal) (*model.OnlineHolding, error)
	SubtractOnlineWeight(ctx context.Context, h *model.OnlineHolding, delta decimal.Decimal) (*model.OnlineHolding, error)

	CreateOrder(ctx context.Context, o *model.Order) error
	MarkOrderConfirmed(ctx context.Context, orderID string, at time.Time) error
	MarkOrderFailed(ctx context.Context, orderID string) error

	CreateTransaction(ctx context.Context, t *model.Transaction) error
}

type entityTx struct {
	q pgx.Tx
}

const walletByOwnerSQL = `
	SELECT id, owner_id, balance, locked_balance, version, created_at, updated_at
	FROM wallets WHERE owner_id = $1`

const productByIDSQL = `
	SELECT id, type, coalesce(karat, 0), unit, buy_price, sell_price, is_active, version, created_at, updated_at
	FROM products WHERE id = $1`

func (t *entityTx) WalletByOwner(ctx context.Context, ownerID string) (*model.Wallet, error) {
	return scanWallet(t.q.QueryRow(ctx, walletByOwnerSQL, ownerID))
}

func (t *entityTx) ApplyWalletDelta(ctx context.Context, w *model.Wallet, d WalletDelta) (*model.Wallet, error) {
	args := []any{w.ID, w.Version, d.Balance, d.LockedBalance}
	cond := ""
	if d.MinBalance != nil {
		args = append(args, *d.MinBalance)
		cond += " AND balance >= $" + strconv.Itoa(len(args))
	}
	if d.MinLocked != nil {
		args = append(args, *d.MinLocked)
		cond += " AND locked_balance >= $" + strconv.Itoa(len(args))
	}
	row := t.q.QueryRow(ctx, `
		UPDATE wallets
		SET balance = balance + $3,
		    locked_balance = locked_balance + $4,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND version = $2`+cond+`
		RETURNING id, owner_id, balance, locked_balance, version, created_at, updated_at`, args...)
	updated, err := scanWallet(row)
	if errs.IsNotFound(err) {
		return nil, errs.Conflict("wallet was updated by another process or has insufficient balance")
	}
	return updated, err
}

func (t *entityTx) HoldingByID(ctx context.Context, ownerID, holdingID string) (*model.Holding, error) {
	return scanHolding(t.q.QueryRow(ctx, `
		SELECT id, owner_id, product_id, amount, locked_amount, version, created_at, updated_at
		FROM holdings WHERE owner_id = $1 AND id = $2`, ownerID, holdingID))
}

func (t *entityTx) HoldingByProduct(ctx context.Context, ownerID, productID string) (*model.Holding, error) {
	return scanHolding(t.q.QueryRow(ctx, `
		SELECT id, owner_id, product_id, amount, locked_amount, version, created_at, updated_at
		FROM holdings WHERE owner_id = $1 AND product_id = $2`, ownerID, productID))
}

// AddHolding is an idempotent upsert-by-increment: retrying the same
// settlement after a crash lands on the conflict arm instead of
// creating a second row.
func (t *entityTx) AddHolding(ctx context.Context, ownerID, productID string, grams decimal.Decimal) (*model.Holding, error) {
	return scanHolding(t.q.QueryRow(ctx, `
		INSERT INTO holdings (owner_id, product_id, amount, locked_amount)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (owner_id, product_id)
		DO UPDATE SET amount = holdings.amount + EXCLUDED.amount,
		              version = holdings.version + 1,
		              updated_at = now()
		RETURNING id, owner_id, product_id, amount, locked_amount, version, created_at, updated_at`,
		ownerID, productID, grams))
}

func (t *entityTx) DeleteHolding(ctx context.Context, h *model.Holding) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM holdings WHERE id = $1 AND version = $2`, h.ID, h.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.Conflict("holding was updated by another process")
	}
	return nil
}

func (t *entityTx) ProductByID(ctx context.Context, id string) (*model.Product, error) {
	return scanProduct(t.q.QueryRow(ctx, productByIDSQL, id))
}

// ClaimProduct flips the product mutex active -> inactive. Zero rows
// means another pending order already holds the unit.
func (t *entityTx) ClaimProduct(ctx context.Context, id string) (*model.Product, error) {
	p, err := scanProduct(t.q.QueryRow(ctx, `
		UPDATE products SET is_active = false, version = version + 1, updated_at = now()
		WHERE id = $1 AND is_active
		RETURNING id, type, coalesce(karat, 0), unit, buy_price, sell_price, is_active, version, created_at, updated_at`, id))
	if errs.IsNotFound(err) {
		return nil, errs.Conflict("product is already locked or unavailable")
	}
	return p, err
}

func (t *entityTx) OpenProduct(ctx context.Context, id string) error {
	_, err := t.q.Exec(ctx, `
		UPDATE products SET is_active = true, version = version + 1, updated_at = now()
		WHERE id = $1`, id)
	return err
}

func (t *entityTx) CloseProduct(ctx context.Context, id string) error {
	_, err := t.q.Exec(ctx, `
		UPDATE products SET is_active = false, version = version + 1, updated_at = now()
		WHERE id = $1`, id)
	return err
}

func (t *entityTx) CommodityPriceFor(ctx context.Context, commodity types.Commodity) (*model.CommodityPrice, error) {
	var p model.CommodityPrice
	err := t.q.QueryRow(ctx, `
		SELECT commodity, price, fee_percent, updated_at
		FROM commodity_prices WHERE commodity = $1`, string(commodity)).
		Scan(&p.Commodity, &p.Price, &p.FeePercent, &p.UpdatedAt)
	if err != nil {
		return nil, notFoundOrErr(err, "commodity price not found")
	}
	return &p, nil
}

func (t *entityTx) OnlineHoldingFor(ctx context.Context, ownerID string, commodity types.Commodity) (*model.OnlineHolding, error) {
	return scanOnlineHolding(t.q.QueryRow(ctx, `
		SELECT id, owner_id, commodity, weight, version, updated_at
		FROM online_holdings WHERE owner_id = $1 AND commodity = $2`, ownerID, string(commodity)))
}

func (t *entityTx) AddOnlineWeight(ctx context.Context, ownerID string, commodity types.Commodity, delta decimal.Decimal) (*model.OnlineHolding, error) {
	return scanOnlineHolding(t.q.QueryRow(ctx, `
		INSERT INTO online_holdings (owner_id, commodity, weight)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id, commodity)
		DO UPDATE SET weight = online_holdings.weight + EXCLUDED.weight,
		              version = online_holdings.version + 1,
		              updated_at = now()
		RETURNING id, owner_id, commodity, weight, version, updated_at`,
		ownerID, string(commodity), delta))
}

// SubtractOnlineWeight enforces the weight floor in the statement
// itself: selling more than is held fails closed as a Conflict.
func (t *entityTx) SubtractOnlineWeight(ctx context.Context, h *model.OnlineHolding, delta decimal.Decimal) (*model.OnlineHolding, error) {
	updated, err := scanOnlineHolding(t.q.QueryRow(ctx, `
		UPDATE online_holdings
		SET weight = weight - $3, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2 AND weight >= $3
		RETURNING id, owner_id, commodity, weight, version, updated_at`,
		h.ID, h.Version, delta))
	if errs.IsNotFound(err) {
		return nil, errs.Conflict("holding was updated by another process or has insufficient weight")
	}
	return updated, err
}

func (t *entityTx) CreateOrder(ctx context.Context, o *model.Order) error {
	return t.q.QueryRow(ctx, `
		INSERT INTO orders (owner_id, product_id, side, type, grams, price_per_unit, total_price, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, version, created_at`,
		o.OwnerID, o.ProductID, string(o.Side), string(o.Type), o.Grams, o.PricePerUnit,
		o.TotalPrice, string(o.Status), o.ExpiresAt).
		Scan(&o.ID, &o.Version, &o.CreatedAt)
}

// MarkOrderConfirmed transitions PENDING -> CONFIRMED. The status guard
// makes confirmation exactly-once: a replayed settlement sees zero rows.
func (t *entityTx) MarkOrderConfirmed(ctx context.Context, orderID string, at time.Time) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE orders SET status = $2, confirmed_at = $3, version = version + 1
		WHERE id = $1 AND status = $4`,
		orderID, string(types.OrderStatusConfirmed), at, string(types.OrderStatusPending))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.Conflict("order is no longer pending")
	}
	return nil
}

func (t *entityTx) MarkOrderFailed(ctx context.Context, orderID string) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE orders SET status = $2, version = version + 1
		WHERE id = $1 AND status = $3`,
		orderID, string(types.OrderStatusFailed), string(types.OrderStatusPending))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.Conflict("order is no longer pending")
	}
	return nil
}

func (t *entityTx) CreateTransaction(ctx context.Context, tr *model.Transaction) error {
	var productID any
	if tr.ProductID != "" {
		productID = tr.ProductID
	}
	var commodity any
	if tr.Commodity != "" {
		commodity = string(tr.Commodity)
	}
	return t.q.QueryRow(ctx, `
		INSERT INTO transactions (owner_id, product_id, commodity, type, status, amount, price, fee, total, ref_id, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`,
		tr.OwnerID, productID, commodity, string(tr.Type), string(tr.Status),
		tr.Amount, tr.Price, tr.Fee, tr.Total, tr.RefID, tr.Meta).
		Scan(&tr.ID, &tr.CreatedAt)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (*model.Wallet, error) {
	var w model.Wallet
	err := row.Scan(&w.ID, &w.OwnerID, &w.Balance, &w.LockedBalance, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, notFoundOrErr(err, "wallet not found")
	}
	return &w, nil
}

func scanHolding(row rowScanner) (*model.Holding, error) {
	var h model.Holding
	err := row.Scan(&h.ID, &h.OwnerID, &h.ProductID, &h.Amount, &h.LockedAmount, &h.Version, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, notFoundOrErr(err, "holding not found")
	}
	return &h, nil
}

func scanOnlineHolding(row rowScanner) (*model.OnlineHolding, error) {
	var h model.OnlineHolding
	err := row.Scan(&h.ID, &h.OwnerID, &h.Commodity, &h.Weight, &h.Version, &h.UpdatedAt)
	if err != nil {
		return nil, notFoundOrErr(err, "holding not found")
	}
	return &h, nil
}

func scanProduct(row rowScanner) (*model.Product, error) {
	var p model.Product
	err := row.Scan(&p.ID, &p.Type, &p.Karat, &p.Unit, &p.BuyPrice, &p.SellPrice, &p.IsActive, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFoundOrErr(err, "product not found")
	}
	return &p, nil
}

func scanOrderRow(row rowScanner) (*model.Order, error) {
	var o model.Order
	err := row.Scan(&o.ID, &o.OwnerID, &o.ProductID, &o.Side, &o.Type, &o.Grams, &o.PricePerUnit,
		&o.TotalPrice, &o.Status, &o.ExpiresAt, &o.ConfirmedAt, &o.Version, &o.CreatedAt)
	if err != nil {
		return nil, notFoundOrErr(err, "order not found")
	}
	return &o, nil
}
