package model

import (
	"time"

	"bullion-ledger/internal/types"

	"github.com/shopspring/decimal"
)

// Wallet is the cash side of an owner's ledger. Balance and
// LockedBalance never go below zero; Version is bumped only by
// conditional updates inside the entity store.
type Wallet struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	Balance       decimal.Decimal `json:"balance"`
	LockedBalance decimal.Decimal `json:"locked_balance"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Holding is a physical position: one owner, one product. Created
// lazily on first acquisition, unique per (owner, product).
type Holding struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"owner_id"`
	ProductID    string          `json:"product_id"`
	Amount       decimal.Decimal `json:"amount"`
	LockedAmount decimal.Decimal `json:"locked_amount"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// OnlineHolding is one row of the holdings-by-commodity map used by
// online trades.
type OnlineHolding struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Commodity types.Commodity `json:"commodity"`
	Weight    decimal.Decimal `json:"weight"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Product is a physical commodity unit. IsActive doubles as a
// single-resource mutex for the reservation flow: a product held by a
// pending order is inactive until the order settles or expires.
type Product struct {
	ID        string          `json:"id"`
	Type      types.Commodity `json:"type"`
	Karat     int             `json:"karat,omitempty"`
	Unit      string          `json:"unit"`
	BuyPrice  decimal.Decimal `json:"buy_price"`
	SellPrice decimal.Decimal `json:"sell_price"`
	IsActive  bool            `json:"is_active"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CommodityPrice is the live market price snapshot per commodity,
// read-only from the ledger's perspective.
type CommodityPrice struct {
	Commodity  types.Commodity `json:"commodity"`
	Price      decimal.Decimal `json:"price"`
	FeePercent decimal.Decimal `json:"fee_percent"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Order is the intermediate state of a two-phase physical trade. Only
// PENDING orders are mutable, and only by the settlement sweeper.
type Order struct {
	ID           string            `json:"id"`
	OwnerID      string            `json:"owner_id"`
	ProductID    string            `json:"product_id"`
	Side         types.OrderSide   `json:"side"`
	Type         types.OrderType   `json:"type"`
	Grams        decimal.Decimal   `json:"grams"`
	PricePerUnit decimal.Decimal   `json:"price_per_unit"`
	TotalPrice   decimal.Decimal   `json:"total_price"`
	Status       types.OrderStatus `json:"status"`
	ExpiresAt    time.Time         `json:"expires_at"`
	ConfirmedAt  *time.Time        `json:"confirmed_at,omitempty"`
	Version      int64             `json:"version"`
	CreatedAt    time.Time         `json:"created_at"`
}

// TransactionMeta captures the before/after snapshots audited with
// every ledger mutation.
type TransactionMeta struct {
	Reason        string           `json:"reason,omitempty"`
	BalanceBefore *decimal.Decimal `json:"balance_before,omitempty"`
	BalanceAfter  *decimal.Decimal `json:"balance_after,omitempty"`
	AssetBefore   *decimal.Decimal `json:"asset_before,omitempty"`
	AssetAfter    *decimal.Decimal `json:"asset_after,omitempty"`
	PricePerUnit  *decimal.Decimal `json:"price_per_unit,omitempty"`
	TotalPrice    *decimal.Decimal `json:"total_price,omitempty"`
}

// Transaction is the append-only audit record and the system of record
// for reconciliation. Never updated or deleted; RefID is unique.
type Transaction struct {
	ID        string                  `json:"id"`
	OwnerID   string                  `json:"owner_id"`
	ProductID string                  `json:"product_id,omitempty"`
	Commodity types.Commodity         `json:"commodity,omitempty"`
	Type      types.TransactionType   `json:"type"`
	Status    types.TransactionStatus `json:"status"`
	Amount    decimal.Decimal         `json:"amount"`
	Price     decimal.Decimal         `json:"price"`
	Fee       decimal.Decimal         `json:"fee"`
	Total     decimal.Decimal         `json:"total"`
	RefID     string                  `json:"ref_id"`
	Meta      TransactionMeta         `json:"meta"`
	CreatedAt time.Time               `json:"created_at"`
}
