// Package settlement finalizes or expires the PENDING orders left by
// phase one of physical trades. The sweeper runs without the
// per-account lock; it relies on the same version-guarded conditional
// updates as the request path, so a collision with a concurrent user
// operation surfaces as a Conflict and the order is retried or failed,
// never double-applied.
package settlement

import (
	"context"
	"time"

	"bullion-ledger/internal/errs"
	"bullion-ledger/internal/model"
	"bullion-ledger/internal/store"
	"bullion-ledger/internal/types"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx store.EntityTx) error) error
	PendingOrders(ctx context.Context, expired bool, now time.Time) ([]model.Order, error)
}

type Sweeper struct {
	store    Store
	log      zerolog.Logger
	interval time.Duration
}

func New(st Store, log zerolog.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 4 * time.Second
	}
	return &Sweeper{store: st, log: log, interval: interval}
}

// Run sweeps on a fixed interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("settlement sweeper started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("settlement sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one tick: confirm live PENDING orders, fail expired
// ones. A failure on one order never aborts the rest of the tick.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	live, err := s.store.PendingOrders(ctx, false, now)
	if err != nil {
		s.log.Error().Err(err).Msg("listing pending orders failed")
	}
	for i := range live {
		order := &live[i]
		if err := s.confirm(ctx, order, now); err != nil {
			s.log.Error().Err(err).Str("order_id", order.ID).Msg("order confirmation failed")
			if failErr := s.fail(ctx, order); failErr != nil {
				s.log.Error().Err(failErr).Str("order_id", order.ID).Msg("marking order failed errored")
			}
		}
	}

	expired, err := s.store.PendingOrders(ctx, true, now)
	if err != nil {
		s.log.Error().Err(err).Msg("listing expired orders failed")
	}
	for i := range expired {
		order := &expired[i]
		if err := s.fail(ctx, order); err != nil {
			s.log.Error().Err(err).Str("order_id", order.ID).Msg("expiring order failed")
		} else {
			s.log.Info().Str("order_id", order.ID).Msg("pending order expired")
		}
	}
}

func (s *Sweeper) confirm(ctx context.Context, order *model.Order, now time.Time) error {
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.EntityTx) error {
		switch order.Side {
		case types.OrderSideBuy:
			return s.confirmBuy(ctx, tx, order, now)
		case types.OrderSideSell:
			return s.confirmSell(ctx, tx, order, now)
		default:
			return errs.BadRequest("unknown order side")
		}
	})
	if err == nil {
		s.log.Info().Str("order_id", order.ID).Str("side", string(order.Side)).
			Str("total", order.TotalPrice.String()).Msg("order confirmed")
	}
	return err
}

// confirmBuy deducts whatever part of the total was not already
// reserved, releases the reservation and credits the holding. Only
// this order's share of lockedBalance may be released; the rest can
// belong to a concurrent withdraw hold. The holding write is an
// upsert-by-increment and the transaction record reuses the order id
// as refId, so a crash-and-retry of the same order cannot apply twice.
func (s *Sweeper) confirmBuy(ctx context.Context, tx store.EntityTx, order *model.Order, now time.Time) error {
	wallet, err := tx.WalletByOwner(ctx, order.OwnerID)
	if err != nil {
		return err
	}
	product, err := tx.ProductByID(ctx, order.ProductID)
	if err != nil {
		return err
	}

	total := order.TotalPrice
	release := decimal.Min(wallet.LockedBalance, total)
	remaining := total.Sub(release)
	if wallet.Balance.LessThan(remaining) {
		return errs.BadRequest("insufficient balance")
	}
	balanceBefore := wallet.Balance.Add(release)

	updated, err := tx.ApplyWalletDelta(ctx, wallet, store.WalletDelta{
		Balance:       remaining.Neg(),
		LockedBalance: release.Neg(),
		MinLocked:     &release,
	})
	if err != nil {
		return err
	}

	holding, err := tx.AddHolding(ctx, order.OwnerID, order.ProductID, order.Grams)
	if err != nil {
		return err
	}
	assetBefore := holding.Amount.Sub(order.Grams)

	if err := tx.CreateTransaction(ctx, &model.Transaction{
		OwnerID:   order.OwnerID,
		ProductID: order.ProductID,
		Type:      types.PhysicalTradeType(types.OrderSideBuy, product.Type),
		Status:    types.TransactionStatusSuccess,
		Amount:    order.Grams,
		Price:     order.PricePerUnit,
		Total:     total,
		RefID:     order.ID,
		Meta: model.TransactionMeta{
			PricePerUnit:  &order.PricePerUnit,
			TotalPrice:    &total,
			BalanceBefore: &balanceBefore,
			BalanceAfter:  &updated.Balance,
			AssetBefore:   &assetBefore,
			AssetAfter:    &holding.Amount,
		},
	}); err != nil {
		return err
	}
	return tx.MarkOrderConfirmed(ctx, order.ID, now)
}

// confirmSell only credits the balance: inventory left the holding at
// reservation time.
func (s *Sweeper) confirmSell(ctx context.Context, tx store.EntityTx, order *model.Order, now time.Time) error {
	wallet, err := tx.WalletByOwner(ctx, order.OwnerID)
	if err != nil {
		return err
	}
	product, err := tx.ProductByID(ctx, order.ProductID)
	if err != nil {
		return err
	}

	balanceBefore := wallet.Balance
	updated, err := tx.ApplyWalletDelta(ctx, wallet, store.WalletDelta{Balance: order.TotalPrice})
	if err != nil {
		return err
	}

	zero := decimal.Zero
	if err := tx.CreateTransaction(ctx, &model.Transaction{
		OwnerID:   order.OwnerID,
		ProductID: order.ProductID,
		Type:      types.PhysicalTradeType(types.OrderSideSell, product.Type),
		Status:    types.TransactionStatusSuccess,
		Amount:    order.Grams,
		Price:     order.PricePerUnit,
		Total:     order.TotalPrice,
		RefID:     order.ID,
		Meta: model.TransactionMeta{
			PricePerUnit:  &order.PricePerUnit,
			TotalPrice:    &order.TotalPrice,
			BalanceBefore: &balanceBefore,
			BalanceAfter:  &updated.Balance,
			AssetBefore:   &order.Grams,
			AssetAfter:    &zero,
		},
	}); err != nil {
		return err
	}
	return tx.MarkOrderConfirmed(ctx, order.ID, now)
}

// fail marks the order FAILED and releases its reservation: a buy
// returns the locked funds and re-opens the product, a sell restores
// the holding and re-claims the unit.
func (s *Sweeper) fail(ctx context.Context, order *model.Order) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx store.EntityTx) error {
		if err := tx.MarkOrderFailed(ctx, order.ID); err != nil {
			return err
		}
		switch order.Side {
		case types.OrderSideBuy:
			wallet, err := tx.WalletByOwner(ctx, order.OwnerID)
			if err != nil {
				return err
			}
			// lockedBalance also carries withdraw reservations; only
			// the part this order locked may come back.
			refund := decimal.Min(wallet.LockedBalance, order.TotalPrice)
			if refund.IsPositive() {
				if _, err := tx.ApplyWalletDelta(ctx, wallet, store.WalletDelta{
					Balance:       refund,
					LockedBalance: refund.Neg(),
					MinLocked:     &refund,
				}); err != nil {
					return err
				}
			}
			return tx.OpenProduct(ctx, order.ProductID)
		case types.OrderSideSell:
			if _, err := tx.AddHolding(ctx, order.OwnerID, order.ProductID, order.Grams); err != nil {
				return err
			}
			return tx.CloseProduct(ctx, order.ProductID)
		default:
			return nil
		}
	})
}
