package ledger

import (
	"context"
	"time"

	"bullion-ledger/internal/errs"
	"bullion-ledger/internal/lock"
	"bullion-ledger/internal/model"
	"bullion-ledger/internal/store"
	"bullion-ledger/internal/types"

	"github.com/shopspring/decimal"
)

// BuyAsset is phase one of a physical purchase: claim the product
// mutex, move the price from balance to lockedBalance and create a
// PENDING order. The settlement sweeper finishes or expires it.
func (s *Service) BuyAsset(ctx context.Context, ownerID, productID string, grams decimal.Decimal, idemKey string) (*model.Order, error) {
	if grams.LessThanOrEqual(decimal.Zero) {
		return nil, errs.BadRequest("grams must be positive")
	}
	key := lock.BuyAssetKey(ownerID)
	token, err := s.locker.Acquire(ctx, key, s.assetLockTTL)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, errs.Conflict("another asset operation is in progress")
	}
	defer s.release(key, token)

	if idemKey != "" {
		var cached model.Order
		ok, err := s.cache.Lookup(ctx, idemKey, &cached)
		if err != nil {
			return nil, err
		}
		if ok {
			return &cached, nil
		}
	}

	var order *model.Order
	var claimed *model.Product
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.EntityTx) error {
		wallet, err := tx.WalletByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		product, err := tx.ClaimProduct(ctx, productID)
		if err != nil {
			return err
		}
		claimed = product

		totalPrice := grams.Mul(product.BuyPrice)
		if wallet.Balance.LessThan(totalPrice) {
			return errs.BadRequest("insufficient balance")
		}
		if _, err := tx.ApplyWalletDelta(ctx, wallet, store.WalletDelta{
			Balance:       totalPrice.Neg(),
			LockedBalance: totalPrice,
			MinBalance:    &totalPrice,
		}); err != nil {
			return err
		}
		order = &model.Order{
			OwnerID:      ownerID,
			ProductID:    productID,
			Side:         types.OrderSideBuy,
			Type:         types.OrderTypePhysical,
			Grams:        grams,
			PricePerUnit: product.BuyPrice,
			TotalPrice:   totalPrice,
			Status:       types.OrderStatusPending,
			ExpiresAt:    time.Now().UTC().Add(s.orderTTL),
		}
		return tx.CreateOrder(ctx, order)
	})
	if err != nil {
		// The claim was rolled back with the transaction unless it
		// committed elsewhere, but a concurrent observer may have seen
		// the product inactive; the compensation below is the explicit
		// saga step that re-opens the mutex after a partial reserve.
		if claimed != nil {
			s.compensateProductClaim(claimed.ID)
		}
		return nil, err
	}

	s.cacheResult(ctx, idemKey, order)
	return order, nil
}

// SellAsset is phase one of a physical sale: the holding is removed
// under its version guard and a PENDING sell order is created; payout
// happens at settlement.
func (s *Service) SellAsset(ctx context.Context, ownerID, holdingID, idemKey string) (*model.Order, error) {
	key := lock.SellAssetKey(ownerID)
	token, err := s.locker.Acquire(ctx, key, s.assetLockTTL)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, errs.Conflict("another asset operation is in progress")
	}
	defer s.release(key, token)

	if idemKey != "" {
		var cached model.Order
		ok, err := s.cache.Lookup(ctx, idemKey, &cached)
		if err != nil {
			return nil, err
		}
		if ok {
			return &cached, nil
		}
	}

	var order *model.Order
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.EntityTx) error {
		holding, err := tx.HoldingByID(ctx, ownerID, holdingID)
		if err != nil {
			return err
		}
		if holding.Amount.LessThanOrEqual(decimal.Zero) {
			return errs.BadRequest("insufficient asset balance")
		}
		product, err := tx.ProductByID(ctx, holding.ProductID)
		if err != nil {
			return err
		}
		// The unit is held by this owner, so its mutex must be closed;
		// an active product here means the holding is stale.
		if product.IsActive {
			return errs.BadRequest("product not available")
		}
		if err := tx.DeleteHolding(ctx, holding); err != nil {
			return err
		}
		if err := tx.OpenProduct(ctx, product.ID); err != nil {
			return err
		}
		order = &model.Order{
			OwnerID:      ownerID,
			ProductID:    holding.ProductID,
			Side:         types.OrderSideSell,
			Type:         types.OrderTypePhysical,
			Grams:        holding.Amount,
			PricePerUnit: product.SellPrice,
			TotalPrice:   holding.Amount.Mul(product.SellPrice),
			Status:       types.OrderStatusPending,
			ExpiresAt:    time.Now().UTC().Add(s.orderTTL),
		}
		return tx.CreateOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	s.cacheResult(ctx, idemKey, order)
	return order, nil
}

// compensateProductClaim re-opens the product mutex outside the aborted
// transaction. Runs on its own context so a canceled request cannot
// strand the product in the claimed state.
func (s *Service) compensateProductClaim(productID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.ReleaseProduct(ctx, productID); err != nil {
		s.log.Error().Err(err).Str("product_id", productID).Msg("product unlock compensation failed")
	}
}
