package ledger

import (
	"context"

	"bullion-ledger/internal/errs"
	"bullion-ledger/internal/lock"
	"bullion-ledger/internal/model"
	"bullion-ledger/internal/store"
	"bullion-ledger/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BuyCommodity settles an online purchase immediately: the price
// snapshot is read inside the same transaction as the balance check, so
// the quoted cost and the debit cannot diverge.
func (s *Service) BuyCommodity(ctx context.Context, ownerID string, commodity types.Commodity, amount decimal.Decimal, idemKey string) (*model.Transaction, error) {
	if err := validateTrade(commodity, amount); err != nil {
		return nil, err
	}
	key := lock.TradeKey(ownerID, string(commodity))
	token, err := s.locker.Acquire(ctx, key, s.assetLockTTL)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, errs.Conflict("another trade is in progress")
	}
	defer s.release(key, token)

	if idemKey != "" {
		var cached model.Transaction
		ok, err := s.cache.Lookup(ctx, idemKey, &cached)
		if err != nil {
			return nil, err
		}
		if ok {
			return &cached, nil
		}
	}

	var txn *model.Transaction
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.EntityTx) error {
		price, err := tx.CommodityPriceFor(ctx, commodity)
		if err != nil {
			return err
		}
		if price.Price.LessThanOrEqual(decimal.Zero) {
			return errs.BadRequest("invalid commodity price")
		}
		tradeValue := price.Price.Mul(amount)
		fee := tradeValue.Mul(price.FeePercent)
		totalCost := tradeValue.Add(fee)

		wallet, err := tx.WalletByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		if wallet.Balance.LessThan(totalCost) {
			return errs.BadRequest("insufficient balance")
		}
		balanceBefore := wallet.Balance
		updated, err := tx.ApplyWalletDelta(ctx, wallet, store.WalletDelta{
			Balance:    totalCost.Neg(),
			MinBalance: &totalCost,
		})
		if err != nil {
			return err
		}
		if _, err := tx.AddOnlineWeight(ctx, ownerID, commodity, amount); err != nil {
			return err
		}
		txn = &model.Transaction{
			OwnerID:   ownerID,
			Commodity: commodity,
			Type:      types.OnlineTradeType(types.OrderSideBuy, commodity),
			Status:    types.TransactionStatusSuccess,
			Amount:    amount,
			Price:     price.Price,
			Fee:       fee,
			Total:     totalCost,
			RefID:     uuid.NewString(),
			Meta: model.TransactionMeta{
				BalanceBefore: &balanceBefore,
				BalanceAfter:  &updated.Balance,
			},
		}
		return tx.CreateTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	s.cacheResult(ctx, idemKey, txn)
	return txn, nil
}

// SellCommodity mirrors BuyCommodity: the weight floor rides in the
// holding's conditional update and the proceeds are credited net of fee.
func (s *Service) SellCommodity(ctx context.Context, ownerID string, commodity types.Commodity, amount decimal.Decimal, idemKey string) (*model.Transaction, error) {
	if err := validateTrade(commodity, amount); err != nil {
		return nil, err
	}
	key := lock.TradeKey(ownerID, string(commodity))
	token, err := s.locker.Acquire(ctx, key, s.assetLockTTL)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, errs.Conflict("another trade is in progress")
	}
	defer s.release(key, token)

	if idemKey != "" {
		var cached model.Transaction
		ok, err := s.cache.Lookup(ctx, idemKey, &cached)
		if err != nil {
			return nil, err
		}
		if ok {
			return &cached, nil
		}
	}

	var txn *model.Transaction
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.EntityTx) error {
		price, err := tx.CommodityPriceFor(ctx, commodity)
		if err != nil {
			return err
		}
		if price.Price.LessThanOrEqual(decimal.Zero) {
			return errs.BadRequest("invalid commodity price")
		}
		tradeValue := price.Price.Mul(amount)
		fee := tradeValue.Mul(price.FeePercent)
		proceeds := tradeValue.Sub(fee)

		holding, err := tx.OnlineHoldingFor(ctx, ownerID, commodity)
		if err != nil {
			if errs.IsNotFound(err) {
				return errs.BadRequest("insufficient holding")
			}
			return err
		}
		if holding.Weight.LessThan(amount) {
			return errs.BadRequest("insufficient holding")
		}
		if _, err := tx.SubtractOnlineWeight(ctx, holding, amount); err != nil {
			return err
		}

		wallet, err := tx.WalletByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		balanceBefore := wallet.Balance
		updated, err := tx.ApplyWalletDelta(ctx, wallet, store.WalletDelta{Balance: proceeds})
		if err != nil {
			return err
		}
		txn = &model.Transaction{
			OwnerID:   ownerID,
			Commodity: commodity,
			Type:      types.OnlineTradeType(types.OrderSideSell, commodity),
			Status:    types.TransactionStatusSuccess,
			Amount:    amount,
			Price:     price.Price,
			Fee:       fee,
			Total:     proceeds,
			RefID:     uuid.NewString(),
			Meta: model.TransactionMeta{
				BalanceBefore: &balanceBefore,
				BalanceAfter:  &updated.Balance,
			},
		}
		return tx.CreateTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	s.cacheResult(ctx, idemKey, txn)
	return txn, nil
}

func validateTrade(commodity types.Commodity, amount decimal.Decimal) error {
	if !types.ValidCommodity(commodity) {
		return errs.BadRequest("unknown commodity")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return errs.BadRequest("amount must be positive")
	}
	return nil
}
