// Package ledger implements the mutation engine for the custodial
// wallet: deposit, withdraw, online trades and the two-phase physical
// trade, each serialized per account by a distributed lock and made
// retry-safe by the idempotency cache. Correctness does not depend on
// the lock: every write is version-guarded, so a lock TTL expiry or a
// second process instance degrades to conflicts, never to lost updates.
package ledger

import (
	"context"
	"time"

	"bullion-ledger/internal/errs"
	"bullion-ledger/internal/lock"
	"bullion-ledger/internal/model"
	"bullion-ledger/internal/store"
	"bullion-ledger/internal/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Store is the versioned entity store the service mutates through.
// Implemented by *store.Store.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx store.EntityTx) error) error
	WalletByOwner(ctx context.Context, ownerID string) (*model.Wallet, error)
	HoldingsByOwner(ctx context.Context, ownerID string) ([]model.Holding, error)
	OnlineHoldingsByOwner(ctx context.Context, ownerID string) ([]model.OnlineHolding, error)
	OrdersByOwner(ctx context.Context, ownerID string) ([]model.Order, error)
	TransactionsByOwner(ctx context.Context, ownerID string, limit int) ([]model.Transaction, error)
	ActiveProducts(ctx context.Context) ([]model.Product, error)
	ReleaseProduct(ctx context.Context, productID string) error
}

// Locker grants time-bounded mutual exclusion per resource key.
// Implemented by *lock.RedisLock.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)
	Release(ctx context.Context, key, token string) (bool, error)
}

// Cache replays the results of committed mutations. Implemented by
// *idempotency.Cache.
type Cache interface {
	Lookup(ctx context.Context, key string, dest any) (bool, error)
	Store(ctx context.Context, key string, result any) error
}

type Service struct {
	store  Store
	locker Locker
	cache  Cache
	log    zerolog.Logger

	walletLockTTL time.Duration
	assetLockTTL  time.Duration
	orderTTL      time.Duration
}

type Options struct {
	WalletLockTTL time.Duration
	AssetLockTTL  time.Duration
	OrderTTL      time.Duration
}

func NewService(st Store, locker Locker, cache Cache, log zerolog.Logger, opts Options) *Service {
	if opts.WalletLockTTL <= 0 {
		opts.WalletLockTTL = 7 * time.Second
	}
	if opts.AssetLockTTL <= 0 {
		opts.AssetLockTTL = 8 * time.Second
	}
	if opts.OrderTTL <= 0 {
		opts.OrderTTL = 2 * time.Minute
	}
	return &Service{
		store:         st,
		locker:        locker,
		cache:         cache,
		log:           log,
		walletLockTTL: opts.WalletLockTTL,
		assetLockTTL:  opts.AssetLockTTL,
		orderTTL:      opts.OrderTTL,
	}
}

func (s *Service) GetWallet(ctx context.Context, ownerID string) (*model.Wallet, error) {
	return s.store.WalletByOwner(ctx, ownerID)
}

type Holdings struct {
	Physical []model.Holding       `json:"physical"`
	Online   []model.OnlineHolding `json:"online"`
}

func (s *Service) GetHoldings(ctx context.Context, ownerID string) (*Holdings, error) {
	physical, err := s.store.HoldingsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	online, err := s.store.OnlineHoldingsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &Holdings{Physical: physical, Online: online}, nil
}

func (s *Service) ListOrders(ctx context.Context, ownerID string) ([]model.Order, error) {
	return s.store.OrdersByOwner(ctx, ownerID)
}

func (s *Service) ListTransactions(ctx context.Context, ownerID string, limit int) ([]model.Transaction, error) {
	return s.store.TransactionsByOwner(ctx, ownerID, limit)
}

func (s *Service) ListProducts(ctx context.Context) ([]model.Product, error) {
	return s.store.ActiveProducts(ctx)
}

// Deposit credits the wallet balance and appends the audit record in
// one atomic unit.
func (s *Service) Deposit(ctx context.Context, ownerID string, amount decimal.Decimal, idemKey string) (*model.Wallet, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, errs.BadRequest("amount must be positive")
	}
	key := lock.WalletKey(ownerID)
	token, err := s.locker.Acquire(ctx, key, s.walletLockTTL)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, errs.Conflict("another wallet operation is in progress")
	}
	defer s.release(key, token)

	if idemKey != "" {
		var cached model.Wallet
		ok, err := s.cache.Lookup(ctx, idemKey, &cached)
		if err != nil {
			return nil, err
		}
		if ok {
			return &cached, nil
		}
	}

	var updated *model.Wallet
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.EntityTx) error {
		wallet, err := tx.WalletByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		balanceBefore := wallet.Balance
		updated, err = tx.ApplyWalletDelta(ctx, wallet, store.WalletDelta{Balance: amount})
		if err != nil {
			return err
		}
		return tx.CreateTransaction(ctx, &model.Transaction{
			OwnerID: ownerID,
			Type:    types.TransactionTypeDeposit,
			Status:  types.TransactionStatusSuccess,
			Amount:  amount,
			Total:   amount,
			RefID:   uuid.NewString(),
			Meta: model.TransactionMeta{
				Reason:        "deposit by user",
				BalanceBefore: &balanceBefore,
				BalanceAfter:  &updated.Balance,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.cacheResult(ctx, idemKey, updated)
	return updated, nil
}

// Withdraw moves funds from balance to lockedBalance pending payout.
// The balance floor lives inside the conditional update, so a race past
// the pre-check still fails closed.
func (s *Service) Withdraw(ctx context.Context, ownerID string, amount decimal.Decimal, idemKey string) (*model.Wallet, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, errs.BadRequest("amount must be positive")
	}
	key := lock.WalletKey(ownerID)
	token, err := s.locker.Acquire(ctx, key, s.walletLockTTL)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, errs.Conflict("another wallet operation is in progress")
	}
	defer s.release(key, token)

	if idemKey != "" {
		var cached model.Wallet
		ok, err := s.cache.Lookup(ctx, idemKey, &cached)
		if err != nil {
			return nil, err
		}
		if ok {
			return &cached, nil
		}
	}

	var updated *model.Wallet
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.EntityTx) error {
		wallet, err := tx.WalletByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		if wallet.Balance.LessThan(amount) {
			return errs.BadRequest("insufficient balance")
		}
		balanceBefore := wallet.Balance
		updated, err = tx.ApplyWalletDelta(ctx, wallet, store.WalletDelta{
			Balance:       amount.Neg(),
			LockedBalance: amount,
			MinBalance:    &amount,
		})
		if err != nil {
			return err
		}
		return tx.CreateTransaction(ctx, &model.Transaction{
			OwnerID: ownerID,
			Type:    types.TransactionTypeWithdraw,
			Status:  types.TransactionStatusSuccess,
			Amount:  amount,
			Total:   amount,
			RefID:   uuid.NewString(),
			Meta: model.TransactionMeta{
				Reason:        "withdraw by user",
				BalanceBefore: &balanceBefore,
				BalanceAfter:  &updated.Balance,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.cacheResult(ctx, idemKey, updated)
	return updated, nil
}

// release always runs, success or failure. A lost lock (TTL expiry) is
// logged, not raised: the version checks downstream already protected
// the data.
func (s *Service) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := s.locker.Release(ctx, key, token)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("lock release failed")
		return
	}
	if !ok {
		s.log.Warn().Str("key", key).Msg("lock expired before release")
	}
}

func (s *Service) cacheResult(ctx context.Context, idemKey string, result any) {
	if idemKey == "" {
		return
	}
	if err := s.cache.Store(ctx, idemKey, result); err != nil {
		// The mutation is committed; a cache miss on retry is the
		// lesser failure here.
		s.log.Warn().Err(err).Msg("idempotency store failed")
	}
}
