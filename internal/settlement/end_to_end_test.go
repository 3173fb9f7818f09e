package settlement

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"bullion-ledger/internal/ledger"
	"bullion-ledger/internal/store/storetest"
	"bullion-ledger/internal/types"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type grantLocker struct{}

func (grantLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "token", nil
}

func (grantLocker) Release(ctx context.Context, key, token string) (bool, error) {
	return true, nil
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func (c *mapCache) Lookup(ctx context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *mapCache) Store(ctx context.Context, key string, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	return nil
}

// Full physical purchase: reserve through the service, settle through
// the sweeper, and check the end state the client observes.
func TestPhysicalBuyReserveThenSettle(t *testing.T) {
	st := storetest.New()
	st.SeedWallet("u1", dec("30000000"), decimal.Zero)
	product := st.SeedProduct(types.CommodityGold, 24, dec("2500000"), dec("2400000"), true)

	svc := ledger.NewService(st, grantLocker{}, &mapCache{entries: map[string][]byte{}}, zerolog.Nop(), ledger.Options{})
	order, err := svc.BuyAsset(context.Background(), "u1", product.ID, dec("10"), "idem-e2e")
	if err != nil {
		t.Fatalf("buy asset: %v", err)
	}

	New(st, zerolog.Nop(), time.Second).Sweep(context.Background())

	wallet, _ := st.WalletByOwner(context.Background(), "u1")
	if !wallet.Balance.Equal(dec("5000000")) || !wallet.LockedBalance.Equal(decimal.Zero) {
		t.Fatalf("wallet after settle: balance %s locked %s", wallet.Balance, wallet.LockedBalance)
	}
	holdings, _ := st.HoldingsByOwner(context.Background(), "u1")
	if len(holdings) != 1 || !holdings[0].Amount.Equal(dec("10")) {
		t.Fatalf("holding after settle: %+v", holdings)
	}
	txn, ok := st.Transaction(order.ID)
	if !ok {
		t.Fatalf("no settlement transaction for order %s", order.ID)
	}
	if !txn.Meta.BalanceBefore.Equal(dec("30000000")) || !txn.Meta.BalanceAfter.Equal(dec("5000000")) {
		t.Fatalf("balance snapshots wrong: %+v", txn.Meta)
	}
	orders, _ := st.OrdersByOwner(context.Background(), "u1")
	if orders[0].Status != types.OrderStatusConfirmed {
		t.Fatalf("order status = %s", orders[0].Status)
	}
}
