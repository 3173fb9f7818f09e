package ledger

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"bullion-ledger/internal/errs"
	"bullion-ledger/internal/lock"
	"bullion-ledger/internal/store/storetest"
	"bullion-ledger/internal/types"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// fakeLocker implements the acquire/release contract in memory. A held
// key yields an empty token, same as the Redis implementation.
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]string
	next int
	noop bool // grant every acquire, simulating expired locks
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]string{}}
}

func (l *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.noop {
		return "token", nil
	}
	if _, ok := l.held[key]; ok {
		return "", nil
	}
	l.next++
	token := "token-" + time.Now().Format("150405.000000000") + "-" + string(rune('a'+l.next%26))
	l.held[key] = token
	return token, nil
}

func (l *fakeLocker) Release(ctx context.Context, key, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.noop {
		return true, nil
	}
	if l.held[key] != token {
		return false, nil
	}
	delete(l.held, key)
	return true, nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string][]byte{}}
}

func (c *fakeCache) Lookup(ctx context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *fakeCache) Store(ctx context.Context, key string, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	return nil
}

func newTestService(t *testing.T) (*Service, *storetest.Store, *fakeLocker) {
	t.Helper()
	st := storetest.New()
	locker := newFakeLocker()
	svc := NewService(st, locker, newFakeCache(), zerolog.Nop(), Options{})
	return svc, st, locker
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestDepositCreditsBalanceAndAudits(t *testing.T) {
	svc, st, _ := newTestService(t)
	st.SeedWallet("u1", decimal.Zero, decimal.Zero)

	wallet, err := svc.Deposit(context.Background(), "u1", dec("1000"), "idem-1")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !wallet.Balance.Equal(dec("1000")) {
		t.Fatalf("balance = %s, want 1000", wallet.Balance)
	}
	txs, _ := st.TransactionsByOwner(context.Background(), "u1", 0)
	if len(txs) != 1 {
		t.Fatalf("transactions = %d, want 1", len(txs))
	}
	if txs[0].Type != types.TransactionTypeDeposit || txs[0].Status != types.TransactionStatusSuccess {
		t.Fatalf("unexpected transaction %+v", txs[0])
	}
	if !txs[0].Meta.BalanceBefore.Equal(decimal.Zero) || !txs[0].Meta.BalanceAfter.Equal(dec("1000")) {
		t.Fatalf("meta snapshots wrong: %+v", txs[0].Meta)
	}
}

func TestDepositRejectsNonPositiveAmount(t *testing.T) {
	svc, st, _ := newTestService(t)
	st.SeedWallet("u1", decimal.Zero, decimal.Zero)

	for _, amount := range []string{"0", "-5"} {
		_, err := svc.Deposit(context.Background(), "u1", dec(amount), "")
		if !errs.IsBadRequest(err) {
			t.Fatalf("deposit %s: got %v, want bad request", amount, err)
		}
	}
}

func TestWithdrawMovesBalanceToLocked(t *testing.T) {
	svc, st, _ := newTestService(t)
	st.SeedWallet("u1", dec("1000000"), decimal.Zero)

	wallet, err := svc.Withdraw(context.Background(), "u1", dec("600000"), "idem-1")
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !wallet.Balance.Equal(dec("400000")) {
		t.Fatalf("balance = %s, want 400000", wallet.Balance)
	}
	if !wallet.LockedBalance.Equal(dec("600000")) {
		t.Fatalf("locked = %s, want 600000", wallet.LockedBalance)
	}
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	svc, st, _ := newTestService(t)
	st.SeedWallet("u1", dec("100"), decimal.Zero)

	_, err := svc.Withdraw(context.Background(), "u1", dec("200"), "")
	if !errs.IsBadRequest(err) {
		t.Fatalf("got %v, want bad request", err)
	}
	wallet, _ := st.WalletByOwner(context.Background(), "u1")
	if !wallet.Balance.Equal(dec("100")) {
		t.Fatalf("balance changed on failed withdraw: %s", wallet.Balance)
	}
}

func TestIdempotentReplayReturnsFirstResult(t *testing.T) {
	svc, st, _ := newTestService(t)
	st.SeedWallet("u1", decimal.Zero, decimal.Zero)

	first, err := svc.Deposit(context.Background(), "u1", dec("500"), "same-key")
	if err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	second, err := svc.Deposit(context.Background(), "u1", dec("500"), "same-key")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Balance.Equal(first.Balance) || second.Version != first.Version {
		t.Fatalf("replay diverged: first %+v second %+v", first, second)
	}
	wallet, _ := st.WalletByOwner(context.Background(), "u1")
	if !wallet.Balance.Equal(dec("500")) {
		t.Fatalf("balance applied twice: %s", wallet.Balance)
	}
	txs, _ := st.TransactionsByOwner(context.Background(), "u1", 0)
	if len(txs) != 1 {
		t.Fatalf("transactions = %d, want 1", len(txs))
	}
}

func TestBusyAccountLockReturnsConflict(t *testing.T) {
	svc, st, locker := newTestService(t)
	st.SeedWallet("u1", dec("1000"), decimal.Zero)

	if _, err := locker.Acquire(context.Background(), lock.WalletKey("u1"), time.Minute); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Deposit(context.Background(), "u1", dec("10"), "")
	if !errs.IsConflict(err) {
		t.Fatalf("got %v, want conflict", err)
	}
}

func TestLockIsReleasedAfterOperation(t *testing.T) {
	svc, st, _ := newTestService(t)
	st.SeedWallet("u1", decimal.Zero, decimal.Zero)

	if _, err := svc.Deposit(context.Background(), "u1", dec("10"), ""); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	if _, err := svc.Deposit(context.Background(), "u1", dec("10"), ""); err != nil {
		t.Fatalf("second deposit after release: %v", err)
	}
}

// Even with every lock expired, the balance floor inside the
// conditional update keeps concurrent withdrawals from overdrawing.
func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	svc, st, locker := newTestService(t)
	locker.noop = true
	st.SeedWallet("u1", dec("400"), decimal.Zero)

	const workers = 5
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Withdraw(context.Background(), "u1", dec("100"), "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else if !errs.IsBadRequest(err) && !errs.IsConflict(err) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 4 {
		t.Fatalf("succeeded = %d, want 4", succeeded)
	}
	wallet, _ := st.WalletByOwner(context.Background(), "u1")
	if !wallet.Balance.Equal(decimal.Zero) {
		t.Fatalf("balance = %s, want 0", wallet.Balance)
	}
	if !wallet.LockedBalance.Equal(dec("400")) {
		t.Fatalf("locked = %s, want 400", wallet.LockedBalance)
	}
}

func TestBuyAssetReservesFundsAndClaimsProduct(t *testing.T) {
	svc, st, _ := newTestService(t)
	st.SeedWallet("u1", dec("30000000"), decimal.Zero)
	product := st.SeedProduct(types.CommodityGold, 24, dec("2500000"), dec("2400000"), true)

	order, err := svc.BuyAsset(context.Background(), "u1", product.ID, dec("10"), "idem-1")
	if err != nil {
		t.Fatalf("buy asset: %v", err)
	}
	if order.Status != types.OrderStatusPending {
		t.Fatalf("status = %s, want PENDING", order.Status)
	}
	if !order.TotalPrice.Equal(dec("25000000")) {
		t.Fatalf("total = %s, want 25000000", order.TotalPrice)
	}
	wallet, _ := st.WalletByOwner(context.Background(), "u1")
	if !wallet.Balance.Equal(dec("5000000")) || !wallet.LockedBalance.Equal(dec("25000000")) {
		t.Fatalf("wallet after reserve: balance %s locked %s", wallet.Balance, wallet.LockedBalance)
	}
	products, _ := st.ActiveProducts(context.Background())
	if len(products) != 0 {
		t.Fatalf("product still active after claim")
	}
}

func TestBuyAssetInsufficientBalanceReleasesProduct(t *testing.T) {
	svc, st, _ := newTestService(t)
	st.SeedWallet("u1", dec("100"), decimal.Zero)
	product := st.SeedProduct(types.CommodityGold, 24, dec("2500000"), dec("2400000"), true)

	_, err := svc.BuyAsset(context.Background(), "u1", product.ID, dec("10"), "")
	if !errs.IsBadRequest(err) {
		t.Fatalf("got %v, want bad request", err)
	}
	products, _ := st.ActiveProducts(context.Background())
	if len(products) != 1 {
		t.Fatalf("product not released after aborted purchase")
	}
}

func TestBuyAssetClaimedProductConflicts(t *testing.T) {
	svc, st, _ := newTestService(t)
	st.SeedWallet("u1", dec("30000000"), decimal.Zero)
	product := st.SeedProduct(types.CommodityGold, 24, dec("2500000"), dec("2400000"), false)

	_, err := svc.BuyAsset(context.Background(), "u1", product.ID, dec("1"), "")
	if !errs.IsConflict(err) {
		t.Fatalf("got %v, want conflict", err)
	}
}

func TestSellAssetRemovesHoldingAndReopensProduct(t *testing.T) {
	svc, st, _ := newTestService(t)
	st.SeedWallet("u1", decimal.Zero, decimal.Zero)
	product := st.SeedProduct(types.CommodityGold, 22, dec("2500000"), dec("2400000"), false)
	holding := st.SeedHolding("u1", product.ID, dec("10"))

	order, err := svc.SellAsset(context.Background(), "u1", holding.ID, "idem-1")
	if err != nil {
		t.Fatalf("sell asset: %v", err)
	}
	if order.Side != types.OrderSideSell || order.Status != types.OrderStatusPending {
		t.Fatalf("unexpected order %+v", order)
	}
	if !order.TotalPrice.Equal(dec("24000000")) {
		t.Fatalf("total = %s, want 24000000", order.TotalPrice)
	}
	holdings, _ := st.HoldingsByOwner(context.Background(), "u1")
	if len(holdings) != 0 {
		t.Fatalf("holding survived the sale")
	}
	products, _ := st.ActiveProducts(context.Background())
	if len(products) != 1 {
		t.Fatalf("product not reopened for sale")
	}
}

func TestSellAssetActiveProductIsStale(t *testing.T) {
	svc, st, _ := newTestService(t)
	st.SeedWallet("u1", decimal.Zero, decimal.Zero)
	product := st.SeedProduct(types.CommodityGold, 22, dec("2500000"), dec("2400000"), true)
	holding := st.SeedHolding("u1", product.ID, dec("10"))

	_, err := svc.SellAsset(context.Background(), "u1", holding.ID, "")
	if !errs.IsBadRequest(err) {
		t.Fatalf("got %v, want bad request", err)
	}
}

func TestBuyCommodityDebitsCostPlusFee(t *testing.T) {
	svc, st, _ := newTestService(t)
	st.SeedWallet("u1", dec("1000"), decimal.Zero)
	st.SeedPrice(types.CommodityGold, dec("100"), dec("0.01"))

	txn, err := svc.BuyCommodity(context.Background(), "u1", types.CommodityGold, dec("5"), "idem-1")
	if err != nil {
		t.Fatalf("buy commodity: %v", err)
	}
	if !txn.Fee.Equal(dec("5")) || !txn.Total.Equal(dec("505")) {
		t.Fatalf("fee %s total %s, want 5 and 505", txn.Fee, txn.Total)
	}
	if txn.Type != types.TransactionTypeBuyGoldOnline {
		t.Fatalf("type = %s", txn.Type)
	}
	wallet, _ := st.WalletByOwner(context.Background(), "u1")
	if !wallet.Balance.Equal(dec("495")) {
		t.Fatalf("balance = %s, want 495", wallet.Balance)
	}
	holdings, _ := st.OnlineHoldingsByOwner(context.Background(), "u1")
	if len(holdings) != 1 || !holdings[0].Weight.Equal(dec("5")) {
		t.Fatalf("online holding wrong: %+v", holdings)
	}
}

func TestSellCommodityCreditsNetProceeds(t *testing.T) {
	svc, st, _ := newTestService(t)
	st.SeedWallet("u1", decimal.Zero, decimal.Zero)
	st.SeedPrice(types.CommoditySilver, dec("10"), dec("0.01"))
	st.SeedOnlineHolding("u1", types.CommoditySilver, dec("20"))

	txn, err := svc.SellCommodity(context.Background(), "u1", types.CommoditySilver, dec("20"), "idem-1")
	if err != nil {
		t.Fatalf("sell commodity: %v", err)
	}
	// 20g * 10 = 200, fee 2, proceeds 198
	if !txn.Total.Equal(dec("198")) {
		t.Fatalf("total = %s, want 198", txn.Total)
	}
	if txn.Type != types.TransactionTypeSellSilverOnline {
		t.Fatalf("type = %s", txn.Type)
	}
	wallet, _ := st.WalletByOwner(context.Background(), "u1")
	if !wallet.Balance.Equal(dec("198")) {
		t.Fatalf("balance = %s, want 198", wallet.Balance)
	}
	holdings, _ := st.OnlineHoldingsByOwner(context.Background(), "u1")
	if len(holdings) != 1 || !holdings[0].Weight.Equal(decimal.Zero) {
		t.Fatalf("online holding wrong after sale: %+v", holdings)
	}
}

func TestSellCommodityInsufficientHolding(t *testing.T) {
	svc, st, _ := newTestService(t)
	st.SeedWallet("u1", decimal.Zero, decimal.Zero)
	st.SeedPrice(types.CommodityGold, dec("100"), decimal.Zero)

	_, err := svc.SellCommodity(context.Background(), "u1", types.CommodityGold, dec("1"), "")
	if !errs.IsBadRequest(err) {
		t.Fatalf("got %v, want bad request", err)
	}
}

func TestTradeRejectsUnknownCommodity(t *testing.T) {
	svc, st, _ := newTestService(t)
	st.SeedWallet("u1", dec("1000"), decimal.Zero)

	_, err := svc.BuyCommodity(context.Background(), "u1", types.Commodity("platinum"), dec("1"), "")
	if !errs.IsBadRequest(err) {
		t.Fatalf("got %v, want bad request", err)
	}
}
