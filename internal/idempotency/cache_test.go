package idempotency

import (
	"context"
	"os"
	"testing"
	"time"

	"bullion-ledger/internal/model"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	if os.Getenv("RUN_REDIS_INTEGRATION") == "" {
		t.Skip("set RUN_REDIS_INTEGRATION=1 to run")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis connection failed: %v", err)
	}
	return client
}

func TestLookupMissReturnsFalse(t *testing.T) {
	client := testClient(t)
	defer client.Close()
	cache := New(client, time.Minute)

	var out model.Wallet
	ok, err := cache.Lookup(context.Background(), "idem-test-missing", &out)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ok {
		t.Fatal("expected miss on unknown key")
	}
}

func TestStoreThenLookupRoundTrip(t *testing.T) {
	client := testClient(t)
	defer client.Close()
	ctx := context.Background()
	cache := New(client, time.Minute)
	defer client.Del(ctx, "idem:idem-test-roundtrip")

	in := model.Wallet{
		ID:      "wallet-1",
		OwnerID: "u1",
		Balance: decimal.RequireFromString("123.45"),
		Version: 7,
	}
	if err := cache.Store(ctx, "idem-test-roundtrip", &in); err != nil {
		t.Fatalf("store: %v", err)
	}
	var out model.Wallet
	ok, err := cache.Lookup(ctx, "idem-test-roundtrip", &out)
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if out.ID != in.ID || !out.Balance.Equal(in.Balance) || out.Version != in.Version {
		t.Fatalf("replayed result diverged: %+v", out)
	}
}

func TestStoredResultExpires(t *testing.T) {
	client := testClient(t)
	defer client.Close()
	ctx := context.Background()
	cache := New(client, 50*time.Millisecond)
	defer client.Del(ctx, "idem:idem-test-expiry")

	if err := cache.Store(ctx, "idem-test-expiry", &model.Wallet{ID: "w"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	var out model.Wallet
	ok, err := cache.Lookup(ctx, "idem-test-expiry", &out)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ok {
		t.Fatal("entry survived past its ttl")
	}
}
