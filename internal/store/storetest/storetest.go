// Package storetest provides an in-memory entity store with the same
// conditional-update semantics as the Postgres-backed one: version
// guards, balance floors and unique refIds all fail the same way. Used
// by service and sweeper tests that do not want a database.
package storetest

import (
	"context"
	"strconv"
	"sync"
	"time"

	"bullion-ledger/internal/errs"
	"bullion-ledger/internal/model"
	"bullion-ledger/internal/store"
	"bullion-ledger/internal/types"

	"github.com/shopspring/decimal"
)

type Store struct {
	mu sync.Mutex

	Wallets        map[string]*model.Wallet        // by owner id
	Holdings       map[string]*model.Holding       // by holding id
	OnlineHoldings map[string]*model.OnlineHolding // by owner id + "/" + commodity
	Products       map[string]*model.Product       // by product id
	Prices         map[types.Commodity]*model.CommodityPrice
	Orders         map[string]*model.Order // by order id
	Transactions   []model.Transaction

	nextID int
}

func New() *Store {
	return &Store{
		Wallets:        map[string]*model.Wallet{},
		Holdings:       map[string]*model.Holding{},
		OnlineHoldings: map[string]*model.OnlineHolding{},
		Products:       map[string]*model.Product{},
		Prices:         map[types.Commodity]*model.CommodityPrice{},
		Orders:         map[string]*model.Order{},
	}
}

func (s *Store) id(prefix string) string {
	s.nextID++
	return prefix + "-" + strconv.Itoa(s.nextID)
}

func onlineKey(ownerID string, commodity types.Commodity) string {
	return ownerID + "/" + string(commodity)
}

// SeedWallet registers a wallet for ownerID with the given balances.
func (s *Store) SeedWallet(ownerID string, balance, locked decimal.Decimal) *model.Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := &model.Wallet{
		ID:            s.id("wallet"),
		OwnerID:       ownerID,
		Balance:       balance,
		LockedBalance: locked,
		Version:       1,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	s.Wallets[ownerID] = w
	return w
}

func (s *Store) SeedProduct(commodity types.Commodity, karat int, buyPrice, sellPrice decimal.Decimal, active bool) *model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &model.Product{
		ID:        s.id("product"),
		Type:      commodity,
		Karat:     karat,
		Unit:      "g",
		BuyPrice:  buyPrice,
		SellPrice: sellPrice,
		IsActive:  active,
		Version:   1,
	}
	s.Products[p.ID] = p
	return p
}

func (s *Store) SeedHolding(ownerID, productID string, amount decimal.Decimal) *model.Holding {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &model.Holding{
		ID:        s.id("holding"),
		OwnerID:   ownerID,
		ProductID: productID,
		Amount:    amount,
		Version:   1,
	}
	s.Holdings[h.ID] = h
	return h
}

func (s *Store) SeedOnlineHolding(ownerID string, commodity types.Commodity, weight decimal.Decimal) *model.OnlineHolding {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &model.OnlineHolding{
		ID:        s.id("online"),
		OwnerID:   ownerID,
		Commodity: commodity,
		Weight:    weight,
		Version:   1,
	}
	s.OnlineHoldings[onlineKey(ownerID, commodity)] = h
	return h
}

func (s *Store) SeedPrice(commodity types.Commodity, price, feePercent decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Prices[commodity] = &model.CommodityPrice{
		Commodity:  commodity,
		Price:      price,
		FeePercent: feePercent,
		UpdatedAt:  time.Now().UTC(),
	}
}

func (s *Store) SeedOrder(o model.Order) *model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == "" {
		o.ID = s.id("order")
	}
	if o.Version == 0 {
		o.Version = 1
	}
	s.Orders[o.ID] = &o
	return s.Orders[o.ID]
}

// snapshot deep-copies the mutable state so a failed transaction can
// roll back.
func (s *Store) snapshot() *Store {
	c := New()
	for k, v := range s.Wallets {
		w := *v
		c.Wallets[k] = &w
	}
	for k, v := range s.Holdings {
		h := *v
		c.Holdings[k] = &h
	}
	for k, v := range s.OnlineHoldings {
		h := *v
		c.OnlineHoldings[k] = &h
	}
	for k, v := range s.Products {
		p := *v
		c.Products[k] = &p
	}
	for k, v := range s.Prices {
		p := *v
		c.Prices[k] = &p
	}
	for k, v := range s.Orders {
		o := *v
		c.Orders[k] = &o
	}
	c.Transactions = append([]model.Transaction(nil), s.Transactions...)
	c.nextID = s.nextID
	return c
}

func (s *Store) restore(c *Store) {
	s.Wallets = c.Wallets
	s.Holdings = c.Holdings
	s.OnlineHoldings = c.OnlineHoldings
	s.Products = c.Products
	s.Prices = c.Prices
	s.Orders = c.Orders
	s.Transactions = c.Transactions
	s.nextID = c.nextID
}

// WithTx holds the store lock for the whole callback, which gives each
// transaction a serializable view, and rolls back on error.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.EntityTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := s.snapshot()
	if err := fn(ctx, &memTx{s: s}); err != nil {
		s.restore(saved)
		return err
	}
	return nil
}

func (s *Store) WalletByOwner(ctx context.Context, ownerID string) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{s: s}).WalletByOwner(ctx, ownerID)
}

func (s *Store) HoldingsByOwner(ctx context.Context, ownerID string) ([]model.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Holding
	for _, h := range s.Holdings {
		if h.OwnerID == ownerID {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (s *Store) OnlineHoldingsByOwner(ctx context.Context, ownerID string) ([]model.OnlineHolding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.OnlineHolding
	for _, h := range s.OnlineHoldings {
		if h.OwnerID == ownerID {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (s *Store) OrdersByOwner(ctx context.Context, ownerID string) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Order
	for _, o := range s.Orders {
		if o.OwnerID == ownerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *Store) TransactionsByOwner(ctx context.Context, ownerID string, limit int) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Transaction
	for _, t := range s.Transactions {
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ActiveProducts(ctx context.Context) ([]model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Product
	for _, p := range s.Products {
		if p.IsActive {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *Store) PendingOrders(ctx context.Context, expired bool, now time.Time) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Order
	for _, o := range s.Orders {
		if o.Status != types.OrderStatusPending {
			continue
		}
		if expired == o.ExpiresAt.After(now) {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (s *Store) ReleaseProduct(ctx context.Context, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Products[productID]
	if !ok {
		return errs.NotFound("product not found")
	}
	if p.IsActive {
		return nil
	}
	for _, o := range s.Orders {
		if o.ProductID == productID && o.Status == types.OrderStatusPending {
			return nil
		}
	}
	p.IsActive = true
	p.Version++
	return nil
}

// Transaction returns the audit record with the given refId, if any.
func (s *Store) Transaction(refID string) (model.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.Transactions {
		if t.RefID == refID {
			return t, true
		}
	}
	return model.Transaction{}, false
}

type memTx struct {
	s *Store
}

func (t *memTx) WalletByOwner(ctx context.Context, ownerID string) (*model.Wallet, error) {
	w, ok := t.s.Wallets[ownerID]
	if !ok {
		return nil, errs.NotFound("wallet not found")
	}
	cp := *w
	return &cp, nil
}

func (t *memTx) ApplyWalletDelta(ctx context.Context, w *model.Wallet, d store.WalletDelta) (*model.Wallet, error) {
	live, ok := t.s.Wallets[w.OwnerID]
	if !ok || live.ID != w.ID || live.Version != w.Version {
		return nil, errs.Conflict("wallet was updated by another process or has insufficient balance")
	}
	if d.MinBalance != nil && live.Balance.LessThan(*d.MinBalance) {
		return nil, errs.Conflict("wallet was updated by another process or has insufficient balance")
	}
	if d.MinLocked != nil && live.LockedBalance.LessThan(*d.MinLocked) {
		return nil, errs.Conflict("wallet was updated by another process or has insufficient balance")
	}
	live.Balance = live.Balance.Add(d.Balance)
	live.LockedBalance = live.LockedBalance.Add(d.LockedBalance)
	live.Version++
	live.UpdatedAt = time.Now().UTC()
	cp := *live
	return &cp, nil
}

func (t *memTx) HoldingByID(ctx context.Context, ownerID, holdingID string) (*model.Holding, error) {
	h, ok := t.s.Holdings[holdingID]
	if !ok || h.OwnerID != ownerID {
		return nil, errs.NotFound("holding not found")
	}
	cp := *h
	return &cp, nil
}

func (t *memTx) HoldingByProduct(ctx context.Context, ownerID, productID string) (*model.Holding, error) {
	for _, h := range t.s.Holdings {
		if h.OwnerID == ownerID && h.ProductID == productID {
			cp := *h
			return &cp, nil
		}
	}
	return nil, errs.NotFound("holding not found")
}

func (t *memTx) AddHolding(ctx context.Context, ownerID, productID string, grams decimal.Decimal) (*model.Holding, error) {
	for _, h := range t.s.Holdings {
		if h.OwnerID == ownerID && h.ProductID == productID {
			h.Amount = h.Amount.Add(grams)
			h.Version++
			h.UpdatedAt = time.Now().UTC()
			cp := *h
			return &cp, nil
		}
	}
	h := &model.Holding{
		ID:        t.s.id("holding"),
		OwnerID:   ownerID,
		ProductID: productID,
		Amount:    grams,
		Version:   1,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	t.s.Holdings[h.ID] = h
	cp := *h
	return &cp, nil
}

func (t *memTx) DeleteHolding(ctx context.Context, h *model.Holding) error {
	live, ok := t.s.Holdings[h.ID]
	if !ok || live.Version != h.Version {
		return errs.Conflict("holding was updated by another process")
	}
	delete(t.s.Holdings, h.ID)
	return nil
}

func (t *memTx) ProductByID(ctx context.Context, id string) (*model.Product, error) {
	p, ok := t.s.Products[id]
	if !ok {
		return nil, errs.NotFound("product not found")
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) ClaimProduct(ctx context.Context, id string) (*model.Product, error) {
	p, ok := t.s.Products[id]
	if !ok || !p.IsActive {
		return nil, errs.Conflict("product is already locked or unavailable")
	}
	p.IsActive = false
	p.Version++
	cp := *p
	return &cp, nil
}

func (t *memTx) OpenProduct(ctx context.Context, id string) error {
	p, ok := t.s.Products[id]
	if !ok {
		return nil
	}
	p.IsActive = true
	p.Version++
	return nil
}

func (t *memTx) CloseProduct(ctx context.Context, id string) error {
	p, ok := t.s.Products[id]
	if !ok {
		return nil
	}
	p.IsActive = false
	p.Version++
	return nil
}

func (t *memTx) CommodityPriceFor(ctx context.Context, commodity types.Commodity) (*model.CommodityPrice, error) {
	p, ok := t.s.Prices[commodity]
	if !ok {
		return nil, errs.NotFound("commodity price not found")
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) OnlineHoldingFor(ctx context.Context, ownerID string, commodity types.Commodity) (*model.OnlineHolding, error) {
	h, ok := t.s.OnlineHoldings[onlineKey(ownerID, commodity)]
	if !ok {
		return nil, errs.NotFound("holding not found")
	}
	cp := *h
	return &cp, nil
}

func (t *memTx) AddOnlineWeight(ctx context.Context, ownerID string, commodity types.Commodity, delta decimal.Decimal) (*model.OnlineHolding, error) {
	key := onlineKey(ownerID, commodity)
	h, ok := t.s.OnlineHoldings[key]
	if !ok {
		h = &model.OnlineHolding{
			ID:        t.s.id("online"),
			OwnerID:   ownerID,
			Commodity: commodity,
			Version:   0,
		}
		t.s.OnlineHoldings[key] = h
	}
	h.Weight = h.Weight.Add(delta)
	h.Version++
	h.UpdatedAt = time.Now().UTC()
	cp := *h
	return &cp, nil
}

func (t *memTx) SubtractOnlineWeight(ctx context.Context, h *model.OnlineHolding, delta decimal.Decimal) (*model.OnlineHolding, error) {
	live, ok := t.s.OnlineHoldings[onlineKey(h.OwnerID, h.Commodity)]
	if !ok || live.Version != h.Version || live.Weight.LessThan(delta) {
		return nil, errs.Conflict("holding was updated by another process or has insufficient weight")
	}
	live.Weight = live.Weight.Sub(delta)
	live.Version++
	live.UpdatedAt = time.Now().UTC()
	cp := *live
	return &cp, nil
}

func (t *memTx) CreateOrder(ctx context.Context, o *model.Order) error {
	o.ID = t.s.id("order")
	o.Version = 1
	o.CreatedAt = time.Now().UTC()
	cp := *o
	t.s.Orders[o.ID] = &cp
	return nil
}

func (t *memTx) MarkOrderConfirmed(ctx context.Context, orderID string, at time.Time) error {
	o, ok := t.s.Orders[orderID]
	if !ok || o.Status != types.OrderStatusPending {
		return errs.Conflict("order is no longer pending")
	}
	o.Status = types.OrderStatusConfirmed
	confirmed := at
	o.ConfirmedAt = &confirmed
	o.Version++
	return nil
}

func (t *memTx) MarkOrderFailed(ctx context.Context, orderID string) error {
	o, ok := t.s.Orders[orderID]
	if !ok || o.Status != types.OrderStatusPending {
		return errs.Conflict("order is no longer pending")
	}
	o.Status = types.OrderStatusFailed
	o.Version++
	return nil
}

func (t *memTx) CreateTransaction(ctx context.Context, tr *model.Transaction) error {
	for _, existing := range t.s.Transactions {
		if existing.RefID == tr.RefID {
			return errs.Conflict("duplicate transaction reference")
		}
	}
	tr.ID = t.s.id("txn")
	tr.CreatedAt = time.Now().UTC()
	t.s.Transactions = append(t.s.Transactions, *tr)
	return nil
}
