package engine

import (
	"math"
	"sync"
)

// Engine owns one market and the balance ledger (user -> coin -> amount)
// and is the only way to reach either. A single RWMutex covers both so a
// fulfillment's debit/credit/order mutation is atomic to every caller.
type Engine struct {
	mu       sync.RWMutex
	market   *Market
	balances map[string]map[string]uint64
}

// New constructs an engine with an empty ledger and a fresh market of
// the requested kind. The kind is fixed for the engine's lifetime.
func New(kind Kind) *Engine {
	return &Engine{
		market:   NewMarket(kind),
		balances: make(map[string]map[string]uint64),
	}
}

func (e *Engine) Kind() Kind {
	return e.market.Kind()
}

// AddPair registers a pair on the market. Re-registering a key replaces
// the pair; see Market.AddPair.
func (e *Engine) AddPair(key PairKey, price uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.market.AddPair(key, price)
	return nil
}

// Pairs returns all registered pair keys in registration order.
func (e *Engine) Pairs() []PairKey {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.market.Pairs()
}

// CreateOrder forwards an order request to the market.
func (e *Engine) CreateOrder(req OrderRequest) (*Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.market.CreateOrder(req)
}

// Orders returns a snapshot of the order sequence for a pair.
func (e *Engine) Orders(key PairKey) ([]*Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	orders, err := e.market.Orders(key)
	if err != nil {
		return nil, err
	}
	out := make([]*Order, len(orders))
	copy(out, orders)
	return out, nil
}

// Order looks up a single order by ID.
func (e *Engine) Order(id string) (*Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.market.Order(id)
}

// AddBalance credits a user's coin balance, creating the ledger entries
// on first use. Fails with ErrOverflow if the addition would exceed the
// representable range, leaving the ledger untouched.
func (e *Engine) AddBalance(user, coin string, amount uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addBalanceLocked(user, coin, amount)
}

func (e *Engine) addBalanceLocked(user, coin string, amount uint64) error {
	balance := e.balances[user][coin]
	if amount > math.MaxUint64-balance {
		return ErrOverflow
	}
	if e.balances[user] == nil {
		e.balances[user] = make(map[string]uint64)
	}
	e.balances[user][coin] = balance + amount
	return nil
}

// SubtractBalance debits a user's coin balance. A failed subtraction
// never creates ledger entries.
func (e *Engine) SubtractBalance(user, coin string, amount uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subtractBalanceLocked(user, coin, amount)
}

func (e *Engine) subtractBalanceLocked(user, coin string, amount uint64) error {
	coins, ok := e.balances[user]
	if !ok {
		return ErrUserNotFound
	}
	balance, ok := coins[coin]
	if !ok {
		return ErrCoinNotFound
	}
	if amount > balance {
		return ErrInsufficientBalance
	}
	coins[coin] = balance - amount
	return nil
}

// Balance returns a user's balance in one coin (zero if the user or
// coin has no ledger entry).
func (e *Engine) Balance(user, coin string) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balances[user][coin]
}

// Balances returns a copy of a user's per-coin balances.
func (e *Engine) Balances(user string) map[string]uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]uint64, len(e.balances[user]))
	for coin, amount := range e.balances[user] {
		out[coin] = amount
	}
	return out
}

// FulfillOrder settles quantity units of an order against user, the
// taker. The payment is quantity times the order's price term, settled
// in the pair's quote coin: the taker is debited, the writer credited,
// and only then is the order mutated (counter-party set to the taker,
// quantity added to the filled counter). On any failure nothing is
// mutated: a failed debit aborts before the credit, and a failed credit
// restores the debit.
//
// Fills are uncapped: an order is an open quote, and each fulfillment
// accumulates Filled and overwrites CounterParty with the latest taker.
func (e *Engine) FulfillOrder(order *Order, user string, quantity uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fulfillLocked(order, user, quantity)
}

// FulfillOrderID resolves an order by ID and settles it; this is the
// entry point for callers holding an ID instead of the order itself.
func (e *Engine) FulfillOrderID(id, user string, quantity uint64) (*Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, err := e.market.Order(id)
	if err != nil {
		return nil, err
	}
	if err := e.fulfillLocked(order, user, quantity); err != nil {
		return nil, err
	}
	return order, nil
}

func (e *Engine) fulfillLocked(order *Order, user string, quantity uint64) error {
	if order.Price != 0 && quantity > math.MaxUint64/order.Price {
		return ErrOverflow
	}
	payment := quantity * order.Price
	if quantity > math.MaxUint64-order.Filled {
		return ErrOverflow
	}

	coin := order.Pair.Quote
	if err := e.subtractBalanceLocked(user, coin, payment); err != nil {
		return err
	}
	if err := e.addBalanceLocked(order.Writer, coin, payment); err != nil {
		// Undo the debit so the ledger stays consistent.
		e.balances[user][coin] += payment
		return err
	}

	order.CounterParty = user
	order.Filled += quantity
	return nil
}
