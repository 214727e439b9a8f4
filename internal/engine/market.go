package engine

import (
	"time"

	"github.com/google/uuid"
)

// Market owns every pair of a single instrument kind. The pair map is
// the one authoritative container; keys preserves registration order so
// enumeration is stable. Market is not safe for concurrent use on its
// own — the Engine serializes all access to it.
type Market struct {
	kind  Kind
	pairs map[PairKey]*Pair
	keys  []PairKey
	index map[string]*Order // by order ID, across all pairs
}

func NewMarket(kind Kind) *Market {
	return &Market{
		kind:  kind,
		pairs: make(map[PairKey]*Pair),
		index: make(map[string]*Order),
	}
}

func (m *Market) Kind() Kind {
	return m.kind
}

// AddPair registers a pair with an empty order sequence. Registering an
// existing key replaces the pair (last write wins) and drops its orders;
// the key keeps its original enumeration position.
func (m *Market) AddPair(key PairKey, price uint64) {
	if old, ok := m.pairs[key]; ok {
		for _, o := range old.Orders {
			delete(m.index, o.ID)
		}
	} else {
		m.keys = append(m.keys, key)
	}
	m.pairs[key] = &Pair{Key: key, Price: price}
}

// Pairs returns all registered pair keys in registration order.
func (m *Market) Pairs() []PairKey {
	keys := make([]PairKey, len(m.keys))
	copy(keys, m.keys)
	return keys
}

// CreateOrder validates a request against the market's kind and appends
// the resulting order to its pair. The request's kind tag and its side
// must both match the market; the writer is the requesting user, the
// counter-party starts empty and the filled quantity at zero.
func (m *Market) CreateOrder(req OrderRequest) (*Order, error) {
	if req.Kind != m.kind || req.Side.Kind() != m.kind {
		return nil, ErrInvalidRequest
	}
	pair, ok := m.pairs[req.Pair]
	if !ok {
		return nil, ErrPairNotFound
	}

	order := &Order{
		ID:        uuid.New().String(),
		Kind:      req.Kind,
		Pair:      req.Pair,
		Side:      req.Side,
		Strike:    req.Strike,
		Price:     req.Price,
		Writer:    req.User,
		Expiry:    req.Expiry,
		CreatedAt: time.Now(),
	}
	pair.Orders = append(pair.Orders, order)
	m.index[order.ID] = order
	return order, nil
}

// Orders returns the full order sequence for a pair.
func (m *Market) Orders(key PairKey) ([]*Order, error) {
	pair, ok := m.pairs[key]
	if !ok {
		return nil, ErrPairNotFound
	}
	return pair.Orders, nil
}

// Order looks up a single order by ID.
func (m *Market) Order(id string) (*Order, error) {
	order, ok := m.index[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return order, nil
}
