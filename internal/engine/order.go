package engine

import (
	"fmt"
	"time"
)

// Kind selects the instrument family a market trades.
type Kind int

const (
	Options Kind = iota
	Futures
)

func (k Kind) String() string {
	if k == Options {
		return "options"
	}
	return "futures"
}

// ParseKind maps a config/API string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "options":
		return Options, nil
	case "futures":
		return Futures, nil
	default:
		return 0, fmt.Errorf("unknown market kind %q", s)
	}
}

// Side is the direction of an order. Put/Call sides belong to options
// markets, Bid/Ask to futures markets.
type Side int

const (
	Put Side = iota
	Call
	Bid
	Ask
)

// Kind returns the instrument family a side belongs to.
func (s Side) Kind() Kind {
	if s == Put || s == Call {
		return Options
	}
	return Futures
}

func (s Side) String() string {
	switch s {
	case Put:
		return "put"
	case Call:
		return "call"
	case Bid:
		return "bid"
	default:
		return "ask"
	}
}

// ParseSide maps an API string to a Side.
func ParseSide(s string) (Side, error) {
	switch s {
	case "put":
		return Put, nil
	case "call":
		return Call, nil
	case "bid":
		return Bid, nil
	case "ask":
		return Ask, nil
	default:
		return 0, fmt.Errorf("unknown order side %q", s)
	}
}

// PairKey identifies a tradable instrument as an ordered (base, quote)
// tuple. Quote is the settlement coin for every trade on the pair.
type PairKey struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

func (k PairKey) String() string {
	return k.Base + "/" + k.Quote
}

// Pair is one registered instrument: its key, the reference price set at
// registration, and the append-only sequence of resting orders. Filled
// orders stay in the sequence with their filled quantity updated.
type Pair struct {
	Key    PairKey  `json:"key"`
	Price  uint64   `json:"price"`
	Orders []*Order `json:"orders"`
}

// Order is a single resting order. Price holds the premium for options
// orders and the contract price for futures orders; Strike is only
// meaningful for options. Writer is set at creation and never changes.
// CounterParty and Filled are mutated only by fulfillment: each
// fulfillment adds to Filled and records the latest taker.
//
// Expiry is stored for the writer's terms but not enforced anywhere.
type Order struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	Pair         PairKey   `json:"pair"`
	Side         Side      `json:"side"`
	Strike       uint64    `json:"strike,omitempty"`
	Price        uint64    `json:"price"`
	Writer       string    `json:"writer"`
	CounterParty string    `json:"counterparty,omitempty"`
	Expiry       int64     `json:"expiry"`
	Filled       uint64    `json:"filled"`
	CreatedAt    time.Time `json:"created_at"`
}

// OrderRequest is the unvalidated instruction to create an order. It
// exists only between submission and either rejection or conversion
// into an Order; the market checks its Kind tag before admitting it.
type OrderRequest struct {
	Kind   Kind
	User   string
	Pair   PairKey
	Side   Side
	Strike uint64
	Price  uint64
	Expiry int64
}
