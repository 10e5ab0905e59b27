package engine

import "time"

// Side represents the direction of an order.
type Side int

const (
	// Buy indicates a bid order.
	Buy Side = iota
	// Sell indicates an ask order.
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderKind represents the execution style for an order.
type OrderKind int

const (
	// Limit orders rest on the book until filled or canceled.
	Limit OrderKind = iota
	// Market orders take any available price and rest until a counterparty arrives.
	Market
)

func (k OrderKind) String() string {
	if k == Limit {
		return "LIMIT"
	}
	return "MARKET"
}

// OrderStatus tracks an order through its lifecycle.
type OrderStatus int

const (
	Pending OrderStatus = iota
	Partial
	Filled
	Cancelled
)

func (s OrderStatus) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Partial:
		return "PARTIAL"
	case Filled:
		return "FILLED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Order describes a request to trade a symbol.
type Order struct {
	ID           string
	OwnerID      string
	Symbol       string
	Side         Side
	Kind         OrderKind
	Price        int64 // limit price in ticks, zero for market orders
	Quantity     int64
	Filled       int64
	AvgFillPrice float64
	Status       OrderStatus
	SubmittedAt  time.Time
	IsAgentOrder bool
	Sequence     int64

	notional int64
}

// Remaining is the unfilled quantity.
func (o *Order) Remaining() int64 {
	return o.Quantity - o.Filled
}

func (o *Order) fill(qty, price int64) {
	o.Filled += qty
	o.notional += qty * price
	o.AvgFillPrice = float64(o.notional) / float64(o.Filled)
	if o.Filled == o.Quantity {
		o.Status = Filled
	} else {
		o.Status = Partial
	}
}

// BookView summarizes top-of-book information for a symbol.
type BookView struct {
	BestBid *Order
	BestAsk *Order
}

// Trade captures a completed match between two orders.
type Trade struct {
	ID          string
	Symbol      string
	Price       int64
	Quantity    int64
	BuyOrderID  string
	SellOrderID string
	BuyerID     string
	SellerID    string
	Timestamp   time.Time
}

// OrderResult is returned from a submission: the order as it stands after
// matching, every trade produced, and every order whose state changed.
type OrderResult struct {
	Order   Order
	Trades  []Trade
	Updated []Order
}

// Level aggregates resting limit quantity at one price.
type Level struct {
	Price    int64
	Quantity int64
	Orders   int
}

// Stats carries the running market data for a symbol.
type Stats struct {
	Symbol     string
	Open       int64
	LastPrice  int64
	High       int64
	Low        int64
	Volume     int64
	TradeCount int64
}

// BookSnapshot is a depth view derived from the live order set.
type BookSnapshot struct {
	Symbol        string
	Bids          []Level
	Asks          []Level
	MarketBuyQty  int64
	MarketSellQty int64
	Stats         Stats
	Timestamp     time.Time
}

// BookConfig controls book parameters.
type BookConfig struct {
	Symbol       string
	TickSize     int64
	MaxDepth     int
	OpeningPrice int64
	Now          func() time.Time
}
