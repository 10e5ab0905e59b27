package bots

import (
	"context"
	"time"

	"tradingfloor/engine"
)

// MarketSnapshot is the view an agent receives on each tick.
type MarketSnapshot struct {
	Symbol    string
	Tick      int64
	Time      time.Time
	TickSize  int64
	LastPrice int64
	BestBid   int64
	BestAsk   int64
	Mid       int64
	Position  int64
}

// Reference is the price agents anchor on: last trade, else mid.
func (s MarketSnapshot) Reference() int64 {
	if s.LastPrice > 0 {
		return s.LastPrice
	}
	return s.Mid
}

// OrderIntent is an order an agent wants submitted.
type OrderIntent struct {
	Symbol     string
	Side       engine.Side
	Kind       engine.OrderKind
	Quantity   int64
	LimitPrice int64
}

// Agent is a liquidity agent driven by the Supervisor.
type Agent interface {
	Name() string
	Symbols() []string
	OnTick(snap MarketSnapshot) ([]OrderIntent, error)
}

// Quoter is implemented by agents whose previous resting orders should be
// cancelled before each new set of quotes.
type Quoter interface {
	ReplacesQuotes() bool
}

// EngineClient is the surface agents trade through. The session implements
// it by routing every call through its serialized loop.
type EngineClient interface {
	Snapshot(ctx context.Context, agent, symbol string) (MarketSnapshot, error)
	SubmitAgentOrder(ctx context.Context, agent string, order engine.Order) (engine.OrderResult, error)
	CancelAgentOrders(ctx context.Context, agent, symbol string) error
	AdvanceTick(ctx context.Context) (int64, error)
}
