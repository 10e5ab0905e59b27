package bots

import (
	"math/rand"
	"time"

	"tradingfloor/engine"
)

// Noise places small random limit orders near the reference price so the
// book always has some baseline activity.
type Noise struct {
	AgentName string
	Syms      []string
	Frequency float64 // probability of acting on a tick, 0..1
	MaxSize   int64
	Spread    int64 // max distance from reference, in ticks
	rand      *rand.Rand
}

func NewNoise(name string, symbols []string, frequency float64, maxSize, spreadTicks int64) *Noise {
	return &Noise{
		AgentName: name,
		Syms:      symbols,
		Frequency: frequency,
		MaxSize:   maxSize,
		Spread:    spreadTicks,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithSeed makes the agent deterministic.
func (n *Noise) WithSeed(seed int64) *Noise {
	n.rand = rand.New(rand.NewSource(seed))
	return n
}

func (n *Noise) Name() string      { return n.AgentName }
func (n *Noise) Symbols() []string { return n.Syms }

func (n *Noise) OnTick(snap MarketSnapshot) ([]OrderIntent, error) {
	ref := snap.Reference()
	if ref <= 0 || n.MaxSize <= 0 {
		return nil, nil
	}
	if n.rand.Float64() >= n.Frequency {
		return nil, nil
	}
	tick := snap.TickSize
	if tick <= 0 {
		tick = 1
	}

	side := engine.Buy
	if n.rand.Intn(2) == 1 {
		side = engine.Sell
	}
	qty := n.rand.Int63n(n.MaxSize) + 1
	spread := n.Spread
	if spread < 0 {
		spread = 0
	}
	delta := n.rand.Int63n(spread+1) * tick
	price := ref - delta
	if side == engine.Sell {
		price = ref + delta
	}
	price = roundToTick(price, tick)
	if price <= 0 {
		price = tick
	}
	return []OrderIntent{{Symbol: snap.Symbol, Side: side, Kind: engine.Limit, Quantity: qty, LimitPrice: price}}, nil
}
