package bots

import "tradingfloor/engine"

// MarketMaker keeps a two-sided quote around the reference price. Quote size
// shrinks on the side that would grow inventory and reaches zero at
// MaxInventory.
type MarketMaker struct {
	AgentName    string
	Syms         []string
	Spread       int64 // full spread in price units
	Size         int64
	MaxInventory int64
}

func NewMarketMaker(name string, symbols []string, spread, size, maxInventory int64) *MarketMaker {
	return &MarketMaker{AgentName: name, Syms: symbols, Spread: spread, Size: size, MaxInventory: maxInventory}
}

func (m *MarketMaker) Name() string         { return m.AgentName }
func (m *MarketMaker) Symbols() []string    { return m.Syms }
func (m *MarketMaker) ReplacesQuotes() bool { return true }

func (m *MarketMaker) OnTick(snap MarketSnapshot) ([]OrderIntent, error) {
	ref := snap.Reference()
	if ref <= 0 {
		return nil, nil
	}
	tick := snap.TickSize
	if tick <= 0 {
		tick = 1
	}
	half := roundToTick(m.Spread/2, tick)
	if half < tick {
		half = tick
	}
	bidPrice := roundToTick(ref-half, tick)
	askPrice := roundToTick(ref+half, tick)
	if askPrice <= ref {
		askPrice += tick
	}

	bidSize, askSize := m.sizes(snap.Position)
	var out []OrderIntent
	if bidSize > 0 && bidPrice > 0 {
		out = append(out, OrderIntent{Symbol: snap.Symbol, Side: engine.Buy, Kind: engine.Limit, Quantity: bidSize, LimitPrice: bidPrice})
	}
	if askSize > 0 {
		out = append(out, OrderIntent{Symbol: snap.Symbol, Side: engine.Sell, Kind: engine.Limit, Quantity: askSize, LimitPrice: askPrice})
	}
	return out, nil
}

// sizes scales each side by the remaining inventory headroom in that direction.
func (m *MarketMaker) sizes(position int64) (bid, ask int64) {
	if m.MaxInventory <= 0 {
		return m.Size, m.Size
	}
	scale := func(exposure int64) int64 {
		if exposure <= 0 {
			return m.Size
		}
		headroom := m.MaxInventory - exposure
		if headroom <= 0 {
			return 0
		}
		return m.Size * headroom / m.MaxInventory
	}
	return scale(position), scale(-position)
}
