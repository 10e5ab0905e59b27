package bots

import "tradingfloor/engine"

// Momentum follows the trend: when price sits more than Threshold basis
// points away from its short moving average it trades in that direction.
type Momentum struct {
	AgentName string
	Syms      []string
	Window    int
	Threshold int64 // basis points
	Size      int64

	hist *history
}

func NewMomentum(name string, symbols []string, window int, thresholdBps, size int64) *Momentum {
	return &Momentum{AgentName: name, Syms: symbols, Window: window, Threshold: thresholdBps, Size: size, hist: newHistory(window)}
}

func (m *Momentum) Name() string      { return m.AgentName }
func (m *Momentum) Symbols() []string { return m.Syms }

func (m *Momentum) OnTick(snap MarketSnapshot) ([]OrderIntent, error) {
	return trendIntent(m.hist, snap, m.Threshold, m.Size, false), nil
}

// MeanReversion fades moves away from a long moving average.
type MeanReversion struct {
	AgentName string
	Syms      []string
	Window    int
	Threshold int64 // basis points
	Size      int64

	hist *history
}

func NewMeanReversion(name string, symbols []string, window int, thresholdBps, size int64) *MeanReversion {
	return &MeanReversion{AgentName: name, Syms: symbols, Window: window, Threshold: thresholdBps, Size: size, hist: newHistory(window)}
}

func (m *MeanReversion) Name() string      { return m.AgentName }
func (m *MeanReversion) Symbols() []string { return m.Syms }

func (m *MeanReversion) OnTick(snap MarketSnapshot) ([]OrderIntent, error) {
	return trendIntent(m.hist, snap, m.Threshold, m.Size, true), nil
}

func trendIntent(h *history, snap MarketSnapshot, threshold, size int64, fade bool) []OrderIntent {
	price := snap.Reference()
	if price <= 0 || size <= 0 {
		return nil
	}
	avg, ok := h.observe(snap.Symbol, price)
	if !ok {
		return nil
	}
	dev := deviationBps(price, avg)
	if absInt64(dev) <= threshold {
		return nil
	}
	side := engine.Buy
	if dev < 0 {
		side = engine.Sell
	}
	if fade {
		side = side.Opposite()
	}
	return []OrderIntent{{Symbol: snap.Symbol, Side: side, Kind: engine.Market, Quantity: size}}
}
