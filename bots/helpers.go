package bots

func midPrice(bid, ask int64) int64 {
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2
	case bid > 0:
		return bid
	case ask > 0:
		return ask
	default:
		return 0
	}
}

// MidPrice is exported for the session's snapshot builder.
func MidPrice(bid, ask int64) int64 { return midPrice(bid, ask) }

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func roundToTick(price, tick int64) int64 {
	if tick <= 1 {
		return price
	}
	return (price / tick) * tick
}

// priceRing keeps the last n observed prices of one symbol.
type priceRing struct {
	buf  []int64
	next int
	full bool
}

func newPriceRing(n int) *priceRing {
	if n < 1 {
		n = 1
	}
	return &priceRing{buf: make([]int64, n)}
}

func (r *priceRing) push(p int64) {
	r.buf[r.next] = p
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *priceRing) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

func (r *priceRing) average() (int64, bool) {
	n := r.len()
	if n == 0 {
		return 0, false
	}
	var sum int64
	for i := 0; i < n; i++ {
		sum += r.buf[i]
	}
	return sum / int64(n), true
}

// history tracks a ring per symbol.
type history struct {
	window int
	rings  map[string]*priceRing
}

func newHistory(window int) *history {
	return &history{window: window, rings: make(map[string]*priceRing)}
}

// observe records p and returns the average over the full window, or false
// until the window has filled.
func (h *history) observe(symbol string, p int64) (int64, bool) {
	r, ok := h.rings[symbol]
	if !ok {
		r = newPriceRing(h.window)
		h.rings[symbol] = r
	}
	r.push(p)
	if r.len() < h.window {
		return 0, false
	}
	return r.average()
}

// deviationBps is (price-avg)/avg in basis points.
func deviationBps(price, avg int64) int64 {
	if avg == 0 {
		return 0
	}
	return (price - avg) * 10_000 / avg
}
