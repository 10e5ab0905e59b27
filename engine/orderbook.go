package engine

import (
	"container/heap"
	"sort"
	"time"

	"github.com/google/uuid"

	"tradingfloor/errs"
)

// OrderBook maintains bids and asks for a single symbol using price-time
// priority with market orders ahead of limits. It is not safe for concurrent
// use; the owning session serializes every call.
type OrderBook struct {
	cfg    BookConfig
	bids   priceTimeQueue
	asks   priceTimeQueue
	orders map[string]*orderEntry // resting only
	all    map[string]*Order
	seq    int64
	stats  Stats
	now    func() time.Time
	nextID func() string

	touched map[string]*Order
}

// NewOrderBook builds an empty book.
func NewOrderBook(cfg BookConfig) *OrderBook {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ob := &OrderBook{
		cfg:    cfg,
		bids:   priceTimeQueue{},
		asks:   priceTimeQueue{},
		orders: make(map[string]*orderEntry),
		all:    make(map[string]*Order),
		stats:  Stats{Symbol: cfg.Symbol, Open: cfg.OpeningPrice},
		now:    now,
		nextID: func() string { return uuid.NewString() },
	}
	heap.Init(&ob.bids)
	heap.Init(&ob.asks)
	return ob
}

// Symbol returns the symbol this book trades.
func (ob *OrderBook) Symbol() string { return ob.cfg.Symbol }

// Submit validates an order, rests it and runs a matching pass.
func (ob *OrderBook) Submit(order Order) (OrderResult, error) {
	if err := ob.validate(&order); err != nil {
		return OrderResult{}, err
	}

	if order.ID == "" {
		order.ID = ob.nextID()
	}
	if _, dup := ob.all[order.ID]; dup {
		return OrderResult{}, errs.New(errs.InvalidOrder, "duplicate order id %s", order.ID)
	}
	if order.Kind == Market {
		order.Price = 0
	}
	ob.seq++
	order.Sequence = ob.seq
	order.SubmittedAt = ob.now()
	order.Filled = 0
	order.notional = 0
	order.AvgFillPrice = 0
	order.Status = Pending

	stored := &order
	ob.all[stored.ID] = stored
	ob.beginTouch()
	ob.touch(stored)
	ob.rest(stored)

	trades := ob.match()
	return OrderResult{Order: *stored, Trades: trades, Updated: ob.endTouch()}, nil
}

func (ob *OrderBook) validate(order *Order) error {
	if order.Symbol != ob.cfg.Symbol {
		return errs.New(errs.InvalidOrder, "order symbol %s does not match book %s", order.Symbol, ob.cfg.Symbol)
	}
	if order.Side != Buy && order.Side != Sell {
		return errs.New(errs.InvalidOrder, "unknown side %d", order.Side)
	}
	if order.Quantity <= 0 {
		return errs.New(errs.InvalidOrder, "order quantity must be positive")
	}
	switch order.Kind {
	case Limit:
		if order.Price <= 0 {
			return errs.New(errs.InvalidOrder, "limit price must be positive")
		}
		if ob.cfg.TickSize > 0 && order.Price%ob.cfg.TickSize != 0 {
			return errs.New(errs.InvalidOrder, "price must align to tick size %d", ob.cfg.TickSize)
		}
	case Market:
	default:
		return errs.New(errs.InvalidOrder, "unknown order kind %d", order.Kind)
	}
	return nil
}

func (ob *OrderBook) rest(order *Order) {
	entry := &orderEntry{order: order, isBid: order.Side == Buy}
	ob.orders[order.ID] = entry
	if entry.isBid {
		heap.Push(&ob.bids, entry)
		trimDepth(&ob.bids, ob.cfg.MaxDepth, ob.orders, ob.release)
	} else {
		heap.Push(&ob.asks, entry)
		trimDepth(&ob.asks, ob.cfg.MaxDepth, ob.orders, ob.release)
	}
}

// release marks an order trimmed off the book as cancelled.
func (ob *OrderBook) release(entry *orderEntry) {
	entry.order.Status = Cancelled
	ob.touch(entry.order)
}

// match crosses the top of book until no pair can trade.
func (ob *OrderBook) match() []Trade {
	var trades []Trade
	for {
		bid := ob.bids.peek()
		ask := ob.asks.peek()
		if bid == nil || ask == nil {
			break
		}
		if !crosses(bid.order, ask.order) {
			break
		}
		price, ok := ob.tradePrice(bid.order, ask.order)
		if !ok {
			break
		}

		qty := min(bid.order.Remaining(), ask.order.Remaining())
		bid.order.fill(qty, price)
		ask.order.fill(qty, price)
		ob.touch(bid.order)
		ob.touch(ask.order)

		trade := Trade{
			ID:          ob.nextID(),
			Symbol:      ob.cfg.Symbol,
			Price:       price,
			Quantity:    qty,
			BuyOrderID:  bid.order.ID,
			SellOrderID: ask.order.ID,
			BuyerID:     bid.order.OwnerID,
			SellerID:    ask.order.OwnerID,
			Timestamp:   ob.now(),
		}
		ob.record(trade)
		trades = append(trades, trade)

		if bid.order.Remaining() == 0 {
			heap.Pop(&ob.bids)
			delete(ob.orders, bid.order.ID)
		}
		if ask.order.Remaining() == 0 {
			heap.Pop(&ob.asks)
			delete(ob.orders, ask.order.ID)
		}
	}
	return trades
}

func crosses(bid, ask *Order) bool {
	return bid.Kind == Market || ask.Kind == Market || bid.Price >= ask.Price
}

// tradePrice resolves the execution price: the resting order's limit, else the
// aggressor's limit, else the last traded or opening price.
func (ob *OrderBook) tradePrice(bid, ask *Order) (int64, bool) {
	resting, aggressor := bid, ask
	if ask.Sequence < bid.Sequence {
		resting, aggressor = ask, bid
	}
	if resting.Kind == Limit {
		return resting.Price, true
	}
	if aggressor.Kind == Limit {
		return aggressor.Price, true
	}
	if ob.stats.LastPrice > 0 {
		return ob.stats.LastPrice, true
	}
	if ob.cfg.OpeningPrice > 0 {
		return ob.cfg.OpeningPrice, true
	}
	return 0, false
}

func (ob *OrderBook) record(trade Trade) {
	ob.markPrice(trade.Price)
	ob.stats.Volume += trade.Quantity
	ob.stats.TradeCount++
}

func (ob *OrderBook) markPrice(price int64) {
	ob.stats.LastPrice = price
	if ob.stats.Open == 0 {
		ob.stats.Open = price
	}
	if ob.stats.High == 0 || price > ob.stats.High {
		ob.stats.High = price
	}
	if ob.stats.Low == 0 || price < ob.stats.Low {
		ob.stats.Low = price
	}
}

// Cancel removes a resting order.
func (ob *OrderBook) Cancel(id string) (Order, error) {
	entry, ok := ob.orders[id]
	if !ok {
		if o, known := ob.all[id]; known {
			return *o, errs.New(errs.OrderTerminal, "order %s is %s", id, o.Status)
		}
		return Order{}, errs.New(errs.OrderNotFound, "order %s not found", id)
	}
	if entry.isBid {
		ob.bids.remove(entry)
	} else {
		ob.asks.remove(entry)
	}
	delete(ob.orders, id)
	entry.order.Status = Cancelled
	return *entry.order, nil
}

// CancelAll cancels every resting order and returns them.
func (ob *OrderBook) CancelAll() []Order {
	out := make([]Order, 0, len(ob.orders))
	for _, q := range []*priceTimeQueue{&ob.bids, &ob.asks} {
		for q.Len() > 0 {
			entry := heap.Pop(q).(*orderEntry)
			entry.order.Status = Cancelled
			delete(ob.orders, entry.order.ID)
			out = append(out, *entry.order)
		}
	}
	return out
}

// Amend updates price and/or quantity of a resting limit order. The order
// loses its time priority and a matching pass runs.
func (ob *OrderBook) Amend(id string, newPrice *int64, newQty *int64) (OrderResult, error) {
	entry, ok := ob.orders[id]
	if !ok {
		if _, known := ob.all[id]; known {
			return OrderResult{}, errs.New(errs.OrderTerminal, "order %s is no longer resting", id)
		}
		return OrderResult{}, errs.New(errs.OrderNotFound, "order %s not found", id)
	}
	if entry.order.Kind != Limit {
		return OrderResult{}, errs.New(errs.InvalidOrder, "only limit orders can be amended")
	}
	if newQty != nil && *newQty <= entry.order.Filled {
		return OrderResult{}, errs.New(errs.InvalidOrder, "amended quantity must exceed filled quantity %d", entry.order.Filled)
	}
	if newPrice != nil {
		if *newPrice <= 0 || (ob.cfg.TickSize > 0 && *newPrice%ob.cfg.TickSize != 0) {
			return OrderResult{}, errs.New(errs.InvalidOrder, "price must align to tick size %d", ob.cfg.TickSize)
		}
		entry.order.Price = *newPrice
	}
	if newQty != nil {
		entry.order.Quantity = *newQty
	}
	ob.seq++
	entry.order.Sequence = ob.seq
	entry.order.SubmittedAt = ob.now()

	ob.beginTouch()
	ob.touch(entry.order)
	if entry.isBid {
		heap.Fix(&ob.bids, entry.index)
	} else {
		heap.Fix(&ob.asks, entry.index)
	}
	trades := ob.match()
	return OrderResult{Order: *entry.order, Trades: trades, Updated: ob.endTouch()}, nil
}

// SetReferencePrice moves the last price without a trade, as a scripted price
// injection does, and then crosses any resting market orders that can now be priced.
func (ob *OrderBook) SetReferencePrice(price int64) OrderResult {
	if price > 0 {
		ob.markPrice(price)
	}
	ob.beginTouch()
	trades := ob.match()
	return OrderResult{Trades: trades, Updated: ob.endTouch()}
}

// Order returns a copy of any order the book has seen.
func (ob *OrderBook) Order(id string) (Order, bool) {
	o, ok := ob.all[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Resting returns copies of resting orders owned by ownerID.
func (ob *OrderBook) Resting(ownerID string) []Order {
	var out []Order
	for _, entry := range ob.orders {
		if entry.order.OwnerID == ownerID {
			out = append(out, *entry.order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// Stats returns the running market data.
func (ob *OrderBook) Stats() Stats {
	return ob.stats
}

// Top returns copies of the best limit bid and ask.
func (ob *OrderBook) Top() BookView {
	view := BookView{}
	if best := bestLimit(ob.bids); best != nil {
		bid := *best
		view.BestBid = &bid
	}
	if best := bestLimit(ob.asks); best != nil {
		ask := *best
		view.BestAsk = &ask
	}
	return view
}

func bestLimit(q priceTimeQueue) *Order {
	var best *orderEntry
	for _, e := range q {
		if e.order.Kind != Limit {
			continue
		}
		if best == nil || before(e, best) {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	return best.order
}

// Snapshot aggregates resting limit orders into price levels, best first.
// depth <= 0 returns every level.
func (ob *OrderBook) Snapshot(depth int) BookSnapshot {
	snap := BookSnapshot{Symbol: ob.cfg.Symbol, Stats: ob.stats, Timestamp: ob.now()}
	snap.Bids, snap.MarketBuyQty = aggregate(ob.bids, depth, func(a, b int64) bool { return a > b })
	snap.Asks, snap.MarketSellQty = aggregate(ob.asks, depth, func(a, b int64) bool { return a < b })
	return snap
}

func aggregate(q priceTimeQueue, depth int, better func(a, b int64) bool) ([]Level, int64) {
	byPrice := make(map[int64]*Level)
	var market int64
	for _, e := range q {
		if e.order.Kind == Market {
			market += e.order.Remaining()
			continue
		}
		lvl, ok := byPrice[e.order.Price]
		if !ok {
			lvl = &Level{Price: e.order.Price}
			byPrice[e.order.Price] = lvl
		}
		lvl.Quantity += e.order.Remaining()
		lvl.Orders++
	}
	levels := make([]Level, 0, len(byPrice))
	for _, lvl := range byPrice {
		levels = append(levels, *lvl)
	}
	sort.Slice(levels, func(i, j int) bool { return better(levels[i].Price, levels[j].Price) })
	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	return levels, market
}

func (ob *OrderBook) beginTouch() {
	ob.touched = make(map[string]*Order)
}

func (ob *OrderBook) touch(o *Order) {
	if ob.touched != nil {
		ob.touched[o.ID] = o
	}
}

func (ob *OrderBook) endTouch() []Order {
	out := make([]Order, 0, len(ob.touched))
	for _, o := range ob.touched {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	ob.touched = nil
	return out
}
