package session

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"tradingfloor/bots"
	"tradingfloor/engine"
	"tradingfloor/errs"
	"tradingfloor/events"
)

const agentOwnerPrefix = "agent:"

func agentOwner(name string) string { return agentOwnerPrefix + name }

// SubmitOrder validates a human order against session state and routes it to
// the symbol's book.
func (s *Session) SubmitOrder(req OrderRequest) (engine.OrderResult, error) {
	var (
		res engine.OrderResult
		err error
	)
	if cerr := s.post(func() {
		order := engine.Order{
			ID:       req.OrderID,
			OwnerID:  req.UserID,
			Symbol:   req.Symbol,
			Side:     req.Side,
			Kind:     req.Kind,
			Price:    req.Price,
			Quantity: req.Quantity,
		}
		res, err = s.submit(order, "")
	}); cerr != nil {
		return res, cerr
	}
	return res, err
}

// submit is the single entry point for human and agent orders. agent is the
// agent name, empty for humans.
func (s *Session) submit(order engine.Order, agent string) (engine.OrderResult, error) {
	if s.status != InProgress {
		return engine.OrderResult{}, errs.New(errs.SessionNotActive, "session is %s", s.status)
	}
	book, ok := s.books[order.Symbol]
	if !ok {
		return engine.OrderResult{}, errs.New(errs.UnknownSymbol, "unknown symbol %s", order.Symbol)
	}
	if !s.marketOpen[order.Symbol] {
		return engine.OrderResult{}, errs.New(errs.MarketClosed, "market %s is closed", order.Symbol)
	}

	var position map[string]int64
	limit := int64(0)
	if agent == "" {
		p, ok := s.participants[order.OwnerID]
		if !ok {
			return engine.OrderResult{}, errs.New(errs.UnknownParticipant, "participant %s not found", order.OwnerID)
		}
		if !s.enabled[order.Kind] {
			return engine.OrderResult{}, errs.New(errs.FeatureDisabled, "%s orders are disabled in this lesson", order.Kind)
		}
		if code, gated := s.lesson.OrderPrivileges[order.Kind]; gated && !p.Privileges.Has(code) {
			return engine.OrderResult{}, errs.New(errs.PrivilegeRequired, "%s orders require privilege %d", order.Kind, code)
		}
		order.IsAgentOrder = false
		position = p.Position
		limit = s.lesson.MaxPosition
	} else {
		acct, ok := s.agentAccts[agent]
		if !ok {
			return engine.OrderResult{}, errs.New(errs.UnknownAgent, "agent %s not found", agent)
		}
		order.OwnerID = agentOwner(agent)
		order.IsAgentOrder = true
		position = acct.position
		limit = acct.maxPosition
	}
	if err := checkPositionLimit(book, order, position[order.Symbol], limit); err != nil {
		return engine.OrderResult{}, err
	}

	res, err := book.Submit(order)
	if err != nil {
		return res, err
	}
	s.applyResult(order.Symbol, res)
	return res, nil
}

// applyResult books positions for every trade and emits the resulting events.
func (s *Session) applyResult(symbol string, res engine.OrderResult) {
	for _, t := range res.Trades {
		s.addPosition(t.BuyerID, symbol, t.Quantity)
		s.addPosition(t.SellerID, symbol, -t.Quantity)
		s.emit(events.Trade, events.TradeFrom(t))
		s.supervisor.NotifyTrade(t)
	}
	for _, o := range res.Updated {
		s.emit(events.OrderUpdate, events.OrderFrom(o))
	}
	if len(res.Updated) > 0 || len(res.Trades) > 0 {
		s.publishBook(symbol)
	}
}

// checkPositionLimit rejects order when filling it, together with the owner's
// other resting orders on the same side, could carry the position past limit.
// An order already resting under the same id is replaced, not added.
func checkPositionLimit(book *engine.OrderBook, order engine.Order, position, limit int64) error {
	if limit <= 0 {
		return nil
	}
	exposure := order.Remaining()
	for _, o := range book.Resting(order.OwnerID) {
		if o.Side == order.Side && o.ID != order.ID {
			exposure += o.Remaining()
		}
	}
	projected := position + exposure
	if order.Side == engine.Sell {
		projected = position - exposure
	}
	if (order.Side == engine.Buy && projected > limit) || (order.Side == engine.Sell && projected < -limit) {
		return errs.New(errs.PositionLimit, "position %d would exceed limit %d", projected, limit)
	}
	return nil
}

func (s *Session) addPosition(owner, symbol string, qty int64) {
	if name, ok := strings.CutPrefix(owner, agentOwnerPrefix); ok {
		if acct, ok := s.agentAccts[name]; ok {
			acct.position[symbol] += qty
		}
		return
	}
	if p, ok := s.participants[owner]; ok {
		p.Position[symbol] += qty
	}
}

// CancelOrder cancels a resting order owned by userID.
func (s *Session) CancelOrder(userID, orderID string) (engine.Order, error) {
	var (
		out engine.Order
		err error
	)
	if cerr := s.post(func() {
		if s.status != InProgress && s.status != Paused {
			err = errs.New(errs.SessionNotActive, "session is %s", s.status)
			return
		}
		o, book, ok := s.findOrder(orderID)
		if !ok || o.OwnerID != userID {
			err = errs.New(errs.OrderNotFound, "order %s not found", orderID)
			return
		}
		out, err = book.Cancel(orderID)
		if err == nil {
			s.emit(events.OrderUpdate, events.OrderFrom(out))
			s.publishBook(o.Symbol)
		}
	}); cerr != nil {
		return out, cerr
	}
	return out, err
}

// AmendOrder changes price and/or quantity of a resting limit order. The
// order loses its time priority.
func (s *Session) AmendOrder(userID, orderID string, price, qty *int64) (engine.OrderResult, error) {
	var (
		res engine.OrderResult
		err error
	)
	if cerr := s.post(func() {
		if s.status != InProgress {
			err = errs.New(errs.SessionNotActive, "session is %s", s.status)
			return
		}
		o, book, ok := s.findOrder(orderID)
		if !ok || o.OwnerID != userID {
			err = errs.New(errs.OrderNotFound, "order %s not found", orderID)
			return
		}
		if !s.marketOpen[o.Symbol] {
			err = errs.New(errs.MarketClosed, "market %s is closed", o.Symbol)
			return
		}
		if qty != nil {
			if p, ok := s.participants[userID]; ok {
				amended := o
				amended.Quantity = *qty
				if err = checkPositionLimit(book, amended, p.Position[o.Symbol], s.lesson.MaxPosition); err != nil {
					return
				}
			}
		}
		res, err = book.Amend(orderID, price, qty)
		if err == nil {
			s.applyResult(o.Symbol, res)
		}
	}); cerr != nil {
		return res, cerr
	}
	return res, err
}

// agentGateway is the session as seen by the agent supervisor.
type agentGateway struct {
	s *Session
}

func (g agentGateway) Snapshot(ctx context.Context, agent, symbol string) (bots.MarketSnapshot, error) {
	var (
		out bots.MarketSnapshot
		err error
	)
	s := g.s
	if cerr := s.call(ctx, func() {
		book, ok := s.books[symbol]
		if !ok {
			err = errs.New(errs.UnknownSymbol, "unknown symbol %s", symbol)
			return
		}
		if s.status != InProgress || !s.marketOpen[symbol] {
			err = errs.New(errs.MarketClosed, "market %s is not trading", symbol)
			return
		}
		stats := book.Stats()
		top := book.Top()
		out = bots.MarketSnapshot{
			Symbol:    symbol,
			Tick:      s.tick,
			Time:      s.clock.Now(),
			TickSize:  s.tickSize(symbol),
			LastPrice: stats.LastPrice,
		}
		if out.LastPrice == 0 {
			out.LastPrice = stats.Open
		}
		if top.BestBid != nil {
			out.BestBid = top.BestBid.Price
		}
		if top.BestAsk != nil {
			out.BestAsk = top.BestAsk.Price
		}
		out.Mid = bots.MidPrice(out.BestBid, out.BestAsk)
		if acct, ok := s.agentAccts[agent]; ok {
			out.Position = acct.position[symbol]
		}
	}); cerr != nil {
		return out, cerr
	}
	return out, err
}

func (g agentGateway) SubmitAgentOrder(ctx context.Context, agent string, order engine.Order) (engine.OrderResult, error) {
	var (
		res engine.OrderResult
		err error
	)
	if cerr := g.s.call(ctx, func() { res, err = g.s.submit(order, agent) }); cerr != nil {
		return res, cerr
	}
	return res, err
}

func (g agentGateway) CancelAgentOrders(ctx context.Context, agent, symbol string) error {
	s := g.s
	return s.call(ctx, func() {
		book, ok := s.books[symbol]
		if !ok {
			return
		}
		cancelled := false
		for _, o := range book.Resting(agentOwner(agent)) {
			out, err := book.Cancel(o.ID)
			if err != nil {
				s.logger.Debug("cancel agent quote", zap.String("order", o.ID), zap.Error(err))
				continue
			}
			s.emit(events.OrderUpdate, events.OrderFrom(out))
			cancelled = true
		}
		if cancelled {
			s.publishBook(symbol)
		}
	})
}

func (g agentGateway) AdvanceTick(ctx context.Context) (int64, error) {
	var (
		tick int64
		err  error
	)
	s := g.s
	if cerr := s.call(ctx, func() {
		if s.status != InProgress {
			err = errs.New(errs.SessionNotActive, "session is %s", s.status)
			return
		}
		s.tick++
		tick = s.tick
	}); cerr != nil {
		return 0, cerr
	}
	return tick, err
}

func (s *Session) tickSize(symbol string) int64 {
	for _, sym := range s.lesson.Symbols {
		if sym.Symbol == symbol {
			if sym.TickSize > 0 {
				return sym.TickSize
			}
			return 1
		}
	}
	return 1
}
