package bots

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradingfloor/clock"
	"tradingfloor/engine"
	"tradingfloor/errs"
)

type toggle struct {
	active bool
	at     time.Time
}

type managed struct {
	agent   Agent
	active  bool
	pending *toggle
	pnl     pnlTracker
	faults  int
}

// Supervisor drives one session's agents on a cadence and after trades in
// the symbols they watch. A failing agent is logged and skipped; it never
// stops the loop for the others.
type Supervisor struct {
	mu       sync.Mutex
	agents   map[string]*managed
	order    []string
	client   *ThrottledClient
	clock    clock.Clock
	interval time.Duration
	trades   chan engine.Trade
	logger   *zap.Logger
}

// NewSupervisor builds a supervisor ticking every interval.
func NewSupervisor(client *ThrottledClient, clk clock.Clock, interval time.Duration, logger *zap.Logger) *Supervisor {
	if interval <= 0 {
		interval = time.Second
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		agents:   make(map[string]*managed),
		client:   client,
		clock:    clk,
		interval: interval,
		trades:   make(chan engine.Trade, 256),
		logger:   logger,
	}
}

// Add registers an agent. Names must be unique.
func (s *Supervisor) Add(agent Agent, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.agents[agent.Name()]; dup {
		return fmt.Errorf("agent %s already registered", agent.Name())
	}
	s.agents[agent.Name()] = &managed{agent: agent, active: active}
	s.order = append(s.order, agent.Name())
	return nil
}

// SetActive switches an agent on or off, immediately or once delay has passed.
func (s *Supervisor) SetActive(name string, active bool, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.agents[name]
	if !ok {
		return errs.New(errs.UnknownAgent, "agent %s not found", name)
	}
	if delay <= 0 {
		m.active = active
		m.pending = nil
		return nil
	}
	m.pending = &toggle{active: active, at: s.clock.Now().Add(delay)}
	return nil
}

// Active reports whether an agent is currently trading.
func (s *Supervisor) Active(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.agents[name]
	if !ok {
		return false, errs.New(errs.UnknownAgent, "agent %s not found", name)
	}
	return m.active, nil
}

// Names returns agent names in registration order.
func (s *Supervisor) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// NotifyTrade queues a trade for reactive ticks and PnL. It never blocks.
func (s *Supervisor) NotifyTrade(t engine.Trade) {
	select {
	case s.trades <- t:
	default:
		s.logger.Debug("agent trade queue full", zap.String("trade", t.ID))
	}
}

// PnL returns an agent's position and cash from trades it took part in.
func (s *Supervisor) PnL(name string) (position, cash int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.agents[name]
	if !ok {
		return 0, 0, errs.New(errs.UnknownAgent, "agent %s not found", name)
	}
	position, cash = m.pnl.snapshot()
	return position, cash, nil
}

// Run ticks agents on the supervisor's clock until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := clock.NewTicker(s.clock, s.interval)
	defer ticker.Stop()
	logTicker := clock.NewTicker(s.clock, 30*s.interval)
	defer logTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.client.AdvanceTick(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Debug("advance tick", zap.Error(err))
				continue
			}
			s.Tick(ctx, "")
		case t := <-s.trades:
			s.RecordTrade(t)
			s.Tick(ctx, t.Symbol)
		case <-logTicker.C:
			s.logPnL()
		}
	}
}

// Tick runs every active agent once. A non-empty symbol restricts the tick
// to agents watching it, as after a trade.
func (s *Supervisor) Tick(ctx context.Context, symbol string) {
	for _, m := range s.due() {
		for _, sym := range m.agent.Symbols() {
			if symbol != "" && sym != symbol {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.tickAgent(ctx, m.agent, sym)
		}
	}
}

// RecordTrade attributes a trade to the agents that own either side.
func (s *Supervisor) RecordTrade(t engine.Trade) {
	buyer, buyOK := s.client.OwnerOf(t.BuyOrderID)
	seller, sellOK := s.client.OwnerOf(t.SellOrderID)
	if !buyOK && !sellOK {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.agents[buyer]; buyOK && ok {
		m.pnl.record(t.Quantity, t.Price)
	}
	if m, ok := s.agents[seller]; sellOK && ok {
		m.pnl.record(-t.Quantity, t.Price)
	}
}

// due applies elapsed delayed toggles and returns the active agents. The
// lock is not held while agents trade, since trading goes through the
// session loop which may itself call SetActive.
func (s *Supervisor) due() []*managed {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	out := make([]*managed, 0, len(s.order))
	for _, name := range s.order {
		m := s.agents[name]
		if m.pending != nil && !now.Before(m.pending.at) {
			m.active = m.pending.active
			m.pending = nil
		}
		if m.active {
			out = append(out, m)
		}
	}
	return out
}

func (s *Supervisor) tickAgent(ctx context.Context, agent Agent, symbol string) {
	log := s.logger.With(zap.String("agent", agent.Name()), zap.String("symbol", symbol))
	snap, err := s.client.Snapshot(ctx, agent.Name(), symbol)
	if err != nil {
		log.Debug("snapshot unavailable", zap.Error(err))
		return
	}
	intents, err := safeTick(agent, snap)
	if err != nil {
		s.fault(agent.Name())
		log.Warn("agent tick failed", zap.Error(err))
		return
	}
	if q, ok := agent.(Quoter); ok && q.ReplacesQuotes() {
		if err := s.client.CancelAll(ctx, agent.Name(), symbol); err != nil {
			log.Debug("cancel previous quotes", zap.Error(err))
		}
	}
	for _, intent := range intents {
		if intent.Symbol == "" {
			intent.Symbol = symbol
		}
		if intent.Quantity <= 0 {
			continue
		}
		if _, err := s.client.Submit(ctx, agent.Name(), intent, snap.TickSize); err != nil {
			log.Debug("agent order rejected", zap.String("side", intent.Side.String()), zap.Error(err))
		}
	}
}

func safeTick(agent Agent, snap MarketSnapshot) (intents []OrderIntent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.New(errs.CommandFailed, "agent %s panicked: %v", agent.Name(), r)
		}
	}()
	return agent.OnTick(snap)
}

func (s *Supervisor) fault(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.agents[name]; ok {
		m.faults++
	}
}

// Faults reports how many ticks of an agent have failed.
func (s *Supervisor) Faults(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.agents[name]; ok {
		return m.faults
	}
	return 0
}

func (s *Supervisor) logPnL() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range s.order {
		pos, cash := s.agents[name].pnl.snapshot()
		s.logger.Info("agent pnl", zap.String("agent", name), zap.Int64("position", pos), zap.Int64("cash", cash))
	}
}

// pnlTracker is guarded by the supervisor's mutex.
type pnlTracker struct {
	position int64
	cash     int64
}

func (p *pnlTracker) record(qty, price int64) {
	p.position += qty
	p.cash -= qty * price
}

func (p *pnlTracker) snapshot() (int64, int64) {
	return p.position, p.cash
}
