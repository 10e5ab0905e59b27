// Package session runs one classroom trading session: its books, privileges,
// auctions, command schedule and liquidity agents.
//
// Every mutation of session state runs on a single goroutine. Public methods
// hand a closure to that loop and block until it has run, so callers never
// observe a half-applied change and no further locking is needed inside.
package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tradingfloor/auction"
	"tradingfloor/bots"
	"tradingfloor/clock"
	"tradingfloor/engine"
	"tradingfloor/errs"
	"tradingfloor/events"
	"tradingfloor/privilege"
	"tradingfloor/scheduler"
)

// Options carry the collaborators a session is built with.
type Options struct {
	Clock        clock.Clock
	Logger       *zap.Logger
	Sinks        []events.Sink
	EventBuffer  int
	TickInterval time.Duration
	// OrderInterval throttles agent submissions; zero disables throttling.
	OrderInterval time.Duration
}

type request struct {
	fn   func()
	done chan struct{}
}

type agentAccount struct {
	maxPosition int64
	position    map[string]int64
}

// Session is one running lesson.
type Session struct {
	id     string
	lesson Lesson
	clock  clock.Clock
	logger *zap.Logger

	reqCh     chan request
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// Owned by the loop goroutine.
	status       Status
	startTime    time.Time
	tick         int64
	symbols      []string
	books        map[string]*engine.OrderBook
	marketOpen   map[string]bool
	marketTimers map[string]clock.Timer
	participants map[string]*Participant
	agentAccts   map[string]*agentAccount
	privileges   *privilege.Table
	holders      map[int]int
	enabled      map[engine.OrderKind]bool
	auctions     *auction.Manager
	auctionTimer map[string]clock.Timer
	sched        *scheduler.Scheduler

	supervisor  *bots.Supervisor
	stopAgents  context.CancelFunc
	eventLog    *events.Log
	dispatcher  *events.Dispatcher
	eventHub    *events.Hub[events.Event]
	bookHub     *events.Hub[engine.BookSnapshot]
	agentClient *bots.ThrottledClient
	throttle    *clock.Ticker
}

// New validates a lesson and builds a PENDING session. The loop goroutine is
// started immediately; Close stops it.
func New(lesson Lesson, opts Options) (*Session, error) {
	if len(lesson.Symbols) == 0 {
		return nil, errs.New(errs.InvalidRequest, "lesson has no symbols")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = lesson.TickInterval
	}

	id := uuid.NewString()
	s := &Session{
		id:           id,
		lesson:       lesson,
		clock:        opts.Clock,
		logger:       opts.Logger.With(zap.String("session", id)),
		reqCh:        make(chan request),
		quit:         make(chan struct{}),
		stopped:      make(chan struct{}),
		books:        make(map[string]*engine.OrderBook),
		marketOpen:   make(map[string]bool),
		marketTimers: make(map[string]clock.Timer),
		participants: make(map[string]*Participant),
		agentAccts:   make(map[string]*agentAccount),
		privileges:   privilege.NewTable(lesson.Privileges),
		holders:      make(map[int]int),
		enabled:      make(map[engine.OrderKind]bool),
		auctions:     auction.NewManager(id),
		auctionTimer: make(map[string]clock.Timer),
		eventLog:     events.NewLog(id),
		eventHub:     events.NewHub[events.Event](),
		bookHub:      events.NewHub[engine.BookSnapshot](),
	}

	for _, sym := range lesson.Symbols {
		if sym.Symbol == "" {
			return nil, errs.New(errs.InvalidRequest, "symbol name is required")
		}
		if _, dup := s.books[sym.Symbol]; dup {
			return nil, errs.New(errs.InvalidRequest, "duplicate symbol %s", sym.Symbol)
		}
		s.books[sym.Symbol] = engine.NewOrderBook(engine.BookConfig{
			Symbol:       sym.Symbol,
			TickSize:     sym.TickSize,
			MaxDepth:     sym.MaxDepth,
			OpeningPrice: sym.OpeningPrice,
			Now:          s.clock.Now,
		})
		s.symbols = append(s.symbols, sym.Symbol)
		s.marketOpen[sym.Symbol] = false
	}
	if len(lesson.EnabledKinds) == 0 {
		s.enabled[engine.Limit] = true
		s.enabled[engine.Market] = true
	}
	for _, k := range lesson.EnabledKinds {
		s.enabled[k] = true
	}

	sched, err := scheduler.New(lesson.Commands, commandHandler{s}, s.clock, s.logger,
		scheduler.WithPost(func(f func()) { _ = s.post(f) }),
		scheduler.WithReport(s.reportCommand))
	if err != nil {
		return nil, err
	}
	s.sched = sched

	if opts.OrderInterval > 0 {
		s.throttle = clock.NewTicker(s.clock, opts.OrderInterval)
		s.agentClient = bots.NewThrottledClient(agentGateway{s}, s.throttle.C)
	} else {
		s.agentClient = bots.NewThrottledClient(agentGateway{s}, nil)
	}
	s.supervisor = bots.NewSupervisor(s.agentClient, s.clock, opts.TickInterval, s.logger)
	for _, cfg := range lesson.Agents {
		agent, err := buildAgent(cfg, s.symbols)
		if err != nil {
			return nil, err
		}
		if err := s.supervisor.Add(agent, cfg.Active); err != nil {
			return nil, errs.Wrap(errs.InvalidRequest, err, "agent %s", cfg.Name)
		}
		s.agentAccts[cfg.Name] = &agentAccount{maxPosition: cfg.MaxPosition, position: make(map[string]int64)}
	}

	sinks := append([]events.Sink{s.eventHub}, opts.Sinks...)
	s.dispatcher = events.NewDispatcher(opts.EventBuffer, s.logger, sinks...)

	go s.run()
	return s, nil
}

func buildAgent(cfg AgentConfig, all []string) (bots.Agent, error) {
	syms := cfg.Symbols
	if len(syms) == 0 {
		syms = all
	}
	switch cfg.Kind {
	case MarketMakerAgent:
		return bots.NewMarketMaker(cfg.Name, syms, cfg.Spread, cfg.Size, cfg.MaxInventory), nil
	case MomentumAgent:
		return bots.NewMomentum(cfg.Name, syms, cfg.Window, cfg.ThresholdBps, cfg.Size), nil
	case MeanReversionAgent:
		return bots.NewMeanReversion(cfg.Name, syms, cfg.Window, cfg.ThresholdBps, cfg.Size), nil
	case NoiseAgent:
		n := bots.NewNoise(cfg.Name, syms, cfg.Frequency, cfg.MaxSize, cfg.Spread)
		if cfg.Seed != 0 {
			n.WithSeed(cfg.Seed)
		}
		return n, nil
	default:
		return nil, errs.New(errs.InvalidRequest, "agent %s has unknown kind %q", cfg.Name, cfg.Kind)
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Events is the live event feed; subscribers receive events after they are
// committed to the log.
func (s *Session) Events() *events.Hub[events.Event] { return s.eventHub }

// BookUpdates carries a depth snapshot after every change to a book.
func (s *Session) BookUpdates() *events.Hub[engine.BookSnapshot] { return s.bookHub }

// EventsSince returns logged events after seq, for reconnecting clients.
func (s *Session) EventsSince(seq int64) []events.Event { return s.eventLog.Since(seq) }

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case req := <-s.reqCh:
			req.fn()
			close(req.done)
		case <-s.quit:
			return
		}
	}
}

// call runs fn on the loop and waits for it.
func (s *Session) call(ctx context.Context, fn func()) error {
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case s.reqCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return errs.New(errs.SessionNotActive, "session %s is closed", s.id)
	}
	<-req.done
	return nil
}

func (s *Session) post(fn func()) error {
	return s.call(context.Background(), fn)
}

// Start opens the session: the schedule starts, markets open (now or after
// the configured delay) and agents begin ticking.
func (s *Session) Start() error {
	var err error
	if cerr := s.post(func() { err = s.start() }); cerr != nil {
		return cerr
	}
	return err
}

func (s *Session) start() error {
	if s.status != Pending {
		return errs.New(errs.SessionNotActive, "session is %s", s.status)
	}
	now := s.clock.Now()
	s.status = InProgress
	s.startTime = now
	s.tick = s.lesson.Settings.StartTick
	s.emit(events.SessionStatus, events.StatusPayload{Status: s.status.String()})

	if d := s.lesson.Settings.delay(); d > 0 {
		s.openAfter(s.symbols, d, "market delay")
	} else {
		s.openMarkets(s.symbols, "session start")
	}
	s.sched.Start(now)

	ctx, cancel := context.WithCancel(context.Background())
	s.stopAgents = cancel
	go s.supervisor.Run(ctx)
	s.logger.Info("session started", zap.Int("symbols", len(s.symbols)), zap.Int("commands", len(s.lesson.Commands)))
	return nil
}

// Pause freezes the schedule. Orders are rejected until Resume.
func (s *Session) Pause() error {
	var err error
	if cerr := s.post(func() {
		if s.status != InProgress {
			err = errs.New(errs.SessionNotActive, "session is %s", s.status)
			return
		}
		now := s.clock.Now()
		s.sched.Pause(now)
		s.status = Paused
		s.emit(events.SessionStatus, events.StatusPayload{Status: s.status.String(), Elapsed: s.sched.Elapsed(now)})
	}); cerr != nil {
		return cerr
	}
	return err
}

// Resume continues a paused schedule from where it stopped.
func (s *Session) Resume() error {
	var err error
	if cerr := s.post(func() {
		if s.status != Paused {
			err = errs.New(errs.SessionNotActive, "session is %s", s.status)
			return
		}
		now := s.clock.Now()
		s.status = InProgress
		s.emit(events.SessionStatus, events.StatusPayload{Status: s.status.String(), Elapsed: s.sched.Elapsed(now)})
		s.sched.Resume(now)
	}); cerr != nil {
		return cerr
	}
	return err
}

// End completes the session. The loop keeps serving reads until Close.
func (s *Session) End() error {
	var err error
	if cerr := s.post(func() { err = s.end() }); cerr != nil {
		return cerr
	}
	return err
}

func (s *Session) end() error {
	if s.status == Completed {
		return errs.New(errs.SessionNotActive, "session already completed")
	}
	now := s.clock.Now()
	s.sched.Stop()
	if s.stopAgents != nil {
		s.stopAgents()
	}
	for sym, t := range s.marketTimers {
		t.Stop()
		delete(s.marketTimers, sym)
	}
	for _, id := range s.auctions.Active() {
		if t, ok := s.auctionTimer[id]; ok {
			t.Stop()
			delete(s.auctionTimer, id)
		}
		if a, err := s.auctions.Cancel(id); err == nil {
			s.emit(events.AuctionCancelled, auctionPayload(a))
		}
	}
	for _, sym := range s.symbols {
		for _, o := range s.books[sym].CancelAll() {
			s.emit(events.OrderUpdate, events.OrderFrom(o))
		}
		if s.marketOpen[sym] {
			s.marketOpen[sym] = false
			s.emit(events.MarketClose, events.MarketPayload{Symbol: sym, Reason: "session end"})
		}
		s.publishBook(sym)
	}
	s.status = Completed
	s.emit(events.SessionStatus, events.StatusPayload{Status: s.status.String(), Elapsed: s.sched.Elapsed(now)})
	s.logger.Info("session completed", zap.Int("events", s.eventLog.Len()))
	return nil
}

// Close stops the loop and flushes queued events to the sinks. A session
// that has not ended is ended first.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		_ = s.post(func() {
			if s.status != Completed {
				_ = s.end()
			}
		})
		close(s.quit)
		<-s.stopped
		if s.throttle != nil {
			s.throttle.Stop()
		}
		s.dispatcher.Close()
		s.eventHub.Close()
		s.bookHub.Close()
	})
}

// Join adds a participant, or reconnects one who left.
func (s *Session) Join(userID string, role Role) (Participant, error) {
	var (
		out Participant
		err error
	)
	if cerr := s.post(func() {
		if userID == "" {
			err = errs.New(errs.InvalidRequest, "user id is required")
			return
		}
		if strings.HasPrefix(userID, agentOwnerPrefix) {
			err = errs.New(errs.InvalidRequest, "user id %q is reserved for agents", userID)
			return
		}
		if s.status == Completed {
			err = errs.New(errs.SessionNotActive, "session is %s", s.status)
			return
		}
		p, ok := s.participants[userID]
		if !ok {
			p = &Participant{
				UserID:     userID,
				Role:       role,
				Privileges: privilege.NewSet(),
				Position:   make(map[string]int64),
				JoinedAt:   s.clock.Now(),
			}
			s.participants[userID] = p
		}
		p.Connected = true
		s.emit(events.ParticipantJoin, events.ParticipantPayload{UserID: userID, Role: string(p.Role)})
		out = p.clone()
	}); cerr != nil {
		return Participant{}, cerr
	}
	return out, err
}

// Leave marks a participant disconnected. Positions and privileges are kept.
func (s *Session) Leave(userID string) error {
	var err error
	if cerr := s.post(func() {
		p, ok := s.participants[userID]
		if !ok {
			err = errs.New(errs.UnknownParticipant, "participant %s not found", userID)
			return
		}
		p.Connected = false
		s.emit(events.ParticipantLeave, events.ParticipantPayload{UserID: userID, Role: string(p.Role)})
	}); cerr != nil {
		return cerr
	}
	return err
}

// Snapshot returns a consistent view of the whole session.
func (s *Session) Snapshot() (Snapshot, error) {
	var out Snapshot
	err := s.post(func() { out = s.snapshot() })
	return out, err
}

func (s *Session) snapshot() Snapshot {
	now := s.clock.Now()
	snap := Snapshot{
		ID:               s.id,
		Name:             s.lesson.Name,
		Status:           s.status,
		StartTime:        s.startTime,
		Elapsed:          s.sched.Elapsed(now),
		CurrentTick:      s.tick,
		MarketOpen:       make(map[string]bool, len(s.marketOpen)),
		Auctions:         s.auctions.List(),
		ExecutedCommands: s.sched.Executed(),
		PendingCommands:  len(s.sched.Remaining()),
	}
	for sym, open := range s.marketOpen {
		snap.MarketOpen[sym] = open
	}
	for _, sym := range s.symbols {
		snap.Stats = append(snap.Stats, s.books[sym].Stats())
	}
	for _, p := range s.participants {
		snap.Participants = append(snap.Participants, p.clone())
	}
	sort.Slice(snap.Participants, func(i, j int) bool { return snap.Participants[i].UserID < snap.Participants[j].UserID })
	for _, name := range s.supervisor.Names() {
		active, _ := s.supervisor.Active(name)
		pos, cash, _ := s.supervisor.PnL(name)
		snap.Agents = append(snap.Agents, AgentState{Name: name, Active: active, Position: pos, Cash: cash})
	}
	if last, ok := s.eventLog.Last(); ok {
		snap.LastEventSeq = last.Seq
	}
	return snap
}

// Book returns a depth snapshot of one symbol; depth <= 0 returns every level.
func (s *Session) Book(symbol string, depth int) (engine.BookSnapshot, error) {
	var (
		out engine.BookSnapshot
		err error
	)
	if cerr := s.post(func() {
		book, ok := s.books[symbol]
		if !ok {
			err = errs.New(errs.UnknownSymbol, "unknown symbol %s", symbol)
			return
		}
		out = book.Snapshot(depth)
	}); cerr != nil {
		return out, cerr
	}
	return out, err
}

// Order looks up an order in any of the session's books.
func (s *Session) Order(orderID string) (engine.Order, error) {
	var (
		out engine.Order
		err error
	)
	if cerr := s.post(func() {
		o, _, ok := s.findOrder(orderID)
		if !ok {
			err = errs.New(errs.OrderNotFound, "order %s not found", orderID)
			return
		}
		out = o
	}); cerr != nil {
		return out, cerr
	}
	return out, err
}

// TriggerCommand fires a scheduled command ahead of its offset. Commands
// that have already run are left alone.
func (s *Session) TriggerCommand(id string) (bool, error) {
	var (
		ran bool
		err error
	)
	if cerr := s.post(func() {
		if s.status != InProgress {
			err = errs.New(errs.SessionNotActive, "session is %s", s.status)
			return
		}
		ran, err = s.sched.Trigger(id, s.clock.Now())
	}); cerr != nil {
		return false, cerr
	}
	return ran, err
}

func (s *Session) findOrder(id string) (engine.Order, *engine.OrderBook, bool) {
	for _, sym := range s.symbols {
		if o, ok := s.books[sym].Order(id); ok {
			return o, s.books[sym], true
		}
	}
	return engine.Order{}, nil, false
}

func (s *Session) emit(kind events.Kind, payload any) events.Event {
	e := s.eventLog.Append(kind, s.clock.Now(), payload)
	s.dispatcher.Offer(e)
	return e
}

func (s *Session) publishBook(symbol string) {
	if book, ok := s.books[symbol]; ok {
		s.bookHub.Broadcast(book.Snapshot(10))
	}
}
