package session

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"tradingfloor/clock"
	"tradingfloor/engine"
	"tradingfloor/errs"
	"tradingfloor/events"
	"tradingfloor/privilege"
	"tradingfloor/scheduler"
)

var t0 = time.Unix(1_700_000_000, 0)

const (
	codeTrade = iota + 1
	codeMarketOrders
	codeMarketMaker
)

func baseLesson() Lesson {
	return Lesson{
		Name:    "intro",
		Symbols: []SymbolConfig{{Symbol: "ACME", OpeningPrice: 100, TickSize: 1}},
		Privileges: []privilege.Definition{
			{Code: codeTrade, Name: "trade"},
			{Code: codeMarketOrders, Name: "market-orders", Prerequisites: []int{codeTrade}},
			{Code: codeMarketMaker, Name: "market-maker", MaxHolders: 1},
		},
	}
}

func newTestSession(t *testing.T, lesson Lesson) (*Session, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(t0)
	s, err := New(lesson, Options{Clock: clk, Logger: zap.NewNop(), TickInterval: time.Hour})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(s.Close)
	return s, clk
}

func mustJoin(t *testing.T, s *Session, users ...string) {
	t.Helper()
	for _, u := range users {
		if _, err := s.Join(u, Student); err != nil {
			t.Fatalf("join %s: %v", u, err)
		}
	}
}

func countKind(evs []events.Event, kind events.Kind) int {
	n := 0
	for _, e := range evs {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestMarketOrderRestsThenFillsAtIncomingLimit(t *testing.T) {
	s, _ := newTestSession(t, baseLesson())
	mustJoin(t, s, "alice", "bob")
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	res, err := s.SubmitOrder(OrderRequest{UserID: "alice", Symbol: "ACME", Side: engine.Buy, Kind: engine.Market, Quantity: 10})
	if err != nil {
		t.Fatalf("market buy: %v", err)
	}
	if res.Order.Status != engine.Pending || len(res.Trades) != 0 {
		t.Fatalf("expected resting pending market order, got %+v", res)
	}

	res, err = s.SubmitOrder(OrderRequest{UserID: "bob", Symbol: "ACME", Side: engine.Sell, Kind: engine.Limit, Price: 50, Quantity: 10})
	if err != nil {
		t.Fatalf("limit sell: %v", err)
	}
	if len(res.Trades) != 1 || res.Trades[0].Price != 50 || res.Trades[0].Quantity != 10 {
		t.Fatalf("expected one fill at 50, got %+v", res.Trades)
	}

	snap, _ := s.Snapshot()
	var alice, bob Participant
	for _, p := range snap.Participants {
		switch p.UserID {
		case "alice":
			alice = p
		case "bob":
			bob = p
		}
	}
	if alice.Position["ACME"] != 10 || bob.Position["ACME"] != -10 {
		t.Fatalf("positions alice=%d bob=%d", alice.Position["ACME"], bob.Position["ACME"])
	}
	evs := s.EventsSince(0)
	if countKind(evs, events.Trade) != 1 || countKind(evs, events.OrderUpdate) < 3 {
		t.Fatalf("unexpected events %+v", evs)
	}
	for i, e := range evs {
		if e.Seq != int64(i+1) {
			t.Fatalf("event sequence gap at %d", i)
		}
	}
}

func TestSubmitValidationOrder(t *testing.T) {
	lesson := baseLesson()
	lesson.Symbols = append(lesson.Symbols, SymbolConfig{Symbol: "SLOW", OpeningPrice: 10, TickSize: 1})
	lesson.EnabledKinds = []engine.OrderKind{engine.Limit}
	lesson.OrderPrivileges = map[engine.OrderKind]int{engine.Limit: codeTrade}
	lesson.MaxPosition = 5
	lesson.Commands = []scheduler.Command{{ID: "close-slow", Offset: 0, Action: scheduler.CloseMarket{Symbols: []string{"SLOW"}}}}
	s, _ := newTestSession(t, lesson)
	mustJoin(t, s, "alice")

	limit := OrderRequest{UserID: "alice", Symbol: "ACME", Side: engine.Buy, Kind: engine.Limit, Price: 99, Quantity: 1}
	if _, err := s.SubmitOrder(limit); !errs.HasCode(err, errs.SessionNotActive) {
		t.Fatalf("expected SessionNotActive, got %v", err)
	}
	_ = s.Start()

	cases := []struct {
		name string
		req  OrderRequest
		code errs.Code
	}{
		{"unknown symbol", OrderRequest{UserID: "alice", Symbol: "NOPE", Side: engine.Buy, Kind: engine.Limit, Price: 1, Quantity: 1}, errs.UnknownSymbol},
		{"closed market", OrderRequest{UserID: "alice", Symbol: "SLOW", Side: engine.Buy, Kind: engine.Limit, Price: 1, Quantity: 1}, errs.MarketClosed},
		{"unknown participant", OrderRequest{UserID: "mallory", Symbol: "ACME", Side: engine.Buy, Kind: engine.Limit, Price: 1, Quantity: 1}, errs.UnknownParticipant},
		{"disabled kind", OrderRequest{UserID: "alice", Symbol: "ACME", Side: engine.Buy, Kind: engine.Market, Quantity: 1}, errs.FeatureDisabled},
		{"missing privilege", limit, errs.PrivilegeRequired},
	}
	for _, tc := range cases {
		if _, err := s.SubmitOrder(tc.req); !errs.HasCode(err, tc.code) {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.code, err)
		}
	}

	if err := s.Grant("alice", codeTrade); err != nil {
		t.Fatalf("grant: %v", err)
	}
	big := limit
	big.Quantity = 6
	if _, err := s.SubmitOrder(big); !errs.HasCode(err, errs.PositionLimit) {
		t.Fatalf("expected PositionLimit, got %v", err)
	}
	bad := limit
	bad.Quantity = 0
	if _, err := s.SubmitOrder(bad); !errs.HasCode(err, errs.InvalidOrder) {
		t.Fatalf("expected InvalidOrder, got %v", err)
	}
	if _, err := s.SubmitOrder(limit); err != nil {
		t.Fatalf("valid order rejected: %v", err)
	}
}

func TestAuctionGrantsPrivilegeToHighestBidder(t *testing.T) {
	lesson := baseLesson()
	lesson.Commands = []scheduler.Command{{
		ID:     "auction",
		Offset: 5 * time.Second,
		Action: scheduler.CreateAuction{Code: codeMarketMaker, MinBid: 1000, Duration: time.Minute},
	}}
	s, clk := newTestSession(t, lesson)
	mustJoin(t, s, "userA", "userB")
	_ = s.Start()
	clk.Advance(5 * time.Second)

	snap, _ := s.Snapshot()
	if len(snap.Auctions) != 1 {
		t.Fatalf("expected the scheduled auction, got %+v", snap.Auctions)
	}
	id := snap.Auctions[0].ID

	clk.Advance(10 * time.Second)
	if _, err := s.PlaceBid(id, "userA", 1500); err != nil {
		t.Fatalf("bid A: %v", err)
	}
	clk.Advance(10 * time.Second)
	if _, err := s.PlaceBid(id, "userB", 2000); err != nil {
		t.Fatalf("bid B: %v", err)
	}
	clk.Advance(40 * time.Second)

	a, _ := s.Auction(id)
	if a.WinnerID != "userB" || a.WinningBid != 2000 {
		t.Fatalf("unexpected result %+v", a)
	}
	if has, _ := s.HasPrivilege("userB", codeMarketMaker); !has {
		t.Fatalf("winner should hold the privilege")
	}
	if has, _ := s.HasPrivilege("userA", codeMarketMaker); has {
		t.Fatalf("loser must not hold the privilege")
	}

	clk.Advance(time.Second)
	if _, err := s.PlaceBid(id, "userA", 2500); !errs.HasCode(err, errs.AuctionClosed) {
		t.Fatalf("expected AuctionClosed, got %v", err)
	}
	if countKind(s.EventsSince(0), events.AuctionCompleted) != 1 {
		t.Fatalf("auction must complete exactly once")
	}
}

func TestPausedScheduleFiresAfterRemainingElapsed(t *testing.T) {
	lesson := baseLesson()
	lesson.Commands = []scheduler.Command{{
		ID:     "grant-trade",
		Offset: 45 * time.Second,
		Action: scheduler.GrantPrivilege{Code: codeTrade},
	}}
	s, clk := newTestSession(t, lesson)
	mustJoin(t, s, "alice")
	_ = s.Start()

	clk.Advance(30 * time.Second)
	if err := s.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	clk.Advance(5 * time.Minute)
	if has, _ := s.HasPrivilege("alice", codeTrade); has {
		t.Fatalf("command fired while paused")
	}
	if err := s.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	clk.Advance(14 * time.Second)
	if has, _ := s.HasPrivilege("alice", codeTrade); has {
		t.Fatalf("command fired early")
	}
	clk.Advance(time.Second)
	if has, _ := s.HasPrivilege("alice", codeTrade); !has {
		t.Fatalf("command should fire 15s after resume")
	}

	// Pausing and resuming again never re-fires it.
	_ = s.Pause()
	_ = s.Resume()
	clk.Advance(time.Minute)
	evs := s.EventsSince(0)
	if countKind(evs, events.CommandExecuted) != 1 || countKind(evs, events.PrivilegeGranted) != 1 {
		t.Fatalf("command executed more than once")
	}
	snap, _ := s.Snapshot()
	if snap.Elapsed != 105*time.Second {
		t.Fatalf("elapsed = %s", snap.Elapsed)
	}
}

func TestCommandPreconditionsAndErrors(t *testing.T) {
	lesson := baseLesson()
	closed := false
	lesson.Commands = []scheduler.Command{
		{ID: "needs-crowd", Offset: time.Second, Action: scheduler.GrantPrivilege{Code: codeTrade}, MinParticipants: 3},
		{ID: "needs-closed", Offset: time.Second, Action: scheduler.InjectNews{Headline: "x"}, RequireMarketOpen: &closed},
		{ID: "bad-agent", Offset: 2 * time.Second, Action: scheduler.ToggleAgent{Name: "ghost", Active: true}},
		{ID: "news", Offset: 3 * time.Second, Action: scheduler.InjectNews{Headline: "rally", Symbol: "ACME", ImpactBps: 1000}},
	}
	s, clk := newTestSession(t, lesson)
	mustJoin(t, s, "alice")
	_ = s.Start()
	clk.Advance(5 * time.Second)

	evs := s.EventsSince(0)
	if countKind(evs, events.CommandSkipped) != 2 {
		t.Fatalf("expected two skipped commands")
	}
	if countKind(evs, events.CommandError) != 1 {
		t.Fatalf("expected one failed command")
	}
	if countKind(evs, events.News) != 1 || countKind(evs, events.PriceInjected) != 1 {
		t.Fatalf("news with impact should move the price")
	}
	book, _ := s.Book("ACME", 0)
	if book.Stats.LastPrice != 110 {
		t.Fatalf("expected price 110 after +10%% news, got %d", book.Stats.LastPrice)
	}
	snap, _ := s.Snapshot()
	if len(snap.ExecutedCommands) != 4 || snap.PendingCommands != 0 {
		t.Fatalf("every command should be marked executed: %+v", snap.ExecutedCommands)
	}
}

func TestMarketDelayLoopAndLiquidation(t *testing.T) {
	lesson := baseLesson()
	lesson.Settings = MarketSettings{MarketDelaySeconds: 10, LoopOnClose: true, LiquidateOnClose: true}
	lesson.Commands = []scheduler.Command{{ID: "close", Offset: 20 * time.Second, Action: scheduler.CloseMarket{}}}
	s, clk := newTestSession(t, lesson)
	mustJoin(t, s, "alice")
	_ = s.Start()

	req := OrderRequest{UserID: "alice", Symbol: "ACME", Side: engine.Buy, Kind: engine.Limit, Price: 90, Quantity: 1}
	if _, err := s.SubmitOrder(req); !errs.HasCode(err, errs.MarketClosed) {
		t.Fatalf("market should open only after the delay, got %v", err)
	}
	clk.Advance(10 * time.Second)
	res, err := s.SubmitOrder(req)
	if err != nil {
		t.Fatalf("order after delay: %v", err)
	}

	clk.Advance(10 * time.Second)
	o, _ := s.Order(res.Order.ID)
	if o.Status != engine.Cancelled {
		t.Fatalf("liquidating close should cancel resting orders, got %s", o.Status)
	}
	if _, err := s.SubmitOrder(req); !errs.HasCode(err, errs.MarketClosed) {
		t.Fatalf("expected closed market, got %v", err)
	}
	clk.Advance(10 * time.Second)
	if _, err := s.SubmitOrder(req); err != nil {
		t.Fatalf("market should reopen after the loop delay: %v", err)
	}
}

func TestPrivilegeRulesThroughSession(t *testing.T) {
	s, _ := newTestSession(t, baseLesson())
	mustJoin(t, s, "a", "b")
	if err := s.Grant("a", codeMarketOrders); !errs.HasCode(err, errs.PrivilegeMissingPrerequisite) {
		t.Fatalf("expected missing prerequisite, got %v", err)
	}
	if err := s.Grant("a", codeMarketMaker); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := s.Grant("b", codeMarketMaker); !errs.HasCode(err, errs.PrivilegeCapacity) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if err := s.Revoke("a", codeMarketMaker); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := s.Grant("b", codeMarketMaker); err != nil {
		t.Fatalf("capacity should free up after revoke: %v", err)
	}
	if err := s.Grant("ghost", codeTrade); !errs.HasCode(err, errs.UnknownParticipant) {
		t.Fatalf("expected UnknownParticipant, got %v", err)
	}
}

func TestAgentsTradeThroughSessionWithLimits(t *testing.T) {
	lesson := baseLesson()
	lesson.Agents = []AgentConfig{{Name: "mm", Kind: MarketMakerAgent, Active: true, Spread: 4, Size: 5, MaxPosition: 8}}
	s, _ := newTestSession(t, lesson)
	mustJoin(t, s, "alice")
	_ = s.Start()

	ctx := context.Background()
	s.supervisor.Tick(ctx, "")
	book, _ := s.Book("ACME", 0)
	if len(book.Bids) != 1 || book.Bids[0].Price != 98 || len(book.Asks) != 1 || book.Asks[0].Price != 102 {
		t.Fatalf("unexpected agent quotes %+v / %+v", book.Bids, book.Asks)
	}

	res, err := s.SubmitOrder(OrderRequest{UserID: "alice", Symbol: "ACME", Side: engine.Buy, Kind: engine.Market, Quantity: 5})
	if err != nil || len(res.Trades) != 1 || res.Trades[0].Price != 102 {
		t.Fatalf("student market buy: %v %+v", err, res.Trades)
	}
	if !res.Trades[0].Timestamp.Equal(t0) {
		t.Fatalf("trade should carry the session clock time")
	}

	// Short 5 of a max 8: a further 5-lot ask would breach the limit.
	s.supervisor.Tick(ctx, "")
	book, _ = s.Book("ACME", 0)
	if len(book.Asks) != 0 {
		t.Fatalf("agent ask beyond its position limit should be rejected, got %+v", book.Asks)
	}
	snap, _ := s.Snapshot()
	if len(snap.Agents) != 1 || !snap.Agents[0].Active {
		t.Fatalf("unexpected agent state %+v", snap.Agents)
	}
}

func TestEndCancelsEverythingAndRegistryArchives(t *testing.T) {
	lesson := baseLesson()
	lesson.Commands = []scheduler.Command{{ID: "late", Offset: time.Hour, Action: scheduler.InjectNews{Headline: "never"}}}
	reg := NewRegistry(Options{Clock: clock.NewManual(t0), Logger: zap.NewNop(), TickInterval: time.Hour})
	s, err := reg.Create(lesson)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	mustJoin(t, s, "alice")
	_ = s.Start()
	res, _ := s.SubmitOrder(OrderRequest{UserID: "alice", Symbol: "ACME", Side: engine.Buy, Kind: engine.Limit, Price: 90, Quantity: 1})
	a, err := s.CreateAuction(codeMarketMaker, 0, time.Minute)
	if err != nil {
		t.Fatalf("create auction: %v", err)
	}

	if ids := reg.List(); len(ids) != 1 || ids[0] != s.ID() {
		t.Fatalf("unexpected list %v", ids)
	}
	snap, err := reg.End(s.ID())
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if snap.Status != Completed || snap.MarketOpen["ACME"] {
		t.Fatalf("unexpected final snapshot %+v", snap)
	}
	if len(snap.Auctions) != 1 || snap.Auctions[0].ID != a.ID || snap.Auctions[0].Status.String() != "CANCELLED" {
		t.Fatalf("active auctions should be cancelled: %+v", snap.Auctions)
	}
	if _, err := reg.Get(s.ID()); !errs.HasCode(err, errs.SessionNotFound) {
		t.Fatalf("ended session should leave the live set")
	}
	if archived, err := reg.Archived(s.ID()); err != nil || archived.ID != s.ID() {
		t.Fatalf("archived snapshot missing: %v", err)
	}
	if _, err := s.SubmitOrder(OrderRequest{UserID: "alice", Symbol: "ACME", Side: engine.Buy, Kind: engine.Limit, Price: 90, Quantity: 1}); !errs.HasCode(err, errs.SessionNotActive) {
		t.Fatalf("closed session should reject orders, got %v", err)
	}
	if countKind(s.EventsSince(0), events.OrderUpdate) < 2 || res.Order.ID == "" {
		t.Fatalf("resting order should have been cancelled at end")
	}
	reg.Shutdown()
}

func TestLifecycleTransitions(t *testing.T) {
	s, _ := newTestSession(t, baseLesson())
	if err := s.Pause(); !errs.HasCode(err, errs.SessionNotActive) {
		t.Fatalf("pause before start: %v", err)
	}
	_ = s.Start()
	if err := s.Start(); !errs.HasCode(err, errs.SessionNotActive) {
		t.Fatalf("double start: %v", err)
	}
	if err := s.Resume(); !errs.HasCode(err, errs.SessionNotActive) {
		t.Fatalf("resume while running: %v", err)
	}
	_ = s.Pause()
	mustJoin(t, s, "alice")
	if _, err := s.SubmitOrder(OrderRequest{UserID: "alice", Symbol: "ACME", Side: engine.Buy, Kind: engine.Limit, Price: 90, Quantity: 1}); !errs.HasCode(err, errs.SessionNotActive) {
		t.Fatalf("orders while paused: %v", err)
	}
	if err := s.Leave("alice"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	snap, _ := s.Snapshot()
	if snap.Status != Paused || len(snap.Participants) != 1 || snap.Participants[0].Connected {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if err := s.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := s.End(); !errs.HasCode(err, errs.SessionNotActive) {
		t.Fatalf("double end: %v", err)
	}
}

func TestAgentOwnerIdsAreReserved(t *testing.T) {
	lesson := baseLesson()
	lesson.Agents = []AgentConfig{{Name: "mm", Kind: MarketMakerAgent, Active: true, Spread: 4, Size: 10, MaxPosition: 100}}
	s, _ := newTestSession(t, lesson)
	if _, err := s.Join(agentOwner("mm"), Student); !errs.HasCode(err, errs.InvalidRequest) {
		t.Fatalf("joining under an agent id should fail, got %v", err)
	}
	mustJoin(t, s, "bob")
	_ = s.Start()

	s.supervisor.Tick(context.Background(), "")
	book, _ := s.Book("ACME", 0)
	if len(book.Asks) != 1 {
		t.Fatalf("expected an agent ask, got %+v", book.Asks)
	}
	var askID string
	_ = s.post(func() {
		for _, o := range s.books["ACME"].Resting(agentOwner("mm")) {
			if o.Side == engine.Sell {
				askID = o.ID
			}
		}
	})
	if _, err := s.CancelOrder(agentOwner("mm"), askID); !errs.HasCode(err, errs.OrderNotFound) {
		t.Fatalf("humans must not cancel agent quotes, got %v", err)
	}

	if _, err := s.SubmitOrder(OrderRequest{UserID: "bob", Symbol: "ACME", Side: engine.Buy, Kind: engine.Limit, Price: 102, Quantity: 10}); err != nil {
		t.Fatalf("lift agent ask: %v", err)
	}
	var agentPos int64
	_ = s.post(func() { agentPos = s.agentAccts["mm"].position["ACME"] })
	if agentPos != -10 {
		t.Fatalf("agent account should carry its fill, got %d", agentPos)
	}
	snap, _ := s.Snapshot()
	if len(snap.Participants) != 1 || snap.Participants[0].Position["ACME"] != 10 {
		t.Fatalf("unexpected participants %+v", snap.Participants)
	}
}

func TestAmendIsHeldToPositionLimit(t *testing.T) {
	lesson := baseLesson()
	lesson.MaxPosition = 100
	s, _ := newTestSession(t, lesson)
	mustJoin(t, s, "alice", "bob")
	_ = s.Start()

	if _, err := s.SubmitOrder(OrderRequest{OrderID: "a1", UserID: "alice", Symbol: "ACME", Side: engine.Buy, Kind: engine.Limit, Price: 90, Quantity: 10}); err != nil {
		t.Fatalf("rest bid: %v", err)
	}
	huge := int64(100_000)
	if _, err := s.AmendOrder("alice", "a1", nil, &huge); !errs.HasCode(err, errs.PositionLimit) {
		t.Fatalf("expected PositionLimit on amend, got %v", err)
	}
	if o, _ := s.Order("a1"); o.Quantity != 10 {
		t.Fatalf("rejected amend must leave the order alone, quantity=%d", o.Quantity)
	}
	sixty := int64(60)
	if _, err := s.AmendOrder("alice", "a1", nil, &sixty); err != nil {
		t.Fatalf("amend within limit: %v", err)
	}

	// 60 resting plus 50 more would breach 100 if both filled.
	if _, err := s.SubmitOrder(OrderRequest{UserID: "alice", Symbol: "ACME", Side: engine.Buy, Kind: engine.Limit, Price: 89, Quantity: 50}); !errs.HasCode(err, errs.PositionLimit) {
		t.Fatalf("resting exposure should count toward the limit, got %v", err)
	}
	if _, err := s.SubmitOrder(OrderRequest{UserID: "alice", Symbol: "ACME", Side: engine.Sell, Kind: engine.Limit, Price: 120, Quantity: 50}); err != nil {
		t.Fatalf("opposite side is not blocked by bids: %v", err)
	}

	if _, err := s.SubmitOrder(OrderRequest{UserID: "bob", Symbol: "ACME", Side: engine.Sell, Kind: engine.Limit, Price: 90, Quantity: 60}); err != nil {
		t.Fatalf("hit bid: %v", err)
	}
	snap, _ := s.Snapshot()
	for _, p := range snap.Participants {
		if pos := p.Position["ACME"]; pos > 100 || pos < -100 {
			t.Fatalf("%s position %d beyond limit", p.UserID, pos)
		}
	}
}

func TestCloseIsIdempotentUnderConcurrency(t *testing.T) {
	s, err := New(baseLesson(), Options{Clock: clock.NewManual(t0), Logger: zap.NewNop(), TickInterval: time.Hour, OrderInterval: time.Second})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			s.Close()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	s.Close()
	if err := s.Start(); !errs.HasCode(err, errs.SessionNotActive) {
		t.Fatalf("closed session should refuse to start, got %v", err)
	}
}
