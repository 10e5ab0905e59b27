package session

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"tradingfloor/clock"
	"tradingfloor/errs"
	"tradingfloor/events"
	"tradingfloor/scheduler"
)

// commandHandler exposes the session to its scheduler. Its methods are only
// called from the session loop.
type commandHandler struct{ *Session }

// ParticipantCount counts participants with role; empty counts everyone.
func (s commandHandler) ParticipantCount(role string) int {
	n := 0
	for _, p := range s.participants {
		if role == "" || string(p.Role) == role {
			n++
		}
	}
	return n
}

func (s commandHandler) AnyMarketOpen() bool {
	for _, open := range s.marketOpen {
		if open {
			return true
		}
	}
	return false
}

// Execute applies one scheduled command. It always runs on the loop.
func (s commandHandler) Execute(cmd scheduler.Command) error {
	switch a := cmd.Action.(type) {
	case scheduler.GrantPrivilege:
		var failed []error
		for _, user := range s.targets(a.UserIDs, cmd.TargetRole) {
			if err := s.grant(user, a.Code, "schedule"); err != nil {
				failed = append(failed, err)
			}
		}
		return errors.Join(failed...)
	case scheduler.RevokePrivilege:
		var failed []error
		for _, user := range s.targets(a.UserIDs, cmd.TargetRole) {
			if err := s.revoke(user, a.Code, "schedule"); err != nil {
				failed = append(failed, err)
			}
		}
		return errors.Join(failed...)
	case scheduler.OpenMarket:
		syms, err := s.resolveSymbols(a.Symbols)
		if err != nil {
			return err
		}
		if a.Delay > 0 {
			s.openAfter(syms, a.Delay, cmd.ID)
			return nil
		}
		s.openMarkets(syms, cmd.ID)
		return nil
	case scheduler.CloseMarket:
		syms, err := s.resolveSymbols(a.Symbols)
		if err != nil {
			return err
		}
		if a.Delay > 0 {
			s.closeAfter(syms, a.Delay, cmd.ID)
			return nil
		}
		s.closeMarkets(syms, cmd.ID, true)
		return nil
	case scheduler.CreateAuction:
		_, err := s.createAuction(a.Code, a.MinBid, a.Duration)
		return err
	case scheduler.ToggleAgent:
		if err := s.supervisor.SetActive(a.Name, a.Active, a.Delay); err != nil {
			return err
		}
		if a.Delay <= 0 {
			s.emit(events.AgentToggled, events.AgentPayload{Name: a.Name, Active: a.Active})
		}
		return nil
	case scheduler.InjectPrice:
		return s.injectPrice(a.Symbol, a.Price)
	case scheduler.InjectNews:
		s.emit(events.News, events.NewsPayload{Headline: a.Headline, Body: a.Body, Symbol: a.Symbol, ImpactBps: a.ImpactBps})
		if a.Symbol == "" || a.ImpactBps == 0 {
			return nil
		}
		book, ok := s.books[a.Symbol]
		if !ok {
			return errs.New(errs.UnknownSymbol, "unknown symbol %s", a.Symbol)
		}
		ref := book.Stats().LastPrice
		if ref == 0 {
			ref = book.Stats().Open
		}
		tick := s.tickSize(a.Symbol)
		moved := ref * (10_000 + a.ImpactBps) / 10_000
		moved = moved / tick * tick
		if moved <= 0 {
			moved = tick
		}
		return s.injectPrice(a.Symbol, moved)
	case scheduler.StartScenario:
		s.logger.Info("scenario started", zap.String("scenario", a.Name), zap.Duration("duration", a.Duration))
		return nil
	default:
		return errs.New(errs.CommandFailed, "unsupported action %T", cmd.Action)
	}
}

func (s *Session) reportCommand(r scheduler.Result) {
	payload := events.CommandPayload{CommandID: r.Command.ID, Type: r.Command.Action.Type(), Elapsed: r.Elapsed}
	if r.Err != nil {
		payload.Reason = r.Err.Error()
	}
	switch r.Outcome {
	case scheduler.Executed:
		s.emit(events.CommandExecuted, payload)
	case scheduler.Skipped:
		s.emit(events.CommandSkipped, payload)
	default:
		s.emit(events.CommandError, payload)
	}
}

// targets resolves explicit users, or every participant with the role.
func (s *Session) targets(userIDs []string, role string) []string {
	if len(userIDs) > 0 {
		return userIDs
	}
	var out []string
	for id, p := range s.participants {
		if role == "" || string(p.Role) == role {
			out = append(out, id)
		}
	}
	return out
}

func (s *Session) resolveSymbols(syms []string) ([]string, error) {
	if len(syms) == 0 {
		return s.symbols, nil
	}
	for _, sym := range syms {
		if _, ok := s.books[sym]; !ok {
			return nil, errs.New(errs.UnknownSymbol, "unknown symbol %s", sym)
		}
	}
	return syms, nil
}

func (s *Session) openMarkets(syms []string, reason string) {
	for _, sym := range syms {
		if t, ok := s.marketTimers[sym]; ok {
			t.Stop()
			delete(s.marketTimers, sym)
		}
		if s.marketOpen[sym] {
			continue
		}
		s.marketOpen[sym] = true
		s.emit(events.MarketOpen, events.MarketPayload{Symbol: sym, Reason: reason})
	}
}

// closeMarkets closes trading. A scheduled close honours LiquidateOnClose and
// LoopOnClose.
func (s *Session) closeMarkets(syms []string, reason string, scheduled bool) {
	var closed []string
	for _, sym := range syms {
		if t, ok := s.marketTimers[sym]; ok {
			t.Stop()
			delete(s.marketTimers, sym)
		}
		if !s.marketOpen[sym] {
			continue
		}
		s.marketOpen[sym] = false
		closed = append(closed, sym)
		s.emit(events.MarketClose, events.MarketPayload{Symbol: sym, Reason: reason})
		if s.lesson.Settings.LiquidateOnClose {
			for _, o := range s.books[sym].CancelAll() {
				s.emit(events.OrderUpdate, events.OrderFrom(o))
			}
			s.publishBook(sym)
		}
	}
	if scheduled && s.lesson.Settings.LoopOnClose && len(closed) > 0 {
		d := s.lesson.Settings.delay()
		if d <= 0 {
			d = time.Second
		}
		s.openAfter(closed, d, "reopen")
	}
}

// openAfter and closeAfter use wall-clock timers, like auction deadlines.
func (s *Session) openAfter(syms []string, d time.Duration, reason string) {
	s.afterMarkets(syms, d, func(sym string) { s.openMarkets([]string{sym}, reason) })
}

func (s *Session) closeAfter(syms []string, d time.Duration, reason string) {
	s.afterMarkets(syms, d, func(sym string) { s.closeMarkets([]string{sym}, reason, true) })
}

func (s *Session) afterMarkets(syms []string, d time.Duration, apply func(sym string)) {
	for _, sym := range syms {
		sym := sym
		if t, ok := s.marketTimers[sym]; ok {
			t.Stop()
		}
		var timer clock.Timer
		timer = s.clock.AfterFunc(d, func() {
			_ = s.post(func() {
				if cur, ok := s.marketTimers[sym]; !ok || cur != timer {
					return
				}
				delete(s.marketTimers, sym)
				if s.status == Completed {
					return
				}
				apply(sym)
			})
		})
		s.marketTimers[sym] = timer
	}
}

func (s *Session) injectPrice(symbol string, price int64) error {
	book, ok := s.books[symbol]
	if !ok {
		return errs.New(errs.UnknownSymbol, "unknown symbol %s", symbol)
	}
	if price <= 0 {
		return errs.New(errs.InvalidRequest, "injected price must be positive")
	}
	prev := book.Stats().LastPrice
	res := book.SetReferencePrice(price)
	s.emit(events.PriceInjected, events.PricePayload{Symbol: symbol, Previous: prev, Price: price})
	s.applyResult(symbol, res)
	s.publishBook(symbol)
	return nil
}
