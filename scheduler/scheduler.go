// Package scheduler fires a lesson's timed commands against a session.
//
// Offsets are measured in session-elapsed time, so pausing the session
// pauses the timeline. The scheduler keeps a single armed timer for the
// earliest pending command and never fires the same command id twice.
//
// A Scheduler is not safe for concurrent use. Timer callbacks are handed to
// the post function so they run on the owner's goroutine.
package scheduler

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"tradingfloor/clock"
	"tradingfloor/errs"
)

// Env answers the precondition questions a command may ask.
type Env interface {
	ParticipantCount(role string) int
	AnyMarketOpen() bool
}

// Handler applies commands to the session.
type Handler interface {
	Env
	Execute(cmd Command) error
}

// Outcome classifies what happened to a fired command.
type Outcome int

const (
	Executed Outcome = iota
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Executed:
		return "executed"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is reported once for every command the scheduler fires.
type Result struct {
	Command Command
	Outcome Outcome
	Err     error
	Elapsed time.Duration
}

type state int

const (
	idle state = iota
	running
	paused
	stopped
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPost routes timer callbacks through post, typically a send onto the
// session's request loop.
func WithPost(post func(func())) Option {
	return func(s *Scheduler) { s.post = post }
}

// WithReport registers a callback invoked with each command's result.
func WithReport(report func(Result)) Option {
	return func(s *Scheduler) { s.report = report }
}

type Scheduler struct {
	commands []Command
	executed map[string]struct{}
	order    []string

	handler Handler
	clock   clock.Clock
	post    func(func())
	report  func(Result)
	logger  *zap.Logger

	state     state
	startedAt time.Time
	banked    time.Duration
	timer     clock.Timer
	gen       uint64
}

// New builds a scheduler over commands. Command ids must be unique.
func New(commands []Command, h Handler, clk clock.Clock, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		executed: make(map[string]struct{}),
		handler:  h,
		clock:    clk,
		post:     func(f func()) { f() },
		report:   func(Result) {},
		logger:   logger,
	}
	for _, o := range opts {
		o(s)
	}
	seen := make(map[string]struct{}, len(commands))
	for _, c := range commands {
		if c.ID == "" {
			return nil, errs.New(errs.InvalidRequest, "command without id")
		}
		if c.Action == nil {
			return nil, errs.New(errs.InvalidRequest, "command %s has no action", c.ID)
		}
		if c.Offset < 0 {
			return nil, errs.New(errs.InvalidRequest, "command %s has a negative offset", c.ID)
		}
		if _, dup := seen[c.ID]; dup {
			return nil, errs.New(errs.InvalidRequest, "duplicate command id %s", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	s.commands = append(s.commands, commands...)
	sort.SliceStable(s.commands, func(i, j int) bool { return s.commands[i].Offset < s.commands[j].Offset })
	return s, nil
}

// Start begins the timeline at now. Commands at offset zero fire immediately.
func (s *Scheduler) Start(now time.Time) {
	if s.state != idle {
		return
	}
	s.state = running
	s.startedAt = now
	s.banked = 0
	s.Fire(now)
}

// Pause freezes elapsed time and disarms the timer. Nothing is marked executed.
func (s *Scheduler) Pause(now time.Time) {
	if s.state != running {
		return
	}
	s.banked = s.Elapsed(now)
	s.state = paused
	s.disarm()
}

// Resume restarts the timeline from the elapsed time recorded at Pause.
// Commands that came due while paused fire immediately.
func (s *Scheduler) Resume(now time.Time) {
	if s.state != paused {
		return
	}
	s.state = running
	s.startedAt = now
	s.Fire(now)
}

// Stop disarms the scheduler permanently.
func (s *Scheduler) Stop() {
	if s.state == running {
		s.banked = s.Elapsed(s.clock.Now())
	}
	s.state = stopped
	s.disarm()
}

// Elapsed reports session-elapsed time at now.
func (s *Scheduler) Elapsed(now time.Time) time.Duration {
	if s.state != running {
		return s.banked
	}
	return s.banked + now.Sub(s.startedAt)
}

// Fire runs every pending command whose offset has been reached, in offset
// order, then re-arms the timer for the next one.
func (s *Scheduler) Fire(now time.Time) {
	if s.state != running {
		return
	}
	s.disarm()
	elapsed := s.Elapsed(now)
	for {
		next, ok := s.nextDue(elapsed)
		if !ok {
			break
		}
		s.run(next, elapsed)
	}
	s.arm(now)
}

// Trigger fires a pending command by id ahead of its offset. Already
// executed ids are a no-op and report false.
func (s *Scheduler) Trigger(id string, now time.Time) (bool, error) {
	if _, done := s.executed[id]; done {
		return false, nil
	}
	for _, c := range s.commands {
		if c.ID == id {
			s.run(c, s.Elapsed(now))
			if s.state == running {
				s.disarm()
				s.arm(now)
			}
			return true, nil
		}
	}
	return false, errs.New(errs.InvalidRequest, "unknown command %s", id)
}

// Executed returns executed ids in firing order.
func (s *Scheduler) Executed() []string {
	return append([]string(nil), s.order...)
}

// Remaining returns the commands that have not fired, in firing order.
func (s *Scheduler) Remaining() []Command {
	var out []Command
	for _, c := range s.commands {
		if _, done := s.executed[c.ID]; !done {
			out = append(out, c)
		}
	}
	return out
}

// Done reports whether every known command has fired.
func (s *Scheduler) Done() bool {
	return len(s.executed) == len(s.commands)
}

func (s *Scheduler) nextDue(elapsed time.Duration) (Command, bool) {
	for _, c := range s.commands {
		if c.Offset > elapsed {
			return Command{}, false
		}
		if _, done := s.executed[c.ID]; !done {
			return c, true
		}
	}
	return Command{}, false
}

func (s *Scheduler) run(c Command, elapsed time.Duration) {
	s.markExecuted(c.ID)
	log := s.logger.With(zap.String("command", c.ID), zap.String("type", c.Action.Type()))

	if err := s.precondition(c); err != nil {
		log.Info("command skipped", zap.Error(err))
		s.report(Result{Command: c, Outcome: Skipped, Err: err, Elapsed: elapsed})
		return
	}
	if err := s.execute(c); err != nil {
		log.Warn("command failed", zap.Error(err))
		s.report(Result{Command: c, Outcome: Failed, Err: err, Elapsed: elapsed})
		return
	}
	s.addDerived(c, elapsed)
	log.Debug("command executed", zap.Duration("elapsed", elapsed))
	s.report(Result{Command: c, Outcome: Executed, Elapsed: elapsed})
}

func (s *Scheduler) precondition(c Command) error {
	if c.MinParticipants > 0 {
		if n := s.handler.ParticipantCount(c.TargetRole); n < c.MinParticipants {
			return errs.New(errs.PreconditionUnmet, "needs %d participants, have %d", c.MinParticipants, n)
		}
	}
	if c.RequireMarketOpen != nil {
		if open := s.handler.AnyMarketOpen(); open != *c.RequireMarketOpen {
			return errs.New(errs.PreconditionUnmet, "requires market open=%t", *c.RequireMarketOpen)
		}
	}
	return nil
}

func (s *Scheduler) execute(c Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.New(errs.CommandFailed, "panic: %v", r)
		}
	}()
	if err := s.handler.Execute(c); err != nil {
		if errs.CodeOf(err) == "" {
			return errs.Wrap(errs.CommandFailed, err, "command %s", c.ID)
		}
		return err
	}
	return nil
}

func (s *Scheduler) markExecuted(id string) {
	s.executed[id] = struct{}{}
	s.order = append(s.order, id)
}

// addDerived schedules a scenario's children. A scenario triggered early
// starts its timeline at that moment; one that fired late keeps its own offset.
func (s *Scheduler) addDerived(parent Command, elapsed time.Duration) {
	derived := expand(parent, min(parent.Offset, elapsed))
	if len(derived) == 0 {
		return
	}
	known := make(map[string]struct{}, len(s.commands))
	for _, c := range s.commands {
		known[c.ID] = struct{}{}
	}
	for _, c := range derived {
		if _, dup := known[c.ID]; dup {
			continue
		}
		s.commands = append(s.commands, c)
	}
	sort.SliceStable(s.commands, func(i, j int) bool { return s.commands[i].Offset < s.commands[j].Offset })
}

func (s *Scheduler) arm(now time.Time) {
	var next *Command
	for i := range s.commands {
		if _, done := s.executed[s.commands[i].ID]; !done {
			next = &s.commands[i]
			break
		}
	}
	if next == nil {
		return
	}
	wait := next.Offset - s.Elapsed(now)
	if wait < 0 {
		wait = 0
	}
	s.gen++
	gen := s.gen
	s.timer = s.clock.AfterFunc(wait, func() {
		s.post(func() {
			if gen != s.gen {
				return
			}
			s.Fire(s.clock.Now())
		})
	})
}

func (s *Scheduler) disarm() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// String is used in log lines.
func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s %s at %s: %v", r.Command.ID, r.Outcome, r.Elapsed, r.Err)
	}
	return fmt.Sprintf("%s %s at %s", r.Command.ID, r.Outcome, r.Elapsed)
}
