package scheduler

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"tradingfloor/clock"
	"tradingfloor/errs"
)

var t0 = time.Unix(1_700_000_000, 0)

type fakeHandler struct {
	clk          *clock.Manual
	start        time.Time
	participants int
	marketOpen   bool
	fail         map[string]error
	panics       map[string]bool
	fired        []string
	firedAt      map[string]time.Duration
}

func newFakeHandler(clk *clock.Manual) *fakeHandler {
	return &fakeHandler{clk: clk, start: clk.Now(), firedAt: make(map[string]time.Duration)}
}

func (h *fakeHandler) ParticipantCount(string) int { return h.participants }
func (h *fakeHandler) AnyMarketOpen() bool         { return h.marketOpen }

func (h *fakeHandler) Execute(c Command) error {
	h.fired = append(h.fired, c.ID)
	h.firedAt[c.ID] = h.clk.Now().Sub(h.start)
	if h.panics[c.ID] {
		panic("boom")
	}
	return h.fail[c.ID]
}

func at(id string, offset time.Duration) Command {
	return Command{ID: id, Offset: offset, Action: InjectNews{Headline: id}}
}

func newScheduler(t *testing.T, h *fakeHandler, cmds []Command, results *[]Result) *Scheduler {
	t.Helper()
	s, err := New(cmds, h, h.clk, zap.NewNop(), WithReport(func(r Result) { *results = append(*results, r) }))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s
}

func TestPauseShiftsRemainingCommands(t *testing.T) {
	clk := clock.NewManual(t0)
	h := newFakeHandler(clk)
	var results []Result
	s := newScheduler(t, h, []Command{at("early", 10*time.Second), at("late", 45*time.Second)}, &results)

	s.Start(clk.Now())
	clk.Advance(30 * time.Second)
	if len(h.fired) != 1 || h.fired[0] != "early" {
		t.Fatalf("expected only early to fire, got %v", h.fired)
	}

	s.Pause(clk.Now())
	if clk.Pending() != 0 {
		t.Fatalf("pause must disarm the timer")
	}
	clk.Advance(2 * time.Minute)
	if len(h.fired) != 1 {
		t.Fatalf("nothing may fire while paused, got %v", h.fired)
	}

	s.Resume(clk.Now())
	resumedAt := clk.Now()
	clk.Advance(14 * time.Second)
	if len(h.fired) != 1 {
		t.Fatalf("late fired too early")
	}
	clk.Advance(time.Second)
	if len(h.fired) != 2 || h.fired[1] != "late" {
		t.Fatalf("expected late to fire 15s after resume, got %v", h.fired)
	}
	if got := clk.Now().Sub(resumedAt); got != 15*time.Second {
		t.Fatalf("late fired %s after resume", got)
	}
	if got := s.Elapsed(clk.Now()); got != 45*time.Second {
		t.Fatalf("elapsed = %s, want 45s", got)
	}
	if !s.Done() {
		t.Fatalf("scheduler should be done")
	}
}

func TestRepeatedPauseResumeFiresEachCommandOnce(t *testing.T) {
	clk := clock.NewManual(t0)
	h := newFakeHandler(clk)
	var results []Result
	cmds := []Command{at("a", 5*time.Second), at("b", 10*time.Second), at("c", 10*time.Second), at("d", 20*time.Second)}
	s := newScheduler(t, h, cmds, &results)

	s.Start(clk.Now())
	for i := 0; i < 10; i++ {
		clk.Advance(3 * time.Second)
		s.Pause(clk.Now())
		clk.Advance(7 * time.Second)
		s.Resume(clk.Now())
	}

	want := []string{"a", "b", "c", "d"}
	if len(h.fired) != len(want) {
		t.Fatalf("fired %v, want %v", h.fired, want)
	}
	for i := range want {
		if h.fired[i] != want[i] {
			t.Fatalf("fired %v, want %v", h.fired, want)
		}
	}
	if len(s.Executed()) != 4 || len(s.Remaining()) != 0 {
		t.Fatalf("executed=%v remaining=%v", s.Executed(), s.Remaining())
	}
}

func TestDueWhilePausedFiresOnResume(t *testing.T) {
	clk := clock.NewManual(t0)
	h := newFakeHandler(clk)
	var results []Result
	s := newScheduler(t, h, []Command{at("x", 10*time.Second)}, &results)

	s.Start(clk.Now())
	clk.Advance(9 * time.Second)
	s.Pause(clk.Now())
	// Fire while paused is ignored.
	s.Fire(clk.Now().Add(time.Hour))
	if len(h.fired) != 0 {
		t.Fatalf("fired while paused")
	}
	s.Resume(clk.Now())
	clk.Advance(time.Second)
	if len(h.fired) != 1 {
		t.Fatalf("expected x to fire once resumed elapsed reached 10s")
	}
}

func TestPreconditionsSkipAndMarkExecuted(t *testing.T) {
	clk := clock.NewManual(t0)
	h := newFakeHandler(clk)
	h.participants = 1
	open := true
	var results []Result
	cmds := []Command{
		{ID: "needs-two", Offset: time.Second, Action: OpenMarket{}, MinParticipants: 2},
		{ID: "needs-open", Offset: time.Second, Action: CloseMarket{}, RequireMarketOpen: &open},
		at("plain", 2*time.Second),
	}
	s := newScheduler(t, h, cmds, &results)
	s.Start(clk.Now())
	clk.Advance(5 * time.Second)

	if len(h.fired) != 1 || h.fired[0] != "plain" {
		t.Fatalf("only plain should reach the handler, got %v", h.fired)
	}
	if len(results) != 3 || results[0].Outcome != Skipped || results[1].Outcome != Skipped || results[2].Outcome != Executed {
		t.Fatalf("unexpected results %v", results)
	}
	if !errs.HasCode(results[0].Err, errs.PreconditionUnmet) {
		t.Fatalf("skip should carry PreconditionUnmet, got %v", results[0].Err)
	}
	if !s.Done() {
		t.Fatalf("skipped commands count as executed")
	}
}

func TestHandlerErrorAndPanicDoNotStopSchedule(t *testing.T) {
	clk := clock.NewManual(t0)
	h := newFakeHandler(clk)
	h.fail = map[string]error{"bad": errors.New("handler broke")}
	h.panics = map[string]bool{"worse": true}
	var results []Result
	s := newScheduler(t, h, []Command{at("bad", time.Second), at("worse", 2*time.Second), at("fine", 3*time.Second)}, &results)

	s.Start(clk.Now())
	clk.Advance(10 * time.Second)

	if len(results) != 3 {
		t.Fatalf("expected three results, got %v", results)
	}
	if results[0].Outcome != Failed || !errs.HasCode(results[0].Err, errs.CommandFailed) {
		t.Fatalf("expected wrapped failure, got %v", results[0])
	}
	if results[1].Outcome != Failed || !errs.HasCode(results[1].Err, errs.CommandFailed) {
		t.Fatalf("expected recovered panic, got %v", results[1])
	}
	if results[2].Outcome != Executed {
		t.Fatalf("schedule should continue after failures, got %v", results[2])
	}
}

func TestTriggerIsIdempotent(t *testing.T) {
	clk := clock.NewManual(t0)
	h := newFakeHandler(clk)
	var results []Result
	s := newScheduler(t, h, []Command{at("once", time.Minute)}, &results)
	s.Start(clk.Now())

	ran, err := s.Trigger("once", clk.Now())
	if err != nil || !ran {
		t.Fatalf("trigger: ran=%t err=%v", ran, err)
	}
	ran, _ = s.Trigger("once", clk.Now())
	if ran {
		t.Fatalf("second trigger must be a no-op")
	}
	clk.Advance(2 * time.Minute)
	if len(h.fired) != 1 {
		t.Fatalf("command fired %d times", len(h.fired))
	}
	if _, err := s.Trigger("nope", clk.Now()); !errs.HasCode(err, errs.InvalidRequest) {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestScenarioExpandsChildrenAndEndCommands(t *testing.T) {
	clk := clock.NewManual(t0)
	h := newFakeHandler(clk)
	var results []Result
	scenario := Command{
		ID:     "crash",
		Offset: 10 * time.Second,
		Action: StartScenario{
			Name:        "flash crash",
			Duration:    30 * time.Second,
			Commands:    []Command{at("drop", 5*time.Second), at("news", 0)},
			EndCommands: []Command{at("recover", 0)},
		},
	}
	s := newScheduler(t, h, []Command{scenario, at("after", 20*time.Second)}, &results)
	s.Start(clk.Now())
	clk.Advance(time.Minute)

	want := map[string]time.Duration{
		"crash":             10 * time.Second,
		"crash/news":        10 * time.Second,
		"crash/drop":        15 * time.Second,
		"after":             20 * time.Second,
		"crash/end/recover": 40 * time.Second,
	}
	if len(h.fired) != len(want) {
		t.Fatalf("fired %v", h.fired)
	}
	for id, off := range want {
		if got, ok := h.firedAt[id]; !ok || got != off {
			t.Fatalf("%s fired at %s (present=%t), want %s", id, got, ok, off)
		}
	}
}

func TestTriggeredScenarioRunsFromTriggerTime(t *testing.T) {
	clk := clock.NewManual(t0)
	h := newFakeHandler(clk)
	var results []Result
	scenario := Command{
		ID:     "crash",
		Offset: 100 * time.Second,
		Action: StartScenario{
			Name:        "flash crash",
			Duration:    30 * time.Second,
			Commands:    []Command{at("drop", 5*time.Second)},
			EndCommands: []Command{at("recover", 0)},
		},
	}
	s := newScheduler(t, h, []Command{scenario}, &results)
	s.Start(clk.Now())
	clk.Advance(10 * time.Second)
	if fired, err := s.Trigger("crash", clk.Now()); err != nil || !fired {
		t.Fatalf("trigger: fired=%t err=%v", fired, err)
	}
	clk.Advance(3 * time.Minute)

	want := map[string]time.Duration{
		"crash":             10 * time.Second,
		"crash/drop":        15 * time.Second,
		"crash/end/recover": 40 * time.Second,
	}
	if len(h.fired) != len(want) {
		t.Fatalf("fired %v", h.fired)
	}
	for id, off := range want {
		if got := h.firedAt[id]; got != off {
			t.Fatalf("%s fired at %s, want %s", id, got, off)
		}
	}
}

func TestNewRejectsBadCommands(t *testing.T) {
	clk := clock.NewManual(t0)
	h := newFakeHandler(clk)
	cases := [][]Command{
		{{Offset: time.Second, Action: OpenMarket{}}},
		{{ID: "a", Offset: time.Second}},
		{{ID: "a", Offset: -time.Second, Action: OpenMarket{}}},
		{at("a", 0), at("a", time.Second)},
	}
	for i, cmds := range cases {
		if _, err := New(cmds, h, clk, nil); !errs.HasCode(err, errs.InvalidRequest) {
			t.Fatalf("case %d: expected InvalidRequest, got %v", i, err)
		}
	}
}

func TestStopDisarms(t *testing.T) {
	clk := clock.NewManual(t0)
	h := newFakeHandler(clk)
	var results []Result
	s := newScheduler(t, h, []Command{at("never", time.Second)}, &results)
	s.Start(clk.Now())
	s.Stop()
	clk.Advance(time.Minute)
	if len(h.fired) != 0 || clk.Pending() != 0 {
		t.Fatalf("stopped scheduler fired %v", h.fired)
	}
}
