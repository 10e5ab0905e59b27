package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"tradingfloor/engine"
)

var t0 = time.Unix(1_700_000_000, 0)

func TestLogSequencesAndSince(t *testing.T) {
	l := NewLog("s1")
	for i := 0; i < 5; i++ {
		e := l.Append(News, t0, NewsPayload{Headline: "h"})
		if e.Seq != int64(i+1) || e.SessionID != "s1" {
			t.Fatalf("unexpected event %+v", e)
		}
	}
	got := l.Since(3)
	if len(got) != 2 || got[0].Seq != 4 || got[1].Seq != 5 {
		t.Fatalf("since(3) = %+v", got)
	}
	if l.Since(5) != nil || len(l.Since(-1)) != 5 {
		t.Fatalf("unexpected since bounds")
	}
	if last, ok := l.Last(); !ok || last.Seq != 5 {
		t.Fatalf("last = %+v", last)
	}
}

func TestHubBroadcastAndUnsubscribe(t *testing.T) {
	h := NewHub[int]()
	a := h.Subscribe(1)
	b := h.Subscribe(1)
	h.Broadcast(7)
	if v := <-a.C; v != 7 {
		t.Fatalf("a got %d", v)
	}
	if v := <-b.C; v != 7 {
		t.Fatalf("b got %d", v)
	}

	// Full buffers drop rather than block.
	h.Broadcast(1)
	h.Broadcast(2)
	if v := <-a.C; v != 1 {
		t.Fatalf("expected first value to survive, got %d", v)
	}

	h.Unsubscribe(a)
	h.Unsubscribe(a)
	if _, ok := <-a.C; ok {
		t.Fatalf("unsubscribed channel should be closed")
	}
	if h.Len() != 1 {
		t.Fatalf("expected one subscriber left")
	}
	h.Close()
	for range b.C {
	}
}

type recordingSink struct {
	mu   sync.Mutex
	seqs []int64
	fail bool
}

func (r *recordingSink) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs = append(r.seqs, e.Seq)
	if r.fail {
		return errors.New("broker down")
	}
	return nil
}

func TestDispatcherDeliversInOrderAndSurvivesFailures(t *testing.T) {
	good := &recordingSink{}
	bad := &recordingSink{fail: true}
	panicky := SinkFunc(func(context.Context, Event) error { panic("sink bug") })
	d := NewDispatcher(16, zap.NewNop(), bad, panicky, good)

	l := NewLog("s1")
	for i := 0; i < 10; i++ {
		if !d.Offer(l.Append(Trade, t0, nil)) {
			t.Fatalf("offer %d rejected", i)
		}
	}
	d.Close()

	if len(good.seqs) != 10 || len(bad.seqs) != 10 {
		t.Fatalf("good=%v bad=%v", good.seqs, bad.seqs)
	}
	for i, s := range good.seqs {
		if s != int64(i+1) {
			t.Fatalf("out of order delivery %v", good.seqs)
		}
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	blocking := SinkFunc(func(context.Context, Event) error {
		<-release
		return nil
	})
	d := NewDispatcher(1, zap.NewNop(), blocking)

	l := NewLog("s1")
	// The first event may be taken by the worker, the second fills the
	// buffer; keep offering until one is dropped.
	dropped := false
	for i := 0; i < 5; i++ {
		if !d.Offer(l.Append(Trade, t0, nil)) {
			dropped = true
			break
		}
	}
	close(release)
	d.Close()
	if !dropped || d.Dropped() == 0 {
		t.Fatalf("expected a dropped event")
	}
}

func TestPayloadConversions(t *testing.T) {
	trade := engine.Trade{ID: "t", Symbol: "ACME", Price: 50, Quantity: 3, BuyerID: "b", SellerID: "s", Timestamp: t0}
	if p := TradeFrom(trade); p.Price != 50 || p.BuyerID != "b" || !p.ExecutedAt.Equal(t0) {
		t.Fatalf("unexpected trade payload %+v", p)
	}
	order := engine.Order{ID: "o", Side: engine.Sell, Kind: engine.Market, Quantity: 10, Filled: 4, Status: engine.Partial}
	p := OrderFrom(order)
	if p.Remaining != 6 || p.Side != engine.Sell.String() || p.Status != engine.Partial.String() {
		t.Fatalf("unexpected order payload %+v", p)
	}
}

func TestHubAsSink(t *testing.T) {
	h := NewHub[Event]()
	sub := h.Subscribe(4)
	var s Sink = h
	if err := s.Publish(context.Background(), Event{Seq: 9}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if e := <-sub.C; e.Seq != 9 {
		t.Fatalf("got %+v", e)
	}
}
