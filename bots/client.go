package bots

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradingfloor/engine"
)

// ThrottledClient wraps an EngineClient with optional rate limiting, agent
// order ids and ownership bookkeeping for PnL tracking.
type ThrottledClient struct {
	inner    EngineClient
	throttle <-chan time.Time
	mu       sync.Mutex
	orderSeq int64
	owned    map[string]string // order id -> agent name
}

// NewThrottledClient wraps inner. A nil throttle disables rate limiting.
func NewThrottledClient(inner EngineClient, throttle <-chan time.Time) *ThrottledClient {
	return &ThrottledClient{
		inner:    inner,
		throttle: throttle,
		owned:    make(map[string]string),
	}
}

func (c *ThrottledClient) waitThrottle(ctx context.Context) error {
	if c.throttle == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.throttle:
		return nil
	}
}

// Submit turns an intent into an agent order and submits it.
func (c *ThrottledClient) Submit(ctx context.Context, agent string, intent OrderIntent, tickSize int64) (engine.OrderResult, error) {
	if err := c.waitThrottle(ctx); err != nil {
		return engine.OrderResult{}, err
	}
	price := intent.LimitPrice
	if intent.Kind == engine.Limit {
		price = roundToTick(price, tickSize)
	}
	order := engine.Order{
		ID:           c.NextID("agent-" + agent),
		Symbol:       intent.Symbol,
		Side:         intent.Side,
		Kind:         intent.Kind,
		Price:        price,
		Quantity:     intent.Quantity,
		IsAgentOrder: true,
	}
	res, err := c.inner.SubmitAgentOrder(ctx, agent, order)
	if err != nil {
		return res, err
	}
	c.mu.Lock()
	c.owned[order.ID] = agent
	c.mu.Unlock()
	return res, nil
}

func (c *ThrottledClient) CancelAll(ctx context.Context, agent, symbol string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return c.inner.CancelAgentOrders(ctx, agent, symbol)
}

func (c *ThrottledClient) Snapshot(ctx context.Context, agent, symbol string) (MarketSnapshot, error) {
	return c.inner.Snapshot(ctx, agent, symbol)
}

func (c *ThrottledClient) AdvanceTick(ctx context.Context) (int64, error) {
	return c.inner.AdvanceTick(ctx)
}

// NextID returns ids of the form <prefix>-<n>.
func (c *ThrottledClient) NextID(prefix string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orderSeq++
	return fmt.Sprintf("%s-%d", prefix, c.orderSeq)
}

// OwnerOf reports which agent submitted an order.
func (c *ThrottledClient) OwnerOf(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name, ok := c.owned[id]
	return name, ok
}
