package store

import (
	"context"

	"go.uber.org/zap"

	"tradingfloor/engine"
	"tradingfloor/errs"
	"tradingfloor/events"
)

// Sink persists the durable subset of a session's events. It is registered
// as an events.Sink, so writes happen on the dispatcher goroutine and a slow
// or failing store never blocks matching.
type Sink struct {
	store  Store
	logger *zap.Logger
}

func NewSink(s Store, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{store: s, logger: logger}
}

// Publish writes trades, terminal order updates and privilege changes. Other
// kinds are ignored.
func (s *Sink) Publish(ctx context.Context, e events.Event) error {
	var err error
	switch e.Kind {
	case events.Trade:
		p, ok := payloadAs[events.TradePayload](e.Payload)
		if !ok {
			return nil
		}
		err = s.store.SaveTrade(ctx, TradeRecord{
			SessionID:   e.SessionID,
			TradeID:     p.ID,
			Symbol:      p.Symbol,
			Price:       p.Price,
			Quantity:    p.Quantity,
			BuyOrderID:  p.BuyOrderID,
			SellOrderID: p.SellOrderID,
			BuyerID:     p.BuyerID,
			SellerID:    p.SellerID,
			ExecutedAt:  p.ExecutedAt,
		})
	case events.OrderUpdate:
		p, ok := payloadAs[events.OrderPayload](e.Payload)
		if !ok || !terminal(p.Status) {
			return nil
		}
		err = s.store.SaveOrder(ctx, OrderRecord{
			SessionID: e.SessionID,
			OrderID:   p.ID,
			OwnerID:   p.OwnerID,
			Symbol:    p.Symbol,
			Side:      p.Side,
			Type:      p.Type,
			Status:    p.Status,
			Price:     p.Price,
			Quantity:  p.Quantity,
			Filled:    p.Filled,
			Agent:     p.Agent,
			UpdatedAt: e.Timestamp,
		})
	case events.PrivilegeGranted, events.PrivilegeRevoked:
		p, ok := payloadAs[events.PrivilegePayload](e.Payload)
		if !ok {
			return nil
		}
		err = s.store.SaveGrant(ctx, GrantRecord{
			SessionID: e.SessionID,
			Seq:       e.Seq,
			UserID:    p.UserID,
			Code:      p.Code,
			Granted:   e.Kind == events.PrivilegeGranted,
			Source:    p.Source,
			At:        e.Timestamp,
		})
	default:
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.StoreFailed, err, "persist %s #%d", e.Kind, e.Seq)
	}
	return nil
}

func terminal(status string) bool {
	return status == engine.Filled.String() || status == engine.Cancelled.String()
}

// payloadAs accepts both in-process values and the pointers produced by
// events.NewPayload when decoding.
func payloadAs[T any](p any) (T, bool) {
	switch v := p.(type) {
	case T:
		return v, true
	case *T:
		if v != nil {
			return *v, true
		}
	}
	var zero T
	return zero, false
}
