// Package events is the outbound model of a session: every state change the
// session commits is appended to a per-session log and handed to sinks
// (websocket hubs, Kafka, persistence) off the session's critical path.
package events

import (
	"time"

	"tradingfloor/engine"
)

// Kind names an event on the wire.
type Kind string

const (
	Trade            Kind = "trade"
	OrderUpdate      Kind = "order_update"
	MarketOpen       Kind = "market_open"
	MarketClose      Kind = "market_close"
	PrivilegeGranted Kind = "privilege_granted"
	PrivilegeRevoked Kind = "privilege_revoked"
	AuctionStarted   Kind = "auction_started"
	AuctionBid       Kind = "auction_bid"
	AuctionCompleted Kind = "auction_completed"
	AuctionCancelled Kind = "auction_cancelled"
	CommandExecuted  Kind = "command_executed"
	CommandSkipped   Kind = "command_skipped"
	CommandError     Kind = "command_error"
	News             Kind = "news"
	PriceInjected    Kind = "price_injected"
	SessionStatus    Kind = "session_status"
	ParticipantJoin  Kind = "participant_joined"
	ParticipantLeave Kind = "participant_left"
	AgentToggled     Kind = "agent_toggled"
)

// Event is one committed change. Seq is dense and starts at 1 per session.
type Event struct {
	Seq       int64     `json:"seq"`
	SessionID string    `json:"sessionId"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

type TradePayload struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Price       int64     `json:"price"`
	Quantity    int64     `json:"quantity"`
	BuyOrderID  string    `json:"buyOrderId"`
	SellOrderID string    `json:"sellOrderId"`
	BuyerID     string    `json:"buyerId"`
	SellerID    string    `json:"sellerId"`
	ExecutedAt  time.Time `json:"executedAt"`
}

// TradeFrom converts an engine trade to its wire form.
func TradeFrom(t engine.Trade) TradePayload {
	return TradePayload{
		ID:          t.ID,
		Symbol:      t.Symbol,
		Price:       t.Price,
		Quantity:    t.Quantity,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		BuyerID:     t.BuyerID,
		SellerID:    t.SellerID,
		ExecutedAt:  t.Timestamp,
	}
}

type OrderPayload struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"ownerId"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	Type         string    `json:"type"`
	Price        int64     `json:"price"`
	Quantity     int64     `json:"quantity"`
	Filled       int64     `json:"filled"`
	Remaining    int64     `json:"remaining"`
	AvgFillPrice float64   `json:"avgFillPrice"`
	Status       string    `json:"status"`
	Agent        bool      `json:"agent"`
	SubmittedAt  time.Time `json:"submittedAt"`
}

// OrderFrom converts an engine order to its wire form.
func OrderFrom(o engine.Order) OrderPayload {
	return OrderPayload{
		ID:           o.ID,
		OwnerID:      o.OwnerID,
		Symbol:       o.Symbol,
		Side:         o.Side.String(),
		Type:         o.Kind.String(),
		Price:        o.Price,
		Quantity:     o.Quantity,
		Filled:       o.Filled,
		Remaining:    o.Remaining(),
		AvgFillPrice: o.AvgFillPrice,
		Status:       o.Status.String(),
		Agent:        o.IsAgentOrder,
		SubmittedAt:  o.SubmittedAt,
	}
}

type MarketPayload struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason,omitempty"`
}

type PrivilegePayload struct {
	UserID string `json:"userId"`
	Code   int    `json:"code"`
	Source string `json:"source"`
}

type AuctionPayload struct {
	AuctionID     string    `json:"auctionId"`
	PrivilegeCode int       `json:"privilegeCode"`
	EndTime       time.Time `json:"endTime"`
	MinBid        int64     `json:"minBid"`
	LeaderID      string    `json:"leaderId,omitempty"`
	LeadingBid    int64     `json:"leadingBid,omitempty"`
	WinnerID      string    `json:"winnerId,omitempty"`
	WinningBid    int64     `json:"winningBid,omitempty"`
	BidCount      int       `json:"bidCount"`
}

type CommandPayload struct {
	CommandID string        `json:"commandId"`
	Type      string        `json:"type"`
	Elapsed   time.Duration `json:"elapsedNs"`
	Reason    string        `json:"reason,omitempty"`
}

type NewsPayload struct {
	Headline  string `json:"headline"`
	Body      string `json:"body,omitempty"`
	Symbol    string `json:"symbol,omitempty"`
	ImpactBps int64  `json:"impactBps,omitempty"`
}

type PricePayload struct {
	Symbol   string `json:"symbol"`
	Previous int64  `json:"previous"`
	Price    int64  `json:"price"`
}

type StatusPayload struct {
	Status  string        `json:"status"`
	Elapsed time.Duration `json:"elapsedNs"`
}

type ParticipantPayload struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

type AgentPayload struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// NewPayload returns a pointer to the zero payload carried by kind, for
// decoding events read back from the wire. Unknown kinds decode into a map.
func NewPayload(kind Kind) any {
	switch kind {
	case Trade:
		return &TradePayload{}
	case OrderUpdate:
		return &OrderPayload{}
	case MarketOpen, MarketClose:
		return &MarketPayload{}
	case PrivilegeGranted, PrivilegeRevoked:
		return &PrivilegePayload{}
	case AuctionStarted, AuctionBid, AuctionCompleted, AuctionCancelled:
		return &AuctionPayload{}
	case CommandExecuted, CommandSkipped, CommandError:
		return &CommandPayload{}
	case News:
		return &NewsPayload{}
	case PriceInjected:
		return &PricePayload{}
	case SessionStatus:
		return &StatusPayload{}
	case ParticipantJoin, ParticipantLeave:
		return &ParticipantPayload{}
	case AgentToggled:
		return &AgentPayload{}
	default:
		return &map[string]any{}
	}
}
