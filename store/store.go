// Package store persists what a session must not lose: trades, orders that
// reached a terminal state, and privilege grants. Stores are fed from the
// event stream and never sit on the matching path.
package store

import (
	"context"
	"time"
)

type TradeRecord struct {
	SessionID   string    `json:"sessionId"`
	TradeID     string    `json:"tradeId"`
	Symbol      string    `json:"symbol"`
	Price       int64     `json:"price"`
	Quantity    int64     `json:"quantity"`
	BuyOrderID  string    `json:"buyOrderId"`
	SellOrderID string    `json:"sellOrderId"`
	BuyerID     string    `json:"buyerId"`
	SellerID    string    `json:"sellerId"`
	ExecutedAt  time.Time `json:"executedAt"`
}

type OrderRecord struct {
	SessionID string    `json:"sessionId"`
	OrderID   string    `json:"orderId"`
	OwnerID   string    `json:"ownerId"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Price     int64     `json:"price"`
	Quantity  int64     `json:"quantity"`
	Filled    int64     `json:"filled"`
	Agent     bool      `json:"agent"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GrantRecord is one privilege change. Seq is the event sequence that
// produced it, so replays of the same event are idempotent.
type GrantRecord struct {
	SessionID string    `json:"sessionId"`
	Seq       int64     `json:"seq"`
	UserID    string    `json:"userId"`
	Code      int       `json:"code"`
	Granted   bool      `json:"granted"`
	Source    string    `json:"source"`
	At        time.Time `json:"at"`
}

// Store is the persistence collaborator. Every Save is an idempotent upsert
// keyed by the record's natural id.
type Store interface {
	SaveTrade(ctx context.Context, t TradeRecord) error
	SaveOrder(ctx context.Context, o OrderRecord) error
	SaveGrant(ctx context.Context, g GrantRecord) error
	Trades(ctx context.Context, sessionID string) ([]TradeRecord, error)
	Orders(ctx context.Context, sessionID string) ([]OrderRecord, error)
	Grants(ctx context.Context, sessionID string) ([]GrantRecord, error)
	Close() error
}
