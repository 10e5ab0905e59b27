package main

import (
	"time"

	"github.com/shopspring/decimal"

	"tradingfloor/auction"
	"tradingfloor/engine"
	"tradingfloor/session"
)

type sessionView struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Status           string            `json:"status"`
	StartTime        *time.Time        `json:"startTime,omitempty"`
	ElapsedMs        int64             `json:"elapsedMs"`
	CurrentTick      int64             `json:"currentTick"`
	MarketOpen       map[string]bool   `json:"marketOpen"`
	Participants     []participantView `json:"participants"`
	Auctions         []auctionView     `json:"auctions"`
	Stats            []statsView       `json:"stats"`
	Agents           []agentView       `json:"agents"`
	ExecutedCommands []string          `json:"executedCommands"`
	PendingCommands  int               `json:"pendingCommands"`
	LastEventSeq     int64             `json:"lastEventSeq"`
	PriceScale       int               `json:"priceScale"`
}

type participantView struct {
	UserID     string           `json:"userId"`
	Role       string           `json:"role"`
	Privileges []int            `json:"privileges"`
	Connected  bool             `json:"connected"`
	Position   map[string]int64 `json:"position"`
}

type bidView struct {
	UserID   string          `json:"userId"`
	Amount   decimal.Decimal `json:"amount"`
	PlacedAt time.Time       `json:"placedAt"`
}

type auctionView struct {
	ID            string          `json:"id"`
	PrivilegeCode int             `json:"privilegeCode"`
	Status        string          `json:"status"`
	StartTime     time.Time       `json:"startTime"`
	EndTime       time.Time       `json:"endTime"`
	MinBid        decimal.Decimal `json:"minBid"`
	Bids          []bidView       `json:"bids"`
	WinnerID      string          `json:"winnerId,omitempty"`
	WinningBid    decimal.Decimal `json:"winningBid"`
}

type statsView struct {
	Symbol     string          `json:"symbol"`
	Open       decimal.Decimal `json:"open"`
	Last       decimal.Decimal `json:"last"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Volume     int64           `json:"volume"`
	TradeCount int64           `json:"tradeCount"`
}

type agentView struct {
	Name     string          `json:"name"`
	Active   bool            `json:"active"`
	Position int64           `json:"position"`
	Cash     decimal.Decimal `json:"cash"`
}

type orderView struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"ownerId"`
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	Type         string          `json:"type"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int64           `json:"quantity"`
	Filled       int64           `json:"filled"`
	Remaining    int64           `json:"remaining"`
	AvgFillPrice decimal.Decimal `json:"avgFillPrice"`
	Status       string          `json:"status"`
	SubmittedAt  time.Time       `json:"submittedAt"`
}

type tradeView struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int64           `json:"quantity"`
	BuyOrderID  string          `json:"buyOrderId"`
	SellOrderID string          `json:"sellOrderId"`
	ExecutedAt  time.Time       `json:"executedAt"`
}

type orderResultView struct {
	Order  orderView   `json:"order"`
	Trades []tradeView `json:"trades"`
}

type levelView struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Orders   int             `json:"orders"`
}

type bookView struct {
	Symbol        string      `json:"symbol"`
	Bids          []levelView `json:"bids"`
	Asks          []levelView `json:"asks"`
	MarketBuyQty  int64       `json:"marketBuyQty"`
	MarketSellQty int64       `json:"marketSellQty"`
	Stats         statsView   `json:"stats"`
	Timestamp     time.Time   `json:"timestamp"`
}

func toSessionView(s session.Snapshot) sessionView {
	v := sessionView{
		ID:               s.ID,
		Name:             s.Name,
		Status:           s.Status.String(),
		ElapsedMs:        s.Elapsed.Milliseconds(),
		CurrentTick:      s.CurrentTick,
		MarketOpen:       s.MarketOpen,
		ExecutedCommands: s.ExecutedCommands,
		PendingCommands:  s.PendingCommands,
		LastEventSeq:     s.LastEventSeq,
		PriceScale:       priceScale,
		Participants:     []participantView{},
		Auctions:         []auctionView{},
	}
	if !s.StartTime.IsZero() {
		start := s.StartTime
		v.StartTime = &start
	}
	for _, p := range s.Participants {
		v.Participants = append(v.Participants, toParticipantView(p))
	}
	for _, a := range s.Auctions {
		v.Auctions = append(v.Auctions, toAuctionView(a))
	}
	for _, st := range s.Stats {
		v.Stats = append(v.Stats, toStatsView(st))
	}
	for _, a := range s.Agents {
		v.Agents = append(v.Agents, agentView{Name: a.Name, Active: a.Active, Position: a.Position, Cash: fromUnits(a.Cash)})
	}
	return v
}

func toParticipantView(p session.Participant) participantView {
	return participantView{
		UserID:     p.UserID,
		Role:       string(p.Role),
		Privileges: p.Privileges.Codes(),
		Connected:  p.Connected,
		Position:   p.Position,
	}
}

func toAuctionView(a auction.Auction) auctionView {
	v := auctionView{
		ID:            a.ID,
		PrivilegeCode: a.PrivilegeCode,
		Status:        a.Status.String(),
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		MinBid:        fromUnits(a.MinBid),
		WinnerID:      a.WinnerID,
		WinningBid:    fromUnits(a.WinningBid),
		Bids:          []bidView{},
	}
	for _, b := range a.Bids {
		v.Bids = append(v.Bids, bidView{UserID: b.UserID, Amount: fromUnits(b.Amount), PlacedAt: b.PlacedAt})
	}
	return v
}

func toStatsView(s engine.Stats) statsView {
	return statsView{
		Symbol:     s.Symbol,
		Open:       fromUnits(s.Open),
		Last:       fromUnits(s.LastPrice),
		High:       fromUnits(s.High),
		Low:        fromUnits(s.Low),
		Volume:     s.Volume,
		TradeCount: s.TradeCount,
	}
}

func toOrderView(o engine.Order) orderView {
	return orderView{
		ID:           o.ID,
		OwnerID:      o.OwnerID,
		Symbol:       o.Symbol,
		Side:         o.Side.String(),
		Type:         o.Kind.String(),
		Price:        fromUnits(o.Price),
		Quantity:     o.Quantity,
		Filled:       o.Filled,
		Remaining:    o.Remaining(),
		AvgFillPrice: decimal.NewFromFloat(o.AvgFillPrice).Shift(-priceScale),
		Status:       o.Status.String(),
		SubmittedAt:  o.SubmittedAt,
	}
}

func toOrderResultView(res engine.OrderResult) orderResultView {
	v := orderResultView{Order: toOrderView(res.Order), Trades: []tradeView{}}
	for _, t := range res.Trades {
		v.Trades = append(v.Trades, tradeView{
			ID:          t.ID,
			Symbol:      t.Symbol,
			Price:       fromUnits(t.Price),
			Quantity:    t.Quantity,
			BuyOrderID:  t.BuyOrderID,
			SellOrderID: t.SellOrderID,
			ExecutedAt:  t.Timestamp,
		})
	}
	return v
}

func toBookView(b engine.BookSnapshot) bookView {
	v := bookView{
		Symbol:        b.Symbol,
		Bids:          []levelView{},
		Asks:          []levelView{},
		MarketBuyQty:  b.MarketBuyQty,
		MarketSellQty: b.MarketSellQty,
		Stats:         toStatsView(b.Stats),
		Timestamp:     b.Timestamp,
	}
	for _, l := range b.Bids {
		v.Bids = append(v.Bids, levelView{Price: fromUnits(l.Price), Quantity: l.Quantity, Orders: l.Orders})
	}
	for _, l := range b.Asks {
		v.Asks = append(v.Asks, levelView{Price: fromUnits(l.Price), Quantity: l.Quantity, Orders: l.Orders})
	}
	return v
}
