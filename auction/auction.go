// Package auction runs timed ascending-bid auctions for privilege codes.
//
// A Manager is not safe for concurrent use: the owning session serializes
// every call, including deadline expiry.
package auction

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"tradingfloor/errs"
)

// Status tracks an auction through its lifecycle.
type Status int

const (
	Active Status = iota
	Completed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case Completed:
		return "COMPLETED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Bid is one accepted offer.
type Bid struct {
	UserID   string
	Amount   int64
	PlacedAt time.Time
}

// Auction is a timed ascending auction for one privilege code.
type Auction struct {
	ID            string
	SessionID     string
	PrivilegeCode int
	StartTime     time.Time
	EndTime       time.Time
	MinBid        int64
	Bids          []Bid // highest first
	Status        Status
	WinnerID      string
	WinningBid    int64
}

// Leader returns the current highest bid.
func (a *Auction) Leader() (Bid, bool) {
	if len(a.Bids) == 0 {
		return Bid{}, false
	}
	return a.Bids[0], true
}

func (a *Auction) clone() Auction {
	out := *a
	out.Bids = append([]Bid(nil), a.Bids...)
	return out
}

// Rejection records a bidder passed over at completion because the grant failed.
type Rejection struct {
	UserID string
	Amount int64
	Err    error
}

// Outcome is the result of an expiry attempt.
type Outcome struct {
	Auction  Auction
	Changed  bool // false when the auction was already closed
	Rejected []Rejection
}

// Manager owns every auction of one session.
type Manager struct {
	sessionID string
	auctions  map[string]*Auction
	order     []string
	newID     func() string
}

// NewManager returns an empty manager for sessionID.
func NewManager(sessionID string) *Manager {
	return &Manager{
		sessionID: sessionID,
		auctions:  make(map[string]*Auction),
		newID:     uuid.NewString,
	}
}

// Create opens an auction that ends at now+duration. The deadline is absolute.
func (m *Manager) Create(code int, minBid int64, duration time.Duration, now time.Time) (Auction, error) {
	if duration <= 0 {
		return Auction{}, errs.New(errs.InvalidRequest, "auction duration must be positive")
	}
	if minBid < 0 {
		return Auction{}, errs.New(errs.InvalidRequest, "minimum bid cannot be negative")
	}
	a := &Auction{
		ID:            m.newID(),
		SessionID:     m.sessionID,
		PrivilegeCode: code,
		StartTime:     now,
		EndTime:       now.Add(duration),
		MinBid:        minBid,
		Status:        Active,
	}
	m.auctions[a.ID] = a
	m.order = append(m.order, a.ID)
	return a.clone(), nil
}

// PlaceBid accepts a bid if the auction is open, the amount clears the
// minimum, and it strictly exceeds both the bidder's previous bid and the
// current leader.
func (m *Manager) PlaceBid(id, userID string, amount int64, now time.Time) (Auction, error) {
	a, ok := m.auctions[id]
	if !ok {
		return Auction{}, errs.New(errs.AuctionNotFound, "auction %s not found", id)
	}
	if a.Status != Active || now.After(a.EndTime) {
		return a.clone(), errs.New(errs.AuctionClosed, "auction %s is closed", id)
	}
	if userID == "" {
		return a.clone(), errs.New(errs.InvalidRequest, "bidder is required")
	}
	if amount < a.MinBid {
		return a.clone(), errs.New(errs.BidTooLow, "bid %d is below minimum %d", amount, a.MinBid)
	}
	if prev, ok := a.bestOf(userID); ok && amount <= prev {
		return a.clone(), errs.New(errs.BidNotIncreasing, "bid %d must exceed your previous bid %d", amount, prev)
	}
	if lead, ok := a.Leader(); ok && amount <= lead.Amount {
		return a.clone(), errs.New(errs.BidNotIncreasing, "bid %d must exceed the leading bid %d", amount, lead.Amount)
	}

	a.Bids = append(a.Bids, Bid{UserID: userID, Amount: amount, PlacedAt: now})
	sort.SliceStable(a.Bids, func(i, j int) bool { return a.Bids[i].Amount > a.Bids[j].Amount })
	return a.clone(), nil
}

func (a *Auction) bestOf(userID string) (int64, bool) {
	for _, b := range a.Bids {
		if b.UserID == userID {
			return b.Amount, true
		}
	}
	return 0, false
}

// Expire closes an auction whose deadline has passed. The highest bidder the
// grant function accepts wins; bidders it rejects are skipped in favour of the
// next highest. With no bids, or no acceptable bidder, the auction is cancelled.
// Calling Expire on a closed auction changes nothing.
func (m *Manager) Expire(id string, now time.Time, grant func(userID string, code int) error) (Outcome, error) {
	a, ok := m.auctions[id]
	if !ok {
		return Outcome{}, errs.New(errs.AuctionNotFound, "auction %s not found", id)
	}
	if a.Status != Active {
		return Outcome{Auction: a.clone()}, nil
	}
	if now.Before(a.EndTime) {
		return Outcome{Auction: a.clone()}, nil
	}

	var rejected []Rejection
	tried := make(map[string]struct{})
	for _, b := range a.Bids {
		if _, seen := tried[b.UserID]; seen {
			continue
		}
		tried[b.UserID] = struct{}{}
		if err := grant(b.UserID, a.PrivilegeCode); err != nil {
			rejected = append(rejected, Rejection{UserID: b.UserID, Amount: b.Amount, Err: err})
			continue
		}
		a.Status = Completed
		a.WinnerID = b.UserID
		a.WinningBid = b.Amount
		return Outcome{Auction: a.clone(), Changed: true, Rejected: rejected}, nil
	}

	a.Status = Cancelled
	return Outcome{Auction: a.clone(), Changed: true, Rejected: rejected}, nil
}

// Cancel closes an active auction without a winner.
func (m *Manager) Cancel(id string) (Auction, error) {
	a, ok := m.auctions[id]
	if !ok {
		return Auction{}, errs.New(errs.AuctionNotFound, "auction %s not found", id)
	}
	if a.Status != Active {
		return a.clone(), errs.New(errs.AuctionClosed, "auction %s is already %s", id, a.Status)
	}
	a.Status = Cancelled
	return a.clone(), nil
}

// Get returns a copy of an auction.
func (m *Manager) Get(id string) (Auction, bool) {
	a, ok := m.auctions[id]
	if !ok {
		return Auction{}, false
	}
	return a.clone(), true
}

// List returns every auction in creation order.
func (m *Manager) List() []Auction {
	out := make([]Auction, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.auctions[id].clone())
	}
	return out
}

// Active returns the ids of auctions still taking bids.
func (m *Manager) Active() []string {
	var out []string
	for _, id := range m.order {
		if m.auctions[id].Status == Active {
			out = append(out, id)
		}
	}
	return out
}
