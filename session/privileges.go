package session

import (
	"time"

	"go.uber.org/zap"

	"tradingfloor/auction"
	"tradingfloor/errs"
	"tradingfloor/events"
)

// Grant gives userID a privilege code, subject to the lesson's rules.
func (s *Session) Grant(userID string, code int) error {
	var err error
	if cerr := s.post(func() { err = s.grant(userID, code, "manual") }); cerr != nil {
		return cerr
	}
	return err
}

// Revoke removes a privilege code. Revoking a code that is not held is a no-op.
func (s *Session) Revoke(userID string, code int) error {
	var err error
	if cerr := s.post(func() { err = s.revoke(userID, code, "manual") }); cerr != nil {
		return cerr
	}
	return err
}

// HasPrivilege is a pure read of the participant's privilege set.
func (s *Session) HasPrivilege(userID string, code int) (bool, error) {
	var (
		has bool
		err error
	)
	if cerr := s.post(func() {
		p, ok := s.participants[userID]
		if !ok {
			err = errs.New(errs.UnknownParticipant, "participant %s not found", userID)
			return
		}
		has = p.Privileges.Has(code)
	}); cerr != nil {
		return false, cerr
	}
	return has, err
}

func (s *Session) grant(userID string, code int, source string) error {
	p, ok := s.participants[userID]
	if !ok {
		return errs.New(errs.UnknownParticipant, "participant %s not found", userID)
	}
	if err := s.privileges.CheckGrant(p.Privileges, code, s.holders[code]); err != nil {
		return err
	}
	if p.Privileges.Has(code) {
		return nil
	}
	p.Privileges.Add(code)
	s.holders[code]++
	s.emit(events.PrivilegeGranted, events.PrivilegePayload{UserID: userID, Code: code, Source: source})
	return nil
}

func (s *Session) revoke(userID string, code int, source string) error {
	p, ok := s.participants[userID]
	if !ok {
		return errs.New(errs.UnknownParticipant, "participant %s not found", userID)
	}
	if !p.Privileges.Remove(code) {
		return nil
	}
	s.holders[code]--
	s.emit(events.PrivilegeRevoked, events.PrivilegePayload{UserID: userID, Code: code, Source: source})
	return nil
}

// CreateAuction opens a privilege auction on behalf of an instructor.
func (s *Session) CreateAuction(code int, minBid int64, duration time.Duration) (auction.Auction, error) {
	var (
		out auction.Auction
		err error
	)
	if cerr := s.post(func() {
		if s.status == Completed || s.status == Pending {
			err = errs.New(errs.SessionNotActive, "session is %s", s.status)
			return
		}
		out, err = s.createAuction(code, minBid, duration)
	}); cerr != nil {
		return out, cerr
	}
	return out, err
}

func (s *Session) createAuction(code int, minBid int64, duration time.Duration) (auction.Auction, error) {
	if _, ok := s.privileges.Lookup(code); !ok {
		return auction.Auction{}, errs.New(errs.UnknownPrivilege, "privilege %d is not defined for this lesson", code)
	}
	a, err := s.auctions.Create(code, minBid, duration, s.clock.Now())
	if err != nil {
		return a, err
	}
	id := a.ID
	s.auctionTimer[id] = s.clock.AfterFunc(duration, func() {
		_ = s.post(func() { s.expireAuction(id) })
	})
	s.emit(events.AuctionStarted, auctionPayload(a))
	return a, nil
}

// PlaceBid submits a bid. Auction deadlines are wall-clock, so bids are
// accepted while the session is paused.
func (s *Session) PlaceBid(auctionID, userID string, amount int64) (auction.Auction, error) {
	var (
		out auction.Auction
		err error
	)
	if cerr := s.post(func() {
		if s.status == Completed {
			err = errs.New(errs.SessionNotActive, "session is %s", s.status)
			return
		}
		if _, ok := s.participants[userID]; !ok {
			err = errs.New(errs.UnknownParticipant, "participant %s not found", userID)
			return
		}
		out, err = s.auctions.PlaceBid(auctionID, userID, amount, s.clock.Now())
		if err == nil {
			s.emit(events.AuctionBid, auctionPayload(out))
		}
	}); cerr != nil {
		return out, cerr
	}
	return out, err
}

// CancelAuction closes an auction without a winner.
func (s *Session) CancelAuction(auctionID string) (auction.Auction, error) {
	var (
		out auction.Auction
		err error
	)
	if cerr := s.post(func() {
		out, err = s.auctions.Cancel(auctionID)
		if err != nil {
			return
		}
		if t, ok := s.auctionTimer[auctionID]; ok {
			t.Stop()
			delete(s.auctionTimer, auctionID)
		}
		s.emit(events.AuctionCancelled, auctionPayload(out))
	}); cerr != nil {
		return out, cerr
	}
	return out, err
}

// Auction returns a copy of one auction.
func (s *Session) Auction(auctionID string) (auction.Auction, error) {
	var (
		out auction.Auction
		err error
	)
	if cerr := s.post(func() {
		a, ok := s.auctions.Get(auctionID)
		if !ok {
			err = errs.New(errs.AuctionNotFound, "auction %s not found", auctionID)
			return
		}
		out = a
	}); cerr != nil {
		return out, cerr
	}
	return out, err
}

func (s *Session) expireAuction(id string) {
	delete(s.auctionTimer, id)
	out, err := s.auctions.Expire(id, s.clock.Now(), func(user string, code int) error {
		return s.grant(user, code, "auction")
	})
	if err != nil || !out.Changed {
		return
	}
	for _, r := range out.Rejected {
		s.logger.Info("auction bidder ineligible",
			zap.String("auction", id),
			zap.String("user", r.UserID),
			zap.Int64("amount", r.Amount),
			zap.Error(r.Err))
	}
	if out.Auction.Status == auction.Completed {
		s.emit(events.AuctionCompleted, auctionPayload(out.Auction))
		return
	}
	s.emit(events.AuctionCancelled, auctionPayload(out.Auction))
}

func auctionPayload(a auction.Auction) events.AuctionPayload {
	p := events.AuctionPayload{
		AuctionID:     a.ID,
		PrivilegeCode: a.PrivilegeCode,
		EndTime:       a.EndTime,
		MinBid:        a.MinBid,
		WinnerID:      a.WinnerID,
		WinningBid:    a.WinningBid,
		BidCount:      len(a.Bids),
	}
	if lead, ok := a.Leader(); ok {
		p.LeaderID = lead.UserID
		p.LeadingBid = lead.Amount
	}
	return p
}
