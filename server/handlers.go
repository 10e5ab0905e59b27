package main

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"tradingfloor/errs"
	"tradingfloor/events"
	"tradingfloor/session"
)

func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req lessonRequest
	if !decode(w, r, &req) {
		return
	}
	lesson, err := req.toLesson()
	if err != nil {
		s.writeError(w, err)
		return
	}
	sess, err := s.registry.Create(lesson)
	if err != nil {
		s.writeError(w, err)
		return
	}
	snap, err := sess.Snapshot()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionView(snap))
}

func (s *server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": s.registry.List()})
}

// handleGetSession serves live sessions and the final snapshot of ended ones.
func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if sess, err := s.registry.Get(id); err == nil {
		snap, err := sess.Snapshot()
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSessionView(snap))
		return
	}
	snap, err := s.registry.Archived(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionView(snap))
}

func (s *server) handleLifecycle(op func(*session.Session) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.session(w, r)
		if !ok {
			return
		}
		if err := op(sess); err != nil {
			s.writeError(w, err)
			return
		}
		snap, err := sess.Snapshot()
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSessionView(snap))
	}
}

func (s *server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.End(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionView(snap))
}

func (s *server) handleEventLog(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	since, err := sinceParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	evs := sess.EventsSince(since)
	if evs == nil {
		evs = []events.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

type joinRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

func (s *server) handleJoin(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req joinRequest
	if !decode(w, r, &req) {
		return
	}
	role := session.Student
	if req.Role != "" {
		parsed, err := session.ParseRole(req.Role)
		if err != nil {
			s.writeError(w, errs.Wrap(errs.InvalidRequest, err, "join"))
			return
		}
		role = parsed
	}
	p, err := sess.Join(req.UserID, role)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toParticipantView(p))
}

func (s *server) handleLeave(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Leave(mux.Vars(r)["user"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type grantRequest struct {
	UserID string `json:"userId"`
	Code   int    `json:"code"`
}

func (s *server) handlePrivilege(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if !decode(w, r, &req) {
		return
	}
	var err error
	if mux.Vars(r)["action"] == "grant" {
		err = sess.Grant(req.UserID, req.Code)
	} else {
		err = sess.Revoke(req.UserID, req.Code)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleHasPrivilege(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	code, err := intVar(r, "code")
	if err != nil {
		s.writeError(w, err)
		return
	}
	has, err := sess.HasPrivilege(mux.Vars(r)["user"], code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"held": has})
}

type orderRequest struct {
	ID       string          `json:"id"`
	UserID   string          `json:"userId"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Type     string          `json:"type"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

func buildOrder(req orderRequest) (session.OrderRequest, error) {
	if req.UserID == "" || req.Symbol == "" {
		return session.OrderRequest{}, errs.New(errs.InvalidRequest, "userId and symbol are required")
	}
	side, err := parseSide(req.Side)
	if err != nil {
		return session.OrderRequest{}, err
	}
	kind, err := parseKind(req.Type)
	if err != nil {
		return session.OrderRequest{}, err
	}
	price, err := toUnits("price", req.Price)
	if err != nil {
		return session.OrderRequest{}, err
	}
	return session.OrderRequest{
		OrderID:  req.ID,
		UserID:   req.UserID,
		Symbol:   req.Symbol,
		Side:     side,
		Kind:     kind,
		Price:    price,
		Quantity: req.Quantity,
	}, nil
}

func (s *server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req orderRequest
	if !decode(w, r, &req) {
		return
	}
	order, err := buildOrder(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := sess.SubmitOrder(order)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResultView(res))
}

func (s *server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	o, err := sess.Order(mux.Vars(r)["order"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(o))
}

type amendRequest struct {
	UserID   string           `json:"userId"`
	Price    *decimal.Decimal `json:"price"`
	Quantity *int64           `json:"quantity"`
}

func (s *server) handleAmendOrder(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req amendRequest
	if !decode(w, r, &req) {
		return
	}
	var price *int64
	if req.Price != nil {
		p, err := toUnits("price", *req.Price)
		if err != nil {
			s.writeError(w, err)
			return
		}
		price = &p
	}
	res, err := sess.AmendOrder(req.UserID, mux.Vars(r)["order"], price, req.Quantity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResultView(res))
}

func (s *server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	o, err := sess.CancelOrder(r.URL.Query().Get("userId"), mux.Vars(r)["order"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(o))
}

func (s *server) handleBook(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	depth := 0
	if v := r.URL.Query().Get("depth"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, errs.New(errs.InvalidRequest, "depth must be an integer"))
			return
		}
		depth = d
	}
	book, err := sess.Book(mux.Vars(r)["symbol"], depth)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookView(book))
}

type auctionRequest struct {
	Code            int             `json:"code"`
	MinBid          decimal.Decimal `json:"minBid"`
	DurationSeconds float64         `json:"durationSeconds"`
}

func (s *server) handleCreateAuction(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req auctionRequest
	if !decode(w, r, &req) {
		return
	}
	minBid, err := toUnits("minBid", req.MinBid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	a, err := sess.CreateAuction(req.Code, minBid, seconds(req.DurationSeconds))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAuctionView(a))
}

func (s *server) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	a, err := sess.Auction(mux.Vars(r)["auction"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuctionView(a))
}

func (s *server) handleCancelAuction(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	a, err := sess.CancelAuction(mux.Vars(r)["auction"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuctionView(a))
}

type bidRequest struct {
	UserID string          `json:"userId"`
	Amount decimal.Decimal `json:"amount"`
}

func (s *server) handleBid(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req bidRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := toUnits("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	a, err := sess.PlaceBid(mux.Vars(r)["auction"], req.UserID, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuctionView(a))
}

func (s *server) handleTriggerCommand(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	ran, err := sess.TriggerCommand(mux.Vars(r)["command"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"fired": ran})
}

func sinceParam(r *http.Request) (int64, error) {
	v := r.URL.Query().Get("since")
	if v == "" {
		return 0, nil
	}
	since, err := strconv.ParseInt(v, 10, 64)
	if err != nil || since < 0 {
		return 0, errs.New(errs.InvalidRequest, "since must be a non-negative integer")
	}
	return since, nil
}
