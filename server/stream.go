package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	streamBuffer = 64
	writeTimeout = 5 * time.Second
)

type outboundMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// handleEventStream replays the log after ?since= and then follows live
// events. The subscription is taken before the replay, and anything already
// replayed is skipped, so a reconnecting client sees no gap and no duplicate.
func (s *server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	since, err := sinceParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	closed := watchClose(conn)

	sub := sess.Events().Subscribe(streamBuffer)
	defer sess.Events().Unsubscribe(sub)

	last := since
	for _, e := range sess.EventsSince(since) {
		if err := writeMessage(conn, outboundMessage{Type: "event", Data: e}); err != nil {
			return
		}
		last = e.Seq
	}
	for {
		select {
		case <-closed:
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			if e.Seq <= last {
				continue
			}
			if e.Seq > last+1 {
				// The subscriber fell behind and the hub dropped events; fill from the log.
				for _, missed := range sess.EventsSince(last) {
					if missed.Seq >= e.Seq {
						break
					}
					if err := writeMessage(conn, outboundMessage{Type: "event", Data: missed}); err != nil {
						return
					}
				}
			}
			if err := writeMessage(conn, outboundMessage{Type: "event", Data: e}); err != nil {
				s.logger.Debug("event stream closed", zap.String("session", sess.ID()), zap.Error(err))
				return
			}
			last = e.Seq
		}
	}
}

// handleBookStream pushes a depth view after every book change.
func (s *server) handleBookStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	symbol := r.URL.Query().Get("symbol")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	closed := watchClose(conn)

	sub := sess.BookUpdates().Subscribe(streamBuffer)
	defer sess.BookUpdates().Unsubscribe(sub)

	for {
		select {
		case <-closed:
			return
		case view, ok := <-sub.C:
			if !ok {
				return
			}
			if symbol != "" && view.Symbol != symbol {
				continue
			}
			if err := writeMessage(conn, outboundMessage{Type: "book", Data: toBookView(view)}); err != nil {
				return
			}
		}
	}
}

func writeMessage(conn *websocket.Conn, msg outboundMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

// watchClose drains client frames and reports when the peer goes away.
func watchClose(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return done
}
