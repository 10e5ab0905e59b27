package events

import (
	"sync"
	"time"
)

// Log is the append-only event history of one session. Appends come from
// the session loop; reads may come from any goroutine.
type Log struct {
	mu        sync.RWMutex
	sessionID string
	events    []Event
}

func NewLog(sessionID string) *Log {
	return &Log{sessionID: sessionID}
}

// Append assigns the next sequence number and stores the event.
func (l *Log) Append(kind Kind, ts time.Time, payload any) Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := Event{
		Seq:       int64(len(l.events)) + 1,
		SessionID: l.sessionID,
		Kind:      kind,
		Timestamp: ts,
		Payload:   payload,
	}
	l.events = append(l.events, e)
	return e
}

// Since returns events with Seq greater than seq.
func (l *Log) Since(seq int64) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq < 0 {
		seq = 0
	}
	if seq >= int64(len(l.events)) {
		return nil
	}
	return append([]Event(nil), l.events[seq:]...)
}

// Len reports how many events have been appended.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Last returns the most recent event.
func (l *Log) Last() (Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.events) == 0 {
		return Event{}, false
	}
	return l.events[len(l.events)-1], true
}
