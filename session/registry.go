package session

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"tradingfloor/errs"
)

// Registry owns every live session of the process and the final snapshots
// of ended ones.
type Registry struct {
	mu       sync.RWMutex
	live     map[string]*Session
	archived map[string]Snapshot
	opts     Options
	logger   *zap.Logger
}

// NewRegistry returns an empty registry; opts are applied to every session it creates.
func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		live:     make(map[string]*Session),
		archived: make(map[string]Snapshot),
		opts:     opts,
		logger:   logger,
	}
}

// Create builds a PENDING session from lesson.
func (r *Registry) Create(lesson Lesson) (*Session, error) {
	s, err := New(lesson, r.opts)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.live[s.ID()] = s
	r.mu.Unlock()
	r.logger.Info("session created", zap.String("session", s.ID()), zap.String("lesson", lesson.Name))
	return s, nil
}

// Get returns a live session.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.live[id]
	if !ok {
		return nil, errs.New(errs.SessionNotFound, "session %s not found", id)
	}
	return s, nil
}

// Archived returns the final snapshot of an ended session.
func (r *Registry) Archived(id string) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.archived[id]
	if !ok {
		return Snapshot{}, errs.New(errs.SessionNotFound, "session %s not found", id)
	}
	return snap, nil
}

// End completes a session, keeps its final snapshot and releases it.
func (r *Registry) End(id string) (Snapshot, error) {
	r.mu.Lock()
	s, ok := r.live[id]
	if ok {
		delete(r.live, id)
	}
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, errs.New(errs.SessionNotFound, "session %s not found", id)
	}
	snap := r.finish(s)
	r.mu.Lock()
	r.archived[id] = snap
	r.mu.Unlock()
	return snap, nil
}

func (r *Registry) finish(s *Session) Snapshot {
	if err := s.End(); err != nil && !errs.HasCode(err, errs.SessionNotActive) {
		r.logger.Warn("ending session", zap.String("session", s.ID()), zap.Error(err))
	}
	snap, err := s.Snapshot()
	if err != nil {
		r.logger.Warn("final snapshot", zap.String("session", s.ID()), zap.Error(err))
	}
	s.Close()
	return snap
}

// List returns the ids of live sessions, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.live))
	for id := range r.live {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Shutdown ends every live session.
func (r *Registry) Shutdown() {
	for _, id := range r.List() {
		if _, err := r.End(id); err != nil {
			r.logger.Warn("shutdown", zap.String("session", id), zap.Error(err))
		}
	}
}
