package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager owns the open sessions, keyed by id.
type Manager struct {
	svc *Service

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(svc *Service) *Manager {
	return &Manager{svc: svc, sessions: make(map[string]*Session)}
}

func (m *Manager) Service() *Service { return m.svc }

func (m *Manager) Create(ctx context.Context) *Session {
	s := newSession(uuid.NewString(), m.svc)
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.svc.observer.SessionOpened()
	slog.InfoContext(ctx, "session created", "session_id", s.id)
	return s
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	m.svc.observer.SessionClosed()
	slog.InfoContext(ctx, "session closed", "session_id", id)
	return nil
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Expire closes sessions idle for longer than maxIdle and returns how many
// were closed.
func (m *Manager) Expire(ctx context.Context, maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	var stale []string
	m.mu.RLock()
	for id, s := range m.sessions {
		if s.LastActive().Before(cutoff) && s.State() != StateAwaitingResponse {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	closed := 0
	for _, id := range stale {
		if m.Delete(ctx, id) == nil {
			closed++
		}
	}
	return closed
}

// RunJanitor expires idle sessions every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Expire(ctx, maxIdle); n > 0 {
				slog.InfoContext(ctx, "expired idle sessions", "count", n)
			}
		}
	}
}
