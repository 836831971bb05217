package app

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/voicebridge/internal/app/call"
)

// ErrShutdown is the close reason for sessions ended by server shutdown.
var ErrShutdown = errors.New("server shutting down")

type SessionID string

type sessionEntry struct {
	Session *call.Session
	Cancel  context.CancelFunc
}

// Registry tracks live call sessions for health reporting and shutdown.
type Registry struct {
	mu       sync.RWMutex
	sessions map[SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[SessionID]*sessionEntry)}
}

func (r *Registry) Bind(sid SessionID, sess *call.Session, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound session")
}

func (r *Registry) Unbind(sid SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll ends every bound session and waits for their tasks to exit.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	entries := make([]*sessionEntry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var wg conc.WaitGroup
	for _, e := range entries {
		e.Session.Close(ErrShutdown)
		if e.Cancel != nil {
			e.Cancel()
		}
		wg.Go(e.Session.Wait)
	}
	wg.Wait()
	log.Info().Str("module", "app.registry").Int("sessions", len(entries)).Msg("closed all sessions")
}
