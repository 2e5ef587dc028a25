// Package streaming tracks progressive agent insertions. A session opens
// with stream.start, advances with stream.chunk, and closes with
// stream.end. Ended sessions linger briefly so late chunks can still be
// attributed, then are purged. Sessions are in-memory only and do not
// survive a restart.
package streaming

import (
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"collab-server/core"
	"collab-server/hub"
)

// Colorer resolves the display color an actor carries in a room.
type Colorer interface {
	ColorFor(key core.ResourceKey, actor core.Actor) string
}

type Manager struct {
	mu       sync.Mutex
	hub      *hub.Hub
	colors   Colorer
	grace    time.Duration
	log      *logrus.Entry
	now      func() time.Time
	sessions map[string]*core.StreamingSession
	timers   map[string]*time.Timer
}

// NewManager builds a session manager whose ended sessions are purged
// after grace.
func NewManager(h *hub.Hub, colors Colorer, grace time.Duration, logger *logrus.Logger) *Manager {
	return &Manager{
		hub:      h,
		colors:   colors,
		grace:    grace,
		log:      logger.WithField("component", "streaming"),
		now:      time.Now,
		sessions: make(map[string]*core.StreamingSession),
		timers:   make(map[string]*time.Timer),
	}
}

// Start opens a streaming session at startPosition and announces it to
// the room.
func (m *Manager) Start(key core.ResourceKey, actor core.Actor, startPosition int) core.StreamingSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := &core.StreamingSession{
		SessionID:       uuid.NewString(),
		Key:             key,
		Actor:           actor,
		StartPosition:   startPosition,
		CurrentPosition: startPosition,
		StartedAt:       m.now(),
		Active:          true,
	}
	m.sessions[session.SessionID] = session

	m.log.WithFields(logrus.Fields{
		"session":  session.SessionID,
		"resource": key.Room(),
		"actor":    actor.ActorID,
		"agent":    actor.AgentName,
	}).Info("stream started")
	m.hub.Publish(key.Room(), core.StreamStarted(*session, m.colors.ColorFor(key, actor)))
	return *session
}

// Chunk appends streamed text. Without an explicit position the session
// advances by the character length of text. Unknown and ended sessions
// both report ok=false; an ended one still resolves here so the late
// chunk can be attributed in the log.
func (m *Manager) Chunk(sessionID, text string, position *int) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return 0, false
	}
	if !session.Active {
		m.log.WithFields(logrus.Fields{
			"session": sessionID,
			"actor":   session.Actor.ActorID,
		}).Debug("chunk for ended session dropped")
		return 0, false
	}

	if position != nil {
		session.CurrentPosition = *position
	} else {
		session.CurrentPosition += utf8.RuneCountInString(text)
	}
	m.hub.Publish(session.Key.Room(), core.StreamChunked(*session, text))
	return session.CurrentPosition, true
}

// End closes the session and schedules its purge. Ending an already ended
// session returns its final position without a second broadcast.
func (m *Manager) End(sessionID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return 0, false
	}
	if session.Active {
		session.Active = false
		m.log.WithFields(logrus.Fields{
			"session":  sessionID,
			"resource": session.Key.Room(),
			"actor":    session.Actor.ActorID,
			"position": session.CurrentPosition,
		}).Info("stream ended")
		m.hub.Publish(session.Key.Room(), core.StreamEnded(*session))
		m.timers[sessionID] = time.AfterFunc(m.grace, func() { m.purge(sessionID) })
	}
	return session.CurrentPosition, true
}

// Session returns a copy of the session, including ended ones not yet
// purged.
func (m *Manager) Session(sessionID string) (core.StreamingSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return core.StreamingSession{}, false
	}
	return *session, true
}

// ActiveForResource lists live sessions on a resource in start order.
func (m *Manager) ActiveForResource(key core.ResourceKey) []core.StreamingSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]core.StreamingSession, 0)
	for _, session := range m.sessions {
		if session.Key == key && session.Active {
			out = append(out, *session)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// ActiveCount reports live sessions across all resources.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, session := range m.sessions {
		if session.Active {
			n++
		}
	}
	return n
}

// Close stops pending purge timers. Sessions left in the map are
// irrelevant at shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
	}
}

func (m *Manager) purge(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	delete(m.timers, sessionID)
}
