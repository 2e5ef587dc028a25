// Package hub provides in-process, room-based event fan-out. Delivery is
// fire-and-forget: a subscriber that stops draining its channel loses
// events instead of blocking the publisher or other subscribers.
package hub

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"collab-server/core"
)

// Emitter forwards published events to an external transport (the
// socket.io gateway). Implementations must not call back into the Hub.
type Emitter interface {
	Emit(room string, ev core.Event, excludeConnection string)
}

// Subscriber is one connection's membership in one room.
type Subscriber struct {
	room         string
	connectionID string
	events       chan core.Event
}

// Events yields the room's events in publish order. The channel is
// closed on Unsubscribe.
func (s *Subscriber) Events() <-chan core.Event { return s.events }

func (s *Subscriber) Room() string { return s.room }

func (s *Subscriber) ConnectionID() string { return s.connectionID }

type Hub struct {
	mu      sync.Mutex
	rooms   map[string]map[string]*Subscriber
	emitter Emitter
	buffer  int
	log     *logrus.Entry

	published atomic.Uint64
	dropped   atomic.Uint64
}

func New(bufferSize int, logger *logrus.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Hub{
		rooms:  make(map[string]map[string]*Subscriber),
		buffer: bufferSize,
		log:    logger.WithField("component", "hub"),
	}
}

// SetEmitter wires the transport bridge. Call once during startup,
// before traffic.
func (h *Hub) SetEmitter(e Emitter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.emitter = e
}

type publishOptions struct {
	exclude string
}

type PublishOption func(*publishOptions)

// ExcludeConnection suppresses delivery to one connection, used so cursor
// updates are not echoed back to their sender.
func ExcludeConnection(connectionID string) PublishOption {
	return func(o *publishOptions) { o.exclude = connectionID }
}

// Publish delivers ev to every subscriber of room. Subscribers with a full
// buffer are skipped and the event counted as dropped for them.
func (h *Hub) Publish(room string, ev core.Event, opts ...PublishOption) {
	var po publishOptions
	for _, opt := range opts {
		opt(&po)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.published.Add(1)
	if h.emitter != nil {
		h.emitter.Emit(room, ev, po.exclude)
	}

	for id, sub := range h.rooms[room] {
		if id == po.exclude {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			h.dropped.Add(1)
			h.log.WithFields(logrus.Fields{
				"room":       room,
				"connection": id,
				"event":      ev.Name,
			}).Debug("subscriber buffer full, event dropped")
		}
	}
}

// Subscribe registers connectionID in room. Subscribing twice returns the
// existing subscriber.
func (h *Hub) Subscribe(room, connectionID string) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.rooms[room]
	if !ok {
		subs = make(map[string]*Subscriber)
		h.rooms[room] = subs
	}
	if sub, ok := subs[connectionID]; ok {
		return sub
	}
	sub := &Subscriber{
		room:         room,
		connectionID: connectionID,
		events:       make(chan core.Event, h.buffer),
	}
	subs[connectionID] = sub
	return sub
}

// Subscriber looks up an existing subscription without creating one.
func (h *Hub) Subscriber(room, connectionID string) (*Subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.rooms[room][connectionID]
	return sub, ok
}

// Unsubscribe removes connectionID from room and closes its channel.
// Unknown subscriptions are a no-op.
func (h *Hub) Unsubscribe(room, connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(room, connectionID)
}

// UnsubscribeAll removes connectionID from every room it subscribes to.
func (h *Hub) UnsubscribeAll(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.rooms {
		h.removeLocked(room, connectionID)
	}
}

func (h *Hub) removeLocked(room, connectionID string) {
	subs, ok := h.rooms[room]
	if !ok {
		return
	}
	sub, ok := subs[connectionID]
	if !ok {
		return
	}
	delete(subs, connectionID)
	close(sub.events)
	if len(subs) == 0 {
		delete(h.rooms, room)
	}
}

// SubscriberCount reports live subscriptions across all rooms.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, subs := range h.rooms {
		n += len(subs)
	}
	return n
}

func (h *Hub) Published() uint64 { return h.published.Load() }

func (h *Hub) Dropped() uint64 { return h.dropped.Load() }
