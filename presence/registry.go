// Package presence tracks live occupancy of workspace resources: which
// connections are viewing or editing, their colors, cursors, and activity
// freshness. Occupant identity is (actor id, is_agent), so a user and
// their agent appear side by side while duplicate tabs collapse.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"collab-server/core"
	"collab-server/hub"
)

type room struct {
	entries map[string]*core.PresenceEntry
	colors  *colorState
}

type Registry struct {
	mu    sync.Mutex
	hub   *hub.Hub
	log   *logrus.Entry
	now   func() time.Time
	rooms map[core.ResourceKey]*room
	conns map[string]map[core.ResourceKey]struct{}
}

func NewRegistry(h *hub.Hub, logger *logrus.Logger) *Registry {
	return &Registry{
		hub:   h,
		log:   logger.WithField("component", "presence"),
		now:   time.Now,
		rooms: make(map[core.ResourceKey]*room),
		conns: make(map[string]map[core.ResourceKey]struct{}),
	}
}

// Join announces a connection on a resource and returns the deduplicated
// roster. If the same occupant is already present on another connection,
// that stale connection is evicted first, so subscribers observe its
// presence.leave before the new presence.join.
func (r *Registry) Join(key core.ResourceKey, connectionID string, actor core.Actor, cursor *core.Cursor) []core.PresenceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[key]
	if !ok {
		rm = &room{entries: make(map[string]*core.PresenceEntry), colors: newColorState()}
	}

	occupant := actor.OccupantKey()
	for id, entry := range rm.entries {
		if id != connectionID && entry.Actor.OccupantKey() == occupant {
			r.leaveLocked(key, id)
		}
	}
	// Eviction may have emptied the room; keep its color state alive
	// across the reconnect.
	r.rooms[key] = rm

	color := ""
	if actor.IsAgent {
		color = AgentColor(actor.AgentName)
	} else {
		color = rm.colors.colorFor(actor.ActorID)
	}

	now := r.now()
	entry := &core.PresenceEntry{
		ConnectionID: connectionID,
		Actor:        actor,
		Color:        color,
		Cursor:       cursor,
		JoinedAt:     now,
		LastActivity: now,
	}
	rm.entries[connectionID] = entry
	if r.conns[connectionID] == nil {
		r.conns[connectionID] = make(map[core.ResourceKey]struct{})
	}
	r.conns[connectionID][key] = struct{}{}

	r.log.WithFields(logrus.Fields{
		"resource":   key.Room(),
		"connection": connectionID,
		"actor":      actor.ActorID,
		"is_agent":   actor.IsAgent,
	}).Info("presence join")

	roster := r.rosterLocked(key)
	r.hub.Publish(key.Room(), core.PresenceJoined(actor, color))
	r.hub.Publish(key.Room(), core.PresenceRosterChanged(roster))
	return roster
}

// Leave removes a connection from a resource. Unknown connections are a
// silent no-op.
func (r *Registry) Leave(key core.ResourceKey, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(key, connectionID)
}

// LeaveAll removes a connection from every resource it occupies and
// returns the affected keys. Transport disconnect calls this; it never
// touches locks.
func (r *Registry) LeaveAll(connectionID string) []core.ResourceKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]core.ResourceKey, 0, len(r.conns[connectionID]))
	for key := range r.conns[connectionID] {
		keys = append(keys, key)
	}
	for _, key := range keys {
		r.leaveLocked(key, connectionID)
	}
	return keys
}

// UpdateCursor stores the connection's cursor and relays it to everyone
// else in the room. Unknown connections are a silent no-op.
func (r *Registry) UpdateCursor(key core.ResourceKey, connectionID string, cursor core.Cursor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entryLocked(key, connectionID)
	if !ok {
		return
	}
	entry.Cursor = &cursor
	entry.LastActivity = r.now()
	r.hub.Publish(key.Room(), core.PresenceCursorMoved(*entry, cursor), hub.ExcludeConnection(connectionID))
}

// Heartbeat marks the connection as still active. Unknown connections are
// a silent no-op.
func (r *Registry) Heartbeat(key core.ResourceKey, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entryLocked(key, connectionID); ok {
		entry.LastActivity = r.now()
	}
}

// Roster returns the room's occupants deduplicated by occupant identity,
// most recent join winning, ordered by join time.
func (r *Registry) Roster(key core.ResourceKey) []core.PresenceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosterLocked(key)
}

// ReapStale evicts every entry whose last activity is older than maxAge,
// with normal leave broadcasts, and returns the eviction count.
func (r *Registry) ReapStale(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	type ref struct {
		key  core.ResourceKey
		conn string
	}
	var stale []ref
	for key, rm := range r.rooms {
		for id, entry := range rm.entries {
			if now.Sub(entry.LastActivity) > maxAge {
				stale = append(stale, ref{key: key, conn: id})
			}
		}
	}
	for _, s := range stale {
		r.leaveLocked(s.key, s.conn)
	}
	if len(stale) > 0 {
		r.log.WithField("count", len(stale)).Info("reaped stale presence")
	}
	return len(stale)
}

func (r *Registry) Occupied(key core.ResourceKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[key]
	return ok && len(rm.entries) > 0
}

// Count reports live presence entries across all resources.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rm := range r.rooms {
		n += len(rm.entries)
	}
	return n
}

// RoomCount reports how many resources currently have occupants.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// ColorFor resolves the color an actor carries (or would be assigned) in
// a room. Streaming cursors render with the same color as the actor's
// presence.
func (r *Registry) ColorFor(key core.ResourceKey, actor core.Actor) string {
	if actor.IsAgent {
		return AgentColor(actor.AgentName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[key]; ok {
		return rm.colors.colorFor(actor.ActorID)
	}
	return userColors[0]
}

func (r *Registry) entryLocked(key core.ResourceKey, connectionID string) (*core.PresenceEntry, bool) {
	rm, ok := r.rooms[key]
	if !ok {
		return nil, false
	}
	entry, ok := rm.entries[connectionID]
	return entry, ok
}

func (r *Registry) leaveLocked(key core.ResourceKey, connectionID string) bool {
	rm, ok := r.rooms[key]
	if !ok {
		return false
	}
	entry, ok := rm.entries[connectionID]
	if !ok {
		return false
	}
	delete(rm.entries, connectionID)
	if refs := r.conns[connectionID]; refs != nil {
		delete(refs, key)
		if len(refs) == 0 {
			delete(r.conns, connectionID)
		}
	}
	// Color assignments live and die with the room.
	if len(rm.entries) == 0 {
		delete(r.rooms, key)
	}

	r.log.WithFields(logrus.Fields{
		"resource":   key.Room(),
		"connection": connectionID,
		"actor":      entry.Actor.ActorID,
	}).Info("presence leave")

	r.hub.Publish(key.Room(), core.PresenceLeft(entry.Actor))
	r.hub.Publish(key.Room(), core.PresenceRosterChanged(r.rosterLocked(key)))
	return true
}

func (r *Registry) rosterLocked(key core.ResourceKey) []core.PresenceEntry {
	occupants := make([]core.PresenceEntry, 0)
	rm, ok := r.rooms[key]
	if !ok {
		return occupants
	}
	latest := make(map[string]core.PresenceEntry, len(rm.entries))
	for _, entry := range rm.entries {
		k := entry.Actor.OccupantKey()
		if cur, seen := latest[k]; !seen || entry.JoinedAt.After(cur.JoinedAt) {
			latest[k] = *entry
		}
	}
	for _, entry := range latest {
		occupants = append(occupants, entry)
	}
	sort.Slice(occupants, func(i, j int) bool {
		if occupants[i].JoinedAt.Equal(occupants[j].JoinedAt) {
			return occupants[i].ConnectionID < occupants[j].ConnectionID
		}
		return occupants[i].JoinedAt.Before(occupants[j].JoinedAt)
	})
	return occupants
}
