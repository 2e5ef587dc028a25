// Package locks implements advisory edit locks with TTL and heartbeat.
// Locks are exclusive-edit intent signals, not enforcement: the UI keys
// off lock.updated events, and nothing stops a caller that ignores them.
//
// The persisted record is authoritative across restarts. The in-memory
// map serves reads; every mutation writes the store first and broadcasts
// only after the write succeeds.
package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"collab-server/core"
	"collab-server/hub"
)

type Status string

const (
	StatusAcquired  Status = "acquired"
	StatusRefreshed Status = "refreshed"
	StatusConflict  Status = "conflict"
	StatusReleased  Status = "released"
	StatusOK        Status = "ok"
	StatusNotHolder Status = "not_holder"
	StatusNotLocked Status = "not_locked"
)

// AcquireResult carries the acquire outcome. Holder is set only on
// StatusConflict so callers can show who is blocking them.
type AcquireResult struct {
	Status Status           `json:"status"`
	Holder *core.LockHolder `json:"holder,omitempty"`
}

type Manager struct {
	mu    sync.Mutex
	store core.LockStore
	hub   *hub.Hub
	ttl   time.Duration
	log   *logrus.Entry
	now   func() time.Time
	locks map[core.ResourceKey]*core.Lock
}

// NewManager rebuilds the lock cache from the store. Records already past
// the TTL are deleted during load; surviving records keep their original
// locked_at as the last heartbeat, so a restart never extends a lock.
func NewManager(ctx context.Context, store core.LockStore, h *hub.Hub, ttl time.Duration, logger *logrus.Logger) (*Manager, error) {
	m := &Manager{
		store: store,
		hub:   h,
		ttl:   ttl,
		log:   logger.WithField("component", "locks"),
		now:   time.Now,
		locks: make(map[core.ResourceKey]*core.Lock),
	}

	records, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load lock records: %w", err)
	}
	now := m.now()
	for _, rec := range records {
		key, err := core.ParseResourceKey(rec.ResourceID)
		if err != nil {
			m.log.WithError(err).WithField("resource", rec.ResourceID).Warn("dropping unparseable lock record")
			continue
		}
		lock := &core.Lock{
			Key:           key,
			Holder:        core.Actor{ActorID: rec.HolderActorID, DisplayName: rec.HolderDisplayName},
			AcquiredAt:    rec.LockedAt,
			LastHeartbeat: rec.LockedAt,
			TTL:           ttl,
		}
		if lock.Expired(now) {
			if err := store.Delete(ctx, rec.ResourceID); err != nil {
				m.log.WithError(err).WithField("resource", rec.ResourceID).Warn("failed to purge expired lock record")
			}
			continue
		}
		m.locks[key] = lock
	}
	if len(m.locks) > 0 {
		m.log.WithField("count", len(m.locks)).Info("restored locks from store")
	}
	return m, nil
}

// Acquire takes or refreshes the lock on key for actor. A fresh lock held
// by someone else yields StatusConflict with the holder attached; an
// expired one is taken over. The store write precedes cache update and
// broadcast, so a storage failure leaves no trace.
func (m *Manager) Acquire(ctx context.Context, key core.ResourceKey, actor core.Actor) (AcquireResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	takeover := false
	if cur, ok := m.locks[key]; ok {
		if cur.Holder.ActorID == actor.ActorID {
			cur.LastHeartbeat = now
			return AcquireResult{Status: StatusRefreshed}, nil
		}
		if !cur.Expired(now) {
			return AcquireResult{
				Status: StatusConflict,
				Holder: holderOf(cur),
			}, nil
		}
		takeover = true
	}

	lock := &core.Lock{Key: key, Holder: actor, AcquiredAt: now, LastHeartbeat: now, TTL: m.ttl}
	if err := m.store.Upsert(ctx, lock.Record()); err != nil {
		return AcquireResult{}, fmt.Errorf("persist lock: %w", err)
	}
	m.locks[key] = lock

	m.log.WithFields(logrus.Fields{
		"resource": key.Room(),
		"actor":    actor.ActorID,
		"takeover": takeover,
	}).Info("lock acquired")
	m.hub.Publish(key.Room(), core.LockUpdated(holderOf(lock)))
	return AcquireResult{Status: StatusAcquired}, nil
}

// Heartbeat keeps a held lock alive. Only the holder may heartbeat; no
// store I/O and no broadcast happen here.
func (m *Manager) Heartbeat(key core.ResourceKey, actor core.Actor) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[key]
	if !ok {
		return StatusNotLocked
	}
	if lock.Holder.ActorID != actor.ActorID {
		return StatusNotHolder
	}
	lock.LastHeartbeat = m.now()
	return StatusOK
}

// Release drops the lock if actor holds it and broadcasts the unlocked
// state.
func (m *Manager) Release(ctx context.Context, key core.ResourceKey, actor core.Actor) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[key]
	if !ok {
		return StatusNotLocked, nil
	}
	if lock.Holder.ActorID != actor.ActorID {
		return StatusNotHolder, nil
	}
	if err := m.store.Delete(ctx, key.Room()); err != nil {
		return "", fmt.Errorf("delete lock record: %w", err)
	}
	delete(m.locks, key)

	m.log.WithFields(logrus.Fields{
		"resource": key.Room(),
		"actor":    actor.ActorID,
	}).Info("lock released")
	m.hub.Publish(key.Room(), core.LockUpdated(nil))
	return StatusReleased, nil
}

// ForceRelease is the administrative unlock. It succeeds whether or not a
// lock exists and always broadcasts the unlocked state so stuck clients
// converge.
func (m *Manager) ForceRelease(ctx context.Context, key core.ResourceKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Delete(ctx, key.Room()); err != nil {
		return fmt.Errorf("delete lock record: %w", err)
	}
	delete(m.locks, key)

	m.log.WithField("resource", key.Room()).Warn("lock force released")
	m.hub.Publish(key.Room(), core.LockUpdated(nil))
	return nil
}

// Holder reports the current holder. Expired locks read as absent even
// before the reaper sweeps them.
func (m *Manager) Holder(key core.ResourceKey) (core.Lock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[key]
	if !ok || lock.Expired(m.now()) {
		return core.Lock{}, false
	}
	return *lock, true
}

// ReapExpired deletes every expired lock, broadcasting the unlocked state
// per resource. A store failure leaves that lock in place for the next
// sweep.
func (m *Manager) ReapExpired(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var expired []core.ResourceKey
	for key, lock := range m.locks {
		if lock.Expired(now) {
			expired = append(expired, key)
		}
	}

	count := 0
	for _, key := range expired {
		if err := m.store.Delete(ctx, key.Room()); err != nil {
			m.log.WithError(err).WithField("resource", key.Room()).Warn("failed to delete expired lock record")
			continue
		}
		delete(m.locks, key)
		m.hub.Publish(key.Room(), core.LockUpdated(nil))
		count++
	}
	if count > 0 {
		m.log.WithField("count", count).Info("reaped expired locks")
	}
	return count
}

// Count reports locks currently cached, expired or not.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func holderOf(lock *core.Lock) *core.LockHolder {
	return &core.LockHolder{
		ActorID:     lock.Holder.ActorID,
		DisplayName: lock.Holder.DisplayName,
		AcquiredAt:  lock.AcquiredAt,
	}
}
