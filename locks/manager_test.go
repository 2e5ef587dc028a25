package locks

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"collab-server/core"
	"collab-server/hub"
)

var docKey = core.ResourceKey{Kind: core.KindDocument, ID: "d1"}

var (
	alice = core.Actor{ActorID: "u-alice", DisplayName: "Alice"}
	bob   = core.Actor{ActorID: "u-bob", DisplayName: "Bob"}
)

type fakeLockStore struct {
	mu        sync.Mutex
	records   map[string]core.LockRecord
	upsertErr error
	deleteErr error
	listErr   error
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{records: make(map[string]core.LockRecord)}
}

func (s *fakeLockStore) Upsert(_ context.Context, record core.LockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.records[record.ResourceID] = record
	return nil
}

func (s *fakeLockStore) Delete(_ context.Context, resourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.records, resourceID)
	return nil
}

func (s *fakeLockStore) List(_ context.Context) ([]core.LockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]core.LockRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}

func (s *fakeLockStore) has(resourceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[resourceID]
	return ok
}

func newTestManager(t *testing.T, store *fakeLockStore) (*Manager, *hub.Hub) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	h := hub.New(64, logger)
	m, err := NewManager(context.Background(), store, h, 30*time.Minute, logger)
	if err != nil {
		t.Fatalf("NewManager() failed: %v", err)
	}
	return m, h
}

func drain(sub *hub.Subscriber) []core.Event {
	var evs []core.Event
	for {
		select {
		case ev := <-sub.Events():
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func TestAcquire_MutualExclusion(t *testing.T) {
	m, _ := newTestManager(t, newFakeLockStore())
	ctx := context.Background()

	res, err := m.Acquire(ctx, docKey, alice)
	if err != nil || res.Status != StatusAcquired {
		t.Fatalf("alice acquire = %+v, %v; want acquired", res, err)
	}

	res, err = m.Acquire(ctx, docKey, bob)
	if err != nil {
		t.Fatalf("bob acquire failed: %v", err)
	}
	if res.Status != StatusConflict {
		t.Fatalf("bob acquire status = %s, want conflict", res.Status)
	}
	if res.Holder == nil || res.Holder.ActorID != alice.ActorID || res.Holder.DisplayName != "Alice" {
		t.Errorf("conflict holder = %+v, want alice", res.Holder)
	}
	if res.Holder.AcquiredAt.IsZero() {
		t.Error("conflict holder missing acquisition time")
	}

	if status, _ := m.Release(ctx, docKey, bob); status != StatusNotHolder {
		t.Errorf("bob release status = %s, want not_holder", status)
	}
	if status, _ := m.Release(ctx, docKey, alice); status != StatusReleased {
		t.Errorf("alice release status = %s, want released", status)
	}
	if res, _ := m.Acquire(ctx, docKey, bob); res.Status != StatusAcquired {
		t.Errorf("bob acquire after release = %s, want acquired", res.Status)
	}
}

func TestAcquire_SameActorRefreshes(t *testing.T) {
	m, h := newTestManager(t, newFakeLockStore())
	ctx := context.Background()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	observer := h.Subscribe(docKey.Room(), "observer")
	if res, _ := m.Acquire(ctx, docKey, alice); res.Status != StatusAcquired {
		t.Fatalf("first acquire not acquired")
	}

	current = current.Add(10 * time.Minute)
	res, err := m.Acquire(ctx, docKey, alice)
	if err != nil || res.Status != StatusRefreshed {
		t.Fatalf("re-acquire = %+v, %v; want refreshed", res, err)
	}

	lock, ok := m.Holder(docKey)
	if !ok {
		t.Fatal("lock missing after refresh")
	}
	if !lock.LastHeartbeat.Equal(current) {
		t.Errorf("LastHeartbeat = %v, want %v", lock.LastHeartbeat, current)
	}
	if evs := drain(observer); len(evs) != 1 {
		t.Errorf("refresh broadcast %d events, want 1 (initial acquire only)", len(evs))
	}
}

func TestAcquire_ExpiredLockIsTakenOver(t *testing.T) {
	m, h := newTestManager(t, newFakeLockStore())
	ctx := context.Background()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	m.Acquire(ctx, docKey, alice)
	current = current.Add(31 * time.Minute)

	observer := h.Subscribe(docKey.Room(), "observer")
	res, err := m.Acquire(ctx, docKey, bob)
	if err != nil {
		t.Fatalf("takeover acquire failed: %v", err)
	}
	if res.Status != StatusAcquired {
		t.Fatalf("takeover status = %s, want acquired", res.Status)
	}

	evs := drain(observer)
	if len(evs) != 1 || evs[0].Name != core.EventLockUpdated {
		t.Fatalf("takeover events = %+v, want one lock.updated", evs)
	}
	payload := evs[0].Payload.(core.LockUpdatedPayload)
	if payload.Holder == nil || payload.Holder.ActorID != bob.ActorID {
		t.Errorf("broadcast holder = %+v, want bob", payload.Holder)
	}

	if status := m.Heartbeat(docKey, alice); status != StatusNotHolder {
		t.Errorf("old holder heartbeat = %s, want not_holder", status)
	}
	if status, _ := m.Release(ctx, docKey, alice); status != StatusNotHolder {
		t.Errorf("old holder release = %s, want not_holder", status)
	}
}

func TestHeartbeat_ExtendsLockLife(t *testing.T) {
	m, _ := newTestManager(t, newFakeLockStore())
	ctx := context.Background()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	m.Acquire(ctx, docKey, alice)

	current = current.Add(29 * time.Minute)
	if status := m.Heartbeat(docKey, alice); status != StatusOK {
		t.Fatalf("heartbeat = %s, want ok", status)
	}

	// 58 minutes after acquisition but only 29 since the heartbeat.
	current = current.Add(29 * time.Minute)
	res, _ := m.Acquire(ctx, docKey, bob)
	if res.Status != StatusConflict {
		t.Errorf("acquire against heartbeated lock = %s, want conflict", res.Status)
	}
}

func TestHeartbeat_StatusOutcomes(t *testing.T) {
	m, _ := newTestManager(t, newFakeLockStore())
	ctx := context.Background()

	if status := m.Heartbeat(docKey, alice); status != StatusNotLocked {
		t.Errorf("heartbeat without lock = %s, want not_locked", status)
	}
	m.Acquire(ctx, docKey, alice)
	if status := m.Heartbeat(docKey, bob); status != StatusNotHolder {
		t.Errorf("heartbeat by non-holder = %s, want not_holder", status)
	}
}

func TestRelease_WithoutLock(t *testing.T) {
	m, _ := newTestManager(t, newFakeLockStore())

	status, err := m.Release(context.Background(), docKey, alice)
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if status != StatusNotLocked {
		t.Errorf("release without lock = %s, want not_locked", status)
	}
}

func TestRelease_DeletesRecordAndBroadcastsNull(t *testing.T) {
	store := newFakeLockStore()
	m, h := newTestManager(t, store)
	ctx := context.Background()

	m.Acquire(ctx, docKey, alice)
	observer := h.Subscribe(docKey.Room(), "observer")

	status, err := m.Release(ctx, docKey, alice)
	if err != nil || status != StatusReleased {
		t.Fatalf("release = %s, %v; want released", status, err)
	}
	if store.has(docKey.Room()) {
		t.Error("lock record still persisted after release")
	}
	evs := drain(observer)
	if len(evs) != 1 {
		t.Fatalf("release broadcast %d events, want 1", len(evs))
	}
	if payload := evs[0].Payload.(core.LockUpdatedPayload); payload.Holder != nil {
		t.Errorf("release broadcast holder = %+v, want nil", payload.Holder)
	}
}

func TestForceRelease_AlwaysBroadcasts(t *testing.T) {
	m, h := newTestManager(t, newFakeLockStore())
	ctx := context.Background()

	observer := h.Subscribe(docKey.Room(), "observer")
	if err := m.ForceRelease(ctx, docKey); err != nil {
		t.Fatalf("force release of unlocked resource failed: %v", err)
	}
	if evs := drain(observer); len(evs) != 1 || evs[0].Name != core.EventLockUpdated {
		t.Errorf("force release on unlocked resource should still broadcast lock.updated")
	}

	m.Acquire(ctx, docKey, alice)
	drain(observer)
	if err := m.ForceRelease(ctx, docKey); err != nil {
		t.Fatalf("force release failed: %v", err)
	}
	if _, held := m.Holder(docKey); held {
		t.Error("lock still held after force release")
	}
	if status := m.Heartbeat(docKey, alice); status != StatusNotLocked {
		t.Errorf("heartbeat after force release = %s, want not_locked", status)
	}
}

func TestReapExpired_SweepsOnlyExpiredLocks(t *testing.T) {
	store := newFakeLockStore()
	m, h := newTestManager(t, store)
	ctx := context.Background()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	taskKey := core.ResourceKey{Kind: core.KindTask, ID: "t9"}
	m.Acquire(ctx, docKey, alice)
	current = current.Add(20 * time.Minute)
	m.Acquire(ctx, taskKey, bob)
	current = current.Add(15 * time.Minute)

	observer := h.Subscribe(docKey.Room(), "observer")
	count := m.ReapExpired(ctx)
	if count != 1 {
		t.Fatalf("reaped %d locks, want 1", count)
	}
	if store.has(docKey.Room()) {
		t.Error("expired lock record survived the sweep")
	}
	if !store.has(taskKey.Room()) {
		t.Error("fresh lock record was swept")
	}
	if evs := drain(observer); len(evs) != 1 {
		t.Errorf("sweep broadcast %d events to the expired room, want 1", len(evs))
	}
	if _, held := m.Holder(taskKey); !held {
		t.Error("fresh lock lost during sweep")
	}
}

func TestNewManager_RebuildsCacheFromStore(t *testing.T) {
	store := newFakeLockStore()
	now := time.Now()
	store.records["document:d1"] = core.LockRecord{
		ResourceID:        "document:d1",
		HolderActorID:     alice.ActorID,
		HolderDisplayName: alice.DisplayName,
		LockedAt:          now.Add(-5 * time.Minute),
	}
	store.records["task:t1"] = core.LockRecord{
		ResourceID:        "task:t1",
		HolderActorID:     bob.ActorID,
		HolderDisplayName: bob.DisplayName,
		LockedAt:          now.Add(-31 * time.Minute),
	}

	m, _ := newTestManager(t, store)

	lock, held := m.Holder(docKey)
	if !held {
		t.Fatal("fresh lock not restored")
	}
	if lock.Holder.ActorID != alice.ActorID {
		t.Errorf("restored holder = %s, want alice", lock.Holder.ActorID)
	}

	if _, held := m.Holder(core.ResourceKey{Kind: core.KindTask, ID: "t1"}); held {
		t.Error("expired record restored as live lock")
	}
	if store.has("task:t1") {
		t.Error("expired record not purged during load")
	}

	res, _ := m.Acquire(context.Background(), docKey, bob)
	if res.Status != StatusConflict {
		t.Errorf("acquire against restored lock = %s, want conflict", res.Status)
	}
}

func TestAcquire_StoreFailureLeavesNoTrace(t *testing.T) {
	store := newFakeLockStore()
	m, h := newTestManager(t, store)
	store.upsertErr = errors.New("disk full")

	observer := h.Subscribe(docKey.Room(), "observer")
	_, err := m.Acquire(context.Background(), docKey, alice)
	if err == nil {
		t.Fatal("acquire succeeded despite store failure")
	}
	if _, held := m.Holder(docKey); held {
		t.Error("lock cached despite store failure")
	}
	if evs := drain(observer); len(evs) != 0 {
		t.Errorf("broadcast %d events despite store failure", len(evs))
	}
}

func TestRelease_StoreFailureKeepsLock(t *testing.T) {
	store := newFakeLockStore()
	m, _ := newTestManager(t, store)
	ctx := context.Background()

	m.Acquire(ctx, docKey, alice)
	store.deleteErr = errors.New("disk full")

	if _, err := m.Release(ctx, docKey, alice); err == nil {
		t.Fatal("release succeeded despite store failure")
	}
	if _, held := m.Holder(docKey); !held {
		t.Error("lock dropped from cache despite failed delete")
	}
}
