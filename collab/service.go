// Package collab assembles the hub, presence registry, lock manager, and
// streaming manager into one service and runs the periodic reaper that
// drives presence and lock expiry.
package collab

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"collab-server/core"
	"collab-server/hub"
	"collab-server/locks"
	"collab-server/presence"
	"collab-server/streaming"
)

// Settings are the collaboration tunables, already resolved to durations.
type Settings struct {
	LockTTL        time.Duration
	PresenceMaxAge time.Duration
	ReapInterval   time.Duration
	StreamGrace    time.Duration
	EventBuffer    int
}

type Service struct {
	Hub      *hub.Hub
	Presence *presence.Registry
	Locks    *locks.Manager
	Streams  *streaming.Manager

	activity core.ActivityStore
	log      *logrus.Entry
	settings Settings
}

func NewService(ctx context.Context, lockStore core.LockStore, activity core.ActivityStore, settings Settings, logger *logrus.Logger) (*Service, error) {
	h := hub.New(settings.EventBuffer, logger)
	registry := presence.NewRegistry(h, logger)
	lockManager, err := locks.NewManager(ctx, lockStore, h, settings.LockTTL, logger)
	if err != nil {
		return nil, err
	}
	return &Service{
		Hub:      h,
		Presence: registry,
		Locks:    lockManager,
		Streams:  streaming.NewManager(h, registry, settings.StreamGrace, logger),
		activity: activity,
		log:      logger.WithField("component", "collab"),
		settings: settings,
	}, nil
}

// Run drives the stale reaper until ctx is cancelled. Call it from a
// goroutine at startup.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.settings.ReapInterval)
	defer ticker.Stop()

	s.log.WithFields(logrus.Fields{
		"interval":         s.settings.ReapInterval,
		"presence_max_age": s.settings.PresenceMaxAge,
		"lock_ttl":         s.settings.LockTTL,
	}).Info("stale reaper running")

	for {
		select {
		case <-ctx.Done():
			s.log.Info("stale reaper stopped")
			return
		case <-ticker.C:
			stalePresence := s.Presence.ReapStale(s.settings.PresenceMaxAge)
			expiredLocks := s.Locks.ReapExpired(ctx)
			if stalePresence > 0 || expiredLocks > 0 {
				s.log.WithFields(logrus.Fields{
					"presence": stalePresence,
					"locks":    expiredLocks,
				}).Info("reaper swept")
			}
		}
	}
}

// Close releases background resources held by the managers.
func (s *Service) Close() {
	s.Streams.Close()
}

// DisconnectConnection handles a transport drop: presence is withdrawn
// everywhere and subscriptions closed. Locks stay held. Agents keep their
// edit claim across reconnects and give it up only by releasing or by TTL.
func (s *Service) DisconnectConnection(connectionID string) []core.ResourceKey {
	keys := s.Presence.LeaveAll(connectionID)
	s.Hub.UnsubscribeAll(connectionID)
	if len(keys) > 0 {
		s.log.WithFields(logrus.Fields{
			"connection": connectionID,
			"resources":  len(keys),
		}).Info("connection disconnected")
	}
	return keys
}

// BroadcastContentChange relays an applied edit to the resource's room.
// The workspace CRUD layer calls this after persisting content.
func (s *Service) BroadcastContentChange(key core.ResourceKey, actor core.Actor, changeType string, position int, text string, length int) {
	s.Hub.Publish(key.Room(), core.ContentChanged(actor, changeType, position, text, length))
}

// BroadcastContentSync pushes a full-state snapshot for clients to
// reconcile against, covering anything lost to dropped events.
func (s *Service) BroadcastContentSync(key core.ResourceKey, content string, version int64) {
	s.Hub.Publish(key.Room(), core.ContentSynced(content, version))
}

// RecordActivity writes an audit entry. Failures are logged and dropped so
// the operation that triggered the entry is never failed by its audit trail.
func (s *Service) RecordActivity(ctx context.Context, actor core.Actor, action string, key core.ResourceKey, detail string) {
	entry := core.ActivityEntry{
		ID:         ulid.Make().String(),
		ActorID:    actor.ActorID,
		Action:     action,
		ResourceID: key.String(),
		Detail:     detail,
		CreatedAt:  time.Now(),
	}
	if err := s.activity.Record(ctx, entry); err != nil {
		s.log.WithError(err).Warn("failed to record activity")
	}
}

// RecentActivity lists the newest audit entries for a resource.
func (s *Service) RecentActivity(ctx context.Context, key core.ResourceKey, limit int) ([]core.ActivityEntry, error) {
	return s.activity.Recent(ctx, key.String(), limit)
}
