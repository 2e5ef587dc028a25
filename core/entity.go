package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies the type of workspace resource collaboration happens on.
type Kind string

const (
	KindDocument Kind = "document"
	KindTask     Kind = "task"
	KindFile     Kind = "file"
	KindSchema   Kind = "schema"
	KindPassword Kind = "password"
)

var (
	ErrUnknownKind   = errors.New("unknown resource kind")
	ErrEmptyResource = errors.New("empty resource id")
)

type (
	// ResourceKey names one collaborable resource within the workspace.
	ResourceKey struct {
		Kind Kind   `json:"kind"`
		ID   string `json:"id"`
	}

	// Actor is a human user or an AI agent acting on a resource. A human
	// and their agent share an ActorID but are distinct occupants.
	Actor struct {
		ActorID     string `json:"actor_id"`
		DisplayName string `json:"display_name"`
		IsAgent     bool   `json:"is_agent"`
		AgentName   string `json:"agent_name,omitempty"`
	}

	// Cursor is a caret position plus an optional selection range.
	Cursor struct {
		Position       int  `json:"position"`
		Line           int  `json:"line"`
		Column         int  `json:"column"`
		SelectionStart *int `json:"selection_start"`
		SelectionEnd   *int `json:"selection_end"`
	}

	// PresenceEntry is one live connection viewing or editing a resource.
	PresenceEntry struct {
		ConnectionID string    `json:"connection_id"`
		Actor        Actor     `json:"actor"`
		Color        string    `json:"color"`
		Cursor       *Cursor   `json:"cursor,omitempty"`
		JoinedAt     time.Time `json:"joined_at"`
		LastActivity time.Time `json:"last_activity"`
	}

	// Lock is the in-memory view of an advisory edit lock.
	Lock struct {
		Key           ResourceKey
		Holder        Actor
		AcquiredAt    time.Time
		LastHeartbeat time.Time
		TTL           time.Duration
	}

	// LockRecord is the persisted shape of a lock.
	LockRecord struct {
		ResourceID        string    `json:"resource_id"`
		HolderActorID     string    `json:"holder_actor_id"`
		HolderDisplayName string    `json:"holder_display_name"`
		LockedAt          time.Time `json:"locked_at"`
	}

	// StreamingSession tracks one progressive agent insertion.
	StreamingSession struct {
		SessionID       string      `json:"session_id"`
		Key             ResourceKey `json:"resource"`
		Actor           Actor       `json:"actor"`
		StartPosition   int         `json:"start_position"`
		CurrentPosition int         `json:"current_position"`
		StartedAt       time.Time   `json:"started_at"`
		Active          bool        `json:"active"`
	}

	// ActivityEntry is one audit record of a collaboration operation.
	ActivityEntry struct {
		ID         string    `json:"id"`
		ActorID    string    `json:"actor_id"`
		Action     string    `json:"action"`
		ResourceID string    `json:"resource_id"`
		Detail     string    `json:"detail,omitempty"`
		CreatedAt  time.Time `json:"created_at"`
	}

	LockStore interface {
		Upsert(ctx context.Context, record LockRecord) error
		Delete(ctx context.Context, resourceID string) error
		List(ctx context.Context) ([]LockRecord, error)
	}

	ActivityStore interface {
		Record(ctx context.Context, entry ActivityEntry) error
		Recent(ctx context.Context, resourceID string, limit int) ([]ActivityEntry, error)
	}

	// AccessPolicy answers whether an actor may mutate a resource. The
	// workspace's authorization layer supplies the real implementation.
	AccessPolicy interface {
		CanEdit(ctx context.Context, actor Actor, key ResourceKey) bool
	}

	AccessPolicyFunc func(ctx context.Context, actor Actor, key ResourceKey) bool
)

func (f AccessPolicyFunc) CanEdit(ctx context.Context, actor Actor, key ResourceKey) bool {
	return f(ctx, actor, key)
}

func (k Kind) Valid() bool {
	switch k {
	case KindDocument, KindTask, KindFile, KindSchema, KindPassword:
		return true
	}
	return false
}

// Room is the canonical broadcast room name for the resource.
func (r ResourceKey) Room() string {
	return string(r.Kind) + ":" + r.ID
}

func (r ResourceKey) String() string {
	return r.Room()
}

// ParseResourceKey parses the "<kind>:<id>" form used on the wire.
func ParseResourceKey(s string) (ResourceKey, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return ResourceKey{}, ErrEmptyResource
	}
	k := Kind(kind)
	if !k.Valid() {
		return ResourceKey{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return ResourceKey{Kind: k, ID: id}, nil
}

// OccupantKey is the identity presence deduplicates on. An agent never
// collapses into its owner's human connection.
func (a Actor) OccupantKey() string {
	if a.IsAgent {
		return a.ActorID + "_agent"
	}
	return a.ActorID
}

// Expired reports whether the lock's TTL has lapsed without a heartbeat.
func (l Lock) Expired(now time.Time) bool {
	return now.Sub(l.LastHeartbeat) > l.TTL
}

// Record converts the in-memory lock to its persisted shape.
func (l Lock) Record() LockRecord {
	return LockRecord{
		ResourceID:        l.Key.Room(),
		HolderActorID:     l.Holder.ActorID,
		HolderDisplayName: l.Holder.DisplayName,
		LockedAt:          l.AcquiredAt,
	}
}
