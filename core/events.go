package core

import "time"

// Event names broadcast to resource rooms.
const (
	EventPresenceJoin   = "presence.join"
	EventPresenceLeave  = "presence.leave"
	EventPresenceRoster = "presence.roster"
	EventPresenceCursor = "presence.cursor"
	EventLockUpdated    = "lock.updated"
	EventStreamStart    = "stream.start"
	EventStreamChunk    = "stream.chunk"
	EventStreamEnd      = "stream.end"
	EventContentChange  = "content.change"
	EventContentSync    = "content.sync"
)

// Content change types carried by content.change.
const (
	ChangeInsert  = "insert"
	ChangeDelete  = "delete"
	ChangeReplace = "replace"
)

type (
	// Event is the envelope delivered to room subscribers. Payload is
	// always one of the concrete payload structs below.
	Event struct {
		Name    string `json:"event"`
		Payload any    `json:"payload"`
	}

	PresenceJoinPayload struct {
		Actor Actor  `json:"actor"`
		Color string `json:"color"`
	}

	PresenceLeavePayload struct {
		ActorID     string `json:"actor_id"`
		DisplayName string `json:"display_name"`
	}

	PresenceRosterPayload struct {
		Occupants []PresenceEntry `json:"occupants"`
	}

	PresenceCursorPayload struct {
		ActorID        string `json:"actor_id"`
		DisplayName    string `json:"display_name"`
		Color          string `json:"color"`
		IsAgent        bool   `json:"is_agent"`
		CursorPosition int    `json:"cursor_position"`
		CursorLine     int    `json:"cursor_line"`
		CursorColumn   int    `json:"cursor_column"`
		SelectionStart *int   `json:"selection_start"`
		SelectionEnd   *int   `json:"selection_end"`
	}

	// LockHolder identifies who holds a lock. A nil holder in
	// LockUpdatedPayload means the resource is unlocked.
	LockHolder struct {
		ActorID     string    `json:"actor_id"`
		DisplayName string    `json:"display_name"`
		AcquiredAt  time.Time `json:"acquired_at"`
	}

	LockUpdatedPayload struct {
		Holder *LockHolder `json:"holder"`
	}

	StreamStartPayload struct {
		SessionID   string `json:"session_id"`
		ActorID     string `json:"actor_id"`
		DisplayName string `json:"display_name"`
		AgentName   string `json:"agent_name"`
		Position    int    `json:"position"`
		Color       string `json:"color"`
	}

	StreamChunkPayload struct {
		SessionID string `json:"session_id"`
		ActorID   string `json:"actor_id"`
		Text      string `json:"text"`
		Position  int    `json:"position"`
		AgentName string `json:"agent_name"`
	}

	StreamEndPayload struct {
		SessionID     string `json:"session_id"`
		ActorID       string `json:"actor_id"`
		AgentName     string `json:"agent_name"`
		FinalPosition int    `json:"final_position"`
	}

	ContentChangePayload struct {
		ActorID     string `json:"actor_id"`
		DisplayName string `json:"display_name"`
		ChangeType  string `json:"change_type"`
		Position    int    `json:"position"`
		Text        string `json:"text,omitempty"`
		Length      int    `json:"length,omitempty"`
		IsAgent     bool   `json:"is_agent"`
	}

	ContentSyncPayload struct {
		Content string `json:"content"`
		Version int64  `json:"version"`
	}
)

func PresenceJoined(actor Actor, color string) Event {
	return Event{Name: EventPresenceJoin, Payload: PresenceJoinPayload{Actor: actor, Color: color}}
}

func PresenceLeft(actor Actor) Event {
	return Event{Name: EventPresenceLeave, Payload: PresenceLeavePayload{
		ActorID:     actor.ActorID,
		DisplayName: actor.DisplayName,
	}}
}

func PresenceRosterChanged(occupants []PresenceEntry) Event {
	return Event{Name: EventPresenceRoster, Payload: PresenceRosterPayload{Occupants: occupants}}
}

func PresenceCursorMoved(entry PresenceEntry, cursor Cursor) Event {
	return Event{Name: EventPresenceCursor, Payload: PresenceCursorPayload{
		ActorID:        entry.Actor.ActorID,
		DisplayName:    entry.Actor.DisplayName,
		Color:          entry.Color,
		IsAgent:        entry.Actor.IsAgent,
		CursorPosition: cursor.Position,
		CursorLine:     cursor.Line,
		CursorColumn:   cursor.Column,
		SelectionStart: cursor.SelectionStart,
		SelectionEnd:   cursor.SelectionEnd,
	}}
}

// LockUpdated announces the lock state of a resource. Pass nil when the
// lock was released or forced open.
func LockUpdated(holder *LockHolder) Event {
	return Event{Name: EventLockUpdated, Payload: LockUpdatedPayload{Holder: holder}}
}

func StreamStarted(session StreamingSession, color string) Event {
	return Event{Name: EventStreamStart, Payload: StreamStartPayload{
		SessionID:   session.SessionID,
		ActorID:     session.Actor.ActorID,
		DisplayName: session.Actor.DisplayName,
		AgentName:   session.Actor.AgentName,
		Position:    session.StartPosition,
		Color:       color,
	}}
}

func StreamChunked(session StreamingSession, text string) Event {
	return Event{Name: EventStreamChunk, Payload: StreamChunkPayload{
		SessionID: session.SessionID,
		ActorID:   session.Actor.ActorID,
		Text:      text,
		Position:  session.CurrentPosition,
		AgentName: session.Actor.AgentName,
	}}
}

func StreamEnded(session StreamingSession) Event {
	return Event{Name: EventStreamEnd, Payload: StreamEndPayload{
		SessionID:     session.SessionID,
		ActorID:       session.Actor.ActorID,
		AgentName:     session.Actor.AgentName,
		FinalPosition: session.CurrentPosition,
	}}
}

func ContentChanged(actor Actor, changeType string, position int, text string, length int) Event {
	return Event{Name: EventContentChange, Payload: ContentChangePayload{
		ActorID:     actor.ActorID,
		DisplayName: actor.DisplayName,
		ChangeType:  changeType,
		Position:    position,
		Text:        text,
		Length:      length,
		IsAgent:     actor.IsAgent,
	}}
}

func ContentSynced(content string, version int64) Event {
	return Event{Name: EventContentSync, Payload: ContentSyncPayload{Content: content, Version: version}}
}
