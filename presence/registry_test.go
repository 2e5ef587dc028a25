package presence

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"collab-server/core"
	"collab-server/hub"
)

var docKey = core.ResourceKey{Kind: core.KindDocument, ID: "d1"}

func newTestRegistry() (*Registry, *hub.Hub) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	h := hub.New(64, logger)
	return NewRegistry(h, logger), h
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

func human(id, name string) core.Actor {
	return core.Actor{ActorID: id, DisplayName: name}
}

func agent(id, name, agentName string) core.Actor {
	return core.Actor{ActorID: id, DisplayName: name, IsAgent: true, AgentName: agentName}
}

func TestJoin_ReturnsRosterAndAssignsPaletteColors(t *testing.T) {
	reg, _ := newTestRegistry()

	roster := reg.Join(docKey, "c1", human("u1", "Ada"), nil)
	if len(roster) != 1 {
		t.Fatalf("roster length = %d, want 1", len(roster))
	}
	if roster[0].Color != userColors[0] {
		t.Errorf("first occupant color = %s, want %s", roster[0].Color, userColors[0])
	}

	roster = reg.Join(docKey, "c2", human("u2", "Ben"), nil)
	if len(roster) != 2 {
		t.Fatalf("roster length = %d, want 2", len(roster))
	}
	if roster[1].Color != userColors[1] {
		t.Errorf("second occupant color = %s, want %s", roster[1].Color, userColors[1])
	}
}

func TestJoin_PublishesJoinThenRoster(t *testing.T) {
	reg, h := newTestRegistry()
	observer := h.Subscribe(docKey.Room(), "observer")

	reg.Join(docKey, "c1", human("u1", "Ada"), nil)

	evs := drain(observer)
	if len(evs) != 2 {
		t.Fatalf("observer got %d events, want 2", len(evs))
	}
	if evs[0].Name != core.EventPresenceJoin || evs[1].Name != core.EventPresenceRoster {
		t.Errorf("event order = %s, %s", evs[0].Name, evs[1].Name)
	}
	join := evs[0].Payload.(core.PresenceJoinPayload)
	if join.Actor.ActorID != "u1" || join.Color != userColors[0] {
		t.Errorf("unexpected join payload: %+v", join)
	}
}

func TestJoin_SameOccupantEvictsStaleConnection(t *testing.T) {
	reg, h := newTestRegistry()
	reg.Join(docKey, "c1", human("u1", "Ada"), nil)

	observer := h.Subscribe(docKey.Room(), "observer")
	roster := reg.Join(docKey, "c2", human("u1", "Ada"), nil)

	if len(roster) != 1 {
		t.Fatalf("roster length = %d, want 1", len(roster))
	}
	if roster[0].ConnectionID != "c2" {
		t.Errorf("surviving connection = %s, want c2", roster[0].ConnectionID)
	}

	evs := drain(observer)
	leaveIdx, joinIdx := -1, -1
	for i, ev := range evs {
		switch ev.Name {
		case core.EventPresenceLeave:
			leaveIdx = i
		case core.EventPresenceJoin:
			joinIdx = i
		}
	}
	if leaveIdx == -1 || joinIdx == -1 {
		t.Fatalf("missing leave or join event, got %d events", len(evs))
	}
	if leaveIdx > joinIdx {
		t.Error("stale connection's leave observed after the new join")
	}
}

func TestJoin_AgentIsSeparateOccupant(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.Join(docKey, "c1", human("u1", "Ada"), nil)

	roster := reg.Join(docKey, "c2", agent("u1", "Ada (agent)", "claude"), nil)
	if len(roster) != 2 {
		t.Fatalf("roster length = %d, want 2", len(roster))
	}

	var agentEntry *core.PresenceEntry
	for i := range roster {
		if roster[i].Actor.IsAgent {
			agentEntry = &roster[i]
		}
	}
	if agentEntry == nil {
		t.Fatal("agent missing from roster")
	}
	if agentEntry.Color != "#FF6B35" {
		t.Errorf("agent color = %s, want #FF6B35", agentEntry.Color)
	}
}

func TestJoin_ColorStableAcrossReconnect(t *testing.T) {
	reg, _ := newTestRegistry()
	first := reg.Join(docKey, "c1", human("u1", "Ada"), nil)

	// Reconnect as the sole occupant; the room momentarily empties but
	// the color assignment must hold.
	second := reg.Join(docKey, "c2", human("u1", "Ada"), nil)
	if second[0].Color != first[0].Color {
		t.Errorf("color changed across reconnect: %s -> %s", first[0].Color, second[0].Color)
	}
}

func TestLeave_EmptyRoomResetsPalette(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.Join(docKey, "c1", human("u1", "Ada"), nil)
	reg.Join(docKey, "c2", human("u2", "Ben"), nil)
	reg.Leave(docKey, "c1")
	reg.Leave(docKey, "c2")

	roster := reg.Join(docKey, "c3", human("u3", "Cyd"), nil)
	if roster[0].Color != userColors[0] {
		t.Errorf("palette not reset after room emptied: got %s, want %s", roster[0].Color, userColors[0])
	}
}

func TestLeave_UnknownConnectionIsSilent(t *testing.T) {
	reg, h := newTestRegistry()
	observer := h.Subscribe(docKey.Room(), "observer")

	reg.Leave(docKey, "ghost")

	if evs := drain(observer); len(evs) != 0 {
		t.Errorf("leave of unknown connection published %d events", len(evs))
	}
}

func TestLeaveAll_RemovesEveryOccupancy(t *testing.T) {
	reg, _ := newTestRegistry()
	taskKey := core.ResourceKey{Kind: core.KindTask, ID: "t1"}
	reg.Join(docKey, "c1", human("u1", "Ada"), nil)
	reg.Join(taskKey, "c1", human("u1", "Ada"), nil)
	reg.Join(docKey, "c2", human("u2", "Ben"), nil)

	keys := reg.LeaveAll("c1")
	if len(keys) != 2 {
		t.Fatalf("LeaveAll affected %d resources, want 2", len(keys))
	}
	if len(reg.Roster(taskKey)) != 0 {
		t.Error("task roster not empty after LeaveAll")
	}
	if got := reg.Roster(docKey); len(got) != 1 || got[0].ConnectionID != "c2" {
		t.Errorf("document roster = %+v, want only c2", got)
	}
}

func TestUpdateCursor_RelaysToOthersOnly(t *testing.T) {
	reg, h := newTestRegistry()
	reg.Join(docKey, "c1", human("u1", "Ada"), nil)
	reg.Join(docKey, "c2", human("u2", "Ben"), nil)

	sender := h.Subscribe(docKey.Room(), "c1")
	peer := h.Subscribe(docKey.Room(), "c2")

	sel := 7
	reg.UpdateCursor(docKey, "c1", core.Cursor{Position: 42, Line: 3, Column: 5, SelectionStart: &sel})

	if evs := drain(sender); len(evs) != 0 {
		t.Errorf("sender received its own cursor event")
	}
	evs := drain(peer)
	if len(evs) != 1 || evs[0].Name != core.EventPresenceCursor {
		t.Fatalf("peer events = %+v, want one presence.cursor", evs)
	}
	payload := evs[0].Payload.(core.PresenceCursorPayload)
	if payload.ActorID != "u1" || payload.CursorPosition != 42 || payload.CursorLine != 3 {
		t.Errorf("unexpected cursor payload: %+v", payload)
	}
	if payload.SelectionStart == nil || *payload.SelectionStart != 7 {
		t.Errorf("selection start not relayed: %+v", payload.SelectionStart)
	}
}

func TestUpdateCursor_UnknownConnectionIsSilent(t *testing.T) {
	reg, h := newTestRegistry()
	reg.Join(docKey, "c1", human("u1", "Ada"), nil)
	observer := h.Subscribe(docKey.Room(), "observer")

	reg.UpdateCursor(docKey, "ghost", core.Cursor{Position: 1})

	if evs := drain(observer); len(evs) != 0 {
		t.Errorf("cursor update for unknown connection published %d events", len(evs))
	}
}

func TestReapStale_EvictsOnlyExpiredEntries(t *testing.T) {
	reg, _ := newTestRegistry()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return current }

	reg.Join(docKey, "c1", human("u1", "Ada"), nil)
	reg.Join(docKey, "c2", human("u2", "Ben"), nil)

	current = current.Add(61 * time.Second)
	reg.Heartbeat(docKey, "c2")

	count := reg.ReapStale(60 * time.Second)
	if count != 1 {
		t.Fatalf("reaped %d entries, want 1", count)
	}
	roster := reg.Roster(docKey)
	if len(roster) != 1 || roster[0].ConnectionID != "c2" {
		t.Errorf("roster after reap = %+v, want only c2", roster)
	}
}

func TestReapStale_FreshEntriesSurvive(t *testing.T) {
	reg, _ := newTestRegistry()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return current }

	reg.Join(docKey, "c1", human("u1", "Ada"), nil)
	current = current.Add(30 * time.Second)

	if count := reg.ReapStale(60 * time.Second); count != 0 {
		t.Errorf("reaped %d fresh entries", count)
	}
	if reg.Count() != 1 {
		t.Errorf("Count = %d, want 1", reg.Count())
	}
}

func TestRoster_DeduplicatesByOccupant(t *testing.T) {
	reg, _ := newTestRegistry()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return current }

	reg.Join(docKey, "c1", human("u1", "Ada"), nil)
	current = current.Add(time.Second)
	reg.Join(docKey, "c2", agent("u1", "Ada (agent)", "cursor"), nil)

	roster := reg.Roster(docKey)
	if len(roster) != 2 {
		t.Fatalf("roster length = %d, want 2", len(roster))
	}
	if roster[0].ConnectionID != "c1" || roster[1].ConnectionID != "c2" {
		t.Errorf("roster not ordered by join time: %+v", roster)
	}
}

func TestHeartbeat_UnknownConnectionIsSilent(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.Heartbeat(docKey, "ghost")

	if reg.Count() != 0 {
		t.Errorf("heartbeat created an entry")
	}
}
