package presence

import "strings"

// userColors is the round-robin palette for human occupants. Assignment is
// per room and resets when the room empties.
var userColors = []string{
	"#e6194b",
	"#3cb44b",
	"#4363d8",
	"#f58231",
	"#911eb4",
	"#c71585",
	"#f032e6",
	"#469990",
	"#9a6324",
	"#800000",
	"#808000",
	"#000075",
	"#808080",
	"#d63384",
	"#0d6efd",
	"#198754",
	"#6f42c1",
	"#dc3545",
	"#0dcaf0",
	"#fd7e14",
}

// agentColors keys on the lowercase agent name. Agents never draw from the
// round-robin palette, so their colors stay distinct from user colors.
var agentColors = map[string]string{
	"cursor":   "#A855F7",
	"claude":   "#FF6B35",
	"windsurf": "#00D4FF",
	"copilot":  "#24292E",
}

const defaultAgentColor = "#9333EA"

// AgentColor returns the fixed color for an agent by name.
func AgentColor(agentName string) string {
	if c, ok := agentColors[strings.ToLower(agentName)]; ok {
		return c
	}
	return defaultAgentColor
}

// colorState tracks palette assignment for one room. The first occupant
// with a given actor id keeps their color for as long as the room stays
// occupied.
type colorState struct {
	next     int
	assigned map[string]string
}

func newColorState() *colorState {
	return &colorState{assigned: make(map[string]string)}
}

func (cs *colorState) colorFor(actorID string) string {
	if c, ok := cs.assigned[actorID]; ok {
		return c
	}
	c := userColors[cs.next%len(userColors)]
	cs.next++
	cs.assigned[actorID] = c
	return c
}
