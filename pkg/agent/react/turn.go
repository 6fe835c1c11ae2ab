package react

import "fmt"

// TurnKind tags a Turn.
type TurnKind int

const (
	TurnUnknown TurnKind = iota
	TurnUser
	TurnAgent
	TurnToolResult
)

func (k TurnKind) String() string {
	switch k {
	case TurnUser:
		return "user"
	case TurnAgent:
		return "agent"
	case TurnToolResult:
		return "tool_result"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Turn is one step of a question's stream: the user's message, an agent
// response with optional tool requests, the result of one tool invocation,
// or a block the loop did not recognize.
type Turn struct {
	Kind    TurnKind
	Content string
	// Round is the 1-based model round that produced the turn. User turns
	// carry the round they are sent with.
	Round int

	// ToolUses is set on agent turns, in the order the model requested them.
	ToolUses []ToolUse

	// ToolName, ToolUseID and IsError are set on tool result turns.
	ToolName  string
	ToolUseID string
	IsError   bool
}

// HasToolUses reports whether an agent turn requested at least one tool.
func (t Turn) HasToolUses() bool {
	return t.Kind == TurnAgent && len(t.ToolUses) > 0
}

// RequestsTool returns the first request for the named tool.
func (t Turn) RequestsTool(name string) (ToolUse, bool) {
	if t.Kind != TurnAgent {
		return ToolUse{}, false
	}
	for _, tu := range t.ToolUses {
		if tu.Name == name {
			return tu, true
		}
	}
	return ToolUse{}, false
}
