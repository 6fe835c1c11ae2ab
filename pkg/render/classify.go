// Package render decides how each agent turn is shown and writes it to the
// terminal.
package render

import (
	"github.com/malbeclabs/funnel-agent/pkg/agent/react"
	"github.com/malbeclabs/funnel-agent/pkg/agent/tools"
)

// ActionKind is what the renderer does with a turn.
type ActionKind int

const (
	ActionSuppress ActionKind = iota
	ActionCode
	ActionResult
	ActionFinalAnswer
)

func (k ActionKind) String() string {
	switch k {
	case ActionSuppress:
		return "suppress"
	case ActionCode:
		return "code"
	case ActionResult:
		return "result"
	case ActionFinalAnswer:
		return "final_answer"
	default:
		return "unknown"
	}
}

// Action is the classification of one turn.
type Action struct {
	Kind ActionKind
	// Content is the final answer or raw query result text.
	Content string
	// Queries holds the query text of every sql_db_query request of a code
	// action, in request order.
	Queries []string
	// Unrecognized is set on final answers built from a turn kind the
	// classifier does not know.
	Unrecognized bool
}

// Classify maps a turn to its render action. It depends only on the turn.
func Classify(turn react.Turn) Action {
	switch turn.Kind {
	case react.TurnUser:
		return Action{Kind: ActionSuppress}

	case react.TurnAgent:
		var queries []string
		for _, tu := range turn.ToolUses {
			if tu.Name != tools.QueryToolName {
				continue
			}
			if q, ok := tu.Input["query"].(string); ok {
				queries = append(queries, q)
			}
		}
		switch {
		case len(queries) > 0:
			return Action{Kind: ActionCode, Queries: queries}
		case len(turn.ToolUses) > 0 || turn.Content == "":
			return Action{Kind: ActionSuppress}
		default:
			return Action{Kind: ActionFinalAnswer, Content: turn.Content}
		}

	case react.TurnToolResult:
		if turn.ToolName == tools.QueryToolName {
			return Action{Kind: ActionResult, Content: turn.Content}
		}
		return Action{Kind: ActionSuppress}

	default:
		return Action{Kind: ActionFinalAnswer, Content: turn.Content, Unrecognized: true}
	}
}
