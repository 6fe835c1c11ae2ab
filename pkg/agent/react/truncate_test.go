package react

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReact_TruncateToolResult(t *testing.T) {
	t.Parallel()

	t.Run("short text unchanged", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "a | b\n1 | 2", truncateToolResult("a | b\n1 | 2", 1000))
	})

	t.Run("cuts at row boundary", func(t *testing.T) {
		t.Parallel()
		var sb strings.Builder
		for i := 0; i < 200; i++ {
			sb.WriteString("user_000 | view | 1700000000000\n")
		}
		text := sb.String()

		out := truncateToolResult(text, 1000)
		assert.LessOrEqual(t, len(out), 1000)
		assert.Contains(t, out, "[Result truncated from")
		body := out[:strings.Index(out, "\n\n[Result truncated")]
		assert.True(t, strings.HasSuffix(body, "\n"), "expected cut after a full row")
	})

	t.Run("no boundary", func(t *testing.T) {
		t.Parallel()
		out := truncateToolResult(strings.Repeat("x", 5000), 400)
		assert.LessOrEqual(t, len(out), 400)
		assert.Contains(t, out, "from 5000 to")
	})
}
