package tools

import (
	"strings"
	"testing"
	"time"

	"github.com/malbeclabs/funnel-agent/pkg/olap"
	"github.com/stretchr/testify/assert"
)

func TestFormatResult(t *testing.T) {
	t.Parallel()

	out := formatResult(&olap.Result{
		Columns: []string{"step", "users"},
		Rows: [][]any{
			{"view", int64(100)},
			{"purchase", nil},
		},
	})

	lines := strings.Split(out, "\n")
	assert.Equal(t, "(2 rows)", lines[len(lines)-1])
	assert.Contains(t, out, "| step     | users |")
	assert.Contains(t, out, "| view     | 100   |")
	assert.Contains(t, out, "| purchase | NULL  |")
}

func TestFormatResult_Empty(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "(0 rows)", formatResult(&olap.Result{}))

	out := formatResult(&olap.Result{Columns: []string{"cnt"}, Rows: [][]any{{int64(1)}}})
	assert.True(t, strings.HasSuffix(out, "(1 row)"))
}

func TestFormatValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want string
	}{
		{nil, "NULL"},
		{"x", "x"},
		{int64(7), "7"},
		{0.25, "0.25"},
		{float32(1.5), "1.5"},
		{1e21, "1000000000000000000000"},
		{true, "true"},
		{time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), "2024-01-02T03:04:05Z"},
		{[]any{int64(100), int64(14)}, "[100, 14]"},
		{[]string{"a", "b"}, "[a, b]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatValue(tt.in))
	}
}
