package tools

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/malbeclabs/funnel-agent/pkg/olap"
	"github.com/olekukonko/tablewriter"
)

// formatResult renders a query result as a text table followed by a row
// count line.
func formatResult(res *olap.Result) string {
	var sb strings.Builder
	if len(res.Columns) > 0 {
		table := tablewriter.NewWriter(&sb)
		table.SetAutoWrapText(false)
		table.SetAutoFormatHeaders(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetBorder(true)
		table.SetHeader(res.Columns)
		for _, row := range res.Rows {
			cells := make([]string, len(row))
			for i, v := range row {
				cells[i] = formatValue(v)
			}
			table.Append(cells)
		}
		table.Render()
	}

	switch n := res.Count(); n {
	case 1:
		sb.WriteString("(1 row)")
	default:
		fmt.Fprintf(&sb, "(%d rows)", n)
	}
	return sb.String()
}

func formatValue(v any) string {
	switch vv := v.(type) {
	case nil:
		return "NULL"
	case string:
		return vv
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(vv), 'f', -1, 32)
	case time.Time:
		return vv.UTC().Format(time.RFC3339)
	case []any:
		parts := make([]string, len(vv))
		for i, e := range vv {
			parts[i] = formatValue(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []string:
		return "[" + strings.Join(vv, ", ") + "]"
	default:
		return fmt.Sprint(vv)
	}
}
