package react

import "fmt"

const (
	truncationNoticeEstimate = 120
	truncationSearchWindow   = 500
)

// truncateToolResult cuts text to at most maxLen characters, preferring a
// row boundary, and appends a notice with the original length.
func truncateToolResult(text string, maxLen int) string {
	if maxLen <= 0 || len(text) <= maxLen {
		return text
	}

	cutoff := maxLen - truncationNoticeEstimate
	if cutoff <= 0 {
		cutoff = maxLen / 2
	}

	boundary := cutoff
	window := min(truncationSearchWindow, cutoff)
	for i := cutoff; i > cutoff-window && i > 0; i-- {
		if text[i] == '\n' {
			boundary = i + 1
			break
		}
		if boundary == cutoff && (text[i] == ',' || text[i] == ' ') {
			boundary = i + 1
		}
	}

	truncated := text[:boundary]
	notice := formatTruncationNotice(len(text), len(truncated))
	if len(truncated)+len(notice) > maxLen {
		if cut := maxLen - len(notice); cut > 0 {
			truncated = text[:cut]
		}
	}
	return truncated + notice
}

func formatTruncationNotice(original, shown int) string {
	return fmt.Sprintf("\n\n[Result truncated from %d to %d characters to avoid token limits]", original, shown)
}
