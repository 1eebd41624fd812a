package backend

import "strings"

// parseSSEData extracts the first non-empty "data:" line content from an
// accumulated event-stream body.
func parseSSEData(raw string) (string, bool) {
	for _, line := range strings.Split(raw, "\n") {
		rest, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		rest = strings.TrimSpace(rest)
		if rest != "" {
			return rest, true
		}
	}
	return "", false
}
