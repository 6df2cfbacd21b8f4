package dialogue

import (
	"strings"

	"github.com/tidwall/gjson"
)

const (
	sentinelContinue   = "CONTINUE"
	interjectionPrefix = "INTERJECT:"
)

// extractModeratorContent unwraps a moderator response that arrives as a
// JSON envelope (some model servers wrap completions in {"content": "..."}),
// falling back to the raw text when it is not a JSON object at all.
func extractModeratorContent(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !gjson.Valid(trimmed) {
		return trimmed
	}
	result := gjson.Get(trimmed, "content")
	if !result.Exists() {
		return trimmed
	}
	return result.String()
}

// moderatorVerdict is the parsed outcome of one moderator probe.
type moderatorVerdict struct {
	interject bool
	guidance  string
}

// parseModeratorResponse implements the CONTINUE / INTERJECT: / ambiguous
// protocol. Any response that is neither the exact CONTINUE sentinel nor an
// INTERJECT:-prefixed line is treated as ambiguous and resolves to no
// interjection — the conservative default.
func parseModeratorResponse(raw string) moderatorVerdict {
	content := strings.TrimSpace(extractModeratorContent(raw))

	if content == sentinelContinue {
		return moderatorVerdict{}
	}
	if strings.HasPrefix(content, interjectionPrefix) {
		guidance := strings.TrimSpace(strings.TrimPrefix(content, interjectionPrefix))
		return moderatorVerdict{interject: true, guidance: guidance}
	}
	return moderatorVerdict{}
}
