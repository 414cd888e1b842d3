package refine

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fence = regexp.MustCompile("(?s)```(?:json)?\\s*\n?(.*?)\\s*```")

// ExtractJSON strips a markdown code fence around a model reply, if any.
func ExtractJSON(output []byte) []byte {
	s := strings.TrimSpace(string(output))
	if strings.HasPrefix(s, "```") {
		if m := fence.FindStringSubmatch(s); len(m) > 1 {
			s = strings.TrimSpace(m[1])
		}
	}
	return []byte(s)
}

// parseReply reads {"refined_text": ..., "notes": ...}; a reply that is not
// such an object is taken verbatim as the refined text.
func parseReply(content string) Result {
	var r Result
	if err := json.Unmarshal(ExtractJSON([]byte(content)), &r); err == nil && r.Text != "" {
		r.Text = strings.TrimSpace(r.Text)
		return r
	}
	return Result{Text: strings.TrimSpace(content)}
}
