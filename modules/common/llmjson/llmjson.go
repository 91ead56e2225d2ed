// Package llmjson cleans JSON replies produced by language models.
package llmjson

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	reFence    = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// Sanitize strips code fences, comments, trailing commas and any prose
// around the outermost JSON object of a model reply.
func Sanitize(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := reFence.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}
	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

// Decode sanitizes raw and unmarshals it into v.
func Decode(raw string, v interface{}) error {
	if err := json.Unmarshal([]byte(Sanitize(raw)), v); err != nil {
		return fmt.Errorf("decode model json %q: %w", truncate(raw, 120), err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
