// Package fallback reads loosely typed JSONB values with safe defaults.
package fallback

import (
	"encoding/json"
	"strconv"
	"strings"

	"quel-tryon-server/modules/common/model"
)

// SafeString returns a trimmed string or the provided fallback.
func SafeString(value interface{}, fallback string) string {
	if s, ok := value.(string); ok {
		s = strings.TrimSpace(s)
		if s != "" {
			return s
		}
	}
	return fallback
}

// SafeInt converts common number shapes into int with a fallback.
func SafeInt(value interface{}, fallback int) int {
	switch v := value.(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case float32:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	case json.Number:
		if n, err := strconv.Atoi(v.String()); err == nil && n > 0 {
			return n
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// SafeBool accepts real booleans and the usual string spellings.
func SafeBool(value interface{}, fallback bool) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	case float64:
		return v != 0
	}
	return fallback
}

// JobInput reads job_input_data, tolerating missing keys, wrong types and
// snake_case spellings written by older clients.
func JobInput(raw map[string]interface{}) model.JobInput {
	pick := func(keys ...string) interface{} {
		for _, k := range keys {
			if v, ok := raw[k]; ok && v != nil {
				return v
			}
		}
		return nil
	}
	return model.JobInput{
		PresetID:        SafeString(pick("presetId", "preset_id"), ""),
		SceneHint:       SafeString(pick("sceneHint", "scene_hint"), ""),
		StyleNotes:      SafeString(pick("styleNotes", "style_notes"), ""),
		ForceSimplified: SafeBool(pick("forceSimplified", "force_simplified"), false),
		Strict:          SafeBool(pick("strict"), false),
		IdentitySafe:    SafeBool(pick("identitySafe", "identity_safe"), false),
	}
}
