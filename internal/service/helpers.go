package service

import (
	"encoding/json"
	"strings"
)

// mustJSON serializes v for storage. Falls back to an empty JSON value when
// marshaling fails, which only happens for non-serializable caller input.
func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// lenientMap deserializes a stored payload. A malformed stored payload
// yields an empty structure rather than an error, keeping reads non-fatal.
func lenientMap(raw string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// lenientStrings deserializes a stored string list, tolerating malformed
// values the same way.
func lenientStrings(raw string) []string {
	var v []string
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil
	}
	return v
}

// lenientJSON deserializes into out, ignoring malformed stored values.
func lenientJSON(raw string, out any) {
	_ = json.Unmarshal([]byte(raw), out)
}

// isUniqueViolation reports whether err is the storage engine's
// unique-constraint signature.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
