package util

import (
	"strings"
)

const MinHardwareIDLength = 8

// NormalizeHardwareID trims and uppercases a hardware id. The second return
// value reports whether the id is long enough to be used as a binding anchor.
func NormalizeHardwareID(id string) (string, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(id))
	return normalized, len(normalized) >= MinHardwareIDLength
}

func IsValidEnum(value string, validValues []string) bool {
	if value == "" {
		return true
	}
	for _, v := range validValues {
		if value == v {
			return true
		}
	}
	return false
}
