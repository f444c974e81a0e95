package config

import (
	"regexp"
	"strings"
)

// DefaultAgentName is used when no agent is named in config or request.
const DefaultAgentName = "default"

var (
	validNameRe  = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	invalidChars = regexp.MustCompile(`[^a-z0-9_-]+`)
	edgeDashes   = regexp.MustCompile(`^-+|-+$`)
)

// NormalizeAgentName converts a user-provided agent name into a valid
// identifier: lowercase, max 64 chars, only [a-z0-9_-], invalid runs
// collapsed to "-", edge dashes stripped, empty falling back to "default".
func NormalizeAgentName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return DefaultAgentName
	}

	lower := strings.ToLower(trimmed)
	if validNameRe.MatchString(lower) {
		return lower
	}

	result := invalidChars.ReplaceAllString(lower, "-")
	result = edgeDashes.ReplaceAllString(result, "")
	if len(result) > 64 {
		result = result[:64]
	}
	if result == "" {
		return DefaultAgentName
	}
	return result
}
