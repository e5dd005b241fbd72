package config

import (
	"strings"
)

// secretKeys are masked by ListValues and the CLI.
var secretKeys = map[string]bool{
	"discord.token":     true,
	"telegram.token":    true,
	"steam.api_key":     true,
	"llm.api_key":       true,
	"lavalink.password": true,
}

// IsSecretKey reports whether key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Flatten turns nested sections into dot-separated keys, so
// {"music": {"idle_timeout": "10m"}} becomes {"music.idle_timeout": "10m"}.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		parts := strings.Split(key, ".")
		section := out
		for _, part := range parts[:len(parts)-1] {
			child, ok := section[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				section[part] = child
			}
			section = child
		}
		section[parts[len(parts)-1]] = v
	}
	return out
}

// MaskSecrets copies flat with every non-empty secret replaced by "***" and
// its last four characters.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		out[k] = v
		s, ok := v.(string)
		if !secretKeys[k] || !ok || s == "" {
			continue
		}
		out[k] = "***" + s[max(0, len(s)-4):]
	}
	return out
}
