package cache

import "strings"

// Key joins non-empty parts with ':' (e.g. Key("gate", "INFY", "BUY")).
func Key(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ":")
}
