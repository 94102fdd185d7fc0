package policy

import "strings"

// Blacklist rejects URLs by exact match or prefix pattern. A pattern ending
// in "*" matches any URL sharing the prefix before the star; all comparisons
// are case-insensitive.
type Blacklist struct {
	exact    map[string]struct{}
	prefixes []string
}

// NewBlacklist compiles the configured patterns. Returns nil when no usable
// pattern exists; a nil Blacklist matches nothing.
func NewBlacklist(patterns []string) *Blacklist {
	bl := &Blacklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		if strings.HasSuffix(value, "*") {
			prefix := strings.TrimSuffix(value, "*")
			if prefix != "" {
				bl.addPrefix(prefix)
			}
			continue
		}
		bl.exact[value] = struct{}{}
	}
	if len(bl.exact) == 0 && len(bl.prefixes) == 0 {
		return nil
	}
	return bl
}

func (b *Blacklist) addPrefix(prefix string) {
	for _, existing := range b.prefixes {
		if existing == prefix {
			return
		}
	}
	b.prefixes = append(b.prefixes, prefix)
}

// Matches reports whether rawURL is blacklisted.
func (b *Blacklist) Matches(rawURL string) bool {
	if b == nil {
		return false
	}
	value := strings.TrimSpace(strings.ToLower(rawURL))
	if value == "" {
		return false
	}
	if _, ok := b.exact[value]; ok {
		return true
	}
	for _, prefix := range b.prefixes {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}
