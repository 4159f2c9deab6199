package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
)

// KeyInfo describes a known configuration key.
type KeyInfo struct {
	Key         string // Full key path, e.g. "storage.driver"
	Description string
	Type        string // "string", "int", "bool", "duration", "[]string"
	Default     any
}

var (
	registry   = make(map[string]KeyInfo)
	registryMu sync.RWMutex
)

// RegisterKeys records known configuration keys. Packages call this from init.
func RegisterKeys(infos ...KeyInfo) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, info := range infos {
		registry[info.Key] = info
	}
}

// Lookup returns the metadata for a registered key.
func Lookup(key string) (KeyInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := registry[key]
	return info, ok
}

// Keys returns all registered keys sorted alphabetically.
func Keys() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Defaults returns the default values of all registered keys that have one.
func Defaults() map[string]any {
	registryMu.RLock()
	defer registryMu.RUnlock()
	defaults := make(map[string]any)
	for key, info := range registry {
		if info.Default != nil {
			defaults[key] = info.Default
		}
	}
	return defaults
}

// Warning reports an unknown configuration key.
type Warning struct {
	Key         string
	Suggestions []string
}

func (w Warning) String() string {
	msg := fmt.Sprintf("'%s' is not a known config key", w.Key)
	switch len(w.Suggestions) {
	case 0:
	case 1:
		msg += fmt.Sprintf(". Did you mean '%s'?", w.Suggestions[0])
	default:
		msg += ". Did you mean one of: " + strings.Join(w.Suggestions, ", ") + "?"
	}
	return msg
}

// Validate checks every loaded key against the registry. Keys below a registered
// key (e.g. "tickets.custom" when "tickets" is registered) are accepted.
func Validate() []Warning {
	var warnings []Warning
	for _, key := range Config.Keys() {
		if _, ok := Lookup(key); ok || hasRegisteredParent(key) {
			continue
		}
		warnings = append(warnings, Warning{
			Key:         key,
			Suggestions: similarKeys(key, 3),
		})
	}
	return warnings
}

func hasRegisteredParent(key string) bool {
	parts := strings.Split(key, ".")
	for i := len(parts) - 1; i > 0; i-- {
		if _, ok := Lookup(strings.Join(parts[:i], ".")); ok {
			return true
		}
	}
	return false
}

// similarKeys returns up to n registered keys within an edit distance of 3,
// most similar first. Keys sharing the same parent get a one point bonus.
func similarKeys(key string, n int) []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	type scored struct {
		key   string
		score int
	}
	var candidates []scored
	prefix := parentOf(key)
	for k := range registry {
		d := levenshtein.ComputeDistance(key, k)
		if prefix != "" && prefix == parentOf(k) && d > 0 {
			d--
		}
		if d <= 3 {
			candidates = append(candidates, scored{k, d})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].key < candidates[j].key
		}
		return candidates[i].score < candidates[j].score
	})

	out := make([]string, 0, n)
	for i := 0; i < len(candidates) && i < n; i++ {
		out = append(out, candidates[i].key)
	}
	return out
}

func parentOf(key string) string {
	i := strings.LastIndex(key, ".")
	if i == -1 {
		return ""
	}
	return key[:i]
}
