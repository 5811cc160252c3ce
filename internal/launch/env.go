package launch

import (
	"slices"
	"strings"
)

// ScopedEnv builds a child environment from base.
// Every key in unset or set is removed from base first, so a value inherited
// from the parent (or left over from an earlier step) never leaks through;
// then set is appended in key order.
func ScopedEnv(base []string, unset []string, set map[string]string) []string {
	drop := make(map[string]bool, len(unset)+len(set))
	for _, k := range unset {
		drop[k] = true
	}
	for k := range set {
		drop[k] = true
	}

	env := make([]string, 0, len(base)+len(set))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if drop[key] {
			continue
		}
		env = append(env, kv)
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		env = append(env, k+"="+set[k])
	}
	return env
}

// LookupEnv returns the value of key in env, last occurrence wins.
func LookupEnv(env []string, key string) (string, bool) {
	for i := len(env) - 1; i >= 0; i-- {
		k, v, ok := strings.Cut(env[i], "=")
		if ok && k == key {
			return v, true
		}
	}
	return "", false
}
