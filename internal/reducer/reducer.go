// Package reducer implements the two manifest-shrinking heuristics applied
// after the closure is built: dropping declared environment variables that
// no read file ever mentions by name, and dropping declared mounts that
// nothing in the access set actually falls under.
package reducer

import (
	"os"
	"strings"
)

// ReduceEnviron returns the env var names to drop: those whose UTF-8 bytes
// never occur literally in the contents of any of regularFiles (absolute
// paths on the local filesystem — the caller has already resolved them
// against the exported root). This is a conservative heuristic: a program
// that never spells out "PATH" as a literal byte string in its own binary
// or scripts almost certainly never reads $PATH, but the converse isn't
// guaranteed, so false positives (keeping an unused var) are expected and
// accepted; false negatives are not supposed to happen but are a known
// limitation of a substring test run over a static snapshot of files that
// may differ from what actually got mapped into memory at runtime.
func ReduceEnviron(envNames []string, regularFiles []string) []string {
	remaining := map[string]struct{}{}
	for _, name := range envNames {
		remaining[name] = struct{}{}
	}
	var scanned bool
	for _, path := range regularFiles {
		if len(remaining) == 0 {
			break
		}
		contents, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		scanned = true
		for name := range remaining {
			if bytesContainString(contents, name) {
				delete(remaining, name)
			}
		}
	}
	if !scanned {
		// Nothing was actually read, so there is no evidence to drop
		// anything on: staying silent here is the false-negative-safe
		// choice, not a false-positive-safe one.
		return nil
	}
	var dropped []string
	for _, name := range envNames {
		if _, neverMentioned := remaining[name]; neverMentioned {
			dropped = append(dropped, name)
		}
	}
	return dropped
}

func bytesContainString(haystack []byte, needle string) bool {
	return strings.Contains(string(haystack), needle)
}

// IsAncestorOrEqual reports whether despath is ancpath itself or a path
// beneath it.
func IsAncestorOrEqual(ancpath, despath string) bool {
	ancpath = strings.TrimSuffix(ancpath, "/")
	if despath == ancpath {
		return true
	}
	return strings.HasPrefix(despath, ancpath+"/")
}

// ReduceVolumes filters mountDestinations down to those with at least one
// path in accessedFiles under them (mountDestinations[i] == file, or a
// proper ancestor of it).
func ReduceVolumes(accessedFiles []string, mountDestinations []string) []string {
	var kept []string
	for _, dest := range mountDestinations {
		for _, f := range accessedFiles {
			if IsAncestorOrEqual(dest, f) {
				kept = append(kept, dest)
				break
			}
		}
	}
	return kept
}
