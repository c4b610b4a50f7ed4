// Package closure computes the set of paths that must be present in a
// debloated image layer, given the set of paths a traced execution
// touched and a read-only view of the original container's filesystem.
package closure

import (
	"path"
	"sort"
	"strings"

	"github.com/negativa-ai/MMLB/internal/oracle"
)

var dynamicRoots = []string{"/dev", "/proc", "/sys"}

// KnownLinkers are dynamic-linker paths the kernel reads implicitly at
// process start; they never appear in a syscall trace but must be present
// in the image for any dynamically-linked binary to run.
var KnownLinkers = []string{
	"/lib/ld-linux.so.2",
	"/lib64/ld-linux-x86-64.so.2",
	"/lib/ld-musl-x86_64.so.1",
}

func isDynamicRoot(p string) bool {
	for _, root := range dynamicRoots {
		if p == root || strings.HasPrefix(p, root+"/") {
			return true
		}
	}
	return false
}

// StripLeadingSlash turns an absolute path into a root-relative one. It is
// idempotent: every path this package produces is already clean, so it
// never begins with "//" and a second call is a no-op.
func StripLeadingSlash(p string) string {
	return strings.TrimPrefix(p, "/")
}

// Build runs the six-step closure algorithm over accessPaths (absolute,
// normalized paths — an ExecutionRecord's exists-files and written-files,
// already unioned across however many records are being merged) and
// returns the sorted, deduplicated, root-relative path list to include in
// the layer tar.
func Build(accessPaths []string, o *oracle.Oracle) []string {
	seen := map[string]struct{}{}
	var normalized []string
	add := func(p string) {
		p = path.Clean(p)
		if isDynamicRoot(p) {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		normalized = append(normalized, p)
	}
	for _, p := range accessPaths {
		add(p)
	}
	for _, l := range KnownLinkers {
		add(l)
	}

	withInterpreters := append([]string(nil), normalized...)
	for _, p := range normalized {
		rel := StripLeadingSlash(p)
		if !o.Exists(rel) {
			continue
		}
		interp, ok := o.ReadInterpreter(rel)
		if !ok {
			continue
		}
		interp = path.Clean(interp)
		if _, ok := seen[interp]; !ok {
			seen[interp] = struct{}{}
			withInterpreters = append(withInterpreters, interp)
		}
	}

	result := map[string]struct{}{}
	queued := map[string]struct{}{}
	var queue []string
	enqueue := func(p string) {
		if _, ok := queued[p]; ok {
			return
		}
		queued[p] = struct{}{}
		queue = append(queue, p)
	}
	for _, p := range withInterpreters {
		enqueue(StripLeadingSlash(p))
	}

	for i := 0; i < len(queue); i++ {
		original := queue[i]
		p := original
		var ancestors []string
		for p != "" {
			ancestors = append(ancestors, p)
			dirname := path.Dir(p)
			if dirname == "." {
				dirname = ""
			}
			if o.IsLink(p) {
				// A link clears everything gathered below it: those
				// descendants are only reachable via the resolved
				// target now, not via this ancestor chain.
				ancestors = []string{p}
				if target := resolveLinkTarget(o, p, dirname); target != "" && o.Lexists(target) {
					enqueue(target)
					if p != original {
						if rest := graftRelative(original, p); rest != "" {
							enqueue(path.Clean(path.Join(target, rest)))
						}
					}
				}
			}
			p = dirname
		}
		for _, a := range ancestors {
			result[a] = struct{}{}
		}
	}

	out := make([]string, 0, len(result))
	for p := range result {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func resolveLinkTarget(o *oracle.Oracle, p, dirname string) string {
	target, ok := o.ReadLink(p)
	if !ok {
		return ""
	}
	if path.IsAbs(target) {
		return StripLeadingSlash(path.Clean(target))
	}
	return StripLeadingSlash(path.Clean(path.Join(dirname, target)))
}

// graftRelative returns the portion of original below ancestor, so that it
// can be re-joined onto a resolved symlink target and remain reachable
// under its original name too.
func graftRelative(original, ancestor string) string {
	if ancestor == "" || !strings.HasPrefix(original, ancestor) {
		return ""
	}
	return strings.TrimPrefix(original[len(ancestor):], "/")
}
