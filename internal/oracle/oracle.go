// Package oracle provides a read-only, rooted view over an exported
// container filesystem tree. Every operation takes a root-relative path
// (no leading slash) and is resolved against the tree an Oracle was
// constructed with; nothing here ever touches ambient host state.
package oracle

import (
	"bufio"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// maxLinkHops bounds the number of symlink dereferences RootedRealpath
// will follow, guarding against a cycle in the exported tree.
const maxLinkHops = 40

// Oracle answers filesystem questions against a single exported root tree.
// It holds no other state and is safe to share across goroutines.
type Oracle struct {
	root string
}

// New returns an Oracle rooted at root, an absolute path to an exported
// container filesystem tree on the local disk.
func New(root string) *Oracle {
	return &Oracle{root: root}
}

func (o *Oracle) full(p string) string {
	return filepath.Join(o.root, strings.TrimPrefix(p, "/"))
}

// RootedRealpath resolves p component by component against the exported
// root, substituting each symlink it crosses with its target: an absolute
// target `/foo` becomes root-relative `foo`, a relative target is joined
// against the dirname of the path resolved so far. It never reads a link
// outside root and never returns a path that would require doing so; it
// silently stops following links once maxLinkHops is exceeded, returning
// whatever it has resolved to that point.
func (o *Oracle) RootedRealpath(p string) string {
	original := strings.TrimPrefix(path.Clean("/"+p), "/")
	if original == "." {
		return ""
	}
	resolved := ""
	hops := 0
	for _, comp := range strings.Split(original, "/") {
		if comp == "" {
			continue
		}
		resolved = path.Join(resolved, comp)
		target, err := os.Readlink(o.full(resolved))
		if err != nil {
			continue
		}
		hops++
		if hops > maxLinkHops {
			break
		}
		if path.IsAbs(target) {
			resolved = strings.TrimPrefix(path.Clean(target), "/")
		} else {
			resolved = strings.TrimPrefix(path.Clean(path.Join(path.Dir(resolved), target)), "/")
		}
	}
	return resolved
}

// Exists reports whether p exists, following a trailing symlink.
func (o *Oracle) Exists(p string) bool {
	_, err := os.Stat(o.full(p))
	return err == nil
}

// Lexists reports whether p exists without following a trailing symlink.
func (o *Oracle) Lexists(p string) bool {
	_, err := os.Lstat(o.full(p))
	return err == nil
}

// IsLink reports whether p itself is a symbolic link.
func (o *Oracle) IsLink(p string) bool {
	fi, err := os.Lstat(o.full(p))
	return err == nil && fi.Mode()&os.ModeSymlink != 0
}

// IsRegular reports whether p is a regular file, or a chain of symlinks
// ultimately leading to one.
func (o *Oracle) IsRegular(p string) bool {
	fi, err := os.Stat(o.full(p))
	return err == nil && fi.Mode().IsRegular()
}

// IsDir reports whether p is itself a directory (a symlink to a directory
// does not count: the answer is about the entry itself, not what it points
// to).
func (o *Oracle) IsDir(p string) bool {
	fi, err := os.Lstat(o.full(p))
	return err == nil && fi.Mode().IsDir()
}

// ReadLink returns the raw (unresolved) target of p if p is a symlink.
func (o *Oracle) ReadLink(p string) (target string, ok bool) {
	target, err := os.Readlink(o.full(p))
	return target, err == nil
}

// ReadInterpreter returns the script interpreter named on the shebang line
// of p, if p begins with the two bytes "#!". A missing file, a file that
// isn't a script, or a shebang line with no interpreter token all report
// ok = false.
func (o *Oracle) ReadInterpreter(p string) (interpreter string, ok bool) {
	f, err := os.Open(o.full(p))
	if err != nil {
		return "", false
	}
	defer f.Close()

	var magic [2]byte
	if n, _ := io.ReadFull(f, magic[:]); n < 2 || magic != [2]byte{'#', '!'} {
		return "", false
	}
	line, _ := bufio.NewReader(f).ReadString('\n')
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}
