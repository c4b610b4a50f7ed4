package trace

import (
	"path"
	"strconv"
)

// handler is a dispatch-table entry: a syscall's effect on process state
// given its raw argument string, return value, and symbolic errno (empty on
// success).
type handler func(p *processState, argstr string, ret int64, errno string)

// cwdHandler is the shared shape of syscalls whose only family-specific
// difference is which directory a relative path argument resolves against:
// the process cwd for the plain form, or the directory named by a leading
// fd argument for the *at form.
type cwdHandler func(p *processState, cwd, argstr string, ret int64, errno string)

// plain adapts a cwdHandler to a handler using the process's current cwd.
func plain(h cwdHandler) handler {
	return func(p *processState, argstr string, ret int64, errno string) {
		h(p, p.cwd, argstr, ret, errno)
	}
}

// atHandler adapts a cwdHandler to the *at family: the first argument is an
// fd (or AT_FDCWD), and the handler is invoked against the directory that
// fd names.
func atHandler(h cwdHandler) handler {
	return func(p *processState, argstr string, ret int64, errno string) {
		fd, rest, err := ParseFD(argstr)
		if err != nil {
			return
		}
		rest = NextArg(rest)
		h(p, p.lookupFD(fd), rest, ret, errno)
	}
}

func hasFlag(flags []string, name string) bool {
	for _, f := range flags {
		if f == name {
			return true
		}
	}
	return false
}

// helperOpen0 applies the common effect of an open-family call once the
// filename and flags have already been decoded.
func helperOpen0(p *processState, cwd, filename string, flags []string, ret int64, errno string) {
	if errno != "" {
		return
	}
	full := joinPath(cwd, filename)
	p.addExist(full)
	if hasFlag(flags, "O_CREAT") {
		p.addExist(path.Dir(full))
	}
	p.fd2file[int(ret)] = full
	if hasFlag(flags, "O_CREAT") || hasFlag(flags, "O_WRONLY") || hasFlag(flags, "O_RDWR") {
		p.addWritten(full)
	}
}

func helperOpen1(p *processState, cwd, argstr string, ret int64, errno string) {
	filename, _, rest, err := StringArg(argstr)
	if err != nil || filename == nil {
		return
	}
	rest = NextArg(rest)
	flags, _ := FlagsArg(rest)
	helperOpen0(p, cwd, *filename, flags, ret, errno)
}

func helperAccess(p *processState, cwd, argstr string, ret int64, errno string) {
	if errno != "" {
		return
	}
	pathname, _, _, err := StringArg(argstr)
	if err != nil || pathname == nil {
		return
	}
	p.addExist(joinPath(cwd, *pathname))
}

// helperUnlink covers the family of calls whose only success-path effect
// is "the named path exists": stat/lstat, truncate, unlink(at),
// readlink(at), newfstatat.
func helperUnlink(p *processState, cwd, argstr string, ret int64, errno string) {
	if errno != "" {
		return
	}
	pathname, _, _, err := StringArg(argstr)
	if err != nil || pathname == nil {
		return
	}
	p.addExist(joinPath(cwd, *pathname))
}

func helperMkdir(p *processState, cwd, argstr string, ret int64, errno string) {
	pathname, _, _, err := StringArg(argstr)
	if err != nil || pathname == nil {
		return
	}
	full := joinPath(cwd, *pathname)
	switch errno {
	case "":
		p.addExist(path.Dir(full))
		p.addWritten(full)
	case "EEXIST":
		p.addExist(full)
	}
}

func helperChmod(p *processState, cwd, argstr string, ret int64, errno string) {
	pathname, _, _, err := StringArg(argstr)
	if err != nil {
		return
	}
	if errno == "" && pathname != nil {
		full := joinPath(cwd, *pathname)
		p.addExist(full)
		p.addWritten(full)
	}
}

func sysRmdir(p *processState, argstr string, ret int64, errno string) {
	pathname, _, _, err := StringArg(argstr)
	if err != nil || pathname == nil {
		return
	}
	switch errno {
	case "", "EBUSY", "ENOTEMPTY":
		p.addExist(joinPath(p.cwd, *pathname))
	}
}

func sysCreat(p *processState, argstr string, ret int64, errno string) {
	filename, _, _, err := StringArg(argstr)
	if err != nil || filename == nil {
		return
	}
	helperOpen0(p, p.cwd, *filename, []string{"O_CREAT", "O_WRONLY", "O_TRUNC"}, ret, errno)
}

func sysChdir(p *processState, argstr string, ret int64, errno string) {
	pathname, _, _, err := StringArg(argstr)
	if err != nil || pathname == nil || errno != "" {
		return
	}
	p.cwd = joinPath(p.cwd, *pathname)
}

func sysFchdir(p *processState, argstr string, ret int64, errno string) {
	if errno != "" {
		return
	}
	fd, _, err := ParseFD(argstr)
	if err != nil || fd.AtFDCWD {
		return
	}
	if newCwd := p.lookupFD(fd); newCwd != "" {
		p.cwd = newCwd
	}
}

// helperRename covers rename and link: on success the source's full path
// exists, the destination's parent directory exists, and the destination
// itself was written.
func helperRename(p *processState, cwd, argstr string, ret int64, errno string) {
	src, _, rest, err := StringArg(argstr)
	if err != nil || src == nil {
		return
	}
	rest = NextArg(rest)
	dst, _, _, err := StringArg(rest)
	if err != nil || dst == nil || errno != "" {
		return
	}
	p.addExist(joinPath(cwd, *src))
	full := joinPath(cwd, *dst)
	p.addExist(path.Dir(full))
	p.addWritten(full)
}

func sysRenameAt(p *processState, argstr string, ret int64, errno string) {
	fd1, rest, err := ParseFD(argstr)
	if err != nil {
		return
	}
	cwd1 := p.lookupFD(fd1)
	rest = NextArg(rest)
	src, _, rest, err := StringArg(rest)
	if err != nil || src == nil {
		return
	}
	rest = NextArg(rest)
	fd2, rest, err := ParseFD(rest)
	if err != nil {
		return
	}
	cwd2 := p.lookupFD(fd2)
	rest = NextArg(rest)
	dst, _, _, err := StringArg(rest)
	if err != nil || dst == nil || errno != "" {
		return
	}
	p.addExist(joinPath(cwd1, *src))
	full := joinPath(cwd2, *dst)
	p.addExist(path.Dir(full))
	p.addWritten(full)
}

// sysSymlink adds the *dirname* of the link's target (not the target
// itself) to the exists-set: the syscall only guarantees the directory the
// target would live in needs to pre-exist for the link to be meaningful,
// mirroring straceparser.py's symlink handler exactly.
func sysSymlink(p *processState, argstr string, ret int64, errno string) {
	target, _, rest, err := StringArg(argstr)
	if err != nil || target == nil {
		return
	}
	rest = NextArg(rest)
	newpath, _, _, err := StringArg(rest)
	if err != nil || newpath == nil {
		return
	}
	switch errno {
	case "":
		targetFull := joinPath(p.cwd, *target)
		p.addExist(path.Dir(targetFull))
		p.addWritten(joinPath(p.cwd, *newpath))
	case "EEXIST":
		p.addExist(joinPath(p.cwd, *newpath))
	}
}

// sysSymlinkAt mirrors sysSymlink but resolves the new-link path against
// the directory named by its fd argument; the target string is parsed only
// to skip past it (it is never joined against a directory, matching the
// original parser's symlinkat handler).
func sysSymlinkAt(p *processState, argstr string, ret int64, errno string) {
	_, _, rest, err := StringArg(argstr)
	if err != nil {
		return
	}
	rest = NextArg(rest)
	fd, rest, err := ParseFD(rest)
	if err != nil {
		return
	}
	cwd := p.lookupFD(fd)
	rest = NextArg(rest)
	newpath, _, _, err := StringArg(rest)
	if err != nil || newpath == nil {
		return
	}
	full := joinPath(cwd, *newpath)
	switch errno {
	case "":
		p.addExist(path.Dir(full))
		p.addWritten(full)
	case "EEXIST":
		p.addExist(full)
	}
}

func sysConnect(p *processState, argstr string, ret int64, errno string) {
	if errno != "" {
		return
	}
	_, rest, err := ParseFD(argstr)
	if err != nil {
		return
	}
	rest = NextArg(rest)
	sa, _, err := ParseSockAddr(rest)
	if err != nil {
		return
	}
	if sa.Family != "AF_UNSPEC" {
		p.connects = append(p.connects, sa)
	}
}

func sysBind(p *processState, argstr string, ret int64, errno string) {
	if errno != "" {
		return
	}
	_, rest, err := ParseFD(argstr)
	if err != nil {
		return
	}
	rest = NextArg(rest)
	sa, _, err := ParseSockAddr(rest)
	if err != nil {
		return
	}
	p.binds = append(p.binds, sa)
}

func sysClone(p *processState, argstr string, ret int64, errno string) {
	if errno != "" || ret < 0 {
		return
	}
	p.children = append(p.children, ChildRef{PID: strconv.FormatInt(ret, 10), Cwd: p.cwd})
}

func nop(p *processState, argstr string, ret int64, errno string) {}

// dispatchTable maps a syscall name to its semantic handler. Names absent
// from both this table and softUnhandled (read, write, mmap, close, poll,
// and the rest of the purely I/O-shaped surface) have no effect on access
// state and are silently ignored, matching the "no entry means no effect"
// default of the original parser.
var dispatchTable = map[string]handler{
	"open":  plain(helperOpen1),
	"openat": atHandler(helperOpen1),
	"creat": sysCreat,

	"access":    plain(helperAccess),
	"faccessat": atHandler(helperAccess),

	"stat":        plain(helperUnlink),
	"lstat":       plain(helperUnlink),
	"truncate":    plain(helperUnlink),
	"unlink":      plain(helperUnlink),
	"unlinkat":    atHandler(helperUnlink),
	"readlink":    plain(helperUnlink),
	"readlinkat":  atHandler(helperUnlink),
	"newfstatat":  atHandler(helperUnlink),

	"mkdir":   plain(helperMkdir),
	"mkdirat": atHandler(helperMkdir),
	"mknod":   plain(helperMkdir),
	"mknodat": atHandler(helperMkdir),
	"rmdir":   sysRmdir,

	"chmod":      plain(helperChmod),
	"chown":      plain(helperChmod),
	"lchown":     plain(helperChmod),
	"utime":      plain(helperChmod),
	"utimes":     plain(helperChmod),
	"fchmodat":   atHandler(helperChmod),
	"fchownat":   atHandler(helperChmod),
	"futimesat":  atHandler(helperChmod),
	"utimensat":  atHandler(helperChmod),

	"chdir":  sysChdir,
	"fchdir": sysFchdir,

	"rename":   plain(helperRename),
	"link":     plain(helperRename),
	"renameat": sysRenameAt,
	"linkat":   sysRenameAt,

	"symlink":   sysSymlink,
	"symlinkat": sysSymlinkAt,

	"connect": sysConnect,
	"bind":    sysBind,

	"clone": sysClone,
	"fork":  sysClone,
	"vfork": sysClone,

	"dup":          sysDup,
	"dup2":         sysDup,
	"dup3":         sysDup,
	"sendfile":     nop,
	"socket":       nop,
	"socketpair":   nop,
	"accept":       nop,
	"accept4":      nop,
	"listen":       nop,
	"shutdown":     nop,
	"sendto":       nop,
	"recvfrom":     nop,
	"sendmsg":      nop,
	"recvmsg":      nop,
	"sendmmsg":     nop,
	"recvmmsg":     nop,
	"getsockname":  nop,
	"getpeername":  nop,
	"setsockopt":   nop,
	"getsockopt":   nop,
	"statfs":       nop,
}

// softUnhandled syscalls are recognized, logged as a diagnostic (spec's
// "surface rather than silently drop" policy), and otherwise have no effect
// on access state. They are distinct from the dispatchTable's silent
// no-ops: these are calls whose semantics this parser genuinely does not
// model, as opposed to calls known to be irrelevant.
var softUnhandled = map[string]struct{}{
	"mount":            {},
	"umount2":          {},
	"swapon":           {},
	"swapoff":          {},
	"setxattr":         {},
	"lsetxattr":        {},
	"fsetxattr":        {},
	"getxattr":         {},
	"lgetxattr":        {},
	"fgetxattr":        {},
	"listxattr":        {},
	"llistxattr":       {},
	"flistxattr":       {},
	"removexattr":      {},
	"lremovexattr":     {},
	"fremovexattr":     {},
	"uselib":            {},
	"acct":              {},
	"quotactl":          {},
	"renameat2":         {},
	"fanotify_mark":     {},
	"name_to_handle_at": {},
}
