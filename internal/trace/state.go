package trace

import (
	"path"
	"sort"
)

// ChildRef is a (pid, cwd-at-fork) pair recorded whenever a process clones
// or a SIGCHLD with a sending pid is observed. Nothing in this repository's
// single-process driver walks these yet; they are kept on the record so a
// future multi-process merge has the data (see SPEC_FULL.md).
type ChildRef struct {
	PID string
	Cwd string
}

// ExecutionRecord is an immutable snapshot of one execve generation of a
// traced process: everything it touched between the execve that started it
// and the execve (or end of trace) that ended it.
type ExecutionRecord struct {
	Exe          string
	Argv         []string
	Envp         []string
	Cwd          string
	ExistFiles   []string
	WrittenFiles []string
	Connects     []SockAddr
	Binds        []SockAddr
	ExecFile     string
	Children     []ChildRef
}

// processState is the mutable builder a parser feeds syscall-by-syscall.
// It is frozen into an ExecutionRecord each time execve succeeds.
type processState struct {
	cwd          string
	exe          string
	argv         []string
	envp         []string
	existFiles   map[string]struct{}
	writtenFiles map[string]struct{}
	connects     []SockAddr
	binds        []SockAddr
	execFile     string
	children     []ChildRef
	fd2file      map[int]string
}

func newProcessState(cwd string) *processState {
	p := &processState{
		cwd:          cwd,
		existFiles:   map[string]struct{}{},
		writtenFiles: map[string]struct{}{},
		fd2file:      map[int]string{},
	}
	p.existFiles[cwd] = struct{}{}
	return p
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (p *processState) addExist(pathname string) {
	if pathname != "" {
		p.existFiles[pathname] = struct{}{}
	}
}

func (p *processState) addWritten(pathname string) {
	if pathname != "" {
		p.writtenFiles[pathname] = struct{}{}
	}
}

// snapshot freezes the current generation without resetting anything.
func (p *processState) snapshot() ExecutionRecord {
	return ExecutionRecord{
		Exe:          p.exe,
		Argv:         append([]string(nil), p.argv...),
		Envp:         append([]string(nil), p.envp...),
		Cwd:          p.cwd,
		ExistFiles:   sortedKeys(p.existFiles),
		WrittenFiles: sortedKeys(p.writtenFiles),
		Connects:     append([]SockAddr(nil), p.connects...),
		Binds:        append([]SockAddr(nil), p.binds...),
		ExecFile:     p.execFile,
		Children:     append([]ChildRef(nil), p.children...),
	}
}

// resetAfterExec freezes the current generation (with execFile already set
// to the path passed to the execve that is about to take effect), then
// resets the per-generation fields for the process that execve replaces it
// with, carrying cwd forward unchanged.
func (p *processState) resetAfterExec(newExe string, newArgv, newEnvp []string) ExecutionRecord {
	rec := p.snapshot()
	p.exe = newExe
	p.argv = newArgv
	p.envp = newEnvp
	p.existFiles = map[string]struct{}{p.cwd: {}, newExe: {}}
	p.writtenFiles = map[string]struct{}{}
	p.connects = nil
	p.binds = nil
	p.execFile = ""
	p.children = nil
	p.fd2file = map[int]string{}
	return rec
}

// joinPath mimics POSIX os.path.join: when rel is already absolute, cwd is
// ignored entirely (open("/etc/passwd") does not become
// "<cwd>/etc/passwd"). The result is always cleaned, satisfying the
// every-stored-path-is-normalized invariant.
func joinPath(cwd, rel string) string {
	if rel == "" {
		return path.Clean(cwd)
	}
	if path.IsAbs(rel) {
		return path.Clean(rel)
	}
	return path.Clean(path.Join(cwd, rel))
}
