// Package trace parses a per-process strace log into a sequence of
// ExecutionRecord snapshots, one per execve generation.
package trace

import (
	"bufio"
	"fmt"
	"io"

	"github.com/negativa-ai/MMLB/internal/corefail"
)

// Diagnostic is a non-fatal parse issue: a malformed line, an unhandled
// syscall, an execve argument string that could not be decoded even after
// repair. Diagnostics never abort parsing.
type Diagnostic struct {
	Line    int
	Syscall string
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("line %d: %s: %s", d.Line, d.Syscall, d.Message)
}

type pivotState int

const (
	stateLive pivotState = iota
	statePrePivot
)

// Result is everything Parse produces for one pid's trace log.
type Result struct {
	Records     []ExecutionRecord
	Diagnostics []Diagnostic
	// Unhandled is true if any syscall fell into the soft-unhandled set:
	// recognized but not semantically modeled, surfaced rather than
	// silently dropped.
	Unhandled bool
}

// Parser parses a single pid's trace log. Construct one per pid; it is not
// safe to reuse across files.
type Parser struct {
	pid   string
	state pivotState
	proc  *processState

	records     []ExecutionRecord
	diagnostics []Diagnostic
	unhandled   bool
	lineNo      int
}

// NewParser starts a parser for pid, seeded with its initial working
// directory. isContainerRoot selects the PRE_PIVOT state machine used for
// the process that performs the container's initial pivot_root: everything
// before that pivot_root is discarded, and the ExecutionRecord produced by
// the execve immediately following it is dropped too (it reflects the
// brief, uninteresting state between the pivot and the real entrypoint).
func NewParser(pid, cwd string, isContainerRoot bool) *Parser {
	st := stateLive
	if isContainerRoot {
		st = statePrePivot
	}
	return &Parser{pid: pid, state: st, proc: newProcessState(cwd)}
}

// Parse consumes r line by line and returns the completed Result. A short
// read (a final line with no terminating newline, or any scanner error)
// terminates parsing cleanly at the last complete line rather than
// failing the whole parse, per the tracer-can-be-killed-mid-write
// contract.
func (pr *Parser) Parse(r io.Reader) (*Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	scanner.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		if atEOF {
			complete := false
			for _, b := range data {
				if b == '\n' {
					complete = true
					break
				}
			}
			if !complete {
				return len(data), nil, nil
			}
		}
		return bufio.ScanLines(data, atEOF)
	})
	for scanner.Scan() {
		pr.lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := pr.handleLine(line); err != nil {
			return &Result{Records: pr.records, Diagnostics: pr.diagnostics, Unhandled: pr.unhandled}, err
		}
	}
	// pr.proc always holds an open, unfrozen generation; append it as the
	// final record whether or not the trace ever reached an execve.
	pr.records = append(pr.records, pr.proc.snapshot())
	return &Result{Records: pr.records, Diagnostics: pr.diagnostics, Unhandled: pr.unhandled}, nil
}

func (pr *Parser) handleLine(line string) error {
	if line[0] == '-' && len(line) > 1 && line[1] == '-' {
		pr.handleSignalLine(line)
		return nil
	}
	if isStructuralNoise(line) {
		return nil
	}
	c, ok := parseCall(line)
	if !ok {
		pr.diagnostic("", "malformed trace line did not match the syscall grammar")
		return nil
	}
	return pr.dispatch(c)
}

func (pr *Parser) handleSignalLine(line string) {
	signame, sendingPID := parseSignal(line)
	if signame == "SIGCHLD" && sendingPID != "" {
		pr.proc.children = append(pr.proc.children, ChildRef{PID: sendingPID, Cwd: pr.proc.cwd})
	}
}

func (pr *Parser) diagnostic(syscall, msg string) {
	pr.diagnostics = append(pr.diagnostics, Diagnostic{Line: pr.lineNo, Syscall: syscall, Message: msg})
}

func (pr *Parser) dispatch(c call) error {
	switch pr.state {
	case statePrePivot:
		return pr.dispatchPrePivot(c)
	default:
		return pr.dispatchLive(c)
	}
}

// dispatchPrePivot ignores everything until the pivot_root that establishes
// the container's real root, then ignores everything again until the next
// execve, which it uses only to reset process state (cwd aside) before
// switching into the live dispatcher. The ExecutionRecord that execve would
// otherwise have produced is discarded: it covers only the sliver of time
// between pivot_root and the entrypoint's own execve, with no access set
// worth keeping.
func (pr *Parser) dispatchPrePivot(c call) error {
	switch c.syscall {
	case "pivot_root":
		pr.proc.fd2file = map[int]string{}
		return nil
	case "execve":
		if _, err := pr.handleExecve(c); err != nil {
			return err
		}
		if len(pr.records) > 0 {
			pr.records = pr.records[:len(pr.records)-1]
		}
		pr.state = stateLive
		return nil
	default:
		return nil
	}
}

func (pr *Parser) dispatchLive(c call) error {
	switch c.syscall {
	case "execve":
		_, err := pr.handleExecve(c)
		return err
	case "pivot_root", "chroot":
		return corefail.New(corefail.KindTraceSemantic, pr.pid,
			"%s observed outside the expected pivot window", c.syscall)
	}
	if _, ok := softUnhandled[c.syscall]; ok {
		pr.diagnostic(c.syscall, "syscall is not semantically modeled; surfaced rather than silently dropped")
		pr.unhandled = true
		return nil
	}
	if h, ok := dispatchTable[c.syscall]; ok {
		h(pr.proc, c.argstr, c.ret, c.errno)
	}
	return nil
}

// handleExecve decodes the execve argument string and, on success, freezes
// the current generation into a record and starts the next one. A
// structurally undecodable argument string (even after the JSON repair
// loop) is a non-fatal diagnostic: the call is treated as if it never
// happened, and the current generation continues accumulating.
func (pr *Parser) handleExecve(c call) (*ExecutionRecord, error) {
	if c.errno != "" {
		return nil, nil
	}
	exe, argv, envp, err := ParseExecveArgs(c.argstr)
	if err != nil {
		pr.diagnostic("execve", fmt.Sprintf("could not decode execve arguments: %v", err))
		return nil, nil
	}
	pr.proc.execFile = exe
	rec := pr.proc.resetAfterExec(exe, argv, envp)
	pr.records = append(pr.records, rec)
	return &rec, nil
}
