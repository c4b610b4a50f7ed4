// Package corefail defines the structured failure value shared by the
// packages that can fail (trace, imagewriter, driver, runtimeclient,
// workload).
package corefail

import "fmt"

// Kind categorizes a Failure so callers (the driver, the CLI) can branch on
// it without string-matching a message.
type Kind string

const (
	// KindTraceStructural marks a trace line that could not be parsed at
	// all (grammar violation). Logged per-line; never fatal on its own.
	KindTraceStructural Kind = "trace_structural"
	// KindTraceSemantic marks a syscall that was parsed but is
	// semantically invalid in context: an unhandled root-changing call
	// outside the expected pivot window, or a conflicting pivot_root
	// sequence.
	KindTraceSemantic Kind = "trace_semantic"
	// KindOracle marks a filesystem-oracle failure: a resolution that
	// would escape the exported root, a symlink cycle bound exceeded.
	KindOracle Kind = "oracle"
	// KindImageEmission marks a failure while writing the output image:
	// an unwritable destination, a path collision within a layer.
	KindImageEmission Kind = "image_emission"
	// KindConfiguration marks a bad driver input: a missing trace log, an
	// unreadable workload spec, a runtime-client error.
	KindConfiguration Kind = "configuration"
)

// Failure is the structured failure value the core surfaces to its caller:
// a kind, a human-readable message, and the path or identifier (if any)
// that lets the caller reproduce the problem.
type Failure struct {
	Kind    Kind
	Message string
	Context string
}

func (f *Failure) Error() string {
	if f.Context == "" {
		return fmt.Sprintf("%s: %s", f.Kind, f.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", f.Kind, f.Message, f.Context)
}

// New builds a Failure with a formatted message.
func New(kind Kind, context, format string, args ...interface{}) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...), Context: context}
}

// As reports whether err is a *Failure of the given kind, returning it.
func As(err error, kind Kind) (*Failure, bool) {
	f, ok := err.(*Failure)
	if !ok || f.Kind != kind {
		return nil, false
	}
	return f, true
}
