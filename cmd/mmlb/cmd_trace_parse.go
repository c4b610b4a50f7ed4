package main

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/negativa-ai/MMLB/internal/trace"
)

type cmdTraceParse struct {
	PID             string `short:"p" long:"pid" description:"Pid the trace log belongs to" required:"yes"`
	Cwd             string `long:"cwd" description:"Initial working directory of the traced process" default:"/"`
	ContainerRoot   bool   `long:"container-root" description:"Trace belongs to the process that performs the container's initial pivot_root"`
	OutputFile      string `short:"o" long:"output-file" description:"File to write the JSON result to (default: stdout)"`

	Args struct {
		TraceLog string `description:"Path to the trace log file" required:"yes"`
	} `positional-args:"yes" required:"yes"`
}

func (x *cmdTraceParse) Execute(args []string) error {
	f, err := os.Open(x.Args.TraceLog)
	if err != nil {
		return errors.Wrap(err, "opening trace log")
	}
	defer f.Close()

	p := trace.NewParser(x.PID, x.Cwd, x.ContainerRoot)
	result, err := p.Parse(f)
	if err != nil {
		return errors.Wrap(err, "parsing trace log")
	}

	w := os.Stdout
	if x.OutputFile != "" {
		out, err := createResultFile(x.OutputFile)
		if err != nil {
			return errors.Wrap(err, "creating output file")
		}
		defer out.Close()
		w = out
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(result), "encoding result")
}

// createResultFile creates fname for the parsed trace.Result, discarding
// whatever a previous trace-parse run at the same path left behind rather
// than appending to a stale result.
func createResultFile(fname string) (*os.File, error) {
	if err := os.Remove(fname); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return os.Create(fname)
}
