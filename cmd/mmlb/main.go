// Command mmlb parses execution traces, runs a single debloat, or drives a
// whole workload spec's worth of debloats.
package main

import (
	"log"
	"os"

	flags "github.com/jessevdk/go-flags"
)

// Command is the top-level CLI, one field per subcommand.
type Command struct {
	TraceParse cmdTraceParse `command:"trace-parse" description:"Parse a trace log standalone and dump its execution records as JSON"`
	Slim       cmdSlim       `command:"slim" description:"Run one debloat against a running container and a trace log"`
	Debloat    cmdDebloat    `command:"debloat" description:"Drive a workload spec's worth of debloats"`
}

var currentCmd Command
var parser = flags.NewParser(&currentCmd, flags.Default)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
