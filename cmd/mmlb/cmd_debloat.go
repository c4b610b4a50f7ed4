package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/negativa-ai/MMLB/internal/driver"
	"github.com/negativa-ai/MMLB/internal/runtimeclient"
	"github.com/negativa-ai/MMLB/internal/workload"
)

// runEntry is the per-image run-time information an external orchestrator
// (the thing that actually starts containers, launches the tracer, and
// runs acceptance tests — all explicitly out of this repository's core) is
// expected to have already produced by the time debloat runs: which
// container was traced, under which pid, and where its trace log landed.
type runEntry struct {
	ContainerID         string   `yaml:"container_id"`
	RootPID             string   `yaml:"root_pid"`
	RootCwd             string   `yaml:"root_cwd"`
	TraceLog            string   `yaml:"trace_log"`
	ContainerRoot       bool     `yaml:"container_root"`
	NewImagePrefix      string   `yaml:"new_image_prefix"`
	VolumeMountOverride []string `yaml:"volume_mount_override"`
}

type cmdDebloat struct {
	Workload string `long:"workload" description:"Path to the YAML workload spec" required:"yes"`
	RunCtx   string `long:"run-context" description:"Path to a YAML file mapping image name to its already-traced container/pid/trace-log" required:"yes"`
	Verbose  bool   `short:"v" long:"verbose" description:"Enable debug logging"`
}

func (x *cmdDebloat) Execute(args []string) error {
	level := hclog.Info
	if x.Verbose {
		level = hclog.Debug
	}
	log := hclog.New(&hclog.LoggerOptions{Name: "mmlb", Level: level})

	spec, err := workload.Load(x.Workload)
	if err != nil {
		return errors.Wrap(err, "loading workload spec")
	}

	runData, err := os.ReadFile(x.RunCtx)
	if err != nil {
		return errors.Wrap(err, "reading run context")
	}
	var runCtx map[string]runEntry
	if err := yaml.Unmarshal(runData, &runCtx); err != nil {
		return errors.Wrap(err, "parsing run context")
	}

	rt, err := runtimeclient.NewDockerClient(log)
	if err != nil {
		return errors.Wrap(err, "connecting to container runtime")
	}

	var failures []error
	for name := range spec {
		run, ok := runCtx[name]
		if !ok {
			log.Warn("no run context for workload image, skipping", "image", name)
			continue
		}
		imgLog := log.With("image", name)
		tarPath, jsonPath, err := driver.Slim(context.Background(), imgLog, rt, driver.Options{
			OriginalImage:       name,
			NewImagePrefix:      run.NewImagePrefix,
			ContainerID:         run.ContainerID,
			RootPID:             run.RootPID,
			RootCwd:             run.RootCwd,
			TraceLogPath:        run.TraceLog,
			IsContainerRoot:     run.ContainerRoot,
			VolumeMountOverride: run.VolumeMountOverride,
		})
		if err != nil {
			imgLog.Error("slim failed", "error", err)
			failures = append(failures, errors.Wrapf(err, "image %s", name))
			continue
		}
		fmt.Printf("%s: wrote %s and %s\n", name, tarPath, jsonPath)
	}

	if len(failures) > 0 {
		return errors.Errorf("%d of %d images failed", len(failures), len(spec))
	}
	return nil
}
