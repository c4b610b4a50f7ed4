package main

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/negativa-ai/MMLB/internal/driver"
	"github.com/negativa-ai/MMLB/internal/runtimeclient"
)

type cmdSlim struct {
	OriginalImage       string   `long:"original-image" description:"Reference of the original image" required:"yes"`
	NewImagePrefix      string   `long:"new-image-prefix" description:"Path prefix the debloated .tar and .json are written to" required:"yes"`
	ContainerID         string   `long:"container-id" description:"ID of the already-traced running container" required:"yes"`
	RootPID             string   `long:"root-pid" description:"Pid of the traced process" required:"yes"`
	RootCwd             string   `long:"root-cwd" description:"Initial working directory of the traced process" default:"/"`
	TraceLog            string   `long:"trace-log" description:"Path to the trace log" required:"yes"`
	ContainerRoot       bool     `long:"container-root" description:"Root pid performs the container's initial pivot_root"`
	VolumeMountOverride []string `long:"volume-mount" description:"Override the container's declared mounts (repeatable); omit to use the container's own mounts"`
	WorkDir             string   `long:"work-dir" description:"Scratch directory for the export and the staged image (default: directory of new-image-prefix)"`
	Verbose             bool     `short:"v" long:"verbose" description:"Enable debug logging"`
}

func (x *cmdSlim) Execute(args []string) error {
	level := hclog.Info
	if x.Verbose {
		level = hclog.Debug
	}
	log := hclog.New(&hclog.LoggerOptions{Name: "mmlb", Level: level})

	rt, err := runtimeclient.NewDockerClient(log)
	if err != nil {
		return errors.Wrap(err, "connecting to container runtime")
	}

	tarPath, jsonPath, err := driver.Slim(context.Background(), log, rt, driver.Options{
		OriginalImage:       x.OriginalImage,
		NewImagePrefix:      x.NewImagePrefix,
		ContainerID:         x.ContainerID,
		RootPID:             x.RootPID,
		RootCwd:             x.RootCwd,
		TraceLogPath:        x.TraceLog,
		IsContainerRoot:     x.ContainerRoot,
		VolumeMountOverride: x.VolumeMountOverride,
		WorkDir:             x.WorkDir,
	})
	if err != nil {
		return errors.Wrap(err, "running slim")
	}

	fmt.Printf("wrote %s and %s\n", tarPath, jsonPath)
	return nil
}
