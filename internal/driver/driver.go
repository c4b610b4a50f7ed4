// Package driver implements the Debloater Driver's single entry point:
// orchestrating trace parsing, closure building, manifest reduction, and
// image emission into one debloat run.
package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/docker/docker/pkg/archive"
	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/negativa-ai/MMLB/internal/closure"
	"github.com/negativa-ai/MMLB/internal/corefail"
	"github.com/negativa-ai/MMLB/internal/imagewriter"
	"github.com/negativa-ai/MMLB/internal/oracle"
	"github.com/negativa-ai/MMLB/internal/reducer"
	"github.com/negativa-ai/MMLB/internal/runtimeclient"
	"github.com/negativa-ai/MMLB/internal/trace"
)

// Options is everything one Slim invocation needs. It mirrors spec.md
// §6's `slim(originalImage, newImagePrefix, containerId, rootPid,
// traceLogPath, volumeMountOverride?)` entry point.
type Options struct {
	OriginalImage       string
	NewImagePrefix      string
	ContainerID         string
	RootPID             string
	RootCwd             string
	TraceLogPath        string
	IsContainerRoot     bool
	VolumeMountOverride []string
	// WorkDir is a scratch directory Slim may freely create subdirectories
	// under: the exported rootfs, and the staging area the output image
	// is written to before its atomic rename into place. Defaults to the
	// directory containing NewImagePrefix.
	WorkDir string
}

// Mount is one retained or candidate mount descriptor in the companion
// manifest.
type Mount struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// Manifest is the companion JSON spec.md §6 requires alongside the image
// tar: retained env names, retained mounts, working dir, command, and
// whether this is the main image of a (possibly multi-image) debloat run.
type Manifest struct {
	RetainedEnv    []string `json:"retained_env"`
	RetainedMounts []Mount  `json:"retained_mounts"`
	WorkingDir     string   `json:"working_dir"`
	Cmd            []string `json:"cmd"`
	IsMain         bool     `json:"is_main"`
}

// Slim runs one debloat: parse the trace, build the closure, reduce the
// manifest, and emit <opts.NewImagePrefix>.tar and .json. On any fatal
// error no output files are left behind.
func Slim(ctx context.Context, log hclog.Logger, rt runtimeclient.Client, opts Options) (tarPath, jsonPath string, err error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if opts.RootPID == "" {
		return "", "", corefail.New(corefail.KindConfiguration, opts.ContainerID, "rootPid is required")
	}
	if opts.TraceLogPath == "" {
		return "", "", corefail.New(corefail.KindConfiguration, opts.ContainerID, "traceLogPath is required")
	}
	if opts.RootCwd == "" {
		opts.RootCwd = "/"
	}
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(opts.NewImagePrefix)
	}

	suffix, uErr := uuid.NewV4()
	if uErr != nil {
		return "", "", corefail.New(corefail.KindConfiguration, opts.ContainerID, "generating work dir suffix: %v", uErr)
	}
	scratch := filepath.Join(workDir, fmt.Sprintf(".mmlb-slim-%s", suffix.String()))
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return "", "", corefail.New(corefail.KindConfiguration, scratch, "creating scratch dir: %v", err)
	}
	defer os.RemoveAll(scratch)

	imageInfo, err := rt.InspectImage(ctx, opts.OriginalImage)
	if err != nil {
		return "", "", err
	}
	containerInfo, err := rt.InspectContainer(ctx, opts.ContainerID)
	if err != nil {
		return "", "", err
	}

	rootfs := filepath.Join(scratch, "rootfs")
	if err := exportRootfs(ctx, rt, opts.ContainerID, rootfs); err != nil {
		return "", "", err
	}
	o := oracle.New(rootfs)

	records, err := parseTrace(opts.RootPID, opts.RootCwd, opts.IsContainerRoot, opts.TraceLogPath, log)
	if err != nil {
		return "", "", err
	}

	accessPaths := unionAccessPaths(records)
	closurePaths := closure.Build(accessPaths, o)

	var regularFiles []string
	for _, p := range closurePaths {
		full := filepath.Join(rootfs, p)
		if o.IsRegular(p) {
			regularFiles = append(regularFiles, full)
		}
	}
	dropped := reducer.ReduceEnviron(envNames(imageInfo.Env), regularFiles)
	retainedEnv := subtractNames(imageInfo.Env, dropped)

	mountDestinations := opts.VolumeMountOverride
	if mountDestinations == nil {
		for _, m := range containerInfo.Mounts {
			mountDestinations = append(mountDestinations, m.Destination)
		}
	}
	retainedMountDests := reducer.ReduceVolumes(accessPaths, mountDestinations)
	retainedMounts := mountsByDestination(containerInfo.Mounts, retainedMountDests)

	imgName := filepath.Base(opts.NewImagePrefix)
	producedTar, err := writeImage(log, imgName, rootfs, closurePaths, imageInfo, scratch)
	if err != nil {
		return "", "", err
	}

	manifest := Manifest{
		RetainedEnv:    retainedEnv,
		RetainedMounts: retainedMounts,
		WorkingDir:     containerInfo.WorkingDir,
		Cmd:            containerInfo.Cmd,
		IsMain:         true,
	}
	producedJSON := filepath.Join(scratch, imgName+".json")
	manifestBytes, mErr := json.MarshalIndent(manifest, "", "  ")
	if mErr != nil {
		return "", "", corefail.New(corefail.KindImageEmission, opts.NewImagePrefix, "marshaling manifest: %v", mErr)
	}
	if err := os.WriteFile(producedJSON, manifestBytes, 0o644); err != nil {
		return "", "", corefail.New(corefail.KindImageEmission, producedJSON, "writing manifest: %v", err)
	}

	finalTar := opts.NewImagePrefix + ".tar"
	finalJSON := opts.NewImagePrefix + ".json"
	if err := os.Rename(producedTar, finalTar); err != nil {
		return "", "", corefail.New(corefail.KindImageEmission, finalTar, "publishing image tar: %v", err)
	}
	if err := os.Rename(producedJSON, finalJSON); err != nil {
		os.Remove(finalTar)
		return "", "", corefail.New(corefail.KindImageEmission, finalJSON, "publishing manifest: %v", err)
	}

	log.Info("slim complete", "image", opts.OriginalImage, "tar", finalTar, "json", finalJSON)
	return finalTar, finalJSON, nil
}

func parseTrace(rootPID, rootCwd string, isContainerRoot bool, traceLogPath string, log hclog.Logger) ([]trace.ExecutionRecord, error) {
	f, err := os.Open(traceLogPath)
	if err != nil {
		return nil, corefail.New(corefail.KindConfiguration, traceLogPath, "opening trace log: %v", err)
	}
	defer f.Close()

	parser := trace.NewParser(rootPID, rootCwd, isContainerRoot)
	result, err := parser.Parse(f)
	if err != nil {
		return nil, err
	}
	for _, d := range result.Diagnostics {
		log.Warn("trace diagnostic", "pid", rootPID, "detail", d.String())
	}
	return result.Records, nil
}

// unionAccessPaths merges the exists-files and written-files sets across
// every ExecutionRecord of the traced process. Each execve resets those
// sets, so a record on its own underrepresents what the whole process
// touched; the union across its full lifetime is what the closure needs.
func unionAccessPaths(records []trace.ExecutionRecord) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	for _, r := range records {
		for _, p := range r.ExistFiles {
			add(p)
		}
		for _, p := range r.WrittenFiles {
			add(p)
		}
	}
	sort.Strings(out)
	return out
}

func envNames(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		out = append(out, name)
	}
	return out
}

func subtractNames(env, droppedNames []string) []string {
	dropped := map[string]struct{}{}
	for _, n := range droppedNames {
		dropped[n] = struct{}{}
	}
	var out []string
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		if _, ok := dropped[name]; !ok {
			out = append(out, kv)
		}
	}
	return out
}

func mountsByDestination(mounts []runtimeclient.Mount, retainedDests []string) []Mount {
	retained := map[string]struct{}{}
	for _, d := range retainedDests {
		retained[d] = struct{}{}
	}
	var out []Mount
	for _, m := range mounts {
		if _, ok := retained[m.Destination]; ok {
			out = append(out, Mount{Source: m.Source, Destination: m.Destination})
		}
	}
	return out
}

func writeImage(log hclog.Logger, name, rootfs string, closurePaths []string, imageInfo runtimeclient.ImageInfo, destDir string) (string, error) {
	return imagewriter.Write(log, imagewriter.Options{
		Name:  name,
		Root:  rootfs,
		Paths: closurePaths,
		Source: imagewriter.Config{
			Env:          imageInfo.Env,
			Cmd:          imageInfo.Cmd,
			Entrypoint:   imageInfo.Entrypoint,
			WorkingDir:   imageInfo.WorkingDir,
			ExposedPorts: imageInfo.ExposedPorts,
		},
		DestDir: destDir,
	})
}

func exportRootfs(ctx context.Context, rt runtimeclient.Client, containerID, destRoot string) error {
	rc, err := rt.ExportContainer(ctx, containerID)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return corefail.New(corefail.KindConfiguration, destRoot, "creating export root: %v", err)
	}
	return extractTar(rc, destRoot)
}

func extractTar(r io.Reader, destRoot string) error {
	// NoLchown: the driver usually does not run as root, and the oracle
	// only ever stats, reads, and resolves symlinks under destRoot, so
	// faithfully reproducing the export's ownership is not required.
	if err := archive.Untar(r, destRoot, &archive.TarOptions{NoLchown: true}); err != nil {
		return corefail.New(corefail.KindConfiguration, destRoot, "extracting container export stream: %v", err)
	}
	return nil
}
