// Package runtimeclient is the thin boundary between the core debloat
// pipeline and the container runtime: looking up an image's declared
// config, a running container's mounts, and exporting a container's
// filesystem so the Filesystem Oracle has something to resolve paths
// against.
package runtimeclient

import (
	"context"
	"io"

	docker "github.com/docker/docker/client"
	"github.com/hashicorp/go-hclog"

	"github.com/negativa-ai/MMLB/internal/corefail"
)

// ImageInfo is the subset of `docker inspect <image>` the Image Writer's
// metadata template (spec.md §4.5) carries over into the debloated image.
type ImageInfo struct {
	ID           string
	Env          []string
	Cmd          []string
	Entrypoint   []string
	WorkingDir   string
	ExposedPorts []string
}

// Mount is one entry of a container's declared mounts/volumes.
type Mount struct {
	Source      string
	Destination string
}

// ContainerInfo is the subset of `docker inspect <container>` the driver
// needs: which image it came from, its declared mounts (candidates for
// the Manifest Reducer's volume pruning), its working directory and
// command.
type ContainerInfo struct {
	ID         string
	ImageID    string
	Mounts     []Mount
	WorkingDir string
	Cmd        []string
}

// Client is the runtime boundary the driver depends on. A Docker-backed
// implementation is provided by NewDockerClient; tests substitute a fake.
type Client interface {
	InspectImage(ctx context.Context, ref string) (ImageInfo, error)
	InspectContainer(ctx context.Context, id string) (ContainerInfo, error)
	// ExportContainer streams the container's filesystem as a tar, the
	// same bytes `docker export` would produce. The caller is responsible
	// for unpacking it into the Filesystem Oracle's root and closing it.
	ExportContainer(ctx context.Context, id string) (io.ReadCloser, error)
}

type dockerClient struct {
	cli *docker.Client
	log hclog.Logger
}

// NewDockerClient builds a Client talking to the Docker daemon configured
// by the standard DOCKER_HOST/DOCKER_CERT_PATH/DOCKER_TLS_VERIFY
// environment variables.
func NewDockerClient(log hclog.Logger) (Client, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	cli, err := docker.NewClientWithOpts(docker.FromEnv)
	if err != nil {
		return nil, corefail.New(corefail.KindConfiguration, "", "connecting to container runtime: %v", err)
	}
	return &dockerClient{cli: cli, log: log}, nil
}

func (d *dockerClient) InspectImage(ctx context.Context, ref string) (ImageInfo, error) {
	inspect, _, err := d.cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		return ImageInfo{}, corefail.New(corefail.KindConfiguration, ref, "inspecting image: %v", err)
	}
	info := ImageInfo{ID: inspect.ID}
	if inspect.Config != nil {
		info.Env = inspect.Config.Env
		info.Cmd = []string(inspect.Config.Cmd)
		info.Entrypoint = []string(inspect.Config.Entrypoint)
		info.WorkingDir = inspect.Config.WorkingDir
		for port := range inspect.Config.ExposedPorts {
			info.ExposedPorts = append(info.ExposedPorts, string(port))
		}
	}
	d.log.Debug("inspected image", "ref", ref, "id", info.ID)
	return info, nil
}

func (d *dockerClient) InspectContainer(ctx context.Context, id string) (ContainerInfo, error) {
	inspect, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerInfo{}, corefail.New(corefail.KindConfiguration, id, "inspecting container: %v", err)
	}
	info := ContainerInfo{ID: inspect.ID, ImageID: inspect.Image}
	if inspect.Config != nil {
		info.Cmd = []string(inspect.Config.Cmd)
		info.WorkingDir = inspect.Config.WorkingDir
	}
	for _, m := range inspect.Mounts {
		info.Mounts = append(info.Mounts, Mount{Source: m.Source, Destination: m.Destination})
	}
	d.log.Debug("inspected container", "id", id, "image-id", info.ImageID, "mounts", len(info.Mounts))
	return info, nil
}

func (d *dockerClient) ExportContainer(ctx context.Context, id string) (io.ReadCloser, error) {
	rc, err := d.cli.ContainerExport(ctx, id)
	if err != nil {
		return nil, corefail.New(corefail.KindConfiguration, id, "exporting container filesystem: %v", err)
	}
	return rc, nil
}
