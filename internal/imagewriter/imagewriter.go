// Package imagewriter packages a closure of exported-root paths plus a
// synthesized metadata blob into a single-layer legacy Docker v1 image
// tarball that `docker load` can ingest directly.
package imagewriter

import (
	"archive/tar"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/negativa-ai/MMLB/internal/corefail"
)

// Config carries the source image's container configuration fields that
// survive into the debloated image's metadata.
type Config struct {
	Env          []string
	Cmd          []string
	Entrypoint   []string
	WorkingDir   string
	ExposedPorts []string
}

// Options describes one image-writing run.
type Options struct {
	// Name is the new image's repository name.
	Name string
	// Root is the absolute path to the exported container filesystem tree
	// on the local disk (the Filesystem Oracle's root).
	Root string
	// Paths is the Closure Builder's root-relative path list.
	Paths []string
	// StubPaths are root-relative paths contributed by a sibling image
	// (its own executable entry points); they are excluded from this
	// image's layer so they aren't duplicated across images that share an
	// exported root.
	StubPaths []string
	// SelfExe is the root-relative path to this image's own main binary.
	// Write does not read it: it is neither resolved nor excluded from
	// Paths.
	SelfExe string
	Source  Config
	// DestDir is the directory <name>.tar is written into.
	DestDir string
}

type imageConfig struct {
	AttachStderr    bool                `json:"AttachStderr"`
	AttachStdin     bool                `json:"AttachStdin"`
	AttachStdout    bool                `json:"AttachStdout"`
	Cmd             []string            `json:"Cmd"`
	Domainname      string              `json:"Domainname"`
	Entrypoint      []string            `json:"Entrypoint"`
	Env             []string            `json:"Env"`
	ExposedPorts    map[string]struct{} `json:"ExposedPorts"`
	Hostname        string              `json:"Hostname"`
	Image           string              `json:"Image"`
	Labels          map[string]string   `json:"Labels"`
	MacAddress      string              `json:"MacAddress"`
	NetworkDisabled bool                `json:"NetworkDisabled"`
	OnBuild         []string            `json:"OnBuild"`
	OpenStdin       bool                `json:"OpenStdin"`
	PublishService  string              `json:"PublishService"`
	StdinOnce       bool                `json:"StdinOnce"`
	Tty             bool                `json:"Tty"`
	User            string              `json:"User"`
	VolumeDriver    string              `json:"VolumeDriver"`
	Volumes         map[string]struct{} `json:"Volumes"`
	WorkingDir      string              `json:"WorkingDir"`
}

type imageMetadata struct {
	Architecture    string      `json:"architecture"`
	Config          imageConfig `json:"config"`
	Container       string      `json:"container"`
	ContainerConfig imageConfig `json:"container_config"`
	Created         string      `json:"created"`
	DockerVersion   string      `json:"docker_version"`
	ID              string      `json:"id"`
	OS              string      `json:"os"`
}

func defaultConfig() imageConfig {
	return imageConfig{
		Cmd: nil,
	}
}

func metadataFor(id string, src Config) imageMetadata {
	cfg := defaultConfig()
	cfg.Env = src.Env
	cfg.Cmd = src.Cmd
	cfg.Entrypoint = src.Entrypoint
	cfg.WorkingDir = src.WorkingDir
	if len(src.ExposedPorts) > 0 {
		cfg.ExposedPorts = map[string]struct{}{}
		for _, p := range src.ExposedPorts {
			cfg.ExposedPorts[p] = struct{}{}
		}
	}
	containerCfg := defaultConfig()
	containerCfg.Cmd = []string{"/bin/sh", "-c", "#(nop) ADD files in /"}
	return imageMetadata{
		Architecture:    "amd64",
		Config:          cfg,
		ContainerConfig: containerCfg,
		Created:         time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z"),
		DockerVersion:   "1.9.0",
		ID:              id,
		OS:              "linux",
	}
}

func randomLayerID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", corefail.New(corefail.KindImageEmission, "", "generating layer id: %v", err)
	}
	return hex.EncodeToString(buf), nil
}

// Write assembles the single-layer image and returns the path to the
// emitted <name>.tar.
func Write(log hclog.Logger, opts Options) (tarPath string, err error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}

	suffix, err := uuid.NewV4()
	if err != nil {
		return "", corefail.New(corefail.KindImageEmission, opts.Name, "generating work dir suffix: %v", err)
	}
	workDir := filepath.Join(opts.DestDir, fmt.Sprintf(".mmlb-imagewriter-%s", suffix.String()))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", corefail.New(corefail.KindImageEmission, opts.Name, "creating work dir: %v", err)
	}
	defer os.RemoveAll(workDir)

	layerID, err := randomLayerID()
	if err != nil {
		return "", err
	}
	log.Debug("assigned layer id", "image", opts.Name, "layer_id", layerID)

	imgDir := filepath.Join(workDir, opts.Name)
	layerDir := filepath.Join(imgDir, layerID)
	if err := os.MkdirAll(layerDir, 0o755); err != nil {
		return "", corefail.New(corefail.KindImageEmission, opts.Name, "creating layer dir: %v", err)
	}

	if err := os.WriteFile(filepath.Join(layerDir, "VERSION"), []byte("1.0"), 0o644); err != nil {
		return "", corefail.New(corefail.KindImageEmission, opts.Name, "writing VERSION: %v", err)
	}

	metadata := metadataFor(layerID, opts.Source)
	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return "", corefail.New(corefail.KindImageEmission, opts.Name, "marshaling metadata: %v", err)
	}
	if err := os.WriteFile(filepath.Join(layerDir, "json"), metadataBytes, 0o644); err != nil {
		return "", corefail.New(corefail.KindImageEmission, opts.Name, "writing json: %v", err)
	}

	paths := excludeStubs(opts.Paths, opts.StubPaths)
	if err := writeLayerTar(filepath.Join(layerDir, "layer.tar"), opts.Root, paths); err != nil {
		return "", err
	}

	repos := map[string]map[string]string{opts.Name: {"latest": layerID}}
	reposBytes, err := json.Marshal(repos)
	if err != nil {
		return "", corefail.New(corefail.KindImageEmission, opts.Name, "marshaling repositories: %v", err)
	}
	if err := os.WriteFile(filepath.Join(imgDir, "repositories"), reposBytes, 0o644); err != nil {
		return "", corefail.New(corefail.KindImageEmission, opts.Name, "writing repositories: %v", err)
	}

	tarPath = filepath.Join(opts.DestDir, opts.Name+".tar")
	if err := writeImageTar(tarPath, imgDir); err != nil {
		return "", err
	}
	log.Info("wrote image", "image", opts.Name, "path", tarPath, "paths", len(paths))
	return tarPath, nil
}

func excludeStubs(paths, stubs []string) []string {
	excluded := map[string]struct{}{}
	for _, s := range stubs {
		excluded[s] = struct{}{}
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := excluded[p]; ok {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// writeLayerTar writes paths (already ancestor-before-descendant sorted)
// as explicit tar entries taken from root, one per path, with no
// recursive directory expansion: a directory in paths becomes exactly one
// empty-directory entry, and any children it has must already be present
// in paths to be included.
func writeLayerTar(dest, root string, paths []string) error {
	f, err := os.Create(dest)
	if err != nil {
		return corefail.New(corefail.KindImageEmission, dest, "creating layer.tar: %v", err)
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	for _, p := range paths {
		full := filepath.Join(root, p)
		info, err := os.Lstat(full)
		if err != nil {
			continue
		}
		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			link, err = os.Readlink(full)
			if err != nil {
				return corefail.New(corefail.KindImageEmission, p, "reading symlink: %v", err)
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return corefail.New(corefail.KindImageEmission, p, "building tar header: %v", err)
		}
		hdr.Name = p
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return corefail.New(corefail.KindImageEmission, p, "writing tar header: %v", err)
		}
		if info.Mode().IsRegular() {
			if err := copyFileInto(tw, full); err != nil {
				return corefail.New(corefail.KindImageEmission, p, "copying file contents: %v", err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		return corefail.New(corefail.KindImageEmission, dest, "closing layer.tar: %v", err)
	}
	return nil
}

func copyFileInto(w io.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(w, src)
	return err
}

// writeImageTar wraps the image skeleton directory (repositories plus the
// per-layer subdirectory) into the final distributable tar. Unlike
// writeLayerTar this walks a tree this package itself produced, so
// ordinary recursive traversal is safe: there is no exported-root content
// whose inclusion needs to be limited to an explicit path list.
func writeImageTar(dest, imgDir string) error {
	f, err := os.Create(dest)
	if err != nil {
		return corefail.New(corefail.KindImageEmission, dest, "creating image tar: %v", err)
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	err = filepath.Walk(imgDir, func(full string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if full == imgDir {
			return nil
		}
		rel, err := filepath.Rel(imgDir, full)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			return copyFileInto(tw, full)
		}
		return nil
	})
	if err != nil {
		return corefail.New(corefail.KindImageEmission, dest, "walking image dir: %v", err)
	}
	if err := tw.Close(); err != nil {
		return corefail.New(corefail.KindImageEmission, dest, "closing image tar: %v", err)
	}
	return nil
}
