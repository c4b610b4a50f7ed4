package imagewriter_test

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/negativa-ai/MMLB/internal/imagewriter"
)

func Test(t *testing.T) { TestingT(t) }

type imagewriterSuite struct {
	root string
	dest string
}

var _ = Suite(&imagewriterSuite{})

func (s *imagewriterSuite) SetUpTest(c *C) {
	s.root = c.MkDir()
	s.dest = c.MkDir()
	c.Assert(os.MkdirAll(filepath.Join(s.root, "usr/bin"), 0o755), IsNil)
	c.Assert(os.WriteFile(filepath.Join(s.root, "usr/bin/app"), []byte("elf\n"), 0o755), IsNil)
	c.Assert(os.MkdirAll(filepath.Join(s.root, "lib"), 0o755), IsNil)
	c.Assert(os.WriteFile(filepath.Join(s.root, "lib/libc.so"), []byte("so\n"), 0o644), IsNil)
	c.Assert(os.Symlink("libc.so", filepath.Join(s.root, "lib/libc.so.6")), IsNil)
	c.Assert(os.MkdirAll(filepath.Join(s.root, "usr/bin/stubtool-dir"), 0o755), IsNil)
	c.Assert(os.WriteFile(filepath.Join(s.root, "usr/bin/stubtool"), []byte("elf\n"), 0o755), IsNil)
}

func (s *imagewriterSuite) TestWriteProducesLoadableStructure(c *C) {
	tarPath, err := imagewriter.Write(nil, imagewriter.Options{
		Name: "debloated",
		Root: s.root,
		Paths: []string{
			"usr", "usr/bin", "usr/bin/app",
			"lib", "lib/libc.so", "lib/libc.so.6",
		},
		SelfExe: "usr/bin/app",
		Source: imagewriter.Config{
			Env:        []string{"PATH=/usr/bin"},
			Cmd:        []string{"/usr/bin/app"},
			WorkingDir: "/usr/bin",
		},
		DestDir: s.dest,
	})
	c.Assert(err, IsNil)
	c.Check(tarPath, Equals, filepath.Join(s.dest, "debloated.tar"))

	entries := readTarEntries(c, tarPath)
	c.Check(contains(entries, "repositories"), Equals, true)

	repoBytes := readTopLevelFile(c, tarPath, "repositories")
	var repos map[string]map[string]string
	c.Assert(json.Unmarshal(repoBytes, &repos), IsNil)
	layerID, ok := repos["debloated"]["latest"]
	c.Assert(ok, Equals, true)
	c.Check(contains(entries, layerID+"/"), Equals, true)
	c.Check(contains(entries, layerID+"/VERSION"), Equals, true)
	c.Check(contains(entries, layerID+"/json"), Equals, true)
	c.Check(contains(entries, layerID+"/layer.tar"), Equals, true)

	version := readTopLevelFile(c, tarPath, "VERSION")
	c.Check(string(version), Equals, "1.0")
}

func (s *imagewriterSuite) TestLayerTarHasNoRecursionAndOrdersParentsFirst(c *C) {
	tarPath, err := imagewriter.Write(nil, imagewriter.Options{
		Name:    "noop",
		Root:    s.root,
		Paths:   []string{"usr", "usr/bin", "usr/bin/app", "lib", "lib/libc.so", "lib/libc.so.6"},
		SelfExe: "usr/bin/app",
		DestDir: s.dest,
	})
	c.Assert(err, IsNil)

	layerTar := extractLayerTar(c, tarPath)
	names := tarNames(c, layerTar)

	c.Check(contains(names, "usr/bin/stubtool"), Equals, false, Commentf("only listed paths may appear"))
	c.Check(contains(names, "usr/bin/stubtool-dir/"), Equals, false)

	seenUsr, seenUsrBin := false, false
	for _, n := range names {
		if n == "usr/" {
			seenUsr = true
		}
		if n == "usr/bin/" {
			c.Check(seenUsr, Equals, true, Commentf("parent dir must precede child"))
			seenUsrBin = true
		}
		if n == "usr/bin/app" {
			c.Check(seenUsrBin, Equals, true, Commentf("parent dir must precede file"))
		}
	}
	c.Check(seenUsrBin, Equals, true)
}

func (s *imagewriterSuite) TestStubPathsExcludedFromLayer(c *C) {
	tarPath, err := imagewriter.Write(nil, imagewriter.Options{
		Name:      "withstubs",
		Root:      s.root,
		Paths:     []string{"usr", "usr/bin", "usr/bin/app", "usr/bin/stubtool"},
		StubPaths: []string{"usr/bin/stubtool"},
		SelfExe:   "usr/bin/app",
		DestDir:   s.dest,
	})
	c.Assert(err, IsNil)

	layerTar := extractLayerTar(c, tarPath)
	names := tarNames(c, layerTar)
	c.Check(contains(names, "usr/bin/app"), Equals, true)
	c.Check(contains(names, "usr/bin/stubtool"), Equals, false)
}

func (s *imagewriterSuite) TestMetadataCarriesSourceConfig(c *C) {
	tarPath, err := imagewriter.Write(nil, imagewriter.Options{
		Name:  "metacheck",
		Root:  s.root,
		Paths: []string{"usr", "usr/bin", "usr/bin/app"},
		Source: imagewriter.Config{
			Env: []string{"PATH=/usr/bin"},
			Cmd: []string{"/usr/bin/app"},
		},
		DestDir: s.dest,
	})
	c.Assert(err, IsNil)

	data := readTopLevelFile(c, tarPath, "json")
	var meta map[string]interface{}
	c.Assert(json.Unmarshal(data, &meta), IsNil)
	config := meta["config"].(map[string]interface{})
	c.Check(config["Env"], DeepEquals, []interface{}{"PATH=/usr/bin"})
	c.Check(config["Cmd"], DeepEquals, []interface{}{"/usr/bin/app"})
	id, ok := meta["id"].(string)
	c.Check(ok, Equals, true)
	c.Check(len(id), Equals, 64)
}

func readTarEntries(c *C, tarPath string) []string {
	f, err := os.Open(tarPath)
	c.Assert(err, IsNil)
	defer f.Close()
	tr := tar.NewReader(f)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		c.Assert(err, IsNil)
		names = append(names, hdr.Name)
	}
	return names
}

// readTopLevelFile returns the contents of the first regular-file entry in
// the image tar whose base name is basename: the top-level repositories
// file, or a file in the single layer directory a debloat run produces.
func readTopLevelFile(c *C, tarPath, basename string) []byte {
	f, err := os.Open(tarPath)
	c.Assert(err, IsNil)
	defer f.Close()
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		c.Assert(err, IsNil)
		if filepath.Base(hdr.Name) == basename && hdr.Typeflag == tar.TypeReg {
			data, err := io.ReadAll(tr)
			c.Assert(err, IsNil)
			return data
		}
	}
	c.Fatalf("%s not found in %s", basename, tarPath)
	return nil
}

func extractLayerTar(c *C, tarPath string) []byte {
	return readTopLevelFile(c, tarPath, "layer.tar")
}

func tarNames(c *C, tarBytes []byte) []string {
	tr := tar.NewReader(bytes.NewReader(tarBytes))
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		c.Assert(err, IsNil)
		names = append(names, hdr.Name)
	}
	return names
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
