package oracle_test

import (
	"os"
	"path/filepath"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/negativa-ai/MMLB/internal/oracle"
)

func Test(t *testing.T) { TestingT(t) }

type oracleSuite struct {
	root string
}

var _ = Suite(&oracleSuite{})

func (s *oracleSuite) SetUpTest(c *C) {
	s.root = c.MkDir()
	mustMkdirAll(c, filepath.Join(s.root, "usr", "bin"))
	mustMkdirAll(c, filepath.Join(s.root, "opt", "py"))
	mustWriteFile(c, filepath.Join(s.root, "usr", "bin", "true"), "not a script\n")
	mustWriteFile(c, filepath.Join(s.root, "app.sh"), "#!/bin/sh\necho hi\n")
	mustSymlink(c, "../../opt/py/python3.9", filepath.Join(s.root, "usr", "bin", "python3"))
	mustMkdirAll(c, filepath.Join(s.root, "opt", "py"))
	mustWriteFile(c, filepath.Join(s.root, "opt", "py", "python3.9"), "elf\n")
}

func mustMkdirAll(c *C, p string) {
	c.Assert(os.MkdirAll(p, 0o755), IsNil)
}

func mustWriteFile(c *C, p, content string) {
	c.Assert(os.WriteFile(p, []byte(content), 0o644), IsNil)
}

func mustSymlink(c *C, target, linkname string) {
	c.Assert(os.Symlink(target, linkname), IsNil)
}

func (s *oracleSuite) TestExistsAndLexists(c *C) {
	o := oracle.New(s.root)
	c.Check(o.Exists("usr/bin/true"), Equals, true)
	c.Check(o.Exists("does/not/exist"), Equals, false)
	c.Check(o.Lexists("usr/bin/python3"), Equals, true)
}

func (s *oracleSuite) TestIsLinkAndIsRegular(c *C) {
	o := oracle.New(s.root)
	c.Check(o.IsLink("usr/bin/python3"), Equals, true)
	c.Check(o.IsLink("usr/bin/true"), Equals, false)
	c.Check(o.IsRegular("usr/bin/true"), Equals, true)
	c.Check(o.IsRegular("usr/bin/python3"), Equals, true, Commentf("regular through a symlink chain"))
}

func (s *oracleSuite) TestIsDirFollowsLstatNotTarget(c *C) {
	o := oracle.New(s.root)
	c.Check(o.IsDir("usr/bin"), Equals, true)
	c.Check(o.IsDir("usr/bin/python3"), Equals, false, Commentf("a symlink is not itself a directory"))
}

func (s *oracleSuite) TestRootedRealpathFollowsRelativeLink(c *C) {
	o := oracle.New(s.root)
	resolved := o.RootedRealpath("usr/bin/python3")
	c.Check(resolved, Equals, "opt/py/python3.9")
}

func (s *oracleSuite) TestRootedRealpathNoLink(c *C) {
	o := oracle.New(s.root)
	c.Check(o.RootedRealpath("usr/bin/true"), Equals, "usr/bin/true")
}

func (s *oracleSuite) TestReadInterpreter(c *C) {
	o := oracle.New(s.root)
	interp, ok := o.ReadInterpreter("app.sh")
	c.Check(ok, Equals, true)
	c.Check(interp, Equals, "/bin/sh")

	_, ok = o.ReadInterpreter("usr/bin/true")
	c.Check(ok, Equals, false)

	_, ok = o.ReadInterpreter("does/not/exist")
	c.Check(ok, Equals, false)
}
