package closure_test

import (
	"os"
	"path/filepath"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/negativa-ai/MMLB/internal/closure"
	"github.com/negativa-ai/MMLB/internal/oracle"
)

func Test(t *testing.T) { TestingT(t) }

type closureSuite struct {
	root string
}

var _ = Suite(&closureSuite{})

func (s *closureSuite) SetUpTest(c *C) {
	s.root = c.MkDir()
	mkdirs(c, s.root, "usr/bin", "lib/python3.9/bin", "opt/py")
	writeFile(c, filepath.Join(s.root, "opt/py/python3"), "elf\n")
	symlink(c, "../../lib/python3.9/bin/python3", filepath.Join(s.root, "usr/bin/python3"))
	symlink(c, "../../../opt/py/python3", filepath.Join(s.root, "lib/python3.9/bin/python3"))
	mkdirs(c, s.root, "app")
	writeFile(c, filepath.Join(s.root, "app/run.sh"), "#!/bin/sh\necho hi\n")
	mkdirs(c, s.root, "bin")
	writeFile(c, filepath.Join(s.root, "bin/sh"), "elf\n")
}

func mkdirs(c *C, root string, dirs ...string) {
	for _, d := range dirs {
		c.Assert(os.MkdirAll(filepath.Join(root, d), 0o755), IsNil)
	}
}

func writeFile(c *C, p, content string) {
	c.Assert(os.WriteFile(p, []byte(content), 0o644), IsNil)
}

func symlink(c *C, target, linkname string) {
	c.Assert(os.Symlink(target, linkname), IsNil)
}

func (s *closureSuite) TestDropsDynamicRoots(c *C) {
	o := oracle.New(s.root)
	out := closure.Build([]string{"/proc/1/status", "/dev/null", "/sys/class"}, o)
	for _, p := range out {
		c.Check(p, Not(Matches), "^(proc|dev|sys)(/.*)?$")
	}
}

func (s *closureSuite) TestIncludesKnownLinkers(c *C) {
	o := oracle.New(s.root)
	out := closure.Build([]string{"/bin/sh"}, o)
	c.Check(contains(out, "lib/ld-linux.so.2"), Equals, true)
	c.Check(contains(out, "lib64/ld-linux-x86-64.so.2"), Equals, true)
}

func (s *closureSuite) TestScriptInterpreterIncluded(c *C) {
	o := oracle.New(s.root)
	out := closure.Build([]string{"/app/run.sh"}, o)
	c.Check(contains(out, "app/run.sh"), Equals, true)
	c.Check(contains(out, "bin/sh"), Equals, true)
	c.Check(contains(out, "app"), Equals, true, Commentf("ancestor directory must be present"))
}

func (s *closureSuite) TestSymlinkGraftChain(c *C) {
	o := oracle.New(s.root)
	out := closure.Build([]string{"/usr/bin/python3"}, o)
	c.Check(contains(out, "usr/bin/python3"), Equals, true)
	c.Check(contains(out, "lib/python3.9/bin/python3"), Equals, true)
	c.Check(contains(out, "opt/py/python3"), Equals, true)
	c.Check(contains(out, "usr/bin"), Equals, true)
	c.Check(contains(out, "lib/python3.9/bin"), Equals, true)
	c.Check(contains(out, "opt/py"), Equals, true)
}

func (s *closureSuite) TestMonotonic(c *C) {
	o := oracle.New(s.root)
	small := closure.Build([]string{"/bin/sh"}, o)
	big := closure.Build([]string{"/bin/sh", "/app/run.sh"}, o)
	for _, p := range small {
		c.Check(contains(big, p), Equals, true, Commentf("path %q dropped when adding more input", p))
	}
}

func contains(list []string, want string) bool {
	for _, p := range list {
		if p == want {
			return true
		}
	}
	return false
}
