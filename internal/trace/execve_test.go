package trace_test

import (
	. "gopkg.in/check.v1"

	"github.com/negativa-ai/MMLB/internal/trace"
)

type execveSuite struct{}

var _ = Suite(&execveSuite{})

func (s *execveSuite) TestParseExecveArgsPlain(c *C) {
	path, argv, envp, err := trace.ParseExecveArgs(`"/bin/ls", ["ls", "-la"], ["PATH=/usr/bin", "HOME=/root"]`)
	c.Assert(err, IsNil)
	c.Check(path, Equals, "/bin/ls")
	c.Check(argv, DeepEquals, []string{"ls", "-la"})
	c.Check(envp, DeepEquals, []string{"PATH=/usr/bin", "HOME=/root"})
}

func (s *execveSuite) TestParseExecveArgsStrayBackslash(c *C) {
	// strace prints argv entries as JSON-ish quoted strings but does not
	// itself guarantee a literal backslash inside one is doubled; the
	// repair loop re-escapes it rather than failing the whole line.
	path, argv, envp, err := trace.ParseExecveArgs(`"/bin/sh", ["sh", "-c", "echo C:\Users"], ["HOME=/root"]`)
	c.Assert(err, IsNil)
	c.Check(path, Equals, "/bin/sh")
	c.Check(argv, DeepEquals, []string{"sh", "-c", `echo C:\Users`})
	c.Check(envp, DeepEquals, []string{"HOME=/root"})
}

func (s *execveSuite) TestParseExecveArgsUnrecoverable(c *C) {
	_, _, _, err := trace.ParseExecveArgs(`"/bin/sh`)
	c.Check(err, NotNil)
}
