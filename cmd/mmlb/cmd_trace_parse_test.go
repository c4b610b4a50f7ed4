package main

import (
	"os"
	"path/filepath"

	. "gopkg.in/check.v1"
)

type traceParseSuite struct{}

var _ = Suite(&traceParseSuite{})

func (s *traceParseSuite) TestCreateResultFileDiscardsStaleContent(c *C) {
	path := filepath.Join(c.MkDir(), "result.json")
	c.Assert(os.WriteFile(path, []byte("stale"), 0o644), IsNil)

	f, err := createResultFile(path)
	c.Assert(err, IsNil)
	c.Assert(f.Close(), IsNil)

	content, err := os.ReadFile(path)
	c.Assert(err, IsNil)
	c.Check(string(content), Equals, "")
}

func (s *traceParseSuite) TestCreateResultFileWithoutPriorFile(c *C) {
	path := filepath.Join(c.MkDir(), "result.json")

	f, err := createResultFile(path)
	c.Assert(err, IsNil)
	c.Assert(f.Close(), IsNil)

	_, err = os.Stat(path)
	c.Check(err, IsNil)
}
