package workload_test

import (
	"os"
	"path/filepath"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/negativa-ai/MMLB/internal/workload"
)

func Test(t *testing.T) { TestingT(t) }

type workloadSuite struct{}

var _ = Suite(&workloadSuite{})

const fixture = `
web:
  cmd: ["/usr/bin/app", "--serve"]
  mounts:
    /data: /host/data
  ports:
    - "8080/tcp"
  environment:
    PATH: /usr/bin
  test_cases:
    - name: health
      command: curl -sf localhost:8080/health
      expected: "ok"
  flag_text: smoke
  long_running: true
`

func (s *workloadSuite) TestLoadDecodesImages(c *C) {
	dir := c.MkDir()
	path := filepath.Join(dir, "workload.yaml")
	c.Assert(os.WriteFile(path, []byte(fixture), 0o644), IsNil)

	spec, err := workload.Load(path)
	c.Assert(err, IsNil)
	c.Assert(spec, HasLen, 1)

	img, ok := spec["web"]
	c.Assert(ok, Equals, true)
	c.Check(img.Cmd, DeepEquals, []string{"/usr/bin/app", "--serve"})
	c.Check(img.Mounts["/data"], Equals, "/host/data")
	c.Check(img.Ports, DeepEquals, []string{"8080/tcp"})
	c.Check(img.Environment["PATH"], Equals, "/usr/bin")
	c.Assert(img.TestCases, HasLen, 1)
	c.Check(img.TestCases[0].Name, Equals, "health")
	c.Check(img.LongRunning, Equals, true)
}

func (s *workloadSuite) TestLoadMissingFile(c *C) {
	_, err := workload.Load(filepath.Join(c.MkDir(), "does-not-exist.yaml"))
	c.Assert(err, NotNil)
}
