// Package workload decodes the YAML workload specification consumed by
// the `debloat` CLI subcommand: a mapping from image name to the
// acceptance-test and runtime parameters the outer driver loop needs to
// trace and then exercise a debloated replacement.
package workload

import (
	"os"

	"gopkg.in/yaml.v2"

	"github.com/negativa-ai/MMLB/internal/corefail"
)

// TestCase is one acceptance check run against a started container.
type TestCase struct {
	Name     string `yaml:"name"`
	Command  string `yaml:"command"`
	Expected string `yaml:"expected"`
}

// Image is one entry of the workload spec: everything needed to start the
// original container, drive it through a representative workload, and
// later verify a debloated replacement behaves the same way.
type Image struct {
	Cmd         []string          `yaml:"cmd"`
	Mounts      map[string]string `yaml:"mounts"`
	Ports       []string          `yaml:"ports"`
	Environment map[string]string `yaml:"environment"`
	TestCases   []TestCase        `yaml:"test_cases"`
	FlagText    string            `yaml:"flag_text"`
	LongRunning bool              `yaml:"long_running"`
}

// Spec is the full workload document: image name to its Image definition.
type Spec map[string]Image

// Load reads and decodes the workload spec at path.
func Load(path string) (Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, corefail.New(corefail.KindConfiguration, path, "reading workload spec: %v", err)
	}
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, corefail.New(corefail.KindConfiguration, path, "parsing workload spec: %v", err)
	}
	return spec, nil
}

// AfterSlimFunc is the signature of a per-image hook to run after a
// debloated replacement has been written, such as running acceptance
// tests, emitting an image-diff CSV, or package/vulnerability analysis.
// None of those concerns are implemented here, and the debloat subcommand
// does not invoke any AfterSlimFunc.
type AfterSlimFunc func(imageName string, img Image, tarPath, jsonPath string) error
