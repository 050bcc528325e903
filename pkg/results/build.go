package results

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Kind identifies how a build relates to a matrix build.
type Kind string

// Build kinds.
const (
	// KindFreestyle is a plain, non-matrix build.
	KindFreestyle Kind = "freestyle"
	// KindMatrix is the aggregating root of a matrix build.
	KindMatrix Kind = "matrix"
	// KindMatrixRun is a single configuration run of a matrix build.
	KindMatrixRun Kind = "matrix-run"
)

// Valid reports whether k is a known kind. The empty kind is a freestyle
// build.
func (k Kind) Valid() bool {
	switch k {
	case "", KindFreestyle, KindMatrix, KindMatrixRun:
		return true
	default:
		return false
	}
}

// HasTestResults reports whether builds of kind k carry test results of
// their own. Matrix parents only aggregate their runs.
func (k Kind) HasTestResults() bool {
	return k == "" || k == KindFreestyle || k == KindMatrixRun
}

// Build result statuses reported by the CI system. Other raw values are
// preserved as-is.
const (
	StatusSuccess  = "SUCCESS"
	StatusUnstable = "UNSTABLE"
	StatusFailure  = "FAILURE"
	StatusAborted  = "ABORTED"
	StatusNotBuilt = "NOT_BUILT"
)

// Build describes one completed CI build.
type Build struct {
	Project string `json:"project" yaml:"project"`
	Number  int    `json:"number" yaml:"number"`
	Kind    Kind   `json:"kind,omitempty" yaml:"kind,omitempty"`

	// ParentName is the matrix configuration name of a matrix-run build.
	ParentName string `json:"parent_name,omitempty" yaml:"parent_name,omitempty"`

	Node        string    `json:"node,omitempty" yaml:"node,omitempty"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Result      string    `json:"result,omitempty" yaml:"result,omitempty"`
	URL         string    `json:"url,omitempty" yaml:"url,omitempty"`
}

// IsMatrixRun reports whether the build is a child run of a matrix build.
func (b *Build) IsMatrixRun() bool {
	return b.Kind == KindMatrixRun
}

// IsMatrixParent reports whether the build is the root of a matrix build.
func (b *Build) IsMatrixParent() bool {
	return b.Kind == KindMatrix
}

// LoadBuildFile reads a build descriptor from a YAML (or JSON) file.
func LoadBuildFile(path string) (*Build, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading build file: %w", err)
	}

	var b Build
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parsing build file: %w", err)
	}

	return &b, nil
}
