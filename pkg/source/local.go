package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/mattn/go-zglob"
)

// Compile-time interface check.
var _ Reader = (*localReader)(nil)

type localReader struct{}

// NewLocalReader creates a Reader for glob patterns on the local
// filesystem. ** matches any number of directories.
func NewLocalReader() Reader {
	return &localReader{}
}

func (r *localReader) List(_ context.Context, pattern string) ([]string, error) {
	matches, err := zglob.Glob(pattern)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("matching %q: %w", pattern, err)
	}

	files := make([]string, 0, len(matches))

	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", m, err)
		}

		if !info.IsDir() {
			files = append(files, m)
		}
	}

	sort.Strings(files)

	return files, nil
}

func (r *localReader) Read(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(name) //nolint:gosec // paths come from the caller
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", name, err)
	}

	return data, nil
}
