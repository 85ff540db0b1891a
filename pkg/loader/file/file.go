package file

import (
	"context"
	"io"
	"os"
)

// Source streams a file from the local filesystem.
type Source struct {
	path string
}

// NewSource creates a Source for path. The file is not touched until Size or
// Open is called.
func NewSource(path string) *Source {
	return &Source{path: path}
}

func (s *Source) Name() string {
	return s.path
}

func (s *Source) Size(ctx context.Context) (int64, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	return os.Open(s.path)
}
