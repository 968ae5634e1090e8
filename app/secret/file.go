package secret

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
)

// FileSource reads secrets from files under a base directory, the way
// mounted secret volumes expose them. Trailing newlines are trimmed.
type FileSource struct {
	dir string
}

var _ Source = (*FileSource)(nil)

func NewFileSource(dir string) *FileSource { return &FileSource{dir: dir} }

func (s *FileSource) Get(_ context.Context, name string) (Secret, error) {
	b, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}

	return bytes.TrimRight(b, "\n"), nil
}
