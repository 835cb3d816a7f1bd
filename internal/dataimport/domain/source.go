package domain

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// OpenFile opens a CSV file as a Source. The caller closes it.
func OpenFile(path string) (Source, func() error, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Source{}, nil, ErrMissingSource
	}
	f, err := os.Open(path)
	if err != nil {
		return Source{}, nil, fmt.Errorf("%w: %v", ErrMissingSource, err)
	}
	return Source{Name: filepath.Base(path), Reader: f}, f.Close, nil
}
