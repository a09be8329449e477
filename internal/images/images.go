// Package images resolves type-icon image file names to bytes for the
// LOAD_TYPE_IMAGE dispatcher operation. Grounded in the original's
// client.py __find_image_path: try the name as an absolute path, then each
// configured search directory, then a default "images" folder.
package images

import (
	"errors"
	"os"
	"path/filepath"
)

// ErrNotFound reports that no search location resolved the file name.
var ErrNotFound = errors.New("images: not found")

// Resolver locates and reads type-icon image files.
type Resolver struct {
	searchPaths []string
	defaultDir  string
}

// New builds a Resolver. searchPaths are tried in order before defaultDir.
func New(searchPaths []string, defaultDir string) *Resolver {
	return &Resolver{searchPaths: searchPaths, defaultDir: defaultDir}
}

// Load returns the raw bytes of name, trying (in order): name as given if
// absolute, each configured search path joined with name, then the
// default images directory joined with name.
func (r *Resolver) Load(name string) ([]byte, error) {
	if filepath.IsAbs(name) {
		if data, err := os.ReadFile(name); err == nil {
			return data, nil
		}
	}
	for _, dir := range r.searchPaths {
		if data, err := os.ReadFile(filepath.Join(dir, name)); err == nil {
			return data, nil
		}
	}
	if data, err := os.ReadFile(filepath.Join(r.defaultDir, name)); err == nil {
		return data, nil
	}
	return nil, ErrNotFound
}
