package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolver turns opaque item locators into readable file paths. Locators are
// absolute paths, file:// URLs or paths relative to the media directory.
type Resolver struct {
	baseDir string
}

func NewResolver(baseDir string) *Resolver {
	return &Resolver{baseDir: baseDir}
}

// BaseDir is the directory relative locators resolve against.
func (r *Resolver) BaseDir() string {
	return r.baseDir
}

// Resolve returns the absolute path for locator and checks it is a regular
// file.
func (r *Resolver) Resolve(locator string) (string, error) {
	if locator == "" {
		return "", fmt.Errorf("%w: empty", ErrUnsupportedLocator)
	}
	path := locator
	switch {
	case strings.HasPrefix(locator, "file://"):
		path = strings.TrimPrefix(locator, "file://")
	case strings.Contains(locator, "://"):
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLocator, schemeOf(locator))
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(r.baseDir, path)
	}
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("media file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("media file is not a regular file")
	}
	return path, nil
}

func schemeOf(locator string) string {
	scheme, _, _ := strings.Cut(locator, "://")
	return scheme
}
