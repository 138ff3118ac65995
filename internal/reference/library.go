package reference

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotDirectory is returned when a library path exists but is not a directory
var ErrNotDirectory = errors.New("not a directory")

// imageExtensions are the file extensions treated as reference images
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// IsImageFile reports whether name has an accepted image extension (case-insensitive)
func IsImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// Entry describes a single image file in a library
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Library defines read access to a directory of images
type Library interface {
	// Dir returns the directory backing the library
	Dir() string

	// List returns the image files in the directory, sorted by name
	List() ([]Entry, error)

	// Get reads an image file by name
	Get(name string) ([]byte, error)
}

// LocalLibrary implements Library on the local filesystem
type LocalLibrary struct {
	basePath string
}

// NewLocalLibrary creates a new LocalLibrary. The directory is not required to exist yet,
// but if the path exists it must be a directory.
func NewLocalLibrary(basePath string) (*LocalLibrary, error) {
	info, err := os.Stat(basePath)
	if err == nil && !info.IsDir() {
		return nil, fmt.Errorf("opening library %s: %w", basePath, ErrNotDirectory)
	}
	return &LocalLibrary{basePath: basePath}, nil
}

// Dir returns the library directory
func (l *LocalLibrary) Dir() string {
	return l.basePath
}

// List returns image files in the directory. Subdirectories and non-image files are skipped.
func (l *LocalLibrary) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("listing directory: %w", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !IsImageFile(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// File vanished between ReadDir and Info
			continue
		}
		entries = append(entries, Entry{
			Name:    de.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// Get reads a file from the library
func (l *LocalLibrary) Get(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, filepath.Base(name)))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}
