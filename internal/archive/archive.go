// Package archive stores registration images as {name}.jpg under a root
// directory and serves them back without leaving that directory.
package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
)

// RefPrefix is prepended to archive file names in stored image references.
const RefPrefix = "images/"

const extension = ".jpg"

var (
	// ErrNotFound is returned for missing files and for paths outside the root.
	ErrNotFound = errors.New("image not found")
	// ErrInvalidName is returned when a name cannot be used as a file stem.
	ErrInvalidName = errors.New("invalid image name")
)

// Archive is a flat directory of JPEG files.
type Archive struct {
	dir  string
	root *os.Root
}

// Open creates dir if needed and confines all file access to it.
func Open(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open archive root: %w", err)
	}
	return &Archive{dir: dir, root: root}, nil
}

// Dir returns the directory the archive was opened on.
func (a *Archive) Dir() string {
	return a.dir
}

// Close releases the root handle.
func (a *Archive) Close() error {
	return a.root.Close()
}

// ValidateName checks that name is usable as a single file stem.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	return nil
}

// Reference returns the stored image reference for name, e.g. "images/John.jpg".
func Reference(name string) string {
	return RefPrefix + name + extension
}

// Save writes data to {name}.jpg, replacing any existing file, and returns
// the image reference.
func (a *Archive) Save(name string, data []byte) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	f, err := a.root.Create(name + extension)
	if err != nil {
		return "", fmt.Errorf("create image file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("write image file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close image file: %w", err)
	}
	return Reference(name), nil
}

// Read returns the bytes of the file addressed by ref. ref may be a bare
// file name ("John.jpg") or a reference ("images/John.jpg").
func (a *Archive) Read(ref string) ([]byte, error) {
	rel := Resolve(ref)
	if rel == "" {
		return nil, ErrNotFound
	}

	f, err := a.root.Open(rel)
	if err != nil {
		// Missing files and paths leaving the root both surface as *fs.PathError.
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open image file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat image file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, ErrNotFound
	}
	return io.ReadAll(f)
}

// Resolve strips the reference prefix and leading slashes from ref. The
// result is relative to the archive root; os.Root rejects anything that
// would climb out of it.
func Resolve(ref string) string {
	ref = strings.TrimLeft(ref, "/")
	ref = strings.TrimPrefix(ref, RefPrefix)
	if ref == "" {
		return ""
	}
	return path.Clean(ref)
}
