// Package catalog builds the immutable file manifest of a send session.
// A scan maps every offered file to a fresh UUID and a descriptor carrying
// its transfer-relative name, size, and type; the transfer server serves
// manifest and bytes exclusively through a Catalog.
package catalog

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/localsend/localsend-cli/protocol"
)

var (
	ErrNoPaths         = errors.New("catalog: no input paths")
	ErrNoFiles         = errors.New("catalog: no files found")
	ErrNotFound        = errors.New("catalog: file id not found")
	ErrUnsupportedPath = errors.New("catalog: path is neither a regular file nor a directory")
)

// Catalog is an immutable id -> descriptor mapping plus the on-disk
// locations needed to open each file. It is read-only after Scan.
type Catalog struct {
	files map[string]protocol.FileDescriptor
	disk  map[string]string // id -> absolute path
	order []string          // ids sorted by descriptor name
	total uint64
}

// Scan enumerates the given paths into a Catalog. A regular file becomes
// one descriptor named by its basename. A directory is walked recursively
// without following symbolic links; each regular file inside becomes a
// descriptor whose name is the directory's basename joined with the
// file's path relative to the directory, using forward slashes. Anything
// else (including a symlink given directly) is an error.
func Scan(paths []string) (*Catalog, error) {
	if len(paths) == 0 {
		return nil, ErrNoPaths
	}

	c := &Catalog{
		files: make(map[string]protocol.FileDescriptor),
		disk:  make(map[string]string),
	}

	for _, p := range paths {
		info, err := os.Lstat(p)
		if err != nil {
			return nil, fmt.Errorf("catalog: stat %s: %w", p, err)
		}
		switch {
		case info.Mode().IsRegular():
			c.add(filepath.Base(p), p, info)
		case info.IsDir():
			if err := c.scanDir(p); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedPath, p)
		}
	}

	if len(c.files) == 0 {
		return nil, ErrNoFiles
	}

	c.order = make([]string, 0, len(c.files))
	for id := range c.files {
		c.order = append(c.order, id)
	}
	sort.Slice(c.order, func(i, j int) bool {
		return c.files[c.order[i]].Name < c.files[c.order[j]].Name
	})

	return c, nil
}

// scanDir walks root recursively. filepath.WalkDir does not follow
// symlinks; non-regular entries are skipped.
func (c *Catalog) scanDir(root string) error {
	base := filepath.Base(filepath.Clean(root))
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		c.add(filepath.Join(base, rel), path, info)
		return nil
	})
	if err != nil {
		return fmt.Errorf("catalog: walk %s: %w", root, err)
	}
	return nil
}

func (c *Catalog) add(name, diskPath string, info fs.FileInfo) {
	id := uuid.NewString()
	slashName := filepath.ToSlash(name)
	c.files[id] = protocol.FileDescriptor{
		ID:   id,
		Name: slashName,
		Size: uint64(info.Size()),
		Type: protocol.DetectFileType(slashName),
		Metadata: &protocol.FileMeta{
			Modified: info.ModTime().UTC().Format(time.RFC3339),
		},
	}
	c.disk[id] = diskPath
	c.total += uint64(info.Size())
}

// Get returns the descriptor for id.
func (c *Catalog) Get(id string) (protocol.FileDescriptor, bool) {
	fd, ok := c.files[id]
	return fd, ok
}

// Files returns a copy of the id -> descriptor mapping, shaped for the
// prepare-upload response.
func (c *Catalog) Files() map[string]protocol.FileDescriptor {
	out := make(map[string]protocol.FileDescriptor, len(c.files))
	for id, fd := range c.files {
		out[id] = fd
	}
	return out
}

// IDs returns the file ids sorted by descriptor name. The order is stable
// across calls and is the canonical iteration order for manifests and
// downloads.
func (c *Catalog) IDs() []string {
	return append([]string(nil), c.order...)
}

// Open returns a reader for the file's bytes. The caller closes it.
func (c *Catalog) Open(id string) (io.ReadCloser, error) {
	path, ok := c.disk[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	return f, nil
}

// Count returns the number of files in the catalog.
func (c *Catalog) Count() int { return len(c.files) }

// TotalSize returns the sum of all file sizes in bytes.
func (c *Catalog) TotalSize() uint64 { return c.total }
