// Package store manages the flat output directory of image artifacts.
//
// Files only become visible under their final name once fully written: data
// goes to a hidden ".<uuid>.part" file first and is then linked into place.
// A final name is never replaced; renames and commits fail with ErrExists
// instead.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const partSuffix = ".part"

// ErrExists is returned when the target name is already taken.
var ErrExists = errors.New("artifact already exists")

// File describes a committed artifact.
type File struct {
	Name string
	Path string
	Size int64
	Hash string // hex sha256
}

// Dir is a flat artifact directory.
type Dir struct {
	root string
}

// Open creates root if needed and returns a Dir for it.
func Open(root string) (*Dir, error) {
	if root == "" {
		return nil, fmt.Errorf("output directory is empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, wrap("mkdir", root, err)
	}
	return &Dir{root: root}, nil
}

// Root returns the directory path.
func (d *Dir) Root() string { return d.root }

// Path returns the full path of name inside the directory.
func (d *Dir) Path(name string) string { return filepath.Join(d.root, name) }

// Exists reports whether name is present.
func (d *Dir) Exists(name string) bool {
	_, err := os.Lstat(d.Path(name))
	return err == nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Write streams r into a part file and commits it as name. On any error,
// including cancellation of ctx, the part file is removed and nothing is left
// under name.
func (d *Dir) Write(ctx context.Context, name string, r io.Reader) (*File, error) {
	part, err := d.writePart(ctx, r)
	if err != nil {
		return nil, err
	}
	defer os.Remove(part.Path)

	if err := d.link(part.Path, name); err != nil {
		return nil, err
	}
	part.Name = name
	part.Path = d.Path(name)
	return part, nil
}

// WriteUnique is Write, but when name is taken it tries stem+format(n)+ext for
// n = 2, 3, ... until a free name is found. format is a fmt pattern taking the
// stem and the number, e.g. "%s-%d".
func (d *Dir) WriteUnique(ctx context.Context, name, format string, r io.Reader) (*File, error) {
	part, err := d.writePart(ctx, r)
	if err != nil {
		return nil, err
	}
	defer os.Remove(part.Path)

	final, err := d.linkUnique(part.Path, name, format)
	if err != nil {
		return nil, err
	}
	part.Name = final
	part.Path = d.Path(final)
	return part, nil
}

func (d *Dir) writePart(ctx context.Context, r io.Reader) (*File, error) {
	path := d.Path("." + uuid.NewString() + partSuffix)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, wrap("create", path, err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), &ctxReader{ctx: ctx, r: r})
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, wrap("write", path, err)
	}

	return &File{Path: path, Size: n, Hash: hex.EncodeToString(h.Sum(nil))}, nil
}

// link places src under name without ever replacing an existing file.
func (d *Dir) link(src, name string) error {
	dst := d.Path(name)
	if err := os.Link(src, dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, name)
		}
		return wrap("link", dst, err)
	}
	return nil
}

func (d *Dir) linkUnique(src, name, format string) (string, error) {
	candidate := name
	for n := 2; ; n++ {
		err := d.link(src, candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, ErrExists) {
			return "", err
		}
		candidate = Disambiguate(name, format, n)
	}
}

// Rename moves oldName to newName. It fails with ErrExists when newName is
// taken. Renaming a file onto itself is a no-op.
func (d *Dir) Rename(oldName, newName string) error {
	if oldName == newName {
		return nil
	}
	if err := d.link(d.Path(oldName), newName); err != nil {
		return err
	}
	if err := os.Remove(d.Path(oldName)); err != nil {
		return wrap("remove", d.Path(oldName), err)
	}
	return nil
}

// Remove deletes name. A missing file is not an error.
func (d *Dir) Remove(name string) error {
	if err := os.Remove(d.Path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wrap("remove", d.Path(name), err)
	}
	return nil
}

// Stat hashes an existing artifact.
func (d *Dir) Stat(name string) (*File, error) {
	path := d.Path(name)
	f, err := os.Open(path)
	if err != nil {
		return nil, wrap("open", path, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return nil, wrap("read", path, err)
	}
	return &File{Name: name, Path: path, Size: n, Hash: hex.EncodeToString(h.Sum(nil))}, nil
}

// List returns the names of committed artifacts, sorted. Hidden files and
// directories are ignored.
func (d *Dir) List() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, wrap("readdir", d.root, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// CleanParts removes part files left behind by an interrupted run and
// returns how many were removed.
func (d *Dir) CleanParts() (int, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return 0, wrap("readdir", d.root, err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(e.Name(), partSuffix) {
			continue
		}
		if err := os.Remove(d.Path(e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Duplicates groups byte-identical artifacts by hash. Within each group the
// names are sorted, so the first entry is the one to keep.
func (d *Dir) Duplicates() ([][]string, error) {
	names, err := d.List()
	if err != nil {
		return nil, err
	}

	byHash := make(map[string][]string)
	var order []string
	for _, name := range names {
		f, err := d.Stat(name)
		if err != nil {
			return nil, err
		}
		if _, seen := byHash[f.Hash]; !seen {
			order = append(order, f.Hash)
		}
		byHash[f.Hash] = append(byHash[f.Hash], name)
	}

	var groups [][]string
	for _, h := range order {
		if len(byHash[h]) > 1 {
			groups = append(groups, byHash[h])
		}
	}
	return groups, nil
}

// Disambiguate builds the n-th alternative for name using format, keeping
// the extension: Disambiguate("hero.png", "%s-%d", 2) is "hero-2.png".
func Disambiguate(name, format string, n int) string {
	if format == "" {
		format = "%s-%d"
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return fmt.Sprintf(format, stem, n) + ext
}
