package archive

import (
	"io/fs"
	"os"
)

// treeFS reads a working tree through an os.Root, so no name, symlinks
// included, resolves to anything outside the tree.
type treeFS struct {
	root *os.Root
	fsys fs.FS
}

var _ fs.ReadDirFS = (*treeFS)(nil)

// openTreeFS opens dir for packing. The caller must Close it.
func openTreeFS(dir string) (*treeFS, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	return &treeFS{root: root, fsys: root.FS()}, nil
}

func (t *treeFS) Open(name string) (fs.File, error) {
	return t.fsys.Open(name)
}

func (t *treeFS) ReadDir(name string) ([]fs.DirEntry, error) {
	return fs.ReadDir(t.fsys, name)
}

// Lstat describes name itself, not what a symlink points to.
func (t *treeFS) Lstat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "lstat", Path: name, Err: fs.ErrInvalid}
	}
	return t.root.Lstat(name)
}

func (t *treeFS) Close() error {
	return t.root.Close()
}
