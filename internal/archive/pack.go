package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/meigma/dockerpull/core"
)

// partialSuffix marks an archive that is still being written.
const partialSuffix = ".partial"

// Pack writes every file and directory under root into a tar archive at dest.
//
// Member names are relative to root ("<id>/", "<id>/layer.tar",
// "manifest.json") and are checked by validator. The archive is written to
// dest+".partial" and renamed into place only once complete, so dest never
// holds a truncated archive.
func Pack(ctx context.Context, root, dest string, validator core.PathValidator) (err error) {
	if dir := filepath.Dir(dest); dir != "" {
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return fmt.Errorf("create output dir: %w", mkErr)
		}
	}

	tmp := dest + partialSuffix
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	tree, err := openTreeFS(root)
	if err != nil {
		return fmt.Errorf("open working tree: %w", err)
	}
	defer tree.Close()

	tw := tar.NewWriter(f)
	if err = writeTree(ctx, tw, tree, validator); err != nil {
		return err
	}
	if err = tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err = os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("rename archive: %w", err)
	}
	return nil
}

func writeTree(ctx context.Context, tw *tar.Writer, fsys *treeFS, validator core.PathValidator) error {
	buf := make([]byte, copyBufferSize)
	return fs.WalkDir(fsys, ".", func(name string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if name == "." {
			return nil
		}
		if err := validator.ValidatePath(name); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		info, err := fsys.Lstat(name)
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return fmt.Errorf("%s: unsupported file type %s", name, info.Mode().Type())
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
		}
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "", ""
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("%s: write header: %w", name, err)
		}
		if info.IsDir() {
			return nil
		}
		return copyFile(ctx, tw, fsys, name, buf)
	})
}

func copyFile(ctx context.Context, w io.Writer, fsys fs.FS, name string, buf []byte) error {
	f, err := fsys.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := copyWithContext(ctx, w, f, buf); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
