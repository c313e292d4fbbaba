package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/meigma/dockerpull/core"
)

// Unpack extracts a legacy archive produced by Pack into destDir.
// Only directories and regular files are accepted; every member name is
// checked by validator before anything is written.
func Unpack(ctx context.Context, r io.Reader, destDir string, validator core.PathValidator) error {
	tr := tar.NewReader(r)
	buf := make([]byte, copyBufferSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}

		name := strings.TrimSuffix(header.Name, "/")
		if err := validator.ValidatePath(name); err != nil {
			return fmt.Errorf("%s: %w", header.Name, err)
		}
		fullPath := filepath.Join(destDir, filepath.FromSlash(name))

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(fullPath, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := unpackFile(ctx, fullPath, tr, buf); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%s: unsupported entry type %q", header.Name, header.Typeflag)
		}
	}
}

func unpackFile(ctx context.Context, fullPath string, r io.Reader, buf []byte) error {
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return err
	}
	// O_EXCL: a legacy archive never holds the same member twice.
	//nolint:gosec // G304: path validated by caller
	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	_, copyErr := copyWithContext(ctx, f, r, buf)
	closeErr := f.Close()
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}
