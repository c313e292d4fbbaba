package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/meigma/dockerpull/core"
	"github.com/meigma/dockerpull/internal/legacy"
)

// Tree is the working directory a legacy archive is assembled in.
type Tree struct {
	root string
}

// NewTree creates an empty working directory under parent. The directory name
// starts with prefix and gets a random suffix, so two pulls of the same image
// never share a tree.
func NewTree(parent, prefix string) (*Tree, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0o750); err != nil {
			return nil, fmt.Errorf("create work dir: %w", err)
		}
	}
	root, err := os.MkdirTemp(parent, prefix)
	if err != nil {
		return nil, fmt.Errorf("create working tree: %w", err)
	}
	return &Tree{root: root}, nil
}

// Root returns the tree's directory.
func (t *Tree) Root() string {
	return t.root
}

// Remove deletes the tree and everything in it.
func (t *Tree) Remove() error {
	return os.RemoveAll(t.root)
}

// WriteFile writes a file at the tree root.
func (t *Tree) WriteFile(name string, data []byte) error {
	if err := os.WriteFile(filepath.Join(t.root, name), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// WriteLayer creates the layer directory, writes its VERSION file and fills
// layer.tar with the decompressed content of blob. It returns the number of
// uncompressed bytes written.
//
// Errors reading blob are returned unchanged; errors in the compressed stream
// itself are returned as *core.LayerDecodeError.
func (t *Tree) WriteLayer(ctx context.Context, rec core.LayerRecord, blob io.Reader) (int64, error) {
	dir := filepath.Join(t.root, rec.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create layer dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, legacy.VersionFile), []byte(legacy.LayerVersion), 0o644); err != nil {
		return 0, fmt.Errorf("write %s: %w", legacy.VersionFile, err)
	}

	src := &sourceReader{r: blob}
	payload, err := Decompress(src, rec.MediaType)
	if err != nil {
		return 0, decodeError(rec, src, err)
	}
	defer payload.Close()

	f, err := os.OpenFile(filepath.Join(dir, legacy.LayerTarFile), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", legacy.LayerTarFile, err)
	}
	n, copyErr := copyWithContext(ctx, f, payload, nil)
	closeErr := f.Close()
	if copyErr != nil {
		if errors.Is(copyErr, context.Canceled) || errors.Is(copyErr, context.DeadlineExceeded) {
			return n, copyErr
		}
		return n, decodeError(rec, src, copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("close %s: %w", legacy.LayerTarFile, closeErr)
	}
	return n, nil
}

// WriteLayerJSON writes the layer's json metadata file.
func (t *Tree) WriteLayerJSON(rec core.LayerRecord, doc *legacy.Document) error {
	data, err := legacy.Marshal(doc)
	if err != nil {
		return err
	}
	path := filepath.Join(t.root, rec.ID, legacy.LayerJSONFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write layer json: %w", err)
	}
	return nil
}

// sourceReader remembers the first error from the compressed source so it
// can be told apart from a decode failure.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && s.err == nil {
		s.err = err
	}
	return n, err
}

func decodeError(rec core.LayerRecord, src *sourceReader, err error) error {
	if src.err != nil {
		return src.err
	}
	return &core.LayerDecodeError{Digest: rec.Digest, Err: err}
}
