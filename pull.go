package dockerpull

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/dockerpull/core"
	"github.com/meigma/dockerpull/internal/archive"
	"github.com/meigma/dockerpull/internal/chain"
	"github.com/meigma/dockerpull/internal/legacy"
	"github.com/meigma/dockerpull/internal/progress"
)

// maxConfigSize bounds the image config blob held in memory.
const maxConfigSize = 64 << 20

// Pull downloads ref and writes it as a legacy archive. It returns the path
// of the archive, "<output dir>/<namespace>_<name>.tar" unless WithOutput
// names another.
//
// The image is assembled in a temporary tree under the work dir which is
// removed when Pull returns. On failure no file is left at the archive path.
func (c *Client) Pull(ctx context.Context, ref Reference, opts ...PullOption) (string, error) {
	// Apply options
	cfg := &pullConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if ref.Name == "" {
		return "", fmt.Errorf("%w: empty image name", ErrInvalidRef)
	}
	dest := cfg.output
	if dest == "" {
		dest = filepath.Join(c.outputDir, ArchiveName(ref))
	}
	log := c.logger.With("image", ref.String())

	token, err := c.registry.GetToken(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("pull %s: %w", ref, err)
	}

	manifest, err := c.registry.GetManifest(ctx, ref, token)
	if err != nil {
		return "", fmt.Errorf("pull %s: %w", ref, err)
	}
	if len(manifest.Layers) == 0 {
		return "", fmt.Errorf("pull %s: %w: manifest has no layers", ref, ErrUnsupportedManifest)
	}

	tree, err := archive.NewTree(c.workDir, "tmp_"+ref.Name+"_"+ref.Tag+"_")
	if err != nil {
		return "", fmt.Errorf("pull %s: %w", ref, err)
	}
	log.Info("creating image structure", "dir", tree.Root())
	defer func() {
		if rmErr := tree.Remove(); rmErr != nil {
			log.Warn("failed to remove image structure", "dir", tree.Root(), "error", rmErr)
		}
	}()

	config, err := c.fetchConfig(ctx, ref, manifest.Config, token, tree)
	if err != nil {
		return "", fmt.Errorf("pull %s: %w", ref, err)
	}

	records := chain.Build(manifest.Layers)
	if err := chain.Verify(records); err != nil {
		return "", fmt.Errorf("pull %s: %w", ref, err)
	}

	if err := c.fetchLayers(ctx, ref, token, tree, records, log); err != nil {
		return "", fmt.Errorf("pull %s: %w", ref, err)
	}

	if err := writeMetadata(tree, ref, manifest.Config, config, records); err != nil {
		return "", fmt.Errorf("pull %s: %w", ref, err)
	}

	if err := archive.Pack(ctx, tree.Root(), dest, c.validator); err != nil {
		return "", fmt.Errorf("pull %s: %w", ref, err)
	}

	log.Info("image pulled", "archive", dest, "layers", len(records))
	return dest, nil
}

// fetchConfig downloads the image config, stores it verbatim as
// "<hex>.json" in the tree and parses it.
func (c *Client) fetchConfig(ctx context.Context, ref Reference, desc ocispec.Descriptor, token Token, tree *archive.Tree) (*legacy.Document, error) {
	if desc.Size > maxConfigSize {
		return nil, fmt.Errorf("config larger than %d bytes", maxConfigSize)
	}
	rc, err := c.registry.GetBlob(ctx, ref, desc, token)
	if err != nil {
		return nil, asConfigError(err)
	}
	defer rc.Close()

	// Reads stop at desc.Size; anything past it fails verification.
	vr, err := newVerifiedReader(rc, desc)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(vr)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", asConfigError(err))
	}

	if err := tree.WriteFile(legacy.ConfigFile(desc.Digest), data); err != nil {
		return nil, err
	}
	doc, err := legacy.ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return doc, nil
}

// asConfigError relabels a blob error as a config fetch failure.
func asConfigError(err error) error {
	var regErr *core.RegistryError
	if !errors.As(err, &regErr) {
		return err
	}
	cfgErr := *regErr
	cfgErr.Op = "config"
	cfgErr.Digest = ""
	return &cfgErr
}

// fetchLayers downloads and decompresses every layer payload. Up to
// c.concurrency layers are in flight; the first failure cancels the rest.
func (c *Client) fetchLayers(ctx context.Context, ref Reference, token Token, tree *archive.Tree, records []core.LayerRecord, log *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, rec := range records {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return c.fetchLayer(gctx, ref, token, tree, rec, log)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	// Wait cancels gctx even on success; only the caller's context counts.
	return ctx.Err()
}

func (c *Client) fetchLayer(ctx context.Context, ref Reference, token Token, tree *archive.Tree, rec core.LayerRecord, log *slog.Logger) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.emit(ProgressEvent{Kind: LayerStarted, Digest: rec.Digest, ID: rec.ID, Total: rec.Size})
	defer func() {
		if err != nil && !errors.Is(err, context.Canceled) {
			c.emit(ProgressEvent{Kind: LayerFailed, Digest: rec.Digest, ID: rec.ID, Total: rec.Size, Err: err})
		}
	}()

	log.Debug("downloading layer", "digest", rec.Digest, "id", rec.ID, "size", rec.Size)
	rc, err := c.registry.GetBlob(ctx, ref, rec.Descriptor(), token)
	if err != nil {
		return err
	}
	defer rc.Close()

	vr, err := newVerifiedReader(rc, rec.Descriptor())
	if err != nil {
		return err
	}
	counted := progress.NewReader(vr, rec.Size, func(transferred, total int64) {
		c.emit(ProgressEvent{Kind: LayerProgress, Digest: rec.Digest, ID: rec.ID, Bytes: transferred, Total: total})
	})

	size, err := tree.WriteLayer(ctx, rec, counted)
	if err != nil {
		// A corrupted blob usually fails to decode before its end is
		// reached; report it as the digest mismatch it is.
		var decodeErr *core.LayerDecodeError
		if errors.As(err, &decodeErr) {
			if _, vErr := io.Copy(io.Discard, vr); errors.Is(vErr, core.ErrDigestMismatch) {
				return vErr
			}
		}
		return err
	}
	// The decoder may stop before the end of the blob; the rest still has
	// to be read for the digest check.
	if _, err := io.Copy(io.Discard, counted); err != nil {
		return err
	}

	log.Debug("layer complete", "digest", rec.Digest, "bytes", counted.N(), "uncompressed", size)
	c.emit(ProgressEvent{Kind: LayerCompleted, Digest: rec.Digest, ID: rec.ID, Bytes: counted.N(), Total: rec.Size, Size: size})
	return nil
}

// writeMetadata writes each layer's json and the archive's manifest.json
// and repositories, in manifest order.
func writeMetadata(tree *archive.Tree, ref Reference, configDesc ocispec.Descriptor, config *legacy.Document, records []core.LayerRecord) error {
	for i, rec := range records {
		doc := legacy.LayerDocument(rec, config, i == len(records)-1)
		if err := tree.WriteLayerJSON(rec, doc); err != nil {
			return err
		}
	}

	manifest, err := legacy.Marshal(legacy.NewManifest(ref, configDesc.Digest, records))
	if err != nil {
		return err
	}
	if err := tree.WriteFile(legacy.ManifestFile, manifest); err != nil {
		return err
	}

	repos, err := legacy.Marshal(legacy.NewRepositories(ref, chain.Tip(records)))
	if err != nil {
		return err
	}
	return tree.WriteFile(legacy.RepositoriesFile, repos)
}
