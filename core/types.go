// Package core provides the shared types and interfaces for dockerpull.
//
// This package exists to break import cycles between the root dockerpull package
// and internal implementation packages. The dockerpull package re-exports all
// public types from this package, so external users should import dockerpull
// directly, not dockerpull/core.
package core

import (
	"context"
	"io"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Defaults applied by the reference parser.
const (
	DefaultNamespace = "library"
	DefaultTag       = "latest"
)

// Reference identifies an image on the registry.
type Reference struct {
	Namespace string
	Name      string
	Tag       string
}

// Repository returns the fully qualified repository name (namespace/name).
func (r Reference) Repository() string {
	return r.Namespace + "/" + r.Name
}

// String returns namespace/name:tag.
func (r Reference) String() string {
	return r.Repository() + ":" + r.Tag
}

// Token is a bearer token scoped to pull access for one repository.
// An empty token means the registry accepted anonymous requests.
type Token string

// LayerRecord describes one layer of the legacy chain.
type LayerRecord struct {
	// Digest is the registry digest of the compressed blob.
	Digest digest.Digest
	// MediaType is the manifest media type of the layer blob.
	MediaType string
	// Size is the compressed blob size announced by the manifest.
	Size int64
	// ID is the synthetic, chain-dependent layer identifier.
	ID string
	// Parent is the ID of the layer below, empty for the bottom layer.
	Parent string
}

// PayloadPath returns the archive-relative path of the layer's tar payload.
func (l LayerRecord) PayloadPath() string {
	return l.ID + "/layer.tar"
}

// Descriptor returns an OCI descriptor for fetching the layer blob.
func (l LayerRecord) Descriptor() ocispec.Descriptor {
	return ocispec.Descriptor{
		MediaType: l.MediaType,
		Digest:    l.Digest,
		Size:      l.Size,
	}
}

// Registry handles the registry calls needed for a pull.
// This interface is implemented by internal/registry.
type Registry interface {
	// GetToken acquires an anonymous pull token for the repository.
	GetToken(ctx context.Context, ref Reference) (Token, error)

	// GetManifest fetches the single-platform manifest for ref.Tag.
	GetManifest(ctx context.Context, ref Reference, token Token) (ocispec.Manifest, error)

	// GetBlob opens the blob described by desc.
	// The caller must close the returned reader.
	GetBlob(ctx context.Context, ref Reference, desc ocispec.Descriptor, token Token) (io.ReadCloser, error)
}

// PathValidator validates archive member names.
// This interface is implemented by internal/safepath.
type PathValidator interface {
	// ValidatePath checks that name is relative and does not escape the archive root.
	// Returns ErrPathTraversal if the path is unsafe.
	ValidatePath(name string) error
}
