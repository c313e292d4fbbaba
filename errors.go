package dockerpull

import "github.com/meigma/dockerpull/core"

// Sentinel errors for common failure conditions.
// Re-exported from core package.
var (
	// ErrNotFound indicates the image, tag or blob does not exist.
	ErrNotFound = core.ErrNotFound

	// ErrUnauthorized indicates the registry rejected the request's token.
	ErrUnauthorized = core.ErrUnauthorized

	// ErrInvalidRef indicates the image reference is unusable.
	ErrInvalidRef = core.ErrInvalidRef

	// ErrUnsupportedManifest indicates a manifest list, image index or
	// schema 1 manifest.
	ErrUnsupportedManifest = core.ErrUnsupportedManifest

	// ErrDigestMismatch indicates downloaded content does not match its digest.
	ErrDigestMismatch = core.ErrDigestMismatch

	// ErrPathTraversal indicates an archive member escapes the archive root.
	ErrPathTraversal = core.ErrPathTraversal

	// ErrBrokenChain indicates the layer records do not form a single lineage.
	ErrBrokenChain = core.ErrBrokenChain
)

// Typed errors, re-exported from core package.
type (
	// UsageError reports a bad command-line argument.
	UsageError = core.UsageError

	// AuthError reports a failed token request.
	AuthError = core.AuthError

	// RegistryError reports a failed manifest or blob request.
	RegistryError = core.RegistryError

	// LayerDecodeError reports a malformed compressed layer.
	LayerDecodeError = core.LayerDecodeError
)
