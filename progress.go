package dockerpull

import (
	"github.com/opencontainers/go-digest"

	"github.com/meigma/dockerpull/core"
)

// ProgressKind identifies the stage of a layer download.
type ProgressKind int

const (
	// LayerStarted is sent before a layer blob is requested.
	LayerStarted ProgressKind = iota
	// LayerProgress is sent periodically while a blob downloads.
	LayerProgress
	// LayerCompleted is sent once the layer payload is on disk.
	LayerCompleted
	// LayerFailed is sent when fetching or decoding the layer failed.
	LayerFailed
)

func (k ProgressKind) String() string {
	switch k {
	case LayerStarted:
		return "started"
	case LayerProgress:
		return "progress"
	case LayerCompleted:
		return "completed"
	case LayerFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ProgressEvent represents a progress update for one layer.
type ProgressEvent struct {
	Kind ProgressKind
	// Digest is the layer's blob digest.
	Digest digest.Digest
	// ID is the layer's synthetic ID.
	ID string
	// Bytes is the number of compressed bytes received so far.
	Bytes int64
	// Total is the compressed size announced by the manifest.
	Total int64
	// Size is the uncompressed layer.tar size, set on LayerCompleted.
	Size int64
	// Err is set on LayerFailed.
	Err error
}

// ProgressCallback is called during a pull to report layer progress.
// Calls are serialized, even with parallel downloads.
type ProgressCallback func(event ProgressEvent)

// ShortDigest returns the 12 hex characters of d shown in progress lines and
// diagnostics.
func ShortDigest(d digest.Digest) string {
	return core.ShortDigest(d)
}
