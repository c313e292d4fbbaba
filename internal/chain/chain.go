// Package chain derives the synthetic legacy layer IDs from a manifest's
// ordered layer digests.
//
// The legacy format wants an ID per chain position, which registry digests
// do not provide: a digest names blob content, not where the blob sits in the
// stack. Each ID is the SHA-256 of the parent ID and the layer digest, so the
// same manifest always yields the same chain.
package chain

import (
	_ "crypto/sha256"
	"fmt"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/meigma/dockerpull/core"
)

// Next returns the synthetic ID for a layer sitting on top of parent.
// The hashed bytes are exactly parent + "\n" + layer + "\n".
func Next(parent string, layer digest.Digest) string {
	return digest.SHA256.FromString(parent + "\n" + string(layer) + "\n").Encoded()
}

// Build folds Next over the layers in manifest order.
func Build(layers []ocispec.Descriptor) []core.LayerRecord {
	records := make([]core.LayerRecord, 0, len(layers))
	parent := ""
	for _, l := range layers {
		id := Next(parent, l.Digest)
		records = append(records, core.LayerRecord{
			Digest:    l.Digest,
			MediaType: l.MediaType,
			Size:      l.Size,
			ID:        id,
			Parent:    parent,
		})
		parent = id
	}
	return records
}

// Tip returns the ID of the top layer, or "" for an empty chain.
func Tip(records []core.LayerRecord) string {
	if len(records) == 0 {
		return ""
	}
	return records[len(records)-1].ID
}

// Verify checks that following parent links from the tip visits every
// record exactly once and ends at the only record with an empty parent.
func Verify(records []core.LayerRecord) error {
	if len(records) == 0 {
		return nil
	}

	byID := make(map[string]core.LayerRecord, len(records))
	for _, r := range records {
		if _, dup := byID[r.ID]; dup {
			return fmt.Errorf("%w: duplicate id %s", core.ErrBrokenChain, r.ID)
		}
		byID[r.ID] = r
	}

	seen := 0
	cur, ok := byID[Tip(records)]
	for ok {
		seen++
		if seen > len(records) {
			return fmt.Errorf("%w: cycle at %s", core.ErrBrokenChain, cur.ID)
		}
		if cur.Parent == "" {
			break
		}
		cur, ok = byID[cur.Parent]
	}
	if !ok {
		return fmt.Errorf("%w: dangling parent", core.ErrBrokenChain)
	}
	if seen != len(records) {
		return fmt.Errorf("%w: %d of %d layers reachable from tip", core.ErrBrokenChain, seen, len(records))
	}
	return nil
}
