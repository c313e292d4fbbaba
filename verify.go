package dockerpull

import (
	// Register the hashes go-digest verifies with.
	_ "crypto/sha256"
	_ "crypto/sha512"
	"errors"
	"fmt"
	"io"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content"

	"github.com/meigma/dockerpull/core"
)

// verifiedReader streams a blob through a content.VerifyReader and settles
// the verification when the blob ends. Size and digest failures come back
// from Read as core.ErrDigestMismatch; transport errors pass through.
type verifiedReader struct {
	vr   *content.VerifyReader
	desc ocispec.Descriptor
	err  error
}

func newVerifiedReader(r io.Reader, desc ocispec.Descriptor) (*verifiedReader, error) {
	if err := desc.Digest.Validate(); err != nil {
		return nil, fmt.Errorf("digest %q: %w", desc.Digest, err)
	}
	if desc.Size < 0 {
		return nil, fmt.Errorf("digest %s: %w", desc.Digest, content.ErrInvalidDescriptorSize)
	}
	return &verifiedReader{vr: content.NewVerifyReader(r, desc), desc: desc}, nil
}

func (v *verifiedReader) Read(p []byte) (int, error) {
	if v.err != nil {
		return 0, v.err
	}
	n, err := v.vr.Read(p)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		if vErr := v.vr.Verify(); vErr != nil {
			v.err = v.mismatch(vErr)
			return n, v.err
		}
		return n, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		v.err = v.mismatch(err)
		return n, v.err
	}
	return n, err
}

func (v *verifiedReader) mismatch(err error) error {
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %s: fewer than %d bytes", core.ErrDigestMismatch, v.desc.Digest, v.desc.Size)
	case errors.Is(err, content.ErrTrailingData):
		return fmt.Errorf("%w: %s: more than %d bytes", core.ErrDigestMismatch, v.desc.Digest, v.desc.Size)
	case errors.Is(err, content.ErrMismatchedDigest):
		return fmt.Errorf("%w: %s", core.ErrDigestMismatch, v.desc.Digest)
	}
	return err
}
