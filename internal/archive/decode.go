package archive

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression identifies how a layer blob is framed.
type Compression int

const (
	// Unknown means the media type did not say; the stream is sniffed.
	Unknown Compression = iota
	// Uncompressed is a plain tar stream.
	Uncompressed
	Gzip
	Zstd
)

func (c Compression) String() string {
	switch c {
	case Uncompressed:
		return "none"
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// CompressionFor maps a layer media type to its compression.
// Docker media types end in ".tar.gzip" or ".tar"; OCI ones in "+gzip",
// "+zstd" or ".tar".
func CompressionFor(mediaType string) Compression {
	switch {
	case strings.HasSuffix(mediaType, "gzip"):
		return Gzip
	case strings.HasSuffix(mediaType, "zstd"):
		return Zstd
	case strings.HasSuffix(mediaType, ".tar"):
		return Uncompressed
	default:
		return Unknown
	}
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Sniff guesses the compression from the first bytes of a stream.
func Sniff(head []byte) Compression {
	switch {
	case len(head) >= len(gzipMagic) && head[0] == gzipMagic[0] && head[1] == gzipMagic[1]:
		return Gzip
	case len(head) >= len(zstdMagic) && string(head[:4]) == string(zstdMagic):
		return Zstd
	default:
		return Uncompressed
	}
}

// Decompress returns a reader for the tar stream inside r.
// When mediaType does not name a compression the stream's magic bytes decide.
func Decompress(r io.Reader, mediaType string) (io.ReadCloser, error) {
	c := CompressionFor(mediaType)
	if c == Unknown {
		br := bufio.NewReader(r)
		head, err := br.Peek(len(zstdMagic))
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		c = Sniff(head)
		r = br
	}

	switch c {
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		return zr, nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return io.NopCloser(r), nil
	}
}
