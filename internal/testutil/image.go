// Package testutil provides test images and an in-process registry that
// serves them.
package testutil

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Media types used by test images.
const (
	MediaTypeManifest   = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeConfig     = "application/vnd.docker.container.image.v1+json"
	MediaTypeLayerGzip  = "application/vnd.docker.image.rootfs.diff.tar.gzip"
	MediaTypeLayerZstd  = "application/vnd.oci.image.layer.v1.tar+zstd"
	MediaTypeLayerPlain = "application/vnd.oci.image.layer.v1.tar"
)

// SampleConfig is an image config with history, rootfs, non-ASCII text and
// a key order that differs from alphabetical.
const SampleConfig = `{"os":"linux","architecture":"amd64",` +
	`"config":{"Env":["PATH=/usr/bin"],"Cmd":["sh"],"Labels":{"maintainer":"José Müller"}},` +
	`"created":"2024-03-01T12:00:00.123456789Z",` +
	`"history":[{"created_by":"ADD file:x in /"}],` +
	`"rootfs":{"type":"layers","diff_ids":["sha256:0000000000000000000000000000000000000000000000000000000000000000"]}}`

// Layer is one layer blob as the registry serves it.
type Layer struct {
	MediaType string
	// Blob is the compressed content served by the registry.
	Blob []byte
	// Payload is the uncompressed tar.
	Payload []byte
}

// Digest returns the digest of the served blob.
func (l Layer) Digest() digest.Digest {
	return digest.FromBytes(l.Blob)
}

// Descriptor returns the manifest entry for the layer.
func (l Layer) Descriptor() ocispec.Descriptor {
	return ocispec.Descriptor{
		MediaType: l.MediaType,
		Digest:    l.Digest(),
		Size:      int64(len(l.Blob)),
	}
}

// Image is a single-platform image.
type Image struct {
	Repository string
	Tag        string
	Config     []byte
	Layers     []Layer
}

// NewImage creates an image with SampleConfig.
func NewImage(repository, tag string, layers ...Layer) *Image {
	return &Image{
		Repository: repository,
		Tag:        tag,
		Config:     []byte(SampleConfig),
		Layers:     layers,
	}
}

// ConfigDescriptor returns the manifest entry for the config blob.
func (img *Image) ConfigDescriptor() ocispec.Descriptor {
	return ocispec.Descriptor{
		MediaType: MediaTypeConfig,
		Digest:    digest.FromBytes(img.Config),
		Size:      int64(len(img.Config)),
	}
}

// Manifest returns the Docker v2 schema 2 manifest.
func (img *Image) Manifest() ocispec.Manifest {
	m := ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: MediaTypeManifest,
		Config:    img.ConfigDescriptor(),
		Layers:    []ocispec.Descriptor{},
	}
	for _, l := range img.Layers {
		m.Layers = append(m.Layers, l.Descriptor())
	}
	return m
}

// ManifestJSON returns the encoded manifest.
func (img *Image) ManifestJSON() []byte {
	return mustJSON(img.Manifest())
}

// Blobs returns every blob of the image keyed by digest.
func (img *Image) Blobs() map[digest.Digest][]byte {
	blobs := map[digest.Digest][]byte{
		digest.FromBytes(img.Config): img.Config,
	}
	for _, l := range img.Layers {
		blobs[l.Digest()] = l.Blob
	}
	return blobs
}

// TarPayload builds a tar stream holding files, written in name order with
// fixed metadata so equal inputs give equal bytes.
func TarPayload(files map[string]string) []byte {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, name := range names {
		content := files[name]
		hdr := &tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(content)),
			ModTime: time.Unix(0, 0),
			Format:  tar.FormatPAX,
		}
		must(tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		must(err)
	}
	must(tw.Close())
	return buf.Bytes()
}

// GzipLayer compresses payload with gzip.
func GzipLayer(payload []byte) Layer {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(payload)
	must(err)
	must(zw.Close())
	return Layer{MediaType: MediaTypeLayerGzip, Blob: buf.Bytes(), Payload: payload}
}

// ZstdLayer compresses payload with zstd.
func ZstdLayer(payload []byte) Layer {
	enc, err := zstd.NewWriter(nil)
	must(err)
	defer enc.Close()
	return Layer{MediaType: MediaTypeLayerZstd, Blob: enc.EncodeAll(payload, nil), Payload: payload}
}

// PlainLayer serves payload uncompressed.
func PlainLayer(payload []byte) Layer {
	return Layer{MediaType: MediaTypeLayerPlain, Blob: payload, Payload: payload}
}

// SimpleImage returns an image with n gzip layers, each holding one file.
func SimpleImage(repository, tag string, n int) *Image {
	layers := make([]Layer, 0, n)
	for i := range n {
		name := "layer" + string(rune('a'+i)) + ".txt"
		layers = append(layers, GzipLayer(TarPayload(map[string]string{
			name: "content of " + name,
		})))
	}
	return NewImage(repository, tag, layers...)
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	must(err)
	return data
}

// must panics on errors that cannot happen when writing to memory.
func must(err error) {
	if err != nil {
		panic(err)
	}
}
