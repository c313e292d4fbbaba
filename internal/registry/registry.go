// Package registry provides the registry calls for a legacy pull using ORAS.
package registry

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/credentials"

	"github.com/meigma/dockerpull/core"
)

// Docker Hub endpoints used when nothing else is configured.
const (
	DefaultHost    = "registry-1.docker.io"
	DefaultAuthURL = "https://auth.docker.io/token"
	DefaultService = "registry.docker.io"

	defaultUserAgent = "dockerpull/1.0"
	defaultTimeout   = 5 * time.Minute

	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 64 * 1024
)

// Manifest media types this package understands.
const (
	MediaTypeDockerManifest     = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
)

// manifestMediaTypes is sent as the Accept header. The Docker v2 type comes
// first; the OCI manifest has the same shape and is accepted as well.
var manifestMediaTypes = []string{
	MediaTypeDockerManifest,
	ocispec.MediaTypeImageManifest,
}

// Compile-time interface implementation check.
var _ core.Registry = (*orasRegistry)(nil)

// Option configures an orasRegistry.
type Option func(*orasRegistry)

// orasRegistry implements core.Registry using ORAS.
type orasRegistry struct {
	host               string
	authURL            string
	service            string
	plainHTTP          bool
	insecureSkipVerify bool
	userAgent          string
	timeout            time.Duration
	credStore          credentials.Store
	logger             *slog.Logger

	transport http.RoundTripper
}

// New creates a new Registry backed by ORAS.
// With no options it talks to Docker Hub over verified TLS.
func New(opts ...Option) *orasRegistry {
	r := &orasRegistry{
		host:      DefaultHost,
		authURL:   DefaultAuthURL,
		service:   DefaultService,
		userAgent: defaultUserAgent,
		timeout:   defaultTimeout,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.transport == nil {
		r.transport = newTransport(r.insecureSkipVerify)
	}
	return r
}

func newTransport(insecureSkipVerify bool) http.RoundTripper {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if insecureSkipVerify {
		//nolint:gosec // G402: explicitly requested by the caller
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return t
}

// GetManifest fetches the image manifest for ref.Tag.
// Manifest lists and image indexes are rejected with core.ErrUnsupportedManifest.
func (r *orasRegistry) GetManifest(ctx context.Context, ref core.Reference, token core.Token) (ocispec.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return ocispec.Manifest{}, err
	}

	repo, tr, err := r.newRepository(ref, token)
	if err != nil {
		return ocispec.Manifest{}, err
	}

	r.logger.Debug("fetching manifest", "repository", ref.Repository(), "tag", ref.Tag)
	desc, rc, err := repo.Manifests().FetchReference(ctx, ref.Tag)
	if err != nil {
		return ocispec.Manifest{}, mapError("manifest", ref, "", tr.errorBody(), err)
	}
	defer rc.Close()

	if isIndex(desc.MediaType) {
		return ocispec.Manifest{}, fmt.Errorf("%w: %s", core.ErrUnsupportedManifest, desc.MediaType)
	}

	data, err := content.ReadAll(rc, desc)
	if err != nil {
		return ocispec.Manifest{}, mapError("manifest", ref, "", nil, err)
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return ocispec.Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	if isIndex(manifest.MediaType) || manifest.SchemaVersion != 2 {
		return ocispec.Manifest{}, fmt.Errorf("%w: schema %d %s", core.ErrUnsupportedManifest, manifest.SchemaVersion, manifest.MediaType)
	}
	for _, l := range append([]ocispec.Descriptor{manifest.Config}, manifest.Layers...) {
		if err := l.Digest.Validate(); err != nil {
			return ocispec.Manifest{}, fmt.Errorf("parse manifest: digest %q: %w", l.Digest, err)
		}
	}

	r.logger.Debug("fetched manifest", "digest", desc.Digest, "layers", len(manifest.Layers))
	return manifest, nil
}

// GetBlob opens the blob described by desc. The caller must close the reader.
func (r *orasRegistry) GetBlob(ctx context.Context, ref core.Reference, desc ocispec.Descriptor, token core.Token) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	repo, tr, err := r.newRepository(ref, token)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("fetching blob", "repository", ref.Repository(), "digest", desc.Digest, "size", desc.Size)
	rc, err := repo.Blobs().Fetch(ctx, desc)
	if err != nil {
		return nil, mapError("blob", ref, desc.Digest, tr.errorBody(), err)
	}
	return rc, nil
}

// newRepository creates a repository client that sends token on every
// request to the registry host. The returned transport belongs to this
// repository alone and holds the body of its last error response.
func (r *orasRegistry) newRepository(ref core.Reference, token core.Token) (*remote.Repository, *bearerTransport, error) {
	repo, err := remote.NewRepository(r.host + "/" + ref.Repository())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", core.ErrInvalidRef, err)
	}
	tr := &bearerTransport{
		base:      r.transport,
		host:      r.host,
		token:     token,
		userAgent: r.userAgent,
	}
	repo.PlainHTTP = r.plainHTTP
	repo.ManifestMediaTypes = manifestMediaTypes
	repo.Client = &http.Client{
		Transport: tr,
		Timeout:   r.timeout,
	}
	return repo, tr, nil
}

// bearerTransport attaches the pull token and User-Agent. The token is only
// sent to the registry host itself, never to the storage backends blob
// requests redirect to.
//
// Error responses are read up to maxErrorBody and replayed to ORAS, which
// keeps only the parsed JSON error list and drops everything else. The raw
// prefix stays available through errorBody.
type bearerTransport struct {
	base      http.RoundTripper
	host      string
	token     core.Token
	userAgent string

	mu      sync.Mutex
	errBody []byte
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if t.token != "" && req.URL.Host == t.host {
		req.Header.Set("Authorization", "Bearer "+string(t.token))
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode < http.StatusBadRequest {
		return resp, err
	}

	// A failed read keeps the partial prefix; ORAS hits the same error on
	// the replayed body.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	t.mu.Lock()
	t.errBody = body
	t.mu.Unlock()
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(body), resp.Body), resp.Body}
	return resp, nil
}

// errorBody returns the body of the last error response, or nil.
func (t *bearerTransport) errorBody() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errBody
}

// isIndex reports whether mediaType is a multi-platform manifest list.
func isIndex(mediaType string) bool {
	return mediaType == ocispec.MediaTypeImageIndex || mediaType == MediaTypeDockerManifestList
}

// WithHost sets the registry host (host[:port]).
func WithHost(host string) Option {
	return func(r *orasRegistry) {
		r.host = host
	}
}

// WithAuthURL sets the token endpoint. An empty URL makes the client
// discover it from the registry's WWW-Authenticate challenge.
func WithAuthURL(authURL string) Option {
	return func(r *orasRegistry) {
		r.authURL = authURL
	}
}

// WithService sets the service parameter sent to the token endpoint.
func WithService(service string) Option {
	return func(r *orasRegistry) {
		r.service = service
	}
}

// WithCredentialStore sets a credential store used to authenticate token
// requests. Without one, tokens are requested anonymously.
func WithCredentialStore(store credentials.Store) Option {
	return func(r *orasRegistry) {
		r.credStore = store
	}
}

// WithPlainHTTP makes registry requests use http instead of https.
func WithPlainHTTP(plainHTTP bool) Option {
	return func(r *orasRegistry) {
		r.plainHTTP = plainHTTP
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
func WithInsecureSkipVerify(skip bool) Option {
	return func(r *orasRegistry) {
		r.insecureSkipVerify = skip
	}
}

// WithTimeout bounds each request, including reading its body.
// Zero disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(r *orasRegistry) {
		r.timeout = d
	}
}

// WithTransport replaces the base HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(r *orasRegistry) {
		r.transport = rt
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(r *orasRegistry) {
		r.userAgent = ua
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *orasRegistry) {
		r.logger = logger
	}
}
