package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/opencontainers/go-digest"
)

// DefaultToken is the pull token handed out by a Registry.
const DefaultToken = "test-pull-token"

// Registry is an in-process v2 registry with a token endpoint at /token.
// Manifest and blob requests must carry the token it hands out.
type Registry struct {
	*httptest.Server

	mu        sync.Mutex
	token     string
	manifests map[string][]byte // repository:tag
	blobs     map[string][]byte // repository@digest
	failures  map[string]failure
	scopes    []string
	requests  []string
}

type failure struct {
	status int
	body   string
}

// NewRegistry starts a registry serving images. The caller must Close it.
func NewRegistry(images ...*Image) *Registry {
	r := &Registry{
		token:     DefaultToken,
		manifests: make(map[string][]byte),
		blobs:     make(map[string][]byte),
		failures:  make(map[string]failure),
	}
	for _, img := range images {
		r.Add(img)
	}
	r.Server = httptest.NewServer(http.HandlerFunc(r.serveHTTP))
	return r
}

// Host returns the registry's host:port.
func (r *Registry) Host() string {
	return strings.TrimPrefix(r.URL, "http://")
}

// AuthURL returns the token endpoint.
func (r *Registry) AuthURL() string {
	return r.URL + "/token"
}

// Add publishes img.
func (r *Registry) Add(img *Image) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests[img.Repository+":"+img.Tag] = img.ManifestJSON()
	for d, blob := range img.Blobs() {
		r.blobs[img.Repository+"@"+d.String()] = blob
	}
}

// SetManifest replaces the raw manifest served for repository:tag.
func (r *Registry) SetManifest(repository, tag string, manifest []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests[repository+":"+tag] = manifest
}

// SetBlob replaces the content served for a blob, keeping its digest.
func (r *Registry) SetBlob(repository string, d digest.Digest, blob []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobs[repository+"@"+d.String()] = blob
}

// FailBlob makes requests for a blob answer with status and body.
func (r *Registry) FailBlob(repository string, d digest.Digest, status int, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures["/v2/"+repository+"/blobs/"+d.String()] = failure{status: status, body: body}
}

// SetToken changes the token handed out and required. An empty token makes
// the registry anonymous: /v2/ answers 200 and no Authorization is checked.
func (r *Registry) SetToken(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.token = token
}

// Scopes returns the scope parameters of all token requests.
func (r *Registry) Scopes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.scopes...)
}

// Requests returns "METHOD path" for every request served.
func (r *Registry) Requests() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.requests...)
}

func (r *Registry) serveHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req.Method+" "+req.URL.Path)

	switch {
	case req.URL.Path == "/token":
		r.scopes = append(r.scopes, req.URL.Query().Get("scope"))
		writeJSON(w, http.StatusOK, map[string]any{"token": r.token, "expires_in": 300})
		return
	case req.URL.Path == "/v2/" || req.URL.Path == "/v2":
		if r.token != "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="`+r.URL+`/token",service="testutil"`)
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}

	if r.token != "" && req.Header.Get("Authorization") != "Bearer "+r.token {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}
	if f, ok := r.failures[req.URL.Path]; ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(f.body))
		return
	}

	path := strings.TrimPrefix(req.URL.Path, "/v2/")
	if repo, tag, ok := cutLast(path, "/manifests/"); ok {
		manifest, found := r.manifests[repo+":"+tag]
		if !found {
			writeError(w, http.StatusNotFound, "MANIFEST_UNKNOWN", "manifest unknown")
			return
		}
		mediaType := MediaTypeManifest
		var peek struct {
			MediaType string `json:"mediaType"`
		}
		if json.Unmarshal(manifest, &peek) == nil && peek.MediaType != "" {
			mediaType = peek.MediaType
		}
		w.Header().Set("Docker-Content-Digest", digest.FromBytes(manifest).String())
		writeBody(w, req, mediaType, manifest)
		return
	}
	if repo, d, ok := cutLast(path, "/blobs/"); ok {
		blob, found := r.blobs[repo+"@"+d]
		if !found {
			writeError(w, http.StatusNotFound, "BLOB_UNKNOWN", "blob unknown to registry")
			return
		}
		writeBody(w, req, "application/octet-stream", blob)
		return
	}
	writeError(w, http.StatusNotFound, "NAME_UNKNOWN", "repository name not known to registry")
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

func writeBody(w http.ResponseWriter, req *http.Request, mediaType string, body []byte) {
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if req.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body := mustJSON(v)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"errors": []map[string]string{{"code": code, "message": message}},
	})
}
