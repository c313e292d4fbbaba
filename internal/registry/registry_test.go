package registry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/dockerpull/core"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("creates registry with defaults", func(t *testing.T) {
		t.Parallel()

		r := New()
		require.NotNil(t, r)
		assert.Equal(t, DefaultHost, r.host)
		assert.Equal(t, DefaultAuthURL, r.authURL)
		assert.Equal(t, DefaultService, r.service)
		assert.False(t, r.plainHTTP)
		assert.False(t, r.insecureSkipVerify)
		assert.Equal(t, "dockerpull/1.0", r.userAgent)
		assert.Equal(t, 5*time.Minute, r.timeout)
		assert.Nil(t, r.credStore)
		require.NotNil(t, r.transport)
	})

	t.Run("default transport verifies certificates", func(t *testing.T) {
		t.Parallel()

		tr, ok := New().transport.(*http.Transport)
		require.True(t, ok)
		if tr.TLSClientConfig != nil {
			assert.False(t, tr.TLSClientConfig.InsecureSkipVerify)
		}
	})

	t.Run("applies WithInsecureSkipVerify option", func(t *testing.T) {
		t.Parallel()

		r := New(WithInsecureSkipVerify(true))
		tr, ok := r.transport.(*http.Transport)
		require.True(t, ok)
		require.NotNil(t, tr.TLSClientConfig)
		assert.True(t, tr.TLSClientConfig.InsecureSkipVerify)
	})

	t.Run("applies multiple options", func(t *testing.T) {
		t.Parallel()

		store := StaticCredentials("ghcr.io", "user", "pass")
		r := New(
			WithHost("ghcr.io"),
			WithAuthURL("https://ghcr.io/token"),
			WithService("ghcr.io"),
			WithPlainHTTP(true),
			WithUserAgent("multi/1.0"),
			WithTimeout(time.Second),
			WithCredentialStore(store),
		)
		assert.Equal(t, "ghcr.io", r.host)
		assert.Equal(t, "https://ghcr.io/token", r.authURL)
		assert.Equal(t, "ghcr.io", r.service)
		assert.True(t, r.plainHTTP)
		assert.Equal(t, "multi/1.0", r.userAgent)
		assert.Equal(t, time.Second, r.timeout)
		assert.Equal(t, store, r.credStore)
	})
}

func TestIsIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mediaType string
		want      bool
	}{
		{
			name:      "OCI image index",
			mediaType: ocispec.MediaTypeImageIndex,
			want:      true,
		},
		{
			name:      "Docker manifest list",
			mediaType: MediaTypeDockerManifestList,
			want:      true,
		},
		{
			name:      "OCI image manifest",
			mediaType: ocispec.MediaTypeImageManifest,
			want:      false,
		},
		{
			name:      "Docker manifest v2",
			mediaType: MediaTypeDockerManifest,
			want:      false,
		},
		{
			name:      "empty media type",
			mediaType: "",
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, isIndex(tt.mediaType))
		})
	}
}

// mockRegistryServer creates a test server that simulates a registry.
func mockRegistryServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// serveJSON writes body with the headers a registry sends for manifests.
func serveJSON(w http.ResponseWriter, mediaType string, body []byte) {
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Docker-Content-Digest", digest.FromBytes(body).String())
	_, _ = w.Write(body)
}

func newTestRegistry(server *httptest.Server) *orasRegistry {
	return New(
		WithHost(strings.TrimPrefix(server.URL, "http://")),
		WithPlainHTTP(true),
	)
}

func testManifest(t *testing.T, mediaType string, layers ...[]byte) (ocispec.Manifest, []byte) {
	t.Helper()

	manifest := ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: mediaType,
		Config: ocispec.Descriptor{
			MediaType: "application/vnd.docker.container.image.v1+json",
			Digest:    digest.FromString("{}"),
			Size:      2,
		},
	}
	for _, l := range layers {
		manifest.Layers = append(manifest.Layers, ocispec.Descriptor{
			MediaType: "application/vnd.docker.image.rootfs.diff.tar.gzip",
			Digest:    digest.FromBytes(l),
			Size:      int64(len(l)),
		})
	}
	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	return manifest, data
}

func TestGetManifest(t *testing.T) {
	t.Parallel()

	ref := core.Reference{Namespace: "library", Name: "busybox", Tag: "1.36"}

	t.Run("fetches docker v2 manifest with token", func(t *testing.T) {
		t.Parallel()

		want, data := testManifest(t, MediaTypeDockerManifest, []byte("a"), []byte("b"))
		var gotAuth, gotAccept, gotUA string
		server := mockRegistryServer(t, map[string]http.HandlerFunc{
			"/v2/library/busybox/manifests/1.36": func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				gotAccept = r.Header.Get("Accept")
				gotUA = r.Header.Get("User-Agent")
				serveJSON(w, MediaTypeDockerManifest, data)
			},
		})

		got, err := newTestRegistry(server).GetManifest(context.Background(), ref, "tok")
		require.NoError(t, err)
		assert.Equal(t, want.Config.Digest, got.Config.Digest)
		require.Len(t, got.Layers, 2)
		assert.Equal(t, want.Layers[0].Digest, got.Layers[0].Digest)
		assert.Equal(t, want.Layers[1].Digest, got.Layers[1].Digest)
		assert.Equal(t, "Bearer tok", gotAuth)
		assert.Contains(t, gotAccept, MediaTypeDockerManifest)
		assert.Equal(t, "dockerpull/1.0", gotUA)
	})

	t.Run("empty token sends no authorization", func(t *testing.T) {
		t.Parallel()

		_, data := testManifest(t, MediaTypeDockerManifest, []byte("a"))
		gotAuth := "unset"
		server := mockRegistryServer(t, map[string]http.HandlerFunc{
			"/v2/library/busybox/manifests/1.36": func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				serveJSON(w, MediaTypeDockerManifest, data)
			},
		})

		_, err := newTestRegistry(server).GetManifest(context.Background(), ref, "")
		require.NoError(t, err)
		assert.Empty(t, gotAuth)
	})

	t.Run("accepts OCI manifest", func(t *testing.T) {
		t.Parallel()

		_, data := testManifest(t, ocispec.MediaTypeImageManifest, []byte("a"))
		server := mockRegistryServer(t, map[string]http.HandlerFunc{
			"/v2/library/busybox/manifests/1.36": func(w http.ResponseWriter, _ *http.Request) {
				serveJSON(w, ocispec.MediaTypeImageManifest, data)
			},
		})

		got, err := newTestRegistry(server).GetManifest(context.Background(), ref, "")
		require.NoError(t, err)
		assert.Len(t, got.Layers, 1)
	})

	t.Run("missing tag is a 404 registry error", func(t *testing.T) {
		t.Parallel()

		server := mockRegistryServer(t, map[string]http.HandlerFunc{
			"/v2/library/busybox/manifests/1.36": func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"errors":[{"code":"MANIFEST_UNKNOWN","message":"manifest unknown"}]}`))
			},
		})

		_, err := newTestRegistry(server).GetManifest(context.Background(), ref, "")
		var regErr *core.RegistryError
		require.ErrorAs(t, err, &regErr)
		assert.Equal(t, http.StatusNotFound, regErr.StatusCode)
		assert.Equal(t, "library/busybox", regErr.Repository)
		assert.ErrorIs(t, err, core.ErrNotFound)
		assert.Contains(t, string(regErr.Body), "manifest unknown")
	})

	t.Run("400 with NAME_UNKNOWN keeps its status", func(t *testing.T) {
		t.Parallel()

		server := mockRegistryServer(t, map[string]http.HandlerFunc{
			"/v2/library/busybox/manifests/1.36": func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"errors":[{"code":"NAME_UNKNOWN","message":"repository name not known"}]}`))
			},
		})

		_, err := newTestRegistry(server).GetManifest(context.Background(), ref, "")
		var regErr *core.RegistryError
		require.ErrorAs(t, err, &regErr)
		assert.Equal(t, http.StatusBadRequest, regErr.StatusCode)
		assert.Equal(t, []string{"NAME_UNKNOWN"}, regErr.Codes)
		assert.ErrorIs(t, err, core.ErrNotFound)
		assert.Contains(t, err.Error(), "[HTTP 400]")
	})

	t.Run("unauthorized is reported", func(t *testing.T) {
		t.Parallel()

		server := mockRegistryServer(t, map[string]http.HandlerFunc{
			"/v2/library/busybox/manifests/1.36": func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"errors":[{"code":"UNAUTHORIZED","message":"authentication required"}]}`))
			},
		})

		_, err := newTestRegistry(server).GetManifest(context.Background(), ref, "bad")
		assert.ErrorIs(t, err, core.ErrUnauthorized)
	})

	t.Run("rejects manifest list", func(t *testing.T) {
		t.Parallel()

		index, err := json.Marshal(ocispec.Index{
			Versioned: specs.Versioned{SchemaVersion: 2},
			MediaType: MediaTypeDockerManifestList,
		})
		require.NoError(t, err)
		server := mockRegistryServer(t, map[string]http.HandlerFunc{
			"/v2/library/busybox/manifests/1.36": func(w http.ResponseWriter, _ *http.Request) {
				serveJSON(w, MediaTypeDockerManifestList, index)
			},
		})

		_, err = newTestRegistry(server).GetManifest(context.Background(), ref, "")
		assert.ErrorIs(t, err, core.ErrUnsupportedManifest)
	})

	t.Run("rejects index served with manifest content type", func(t *testing.T) {
		t.Parallel()

		index, err := json.Marshal(ocispec.Index{
			Versioned: specs.Versioned{SchemaVersion: 2},
			MediaType: ocispec.MediaTypeImageIndex,
		})
		require.NoError(t, err)
		server := mockRegistryServer(t, map[string]http.HandlerFunc{
			"/v2/library/busybox/manifests/1.36": func(w http.ResponseWriter, _ *http.Request) {
				serveJSON(w, MediaTypeDockerManifest, index)
			},
		})

		_, err = newTestRegistry(server).GetManifest(context.Background(), ref, "")
		assert.ErrorIs(t, err, core.ErrUnsupportedManifest)
	})

	t.Run("rejects schema 1", func(t *testing.T) {
		t.Parallel()

		body := []byte(`{"schemaVersion":1,"name":"library/busybox","tag":"1.36","fsLayers":[]}`)
		server := mockRegistryServer(t, map[string]http.HandlerFunc{
			"/v2/library/busybox/manifests/1.36": func(w http.ResponseWriter, _ *http.Request) {
				serveJSON(w, MediaTypeDockerManifest, body)
			},
		})

		_, err := newTestRegistry(server).GetManifest(context.Background(), ref, "")
		assert.ErrorIs(t, err, core.ErrUnsupportedManifest)
	})

	t.Run("invalid repository name", func(t *testing.T) {
		t.Parallel()

		bad := core.Reference{Namespace: "library", Name: "Upper", Tag: "latest"}
		_, err := New().GetManifest(context.Background(), bad, "")
		assert.ErrorIs(t, err, core.ErrInvalidRef)
	})

	t.Run("respects cancelled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := New().GetManifest(ctx, ref, "")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestGetBlob(t *testing.T) {
	t.Parallel()

	ref := core.Reference{Namespace: "library", Name: "busybox", Tag: "1.36"}
	blob := []byte("compressed layer bytes")
	desc := ocispec.Descriptor{
		MediaType: "application/vnd.docker.image.rootfs.diff.tar.gzip",
		Digest:    digest.FromBytes(blob),
		Size:      int64(len(blob)),
	}
	blobPath := "/v2/library/busybox/blobs/" + desc.Digest.String()

	t.Run("streams blob", func(t *testing.T) {
		t.Parallel()

		var gotAuth string
		server := mockRegistryServer(t, map[string]http.HandlerFunc{
			blobPath: func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				w.Header().Set("Content-Type", "application/octet-stream")
				w.Header().Set("Content-Length", strconv.Itoa(len(blob)))
				_, _ = w.Write(blob)
			},
		})

		rc, err := newTestRegistry(server).GetBlob(context.Background(), ref, desc, "tok")
		require.NoError(t, err)
		defer rc.Close()

		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, blob, got)
		assert.Equal(t, "Bearer tok", gotAuth)
	})

	t.Run("server error carries status and body", func(t *testing.T) {
		t.Parallel()

		server := mockRegistryServer(t, map[string]http.HandlerFunc{
			blobPath: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"errors":[{"code":"UNKNOWN","message":"storage offline"}]}`))
			},
		})

		_, err := newTestRegistry(server).GetBlob(context.Background(), ref, desc, "")
		var regErr *core.RegistryError
		require.ErrorAs(t, err, &regErr)
		assert.Equal(t, http.StatusInternalServerError, regErr.StatusCode)
		assert.Equal(t, desc.Digest, regErr.Digest)
		assert.Equal(t, []string{"UNKNOWN"}, regErr.Codes)
		assert.JSONEq(t, `{"errors":[{"code":"UNKNOWN","message":"storage offline"}]}`, string(regErr.Body))
	})

	t.Run("plain text error body is kept verbatim", func(t *testing.T) {
		t.Parallel()

		server := mockRegistryServer(t, map[string]http.HandlerFunc{
			blobPath: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("upstream CDN exploded: shard 7"))
			},
		})

		_, err := newTestRegistry(server).GetBlob(context.Background(), ref, desc, "")
		var regErr *core.RegistryError
		require.ErrorAs(t, err, &regErr)
		assert.Equal(t, http.StatusServiceUnavailable, regErr.StatusCode)
		assert.Empty(t, regErr.Codes)
		assert.Equal(t, "upstream CDN exploded: shard 7", string(regErr.Body))
	})

	t.Run("error body is bounded", func(t *testing.T) {
		t.Parallel()

		server := mockRegistryServer(t, map[string]http.HandlerFunc{
			blobPath: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte(strings.Repeat("x", 2*maxErrorBody)))
			},
		})

		_, err := newTestRegistry(server).GetBlob(context.Background(), ref, desc, "")
		var regErr *core.RegistryError
		require.ErrorAs(t, err, &regErr)
		assert.Equal(t, http.StatusBadGateway, regErr.StatusCode)
		assert.Len(t, regErr.Body, maxErrorBody)
	})

	t.Run("missing blob is not found", func(t *testing.T) {
		t.Parallel()

		server := mockRegistryServer(t, map[string]http.HandlerFunc{})

		_, err := newTestRegistry(server).GetBlob(context.Background(), ref, desc, "")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("token is not forwarded across redirects", func(t *testing.T) {
		t.Parallel()

		var storageAuth = "unset"
		storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			storageAuth = r.Header.Get("Authorization")
			w.Header().Set("Content-Length", strconv.Itoa(len(blob)))
			_, _ = w.Write(blob)
		}))
		t.Cleanup(storage.Close)

		server := mockRegistryServer(t, map[string]http.HandlerFunc{
			blobPath: func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, storage.URL+"/signed", http.StatusTemporaryRedirect)
			},
		})

		rc, err := newTestRegistry(server).GetBlob(context.Background(), ref, desc, "tok")
		require.NoError(t, err)
		defer rc.Close()
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, blob, got)
		assert.Empty(t, storageAuth)
	})

	t.Run("timeout has no status", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		server := mockRegistryServer(t, map[string]http.HandlerFunc{
			blobPath: func(_ http.ResponseWriter, r *http.Request) {
				select {
				case <-release:
				case <-r.Context().Done():
				}
			},
		})
		t.Cleanup(func() { close(release) })

		r := New(
			WithHost(strings.TrimPrefix(server.URL, "http://")),
			WithPlainHTTP(true),
			WithTimeout(50*time.Millisecond),
		)
		_, err := r.GetBlob(context.Background(), ref, desc, "")
		var regErr *core.RegistryError
		require.ErrorAs(t, err, &regErr)
		assert.Zero(t, regErr.StatusCode)

		var netErr interface{ Timeout() bool }
		require.True(t, errors.As(err, &netErr))
		assert.True(t, netErr.Timeout())
	})
}
