package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"

	"github.com/meigma/dockerpull/core"
)

// errMissingToken is returned when the token endpoint answers 200 without
// a usable token field.
var errMissingToken = errors.New("token response missing access_token and token")

// maxTokenResponse bounds the token endpoint response body.
const maxTokenResponse = 1 << 20

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Token       string `json:"token"`
	ExpiresIn   int    `json:"expires_in"`
	IssuedAt    string `json:"issued_at"`
}

// GetToken requests a pull-scoped bearer token for ref's repository.
//
// When no token endpoint is configured it is discovered from the
// WWW-Authenticate challenge of GET /v2/. A registry that answers that request
// with 200 needs no token and GetToken returns an empty one.
func (r *orasRegistry) GetToken(ctx context.Context, ref core.Reference) (core.Token, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	repository := ref.Repository()
	realm, service := r.authURL, r.service
	if realm == "" {
		challenge, err := r.discover(ctx)
		if err != nil {
			return "", &core.AuthError{Repository: repository, Err: err}
		}
		if challenge == nil {
			r.logger.Debug("registry allows anonymous access", "host", r.host)
			return "", nil
		}
		realm = challenge["realm"]
		if service == "" {
			service = challenge["service"]
		}
		if realm == "" {
			return "", &core.AuthError{Repository: repository, Err: errors.New("authenticate challenge has no realm")}
		}
	}

	u, err := url.Parse(realm)
	if err != nil {
		return "", &core.AuthError{Repository: repository, Err: fmt.Errorf("parse token endpoint: %w", err)}
	}
	q := u.Query()
	if service != "" {
		q.Set("service", service)
	}
	q.Set("scope", auth.ScopeRepository(repository, auth.ActionPull))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return "", &core.AuthError{Repository: repository, Err: err}
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	if err := r.setBasicAuth(ctx, req); err != nil {
		return "", &core.AuthError{Repository: repository, Err: err}
	}

	r.logger.Debug("requesting registry token", "url", u.String())
	resp, err := r.httpClient().Do(req)
	if err != nil {
		return "", &core.AuthError{Repository: repository, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &core.AuthError{
			Repository: repository,
			StatusCode: resp.StatusCode,
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		}
	}

	var tok tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenResponse)).Decode(&tok); err != nil {
		return "", &core.AuthError{Repository: repository, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode token response: %w", err)}
	}
	switch {
	case tok.AccessToken != "":
		return core.Token(tok.AccessToken), nil
	case tok.Token != "":
		return core.Token(tok.Token), nil
	default:
		return "", &core.AuthError{Repository: repository, StatusCode: resp.StatusCode, Err: errMissingToken}
	}
}

// discover requests GET /v2/ and returns the parameters of the bearer
// challenge, or nil when the registry answered 200.
func (r *orasRegistry) discover(ctx context.Context) (map[string]string, error) {
	scheme := "https"
	if r.plainHTTP {
		scheme = "http"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+r.host+"/v2/", http.NoBody)
	if err != nil {
		return nil, err
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("ping registry: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxTokenResponse))

	switch resp.StatusCode {
	case http.StatusOK:
		return nil, nil
	case http.StatusUnauthorized:
		return parseChallenge(resp.Header.Get("WWW-Authenticate"))
	default:
		return nil, fmt.Errorf("ping registry: unexpected status %s", resp.Status)
	}
}

// parseChallenge parses a `Bearer realm="...",service="..."` header.
// Quoted values may contain commas (scope lists do).
func parseChallenge(header string) (map[string]string, error) {
	scheme, params, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return nil, fmt.Errorf("unsupported authenticate challenge %q", header)
	}

	out := make(map[string]string)
	for params = strings.TrimSpace(params); params != ""; {
		key, rest, found := strings.Cut(params, "=")
		if !found {
			return nil, fmt.Errorf("malformed authenticate challenge %q", header)
		}
		key = strings.ToLower(strings.TrimSpace(key))

		var val string
		if strings.HasPrefix(rest, `"`) {
			end := strings.Index(rest[1:], `"`)
			if end < 0 {
				return nil, fmt.Errorf("malformed authenticate challenge %q", header)
			}
			val, rest = rest[1:end+1], rest[end+2:]
		} else {
			val, rest, _ = strings.Cut(rest, ",")
			rest = "," + rest
		}
		out[key] = strings.TrimSpace(val)
		params = strings.TrimLeft(strings.TrimSpace(rest), ", ")
	}
	return out, nil
}

// setBasicAuth adds credentials for the registry host, if the credential
// store has any.
func (r *orasRegistry) setBasicAuth(ctx context.Context, req *http.Request) error {
	if r.credStore == nil {
		return nil
	}
	cred, err := r.credStore.Get(ctx, r.host)
	if err != nil {
		return fmt.Errorf("load credentials for %s: %w", r.host, err)
	}
	if cred.Username != "" && cred.Password != "" {
		req.SetBasicAuth(cred.Username, cred.Password)
	}
	return nil
}

// httpClient returns a client for calls made outside the ORAS repository.
func (r *orasRegistry) httpClient() *http.Client {
	return &http.Client{Transport: r.transport, Timeout: r.timeout}
}

// DefaultCredentialStore returns a credential store that reads from
// Docker config (~/.docker/config.json) and credential helpers.
func DefaultCredentialStore() (credentials.Store, error) {
	store, err := credentials.NewStoreFromDocker(credentials.StoreOptions{})
	if err != nil {
		return nil, fmt.Errorf("create docker credential store: %w", err)
	}
	return &dockerHubFallbackStore{store: store}, nil
}

// StaticCredentials returns a credential store with a single static credential
// for the specified registry.
func StaticCredentials(registry, username, password string) credentials.Store {
	return &staticStore{
		registry: registry,
		cred: auth.Credential{
			Username: username,
			Password: password,
		},
	}
}

// staticStore implements credentials.Store for a single static credential.
type staticStore struct {
	registry string
	cred     auth.Credential
}

// Get retrieves credentials for the given server address.
func (s *staticStore) Get(_ context.Context, serverAddress string) (auth.Credential, error) {
	if serverAddress == s.registry {
		return s.cred, nil
	}
	return auth.EmptyCredential, nil
}

// Put is not supported for static credentials.
func (s *staticStore) Put(_ context.Context, _ string, _ auth.Credential) error {
	return errors.New("static credential store is read-only")
}

// Delete is not supported for static credentials.
func (s *staticStore) Delete(_ context.Context, _ string) error {
	return errors.New("static credential store is read-only")
}

type dockerHubFallbackStore struct {
	store credentials.Store
}

func (s *dockerHubFallbackStore) Get(ctx context.Context, serverAddress string) (auth.Credential, error) {
	cred, err := s.store.Get(ctx, serverAddress)
	if err == nil && !isEmptyCredential(cred) {
		return cred, nil
	}
	for _, alt := range dockerHubFallbacks(serverAddress) {
		if alt == serverAddress {
			continue
		}
		fallbackCred, fallbackErr := s.store.Get(ctx, alt)
		if fallbackErr == nil && !isEmptyCredential(fallbackCred) {
			return fallbackCred, nil
		}
	}
	if err != nil {
		return cred, err
	}
	return cred, nil
}

func (s *dockerHubFallbackStore) Put(ctx context.Context, serverAddress string, cred auth.Credential) error {
	return s.store.Put(ctx, serverAddress, cred)
}

func (s *dockerHubFallbackStore) Delete(ctx context.Context, serverAddress string) error {
	return s.store.Delete(ctx, serverAddress)
}

func dockerHubFallbacks(serverAddress string) []string {
	host := normalizeServerAddress(serverAddress)
	if !isDockerHubHost(host) {
		return nil
	}
	return []string{
		"https://index.docker.io/v1/",
		"index.docker.io",
		"registry-1.docker.io",
		"docker.io",
	}
}

func isDockerHubHost(host string) bool {
	switch host {
	case "docker.io", "registry-1.docker.io", "index.docker.io":
		return true
	default:
		return false
	}
}

func normalizeServerAddress(addr string) string {
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	addr, _, _ = strings.Cut(addr, "/")
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func isEmptyCredential(cred auth.Credential) bool {
	return cred == auth.EmptyCredential ||
		(cred.Username == "" && cred.Password == "" && cred.AccessToken == "" && cred.RefreshToken == "")
}
