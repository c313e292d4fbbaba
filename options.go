package dockerpull

import (
	"errors"
	"log/slog"
	"time"

	"oras.land/oras-go/v2/registry/remote/credentials"

	"github.com/meigma/dockerpull/internal/registry"
)

// ClientOption configures a Client.
type ClientOption func(*Client) error

// PullOption configures a Pull operation.
type PullOption func(*pullConfig)

// pullConfig holds configuration for Pull operations.
type pullConfig struct {
	output string
}

// WithOutput writes the archive to path instead of
// "<output dir>/<namespace>_<name>.tar".
func WithOutput(path string) PullOption {
	return func(c *pullConfig) {
		c.output = path
	}
}

// WithRegistry sets the registry host (host[:port]).
// Defaults to registry-1.docker.io.
func WithRegistry(host string) ClientOption {
	return func(c *Client) error {
		if host == "" {
			return errors.New("registry host must not be empty")
		}
		c.host = host
		return nil
	}
}

// WithAuthURL sets the token endpoint. Defaults to
// https://auth.docker.io/token. An empty URL discovers the endpoint from the
// registry's WWW-Authenticate challenge.
func WithAuthURL(authURL string) ClientOption {
	return func(c *Client) error {
		c.authURL = authURL
		return nil
	}
}

// WithService sets the service parameter of token requests.
// Defaults to registry.docker.io.
func WithService(service string) ClientOption {
	return func(c *Client) error {
		c.service = service
		return nil
	}
}

// WithCredentials authenticates token requests for registryHost with a
// username and password.
func WithCredentials(registryHost, username, password string) ClientOption {
	return func(c *Client) error {
		c.credStore = registry.StaticCredentials(registryHost, username, password)
		return nil
	}
}

// WithCredentialStore authenticates token requests with credentials from
// store. Use DockerCredentialStore for the Docker CLI's configuration.
func WithCredentialStore(store credentials.Store) ClientOption {
	return func(c *Client) error {
		c.credStore = store
		return nil
	}
}

// WithPlainHTTP talks to the registry over http instead of https.
func WithPlainHTTP(plainHTTP bool) ClientOption {
	return func(c *Client) error {
		c.plainHTTP = plainHTTP
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Verification is on by default.
func WithInsecureSkipVerify(skip bool) ClientOption {
	return func(c *Client) error {
		c.insecureSkipVerify = skip
		return nil
	}
}

// WithTimeout bounds each registry request, including reading its body.
// Defaults to five minutes; zero disables the limit.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < 0 {
			return errors.New("timeout must not be negative")
		}
		c.timeout = d
		return nil
	}
}

// WithConcurrency sets how many layers download at once. Defaults to 1.
func WithConcurrency(n int) ClientOption {
	return func(c *Client) error {
		if n < 1 {
			return errors.New("concurrency must be at least 1")
		}
		c.concurrency = n
		return nil
	}
}

// WithWorkDir sets the directory the temporary image tree is created in.
// Defaults to the system temporary directory.
func WithWorkDir(dir string) ClientOption {
	return func(c *Client) error {
		c.workDir = dir
		return nil
	}
}

// WithOutputDir sets the directory archives are written to when Pull is not
// given WithOutput. Defaults to the current directory.
func WithOutputDir(dir string) ClientOption {
	return func(c *Client) error {
		c.outputDir = dir
		return nil
	}
}

// WithProgress registers a callback for layer progress events.
func WithProgress(fn ProgressCallback) ClientOption {
	return func(c *Client) error {
		c.progress = fn
		return nil
	}
}

// WithRegistryClient replaces the built-in registry client. The registry
// host, auth, TLS and timeout options are ignored when it is set.
func WithRegistryClient(r Registry) ClientOption {
	return func(c *Client) error {
		if r == nil {
			return errors.New("registry client must not be nil")
		}
		c.registry = r
		return nil
	}
}

// WithLogger sets a logger for the client. By default, logging is disabled.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithUserAgent sets a custom User-Agent header for registry requests.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

// DockerCredentialStore returns a credential store backed by the Docker CLI
// configuration (~/.docker/config.json) and its credential helpers.
func DockerCredentialStore() (credentials.Store, error) {
	return registry.DefaultCredentialStore()
}
