package dockerpull

import (
	"log/slog"
	"sync"
	"time"

	"oras.land/oras-go/v2/registry/remote/credentials"

	"github.com/meigma/dockerpull/internal/registry"
	"github.com/meigma/dockerpull/internal/safepath"
)

const defaultTimeout = 5 * time.Minute

// Client pulls images from a v2 registry into legacy archives.
// A Client is safe for concurrent use; every Pull gets its own working tree.
type Client struct {
	registry  Registry
	validator PathValidator
	logger    *slog.Logger

	// configuration passed to registry
	host               string
	authURL            string
	service            string
	credStore          credentials.Store
	plainHTTP          bool
	insecureSkipVerify bool
	userAgent          string
	timeout            time.Duration

	concurrency int
	workDir     string
	outputDir   string

	progress   ProgressCallback
	progressMu sync.Mutex
}

// NewClient creates a new client.
//
// With no options it pulls from Docker Hub with anonymous tokens, one layer
// at a time, and writes archives to the current directory.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		logger:      slog.New(slog.DiscardHandler),
		host:        registry.DefaultHost,
		authURL:     registry.DefaultAuthURL,
		service:     registry.DefaultService,
		timeout:     defaultTimeout,
		concurrency: 1,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	// Wire up default implementations
	if c.registry == nil {
		regOpts := []registry.Option{
			registry.WithHost(c.host),
			registry.WithAuthURL(c.authURL),
			registry.WithService(c.service),
			registry.WithPlainHTTP(c.plainHTTP),
			registry.WithInsecureSkipVerify(c.insecureSkipVerify),
			registry.WithTimeout(c.timeout),
			registry.WithLogger(c.logger),
		}
		if c.credStore != nil {
			regOpts = append(regOpts, registry.WithCredentialStore(c.credStore))
		}
		if c.userAgent != "" {
			regOpts = append(regOpts, registry.WithUserAgent(c.userAgent))
		}
		c.registry = registry.New(regOpts...)
	}
	c.validator = safepath.NewValidator()

	return c, nil
}

// emit delivers a progress event. Events are serialized so callbacks need
// no locking of their own.
func (c *Client) emit(event ProgressEvent) {
	if c.progress == nil {
		return
	}
	c.progressMu.Lock()
	defer c.progressMu.Unlock()
	c.progress(event)
}
