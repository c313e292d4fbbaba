// Package cli implements the docker-pull command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meigma/dockerpull"
	"github.com/meigma/dockerpull/cmd/docker-pull/cli/config"
)

// Flags that are not configuration keys.
var (
	cfgFile     string
	verbose     bool
	output      string
	printConfig bool
)

// configKeys are the flags bound to viper, and so settable from the config
// file and DOCKER_PULL_* environment variables.
var configKeys = []string{
	"registry",
	"auth-url",
	"service",
	"insecure-skip-tls-verify",
	"plain-http",
	"docker-credentials",
	"output-dir",
	"work-dir",
	"concurrency",
	"timeout",
	"progress",
}

var rootCmd = &cobra.Command{
	Use:   "docker-pull [flags] [namespace/]name[:tag]",
	Short: "Pull an image into a docker load archive",
	Long: `docker-pull downloads an image from a v2 registry and writes it as a tar
archive in the legacy format "docker load" reads, without a Docker daemon.

The namespace defaults to "library" and the tag to "latest". The archive is
written to <namespace>_<name>.tar in the output directory.

Examples:
  docker-pull busybox
  docker-pull bitnami/redis:7.2 -o redis.tar
  docker-pull --registry localhost:5000 --plain-http team/app:v1`,
	Args:              imageArgs,
	PersistentPreRunE: initConfig,
	RunE:              runPull,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	defaults := config.Default()

	flags := rootCmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/docker-pull/config.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose debug logging")
	flags.StringVarP(&output, "output", "o", "", "Write the archive to this path")
	flags.BoolVar(&printConfig, "print-config", false, "Print the effective configuration and exit")

	flags.String("registry", defaults.Registry, "Registry host[:port]")
	flags.String("auth-url", defaults.AuthURL, "Token endpoint (discovered from the registry when it is not Docker Hub)")
	flags.String("service", defaults.Service, "Service parameter of token requests")
	flags.Bool("insecure-skip-tls-verify", false, "Skip TLS certificate verification")
	flags.Bool("plain-http", false, "Use http instead of https")
	flags.Bool("docker-credentials", false, "Authenticate token requests with the Docker CLI credentials")
	flags.String("output-dir", "", "Directory the archive is written to (default current directory)")
	flags.String("work-dir", "", "Directory the temporary image tree is built in (default system temp dir)")
	flags.IntP("concurrency", "j", defaults.Concurrency, "Number of layers downloaded at once")
	flags.Duration("timeout", defaults.Timeout, "Timeout for each registry request, 0 for none")
	flags.String("progress", defaults.Progress, "Progress output: auto, tty or plain")

	for _, key := range configKeys {
		if err := viper.BindPFlag(key, flags.Lookup(key)); err != nil {
			panic(err)
		}
	}

	rootCmd.Version = versionString()
	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
	}
	return err
}

// imageArgs accepts exactly one image reference with a non-empty name.
func imageArgs(cmd *cobra.Command, args []string) error {
	if printConfig {
		return cobra.NoArgs(cmd, args)
	}
	if len(args) != 1 || dockerpull.ParseReference(args[0]).Name == "" {
		return &dockerpull.UsageError{Msg: cmd.UseLine()}
	}
	return nil
}

// initConfig reads the config file and environment into viper.
// Precedence is flag, then DOCKER_PULL_* variable, then file, then default.
func initConfig(_ *cobra.Command, _ []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := config.Dir()
		if err == nil {
			viper.AddConfigPath(dir)
		}
		viper.SetConfigName(strings.TrimSuffix(config.FileName, ".yaml"))
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("DOCKER_PULL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// loadConfig returns the effective configuration.
func loadConfig() (config.Config, error) {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}

	// The Docker Hub token endpoint is no use for another registry; ask the
	// registry for its own unless one was given.
	if cfg.Registry != config.Default().Registry {
		if !viper.IsSet("auth-url") {
			cfg.AuthURL = ""
		}
		if !viper.IsSet("service") {
			cfg.Service = ""
		}
	}
	return cfg, nil
}

func runPull(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if printConfig {
		data, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	ref := dockerpull.ParseReference(args[0])

	callback, finish := newPullProgress(cfg.Progress, out)
	client, err := newClient(cfg, callback)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	var opts []dockerpull.PullOption
	if output != "" {
		opts = append(opts, dockerpull.WithOutput(output))
	}

	path, err := client.Pull(ctx, ref, opts...)
	finish()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Docker image pulled: %s\n", path)
	return nil
}

// newClient creates a docker-pull client with configured options.
func newClient(cfg config.Config, callback dockerpull.ProgressCallback) (*dockerpull.Client, error) {
	opts := []dockerpull.ClientOption{
		dockerpull.WithRegistry(cfg.Registry),
		dockerpull.WithAuthURL(cfg.AuthURL),
		dockerpull.WithService(cfg.Service),
		dockerpull.WithPlainHTTP(cfg.PlainHTTP),
		dockerpull.WithInsecureSkipVerify(cfg.InsecureSkipVerify),
		dockerpull.WithTimeout(cfg.Timeout),
		dockerpull.WithConcurrency(cfg.Concurrency),
		dockerpull.WithWorkDir(cfg.WorkDir),
		dockerpull.WithOutputDir(cfg.OutputDir),
		dockerpull.WithUserAgent("docker-pull/" + version),
	}
	if callback != nil {
		opts = append(opts, dockerpull.WithProgress(callback))
	}
	if cfg.DockerCredentials {
		store, err := dockerpull.DockerCredentialStore()
		if err != nil {
			return nil, fmt.Errorf("docker credentials: %w", err)
		}
		opts = append(opts, dockerpull.WithCredentialStore(store))
	}
	if verbose {
		opts = append(opts, dockerpull.WithLogger(
			slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})),
		))
	}
	return dockerpull.NewClient(opts...)
}

// signalContext returns a context that is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// formatError converts pull errors to user-friendly messages.
func formatError(err error) string {
	if err == nil {
		return ""
	}

	var (
		usageErr *dockerpull.UsageError
		regErr   *dockerpull.RegistryError
		authErr  *dockerpull.AuthError
	)
	switch {
	case errors.As(err, &usageErr):
		return "Usage:\n\t" + usageErr.Msg
	case errors.Is(err, context.Canceled):
		return "Error: operation canceled"
	case errors.As(err, &regErr):
		return formatRegistryError(regErr)
	case errors.As(err, &authErr):
		return "Error: " + authErr.Error()
	case errors.Is(err, dockerpull.ErrUnsupportedManifest):
		return fmt.Sprintf("Error: unsupported manifest (only single-platform v2 schema 2 images can be pulled): %v", err)
	case errors.Is(err, dockerpull.ErrDigestMismatch):
		return fmt.Sprintf("Error: downloaded content is corrupt: %v", err)
	case errors.Is(err, dockerpull.ErrPathTraversal):
		return "Error: path traversal detected (security violation)"
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}

// formatRegistryError renders a failed registry response the way a docker
// pull script reports it.
func formatRegistryError(e *dockerpull.RegistryError) string {
	status := ""
	if e.StatusCode != 0 {
		status = fmt.Sprintf(" [HTTP %d]", e.StatusCode)
	} else if e.Err != nil {
		status = ": " + e.Err.Error()
	}

	if e.Op == "blob" {
		msg := fmt.Sprintf("ERROR: Cannot download layer %s%s", dockerpull.ShortDigest(e.Digest), status)
		if len(e.Body) > 0 {
			msg += "\n" + strings.TrimSpace(string(e.Body))
		}
		return msg
	}
	return fmt.Sprintf("Cannot fetch %s for %s%s", e.Op, e.Repository, status)
}
