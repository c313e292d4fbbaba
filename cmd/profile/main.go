//go:build profiling
// +build profiling

// Command profile pulls an image repeatedly under a profiler.
//
// Without -registry it serves a synthetic image from an in-process registry,
// so runs are repeatable and need no network:
//
//	go run -tags profiling ./cmd/profile -layers 8 -layer-size 32 -j 4 -profile fgprof
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"slices"
	"strings"
	"time"

	"github.com/felixge/fgprof"
	"github.com/grafana/pyroscope-go"

	"github.com/meigma/dockerpull"
	"github.com/meigma/dockerpull/internal/testutil"
)

type profileKind string

const (
	profileCPU   profileKind = "cpu"
	profileFG    profileKind = "fgprof"
	profileTrace profileKind = "trace"
	profileNone  profileKind = "none"
	defaultRef               = "profile/synthetic:latest"
	defaultPull              = "tmp/profilepull"
)

func main() {
	var (
		ref         = flag.String("ref", defaultRef, "image reference, [namespace/]name[:tag]")
		registry    = flag.String("registry", "", "registry host:port (default: in-process registry with a synthetic image)")
		plainHTTP   = flag.Bool("plain-http", false, "use plain HTTP (for local registries)")
		layers      = flag.Int("layers", 8, "synthetic image: number of layers")
		layerSize   = flag.Int("layer-size", 16, "synthetic image: uncompressed MiB per layer")
		concurrency = flag.Int("j", 1, "layers downloaded at once")
		pullDir     = flag.String("pull-dir", defaultPull, "directory archives are written to")
		profile     = flag.String("profile", "cpu", "profile type: cpu, fgprof, trace, none")
		outDir      = flag.String("out", "profiles", "output directory for profiles")
		label       = flag.String("label", "", "label suffix for profile files")
		repeat      = flag.Int("repeat", 1, "number of iterations")
		logLevel    = flag.String("log-level", "", "log level: debug, info, warn, error")
		timeout     = flag.Duration("timeout", 15*time.Minute, "overall timeout")
		pyroAddr    = flag.String("pyroscope", "", "Pyroscope server URL (enables streaming, disables local profiles)")
	)
	flag.Parse()

	runID := time.Now().UTC().Format("20060102T150405Z")

	profileKindValue := profileKind(strings.ToLower(*profile))
	if !isValidProfile(profileKindValue) {
		log.Fatalf("invalid profile %q (expected cpu, fgprof, trace, none)", *profile)
	}
	if *repeat < 1 {
		log.Fatalf("repeat must be >= 1")
	}

	imageRef := dockerpull.ParseReference(*ref)
	clientOpts := []dockerpull.ClientOption{
		dockerpull.WithConcurrency(*concurrency),
		dockerpull.WithOutputDir(*pullDir),
	}

	// The synthetic image is built before profiling starts so the profile
	// only covers the pull.
	if *registry == "" {
		img := syntheticImage(imageRef, *layers, *layerSize)
		reg := testutil.NewRegistry(img)
		defer reg.Close()
		log.Printf("serving %s with %d layers of %d MiB at %s", imageRef, *layers, *layerSize, reg.Host())
		clientOpts = append(clientOpts,
			dockerpull.WithRegistry(reg.Host()),
			dockerpull.WithAuthURL(""),
			dockerpull.WithService(""),
			dockerpull.WithPlainHTTP(true),
		)
	} else {
		clientOpts = append(clientOpts,
			dockerpull.WithRegistry(*registry),
			dockerpull.WithPlainHTTP(*plainHTTP),
		)
		if *registry != "registry-1.docker.io" {
			clientOpts = append(clientOpts, dockerpull.WithAuthURL(""), dockerpull.WithService(""))
		}
	}

	if *logLevel != "" {
		level, err := parseLogLevel(*logLevel)
		if err != nil {
			log.Fatalf("parse log level: %v", err)
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		clientOpts = append(clientOpts, dockerpull.WithLogger(logger))
	}

	client, err := dockerpull.NewClient(clientOpts...)
	if err != nil {
		log.Fatalf("create client: %v", err)
	}

	// When Pyroscope is enabled, stream profiles instead of writing locally
	var pyroProfiler *pyroscope.Profiler
	if *pyroAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "docker-pull-profile",
			ServerAddress:   *pyroAddr,
			// Grafana Cloud requires BasicAuth (AuthToken is deprecated)
			BasicAuthUser:     os.Getenv("PYROSCOPE_BASIC_AUTH_USER"),
			BasicAuthPassword: os.Getenv("PYROSCOPE_BASIC_AUTH_PASSWORD"),
			UploadRate:        5 * time.Second,
			Logger:            pyroscope.StandardLogger,
			Tags: map[string]string{
				"image":       imageRef.String(),
				"concurrency": fmt.Sprint(*concurrency),
				"git_sha":     os.Getenv("GITHUB_SHA"),
				"run_id":      runID,
			},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("start pyroscope: %v", err)
		}
		pyroProfiler = profiler
		log.Printf("streaming profiles to %s", *pyroAddr)
	}

	labelParts := []string{"pull"}
	if *label != "" {
		labelParts = append(labelParts, sanitizeLabel(*label))
	}
	labelParts = append(labelParts, runID)
	labelValue := strings.Join(labelParts, "_")

	// Only record locally when not streaming to Pyroscope
	rec := &recorder{dir: *outDir, label: labelValue}
	if pyroProfiler == nil {
		if err := os.MkdirAll(*outDir, 0o755); err != nil {
			log.Fatalf("create profile output dir: %v", err)
		}
		if err := rec.start(profileKindValue); err != nil {
			log.Fatalf("start profile: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	for i := range *repeat {
		if *repeat > 1 {
			log.Printf("iteration %d/%d", i+1, *repeat)
		}
		start := time.Now()
		path, err := client.Pull(ctx, imageRef)
		if err != nil {
			log.Fatalf("pull: %v", err)
		}
		info, err := os.Stat(path)
		if err != nil {
			log.Fatalf("stat archive: %v", err)
		}
		log.Printf("pull complete: %s (%d bytes) in %s", path, info.Size(), time.Since(start))
	}

	// Stop profiling - either Pyroscope or local
	if pyroProfiler != nil {
		if err := pyroProfiler.Stop(); err != nil {
			log.Fatalf("stop pyroscope: %v", err)
		}
		log.Printf("pyroscope profiling stopped")
		return
	}
	if err := rec.finish(); err != nil {
		log.Fatalf("finish profiles: %v", err)
	}
	log.Printf("profiles written to %s", *outDir)
}

// syntheticImage builds an image of gzip layers filled with random bytes,
// which compress about as badly as real binaries do.
func syntheticImage(ref dockerpull.Reference, layers, sizeMiB int) *testutil.Image {
	rng := rand.New(rand.NewSource(1))
	ls := make([]testutil.Layer, 0, layers)
	for i := range layers {
		data := make([]byte, sizeMiB<<20)
		_, _ = rng.Read(data)
		ls = append(ls, testutil.GzipLayer(testutil.TarPayload(map[string]string{
			fmt.Sprintf("layer%03d.bin", i): string(data),
		})))
	}
	return testutil.NewImage(ref.Repository(), ref.Tag, ls...)
}

func isValidProfile(kind profileKind) bool {
	return slices.Contains([]profileKind{profileCPU, profileFG, profileTrace, profileNone}, kind)
}

// recorder writes local profiles named "<kind>_<label>.<ext>" under dir.
type recorder struct {
	dir   string
	label string
	stop  func() error
}

func (r *recorder) create(kind, ext string) (*os.File, error) {
	return os.Create(filepath.Join(r.dir, kind+"_"+r.label+"."+ext))
}

// start begins the continuous profile selected by kind.
func (r *recorder) start(kind profileKind) error {
	r.stop = func() error { return nil }
	if kind == profileNone {
		return nil
	}

	ext := "pprof"
	if kind == profileTrace {
		ext = "out"
	}
	f, err := r.create(string(kind), ext)
	if err != nil {
		return err
	}

	switch kind {
	case profileCPU:
		err = pprof.StartCPUProfile(f)
		r.stop = func() error {
			pprof.StopCPUProfile()
			return f.Close()
		}
	case profileFG:
		stopFG := fgprof.Start(f, fgprof.FormatPprof)
		r.stop = func() error { return errors.Join(stopFG(), f.Close()) }
	case profileTrace:
		err = trace.Start(f)
		r.stop = func() error {
			trace.Stop()
			return f.Close()
		}
	}
	if err != nil {
		_ = f.Close()
		return err
	}
	return nil
}

// finish stops the continuous profile and snapshots heap and allocations.
func (r *recorder) finish() error {
	if err := r.stop(); err != nil {
		return err
	}
	runtime.GC()
	for _, name := range []string{"heap", "allocs"} {
		f, err := r.create(name, "pprof")
		if err != nil {
			return err
		}
		err = pprof.Lookup(name).WriteTo(f, 0)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return fmt.Errorf("write %s profile: %w", name, err)
		}
	}
	return nil
}

func sanitizeLabel(value string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, value)
}

func parseLogLevel(value string) (slog.Leveler, error) {
	switch strings.ToLower(value) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return nil, fmt.Errorf("unknown level %q", value)
	}
}
