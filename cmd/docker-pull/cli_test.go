package main_test

import (
	"net/http"
	"os"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"

	"github.com/meigma/dockerpull/cmd/docker-pull/cli"
	"github.com/meigma/dockerpull/internal/testutil"
)

func TestMain(m *testing.M) {
	// Run tests with docker-pull command available
	os.Exit(testscript.RunMain(m, map[string]func() int{
		"docker-pull": func() int {
			if err := cli.Execute(); err != nil {
				return 1
			}
			return 0
		},
	}))
}

func TestCLI(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir: "testdata/script",
		Setup: func(env *testscript.Env) error {
			// Each script gets its own registry. library/broken fails its
			// only layer with a registry error body.
			broken := testutil.SimpleImage("library/broken", "latest", 1)
			reg := testutil.NewRegistry(
				testutil.SimpleImage("library/busybox", "latest", 2),
				testutil.SimpleImage("team/app", "v1", 3),
				broken,
			)
			reg.FailBlob(broken.Repository, broken.Layers[0].Digest(), http.StatusInternalServerError,
				`{"errors":[{"code":"UNKNOWN","message":"storage backend unavailable"}]}`)
			env.Defer(reg.Close)

			env.Setenv("REGISTRY", reg.Host())
			// testscript sets HOME=/no-home; keep config lookups inside
			// the work directory.
			env.Setenv("XDG_CONFIG_HOME", env.WorkDir+"/.config")
			return nil
		},
	})
}
