// Command docker-pull downloads an image from a v2 registry and writes it as
// a tar archive that "docker load" accepts, without a Docker daemon.
package main

import (
	"os"

	"github.com/meigma/dockerpull/cmd/docker-pull/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
