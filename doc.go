// Package dockerpull downloads container images from a v2 registry and
// writes them as legacy image archives that "docker load" accepts.
//
// The archive holds one directory per layer, named by a synthetic ID that
// depends on the layer digest and every layer below it. Each directory
// carries a VERSION file, a json metadata document and the uncompressed
// layer.tar. The archive root holds manifest.json, repositories and the
// raw image config.
//
// # Basic Usage
//
//	client, err := dockerpull.NewClient()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ref := dockerpull.ParseReference("alpine:3.19")
//	path, err := client.Pull(ctx, ref)
//	// path is "library_alpine.tar"
//
// # Registries
//
// By default the client talks to Docker Hub and requests an anonymous pull
// token from auth.docker.io. Other registries are selected with WithRegistry,
// WithAuthURL and WithService. An empty auth URL makes the client discover
// the token endpoint from the registry's WWW-Authenticate challenge.
//
// TLS certificates are always verified unless WithInsecureSkipVerify is set.
//
// # Progress
//
// WithProgress registers a callback that receives a ProgressEvent when a
// layer download starts, advances, completes or fails.
package dockerpull
