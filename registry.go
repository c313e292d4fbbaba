package dockerpull

import "github.com/meigma/dockerpull/core"

// Registry performs the registry calls of a pull.
// This interface is implemented by internal/registry; WithRegistryClient
// replaces it.
type Registry = core.Registry

// Token is a pull-scoped bearer token. An empty token sends no
// Authorization header.
type Token = core.Token
