package dockerpull

import "github.com/meigma/dockerpull/core"

// PathValidator validates archive member names before they are packed.
// This interface is implemented by internal/safepath.
type PathValidator = core.PathValidator
