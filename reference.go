package dockerpull

import (
	"github.com/meigma/dockerpull/core"
	"github.com/meigma/dockerpull/internal/reference"
)

// Reference identifies an image as namespace, name and tag.
type Reference = core.Reference

// ParseReference splits "[namespace/]name[:tag]" into a Reference.
//
// The namespace defaults to "library" and the tag to "latest". Only the first
// "/" and the first ":" are significant; nothing is validated, so an empty
// input yields a Reference with an empty Name.
func ParseReference(s string) Reference {
	return reference.Parse(s)
}

// ArchiveName returns the default archive file name for ref,
// "<namespace>_<name>.tar".
func ArchiveName(ref Reference) string {
	return ref.Namespace + "_" + ref.Name + ".tar"
}
