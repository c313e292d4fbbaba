// Package reference parses user-supplied image references of the form
// [namespace/]name[:tag].
package reference

import (
	"strings"

	"github.com/meigma/dockerpull/core"
)

// Parse splits s into namespace, name and tag.
//
// The namespace is everything before the first "/", defaulting to "library".
// The tag is everything after the first ":" of the remainder, defaulting to
// "latest". No character validation is done; the registry rejects bad names.
func Parse(s string) core.Reference {
	ref := core.Reference{
		Namespace: core.DefaultNamespace,
		Tag:       core.DefaultTag,
	}

	imageAndTag := s
	if ns, rest, ok := strings.Cut(s, "/"); ok {
		ref.Namespace = ns
		imageAndTag = rest
	}

	ref.Name = imageAndTag
	if name, tag, ok := strings.Cut(imageAndTag, ":"); ok {
		ref.Name = name
		ref.Tag = tag
	}

	return ref
}
