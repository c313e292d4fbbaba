package legacy

import (
	"encoding/json"
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/dockerpull/core"
)

// Root file names of a legacy archive.
const (
	ManifestFile     = "manifest.json"
	RepositoriesFile = "repositories"
	VersionFile      = "VERSION"
	LayerJSONFile    = "json"
	LayerTarFile     = "layer.tar"
)

// ManifestEntry is one element of manifest.json.
type ManifestEntry struct {
	Config   string
	RepoTags []string
	Layers   []string
}

// Repositories maps repository name to tag to top layer ID.
type Repositories map[string]map[string]string

// ConfigFile returns the archive name of the raw config blob.
func ConfigFile(config digest.Digest) string {
	return config.Encoded() + ".json"
}

// NewManifest builds the single-entry manifest.json content.
func NewManifest(ref core.Reference, config digest.Digest, records []core.LayerRecord) []ManifestEntry {
	layers := make([]string, 0, len(records))
	for _, r := range records {
		layers = append(layers, r.PayloadPath())
	}
	return []ManifestEntry{{
		Config:   ConfigFile(config),
		RepoTags: []string{ref.String()},
		Layers:   layers,
	}}
}

// NewRepositories builds the repositories index pointing ref's tag at tip.
func NewRepositories(ref core.Reference, tip string) Repositories {
	return Repositories{
		ref.Repository(): {ref.Tag: tip},
	}
}

// Marshal encodes any of the legacy root documents.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode legacy metadata: %w", err)
	}
	return data, nil
}
