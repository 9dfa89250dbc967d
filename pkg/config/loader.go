// Package config loads and validates the dirsync server configuration. The
// manifest file describes the replication domains the server hosts: where
// each domain's changelog lives, how large its head file may grow before
// rotation, and how long changes are retained before age-based purging.
//
// All paths are normalized into absolute, cleaned form so the rest of the
// application can rely on a consistent layout.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// LoadManifest parses and normalizes a manifest file from disk. Relative
// paths inside the manifest resolve against the manifest's own directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read manifest %q: %w", path, err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("config: decode manifest %q: %w", path, err)
	}

	base := filepath.Dir(path)
	manifest.Domains, err = normalizeDomains(base, manifest.Domains)
	if err != nil {
		return nil, err
	}
	manifest.StatePath, err = normalizePath(base, manifest.StatePath)
	if err != nil {
		return nil, err
	}
	manifest.LogPath, err = normalizePath(base, manifest.LogPath)
	if err != nil {
		return nil, err
	}

	return &manifest, nil
}

// BuildManifestFromArgs creates a manifest for ad-hoc CLI use from a list of
// domains whose relative changelog directories resolve against basePath.
func BuildManifestFromArgs(basePath string, domains []Domain) (*Manifest, error) {
	normalized, err := normalizeDomains(basePath, domains)
	if err != nil {
		return nil, err
	}
	return &Manifest{Domains: normalized}, nil
}
