// Package storage defines the artifact file-system abstraction.
package storage

import "github.com/starford/tracemark/internal/models"

// Provider is the interface for artifact file operations. All paths are
// relative to the provider root.
type Provider interface {
	// List returns metadata for every image artifact under dir.
	List(dir string) ([]models.ArtifactMetadata, error)
	// Read returns the raw bytes of the artifact at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path, creating parent directories.
	Write(path string, content []byte) error
	// Exists reports whether a file is present at path.
	Exists(path string) (bool, error)
	// Delete removes the artifact at path.
	Delete(path string) error
}
