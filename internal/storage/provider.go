// Package storage defines the output directory abstraction.
package storage

import "github.com/starford/assetforge/internal/models"

// Provider is the interface for output file operations. Paths may be
// absolute (inside the root) or relative to the root.
type Provider interface {
	// Root returns the absolute output directory.
	Root() string
	// List returns metadata for every file under dir.
	List(dir string) ([]models.OutputFile, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path, creating parent directories.
	Write(path string, content []byte) error
	// Delete removes the file at path. A missing file is not an error.
	Delete(path string) error
}
