// Package models defines plain data types shared across packages.
package models

import "time"

// OutputFile describes one file present in the output directory.
type OutputFile struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AssetView is a read-only projection of a cached asset.
type AssetView struct {
	Path              string         `json:"path"`
	IsFolder          bool           `json:"is_folder"`
	Parent            string         `json:"parent,omitempty"`
	TransformParent   string         `json:"transform_parent,omitempty"`
	Hash              string         `json:"hash,omitempty"`
	MetaData          map[string]any `json:"metadata,omitempty"`
	InheritedMetaData map[string]any `json:"inherited_metadata,omitempty"`
	TransformData     map[string]any `json:"transform_data,omitempty"`
	Outputs           []string       `json:"outputs,omitempty"`
	LastRun           *RunStats      `json:"last_run,omitempty"`
}

// RunStats mirrors the outcome of an asset's last transform.
type RunStats struct {
	Date       time.Time `json:"date"`
	DurationMS int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}
