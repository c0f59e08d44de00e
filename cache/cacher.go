package cache

import (
	"context"
	"time"

	"github.com/roach88/cairn/fingerprint"
)

// Target identifies where a cacher reads and writes one entry.
type Target struct {
	// Path is the payload location, extension included. Cachers that do not
	// write files may ignore it.
	Path string
	Name string
	Hash fingerprint.Hash
}

// Record is what a cacher reports about a payload it saved. It ends up in
// the sidecar.
type Record struct {
	Paths []string
	Table *TableInfo
	Extra map[string]any
}

// Cacher is a serialization strategy for one artifact.
//
// Save and Load are only called by Entry, which handles the sidecar. Save
// must not leave a partially written payload at t.Path.
type Cacher interface {
	// Type names the strategy in the sidecar ("json", "csv", ...).
	Type() string

	// Extension is appended to the payload path, including the dot.
	Extension() string

	// Params is the strategy configuration recorded with every entry.
	Params() map[string]any

	Save(ctx context.Context, t Target, v any) (Record, error)
	Load(ctx context.Context, t Target, meta *Metadata, into any) error
	Exists(ctx context.Context, t Target) (bool, error)
	Remove(ctx context.Context, t Target) error
}

// Metadata is the sidecar written next to every committed entry.
type Metadata struct {
	CacherType    string           `json:"cacher_type"`
	CacherModule  string           `json:"cacher_module"`
	CacherParams  map[string]any   `json:"cacher_params"`
	ExtraMetadata map[string]any   `json:"cacher_extra_metadata"`
	ArtifactName  string           `json:"artifact_name"`
	ArtifactHash  fingerprint.Hash `json:"artifact_hash"`
	Paths         []string         `json:"paths"`
	Table         *TableInfo       `json:"table,omitempty"`
	SavedAt       time.Time        `json:"saved_at"`
}

// TableInfo is the schema and size of a saved Table, checked on load.
type TableInfo struct {
	Columns []Column `json:"columns"`
	Rows    int      `json:"rows"`
}
