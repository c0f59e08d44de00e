package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
)

// MetadataOnlyCacher keeps no payload: the saved value is a small map kept
// in the sidecar's extra metadata. Useful for stages whose real output is a
// side effect tracked elsewhere.
type MetadataOnlyCacher struct{}

// NewMetadataOnlyCacher returns the sidecar-only strategy.
func NewMetadataOnlyCacher() *MetadataOnlyCacher { return &MetadataOnlyCacher{} }

func (*MetadataOnlyCacher) Type() string           { return "metadata_only" }
func (*MetadataOnlyCacher) Extension() string      { return "" }
func (*MetadataOnlyCacher) Params() map[string]any { return map[string]any{} }

func (*MetadataOnlyCacher) Save(_ context.Context, _ Target, v any) (Record, error) {
	switch m := v.(type) {
	case nil:
		return Record{}, nil
	case map[string]any:
		return Record{Extra: maps.Clone(m)}, nil
	}
	return Record{}, fmt.Errorf("metadata-only cacher stores map[string]any, got %T", v)
}

// Load decodes the sidecar's extra metadata into into.
func (*MetadataOnlyCacher) Load(_ context.Context, _ Target, meta *Metadata, into any) error {
	data, err := json.Marshal(meta.ExtraMetadata)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, into)
}

func (*MetadataOnlyCacher) Exists(context.Context, Target) (bool, error) { return true, nil }
func (*MetadataOnlyCacher) Remove(context.Context, Target) error         { return nil }
