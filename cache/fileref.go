package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileRefCacher stores the paths of files a stage wrote itself, as a JSON
// list. An entry exists only while every referenced file does. The files
// are not removed with the entry.
type FileRefCacher struct{}

// NewFileRefCacher returns the file reference strategy. The saved value is
// a path or a slice of paths.
func NewFileRefCacher() *FileRefCacher { return &FileRefCacher{} }

func (*FileRefCacher) Type() string           { return "file_ref" }
func (*FileRefCacher) Extension() string      { return ".json" }
func (*FileRefCacher) Params() map[string]any { return map[string]any{} }

func (*FileRefCacher) Save(_ context.Context, t Target, v any) (Record, error) {
	var refs []string
	switch p := v.(type) {
	case string:
		refs = []string{p}
	case []string:
		refs = p
	default:
		return Record{}, fmt.Errorf("file reference cacher stores a path or []string, got %T", v)
	}
	for _, ref := range refs {
		ok, err := fileExists(ref)
		if err != nil {
			return Record{}, err
		}
		if !ok {
			return Record{}, fmt.Errorf("referenced file %s does not exist", ref)
		}
	}

	data, err := json.MarshalIndent(refs, "", "  ")
	if err != nil {
		return Record{}, err
	}
	if err := writeFileAtomic(t.Path, data, 0o644); err != nil {
		return Record{}, fmt.Errorf("write %s: %w", t.Path, err)
	}
	return Record{
		Paths: append([]string{t.Path}, refs...),
		Extra: map[string]any{"files": len(refs)},
	}, nil
}

// Load reads the path list into a *[]string, or into a *string when exactly
// one path was saved.
func (c *FileRefCacher) Load(_ context.Context, t Target, _ *Metadata, into any) error {
	refs, err := c.refs(t)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		ok, err := fileExists(ref)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("referenced file %s is missing", ref)
		}
	}

	switch dst := into.(type) {
	case *[]string:
		*dst = refs
	case *string:
		if len(refs) != 1 {
			return fmt.Errorf("%d paths saved, cannot load into *string", len(refs))
		}
		*dst = refs[0]
	case *any:
		*dst = refs
	default:
		return fmt.Errorf("file reference cacher loads into *[]string or *string, got %T", into)
	}
	return nil
}

// Exists reports whether the path list and every file it names exist.
func (c *FileRefCacher) Exists(_ context.Context, t Target) (bool, error) {
	ok, err := fileExists(t.Path)
	if err != nil || !ok {
		return false, err
	}
	refs, err := c.refs(t)
	if err != nil {
		return false, nil
	}
	for _, ref := range refs {
		if ok, err := fileExists(ref); err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (*FileRefCacher) Remove(_ context.Context, t Target) error {
	return removeIfExists(t.Path)
}

func (*FileRefCacher) refs(t Target) ([]string, error) {
	data, err := os.ReadFile(t.Path)
	if err != nil {
		return nil, err
	}
	var refs []string
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil, fmt.Errorf("decode path list: %w", err)
	}
	return refs, nil
}

// PathRefCacher stores nothing: the payload path is the file or directory
// the stage wrote, and the saved value must be that path. Look the path up
// before computing with Entry.Path (or the pipeline's output lookup).
type PathRefCacher struct{}

// NewPathRefCacher returns the path reference strategy.
func NewPathRefCacher() *PathRefCacher { return &PathRefCacher{} }

func (*PathRefCacher) Type() string           { return "path_ref" }
func (*PathRefCacher) Extension() string      { return "" }
func (*PathRefCacher) Params() map[string]any { return map[string]any{} }

func (*PathRefCacher) Save(_ context.Context, t Target, v any) (Record, error) {
	p, ok := v.(string)
	if !ok {
		return Record{}, fmt.Errorf("path reference cacher stores the payload path, got %T", v)
	}
	if filepath.Clean(p) != filepath.Clean(t.Path) {
		return Record{}, fmt.Errorf("stage returned %s, expected its output path %s", p, t.Path)
	}
	exists, err := fileExists(t.Path)
	if err != nil {
		return Record{}, err
	}
	if !exists {
		return Record{}, fmt.Errorf("stage did not write %s", t.Path)
	}
	return Record{Paths: []string{t.Path}}, nil
}

// Load sets a *string (or *any) to the payload path.
func (*PathRefCacher) Load(_ context.Context, t Target, _ *Metadata, into any) error {
	switch dst := into.(type) {
	case *string:
		*dst = t.Path
	case *any:
		*dst = t.Path
	default:
		return fmt.Errorf("path reference cacher loads into *string, got %T", into)
	}
	return nil
}

func (*PathRefCacher) Exists(_ context.Context, t Target) (bool, error) {
	return fileExists(t.Path)
}

// Remove deletes the referenced file or directory.
func (*PathRefCacher) Remove(_ context.Context, t Target) error {
	return os.RemoveAll(t.Path)
}
