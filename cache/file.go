package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"

	"gopkg.in/yaml.v3"
)

// Codec encodes and decodes a whole value to a byte stream.
type Codec interface {
	Encode(w io.Writer, v any) error
	Decode(r io.Reader, into any) error
}

// FileCacher stores a value as a single file using a Codec. It is the base
// for the structured-text and binary strategies and for custom codecs.
type FileCacher struct {
	kind   string
	ext    string
	codec  Codec
	params map[string]any
}

// NewFileCacher returns a cacher named kind that writes files with
// extension ext (".json") through codec.
func NewFileCacher(kind, ext string, codec Codec) *FileCacher {
	return &FileCacher{kind: kind, ext: ext, codec: codec, params: map[string]any{}}
}

// NewJSONCacher stores values as indented JSON.
func NewJSONCacher() *FileCacher {
	return NewFileCacher("json", ".json", jsonCodec{})
}

// NewYAMLCacher stores values as YAML. Unknown struct fields fail the load.
func NewYAMLCacher() *FileCacher {
	return NewFileCacher("yaml", ".yaml", yamlCodec{})
}

// NewGobCacher stores an arbitrary Go value snapshot with encoding/gob.
// Interface-typed fields need their concrete types registered with
// gob.Register by the caller.
func NewGobCacher() *FileCacher {
	return NewFileCacher("gob", ".gob", gobCodec{})
}

func (c *FileCacher) Type() string           { return c.kind }
func (c *FileCacher) Extension() string      { return c.ext }
func (c *FileCacher) Params() map[string]any { return maps.Clone(c.params) }

func (c *FileCacher) Save(_ context.Context, t Target, v any) (Record, error) {
	var buf bytes.Buffer
	if err := c.codec.Encode(&buf, v); err != nil {
		return Record{}, fmt.Errorf("encode %s: %w", c.kind, err)
	}
	if err := writeFileAtomic(t.Path, buf.Bytes(), 0o644); err != nil {
		return Record{}, fmt.Errorf("write %s: %w", t.Path, err)
	}
	return Record{Paths: []string{t.Path}}, nil
}

func (c *FileCacher) Load(_ context.Context, t Target, _ *Metadata, into any) error {
	f, err := os.Open(t.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := c.codec.Decode(f, into); err != nil {
		return fmt.Errorf("decode %s: %w", c.kind, err)
	}
	return nil
}

func (c *FileCacher) Exists(_ context.Context, t Target) (bool, error) {
	return fileExists(t.Path)
}

func (c *FileCacher) Remove(_ context.Context, t Target) error {
	return removeIfExists(t.Path)
}

type jsonCodec struct{}

func (jsonCodec) Encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (jsonCodec) Decode(r io.Reader, into any) error {
	return json.NewDecoder(r).Decode(into)
}

type yamlCodec struct{}

func (yamlCodec) Encode(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func (yamlCodec) Decode(r io.Reader, into any) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	return dec.Decode(into)
}

type gobCodec struct{}

func (gobCodec) Encode(w io.Writer, v any) error {
	return gob.NewEncoder(w).Encode(v)
}

func (gobCodec) Decode(r io.Reader, into any) error {
	return gob.NewDecoder(r).Decode(into)
}
