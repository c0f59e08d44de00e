package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/cairn/fingerprint"
)

// Key identifies one artifact in the cache.
type Key struct {
	Hash fingerprint.Hash
	Name string
}

// Store is a cache rooted at one directory. Several processes may share a
// root.
type Store struct {
	root    string
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time

	// sidecar reads of the same entry in flight at once share one result
	group singleflight.Group
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records counters on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock sets the time source for sidecar timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open returns a store rooted at root, creating the directory if needed.
func Open(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("open cache: empty root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	s := &Store{
		root:    root,
		logger:  zap.NewNop(),
		metrics: NewMetrics(nil),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "cache"))
	return s, nil
}

// Root returns the cache directory.
func (s *Store) Root() string { return s.root }

// EntryOption configures a single Entry.
type EntryOption func(*Entry)

// WithPathOverride stores the payload at path instead of under the root.
// The cacher extension is appended unless path already ends with it.
// Overridden entries are not hash-derived and may be overwritten.
func WithPathOverride(path string) EntryOption {
	return func(e *Entry) { e.override = path }
}

// WithExtraMetadata adds caller metadata to the sidecar.
func WithExtraMetadata(m map[string]any) EntryOption {
	return func(e *Entry) { e.extra = maps.Clone(m) }
}

// Entry is one artifact's cache location and strategy.
type Entry struct {
	store    *Store
	key      Key
	cacher   Cacher
	override string
	extra    map[string]any
}

// Entry returns the cache entry for key stored with c.
func (s *Store) Entry(key Key, c Cacher, opts ...EntryOption) *Entry {
	e := &Entry{store: s, key: key, cacher: c}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Path returns the payload location.
func (e *Entry) Path() string {
	ext := e.cacher.Extension()
	if e.override != "" {
		if ext != "" && !strings.HasSuffix(e.override, ext) {
			return e.override + ext
		}
		return e.override
	}
	name := fmt.Sprintf("%s_%s%s", e.key.Hash, safeName(e.key.Name), ext)
	return filepath.Join(e.store.root, name)
}

// Dir returns a directory path reserved for files a stage writes itself,
// such as those a FileRefCacher entry references: the payload path without
// its extension. It is not created.
func (e *Entry) Dir() string {
	return strings.TrimSuffix(e.Path(), e.cacher.Extension())
}

// MetadataPath returns the sidecar location: the payload path with its
// extension replaced by "_metadata.json".
func (e *Entry) MetadataPath() string {
	p := e.Path()
	return strings.TrimSuffix(p, e.cacher.Extension()) + "_metadata.json"
}

func (e *Entry) target() Target {
	return Target{Path: e.Path(), Name: e.key.Name, Hash: e.key.Hash}
}

// Check reports whether the entry is committed. It stats the sidecar and
// asks the cacher whether the payload exists; nothing is decoded.
func (e *Entry) Check(ctx context.Context) (bool, error) {
	ok, err := e.committed(ctx)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", e.key.Name, err)
	}
	e.store.metrics.check(ok)
	e.store.logger.Debug("cache check",
		zap.String("artifact", e.key.Name),
		zap.String("hash", e.key.Hash.Short()),
		zap.Bool("hit", ok))
	return ok, nil
}

func (e *Entry) committed(ctx context.Context) (bool, error) {
	ok, err := fileExists(e.MetadataPath())
	if err != nil || !ok {
		return false, err
	}
	return e.cacher.Exists(ctx, e.target())
}

// Save writes the payload and then the sidecar. A committed hash-derived
// entry is left untouched.
func (e *Entry) Save(ctx context.Context, v any) error {
	if e.override == "" {
		ok, err := e.committed(ctx)
		if err != nil {
			return fmt.Errorf("save %s: %w", e.key.Name, err)
		}
		if ok {
			e.store.logger.Debug("cache entry already committed",
				zap.String("artifact", e.key.Name),
				zap.String("hash", e.key.Hash.Short()))
			return nil
		}
	}

	metaPath := e.MetadataPath()
	if err := os.MkdirAll(filepath.Dir(metaPath), 0o755); err != nil {
		return fmt.Errorf("save %s: %w", e.key.Name, err)
	}

	// Uncommit first so an interrupted overwrite is never seen as a hit.
	if err := removeIfExists(metaPath); err != nil {
		return fmt.Errorf("save %s: %w", e.key.Name, err)
	}

	t := e.target()
	rec, err := e.cacher.Save(ctx, t, v)
	if err != nil {
		return fmt.Errorf("save %s: %w", e.key.Name, err)
	}

	extra := maps.Clone(e.extra)
	if extra == nil {
		extra = map[string]any{}
	}
	maps.Copy(extra, rec.Extra)

	paths := rec.Paths
	if paths == nil {
		paths = []string{}
	}

	meta := Metadata{
		CacherType:    e.cacher.Type(),
		CacherModule:  CacherModule(e.cacher),
		CacherParams:  e.cacher.Params(),
		ExtraMetadata: extra,
		ArtifactName:  e.key.Name,
		ArtifactHash:  e.key.Hash,
		Paths:         paths,
		Table:         rec.Table,
		SavedAt:       e.store.now().UTC(),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("save %s: marshal metadata: %w", e.key.Name, err)
	}
	if err := writeFileAtomic(metaPath, data, 0o644); err != nil {
		return fmt.Errorf("save %s: write metadata: %w", e.key.Name, err)
	}

	e.store.metrics.save(e.cacher.Type())
	e.store.logger.Debug("cache save",
		zap.String("artifact", e.key.Name),
		zap.String("hash", e.key.Hash.Short()),
		zap.String("cacher", e.cacher.Type()),
		zap.String("path", t.Path))
	return nil
}

// Metadata reads the sidecar. A missing sidecar is a *CacheMissError, an
// unreadable one a *CacheCorruptionError.
func (e *Entry) Metadata(_ context.Context) (*Metadata, error) {
	metaPath := e.MetadataPath()
	v, err, _ := e.store.group.Do(metaPath, func() (any, error) {
		return e.readMetadata(metaPath)
	})
	if err != nil {
		return nil, err
	}
	meta := *v.(*Metadata)
	return &meta, nil
}

func (e *Entry) readMetadata(metaPath string) (*Metadata, error) {
	data, err := os.ReadFile(metaPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &CacheMissError{Name: e.key.Name, Hash: e.key.Hash, Path: metaPath}
	}
	if err != nil {
		return nil, corrupt(e.key.Name, metaPath, "cannot read metadata", err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, corrupt(e.key.Name, metaPath, "invalid metadata", err)
	}
	return &meta, nil
}

// Load decodes the committed payload into into.
func (e *Entry) Load(ctx context.Context, into any) error {
	kind := e.cacher.Type()
	err := e.load(ctx, into)
	switch {
	case err == nil:
		e.store.metrics.load(kind, "ok")
	case IsCacheMiss(err):
		e.store.metrics.load(kind, "miss")
	case IsCacheCorruption(err):
		e.store.metrics.load(kind, "corrupt")
		e.store.logger.Warn("corrupt cache entry",
			zap.String("artifact", e.key.Name),
			zap.String("hash", e.key.Hash.Short()),
			zap.Error(err))
	default:
		e.store.metrics.load(kind, "error")
	}
	return err
}

func (e *Entry) load(ctx context.Context, into any) error {
	meta, err := e.Metadata(ctx)
	if err != nil {
		return err
	}

	t := e.target()
	if meta.CacherType != e.cacher.Type() {
		return corrupt(e.key.Name, t.Path,
			fmt.Sprintf("saved by cacher %q, loading with %q", meta.CacherType, e.cacher.Type()), nil)
	}

	ok, err := e.cacher.Exists(ctx, t)
	if err != nil {
		return fmt.Errorf("load %s: %w", e.key.Name, err)
	}
	if !ok {
		return corrupt(e.key.Name, t.Path, "payload missing", nil)
	}

	if err := e.cacher.Load(ctx, t, meta, into); err != nil {
		return corrupt(e.key.Name, t.Path, "cannot decode payload", err)
	}
	return nil
}

// Clear removes the sidecar, then the payload.
func (e *Entry) Clear(ctx context.Context) error {
	if err := removeIfExists(e.MetadataPath()); err != nil {
		return fmt.Errorf("clear %s: %w", e.key.Name, err)
	}
	if err := e.cacher.Remove(ctx, e.target()); err != nil {
		return fmt.Errorf("clear %s: %w", e.key.Name, err)
	}
	return nil
}

// CacherModule names c's concrete type as "import/path.Type".
func CacherModule(c Cacher) string {
	t := reflect.TypeOf(c)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.PkgPath() + "." + t.Name()
}

// safeName keeps artifact names from escaping the cache root.
func safeName(name string) string {
	return strings.NewReplacer("/", "_", `\`, "_").Replace(name)
}
