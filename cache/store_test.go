package cache

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryPaths(t *testing.T) {
	s, _ := createTestCache(t)
	key := Key{Hash: "abc123", Name: "data"}

	e := s.Entry(key, NewJSONCacher())
	assert.Equal(t, filepath.Join(s.Root(), "abc123_data.json"), e.Path())
	assert.Equal(t, filepath.Join(s.Root(), "abc123_data_metadata.json"), e.MetadataPath())

	e = s.Entry(key, NewJSONCacher(), WithPathOverride("/shared/latest"))
	assert.Equal(t, "/shared/latest.json", e.Path())
	assert.Equal(t, "/shared/latest_metadata.json", e.MetadataPath())

	e = s.Entry(key, NewJSONCacher(), WithPathOverride("/shared/latest.json"))
	assert.Equal(t, "/shared/latest.json", e.Path(), "extension not doubled")

	e = s.Entry(key, NewMetadataOnlyCacher())
	assert.Equal(t, filepath.Join(s.Root(), "abc123_data_metadata.json"), e.MetadataPath())

	e = s.Entry(Key{Hash: "abc123", Name: "a/b"}, NewJSONCacher())
	assert.Equal(t, filepath.Join(s.Root(), "abc123_a_b.json"), e.Path())
}

func TestCheckBeforeAndAfterSave(t *testing.T) {
	s, m := createTestCache(t)
	ctx := context.Background()
	e := s.Entry(testKey("data"), NewJSONCacher())

	ok, err := e.Check(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, e.Save(ctx, testSample()))

	ok, err = e.Check(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.checks.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checks.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.saves.WithLabelValues("json")))
}

func TestCheckPersistsAcrossReopen(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	s1, err := Open(root)
	require.NoError(t, err)
	require.NoError(t, s1.Entry(testKey("data"), NewGobCacher()).Save(ctx, testSample()))

	s2, err := Open(root)
	require.NoError(t, err)
	ok, err := s2.Entry(testKey("data"), NewGobCacher()).Check(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckIgnoresUncommittedPayload(t *testing.T) {
	s, _ := createTestCache(t)
	ctx := context.Background()
	e := s.Entry(testKey("data"), NewJSONCacher())

	// A payload without a sidecar is what a crash between the two writes
	// leaves behind.
	require.NoError(t, os.WriteFile(e.Path(), []byte(`{"name":"partial"}`), 0o644))

	ok, err := e.Check(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	err = e.Load(ctx, &sample{})
	assert.True(t, IsCacheMiss(err))
}

func TestCheckMissingPayload(t *testing.T) {
	s, _ := createTestCache(t)
	ctx := context.Background()
	e := s.Entry(testKey("data"), NewJSONCacher())
	require.NoError(t, e.Save(ctx, testSample()))
	require.NoError(t, os.Remove(e.Path()))

	ok, err := e.Check(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	err = e.Load(ctx, &sample{})
	require.Error(t, err)
	assert.True(t, IsCacheCorruption(err))
	assert.Contains(t, err.Error(), "payload missing")
}

func TestSaveCommittedEntryIsImmutable(t *testing.T) {
	s, _ := createTestCache(t)
	ctx := context.Background()
	e := s.Entry(testKey("data"), NewJSONCacher())

	require.NoError(t, e.Save(ctx, testSample()))
	other := testSample()
	other.Name = "changed"
	require.NoError(t, e.Save(ctx, other))

	var got sample
	require.NoError(t, e.Load(ctx, &got))
	assert.Equal(t, "iris", got.Name)
}

func TestSaveOverrideOverwrites(t *testing.T) {
	s, _ := createTestCache(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "latest")

	first := s.Entry(testKey("data"), NewJSONCacher(), WithPathOverride(path))
	require.NoError(t, first.Save(ctx, testSample()))

	other := testSample()
	other.Name = "changed"
	second := s.Entry(testKey("other"), NewJSONCacher(), WithPathOverride(path))
	require.NoError(t, second.Save(ctx, other))

	var got sample
	require.NoError(t, first.Load(ctx, &got))
	assert.Equal(t, "changed", got.Name)
}

func TestLoadMiss(t *testing.T) {
	s, m := createTestCache(t)
	e := s.Entry(testKey("never"), NewJSONCacher())

	err := e.Load(context.Background(), &sample{})
	require.Error(t, err)

	var miss *CacheMissError
	require.ErrorAs(t, err, &miss)
	assert.Equal(t, "never", miss.Name)
	assert.False(t, IsCacheCorruption(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loads.WithLabelValues("json", "miss")))
}

func TestLoadCorruption(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		damage func(t *testing.T, e *Entry)
		reason string
	}{
		{
			name: "invalid sidecar",
			damage: func(t *testing.T, e *Entry) {
				require.NoError(t, os.WriteFile(e.MetadataPath(), []byte("{not json"), 0o644))
			},
			reason: "invalid metadata",
		},
		{
			name: "truncated payload",
			damage: func(t *testing.T, e *Entry) {
				require.NoError(t, os.WriteFile(e.Path(), []byte(`{"name": "ir`), 0o644))
			},
			reason: "cannot decode payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, m := createTestCache(t)
			e := s.Entry(testKey("data"), NewJSONCacher())
			require.NoError(t, e.Save(ctx, testSample()))
			tt.damage(t, e)

			err := e.Load(ctx, &sample{})
			require.Error(t, err)

			var ce *CacheCorruptionError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.reason, ce.Reason)
			assert.False(t, IsCacheMiss(err))
			assert.Equal(t, 1.0, testutil.ToFloat64(m.loads.WithLabelValues("json", "corrupt")))
		})
	}
}

func TestLoadWithDifferentCacher(t *testing.T) {
	s, _ := createTestCache(t)
	ctx := context.Background()
	key := Key{Hash: "abc123", Name: "data"}

	require.NoError(t, s.Entry(key, NewJSONCacher()).Save(ctx, testSample()))

	other := NewFileCacher("json-compact", ".json", jsonCodec{})
	err := s.Entry(key, other).Load(ctx, &sample{})
	require.Error(t, err)
	assert.True(t, IsCacheCorruption(err))
	assert.Contains(t, err.Error(), `saved by cacher "json"`)
}

func TestClear(t *testing.T) {
	s, _ := createTestCache(t)
	ctx := context.Background()
	e := s.Entry(testKey("data"), NewYAMLCacher())
	require.NoError(t, e.Save(ctx, testSample()))

	require.NoError(t, e.Clear(ctx))

	ok, err := e.Check(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoFileExists(t, e.Path())
	assert.NoFileExists(t, e.MetadataPath())

	require.NoError(t, e.Clear(ctx), "clearing twice is fine")
}

func TestSidecarGolden(t *testing.T) {
	s, _ := createTestCache(t)
	ctx := context.Background()
	e := s.Entry(Key{Hash: "abc123", Name: "data"}, NewJSONCacher(), WithExtraMetadata(map[string]any{"note": "x"}))
	require.NoError(t, e.Save(ctx, testSample()))

	data, err := os.ReadFile(e.MetadataPath())
	require.NoError(t, err)
	data = bytes.ReplaceAll(data, []byte(s.Root()), []byte("$ROOT"))

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "sidecar_json", data)

	meta, err := e.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, meta.SavedAt)
	assert.Equal(t, "x", meta.ExtraMetadata["note"])
}

func TestConcurrentLoads(t *testing.T) {
	s, _ := createTestCache(t)
	ctx := context.Background()
	e := s.Entry(testKey("data"), NewJSONCacher())
	require.NoError(t, e.Save(ctx, testSample()))

	var wg sync.WaitGroup
	results := make([]sample, 16)
	errs := make([]error, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Entry(testKey("data"), NewJSONCacher()).Load(ctx, &results[i])
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, testSample(), results[i])
	}
}
