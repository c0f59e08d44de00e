package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeParts(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	var paths []string
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte(n), 0o644))
		paths = append(paths, p)
	}
	return paths
}

func TestFileRefRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := createTestCache(t)
	e := s.Entry(testKey("parts"), NewFileRefCacher())
	assert.Equal(t, filepath.Join(s.Root(), testKey("parts").Hash.String()+"_parts"), e.Dir())

	paths := writeParts(t, e.Dir(), "a.txt", "b.txt")
	require.NoError(t, e.Save(ctx, paths))

	ok, err := e.Check(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	var got []string
	require.NoError(t, e.Load(ctx, &got))
	assert.Equal(t, paths, got)

	meta, err := e.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, append([]string{e.Path()}, paths...), meta.Paths)
	assert.EqualValues(t, 2, meta.ExtraMetadata["files"])

	var one string
	assert.Error(t, e.Load(ctx, &one), "two paths do not load into a string")
}

func TestFileRefMissingFileIsNotCommitted(t *testing.T) {
	ctx := context.Background()
	s, _ := createTestCache(t)
	e := s.Entry(testKey("parts"), NewFileRefCacher())
	paths := writeParts(t, e.Dir(), "a.txt", "b.txt")
	require.NoError(t, e.Save(ctx, paths))

	require.NoError(t, os.Remove(paths[1]))
	ok, err := e.Check(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	var got []string
	assert.True(t, IsCacheCorruption(e.Load(ctx, &got)))
}

func TestFileRefSingleFile(t *testing.T) {
	ctx := context.Background()
	s, _ := createTestCache(t)
	e := s.Entry(testKey("report"), NewFileRefCacher())
	paths := writeParts(t, e.Dir(), "report.txt")
	require.NoError(t, e.Save(ctx, paths[0]))

	var got string
	require.NoError(t, e.Load(ctx, &got))
	assert.Equal(t, paths[0], got)
}

func TestFileRefRejectsMissingOnSave(t *testing.T) {
	s, _ := createTestCache(t)
	e := s.Entry(testKey("parts"), NewFileRefCacher())
	err := e.Save(context.Background(), []string{filepath.Join(e.Dir(), "nope.txt")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	err = e.Save(context.Background(), 42)
	require.Error(t, err)
}

func TestFileRefClearKeepsFiles(t *testing.T) {
	ctx := context.Background()
	s, _ := createTestCache(t)
	e := s.Entry(testKey("parts"), NewFileRefCacher())
	paths := writeParts(t, e.Dir(), "a.txt")
	require.NoError(t, e.Save(ctx, paths))

	require.NoError(t, e.Clear(ctx))
	assert.NoFileExists(t, e.Path())
	assert.FileExists(t, paths[0])
}

func TestPathRefRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := createTestCache(t)
	e := s.Entry(testKey("report"), NewPathRefCacher())
	assert.Equal(t, e.Path(), e.Dir())
	assert.Equal(t, e.Path()+"_metadata.json", e.MetadataPath())

	require.NoError(t, os.WriteFile(e.Path(), []byte("done"), 0o644))
	require.NoError(t, e.Save(ctx, e.Path()))

	var got string
	require.NoError(t, e.Load(ctx, &got))
	assert.Equal(t, e.Path(), got)

	meta, err := e.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{e.Path()}, meta.Paths)

	require.NoError(t, e.Clear(ctx))
	assert.NoFileExists(t, e.Path())
}

func TestPathRefDirectory(t *testing.T) {
	ctx := context.Background()
	s, _ := createTestCache(t)
	e := s.Entry(testKey("shards"), NewPathRefCacher())
	writeParts(t, e.Path(), "0.bin", "1.bin")
	require.NoError(t, e.Save(ctx, e.Path()+string(filepath.Separator)))

	ok, err := e.Check(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, e.Clear(ctx))
	assert.NoDirExists(t, e.Path())
}

func TestPathRefRejectsOtherPath(t *testing.T) {
	ctx := context.Background()
	s, _ := createTestCache(t)
	e := s.Entry(testKey("report"), NewPathRefCacher())

	other := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))
	err := e.Save(ctx, other)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected its output path")

	err = e.Save(ctx, e.Path())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not write")

	ok, err := e.Check(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
