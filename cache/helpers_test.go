package cache

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cairn/fingerprint"
)

var fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type sample struct {
	Name   string            `json:"name" yaml:"name"`
	Values []int             `json:"values" yaml:"values"`
	Labels map[string]string `json:"labels" yaml:"labels"`
}

func testSample() sample {
	return sample{
		Name:   "iris",
		Values: []int{3, 1, 2},
		Labels: map[string]string{"split": "train", "source": "<csv>"},
	}
}

// createTestCache opens a store in a temp dir with a fixed clock and its
// own metrics registry.
func createTestCache(t *testing.T) (*Store, *Metrics) {
	t.Helper()
	m := NewMetrics(prometheus.NewRegistry())
	s, err := Open(t.TempDir(), WithClock(func() time.Time { return fixedNow }), WithMetrics(m))
	require.NoError(t, err)
	return s, m
}

func testKey(name string) Key {
	return Key{Hash: fingerprint.ArtifactHash("stage", name, 0), Name: name}
}

func testTable(t *testing.T) *Table {
	t.Helper()
	tbl := NewTable(
		Column{Name: "id", Type: ColInt},
		Column{Name: "species", Type: ColString},
		Column{Name: "length", Type: ColFloat},
		Column{Name: "valid", Type: ColBool},
	)
	require.NoError(t, tbl.Append(1, "setosa", 5.1, true))
	require.NoError(t, tbl.Append(int64(2), "versicolor, \"big\"", 7.0, false))
	require.NoError(t, tbl.Append(int32(3), "", float32(0.5), true))
	return tbl
}
