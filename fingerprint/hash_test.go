package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigestKnownVector(t *testing.T) {
	// sha256("cairn/arg/v1" || 0x00 || "3")
	assert.Equal(t,
		Hash("d622ad080dd224e39f1a268b56718f5d87457f0e6b6323f43e67156409e810c8"),
		digest(DomainArg, []byte("3")))
}

func TestDigestDomainSeparation(t *testing.T) {
	data := []byte(`{"a":1}`)
	assert.NotEqual(t, digest(DomainStage, data), digest(DomainArtifact, data))
}

func TestArtifactHashKnownVector(t *testing.T) {
	assert.Equal(t,
		Hash("846d4dede1f534aedc3cfe041a4cd5318688922f6b2d7c4b52d22b2eb4d07434"),
		ArtifactHash("abc", "out", 0))
}

func TestArtifactHashChangesWithInputs(t *testing.T) {
	base := ArtifactHash("abc", "out", 0)

	assert.NotEqual(t, base, ArtifactHash("abd", "out", 0), "stage hash")
	assert.NotEqual(t, base, ArtifactHash("abc", "out2", 0), "name")
	assert.NotEqual(t, base, ArtifactHash("abc", "out", 1), "position")
	assert.Equal(t, base, ArtifactHash("abc", "out", 0))
}

func TestListHash(t *testing.T) {
	h := ListHash("parts", []Hash{"h1", "h2"})
	assert.Equal(t, Hash("f7ecf548be43de833f3f7bc691407b56475b6745b966f814e5ab76608a6f53b5"), h)
	assert.NotEqual(t, h, ListHash("parts", []Hash{"h2", "h1"}), "order matters")
}

func TestHashShort(t *testing.T) {
	h := Hash("846d4dede1f534aedc3cfe041a4cd5318688922f6b2d7c4b52d22b2eb4d07434")
	assert.Equal(t, "846d4dede1f5", h.Short())
	assert.Equal(t, "abc", Hash("abc").Short())
}
