package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash is a hex encoded SHA-256 digest.
type Hash string

// Short returns the first 12 hex characters, for logs.
func (h Hash) Short() string {
	if len(h) > 12 {
		return string(h[:12])
	}
	return string(h)
}

func (h Hash) String() string { return string(h) }

// Domain prefixes for hashing. The version suffix allows a future algorithm
// change without colliding with existing cache entries.
const (
	DomainStage    = "cairn/stage/v1"
	DomainArtifact = "cairn/artifact/v1"
	DomainArg      = "cairn/arg/v1"
	DomainList     = "cairn/list/v1"
)

// digest computes SHA256(domain || 0x00 || data).
// The null separator keeps the domain/data boundary unambiguous.
func digest(domain string, data []byte) Hash {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return Hash(hex.EncodeToString(h.Sum(nil)))
}

// ArtifactHash derives an output artifact hash from its producing stage hash,
// its name and its position among the stage outputs.
func ArtifactHash(stage Hash, name string, index int) Hash {
	data := mustMarshal(Map{
		"stage": Str(stage),
		"name":  Str(name),
		"index": Int(index),
	})
	return digest(DomainArtifact, data)
}

// ListHash derives the hash of a list artifact from its items, in order.
func ListHash(name string, items []Hash) Hash {
	list := make(List, len(items))
	for i, h := range items {
		list[i] = Str(h)
	}
	data := mustMarshal(Map{
		"name":  Str(name),
		"items": list,
	})
	return digest(DomainList, data)
}

// mustMarshal is only used on values built from Str/Int/List/Map, which
// cannot fail to serialize.
func mustMarshal(v Value) []byte {
	data, err := MarshalCanonical(v)
	if err != nil {
		panic(err)
	}
	return data
}
