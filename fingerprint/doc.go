// Package fingerprint computes stable content hashes for stage invocations
// and the artifacts they produce.
//
// A stage fingerprint is derived from three things only:
//   - the stage identity (function name and module)
//   - the resolved argument values, after default substitution
//   - the hashes of upstream artifacts consumed as arguments
//
// Upstream artifacts contribute their hash, never their payload, so a cache
// hit upstream propagates downstream without recomputation.
//
// # Canonicalization
//
// Argument values are converted to a small sealed value model (Str, Int,
// Bool, Float, List, Map, Ref) and serialized as canonical JSON:
//   - object keys sorted by UTF-16 code units (RFC 8785)
//   - strings NFC normalized, no HTML escaping
//   - maps are order independent, slices keep their order
//
// Floats, time.Time and random sources are excluded from the hash unless the
// argument is marked HashInclude. A value whose type has no canonicalization
// rule is a HashingError, never silently skipped.
//
// All digests are SHA-256 with domain separation, hex encoded.
package fingerprint
