// Package cache stores computed artifacts on disk, keyed by fingerprint.
//
// Every entry is a payload written by a Cacher plus a JSON sidecar:
//
//	{root}/{hash}_{name}{ext}
//	{root}/{hash}_{name}_metadata.json
//
// The sidecar is written last and is the commit marker: an entry without a
// sidecar is not cached, whatever payload files exist. Both files are written
// to a temporary name and renamed into place, so concurrent readers in other
// processes never observe a partial write.
//
// Entries whose path derives from the hash are immutable once committed. A
// second Save of the same entry is a no-op. Entries with a path override
// (shared by fixed name across runs) are overwritten.
//
// Check only stats files. Load distinguishes a miss (no sidecar) from
// corruption (sidecar present but the payload is missing, unreadable or does
// not match the recorded cacher or table schema).
package cache
