// Package feedhash implements stable_hash(body) (spec.md §4.2) using
// github.com/zeebo/xxh3, the non-cryptographic hash the Resinat-Resin
// node pool uses for hashing subscription payloads. Collision resistance
// against an adversary is not a requirement here — only stable,
// fast change detection across polls of the same feed body.
package feedhash

import (
	"strconv"

	"github.com/zeebo/xxh3"
)

// Stable returns a stable, hex-encoded hash of body suitable for storing
// as model.LinkState.ContentHash and comparing across polls.
func Stable(body []byte) string {
	sum := xxh3.Hash(body)
	return strconv.FormatUint(sum, 16)
}
