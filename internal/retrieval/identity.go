package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeQuery lower-cases q and collapses whitespace runs, so trivially
// different phrasings of the same context map to one association.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// AssociationID derives the learned index ID for a (query, capability) pair.
func AssociationID(query, capability string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(query) + "\x00" + capability))
	return "learned:" + hex.EncodeToString(sum[:])
}

// StaticID derives the static index ID for a capability.
func StaticID(capability string) string {
	return "static:" + capability
}
