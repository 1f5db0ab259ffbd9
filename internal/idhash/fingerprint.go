package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// ComputeFingerprint computes a deterministic key for a set of signal names.
// Formula: SHA256(sorted(signals) joined by "|")
// Order and duplicates in the input do not affect the result.
// Returns hex-encoded hash (64 characters).
func ComputeFingerprint(signals []string) string {
	set := make(map[string]struct{}, len(signals))
	for _, s := range signals {
		set[s] = struct{}{}
	}
	sorted := make([]string, 0, len(set))
	for s := range set {
		sorted = append(sorted, s)
	}
	sort.Strings(sorted)

	hash := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return hex.EncodeToString(hash[:])
}
