package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// ClusterKey derives the dedup key for a cluster from its sorted member ids.
// The key is stable under member reordering, so a retried batch that proposes
// the same cluster maps to the same key and cannot insert a second row.
func ClusterKey(memberIDs []string) string {
	sorted := make([]string, len(memberIDs))
	copy(sorted, memberIDs)
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return "dd:" + hex.EncodeToString(sum[:])
}
