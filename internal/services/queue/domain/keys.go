package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// ExtractKey is the deterministic key for a repository's extraction job.
// One non-terminal extraction job per repository, ever
func ExtractKey(repoID int64) string {
	return fmt.Sprintf("extract:%d", repoID)
}

// BatchKey is the deterministic key for an identity batch job. Authors must
// already be case-normalized; ordering does not matter, the member set does
func BatchKey(repoID int64, authors []string) string {
	sorted := make([]string, len(authors))
	copy(sorted, authors)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return fmt.Sprintf("resolve:%d:%s", repoID, hex.EncodeToString(sum[:8]))
}
