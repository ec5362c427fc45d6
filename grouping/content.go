package grouping

import (
	"sort"

	"imagededup/types"
)

// ByContentHash groups byte-identical files. Groups are ordered by descending
// size, then ascending hash.
func ByContentHash(records []types.ImageRecord) []types.DuplicateGroup {
	buckets := make(map[string][]types.ImageRecord)
	for _, r := range records {
		buckets[r.ContentHash] = append(buckets[r.ContentHash], r)
	}

	var groups []types.DuplicateGroup
	for hash, members := range buckets {
		if len(members) < 2 {
			continue
		}
		groups = append(groups, newGroup(Exact, hash, members))
	}

	sort.Slice(groups, func(i, j int) bool {
		if len(groups[i].Records) != len(groups[j].Records) {
			return len(groups[i].Records) > len(groups[j].Records)
		}
		return groups[i].Key < groups[j].Key
	})
	return groups
}
