package grouping

import (
	"imagededup/imagehash"
	"imagededup/types"
)

// ByPerceptualHash clusters records greedily around seeds. The seed is the
// last unclustered record; every remaining record within threshold bits of
// the seed joins its cluster. Membership is measured against the seed only,
// so two members may be further than threshold apart.
func ByPerceptualHash(records []types.ImageRecord, threshold int) []types.DuplicateGroup {
	remaining := make([]types.ImageRecord, len(records))
	copy(remaining, records)

	var groups []types.DuplicateGroup
	for len(remaining) > 0 {
		seed := remaining[len(remaining)-1]
		remaining = remaining[:len(remaining)-1]

		cluster := []types.ImageRecord{seed}
		rest := remaining[:0]
		for _, r := range remaining {
			if imagehash.HammingDistance(seed.PerceptualHash, r.PerceptualHash) <= threshold {
				cluster = append(cluster, r)
			} else {
				rest = append(rest, r)
			}
		}
		remaining = rest

		if len(cluster) >= 2 {
			groups = append(groups, newGroup(Perceptual, imagehash.Format(seed.PerceptualHash), cluster))
		}
	}

	sortClusters(groups)
	return groups
}
