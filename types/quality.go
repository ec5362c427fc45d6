package types

import "sort"

// QualityScore ranks a copy of an image. Resolution dominates, file size is a
// secondary signal and sharpness breaks near ties.
func QualityScore(width, height int, fileSize int64, sharpness float64) float64 {
	megapixels := float64(width) * float64(height) / 1_000_000
	return 10*megapixels + float64(fileSize)/1_000_000 + sharpness/100
}

// SortByQuality orders records by descending quality score, then ascending path
func SortByQuality(records []ImageRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].QualityScore != records[j].QualityScore {
			return records[i].QualityScore > records[j].QualityScore
		}
		return records[i].Path < records[j].Path
	})
}
