// Package resolver decides which copy of a duplicate group survives and
// carries out the deletion of the others.
package resolver

import (
	"strings"
	"time"

	"imagededup/logging"
	"imagededup/types"
	"imagededup/utils"
)

var log = logging.Module("resolver")

// Criteria is a set of keep preferences
type Criteria uint8

const (
	// PreferOlder favours files modified within a second of the oldest member
	PreferOlder Criteria = 1 << iota
	// PreferLarger favours files with the largest byte size
	PreferLarger
	// PreferDeeper favours files with the deepest path
	PreferDeeper
)

// olderTolerance absorbs filesystem timestamp granularity
const olderTolerance = time.Second

// Has reports whether every criterion in c is enabled
func (cr Criteria) Has(c Criteria) bool {
	return cr&c == c
}

func (cr Criteria) String() string {
	var names []string
	if cr.Has(PreferOlder) {
		names = append(names, "older")
	}
	if cr.Has(PreferLarger) {
		names = append(names, "larger")
	}
	if cr.Has(PreferDeeper) {
		names = append(names, "deeper")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// Scores gives each member one point per enabled criterion it wins
func Scores(group types.DuplicateGroup, criteria Criteria) map[string]int {
	scores := make(map[string]int, len(group.Records))
	for _, r := range group.Records {
		scores[r.Path] = 0
	}
	if len(group.Records) == 0 {
		return scores
	}

	if criteria.Has(PreferOlder) {
		oldest := group.Records[0].ModTime
		for _, r := range group.Records[1:] {
			if r.ModTime.Before(oldest) {
				oldest = r.ModTime
			}
		}
		for _, r := range group.Records {
			if r.ModTime.Sub(oldest) < olderTolerance {
				scores[r.Path]++
			}
		}
	}

	if criteria.Has(PreferLarger) {
		var largest int64
		for _, r := range group.Records {
			largest = max(largest, r.FileSize)
		}
		for _, r := range group.Records {
			if r.FileSize == largest {
				scores[r.Path]++
			}
		}
	}

	if criteria.Has(PreferDeeper) {
		deepest := 0
		for _, r := range group.Records {
			deepest = max(deepest, utils.PathDepth(r.Path))
		}
		for _, r := range group.Records {
			if utils.PathDepth(r.Path) == deepest {
				scores[r.Path]++
			}
		}
	}
	return scores
}

// Select returns the member with the strictly highest score. It returns
// false when no criteria are enabled, when the best score is zero, or when
// the best score is shared.
func Select(group types.DuplicateGroup, criteria Criteria) (string, bool) {
	if criteria == 0 {
		return "", false
	}
	scores := Scores(group, criteria)

	best, bestScore, ties := "", 0, 0
	for _, r := range group.Records {
		switch s := scores[r.Path]; {
		case s > bestScore:
			best, bestScore, ties = r.Path, s, 1
		case s == bestScore:
			ties++
		}
	}
	if bestScore == 0 || ties > 1 {
		return "", false
	}
	return best, true
}
