package resolver

import (
	"fmt"

	"imagededup/types"
	"imagededup/utils"
)

// DeletionBlockedError reports an attempt to delete a copy with a higher
// resolution than the one being kept
type DeletionBlockedError struct {
	Keep            string
	KeepWidth       int
	KeepHeight      int
	Candidate       string
	CandidateWidth  int
	CandidateHeight int
}

func (e *DeletionBlockedError) Error() string {
	return fmt.Sprintf("deletion blocked: %s (%s) has a higher resolution than the kept file %s (%s)",
		e.Candidate, utils.FormatResolution(e.CandidateWidth, e.CandidateHeight),
		e.Keep, utils.FormatResolution(e.KeepWidth, e.KeepHeight))
}

// CheckDeletion rejects the deletion if any candidate has a strictly larger
// pixel area than keep. The first offending candidate is reported.
func CheckDeletion(keep types.ImageRecord, candidates []types.ImageRecord) error {
	for _, c := range candidates {
		if c.Area() > keep.Area() {
			return &DeletionBlockedError{
				Keep:            keep.Path,
				KeepWidth:       keep.Width,
				KeepHeight:      keep.Height,
				Candidate:       c.Path,
				CandidateWidth:  c.Width,
				CandidateHeight: c.Height,
			}
		}
	}
	return nil
}
