package resolver

import (
	"context"
	"errors"
	"fmt"

	"imagededup/types"
)

// ErrInvalidTransition is returned when a session action is not allowed in
// the current state
var ErrInvalidTransition = errors.New("invalid resolution transition")

// State of a group resolution
type State int

const (
	Presented State = iota
	AutoSelected
	NoWinner
	UserSelected
	DeletionRequested
	Blocked
	Confirmed
	Resolved
)

var stateNames = [...]string{
	Presented:         "presented",
	AutoSelected:      "auto-selected",
	NoWinner:          "no-winner",
	UserSelected:      "user-selected",
	DeletionRequested: "deletion-requested",
	Blocked:           "blocked",
	Confirmed:         "confirmed",
	Resolved:          "resolved",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session walks one group from presentation to resolution:
//
//	Presented → AutoSelected | NoWinner | UserSelected
//	→ DeletionRequested → Blocked | Confirmed → Resolved
//
// Blocked returns to selection; Ignore resolves from any open state.
type Session struct {
	Group    types.DuplicateGroup
	Criteria Criteria

	state   State
	keep    string
	blocked error
}

// NewSession presents group
func NewSession(group types.DuplicateGroup, criteria Criteria) *Session {
	return &Session{Group: group, Criteria: criteria, state: Presented}
}

// State returns the current state
func (s *Session) State() State { return s.state }

// Keep returns the selected keep path, if any
func (s *Session) Keep() string { return s.keep }

// BlockedBy returns the error that blocked the last deletion request
func (s *Session) BlockedBy() error { return s.blocked }

func (s *Session) transitionErr(action string) error {
	return fmt.Errorf("%w: cannot %s in state %s", ErrInvalidTransition, action, s.state)
}

// AutoSelect applies the criteria to a freshly presented group
func (s *Session) AutoSelect() (string, bool) {
	if s.state != Presented {
		return s.keep, s.state == AutoSelected
	}
	if keep, ok := Select(s.Group, s.Criteria); ok {
		s.keep, s.state = keep, AutoSelected
		return keep, true
	}
	s.state = NoWinner
	return "", false
}

// Choose records the user's keep choice
func (s *Session) Choose(path string) error {
	switch s.state {
	case Presented, AutoSelected, NoWinner, UserSelected, Blocked:
	default:
		return s.transitionErr("choose")
	}
	if _, ok := s.Group.Find(path); !ok {
		return fmt.Errorf("%w: %s", ErrKeepNotInGroup, path)
	}
	s.keep, s.state, s.blocked = path, UserSelected, nil
	return nil
}

// RequestDeletion checks the resolution invariant for the chosen keep. On
// violation the session is Blocked and the DeletionBlockedError is returned.
func (s *Session) RequestDeletion() error {
	if s.state != AutoSelected && s.state != UserSelected {
		return s.transitionErr("request deletion")
	}
	s.state = DeletionRequested

	keep, _ := s.Group.Find(s.keep)
	var candidates []types.ImageRecord
	for _, r := range s.Group.Records {
		if r.Path != s.keep {
			candidates = append(candidates, r)
		}
	}
	if err := CheckDeletion(keep, candidates); err != nil {
		s.state, s.blocked = Blocked, err
		return err
	}
	s.state = Confirmed
	return nil
}

// Execute performs the confirmed deletion
func (s *Session) Execute(ctx context.Context, r *Resolver) (DeleteReport, error) {
	if s.state != Confirmed {
		return DeleteReport{}, s.transitionErr("execute")
	}
	report, err := r.Delete(ctx, s.Group, s.keep)
	if err != nil {
		return report, err
	}
	s.state = Resolved
	return report, nil
}

// Ignore dismisses the group without deleting files
func (s *Session) Ignore(ctx context.Context, r *Resolver) error {
	if s.state == Resolved || s.state == DeletionRequested {
		return s.transitionErr("ignore")
	}
	if err := r.Ignore(ctx, s.Group); err != nil {
		return err
	}
	s.state = Resolved
	return nil
}
