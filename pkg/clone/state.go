package clone

import (
	"errors"
	"fmt"
)

// State is a step of the clone state machine. States advance strictly in
// declaration order; any of them may end in a *Failure.
type State int

const (
	Discovering State = iota
	Negotiating
	Decoding
	Storing
	ResolvingDeltas
	WritingRefs
	CheckingOut
	Done
)

var stateNames = [...]string{
	Discovering:     "discovering",
	Negotiating:     "negotiating",
	Decoding:        "decoding",
	Storing:         "storing",
	ResolvingDeltas: "resolving deltas",
	WritingRefs:     "writing refs",
	CheckingOut:     "checking out",
	Done:            "done",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

var (
	// ErrNoRefs means the remote advertised nothing to clone.
	ErrNoRefs = errors.New("no refs advertised")
	// ErrNoHeadTarget means no advertised ref shares the remote HEAD's id,
	// so there is no branch to check out.
	ErrNoHeadTarget = errors.New("no ref found as target of remote HEAD")
)

// Failure is the terminal Failed state: the state the clone was in and why
// it stopped. Objects already written stay in the store.
type Failure struct {
	State State
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("clone failed while %s: %v", f.State, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}
