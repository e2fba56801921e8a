package appointment

import "fmt"

var transitions = map[Status][]Status{
	StatusScheduled: {StatusCompleted, StatusCancelled, StatusNoShow},
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Blocks reports whether an appointment in this status holds its window.
func (s Status) Blocks() bool {
	return s == StatusScheduled
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrUnknownStatus for labels outside the state
// machine and ErrInvalidTransition for edges it does not have.
func ValidateTransition(from, to Status) error {
	if !to.Valid() {
		return withDetail(ErrUnknownStatus, fmt.Errorf("%q", to))
	}
	if !CanTransition(from, to) {
		return withDetail(ErrInvalidTransition, fmt.Errorf("%s -> %s", from, to))
	}
	return nil
}
