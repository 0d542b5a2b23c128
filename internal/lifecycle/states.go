// Package lifecycle holds the book lifecycle states and the transitions allowed between them.
package lifecycle

import "strings"

// State is a named stage a book occupies in the digitization pipeline.
type State string

const (
	Registered        State = "Registered"
	UnderReview       State = "UnderReview"
	UnderRestoration  State = "UnderRestoration"
	Restored          State = "Restored"
	UnderDigitization State = "UnderDigitization"
	Digitized         State = "Digitized"
	QualityApproved   State = "QualityApproved"
	Classified        State = "Classified"
)

var allStates = []State{
	Registered,
	UnderReview,
	UnderRestoration,
	Restored,
	UnderDigitization,
	Digitized,
	QualityApproved,
	Classified,
}

type transition struct {
	from State
	to   State
}

// transitions is the complete adjacency list. Any pair not listed here is rejected.
var transitions = []transition{
	{from: Registered, to: UnderDigitization},
	{from: Registered, to: UnderRestoration},
	{from: UnderRestoration, to: UnderDigitization},
	{from: UnderDigitization, to: Digitized},
	{from: Restored, to: Digitized},
	{from: Digitized, to: QualityApproved},
	{from: Digitized, to: Classified},
	{from: QualityApproved, to: Classified},
}

var transitionSet = func() map[transition]struct{} {
	set := make(map[transition]struct{}, len(transitions))
	for _, t := range transitions {
		set[t] = struct{}{}
	}
	return set
}()

// requiredStates are the states the transition table references; the store must define
// every one of them.
var requiredStates = func() []State {
	seen := make(map[State]struct{})
	for _, t := range transitions {
		seen[t.from] = struct{}{}
		seen[t.to] = struct{}{}
	}
	out := make([]State, 0, len(seen))
	for _, s := range allStates {
		if _, ok := seen[s]; ok {
			out = append(out, s)
		}
	}
	return out
}()

// ParseState matches name case-insensitively against the known states.
func ParseState(name string) (State, bool) {
	name = strings.TrimSpace(name)
	for _, s := range allStates {
		if strings.EqualFold(string(s), name) {
			return s, true
		}
	}
	return "", false
}

// CanTransition reports whether the table allows moving from one state to another.
func CanTransition(from, to State) bool {
	_, ok := transitionSet[transition{from: from, to: to}]
	return ok
}
