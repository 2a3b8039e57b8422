package agreement

import (
	"slices"

	"github.com/luca-patrignani/byzantine-generals/message"
)

// Tally counts the first round values of every sender not in flagged and
// returns the most frequent one.
//
// Ties are broken by priority: the tied value appearing first in priority
// wins, and values missing from priority rank after every listed value in
// ascending lexicographic order. Every correct participant configured with the
// same priority therefore resolves a tie the same way.
//
// ErrNoQuorum is returned when no vote is left.
func Tally(votes map[message.ParticipantID]message.Value, flagged DiscrepancySet, priority []message.Value) (message.Value, error) {
	counts := make(map[message.Value]int)
	for sender, v := range votes {
		if flagged.Contains(sender) {
			continue
		}
		counts[v]++
	}
	if len(counts) == 0 {
		return "", ErrNoQuorum
	}

	var (
		best      message.Value
		bestCount int
	)
	for v, c := range counts {
		if c > bestCount || (c == bestCount && outranks(v, best, priority)) {
			best, bestCount = v, c
		}
	}
	return best, nil
}

// outranks reports whether a wins a tie against b.
func outranks(a, b message.Value, priority []message.Value) bool {
	ia, ib := slices.Index(priority, a), slices.Index(priority, b)
	switch {
	case ia >= 0 && ib >= 0:
		return ia < ib
	case ia >= 0:
		return true
	case ib >= 0:
		return false
	default:
		return a < b
	}
}
