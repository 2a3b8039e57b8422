package agreement

import (
	"maps"
	"slices"

	"github.com/luca-patrignani/byzantine-generals/message"
)

// ReportMatrix indexes the summaries of a run by observed participant, then by
// reporter: m[observed][reporter] is the value reporter claims observed sent it.
type ReportMatrix map[message.ParticipantID]map[message.ParticipantID]message.Value

// Add folds the summary vector of reporter into the matrix. Only the observed
// participants present in vec get an entry.
func (rm ReportMatrix) Add(reporter message.ParticipantID, vec message.Vector) {
	for observed, v := range vec {
		reports, ok := rm[observed]
		if !ok {
			reports = make(map[message.ParticipantID]message.Value)
			rm[observed] = reports
		}
		reports[reporter] = v
	}
}

// Reports returns a copy of what every reporter claims observed sent it.
func (rm ReportMatrix) Reports(observed message.ParticipantID) map[message.ParticipantID]message.Value {
	return maps.Clone(rm[observed])
}

// Discrepancies flags every observed participant for which at least two
// reporters claim different values.
func (rm ReportMatrix) Discrepancies() DiscrepancySet {
	flagged := make(map[message.ParticipantID]struct{})
	for observed, reports := range rm {
		if len(reports) < 2 {
			continue
		}
		distinct := make(map[message.Value]struct{}, len(reports))
		for _, v := range reports {
			distinct[v] = struct{}{}
		}
		if len(distinct) > 1 {
			flagged[observed] = struct{}{}
		}
	}
	return DiscrepancySet{ids: flagged}
}

// DetectDiscrepancies builds the ReportMatrix of summaries, keyed by reporter,
// and returns the participants it flags. The result does not depend on the
// order summaries were received in.
func DetectDiscrepancies(summaries map[message.ParticipantID]message.Vector) DiscrepancySet {
	rm := ReportMatrix{}
	for reporter, vec := range summaries {
		rm.Add(reporter, vec)
	}
	return rm.Discrepancies()
}

// DiscrepancySet is the immutable set of participants caught reporting
// inconsistent values. The zero value is empty.
type DiscrepancySet struct {
	ids map[message.ParticipantID]struct{}
}

// NewDiscrepancySet returns a set holding ids.
func NewDiscrepancySet(ids ...message.ParticipantID) DiscrepancySet {
	s := DiscrepancySet{ids: make(map[message.ParticipantID]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

func (s DiscrepancySet) Contains(id message.ParticipantID) bool {
	_, ok := s.ids[id]
	return ok
}

func (s DiscrepancySet) Len() int { return len(s.ids) }

// IDs returns the flagged participants in ascending order.
func (s DiscrepancySet) IDs() []message.ParticipantID {
	return slices.Sorted(maps.Keys(s.ids))
}
