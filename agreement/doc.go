// Package agreement implements the oral-messages agreement protocol among a
// fixed roster of participants, at most one of which is faulty.
//
// # Protocol
//
// Every participant runs its own RoundCoordinator:
//  1. it sends its value to every peer (a faulty participant may send each
//     peer a different value);
//  2. it collects one value from every peer;
//  3. it relays what it collected to every peer as a summary vector;
//  4. it collects one summary from every peer;
//  5. it folds all summaries into a ReportMatrix and flags every participant
//     that two reporters disagree about;
//  6. it tallies the first round values of the participants that were not
//     flagged and decides on the majority.
//
// # Deadlines
//
// Each collection phase is bounded by a deadline. When it expires the phase
// ends with whatever was collected and the silent peers are reported as
// missing. A missing report is never evidence of a discrepancy.
//
// # Transport
//
// Participants only talk through a Channel. The network package provides an
// HTTP implementation and an in-memory one.
package agreement
