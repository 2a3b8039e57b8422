package message

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ParticipantID is the opaque name of a participant.
type ParticipantID string

// Value is a token of the domain participants agree upon.
type Value string

const (
	Attack  Value = "Attack"
	Retreat Value = "Retreat"
)

// Round identifies the phase a message belongs to.
type Round int

const (
	First Round = iota + 1
	Second
)

func (r Round) String() string {
	switch r {
	case First:
		return "first"
	case Second:
		return "second"
	default:
		return fmt.Sprintf("round(%d)", int(r))
	}
}

// summaryKeyword separates the sender from the vector in a round-2 line.
const summaryKeyword = "SUMMARY"

var errInvalidToken = errors.New("invalid token")

func validateToken(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty", errInvalidToken)
	}
	if strings.ContainsAny(s, ":,") {
		return fmt.Errorf("%w: %q contains a separator", errInvalidToken, s)
	}
	if strings.ContainsFunc(s, func(r rune) bool { return r == ' ' || r == '\t' || r == '\n' || r == '\r' }) {
		return fmt.Errorf("%w: %q contains whitespace", errInvalidToken, s)
	}
	return nil
}

// Validate reports whether id can be carried by the wire format.
func (id ParticipantID) Validate() error {
	return validateToken(string(id))
}

// Validate reports whether v can be carried by the wire format.
func (v Value) Validate() error {
	if v == summaryKeyword {
		return fmt.Errorf("%w: %q is reserved", errInvalidToken, v)
	}
	return validateToken(string(v))
}

// Vector maps every observed participant to the value the reporter claims it
// received from it during the first round. It may be partial.
type Vector map[ParticipantID]Value

// Clone returns a copy of v that shares no memory with it.
func (v Vector) Clone() Vector {
	if v == nil {
		return Vector{}
	}
	return maps.Clone(v)
}

// IDs returns the observed participants in ascending order.
func (v Vector) IDs() []ParticipantID {
	return slices.Sorted(maps.Keys(v))
}

// Equal reports whether v and o contain the same entries.
func (v Vector) Equal(o Vector) bool {
	return maps.Equal(v, o)
}

// Message is one unit of the protocol. Value is set for First messages and
// Vector for Second messages.
type Message struct {
	From   ParticipantID
	Round  Round
	Value  Value
	Vector Vector
}

// NewValueMessage builds a round-1 message.
func NewValueMessage(from ParticipantID, v Value) Message {
	return Message{From: from, Round: First, Value: v}
}

// NewSummaryMessage builds a round-2 message carrying a copy of vec.
func NewSummaryMessage(from ParticipantID, vec Vector) Message {
	return Message{From: from, Round: Second, Vector: vec.Clone()}
}

// Validate checks that m can be encoded.
func (m Message) Validate() error {
	if err := m.From.Validate(); err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	switch m.Round {
	case First:
		if err := m.Value.Validate(); err != nil {
			return fmt.Errorf("value: %w", err)
		}
	case Second:
		for id, v := range m.Vector {
			if err := id.Validate(); err != nil {
				return fmt.Errorf("vector key: %w", err)
			}
			if err := v.Validate(); err != nil {
				return fmt.Errorf("vector value for %s: %w", id, err)
			}
		}
	default:
		return fmt.Errorf("unknown round %v", m.Round)
	}
	return nil
}
