package message

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedMessage is matched by every error returned by Decode.
var ErrMalformedMessage = errors.New("malformed message")

// MalformedError describes a line that could not be parsed into a Message.
type MalformedError struct {
	Line   string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed message %q: %s", e.Line, e.Reason)
}

func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedMessage
}

func malformed(line, format string, args ...any) error {
	return &MalformedError{Line: line, Reason: fmt.Sprintf(format, args...)}
}

// Encode returns the wire line of m, without the trailing newline.
func Encode(m Message) (string, error) {
	if err := m.Validate(); err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	if m.Round == First {
		return string(m.From) + ":" + string(m.Value), nil
	}
	var sb strings.Builder
	sb.WriteString(string(m.From))
	sb.WriteString(":" + summaryKeyword + ":")
	for i, id := range m.Vector.IDs() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(string(id))
		sb.WriteByte(':')
		sb.WriteString(string(m.Vector[id]))
	}
	return sb.String(), nil
}

// Decode parses a wire line. Any failure matches ErrMalformedMessage.
func Decode(line string) (Message, error) {
	line = strings.TrimRight(line, "\r\n")
	sender, rest, ok := strings.Cut(line, ":")
	if !ok {
		return Message{}, malformed(line, "missing separator")
	}
	from := ParticipantID(sender)
	if err := from.Validate(); err != nil {
		return Message{}, malformed(line, "sender: %v", err)
	}

	body, isSummary := strings.CutPrefix(rest, summaryKeyword+":")
	if !isSummary {
		v := Value(rest)
		if err := v.Validate(); err != nil {
			return Message{}, malformed(line, "value: %v", err)
		}
		return NewValueMessage(from, v), nil
	}

	vec := Vector{}
	if body == "" {
		return Message{From: from, Round: Second, Vector: vec}, nil
	}
	for _, entry := range strings.Split(body, ",") {
		k, v, ok := strings.Cut(entry, ":")
		if !ok {
			return Message{}, malformed(line, "entry %q has no separator", entry)
		}
		id, val := ParticipantID(k), Value(v)
		if err := id.Validate(); err != nil {
			return Message{}, malformed(line, "entry %q: %v", entry, err)
		}
		if err := val.Validate(); err != nil {
			return Message{}, malformed(line, "entry %q: %v", entry, err)
		}
		if _, dup := vec[id]; dup {
			return Message{}, malformed(line, "duplicate entry for %s", id)
		}
		vec[id] = val
	}
	return Message{From: from, Round: Second, Vector: vec}, nil
}
