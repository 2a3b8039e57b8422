package agreement

import (
	"errors"
	"fmt"

	"github.com/luca-patrignani/byzantine-generals/message"
)

var (
	// ErrTransport is matched by every *TransportError.
	ErrTransport = errors.New("transport error")
	// ErrNoQuorum is returned when every vote was discarded.
	ErrNoQuorum = errors.New("no quorum: no eligible vote left after discarding discrepant participants")
	// ErrSealed is returned by SimulateFault once Run has been called.
	ErrSealed = errors.New("participant is sealed: fault mode can only change before running")
	// ErrAlreadyRun is returned by a second call to Run.
	ErrAlreadyRun = errors.New("participant already ran")
)

// TransportError reports a Channel failure while talking to Peer.
type TransportError struct {
	Peer message.ParticipantID
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Peer == "" {
		return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Peer, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ErrorKind returns a short name for the class of a run failure: malformed,
// no_quorum, transport or other.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, message.ErrMalformedMessage):
		return "malformed"
	case errors.Is(err, ErrNoQuorum):
		return "no_quorum"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "other"
	}
}
