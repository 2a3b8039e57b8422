package agreement

import (
	"context"

	"github.com/luca-patrignani/byzantine-generals/message"
)

// Channel is the point-to-point transport a participant talks through.
// Delivery between a given pair of participants preserves send order; there
// is no ordering across different pairs.
type Channel interface {
	// Send delivers m to the participant to. It fails if the message cannot
	// be handed over.
	Send(ctx context.Context, to message.ParticipantID, m message.Message) error

	// Receive blocks until a message arrives or ctx is done. A line that
	// cannot be decoded is reported with an error matching
	// message.ErrMalformedMessage.
	Receive(ctx context.Context) (message.Message, error)
}
