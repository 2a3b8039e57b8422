package agreement

import (
	"math/rand/v2"

	"github.com/luca-patrignani/byzantine-generals/message"
)

// SendStrategy chooses the first round value sent to each recipient.
type SendStrategy func(to message.ParticipantID) message.Value

// Honest sends v to everyone.
func Honest(v message.Value) SendStrategy {
	return func(message.ParticipantID) message.Value { return v }
}

// Lie sends lies[to] to the recipients it lists and fallback to the others.
func Lie(lies map[message.ParticipantID]message.Value, fallback message.Value) SendStrategy {
	table := make(map[message.ParticipantID]message.Value, len(lies))
	for to, v := range lies {
		table[to] = v
	}
	return func(to message.ParticipantID) message.Value {
		if v, ok := table[to]; ok {
			return v
		}
		return fallback
	}
}

// RandomLie picks one of values uniformly for every recipient. When values is
// empty it flips a coin between Attack and Retreat.
func RandomLie(r *rand.Rand, values ...message.Value) SendStrategy {
	if len(values) == 0 {
		values = []message.Value{message.Attack, message.Retreat}
	}
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return func(message.ParticipantID) message.Value {
		return values[r.IntN(len(values))]
	}
}
