package agreement

import (
	"fmt"

	"github.com/luca-patrignani/byzantine-generals/config"
	"github.com/luca-patrignani/byzantine-generals/message"
)

// FromMember builds the participant id of roster r. Roster timeouts and tie
// break come first so that opts can override them. A faulty member is put in
// fault mode: it sends its lies where listed, or flips a coin per recipient
// when it has none.
func FromMember(r *config.Roster, id message.ParticipantID, ch Channel, opts ...Option) (*Participant, error) {
	m, ok := r.Member(id)
	if !ok {
		return nil, fmt.Errorf("participant %s is not in the roster", id)
	}
	all := append([]Option{
		WithCollectTimeout(r.CollectTimeout),
		WithTieBreak(r.TieBreakValues()...),
	}, opts...)
	p, err := NewParticipant(id, message.Value(m.Value), r.IDs(), ch, all...)
	if err != nil {
		return nil, err
	}
	if !m.Faulty {
		return p, nil
	}
	var s SendStrategy
	if len(m.Lies) > 0 {
		lies := make(map[message.ParticipantID]message.Value, len(m.Lies))
		for to, v := range m.Lies {
			lies[message.ParticipantID(to)] = message.Value(v)
		}
		s = Lie(lies, message.Value(m.Value))
	}
	if err := p.SimulateFault(s); err != nil {
		return nil, err
	}
	return p, nil
}

// FromRoster builds every participant of r, in roster order. channelFor
// supplies the channel of each participant.
func FromRoster(r *config.Roster, channelFor func(message.ParticipantID) (Channel, error), opts ...Option) ([]*Participant, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	ps := make([]*Participant, 0, len(r.Participants))
	for _, id := range r.IDs() {
		ch, err := channelFor(id)
		if err != nil {
			return nil, fmt.Errorf("channel for %s: %w", id, err)
		}
		p, err := FromMember(r, id, ch, opts...)
		if err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return ps, nil
}
