package agreement

import (
	"context"
	"fmt"
	"sync"

	"github.com/luca-patrignani/byzantine-generals/message"
)

// Participant is one member of the roster. It owns a single RoundCoordinator
// and every piece of state of its run.
type Participant struct {
	id    message.ParticipantID
	value message.Value
	peers []message.ParticipantID
	ch    Channel
	opts  options

	mu       sync.Mutex
	strategy SendStrategy
	faulty   bool
	started  bool
}

// NewParticipant creates the participant id of roster, starting with value
// and talking through ch. roster lists every participant, id included.
func NewParticipant(id message.ParticipantID, value message.Value, roster []message.ParticipantID, ch Channel, opts ...Option) (*Participant, error) {
	if err := id.Validate(); err != nil {
		return nil, fmt.Errorf("participant id: %w", err)
	}
	if err := value.Validate(); err != nil {
		return nil, fmt.Errorf("participant %s value: %w", id, err)
	}
	if ch == nil {
		return nil, fmt.Errorf("participant %s: nil channel", id)
	}
	seen := make(map[message.ParticipantID]bool, len(roster))
	var peers []message.ParticipantID
	for _, p := range roster {
		if seen[p] {
			return nil, fmt.Errorf("roster lists %s twice", p)
		}
		seen[p] = true
		if p != id {
			peers = append(peers, p)
		}
	}
	if !seen[id] {
		return nil, fmt.Errorf("participant %s is not in the roster", id)
	}
	if len(peers) == 0 {
		return nil, fmt.Errorf("participant %s has no peers", id)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Participant{
		id:       id,
		value:    value,
		peers:    peers,
		ch:       ch,
		opts:     o,
		strategy: Honest(value),
	}, nil
}

func (p *Participant) ID() message.ParticipantID { return p.id }

func (p *Participant) Value() message.Value { return p.value }

// Faulty reports whether SimulateFault was called.
func (p *Participant) Faulty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.faulty
}

// SimulateFault makes the participant Byzantine: its first round value for
// each recipient comes from s instead of its own value. A nil s flips a coin
// between Attack and Retreat for every recipient. It fails with ErrSealed once
// Run has been called.
func (p *Participant) SimulateFault(s SendStrategy) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrSealed
	}
	if s == nil {
		s = RandomLie(nil)
	}
	p.strategy = s
	p.faulty = true
	return nil
}

// Run executes the protocol and returns the participant's decision. It can
// only be called once.
func (p *Participant) Run(ctx context.Context) (Outcome, error) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return Outcome{}, ErrAlreadyRun
	}
	p.started = true
	strategy, faulty := p.strategy, p.faulty
	p.mu.Unlock()

	c := newRoundCoordinator(p.id, p.value, p.peers, p.ch, strategy, p.opts)
	c.logger.Debug("run started", "value", string(p.value), "faulty", faulty, "peers", len(p.peers))
	return c.Run(ctx)
}
