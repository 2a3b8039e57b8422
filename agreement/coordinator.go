package agreement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/luca-patrignani/byzantine-generals/message"
	"github.com/luca-patrignani/byzantine-generals/metrics"
)

// State is a step of the RoundCoordinator. States only move forward.
type State int

const (
	StateInit State = iota
	StateBroadcast1
	StateCollect1
	StateBroadcast2
	StateCollect2
	StateDecide
	StateDone
)

var stateNames = [...]string{
	StateInit:       "init",
	StateBroadcast1: "broadcast-1",
	StateCollect1:   "collect-1",
	StateBroadcast2: "broadcast-2",
	StateCollect2:   "collect-2",
	StateDecide:     "decide",
	StateDone:       "done",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Outcome is the terminal result of a participant's run.
type Outcome struct {
	ID       message.ParticipantID
	Decision message.Value
	// Discrepant lists the participants excluded from the tally.
	Discrepant []message.ParticipantID
	// Missing lists the peers that did not report in at least one round
	// before its deadline.
	Missing []message.ParticipantID
}

// RoundCoordinator drives one participant through both rounds and the
// decision. It is used once and is not safe for concurrent use.
type RoundCoordinator struct {
	id     message.ParticipantID
	value  message.Value
	peers  []message.ParticipantID
	ch     Channel
	send   SendStrategy
	opts   options
	logger *slog.Logger

	state     State
	values    map[message.ParticipantID]message.Value
	summaries map[message.ParticipantID]message.Vector
	// early holds second round messages received while still collecting
	// the first round.
	early   []message.Message
	matrix  ReportMatrix
	outcome Outcome
}

func newRoundCoordinator(id message.ParticipantID, value message.Value, peers []message.ParticipantID, ch Channel, send SendStrategy, opts options) *RoundCoordinator {
	return &RoundCoordinator{
		id:        id,
		value:     value,
		peers:     peers,
		ch:        ch,
		send:      send,
		opts:      opts,
		logger:    opts.logger.With("participant", string(id)),
		state:     StateInit,
		values:    make(map[message.ParticipantID]message.Value, len(peers)+1),
		summaries: make(map[message.ParticipantID]message.Vector, len(peers)),
		matrix:    ReportMatrix{},
	}
}

// State returns the current step.
func (c *RoundCoordinator) State() State { return c.state }

// Run executes every remaining step and returns the outcome.
func (c *RoundCoordinator) Run(ctx context.Context) (Outcome, error) {
	for c.state != StateDone {
		if err := c.step(ctx); err != nil {
			c.logger.Error("run aborted", "state", c.state.String(), "err", err)
			metrics.RunFailures.WithLabelValues(ErrorKind(err)).Inc()
			return Outcome{}, err
		}
	}
	return c.outcome, nil
}

func (c *RoundCoordinator) step(ctx context.Context) error {
	switch c.state {
	case StateInit:
		c.values[c.id] = c.value
	case StateBroadcast1:
		if err := c.broadcast(ctx, func(to message.ParticipantID) message.Message {
			return message.NewValueMessage(c.id, c.send(to))
		}); err != nil {
			return err
		}
	case StateCollect1:
		if err := c.collect(ctx, message.First); err != nil {
			return err
		}
	case StateBroadcast2:
		summary := c.summary()
		if err := c.broadcast(ctx, func(message.ParticipantID) message.Message {
			return message.NewSummaryMessage(c.id, summary)
		}); err != nil {
			return err
		}
	case StateCollect2:
		for _, m := range c.early {
			c.summaries[m.From] = m.Vector
		}
		c.early = nil
		if err := c.collect(ctx, message.Second); err != nil {
			return err
		}
	case StateDecide:
		if err := c.decide(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("coordinator in unexpected state %v", c.state)
	}
	c.state++
	c.logger.Debug("state reached", "state", c.state.String())
	return nil
}

func (c *RoundCoordinator) broadcast(ctx context.Context, build func(to message.ParticipantID) message.Message) error {
	for _, to := range c.peers {
		m := build(to)
		if err := c.ch.Send(ctx, to, m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &TransportError{Peer: to, Op: "send", Err: err}
		}
		metrics.MessagesSent.WithLabelValues(m.Round.String()).Inc()
	}
	return nil
}

// collected returns how many distinct peers reported in round.
func (c *RoundCoordinator) collected(round message.Round) int {
	if round == message.First {
		return len(c.values) - 1
	}
	return len(c.summaries)
}

// collect receives messages until every peer reported in round or the phase
// deadline expires.
func (c *RoundCoordinator) collect(ctx context.Context, round message.Round) error {
	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	expired := make(chan struct{})
	timer := c.opts.clock.NewTimer(c.opts.collectTimeout)
	defer timer.Stop()
	go func() {
		select {
		case <-timer.Chan():
			close(expired)
			cancel()
		case <-phaseCtx.Done():
		}
	}()

	for c.collected(round) < len(c.peers) {
		m, err := c.ch.Receive(phaseCtx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-expired:
				c.logger.Warn("collection deadline expired",
					"round", round.String(),
					"collected", c.collected(round),
					"expected", len(c.peers))
				metrics.CollectTimeouts.WithLabelValues(round.String()).Inc()
				return nil
			default:
			}
			if errors.Is(err, message.ErrMalformedMessage) {
				return err
			}
			return &TransportError{Op: "receive", Err: err}
		}
		if err := c.accept(m, round); err != nil {
			return err
		}
	}
	return nil
}

// accept records m while collecting round.
func (c *RoundCoordinator) accept(m message.Message, round message.Round) error {
	if m.From == c.id || !slices.Contains(c.peers, m.From) {
		return fmt.Errorf("%w: message from unexpected participant %q", message.ErrMalformedMessage, m.From)
	}
	metrics.MessagesReceived.WithLabelValues(m.Round.String()).Inc()
	switch {
	case m.Round == message.First && round == message.First:
		if prev, ok := c.values[m.From]; ok {
			c.logger.Debug("duplicate value overwritten", "peer", string(m.From), "previous", string(prev), "value", string(m.Value))
		}
		c.values[m.From] = m.Value
	case m.Round == message.First:
		c.logger.Debug("late first round value ignored", "peer", string(m.From))
	case round == message.First:
		c.early = append(c.early, m)
	default:
		c.summaries[m.From] = m.Vector
	}
	return nil
}

// summary is the vector of peer values collected in the first round.
func (c *RoundCoordinator) summary() message.Vector {
	vec := make(message.Vector, len(c.values))
	for id, v := range c.values {
		if id != c.id {
			vec[id] = v
		}
	}
	return vec
}

func (c *RoundCoordinator) decide() error {
	c.matrix.Add(c.id, c.summary())
	for reporter, vec := range c.summaries {
		c.matrix.Add(reporter, vec)
	}
	flagged := c.matrix.Discrepancies()
	for _, id := range flagged.IDs() {
		c.logger.Info("discrepant participant", "peer", string(id), "reports", fmt.Sprint(c.matrix.Reports(id)))
	}
	metrics.Discrepancies.Add(float64(flagged.Len()))

	decision, err := Tally(c.values, flagged, c.opts.tieBreak)
	if err != nil {
		return err
	}
	metrics.Decisions.WithLabelValues(string(decision)).Inc()
	c.logger.Info("decision reached", "decision", string(decision))

	c.outcome = Outcome{
		ID:         c.id,
		Decision:   decision,
		Discrepant: flagged.IDs(),
		Missing:    c.missing(),
	}
	return nil
}

func (c *RoundCoordinator) missing() []message.ParticipantID {
	var out []message.ParticipantID
	for _, p := range c.peers {
		_, hasValue := c.values[p]
		_, hasSummary := c.summaries[p]
		if !hasValue || !hasSummary {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}
