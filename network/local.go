package network

import (
	"context"
	"fmt"
	"sync"

	"github.com/luca-patrignani/byzantine-generals/message"
)

type link struct {
	from, to message.ParticipantID
}

// Hub is an in-memory network connecting a fixed set of participants.
type Hub struct {
	mu      sync.Mutex
	inboxes map[message.ParticipantID]chan string
	dropped map[link]bool
}

// NewHub connects ids. Every inbox buffers buffer lines; a non-positive
// buffer holds the two rounds of a run without blocking senders.
func NewHub(ids []message.ParticipantID, buffer int) *Hub {
	if buffer <= 0 {
		buffer = 2 * len(ids)
	}
	h := &Hub{
		inboxes: make(map[message.ParticipantID]chan string, len(ids)),
		dropped: make(map[link]bool),
	}
	for _, id := range ids {
		h.inboxes[id] = make(chan string, buffer)
	}
	return h
}

// Endpoint returns the channel of id.
func (h *Hub) Endpoint(id message.ParticipantID) (*Endpoint, error) {
	inbox, ok := h.inboxes[id]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownPeer, id)
	}
	return &Endpoint{id: id, hub: h, inbox: inbox}, nil
}

// Drop silently discards every later message sent from from to to.
func (h *Hub) Drop(from, to message.ParticipantID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropped[link{from, to}] = true
}

func (h *Hub) isDropped(from, to message.ParticipantID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped[link{from, to}]
}

// Inject delivers a raw line to to, bypassing encoding.
func (h *Hub) Inject(ctx context.Context, to message.ParticipantID, line string) error {
	inbox, ok := h.inboxes[to]
	if !ok {
		return fmt.Errorf("%w %s", ErrUnknownPeer, to)
	}
	select {
	case inbox <- line:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Endpoint is the Hub side of one participant.
type Endpoint struct {
	id    message.ParticipantID
	hub   *Hub
	inbox chan string
}

func (e *Endpoint) Send(ctx context.Context, to message.ParticipantID, m message.Message) error {
	line, err := message.Encode(m)
	if err != nil {
		return err
	}
	if e.hub.isDropped(e.id, to) {
		return nil
	}
	return e.hub.Inject(ctx, to, line)
}

func (e *Endpoint) Receive(ctx context.Context) (message.Message, error) {
	select {
	case line := <-e.inbox:
		return message.Decode(line)
	case <-ctx.Done():
		return message.Message{}, ctx.Err()
	}
}
