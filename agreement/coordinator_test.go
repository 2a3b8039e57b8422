package agreement

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/luca-patrignani/byzantine-generals/message"
	"github.com/luca-patrignani/byzantine-generals/network"
)

var fourGenerals = []message.ParticipantID{"P", "Q", "R", "S"}

// soloQ builds participant Q over a hub where nobody else runs, so that the
// test scripts Q's inbox by hand.
func soloQ(t *testing.T, opts ...Option) (*Participant, *network.Hub) {
	t.Helper()
	h := network.NewHub(fourGenerals, 16)
	ch, err := h.Endpoint("Q")
	if err != nil {
		t.Fatal(err)
	}
	p, err := NewParticipant("Q", message.Attack, fourGenerals, ch, append([]Option{WithLogger(discard)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return p, h
}

func inject(t *testing.T, h *network.Hub, lines ...string) {
	t.Helper()
	for _, l := range lines {
		if err := h.Inject(context.Background(), "Q", l); err != nil {
			t.Fatal(err)
		}
	}
}

func TestEarlySummariesAreBuffered(t *testing.T) {
	p, h := soloQ(t)
	inject(t, h,
		"R:SUMMARY:P:Attack,Q:Attack,S:Attack",
		"R:Attack",
		"S:SUMMARY:P:Attack,Q:Attack,R:Attack",
		"S:Attack",
		"P:Attack",
		"P:SUMMARY:Q:Attack,R:Attack,S:Attack",
	)
	o, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if o.Decision != message.Attack || len(o.Discrepant) != 0 || len(o.Missing) != 0 {
		t.Fatalf("unexpected outcome %+v", o)
	}
}

func TestDuplicateSenderLastWriteWins(t *testing.T) {
	p, h := soloQ(t, WithTieBreak(message.Retreat))
	inject(t, h,
		"R:Retreat",
		"R:Attack",
		"S:Retreat",
		"P:Retreat",
		"R:SUMMARY:P:Retreat,Q:Attack,S:Retreat",
		"S:SUMMARY:P:Retreat,Q:Attack,R:Attack",
		"P:SUMMARY:Q:Attack,R:Attack,S:Retreat",
	)
	o, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// Q and R attack, P and S retreat: the tie goes to Retreat
	if o.Decision != message.Retreat {
		t.Fatalf("expected Retreat, actual %s", o.Decision)
	}
	if len(o.Discrepant) != 0 {
		t.Fatalf("unexpected discrepancies %v", o.Discrepant)
	}
}

func TestMalformedLineAbortsRun(t *testing.T) {
	p, h := soloQ(t)
	inject(t, h, "R:Attack", "R;Attack")
	_, err := p.Run(context.Background())
	if !errors.Is(err, message.ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestUnknownSenderAbortsRun(t *testing.T) {
	p, h := soloQ(t)
	inject(t, h, "Z:Attack")
	_, err := p.Run(context.Background())
	if !errors.Is(err, message.ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestMessageFromSelfAbortsRun(t *testing.T) {
	p, h := soloQ(t)
	inject(t, h, "Q:Attack")
	_, err := p.Run(context.Background())
	if !errors.Is(err, message.ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestCancelAbortsRun(t *testing.T) {
	p, _ := soloQ(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := p.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the parent deadline to abort the run, got %v", err)
	}
}

type brokenChannel struct{ err error }

func (b brokenChannel) Send(context.Context, message.ParticipantID, message.Message) error {
	return b.err
}

func (b brokenChannel) Receive(ctx context.Context) (message.Message, error) {
	return message.Message{}, b.err
}

func TestSendFailureIsTransportError(t *testing.T) {
	cause := errors.New("connection refused")
	p, err := NewParticipant("Q", message.Attack, fourGenerals, brokenChannel{cause}, WithLogger(discard))
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Run(context.Background())
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected a TransportError, got %v", err)
	}
	if te.Peer != "P" || te.Op != "send" || !errors.Is(err, cause) || !errors.Is(err, ErrTransport) {
		t.Fatalf("unexpected transport error %+v", te)
	}
	if ErrorKind(err) != "transport" {
		t.Fatalf("unexpected kind %s", ErrorKind(err))
	}
}

type receiveFails struct {
	brokenChannel
}

func (receiveFails) Send(context.Context, message.ParticipantID, message.Message) error { return nil }

func TestReceiveFailureIsTransportError(t *testing.T) {
	p, err := NewParticipant("Q", message.Attack, fourGenerals, receiveFails{brokenChannel{errors.New("reset")}}, WithLogger(discard))
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Run(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestSilentParticipantDoesNotBlockForever(t *testing.T) {
	const timeout = 5 * time.Second
	fc := clockwork.NewFakeClock()
	h := network.NewHub(fourGenerals, 0)
	var ps []*Participant
	for _, id := range []message.ParticipantID{"Q", "R", "S"} {
		ch, err := h.Endpoint(id)
		if err != nil {
			t.Fatal(err)
		}
		p, err := NewParticipant(id, message.Attack, fourGenerals, ch,
			WithLogger(discard), WithClock(fc), WithCollectTimeout(timeout))
		if err != nil {
			t.Fatal(err)
		}
		ps = append(ps, p)
	}
	done := make(chan map[message.ParticipantID]result, 1)
	go func() { done <- runAll(t, ps) }()

	// P never speaks: each loyal participant waits on both collection
	// deadlines. Let the queued messages be consumed before expiring them.
	for range 2 {
		fc.BlockUntil(len(ps))
		time.Sleep(100 * time.Millisecond)
		fc.Advance(timeout)
	}
	results := <-done
	for _, p := range ps {
		res := results[p.ID()]
		if res.err != nil {
			t.Fatalf("%s failed: %v", p.ID(), res.err)
		}
		if res.outcome.Decision != message.Attack {
			t.Fatalf("%s decided %s", p.ID(), res.outcome.Decision)
		}
		if !slices.Equal(res.outcome.Missing, []message.ParticipantID{"P"}) {
			t.Fatalf("%s reports missing %v, expected [P]", p.ID(), res.outcome.Missing)
		}
		if len(res.outcome.Discrepant) != 0 {
			t.Fatalf("%s flagged the silent participant: %v", p.ID(), res.outcome.Discrepant)
		}
	}
}

func TestStateNames(t *testing.T) {
	if StateCollect2.String() != "collect-2" || StateDone.String() != "done" {
		t.Fatalf("unexpected names %s %s", StateCollect2, StateDone)
	}
	if State(42).String() != "state(42)" {
		t.Fatalf("unexpected name %s", State(42))
	}
}
