package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/luca-patrignani/byzantine-generals/message"
)

var generals = []message.ParticipantID{"P", "Q", "R", "S"}

func TestSendReceiveAllToAll(t *testing.T) {
	listeners, addresses := CreateListeners(generals...)
	fatal := make(chan error, len(generals))
	for _, id := range generals {
		go func() {
			peer := NewPeer(id, addresses, WithTimeout(10*time.Second))
			peer.Start(listeners[id])
			defer func() {
				// let the slowest peer drain its sends before shutting down
				time.Sleep(200 * time.Millisecond)
				_ = peer.Close()
			}()
			ctx := context.Background()
			for _, to := range generals {
				if to == id {
					continue
				}
				if err := peer.Send(ctx, to, message.NewValueMessage(id, message.Value("v"+string(id)))); err != nil {
					fatal <- fmt.Errorf("from peer %s: %w", id, err)
					return
				}
			}
			seen := map[message.ParticipantID]bool{}
			for range len(generals) - 1 {
				m, err := peer.Receive(ctx)
				if err != nil {
					fatal <- fmt.Errorf("from peer %s: %w", id, err)
					return
				}
				if m.Value != message.Value("v"+string(m.From)) {
					fatal <- fmt.Errorf("from peer %s: unexpected value %s from %s", id, m.Value, m.From)
					return
				}
				seen[m.From] = true
			}
			if len(seen) != len(generals)-1 {
				fatal <- fmt.Errorf("from peer %s: expected %d senders, actual %v", id, len(generals)-1, seen)
				return
			}
			fatal <- nil
		}()
	}
	for range generals {
		if err := <-fatal; err != nil {
			t.Fatal(err)
		}
	}
}

func TestSendPreservesOrder(t *testing.T) {
	ids := []message.ParticipantID{"P", "Q"}
	listeners, addresses := CreateListeners(ids...)
	p := NewPeer("P", addresses)
	q := NewPeer("Q", addresses)
	p.Start(listeners["P"])
	q.Start(listeners["Q"])
	defer p.Close()
	defer q.Close()

	ctx := context.Background()
	if err := p.Send(ctx, "Q", message.NewValueMessage("P", message.Attack)); err != nil {
		t.Fatal(err)
	}
	if err := p.Send(ctx, "Q", message.NewSummaryMessage("P", message.Vector{"Q": message.Retreat})); err != nil {
		t.Fatal(err)
	}
	first, err := q.Receive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	second, err := q.Receive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first.Round != message.First || second.Round != message.Second {
		t.Fatalf("messages delivered out of order: %v then %v", first.Round, second.Round)
	}
	if second.Vector["Q"] != message.Retreat {
		t.Fatalf("unexpected summary %v", second.Vector)
	}
}

func TestMalformedLineSurfaces(t *testing.T) {
	ids := []message.ParticipantID{"Q"}
	listeners, addresses := CreateListeners(ids...)
	q := NewPeer("Q", addresses)
	q.Start(listeners["Q"])
	defer q.Close()

	resp, err := http.Post("http://"+addresses["Q"], "text/plain", strings.NewReader("P:SUMMARY:broken"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, actual %d", http.StatusBadRequest, resp.StatusCode)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = q.Receive(ctx)
	if !errors.Is(err, message.ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestSendTimeout(t *testing.T) {
	listeners, addresses := CreateListeners("P", "Q")
	// Q never serves
	listeners["Q"].Close()
	p := NewPeer("P", addresses, WithTimeout(300*time.Millisecond))
	p.Start(listeners["P"])
	defer p.Close()

	start := time.Now()
	err := p.Send(context.Background(), "Q", message.NewValueMessage("P", message.Attack))
	if err == nil {
		t.Fatal("expected an error sending to a closed peer")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("send did not honour its timeout: %v", time.Since(start))
	}
	t.Log(err)
}

func TestSendUnknownPeer(t *testing.T) {
	p := NewPeer("P", map[message.ParticipantID]string{"P": "127.0.0.1:0"})
	err := p.Send(context.Background(), "Z", message.NewValueMessage("P", message.Attack))
	if !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("expected ErrUnknownPeer, got %v", err)
	}
}

func TestReceiveHonoursContext(t *testing.T) {
	p := NewPeer("P", map[message.ParticipantID]string{"P": "127.0.0.1:0"})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
