package main

import (
	"context"
	"testing"
	"time"

	"github.com/luca-patrignani/byzantine-generals/agreement"
	"github.com/luca-patrignani/byzantine-generals/config"
	"github.com/luca-patrignani/byzantine-generals/message"
)

// TestNodesFromCertificates runs every participant the way separate node
// processes would: each one loads its own certificate from disk.
func TestNodesFromCertificates(t *testing.T) {
	r := config.Default()
	r.TLS = true
	freeAddresses(t, r)
	dir := t.TempDir()
	if err := writeCertificates(r, dir); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	type nodeResult struct {
		id      message.ParticipantID
		outcome agreement.Outcome
		err     error
	}
	results := make(chan nodeResult, len(r.Participants))
	for _, id := range r.IDs() {
		go func() {
			opts, err := loadTLSOptions(dir, id)
			if err != nil {
				results <- nodeResult{id: id, err: err}
				return
			}
			peer, err := startPeer(r, id, discard, opts...)
			if err != nil {
				results <- nodeResult{id: id, err: err}
				return
			}
			defer func() {
				// peers may still be delivering their last summaries
				time.Sleep(500 * time.Millisecond)
				_ = peer.Close()
			}()
			p, err := agreement.FromMember(r, id, peer, agreement.WithLogger(discard))
			if err != nil {
				results <- nodeResult{id: id, err: err}
				return
			}
			o, err := p.Run(ctx)
			results <- nodeResult{id: id, outcome: o, err: err}
		}()
	}
	for range r.Participants {
		res := <-results
		if res.err != nil {
			t.Fatalf("%s failed: %v", res.id, res.err)
		}
		if res.id != "P" && res.outcome.Decision != message.Attack {
			t.Fatalf("%s decided %s", res.id, res.outcome.Decision)
		}
	}
}

func TestLoadTLSOptionsMissing(t *testing.T) {
	if _, err := loadTLSOptions(t.TempDir(), "Q"); err == nil {
		t.Fatal("expected an error loading certificates from an empty directory")
	}
}

func TestStartPeerUnknown(t *testing.T) {
	if _, err := startPeer(config.Default(), "Z", discard); err == nil {
		t.Fatal("expected an error starting a peer outside the roster")
	}
}

func TestStartPeersAddressInUse(t *testing.T) {
	r := config.Default()
	freeAddresses(t, r)
	r.Participants[1].Address = r.Participants[0].Address
	peers, err := startPeers(r, discard)
	if err == nil {
		for _, p := range peers {
			_ = p.Close()
		}
		t.Fatal("expected two participants sharing an address to fail")
	}
}
