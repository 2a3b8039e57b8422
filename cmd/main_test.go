package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/luca-patrignani/byzantine-generals/agreement"
	"github.com/luca-patrignani/byzantine-generals/config"
	"github.com/luca-patrignani/byzantine-generals/message"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// freeAddresses rewrites the roster addresses with free localhost ports.
func freeAddresses(t *testing.T, r *config.Roster) {
	t.Helper()
	for i := range r.Participants {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		r.Participants[i].Address = l.Addr().String()
		if err := l.Close(); err != nil {
			t.Fatal(err)
		}
	}
}

func checkFourGenerals(t *testing.T, reports []report) {
	t.Helper()
	if len(reports) != 4 {
		t.Fatalf("expected 4 reports, actual %d", len(reports))
	}
	for _, rep := range reports {
		if rep.err != nil {
			t.Fatalf("%s failed: %v", rep.member.ID, rep.err)
		}
		if rep.member.Faulty {
			continue
		}
		if rep.outcome.Decision != message.Attack {
			t.Fatalf("%s decided %s, expected Attack", rep.member.ID, rep.outcome.Decision)
		}
		if len(rep.outcome.Discrepant) != 1 || rep.outcome.Discrepant[0] != "P" {
			t.Fatalf("%s flagged %v, expected [P]", rep.member.ID, rep.outcome.Discrepant)
		}
	}
	if err := failures(reports); err != nil {
		t.Fatal(err)
	}
}

func TestSimulateLocal(t *testing.T) {
	reports, err := simulate(context.Background(), config.Default(), "local", discard)
	if err != nil {
		t.Fatal(err)
	}
	checkFourGenerals(t, reports)
}

func TestSimulateHTTP(t *testing.T) {
	r := config.Default()
	freeAddresses(t, r)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	reports, err := simulate(ctx, r, "http", discard)
	if err != nil {
		t.Fatal(err)
	}
	checkFourGenerals(t, reports)
}

func TestSimulateHTTPS(t *testing.T) {
	r := config.Default()
	r.TLS = true
	freeAddresses(t, r)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	reports, err := simulate(ctx, r, "http", discard)
	if err != nil {
		t.Fatal(err)
	}
	checkFourGenerals(t, reports)
}

func TestSimulateUnknownTransport(t *testing.T) {
	if _, err := simulate(context.Background(), config.Default(), "carrier-pigeon", discard); err == nil {
		t.Fatal("expected an error for an unknown transport")
	}
}

func TestFailuresJoinsErrors(t *testing.T) {
	reports := []report{
		{member: config.Member{ID: "Q"}},
		{member: config.Member{ID: "R"}, err: agreement.ErrNoQuorum},
	}
	err := failures(reports)
	if !errors.Is(err, agreement.ErrNoQuorum) {
		t.Fatalf("expected ErrNoQuorum to be reported, got %v", err)
	}
	if !strings.Contains(err.Error(), "R:") {
		t.Fatalf("failure does not name the participant: %v", err)
	}
}

func TestRosterCommand(t *testing.T) {
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	if err := app.Run([]string{"byzantine", "roster"}); err != nil {
		t.Fatal(err)
	}
	r, err := config.Parse(out.Bytes())
	if err != nil {
		t.Fatalf("roster output does not parse: %v\n%s", err, out.String())
	}
	if len(r.Participants) != 4 {
		t.Fatalf("expected 4 participants, actual %d", len(r.Participants))
	}
}

func TestReportTable(t *testing.T) {
	reports := []report{
		{
			member:  config.Member{ID: "Q"},
			outcome: agreement.Outcome{ID: "Q", Decision: message.Attack, Discrepant: []message.ParticipantID{"P"}},
		},
		{member: config.Member{ID: "P", Faulty: true}, err: agreement.ErrNoQuorum},
	}
	data := reportTable(reports)
	if len(data) != 3 {
		t.Fatalf("expected a header and 2 rows, actual %d rows", len(data))
	}
	if data[1][3] != "P" || data[1][4] != "-" {
		t.Fatalf("unexpected row %v", data[1])
	}
	if !strings.Contains(data[2][2], "no_quorum") {
		t.Fatalf("unexpected row %v", data[2])
	}
}
