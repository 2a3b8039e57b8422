// Package metrics exposes prometheus collectors describing protocol activity:
// messages exchanged per round, expired collection deadlines, flagged
// participants and the decisions reached.
package metrics

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ProtocolMetrics holds every collector of this package.
	ProtocolMetrics = prometheus.NewRegistry()

	// MessagesSent counts protocol messages handed to a channel, by round.
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agreement_messages_sent_total",
		Help: "Number of protocol messages sent",
	}, []string{"round"})
	// MessagesReceived counts protocol messages accepted by a coordinator, by round.
	MessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agreement_messages_received_total",
		Help: "Number of protocol messages received",
	}, []string{"round"})
	// CollectTimeouts counts collection phases that ended on their deadline.
	CollectTimeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agreement_collect_timeouts_total",
		Help: "Number of collection phases closed by their deadline",
	}, []string{"round"})
	// Discrepancies counts participants flagged as discrepant.
	Discrepancies = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agreement_discrepant_participants_total",
		Help: "Number of participants caught reporting inconsistent values",
	})
	// Decisions counts decisions reached, by value.
	Decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agreement_decisions_total",
		Help: "Number of decisions reached",
	}, []string{"value"})
	// RunFailures counts aborted runs, by error kind.
	RunFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agreement_run_failures_total",
		Help: "Number of participant runs aborted with an error",
	}, []string{"kind"})
	// SendFailures counts transport-level delivery failures, by peer.
	SendFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agreement_send_failures_total",
		Help: "Number of times a message could not be delivered to a peer",
	}, []string{"peer"})

	bindOnce sync.Once
)

func bindMetrics() {
	bindOnce.Do(func() {
		ProtocolMetrics.MustRegister(
			prometheus.NewGoCollector(),
			MessagesSent,
			MessagesReceived,
			CollectTimeouts,
			Discrepancies,
			Decisions,
			RunFailures,
			SendFailures,
		)
	})
}

// Handler serves the registry in the prometheus exposition format.
func Handler() http.Handler {
	bindMetrics()
	return promhttp.HandlerFor(ProtocolMetrics, promhttp.HandlerOpts{Registry: ProtocolMetrics})
}

// Start serves /metrics on bind until the returned listener is closed.
func Start(logger *slog.Logger, bind string) (net.Listener, error) {
	l, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	s := http.Server{Addr: l.Addr().String(), Handler: mux}
	logger.Debug("metrics listener started", "at", l.Addr().String())
	go func() {
		if err := s.Serve(l); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Warn("metrics listener finished", "err", err)
		}
	}()
	return l, nil
}
