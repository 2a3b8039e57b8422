package network

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/luca-patrignani/byzantine-generals/message"
	"github.com/luca-patrignani/byzantine-generals/metrics"
)

const (
	// maxLineSize bounds the body of a single message.
	maxLineSize = 1 << 20
	retryDelay  = 10 * time.Millisecond
)

// ErrUnknownPeer is returned when sending to an address-less participant.
var ErrUnknownPeer = errors.New("unknown peer")

// ErrRejected is returned when the recipient refused a line as malformed.
var ErrRejected = errors.New("message rejected by peer")

// Peer is an HTTP endpoint of the participant ID.
// Addresses[id] is the host:port the participant id listens on.
type Peer struct {
	ID        message.ParticipantID
	Addresses map[message.ParticipantID]string
	server    *http.Server
	handler   *lineHandler
	client    *http.Client
	tlsConfig *tls.Config
	timeout   time.Duration
	inboxSize int
	logger    *slog.Logger
}

// NewPeer creates the endpoint of id. Call Start to accept messages.
func NewPeer(id message.ParticipantID, addresses map[message.ParticipantID]string, opts ...PeerOption) *Peer {
	p := &Peer{
		ID:        id,
		Addresses: copyMap(addresses),
		client:    &http.Client{},
		timeout:   30 * time.Second,
		inboxSize: 64,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.handler = &lineHandler{
		inbox:  make(chan message.Message, p.inboxSize),
		errs:   make(chan error, p.inboxSize),
		logger: p.logger.With("participant", string(id)),
	}
	p.server = &http.Server{
		Addr:              addresses[id],
		Handler:           p.handler,
		ReadHeaderTimeout: p.timeout,
	}
	p.client.Timeout = p.timeout
	return p
}

// Start serves incoming messages on l until Close is called.
func (p *Peer) Start(l net.Listener) {
	if p.tlsConfig != nil {
		l = tls.NewListener(l, p.tlsConfig)
	}
	go func() {
		err := p.server.Serve(l)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("peer server stopped", "participant", string(p.ID), "err", err)
		}
	}()
}

func (p *Peer) Close() error {
	return p.server.Shutdown(context.Background())
}

func (p *Peer) url(to message.ParticipantID) (string, error) {
	addr, ok := p.Addresses[to]
	if !ok {
		return "", fmt.Errorf("%w %s", ErrUnknownPeer, to)
	}
	if p.tlsConfig != nil {
		return "https://" + addr, nil
	}
	return "http://" + addr, nil
}

// Send posts m to the participant to, retrying until it is accepted or the
// peer timeout expires.
func (p *Peer) Send(ctx context.Context, to message.ParticipantID, m message.Message) error {
	line, err := message.Encode(m)
	if err != nil {
		return err
	}
	url, err := p.url(to)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	for {
		status, err := p.post(ctx, url, line)
		switch {
		case err == nil && status == http.StatusAccepted:
			return nil
		case err == nil && status == http.StatusBadRequest:
			metrics.SendFailures.WithLabelValues(string(to)).Inc()
			return fmt.Errorf("%w: %s answered %d", ErrRejected, to, status)
		}
		select {
		case <-ctx.Done():
			metrics.SendFailures.WithLabelValues(string(to)).Inc()
			if err != nil {
				return fmt.Errorf("connection attempts timed out with error %w", err)
			}
			return fmt.Errorf("connection attempts timed out with status code %d", status)
		case <-time.After(retryDelay):
		}
	}
}

func (p *Peer) post(ctx context.Context, url, line string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(line))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Sender", string(p.ID))
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	if err := resp.Body.Close(); err != nil {
		return 0, err
	}
	return resp.StatusCode, nil
}

// Receive returns the next message posted to this peer.
func (p *Peer) Receive(ctx context.Context) (message.Message, error) {
	select {
	case m := <-p.handler.inbox:
		return m, nil
	case err := <-p.handler.errs:
		return message.Message{}, err
	case <-ctx.Done():
		return message.Message{}, ctx.Err()
	}
}

type lineHandler struct {
	inbox  chan message.Message
	errs   chan error
	logger *slog.Logger
}

func (h *lineHandler) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	content, err := io.ReadAll(io.LimitReader(req.Body, maxLineSize))
	if err != nil {
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}
	m, err := message.Decode(string(content))
	if err != nil {
		h.logger.Warn("malformed line received", "sender", req.Header.Get("Sender"), "err", err)
		rw.WriteHeader(http.StatusBadRequest)
		select {
		case h.errs <- err:
		case <-req.Context().Done():
		}
		return
	}
	select {
	case h.inbox <- m:
		rw.WriteHeader(http.StatusAccepted)
	case <-req.Context().Done():
		rw.WriteHeader(http.StatusServiceUnavailable)
	}
}

// CreateListeners opens a localhost listener for every id and returns the
// listeners together with their addresses.
func CreateListeners(ids ...message.ParticipantID) (map[message.ParticipantID]net.Listener, map[message.ParticipantID]string) {
	listeners := make(map[message.ParticipantID]net.Listener)
	addresses := make(map[message.ParticipantID]string)
	for _, id := range ids {
		l, err := net.Listen("tcp", "localhost:0")
		if err != nil {
			panic(err)
		}
		listeners[id] = l
		addresses[id] = l.Addr().String()
	}
	return listeners, addresses
}

func copyMap(original map[message.ParticipantID]string) map[message.ParticipantID]string {
	copied := make(map[message.ParticipantID]string)
	for k, v := range original {
		copied[k] = v
	}
	return copied
}
