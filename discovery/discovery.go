// Package discovery lets participants started on the same host find each
// other and assemble a roster without writing one by hand. Every participant
// serves its own roster entry on the first free port of a range and scans the
// rest of the range for the others.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/luca-patrignani/byzantine-generals/config"
)

type Discover struct {
	// Entries yields every participant found, each one at most once.
	Entries chan config.Member

	self      config.Member
	host      string
	port      uint16
	startPort uint16
	endPort   uint16
	attempts  uint
	interval  time.Duration
	server    *http.Server
	client    *http.Client
	logger    *slog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

type handler struct {
	entry []byte
}

func (h handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/toml")
	_, _ = w.Write(h.entry)
}

// New advertises self on the first free port of the range and starts
// scanning for the other participants.
func New(self config.Member, opts ...Option) (*Discover, error) {
	d := &Discover{
		self:      self,
		host:      "localhost",
		startPort: 9000,
		endPort:   9010,
		attempts:  1,
		interval:  time.Second,
		client:    &http.Client{Timeout: time.Second},
		logger:    slog.Default(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.startPort > d.endPort {
		return nil, fmt.Errorf("empty port range %d-%d", d.startPort, d.endPort)
	}
	d.Entries = make(chan config.Member, int(d.endPort-d.startPort)+1)

	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(self); err != nil {
		return nil, fmt.Errorf("encoding entry of %s: %w", self.ID, err)
	}

	var l net.Listener
	var err error
	for port := d.startPort; ; port++ {
		l, err = net.Listen("tcp", net.JoinHostPort(d.host, strconv.Itoa(int(port))))
		if err == nil {
			d.port = port
			break
		}
		if port == d.endPort {
			return nil, fmt.Errorf("no free port in %d-%d: %w", d.startPort, d.endPort, err)
		}
	}
	d.server = &http.Server{Handler: handler{entry: []byte(buf.String())}}
	go func() {
		if err := d.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("discovery server stopped", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go func() {
		defer close(d.done)
		seen := map[string]struct{}{self.ID: {}}
		for i := range d.attempts {
			if i > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(d.interval):
				}
			}
			d.search(ctx, seen)
		}
	}()
	d.logger.Debug("discovery started", "participant", self.ID, "port", d.port)
	return d, nil
}

// Port returns the port the entry is served on.
func (d *Discover) Port() uint16 { return d.port }

func (d *Discover) search(ctx context.Context, seen map[string]struct{}) {
	for port := d.startPort; ; port++ {
		if port != d.port {
			if m, err := d.fetch(ctx, port); err == nil {
				if _, ok := seen[m.ID]; !ok {
					seen[m.ID] = struct{}{}
					d.logger.Debug("participant found", "peer", m.ID, "port", port)
					d.Entries <- m
				}
			}
		}
		if port == d.endPort || ctx.Err() != nil {
			return
		}
	}
}

func (d *Discover) fetch(ctx context.Context, port uint16) (config.Member, error) {
	url := "http://" + net.JoinHostPort(d.host, strconv.Itoa(int(port)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return config.Member{}, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return config.Member{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return config.Member{}, err
	}
	var m config.Member
	if _, err := toml.Decode(string(body), &m); err != nil {
		return config.Member{}, fmt.Errorf("decoding entry on port %d: %w", port, err)
	}
	if m.ID == "" {
		return config.Member{}, fmt.Errorf("entry on port %d has no id", port)
	}
	return m, nil
}

// Gather waits until n other participants have been found. It fails when ctx
// expires or the scans end first.
func (d *Discover) Gather(ctx context.Context, n int) ([]config.Member, error) {
	found := make([]config.Member, 0, n)
	for len(found) < n {
		select {
		case m := <-d.Entries:
			found = append(found, m)
		case <-d.done:
			// drain what the last scan queued
			select {
			case m := <-d.Entries:
				found = append(found, m)
				continue
			default:
			}
			return found, fmt.Errorf("found %d of %d participants", len(found), n)
		case <-ctx.Done():
			return found, ctx.Err()
		}
	}
	return found, nil
}

// Roster builds a roster out of self and the participants found.
func Roster(self config.Member, found []config.Member) (*config.Roster, error) {
	r := &config.Roster{
		CollectTimeout: config.DefaultCollectTimeout,
		SendTimeout:    config.DefaultSendTimeout,
		Participants:   append([]config.Member{self}, found...),
	}
	slices.SortFunc(r.Participants, func(a, b config.Member) int {
		return strings.Compare(a.ID, b.ID)
	})
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (d *Discover) Close() error {
	d.cancel()
	<-d.done
	return d.server.Shutdown(context.Background())
}
