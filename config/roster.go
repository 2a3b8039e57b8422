// Package config loads the roster a run is bootstrapped from: who takes part,
// where each participant listens, what it starts with and whether it lies.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/luca-patrignani/byzantine-generals/message"
)

const (
	// DefaultPort is appended to addresses that do not name a port.
	DefaultPort = 5000
	// DefaultCollectTimeout bounds each collection phase.
	DefaultCollectTimeout = 10 * time.Second
	// DefaultSendTimeout bounds the delivery attempts of a single message.
	DefaultSendTimeout = 5 * time.Second
)

// ErrInvalidRoster is matched by every validation failure.
var ErrInvalidRoster = errors.New("invalid roster")

// Member is one roster entry.
type Member struct {
	ID      string `toml:"id"`
	Address string `toml:"address"`
	Value   string `toml:"value"`
	Faulty  bool   `toml:"faulty,omitempty"`
	// Lies maps a recipient to the value a faulty member sends it. Recipients
	// not listed receive Value. A faulty member without lies flips a coin per
	// recipient.
	Lies map[string]string `toml:"lies,omitempty"`
}

// Roster is the whole bootstrap configuration of a run.
type Roster struct {
	CollectTimeout time.Duration `toml:"-"`
	SendTimeout    time.Duration `toml:"-"`
	TieBreak       []string      `toml:"tie_break,omitempty"`
	TLS            bool          `toml:"tls,omitempty"`
	Participants   []Member      `toml:"participant"`
}

type rosterTOML struct {
	CollectTimeout string   `toml:"collect_timeout,omitempty"`
	SendTimeout    string   `toml:"send_timeout,omitempty"`
	TieBreak       []string `toml:"tie_break,omitempty"`
	TLS            bool     `toml:"tls,omitempty"`
	Participants   []Member `toml:"participant"`
}

// Default returns the four generals scenario: Q, R and S are loyal and want
// to attack, P is faulty and tells R to retreat.
func Default() *Roster {
	r := &Roster{
		CollectTimeout: DefaultCollectTimeout,
		SendTimeout:    DefaultSendTimeout,
		TieBreak:       []string{string(message.Retreat), string(message.Attack)},
	}
	for i, id := range []string{"Q", "R", "S", "P"} {
		r.Participants = append(r.Participants, Member{
			ID:      id,
			Address: net.JoinHostPort("127.0.0.1", strconv.Itoa(DefaultPort+i)),
			Value:   string(message.Attack),
		})
	}
	r.Participants[3].Faulty = true
	r.Participants[3].Lies = map[string]string{"R": string(message.Retreat)}
	return r
}

// Load reads and validates a roster file.
func Load(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roster: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a TOML roster.
func Parse(data []byte) (*Roster, error) {
	var rt rosterTOML
	if _, err := toml.Decode(string(data), &rt); err != nil {
		return nil, fmt.Errorf("decoding roster: %w", err)
	}
	r := &Roster{
		CollectTimeout: DefaultCollectTimeout,
		SendTimeout:    DefaultSendTimeout,
		TieBreak:       rt.TieBreak,
		TLS:            rt.TLS,
		Participants:   rt.Participants,
	}
	var err error
	if rt.CollectTimeout != "" {
		if r.CollectTimeout, err = time.ParseDuration(rt.CollectTimeout); err != nil {
			return nil, fmt.Errorf("%w: collect_timeout: %v", ErrInvalidRoster, err)
		}
	}
	if rt.SendTimeout != "" {
		if r.SendTimeout, err = time.ParseDuration(rt.SendTimeout); err != nil {
			return nil, fmt.Errorf("%w: send_timeout: %v", ErrInvalidRoster, err)
		}
	}
	for i := range r.Participants {
		r.Participants[i].Address = normalizeAddress(r.Participants[i].Address)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// TOML returns the roster encoded as a roster file.
func (r *Roster) TOML() ([]byte, error) {
	rt := rosterTOML{
		CollectTimeout: r.CollectTimeout.String(),
		SendTimeout:    r.SendTimeout.String(),
		TieBreak:       r.TieBreak,
		TLS:            r.TLS,
		Participants:   r.Participants,
	}
	var b bytes.Buffer
	if err := toml.NewEncoder(&b).Encode(rt); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Validate checks the roster can drive a run.
func (r *Roster) Validate() error {
	if len(r.Participants) < 2 {
		return fmt.Errorf("%w: at least two participants are required, %d given", ErrInvalidRoster, len(r.Participants))
	}
	if r.CollectTimeout <= 0 {
		return fmt.Errorf("%w: collect timeout must be positive", ErrInvalidRoster)
	}
	if r.SendTimeout <= 0 {
		return fmt.Errorf("%w: send timeout must be positive", ErrInvalidRoster)
	}
	var errs []error
	ids := make(map[string]bool, len(r.Participants))
	faulty := 0
	for i, m := range r.Participants {
		if err := message.ParticipantID(m.ID).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("participant[%d] id: %w", i, err))
			continue
		}
		if ids[m.ID] {
			errs = append(errs, fmt.Errorf("participant[%d]: duplicate id %s", i, m.ID))
		}
		ids[m.ID] = true
		if err := message.Value(m.Value).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("participant %s value: %w", m.ID, err))
		}
		if m.Faulty {
			faulty++
		} else if len(m.Lies) > 0 {
			errs = append(errs, fmt.Errorf("participant %s has lies but is not faulty", m.ID))
		}
		for to, v := range m.Lies {
			if err := message.Value(v).Validate(); err != nil {
				errs = append(errs, fmt.Errorf("participant %s lie to %s: %w", m.ID, to, err))
			}
		}
	}
	for _, m := range r.Participants {
		for to := range m.Lies {
			if !ids[to] || to == m.ID {
				errs = append(errs, fmt.Errorf("participant %s lies to unknown peer %s", m.ID, to))
			}
		}
	}
	if faulty > 1 {
		errs = append(errs, fmt.Errorf("at most one faulty participant is tolerated, %d given", faulty))
	}
	for _, v := range r.TieBreak {
		if err := message.Value(v).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("tie_break: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRoster, errors.Join(errs...))
	}
	return nil
}

// IDs returns the participant identifiers in roster order.
func (r *Roster) IDs() []message.ParticipantID {
	ids := make([]message.ParticipantID, len(r.Participants))
	for i, m := range r.Participants {
		ids[i] = message.ParticipantID(m.ID)
	}
	return ids
}

// Member returns the roster entry of id.
func (r *Roster) Member(id message.ParticipantID) (Member, bool) {
	for _, m := range r.Participants {
		if m.ID == string(id) {
			return m, true
		}
	}
	return Member{}, false
}

// Addresses maps every participant to its network address.
func (r *Roster) Addresses() map[message.ParticipantID]string {
	addrs := make(map[message.ParticipantID]string, len(r.Participants))
	for _, m := range r.Participants {
		addrs[message.ParticipantID(m.ID)] = m.Address
	}
	return addrs
}

// TieBreakValues returns the tie-break priority as protocol values.
func (r *Roster) TieBreakValues() []message.Value {
	vs := make([]message.Value, len(r.TieBreak))
	for i, v := range r.TieBreak {
		vs[i] = message.Value(v)
	}
	return vs
}

// normalizeAddress appends DefaultPort to addresses that carry no port.
func normalizeAddress(addr string) string {
	if addr == "" {
		return addr
	}
	host, port, err := splitHostPort(addr, DefaultPort)
	if err != nil {
		return addr
	}
	return net.JoinHostPort(host, port)
}

// splitHostPort splits an address into host and port, using defaultPort if no port is specified.
func splitHostPort(addr string, defaultPort int) (string, string, error) {
	ipaddr, port, err := net.SplitHostPort(addr)
	if err != nil {
		addr = addr + ":" + strconv.Itoa(defaultPort)
		ipaddr, port, err = net.SplitHostPort(addr)
		if err != nil {
			return "", "", err
		}
	}
	return ipaddr, port, nil
}
