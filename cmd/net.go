package main

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"github.com/luca-patrignani/byzantine-generals/config"
	"github.com/luca-patrignani/byzantine-generals/message"
	"github.com/luca-patrignani/byzantine-generals/network"
)

const rosterBundle = "roster.pem"

// startPeer listens on the roster address of id and serves its peer.
func startPeer(r *config.Roster, id message.ParticipantID, logger *slog.Logger, opts ...network.PeerOption) (*network.Peer, error) {
	member, ok := r.Member(id)
	if !ok {
		return nil, fmt.Errorf("participant %s is not in the roster", id)
	}
	l, err := net.Listen("tcp", member.Address)
	if err != nil {
		return nil, fmt.Errorf("%s failed to listen on %s: %w", id, member.Address, err)
	}
	all := append([]network.PeerOption{
		network.WithTimeout(r.SendTimeout),
		network.WithLogger(logger),
		network.WithInboxSize(4 * len(r.Participants)),
	}, opts...)
	peer := network.NewPeer(id, r.Addresses(), all...)
	peer.Start(l)
	return peer, nil
}

// startPeers serves every participant of r. When the roster enables tls, a
// throwaway certificate is generated for each of them.
func startPeers(r *config.Roster, logger *slog.Logger) (map[message.ParticipantID]*network.Peer, error) {
	tlsOpts := map[message.ParticipantID][]network.PeerOption{}
	if r.TLS {
		certs, pool, err := generateCertificates(r)
		if err != nil {
			return nil, err
		}
		for id, cert := range certs {
			tlsOpts[id] = []network.PeerOption{network.WithCertificate(cert), network.WithLimitedCAs(pool)}
		}
	}
	peers := make(map[message.ParticipantID]*network.Peer, len(r.Participants))
	for _, id := range r.IDs() {
		p, err := startPeer(r, id, logger, tlsOpts[id]...)
		if err != nil {
			for _, started := range peers {
				_ = started.Close()
			}
			return nil, err
		}
		peers[id] = p
	}
	return peers, nil
}

func generateCertificates(r *config.Roster) (map[message.ParticipantID]tls.Certificate, *x509.CertPool, error) {
	pool := x509.NewCertPool()
	certs := make(map[message.ParticipantID]tls.Certificate, len(r.Participants))
	for _, m := range r.Participants {
		cert, certPEM, err := network.GenerateSelfSignedCert(m.Address)
		if err != nil {
			return nil, nil, fmt.Errorf("certificate for %s: %w", m.ID, err)
		}
		pool.AppendCertsFromPEM(certPEM)
		certs[message.ParticipantID(m.ID)] = cert
	}
	return certs, pool, nil
}

// writeCertificates stores <id>.crt and <id>.key for every participant in
// dir, along with roster.pem bundling every certificate.
func writeCertificates(r *config.Roster, dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	var bundle []byte
	for _, m := range r.Participants {
		cert, certPEM, err := network.GenerateSelfSignedCert(m.Address)
		if err != nil {
			return fmt.Errorf("certificate for %s: %w", m.ID, err)
		}
		keyDER, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
		if err != nil {
			return fmt.Errorf("key for %s: %w", m.ID, err)
		}
		keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
		if err := os.WriteFile(filepath.Join(dir, m.ID+".crt"), certPEM, 0o600); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, m.ID+".key"), keyPEM, 0o600); err != nil {
			return err
		}
		bundle = append(bundle, certPEM...)
	}
	return os.WriteFile(filepath.Join(dir, rosterBundle), bundle, 0o600)
}

// loadTLSOptions reads the certificate of id and the roster bundle from dir.
func loadTLSOptions(dir string, id message.ParticipantID) ([]network.PeerOption, error) {
	cert, err := tls.LoadX509KeyPair(filepath.Join(dir, string(id)+".crt"), filepath.Join(dir, string(id)+".key"))
	if err != nil {
		return nil, fmt.Errorf("loading certificate of %s: %w", id, err)
	}
	bundle, err := os.ReadFile(filepath.Join(dir, rosterBundle))
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(bundle) {
		return nil, fmt.Errorf("no certificate found in %s", rosterBundle)
	}
	return []network.PeerOption{network.WithCertificate(cert), network.WithLimitedCAs(pool)}, nil
}
