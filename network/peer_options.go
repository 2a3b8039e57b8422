package network

import (
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"net/http"
	"time"
)

type PeerOption func(*Peer)

// WithTimeout bounds the delivery attempts of a single message.
func WithTimeout(timeout time.Duration) PeerOption {
	return func(p *Peer) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithInboxSize sets how many received messages are buffered.
func WithInboxSize(n int) PeerOption {
	return func(p *Peer) {
		if n > 0 {
			p.inboxSize = n
		}
	}
}

func WithLogger(l *slog.Logger) PeerOption {
	return func(p *Peer) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithCertificate(cert tls.Certificate) PeerOption {
	return func(p *Peer) {
		if p.tlsConfig == nil {
			p.tlsConfig = &tls.Config{}
		}
		p.tlsConfig.Certificates = append(p.tlsConfig.Certificates, cert)
		p.client.Transport = &http.Transport{
			TLSClientConfig: p.tlsConfig,
		}
	}
}

func WithLimitedCAs(certPool *x509.CertPool) PeerOption {
	return func(p *Peer) {
		if p.tlsConfig == nil {
			p.tlsConfig = &tls.Config{}
		}
		p.tlsConfig.RootCAs = certPool
		p.tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		p.tlsConfig.ClientCAs = certPool
		p.client.Transport = &http.Transport{
			TLSClientConfig: p.tlsConfig,
		}
	}
}
