// Package network provides the channels participants exchange protocol
// messages through.
//
// # Peer
//
// Peer is an HTTP(S) endpoint. Every participant runs a server that accepts
// one wire line per POST request and queues the decoded message in a bounded
// inbox. Sending retries until the recipient accepts the line or the send
// timeout expires, so participants can be started in any order.
//
// # Hub
//
// Hub is an in-memory network for running a whole roster inside one process.
// Messages still travel as encoded wire lines, so no state is shared between
// participants. Links can be dropped to simulate lost messages.
//
// # TLS
//
// WithCertificate and WithLimitedCAs switch a Peer to mutually authenticated
// HTTPS. GenerateSelfSignedCert creates the certificate of a participant.
package network
