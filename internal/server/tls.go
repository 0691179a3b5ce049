package server

import (
	"crypto/tls"
	"fmt"
)

// LoadTLSConfig builds a server tls.Config from a certificate/key pair on
// disk. Certificate/key *generation* is out of scope for this service
// (spec.md §1); this is just the minimal wiring a listener needs, grounded
// on the teacher's generateTLSConfig in server/tls.go (same Certificates
// slice shape), but loading rather than minting the pair — --certfile and
// --keyfile are required, not optional.
func LoadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("[tls] load key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}
