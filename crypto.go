// RSA key recovery is explicitly out of scope for the core.
// Cryptographic primitives are declared here as an external collaborator
// interface; MD5, base64 and the random source are used directly from the
// standard library elsewhere in the core (auth.go, challenge.go) since
// those are ordinary library calls rather than AirPlay-specific secrets.

package main

import "errors"

type RSAMode int

const (
	// RSAModeKey recovers the 16-byte AES session key from the
	// base64-decoded a=rsaaeskey SDP attribute.
	RSAModeKey RSAMode = iota
	// RSAModeAuth signs the Apple-Challenge response buffer.
	RSAModeAuth
)

var ErrRSANotConfigured = errors.New("RSA provider not configured")

// RSAProvider performs RSA operations with the AirPlay private key. The
// core never holds key material itself; CreateAirplayServer (server.go)
// installs nullRSAProvider and main.go does not replace it.
type RSAProvider interface {
	Apply(mode RSAMode, data []byte) ([]byte, error)
}

// nullRSAProvider is the default collaborator until a real key is wired in;
// it fails closed rather than silently accepting unencrypted sessions.
type nullRSAProvider struct{}

func (nullRSAProvider) Apply(mode RSAMode, data []byte) ([]byte, error) {
	return nil, ErrRSANotConfigured
}
