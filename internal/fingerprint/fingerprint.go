// Package fingerprint derives stable keyed hashes of client addresses so
// that ownership, bans, and audit references never store a raw address.
package fingerprint

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/netip"
)

// Version identifies the fingerprint construction. Bumping it invalidates
// every outstanding ban and ownership record, since a restart with a new
// secret (or a new version) changes every hash.
const Version = 1

const (
	tagAddress = byte(0x01)
	tagNetwork = byte(0x02)
)

// Service derives keyed hashes from a process-scoped secret. The secret is
// loaded once at startup; there is no rotation without a restart.
type Service struct {
	secret [32]byte
}

// New returns a Service keyed by secret. secret must be at least 32 bytes;
// only the first 32 are used.
func New(secret []byte) (*Service, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("fingerprint: secret must be at least 32 bytes, got %d", len(secret))
	}
	s := &Service{}
	copy(s.secret[:], secret[:32])
	return s, nil
}

// FingerprintIP parses text as an IP address, canonicalizes it, and returns
// the construction version and lowercase hex digest. It reports false if
// text does not parse as an address.
func (s *Service) FingerprintIP(text string) (version int, hexHash string, ok bool) {
	addr, err := netip.ParseAddr(text)
	if err != nil {
		return 0, "", false
	}
	addr = addr.Unmap()

	mac := hmac.New(sha256.New, s.secret[:])
	mac.Write([]byte{tagAddress, Version})
	mac.Write(addr.AsSlice())
	return Version, hex.EncodeToString(mac.Sum(nil)), true
}

// FingerprintNetwork zeroes the host bits of addr/prefix and keyed-hashes
// the resulting network.
func (s *Service) FingerprintNetwork(addr string, prefix int) (version int, outPrefix int, hexHash string, ok bool) {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return 0, 0, "", false
	}
	ip = ip.Unmap()

	bits := ip.BitLen()
	if prefix < 0 || prefix > bits {
		return 0, 0, "", false
	}

	p, err := ip.Prefix(prefix)
	if err != nil {
		return 0, 0, "", false
	}
	network := p.Masked().Addr()

	mac := hmac.New(sha256.New, s.secret[:])
	mac.Write([]byte{tagNetwork, Version, byte(prefix)})
	mac.Write(network.AsSlice())
	return Version, prefix, hex.EncodeToString(mac.Sum(nil)), true
}

// FingerprintCIDR parses a "addr/prefix" string and fingerprints the
// resulting network.
func (s *Service) FingerprintCIDR(cidr string) (version int, prefix int, hexHash string, ok bool) {
	p, err := netip.ParsePrefix(cidr)
	if err != nil {
		return 0, 0, "", false
	}
	return s.FingerprintNetwork(p.Addr().String(), p.Bits())
}
