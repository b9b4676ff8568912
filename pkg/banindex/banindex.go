// Package banindex evaluates whether a client fingerprint matches any
// exact or network-scope ban.
package banindex

import (
	"context"
	"fmt"
	"net/netip"
	"regexp"
	"strings"
	"sync"

	"github.com/marmos91/juicebox/internal/fingerprint"
	"github.com/marmos91/juicebox/internal/logger"
	"github.com/marmos91/juicebox/pkg/kv"
)

// SubjectKind distinguishes the two ban variants.
type SubjectKind int

const (
	// KindExact bans one fingerprint.
	KindExact SubjectKind = iota
	// KindNetwork bans a fingerprinted network range.
	KindNetwork
)

// IPVersion records whether a network ban was computed over IPv4 or IPv6,
// so only addresses of the matching family are compared.
type IPVersion int

const (
	VersionV4 IPVersion = 4
	VersionV6 IPVersion = 6
)

// Ban is one entry in the ban index: either an Exact hash or a Network
// hash+prefix+version, plus optional administrative metadata.
type Ban struct {
	Kind    SubjectKind
	Hash    string
	Prefix  int
	Version IPVersion
	Label   string
	Reason  string
	Created int64
}

var hex64 = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Index holds the current set of bans, keyed by hash for exact bans and by
// hash for network bans (a network's hash already encodes its prefix and
// version, computed by fingerprint.FingerprintNetwork).
type Index struct {
	mu       sync.RWMutex
	exact    map[string]Ban
	networks map[string]Ban
}

// New returns an empty Index.
func New() *Index {
	return &Index{exact: make(map[string]Ban), networks: make(map[string]Ban)}
}

// Add inserts or replaces a ban.
func (idx *Index) Add(b Ban) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	switch b.Kind {
	case KindExact:
		idx.exact[b.Hash] = b
	case KindNetwork:
		idx.networks[b.Hash] = b
	}
}

// Remove deletes a ban by its hash, trying both kinds.
func (idx *Index) Remove(hash string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.exact, hash)
	delete(idx.networks, hash)
}

// List returns every current ban.
func (idx *Index) List() []Ban {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]Ban, 0, len(idx.exact)+len(idx.networks))
	for _, b := range idx.exact {
		out = append(out, b)
	}
	for _, b := range idx.networks {
		out = append(out, b)
	}
	return out
}

// IsBanned evaluates whether addr (a textual client address, or a raw
// 64-hex fingerprint hash) matches any exact or network ban (spec §4.F).
func (idx *Index) IsBanned(fp *fingerprint.Service, addr string) bool {
	// A raw hex hash must also match Exact bans by direct equality, so
	// the admin UI can reference a subject by hash alone.
	if hex64.MatchString(strings.ToLower(addr)) {
		idx.mu.RLock()
		_, banned := idx.exact[strings.ToLower(addr)]
		idx.mu.RUnlock()
		if banned {
			return true
		}
	}

	parsed, err := netip.ParseAddr(addr)
	if err != nil {
		// Unparsable addresses cannot match; bans are always over
		// fingerprints.
		return false
	}

	_, ipHash, ok := fp.FingerprintIP(addr)
	if ok {
		idx.mu.RLock()
		_, banned := idx.exact[ipHash]
		idx.mu.RUnlock()
		if banned {
			return true
		}
	}

	version := VersionV4
	if parsed.Unmap().Is6() {
		version = VersionV6
	}

	idx.mu.RLock()
	networks := make([]Ban, 0, len(idx.networks))
	for _, b := range idx.networks {
		if b.Version == version {
			networks = append(networks, b)
		}
	}
	idx.mu.RUnlock()

	for _, b := range networks {
		_, _, netHash, ok := fp.FingerprintNetwork(addr, b.Prefix)
		if ok && netHash == b.Hash {
			return true
		}
	}
	return false
}

// LoadFromStore repopulates idx from the bans namespace of store. Call this
// once at startup, before traffic is admitted.
func LoadFromStore(ctx context.Context, store kv.Store, idx *Index) error {
	entries, err := store.LoadHash(ctx, kv.NamespaceBans)
	if err != nil {
		return err
	}
	for _, e := range entries {
		var b Ban
		if err := kv.Decode(e.Payload, &b); err != nil {
			logger.Warn("banindex: failed to decode ban, skipping", logger.Field(e.Field), logger.Err(err))
			continue
		}
		idx.Add(b)
	}
	return nil
}

// Persist adds b to idx and mirrors it to the bans namespace of store, keyed
// by its hash. Persistence failures are logged and non-fatal (spec §7); idx
// stays authoritative.
func Persist(ctx context.Context, store kv.Store, idx *Index, b Ban) {
	idx.Add(b)
	payload, err := kv.Encode(b)
	if err != nil {
		logger.Warn("banindex: failed to encode ban", logger.BanHash(b.Hash), logger.Err(err))
		return
	}
	if err := store.PutField(ctx, kv.NamespaceBans, b.Hash, payload); err != nil {
		logger.Warn("banindex: failed to persist ban", logger.BanHash(b.Hash), logger.Err(err))
	}
}

// Unpersist removes hash from idx and clears its field in the bans
// namespace of store.
func Unpersist(ctx context.Context, store kv.Store, idx *Index, hash string) {
	idx.Remove(hash)
	if err := store.DeleteField(ctx, kv.NamespaceBans, hash); err != nil {
		logger.Warn("banindex: failed to delete persisted ban", logger.BanHash(hash), logger.Err(err))
	}
}

// BanSubject is the admitted form of administrator input: an address, a
// CIDR network, or a raw hash, converted into a Ban with no Label/Reason
// set yet.
type BanSubject = Ban

// AdmitSubject accepts a textual address, an "address/prefix" CIDR, or a
// raw 64-hex hash, and produces the corresponding Ban (without Label,
// Reason, or Created set).
func AdmitSubject(fp *fingerprint.Service, input string) (BanSubject, error) {
	input = strings.TrimSpace(input)

	if hex64.MatchString(strings.ToLower(input)) {
		return Ban{Kind: KindExact, Hash: strings.ToLower(input)}, nil
	}

	if strings.Contains(input, "/") {
		prefix, err := netip.ParsePrefix(input)
		if err != nil {
			return Ban{}, fmt.Errorf("banindex: invalid CIDR %q: %w", input, err)
		}
		_, netPrefix, hash, ok := fp.FingerprintNetwork(prefix.Addr().String(), prefix.Bits())
		if !ok {
			return Ban{}, fmt.Errorf("banindex: cannot fingerprint network %q", input)
		}
		v := VersionV4
		if prefix.Addr().Unmap().Is6() {
			v = VersionV6
		}
		return Ban{Kind: KindNetwork, Hash: hash, Prefix: netPrefix, Version: v}, nil
	}

	_, hash, ok := fp.FingerprintIP(input)
	if !ok {
		return Ban{}, fmt.Errorf("banindex: %q is not a valid address, CIDR, or hash", input)
	}
	return Ban{Kind: KindExact, Hash: hash}, nil
}
