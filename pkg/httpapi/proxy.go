package httpapi

import (
	"net"
	"net/http"
	"strings"
)

// TrustedProxyPolicy honors X-Forwarded-For only when the direct peer
// (r.RemoteAddr) matches one of the configured CIDRs, falling back to
// RemoteAddr otherwise. This is the production TrustedProxyPolicy a
// deployment behind a load balancer plugs into pkg/juicebox.New via
// WithTrustedProxyPolicy; juicebox.Service's own default trusts nothing.
type TrustedProxyPolicy struct {
	trusted []*net.IPNet
}

// NewTrustedProxyPolicy parses cidrs, skipping any that fail to parse.
func NewTrustedProxyPolicy(cidrs []string) *TrustedProxyPolicy {
	p := &TrustedProxyPolicy{}
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			continue
		}
		p.trusted = append(p.trusted, n)
	}
	return p
}

func (p *TrustedProxyPolicy) isTrusted(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range p.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ResolveClientAddr returns the peer address, honoring the left-most entry
// of X-Forwarded-For only when the direct peer is a trusted proxy.
func (p *TrustedProxyPolicy) ResolveClientAddr(r *http.Request) (string, error) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	if len(p.trusted) == 0 || !p.isTrusted(host) {
		return host, nil
	}

	fwd := r.Header.Get("X-Forwarded-For")
	if fwd == "" {
		return host, nil
	}
	first := strings.TrimSpace(strings.Split(fwd, ",")[0])
	if first == "" {
		return host, nil
	}
	return first, nil
}
