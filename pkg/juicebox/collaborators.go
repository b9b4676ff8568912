// Package juicebox wires every component (§4.A-L) into one Service facade
// that pkg/httpapi calls into. It owns startup (loading persisted state) and
// the background GC loop; it knows nothing about HTTP.
package juicebox

import (
	"context"
	"net"
	"net/http"

	"github.com/marmos91/juicebox/pkg/reportlog"
)

// CachePurger is an optional outer collaborator invoked after a successful
// delete, so a CDN or edge cache can be told to drop the object. The core
// never blocks a user response on it (spec §7: "External calls ... never
// block the user response and their failures are logged only").
type CachePurger interface {
	Purge(ctx context.Context, storageName string) error
}

// AbuseNotifier is an optional outer collaborator invoked after a report is
// recorded, e.g. to email an operator. Like CachePurger, failures are
// logged only and never surfaced to the reporting client.
type AbuseNotifier interface {
	NotifyReport(ctx context.Context, r reportlog.Record) error
}

// TrustedProxyPolicy resolves the address a request should be fingerprinted
// against, honoring forwarded-for headers only from configured trusted
// proxies. Request parsing and header trust policy are named out of scope
// for the core, so this is the seam a real HTTP deployment plugs into.
type TrustedProxyPolicy interface {
	ResolveClientAddr(r *http.Request) (string, error)
}

// noopCachePurger is the default CachePurger: no cache layer is configured,
// so purging is a no-op rather than an error.
type noopCachePurger struct{}

func (noopCachePurger) Purge(context.Context, string) error { return nil }

// noopAbuseNotifier is the default AbuseNotifier: reports are still
// recorded in the report log, just not relayed anywhere.
type noopAbuseNotifier struct{}

func (noopAbuseNotifier) NotifyReport(context.Context, reportlog.Record) error { return nil }

// directRemoteAddrPolicy is the default TrustedProxyPolicy: trust
// r.RemoteAddr only, ignoring every forwarded-for header. A deployment
// behind a load balancer supplies a policy that checks the peer against a
// trusted CIDR list before honoring X-Forwarded-For.
type directRemoteAddrPolicy struct{}

func (directRemoteAddrPolicy) ResolveClientAddr(r *http.Request) (string, error) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr, nil
	}
	return host, nil
}
