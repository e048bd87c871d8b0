package addressbook

import (
	"context"
	"net"
	"sync"
)

// Resolver is the narrow DNS collaborator the Address Book depends on. It is
// deliberately smaller than net.Resolver so tests can substitute a fake
// without pulling in real DNS.
type Resolver interface {
	// LookupHost resolves host and reports the distinct IPv4 ("A-record")
	// addresses found. IPv6 results MUST be filtered out by the
	// implementation, mirroring the source's A-record-only invariant.
	LookupHost(ctx context.Context, host string) (addrs []string, err error)

	// CachedAddressCount reports how many A-record addresses the resolver
	// currently holds for host without performing a new lookup. Warm-up
	// polls this to decide when the population target has been reached.
	CachedAddressCount(host string) (count int, err error)
}

// DefaultResolver is a Resolver backed by net.Resolver. It keeps its own
// address cache because net.Resolver has no built-in one; CachedAddressCount
// reports the size of that cache, populated by prior LookupHost calls.
// Warm-up calls LookupHost from a background goroutine while polling
// CachedAddressCount from the caller's goroutine, so the cache is guarded
// by a mutex rather than assuming single-goroutine access.
type DefaultResolver struct {
	resolver *net.Resolver

	mu    sync.Mutex
	cache map[string][]string
}

// NewDefaultResolver returns a Resolver that performs real DNS lookups.
func NewDefaultResolver() *DefaultResolver {
	return &DefaultResolver{
		resolver: net.DefaultResolver,
		cache:    make(map[string][]string),
	}
}

func (r *DefaultResolver) LookupHost(ctx context.Context, host string) (addrs []string, err error) {
	ips, err := r.resolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			out = append(out, v4.String())
		}
	}

	r.mu.Lock()
	r.cache[host] = mergeUnique(r.cache[host], out)
	r.mu.Unlock()

	return out, nil
}

func (r *DefaultResolver) CachedAddressCount(host string) (count int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache[host]), nil
}

func mergeUnique(existing, fresh []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, a := range existing {
		seen[a] = struct{}{}
	}
	merged := existing
	for _, a := range fresh {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		merged = append(merged, a)
	}
	return merged
}
