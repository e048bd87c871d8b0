// Package addressbook implements the Address Book component: a cached list
// of resolved IPv4 addresses for the bucket endpoint, populated by a DNS
// warm-up procedure that blocks until a target population is reached.
package addressbook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// TransfersPerAddress is the window size for pinning consecutive requests to
// one address, shared with internal/fabric's placement function.
const TransfersPerAddress = 10

// MetricsPublisher is the narrow metrics collaborator the Address Book
// reports to while warming up.
type MetricsPublisher interface {
	AddDataPoint(name, unit string, value float64)
}

// Book is an ordered, de-duplicated sequence of IPv4 address strings for one
// logical host. It is safe for concurrent reads once warm-up has completed;
// mutation during active traffic is the caller's responsibility to avoid.
type Book struct {
	mu        sync.RWMutex
	addrs     []string
	host      string
	resolver  Resolver
	publisher MetricsPublisher
	logger    logr.Logger
}

// New returns an empty Book for host, resolved through resolver.
func New(host string, resolver Resolver, publisher MetricsPublisher, logger logr.Logger) *Book {
	return &Book{
		host:      host,
		resolver:  resolver,
		publisher: publisher,
		logger:    logger.WithName("addressbook"),
	}
}

// Addresses returns a snapshot copy of the currently cached addresses.
func (b *Book) Addresses() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.addrs))
	copy(out, b.addrs)
	return out
}

// Len returns the number of cached addresses.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.addrs)
}

// WarmDNSCache blocks until at least ceil(numTransfers/TransfersPerAddress)
// distinct A-records are cached for the host. It has no internal deadline;
// callers needing a bound must cancel ctx.
func (b *Book) WarmDNSCache(ctx context.Context, numTransfers int) error {
	target := ceilDiv(numTransfers, TransfersPerAddress)
	b.logger.Info("warming dns cache", "host", b.host, "target", target)

	for {
		go func() {
			_, _ = b.resolver.LookupHost(context.Background(), b.host)
		}()

		count, err := b.resolver.CachedAddressCount(b.host)
		if err != nil {
			return fmt.Errorf("addressbook: count addresses: %w", err)
		}
		b.publisher.AddDataPoint("S3AddressCount", "Count", float64(count))
		if count >= target {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}

	for b.Len() < target {
		addrs, err := b.resolver.LookupHost(ctx, b.host)
		if err != nil {
			return fmt.Errorf("addressbook: resolve host: %w", err)
		}
		b.append(addrs)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	b.logger.Info("dns cache warmed", "addresses", b.Len())
	return nil
}

// SeedAddressCache clears the book and inserts a single caller-supplied
// address, used for tests or forced-IP scenarios.
func (b *Book) SeedAddressCache(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addrs = []string{addr}
}

func (b *Book) append(fresh []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addrs = mergeUnique(b.addrs, fresh)
}

func ceilDiv(n, d int) int {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}
