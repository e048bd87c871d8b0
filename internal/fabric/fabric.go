// Package fabric implements the Connection Fabric component: for each
// cached address, one connection manager (a bounded pool of keep-alive
// connections to that specific IP, SNI-named back to the bucket's logical
// host), plus the round-robin placement function that pins a block of
// consecutive requests to the same address.
package fabric

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/aws-samples/s3-canary-transport/internal/netutil"
)

// MaxConnections is the keep-alive connection cap per address.
const MaxConnections = 5000

// ConnectTimeout is the TCP connect timeout applied to every connection
// manager.
const ConnectTimeout = 3 * time.Second

// TransfersPerAddress is the placement-function window size.
const TransfersPerAddress = 10

// AddressBook is the narrow collaborator the fabric reads addresses from.
type AddressBook interface {
	Addresses() []string
}

// ConnectionManager owns one bounded HTTP client pinned to a single resolved
// IP address, with TLS SNI set to the endpoint's logical host.
type ConnectionManager struct {
	// ID identifies this manager for the lifetime of the process, so log
	// lines and metrics can tell two managers pinned to the same re-spawned
	// address apart.
	ID      uuid.UUID
	Address string
	Client  *http.Client
}

// Fabric is the ordered sequence of connection managers, indexed 1-to-1 with
// the Address Book at the time of spawning.
type Fabric struct {
	mu            sync.RWMutex
	managers      []*ConnectionManager
	useCount      uint64
	activeStreams int64

	logicalHost string
	port        int
	tls         bool

	book   AddressBook
	logger logr.Logger
}

// New returns a Fabric with no managers spawned yet.
func New(book AddressBook, logicalHost string, port int, useTLS bool, logger logr.Logger) *Fabric {
	return &Fabric{
		book:        book,
		logicalHost: logicalHost,
		port:        port,
		tls:         useTLS,
		logger:      logger.WithName("fabric"),
	}
}

// Spawn discards any existing managers (resetting use_count to 0) and
// creates one manager per address currently in the Address Book.
func (f *Fabric) Spawn() {
	addrs := f.book.Addresses()
	managers := make([]*ConnectionManager, 0, len(addrs))
	for _, addr := range addrs {
		managers = append(managers, f.newManager(addr))
	}

	f.mu.Lock()
	f.managers = managers
	atomic.StoreUint64(&f.useCount, 0)
	f.mu.Unlock()

	f.logger.Info("spawned connection managers", "count", len(managers))
}

// Purge discards all connection managers, resetting use_count to 0. Idle
// connections close as the underlying transports are garbage collected.
func (f *Fabric) Purge() {
	f.mu.Lock()
	f.managers = nil
	atomic.StoreUint64(&f.useCount, 0)
	f.mu.Unlock()
}

// Count returns the current number of spawned connection managers.
func (f *Fabric) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.managers)
}

func (f *Fabric) newManager(addr string) *ConnectionManager {
	dialAddr := netutil.JoinAddress(addr, f.port)
	dialer := &net.Dialer{Timeout: ConnectTimeout}

	transport := &http.Transport{
		MaxConnsPerHost:     MaxConnections,
		MaxIdleConnsPerHost: MaxConnections,
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, dialAddr)
		},
	}
	if f.tls {
		transport.TLSClientConfig = &tls.Config{ServerName: f.logicalHost}
	}

	return &ConnectionManager{
		ID:      uuid.New(),
		Address: addr,
		Client:  &http.Client{Transport: transport},
	}
}

// Next lazily warms DNS and spawns managers if none exist, then returns the
// manager selected by the placement function
// `((use_count+1)/TransfersPerAddress) mod |managers|`. Safe for concurrent
// callers.
func (f *Fabric) Next(ctx context.Context, warmUp func(context.Context) error) (*ConnectionManager, error) {
	if f.Count() == 0 {
		if warmUp != nil {
			if err := warmUp(ctx); err != nil {
				return nil, fmt.Errorf("fabric: warm up before spawn: %w", err)
			}
		}
		f.Spawn()
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.managers) == 0 {
		return nil, fmt.Errorf("fabric: no connection managers available")
	}

	u := atomic.AddUint64(&f.useCount, 1)
	idx := int((u)/TransfersPerAddress) % len(f.managers)
	mgr := f.managers[idx]
	f.logger.V(2).Info("selected connection manager", "id", mgr.ID, "address", mgr.Address)
	return mgr, nil
}

// OpenConnectionCount returns the current in-flight request counter. This is
// a monitoring hook, not a capacity control.
func (f *Fabric) OpenConnectionCount() int64 {
	return atomic.LoadInt64(&f.activeStreams)
}

// BeginStream increments the in-flight counter; callers MUST call EndStream
// exactly once regardless of outcome.
func (f *Fabric) BeginStream() {
	atomic.AddInt64(&f.activeStreams, 1)
}

// EndStream decrements the in-flight counter.
func (f *Fabric) EndStream() {
	atomic.AddInt64(&f.activeStreams, -1)
}
