// Package canarytest holds test doubles for the engine's collaborators, plus
// a testcontainers/minio integration suite that drives the real wire
// protocol end-to-end. The integration suite uses FakeResolver; the unit
// specs of the other packages define their own local fakes.
package canarytest

import (
	"context"
	"net/http"
	"sync"
)

// FakeResolver resolves every host to a fixed, caller-supplied set of
// addresses without touching real DNS.
type FakeResolver struct {
	mu    sync.Mutex
	Addrs []string
}

// NewFakeResolver returns a FakeResolver that always reports addrs.
func NewFakeResolver(addrs ...string) *FakeResolver {
	return &FakeResolver{Addrs: addrs}
}

func (f *FakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Addrs))
	copy(out, f.Addrs)
	return out, nil
}

func (f *FakeResolver) CachedAddressCount(host string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Addrs), nil
}

// PassthroughSigner satisfies the pipeline-shaped Signer interface without
// signing anything; useful for specs exercising HTTP wiring in isolation
// from SigV4.
type PassthroughSigner struct{}

func (PassthroughSigner) Sign(ctx context.Context, req *http.Request) error { return nil }

// RecordingPublisher is a metrics.Publisher that records every call for
// assertions instead of exporting anything.
type RecordingPublisher struct {
	mu         sync.Mutex
	DataPoints []DataPoint
	Statuses   []bool
}

// DataPoint is one recorded AddDataPoint call.
type DataPoint struct {
	Name  string
	Unit  string
	Value float64
}

func (p *RecordingPublisher) AddDataPoint(name, unit string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DataPoints = append(p.DataPoints, DataPoint{Name: name, Unit: unit, Value: value})
}

func (p *RecordingPublisher) AddTransferStatus(success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Statuses = append(p.Statuses, success)
}

// Snapshot returns copies of the recorded data points and statuses, safe to
// inspect while the engine may still be running.
func (p *RecordingPublisher) Snapshot() ([]DataPoint, []bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	points := make([]DataPoint, len(p.DataPoints))
	copy(points, p.DataPoints)
	statuses := make([]bool, len(p.Statuses))
	copy(statuses, p.Statuses)
	return points, statuses
}
