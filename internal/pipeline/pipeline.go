// Package pipeline implements the Signed Request Pipeline component: given
// an assembled request, it signs, acquires a connection from the fabric, and
// drives the HTTP stream to completion, accounting for in-flight requests.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"
)

// Sentinel errors covering the pipeline's opaque failure kinds.
var (
	// ErrSignFailed means the signer surfaced an error; the request was
	// never sent.
	ErrSignFailed = errors.New("pipeline: sign failed")
	// ErrAcquireFailed means the connection fabric could not hand back an
	// open connection.
	ErrAcquireFailed = errors.New("pipeline: acquire connection failed")
	// ErrStreamError means a transport-level error occurred while driving
	// the HTTP stream.
	ErrStreamError = errors.New("pipeline: stream error")
	// ErrBadStatus means the transport succeeded but the HTTP status did
	// not match what the caller expected.
	ErrBadStatus = errors.New("pipeline: unexpected status")
)

// ConnectionManager is the narrow fabric collaborator the pipeline acquires
// a client from.
type ConnectionManager interface {
	// Next returns the connection manager to use for the next request.
	Next(ctx context.Context, warmUp func(context.Context) error) (client HTTPDoer, err error)
	BeginStream()
	EndStream()
}

// HTTPDoer is satisfied by *http.Client; narrowed for testability.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Signer is the narrow signing collaborator (mirrors internal/signing.Signer
// without importing it, keeping pipeline decoupled from the signing
// implementation).
type Signer interface {
	Sign(ctx context.Context, req *http.Request) error
}

// Pipeline drives the sign -> acquire -> stream sequence for one request.
type Pipeline struct {
	signer Signer
	fabric ConnectionManager
	warmUp func(context.Context) error
	logger logr.Logger
}

// New returns a Pipeline. warmUp is invoked by the fabric when no connection
// managers exist yet, lazily warming the address book before the first
// dial; it may be nil if the caller guarantees managers are already
// spawned.
func New(signer Signer, fabric ConnectionManager, warmUp func(context.Context) error, logger logr.Logger) *Pipeline {
	return &Pipeline{
		signer: signer,
		fabric: fabric,
		warmUp: warmUp,
		logger: logger.WithName("pipeline"),
	}
}

// MakeSignedRequest signs req, acquires a connection manager, activates the
// stream, and returns the response. The in-flight counter is incremented
// before the stream is activated and decremented unconditionally as soon as
// client.Do returns (response headers received or transport error), ahead
// of any caller observation of the result. Reading the response body is not
// counted as in flight.
// Acquisition success does not imply no stream callbacks were already
// observed; this preserves that ordering by not exposing an "acquired"
// event separate from the response.
func (p *Pipeline) MakeSignedRequest(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := p.signer.Sign(ctx, req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignFailed, err)
	}

	client, err := p.fabric.Next(ctx, p.warmUp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAcquireFailed, err)
	}

	p.fabric.BeginStream()
	resp, err := client.Do(req)
	p.fabric.EndStream()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamError, err)
	}
	return resp, nil
}
