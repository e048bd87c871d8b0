package canary

import (
	"context"
	"io"

	"github.com/go-logr/logr"

	"github.com/aws-samples/s3-canary-transport/internal/addressbook"
	"github.com/aws-samples/s3-canary-transport/internal/fabric"
	"github.com/aws-samples/s3-canary-transport/internal/iometer"
	"github.com/aws-samples/s3-canary-transport/internal/pipeline"
	"github.com/aws-samples/s3-canary-transport/internal/signing"
	"github.com/aws-samples/s3-canary-transport/metrics"
	"github.com/aws-samples/s3-canary-transport/multipart"
	"github.com/aws-samples/s3-canary-transport/objectops"
)

// Signer re-exports internal/signing.Signer so callers can implement
// WithSigner without importing an internal package.
type Signer = signing.Signer

// noopPublisher discards every metric; the zero-value default before
// WithMetricsPublisher wires a real one.
type noopPublisher struct{}

func (noopPublisher) AddDataPoint(name, unit string, value float64) {}
func (noopPublisher) AddTransferStatus(success bool)                {}

// Engine wires the Address Book, Connection Fabric, Signing Context, Signed
// Request Pipeline, Object Operations, and Multipart Orchestrator into one
// cooperating unit.
type Engine struct {
	cfg    Config
	logger logr.Logger

	resolver           addressbook.Resolver
	signer             Signer
	publisher          metrics.Publisher
	maxStreams         int
	maxPartAttempts    uint
	partRateLimitBPS   float64
	partRateLimitBurst int
	seedAddress        string
	port               int

	book         *addressbook.Book
	fabric       *fabric.Fabric
	pipeline     *pipeline.Pipeline
	ops          *objectops.Ops
	orchestrator *multipart.Orchestrator
}

// New validates cfg and builds an Engine ready to warm up and issue traffic.
func New(cfg Config, logger logr.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(context.Background()); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:             cfg,
		logger:          logger.WithName("canary"),
		resolver:        addressbook.NewDefaultResolver(),
		signer:          signing.NewSigV4Signer(signing.NewStaticConfig(cfg.Region, cfg.AccessKey, cfg.SecretKey)),
		publisher:       noopPublisher{},
		maxStreams:      defaultMaxStreams,
		maxPartAttempts: defaultMaxPartAttempts,
		port:            cfg.port(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.book = addressbook.New(cfg.logicalHost(), e.resolver, e.publisher, e.logger)
	if e.seedAddress != "" {
		e.book.SeedAddressCache(e.seedAddress)
	}

	e.fabric = fabric.New(e.book, cfg.logicalHost(), e.port, cfg.SendEncrypted, e.logger)

	e.pipeline = pipeline.New(e.signer, fabricAdapter{e.fabric}, e.warmUp, e.logger)

	address := func() string { return cfg.logicalHost() }
	e.ops = objectops.New(e.pipeline, cfg.scheme(), cfg.logicalHost(), address, e.logger)

	parts := partOpsAdapter{ops: e.ops, partRateLimitBPS: e.partRateLimitBPS, partRateLimitBurst: e.partRateLimitBurst}
	e.orchestrator = multipart.New(e.pipeline, parts, e.publisher, multipart.Options{
		Scheme:          cfg.scheme(),
		LogicalHost:     cfg.logicalHost(),
		Address:         address,
		MaxStreams:      e.maxStreams,
		MaxPartAttempts: e.maxPartAttempts,
	}, e.logger)

	return e, nil
}

// warmUp is the lazy DNS warm-up the fabric invokes from Next when no
// managers exist yet, so the very first request has at least one address
// to dial before anything is spawned. With a seed address it does nothing.
func (e *Engine) warmUp(ctx context.Context) error {
	if e.seedAddress != "" {
		return nil
	}
	return e.book.WarmDNSCache(ctx, e.cfg.NumTransfers)
}

// WarmUp blocks until the Address Book reaches its population target,
// then spawns one connection manager per address. With WithSeedAddress the
// DNS warm-up is skipped and managers are spawned for the seeded address.
// Callers SHOULD call this before issuing traffic; Next() will also do it
// lazily the first time it is needed.
func (e *Engine) WarmUp(ctx context.Context) error {
	if err := e.warmUp(ctx); err != nil {
		return err
	}
	e.fabric.Spawn()
	return nil
}

// OpenConnectionCount returns the current in-flight request counter, a
// monitoring hook.
func (e *Engine) OpenConnectionCount() int64 {
	return e.fabric.OpenConnectionCount()
}

// PutObject issues a single-shot PUT.
func (e *Engine) PutObject(ctx context.Context, key string, body io.Reader, size int64, retrieveETag bool) (etag string, err error) {
	return e.ops.PutObject(ctx, key, body, size, retrieveETag)
}

// GetObject issues a single-shot GET.
func (e *Engine) GetObject(ctx context.Context, key string, partNumber int, onBody func([]byte)) error {
	return e.ops.GetObject(ctx, key, partNumber, onBody)
}

// PutObjectMultipart drives the upload state machine.
func (e *Engine) PutObjectMultipart(ctx context.Context, key string, objectSize int64, numParts int,
	sendPart func(partIndex int) (multipart.ReadSeekCloser, int64, error), onFinished func(err error, numParts int),
) {
	e.orchestrator.PutObjectMultipart(ctx, key, objectSize, numParts, sendPart, onFinished)
}

// GetObjectMultipart drives the download state machine.
func (e *Engine) GetObjectMultipart(ctx context.Context, key string, numParts int,
	receivePart func(ts *multipart.TransferState, data []byte), onFinished func(err error, numParts int),
) {
	e.orchestrator.GetObjectMultipart(ctx, key, numParts, receivePart, onFinished)
}

// fabricAdapter satisfies internal/pipeline.ConnectionManager on top of
// internal/fabric.Fabric, narrowing *fabric.ConnectionManager to the
// pipeline's HTTPDoer contract.
type fabricAdapter struct{ f *fabric.Fabric }

func (a fabricAdapter) Next(ctx context.Context, warmUp func(context.Context) error) (pipeline.HTTPDoer, error) {
	mgr, err := a.f.Next(ctx, warmUp)
	if err != nil {
		return nil, err
	}
	return mgr.Client, nil
}

func (a fabricAdapter) BeginStream() { a.f.BeginStream() }
func (a fabricAdapter) EndStream()   { a.f.EndStream() }

// partOpsAdapter wraps objectops.Ops to satisfy multipart.PartObjectOps,
// optionally shaping PutObject's body through a rate limiter (see
// WithPartRateLimiter).
type partOpsAdapter struct {
	ops                *objectops.Ops
	partRateLimitBPS   float64
	partRateLimitBurst int
}

func (a partOpsAdapter) PutObject(ctx context.Context, key string, body io.Reader, size int64, retrieveETag bool) (string, error) {
	if a.partRateLimitBPS > 0 {
		var sent int64
		tr := iometer.NewTransferReader(ctx, body, &sent)
		tr.SetRateLimit(a.partRateLimitBPS, a.partRateLimitBurst)
		body = tr
	}
	return a.ops.PutObject(ctx, key, body, size, retrieveETag)
}

func (a partOpsAdapter) GetObject(ctx context.Context, key string, partNumber int, onBody func([]byte)) error {
	return a.ops.GetObject(ctx, key, partNumber, onBody)
}
