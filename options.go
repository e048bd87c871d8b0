package canary

import (
	"github.com/aws-samples/s3-canary-transport/internal/addressbook"
	"github.com/aws-samples/s3-canary-transport/metrics"
)

const (
	defaultMaxStreams      = 500
	defaultMaxPartAttempts = 5
)

// Option configures an Engine via the functional-options pattern.
type Option func(*Engine)

// WithResolver overrides the DNS resolver the Address Book uses. Default is
// a net.Resolver-backed addressbook.DefaultResolver.
func WithResolver(resolver addressbook.Resolver) Option {
	return func(e *Engine) { e.resolver = resolver }
}

// WithSigner overrides the signer used to sign every request. Default is a
// SigV4Signer built from Config's static access/secret key.
func WithSigner(signer Signer) Option {
	return func(e *Engine) { e.signer = signer }
}

// WithMetricsPublisher overrides the metrics collaborator. Default is a
// no-op publisher; pass metrics.NewOTelPublisher to wire OpenTelemetry.
func WithMetricsPublisher(publisher metrics.Publisher) Option {
	return func(e *Engine) { e.publisher = publisher }
}

// WithMaxStreams overrides the in-flight part-stream budget shared across
// all multipart transfers. Default 500.
func WithMaxStreams(n int) Option {
	return func(e *Engine) { e.maxStreams = n }
}

// WithMaxPartAttempts bounds the part-retry loop, which would otherwise be
// open-ended. Default 5.
func WithMaxPartAttempts(n uint) Option {
	return func(e *Engine) { e.maxPartAttempts = n }
}

// WithPartRateLimiter shapes how fast the part processor injects
// part-upload bodies, so a canary run can emulate a target sustained
// throughput instead of bursting as fast as the local machine allows. It
// wraps each part body in an internal/iometer.TransferReader, a
// byte-counting/rate-limiting reader. Default: no limit.
func WithPartRateLimiter(bytesPerSecond float64, burst int) Option {
	return func(e *Engine) {
		e.partRateLimitBPS = bytesPerSecond
		e.partRateLimitBurst = burst
	}
}

// WithSeedAddress forces a single address into the Address Book instead of
// running DNS warm-up.
func WithSeedAddress(addr string) Option {
	return func(e *Engine) { e.seedAddress = addr }
}

// WithPort overrides the TCP port connection managers dial, instead of the
// 80/443 Config.SendEncrypted derives. Real AWS endpoints never need this;
// S3-compatible endpoints under test (minio, localstack) commonly listen on
// a non-standard port.
func WithPort(port int) Option {
	return func(e *Engine) { e.port = port }
}
