// Package canary wires the five components of the S3 canary transport
// engine — Address Book, Connection Fabric, Signing Context, Signed Request
// Pipeline, and Multipart Orchestrator — into one Engine, configured via
// functional options.
package canary

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate uses a single instance of validate; it caches struct info.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
}

// Config is the engine's construction struct, validated with struct tags.
type Config struct {
	// Bucket is the S3 bucket name this engine issues requests against.
	Bucket string `validate:"required"`
	// Region is the AWS region used both for the logical host and SigV4
	// signing.
	Region string `validate:"required"`
	// AccessKey/SecretKey are static SigV4 credentials.
	AccessKey string `validate:"required"`
	SecretKey string `validate:"required"`
	// SendEncrypted selects TLS (port 443, SNI to the logical host) vs
	// plaintext (port 80).
	SendEncrypted bool
	// NumTransfers sizes the Address Book's DNS warm-up population target:
	// ceil(NumTransfers/TransfersPerAddress) addresses.
	NumTransfers int `validate:"required,min=1"`
}

func (c Config) Validate(ctx context.Context) error {
	if err := validate.StructCtx(ctx, c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// logicalHost derives "{bucket}.s3.{region}.amazonaws.com".
func (c Config) logicalHost() string {
	return fmt.Sprintf("%s.s3.%s.amazonaws.com", c.Bucket, c.Region)
}

func (c Config) scheme() string {
	if c.SendEncrypted {
		return "https"
	}
	return "http"
}

func (c Config) port() int {
	if c.SendEncrypted {
		return 443
	}
	return 80
}
