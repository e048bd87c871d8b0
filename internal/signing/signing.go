// Package signing implements the Signing Context component: a fixed SigV4
// configuration (service "s3", header-style signing, unsigned payload) and
// the narrow Signer collaborator the pipeline signs requests through.
package signing

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// unsignedPayload is the sentinel SigV4 uses in place of a body hash when the
// payload is not signed — this engine always signs with an unsigned body.
const unsignedPayload = "UNSIGNED-PAYLOAD"

// Config is the fixed per-engine signing context.
type Config struct {
	Region   string
	Service  string // always "s3"
	Provider aws.CredentialsProvider
}

// NewStaticConfig builds a Config from a static access/secret key pair, the
// pattern protoc/s3.Client.GetS3API follows for credential wiring.
func NewStaticConfig(region, accessKey, secretKey string) Config {
	return Config{
		Region:   region,
		Service:  "s3",
		Provider: credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
	}
}

// Signer is the narrow collaborator the pipeline signs requests through.
// Implementations MUST NOT mutate req's body.
type Signer interface {
	Sign(ctx context.Context, req *http.Request) error
}

// SigV4Signer signs requests with AWS SigV4, header-style, unsigned payload,
// at request time — built on aws-sdk-go-v2/aws/signer/v4.
type SigV4Signer struct {
	cfg    Config
	signer *v4.Signer
}

// NewSigV4Signer returns a Signer bound to cfg.
func NewSigV4Signer(cfg Config) *SigV4Signer {
	return &SigV4Signer{cfg: cfg, signer: v4.NewSigner()}
}

// Sign signs req in place with the engine's fixed signing context.
func (s *SigV4Signer) Sign(ctx context.Context, req *http.Request) error {
	creds, err := s.cfg.Provider.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("signing: retrieve credentials: %w", err)
	}

	if err := s.signer.SignHTTP(ctx, creds, req, unsignedPayload, s.cfg.Service, s.cfg.Region, time.Now()); err != nil {
		return fmt.Errorf("signing: sign request: %w", err)
	}
	return nil
}
