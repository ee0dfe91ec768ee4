// Package credentials signs requests to the remote inference service with
// AWS SigV4. Credentials come from the default chain, which covers
// environment variables, shared config files, IRSA, and instance profiles.
package credentials

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
)

// defaultRegion is the fallback region when none is specified.
const defaultRegion = "us-east-1"

// signingService is the SigV4 service name of the inference endpoint.
const signingService = "bedrock"

// emptyPayloadHash is the SHA-256 of an empty body, used for the WebSocket
// upgrade request which carries none.
var emptyPayloadHash = func() string {
	sum := sha256.Sum256(nil)
	return hex.EncodeToString(sum[:])
}()

// Signer signs outgoing HTTP requests with AWS SigV4.
type Signer struct {
	cfg    aws.Config
	signer *v4.Signer
	region string
}

// NewSigner resolves credentials from the default chain for the region.
func NewSigner(ctx context.Context, region string) (*Signer, error) {
	if region == "" {
		region = defaultRegion
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("credentials: load AWS config: %w", err)
	}

	// Prefer explicit environment keys when set so local runs do not need a
	// shared config file.
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		secret := os.Getenv("AWS_SECRET_ACCESS_KEY")
		token := os.Getenv("AWS_SESSION_TOKEN")
		cfg.Credentials = awscreds.NewStaticCredentialsProvider(key, secret, token)
	}

	return &Signer{
		cfg:    cfg,
		signer: v4.NewSigner(),
		region: region,
	}, nil
}

// Region returns the configured AWS region.
func (s *Signer) Region() string {
	return s.region
}

// Sign adds SigV4 authorization headers to the request. The request body
// is assumed empty, as it is for a WebSocket upgrade.
func (s *Signer) Sign(ctx context.Context, req *http.Request) error {
	creds, err := s.cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("credentials: retrieve: %w", err)
	}

	if err := s.signer.SignHTTP(ctx, creds, req, emptyPayloadHash,
		signingService, s.region, time.Now().UTC()); err != nil {
		return fmt.Errorf("credentials: sign request: %w", err)
	}
	return nil
}

// SignHeader returns the SigV4 headers for a GET of the given URL, in the
// form a WebSocket dialer accepts.
func (s *Signer) SignHeader(ctx context.Context, rawURL string) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("credentials: build request: %w", err)
	}
	if err := s.Sign(ctx, req); err != nil {
		return nil, err
	}
	return req.Header, nil
}
