// Package aws provides resource kinds backed by AWS: S3 buckets and
// DynamoDB tables. Name collisions on create surface as adoption-capable
// conflicts, matching the docker provider's behavior.
package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/go-playground/validator/v10"

	"github.com/convergent-io/convergent/internal/engine"
	"github.com/convergent-io/convergent/internal/state"
)

// Resource kinds served by this provider.
const (
	KindBucket = "aws:s3:bucket"
	KindTable  = "aws:dynamodb:table"
)

// Config selects the AWS credential context for all aws kinds.
type Config struct {
	Region  string
	Profile string
}

// Provider holds shared AWS clients for all aws kinds.
type Provider struct {
	cfg      Config
	initOnce sync.Once
	initErr  error
	s3Client *s3.Client
	dbClient *dynamodb.Client
	validate *validator.Validate
}

// New builds a provider. AWS clients are created lazily on first use so
// that construction never needs credentials.
func New(cfg Config) *Provider {
	return &Provider{cfg: cfg, validate: validator.New()}
}

// Register binds all aws kinds into a registry.
func (p *Provider) Register(reg *engine.Registry) {
	reg.Register(KindBucket, p.handleBucket)
	reg.Register(KindTable, p.handleTable)
}

// ensureClients initializes the shared clients exactly once. Handlers for
// distinct logical ids may run concurrently, so init must be race-free.
func (p *Provider) ensureClients(ctx context.Context) error {
	p.initOnce.Do(func() {
		var opts []func(*awsconfig.LoadOptions) error
		if p.cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(p.cfg.Region))
		}
		if p.cfg.Profile != "" {
			opts = append(opts, awsconfig.WithSharedConfigProfile(p.cfg.Profile))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			p.initErr = fmt.Errorf("failed to load AWS config: %w", err)
			return
		}
		p.s3Client = s3.NewFromConfig(cfg)
		p.dbClient = dynamodb.NewFromConfig(cfg)
	})
	return p.initErr
}

// decodeProps converts loose props into a typed config and validates it.
func (p *Provider) decodeProps(props map[string]any, out any) error {
	raw, err := json.Marshal(revealSecrets(props))
	if err != nil {
		return engine.Validationf("unserializable props: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return engine.Validationf("invalid props: %v", err)
	}
	if err := p.validate.Struct(out); err != nil {
		return engine.Validationf("invalid props: %v", err)
	}
	return nil
}

func revealSecrets(v any) any {
	switch val := v.(type) {
	case state.Secret:
		return val.Reveal()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = revealSecrets(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = revealSecrets(inner)
		}
		return out
	default:
		return val
	}
}

// errorCode extracts the AWS API error code, or "" for non-API errors.
func errorCode(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}
