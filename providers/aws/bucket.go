package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/convergent-io/convergent/internal/engine"
)

// BucketConfig declares an S3 bucket.
type BucketConfig struct {
	// Bucket is the globally unique bucket name. Defaults to the derived
	// physical name.
	Bucket     string `json:"bucket"`
	Versioning bool   `json:"versioning"`
	// ForceDestroy empties the bucket before deletion. Without it, deleting
	// a non-empty bucket fails.
	ForceDestroy bool `json:"forceDestroy"`
}

// BucketState is the persisted output of a bucket resource.
type BucketState struct {
	Name string `json:"name"`
	ARN  string `json:"arn"`
}

func (p *Provider) handleBucket(ctx context.Context, hc *engine.HandlerContext, props map[string]any) (*engine.Result, error) {
	if hc.Phase == engine.PhaseDelete {
		if err := p.ensureClients(ctx); err != nil {
			return nil, err
		}
		return p.deleteBucket(ctx, hc)
	}

	var desired BucketConfig
	if err := p.decodeProps(props, &desired); err != nil {
		return nil, err
	}
	if desired.Bucket == "" {
		desired.Bucket = hc.PhysicalName
	}

	if hc.Phase == engine.PhaseUpdate {
		prevName, _ := hc.PreviousOutput["name"].(string)
		if desired.Bucket != prevName {
			// Buckets cannot be renamed.
			return engine.Replace(), nil
		}
		if err := p.ensureClients(ctx); err != nil {
			return nil, err
		}
		if err := p.putVersioning(ctx, desired); err != nil {
			return nil, err
		}
		return engine.Updated(bucketOutput(desired.Bucket)), nil
	}

	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}
	if hc.Adopt {
		return p.adoptBucket(ctx, desired)
	}
	return p.createBucket(ctx, desired)
}

func (p *Provider) createBucket(ctx context.Context, desired BucketConfig) (*engine.Result, error) {
	input := &s3.CreateBucketInput{Bucket: &desired.Bucket}
	if region := p.cfg.Region; region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(region),
		}
	}
	// S3 throttles are transient; name conflicts are not and fall through
	// for the adoption path.
	err := engine.RetryWithBackoff(ctx, nil, func() error {
		_, err := p.s3Client.CreateBucket(ctx, input)
		return err
	}, engine.IsTransientError)
	if err != nil {
		switch errorCode(err) {
		case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
			return nil, &engine.ConflictError{NaturalKey: desired.Bucket, Err: err}
		}
		return nil, fmt.Errorf("failed to create bucket %s: %w", desired.Bucket, err)
	}
	if err := p.putVersioning(ctx, desired); err != nil {
		return nil, err
	}
	return engine.Created(bucketOutput(desired.Bucket)), nil
}

// adoptBucket verifies the bucket exists and is reachable, then returns it
// as though freshly created, transferring ownership to the engine.
func (p *Provider) adoptBucket(ctx context.Context, desired BucketConfig) (*engine.Result, error) {
	_, err := p.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &desired.Bucket})
	if err != nil {
		if errorCode(err) == "NotFound" {
			return nil, fmt.Errorf("cannot adopt bucket %s: %w", desired.Bucket, engine.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to look up bucket %s: %w", desired.Bucket, err)
	}
	if err := p.putVersioning(ctx, desired); err != nil {
		return nil, err
	}
	return engine.Created(bucketOutput(desired.Bucket)), nil
}

func (p *Provider) deleteBucket(ctx context.Context, hc *engine.HandlerContext) (*engine.Result, error) {
	name, _ := hc.PreviousOutput["name"].(string)
	if name == "" {
		return engine.Destroyed(), nil
	}

	var prior BucketConfig
	if err := p.decodeProps(hc.PreviousInputs, &prior); err == nil && prior.ForceDestroy {
		if err := p.emptyBucket(ctx, name); err != nil {
			return nil, err
		}
	}

	if _, err := p.s3Client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: &name}); err != nil {
		switch errorCode(err) {
		case "NoSuchBucket", "NotFound":
			return nil, fmt.Errorf("%w: %v", engine.ErrNotFound, err)
		}
		return nil, fmt.Errorf("failed to delete bucket %s: %w", name, err)
	}
	return engine.Destroyed(), nil
}

// emptyBucket deletes every object so the bucket itself can be removed.
func (p *Provider) emptyBucket(ctx context.Context, name string) error {
	paginator := s3.NewListObjectsV2Paginator(p.s3Client, &s3.ListObjectsV2Input{Bucket: &name})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects in bucket %s: %w", name, err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		var objects []s3types.ObjectIdentifier
		for _, obj := range page.Contents {
			objects = append(objects, s3types.ObjectIdentifier{Key: obj.Key})
		}
		_, err = p.s3Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: &name,
			Delete: &s3types.Delete{Objects: objects, Quiet: awssdk.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to empty bucket %s: %w", name, err)
		}
	}
	return nil
}

func (p *Provider) putVersioning(ctx context.Context, desired BucketConfig) error {
	status := s3types.BucketVersioningStatusSuspended
	if desired.Versioning {
		status = s3types.BucketVersioningStatusEnabled
	}
	_, err := p.s3Client.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket:                  &desired.Bucket,
		VersioningConfiguration: &s3types.VersioningConfiguration{Status: status},
	})
	if err != nil {
		return fmt.Errorf("failed to set versioning on bucket %s: %w", desired.Bucket, err)
	}
	return nil
}

func bucketOutput(name string) map[string]any {
	return map[string]any{
		"name": name,
		"arn":  fmt.Sprintf("arn:aws:s3:::%s", name),
	}
}
