package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Config holds configuration for the S3 state store.
type S3Config struct {
	Bucket string
	// Prefix is the object key prefix all records live under.
	Prefix string
	Region string
	// DynamoDBTable, when set, is used for a conditional-put apply lock.
	DynamoDBTable string
	Profile       string
	// Encrypt enables S3 server-side encryption on record objects.
	Encrypt bool
}

// S3Store keeps one JSON object per record under a key prefix. S3 PUT is
// atomic per object, which satisfies the per-key atomicity contract; List
// is a prefix scan with ListObjectsV2.
type S3Store struct {
	cfg      S3Config
	s3Client *s3.Client
	dbClient *dynamodb.Client
	lockID   string
}

// NewS3Store builds an S3-backed store, loading AWS credentials from the
// standard chain.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 store requires a bucket")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "convergent/state"
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	st := &S3Store{
		cfg:      cfg,
		s3Client: s3.NewFromConfig(awsCfg),
	}
	if cfg.DynamoDBTable != "" {
		st.dbClient = dynamodb.NewFromConfig(awsCfg)
	}
	return st, nil
}

func (s *S3Store) objectKey(scopePath []string, id string) string {
	parts := append([]string{s.cfg.Prefix}, scopePath...)
	return path.Join(append(parts, id+".json")...)
}

func (s *S3Store) Get(ctx context.Context, scopePath []string, id string) (*Record, error) {
	result, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.objectKey(scopePath, id)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrRecordNotFound
		}
		return nil, &CorruptionError{Key: Key(scopePath, id), Err: err}
	}
	defer result.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(result.Body); err != nil {
		return nil, &CorruptionError{Key: Key(scopePath, id), Err: err}
	}
	var rec Record
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		return nil, &CorruptionError{Key: Key(scopePath, id), Err: fmt.Errorf("unreadable record: %w", err)}
	}
	return &rec, nil
}

func (s *S3Store) Put(ctx context.Context, scopePath []string, id string, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return &CorruptionError{Key: Key(scopePath, id), Err: err}
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.objectKey(scopePath, id)),
		Body:   bytes.NewReader(data),
	}
	if s.cfg.Encrypt {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}
	if _, err := s.s3Client.PutObject(ctx, input); err != nil {
		return &CorruptionError{Key: Key(scopePath, id), Err: err}
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, scopePath []string, id string) error {
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.objectKey(scopePath, id)),
	})
	if err != nil && !isNoSuchKey(err) {
		return &CorruptionError{Key: Key(scopePath, id), Err: err}
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, scopePathPrefix []string) ([]*Record, error) {
	prefix := path.Join(append([]string{s.cfg.Prefix}, scopePathPrefix...)...) + "/"

	var records []*Record
	paginator := s3.NewListObjectsV2Paginator(s.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &CorruptionError{Key: Key(scopePathPrefix, ""), Err: err}
		}
		for _, obj := range page.Contents {
			if !strings.HasSuffix(aws.ToString(obj.Key), ".json") {
				continue
			}
			rec, err := s.getByKey(ctx, aws.ToString(obj.Key))
			if err != nil {
				return nil, err
			}
			if rec != nil {
				records = append(records, rec)
			}
		}
	}
	return records, nil
}

func (s *S3Store) getByKey(ctx context.Context, key string) (*Record, error) {
	result, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			// Deleted between list and get.
			return nil, nil
		}
		return nil, &CorruptionError{Key: key, Err: err}
	}
	defer result.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(result.Body); err != nil {
		return nil, &CorruptionError{Key: key, Err: err}
	}
	var rec Record
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		return nil, &CorruptionError{Key: key, Err: fmt.Errorf("unreadable record: %w", err)}
	}
	return &rec, nil
}

// Lock takes the apply lock via a DynamoDB conditional put. Without a lock
// table configured, locking is a no-op.
func (s *S3Store) Lock(ctx context.Context) error {
	if s.dbClient == nil {
		return nil
	}
	s.lockID = fmt.Sprintf("convergent-%d-%d", os.Getpid(), time.Now().UnixNano())

	_, err := s.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.cfg.DynamoDBTable),
		Item: map[string]dbtypes.AttributeValue{
			"LockID":  &dbtypes.AttributeValueMemberS{Value: s.cfg.Prefix},
			"Info":    &dbtypes.AttributeValueMemberS{Value: s.lockID},
			"Created": &dbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(LockID)"),
	})
	if err != nil {
		var cond *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return fmt.Errorf("state is locked by another process. If this is an error, "+
				"manually delete the lock item with LockID=%q from DynamoDB table %q",
				s.cfg.Prefix, s.cfg.DynamoDBTable)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	return nil
}

// Unlock releases the apply lock.
func (s *S3Store) Unlock(ctx context.Context) error {
	if s.dbClient == nil {
		return nil
	}
	_, err := s.dbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.cfg.DynamoDBTable),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: s.cfg.Prefix},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var api smithy.APIError
	if errors.As(err, &api) {
		switch api.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
