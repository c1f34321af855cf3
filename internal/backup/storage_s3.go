package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// S3StorageProvider implements StorageProvider for Amazon S3 and S3-compatible stores
type S3StorageProvider struct {
	client s3iface.S3API
	bucket string
	prefix string
}

// NewS3StorageProvider creates a new S3StorageProvider instance. Without static
// credentials the default AWS credential chain is used.
func NewS3StorageProvider(config *S3Config) (*S3StorageProvider, error) {
	if config == nil {
		return nil, NewValidationError("S3 storage configuration is required", nil)
	}
	if config.Bucket == "" || config.Region == "" {
		return nil, NewValidationError("S3 bucket and region are required", nil)
	}

	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
	}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, NewStorageError("failed to create AWS session", err)
	}

	return NewS3StorageProviderWithClient(s3.New(sess), config.Bucket, config.Prefix), nil
}

// NewS3StorageProviderWithClient wraps an existing S3 client
func NewS3StorageProviderWithClient(client s3iface.S3API, bucket, prefix string) *S3StorageProvider {
	return &S3StorageProvider{
		client: client,
		bucket: bucket,
		prefix: normalizePrefix(prefix),
	}
}

// Put uploads an object
func (s3p *S3StorageProvider) Put(ctx context.Context, key string, data []byte) error {
	if err := validateObjectKey(key); err != nil {
		return err
	}

	_, err := s3p.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s3p.bucket),
		Key:         aws.String(s3p.prefix + key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentTypeFor(key)),
	})
	if err != nil {
		return NewStorageError("failed to upload object to S3", err).WithContext("key", key)
	}
	return nil
}

// Get downloads an object
func (s3p *S3StorageProvider) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateObjectKey(key); err != nil {
		return nil, err
	}

	result, err := s3p.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s3p.bucket),
		Key:    aws.String(s3p.prefix + key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, objectNotFound(key, err)
		}
		return nil, NewStorageError("failed to download object from S3", err).WithContext("key", key)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, NewStorageError("failed to read object body", err).WithContext("key", key)
	}
	return data, nil
}

// Delete removes an object
func (s3p *S3StorageProvider) Delete(ctx context.Context, key string) error {
	if err := validateObjectKey(key); err != nil {
		return err
	}

	_, err := s3p.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s3p.bucket),
		Key:    aws.String(s3p.prefix + key),
	})
	if err != nil && !isS3NotFound(err) {
		return NewStorageError("failed to delete object from S3", err).WithContext("key", key)
	}
	return nil
}

// List pages through the bucket below the provider prefix
func (s3p *S3StorageProvider) List(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s3p.bucket),
		Prefix: aws.String(s3p.prefix + prefix),
	}

	err := s3p.client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				keys = append(keys, strings.TrimPrefix(aws.StringValue(obj.Key), s3p.prefix))
			}
			return true
		})
	if err != nil {
		return nil, NewStorageError("failed to list objects in S3", err)
	}
	return keys, nil
}

// Location returns the s3:// URI of a key
func (s3p *S3StorageProvider) Location(key string) string {
	return fmt.Sprintf("s3://%s/%s%s", s3p.bucket, s3p.prefix, key)
}

// HealthCheck verifies that the bucket is reachable
func (s3p *S3StorageProvider) HealthCheck(ctx context.Context) error {
	_, err := s3p.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s3p.bucket),
	})
	if err != nil {
		return NewStorageError(fmt.Sprintf("S3 bucket %s is not accessible", s3p.bucket), err)
	}
	return nil
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

func contentTypeFor(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".sql"):
		return "application/sql"
	default:
		return "application/octet-stream"
	}
}
