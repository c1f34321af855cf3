package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStorageProvider implements StorageProvider for Google Cloud Storage
type GCSStorageProvider struct {
	client     *storage.Client
	bucketName string
	prefix     string
}

// NewGCSStorageProvider creates a new GCSStorageProvider instance
func NewGCSStorageProvider(ctx context.Context, config *GCSConfig) (*GCSStorageProvider, error) {
	if config == nil || config.Bucket == "" {
		return nil, NewValidationError("GCS bucket is required", nil)
	}

	var opts []option.ClientOption
	if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	}
	if config.ProjectID != "" {
		opts = append(opts, option.WithQuotaProject(config.ProjectID))
	}

	// Without explicit credentials the client uses application default credentials
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, NewStorageError("failed to create GCS client", err)
	}

	return &GCSStorageProvider{
		client:     client,
		bucketName: config.Bucket,
		prefix:     normalizePrefix(config.Prefix),
	}, nil
}

// Put uploads an object
func (gcsp *GCSStorageProvider) Put(ctx context.Context, key string, data []byte) error {
	if err := validateObjectKey(key); err != nil {
		return err
	}

	writer := gcsp.client.Bucket(gcsp.bucketName).Object(gcsp.prefix + key).NewWriter(ctx)
	writer.ContentType = contentTypeFor(key)

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return NewStorageError("failed to write object to GCS", err).WithContext("key", key)
	}
	if err := writer.Close(); err != nil {
		return NewStorageError("failed to upload object to GCS", err).WithContext("key", key)
	}
	return nil
}

// Get downloads an object
func (gcsp *GCSStorageProvider) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateObjectKey(key); err != nil {
		return nil, err
	}

	reader, err := gcsp.client.Bucket(gcsp.bucketName).Object(gcsp.prefix + key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, objectNotFound(key, err)
		}
		return nil, NewStorageError("failed to download object from GCS", err).WithContext("key", key)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, NewStorageError("failed to read object data", err).WithContext("key", key)
	}
	return data, nil
}

// Delete removes an object
func (gcsp *GCSStorageProvider) Delete(ctx context.Context, key string) error {
	if err := validateObjectKey(key); err != nil {
		return err
	}

	err := gcsp.client.Bucket(gcsp.bucketName).Object(gcsp.prefix + key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return NewStorageError("failed to delete object from GCS", err).WithContext("key", key)
	}
	return nil
}

// List iterates the objects below the provider prefix
func (gcsp *GCSStorageProvider) List(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	it := gcsp.client.Bucket(gcsp.bucketName).Objects(ctx, &storage.Query{Prefix: gcsp.prefix + prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, NewStorageError("failed to list objects in GCS", err)
		}
		keys = append(keys, strings.TrimPrefix(attrs.Name, gcsp.prefix))
	}
	return keys, nil
}

// Location returns the gs:// URI of a key
func (gcsp *GCSStorageProvider) Location(key string) string {
	return fmt.Sprintf("gs://%s/%s%s", gcsp.bucketName, gcsp.prefix, key)
}

// HealthCheck verifies that the bucket is reachable
func (gcsp *GCSStorageProvider) HealthCheck(ctx context.Context) error {
	if _, err := gcsp.client.Bucket(gcsp.bucketName).Attrs(ctx); err != nil {
		return NewStorageError(fmt.Sprintf("GCS bucket %s is not accessible", gcsp.bucketName), err)
	}
	return nil
}

// Close releases the GCS client
func (gcsp *GCSStorageProvider) Close() error {
	return gcsp.client.Close()
}
