package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureStorageProvider implements StorageProvider for Azure Blob Storage
type AzureStorageProvider struct {
	containerURL  azblob.ContainerURL
	containerName string
	prefix        string
}

// NewAzureStorageProvider creates a new AzureStorageProvider instance
func NewAzureStorageProvider(config *AzureConfig) (*AzureStorageProvider, error) {
	if config == nil {
		return nil, NewValidationError("Azure storage configuration is required", nil)
	}
	if config.AccountName == "" || config.AccountKey == "" || config.ContainerName == "" {
		return nil, NewValidationError("Azure account name, account key and container name are required", nil)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, NewStorageError("failed to create Azure credentials", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, NewStorageError("failed to parse Azure service URL", err)
	}

	return &AzureStorageProvider{
		containerURL:  azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(config.ContainerName),
		containerName: config.ContainerName,
		prefix:        normalizePrefix(config.Prefix),
	}, nil
}

// Put uploads an object as a block blob
func (azp *AzureStorageProvider) Put(ctx context.Context, key string, data []byte) error {
	if err := validateObjectKey(key); err != nil {
		return err
	}

	blobURL := azp.containerURL.NewBlockBlobURL(azp.prefix + key)
	_, err := azblob.UploadBufferToBlockBlob(ctx, data, blobURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 16,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: contentTypeFor(key),
		},
	})
	if err != nil {
		return NewStorageError("failed to upload object to Azure", err).WithContext("key", key)
	}
	return nil
}

// Get downloads an object
func (azp *AzureStorageProvider) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateObjectKey(key); err != nil {
		return nil, err
	}

	blobURL := azp.containerURL.NewBlockBlobURL(azp.prefix + key)
	response, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, objectNotFound(key, err)
		}
		return nil, NewStorageError("failed to download object from Azure", err).WithContext("key", key)
	}

	body := response.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20})
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, NewStorageError("failed to read object data", err).WithContext("key", key)
	}
	return data, nil
}

// Delete removes an object
func (azp *AzureStorageProvider) Delete(ctx context.Context, key string) error {
	if err := validateObjectKey(key); err != nil {
		return err
	}

	blobURL := azp.containerURL.NewBlockBlobURL(azp.prefix + key)
	_, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil && !isAzureNotFound(err) {
		return NewStorageError("failed to delete object from Azure", err).WithContext("key", key)
	}
	return nil
}

// List pages through blobs below the provider prefix
func (azp *AzureStorageProvider) List(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	for marker := (azblob.Marker{}); marker.NotDone(); {
		response, err := azp.containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: azp.prefix + prefix,
		})
		if err != nil {
			return nil, NewStorageError("failed to list objects in Azure", err)
		}
		for _, blob := range response.Segment.BlobItems {
			keys = append(keys, strings.TrimPrefix(blob.Name, azp.prefix))
		}
		marker = response.NextMarker
	}
	return keys, nil
}

// Location returns the azure:// URI of a key
func (azp *AzureStorageProvider) Location(key string) string {
	return fmt.Sprintf("azure://%s/%s%s", azp.containerName, azp.prefix, key)
}

// HealthCheck verifies that the container is reachable
func (azp *AzureStorageProvider) HealthCheck(ctx context.Context) error {
	if _, err := azp.containerURL.GetProperties(ctx, azblob.LeaseAccessConditions{}); err != nil {
		return NewStorageError(fmt.Sprintf("Azure container %s is not accessible", azp.containerName), err)
	}
	return nil
}

func isAzureNotFound(err error) bool {
	var serr azblob.StorageError
	if errors.As(err, &serr) {
		return serr.ServiceCode() == azblob.ServiceCodeBlobNotFound
	}
	return false
}
