package backup

import (
	"context"

	"github.com/spf13/afero"
)

type providerConstructor func(ctx context.Context, config StorageConfig) (StorageProvider, error)

// StorageProviderFactory builds the StorageProvider named by a StorageConfig
type StorageProviderFactory struct {
	constructors map[StorageProviderType]providerConstructor
	order        []StorageProviderType
}

func NewStorageProviderFactory() *StorageProviderFactory {
	spf := &StorageProviderFactory{constructors: map[StorageProviderType]providerConstructor{}}

	spf.register(StorageProviderLocal, func(_ context.Context, c StorageConfig) (StorageProvider, error) {
		return asProvider(NewLocalStorageProvider(c.Local))
	})
	spf.register(StorageProviderS3, func(_ context.Context, c StorageConfig) (StorageProvider, error) {
		return asProvider(NewS3StorageProvider(c.S3))
	})
	spf.register(StorageProviderAzure, func(_ context.Context, c StorageConfig) (StorageProvider, error) {
		return asProvider(NewAzureStorageProvider(c.Azure))
	})
	spf.register(StorageProviderGCS, func(ctx context.Context, c StorageConfig) (StorageProvider, error) {
		return asProvider(NewGCSStorageProvider(ctx, c.GCS))
	})
	return spf
}

func (spf *StorageProviderFactory) register(t StorageProviderType, fn providerConstructor) {
	if _, exists := spf.constructors[t]; !exists {
		spf.order = append(spf.order, t)
	}
	spf.constructors[t] = fn
}

// asProvider drops the typed nil a failed constructor returns
func asProvider(p StorageProvider, err error) (StorageProvider, error) {
	if err != nil {
		return nil, err
	}
	return p, nil
}

// WithLocalFs backs the local provider with fs instead of the OS filesystem
func (spf *StorageProviderFactory) WithLocalFs(fs afero.Fs) *StorageProviderFactory {
	spf.register(StorageProviderLocal, func(_ context.Context, c StorageConfig) (StorageProvider, error) {
		return asProvider(NewLocalStorageProviderWithFs(fs, c.Local))
	})
	return spf
}

// CreateStorageProvider validates config and constructs its provider
func (spf *StorageProviderFactory) CreateStorageProvider(ctx context.Context, config StorageConfig) (StorageProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, NewConfigurationError("invalid storage configuration", err)
	}

	build, ok := spf.constructors[config.Provider]
	if !ok {
		return nil, NewConfigurationError("unsupported storage provider: "+string(config.Provider), nil)
	}
	return build(ctx, config)
}

// GetSupportedProviders lists the provider types in registration order
func (spf *StorageProviderFactory) GetSupportedProviders() []StorageProviderType {
	return append([]StorageProviderType(nil), spf.order...)
}
