package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// StorageProviderType selects the blob backend for artifacts
type StorageProviderType string

const (
	StorageProviderLocal StorageProviderType = "local"
	StorageProviderS3    StorageProviderType = "s3"
	StorageProviderAzure StorageProviderType = "azure"
	StorageProviderGCS   StorageProviderType = "gcs"
)

// CompressionType names an artifact compression algorithm
type CompressionType string

const (
	CompressionTypeNone CompressionType = "none"
	CompressionTypeGzip CompressionType = "gzip"
	CompressionTypeLZ4  CompressionType = "lz4"
	CompressionTypeZstd CompressionType = "zstd"
)

// Key sources for artifact encryption
const (
	KeySourceEnv        = "env"
	KeySourceFile       = "file"
	KeySourcePassphrase = "passphrase"
)

const (
	keyDerivationIterations = 100000
	keyDerivationSaltSize   = 16
	encryptionKeySize       = 32
)

// StorageConfig selects and configures the artifact blob store
type StorageConfig struct {
	Provider StorageProviderType `mapstructure:"provider" yaml:"provider"`
	Local    *LocalConfig        `mapstructure:"local" yaml:"local,omitempty"`
	S3       *S3Config           `mapstructure:"s3" yaml:"s3,omitempty"`
	Azure    *AzureConfig        `mapstructure:"azure" yaml:"azure,omitempty"`
	GCS      *GCSConfig          `mapstructure:"gcs" yaml:"gcs,omitempty"`
}

// LocalConfig for local file system storage
type LocalConfig struct {
	BasePath    string      `mapstructure:"base_path" yaml:"base_path"`
	Permissions os.FileMode `mapstructure:"permissions" yaml:"permissions"`
}

// S3Config for Amazon S3 and S3-compatible storage
type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"account_key,omitempty"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	Prefix        string `mapstructure:"prefix" yaml:"prefix"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path,omitempty"`
	ProjectID       string `mapstructure:"project_id" yaml:"project_id,omitempty"`
}

// CompressionConfig defines compression settings
type CompressionConfig struct {
	Enabled   bool            `mapstructure:"enabled" yaml:"enabled"`
	Algorithm CompressionType `mapstructure:"algorithm" yaml:"algorithm"`
	Level     int             `mapstructure:"level" yaml:"level"`
	Threshold int64           `mapstructure:"threshold" yaml:"threshold"` // Minimum size in bytes to compress
}

// EncryptionConfig defines encryption settings
type EncryptionConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	KeySource     string `mapstructure:"key_source" yaml:"key_source"`         // "env", "file", "passphrase"
	KeyPath       string `mapstructure:"key_path" yaml:"key_path,omitempty"`   // Path to a raw 32-byte key
	KeyEnvVar     string `mapstructure:"key_env_var" yaml:"key_env_var"`       // Holds a hex key, or the passphrase
	PassphraseVar string `mapstructure:"passphrase_var" yaml:"passphrase_var"` // Environment variable holding the passphrase

	// KeyRetriever overrides key lookup; used by tests and embedding callers
	KeyRetriever func() ([]byte, error) `mapstructure:"-" yaml:"-"`
}

func isValidStorageProviderType(provider StorageProviderType) bool {
	switch provider {
	case StorageProviderLocal, StorageProviderS3, StorageProviderAzure, StorageProviderGCS:
		return true
	default:
		return false
	}
}

func isValidCompressionType(ct CompressionType) bool {
	switch ct {
	case CompressionTypeNone, CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd:
		return true
	default:
		return false
	}
}

// SetDefaults fills the local provider when nothing else is configured
func (sc *StorageConfig) SetDefaults() {
	if sc.Provider == "" {
		sc.Provider = StorageProviderLocal
	}
	sc.Provider = StorageProviderType(strings.ToLower(string(sc.Provider)))
	if sc.Provider == StorageProviderLocal {
		if sc.Local == nil {
			sc.Local = &LocalConfig{}
		}
		if sc.Local.BasePath == "" {
			sc.Local.BasePath = "./backups"
		}
		if sc.Local.Permissions == 0 {
			sc.Local.Permissions = 0750
		}
	}
}

// Validate validates the StorageConfig struct
func (sc *StorageConfig) Validate() error {
	var errors ValidationErrors

	if !isValidStorageProviderType(sc.Provider) {
		errors.Add("storage.provider", "invalid storage provider type", sc.Provider)
		return errors
	}

	switch sc.Provider {
	case StorageProviderLocal:
		if sc.Local == nil || sc.Local.BasePath == "" {
			errors.Add("storage.local.base_path", "base path is required for local storage", nil)
		}
	case StorageProviderS3:
		if sc.S3 == nil {
			errors.Add("storage.s3", "S3 storage configuration is required", nil)
			break
		}
		if sc.S3.Bucket == "" {
			errors.Add("storage.s3.bucket", "S3 bucket name is required", sc.S3.Bucket)
		}
		if sc.S3.Region == "" {
			errors.Add("storage.s3.region", "S3 region is required", sc.S3.Region)
		}
		if (sc.S3.AccessKey == "") != (sc.S3.SecretKey == "") {
			errors.Add("storage.s3.secret_key", "S3 access key and secret key must be set together", nil)
		}
	case StorageProviderAzure:
		if sc.Azure == nil {
			errors.Add("storage.azure", "Azure storage configuration is required", nil)
			break
		}
		if sc.Azure.AccountName == "" {
			errors.Add("storage.azure.account_name", "Azure account name is required", sc.Azure.AccountName)
		}
		if sc.Azure.AccountKey == "" {
			errors.Add("storage.azure.account_key", "Azure account key is required", nil)
		}
		if sc.Azure.ContainerName == "" {
			errors.Add("storage.azure.container_name", "Azure container name is required", sc.Azure.ContainerName)
		}
	case StorageProviderGCS:
		if sc.GCS == nil {
			errors.Add("storage.gcs", "GCS storage configuration is required", nil)
			break
		}
		if sc.GCS.Bucket == "" {
			errors.Add("storage.gcs.bucket", "GCS bucket name is required", sc.GCS.Bucket)
		}
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}

// SetDefaults picks a level and threshold for the chosen algorithm
func (cc *CompressionConfig) SetDefaults() {
	if cc.Algorithm == "" {
		if cc.Enabled {
			cc.Algorithm = CompressionTypeGzip
		} else {
			cc.Algorithm = CompressionTypeNone
		}
	}
	cc.Algorithm = CompressionType(strings.ToLower(string(cc.Algorithm)))

	if cc.Level == 0 {
		switch cc.Algorithm {
		case CompressionTypeGzip:
			cc.Level = 6
		case CompressionTypeLZ4:
			cc.Level = 1
		case CompressionTypeZstd:
			cc.Level = 3
		}
	}

	if cc.Threshold == 0 {
		cc.Threshold = 1024
	}
}

// Validate validates the CompressionConfig
func (cc *CompressionConfig) Validate() error {
	var errors ValidationErrors

	if cc.Enabled {
		if !isValidCompressionType(cc.Algorithm) {
			errors.Add("compression.algorithm", "invalid compression algorithm", cc.Algorithm)
		}

		switch cc.Algorithm {
		case CompressionTypeGzip:
			if cc.Level < 1 || cc.Level > 9 {
				errors.Add("compression.level", "gzip compression level must be between 1 and 9", cc.Level)
			}
		case CompressionTypeLZ4:
			if cc.Level < 1 || cc.Level > 12 {
				errors.Add("compression.level", "lz4 compression level must be between 1 and 12", cc.Level)
			}
		case CompressionTypeZstd:
			if cc.Level < 1 || cc.Level > 22 {
				errors.Add("compression.level", "zstd compression level must be between 1 and 22", cc.Level)
			}
		}

		if cc.Threshold < 0 {
			errors.Add("compression.threshold", "compression threshold cannot be negative", cc.Threshold)
		}
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}

// SetDefaults sets default values for the encryption configuration
func (ec *EncryptionConfig) SetDefaults() {
	if ec.KeySource == "" {
		ec.KeySource = KeySourceEnv
	}
	if ec.KeyEnvVar == "" {
		ec.KeyEnvVar = "DBVAULT_ENCRYPTION_KEY"
	}
	if ec.PassphraseVar == "" {
		ec.PassphraseVar = "DBVAULT_ENCRYPTION_PASSPHRASE"
	}
}

// Validate validates the EncryptionConfig
func (ec *EncryptionConfig) Validate() error {
	var errors ValidationErrors

	if ec.Enabled {
		switch ec.KeySource {
		case KeySourceEnv:
			if ec.KeyEnvVar == "" {
				errors.Add("encryption.key_env_var", "key environment variable name is required for env key source", ec.KeyEnvVar)
			}
		case KeySourceFile:
			if ec.KeyPath == "" {
				errors.Add("encryption.key_path", "key file path is required for file key source", ec.KeyPath)
			}
		case KeySourcePassphrase:
			if ec.PassphraseVar == "" {
				errors.Add("encryption.passphrase_var", "passphrase environment variable name is required", ec.PassphraseVar)
			}
		default:
			errors.Add("encryption.key_source", "invalid key source, must be 'env', 'file', or 'passphrase'", ec.KeySource)
		}
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}

// DerivesKey reports whether the key is derived per artifact from a passphrase
func (ec *EncryptionConfig) DerivesKey() bool {
	return ec.KeyRetriever == nil && ec.KeySource == KeySourcePassphrase
}

// GetEncryptionKey retrieves a raw AES-256 key. Passphrase sources use DeriveKey instead.
func (ec *EncryptionConfig) GetEncryptionKey() ([]byte, error) {
	if !ec.Enabled {
		return nil, nil
	}

	if ec.KeyRetriever != nil {
		return ec.KeyRetriever()
	}

	switch ec.KeySource {
	case KeySourceEnv:
		keyStr := os.Getenv(ec.KeyEnvVar)
		if keyStr == "" {
			return nil, fmt.Errorf("encryption key not found in environment variable %s", ec.KeyEnvVar)
		}
		key, err := hex.DecodeString(strings.TrimSpace(keyStr))
		if err != nil {
			return nil, fmt.Errorf("failed to decode hex key from environment variable: %w", err)
		}
		if len(key) != encryptionKeySize {
			return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d bytes", len(key))
		}
		return key, nil

	case KeySourceFile:
		keyData, err := os.ReadFile(ec.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read encryption key from file %s: %w", ec.KeyPath, err)
		}
		if len(keyData) != encryptionKeySize {
			return nil, fmt.Errorf("encryption key file must contain 32 bytes for AES-256, got %d bytes", len(keyData))
		}
		return keyData, nil

	case KeySourcePassphrase:
		return nil, fmt.Errorf("passphrase key source derives a key per artifact")

	default:
		return nil, fmt.Errorf("invalid key source: %s", ec.KeySource)
	}
}

// DeriveKey derives an AES-256 key from the configured passphrase with PBKDF2-SHA256
func (ec *EncryptionConfig) DeriveKey(salt []byte) ([]byte, error) {
	passphrase := os.Getenv(ec.PassphraseVar)
	if passphrase == "" {
		return nil, fmt.Errorf("encryption passphrase not found in environment variable %s", ec.PassphraseVar)
	}
	return pbkdf2.Key([]byte(passphrase), salt, keyDerivationIterations, encryptionKeySize, sha256.New), nil
}
