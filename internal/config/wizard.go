package config

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"dbvault/internal/backup"
	"dbvault/internal/confirmation"
	"dbvault/internal/database"
)

// SetupWizard builds a configuration interactively for `dbvault config init`
type SetupWizard struct {
	prompter confirmation.Prompter
	out      io.Writer
}

// NewSetupWizard creates a wizard asking through prompter
func NewSetupWizard(prompter confirmation.Prompter, out io.Writer) *SetupWizard {
	return &SetupWizard{prompter: prompter, out: out}
}

// Run asks for the database target, the artifact storage and the artifact codec.
// Secrets are never asked for; the wizard prints the variables that hold them.
func (sw *SetupWizard) Run() (*Config, error) {
	fmt.Fprintln(sw.out, "dbvault setup")
	fmt.Fprintln(sw.out, "=============")

	c := newConfig()
	if err := sw.configureDatabase(&c.Database); err != nil {
		return nil, err
	}
	if err := sw.configureStorage(&c.Storage); err != nil {
		return nil, err
	}
	if err := sw.configureCodec(c); err != nil {
		return nil, err
	}

	c.SetDefaults()
	fmt.Fprintf(sw.out, "\nSet %s_DATABASE_PASSWORD before running dbvault.\n", EnvPrefix)
	return c, nil
}

func (sw *SetupWizard) configureDatabase(db *database.DatabaseConfig) error {
	driver, err := sw.prompter.Select("Database driver:", []string{database.DriverPostgres, database.DriverMySQL}, database.DriverPostgres)
	if err != nil {
		return err
	}
	db.Driver = driver
	db.SetDefaults()

	if db.Host, err = sw.prompter.Input("Host:", "localhost"); err != nil {
		return err
	}
	port, err := sw.prompter.Input("Port:", strconv.Itoa(db.Port))
	if err != nil {
		return err
	}
	if db.Port, err = strconv.Atoi(port); err != nil {
		return fmt.Errorf("invalid port %q: %w", port, err)
	}
	if db.Username, err = sw.prompter.Input("Username:", ""); err != nil {
		return err
	}
	if db.Database, err = sw.prompter.Input("Database name:", ""); err != nil {
		return err
	}
	if driver == database.DriverPostgres {
		if db.Schema, err = sw.prompter.Input("Schema:", "public"); err != nil {
			return err
		}
	}
	return nil
}

func (sw *SetupWizard) configureStorage(sc *backup.StorageConfig) error {
	providers := []string{}
	for _, p := range backup.NewStorageProviderFactory().GetSupportedProviders() {
		providers = append(providers, string(p))
	}
	provider, err := sw.prompter.Select("Artifact storage:", providers, string(backup.StorageProviderLocal))
	if err != nil {
		return err
	}
	sc.Provider = backup.StorageProviderType(provider)

	switch sc.Provider {
	case backup.StorageProviderS3:
		s3 := &backup.S3Config{}
		if s3.Bucket, err = sw.prompter.Input("S3 bucket:", ""); err != nil {
			return err
		}
		if s3.Region, err = sw.prompter.Input("AWS region:", "us-east-1"); err != nil {
			return err
		}
		sc.S3 = s3
		fmt.Fprintln(sw.out, "Credentials are read from AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY.")
	case backup.StorageProviderAzure:
		az := &backup.AzureConfig{}
		if az.AccountName, err = sw.prompter.Input("Azure storage account:", ""); err != nil {
			return err
		}
		if az.ContainerName, err = sw.prompter.Input("Container:", "dbvault"); err != nil {
			return err
		}
		sc.Azure = az
		fmt.Fprintf(sw.out, "Set %s_STORAGE_AZURE_ACCOUNT_KEY with the account key.\n", EnvPrefix)
	case backup.StorageProviderGCS:
		gcs := &backup.GCSConfig{}
		if gcs.Bucket, err = sw.prompter.Input("GCS bucket:", ""); err != nil {
			return err
		}
		if gcs.ProjectID, err = sw.prompter.Input("Project ID:", ""); err != nil {
			return err
		}
		sc.GCS = gcs
		fmt.Fprintln(sw.out, "Credentials are read from GOOGLE_APPLICATION_CREDENTIALS.")
	default:
		path, err := sw.prompter.Input("Backup directory:", "./backups")
		if err != nil {
			return err
		}
		sc.Local = &backup.LocalConfig{BasePath: path}
	}
	return nil
}

func (sw *SetupWizard) configureCodec(c *Config) error {
	compress, err := sw.prompter.Confirm("Compress artifacts?", true)
	if err != nil {
		return err
	}
	if compress {
		algorithm, err := sw.prompter.Select("Compression algorithm:",
			[]string{string(backup.CompressionTypeZstd), string(backup.CompressionTypeGzip), string(backup.CompressionTypeLZ4)},
			string(backup.CompressionTypeZstd))
		if err != nil {
			return err
		}
		c.Compression.Enabled = true
		c.Compression.Algorithm = backup.CompressionType(algorithm)
	}

	encrypt, err := sw.prompter.Confirm("Encrypt artifacts?", false)
	if err != nil {
		return err
	}
	if encrypt {
		source, err := sw.prompter.Select("Key source:",
			[]string{backup.KeySourcePassphrase, backup.KeySourceEnv, backup.KeySourceFile}, backup.KeySourcePassphrase)
		if err != nil {
			return err
		}
		c.Encryption.Enabled = true
		c.Encryption.KeySource = source
		c.Encryption.SetDefaults()
		switch source {
		case backup.KeySourceFile:
			if c.Encryption.KeyPath, err = sw.prompter.Input("Key file:", ""); err != nil {
				return err
			}
		case backup.KeySourceEnv:
			fmt.Fprintf(sw.out, "Set %s to a hex encoded 32 byte key.\n", c.Encryption.KeyEnvVar)
		default:
			fmt.Fprintf(sw.out, "Set %s to the encryption passphrase.\n", c.Encryption.PassphraseVar)
		}
	}

	tables, err := sw.prompter.Input("Critical tables (comma separated):", strings.Join(backup.DefaultCriticalTables, ","))
	if err != nil {
		return err
	}
	for _, t := range strings.Split(tables, ",") {
		if t = strings.TrimSpace(t); t != "" {
			c.Engine.CriticalTables = append(c.Engine.CriticalTables, t)
		}
	}
	return nil
}
