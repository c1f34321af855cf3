package cmd

import (
	"fmt"

	"dbvault/internal/config"
	"dbvault/internal/confirmation"

	"github.com/spf13/cobra"
)

var (
	configPath  string
	configForce bool
)

// createConfigCommand creates the config command tree: the sample file, the setup wizard
// and the effective configuration
func createConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Generate a sample configuration file",
		Long: `Generate a sample configuration file that can be used with the --config flag.

The sample holds every option with its default value. Redirect the output to a file and
customize it for your environment; keep secrets in DBVAULT_* environment variables.

Examples:
  # Generate a config file
  dbvault config > .dbvault.yaml

  # Answer a few questions instead
  dbvault config init

  # Print the configuration dbvault would run with
  dbvault config show --config prod.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.SampleYAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		Long: `Ask for the database target, the artifact storage and the artifact codec, and
write the answers to a configuration file readable only by its owner.

Examples:
  dbvault config init
  dbvault config init --path /etc/dbvault/config.yaml --force`,
		RunE: runConfigInit,
	}
	initCmd.Flags().StringVar(&configPath, "path", config.DefaultConfigName+".yaml", "file to write")
	initCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE:  runConfigShow,
	}

	configCmd.AddCommand(initCmd, showCmd)
	return configCmd
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if !stdinIsTerminal() {
		return fmt.Errorf("config init needs an interactive terminal; use `dbvault config` for a sample file")
	}

	wizard := config.NewSetupWizard(confirmation.NewSurveyPrompter(), cmd.OutOrStdout())
	cfg, err := wizard.Run()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := config.WriteFile(appFs, configPath, data, configForce); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", configPath)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	redacted := cfg.Redacted()
	data, err := config.Marshal(&redacted)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
