package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"dbvault/internal/application"
	"dbvault/internal/backup"
	"dbvault/internal/config"
	"dbvault/internal/confirmation"
	"dbvault/internal/display"
	apperrors "dbvault/internal/errors"
	"dbvault/internal/httpapi"
	"dbvault/internal/logging"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	cfgFile string
	envFile string

	// Output flags
	verbose      bool
	quiet        bool
	outputFormat string
	theme        string
	noColor      bool
	noProgress   bool

	// Operation flags
	autoApprove    bool
	passwordPrompt bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dbvault",
	Short: "Back up, restore and roll back the data of a PostgreSQL or MySQL database",
	Long: `dbvault captures the rows of a live PostgreSQL or MySQL database into backup artifacts,
restores them table by table and keeps an emergency backup of the data it replaces, so
every restore can be rolled back.

Every backup and restore is recorded in a ledger kept in the target database itself.
Artifacts are written to local disk, S3, Google Cloud Storage or Azure Blob Storage.

Examples:
  # Take a full backup
  dbvault backup create --name nightly

  # Protect only the critical tables
  dbvault backup create --type schema_only

  # Restore a backup, then undo the restore
  dbvault restore 01J9Z6M3QK4W2T7Y8V5N0R1B3C
  dbvault rollback 6f1c2a9e-7d44-4e0b-9a52-1f3c8d2b7e10

  # Print the backups as JSON for scripting
  dbvault backup list --format json

  # Serve the same operations over HTTP
  dbvault serve --addr 0.0.0.0:8080`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		printError(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./.dbvault.yaml or $HOME/.dbvault.yaml)")
	flags.StringVar(&envFile, "env-file", "", "file of DBVAULT_* variables to load first (default ./.env)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	flags.StringVar(&outputFormat, "format", "table", "output format (table, json, yaml)")
	flags.StringVar(&theme, "theme", "dark", "color theme (dark, light, high-contrast, plain)")
	flags.BoolVar(&noColor, "no-color", false, "disable color output")
	flags.BoolVar(&noProgress, "no-progress", false, "disable progress spinners")
	flags.BoolVarP(&autoApprove, "yes", "y", false, "answer yes to every confirmation")
	flags.BoolVar(&passwordPrompt, "password-prompt", false, "read the database password from the terminal")

	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand())
}

// displayFlags maps configuration keys to the persistent flags that override them
var displayFlags = map[string]string{
	"display.output_format": "format",
	"display.theme":         "theme",
	"display.verbose":       "verbose",
	"display.quiet":         "quiet",
}

// Seams replaced by tests
var (
	newLoader = config.NewLoader
	appFs     = afero.NewOsFs()
	openVault = func(ctx context.Context, cfg *config.Config, logger *logging.Logger) (vault, error) {
		app, err := application.Open(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return app, nil
	}
	stdinIsTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
	readPassword    = func() ([]byte, error) { return term.ReadPassword(int(os.Stdin.Fd())) }
)

// vault is the part of the application facade the commands drive
type vault interface {
	httpapi.Service
	PlanRestore(ctx context.Context, backupID string) *application.RestorePlan
	DumpTable(ctx context.Context, table string, w io.Writer) *application.DumpResponse
	Close() error
}

// loadConfig reads the configuration and applies the command line overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if verbose && quiet {
		return nil, fmt.Errorf("--verbose and --quiet flags are mutually exclusive")
	}

	loader := newLoader()
	for key, name := range displayFlags {
		if err := loader.Viper().BindPFlag(key, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			return nil, fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}

	cfg, err := loader.Load(config.LoadOptions{ConfigFile: cfgFile, EnvFile: envFile})
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	flags := rootCmd.PersistentFlags()
	if flags.Changed("no-color") && noColor {
		off := false
		cfg.Display.ColorEnabled = &off
	}
	if flags.Changed("no-progress") && noProgress {
		off := false
		cfg.Display.ShowProgress = &off
	}
	if flags.Changed("verbose") && verbose {
		cfg.Logging.Level = string(logging.LogLevelVerbose)
	}
	if flags.Changed("quiet") && quiet {
		cfg.Logging.Level = string(logging.LogLevelQuiet)
	}
	cfg.Display.Writer = cmd.OutOrStdout()

	if passwordPrompt {
		if err := promptPassword(cmd, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func promptPassword(cmd *cobra.Command, cfg *config.Config) error {
	if !stdinIsTerminal() {
		return fmt.Errorf("--password-prompt requires an interactive terminal")
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Password for %s@%s: ", cfg.Database.Username, cfg.Database.Host)
	password, err := readPassword()
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	cfg.Database.Password = string(password)
	return nil
}

// session holds what a command needs to talk to the target database
type session struct {
	cfg     *config.Config
	vault   vault
	printer *display.Printer
	logger  *logging.Logger
	confirm *confirmation.Service
}

// openSession loads the configuration, connects to the target database and opens the ledger
func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	loggerConfig := cfg.Logging.LoggerConfig()
	loggerConfig.Output = cmd.ErrOrStderr()
	logger, err := logging.NewLogger(loggerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	printer := display.NewPrinterWithWriters(&cfg.Display, cmd.OutOrStdout(), cmd.ErrOrStderr())
	spinner := printer.StartSpinner(fmt.Sprintf("Connecting to %s %s:%d/%s", cfg.Database.Driver, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database))
	v, err := openVault(cmd.Context(), cfg, logger)
	spinner.Stop("")
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Database.Database, err)
	}
	redacted := cfg.Database.Redacted()
	printer.Verbose("Connected to %s", redacted.DSN())

	confirm := confirmation.NewService(confirmation.NewSurveyPrompter(), confirmation.Options{
		AutoApprove: autoApprove,
		Interactive: stdinIsTerminal(),
		Out:         cmd.ErrOrStderr(),
		NoColor:     !cfg.Display.IsColorEnabled(),
	})

	return &session{cfg: cfg, vault: v, printer: printer, logger: logger, confirm: confirm}, nil
}

func (s *session) Close() {
	if err := s.vault.Close(); err != nil {
		s.logger.Warnf("Failed to close database connection: %v", err)
	}
}

// emit prints a facade response and turns a failed one into the command error.
// Failed responses are only printed in structured formats.
func emit(p *display.Printer, v any, r application.Response, render func()) error {
	if r.Success || p.Structured() {
		if err := p.Result(v, render); err != nil {
			return err
		}
	}
	return r.Err()
}

func printError(w io.Writer, err error) {
	red := color.New(color.FgRed, color.Bold)
	var respErr *application.ResponseError
	if errors.As(err, &respErr) && respErr.Type != "" {
		red.Fprintf(w, "✗ %s [%s]\n", respErr.Message, respErr.Type)
		return
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		red.Fprintf(w, "✗ %v [%s]\n", err, apperrors.GetErrorType(err))
		if appErr.UserMessage != "" {
			fmt.Fprintf(w, "  %s\n", apperrors.FormatUserError(err))
		}
		return
	}
	red.Fprintf(w, "✗ %v\n", err)
}

// exitCode maps failures to process exit codes: 2 for rejected input, 75 for failures
// worth retrying, 130 when the operator cancelled, 1 otherwise
func exitCode(err error) int {
	if errors.Is(err, confirmation.ErrCancelled) || errors.Is(err, context.Canceled) {
		return 130
	}
	var respErr *application.ResponseError
	if errors.As(err, &respErr) && respErr.Type == string(backup.BackupErrorTypeValidation) {
		return 2
	}
	if (respErr != nil && respErr.Retryable) || apperrors.IsRecoverableError(err) {
		return 75
	}
	return 1
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Long:  "Print the version information for dbvault",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "dbvault version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}
