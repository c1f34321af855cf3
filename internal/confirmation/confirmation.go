// Package confirmation asks the operator before destructive operations run.
package confirmation

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/fatih/color"
)

var (
	// ErrCancelled is returned when the operator interrupts a prompt
	ErrCancelled = errors.New("operation cancelled by user")
	// ErrConfirmationRequired is returned when a prompt is needed but input is not a terminal
	ErrConfirmationRequired = errors.New("confirmation required: rerun with --yes to proceed non-interactively")
)

// Prompter asks questions on the terminal
type Prompter interface {
	Confirm(message string, defaultYes bool) (bool, error)
	Input(message, defaultValue string) (string, error)
	Password(message string) (string, error)
	Select(message string, options []string, defaultValue string) (string, error)
}

// SurveyPrompter implements Prompter with survey
type SurveyPrompter struct {
	opts []survey.AskOpt
}

// NewSurveyPrompter creates a prompter on stdin/stdout
func NewSurveyPrompter(opts ...survey.AskOpt) *SurveyPrompter {
	return &SurveyPrompter{opts: opts}
}

func (p *SurveyPrompter) Confirm(message string, defaultYes bool) (bool, error) {
	answer := false
	err := survey.AskOne(&survey.Confirm{Message: message, Default: defaultYes}, &answer, p.opts...)
	return answer, translate(err)
}

func (p *SurveyPrompter) Input(message, defaultValue string) (string, error) {
	answer := ""
	err := survey.AskOne(&survey.Input{Message: message, Default: defaultValue}, &answer, p.opts...)
	return strings.TrimSpace(answer), translate(err)
}

func (p *SurveyPrompter) Password(message string) (string, error) {
	answer := ""
	err := survey.AskOne(&survey.Password{Message: message}, &answer, p.opts...)
	return answer, translate(err)
}

func (p *SurveyPrompter) Select(message string, options []string, defaultValue string) (string, error) {
	answer := ""
	prompt := &survey.Select{Message: message, Options: options}
	if defaultValue != "" {
		prompt.Default = defaultValue
	}
	err := survey.AskOne(prompt, &answer, p.opts...)
	return answer, translate(err)
}

func translate(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return ErrCancelled
	}
	return err
}

// Options controls when prompts are shown
type Options struct {
	// AutoApprove answers yes to every confirmation (--yes)
	AutoApprove bool
	// Interactive is false when stdin is not a terminal
	Interactive bool
	Out         io.Writer
	NoColor     bool
}

// RestoreSummary describes a restore about to run
type RestoreSummary struct {
	BackupID   string
	BackupType string
	Tables     []string
	Records    int64
	Force      bool
}

// RollbackSummary describes a rollback about to run
type RollbackSummary struct {
	RestoreID         string
	RestoreStatus     string
	EmergencyBackupID string
}

// Service gates restores and rollbacks behind an explicit yes
type Service struct {
	prompter Prompter
	opts     Options
	warn     *color.Color
	danger   *color.Color
	bold     *color.Color
}

// NewService creates a confirmation service
func NewService(prompter Prompter, opts Options) *Service {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	s := &Service{
		prompter: prompter,
		opts:     opts,
		warn:     color.New(color.FgYellow),
		danger:   color.New(color.FgRed, color.Bold),
		bold:     color.New(color.Bold),
	}
	if opts.NoColor {
		s.warn.DisableColor()
		s.danger.DisableColor()
		s.bold.DisableColor()
	}
	return s
}

// ConfirmRestore prints what a restore will replace and asks to proceed
func (s *Service) ConfirmRestore(summary RestoreSummary) (bool, error) {
	s.DisplayRestoreSummary(summary)
	return s.ask(fmt.Sprintf("Replace the contents of %d table(s)?", len(summary.Tables)))
}

// DisplayRestoreSummary prints the tables a restore replaces and its recovery guarantees
func (s *Service) DisplayRestoreSummary(summary RestoreSummary) {
	out := s.opts.Out
	s.bold.Fprintf(out, "Restore of backup %s (%s)\n", summary.BackupID, summary.BackupType)
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintf(out, "Tables to replace: %d\n", len(summary.Tables))
	for _, t := range summary.Tables {
		fmt.Fprintf(out, "  - %s\n", t)
	}
	fmt.Fprintf(out, "Records to write: %d\n\n", summary.Records)

	s.warn.Fprintln(out, "Every listed table is emptied and refilled from the backup.")
	if summary.Force {
		s.danger.Fprintln(out, "FORCED: no emergency backup is taken; this restore cannot be rolled back.")
	} else {
		fmt.Fprintln(out, "An emergency backup of the current data is taken first and can be restored with `dbvault rollback`.")
	}
	fmt.Fprintln(out)
}

// ConfirmRollback prints what a rollback restores and asks to proceed
func (s *Service) ConfirmRollback(summary RollbackSummary) (bool, error) {
	out := s.opts.Out
	s.bold.Fprintf(out, "Rollback of restore %s (%s)\n", summary.RestoreID, summary.RestoreStatus)
	fmt.Fprintf(out, "The emergency backup %s will be restored without taking another one.\n\n", summary.EmergencyBackupID)
	return s.ask("Restore the emergency backup?")
}

func (s *Service) ask(question string) (bool, error) {
	if s.opts.AutoApprove {
		color.New(color.FgGreen).Fprintln(s.opts.Out, "Auto-approving (--yes)")
		return true, nil
	}
	if !s.opts.Interactive {
		return false, ErrConfirmationRequired
	}
	ok, err := s.prompter.Confirm(question, false)
	if err != nil {
		return false, err
	}
	if !ok {
		s.warn.Fprintln(s.opts.Out, "Operation cancelled by user")
	}
	return ok, nil
}
