package confirmation

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedPrompter struct {
	answers []bool
	asked   []string
	err     error
}

func (p *scriptedPrompter) Confirm(message string, _ bool) (bool, error) {
	p.asked = append(p.asked, message)
	if p.err != nil {
		return false, p.err
	}
	answer := p.answers[0]
	p.answers = p.answers[1:]
	return answer, nil
}

func (p *scriptedPrompter) Input(string, string) (string, error)            { return "", nil }
func (p *scriptedPrompter) Password(string) (string, error)                 { return "", nil }
func (p *scriptedPrompter) Select(string, []string, string) (string, error) { return "", nil }

func summary(force bool) RestoreSummary {
	return RestoreSummary{
		BackupID:   "backup-20260101-120000-abcd1234",
		BackupType: "full",
		Tables:     []string{"students", "companies"},
		Records:    42,
		Force:      force,
	}
}

func TestConfirmRestore(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		prompter  *scriptedPrompter
		want      bool
		wantErr   error
		wantAsked int
	}{
		{"auto approve skips the prompt", Options{AutoApprove: true}, &scriptedPrompter{}, true, nil, 0},
		{"non-interactive requires --yes", Options{}, &scriptedPrompter{}, false, ErrConfirmationRequired, 0},
		{"operator accepts", Options{Interactive: true}, &scriptedPrompter{answers: []bool{true}}, true, nil, 1},
		{"operator declines", Options{Interactive: true}, &scriptedPrompter{answers: []bool{false}}, false, nil, 1},
		{"operator interrupts", Options{Interactive: true}, &scriptedPrompter{err: ErrCancelled}, false, ErrCancelled, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			tt.opts.Out = &out
			tt.opts.NoColor = true

			got, err := NewService(tt.prompter, tt.opts).ConfirmRestore(summary(false))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
			assert.Len(t, tt.prompter.asked, tt.wantAsked)
			assert.Contains(t, out.String(), "Tables to replace: 2")
		})
	}
}

func TestDisplayRestoreSummary_ForcedWarnsAboutRollback(t *testing.T) {
	var out bytes.Buffer
	s := NewService(&scriptedPrompter{}, Options{Out: &out, NoColor: true})

	s.DisplayRestoreSummary(summary(true))
	assert.Contains(t, out.String(), "cannot be rolled back")

	out.Reset()
	s.DisplayRestoreSummary(summary(false))
	assert.Contains(t, out.String(), "dbvault rollback")
	assert.Contains(t, out.String(), "  - companies")
}

func TestConfirmRollback(t *testing.T) {
	var out bytes.Buffer
	prompter := &scriptedPrompter{answers: []bool{true}}
	s := NewService(prompter, Options{Out: &out, Interactive: true, NoColor: true})

	ok, err := s.ConfirmRollback(RollbackSummary{RestoreID: "restore-1", RestoreStatus: "failed", EmergencyBackupID: "emergency-1"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"Restore the emergency backup?"}, prompter.asked)
	assert.Contains(t, out.String(), "emergency-1")
}
