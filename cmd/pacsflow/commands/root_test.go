package commands

import (
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusColor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status string
		want   *color.Color
	}{
		{status: "PASS", want: color.New(color.FgGreen)},
		{status: "ALREADY_SENT_PASS", want: color.New(color.FgGreen)},
		{status: "PASS_WITH_WARNINGS", want: color.New(color.FgYellow)},
		{status: "INTERRUPTED", want: color.New(color.FgYellow)},
		{status: "FAIL", want: color.New(color.FgRed)},
		{status: "ALREADY_SENT", want: color.New(color.Reset)},
		{status: "", want: color.New(color.Reset)},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, statusColor(tt.status))
		})
	}
}

func TestLogColor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, color.New(color.FgYellow), logColor("[WARN] IUID ausente"))
	assert.Equal(t, color.New(color.FgRed), logColor("[SEND_RESULT] FAIL"))
	assert.Equal(t, color.New(color.FgRed), logColor("status=ERRO"))
	assert.Equal(t, color.New(color.Reset), logColor("[AN_START] varredura"))
}

func TestCommandFlags(t *testing.T) {
	t.Parallel()

	send := NewSendCommand()
	require.NotNil(t, send.Flags().Lookup("run-id"))
	require.NotNil(t, send.Flags().Lookup("batch"))

	analyze := NewAnalyzeCommand()
	require.NotNil(t, analyze.Flags().Lookup("batch"))
	require.NotNil(t, analyze.Flags().Lookup("run-id"))

	report := NewReportCommand()

	mode := report.Flags().Lookup("mode")
	require.NotNil(t, mode)
	assert.Equal(t, "A", mode.DefValue)

	validate := NewValidateCommand()
	require.NotNil(t, validate.Flags().Lookup("run-id"))
}
