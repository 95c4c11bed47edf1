package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/student-tracker-sync/pkg/errors"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "tracker-sync", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()

	for _, path := range [][]string{
		{"sync"},
		{"migrate"},
		{"logs"},
		{"graduations", "export"},
		{"graduations", "ack"},
		{"graduations", "prune"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	syncCmd, _, err := cmd.Find([]string{"sync"})
	require.NoError(t, err)
	require.NotNil(t, syncCmd.Flags().Lookup("phase"))
	require.NotNil(t, syncCmd.Flags().Lookup("refresh-repo-cache"))

	exportCmd, _, err := cmd.Find([]string{"graduations", "export"})
	require.NoError(t, err)
	fileFormat := exportCmd.Flags().Lookup("file-format")
	require.NotNil(t, fileFormat)
	assert.Equal(t, "csv", fileFormat.DefValue)

	logsCmd, _, err := cmd.Find([]string{"logs"})
	require.NoError(t, err)
	require.NotNil(t, logsCmd.Flags().Lookup("since"))
}

func TestInvalidFormatRejected(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "xml", "logs"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestAckRequiresTwoArgs(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"graduations", "ack", "4411"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	assert.Error(t, cmd.Execute())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "start", errors.New("no db"))))
	assert.Equal(t, ExitCommandError, GetExitCode(appErrors.Clone(appErrors.ErrValidation, "bad level")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
}

func TestOutputFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, f.Success(map[string]int{"rows": 3}, "3 rows"))
	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	buf.Reset()
	err := f.Failure(errors.New("store unavailable"))
	assert.EqualError(t, err, "store unavailable")
	assert.JSONEq(t, `{"status":"error","error":"store unavailable"}`, buf.String())

	buf.Reset()
	text := &OutputFormatter{Format: "text", Writer: buf}
	require.NoError(t, text.Success(nil, "schema applied"))
	assert.Equal(t, "schema applied\n", buf.String())
}
