package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/marksync/internal/entity"
	"github.com/roach88/marksync/internal/model"
	"github.com/roach88/marksync/internal/store"
	"github.com/roach88/marksync/internal/view"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(LinkChange{Action: "added", ID: "l1", To: "c1"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"action": "added", "id": "l1", "to": "c1"}, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	require.NoError(t, formatter.Error(CodeRemote, "failed to add link", map[string]string{"kind": "links"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeRemote, resp.Error.Code)
	assert.Equal(t, "failed to add link", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccessUsesRenderer(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	n := 2
	require.NoError(t, formatter.Success(OverviewResult{
		User: "u1",
		Tabs: []view.TabSummary{{
			ID: "t1", Title: "Home", LinkCount: &n,
			Categories: []view.CategorySummary{{ID: "c1", Title: "News", LinkCount: &n, Tags: []string{"go", "news"}}},
		}},
	}))
	assert.Equal(t, "Home (2)\n  News (2) [go, news]\n", buf.String())

	buf.Reset()
	require.NoError(t, formatter.Success("cleared links/c1"))
	assert.Equal(t, "cleared links/c1\n", buf.String())
}

func TestOutputFormatter_TextErrorGoesToErrWriter(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: out, ErrWriter: errOut, Verbose: true}

	require.NoError(t, formatter.Error(CodeConfig, "bad config", "line 3"))
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "Error [E001]: bad config")
	assert.Contains(t, errOut.String(), "Details: line 3")
}

func TestOutputFormatter_Fail(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	cause := &model.MutationError{Code: model.CodeConflict, Kind: entity.KindLinks, Op: entity.OpUpdate, Err: model.ErrConflict}
	err := formatter.Fail(ExitFailure, "failed to move link", cause)

	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, model.ErrConflict)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, CodeConflict, resp.Error.Code)
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:  "text",
				Writer:  buf,
				Verbose: tt.verbose,
			}

			formatter.VerboseLog("watching overview of %s", "u1")

			if tt.wantLog {
				assert.Contains(t, buf.String(), "watching overview of u1")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitCommandError,
		GetExitCode(fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "inner", errors.New("x")))))
}

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"conflict", &model.MutationError{Code: model.CodeConflict}, CodeConflict},
		{"rejected", &model.MutationError{Code: model.CodeRejected, Status: 500}, CodeRemote},
		{"transport", &model.MutationError{Code: model.CodeTransport}, CodeRemote},
		{"invalid", &model.MutationError{Code: model.CodeInvalid}, CodeInvalid},
		{"store miss", fmt.Errorf("read: %w", store.ErrNotFound), CodeNotFound},
		{"record miss", fmt.Errorf("link l9: %w", errNotFound), CodeNotFound},
		{"config", fmt.Errorf("%w: bad", errConfig), CodeConfig},
		{"other", errors.New("boom"), CodeUnhandled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeOf(tt.err))
		})
	}
}
