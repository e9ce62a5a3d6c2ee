package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samogod/trainconf/pkg/orchestrator"
	"github.com/samogod/trainconf/pkg/schema"
)

func TestReadFilesFromList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(path, []byte("# runs\na.yaml\n\n  b.yaml  \n"), 0644))

	files, err := readFilesFromList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.yaml", "b.yaml"}, files)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n"), 0644))
	_, err = readFilesFromList(empty)
	assert.EqualError(t, err, "no configuration files found in list")
}

func TestCheckOutputCarriesErrorKind(t *testing.T) {
	result := &orchestrator.CheckResult{
		Path:     "bad.yaml",
		Name:     "bad",
		Err:      &schema.ConfigError{Kind: schema.MissingField, Path: "runconfig", Msg: "section is required"},
		Duration: 2 * time.Millisecond,
	}

	out := newCheckOutput(result)
	assert.False(t, out.Valid)
	assert.Equal(t, "missing field", out.ErrorKind)
	assert.Equal(t, "runconfig", out.ErrorPath)
	assert.Equal(t, "runconfig: missing field: section is required", out.Error)
	assert.InDelta(t, 2.0, out.DurationMs, 1e-9)
}

func TestWriteResult(t *testing.T) {
	cfg, err := schema.LoadFile("../pkg/schema/testdata/gpt_2_7b_rotary.yaml")
	require.NoError(t, err)

	warn := schema.ConfigWarning{Check: "run-intervals", Path: "runconfig.eval_frequency", Msg: "never fires"}

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeResult(&buf, &orchestrator.CheckResult{
			Path:     "run.yaml",
			Config:   cfg,
			Warnings: []schema.ConfigWarning{warn},
			Valid:    false,
		}))
		assert.Equal(t,
			"[WARN] run.yaml: [run-intervals] runconfig.eval_frequency: never fires\n"+
				"[INVALID] run.yaml: 1 warnings in strict mode\n",
			buf.String())
	})

	t.Run("json", func(t *testing.T) {
		jsonFormat = true
		defer func() { jsonFormat = false }()

		var buf bytes.Buffer
		require.NoError(t, writeResult(&buf, &orchestrator.CheckResult{
			Path:     "run.yaml",
			Name:     "run",
			Config:   cfg,
			Warnings: []schema.ConfigWarning{warn},
			Valid:    true,
		}))

		var out CheckOutput
		require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
		assert.True(t, out.Valid)
		assert.Equal(t, 4932121, out.MaxSteps)
		assert.Equal(t, 4932121, out.ScheduleSteps)
		assert.Equal(t, []WarningOutput{{Check: "run-intervals", Path: "runconfig.eval_frequency", Message: "never fires"}}, out.Warnings)
	})
}
