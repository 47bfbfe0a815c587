package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"plenario/internal/config"
	"plenario/internal/engine"
	"plenario/internal/flags"
	"plenario/internal/output"
	"plenario/internal/stages"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withConfigFile points --config at a file holding yaml for the duration of
// the test.
func withConfigFile(t *testing.T, yaml string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	old := configPath
	configPath = path
	t.Cleanup(func() { configPath = old })
}

func TestFlagKeys_AreConfigKeys(t *testing.T) {
	known := make(map[string]bool)
	for _, k := range config.Keys() {
		known[k] = true
	}
	for _, m := range []map[string]string{globalFlagKeys, runFlagKeys, serveFlagKeys} {
		for name, key := range m {
			assert.True(t, known[key], "flag --%s maps to unknown key %q", name, key)
		}
	}
}

func TestRunCmd_DefinesEveryMappedFlag(t *testing.T) {
	cmd := newRunCmd()
	for name := range runFlagKeys {
		assert.NotNil(t, cmd.Flags().Lookup(name), "run is missing --%s", name)
	}
}

func TestRunPipeline_ExitSetup_WhenOutFormatCannotBeInferred(t *testing.T) {
	cmd := newRunCmd()
	var stderr bytes.Buffer
	cmd.SetErr(&stderr)
	require.NoError(t, cmd.ParseFlags([]string{"--" + flags.FlagOut, "results.unknown"}))

	code := runPipeline(cmd, cmd.Flags().Args())

	assert.Equal(t, engine.ExitSetup, code)
	assert.Contains(t, stderr.String(), "cannot infer output format")
}

func TestRunPipeline_ExitSetup_WhenConfigFileIsInvalid(t *testing.T) {
	withConfigFile(t, "ocr:\n  max_retries: 0\n")
	cmd := newRunCmd()
	var stderr bytes.Buffer
	cmd.SetErr(&stderr)

	code := runPipeline(cmd, nil)

	assert.Equal(t, engine.ExitSetup, code)
	assert.Contains(t, stderr.String(), "ocr.max_retries")
}

func TestRunPipeline_ExitSetup_UnknownStage(t *testing.T) {
	cmd := newRunCmd()
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, cmd.ParseFlags([]string{"--" + flags.FlagNoConsole}))

	assert.Equal(t, engine.ExitSetup, runPipeline(cmd, []string{"bogus"}))
}

func TestRunPipeline_OutputFlagsReachSinks(t *testing.T) {
	out := filepath.Join(t.TempDir(), "events.ndjson")
	cmd := newRunCmd()
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, cmd.ParseFlags([]string{
		"--" + flags.FlagNoConsole,
		"--" + flags.FlagOut, out,
		"--" + flags.FlagTimeout, "1m",
	}))

	code := runPipeline(cmd, nil)
	require.Equal(t, engine.ExitCompleted, code)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	var types []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev output.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		types = append(types, ev.Type)
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, output.EventRunStarted, types[0])
	assert.Equal(t, output.EventRunFinished, types[len(types)-1])
}

type fakeStage struct{ id string }

func (s fakeStage) ID() string          { return s.id }
func (s fakeStage) Title() string       { return "Recognize header text" }
func (s fakeStage) Description() string { return "Sends each header crop to the OCR engine." }
func (s fakeStage) Run(context.Context, *stages.Env) (output.StageSummary, error) {
	return output.StageSummary{}, nil
}

func TestPrintStage(t *testing.T) {
	old := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = old })

	tests := []struct {
		name string
		id   string
		want string
	}{
		{name: "pipeline stage is numbered", id: "ocr", want: "STAGE 8: ocr"},
		{name: "unknown stage has no number", id: "extra", want: "STAGE: extra"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printStage(&buf, fakeStage{id: tt.id})
			got := buf.String()
			assert.Contains(t, got, tt.want)
			assert.Contains(t, got, "Recognize header text")
			assert.Contains(t, got, "Sends each header crop to the OCR engine.")
		})
	}
}

func TestVersionCmd(t *testing.T) {
	SetBuildInfo("1.2.3", "abc123", "2026-01-01")
	t.Cleanup(func() { SetBuildInfo("dev", "unknown", "unknown") })

	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	t.Cleanup(func() { versionCmd.SetOut(nil) })
	versionCmd.Run(versionCmd, nil)

	assert.Equal(t, "plenario 1.2.3\ncommit: abc123\nbuilt:  2026-01-01\n", buf.String())
}

func TestServe_RecordsFromJSONFile(t *testing.T) {
	dir := t.TempDir()
	records := `[{"id":"a-1","tipo":"VOTACIÓN","fecha_hora":"2015-03-12 10:30:00","asunto":"MOCIÓN DE ORDEN DEL DÍA","pagina":"1","url":null}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "records.json"), []byte(records), 0o644))
	withConfigFile(t, fmt.Sprintf(`paths:
  records_json: %q
  public_dir: %q
store:
  sqlite_path: %q
`, filepath.Join(dir, "records.json"), dir, filepath.Join(dir, "missing.sqlite")))

	cmd := newServeCmd()
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, cmd.ParseFlags([]string{"--" + flags.FlagAddr, "127.0.0.1:0"}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmd.SetContext(ctx)

	addrs := make(chan net.Addr, 1)
	done := make(chan int, 1)
	go func() { done <- serve(cmd, func(a net.Addr) { addrs <- a }) }()

	var addr net.Addr
	select {
	case addr = <-addrs:
	case code := <-done:
		t.Fatalf("serve exited early with %d", code)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr.String() + "/api/records?q=moci")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Total   int `json:"total"`
		Records []struct {
			ID string `json:"id"`
		} `json:"records"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Total)
	require.Len(t, body.Records, 1)
	assert.Equal(t, "a-1", body.Records[0].ID)

	assert.False(t, strings.HasSuffix(addr.String(), ":0"))
	cancel()
	select {
	case code := <-done:
		assert.Equal(t, engine.ExitCompleted, code)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
