package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/radstore/internal/fault"
	"github.com/roach88/radstore/internal/index"
	"github.com/roach88/radstore/internal/notify"
	"github.com/roach88/radstore/internal/record"
	"github.com/roach88/radstore/internal/testutil"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "radstore", cmd.Use)

	for _, name := range []string{"serve", "store", "reconstruct", "jobs", "export"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
	assert.Equal(t, "c", cmd.PersistentFlags().Lookup("config").Shorthand)
}

// testEnv is a configuration file pointing at a fresh storage directory.
type testEnv struct {
	dir    string
	config string
}

func newTestEnv(t *testing.T, extra string) testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`storage_dir: %s
compression: zlib
log:
  level: error
  format: json
jobs:
  save_interval: 0s
notifier:
  poll_interval: 10ms
%s`, filepath.Join(dir, "data"), extra)
	path := filepath.Join(dir, "radstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return testEnv{dir: dir, config: path}
}

func (e testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return e.runContext(t, context.Background(), args...)
}

func (e testEnv) runContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	out, logs := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(logs)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func (e testEnv) writeRecord(t *testing.T, sop string) string {
	t.Helper()
	ds := testutil.Dataset(testutil.Chain{Patient: "P-7", Study: "1.2.3", Series: "1.2.3.4", Instance: sop},
		record.Attributes{record.TagModality: "MR"})
	data := testutil.Encode(t, ds)
	path := filepath.Join(e.dir, sop+".cbor")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func decodeData[T any](t *testing.T, out string) T {
	t.Helper()
	var resp struct {
		Status string `json:"status"`
		Data   T      `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestInvalidFormat(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.run(t, "--format", "yaml", "jobs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestBadConfiguration(t *testing.T) {
	env := newTestEnv(t, "cache_capacity: -3\n")
	_, err := env.run(t, "jobs")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestStoreAndExport(t *testing.T) {
	env := newTestEnv(t, "keep_alive: false\n")
	first := env.writeRecord(t, "1.2.3.4.1")
	second := env.writeRecord(t, "1.2.3.4.2")

	out, err := env.run(t, "--format", "json", "store", first, second, first)
	require.NoError(t, err)
	results := decodeData[[]StoredFile](t, out)
	require.Len(t, results, 3)
	assert.Equal(t, "Success", results[0].Outcome)
	assert.Equal(t, 4, results[0].Created)
	assert.Equal(t, 1, results[1].Created)
	assert.Equal(t, "AlreadyStored", results[2].Outcome)
	assert.Equal(t, results[0].InstanceID, results[2].InstanceID)

	answer := filepath.Join(env.dir, "answer.http")
	_, err = env.run(t, "export", results[0].InstanceID, results[1].InstanceID, "--output", answer)
	require.NoError(t, err)

	raw, err := os.ReadFile(answer)
	require.NoError(t, err)
	text := string(raw)
	require.True(t, strings.HasPrefix(text, "HTTP/1.1 200 OK\r\n"), text)

	const marker = "boundary="
	start := strings.Index(text, marker)
	require.Positive(t, start)
	boundary := text[start+len(marker) : start+len(marker)+strings.Index(text[start+len(marker):], "\r\n")]
	assert.Equal(t, 2, strings.Count(text, "--"+boundary+"\nContent-Type: application/cbor\n"))
	assert.True(t, strings.HasSuffix(text, "--"+boundary+"--\n"))
}

func TestStore_ReportsFailures(t *testing.T) {
	env := newTestEnv(t, "")
	garbage := filepath.Join(env.dir, "garbage.cbor")
	require.NoError(t, os.WriteFile(garbage, []byte{0xff, 0x00}, 0o644))
	good := env.writeRecord(t, "9.9")

	out, err := env.run(t, "store", garbage, good, filepath.Join(env.dir, "absent.cbor"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "2 of 3 file(s) not stored")
	assert.Contains(t, out, "✗ "+garbage)
	assert.Contains(t, out, "✓ "+good+": Success")
}

func TestStore_IncomingFilter(t *testing.T) {
	env := newTestEnv(t, "filter: 'tags.Modality != \"MR\"'\n")
	out, err := env.run(t, "--format", "json", "store", env.writeRecord(t, "5.5"))
	require.NoError(t, err)
	results := decodeData[[]StoredFile](t, out)
	assert.Equal(t, "FilteredOut", results[0].Outcome)
}

func TestExport_UnknownInstance(t *testing.T) {
	env := newTestEnv(t, "")
	out, err := env.run(t, "export", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Empty(t, out)
}

func TestReconstruct(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.run(t, "store", env.writeRecord(t, "1.1"))
	require.NoError(t, err)

	out, err := env.run(t, "--format", "json", "reconstruct")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"resources": 4}, decodeData[map[string]int](t, out))

	out, err = env.run(t, "--format", "json", "reconstruct", "--level", "series")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"resources": 1}, decodeData[map[string]int](t, out))

	_, err = env.run(t, "reconstruct", "--level", "frame")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestBackgroundJobLifecycle(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.run(t, "store", env.writeRecord(t, "1.1"))
	require.NoError(t, err)

	out, err := env.run(t, "--format", "json", "reconstruct", "--background", "--priority", "3")
	require.NoError(t, err)
	queued := decodeData[map[string]string](t, out)["job"]
	require.NotEmpty(t, queued)

	out, err = env.run(t, "--format", "json", "jobs")
	require.NoError(t, err)
	listed := decodeData[[]JobView](t, out)
	require.Len(t, listed, 1)
	assert.Equal(t, queued, listed[0].ID)
	assert.Equal(t, "ReconstructAttributes", listed[0].Type)
	assert.Equal(t, "Pending", listed[0].State)
	assert.Equal(t, 3, listed[0].Priority)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	out, err = env.runContext(t, ctx, "serve")
	require.NoError(t, err)
	assert.Contains(t, out, "radstore serving")
	assert.Contains(t, out, "with 1 pending job(s)")

	out, err = env.run(t, "jobs")
	require.NoError(t, err)
	assert.Equal(t, "No jobs\n", out, "the job ran during serve and is no longer persisted")
}

func TestJobsCancel(t *testing.T) {
	env := newTestEnv(t, "")
	out, err := env.run(t, "--format", "json", "reconstruct", "--background")
	require.NoError(t, err)
	id := decodeData[map[string]string](t, out)["job"]

	out, err = env.run(t, "--format", "json", "jobs", "--cancel", id)
	require.NoError(t, err)
	listed := decodeData[[]JobView](t, out)
	require.Len(t, listed, 1)
	assert.Equal(t, "Failed", listed[0].State)

	out, err = env.run(t, "jobs")
	require.NoError(t, err)
	assert.Equal(t, "No jobs\n", out)

	_, err = env.run(t, "jobs", "--cancel", "unknown")
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestExport_FixedBoundary(t *testing.T) {
	env := newTestEnv(t, "keep_alive: false\n")
	out, err := env.run(t, "--format", "json", "store", env.writeRecord(t, "2.2"))
	require.NoError(t, err)
	id := decodeData[[]StoredFile](t, out)[0].InstanceID

	buf := &bytes.Buffer{}
	cmd := newExportCommand(&ExportOptions{
		RootOptions: &RootOptions{Config: env.config, Format: "text"},
		Boundary:    func() string { return "fixed-boundary" },
	})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{id})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, buf.String(), "Content-Type: multipart/related; type=multipart/related; boundary=fixed-boundary\r\n\r\n")
	assert.True(t, strings.HasSuffix(buf.String(), "--fixed-boundary--\n"))
}

func TestExport_KeepAliveSendsSingleInstanceAsBody(t *testing.T) {
	env := newTestEnv(t, "")
	path := env.writeRecord(t, "3.3")
	out, err := env.run(t, "--format", "json", "store", path)
	require.NoError(t, err)
	id := decodeData[[]StoredFile](t, out)[0].InstanceID

	record, err := os.ReadFile(path)
	require.NoError(t, err)

	out, err = env.run(t, "export", id)
	require.NoError(t, err)
	head := fmt.Sprintf("HTTP/1.1 200 OK\r\nConnection: keep-alive\r\nContent-Type: application/cbor\r\nContent-Length: %d\r\n\r\n", len(record))
	assert.Equal(t, head+string(record), out)
}

func TestExport_KeepAliveRefusesSeveralInstances(t *testing.T) {
	env := newTestEnv(t, "keep_alive: true\n")
	out, err := env.run(t, "--format", "json", "store", env.writeRecord(t, "4.1"), env.writeRecord(t, "4.2"))
	require.NoError(t, err)
	results := decodeData[[]StoredFile](t, out)

	out, err = env.run(t, "export", results[0].InstanceID, results[1].InstanceID)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "requires keep_alive: false")
	assert.True(t, fault.IsNotImplemented(err))
	assert.Empty(t, out)
}

// failingCloser accepts writes and fails on Close.
type failingCloser struct {
	bytes.Buffer
}

func (*failingCloser) Close() error { return errors.New("disk quota exceeded") }

func TestExport_ReportsOutputCloseFailure(t *testing.T) {
	env := newTestEnv(t, "")
	out, err := env.run(t, "--format", "json", "store", env.writeRecord(t, "6.6"))
	require.NoError(t, err)
	id := decodeData[[]StoredFile](t, out)[0].InstanceID

	file := &failingCloser{}
	cmd := newExportCommand(&ExportOptions{
		RootOptions: &RootOptions{Config: env.config, Format: "text"},
		Create:      func(string) (io.WriteCloser, error) { return file, nil },
	})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{id, "--output", filepath.Join(env.dir, "answer.http")})

	err = cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to write output file: disk quota exceeded")
	assert.True(t, strings.HasPrefix(file.String(), "HTTP/1.1 200 OK\r\n"))
}

func TestOpenApp_EventSequenceContinuesChangeLog(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.run(t, "store", env.writeRecord(t, "8.8"))
	require.NoError(t, err)

	a, err := openApp(&RootOptions{Config: env.config}, io.Discard)
	require.NoError(t, err)
	defer a.Close()

	var last int64
	require.NoError(t, a.index.View(context.Background(), func(tx *index.Tx) error {
		var err error
		last, err = tx.LastChangeSeq(context.Background())
		return err
	}))
	require.Positive(t, last)

	ev := a.notifier.SignalChange(notify.ChangeNewInstance, "x", record.LevelInstance)
	assert.Equal(t, last+1, ev.Seq)
}
