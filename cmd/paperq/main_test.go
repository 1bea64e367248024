package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/paper-translate/internal/common"
)

type env struct {
	store  string
	papers string
	out    string
}

func newEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	e := env{
		store:  filepath.Join(dir, "jobs.json"),
		papers: filepath.Join(dir, "papers"),
		out:    filepath.Join(dir, "translations"),
	}
	require.NoError(t, os.MkdirAll(e.papers, 0o755))
	t.Setenv("WORKER_DRY_RUN", "")
	t.Setenv("LOG_LEVEL", "error")
	return e
}

func (e env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{
		"--store", "file",
		"--store-path", e.store,
		"--papers-dir", e.papers,
		"--out-dir", e.out,
	}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e env) writePaper(t *testing.T, id, abstract string) {
	t.Helper()
	body := `{"id": "` + id + `", "title": "A study of $x^2$ growth", "abstract": "` + abstract +
		`", "paragraphs": ["First paragraph.", "Second paragraph with $$E = mc^2$$."]}`
	require.NoError(t, os.WriteFile(filepath.Join(e.papers, id+".json"), []byte(body), 0o644))
}

func TestAddAndStats(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "add", "p1", "p2", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, "added 2 of 3 job(s)")
	assert.Contains(t, out, "total=2 pending=2 in_progress=0")

	out, err = e.run(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "total=2 pending=2")
}

func TestAddRequiresIDsOrDirectory(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "add")
	require.Error(t, err)
}

func TestAddFromDirSkipsInvalidRecords(t *testing.T) {
	e := newEnv(t)
	e.writePaper(t, "good", strings.Repeat("An abstract sentence. ", 4))
	require.NoError(t, os.WriteFile(filepath.Join(e.papers, "bad.json"), []byte(`{"id": `), 0o644))

	out, err := e.run(t, "add", "--from-dir")
	require.NoError(t, err)
	assert.Contains(t, out, "valid=1 added=1")
	assert.Contains(t, out, "failed=1")
	assert.Contains(t, out, "total=1 pending=1")
}

func TestClaimResetAndRetry(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "add", "p1")
	require.NoError(t, err)

	out, err := e.run(t, "claim", "--worker", "w1", "--batch", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "p1\tattempt=1")
	assert.Contains(t, out, "in_progress=1")

	out, err = e.run(t, "claim", "--worker", "w2")
	require.NoError(t, err)
	assert.Contains(t, out, "no claimable jobs")

	out, err = e.run(t, "reset-stuck", "--timeout", "0s")
	require.NoError(t, err)
	assert.Contains(t, out, "reset 1 stuck job(s)")
	assert.Contains(t, out, "pending=1")

	out, err = e.run(t, "retry-failed")
	require.NoError(t, err)
	assert.Contains(t, out, "requeued 0 failed job(s)")
}

func TestClaimRequiresWorker(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "claim")
	require.Error(t, err)
}

func TestUnreadableStoreFails(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.WriteFile(e.store, []byte("{not json"), 0o644))

	_, err := e.run(t, "stats")
	require.Error(t, err)
}

func TestUnknownBackendFails(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "stats", "--store", "mongo")
	require.Error(t, err)
}

func TestBatchDryRunTranslatesQueue(t *testing.T) {
	e := newEnv(t)
	e.writePaper(t, "p1", strings.Repeat("An abstract sentence. ", 4))
	e.writePaper(t, "p2", "Too short.")
	_, err := e.run(t, "add", "--from-dir")
	require.NoError(t, err)

	out, err := e.run(t, "batch", "--dry-run", "--concurrency", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "claimed=2 completed=1 flagged=1 failed=0")
	assert.Contains(t, out, "total=2 pending=0 in_progress=0 completed=1 failed=0 qa_flagged=1")

	raw, err := os.ReadFile(filepath.Join(e.out, "p1.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `$x^2$`)
	assert.Contains(t, string(raw), `"_qa_status": "pass"`)

	xlsx := filepath.Join(t.TempDir(), "jobs.xlsx")
	out, err = e.run(t, "export", "--out", xlsx, "--status", "completed,qa_flagged")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+xlsx)
	info, err := os.Stat(xlsx)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestWorkWithoutCredentialsFails(t *testing.T) {
	e := newEnv(t)
	t.Setenv("LLM_API_KEY", "")
	_, err := e.run(t, "work")
	require.Error(t, err)
}

func TestExportRejectsUnknownStatus(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "export", "--status", "done")
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "store file: ok")
}

func TestStartValidatesWithWorkerFlags(t *testing.T) {
	e := newEnv(t)
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("STORE_PATH", e.store)
	a := &app{cfg: common.LoadConfig()}

	assert.Error(t, a.validateWorkers(nil))
	assert.NoError(t, a.validateWorkers([]string{"--dry-run"}))
	assert.NoError(t, a.validateWorkers([]string{"--log-level", "debug", "--dry-run=true"}))
	assert.Error(t, a.validateWorkers([]string{"--dry-run=false"}))
	assert.False(t, a.cfg.Worker.DryRun, "parent settings are left alone")
}

func TestStartRejectsBadWorkerCount(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "start", "zero")
	require.Error(t, err)
}
