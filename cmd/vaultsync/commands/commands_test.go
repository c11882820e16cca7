package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultsync/internal/backends"
	"github.com/systmms/vaultsync/internal/config"
	"github.com/systmms/vaultsync/internal/content"
	dserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/session"
	"github.com/systmms/vaultsync/pkg/backend"
	"github.com/systmms/vaultsync/tests/fakes"
	"github.com/systmms/vaultsync/tests/testutil"
)

type cliHarness struct {
	t    *testing.T
	app  *App
	home *testutil.Home
	fake *fakes.FakeBackend
	logs bytes.Buffer
}

// newHarness isolates HOME and the environment and registers fake as the
// "fake" backend, unlocked through FAKE_SESSION.
func newHarness(t *testing.T, fake *fakes.FakeBackend) *cliHarness {
	t.Helper()

	home := testutil.NewHome(t)
	testutil.IsolateEnv(t)
	t.Setenv("FAKE_SESSION", "tok")
	fake.WithValidToken("tok")

	h := &cliHarness{t: t, home: home, fake: fake}
	app := NewApp()
	app.Registry.Register("fake", func(cfg map[string]interface{}, opts ...backends.Option) (backend.Backend, error) {
		return fake, nil
	})
	app.LogWriter = &h.logs
	app.IsTerminal = func() bool { return false }
	app.Store = session.NewFileStore(filepath.Join(home.Dir, ".local", "state", "vaultsync"))
	app.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	h.app = app
	return h
}

// run executes the command tree once and returns stdout.
func (h *cliHarness) run(args ...string) (string, error) {
	h.t.Helper()

	var out bytes.Buffer
	root := NewRootCommand(h.app, "test")
	root.SetArgs(append([]string{"--backend", "fake", "--no-color"}, args...))
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.Execute()
	return out.String(), err
}

func (h *cliHarness) document() *config.Document {
	h.t.Helper()
	doc, err := config.LoadDocument(h.home.DocumentPath())
	require.NoError(h.t, err)
	return doc
}

const trackedDoc = `version: 3
items:
  - name: SSH-Config
    path: ~/.ssh/config
    kind: file
    sync: always
  - name: Git-Config
    path: ~/.gitconfig
    kind: file
    sync: manual
`

func TestExitCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitFailure, ExitCode(assert.AnError))
	assert.Equal(t, ExitDrift, ExitCode(errDrift))
	assert.Equal(t, ExitDrift, ExitCode(&ExitError{Code: ExitDrift, Err: assert.AnError}))
}

func TestScanCommand(t *testing.T) {
	h := newHarness(t, fakes.NewFakeBackend("fake"))
	h.home.WriteKeyPair("id_ed25519")
	h.home.Write(".gitconfig", "[user]\n", 0o644)

	out, err := h.run("scan")
	require.NoError(t, err)
	assert.Contains(t, out, "SSH-Key-ed25519")
	assert.Contains(t, out, "Git-Config")
	assert.Contains(t, out, "2 new")
	assert.False(t, h.home.Exists(".config/vaultsync/secrets.yaml"))

	_, err = h.run("scan", "--write")
	require.NoError(t, err)

	doc := h.document()
	assert.Equal(t, []string{"Git-Config", "SSH-Key-ed25519"}, doc.Names())
	assert.Equal(t, config.SyncManual, doc.Find("Git-Config").Sync)
	assert.Empty(t, doc.Find("Git-Config").LastSyncedHash)
	assert.Equal(t, os.FileMode(0o600), h.home.Mode(".config/vaultsync/secrets.yaml"))
}

func TestPullCommand(t *testing.T) {
	h := newHarness(t, fakes.NewFakeBackend("fake").WithItem("SSH-Config", "Host x\n"))
	h.home.WriteDocument(trackedDoc)

	out, err := h.run("pull")
	require.NoError(t, err)
	assert.Contains(t, out, "SSH-Config")
	assert.Contains(t, out, "1 applied")

	assert.Equal(t, "Host x\n", h.home.Read(".ssh/config"))
	assert.Equal(t, content.Fingerprint("Host x\n"), h.document().Find("SSH-Config").LastSyncedHash)
}

func TestPullCommand_DryRun(t *testing.T) {
	h := newHarness(t, fakes.NewFakeBackend("fake").WithItem("SSH-Config", "Host x\n"))
	h.home.WriteDocument(trackedDoc)

	out, err := h.run("pull", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "would create")
	assert.False(t, h.home.Exists(".ssh/config"))
	assert.Empty(t, h.document().Find("SSH-Config").LastSyncedHash)
}

func TestPullCommand_AllWithNames(t *testing.T) {
	h := newHarness(t, fakes.NewFakeBackend("fake"))
	h.home.WriteDocument(trackedDoc)

	_, err := h.run("pull", "--all", "SSH-Config")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--all")
}

func TestPushCommand_CreatesNamedManualItem(t *testing.T) {
	h := newHarness(t, fakes.NewFakeBackend("fake"))
	h.home.WriteDocument(trackedDoc)
	h.home.Write(".gitconfig", "[user]\n", 0o644)

	_, err := h.run("push", "Git-Config")
	require.NoError(t, err)

	assert.Equal(t, 1, h.fake.CallCount("CreateItem"))
	notes, ok := h.fake.Notes("Git-Config")
	require.True(t, ok)
	assert.Equal(t, "[user]\n", notes)
}

func TestPushCommand_ConflictExitsWithDrift(t *testing.T) {
	h := newHarness(t, fakes.NewFakeBackend("fake").WithItem("SSH-Config", "remote\n"))
	h.home.WriteDocument(`version: 3
items:
  - name: SSH-Config
    path: ~/.ssh/config
    kind: file
    sync: always
    last_synced_hash: ` + content.Fingerprint("base\n") + `
`)
	h.home.Write(".ssh/config", "local\n", 0o600)

	out, err := h.run("push", "--force")
	assert.Equal(t, ExitDrift, ExitCode(err))
	assert.Contains(t, out, "1 conflict(s)")
	notes, _ := h.fake.Notes("SSH-Config")
	assert.Equal(t, "remote\n", notes)
}

func TestStatusCommand(t *testing.T) {
	t.Run("in sync", func(t *testing.T) {
		h := newHarness(t, fakes.NewFakeBackend("fake").
			WithItem("SSH-Config", "Host x\n").
			WithItem("Git-Config", "[user]\n"))
		h.home.WriteDocument(trackedDoc)
		h.home.Write(".ssh/config", "Host x\n", 0o600)
		h.home.Write(".gitconfig", "[user]\n", 0o644)

		out, err := h.run("status")
		require.NoError(t, err)
		assert.Contains(t, out, "All 2 tracked item(s) in sync")
	})

	t.Run("drift", func(t *testing.T) {
		h := newHarness(t, fakes.NewFakeBackend("fake").
			WithItem("SSH-Config", "Host x\n").
			WithItem("Git-Config", "remote\n"))
		h.home.WriteDocument(trackedDoc)
		h.home.Write(".ssh/config", "Host x\n", 0o600)
		h.home.Write(".gitconfig", "local\n", 0o644)

		out, err := h.run("status")
		assert.Equal(t, ExitDrift, ExitCode(err))
		assert.Contains(t, out, "Git-Config")
		assert.Contains(t, out, "Drifted")
		assert.Contains(t, out, "1 in sync, 1 drifted")
		assert.Equal(t, "local\n", h.home.Read(".gitconfig"))
		assert.Equal(t, 0, h.fake.WriteCount())
	})

	t.Run("offline", func(t *testing.T) {
		h := newHarness(t, fakes.NewFakeBackend("fake"))
		h.home.WriteDocument(trackedDoc)

		_, err := h.run("--offline", "status")
		testutil.AssertErrorKind(t, err, dserrors.KindOfflineUnavailable)
	})
}

func TestResolveCommand(t *testing.T) {
	conflicted := `version: 3
items:
  - name: Git-Config
    path: ~/.gitconfig
    kind: file
    sync: always
    last_synced_hash: ` + content.Fingerprint("base\n") + `
`

	t.Run("needs --take without a terminal", func(t *testing.T) {
		h := newHarness(t, fakes.NewFakeBackend("fake").WithItem("Git-Config", "remote\n"))
		h.home.WriteDocument(conflicted)

		_, err := h.run("resolve", "Git-Config")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--take")
	})

	t.Run("take remote", func(t *testing.T) {
		h := newHarness(t, fakes.NewFakeBackend("fake").WithItem("Git-Config", "remote\n"))
		h.home.WriteDocument(conflicted)
		h.home.Write(".gitconfig", "local\n", 0o644)

		out, err := h.run("resolve", "Git-Config", "--take", "remote")
		require.NoError(t, err)
		assert.Contains(t, out, "took remote copy")
		assert.Equal(t, "remote\n", h.home.Read(".gitconfig"))
		assert.Len(t, h.home.Backups(".gitconfig"), 1)
		assert.Equal(t, content.Fingerprint("remote\n"), h.document().Find("Git-Config").LastSyncedHash)
	})

	t.Run("prompted", func(t *testing.T) {
		h := newHarness(t, fakes.NewFakeBackend("fake").WithItem("Git-Config", "remote\n"))
		h.home.WriteDocument(conflicted)
		h.home.Write(".gitconfig", "local\n", 0o644)
		prompter := &fakes.FakePrompter{Selections: []string{"local"}}
		h.app.Prompter = prompter

		_, err := h.run("resolve", "Git-Config")
		require.NoError(t, err)
		assert.Equal(t, 1, prompter.AskedCount())
		notes, _ := h.fake.Notes("Git-Config")
		assert.Equal(t, "local\n", notes)
	})

	t.Run("invalid side", func(t *testing.T) {
		h := newHarness(t, fakes.NewFakeBackend("fake"))
		h.home.WriteDocument(conflicted)

		_, err := h.run("resolve", "Git-Config", "--take", "theirs")
		require.Error(t, err)
	})
}

func TestValidateCommand(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		h := newHarness(t, fakes.NewFakeBackend("fake"))
		h.home.WriteDocument(trackedDoc)

		out, err := h.run("validate")
		require.NoError(t, err)
		assert.Contains(t, out, "is valid (version 3, 2 item(s))")
	})

	t.Run("open permissions warn", func(t *testing.T) {
		h := newHarness(t, fakes.NewFakeBackend("fake"))
		h.home.WriteDocument(trackedDoc)
		h.home.Write(".ssh/config", "Host x\n", 0o666)

		_, err := h.run("validate")
		require.NoError(t, err)
		assert.Contains(t, h.logs.String(), "SSH-Config")
		assert.Contains(t, h.logs.String(), "chmod 600")
	})

	t.Run("old version", func(t *testing.T) {
		h := newHarness(t, fakes.NewFakeBackend("fake"))
		h.home.WriteDocument("items: []\n")

		_, err := h.run("validate")
		testutil.AssertErrorKind(t, err, dserrors.KindSchemaInvalid)
		testutil.AssertRemediation(t, err, "vaultsync migrate")
	})
}

func TestMigrateCommand(t *testing.T) {
	const v1 = `items:
  - name: Git-Config
    path: ~/.gitconfig
    type: config
    sync: true
    folder: dotfiles
`

	t.Run("dry run", func(t *testing.T) {
		h := newHarness(t, fakes.NewFakeBackend("fake"))
		path := h.home.WriteDocument(v1)

		out, err := h.run("migrate", "--dry-run")
		require.NoError(t, err)
		assert.Contains(t, out, "version: 3")
		assert.Contains(t, out, "kind: file")
		testutil.AssertFileContents(t, path, v1)
	})

	t.Run("writes with backup", func(t *testing.T) {
		h := newHarness(t, fakes.NewFakeBackend("fake"))
		h.home.WriteDocument(v1)

		out, err := h.run("migrate")
		require.NoError(t, err)
		assert.Contains(t, out, "from version 1 to 3")
		assert.Len(t, h.home.Backups(".config/vaultsync/secrets.yaml"), 1)

		it := h.document().Find("Git-Config")
		require.NotNil(t, it)
		assert.Equal(t, config.SyncAlways, it.Sync)
		assert.Equal(t, "dotfiles", it.LocationValue())

		out, err = h.run("migrate")
		require.NoError(t, err)
		assert.Contains(t, out, "already at version 3")
	})
}

func TestLoginCommand(t *testing.T) {
	t.Run("logged out shows steps", func(t *testing.T) {
		h := newHarness(t, fakes.NewFakeBackend("fake").LoggedOut())
		t.Setenv("FAKE_SESSION", "")

		out, err := h.run("login")
		testutil.AssertErrorKind(t, err, dserrors.KindAuthRequired)
		testutil.AssertRemediation(t, err, "fake login")
		assert.Contains(t, out, "is not logged in")
	})

	t.Run("session from environment", func(t *testing.T) {
		h := newHarness(t, fakes.NewFakeBackend("fake"))

		out, err := h.run("login")
		require.NoError(t, err)
		assert.Contains(t, out, "✓ fake unlocked")
	})

	t.Run("forget", func(t *testing.T) {
		h := newHarness(t, fakes.NewFakeBackend("fake"))
		require.NoError(t, h.app.Store.Save("fake", "cached-token"))

		out, err := h.run("login", "--forget")
		require.NoError(t, err)
		assert.Contains(t, out, "Forgot the cached fake session")
		_, err = h.app.Store.Load("fake")
		assert.ErrorIs(t, err, session.ErrNotCached)
	})
}

func TestDoctorCommand(t *testing.T) {
	h := newHarness(t, fakes.NewFakeBackend("fake"))
	h.home.WriteDocument(trackedDoc)

	out, err := h.run("doctor")
	require.NoError(t, err)
	assert.Contains(t, out, "CHECK")
	assert.Contains(t, out, "document")
	assert.Contains(t, out, "connectivity")
	assert.NotContains(t, out, "✗ failed")
}

func TestDoctorCommand_ReportsFailures(t *testing.T) {
	h := newHarness(t, fakes.NewFakeBackend("fake").WithError("Init", assert.AnError))

	out, err := h.run("doctor")
	require.Error(t, err)
	assert.Contains(t, out, "✗ failed")
}

func TestBackendsCommand(t *testing.T) {
	h := newHarness(t, fakes.NewFakeBackend("fake"))

	out, err := h.run("backends")
	require.NoError(t, err)
	for _, id := range []string{"bitwarden", "1password", "pass", "aws.secretsmanager"} {
		assert.Contains(t, out, id)
	}
	assert.Contains(t, out, "*  fake")
}

func TestMetricsFile(t *testing.T) {
	h := newHarness(t, fakes.NewFakeBackend("fake").WithItem("SSH-Config", "Host x\n"))
	h.home.WriteDocument(trackedDoc)
	metricsPath := filepath.Join(t.TempDir(), "vaultsync.prom")

	_, err := h.run("--metrics-file", metricsPath, "pull")
	require.NoError(t, err)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `vaultsync_last_run_success{command="pull"} 1`)
	assert.Contains(t, string(data), `vaultsync_sync_actions_total{action="create",direction="pull",outcome="ok"} 1`)
}

func TestSettingsFromEnvironment(t *testing.T) {
	h := newHarness(t, fakes.NewFakeBackend("fake").WithItem("SSH-Config", "Host x\n"))
	docPath := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(docPath, []byte(trackedDoc), 0o600))
	t.Setenv("VAULTSYNC_CONFIG", docPath)
	h.app.Viper = config.NewViper()

	_, err := h.run("pull")
	require.NoError(t, err)
	assert.Equal(t, "Host x\n", h.home.Read(".ssh/config"))

	doc, err := config.LoadDocument(docPath)
	require.NoError(t, err)
	assert.NotEmpty(t, doc.Find("SSH-Config").LastSyncedHash)
}
