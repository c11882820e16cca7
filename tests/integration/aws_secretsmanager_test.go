package integration_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultsync/internal/backends"
	"github.com/systmms/vaultsync/internal/config"
	"github.com/systmms/vaultsync/internal/content"
	"github.com/systmms/vaultsync/internal/reconcile"
	"github.com/systmms/vaultsync/internal/session"
	"github.com/systmms/vaultsync/pkg/backend"
	"github.com/systmms/vaultsync/tests/testutil"
)

func newLocalStackBackend(t *testing.T) backend.Backend {
	t.Helper()

	env := testutil.StartDockerEnv(t, []string{"localstack"})
	b, err := backends.NewRegistry().Create("aws.secretsmanager", env.LocalStackSettings(),
		backends.WithCallTimeout(30*time.Second))
	require.NoError(t, err)
	require.NoError(t, b.Init(context.Background()))
	return b
}

func liveSession() *backend.Session {
	return backend.NewSession(backend.SessionOptions{
		Backend: "aws.secretsmanager",
		State:   backend.StateUnlocked,
		Live:    true,
	})
}

func TestAWSSecretsManagerContract(t *testing.T) {
	b := newLocalStackBackend(t)
	s := liveSession()

	seed := map[string]string{
		"SSH-Config": "Host bastion\n  User ops\n",
		"Env-Secrets": "API_TOKEN=abc123\n",
	}
	for name, notes := range seed {
		require.NoError(t, b.CreateItem(context.Background(), s, name, notes))
	}

	testutil.RunBackendContractTests(t, testutil.BackendTestCase{
		Name:    "aws.secretsmanager",
		Backend: b,
		Session: s,
		Seed:    seed,
	})
}

func TestAWSSecretsManagerPushPull(t *testing.T) {
	b := newLocalStackBackend(t)
	home := testutil.NewHome(t)
	ctx := context.Background()

	hc, ok := b.(backend.HealthChecker)
	require.True(t, ok)
	require.NoError(t, hc.HealthCheck(ctx))

	logs := testutil.NewTestLogger(t)
	mgr := session.NewManager(b, session.Options{Logger: logs.Logger(), Getenv: testutil.Getenv(nil)})
	engine := reconcile.New(mgr, reconcile.Options{Workers: 2, Logger: logs.Logger()})

	home.WriteKeyPair("id_ed25519")
	home.Write(".aws/config", "[default]\nregion = us-east-1\n", 0o600)

	doc := config.NewDocument()
	require.NoError(t, doc.Add(config.Item{Name: "SSH-Key-ed25519", Path: "~/.ssh/id_ed25519", Kind: content.KindSSHKeyPair, Sync: config.SyncAlways}))
	require.NoError(t, doc.Add(config.Item{
		Name:     "AWS-Config",
		Path:     "~/.aws/config",
		Kind:     content.KindFile,
		Sync:     config.SyncAlways,
		Location: &config.Location{Type: backend.LocationPrefix, Value: "workstation"},
	}))

	_, res, err := engine.Run(ctx, doc, reconcile.Push, nil, reconcile.ApplyOptions{})
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, 2, res.Applied())

	exists, err := b.ItemExists(ctx, liveSession(), "workstation/AWS-Config")
	require.NoError(t, err)
	assert.True(t, exists, "prefix locations become part of the secret name")

	require.NoError(t, os.Remove(home.Path(".ssh/id_ed25519")))
	require.NoError(t, os.Remove(home.Path(".ssh/id_ed25519.pub")))
	require.NoError(t, os.Remove(home.Path(".aws/config")))

	_, res, err = engine.Run(ctx, doc, reconcile.Pull, nil, reconcile.ApplyOptions{})
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, 2, res.Applied())

	assert.Equal(t, testutil.TestPrivateKey, home.Read(".ssh/id_ed25519"))
	assert.Equal(t, testutil.TestPublicKey, home.Read(".ssh/id_ed25519.pub"))
	assert.Equal(t, "[default]\nregion = us-east-1\n", home.Read(".aws/config"))

	report, err := engine.DriftCheck(ctx, doc)
	require.NoError(t, err)
	assert.False(t, report.HasDrift())
	assert.Equal(t, 2, report.InSyncCount)
}
