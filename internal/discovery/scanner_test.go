package discovery_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultsync/internal/config"
	"github.com/systmms/vaultsync/internal/content"
	"github.com/systmms/vaultsync/internal/discovery"
	"github.com/systmms/vaultsync/tests/testutil"
)

func defaultScanner() *discovery.Scanner {
	return discovery.NewScanner(discovery.DefaultCandidates(), nil)
}

func names(entries []discovery.Entry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func TestScan_FindsDefaults(t *testing.T) {
	home := testutil.NewHome(t)
	home.WriteKeyPair("id_ed25519")
	home.Write(".ssh/id_rsa", testutil.TestPrivateKey, 0o600) // no .pub, skipped
	home.Write(".gitconfig", "[user]\n\tname = x\n", 0o644)
	home.Write(".secrets.env", "TOKEN=abc\n", 0o600)

	report, err := defaultScanner().Scan(context.Background(), config.NewDocument())
	require.NoError(t, err)

	assert.Equal(t, []string{"Env-Secrets", "Git-Config", "SSH-Key-ed25519"}, names(report.Entries))
	assert.Equal(t, 3, report.Count(discovery.New))

	byName := map[string]discovery.Entry{}
	for _, e := range report.Entries {
		byName[e.Name] = e
	}
	assert.Equal(t, "~/.gitconfig", byName["Git-Config"].Path)
	assert.Equal(t, content.KindFile, byName["Git-Config"].Kind)
	assert.Equal(t, content.Fingerprint("[user]\n\tname = x\n"), byName["Git-Config"].Fingerprint)
	assert.Equal(t, content.KindKeyValueFile, byName["Env-Secrets"].Kind)
	assert.Equal(t, "~/.ssh/id_ed25519", byName["SSH-Key-ed25519"].Path)
	assert.Equal(t, content.KindSSHKeyPair, byName["SSH-Key-ed25519"].Kind)
}

func TestScan_Classifications(t *testing.T) {
	home := testutil.NewHome(t)
	home.Write(".gitconfig", "A", 0o644)
	home.Write(".ssh/config", "Host new\n", 0o600)
	home.Write(".npmrc", "registry=x\n", 0o600)
	home.Write(".docker/config.json", "{}", 0o600)

	doc := config.NewDocument()
	require.NoError(t, doc.Add(config.Item{Name: "Git-Config", Path: "~/.gitconfig", Kind: content.KindFile,
		Sync: config.SyncAlways, LastSyncedHash: content.Fingerprint("A")}))
	require.NoError(t, doc.Add(config.Item{Name: "SSH-Config", Path: "~/.ssh/config", Kind: content.KindFile,
		Sync: config.SyncAlways, LastSyncedHash: content.Fingerprint("Host old\n")}))
	require.NoError(t, doc.Add(config.Item{Name: "NPM-Config", Path: "~/.npmrc", Kind: content.KindFile,
		Sync: config.SyncManual}))
	require.NoError(t, doc.Add(config.Item{Name: "AWS-Config", Path: "~/.aws/config", Kind: content.KindFile,
		Sync: config.SyncAlways, LastSyncedHash: content.Fingerprint("[default]\n")}))

	report, err := defaultScanner().Scan(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, []string{"Docker-Config"}, names(report.Of(discovery.New)))
	assert.Equal(t, []string{"AWS-Config"}, names(report.Of(discovery.ExistingNotFound)))
	assert.Equal(t, []string{"Git-Config"}, names(report.Of(discovery.Unchanged)))
	assert.Equal(t, []string{"NPM-Config", "SSH-Config"}, names(report.Of(discovery.Changed)))

	for _, e := range report.Of(discovery.Changed) {
		if e.Name == "NPM-Config" {
			assert.Equal(t, "never synced", e.Detail)
		}
	}
	assert.Empty(t, report.Of(discovery.ExistingNotFound)[0].Fingerprint)
}

func TestScan_RecordedPathUnderOtherName(t *testing.T) {
	home := testutil.NewHome(t)
	home.Write(".gitconfig", "A", 0o644)

	doc := config.NewDocument()
	require.NoError(t, doc.Add(config.Item{Name: "My-Git", Path: "~/.gitconfig", Kind: content.KindFile, Sync: config.SyncManual}))

	report, err := defaultScanner().Scan(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, []string{"My-Git"}, names(report.Entries))
	assert.Zero(t, report.Count(discovery.New))
}

func TestScan_IncompleteKeyPair(t *testing.T) {
	home := testutil.NewHome(t)
	home.Write(".ssh/id_work", testutil.TestPrivateKey, 0o600)

	doc := config.NewDocument()
	require.NoError(t, doc.Add(config.Item{Name: "SSH-Key-work", Path: "~/.ssh/id_work", Kind: content.KindSSHKeyPair, Sync: config.SyncManual}))

	report, err := defaultScanner().Scan(context.Background(), doc)
	require.NoError(t, err)

	require.Len(t, report.Entries, 1)
	assert.Equal(t, discovery.Changed, report.Entries[0].Class)
	assert.Contains(t, report.Entries[0].Detail, "incomplete")
}

// Two scans with no filesystem changes in between yield identical reports.
func TestScan_Deterministic(t *testing.T) {
	home := testutil.NewHome(t)
	home.WriteKeyPair("id_ed25519")
	home.WriteKeyPair("id_rsa")
	home.Write(".gitconfig", "A", 0o644)
	home.Write(".aws/credentials", "[default]\n", 0o600)
	home.Write(".aws/config", "[default]\nregion = eu-west-1\n", 0o600)

	doc := config.NewDocument()
	require.NoError(t, doc.Add(config.Item{Name: "Gone", Path: "~/.gone", Kind: content.KindFile, Sync: config.SyncManual}))
	require.NoError(t, doc.Add(config.Item{Name: "Git-Config", Path: "~/.gitconfig", Kind: content.KindFile,
		Sync: config.SyncAlways, LastSyncedHash: content.Fingerprint("A")}))

	s := defaultScanner()
	first, err := s.Scan(context.Background(), doc)
	require.NoError(t, err)
	second, err := s.Scan(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t,
		[]string{"AWS-Config", "AWS-Credentials", "Git-Config", "Gone", "SSH-Key-ed25519", "SSH-Key-rsa"},
		names(first.Entries))
}

func TestApplyDrafts(t *testing.T) {
	home := testutil.NewHome(t)
	home.Write(".gitconfig", "A", 0o644)
	home.Write(".npmrc", "registry=x\n", 0o600)

	doc := config.NewDocument()
	report, err := defaultScanner().Scan(context.Background(), doc)
	require.NoError(t, err)

	added, err := discovery.ApplyDrafts(doc, report)
	require.NoError(t, err)
	assert.Equal(t, []string{"Git-Config", "NPM-Config"}, added)

	it := doc.Find("Git-Config")
	require.NotNil(t, it)
	assert.Equal(t, config.SyncManual, it.Sync)
	assert.Equal(t, "~/.gitconfig", it.Path)
	assert.Empty(t, it.LastSyncedHash, "discovery never records a hash")

	again, err := defaultScanner().Scan(context.Background(), doc)
	require.NoError(t, err)
	assert.Zero(t, again.Count(discovery.New))
	assert.Equal(t, 2, again.Count(discovery.Changed))
}

func TestScan_Cancelled(t *testing.T) {
	testutil.NewHome(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := defaultScanner().Scan(ctx, config.NewDocument())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCandidatesFromSettings(t *testing.T) {
	t.Parallel()

	cands, err := discovery.CandidatesFromSettings(config.DiscoverySettings{
		Candidates: []config.CandidateSetting{
			{Name: "Kube-Config", Pattern: "~/.kube/config"},
			{Name: "Env-{match}", Pattern: "~/env/*.env", Kind: "key-value-file"},
		},
	})
	require.NoError(t, err)
	assert.Len(t, cands, len(discovery.DefaultCandidates())+2)
	assert.Equal(t, content.KindFile, cands[len(cands)-2].Kind)
	assert.Equal(t, content.KindKeyValueFile, cands[len(cands)-1].Kind)

	only, err := discovery.CandidatesFromSettings(config.DiscoverySettings{
		DisableDefaults: true,
		Candidates:      []config.CandidateSetting{{Name: "Kube-Config", Pattern: "~/.kube/config"}},
	})
	require.NoError(t, err)
	assert.Len(t, only, 1)

	tests := []struct {
		name string
		cs   config.CandidateSetting
		want string
	}{
		{"bad kind", config.CandidateSetting{Name: "X", Pattern: "~/x", Kind: "blob"}, "kind"},
		{"missing pattern", config.CandidateSetting{Name: "X"}, "required"},
		{"slash in name", config.CandidateSetting{Name: "a/b", Pattern: "~/x"}, "must not contain"},
		{"wildcard dir", config.CandidateSetting{Name: "X-{match}", Pattern: "~/*/x"}, "last path element"},
		{"two wildcards", config.CandidateSetting{Name: "X-{match}", Pattern: "~/x*y*"}, "at most one"},
		{"no placeholder", config.CandidateSetting{Name: "X", Pattern: "~/x*"}, "{match}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := discovery.CandidatesFromSettings(config.DiscoverySettings{
				DisableDefaults: true,
				Candidates:      []config.CandidateSetting{tt.cs},
			})
			testutil.AssertErrorContains(t, err, tt.want)
		})
	}
}

func TestScan_ExtraCandidateWildcard(t *testing.T) {
	home := testutil.NewHome(t)
	home.Write("env/prod.env", "A=1\n", 0o600)
	home.Write("env/dev.env", "A=2\n", 0o600)
	home.Write("env/readme.txt", "no", 0o644)

	cands, err := discovery.CandidatesFromSettings(config.DiscoverySettings{
		DisableDefaults: true,
		Candidates:      []config.CandidateSetting{{Name: "Env-{match}", Pattern: "~/env/*.env", Kind: "key-value-file"}},
	})
	require.NoError(t, err)

	report, err := discovery.NewScanner(cands, nil).Scan(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Env-dev", "Env-prod"}, names(report.Entries))
}
