package reconcile_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultsync/internal/config"
	"github.com/systmms/vaultsync/internal/content"
	"github.com/systmms/vaultsync/internal/reconcile"
)

func TestCompare(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		local, remote bool
		l, r, base    string
		want          reconcile.Status
	}{
		{"local missing", false, true, "", "b", "", reconcile.StatusMissing},
		{"remote missing", true, false, "a", "", "a", reconcile.StatusMissing},
		{"equal", true, true, "a", "a", "", reconcile.StatusInSync},
		{"equal despite stale base", true, true, "a", "a", "old", reconcile.StatusInSync},
		{"never synced and different", true, true, "a", "b", "", reconcile.StatusDrifted},
		{"local changed", true, true, "new", "base", "base", reconcile.StatusLocalNewer},
		{"remote changed", true, true, "base", "new", "base", reconcile.StatusRemoteNewer},
		{"both changed", true, true, "l", "r", "base", reconcile.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := reconcile.Compare(tt.local, tt.remote, tt.l, tt.r, tt.base)
			assert.Equal(t, tt.want, got)
		})
	}
}

func obs(local, remote, base string) reconcile.Observation {
	o := reconcile.Observation{Item: config.Item{Name: "Item", Kind: content.KindFile, LastSyncedHash: base}}
	if local != "" {
		o.LocalPresent, o.LocalPayload, o.LocalHash = true, local, content.Fingerprint(local)
	}
	if remote != "" {
		o.RemotePresent, o.RemotePayload, o.RemoteHash = true, remote, content.Fingerprint(remote)
	}
	return o
}

func TestComputePullPlan(t *testing.T) {
	t.Parallel()

	fp := content.Fingerprint
	tests := []struct {
		name        string
		obs         reconcile.Observation
		wantAction  reconcile.Action
		wantConfirm bool
	}{
		{"missing locally", obs("", "r", ""), reconcile.ActionCreate, false},
		{"not in backend", obs("l", "", ""), reconcile.ActionSkip, false},
		{"in sync", obs("same", "same", fp("same")), reconcile.ActionSkip, false},
		{"remote newer", obs("base", "new", fp("base")), reconcile.ActionUpdate, true},
		{"local newer", obs("new", "base", fp("base")), reconcile.ActionUpdate, true},
		{"drifted", obs("a", "b", ""), reconcile.ActionUpdate, true},
		{"conflict", obs("l", "r", fp("base")), reconcile.ActionConflict, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			plan := reconcile.ComputePullPlan([]reconcile.Observation{tt.obs})
			require.Len(t, plan.Steps, 1)
			assert.Equal(t, reconcile.Pull, plan.Direction)
			assert.Equal(t, tt.wantAction, plan.Steps[0].Action)
			assert.Equal(t, tt.wantConfirm, plan.Steps[0].Confirm)
			assert.NotEmpty(t, plan.Steps[0].Reason)
		})
	}
}

func TestComputePushPlan(t *testing.T) {
	t.Parallel()

	fp := content.Fingerprint
	tests := []struct {
		name        string
		obs         reconcile.Observation
		wantAction  reconcile.Action
		wantConfirm bool
	}{
		{"not in backend", obs("l", "", ""), reconcile.ActionCreate, false},
		{"no local file", obs("", "r", ""), reconcile.ActionSkip, false},
		{"in sync", obs("same", "same", ""), reconcile.ActionSkip, false},
		{"local newer", obs("new", "base", fp("base")), reconcile.ActionUpdate, false},
		{"remote newer", obs("base", "new", fp("base")), reconcile.ActionUpdate, true},
		{"drifted", obs("a", "b", ""), reconcile.ActionUpdate, true},
		{"conflict", obs("l", "r", fp("base")), reconcile.ActionConflict, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			plan := reconcile.ComputePushPlan([]reconcile.Observation{tt.obs})
			require.Len(t, plan.Steps, 1)
			assert.Equal(t, reconcile.Push, plan.Direction)
			assert.Equal(t, tt.wantAction, plan.Steps[0].Action)
			assert.Equal(t, tt.wantConfirm, plan.Steps[0].Confirm)
		})
	}
}

func TestComputePlan_ObservationErrorSkips(t *testing.T) {
	t.Parallel()

	o := obs("l", "r", "")
	o.Err = content.ErrIncomplete
	for _, dir := range []reconcile.Direction{reconcile.Pull, reconcile.Push} {
		plan := reconcile.ComputePlan(dir, []reconcile.Observation{o})
		assert.Equal(t, reconcile.ActionSkip, plan.Steps[0].Action, dir)
		assert.False(t, plan.Changes())
	}
}

func TestSyncPlan_Count(t *testing.T) {
	t.Parallel()

	plan := reconcile.ComputePullPlan([]reconcile.Observation{
		obs("", "a", ""),
		obs("", "b", ""),
		obs("x", "x", ""),
	})
	assert.Equal(t, 2, plan.Count(reconcile.ActionCreate))
	assert.Equal(t, 1, plan.Count(reconcile.ActionSkip))
	assert.True(t, plan.Changes())
}

func testDocument() *config.Document {
	doc := config.NewDocument()
	doc.Items = []config.Item{
		{Name: "Always", Path: "~/.always", Kind: content.KindFile, Sync: config.SyncAlways},
		{Name: "Manual", Path: "~/.manual", Kind: content.KindFile, Sync: config.SyncManual},
		{Name: "Default", Path: "~/.default", Kind: content.KindFile},
		{Name: "Never", Path: "~/.never", Kind: content.KindFile, Sync: config.SyncNever},
	}
	return doc
}

func names(items []config.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}

func TestSelect(t *testing.T) {
	t.Parallel()

	doc := testDocument()

	t.Run("no names selects always", func(t *testing.T) {
		sel, err := reconcile.Select(doc, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"Always"}, names(sel.Items))
		assert.Empty(t, sel.Excluded)
	})

	t.Run("named manual items are selected", func(t *testing.T) {
		sel, err := reconcile.Select(doc, []string{"Manual", "Default", "Manual"})
		require.NoError(t, err)
		assert.Equal(t, []string{"Manual", "Default"}, names(sel.Items))
	})

	t.Run("never is excluded even by name", func(t *testing.T) {
		sel, err := reconcile.Select(doc, []string{"Never", "Always"})
		require.NoError(t, err)
		assert.Equal(t, []string{"Always"}, names(sel.Items))
		assert.Equal(t, []string{"Never"}, sel.Excluded)
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := reconcile.Select(doc, []string{"Nope"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"Nope"`)
	})
}

func TestTracked(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"Always", "Manual", "Default"}, names(reconcile.Tracked(testDocument())))
}

func TestLifecycle(t *testing.T) {
	t.Parallel()

	doc := testDocument()
	doc.SetHash("Always", content.Fingerprint("x"))
	assert.Equal(t, reconcile.StatusNotTracked, reconcile.Lifecycle(doc, "Nope"))
	assert.Equal(t, reconcile.StatusDiscovered, reconcile.Lifecycle(doc, "Manual"))
	assert.Equal(t, reconcile.StatusTracked, reconcile.Lifecycle(doc, "Always"))
}

func TestParseResolution(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"local", "remote", "skip"} {
		r, ok := reconcile.ParseResolution(s)
		assert.True(t, ok, s)
		assert.Equal(t, s, string(r))
	}
	_, ok := reconcile.ParseResolution("theirs")
	assert.False(t, ok)
}
