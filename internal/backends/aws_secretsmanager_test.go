package backends_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultsync/internal/backends"
	dserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/pkg/backend"
	"github.com/systmms/vaultsync/tests/fakes"
)

func newAWS(sm *fakes.FakeSecretsManagerClient, st *fakes.FakeSTSClient) *backends.AWSSecretsManager {
	return backends.NewAWSSecretsManager(
		map[string]interface{}{"region": "us-east-1", "recovery_window_days": 14},
		backends.WithSecretsManagerClient(sm),
		backends.WithSTSClient(st),
	)
}

func awsSession() *backend.Session {
	return liveSession("aws.secretsmanager", "")
}

func TestAWSSecretsManager_Status(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want backend.State
	}{
		{"valid credentials", nil, backend.StateUnlocked},
		{"expired token", fakes.ExpiredTokenError(), backend.StateExpired},
		{"no credentials", errors.New("no EC2 IMDS role found"), backend.StateUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAWS(fakes.NewFakeSecretsManagerClient(), &fakes.FakeSTSClient{Err: tt.err})
			state, err := a.Status(context.Background(), "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, state)
			assert.Equal(t, tt.want == backend.StateUnlocked, a.LoginCheck(context.Background()))
		})
	}
}

func TestAWSSecretsManager_Unlock(t *testing.T) {
	t.Parallel()

	a := backends.NewAWSSecretsManager(map[string]interface{}{"profile": "dev"},
		backends.WithSecretsManagerClient(fakes.NewFakeSecretsManagerClient()),
		backends.WithSTSClient(&fakes.FakeSTSClient{}))

	_, err := a.Unlock(context.Background())
	require.Error(t, err)
	assert.True(t, dserrors.IsKind(err, dserrors.KindAuthRequired))
	assert.Contains(t, err.Error(), "aws sso login --profile dev")
	assert.False(t, a.Capabilities().RequiresSession)
	assert.Empty(t, a.SessionEnvVar())
}

func TestAWSSecretsManager_CRUD(t *testing.T) {
	t.Parallel()

	sm := fakes.NewFakeSecretsManagerClient()
	a := newAWS(sm, &fakes.FakeSTSClient{})
	s := awsSession()
	ctx := context.Background()

	_, err := a.GetNotes(ctx, s, "dotfiles/SSH-Config")
	assert.True(t, dserrors.IsKind(err, dserrors.KindItemNotFound))

	require.NoError(t, a.CreateItem(ctx, s, "dotfiles/SSH-Config", "Host x\n"))
	notes, err := a.GetNotes(ctx, s, "dotfiles/SSH-Config")
	require.NoError(t, err)
	assert.Equal(t, "Host x\n", notes)

	rec, err := a.GetItem(ctx, s, "dotfiles/SSH-Config")
	require.NoError(t, err)
	assert.Equal(t, "dotfiles", rec.Location)
	assert.Contains(t, rec.ID, "arn:aws:secretsmanager")

	err = a.CreateItem(ctx, s, "dotfiles/SSH-Config", "again")
	assert.True(t, dserrors.IsKind(err, dserrors.KindItemAlreadyExists))

	require.NoError(t, a.UpdateItem(ctx, s, "dotfiles/SSH-Config", "Host y\n"))
	v, _ := sm.Value("dotfiles/SSH-Config")
	assert.Equal(t, "Host y\n", v)

	err = a.UpdateItem(ctx, s, "missing", "x")
	assert.True(t, dserrors.IsKind(err, dserrors.KindItemNotFound))

	require.NoError(t, a.DeleteItem(ctx, s, "dotfiles/SSH-Config"))
	assert.Equal(t, int64(14), sm.Secrets["dotfiles/SSH-Config"].RecoveryDays)

	exists, err := a.ItemExists(ctx, s, "dotfiles/SSH-Config")
	require.NoError(t, err)
	assert.False(t, exists, "scheduled for deletion counts as absent")

	_, err = a.GetNotes(ctx, s, "dotfiles/SSH-Config")
	assert.True(t, dserrors.IsKind(err, dserrors.KindItemNotFound))
}

func TestAWSSecretsManager_ListAndLocations(t *testing.T) {
	t.Parallel()

	sm := fakes.NewFakeSecretsManagerClient()
	sm.PageSize = 1
	sm.AddSecretString("dotfiles/Git-Config", "a")
	sm.AddSecretString("dotfiles/SSH-Config", "b")
	sm.AddSecretString("work/AWS-Config", "c")
	sm.AddSecretString("toplevel", "d")
	a := newAWS(sm, &fakes.FakeSTSClient{})
	s := awsSession()
	ctx := context.Background()

	items, err := a.ListItems(ctx, s)
	require.NoError(t, err)
	assert.Len(t, items, 4)
	assert.Equal(t, 4, sm.CallCount("ListSecrets"), "one call per page")

	locs, err := a.ListLocations(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"dotfiles", "work"}, locs)

	in, err := a.ListItemsInLocation(ctx, s, "dotfiles")
	require.NoError(t, err)
	require.Len(t, in, 2)
	assert.Equal(t, "dotfiles/Git-Config", in[0].Name)

	ok, err := a.LocationExists(ctx, s, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.CreateItemInLocation(ctx, s, "work", "NPM-Config", "e"))
	v, found := sm.Value("work/NPM-Config")
	assert.True(t, found)
	assert.Equal(t, "e", v)
}

func TestAWSSecretsManager_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want dserrors.Kind
	}{
		{"access denied", &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "no"}, dserrors.KindPermissionDenied},
		{"expired", fakes.ExpiredTokenError(), dserrors.KindAuthRequired},
		{"throttled", &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}, dserrors.KindBackendUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := fakes.NewFakeSecretsManagerClient()
			sm.AddError("Item", tt.err)
			a := newAWS(sm, &fakes.FakeSTSClient{})

			_, err := a.GetNotes(context.Background(), awsSession(), "Item")
			assert.Equal(t, tt.want, dserrors.KindOf(err))
		})
	}
}

func TestAWSSecretsManager_Offline(t *testing.T) {
	t.Parallel()

	sm := fakes.NewFakeSecretsManagerClient()
	sm.AddSecretString("Item", "x")
	a := newAWS(sm, &fakes.FakeSTSClient{})

	_, err := a.GetNotes(context.Background(), offlineSession("aws.secretsmanager"), "Item")
	assert.True(t, dserrors.IsKind(err, dserrors.KindOfflineUnavailable))
	assert.Zero(t, sm.CallCount("GetSecretValue"))
}

func TestAWSSecretsManager_HealthCheck(t *testing.T) {
	t.Parallel()

	st := &fakes.FakeSTSClient{Arn: "arn:aws:iam::1:user/me"}
	a := newAWS(fakes.NewFakeSecretsManagerClient(), st)
	require.NoError(t, a.HealthCheck(context.Background()))
	assert.Equal(t, 1, st.Calls)

	st.Err = &smithy.GenericAPIError{Code: "InvalidClientTokenId", Message: "bad"}
	err := a.HealthCheck(context.Background())
	assert.True(t, dserrors.IsKind(err, dserrors.KindAuthRequired))
}
