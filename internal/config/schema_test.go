package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/vaultsync/internal/errors"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		doc      string
		wantErrs []string
	}{
		{name: "valid", doc: validDoc},
		{name: "empty items", doc: "version: 3\nitems:\n"},
		{
			name:     "missing items",
			doc:      "version: 3\n",
			wantErrs: []string{"items is required"},
		},
		{
			name:     "unknown kind",
			doc:      "version: 3\nitems:\n  - {name: A, path: /a, kind: blob}\n",
			wantErrs: []string{"items.0.kind"},
		},
		{
			name:     "unknown sync policy",
			doc:      "version: 3\nitems:\n  - {name: A, path: /a, kind: file, sync: sometimes}\n",
			wantErrs: []string{"items.0.sync"},
		},
		{
			name:     "bad hash",
			doc:      "version: 3\nitems:\n  - {name: A, path: /a, kind: file, last_synced_hash: md5:abc}\n",
			wantErrs: []string{"items.0.last_synced_hash"},
		},
		{
			name:     "unknown field",
			doc:      "version: 3\nitems:\n  - {name: A, path: /a, kind: file, folder: x}\n",
			wantErrs: []string{"folder"},
		},
		{
			name:     "duplicate names",
			doc:      "version: 3\nitems:\n  - {name: A, path: /a, kind: file}\n  - {name: A, path: /b, kind: file}\n",
			wantErrs: []string{`duplicate name "A"`},
		},
		{
			name:     "public key path",
			doc:      "version: 3\nitems:\n  - {name: K, path: ~/.ssh/id.pub, kind: ssh-key-pair}\n",
			wantErrs: []string{"must point at the private key"},
		},
		{
			name:     "future version",
			doc:      "version: 9\nitems: []\n",
			wantErrs: []string{"newer than this build supports"},
		},
		{
			name:     "bad location type",
			doc:      "version: 3\nitems:\n  - {name: A, path: /a, kind: file, location: {type: shelf, value: x}}\n",
			wantErrs: []string{"items.0.location.type"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate([]byte(tt.doc))
			if len(tt.wantErrs) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, dserrors.IsKind(err, dserrors.KindSchemaInvalid))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			for _, want := range tt.wantErrs {
				assert.Contains(t, verr.Error(), want)
			}
		})
	}
}

func TestDocumentVersion(t *testing.T) {
	t.Parallel()

	v, err := DocumentVersion([]byte("items: []\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = DocumentVersion([]byte("version: 2\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = DocumentVersion([]byte("version: [\n"))
	assert.Error(t, err)
}
