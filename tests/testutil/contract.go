// This file implements the backend contract test framework that validates
// every adapter behaves the same way behind the backend.Backend interface.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/pkg/backend"
)

// BackendTestCase defines a backend under test with its seeded items.
type BackendTestCase struct {
	// Name is a descriptive name for this test case (usually the backend name)
	Name string

	// Backend is the adapter to test, already pointed at a store holding Seed.
	Backend backend.Backend

	// Session is passed to every item call.
	Session *backend.Session

	// Seed maps item names to the notes the store already holds.
	Seed map[string]string

	// SkipConcurrency skips the concurrent read test.
	SkipConcurrency bool
}

// RunBackendContractTests runs the backend contract suite:
//   - Name() is stable and lower-case
//   - Capabilities() are consistent
//   - seeded items can be read, listed and probed
//   - create, update and delete follow the documented error kinds
//   - locations work when advertised
//   - concurrent reads are safe
//
// Example usage:
//
//	testutil.RunBackendContractTests(t, testutil.BackendTestCase{
//	    Name:    "aws.secretsmanager",
//	    Backend: aws,
//	    Session: session,
//	    Seed:    map[string]string{"SSH-Config": "Host x\n"},
//	})
func RunBackendContractTests(t *testing.T, tc BackendTestCase) {
	t.Helper()

	require.NotNil(t, tc.Backend, "Backend cannot be nil")
	require.NotEmpty(t, tc.Name, "Test case name cannot be empty")
	require.NotEmpty(t, tc.Seed, "Seed must contain at least one item")

	t.Run("Name", func(t *testing.T) {
		testBackendName(t, tc)
	})

	t.Run("Capabilities", func(t *testing.T) {
		testBackendCapabilities(t, tc)
	})

	t.Run("Read", func(t *testing.T) {
		testBackendRead(t, tc)
	})

	t.Run("Lifecycle", func(t *testing.T) {
		testBackendLifecycle(t, tc)
	})

	if tc.Backend.Capabilities().Locations {
		t.Run("Locations", func(t *testing.T) {
			testBackendLocations(t, tc)
		})
	}

	if !tc.SkipConcurrency {
		t.Run("Concurrency", func(t *testing.T) {
			testBackendConcurrency(t, tc)
		})
	}
}

func contractContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testBackendName(t *testing.T, tc BackendTestCase) {
	t.Helper()

	name := tc.Backend.Name()
	assert.NotEmpty(t, name, "Name() must return non-empty string")
	assert.Equal(t, name, tc.Backend.Name(), "Name() must return consistent value")
	assert.Regexp(t, `^[a-z0-9][a-z0-9._-]*$`, name,
		"Backend name should be lowercase with dots, dashes, or underscores")
}

func testBackendCapabilities(t *testing.T, tc BackendTestCase) {
	t.Helper()

	caps := tc.Backend.Capabilities()
	assert.Equal(t, caps, tc.Backend.Capabilities(), "Capabilities() should return consistent data")

	if caps.Locations {
		assert.NotEmpty(t, caps.LocationType, "Backend supports locations but LocationType is empty")
		_, ok := tc.Backend.(backend.Locator)
		assert.True(t, ok, "Backend supports locations but does not implement Locator")
	} else {
		assert.Empty(t, caps.LocationType, "LocationType set without location support")
	}

	if caps.RequiresSession {
		assert.NotEmpty(t, tc.Backend.UnlockCommand(), "Backend needs a session but has no unlock command")
	}
}

func testBackendRead(t *testing.T, tc BackendTestCase) {
	t.Helper()
	ctx := contractContext(t)

	for name, notes := range tc.Seed {
		t.Run(sanitizeTestName(name), func(t *testing.T) {
			got, err := tc.Backend.GetNotes(ctx, tc.Session, name)
			require.NoError(t, err, "GetNotes() should succeed for a seeded item")
			assert.Equal(t, notes, got)

			rec, err := tc.Backend.GetItem(ctx, tc.Session, name)
			require.NoError(t, err, "GetItem() should succeed for a seeded item")
			assert.Equal(t, notes, rec.Notes)

			exists, err := tc.Backend.ItemExists(ctx, tc.Session, name)
			require.NoError(t, err)
			assert.True(t, exists)
		})
	}

	t.Run("List", func(t *testing.T) {
		items, err := tc.Backend.ListItems(ctx, tc.Session)
		require.NoError(t, err)

		listed := make(map[string]bool, len(items))
		for _, it := range items {
			listed[it.Name] = true
		}
		for name := range tc.Seed {
			assert.True(t, listed[name], "ListItems() should include %q", name)
		}
	})

	missing := "vaultsync-contract-missing-" + time.Now().Format("20060102150405")

	t.Run("NotFound", func(t *testing.T) {
		_, err := tc.Backend.GetNotes(ctx, tc.Session, missing)
		AssertErrorKind(t, err, dserrors.KindItemNotFound)

		exists, err := tc.Backend.ItemExists(ctx, tc.Session, missing)
		require.NoError(t, err, "ItemExists() reports absence without an error")
		assert.False(t, exists)
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		cancelCtx, cancel := context.WithCancel(context.Background())
		cancel()

		// An adapter may finish before it looks at ctx; it must not hang.
		_, _ = tc.Backend.GetNotes(cancelCtx, tc.Session, firstSeed(tc))
	})
}

func testBackendLifecycle(t *testing.T, tc BackendTestCase) {
	t.Helper()
	ctx := contractContext(t)

	name := "Contract-Item"

	require.NoError(t, tc.Backend.CreateItem(ctx, tc.Session, name, "v1\n"))
	got, err := tc.Backend.GetNotes(ctx, tc.Session, name)
	require.NoError(t, err)
	assert.Equal(t, "v1\n", got)

	err = tc.Backend.CreateItem(ctx, tc.Session, name, "again\n")
	AssertErrorKind(t, err, dserrors.KindItemAlreadyExists)

	require.NoError(t, tc.Backend.UpdateItem(ctx, tc.Session, name, "v2\n"))
	got, err = tc.Backend.GetNotes(ctx, tc.Session, name)
	require.NoError(t, err)
	assert.Equal(t, "v2\n", got)

	require.NoError(t, tc.Backend.DeleteItem(ctx, tc.Session, name))
	exists, err := tc.Backend.ItemExists(ctx, tc.Session, name)
	require.NoError(t, err)
	assert.False(t, exists, "a deleted item must not exist")

	err = tc.Backend.UpdateItem(ctx, tc.Session, "Contract-Never-Created", "x")
	AssertErrorKind(t, err, dserrors.KindItemNotFound)
}

func testBackendLocations(t *testing.T, tc BackendTestCase) {
	t.Helper()
	ctx := contractContext(t)

	loc, ok := tc.Backend.(backend.Locator)
	require.True(t, ok)

	const location = "contract-location"
	require.NoError(t, loc.CreateLocation(ctx, tc.Session, location))
	require.NoError(t, loc.CreateItemInLocation(ctx, tc.Session, location, "Located-Item", "here\n"))

	exists, err := loc.LocationExists(ctx, tc.Session, location)
	require.NoError(t, err)
	assert.True(t, exists)

	items, err := loc.ListItemsInLocation(ctx, tc.Session, location)
	require.NoError(t, err)
	found := false
	for _, it := range items {
		if strings.HasSuffix(it.Name, "Located-Item") {
			found = true
		}
	}
	assert.True(t, found, "ListItemsInLocation() should include the item created there")

	qualified := backend.QualifiedName(tc.Backend.Capabilities(), location, "Located-Item")
	got, err := tc.Backend.GetNotes(ctx, tc.Session, qualified)
	require.NoError(t, err)
	assert.Equal(t, "here\n", got)
}

func testBackendConcurrency(t *testing.T, tc BackendTestCase) {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping concurrency test in short mode")
	}
	ctx := contractContext(t)

	name := firstSeed(tc)
	want := tc.Seed[name]

	const concurrency = 50
	var wg sync.WaitGroup
	errs := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			got, err := tc.Backend.GetNotes(ctx, tc.Session, name)
			if err != nil {
				errs <- fmt.Errorf("goroutine %d: GetNotes failed: %w", id, err)
				return
			}
			if got != want {
				errs <- fmt.Errorf("goroutine %d: got %q, want %q", id, got, want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	failed := 0
	for err := range errs {
		t.Error(err)
		failed++
	}
	if failed > 0 {
		t.Fatalf("Concurrency test failed with %d errors", failed)
	}
}

// firstSeed returns the alphabetically first seeded name.
func firstSeed(tc BackendTestCase) string {
	first := ""
	for name := range tc.Seed {
		if first == "" || name < first {
			first = name
		}
	}
	return first
}

// sanitizeTestName converts an item name to a valid test name
func sanitizeTestName(key string) string {
	var b strings.Builder
	for _, ch := range key {
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			b.WriteRune(ch)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
