package backend

import (
	"context"
	"path"
	"strings"
	"time"
)

// Backend is the contract every adapter implements.
type Backend interface {
	Authenticator

	// Name returns the registry identifier, e.g. "bitwarden".
	Name() string

	// Capabilities describes what the adapter supports.
	Capabilities() Capabilities

	// Init verifies prerequisites: the CLI is on PATH at a supported version,
	// or the SDK configuration loads. It must not prompt.
	Init(ctx context.Context) error

	// Sync refreshes the adapter's local cache from the remote store. It is a
	// no-op for backends without one.
	Sync(ctx context.Context, s *Session) error

	// GetItem returns the item or an ItemNotFound error.
	GetItem(ctx context.Context, s *Session, name string) (*ItemRecord, error)

	// GetNotes returns the item's content or an ItemNotFound error.
	GetNotes(ctx context.Context, s *Session, name string) (string, error)

	// ItemExists reports whether an item with exactly this name exists.
	ItemExists(ctx context.Context, s *Session, name string) (bool, error)

	// ListItems lists every item the adapter manages.
	ListItems(ctx context.Context, s *Session) ([]ItemRecord, error)

	// CreateItem fails with ItemAlreadyExists if name exists.
	CreateItem(ctx context.Context, s *Session, name, content string) error

	// UpdateItem fails with ItemNotFound if name does not exist.
	UpdateItem(ctx context.Context, s *Session, name, content string) error

	// DeleteItem fails with ItemNotFound if name does not exist.
	DeleteItem(ctx context.Context, s *Session, name string) error
}

// Authenticator holds the hooks the session manager drives.
type Authenticator interface {
	// LoginCheck reports whether an account is logged in. It never prompts.
	LoginCheck(ctx context.Context) bool

	// Status is the check-only call: it classifies token without changing
	// any state. An empty token asks about the ambient login.
	Status(ctx context.Context, token string) (State, error)

	// Unlock performs the interactive unlock and returns a fresh token.
	Unlock(ctx context.Context) (string, error)

	// SessionEnvVar names the variable that overrides the cached token, or
	// "" when the backend has none.
	SessionEnvVar() string

	// LoginCommand and UnlockCommand are shown to users as remediation.
	LoginCommand() string
	UnlockCommand() string
}

// Locator is implemented by backends that group items into locations.
type Locator interface {
	ListLocations(ctx context.Context, s *Session) ([]string, error)
	LocationExists(ctx context.Context, s *Session, location string) (bool, error)
	CreateLocation(ctx context.Context, s *Session, location string) error
	ListItemsInLocation(ctx context.Context, s *Session, location string) ([]ItemRecord, error)
	CreateItemInLocation(ctx context.Context, s *Session, location, name, content string) error
}

// IDResolver is implemented by backends with stable item IDs.
type IDResolver interface {
	GetItemID(ctx context.Context, s *Session, name string) (string, error)
}

// HealthChecker is implemented by backends that can probe connectivity
// without touching items.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Location types.
const (
	LocationFolder = "folder"
	LocationVault  = "vault"
	LocationTag    = "tag"
	LocationPrefix = "prefix"
)

// Capabilities describes optional features.
type Capabilities struct {
	Locations       bool
	Attachments     bool
	RequiresSession bool
	// LocationType is one of the Location* constants when Locations is true.
	LocationType string
	// Remote is false only for stores that live on the local machine.
	Remote      bool
	AuthMethods []string
}

// ItemRecord is a backend item as listed or fetched.
type ItemRecord struct {
	ID           string
	Name         string
	Notes        string
	Location     string
	RevisionDate time.Time
}

// QualifiedName returns the name an item is stored under. Prefix locations
// become part of the name; folder, vault and tag locations do not.
func QualifiedName(caps Capabilities, location, name string) string {
	if location == "" || caps.LocationType != LocationPrefix {
		return name
	}
	return path.Join(strings.Trim(location, "/"), name)
}
