// Package backend defines the contract every secret-management backend adapter
// satisfies in vaultsync.
//
// A backend is a remote (or, for pass, local) store of named secret items whose
// content is a single opaque text payload. vaultsync never interprets the
// payload beyond canonicalizing newlines; encryption is entirely the backend's
// business.
//
// # Architecture Overview
//
//	┌──────────────────────────────────────────────────────────┐
//	│                    CLI Commands                          │
//	│               (cmd/vaultsync/commands/)                  │
//	└───────────────┬──────────────────────┬───────────────────┘
//	                │                      │
//	┌───────────────▼──────────┐  ┌────────▼──────────────────┐
//	│   Discovery Scanner      │  │  Synchronization Engine   │
//	│  (internal/discovery/)   │  │   (internal/reconcile/)   │
//	└───────────────┬──────────┘  └────────┬──────────────────┘
//	                │                      │
//	┌───────────────▼──────────────────────▼───────────────────┐
//	│      Session Manager (internal/session/)                 │
//	└─────────────────────────┬────────────────────────────────┘
//	                          │
//	┌─────────────────────────▼────────────────────────────────┐
//	│          Backend Interface (pkg/backend/)  ◄──────────────┤
//	└─────────────────────────┬────────────────────────────────┘
//	                          │
//	┌─────────────────────────▼────────────────────────────────┐
//	│           Adapters (internal/backends/)                  │
//	│   bitwarden · 1password · pass · aws.secretsmanager      │
//	└──────────────────────────────────────────────────────────┘
//
// # Sessions
//
// Adapters do not own their sessions. The session manager drives the
// Authenticator hooks (Status, Unlock, LoginCheck) and hands every item
// operation an immutable *Session. Backends that need no token (pass,
// aws.secretsmanager) report RequiresSession=false and ignore the token.
//
// # Create vs. update
//
// CreateItem fails with ItemAlreadyExists when the item exists, and
// UpdateItem and DeleteItem fail with ItemNotFound when it does not. Callers
// choose the operation explicitly, so a push can never silently duplicate an
// item.
//
// # Optional capabilities
//
// Locations (folders, vaults, prefixes) are exposed through the Locator
// interface, direct ID lookup through IDResolver and connectivity probes
// through HealthChecker. Use a type assertion:
//
//	if loc, ok := b.(backend.Locator); ok {
//		exists, err := loc.LocationExists(ctx, s, "dotfiles")
//		...
//	}
//
// Errors returned from adapters are *errors.Error values from
// internal/errors, classified by Kind.
package backend
