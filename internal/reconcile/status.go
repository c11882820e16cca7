package reconcile

import (
	"github.com/systmms/vaultsync/internal/config"
)

// Status of an item. NotTracked, Discovered and Tracked describe its
// lifecycle in the document; the others are derived by comparing local,
// remote and last-synced fingerprints.
type Status string

const (
	StatusNotTracked  Status = "NotTracked"
	StatusDiscovered  Status = "Discovered"
	StatusTracked     Status = "Tracked"
	StatusInSync      Status = "InSync"
	StatusLocalNewer  Status = "LocalNewer"
	StatusRemoteNewer Status = "RemoteNewer"
	StatusConflict    Status = "Conflict"
	StatusMissing     Status = "Missing"
	StatusDrifted     Status = "Drifted"
)

// Lifecycle reports where item stands before any comparison: NotTracked
// when absent from the document, Discovered until its first successful
// pull or push, Tracked after.
func Lifecycle(doc *config.Document, name string) Status {
	it := doc.Find(name)
	switch {
	case it == nil:
		return StatusNotTracked
	case it.LastSyncedHash == "":
		return StatusDiscovered
	default:
		return StatusTracked
	}
}

// Compare derives the sync status from fingerprints. base is the
// last-synced hash, empty when the item was never synced.
func Compare(localPresent, remotePresent bool, local, remote, base string) Status {
	switch {
	case !localPresent || !remotePresent:
		return StatusMissing
	case local == remote:
		return StatusInSync
	case base == "":
		return StatusDrifted
	case local != base && remote == base:
		return StatusLocalNewer
	case remote != base && local == base:
		return StatusRemoteNewer
	default:
		return StatusConflict
	}
}

// Resolution is a human decision for a conflicting item.
type Resolution string

const (
	TakeLocal  Resolution = "local"
	TakeRemote Resolution = "remote"
	Skip       Resolution = "skip"
)

// ParseResolution validates s.
func ParseResolution(s string) (Resolution, bool) {
	switch Resolution(s) {
	case TakeLocal, TakeRemote, Skip:
		return Resolution(s), true
	}
	return "", false
}
