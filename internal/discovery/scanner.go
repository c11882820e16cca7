// Package discovery inventories the secrets on this machine and classifies
// them against the Configuration Document.
//
// Every entry gets exactly one of four classifications. Nothing here guesses
// at renames or moves: an item recorded in the document but missing on disk
// is reported as existingNotFound and left for a human.
package discovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/systmms/vaultsync/internal/config"
	"github.com/systmms/vaultsync/internal/content"
	"github.com/systmms/vaultsync/internal/localfs"
	"github.com/systmms/vaultsync/internal/logging"
)

// Classification of one scanned or recorded item.
type Classification string

const (
	// New is found on disk and absent from the document.
	New Classification = "new"
	// ExistingNotFound is in the document and absent on disk.
	ExistingNotFound Classification = "existingNotFound"
	// Unchanged matches the document's recorded hash.
	Unchanged Classification = "unchanged"
	// Changed differs from the recorded hash, or has none.
	Changed Classification = "changed"
)

// Classifications in report order.
var Classifications = []Classification{New, Changed, Unchanged, ExistingNotFound}

// Draft is a candidate secret found on disk.
type Draft struct {
	Name        string
	Path        string // as recorded, with ~ for the home directory
	Kind        content.Kind
	Fingerprint string
}

// Entry is one line of the classification report.
type Entry struct {
	Name         string
	Class        Classification
	Kind         content.Kind
	Path         string
	Fingerprint  string // local fingerprint, empty when not on disk
	RecordedHash string
	Detail       string
}

// Report is the classified inventory, sorted by name.
type Report struct {
	Entries []Entry
}

// Count returns how many entries have class c.
func (r *Report) Count(c Classification) int {
	n := 0
	for _, e := range r.Entries {
		if e.Class == c {
			n++
		}
	}
	return n
}

// Of returns the entries with class c.
func (r *Report) Of(c Classification) []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if e.Class == c {
			out = append(out, e)
		}
	}
	return out
}

// Scanner walks the candidate locations.
type Scanner struct {
	candidates []Candidate
	logger     *logging.Logger
}

// NewScanner creates a scanner over candidates. A nil logger discards.
func NewScanner(candidates []Candidate, logger *logging.Logger) *Scanner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scanner{candidates: candidates, logger: logger}
}

// Drafts lists the candidate secrets present on disk, sorted by name. When
// two candidates yield the same name the first one wins.
func (s *Scanner) Drafts(ctx context.Context) ([]Draft, error) {
	seen := make(map[string]bool)
	var drafts []Draft
	for _, c := range s.candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		matches, err := s.matches(c)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			name := c.nameFor(m)
			if seen[name] {
				s.logger.Debug("skipping %s: %s already found", m, name)
				continue
			}
			payload, present, err := content.ReadLocal(c.Kind, m)
			if err != nil {
				s.logger.Warn("skipping %s: %v", localfs.ContractHome(m), err)
				continue
			}
			if !present {
				continue
			}
			seen[name] = true
			drafts = append(drafts, Draft{
				Name:        name,
				Path:        localfs.ContractHome(m),
				Kind:        c.Kind,
				Fingerprint: content.Fingerprint(payload),
			})
		}
	}
	sort.Slice(drafts, func(i, j int) bool { return drafts[i].Name < drafts[j].Name })
	return drafts, nil
}

// matches expands c.Pattern to regular files, sorted.
func (s *Scanner) matches(c Candidate) ([]string, error) {
	pattern, err := localfs.ExpandHome(c.Pattern)
	if err != nil {
		return nil, err
	}
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if c.Kind == content.KindSSHKeyPair {
			// the private half names the pair; it needs its public sibling
			if strings.HasSuffix(p, ".pub") || !localfs.Exists(p+".pub") {
				continue
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// Scan walks the candidates and classifies the result against doc.
func (s *Scanner) Scan(ctx context.Context, doc *config.Document) (*Report, error) {
	drafts, err := s.Drafts(ctx)
	if err != nil {
		return nil, err
	}
	return Classify(doc, drafts), nil
}

// Classify diffs drafts against doc. Document items are read from their
// recorded paths; a draft whose name or path is already recorded is not new.
func Classify(doc *config.Document, drafts []Draft) *Report {
	report := &Report{}
	recordedPaths := make(map[string]bool)

	if doc != nil {
		for i := range doc.Items {
			it := &doc.Items[i]
			if p, err := it.LocalPath(); err == nil {
				recordedPaths[filepath.Clean(p)] = true
			}
			report.Entries = append(report.Entries, classifyRecorded(it))
		}
	}

	for _, d := range drafts {
		if doc != nil && doc.Find(d.Name) != nil {
			continue
		}
		if p, err := localfs.ExpandHome(d.Path); err == nil && recordedPaths[filepath.Clean(p)] {
			continue
		}
		report.Entries = append(report.Entries, Entry{
			Name:        d.Name,
			Class:       New,
			Kind:        d.Kind,
			Path:        d.Path,
			Fingerprint: d.Fingerprint,
		})
	}

	sort.Slice(report.Entries, func(i, j int) bool { return report.Entries[i].Name < report.Entries[j].Name })
	return report
}

func classifyRecorded(it *config.Item) Entry {
	e := Entry{Name: it.Name, Kind: it.Kind, Path: it.Path, RecordedHash: it.LastSyncedHash}

	path, err := it.LocalPath()
	if err != nil {
		e.Class, e.Detail = ExistingNotFound, err.Error()
		return e
	}
	payload, present, err := content.ReadLocal(it.Kind, path)
	switch {
	case errors.Is(err, content.ErrIncomplete):
		e.Class, e.Detail = Changed, err.Error()
		return e
	case err != nil:
		e.Class, e.Detail = ExistingNotFound, err.Error()
		return e
	case !present:
		e.Class = ExistingNotFound
		return e
	}

	e.Fingerprint = content.Fingerprint(payload)
	switch {
	case it.LastSyncedHash == "":
		e.Class, e.Detail = Changed, "never synced"
	case e.Fingerprint == it.LastSyncedHash:
		e.Class = Unchanged
	default:
		e.Class = Changed
	}
	return e
}

// ApplyDrafts records every new entry in doc as a manual item without a
// hash and returns the added names. Other classifications are left alone.
func ApplyDrafts(doc *config.Document, report *Report) ([]string, error) {
	var added []string
	for _, e := range report.Of(New) {
		err := doc.Add(config.Item{
			Name: e.Name,
			Path: e.Path,
			Kind: e.Kind,
			Sync: config.SyncManual,
		})
		if err != nil {
			return added, err
		}
		added = append(added, e.Name)
	}
	return added, nil
}
