package reconcile

import (
	"context"
	"fmt"

	"github.com/systmms/vaultsync/internal/config"
	dserrors "github.com/systmms/vaultsync/internal/errors"
)

// DriftEntry describes one item that is not in sync.
type DriftEntry struct {
	Name       string
	Status     Status
	LocalHash  string
	RemoteHash string
	LocalPath  string
	Err        error
}

// DriftReport is the read-only result of DriftCheck.
type DriftReport struct {
	InSyncCount int
	Drifted     []DriftEntry
}

// HasDrift reports whether any item is out of sync.
func (r *DriftReport) HasDrift() bool {
	return len(r.Drifted) > 0
}

// Counts returns the number of items per status, InSync included.
func (r *DriftReport) Counts() map[string]int {
	counts := map[string]int{string(StatusInSync): r.InSyncCount}
	for _, d := range r.Drifted {
		counts[string(d.Status)]++
	}
	return counts
}

// DriftCheck compares every tracked item (all but sync: never) and writes
// nothing.
func (e *Engine) DriftCheck(ctx context.Context, doc *config.Document) (*DriftReport, error) {
	obs, err := e.Observe(ctx, Tracked(doc))
	if err != nil {
		return nil, err
	}

	report := &DriftReport{}
	for i := range obs {
		o := &obs[i]
		st := o.Status()
		if st == StatusInSync && o.Err == nil {
			report.InSyncCount++
			continue
		}
		report.Drifted = append(report.Drifted, DriftEntry{
			Name:       o.Item.Name,
			Status:     st,
			LocalHash:  o.LocalHash,
			RemoteHash: o.RemoteHash,
			LocalPath:  o.LocalPath,
			Err:        o.Err,
		})
	}
	e.metrics.Items(report.Counts())
	return report, nil
}

// Resolve settles one item by a human decision: TakeLocal pushes the local
// content, TakeRemote pulls the backend content, Skip leaves both alone.
// Either side wins unconditionally, with the usual backup before a local
// overwrite.
func (e *Engine) Resolve(ctx context.Context, doc *config.Document, name string, r Resolution) (*Result, error) {
	it := doc.Find(name)
	if it == nil {
		return nil, dserrors.UserError{
			Message:    fmt.Sprintf("No item named %q in the configuration document", name),
			Suggestion: "Run 'vaultsync status' to list tracked items",
		}
	}
	if r == Skip {
		e.logger.Info("%s: left unresolved", name)
		return &Result{}, nil
	}

	obs, err := e.Observe(ctx, []config.Item{*it})
	if err != nil {
		return nil, err
	}
	o := obs[0]
	if o.Err != nil {
		return nil, o.Err
	}

	step := Step{Name: name, Status: o.Status(), Obs: o, Reason: "resolved by user"}
	var plan *SyncPlan
	switch r {
	case TakeLocal:
		if !o.LocalPresent {
			return nil, dserrors.New(dserrors.KindConflict, "resolve", "no local copy to take").
				WithItem(name).
				WithRemediation("vaultsync resolve " + name + " --take remote")
		}
		step.Action = ActionUpdate
		if !o.RemotePresent {
			step.Action = ActionCreate
		}
		plan = &SyncPlan{Direction: Push}
	case TakeRemote:
		if !o.RemotePresent {
			return nil, dserrors.New(dserrors.KindItemNotFound, "resolve", "no backend copy to take").
				WithItem(name).
				WithBackend(e.backend.Name()).
				WithRemediation("vaultsync resolve " + name + " --take local")
		}
		step.Action = ActionUpdate
		if !o.LocalPresent {
			step.Action = ActionCreate
		}
		plan = &SyncPlan{Direction: Pull}
	default:
		return nil, fmt.Errorf("unknown resolution %q", r)
	}
	if step.Status == StatusInSync {
		step.Action, step.Reason = ActionSkip, "in sync"
	}
	plan.Steps = []Step{step}

	res, err := e.ApplyPlan(ctx, doc, plan, ApplyOptions{Force: true})
	if err != nil {
		return res, err
	}
	return res, res.Err()
}
