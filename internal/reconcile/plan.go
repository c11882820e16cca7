package reconcile

import (
	"fmt"

	"github.com/systmms/vaultsync/internal/config"
	dserrors "github.com/systmms/vaultsync/internal/errors"
)

// Direction of a sync.
type Direction string

const (
	Pull Direction = "pull"
	Push Direction = "push"
)

// Action proposed for one item.
type Action string

const (
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionSkip     Action = "skip"
	ActionConflict Action = "conflict"
)

// Observation is what Observe read for one item.
type Observation struct {
	Item      config.Item
	LocalPath string // expanded primary path

	LocalPresent bool
	LocalPayload string
	LocalHash    string

	// RemoteName is the name the item is stored under in the backend.
	RemoteName    string
	RemotePresent bool
	RemotePayload string
	RemoteHash    string

	// Err is a per-item failure, such as an incomplete key pair on disk.
	Err error
}

// Status compares the observed fingerprints with the item's last-synced
// hash.
func (o *Observation) Status() Status {
	return Compare(o.LocalPresent, o.RemotePresent, o.LocalHash, o.RemoteHash, o.Item.LastSyncedHash)
}

// Step is one proposed action.
type Step struct {
	Name   string
	Action Action
	Status Status
	Reason string
	// Confirm is set when the step overwrites content that changed since
	// the last sync; it runs only with Force or an explicit yes.
	Confirm bool
	Obs     Observation
}

// SyncPlan is a computed, unexecuted list of steps.
type SyncPlan struct {
	Direction Direction
	Steps     []Step
}

// Count returns how many steps have action a.
func (p *SyncPlan) Count(a Action) int {
	n := 0
	for _, s := range p.Steps {
		if s.Action == a {
			n++
		}
	}
	return n
}

// Changes reports whether the plan would write anything.
func (p *SyncPlan) Changes() bool {
	return p.Count(ActionCreate)+p.Count(ActionUpdate) > 0
}

// ComputePullPlan decides, per observation, what pulling would do. It
// performs no I/O.
func ComputePullPlan(obs []Observation) *SyncPlan {
	plan := &SyncPlan{Direction: Pull}
	for _, o := range obs {
		st := Step{Name: o.Item.Name, Status: o.Status(), Obs: o}
		switch {
		case o.Err != nil:
			st.Action, st.Reason = ActionSkip, o.Err.Error()
		case !o.RemotePresent:
			st.Action, st.Reason = ActionSkip, "not in backend"
		case !o.LocalPresent:
			st.Action, st.Reason = ActionCreate, "missing locally"
		case st.Status == StatusInSync:
			st.Action, st.Reason = ActionSkip, "in sync"
		case st.Status == StatusConflict:
			st.Action, st.Reason = ActionConflict, "changed locally and in backend"
		default:
			st.Action, st.Confirm = ActionUpdate, true
			st.Reason = pullReason(st.Status)
		}
		plan.Steps = append(plan.Steps, st)
	}
	return plan
}

func pullReason(s Status) string {
	switch s {
	case StatusRemoteNewer:
		return "changed in backend"
	case StatusLocalNewer:
		return "local changes would be replaced"
	}
	return "differs from backend"
}

// ComputePushPlan decides, per observation, what pushing would do. It
// performs no I/O.
func ComputePushPlan(obs []Observation) *SyncPlan {
	plan := &SyncPlan{Direction: Push}
	for _, o := range obs {
		st := Step{Name: o.Item.Name, Status: o.Status(), Obs: o}
		switch {
		case o.Err != nil:
			st.Action, st.Reason = ActionSkip, o.Err.Error()
		case !o.LocalPresent:
			st.Action, st.Reason = ActionSkip, "no local file"
		case !o.RemotePresent:
			st.Action, st.Reason = ActionCreate, "not in backend"
		case st.Status == StatusInSync:
			st.Action, st.Reason = ActionSkip, "in sync"
		case st.Status == StatusConflict:
			st.Action, st.Reason = ActionConflict, "changed locally and in backend"
		case st.Status == StatusLocalNewer:
			st.Action, st.Reason = ActionUpdate, "changed locally"
		default:
			st.Action, st.Confirm = ActionUpdate, true
			if st.Status == StatusRemoteNewer {
				st.Reason = "backend changes would be replaced"
			} else {
				st.Reason = "differs from backend"
			}
		}
		plan.Steps = append(plan.Steps, st)
	}
	return plan
}

// Selection is the set of items a pull or push operates on.
type Selection struct {
	Items []config.Item
	// Excluded names were requested but have sync: never.
	Excluded []string
}

// Select applies the eligibility rules. With no names every item with
// sync: always is selected; named items are selected unless their policy is
// never. Unknown names are an error.
func Select(doc *config.Document, names []string) (*Selection, error) {
	sel := &Selection{}
	if len(names) == 0 {
		for _, it := range doc.Items {
			if it.Policy() == config.SyncAlways {
				sel.Items = append(sel.Items, it)
			}
		}
		return sel, nil
	}

	seen := make(map[string]bool)
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		it := doc.Find(name)
		if it == nil {
			return nil, dserrors.UserError{
				Message:    fmt.Sprintf("No item named %q in the configuration document", name),
				Suggestion: "Run 'vaultsync status' to list tracked items, or 'vaultsync scan --write' to add new ones",
			}
		}
		if it.Policy() == config.SyncNever {
			sel.Excluded = append(sel.Excluded, name)
			continue
		}
		sel.Items = append(sel.Items, *it)
	}
	return sel, nil
}

// Tracked returns every item that takes part in drift checks: all but
// sync: never.
func Tracked(doc *config.Document) []config.Item {
	var out []config.Item
	for _, it := range doc.Items {
		if it.Policy() != config.SyncNever {
			out = append(out, it)
		}
	}
	return out
}

// ComputePlan dispatches on dir.
func ComputePlan(dir Direction, obs []Observation) *SyncPlan {
	if dir == Push {
		return ComputePushPlan(obs)
	}
	return ComputePullPlan(obs)
}
