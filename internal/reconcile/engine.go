// Package reconcile compares tracked items with the backend and moves
// content between them.
//
// Every operation is compare-then-act: Observe reads both sides,
// ComputePullPlan and ComputePushPlan decide without I/O, and ApplyPlan
// executes. Conflicts are reported, never resolved automatically.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/systmms/vaultsync/internal/config"
	"github.com/systmms/vaultsync/internal/content"
	dserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/localfs"
	"github.com/systmms/vaultsync/internal/logging"
	"github.com/systmms/vaultsync/internal/metrics"
	"github.com/systmms/vaultsync/internal/prompt"
	"github.com/systmms/vaultsync/internal/session"
	"github.com/systmms/vaultsync/pkg/backend"
)

// DefaultWorkers bounds concurrent item operations.
const DefaultWorkers = 4

// Options configures an Engine.
type Options struct {
	Workers int
	// Prompter confirms overwrites. Nil means every overwrite needs Force.
	Prompter prompt.Prompter
	Metrics  *metrics.Recorder
	Logger   *logging.Logger
	Now      func() time.Time
}

// Engine runs pulls, pushes and drift checks against one backend.
type Engine struct {
	manager  *session.Manager
	backend  backend.Backend
	workers  int
	prompter prompt.Prompter
	metrics  *metrics.Recorder
	logger   *logging.Logger
	now      func() time.Time
}

// New creates an Engine. All remote calls go through mgr.
func New(mgr *session.Manager, opts Options) *Engine {
	e := &Engine{
		manager:  mgr,
		backend:  mgr.Backend(),
		workers:  opts.Workers,
		prompter: opts.Prompter,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if e.workers < 1 {
		e.workers = DefaultWorkers
	}
	if e.logger == nil {
		e.logger = logging.Discard()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// session returns the live session or OfflineUnavailable.
func (e *Engine) session(ctx context.Context, op string) (*backend.Session, error) {
	s, err := e.manager.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if !s.Live() {
		return nil, dserrors.New(dserrors.KindOfflineUnavailable, op, "needs the backend, which offline mode skips").
			WithBackend(e.backend.Name()).
			WithRemediation("unset VAULTSYNC_OFFLINE (or drop --offline) and run again")
	}
	return s, nil
}

// remote runs fn with the current session, re-authenticating once if it
// has expired.
func (e *Engine) remote(ctx context.Context, op string, fn func(*backend.Session) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := e.session(ctx, op)
	if err != nil {
		return err
	}
	start := time.Now()
	err = e.manager.Do(ctx, s, fn)
	e.metrics.ObserveCall(e.backend.Name(), op, time.Since(start))
	return err
}

// fatal errors stop the whole run; anything else is reported per item. A
// call that hit its own timeout while ctx is still alive belongs to its
// item.
func fatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	switch dserrors.KindOf(err) {
	case dserrors.KindAuthRequired, dserrors.KindSessionExpired, dserrors.KindOfflineUnavailable:
		return true
	case dserrors.KindBackendUnavailable:
		return !errors.Is(err, context.DeadlineExceeded)
	}
	return errors.Is(err, context.Canceled)
}

// refresh lets the backend update its local cache once before reads. A
// failed refresh is only a warning; reads then see the cached state.
func (e *Engine) refresh(ctx context.Context) error {
	if e.manager.Offline() {
		return nil
	}
	err := e.remote(ctx, "sync", func(s *backend.Session) error {
		return e.backend.Sync(ctx, s)
	})
	if err == nil {
		return nil
	}
	if fatal(ctx, err) {
		return err
	}
	e.logger.Warn("could not refresh %s, comparing against its cached items: %v", e.backend.Name(), err)
	return nil
}

func (e *Engine) remoteName(it config.Item) string {
	return backend.QualifiedName(e.backend.Capabilities(), it.LocationValue(), it.Name)
}

// Observe refreshes the backend, then reads the local and remote content
// of items in parallel. The result is in the order of items.
func (e *Engine) Observe(ctx context.Context, items []config.Item) ([]Observation, error) {
	if _, err := e.session(ctx, "observe"); err != nil {
		return nil, err
	}
	if err := e.refresh(ctx); err != nil {
		return nil, err
	}

	obs := make([]Observation, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range items {
		i := i
		g.Go(func() error {
			o, err := e.observe(gctx, items[i])
			obs[i] = o
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return obs, nil
}

func (e *Engine) observe(ctx context.Context, it config.Item) (Observation, error) {
	o := Observation{Item: it, RemoteName: e.remoteName(it)}

	path, err := it.LocalPath()
	if err != nil {
		o.Err = err
		return o, nil
	}
	o.LocalPath = path

	payload, present, err := content.ReadLocal(it.Kind, path)
	if err != nil {
		o.Err = err
	} else if present {
		o.LocalPresent, o.LocalPayload, o.LocalHash = true, payload, content.Fingerprint(payload)
	}

	var notes string
	err = e.remote(ctx, "get notes", func(s *backend.Session) error {
		var err error
		notes, err = e.backend.GetNotes(ctx, s, o.RemoteName)
		return err
	})
	switch {
	case err == nil:
		o.RemotePresent, o.RemotePayload = true, notes
		// hash what a pull would leave on disk, so a pulled item reads back in sync
		norm, nerr := content.Normalize(it.Kind, notes)
		if nerr != nil {
			norm = notes
		}
		o.RemoteHash = content.Fingerprint(norm)
	case dserrors.IsKind(err, dserrors.KindItemNotFound):
	case fatal(ctx, err):
		return o, err
	default:
		o.Err = errors.Join(o.Err, err)
	}
	return o, nil
}

// ApplyOptions control ApplyPlan.
type ApplyOptions struct {
	// Force overwrites without asking. It never resolves conflicts.
	Force bool
	// DryRun reports what would happen without writing.
	DryRun bool
}

// Outcome is what happened to one step.
type Outcome struct {
	Name    string
	Action  Action
	Status  Status
	Applied bool
	Backups []string
	Reason  string
	Err     error
}

// Result of ApplyPlan.
type Result struct {
	Direction Direction
	Outcomes  []Outcome
}

// Applied returns how many steps wrote something.
func (r *Result) Applied() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Applied {
			n++
		}
	}
	return n
}

// Conflicts returns the names left in conflict.
func (r *Result) Conflicts() []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.Action == ActionConflict {
			out = append(out, o.Name)
		}
	}
	return out
}

// Err joins the per-item failures.
func (r *Result) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}

// ApplyPlan executes plan and records new last-synced hashes in doc. Steps
// that need confirmation are asked about first, one at a time; the writes
// then run on the worker pool. The caller saves doc.
func (e *Engine) ApplyPlan(ctx context.Context, doc *config.Document, plan *SyncPlan, opts ApplyOptions) (*Result, error) {
	res := &Result{Direction: plan.Direction, Outcomes: make([]Outcome, len(plan.Steps))}

	run := make([]bool, len(plan.Steps))
	for i, st := range plan.Steps {
		out := &res.Outcomes[i]
		*out = Outcome{Name: st.Name, Action: st.Action, Status: st.Status, Reason: st.Reason}
		if st.Obs.Err != nil {
			out.Err = e.itemError(plan.Direction, st.Name, st.Obs.Err)
		}
		switch st.Action {
		case ActionSkip:
			continue
		case ActionConflict:
			e.logger.Warn("%s: conflict, resolve with 'vaultsync resolve %s --take local|remote'", st.Name, st.Name)
			continue
		}
		if opts.DryRun {
			continue
		}
		if st.Confirm && !opts.Force {
			ok, err := e.confirm(plan.Direction, st)
			if err != nil {
				return res, err
			}
			if !ok {
				out.Reason = "not confirmed (use --force to overwrite)"
				e.metrics.Action(string(plan.Direction), string(st.Action), metrics.OutcomeDeclined)
				continue
			}
		}
		run[i] = true
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range plan.Steps {
		if !run[i] {
			continue
		}
		i := i
		g.Go(func() error {
			st := plan.Steps[i]
			var backups []string
			var err error
			if plan.Direction == Pull {
				backups, err = e.writeLocal(st)
			} else {
				err = e.writeRemote(gctx, st)
			}

			mu.Lock()
			defer mu.Unlock()
			out := &res.Outcomes[i]
			out.Backups = backups
			if err != nil {
				out.Err = err
				e.metrics.Action(string(plan.Direction), string(st.Action), metrics.OutcomeFailed)
				if fatal(gctx, err) {
					return err
				}
				return nil
			}
			out.Applied = true
			e.metrics.Action(string(plan.Direction), string(st.Action), metrics.OutcomeOK)
			return nil
		})
	}
	err := g.Wait()

	for i, st := range plan.Steps {
		out := res.Outcomes[i]
		switch {
		case out.Applied && plan.Direction == Pull:
			doc.SetHash(st.Name, st.Obs.RemoteHash)
			e.logger.Info("pulled %s", st.Name)
		case out.Applied:
			doc.SetHash(st.Name, st.Obs.LocalHash)
			e.logger.Info("pushed %s", st.Name)
		case st.Action == ActionSkip && st.Status == StatusInSync && !opts.DryRun:
			doc.SetHash(st.Name, st.Obs.LocalHash)
		}
		if out.Err != nil && !fatal(ctx, out.Err) {
			e.logger.Error("%s: %v", st.Name, out.Err)
		}
	}
	return res, err
}

// itemError gives an untyped per-item failure the item's name.
func (e *Engine) itemError(dir Direction, name string, err error) error {
	var typed *dserrors.Error
	if errors.As(err, &typed) {
		return err
	}
	return dserrors.Wrap(dserrors.KindUnknown, string(dir), err).WithItem(name)
}

func (e *Engine) confirm(dir Direction, st Step) (bool, error) {
	if e.prompter == nil {
		e.logger.Warn("%s: %s, skipped (use --force to overwrite)", st.Name, st.Reason)
		return false, nil
	}
	var title string
	if dir == Pull {
		title = fmt.Sprintf("Overwrite %s with the backend copy of %s?", localfs.ContractHome(st.Obs.LocalPath), st.Name)
	} else {
		title = fmt.Sprintf("Replace %s in %s with the local copy?", st.Obs.RemoteName, e.backend.Name())
	}
	desc := fmt.Sprintf("%s (local %s, backend %s)", st.Reason, short(st.Obs.LocalHash), short(st.Obs.RemoteHash))
	return e.prompter.Confirm(title, desc)
}

func short(hash string) string {
	const n = len(content.FingerprintPrefix) + 12
	if len(hash) > n {
		return hash[:n]
	}
	return hash
}

// writeLocal backs up every existing file of the item, then writes the
// remote content with the kind's permission policy. Parent directories
// other than home are tightened to the directory mode.
func (e *Engine) writeLocal(st Step) ([]string, error) {
	it := st.Obs.Item
	files, err := content.Decode(it.Kind, st.Obs.RemotePayload)
	if err != nil {
		return nil, dserrors.Wrap(dserrors.KindConflict, "pull", err).
			WithItem(it.Name).
			WithReason("backend content does not fit kind " + string(it.Kind)).
			WithRemediation("vaultsync push " + it.Name + " --force")
	}

	paths := content.LocalPaths(it.Kind, st.Obs.LocalPath)
	now := e.now()
	var backups []string
	for _, p := range paths {
		b, err := localfs.Backup(p, now)
		if err != nil {
			return backups, e.permissionError(it.Name, err)
		}
		if b != "" {
			backups = append(backups, b)
		}
	}
	for _, dir := range parentDirs(paths) {
		if err := localfs.EnsurePrivateDir(dir, content.DirMode); err != nil {
			return backups, e.permissionError(it.Name, err)
		}
	}
	for i, p := range paths {
		if err := localfs.WriteFileAtomic(p, files[i], content.FileMode(it.Kind, i), content.DirMode); err != nil {
			return backups, e.permissionError(it.Name, err)
		}
	}
	return backups, nil
}

func parentDirs(paths []string) []string {
	var dirs []string
	for _, p := range paths {
		d := filepath.Dir(p)
		if !slices.Contains(dirs, d) {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

func (e *Engine) permissionError(item string, err error) error {
	return dserrors.Wrap(dserrors.KindPermissionDenied, "write local file", err).
		WithItem(item).
		WithRemediation("check ownership and permissions of the target directory")
}

// writeRemote creates or updates the backend item. An update that finds
// the item gone falls back to create.
func (e *Engine) writeRemote(ctx context.Context, st Step) error {
	it := st.Obs.Item
	payload := st.Obs.LocalPayload

	if st.Action == ActionUpdate {
		err := e.remote(ctx, "update item", func(s *backend.Session) error {
			return e.backend.UpdateItem(ctx, s, st.Obs.RemoteName, payload)
		})
		if !dserrors.IsKind(err, dserrors.KindItemNotFound) {
			return err
		}
		e.logger.Debug("%s vanished from %s, creating it", st.Name, e.backend.Name())
	}

	return e.remote(ctx, "create item", func(s *backend.Session) error {
		loc := it.LocationValue()
		if l, ok := e.backend.(backend.Locator); ok && loc != "" && e.backend.Capabilities().Locations {
			return l.CreateItemInLocation(ctx, s, loc, it.Name, payload)
		}
		return e.backend.CreateItem(ctx, s, st.Obs.RemoteName, payload)
	})
}

// Run selects the eligible items, observes them, plans and applies in one
// direction. The returned plan is what was computed; the result what was
// done.
func (e *Engine) Run(ctx context.Context, doc *config.Document, dir Direction, names []string, opts ApplyOptions) (*SyncPlan, *Result, error) {
	sel, err := Select(doc, names)
	if err != nil {
		return nil, nil, err
	}
	for _, name := range sel.Excluded {
		e.logger.Warn("%s has sync: never, skipped", name)
	}
	if len(sel.Items) == 0 {
		e.logger.Info("nothing to %s", dir)
		return &SyncPlan{Direction: dir}, &Result{Direction: dir}, nil
	}

	obs, err := e.Observe(ctx, sel.Items)
	if err != nil {
		return nil, nil, err
	}
	plan := ComputePlan(dir, obs)
	res, err := e.ApplyPlan(ctx, doc, plan, opts)
	return plan, res, err
}
