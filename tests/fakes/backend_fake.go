package fakes

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	dserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/pkg/backend"
)

// FakeBackend is an in-memory backend.Backend.
//
// It keeps items and locations in maps, tracks session tokens the way a
// password-manager CLI would, counts calls per method and can be told to
// fail. All optional interfaces (Locator, IDResolver, HealthChecker) are
// implemented; Capabilities decides whether callers use them.
//
// Example usage:
//
//	fake := fakes.NewFakeBackend("bitwarden").
//	    WithItem("SSH-Config", "Host x\n").
//	    WithError("UpdateItem", errors.New("boom"))
//
//	b := backends.WithTimeout(fake, time.Second)
type FakeBackend struct {
	name string
	caps backend.Capabilities

	items     map[string]*backend.ItemRecord
	locations map[string]bool

	loggedIn bool
	valid    map[string]bool // tokens Status reports as unlocked
	expired  map[string]bool
	issued   int
	unlockFn func() (string, error)

	failOn    map[string]error // method or method:item -> error
	delay     time.Duration
	delayOn   map[string]time.Duration // method or method:item -> delay
	callCount map[string]int
	nextID    int

	mu sync.RWMutex
}

// NewFakeBackend creates a logged-in backend that needs a session token and
// supports folder locations.
func NewFakeBackend(name string) *FakeBackend {
	return &FakeBackend{
		name: name,
		caps: backend.Capabilities{
			Locations:       true,
			RequiresSession: true,
			LocationType:    backend.LocationFolder,
			Remote:          true,
		},
		items:     make(map[string]*backend.ItemRecord),
		locations: make(map[string]bool),
		loggedIn:  true,
		valid:     make(map[string]bool),
		expired:   make(map[string]bool),
		failOn:    make(map[string]error),
		delayOn:   make(map[string]time.Duration),
		callCount: make(map[string]int),
	}
}

// WithItem stores an item outside any location.
func (f *FakeBackend) WithItem(name, notes string) *FakeBackend {
	return f.WithItemIn("", name, notes)
}

// WithItemIn stores an item in location, creating the location.
func (f *FakeBackend) WithItemIn(location, name, notes string) *FakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put(location, name, notes)
	return f
}

// WithCapabilities replaces the advertised capabilities.
func (f *FakeBackend) WithCapabilities(caps backend.Capabilities) *FakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caps = caps
	return f
}

// WithError makes method fail. key is a method name ("GetNotes") or a
// method and item name ("GetNotes:SSH-Config").
func (f *FakeBackend) WithError(key string, err error) *FakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[key] = err
	return f
}

// WithDelay makes every context-aware call wait d or until ctx is done.
func (f *FakeBackend) WithDelay(d time.Duration) *FakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
	return f
}

// WithDelayOn makes one method, or one method for one item, wait d or
// until ctx is done. key has the WithError form.
func (f *FakeBackend) WithDelayOn(key string, d time.Duration) *FakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delayOn[key] = d
	return f
}

// LoggedOut makes LoginCheck fail and Status report Unauthenticated.
func (f *FakeBackend) LoggedOut() *FakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedIn = false
	return f
}

// WithValidToken marks token as an unlocked session.
func (f *FakeBackend) WithValidToken(token string) *FakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.valid[token] = true
	return f
}

// WithUnlock replaces the default Unlock, which issues "session-N".
func (f *FakeBackend) WithUnlock(fn func() (string, error)) *FakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlockFn = fn
	return f
}

// ExpireToken invalidates a session token; later calls with it fail with
// SessionExpired.
func (f *FakeBackend) ExpireToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.valid, token)
	f.expired[token] = true
}

// CallCount returns how many times method was called.
func (f *FakeBackend) CallCount(method string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.callCount[method]
}

// WriteCount sums CreateItem, CreateItemInLocation, UpdateItem and DeleteItem.
func (f *FakeBackend) WriteCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.callCount["CreateItem"] + f.callCount["CreateItemInLocation"] +
		f.callCount["UpdateItem"] + f.callCount["DeleteItem"]
}

// ResetCallCount clears all counters.
func (f *FakeBackend) ResetCallCount() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount = make(map[string]int)
}

// Notes returns the stored notes of name.
func (f *FakeBackend) Notes(name string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	it, ok := f.items[name]
	if !ok {
		return "", false
	}
	return it.Notes, true
}

// Item returns a copy of the stored record.
func (f *FakeBackend) Item(name string) (backend.ItemRecord, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	it, ok := f.items[name]
	if !ok {
		return backend.ItemRecord{}, false
	}
	return *it, true
}

func (f *FakeBackend) put(location, name, notes string) {
	if location != "" {
		f.locations[location] = true
	}
	if it, ok := f.items[name]; ok {
		it.Notes = notes
		it.RevisionDate = time.Now()
		return
	}
	f.nextID++
	f.items[name] = &backend.ItemRecord{
		ID:           fmt.Sprintf("id-%d", f.nextID),
		Name:         name,
		Notes:        notes,
		Location:     location,
		RevisionDate: time.Now(),
	}
}

// begin counts the call, waits out the delay and checks injected errors.
func (f *FakeBackend) begin(ctx context.Context, method, item string) error {
	f.mu.Lock()
	f.callCount[method]++
	delay := f.delay
	if d, ok := f.delayOn[method]; ok {
		delay = d
	}
	if d, ok := f.delayOn[method+":"+item]; ok && item != "" {
		delay = d
	}
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if err, ok := f.failOn[method+":"+item]; ok && item != "" {
		return err
	}
	if err, ok := f.failOn[method]; ok {
		return err
	}
	return nil
}

// checkSession mirrors what a CLI backend reports for a missing or stale
// session.
func (f *FakeBackend) checkSession(s *backend.Session, op string) error {
	if !s.Live() {
		return dserrors.New(dserrors.KindOfflineUnavailable, op, "offline mode has no live session").WithBackend(f.name)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.caps.RequiresSession && !f.valid[s.Token()] {
		return dserrors.New(dserrors.KindSessionExpired, op, "session key is invalid").
			WithBackend(f.name).
			WithRemediation("vaultsync login")
	}
	return nil
}

func (f *FakeBackend) enter(ctx context.Context, s *backend.Session, method, op, item string) error {
	if err := f.begin(ctx, method, item); err != nil {
		return err
	}
	return f.checkSession(s, op)
}

func (f *FakeBackend) notFound(op, name string) error {
	return dserrors.New(dserrors.KindItemNotFound, op, "no such item").WithBackend(f.name).WithItem(name)
}

func (f *FakeBackend) Name() string { return f.name }

func (f *FakeBackend) Capabilities() backend.Capabilities {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.caps
}

func (f *FakeBackend) Init(ctx context.Context) error {
	return f.begin(ctx, "Init", "")
}

func (f *FakeBackend) SessionEnvVar() string { return "FAKE_SESSION" }
func (f *FakeBackend) LoginCommand() string  { return "fake login" }
func (f *FakeBackend) UnlockCommand() string { return "fake unlock" }
func (f *FakeBackend) String() string        { return fmt.Sprintf("FakeBackend{name=%s}", f.name) }

func (f *FakeBackend) HealthCheck(ctx context.Context) error {
	return f.begin(ctx, "HealthCheck", "")
}

func (f *FakeBackend) LoginCheck(ctx context.Context) bool {
	if err := f.begin(ctx, "LoginCheck", ""); err != nil {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.loggedIn
}

func (f *FakeBackend) Status(ctx context.Context, token string) (backend.State, error) {
	if err := f.begin(ctx, "Status", ""); err != nil {
		return backend.StateUnauthenticated, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	switch {
	case !f.loggedIn:
		return backend.StateUnauthenticated, nil
	case !f.caps.RequiresSession || f.valid[token]:
		return backend.StateUnlocked, nil
	case f.expired[token]:
		return backend.StateExpired, nil
	default:
		return backend.StateLocked, nil
	}
}

func (f *FakeBackend) Unlock(ctx context.Context) (string, error) {
	if err := f.begin(ctx, "Unlock", ""); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unlockFn != nil {
		tok, err := f.unlockFn()
		if err == nil && tok != "" {
			f.valid[tok] = true
		}
		return tok, err
	}
	f.issued++
	tok := fmt.Sprintf("session-%d", f.issued)
	f.valid[tok] = true
	return tok, nil
}

func (f *FakeBackend) Sync(ctx context.Context, s *backend.Session) error {
	return f.enter(ctx, s, "Sync", "sync", "")
}

func (f *FakeBackend) GetItem(ctx context.Context, s *backend.Session, name string) (*backend.ItemRecord, error) {
	if err := f.enter(ctx, s, "GetItem", "get item", name); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	it, ok := f.items[name]
	if !ok {
		return nil, f.notFound("get item", name)
	}
	rec := *it
	return &rec, nil
}

func (f *FakeBackend) GetNotes(ctx context.Context, s *backend.Session, name string) (string, error) {
	if err := f.enter(ctx, s, "GetNotes", "get notes", name); err != nil {
		return "", err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	it, ok := f.items[name]
	if !ok {
		return "", f.notFound("get notes", name)
	}
	return it.Notes, nil
}

func (f *FakeBackend) GetItemID(ctx context.Context, s *backend.Session, name string) (string, error) {
	if err := f.enter(ctx, s, "GetItemID", "get item id", name); err != nil {
		return "", err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	it, ok := f.items[name]
	if !ok {
		return "", f.notFound("get item id", name)
	}
	return it.ID, nil
}

func (f *FakeBackend) ItemExists(ctx context.Context, s *backend.Session, name string) (bool, error) {
	if err := f.enter(ctx, s, "ItemExists", "check item", name); err != nil {
		return false, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.items[name]
	return ok, nil
}

func (f *FakeBackend) ListItems(ctx context.Context, s *backend.Session) ([]backend.ItemRecord, error) {
	if err := f.enter(ctx, s, "ListItems", "list items", ""); err != nil {
		return nil, err
	}
	return f.list(""), nil
}

func (f *FakeBackend) list(location string) []backend.ItemRecord {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []backend.ItemRecord
	for _, it := range f.items {
		if location != "" && it.Location != location {
			continue
		}
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (f *FakeBackend) CreateItem(ctx context.Context, s *backend.Session, name, content string) error {
	if err := f.enter(ctx, s, "CreateItem", "create item", name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[name]; ok {
		return dserrors.New(dserrors.KindItemAlreadyExists, "create item", "an item with this name exists").
			WithBackend(f.name).WithItem(name)
	}
	f.put("", name, content)
	return nil
}

func (f *FakeBackend) UpdateItem(ctx context.Context, s *backend.Session, name, content string) error {
	if err := f.enter(ctx, s, "UpdateItem", "update item", name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[name]; !ok {
		return f.notFound("update item", name)
	}
	f.put("", name, content)
	return nil
}

func (f *FakeBackend) DeleteItem(ctx context.Context, s *backend.Session, name string) error {
	if err := f.enter(ctx, s, "DeleteItem", "delete item", name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[name]; !ok {
		return f.notFound("delete item", name)
	}
	delete(f.items, name)
	return nil
}

func (f *FakeBackend) ListLocations(ctx context.Context, s *backend.Session) ([]string, error) {
	if err := f.enter(ctx, s, "ListLocations", "list locations", ""); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.locations))
	for l := range f.locations {
		out = append(out, l)
	}
	sort.Strings(out)
	return out, nil
}

func (f *FakeBackend) LocationExists(ctx context.Context, s *backend.Session, location string) (bool, error) {
	if err := f.enter(ctx, s, "LocationExists", "check location", location); err != nil {
		return false, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.locations[location], nil
}

func (f *FakeBackend) CreateLocation(ctx context.Context, s *backend.Session, location string) error {
	if err := f.enter(ctx, s, "CreateLocation", "create location", location); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locations[location] = true
	return nil
}

func (f *FakeBackend) ListItemsInLocation(ctx context.Context, s *backend.Session, location string) ([]backend.ItemRecord, error) {
	if err := f.enter(ctx, s, "ListItemsInLocation", "list location items", location); err != nil {
		return nil, err
	}
	return f.list(location), nil
}

// CreateItemInLocation creates the location when missing. Prefix backends
// store the item under location/name.
func (f *FakeBackend) CreateItemInLocation(ctx context.Context, s *backend.Session, location, name, content string) error {
	if err := f.enter(ctx, s, "CreateItemInLocation", "create item", name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := backend.QualifiedName(f.caps, location, name)
	if _, ok := f.items[stored]; ok {
		return dserrors.New(dserrors.KindItemAlreadyExists, "create item", "an item with this name exists").
			WithBackend(f.name).WithItem(stored)
	}
	f.put(location, stored, content)
	return nil
}

var (
	_ backend.Backend       = (*FakeBackend)(nil)
	_ backend.Locator       = (*FakeBackend)(nil)
	_ backend.IDResolver    = (*FakeBackend)(nil)
	_ backend.HealthChecker = (*FakeBackend)(nil)
)
