package backends

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	dserrors "github.com/systmms/vaultsync/internal/errors"
	pkgexec "github.com/systmms/vaultsync/pkg/exec"
	"github.com/systmms/vaultsync/pkg/backend"
)

const passMinVersion = "1.7.0"

// Pass stores items as entries of a pass (zx2c4) password store. The store
// directory is the backend's remote; sub-directories are prefix locations.
// gpg-agent handles unlocking, so there is no session token.
type Pass struct {
	cli      *cliTool
	storeDir string
}

// NewPass creates a pass adapter. cfg may set "password_store" to override
// PASSWORD_STORE_DIR.
func NewPass(cfg map[string]interface{}, opts ...Option) *Pass {
	storeDir := stringOpt(cfg, "password_store")
	if storeDir == "" {
		storeDir = os.Getenv("PASSWORD_STORE_DIR")
	}
	if storeDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			storeDir = filepath.Join(home, ".password-store")
		}
	}

	o := buildOptions(opts)
	if o.executor == nil {
		o.executor = &pkgexec.RealCommandExecutor{Env: []string{"PASSWORD_STORE_DIR=" + storeDir}}
	}

	return &Pass{
		cli:      newCLITool("pass", "pass", passMinVersion, []string{"version"}, "apt install pass", o),
		storeDir: storeDir,
	}
}

func (p *Pass) Name() string { return "pass" }

func (p *Pass) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Locations:       true,
		Attachments:     false,
		RequiresSession: false,
		LocationType:    backend.LocationPrefix,
		Remote:          false,
		AuthMethods:     []string{"gpg-agent"},
	}
}

func (p *Pass) Init(ctx context.Context) error {
	return p.cli.verify(ctx)
}

func (p *Pass) SessionEnvVar() string { return "" }
func (p *Pass) LoginCommand() string  { return "pass init <gpg-id>" }
func (p *Pass) UnlockCommand() string { return "gpg-connect-agent /bye" }

// initialized reports whether the store has a .gpg-id.
func (p *Pass) initialized() bool {
	_, err := os.Stat(filepath.Join(p.storeDir, ".gpg-id"))
	return err == nil
}

// Status reports Unlocked for an initialized store. Whether gpg-agent holds
// the key is only known when an entry is decrypted.
func (p *Pass) Status(ctx context.Context, token string) (backend.State, error) {
	if p.initialized() {
		return backend.StateUnlocked, nil
	}
	return backend.StateUnauthenticated, nil
}

func (p *Pass) LoginCheck(ctx context.Context) bool {
	return p.initialized()
}

func (p *Pass) Unlock(ctx context.Context) (string, error) {
	return "", nil
}

// Sync pulls the store's git remote when the store is a git repository.
func (p *Pass) Sync(ctx context.Context, s *backend.Session) error {
	if _, err := os.Stat(filepath.Join(p.storeDir, ".git")); err != nil {
		return nil
	}
	_, err := p.run(ctx, "sync", "", nil, "git", "pull", "--rebase")
	return err
}

func (p *Pass) run(ctx context.Context, op, item string, input []byte, args ...string) ([]byte, error) {
	var (
		stdout, stderr []byte
		err            error
	)
	if input != nil {
		stdout, stderr, err = p.cli.executor.ExecuteWithInput(ctx, input, "pass", args...)
	} else {
		stdout, stderr, err = p.cli.executor.Execute(ctx, "pass", args...)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, p.classify(op, item, stdout, stderr, err)
	}
	return stdout, nil
}

func (p *Pass) classify(op, item string, stdout, stderr []byte, err error) error {
	msg := string(stdout) + " " + string(stderr) + " " + err.Error()
	var e *dserrors.Error
	switch {
	case containsAny(msg, "is not in the password store"):
		e = dserrors.Wrap(dserrors.KindItemNotFound, op, cliError(err, stderr)).WithRemediation("pass ls")
	case containsAny(msg, "decryption failed", "no secret key", "gpg: public key decryption failed"):
		e = dserrors.Wrap(dserrors.KindAuthRequired, op, cliError(err, stderr)).WithRemediation("gpg --list-secret-keys")
	case containsAny(msg, "try \"pass init\"", "you must run"):
		e = dserrors.Wrap(dserrors.KindAuthRequired, op, cliError(err, stderr)).WithRemediation(p.LoginCommand())
	default:
		e = dserrors.Wrap(dserrors.KindBackendUnavailable, op, cliError(err, stderr)).WithRemediation("pass ls")
	}
	return e.WithBackend(p.Name()).WithItem(item)
}

func (p *Pass) entryPath(name string) string {
	return filepath.Join(p.storeDir, filepath.FromSlash(name)+".gpg")
}

func (p *Pass) exists(name string) bool {
	info, err := os.Stat(p.entryPath(name))
	return err == nil && !info.IsDir()
}

func (p *Pass) notFound(op, name string) error {
	return dserrors.New(dserrors.KindItemNotFound, op, "no entry with this name in the password store").
		WithBackend(p.Name()).
		WithItem(name).
		WithRemediation("pass ls")
}

func (p *Pass) GetItem(ctx context.Context, s *backend.Session, name string) (*backend.ItemRecord, error) {
	notes, err := p.GetNotes(ctx, s, name)
	if err != nil {
		return nil, err
	}
	rec := backend.ItemRecord{ID: name, Name: name, Notes: notes, Location: locationOf(name)}
	if info, err := os.Stat(p.entryPath(name)); err == nil {
		rec.RevisionDate = info.ModTime()
	}
	return &rec, nil
}

func (p *Pass) GetNotes(ctx context.Context, s *backend.Session, name string) (string, error) {
	if !p.exists(name) {
		return "", p.notFound("get notes", name)
	}
	stdout, err := p.run(ctx, "get notes", name, nil, "show", name)
	if err != nil {
		return "", err
	}
	return string(stdout), nil
}

func (p *Pass) GetItemID(ctx context.Context, s *backend.Session, name string) (string, error) {
	if !p.exists(name) {
		return "", p.notFound("get item id", name)
	}
	return name, nil
}

func (p *Pass) ItemExists(ctx context.Context, s *backend.Session, name string) (bool, error) {
	return p.exists(name), nil
}

func (p *Pass) ListItems(ctx context.Context, s *backend.Session) ([]backend.ItemRecord, error) {
	return p.walk(p.storeDir)
}

func (p *Pass) walk(root string) ([]backend.ItemRecord, error) {
	var out []backend.ItemRecord
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".gpg") {
			return nil
		}
		rel, err := filepath.Rel(p.storeDir, path)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(filepath.ToSlash(rel), ".gpg")
		rec := backend.ItemRecord{ID: name, Name: name, Location: locationOf(name)}
		if info, err := d.Info(); err == nil {
			rec.RevisionDate = info.ModTime()
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, dserrors.Wrap(dserrors.KindBackendUnavailable, "list items", err).
			WithBackend(p.Name()).
			WithRemediation("pass ls")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func locationOf(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[:i]
	}
	return ""
}

func (p *Pass) CreateItem(ctx context.Context, s *backend.Session, name, content string) error {
	if p.exists(name) {
		return dserrors.New(dserrors.KindItemAlreadyExists, "create item", "entry already exists in the password store").
			WithBackend(p.Name()).
			WithItem(name).
			WithRemediation("vaultsync push " + name)
	}
	_, err := p.run(ctx, "create item", name, []byte(content), "insert", "--multiline", name)
	return err
}

func (p *Pass) UpdateItem(ctx context.Context, s *backend.Session, name, content string) error {
	if !p.exists(name) {
		return p.notFound("update item", name)
	}
	_, err := p.run(ctx, "update item", name, []byte(content), "insert", "--multiline", "--force", name)
	return err
}

func (p *Pass) DeleteItem(ctx context.Context, s *backend.Session, name string) error {
	if !p.exists(name) {
		return p.notFound("delete item", name)
	}
	_, err := p.run(ctx, "delete item", name, nil, "rm", "--force", name)
	return err
}

func (p *Pass) ListLocations(ctx context.Context, s *backend.Session) ([]string, error) {
	var out []string
	err := filepath.WalkDir(p.storeDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || path == p.storeDir {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(p.storeDir, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, dserrors.Wrap(dserrors.KindBackendUnavailable, "list locations", err).WithBackend(p.Name())
	}
	sort.Strings(out)
	return out, nil
}

func (p *Pass) LocationExists(ctx context.Context, s *backend.Session, location string) (bool, error) {
	info, err := os.Stat(filepath.Join(p.storeDir, filepath.FromSlash(location)))
	return err == nil && info.IsDir(), nil
}

// CreateLocation creates the sub-directory. pass creates it on insert anyway.
func (p *Pass) CreateLocation(ctx context.Context, s *backend.Session, location string) error {
	dir := filepath.Join(p.storeDir, filepath.FromSlash(location))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return dserrors.Wrap(dserrors.KindPermissionDenied, "create location", err).
			WithBackend(p.Name()).
			WithItem(location).
			WithRemediation("ls -ld " + p.storeDir)
	}
	return nil
}

func (p *Pass) ListItemsInLocation(ctx context.Context, s *backend.Session, location string) ([]backend.ItemRecord, error) {
	dir := filepath.Join(p.storeDir, filepath.FromSlash(location))
	if _, err := os.Stat(dir); err != nil {
		return nil, p.notFound("list location", location)
	}
	return p.walk(dir)
}

func (p *Pass) CreateItemInLocation(ctx context.Context, s *backend.Session, location, name, content string) error {
	return p.CreateItem(ctx, s, backend.QualifiedName(p.Capabilities(), location, name), content)
}

// HealthCheck confirms the CLI is present and the store is initialized.
func (p *Pass) HealthCheck(ctx context.Context) error {
	if err := p.Init(ctx); err != nil {
		return err
	}
	if !p.initialized() {
		return dserrors.New(dserrors.KindAuthRequired, "check password store", "store has no .gpg-id").
			WithBackend(p.Name()).
			WithRemediation(p.LoginCommand())
	}
	return nil
}
