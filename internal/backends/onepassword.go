package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	dserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/pkg/backend"
)

const onePasswordMinVersion = "2.23.0"

// OnePassword stores items as Secure Notes through the op CLI. Locations
// are vaults.
type OnePassword struct {
	cli *cliTool

	Account string // optional --account shorthand
	Vault   string // default vault for items without a location
}

// NewOnePassword creates a 1Password adapter.
func NewOnePassword(cfg map[string]interface{}, opts ...Option) *OnePassword {
	o := buildOptions(opts)
	return &OnePassword{
		cli: newCLITool("1password", "op", onePasswordMinVersion, []string{"--version"},
			"brew install 1password-cli", o),
		Account: stringOpt(cfg, "account"),
		Vault:   stringOpt(cfg, "vault"),
	}
}

func (op *OnePassword) Name() string { return "1password" }

func (op *OnePassword) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Locations:       true,
		Attachments:     true,
		RequiresSession: true,
		LocationType:    backend.LocationVault,
		Remote:          true,
		AuthMethods:     []string{"cli-session", "service-account"},
	}
}

func (op *OnePassword) Init(ctx context.Context) error {
	return op.cli.verify(ctx)
}

func (op *OnePassword) SessionEnvVar() string { return "OP_SESSION" }
func (op *OnePassword) LoginCommand() string  { return "op account add" }
func (op *OnePassword) UnlockCommand() string { return "eval $(op signin)" }

func (op *OnePassword) accountArgs(args ...string) []string {
	if op.Account != "" {
		args = append(args, "--account", op.Account)
	}
	return args
}

func (op *OnePassword) vaultArgs(vault string, args ...string) []string {
	if vault == "" {
		vault = op.Vault
	}
	if vault != "" {
		args = append(args, "--vault", vault)
	}
	return args
}

// Status asks `op whoami`. When that fails, a registered account means the
// CLI is merely locked.
func (op *OnePassword) Status(ctx context.Context, token string) (backend.State, error) {
	args := op.accountArgs("whoami", "--format", "json")
	if token != "" {
		args = append(args, "--session", token)
	}
	if _, _, err := op.cli.executor.Execute(ctx, "op", args...); err == nil {
		return backend.StateUnlocked, nil
	}
	if op.hasAccount(ctx) {
		return backend.StateLocked, nil
	}
	return backend.StateUnauthenticated, nil
}

func (op *OnePassword) hasAccount(ctx context.Context) bool {
	stdout, _, err := op.cli.executor.Execute(ctx, "op", "account", "list", "--format", "json")
	if err != nil {
		return false
	}
	var accounts []json.RawMessage
	if err := json.Unmarshal(stdout, &accounts); err != nil {
		return false
	}
	return len(accounts) > 0
}

func (op *OnePassword) LoginCheck(ctx context.Context) bool {
	return op.hasAccount(ctx)
}

// Unlock runs `op signin --raw`, which prompts on the terminal and prints
// the session token.
func (op *OnePassword) Unlock(ctx context.Context) (string, error) {
	stdout, err := op.cli.executor.ExecuteInteractive(ctx, "op", op.accountArgs("signin", "--raw")...)
	if err != nil {
		return "", dserrors.Wrap(dserrors.KindAuthRequired, "sign in to 1password", err).
			WithBackend(op.Name()).
			WithRemediation(op.UnlockCommand())
	}
	token := strings.TrimSpace(string(stdout))
	if token == "" {
		return "", dserrors.New(dserrors.KindAuthRequired, "sign in to 1password", "op returned no session token").
			WithBackend(op.Name()).
			WithRemediation(op.UnlockCommand())
	}
	return token, nil
}

// Sync is a no-op: op reads through to the service on every call.
func (op *OnePassword) Sync(ctx context.Context, s *backend.Session) error {
	return requireLive(s, op.Name(), "sync")
}

type onePasswordField struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Purpose string `json:"purpose,omitempty"`
	Label   string `json:"label"`
	Value   string `json:"value"`
}

type onePasswordVault struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type onePasswordItem struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	Category  string             `json:"category"`
	Vault     onePasswordVault   `json:"vault"`
	Fields    []onePasswordField `json:"fields"`
	UpdatedAt string             `json:"updated_at"`
}

func (it onePasswordItem) notes() string {
	for _, f := range it.Fields {
		if f.ID == "notesPlain" || f.Purpose == "NOTES" {
			return f.Value
		}
	}
	return ""
}

func (it onePasswordItem) record() backend.ItemRecord {
	rec := backend.ItemRecord{ID: it.ID, Name: it.Title, Notes: it.notes(), Location: it.Vault.Name}
	if ts, err := time.Parse(time.RFC3339, it.UpdatedAt); err == nil {
		rec.RevisionDate = ts
	}
	return rec
}

func (op *OnePassword) run(ctx context.Context, opName, item string, s *backend.Session, input []byte, args ...string) ([]byte, error) {
	args = withSession(s, op.accountArgs(args...)...)

	var (
		stdout, stderr []byte
		err            error
	)
	if input != nil {
		stdout, stderr, err = op.cli.executor.ExecuteWithInput(ctx, input, "op", args...)
	} else {
		stdout, stderr, err = op.cli.executor.Execute(ctx, "op", args...)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, op.classify(opName, item, stderr, err)
	}
	return stdout, nil
}

func (op *OnePassword) classify(opName, item string, stderr []byte, err error) error {
	msg := string(stderr) + " " + err.Error()
	var e *dserrors.Error
	switch {
	case containsAny(msg, "session expired", "not currently signed in", "authentication required"):
		e = dserrors.Wrap(dserrors.KindSessionExpired, opName, cliError(err, stderr)).WithRemediation(op.UnlockCommand())
	case containsAny(msg, "isn't an item", "not found", "no item"):
		e = dserrors.Wrap(dserrors.KindItemNotFound, opName, cliError(err, stderr)).WithRemediation("op item list --categories \"Secure Note\"")
	case containsAny(msg, "more than one item matches"):
		e = dserrors.Wrap(dserrors.KindConflict, opName, cliError(err, stderr)).WithRemediation("rename or archive the duplicate items in 1Password")
	case containsAny(msg, "isn't a vault"):
		e = dserrors.Wrap(dserrors.KindItemNotFound, opName, cliError(err, stderr)).WithRemediation("op vault list")
	default:
		e = dserrors.Wrap(dserrors.KindBackendUnavailable, opName, cliError(err, stderr)).WithRemediation("op whoami")
	}
	return e.WithBackend(op.Name()).WithItem(item)
}

func (op *OnePassword) get(ctx context.Context, s *backend.Session, opName, name string) (*onePasswordItem, error) {
	if err := requireLive(s, op.Name(), opName); err != nil {
		return nil, err
	}
	stdout, err := op.run(ctx, opName, name, s, nil, op.vaultArgs("", "item", "get", name, "--format", "json")...)
	if err != nil {
		return nil, err
	}
	var it onePasswordItem
	if err := json.Unmarshal(stdout, &it); err != nil {
		return nil, dserrors.Wrap(dserrors.KindBackendUnavailable, "parse 1password item", err).WithBackend(op.Name()).WithItem(name)
	}
	return &it, nil
}

func (op *OnePassword) GetItem(ctx context.Context, s *backend.Session, name string) (*backend.ItemRecord, error) {
	it, err := op.get(ctx, s, "get item", name)
	if err != nil {
		return nil, err
	}
	rec := it.record()
	return &rec, nil
}

func (op *OnePassword) GetNotes(ctx context.Context, s *backend.Session, name string) (string, error) {
	it, err := op.get(ctx, s, "get notes", name)
	if err != nil {
		return "", err
	}
	return it.notes(), nil
}

func (op *OnePassword) GetItemID(ctx context.Context, s *backend.Session, name string) (string, error) {
	it, err := op.get(ctx, s, "get item id", name)
	if err != nil {
		return "", err
	}
	return it.ID, nil
}

func (op *OnePassword) ItemExists(ctx context.Context, s *backend.Session, name string) (bool, error) {
	_, err := op.get(ctx, s, "check item", name)
	if dserrors.IsKind(err, dserrors.KindItemNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (op *OnePassword) ListItems(ctx context.Context, s *backend.Session) ([]backend.ItemRecord, error) {
	return op.list(ctx, s, "")
}

func (op *OnePassword) list(ctx context.Context, s *backend.Session, vault string) ([]backend.ItemRecord, error) {
	if err := requireLive(s, op.Name(), "list items"); err != nil {
		return nil, err
	}
	args := op.vaultArgs(vault, "item", "list", "--categories", "Secure Note", "--format", "json")
	stdout, err := op.run(ctx, "list items", vault, s, nil, args...)
	if err != nil {
		return nil, err
	}
	var items []onePasswordItem
	if err := json.Unmarshal(stdout, &items); err != nil {
		return nil, dserrors.Wrap(dserrors.KindBackendUnavailable, "parse 1password items", err).WithBackend(op.Name())
	}
	out := make([]backend.ItemRecord, 0, len(items))
	for _, it := range items {
		out = append(out, it.record())
	}
	return out, nil
}

// noteTemplate is the JSON item template op reads on stdin.
func noteTemplate(title, content string) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"title":    title,
		"category": "SECURE_NOTE",
		"fields": []onePasswordField{{
			ID:      "notesPlain",
			Type:    "STRING",
			Purpose: "NOTES",
			Label:   "notesPlain",
			Value:   content,
		}},
	})
}

func (op *OnePassword) CreateItem(ctx context.Context, s *backend.Session, name, content string) error {
	return op.create(ctx, s, "", name, content)
}

func (op *OnePassword) create(ctx context.Context, s *backend.Session, vault, name, content string) error {
	exists, err := op.ItemExists(ctx, s, name)
	if err != nil {
		return err
	}
	if exists {
		return dserrors.New(dserrors.KindItemAlreadyExists, "create item", "an item with this title already exists").
			WithBackend(op.Name()).
			WithItem(name).
			WithRemediation("vaultsync push " + name)
	}

	tmpl, err := noteTemplate(name, content)
	if err != nil {
		return err
	}
	_, err = op.run(ctx, "create item", name, s, tmpl, op.vaultArgs(vault, "item", "create", "--format", "json")...)
	if err == nil {
		op.cli.logger.Debug("created 1password item %s", name)
	}
	return err
}

func (op *OnePassword) UpdateItem(ctx context.Context, s *backend.Session, name, content string) error {
	it, err := op.get(ctx, s, "update item", name)
	if err != nil {
		return err
	}

	tmpl, err := noteTemplate(it.Title, content)
	if err != nil {
		return err
	}
	_, err = op.run(ctx, "update item", name, s, tmpl, "item", "edit", it.ID, "--vault", it.Vault.ID, "--format", "json")
	if err == nil {
		op.cli.logger.Debug("updated 1password item %s", name)
	}
	return err
}

func (op *OnePassword) DeleteItem(ctx context.Context, s *backend.Session, name string) error {
	it, err := op.get(ctx, s, "delete item", name)
	if err != nil {
		return err
	}
	_, err = op.run(ctx, "delete item", name, s, nil, "item", "delete", it.ID, "--vault", it.Vault.ID)
	return err
}

func (op *OnePassword) vaults(ctx context.Context, s *backend.Session) ([]onePasswordVault, error) {
	stdout, err := op.run(ctx, "list vaults", "", s, nil, "vault", "list", "--format", "json")
	if err != nil {
		return nil, err
	}
	var vaults []onePasswordVault
	if err := json.Unmarshal(stdout, &vaults); err != nil {
		return nil, dserrors.Wrap(dserrors.KindBackendUnavailable, "parse 1password vaults", err).WithBackend(op.Name())
	}
	return vaults, nil
}

func (op *OnePassword) ListLocations(ctx context.Context, s *backend.Session) ([]string, error) {
	if err := requireLive(s, op.Name(), "list vaults"); err != nil {
		return nil, err
	}
	vaults, err := op.vaults(ctx, s)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(vaults))
	for _, v := range vaults {
		out = append(out, v.Name)
	}
	return out, nil
}

func (op *OnePassword) LocationExists(ctx context.Context, s *backend.Session, location string) (bool, error) {
	names, err := op.ListLocations(ctx, s)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == location {
			return true, nil
		}
	}
	return false, nil
}

func (op *OnePassword) CreateLocation(ctx context.Context, s *backend.Session, location string) error {
	if err := requireLive(s, op.Name(), "create vault"); err != nil {
		return err
	}
	_, err := op.run(ctx, "create vault", location, s, nil, "vault", "create", location, "--format", "json")
	return err
}

func (op *OnePassword) ListItemsInLocation(ctx context.Context, s *backend.Session, location string) ([]backend.ItemRecord, error) {
	return op.list(ctx, s, location)
}

func (op *OnePassword) CreateItemInLocation(ctx context.Context, s *backend.Session, location, name, content string) error {
	exists, err := op.LocationExists(ctx, s, location)
	if err != nil {
		return err
	}
	if !exists {
		if err := op.CreateLocation(ctx, s, location); err != nil {
			return fmt.Errorf("create vault %q: %w", location, err)
		}
	}
	return op.create(ctx, s, location, name, content)
}

// HealthCheck confirms the CLI is usable.
func (op *OnePassword) HealthCheck(ctx context.Context) error {
	if err := op.Init(ctx); err != nil {
		return err
	}
	if !op.hasAccount(ctx) {
		return dserrors.New(dserrors.KindAuthRequired, "check 1password", "no account is registered with op").
			WithBackend(op.Name()).
			WithRemediation(op.LoginCommand())
	}
	return nil
}
