package backends

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	dserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/pkg/backend"
)

const (
	bitwardenMinVersion = "2023.1.0"
	bitwardenNoteType   = 2
)

// Bitwarden stores items as secure notes through the bw CLI. Locations are
// folders.
type Bitwarden struct {
	cli *cliTool
}

// NewBitwarden creates a Bitwarden adapter.
func NewBitwarden(cfg map[string]interface{}, opts ...Option) *Bitwarden {
	o := buildOptions(opts)
	return &Bitwarden{
		cli: newCLITool("bitwarden", "bw", bitwardenMinVersion, []string{"--version"},
			"npm install -g @bitwarden/cli", o),
	}
}

func (bw *Bitwarden) Name() string { return "bitwarden" }

func (bw *Bitwarden) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Locations:       true,
		Attachments:     true,
		RequiresSession: true,
		LocationType:    backend.LocationFolder,
		Remote:          true,
		AuthMethods:     []string{"cli-session", "api-key"},
	}
}

func (bw *Bitwarden) Init(ctx context.Context) error {
	return bw.cli.verify(ctx)
}

func (bw *Bitwarden) SessionEnvVar() string { return "BW_SESSION" }
func (bw *Bitwarden) LoginCommand() string  { return "bw login" }
func (bw *Bitwarden) UnlockCommand() string { return "bw unlock" }

// bitwardenStatus is the output of `bw status`.
type bitwardenStatus struct {
	Status    string `json:"status"`
	LastSync  string `json:"lastSync"`
	UserEmail string `json:"userEmail"`
}

// Status runs `bw status`. With an invalid token bw reports "locked".
func (bw *Bitwarden) Status(ctx context.Context, token string) (backend.State, error) {
	args := []string{"status"}
	if token != "" {
		args = append(args, "--session", token)
	}
	stdout, stderr, err := bw.cli.executor.Execute(ctx, "bw", args...)
	if err != nil {
		return backend.StateUnauthenticated, dserrors.Wrap(dserrors.KindBackendUnavailable, "check bitwarden status", cliError(err, stderr)).
			WithBackend(bw.Name()).
			WithRemediation("bw status")
	}

	var status bitwardenStatus
	if err := json.Unmarshal(stdout, &status); err != nil {
		return backend.StateUnauthenticated, dserrors.Wrap(dserrors.KindBackendUnavailable, "parse bitwarden status", err).
			WithBackend(bw.Name())
	}

	switch status.Status {
	case "unlocked":
		return backend.StateUnlocked, nil
	case "locked":
		return backend.StateLocked, nil
	case "unauthenticated":
		return backend.StateUnauthenticated, nil
	default:
		return backend.StateUnauthenticated, dserrors.New(dserrors.KindBackendUnavailable, "check bitwarden status",
			fmt.Sprintf("unknown status %q", status.Status)).WithBackend(bw.Name())
	}
}

func (bw *Bitwarden) LoginCheck(ctx context.Context) bool {
	state, err := bw.Status(ctx, "")
	return err == nil && state != backend.StateUnauthenticated
}

// Unlock prompts for the master password on the terminal.
func (bw *Bitwarden) Unlock(ctx context.Context) (string, error) {
	stdout, err := bw.cli.executor.ExecuteInteractive(ctx, "bw", "unlock", "--raw")
	if err != nil {
		return "", dserrors.Wrap(dserrors.KindAuthRequired, "unlock bitwarden", err).
			WithBackend(bw.Name()).
			WithRemediation(bw.UnlockCommand())
	}
	token := strings.TrimSpace(string(stdout))
	if token == "" {
		return "", dserrors.New(dserrors.KindAuthRequired, "unlock bitwarden", "bw returned no session token").
			WithBackend(bw.Name()).
			WithRemediation(bw.UnlockCommand())
	}
	return token, nil
}

func (bw *Bitwarden) Sync(ctx context.Context, s *backend.Session) error {
	if err := requireLive(s, bw.Name(), "sync"); err != nil {
		return err
	}
	_, err := bw.run(ctx, "sync", "", s, "sync")
	return err
}

// bitwardenItem is the subset of a bw item vaultsync reads. The raw JSON is
// kept so edits round-trip fields this struct does not model.
type bitwardenItem struct {
	ID           string  `json:"id"`
	FolderID     *string `json:"folderId"`
	Type         int     `json:"type"`
	Name         string  `json:"name"`
	Notes        string  `json:"notes"`
	RevisionDate string  `json:"revisionDate"`

	raw json.RawMessage
}

type bitwardenFolder struct {
	ID   *string `json:"id"`
	Name string  `json:"name"`
}

func (bw *Bitwarden) run(ctx context.Context, op, item string, s *backend.Session, args ...string) ([]byte, error) {
	stdout, stderr, err := bw.cli.executor.Execute(ctx, "bw", withSession(s, args...)...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, bw.classify(op, item, stderr, err)
	}
	return stdout, nil
}

// runWithInput pipes the encoded payload on stdin so item content never shows
// up in the process table.
func (bw *Bitwarden) runWithInput(ctx context.Context, op, item string, s *backend.Session, input string, args ...string) ([]byte, error) {
	stdout, stderr, err := bw.cli.executor.ExecuteWithInput(ctx, []byte(input), "bw", withSession(s, args...)...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, bw.classify(op, item, stderr, err)
	}
	return stdout, nil
}

func (bw *Bitwarden) classify(op, item string, stderr []byte, err error) error {
	msg := string(stderr) + " " + err.Error()
	var e *dserrors.Error
	switch {
	case containsAny(msg, "session key is invalid", "vault is locked"):
		e = dserrors.Wrap(dserrors.KindSessionExpired, op, cliError(err, stderr)).WithRemediation(bw.UnlockCommand())
	case containsAny(msg, "you are not logged in"):
		e = dserrors.Wrap(dserrors.KindAuthRequired, op, cliError(err, stderr)).WithRemediation(bw.LoginCommand())
	case containsAny(msg, "not found"):
		e = dserrors.Wrap(dserrors.KindItemNotFound, op, cliError(err, stderr)).WithRemediation("bw list items --search " + item)
	default:
		e = dserrors.Wrap(dserrors.KindBackendUnavailable, op, cliError(err, stderr)).WithRemediation("bw sync")
	}
	return e.WithBackend(bw.Name()).WithItem(item)
}

func decodeBitwardenItems(data []byte) ([]bitwardenItem, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, err
	}
	items := make([]bitwardenItem, 0, len(raws))
	for _, raw := range raws {
		var it bitwardenItem
		if err := json.Unmarshal(raw, &it); err != nil {
			return nil, err
		}
		it.raw = raw
		items = append(items, it)
	}
	return items, nil
}

// search returns secure notes whose name matches exactly. bw's --search is a
// substring match across several fields.
func (bw *Bitwarden) search(ctx context.Context, s *backend.Session, name string) ([]bitwardenItem, error) {
	stdout, err := bw.run(ctx, "search items", name, s, "list", "items", "--search", name)
	if err != nil {
		return nil, err
	}
	items, err := decodeBitwardenItems(stdout)
	if err != nil {
		return nil, dserrors.Wrap(dserrors.KindBackendUnavailable, "parse bitwarden items", err).WithBackend(bw.Name())
	}
	var out []bitwardenItem
	for _, it := range items {
		if it.Type == bitwardenNoteType && it.Name == name {
			out = append(out, it)
		}
	}
	return out, nil
}

func (bw *Bitwarden) find(ctx context.Context, s *backend.Session, op, name string) (*bitwardenItem, error) {
	if err := requireLive(s, bw.Name(), op); err != nil {
		return nil, err
	}
	matches, err := bw.search(ctx, s, name)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, dserrors.New(dserrors.KindItemNotFound, op, "no secure note with this name").
			WithBackend(bw.Name()).
			WithItem(name).
			WithRemediation("bw list items --search " + name)
	case 1:
		return &matches[0], nil
	default:
		return nil, dserrors.New(dserrors.KindConflict, op, fmt.Sprintf("%d secure notes share this name", len(matches))).
			WithBackend(bw.Name()).
			WithItem(name).
			WithRemediation("delete the duplicates in Bitwarden, then run bw sync")
	}
}

func (bw *Bitwarden) record(it bitwardenItem, folders map[string]string) backend.ItemRecord {
	rec := backend.ItemRecord{ID: it.ID, Name: it.Name, Notes: it.Notes}
	if it.FolderID != nil {
		rec.Location = folders[*it.FolderID]
	}
	if ts, err := time.Parse(time.RFC3339, it.RevisionDate); err == nil {
		rec.RevisionDate = ts
	}
	return rec
}

func (bw *Bitwarden) GetItem(ctx context.Context, s *backend.Session, name string) (*backend.ItemRecord, error) {
	it, err := bw.find(ctx, s, "get item", name)
	if err != nil {
		return nil, err
	}
	folders, err := bw.folders(ctx, s)
	if err != nil {
		return nil, err
	}
	rec := bw.record(*it, folderNames(folders))
	return &rec, nil
}

func (bw *Bitwarden) GetNotes(ctx context.Context, s *backend.Session, name string) (string, error) {
	it, err := bw.find(ctx, s, "get notes", name)
	if err != nil {
		return "", err
	}
	return it.Notes, nil
}

func (bw *Bitwarden) GetItemID(ctx context.Context, s *backend.Session, name string) (string, error) {
	it, err := bw.find(ctx, s, "get item id", name)
	if err != nil {
		return "", err
	}
	return it.ID, nil
}

func (bw *Bitwarden) ItemExists(ctx context.Context, s *backend.Session, name string) (bool, error) {
	if err := requireLive(s, bw.Name(), "check item"); err != nil {
		return false, err
	}
	matches, err := bw.search(ctx, s, name)
	if err != nil {
		return false, err
	}
	return len(matches) > 0, nil
}

func (bw *Bitwarden) ListItems(ctx context.Context, s *backend.Session) ([]backend.ItemRecord, error) {
	return bw.list(ctx, s, "list items", "list", "items")
}

func (bw *Bitwarden) list(ctx context.Context, s *backend.Session, op string, args ...string) ([]backend.ItemRecord, error) {
	if err := requireLive(s, bw.Name(), op); err != nil {
		return nil, err
	}
	stdout, err := bw.run(ctx, op, "", s, args...)
	if err != nil {
		return nil, err
	}
	items, err := decodeBitwardenItems(stdout)
	if err != nil {
		return nil, dserrors.Wrap(dserrors.KindBackendUnavailable, "parse bitwarden items", err).WithBackend(bw.Name())
	}
	folders, err := bw.folders(ctx, s)
	if err != nil {
		return nil, err
	}
	names := folderNames(folders)

	var out []backend.ItemRecord
	for _, it := range items {
		if it.Type == bitwardenNoteType {
			out = append(out, bw.record(it, names))
		}
	}
	return out, nil
}

func (bw *Bitwarden) CreateItem(ctx context.Context, s *backend.Session, name, content string) error {
	return bw.create(ctx, s, "", name, content)
}

func (bw *Bitwarden) create(ctx context.Context, s *backend.Session, folderID, name, content string) error {
	exists, err := bw.ItemExists(ctx, s, name)
	if err != nil {
		return err
	}
	if exists {
		return dserrors.New(dserrors.KindItemAlreadyExists, "create item", "a secure note with this name already exists").
			WithBackend(bw.Name()).
			WithItem(name).
			WithRemediation("vaultsync push " + name)
	}

	payload := map[string]interface{}{
		"type":       bitwardenNoteType,
		"name":       name,
		"notes":      content,
		"secureNote": map[string]int{"type": 0},
	}
	if folderID != "" {
		payload["folderId"] = folderID
	}
	encoded, err := encodeBitwarden(payload)
	if err != nil {
		return err
	}

	if _, err := bw.runWithInput(ctx, "create item", name, s, encoded, "create", "item"); err != nil {
		return err
	}
	bw.cli.logger.Debug("created bitwarden item %s", name)
	return nil
}

func (bw *Bitwarden) UpdateItem(ctx context.Context, s *backend.Session, name, content string) error {
	it, err := bw.find(ctx, s, "update item", name)
	if err != nil {
		return err
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(it.raw, &payload); err != nil {
		return dserrors.Wrap(dserrors.KindBackendUnavailable, "update item", err).WithBackend(bw.Name()).WithItem(name)
	}
	payload["notes"] = content
	encoded, err := encodeBitwarden(payload)
	if err != nil {
		return err
	}

	if _, err := bw.runWithInput(ctx, "update item", name, s, encoded, "edit", "item", it.ID); err != nil {
		return err
	}
	bw.cli.logger.Debug("updated bitwarden item %s", name)
	return nil
}

func (bw *Bitwarden) DeleteItem(ctx context.Context, s *backend.Session, name string) error {
	it, err := bw.find(ctx, s, "delete item", name)
	if err != nil {
		return err
	}
	_, err = bw.run(ctx, "delete item", name, s, "delete", "item", it.ID)
	return err
}

// encodeBitwarden produces the `bw encode` form: base64 of the JSON document.
func encodeBitwarden(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (bw *Bitwarden) folders(ctx context.Context, s *backend.Session) ([]bitwardenFolder, error) {
	stdout, err := bw.run(ctx, "list folders", "", s, "list", "folders")
	if err != nil {
		return nil, err
	}
	var folders []bitwardenFolder
	if err := json.Unmarshal(stdout, &folders); err != nil {
		return nil, dserrors.Wrap(dserrors.KindBackendUnavailable, "parse bitwarden folders", err).WithBackend(bw.Name())
	}
	return folders, nil
}

// folderNames maps folder IDs to names. The "No Folder" pseudo-folder has a
// null ID and is skipped.
func folderNames(folders []bitwardenFolder) map[string]string {
	out := make(map[string]string, len(folders))
	for _, f := range folders {
		if f.ID != nil {
			out[*f.ID] = f.Name
		}
	}
	return out
}

func (bw *Bitwarden) folderID(ctx context.Context, s *backend.Session, location string) (string, bool, error) {
	folders, err := bw.folders(ctx, s)
	if err != nil {
		return "", false, err
	}
	for _, f := range folders {
		if f.ID != nil && f.Name == location {
			return *f.ID, true, nil
		}
	}
	return "", false, nil
}

func (bw *Bitwarden) ListLocations(ctx context.Context, s *backend.Session) ([]string, error) {
	if err := requireLive(s, bw.Name(), "list folders"); err != nil {
		return nil, err
	}
	folders, err := bw.folders(ctx, s)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range folders {
		if f.ID != nil {
			out = append(out, f.Name)
		}
	}
	return out, nil
}

func (bw *Bitwarden) LocationExists(ctx context.Context, s *backend.Session, location string) (bool, error) {
	if err := requireLive(s, bw.Name(), "check folder"); err != nil {
		return false, err
	}
	_, ok, err := bw.folderID(ctx, s, location)
	return ok, err
}

func (bw *Bitwarden) CreateLocation(ctx context.Context, s *backend.Session, location string) error {
	if err := requireLive(s, bw.Name(), "create folder"); err != nil {
		return err
	}
	encoded, err := encodeBitwarden(map[string]string{"name": location})
	if err != nil {
		return err
	}
	_, err = bw.runWithInput(ctx, "create folder", location, s, encoded, "create", "folder")
	return err
}

func (bw *Bitwarden) ListItemsInLocation(ctx context.Context, s *backend.Session, location string) ([]backend.ItemRecord, error) {
	if err := requireLive(s, bw.Name(), "list folder items"); err != nil {
		return nil, err
	}
	id, ok, err := bw.folderID(ctx, s, location)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dserrors.New(dserrors.KindItemNotFound, "list folder items", "folder does not exist").
			WithBackend(bw.Name()).
			WithItem(location).
			WithRemediation("bw list folders")
	}
	return bw.list(ctx, s, "list folder items", "list", "items", "--folderid", id)
}

func (bw *Bitwarden) CreateItemInLocation(ctx context.Context, s *backend.Session, location, name, content string) error {
	if err := requireLive(s, bw.Name(), "create item"); err != nil {
		return err
	}
	id, ok, err := bw.folderID(ctx, s, location)
	if err != nil {
		return err
	}
	if !ok {
		if err := bw.CreateLocation(ctx, s, location); err != nil {
			return err
		}
		if id, ok, err = bw.folderID(ctx, s, location); err != nil {
			return err
		}
		if !ok {
			return dserrors.New(dserrors.KindBackendUnavailable, "create folder", "folder missing after creation").
				WithBackend(bw.Name()).
				WithItem(location).
				WithRemediation("bw sync")
		}
	}
	return bw.create(ctx, s, id, name, content)
}

// HealthCheck confirms the CLI answers and the server is reachable.
func (bw *Bitwarden) HealthCheck(ctx context.Context) error {
	if err := bw.Init(ctx); err != nil {
		return err
	}
	_, err := bw.Status(ctx, "")
	return err
}
