package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/systmms/vaultsync/internal/content"
	dserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/localfs"
	"github.com/systmms/vaultsync/internal/logging"
)

// CurrentVersion is the document version this build reads and writes.
const CurrentVersion = 3

// SyncPolicy controls which operations an item takes part in.
type SyncPolicy string

const (
	SyncAlways SyncPolicy = "always"
	SyncManual SyncPolicy = "manual"
	SyncNever  SyncPolicy = "never"
)

// Config holds the loaded Configuration Document and where it came from.
type Config struct {
	Path     string
	Logger   *logging.Logger
	Document *Document
}

// Document is the secrets.yaml structure.
type Document struct {
	Version int    `yaml:"version"`
	Items   []Item `yaml:"items"`
}

// Item is one tracked secret.
type Item struct {
	Name           string       `yaml:"name"`
	Path           string       `yaml:"path"`
	Kind           content.Kind `yaml:"kind"`
	Required       bool         `yaml:"required,omitempty"`
	Sync           SyncPolicy   `yaml:"sync"`
	Location       *Location    `yaml:"location,omitempty"`
	LastSyncedHash string       `yaml:"last_synced_hash,omitempty"`
}

// Location places an item inside a backend folder, vault, tag or prefix.
type Location struct {
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

// NewDocument returns an empty document at CurrentVersion.
func NewDocument() *Document {
	return &Document{Version: CurrentVersion}
}

// Load reads, validates and parses the document at c.Path.
func (c *Config) Load() error {
	doc, err := LoadDocument(c.Path)
	if err != nil {
		return err
	}
	c.Document = doc
	return nil
}

// LoadOrNew is Load, except a missing file yields an empty document.
func (c *Config) LoadOrNew() error {
	if !localfs.Exists(c.Path) {
		c.Document = NewDocument()
		return nil
	}
	return c.Load()
}

// Save writes c.Document atomically with mode 0600.
func (c *Config) Save() error {
	return SaveDocument(c.Path, c.Document)
}

// LoadDocument reads and validates a document. Older versions must be
// migrated first.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dserrors.ConfigError{
				Field:      "path",
				Value:      path,
				Message:    "configuration document not found",
				Suggestion: "Run 'vaultsync scan --write' to create one from the files on this machine",
			}
		}
		return nil, dserrors.UserError{
			Message:    "Failed to read configuration document",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}
	return ParseDocument(data)
}

// ParseDocument validates data and decodes it.
func ParseDocument(data []byte) (*Document, error) {
	version, err := DocumentVersion(data)
	if err != nil {
		return nil, err
	}
	if version < CurrentVersion {
		return nil, dserrors.New(dserrors.KindSchemaInvalid, "load configuration",
			fmt.Sprintf("document is version %d, this build reads version %d", version, CurrentVersion)).
			WithRemediation("vaultsync migrate")
	}
	if err := Validate(data); err != nil {
		return nil, err
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, dserrors.Wrap(dserrors.KindSchemaInvalid, "load configuration", err)
	}
	return &doc, nil
}

// SaveDocument encodes doc with two-space indentation and writes it
// atomically.
func SaveDocument(path string, doc *Document) error {
	data, err := doc.Marshal()
	if err != nil {
		return err
	}
	return localfs.WriteFileAtomic(path, data, 0o600, 0o700)
}

// Marshal encodes the document as YAML.
func (d *Document) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("encode configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Find returns the item named name, or nil.
func (d *Document) Find(name string) *Item {
	for i := range d.Items {
		if d.Items[i].Name == name {
			return &d.Items[i]
		}
	}
	return nil
}

// Add appends item. Names are unique.
func (d *Document) Add(item Item) error {
	if d.Find(item.Name) != nil {
		return dserrors.ConfigError{
			Field:   "items",
			Value:   item.Name,
			Message: "an item with this name already exists",
		}
	}
	d.Items = append(d.Items, item)
	return nil
}

// SetHash records the fingerprint of a successful pull or push.
func (d *Document) SetHash(name, hash string) bool {
	it := d.Find(name)
	if it == nil {
		return false
	}
	it.LastSyncedHash = hash
	return true
}

// Names returns the item names, sorted.
func (d *Document) Names() []string {
	names := make([]string, 0, len(d.Items))
	for _, it := range d.Items {
		names = append(names, it.Name)
	}
	sort.Strings(names)
	return names
}

// LocalPath expands the item's path.
func (it *Item) LocalPath() (string, error) {
	return localfs.ExpandHome(it.Path)
}

// LocalPaths returns every file backing the item, expanded.
func (it *Item) LocalPaths() ([]string, error) {
	p, err := it.LocalPath()
	if err != nil {
		return nil, err
	}
	return content.LocalPaths(it.Kind, p), nil
}

// Policy returns the sync policy, defaulting to manual.
func (it *Item) Policy() SyncPolicy {
	if it.Sync == "" {
		return SyncManual
	}
	return it.Sync
}

// LocationValue returns the location value, or "".
func (it *Item) LocationValue() string {
	if it.Location == nil {
		return ""
	}
	return it.Location.Value
}

func (it *Item) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s, %s)", it.Name, it.Kind, it.Path)
	if loc := it.LocationValue(); loc != "" {
		fmt.Fprintf(&b, " in %s %s", it.Location.Type, loc)
	}
	return b.String()
}
