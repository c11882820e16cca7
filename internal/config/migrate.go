package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	dserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/localfs"
)

// transform upgrades a document from version N to N+1 in place. It reports
// whether it changed anything and must be idempotent.
type transform func(root *yaml.Node) (bool, error)

// transforms[N] upgrades version N to N+1.
var transforms = map[int]transform{
	1: migrateV1toV2,
	2: migrateV2toV3,
}

// MigrationResult describes a MigrateFile run.
type MigrationResult struct {
	From       int
	To         int
	Changed    bool
	BackupPath string
	Output     []byte
}

// Migrate upgrades data to target, one version step at a time. When nothing
// changes the input is returned as is.
func Migrate(data []byte, target int) ([]byte, error) {
	out, _, err := migrate(data, target)
	return out, err
}

func migrate(data []byte, target int) ([]byte, bool, error) {
	if target <= 0 {
		target = CurrentVersion
	}
	if target > CurrentVersion {
		return nil, false, migrationError(fmt.Sprintf("target version %d is newer than this build supports (%d)", target, CurrentVersion), nil)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, false, migrationError("document is not valid YAML", err)
	}
	doc := documentMapping(&root)
	if doc == nil {
		return nil, false, migrationError("document is not a YAML mapping", nil)
	}

	from := 1
	if v := mappingValue(doc, "version"); v != nil {
		n, err := strconv.Atoi(v.Value)
		if err != nil {
			return nil, false, migrationError(fmt.Sprintf("version %q is not a number", v.Value), err)
		}
		from = n
	}
	if from > target {
		return nil, false, migrationError(fmt.Sprintf("document is version %d; downgrading to %d is not supported", from, target), nil)
	}

	changed := false
	for v := from; v < target; v++ {
		step, ok := transforms[v]
		if !ok {
			return nil, false, migrationError(fmt.Sprintf("no migration from version %d", v), nil)
		}
		c, err := step(doc)
		if err != nil {
			return nil, false, migrationError(fmt.Sprintf("migrate version %d to %d", v, v+1), err)
		}
		changed = changed || c
	}
	if setVersion(doc, target) {
		changed = true
	}
	if !changed {
		return data, false, nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return nil, false, migrationError("encode migrated document", err)
	}
	if err := enc.Close(); err != nil {
		return nil, false, migrationError("encode migrated document", err)
	}
	return buf.Bytes(), true, nil
}

// MigrateFile migrates the document at path. Unless dryRun is set, a changed
// document is backed up to <path>.bak-YYYYMMDD-HHMMSS first and then
// replaced atomically. The migrated document must validate.
func MigrateFile(path string, target int, dryRun bool, now time.Time) (*MigrationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, migrationError("read document", err)
	}
	from, err := DocumentVersion(data)
	if err != nil {
		return nil, migrationError("read document version", err)
	}

	out, changed, err := migrate(data, target)
	if err != nil {
		return nil, err
	}
	res := &MigrationResult{From: from, To: target, Changed: changed, Output: out}
	if target <= 0 {
		res.To = CurrentVersion
	}
	if !changed {
		return res, nil
	}
	if res.To == CurrentVersion {
		if err := Validate(out); err != nil {
			return nil, migrationError("migrated document does not validate", err)
		}
	}
	if dryRun {
		return res, nil
	}

	backup, err := localfs.Backup(path, now)
	if err != nil {
		return nil, migrationError("back up document", err)
	}
	res.BackupPath = backup

	if err := localfs.WriteFileAtomic(path, out, 0o600, 0o700); err != nil {
		return nil, migrationError("write migrated document", err)
	}
	return res, nil
}

func migrationError(reason string, err error) error {
	e := &dserrors.Error{
		Kind:        dserrors.KindMigrationFailed,
		Op:          "migrate configuration",
		Reason:      reason,
		Err:         err,
		Remediation: "vaultsync migrate --dry-run",
	}
	if err != nil {
		e.Reason = reason + ": " + err.Error()
	}
	return e
}

// migrateV1toV2 renames type to kind (ssh → ssh-key-pair, env →
// key-value-file, anything else → file) and turns a boolean sync into
// always/manual.
func migrateV1toV2(doc *yaml.Node) (bool, error) {
	changed := false
	for _, item := range itemNodes(doc) {
		if typ := mappingKey(item, "type"); typ != nil && mappingValue(item, "kind") == nil {
			val := mappingValue(item, "type")
			typ.Value = "kind"
			switch val.Value {
			case "ssh":
				val.Value = "ssh-key-pair"
			case "env":
				val.Value = "key-value-file"
			default:
				val.Value = "file"
			}
			val.Tag = "!!str"
			changed = true
		}
		if sync := mappingValue(item, "sync"); sync != nil && sync.Tag == "!!bool" {
			b, err := strconv.ParseBool(sync.Value)
			if err != nil {
				return false, fmt.Errorf("item sync %q: %w", sync.Value, err)
			}
			sync.Tag = "!!str"
			sync.Value = string(SyncManual)
			if b {
				sync.Value = string(SyncAlways)
			}
			changed = true
		}
	}
	return changed, nil
}

// migrateV2toV3 replaces a flat folder: x with location: {type: folder, value: x}.
func migrateV2toV3(doc *yaml.Node) (bool, error) {
	changed := false
	for _, item := range itemNodes(doc) {
		key := mappingKey(item, "folder")
		if key == nil || mappingValue(item, "location") != nil {
			continue
		}
		folder := mappingValue(item, "folder")
		if folder.Kind != yaml.ScalarNode {
			return false, fmt.Errorf("folder must be a string, got %s", kindName(folder.Kind))
		}
		key.Value = "location"
		loc := &yaml.Node{
			Kind:  yaml.MappingNode,
			Tag:   "!!map",
			Style: yaml.FlowStyle,
			Content: []*yaml.Node{
				{Kind: yaml.ScalarNode, Tag: "!!str", Value: "type"},
				{Kind: yaml.ScalarNode, Tag: "!!str", Value: "folder"},
				{Kind: yaml.ScalarNode, Tag: "!!str", Value: "value"},
				{Kind: yaml.ScalarNode, Tag: "!!str", Value: folder.Value, Style: folder.Style},
			},
		}
		replaceValue(item, "location", loc)
		changed = true
	}
	return changed, nil
}

func documentMapping(root *yaml.Node) *yaml.Node {
	n := root
	if n.Kind == yaml.DocumentNode {
		if len(n.Content) == 0 {
			return nil
		}
		n = n.Content[0]
	}
	if n.Kind != yaml.MappingNode {
		return nil
	}
	return n
}

func itemNodes(doc *yaml.Node) []*yaml.Node {
	items := mappingValue(doc, "items")
	if items == nil || items.Kind != yaml.SequenceNode {
		return nil
	}
	var out []*yaml.Node
	for _, n := range items.Content {
		if n.Kind == yaml.MappingNode {
			out = append(out, n)
		}
	}
	return out
}

func mappingKey(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i]
		}
	}
	return nil
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func replaceValue(m *yaml.Node, key string, v *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = v
			return
		}
	}
}

// setVersion writes version: n at the top of the document and reports
// whether it changed.
func setVersion(doc *yaml.Node, n int) bool {
	want := strconv.Itoa(n)
	if v := mappingValue(doc, "version"); v != nil {
		if v.Value == want {
			return false
		}
		v.Value = want
		v.Tag = "!!int"
		return true
	}
	doc.Content = append([]*yaml.Node{
		{Kind: yaml.ScalarNode, Tag: "!!str", Value: "version"},
		{Kind: yaml.ScalarNode, Tag: "!!int", Value: want},
	}, doc.Content...)
	return true
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.MappingNode:
		return "a mapping"
	case yaml.SequenceNode:
		return "a list"
	case yaml.AliasNode:
		return "an alias"
	}
	return "a scalar"
}
