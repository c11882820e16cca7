package discovery

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/systmms/vaultsync/internal/config"
	"github.com/systmms/vaultsync/internal/content"
	dserrors "github.com/systmms/vaultsync/internal/errors"
)

// MatchPlaceholder in a candidate name is replaced by the text the "*" of
// the pattern matched.
const MatchPlaceholder = "{match}"

// Candidate is one place a secret may live.
type Candidate struct {
	// Name is the item name, or a template containing MatchPlaceholder when
	// Pattern has a wildcard.
	Name string
	// Pattern is a path, optionally with a single "*" in its last element.
	// A leading "~" is the home directory.
	Pattern string
	Kind    content.Kind
}

// DefaultCandidates are the well-known developer secrets.
func DefaultCandidates() []Candidate {
	return []Candidate{
		{Name: "SSH-Key-" + MatchPlaceholder, Pattern: "~/.ssh/id_*", Kind: content.KindSSHKeyPair},
		{Name: "SSH-Config", Pattern: "~/.ssh/config", Kind: content.KindFile},
		{Name: "Git-Config", Pattern: "~/.gitconfig", Kind: content.KindFile},
		{Name: "AWS-Config", Pattern: "~/.aws/config", Kind: content.KindFile},
		{Name: "AWS-Credentials", Pattern: "~/.aws/credentials", Kind: content.KindFile},
		{Name: "NPM-Config", Pattern: "~/.npmrc", Kind: content.KindFile},
		{Name: "Docker-Config", Pattern: "~/.docker/config.json", Kind: content.KindFile},
		{Name: "Env-Secrets", Pattern: "~/.secrets.env", Kind: content.KindKeyValueFile},
	}
}

// CandidatesFromSettings returns the defaults (unless disabled) followed by
// the configured extras.
func CandidatesFromSettings(ds config.DiscoverySettings) ([]Candidate, error) {
	var out []Candidate
	if !ds.DisableDefaults {
		out = DefaultCandidates()
	}
	for i, cs := range ds.Candidates {
		kind := content.KindFile
		if cs.Kind != "" {
			k, err := content.ParseKind(cs.Kind)
			if err != nil {
				return nil, candidateError(i, "kind", cs.Kind, err.Error())
			}
			kind = k
		}
		c := Candidate{Name: cs.Name, Pattern: cs.Pattern, Kind: kind}
		if err := c.validate(); err != nil {
			return nil, candidateError(i, "pattern", cs.Pattern, err.Error())
		}
		out = append(out, c)
	}
	return out, nil
}

func candidateError(i int, field string, value interface{}, msg string) error {
	return dserrors.ConfigError{
		Field:   fmt.Sprintf("discovery.candidates[%d].%s", i, field),
		Value:   value,
		Message: msg,
	}
}

func (c Candidate) validate() error {
	if c.Name == "" || c.Pattern == "" {
		return fmt.Errorf("name and pattern are required")
	}
	if strings.Contains(c.Name, "/") || strings.TrimSpace(c.Name) != c.Name {
		return fmt.Errorf("name %q must not contain '/' or surrounding spaces", c.Name)
	}
	dir, base := filepath.Split(c.Pattern)
	if strings.ContainsAny(dir, "*?[") {
		return fmt.Errorf("wildcards are only allowed in the last path element")
	}
	wild := strings.Count(base, "*")
	if wild > 1 || strings.ContainsAny(base, "?[") {
		return fmt.Errorf("at most one '*' is supported")
	}
	if wild == 1 && !strings.Contains(c.Name, MatchPlaceholder) {
		return fmt.Errorf("name must contain %s when the pattern has a wildcard", MatchPlaceholder)
	}
	return nil
}

// nameFor derives the item name for a file the pattern matched.
func (c Candidate) nameFor(match string) string {
	base := filepath.Base(c.Pattern)
	prefix, suffix, ok := strings.Cut(base, "*")
	if !ok {
		return c.Name
	}
	file := filepath.Base(match)
	stem := strings.TrimSuffix(strings.TrimPrefix(file, prefix), suffix)
	return strings.ReplaceAll(c.Name, MatchPlaceholder, stem)
}
