package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/systmms/vaultsync/internal/content"
	dserrors "github.com/systmms/vaultsync/internal/errors"
)

//go:embed schema.json
var schemaJSON []byte

var schemaLoader = gojsonschema.NewBytesLoader(schemaJSON)

// ValidationError lists every problem found in a document.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%d problem(s):\n  - %s", len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

// DocumentVersion returns the document's version field; a document without
// one is version 1.
func DocumentVersion(data []byte) (int, error) {
	var head struct {
		Version *int `yaml:"version"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return 0, dserrors.ConfigError{
			Field:      "version",
			Message:    "invalid YAML syntax in configuration document",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}
	if head.Version == nil {
		return 1, nil
	}
	return *head.Version, nil
}

// Validate checks data against the embedded JSON schema and the rules the
// schema cannot express: supported version, unique names, and ssh-key-pair
// paths naming the private key.
func Validate(data []byte) error {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return dserrors.Wrap(dserrors.KindSchemaInvalid, "validate configuration", err)
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return dserrors.Wrap(dserrors.KindSchemaInvalid, "validate configuration",
			fmt.Errorf("document cannot be represented as JSON: %w", err))
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return dserrors.Wrap(dserrors.KindSchemaInvalid, "validate configuration", err)
	}

	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err == nil {
		problems = append(problems, semanticProblems(&doc)...)
	}

	if len(problems) > 0 {
		return &dserrors.Error{
			Kind:        dserrors.KindSchemaInvalid,
			Op:          "validate configuration",
			Err:         &ValidationError{Problems: problems},
			Remediation: "vaultsync validate",
		}
	}
	return nil
}

func semanticProblems(doc *Document) []string {
	var problems []string
	if doc.Version > CurrentVersion {
		problems = append(problems, fmt.Sprintf("version %d is newer than this build supports (%d); upgrade vaultsync", doc.Version, CurrentVersion))
	}
	seen := make(map[string]bool, len(doc.Items))
	for i, it := range doc.Items {
		if seen[it.Name] {
			problems = append(problems, fmt.Sprintf("items.%d: duplicate name %q", i, it.Name))
		}
		seen[it.Name] = true
		if it.Kind == content.KindSSHKeyPair && strings.HasSuffix(it.Path, ".pub") {
			problems = append(problems, fmt.Sprintf("items.%d: ssh-key-pair %q must point at the private key, not %s", i, it.Name, it.Path))
		}
	}
	return problems
}
