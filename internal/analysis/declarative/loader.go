package declarative

import (
	"bytes"
	encodingjson "encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/tmscan/api/schemas"
)

// Format is the encoding of a rule document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath guesses the document format from a file extension. Anything
// not ending in .yaml or .yml is treated as JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// LoadFile reads rule definitions from a JSON or YAML file. A leading "~" is
// expanded to the user's home directory. A rule that does not decode is
// returned as a diagnostic instead of failing the file.
func LoadFile(path string) ([]schemas.RuleDefinition, []schemas.Diagnostic, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to expand rules path %q: %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	defs, diags, err := Parse(data, FormatForPath(expanded))
	if err != nil {
		return nil, nil, fmt.Errorf("rules file %s: %w", expanded, err)
	}
	return defs, diags, nil
}

// LoadFiles concatenates the rules and diagnostics of several files in
// argument order.
func LoadFiles(paths ...string) ([]schemas.RuleDefinition, []schemas.Diagnostic, error) {
	var (
		all   []schemas.RuleDefinition
		diags []schemas.Diagnostic
	)
	for _, p := range paths {
		defs, fileDiags, err := LoadFile(p)
		if err != nil {
			return nil, nil, err
		}
		all = append(all, defs...)
		diags = append(diags, fileDiags...)
	}
	return all, diags, nil
}

// Parse decodes a rule document. Both a bare list of definitions and an
// object with a "rules" key are accepted. Only a malformed document is an
// error; each rule that fails to decode becomes a diagnostic. Definitions are
// not validated here; that happens when they are compiled with New.
func Parse(data []byte, format Format) ([]schemas.RuleDefinition, []schemas.Diagnostic, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil, nil
	}
	switch format {
	case FormatYAML:
		return parseYAML(trimmed)
	default:
		return parseJSON(trimmed)
	}
}

func parseJSON(data []byte) ([]schemas.RuleDefinition, []schemas.Diagnostic, error) {
	var items []encodingjson.RawMessage
	if data[0] == '[' {
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, nil, fmt.Errorf("failed to decode rule list: %w", err)
		}
	} else {
		var set struct {
			Rules []encodingjson.RawMessage `json:"rules"`
		}
		if err := json.Unmarshal(data, &set); err != nil {
			return nil, nil, fmt.Errorf("failed to decode rule set: %w", err)
		}
		items = set.Rules
	}
	defs, diags := schemas.DecodeRuleDefinitions(items)
	return defs, diags, nil
}

func parseYAML(data []byte) ([]schemas.RuleDefinition, []schemas.Diagnostic, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("failed to decode rules yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil, nil
	}
	var items []*yaml.Node
	root := doc.Content[0]
	if root.Kind == yaml.SequenceNode {
		items = root.Content
	} else {
		var set struct {
			Rules []yaml.Node `yaml:"rules"`
		}
		if err := root.Decode(&set); err != nil {
			return nil, nil, fmt.Errorf("failed to decode rule set: %w", err)
		}
		for i := range set.Rules {
			items = append(items, &set.Rules[i])
		}
	}

	defs := make([]schemas.RuleDefinition, 0, len(items))
	var diags []schemas.Diagnostic
	for i, item := range items {
		var def schemas.RuleDefinition
		if err := item.Decode(&def); err != nil {
			diags = append(diags, schemas.RuleDiagnostic(yamlRuleID(item), fmt.Errorf("rule #%d could not be decoded: %w", i, err)))
			continue
		}
		defs = append(defs, def)
	}
	return defs, diags, nil
}

// yamlRuleID recovers the id of a rule node that failed to decode.
func yamlRuleID(item *yaml.Node) string {
	var ref struct {
		ID string `yaml:"id"`
	}
	_ = item.Decode(&ref)
	return ref.ID
}
