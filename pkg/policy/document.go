// Package policy parses and validates the declarative permission document
// that governs a sandboxed WASM invocation.
package policy

import (
	"gopkg.in/yaml.v3"

	"github.com/mcpkit/mcpkit/pkg/errors"
)

// SupportedVersion is the only policy document version this release
// accepts.
const SupportedVersion = "1.0"

// Rule is the raw, unvalidated shape of one allow or deny entry. Not
// every field is meaningful for every group; the group determines which
// fields are read during validation.
type Rule struct {
	URI                string   `yaml:"uri,omitempty"`
	Host                string   `yaml:"host,omitempty"`
	Key                 string   `yaml:"key,omitempty"`
	Name                string   `yaml:"name,omitempty"`
	Access              []string `yaml:"access,omitempty"`
	Ports               []int    `yaml:"ports,omitempty"`
	Protocols           []string `yaml:"protocols,omitempty"`
	MaxCallsPerMinute   int      `yaml:"max_calls_per_minute,omitempty"`
	RequireConfirmation bool     `yaml:"require_confirmation,omitempty"`
}

// RuleGroup is the allow/deny pair shared by every permission group.
type RuleGroup struct {
	Allow []Rule `yaml:"allow,omitempty"`
	Deny  []Rule `yaml:"deny,omitempty"`
}

// Resources carries resource limits. There is no allow/deny split: these
// are ceilings, not rules.
type Resources struct {
	CPU           string `yaml:"cpu,omitempty"`
	Memory        string `yaml:"memory,omitempty"`
	ExecutionTime string `yaml:"execution_time,omitempty"`
	Fuel          int64  `yaml:"fuel,omitempty"`
}

// Core holds the four built-in permission groups.
type Core struct {
	Storage     RuleGroup `yaml:"storage,omitempty"`
	Network     RuleGroup `yaml:"network,omitempty"`
	Environment RuleGroup `yaml:"environment,omitempty"`
	Resources   Resources `yaml:"resources,omitempty"`
}

// Document is the parsed, unvalidated policy tree. Extension subtrees
// are kept as raw YAML nodes so each extension can parse its own shape
// during Validate.
type Document struct {
	Version     string                  `yaml:"version"`
	Description string                  `yaml:"description,omitempty"`
	Core        Core                    `yaml:"core,omitempty"`
	Extensions  map[string]yaml.Node    `yaml:"-"`

	raw map[string]yaml.Node
}

// Parse decodes a YAML policy document. Unrecognized top-level keys
// (anything other than version/description/core) are collected as
// extension subtrees and resolved during Validate.
func Parse(data []byte) (*Document, error) {
	var root map[string]yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errors.Wrap(errors.ErrPolicyParse, "malformed policy document", err)
	}

	doc := &Document{Extensions: make(map[string]yaml.Node), raw: root}

	if v, ok := root["version"]; ok {
		if err := v.Decode(&doc.Version); err != nil {
			return nil, errors.Wrap(errors.ErrPolicyParse, "version must be a string", err).WithPath("version")
		}
	}
	if d, ok := root["description"]; ok {
		_ = d.Decode(&doc.Description)
	}
	if c, ok := root["core"]; ok {
		if err := c.Decode(&doc.Core); err != nil {
			return nil, errors.Wrap(errors.ErrPolicyParse, "malformed core section", err).WithPath("core")
		}
	}

	for key, node := range root {
		switch key {
		case "version", "description", "core":
			continue
		default:
			doc.Extensions[key] = node
		}
	}

	return doc, nil
}
