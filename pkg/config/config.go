// Package config loads the top-level configuration document
// cmd/mcpkitd reads at startup: server/transport/runtime settings plus
// an embedded policy subtree. Every string scalar is interpolated
// against the process environment before the document is decoded into
// typed structs, generalizing the `${VAR}` substitution already used
// by pkg/ociclient's credential sources to also support a
// `${VAR:-default}` fallback form. Struct shape (nested pointer
// sub-structs, one type per concern) follows the teacher's
// pkg/runtime.Spec/Root/Process/Linux decomposition.
package config

import (
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/mcpkit/mcpkit/pkg/errors"
)

// SupportedVersion is the only configuration document version this
// release accepts.
const SupportedVersion = "1.0"

// Metadata carries free-form identification fields, not interpreted
// by mcpkitd itself.
type Metadata struct {
	Name        string            `yaml:"name,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty"`
	Description string            `yaml:"description,omitempty"`
}

// Server configures the daemon's listening socket.
type Server struct {
	Address        string `yaml:"address,omitempty"`
	ShutdownGrace  string `yaml:"shutdown_grace,omitempty"`
}

// Transport selects and configures the MCP wire transport.
type Transport struct {
	Kind string `yaml:"kind,omitempty"` // "stdio" or "http"
	HTTP *HTTPTransport `yaml:"http,omitempty"`
}

// HTTPTransport configures the HTTP MCP transport.
type HTTPTransport struct {
	Path string `yaml:"path,omitempty"`
}

// Runtime selects and configures the WASM runtime backend.
type Runtime struct {
	Backend        string `yaml:"backend,omitempty"` // "wazero"
	CompilationCache string `yaml:"compilation_cache,omitempty"`
}

// MCP carries MCP-protocol-level defaults, consumed by the mcp.*
// policy extensions rather than by pkg/config itself.
type MCP struct {
	ProtocolVersion string `yaml:"protocol_version,omitempty"`
}

// Document is the parsed, environment-interpolated configuration
// tree. PolicyYAML holds the "policy" subtree's raw bytes,
// re-encoded so callers can hand it straight to policy.Parse without
// pkg/config needing to import pkg/policy.
type Document struct {
	Version   string    `yaml:"version"`
	Metadata  Metadata  `yaml:"metadata,omitempty"`
	Server    Server    `yaml:"server,omitempty"`
	Transport Transport `yaml:"transport,omitempty"`
	Runtime   Runtime   `yaml:"runtime,omitempty"`
	MCP       MCP       `yaml:"mcp,omitempty"`

	PolicyYAML []byte `yaml:"-"`
}

// Load parses a configuration document from data, interpolating every
// string scalar against the process environment before decoding.
func Load(data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "malformed configuration document", err)
	}

	if err := interpolateNode(&root); err != nil {
		return nil, err
	}

	var doc Document
	if err := root.Decode(&doc); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "failed to decode configuration document", err)
	}

	policyNode, err := findMappingValue(&root, "policy")
	if err != nil {
		return nil, err
	}
	if policyNode != nil {
		policyYAML, err := yaml.Marshal(policyNode)
		if err != nil {
			return nil, errors.Wrap(errors.ErrInvalidConfig, "failed to re-encode policy subtree", err)
		}
		doc.PolicyYAML = policyYAML
	}

	return &doc, nil
}

// LoadFile reads and parses the configuration document at path.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrIO, "failed to read configuration file", err).WithField("path", path)
	}
	doc, err := Load(data)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// findMappingValue returns the value node for key in root's top-level
// mapping, or nil if the document has no such key.
func findMappingValue(root *yaml.Node, key string) (*yaml.Node, error) {
	if len(root.Content) == 0 {
		return nil, nil
	}
	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, errors.New(errors.ErrInvalidConfig, "configuration document must be a mapping")
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1], nil
		}
	}
	return nil, nil
}

// interpolationPattern matches "${VAR}" and "${VAR:-default}"
// placeholders within a scalar string.
var interpolationPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// interpolateNode walks every node in the document tree, replacing
// environment placeholders in scalar string values in place.
func interpolateNode(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!str" {
		expanded, err := interpolateString(node.Value)
		if err != nil {
			return err
		}
		node.Value = expanded
		return nil
	}
	for _, child := range node.Content {
		if err := interpolateNode(child); err != nil {
			return err
		}
	}
	return nil
}

func interpolateString(s string) (string, error) {
	var missing string
	expanded := interpolationPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := interpolationPattern.FindStringSubmatch(match)
		name, hasDefault, def := groups[1], groups[2] != "", groups[3]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasDefault {
			return def
		}
		missing = name
		return ""
	})
	if missing != "" {
		return "", errors.New(errors.ErrInvalidConfig, "environment variable referenced in configuration is not set").
			WithField("variable", missing)
	}
	return expanded, nil
}
