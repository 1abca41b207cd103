// Package mcp is the thin JSON-RPC 2.0 collaborator that sits between
// a transport (stdio or HTTP) and a sandbox.Host: it decodes requests,
// dispatches tool/prompt/resource calls through the host's gated
// trampolines, and registers the "mcp.tools"/"mcp.prompts"/
// "mcp.resources"/"mcp.transport" policy extensions those calls are
// checked against. It is glue, not core: pkg/sandbox and
// pkg/policy/compiled know nothing about this package.
package mcp

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/mcpkit/mcpkit/pkg/errors"
	"github.com/mcpkit/mcpkit/pkg/match"
	"github.com/mcpkit/mcpkit/pkg/policy"
	"github.com/mcpkit/mcpkit/pkg/policy/ratelimit"
)

// ToolRule is one entry in the "mcp.tools" subtree's allow list.
type ToolRule struct {
	Name              string `yaml:"name"`
	MaxCallsPerMinute int64  `yaml:"max_calls_per_minute,omitempty"`
}

// toolsDocument is the "mcp.tools" subtree's raw shape.
type toolsDocument struct {
	Allow []ToolRule `yaml:"allow,omitempty"`
}

// compiledTools implements compiled.ToolDecider structurally: it has
// an AllowedTool(name string) (bool, *ratelimit.Limiter) method, which
// is all pkg/policy/compiled looks for on the "mcp.tools" extension
// value. No import of pkg/policy/compiled is needed here or there.
type compiledTools struct {
	limiters map[string]*ratelimit.Limiter // tool name -> limiter, nil entry means unlimited
}

// AllowedTool reports whether name is in the compiled allow list,
// returning its rate-limit handle (nil if the rule set no limit).
func (c *compiledTools) AllowedTool(name string) (bool, *ratelimit.Limiter) {
	limiter, ok := c.limiters[name]
	if !ok {
		return false, nil
	}
	return true, limiter
}

// names returns every allow-listed tool name, for tools/list.
func (c *compiledTools) names() []string {
	out := make([]string, 0, len(c.limiters))
	for name := range c.limiters {
		out = append(out, name)
	}
	return out
}

// toolsExtension registers the "mcp.tools" identifier.
type toolsExtension struct{}

// NewToolsExtension returns the policy.Extension handling the
// "mcp.tools" subtree: a named allow list with optional per-tool
// rate limits.
func NewToolsExtension() policy.Extension { return toolsExtension{} }

func (toolsExtension) Identifier() string { return "mcp.tools" }

func (toolsExtension) ParseSubtree(node yaml.Node) (interface{}, error) {
	var doc toolsDocument
	if err := node.Decode(&doc); err != nil {
		return nil, errors.Wrap(errors.ErrPolicyValidate, "malformed mcp.tools subtree", err)
	}
	for i, rule := range doc.Allow {
		if rule.Name == "" {
			return nil, errors.New(errors.ErrPolicyValidate, "mcp.tools allow rule missing name").
				WithPath(fmt.Sprintf("mcp.tools.allow[%d]", i))
		}
	}
	return doc, nil
}

func (toolsExtension) CompileSubtree(parsed interface{}) (interface{}, error) {
	doc, ok := parsed.(toolsDocument)
	if !ok {
		return nil, errors.New(errors.ErrInternal, "mcp.tools CompileSubtree received an unexpected value type")
	}
	compiled := &compiledTools{limiters: make(map[string]*ratelimit.Limiter, len(doc.Allow))}
	for _, rule := range doc.Allow {
		if rule.MaxCallsPerMinute > 0 {
			compiled.limiters[rule.Name] = ratelimit.NewLimiter(rule.MaxCallsPerMinute)
		} else {
			compiled.limiters[rule.Name] = nil
		}
	}
	return compiled, nil
}

// NamedResourceRule is one entry in the "mcp.prompts"/"mcp.resources"
// subtree's allow list: a glob pattern over a prompt or resource URI.
type NamedResourceRule struct {
	URI string `yaml:"uri"`
}

type namedResourceDocument struct {
	Allow []NamedResourceRule `yaml:"allow,omitempty"`
}

// compiledNamedResources backs both "mcp.prompts" and "mcp.resources":
// a single aggregate of allow patterns, consulted by Dispatch through
// Policy.Extension rather than through a dedicated compiled.Policy
// method (only tool invocation is hot enough to deserve one).
type compiledNamedResources struct {
	allow    *match.Aggregate
	patterns []string
}

// Allowed reports whether uri matches the compiled allow list.
func (c *compiledNamedResources) Allowed(uri string) bool {
	return c.allow.MatchAny(uri)
}

// names returns every allow-listed pattern, for prompts/list and
// resources/list. Listing the declared patterns rather than a
// guest-reported name set keeps mcp.prompts/mcp.resources usable
// before any bundle is actually running.
func (c *compiledNamedResources) names() []string {
	return c.patterns
}

type namedResourceExtension struct {
	identifier string
}

// NewPromptsExtension returns the policy.Extension handling the
// "mcp.prompts" subtree.
func NewPromptsExtension() policy.Extension { return namedResourceExtension{identifier: "mcp.prompts"} }

// NewResourcesExtension returns the policy.Extension handling the
// "mcp.resources" subtree.
func NewResourcesExtension() policy.Extension {
	return namedResourceExtension{identifier: "mcp.resources"}
}

func (e namedResourceExtension) Identifier() string { return e.identifier }

func (e namedResourceExtension) ParseSubtree(node yaml.Node) (interface{}, error) {
	var doc namedResourceDocument
	if err := node.Decode(&doc); err != nil {
		return nil, errors.Wrap(errors.ErrPolicyValidate, "malformed "+e.identifier+" subtree", err)
	}
	for i, rule := range doc.Allow {
		if rule.URI == "" {
			return nil, errors.New(errors.ErrPolicyValidate, e.identifier+" allow rule missing uri").
				WithPath(fmt.Sprintf("%s.allow[%d]", e.identifier, i))
		}
	}
	return doc, nil
}

func (e namedResourceExtension) CompileSubtree(parsed interface{}) (interface{}, error) {
	doc, ok := parsed.(namedResourceDocument)
	if !ok {
		return nil, errors.New(errors.ErrInternal, e.identifier+" CompileSubtree received an unexpected value type")
	}
	patterns := make([]string, len(doc.Allow))
	for i, rule := range doc.Allow {
		patterns[i] = rule.URI
	}
	aggregate, err := match.NewAggregate(patterns)
	if err != nil {
		return nil, errors.Wrap(errors.ErrPolicyValidate, "invalid "+e.identifier+" pattern", err)
	}
	return &compiledNamedResources{allow: aggregate, patterns: patterns}, nil
}

// transportDocument is the "mcp.transport" subtree's raw shape: which
// transport kinds a bundle may be served over.
type transportDocument struct {
	Allow []string `yaml:"allow,omitempty"`
}

// compiledTransport reports whether a transport kind ("stdio", "http")
// is permitted for this policy.
type compiledTransport struct {
	allowed map[string]bool
}

// Allowed reports whether kind is permitted. An empty allow list
// permits every kind, since transport selection is an operational
// concern pkg/config already owns; "mcp.transport" only narrows it
// when a bundle author opts in.
func (c *compiledTransport) Allowed(kind string) bool {
	if len(c.allowed) == 0 {
		return true
	}
	return c.allowed[kind]
}

type transportExtension struct{}

// NewTransportExtension returns the policy.Extension handling the
// "mcp.transport" subtree.
func NewTransportExtension() policy.Extension { return transportExtension{} }

func (transportExtension) Identifier() string { return "mcp.transport" }

func (transportExtension) ParseSubtree(node yaml.Node) (interface{}, error) {
	var doc transportDocument
	if err := node.Decode(&doc); err != nil {
		return nil, errors.Wrap(errors.ErrPolicyValidate, "malformed mcp.transport subtree", err)
	}
	return doc, nil
}

func (transportExtension) CompileSubtree(parsed interface{}) (interface{}, error) {
	doc, ok := parsed.(transportDocument)
	if !ok {
		return nil, errors.New(errors.ErrInternal, "mcp.transport CompileSubtree received an unexpected value type")
	}
	allowed := make(map[string]bool, len(doc.Allow))
	for _, kind := range doc.Allow {
		allowed[kind] = true
	}
	return &compiledTransport{allowed: allowed}, nil
}

// Registry builds a policy.Registry with every built-in mcp.*
// extension registered, for callers that don't need to customize the
// set.
func Registry() *policy.Registry {
	r := policy.NewRegistry()
	for _, ext := range []policy.Extension{
		NewToolsExtension(),
		NewPromptsExtension(),
		NewResourcesExtension(),
		NewTransportExtension(),
	} {
		if err := r.Register(ext); err != nil {
			panic(err) // identifiers are fixed and distinct; registration cannot fail
		}
	}
	return r
}
