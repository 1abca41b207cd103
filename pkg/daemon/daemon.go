// Package daemon wires the pieces cmd/mcpkitd and cmd/mcpkit's "run"
// and "sandbox exec" subcommands all need in the same order: resolve a
// bundle (local store or registry pull), validate and compile its
// policy layer, derive a capability descriptor, compile the wasm
// layer against a Runtime, and hand back a ready sandbox.Host. It is
// the one place that order is written down, rather than duplicated
// across cmd/ entrypoints the way the teacher's run.go and its
// container/state-store wiring would otherwise have to be.
package daemon

import (
	"context"

	"github.com/mcpkit/mcpkit/pkg/bundle"
	"github.com/mcpkit/mcpkit/pkg/capability"
	"github.com/mcpkit/mcpkit/pkg/errors"
	"github.com/mcpkit/mcpkit/pkg/match"
	"github.com/mcpkit/mcpkit/pkg/mcp"
	"github.com/mcpkit/mcpkit/pkg/ociclient"
	"github.com/mcpkit/mcpkit/pkg/policy"
	"github.com/mcpkit/mcpkit/pkg/policy/compiled"
	"github.com/mcpkit/mcpkit/pkg/sandbox"
	"github.com/mcpkit/mcpkit/pkg/sandbox/wazerort"
	"github.com/mcpkit/mcpkit/pkg/store"
)

// ResolveBundle returns the bundle ref identifies, preferring the
// local store and falling back to a registry pull (caching the result
// in the store for next time) when it isn't already cached.
func ResolveBundle(ctx context.Context, st *store.Store, client *ociclient.Client, ref *ociclient.Reference) (*bundle.Bundle, error) {
	if b, err := st.Get(ref); err == nil {
		return b, nil
	}

	manifest, fetch, err := client.Pull(ctx, ref)
	if err != nil {
		return nil, errors.Wrap(errors.ErrRegistryFatal, "failed to pull bundle", err).
			WithField("ref", ref.String())
	}
	b, err := bundle.Decode(manifest, fetch)
	if err != nil {
		return nil, err
	}
	if _, err := st.Put(ref, b); err != nil {
		return nil, errors.Wrap(errors.ErrIO, "failed to cache pulled bundle in local store", err)
	}
	return b, nil
}

// Session bundles a ready sandbox host with the runtime resources that
// must outlive it and be torn down in reverse order of construction.
type Session struct {
	Host    *sandbox.Host
	runtime *wazerort.Runtime
	module  sandbox.CompiledModule
}

// Close tears down the session's host, module, and runtime in that
// order, ignoring cleanup errors.
func (s *Session) Close(ctx context.Context) {
	if s.Host != nil {
		_ = s.Host.Destroy(ctx)
	}
	if s.module != nil {
		_ = s.module.Close(ctx)
	}
	if s.runtime != nil {
		_ = s.runtime.Close(ctx)
	}
}

// BuildSession validates and compiles policyYAML, compiles wasmBytes
// against a fresh wazero runtime, and instantiates a ready sandbox
// host, in the order spec.md §4 requires: parse, validate, compile
// policy, derive capabilities, compile wasm, instantiate.
func BuildSession(ctx context.Context, policyYAML, wasmBytes []byte, registry *policy.Registry, cacheDir string) (*Session, error) {
	doc, err := policy.Parse(policyYAML)
	if err != nil {
		return nil, err
	}
	model, _, err := policy.Validate(doc, registry)
	if err != nil {
		return nil, err
	}
	compiledPolicy, err := compiled.Compile(model)
	if err != nil {
		return nil, err
	}

	view, err := newModelPolicyView(model)
	if err != nil {
		return nil, err
	}
	rules := capability.RulesFromModel(model.StorageAllow)
	descriptor, err := capability.DescriptorFrom(view, rules, model.Resources, true)
	if err != nil {
		return nil, err
	}

	runtime, err := wazerort.New(ctx, cacheDir)
	if err != nil {
		return nil, err
	}
	module, err := runtime.Compile(ctx, wasmBytes)
	if err != nil {
		runtime.Close(ctx)
		return nil, err
	}

	host := sandbox.NewHost(compiledPolicy, descriptor, module)
	if err := host.Ready(ctx); err != nil {
		module.Close(ctx)
		runtime.Close(ctx)
		return nil, err
	}

	return &Session{Host: host, runtime: runtime, module: module}, nil
}

// BuildSessionFromBundle is BuildSession with the policy and wasm
// layers taken from an already-decoded bundle, the path mcpkitd and
// "mcpkit run" both take.
func BuildSessionFromBundle(ctx context.Context, b *bundle.Bundle, cacheDir string) (*Session, error) {
	return BuildSession(ctx, b.ConfigYAML, b.WasmBytes, mcp.Registry(), cacheDir)
}

// modelPolicyView adapts a validated policy.Model to
// capability.PolicyView. It is deliberately narrower than the
// compiled decision engine: it answers "does this policy grant any
// network access at all" and "is this env var named in the allow
// list", both needed only once, at capability-descriptor construction
// time, before a compiled.Policy even exists.
type modelPolicyView struct {
	hasNetwork bool
	envAllow   *match.Aggregate
}

func newModelPolicyView(model *policy.Model) (modelPolicyView, error) {
	patterns := make([]string, len(model.EnvAllow))
	for i, rule := range model.EnvAllow {
		patterns[i] = rule.Pattern
	}
	aggregate, err := match.NewAggregate(patterns)
	if err != nil {
		return modelPolicyView{}, errors.Wrap(errors.ErrPolicyValidate, "invalid env allow pattern", err)
	}
	return modelPolicyView{hasNetwork: len(model.NetworkAllow) > 0, envAllow: aggregate}, nil
}

func (v modelPolicyView) HasNetworkAllow() bool { return v.hasNetwork }

func (v modelPolicyView) AllowedEnv(key string) bool { return v.envAllow.MatchAny(key) }
