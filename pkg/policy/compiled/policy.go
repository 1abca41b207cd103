// Package compiled derives O(1)/O(log n) decision structures from a
// validated policy.Model: exact-match tables, pattern aggregates, a
// bloom filter fronting the network host table, a storage path trie,
// and a per-rule rate limiter.
package compiled

import (
	"net"
	"strconv"
	"strings"

	stderrors "errors"

	"github.com/mcpkit/mcpkit/pkg/errors"
	"github.com/mcpkit/mcpkit/pkg/match"
	"github.com/mcpkit/mcpkit/pkg/policy"
	"github.com/mcpkit/mcpkit/pkg/policy/ratelimit"
	"github.com/mcpkit/mcpkit/pkg/policy/trie"
)

// ToolDecider is implemented by a compiled "mcp.tools" extension value.
// pkg/policy/compiled never imports the mcp extension package directly;
// it recognizes this interface structurally on whatever value the
// extension registry produced for the "mcp.tools" identifier. Absent a
// value satisfying this interface, AllowedTool denies every call, per
// invariant I5 (empty/absent allow lists deny by default).
type ToolDecider interface {
	AllowedTool(name string) (allowed bool, limiter *ratelimit.Limiter)
}

type networkRule struct {
	cidr      *match.CIDR
	glob      *match.Glob
	ports     map[int]bool
	protocols map[string]bool
}

// Policy is an immutable, decision-optimized compiled policy (I2: a
// compiled policy is immutable after construction; mutation produces a
// new value via a fresh Compile call).
type Policy struct {
	storageAllow *trie.Trie[AccessBits]
	storageDeny  *trie.Trie[bool]

	networkExactAllow map[string]networkRule
	networkExactDeny  map[string]networkRule
	networkCIDRAllow  []networkRule
	networkCIDRDeny   []networkRule
	networkGlobAllow  []networkRule
	networkGlobDeny   []networkRule
	networkBloom      *bloomFilter

	envAllow *match.Aggregate
	envDeny  *match.Aggregate

	resources policy.ResourceLimits

	tools ToolDecider

	extensions map[string]interface{}
}

// Compile produces a compiled policy from a validated model. Compile is
// a pure function: compile(parse(doc)) is equal for identical doc
// (spec.md §8 round-trip law).
func Compile(model *policy.Model) (*Policy, error) {
	if model == nil {
		return nil, errors.New(errors.ErrInternal, "cannot compile a nil policy model")
	}

	p := &Policy{
		storageAllow:      trie.New[AccessBits](),
		storageDeny:       trie.New[bool](),
		networkExactAllow: make(map[string]networkRule),
		networkExactDeny:  make(map[string]networkRule),
		resources:         model.Resources,
		extensions:        model.Extensions,
	}

	for _, r := range model.StorageAllow {
		p.storageAllow.Insert(r.Pattern, accessBitsFromSet(r.Access))
	}
	for _, r := range model.StorageDeny {
		p.storageDeny.Insert(r.Pattern, true)
	}

	exactHosts := make([]string, 0, len(model.NetworkAllow)+len(model.NetworkDeny))
	for _, r := range model.NetworkAllow {
		nr, kind, err := compileNetworkRule(r)
		if err != nil {
			return nil, err
		}
		switch kind {
		case networkKindCIDRRange:
			p.networkCIDRAllow = append(p.networkCIDRAllow, nr)
		case networkKindGlob:
			p.networkGlobAllow = append(p.networkGlobAllow, nr)
		default:
			p.networkExactAllow[r.Pattern] = nr
			exactHosts = append(exactHosts, r.Pattern)
		}
	}
	for _, r := range model.NetworkDeny {
		nr, kind, err := compileNetworkRule(r)
		if err != nil {
			return nil, err
		}
		switch kind {
		case networkKindCIDRRange:
			p.networkCIDRDeny = append(p.networkCIDRDeny, nr)
		case networkKindGlob:
			p.networkGlobDeny = append(p.networkGlobDeny, nr)
		default:
			p.networkExactDeny[r.Pattern] = nr
		}
	}
	p.networkBloom = newBloomFilter(len(exactHosts), 0.01)
	for _, h := range exactHosts {
		p.networkBloom.Add(h)
	}

	envAllowPatterns := make([]string, 0, len(model.EnvAllow))
	for _, r := range model.EnvAllow {
		envAllowPatterns = append(envAllowPatterns, r.Pattern)
	}
	envDenyPatterns := make([]string, 0, len(model.EnvDeny))
	for _, r := range model.EnvDeny {
		envDenyPatterns = append(envDenyPatterns, r.Pattern)
	}
	var err error
	if p.envAllow, err = match.NewAggregate(envAllowPatterns); err != nil {
		return nil, err
	}
	if p.envDeny, err = match.NewAggregate(envDenyPatterns); err != nil {
		return nil, err
	}

	if td, ok := model.Extensions["mcp.tools"].(ToolDecider); ok {
		p.tools = td
	}

	return p, nil
}

type networkKind int

const (
	networkKindExact networkKind = iota
	networkKindCIDRRange
	networkKindGlob
)

// compileNetworkRule recompiles a validated network pattern and
// classifies it: an exact IP host (/32 or /128) and a bare hostname
// with no glob syntax both resolve to an exact-match table entry; a
// CIDR with more than one address goes to the CIDR list; a hostname
// pattern containing glob syntax (e.g. "*.example.com") goes to the
// glob list.
func compileNetworkRule(r policy.NetworkRule) (networkRule, networkKind, error) {
	nr := networkRule{}
	if len(r.Ports) > 0 {
		nr.ports = make(map[int]bool, len(r.Ports))
		for _, port := range r.Ports {
			nr.ports[port] = true
		}
	}
	if len(r.Protocols) > 0 {
		nr.protocols = make(map[string]bool, len(r.Protocols))
		for _, proto := range r.Protocols {
			nr.protocols[strings.ToLower(proto)] = true
		}
	}

	if r.IsCIDR {
		cidr, err := match.CompileCIDR(r.Pattern)
		if err != nil {
			return networkRule{}, 0, errors.Wrap(errors.ErrInternal, "network rule failed to recompile during Compile", err)
		}
		nr.cidr = cidr
		if cidrIsSingleHost(cidr) {
			return nr, networkKindExact, nil
		}
		return nr, networkKindCIDRRange, nil
	}

	if !strings.ContainsAny(r.Pattern, `*[\`) {
		return nr, networkKindExact, nil
	}

	glob, err := match.CompileGlob(r.Pattern)
	if err != nil {
		return networkRule{}, 0, errors.Wrap(errors.ErrInternal, "network hostname pattern failed to recompile during Compile", err)
	}
	nr.glob = glob
	return nr, networkKindGlob, nil
}

// cidrIsSingleHost reports whether the CIDR prefix covers exactly one
// address (a /32 for IPv4 or /128 for IPv6).
func cidrIsSingleHost(c *match.CIDR) bool {
	return strings.HasSuffix(c.String(), "/32") || strings.HasSuffix(c.String(), "/128") || !strings.Contains(c.String(), "/")
}

// AllowedStorage reports whether access to canonicalPath under the
// requested access bits is permitted. Deny rules dominate allow rules
// (invariant I1): if any deny rule matches along the path, the result
// is deny regardless of the allow trie.
func (p *Policy) AllowedStorage(cache *ThreadCache, canonicalPath string, access AccessBits) bool {
	key := hashAction("storage", canonicalPath, access)
	if cache != nil {
		if v, ok := cache.Get(key); ok {
			return v
		}
	}
	result := p.decideStorage(canonicalPath, access)
	if cache != nil {
		cache.Put(key, result)
	}
	return result
}

func (p *Policy) decideStorage(canonicalPath string, access AccessBits) bool {
	if _, denied := p.storageDeny.Decide(canonicalPath); denied {
		return false
	}
	granted, ok := p.storageAllow.Decide(canonicalPath)
	if !ok {
		return false
	}
	return granted.Has(access)
}

// AllowedNetwork reports whether a connection to host:port over
// protocol is permitted. The bloom filter fronts the exact-host table
// for a fast negative on hosts never granted.
func (p *Policy) AllowedNetwork(cache *ThreadCache, host string, port int, protocol string) bool {
	key := hashAction("network", host, port, protocol)
	if cache != nil {
		if v, ok := cache.Get(key); ok {
			return v
		}
	}
	result := p.decideNetwork(host, port, protocol)
	if cache != nil {
		cache.Put(key, result)
	}
	return result
}

func (p *Policy) decideNetwork(host string, port int, protocol string) bool {
	proto := strings.ToLower(protocol)

	if rule, ok := p.networkExactDeny[host]; ok && ruleMatchesPortProto(rule, port, proto) {
		return false
	}
	for _, rule := range p.networkCIDRDeny {
		if rule.cidr.Match(host) && ruleMatchesPortProto(rule, port, proto) {
			return false
		}
	}
	for _, rule := range p.networkGlobDeny {
		if rule.glob.Match(host) && ruleMatchesPortProto(rule, port, proto) {
			return false
		}
	}

	for _, rule := range p.networkGlobAllow {
		if rule.glob.Match(host) && ruleMatchesPortProto(rule, port, proto) {
			return true
		}
	}
	for _, rule := range p.networkCIDRAllow {
		if rule.cidr.Match(host) && ruleMatchesPortProto(rule, port, proto) {
			return true
		}
	}

	// The bloom filter only fronts the exact-host table; CIDR and glob
	// rules above are checked unconditionally since they cannot be
	// membership-tested by the filter.
	if !p.networkBloom.Test(host) {
		return false
	}
	if rule, ok := p.networkExactAllow[host]; ok && ruleMatchesPortProto(rule, port, proto) {
		return true
	}
	return false
}

func ruleMatchesPortProto(rule networkRule, port int, protocol string) bool {
	if rule.ports != nil && !rule.ports[port] {
		return false
	}
	if rule.protocols != nil && !rule.protocols[protocol] {
		return false
	}
	return true
}

// AllowedEnv reports whether an environment variable named key may be
// projected into the sandbox.
func (p *Policy) AllowedEnv(cache *ThreadCache, key string) bool {
	cacheKey := hashAction("env", key)
	if cache != nil {
		if v, ok := cache.Get(cacheKey); ok {
			return v
		}
	}
	result := p.envAllow.MatchAny(key) && !p.envDeny.MatchAny(key)
	if cache != nil {
		cache.Put(cacheKey, result)
	}
	return result
}

// AllowedTool reports whether a tool invocation named name is
// permitted, returning the rate-limit handle to advance on allow. With
// no "mcp.tools" extension registered, every tool call is denied.
func (p *Policy) AllowedTool(name string) (bool, *ratelimit.Limiter) {
	if p.tools == nil {
		return false, nil
	}
	return p.tools.AllowedTool(name)
}

// ResourceLimits returns the (cpu, memory, execution_time, fuel) tuple.
func (p *Policy) ResourceLimits() policy.ResourceLimits {
	return p.resources
}

// Extension returns the compiled value a registered extension produced
// for identifier, e.g. "mcp.prompts" or "mcp.resources". Unlike
// AllowedTool (which "mcp.tools" gets a dedicated, cached path for,
// since every sandboxed tool call consults it), other extensions have
// no bespoke predicate on Policy and are looked up by identifier
// instead; callers type-assert the value against whatever interface
// their extension package defines.
func (p *Policy) Extension(identifier string) (interface{}, bool) {
	v, ok := p.extensions[identifier]
	return v, ok
}

// CanonicalizeStoragePath strips an "fs://" prefix and lexically
// cleans "."/".." components, per invariant I4. Symlinks are not
// resolved, neither here nor by the callers in pkg/sandbox; the result
// is purely textual.
func CanonicalizeStoragePath(raw string) string {
	p := strings.TrimPrefix(raw, "fs://")
	if !strings.HasPrefix(p, "/") {
		return p
	}
	segs := strings.Split(p, "/")
	var out []string
	for _, seg := range segs {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, seg)
		}
	}
	return "/" + strings.Join(out, "/")
}

// ParsePort is a small helper shared by callers translating a transport
// address into the (host, port) pair AllowedNetwork expects.
func ParsePort(hostport string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", 0, errors.Wrap(errors.ErrInvalidArgument, "malformed host:port", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, errors.Wrap(errors.ErrInvalidArgument, "malformed port", err)
	}
	return host, port, nil
}

var errInternalPattern = stderrors.New("internal_pattern_error")

// ErrInternalPattern is returned by decision paths only on a
// previously-unseen compilation bug; callers must treat it as deny, per
// spec.md §4.3's failure mode.
func ErrInternalPattern() error { return errInternalPattern }
