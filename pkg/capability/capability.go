// Package capability translates a compiled policy into concrete,
// runtime-facing capability descriptors: preopened directories, a
// socket allow-list, a projected environment map, and a resource
// budget. It repurposes the teacher's capability-bitset-plus-Config
// vocabulary for WASM guests instead of Linux process capabilities.
package capability

import (
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mcpkit/mcpkit/pkg/policy"
	"github.com/mcpkit/mcpkit/pkg/policy/compiled"
)

// Preopen describes a directory the sandbox host exposes to the guest
// at construction time, along with the permission bitset that governs
// both the directory itself and any file opened beneath it.
type Preopen struct {
	HostPath  string
	GuestPath string
	DirBits   compiled.AccessBits
	FileBits  compiled.AccessBits
	ReadOnly  bool
}

// NetworkDescriptor is the socket allow-list derived from a compiled
// policy's network rules: the sandbox host consults the compiled
// policy directly for decisions, but the descriptor carries the
// summary used to configure the runtime's socket layer (e.g. whether
// any outbound connectivity is granted at all).
type NetworkDescriptor struct {
	Enabled bool
}

// EnvDescriptor is the process environment projected through a
// policy's environment allow/deny lists, computed once at sandbox
// construction rather than on every host call.
type EnvDescriptor struct {
	Vars map[string]string
}

// ResourceDescriptor is the resource budget handed to the WASM
// runtime, adapted from the teacher's cgroup.Config{MemoryLimit,
// CPUShares, PIDLimit} field grouping: same shape, WASM-native units.
// There is no cgroup filesystem write here, since fuel and memory
// accounting happen inside the WASM runtime rather than the kernel.
type ResourceDescriptor struct {
	Fuel        int64
	MemoryPages uint32
	Deadline    time.Duration
}

const wasmPageSize = 64 * 1024

// scratchDirPrefix names the fallback scratch directory created when a
// policy grants no storage but the execution mode needs a writable
// directory (e.g. a WASI temp directory for libc shims).
const scratchDirPrefix = "mcpkit-scratch-"

// Descriptor bundles every capability projection derived from one
// compiled policy, computed once and held immutable for the lifetime
// of a sandbox instance.
type Descriptor struct {
	Preopens    []Preopen
	Network     NetworkDescriptor
	Env         EnvDescriptor
	Resources   ResourceDescriptor
	ScratchPath string
}

// storageAllow is the minimal view of a compiled policy's storage
// allow rules this package needs; kept narrow to avoid a dependency
// cycle back into pkg/policy/compiled beyond the exported predicate.
type storageAllow struct {
	path string
	bits compiled.AccessBits
}

// DescriptorFrom builds a full capability descriptor from a compiled
// policy and its originating storage-allow list. needsScratch
// indicates whether the execution mode requires a writable directory
// when the policy grants none (e.g. libc scratch space).
func DescriptorFrom(policyHandle PolicyView, allows []StorageAllowRule, resources policy.ResourceLimits, needsScratch bool) (*Descriptor, error) {
	preopens, err := derivePreopens(allows)
	if err != nil {
		return nil, err
	}

	scratch := ""
	if len(preopens) == 0 && needsScratch {
		dir, err := os.MkdirTemp("", scratchDirPrefix)
		if err != nil {
			return nil, err
		}
		scratch = dir
		preopens = append(preopens, Preopen{
			HostPath:  dir,
			GuestPath: dir,
			DirBits:   compiled.AccessRead | compiled.AccessWrite | compiled.AccessCreate | compiled.AccessDelete,
			FileBits:  compiled.AccessRead | compiled.AccessWrite | compiled.AccessCreate | compiled.AccessDelete,
		})
	}

	return &Descriptor{
		Preopens: preopens,
		Network:  NetworkDescriptor{Enabled: policyHandle.HasNetworkAllow()},
		Env:      EnvDescriptor{Vars: ProjectEnv(os.Environ(), policyHandle)},
		Resources: ResourceDescriptor{
			Fuel:        resources.Fuel,
			MemoryPages: memoryPagesFromBytes(resources.MemoryBytes),
			Deadline:    resources.ExecutionTime,
		},
		ScratchPath: scratch,
	}, nil
}

func memoryPagesFromBytes(n int64) uint32 {
	if n <= 0 {
		return 0
	}
	pages := n / wasmPageSize
	if n%wasmPageSize != 0 {
		pages++
	}
	return uint32(pages)
}

// StorageAllowRule is the narrow shape of one storage allow rule
// needed to derive preopens: the canonicalized path pattern (already
// stripped of glob wildcards down to its directory root by the
// caller) and the aggregate access bits granted there.
type StorageAllowRule struct {
	Root string
	Bits compiled.AccessBits
}

// PolicyView is the narrow slice of a compiled policy's predicates
// this package consults, kept as an interface so pkg/capability never
// imports pkg/policy/compiled's full surface and stays independently
// testable against a stub.
type PolicyView interface {
	HasNetworkAllow() bool
	AllowedEnv(key string) bool
}

// ProjectEnv filters a raw environment slice ("KEY=VALUE" entries)
// through a policy's environment predicate, producing the map the
// sandbox host exposes to the guest. The projection happens once, at
// construction, per spec.
func ProjectEnv(environ []string, view PolicyView) map[string]string {
	out := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if view.AllowedEnv(key) {
			out[key] = value
		}
	}
	return out
}

// RulesFromModel projects a validated policy model's storage allow
// rules into preopen-derivation input, collapsing each pattern down
// to the directory it roots at — mirroring the reglet wasm-plugin
// example's extractMountPath idiom of mounting a file's parent
// directory and a wildcard pattern's literal prefix, rather than the
// pattern string itself.
func RulesFromModel(allow []policy.StorageRule) []StorageAllowRule {
	rules := make([]StorageAllowRule, 0, len(allow))
	for _, r := range allow {
		root := directoryRoot(compiled.CanonicalizeStoragePath(r.Pattern))
		if root == "" {
			continue
		}
		rules = append(rules, StorageAllowRule{Root: root, Bits: accessBitsFromSet(r.Access)})
	}
	return rules
}

// accessBitsFromSet is a local copy of the compiled package's
// unexported set-to-bitset projection; duplicated rather than
// exported across the package boundary since the two packages model
// slightly different inputs (pkg/policy.Access vs. already-compiled
// bits).
func accessBitsFromSet(set map[policy.Access]bool) compiled.AccessBits {
	var bits compiled.AccessBits
	if set[policy.AccessRead] {
		bits |= compiled.AccessRead
	}
	if set[policy.AccessWrite] {
		bits |= compiled.AccessWrite | compiled.AccessCreate | compiled.AccessDelete
	}
	if set[policy.AccessCreate] {
		bits |= compiled.AccessCreate
	}
	if set[policy.AccessDelete] {
		bits |= compiled.AccessDelete
	}
	if set[policy.AccessExecute] {
		bits |= compiled.AccessExecute | compiled.AccessRead
	}
	return bits
}

// directoryRoot collapses a canonicalized storage pattern down to the
// directory it should be preopened at: a trailing "/**" or "/*"
// segment is stripped to its parent, and a literal file path is
// rooted at its containing directory, matching extractMountPath's
// rules for wasm-plugin filesystem mounts.
func directoryRoot(pattern string) string {
	if pattern == "" {
		return ""
	}
	if pattern == "/**" || pattern == "/*" || pattern == "/" {
		return "/"
	}
	if strings.HasSuffix(pattern, "/**") {
		return strings.TrimSuffix(pattern, "/**")
	}
	if strings.HasSuffix(pattern, "/*") {
		return strings.TrimSuffix(pattern, "/*")
	}
	if idx := strings.LastIndex(pattern, "/"); idx > 0 {
		return pattern[:idx]
	}
	return "/"
}

// derivePreopens computes the smallest set of directories covering
// every allow-rule root, collapsing any root that is a descendant of
// another root already selected (interval-collapsing over sorted
// path prefixes, not a general trie flatten, since only allow rules
// seed this set — deny rules never shrink it and are re-enforced at
// every filesystem host call instead).
func derivePreopens(allows []StorageAllowRule) ([]Preopen, error) {
	if len(allows) == 0 {
		return nil, nil
	}

	sorted := make([]StorageAllowRule, len(allows))
	copy(sorted, allows)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Root < sorted[j].Root
	})

	var covering []StorageAllowRule
	for _, rule := range sorted {
		if idx := coveredBy(covering, rule.Root); idx >= 0 {
			covering[idx].Bits |= rule.Bits
			continue
		}
		covering = dropDescendants(covering, &rule)
		covering = append(covering, rule)
	}

	preopens := make([]Preopen, 0, len(covering))
	for _, rule := range covering {
		preopens = append(preopens, Preopen{
			HostPath:  rule.Root,
			GuestPath: rule.Root,
			DirBits:   rule.Bits,
			FileBits:  rule.Bits,
			ReadOnly:  rule.Bits.Has(compiled.AccessRead) && !rule.Bits.Has(compiled.AccessWrite),
		})
	}
	return preopens, nil
}

// coveredBy returns the index of an existing preopen root that is an
// ancestor of (or equal to) candidate, or -1 if none covers it.
func coveredBy(existing []StorageAllowRule, candidate string) int {
	for i, e := range existing {
		if e.Root == candidate || isAncestor(e.Root, candidate) {
			return i
		}
	}
	return -1
}

// dropDescendants removes any existing root that candidate would now
// cover, folding its bits into the new, shallower root.
func dropDescendants(existing []StorageAllowRule, candidate *StorageAllowRule) []StorageAllowRule {
	kept := existing[:0]
	for _, e := range existing {
		if isAncestor(candidate.Root, e.Root) {
			candidate.Bits |= e.Bits
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

// isAncestor reports whether root is a path ancestor of (or equal to)
// candidate, comparing normalized "/"-separated segments.
func isAncestor(root, candidate string) bool {
	if root == "/" {
		return true
	}
	if root == candidate {
		return true
	}
	return strings.HasPrefix(candidate, strings.TrimSuffix(root, "/")+"/")
}
