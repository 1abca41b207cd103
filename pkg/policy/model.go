package policy

import "time"

// Access is one bit of the storage access set.
type Access string

const (
	AccessRead    Access = "read"
	AccessWrite   Access = "write"
	AccessCreate  Access = "create"
	AccessDelete  Access = "delete"
	AccessExecute Access = "execute"
)

// StorageRule is a validated storage permission entry.
type StorageRule struct {
	Pattern string
	Access  map[Access]bool
}

// NetworkRule is a validated network permission entry. Pattern holds
// either a CIDR prefix (IsCIDR true) or a hostname pattern, which may be
// a glob; validation decides which by attempting a CIDR parse first.
type NetworkRule struct {
	Pattern   string
	IsCIDR    bool
	Ports     []int
	Protocols []string
}

// EnvRule is a validated environment-variable permission entry.
type EnvRule struct {
	Pattern string
}

// ResourceLimits is the validated, parsed form of the resources section.
type ResourceLimits struct {
	CPUShares     float64
	MemoryBytes   int64
	ExecutionTime time.Duration
	Fuel          int64
}

// Warning is a non-fatal validation finding, such as a fully-shadowed
// allow rule.
type Warning struct {
	Path    string
	Message string
}

// Model is the parsed, validated policy tree: every pattern has been
// checked for syntactic validity and every extension subtree has been
// accepted by its registered handler. Model is the input to Compile
// (pkg/policy/compiled); it holds validated rule records, not compiled
// decision structures.
type Model struct {
	Version     string
	Description string

	StorageAllow []StorageRule
	StorageDeny  []StorageRule

	NetworkAllow []NetworkRule
	NetworkDeny  []NetworkRule

	EnvAllow []EnvRule
	EnvDeny  []EnvRule

	Resources ResourceLimits

	// Extensions holds the compiled-subtree value produced by each
	// registered extension's CompileSubtree, keyed by extension
	// identifier (e.g. "mcp.tools").
	Extensions map[string]interface{}
}
