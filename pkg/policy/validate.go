package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mcpkit/mcpkit/pkg/errors"
	"github.com/mcpkit/mcpkit/pkg/match"
)

var validAccess = map[Access]bool{
	AccessRead: true, AccessWrite: true, AccessCreate: true,
	AccessDelete: true, AccessExecute: true,
}

// Validate runs every validation stage over doc and, on success, returns
// a Model ready for compilation. Validation is total: it never panics,
// and every error carries a path into the document.
//
// Stages: (1) schema shape — version recognized; (2) pattern syntactic
// validity per group; (3) extension dispatch against registry.
func Validate(doc *Document, registry *Registry) (*Model, []Warning, error) {
	if doc.Version != SupportedVersion {
		return nil, nil, errors.New(errors.ErrPolicyValidate, fmt.Sprintf("unrecognized policy version %q", doc.Version)).
			WithPath("version").WithHint("supported version is \"1.0\"")
	}

	model := &Model{
		Version:     doc.Version,
		Description: doc.Description,
		Extensions:  make(map[string]interface{}),
	}
	var warnings []Warning

	storageAllow, err := validateStorageRules(doc.Core.Storage.Allow, "core.storage.allow")
	if err != nil {
		return nil, nil, err
	}
	storageDeny, err := validateStorageRules(doc.Core.Storage.Deny, "core.storage.deny")
	if err != nil {
		return nil, nil, err
	}
	model.StorageAllow, model.StorageDeny = storageAllow, storageDeny
	warnings = append(warnings, shadowedStorageWarnings(storageAllow, storageDeny)...)

	networkAllow, err := validateNetworkRules(doc.Core.Network.Allow, "core.network.allow")
	if err != nil {
		return nil, nil, err
	}
	networkDeny, err := validateNetworkRules(doc.Core.Network.Deny, "core.network.deny")
	if err != nil {
		return nil, nil, err
	}
	model.NetworkAllow, model.NetworkDeny = networkAllow, networkDeny
	warnings = append(warnings, shadowedNetworkWarnings(networkAllow, networkDeny)...)

	envAllow, err := validateEnvRules(doc.Core.Environment.Allow, "core.environment.allow")
	if err != nil {
		return nil, nil, err
	}
	envDeny, err := validateEnvRules(doc.Core.Environment.Deny, "core.environment.deny")
	if err != nil {
		return nil, nil, err
	}
	model.EnvAllow, model.EnvDeny = envAllow, envDeny

	limits, err := validateResources(doc.Core.Resources)
	if err != nil {
		return nil, nil, err
	}
	model.Resources = limits

	for id, node := range doc.Extensions {
		ext, ok := registry.Get(id)
		if !ok {
			return nil, nil, errors.New(errors.ErrPolicyValidate, fmt.Sprintf("no registered extension handles %q", id)).WithPath(id)
		}
		parsed, err := ext.ParseSubtree(node)
		if err != nil {
			return nil, nil, errors.Wrap(errors.ErrPolicyValidate, "extension rejected its subtree", err).WithPath(id)
		}
		compiled, err := ext.CompileSubtree(parsed)
		if err != nil {
			return nil, nil, errors.Wrap(errors.ErrPolicyValidate, "extension failed to compile its subtree", err).WithPath(id)
		}
		model.Extensions[id] = compiled
	}

	return model, warnings, nil
}

func validateStorageRules(rules []Rule, path string) ([]StorageRule, error) {
	out := make([]StorageRule, 0, len(rules))
	for i, r := range rules {
		rulePath := fmt.Sprintf("%s[%d]", path, i)
		if r.URI == "" {
			return nil, errors.New(errors.ErrPolicyValidate, "storage rule missing uri pattern").WithPath(rulePath)
		}
		pattern := strings.TrimPrefix(r.URI, "fs://")
		if _, err := match.CompilePath(pattern); err != nil {
			return nil, errors.Wrap(errors.ErrPolicyValidate, "invalid storage pattern", err).WithPath(rulePath)
		}
		access := make(map[Access]bool, len(r.Access))
		for _, a := range r.Access {
			access[Access(a)] = true
		}
		if len(access) == 0 {
			access[AccessRead] = true
		}
		for a := range access {
			if !validAccess[a] {
				return nil, errors.New(errors.ErrPolicyValidate, fmt.Sprintf("unknown access kind %q", a)).WithPath(rulePath)
			}
		}
		out = append(out, StorageRule{Pattern: pattern, Access: access})
	}
	return out, nil
}

func validateNetworkRules(rules []Rule, path string) ([]NetworkRule, error) {
	out := make([]NetworkRule, 0, len(rules))
	for i, r := range rules {
		rulePath := fmt.Sprintf("%s[%d]", path, i)
		if r.Host == "" {
			return nil, errors.New(errors.ErrPolicyValidate, "network rule missing host pattern").WithPath(rulePath)
		}
		isCIDR := false
		if _, err := match.CompileCIDR(r.Host); err == nil {
			isCIDR = true
		} else if _, err := match.CompileGlob(r.Host); err != nil {
			return nil, errors.Wrap(errors.ErrPolicyValidate, "invalid network host pattern", err).WithPath(rulePath)
		}
		out = append(out, NetworkRule{
			Pattern:   r.Host,
			IsCIDR:    isCIDR,
			Ports:     r.Ports,
			Protocols: r.Protocols,
		})
	}
	return out, nil
}

func validateEnvRules(rules []Rule, path string) ([]EnvRule, error) {
	out := make([]EnvRule, 0, len(rules))
	for i, r := range rules {
		rulePath := fmt.Sprintf("%s[%d]", path, i)
		if r.Key == "" {
			return nil, errors.New(errors.ErrPolicyValidate, "environment rule missing key pattern").WithPath(rulePath)
		}
		if _, err := match.CompileGlob(r.Key); err != nil {
			return nil, errors.Wrap(errors.ErrPolicyValidate, "invalid environment key pattern", err).WithPath(rulePath)
		}
		out = append(out, EnvRule{Pattern: r.Key})
	}
	return out, nil
}

func validateResources(r Resources) (ResourceLimits, error) {
	limits := ResourceLimits{Fuel: r.Fuel}

	if r.CPU != "" {
		shares, err := strconv.ParseFloat(r.CPU, 64)
		if err != nil {
			return limits, errors.Wrap(errors.ErrPolicyValidate, "invalid cpu value", err).WithPath("core.resources.cpu")
		}
		limits.CPUShares = shares
	}
	if r.Memory != "" {
		bytes, err := parseByteSize(r.Memory)
		if err != nil {
			return limits, errors.Wrap(errors.ErrPolicyValidate, "invalid memory value", err).WithPath("core.resources.memory")
		}
		limits.MemoryBytes = bytes
	}
	if r.ExecutionTime != "" {
		d, err := time.ParseDuration(r.ExecutionTime)
		if err != nil {
			return limits, errors.Wrap(errors.ErrPolicyValidate, "invalid execution_time value", err).WithPath("core.resources.execution_time")
		}
		limits.ExecutionTime = d
	}
	return limits, nil
}

// parseByteSize accepts plain byte counts and simple "64Mi"/"1Gi"/"512Ki"
// suffixes, the vocabulary used throughout the teacher's cgroup config.
func parseByteSize(s string) (int64, error) {
	units := []struct {
		suffix string
		mult   int64
	}{
		{"Gi", 1 << 30}, {"Mi", 1 << 20}, {"Ki", 1 << 10},
	}
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			n, err := strconv.ParseInt(strings.TrimSuffix(s, u.suffix), 10, 64)
			if err != nil {
				return 0, err
			}
			return n * u.mult, nil
		}
	}
	return strconv.ParseInt(s, 10, 64)
}

// shadowedStorageWarnings reports, for every allow rule, whether a deny
// rule pattern is a superset match over the same path domain and access
// set — a fully-shadowed allow, per spec.md §4.2.
func shadowedStorageWarnings(allow, deny []StorageRule) []Warning {
	var warnings []Warning
	for i, a := range allow {
		for _, d := range deny {
			if pathCovers(d.Pattern, a.Pattern) && accessSuperset(d.Access, a.Access) {
				warnings = append(warnings, Warning{
					Path:    fmt.Sprintf("core.storage.allow[%d]", i),
					Message: fmt.Sprintf("allow pattern %q is fully shadowed by deny pattern %q", a.Pattern, d.Pattern),
				})
				break
			}
		}
	}
	return warnings
}

func shadowedNetworkWarnings(allow, deny []NetworkRule) []Warning {
	var warnings []Warning
	for i, a := range allow {
		for _, d := range deny {
			if d.IsCIDR && cidrCovers(d.Pattern, a.Pattern) {
				warnings = append(warnings, Warning{
					Path:    fmt.Sprintf("core.network.allow[%d]", i),
					Message: fmt.Sprintf("allow host %q is fully shadowed by deny network %q", a.Pattern, d.Pattern),
				})
				break
			}
			if !d.IsCIDR && d.Pattern == a.Pattern {
				warnings = append(warnings, Warning{
					Path:    fmt.Sprintf("core.network.allow[%d]", i),
					Message: fmt.Sprintf("allow host %q is fully shadowed by deny host %q", a.Pattern, d.Pattern),
				})
				break
			}
		}
	}
	return warnings
}

// pathCovers reports whether denyPattern, interpreted as a path prefix,
// covers every path allowPattern can match. Only the "/**"-suffixed
// ancestor case and exact equality are recognized; anything else is
// treated conservatively as non-covering (no warning, not silently
// treated as a deny).
func pathCovers(denyPattern, allowPattern string) bool {
	if denyPattern == allowPattern {
		return true
	}
	denyPrefix := strings.TrimSuffix(denyPattern, "/**")
	if denyPrefix == denyPattern {
		return false // deny is not an ancestor glob
	}
	return strings.HasPrefix(allowPattern, denyPrefix+"/") || allowPattern == denyPrefix
}

func accessSuperset(deny, allow map[Access]bool) bool {
	for a := range allow {
		if !deny[a] {
			return false
		}
	}
	return true
}

// cidrCovers reports whether the deny CIDR contains the allow pattern,
// which may itself be a CIDR or a bare host address.
func cidrCovers(denyCIDR, allowPattern string) bool {
	d, err := match.CompileCIDR(denyCIDR)
	if err != nil {
		return false
	}
	if allowNet, err := match.CompileCIDR(allowPattern); err == nil {
		// Approximate containment by testing the allow network's own
		// address against the deny prefix; a precise prefix-in-prefix
		// comparison is unnecessary for the warning-only use here.
		return d.Match(strings.SplitN(allowNet.String(), "/", 2)[0])
	}
	return d.Match(allowPattern)
}
