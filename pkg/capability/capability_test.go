package capability

import (
	"testing"

	"github.com/mcpkit/mcpkit/pkg/policy"
	"github.com/mcpkit/mcpkit/pkg/policy/compiled"
)

type stubPolicyView struct {
	network bool
	allowed map[string]bool
}

func (s stubPolicyView) HasNetworkAllow() bool { return s.network }
func (s stubPolicyView) AllowedEnv(key string) bool {
	return s.allowed[key]
}

func TestDerivePreopensCollapsesDescendant(t *testing.T) {
	allows := []StorageAllowRule{
		{Root: "/var/log/app", Bits: compiled.AccessRead},
		{Root: "/var/log", Bits: compiled.AccessWrite | compiled.AccessCreate},
	}
	preopens, err := derivePreopens(allows)
	if err != nil {
		t.Fatalf("derivePreopens error: %v", err)
	}
	if len(preopens) != 1 {
		t.Fatalf("expected one collapsed preopen, got %d: %+v", len(preopens), preopens)
	}
	if preopens[0].HostPath != "/var/log" {
		t.Errorf("expected root /var/log to win, got %q", preopens[0].HostPath)
	}
	if !preopens[0].DirBits.Has(compiled.AccessRead) || !preopens[0].DirBits.Has(compiled.AccessWrite) {
		t.Errorf("expected collapsed bits to union both rules, got %v", preopens[0].DirBits)
	}
}

func TestDerivePreopensDisjointRootsKept(t *testing.T) {
	allows := []StorageAllowRule{
		{Root: "/tmp", Bits: compiled.AccessRead},
		{Root: "/var/data", Bits: compiled.AccessWrite},
	}
	preopens, err := derivePreopens(allows)
	if err != nil {
		t.Fatalf("derivePreopens error: %v", err)
	}
	if len(preopens) != 2 {
		t.Fatalf("expected two disjoint preopens, got %d: %+v", len(preopens), preopens)
	}
}

func TestDerivePreopensRootCoversEverything(t *testing.T) {
	allows := []StorageAllowRule{
		{Root: "/", Bits: compiled.AccessRead},
		{Root: "/etc/hosts", Bits: compiled.AccessRead},
		{Root: "/var/log", Bits: compiled.AccessWrite},
	}
	preopens, err := derivePreopens(allows)
	if err != nil {
		t.Fatalf("derivePreopens error: %v", err)
	}
	if len(preopens) != 1 || preopens[0].HostPath != "/" {
		t.Fatalf("expected root to subsume all other allows, got %+v", preopens)
	}
}

func TestDerivePreopensEmptyAllowList(t *testing.T) {
	preopens, err := derivePreopens(nil)
	if err != nil {
		t.Fatalf("derivePreopens error: %v", err)
	}
	if preopens != nil {
		t.Errorf("expected nil preopens for empty allow list, got %+v", preopens)
	}
}

func TestProjectEnvFiltersThroughPolicy(t *testing.T) {
	view := stubPolicyView{allowed: map[string]bool{"APP_NAME": true}}
	got := ProjectEnv([]string{"APP_NAME=widget", "HOME=/root", "malformed"}, view)
	if got["APP_NAME"] != "widget" {
		t.Errorf("expected APP_NAME to be projected, got %+v", got)
	}
	if _, ok := got["HOME"]; ok {
		t.Error("expected HOME to be excluded by the policy predicate")
	}
	if len(got) != 1 {
		t.Errorf("expected exactly one projected variable, got %d", len(got))
	}
}

func TestMemoryPagesFromBytesRoundsUp(t *testing.T) {
	tests := []struct {
		bytes int64
		want  uint32
	}{
		{0, 0},
		{wasmPageSize, 1},
		{wasmPageSize + 1, 2},
		{wasmPageSize * 4, 4},
	}
	for _, tt := range tests {
		if got := memoryPagesFromBytes(tt.bytes); got != tt.want {
			t.Errorf("memoryPagesFromBytes(%d) = %d, want %d", tt.bytes, got, tt.want)
		}
	}
}

func TestDescriptorFromFallsBackToScratchDir(t *testing.T) {
	view := stubPolicyView{network: false}
	resources := policy.ResourceLimits{Fuel: 1000, MemoryBytes: wasmPageSize, ExecutionTime: 0}

	d, err := DescriptorFrom(view, nil, resources, true)
	if err != nil {
		t.Fatalf("DescriptorFrom error: %v", err)
	}
	if len(d.Preopens) != 1 {
		t.Fatalf("expected a single scratch preopen, got %d", len(d.Preopens))
	}
	if d.ScratchPath == "" {
		t.Error("expected a scratch path to be created")
	}
	if d.Resources.Fuel != 1000 {
		t.Errorf("expected fuel 1000, got %d", d.Resources.Fuel)
	}
}

func TestRulesFromModelCollapsesWildcardPatterns(t *testing.T) {
	allow := []policy.StorageRule{
		{Pattern: "fs:///var/log/**", Access: map[policy.Access]bool{policy.AccessWrite: true}},
		{Pattern: "fs:///etc/hosts", Access: map[policy.Access]bool{policy.AccessRead: true}},
	}
	rules := RulesFromModel(allow)
	if len(rules) != 2 {
		t.Fatalf("expected two rules, got %d: %+v", len(rules), rules)
	}
	if rules[0].Root != "/var/log" {
		t.Errorf("expected /var/log/** to root at /var/log, got %q", rules[0].Root)
	}
	if rules[1].Root != "/etc" {
		t.Errorf("expected /etc/hosts to root at /etc, got %q", rules[1].Root)
	}
}

func TestDescriptorFromNoScratchWhenNotNeeded(t *testing.T) {
	view := stubPolicyView{}
	d, err := DescriptorFrom(view, nil, policy.ResourceLimits{}, false)
	if err != nil {
		t.Fatalf("DescriptorFrom error: %v", err)
	}
	if len(d.Preopens) != 0 {
		t.Errorf("expected no preopens when scratch is not needed, got %+v", d.Preopens)
	}
	if d.ScratchPath != "" {
		t.Errorf("expected no scratch path, got %q", d.ScratchPath)
	}
}
