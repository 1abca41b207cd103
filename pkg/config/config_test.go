package config

import (
	"os"
	"testing"
)

func TestLoadInterpolatesEnvVar(t *testing.T) {
	os.Setenv("MCPKIT_TEST_ADDR", "0.0.0.0:9000")
	defer os.Unsetenv("MCPKIT_TEST_ADDR")

	doc, err := Load([]byte("version: \"1.0\"\nserver:\n  address: \"${MCPKIT_TEST_ADDR}\"\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if doc.Server.Address != "0.0.0.0:9000" {
		t.Errorf("Server.Address = %q, want %q", doc.Server.Address, "0.0.0.0:9000")
	}
}

func TestLoadInterpolatesDefaultWhenUnset(t *testing.T) {
	os.Unsetenv("MCPKIT_TEST_UNSET_ADDR")

	doc, err := Load([]byte("version: \"1.0\"\nserver:\n  address: \"${MCPKIT_TEST_UNSET_ADDR:-127.0.0.1:8080}\"\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if doc.Server.Address != "127.0.0.1:8080" {
		t.Errorf("Server.Address = %q, want %q", doc.Server.Address, "127.0.0.1:8080")
	}
}

func TestLoadFailsOnMissingVarWithoutDefault(t *testing.T) {
	os.Unsetenv("MCPKIT_TEST_MISSING")

	_, err := Load([]byte("version: \"1.0\"\nserver:\n  address: \"${MCPKIT_TEST_MISSING}\"\n"))
	if err == nil {
		t.Fatal("expected Load to fail when a referenced variable is unset and has no default")
	}
}

func TestLoadExtractsPolicySubtree(t *testing.T) {
	data := []byte("version: \"1.0\"\npolicy:\n  version: \"1.0\"\n  core:\n    storage:\n      allow: []\n")
	doc, err := Load(data)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(doc.PolicyYAML) == 0 {
		t.Fatal("expected PolicyYAML to be populated from the policy subtree")
	}
}

func TestLoadWithoutPolicySubtreeLeavesPolicyYAMLNil(t *testing.T) {
	doc, err := Load([]byte("version: \"1.0\"\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if doc.PolicyYAML != nil {
		t.Errorf("expected PolicyYAML to be nil, got %q", doc.PolicyYAML)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load([]byte("version: [unterminated"))
	if err == nil {
		t.Fatal("expected Load to reject malformed YAML")
	}
}

func TestLoadFileReadsFromDisk(t *testing.T) {
	path := t.TempDir() + "/config.yaml"
	if err := os.WriteFile(path, []byte("version: \"1.0\"\nmetadata:\n  name: test\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	doc, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if doc.Metadata.Name != "test" {
		t.Errorf("Metadata.Name = %q, want %q", doc.Metadata.Name, "test")
	}
}
