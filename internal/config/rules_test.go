package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeRules(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return path
}

func TestLoadRules(t *testing.T) {
	path := writeRules(t, `
hook_targets: [executeGlobalController]
endpoints:
  - kind: apex
    query_suffix: ApexAction.execute
  - kind: record
    query_contains: ["RecordUi.", "RecordGvp"]
`)
	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}
	if len(rules.HookTargets) != 1 || rules.HookTargets[0] != "executeGlobalController" {
		t.Fatalf("HookTargets = %v", rules.HookTargets)
	}
	if len(rules.Endpoints) != 2 || rules.Endpoints[1].QueryContains[1] != "RecordGvp" {
		t.Fatalf("Endpoints = %+v", rules.Endpoints)
	}
}

func TestLoadRulesEmptyPath(t *testing.T) {
	rules, err := LoadRules("")
	if err != nil {
		t.Fatalf("LoadRules(\"\") error = %v", err)
	}
	if len(rules.HookTargets) != 0 || len(rules.Endpoints) != 0 {
		t.Fatalf("LoadRules(\"\") = %+v; want empty", rules)
	}
}

func TestLoadRulesRejectsIncompleteEndpoint(t *testing.T) {
	path := writeRules(t, "endpoints:\n  - kind: apex\n")
	_, err := LoadRules(path)
	if err == nil || !strings.Contains(err.Error(), "needs query_suffix") {
		t.Fatalf("LoadRules() error = %v; want missing matcher error", err)
	}
}
