package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleSeed = `
permissions:
  - name: payments
    endpoint: /api/cloud-service-1/payment
    description: Create payments
  - name: search
    endpoint: /api/cloud-service-4/search
plans:
  - name: basic
    description: Entry plan
    usage_limit: 100
    permissions: [search]
  - name: pro
    usage_limit: 1000
    permissions: [payments, search]
`

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	if err := os.WriteFile(path, []byte(sampleSeed), 0o600); err != nil {
		t.Fatal(err)
	}

	seed, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("LoadSeed() error = %v", err)
	}
	if len(seed.Permissions) != 2 || len(seed.Plans) != 2 {
		t.Fatalf("seed = %+v", seed)
	}
	if seed.Plans[1].UsageLimit != 1000 || len(seed.Plans[1].Permissions) != 2 {
		t.Errorf("pro plan = %+v", seed.Plans[1])
	}
}

func TestParseSeedErrors(t *testing.T) {
	tests := map[string]string{
		"plans:\n  - name: basic\n    usage_limit: 0\n":                      "usage_limit must be positive",
		"plans:\n  - name: basic\n    usage_limit: 5\n    permissions: [x]\n": "undeclared permission",
		"permissions:\n  - name: a\n  - name: a\n":                            "declared twice",
		"plans:\n  - usage_limit: 5\n":                                        "without a name",
		"plans: [":                                                            "failed to parse seed",
	}
	for input, want := range tests {
		if _, err := ParseSeed([]byte(input)); err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("ParseSeed(%q) error = %v, want containing %q", input, err, want)
		}
	}
}

func TestLoadSeedMissingFile(t *testing.T) {
	if _, err := LoadSeed(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing seed file")
	}
}

func TestExampleSeed(t *testing.T) {
	seed, err := LoadSeed(filepath.Join("..", "..", "examples", "seed.yaml"))
	if err != nil {
		t.Fatalf("LoadSeed() error = %v", err)
	}
	if len(seed.Permissions) != 6 || len(seed.Plans) != 2 {
		t.Errorf("seed = %+v", seed)
	}
}
