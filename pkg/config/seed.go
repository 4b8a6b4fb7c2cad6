package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is the bootstrap catalog loaded from a YAML file:
//
//	permissions:
//	  - name: payments
//	    endpoint: /api/cloud-service-1/payment
//	plans:
//	  - name: basic
//	    usage_limit: 100
//	    permissions: [payments]
type Seed struct {
	Permissions []SeedPermission `yaml:"permissions"`
	Plans       []SeedPlan       `yaml:"plans"`
}

type SeedPermission struct {
	Name        string `yaml:"name"`
	Endpoint    string `yaml:"endpoint"`
	Description string `yaml:"description"`
}

type SeedPlan struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	UsageLimit  int64    `yaml:"usage_limit"`
	Permissions []string `yaml:"permissions"`
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes seed YAML. Every plan permission must be declared in the
// permissions list.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}

	declared := make(map[string]bool, len(seed.Permissions))
	for _, p := range seed.Permissions {
		if p.Name == "" {
			return nil, fmt.Errorf("seed permission without a name")
		}
		if declared[p.Name] {
			return nil, fmt.Errorf("seed permission %q declared twice", p.Name)
		}
		declared[p.Name] = true
	}

	plans := make(map[string]bool, len(seed.Plans))
	for _, p := range seed.Plans {
		if p.Name == "" {
			return nil, fmt.Errorf("seed plan without a name")
		}
		if plans[p.Name] {
			return nil, fmt.Errorf("seed plan %q declared twice", p.Name)
		}
		plans[p.Name] = true
		if p.UsageLimit <= 0 {
			return nil, fmt.Errorf("seed plan %q: usage_limit must be positive", p.Name)
		}
		for _, perm := range p.Permissions {
			if !declared[perm] {
				return nil, fmt.Errorf("seed plan %q grants undeclared permission %q", p.Name, perm)
			}
		}
	}

	return &seed, nil
}
