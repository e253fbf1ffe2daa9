package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// SplitRule divides one load module into sub-buckets
type SplitRule struct {
	Files     []string            `koanf:"files" json:"files"`         // Path prefixes; bucket is the next segment
	Functions map[string][]string `koanf:"functions" json:"functions"` // Bucket name -> procedure name substrings
}

// SplitRules maps module display names to their rule
type SplitRules map[string]SplitRule

// Lookup finds the rule for a module by exact name, then by base name
func (r SplitRules) Lookup(moduleName string) (SplitRule, bool) {
	if rule, ok := r[moduleName]; ok {
		return rule, true
	}
	if rule, ok := r[filepath.Base(moduleName)]; ok {
		return rule, true
	}
	return SplitRule{}, false
}

// LoadSplitRules reads a split configuration file. The format is chosen by
// extension (.toml, .yaml/.yml, .json). Module names containing dots are
// safe because keys are delimited by "|".
func LoadSplitRules(path string) (SplitRules, error) {
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		parser = toml.Parser()
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported split config format: %s", path)
	}

	k := koanf.New("|")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("failed to load split config %s: %w", path, err)
	}

	rules := make(SplitRules)
	for _, module := range k.MapKeys("") {
		var rule SplitRule
		if err := k.Unmarshal(module, &rule); err != nil {
			// Malformed rules fall back to the whole-module bucket
			continue
		}
		rules[module] = rule
	}
	return rules, nil
}
