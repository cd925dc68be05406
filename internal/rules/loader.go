package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadRuleSetFile читает определение набора правил из YAML или JSON файла
func LoadRuleSetFile(path string) (*RuleSetDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRuleSet(data)
}

// ParseRuleSet разбирает определение набора. JSON - подмножество YAML, поэтому парсер один.
func ParseRuleSet(data []byte) (*RuleSetDefinition, error) {
	var def RuleSetDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("ошибка разбора набора правил: %w", err)
	}
	if def.Vocabulary == "" {
		return nil, fmt.Errorf("в наборе правил не указан vocabulary")
	}
	return &def, nil
}

// LoadRuleSetDir читает все *.yaml, *.yml и *.json из каталога в порядке имён файлов
func LoadRuleSetDir(dir string) ([]*RuleSetDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	defs := make([]*RuleSetDefinition, 0, len(names))
	for _, name := range names {
		def, err := LoadRuleSetFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}
