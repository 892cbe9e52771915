package normalizer

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/FACorreiaa/echo-import/internal/domain/import/sniffer"
)

// CategoryMapping translates source category labels into the owner's
// categories. Labels without an entry pass through unchanged.
type CategoryMapping map[string]string

// Resolve maps a source label. Exact keys win over case- and accent-
// insensitive ones; an empty label resolves to "".
func (c CategoryMapping) Resolve(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return ""
	}
	if v, ok := c[label]; ok {
		return v
	}
	folded := sniffer.Fold(label)
	for k, v := range c {
		if sniffer.Fold(k) == folded {
			return v
		}
	}
	return label
}

// Merge returns a new mapping with override entries applied over c.
func (c CategoryMapping) Merge(override CategoryMapping) CategoryMapping {
	out := make(CategoryMapping, len(c)+len(override))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// LoadCategoryMapping reads a YAML document of "source: target" pairs.
// A missing path yields an empty mapping.
func LoadCategoryMapping(path string) (CategoryMapping, error) {
	if path == "" {
		return CategoryMapping{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return CategoryMapping{}, nil
		}
		return nil, fmt.Errorf("failed to read category mapping: %w", err)
	}

	var doc struct {
		Categories CategoryMapping `yaml:"categories"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse category mapping: %w", err)
	}
	if doc.Categories == nil {
		return CategoryMapping{}, nil
	}
	return doc.Categories, nil
}
