package database

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// SeedCategory is one entry of the category seed file.
type SeedCategory struct {
	Name             string  `yaml:"name"`
	Description      string  `yaml:"description"`
	ApprovalCriteria string  `yaml:"approval_criteria"`
	MaximumAmount    *string `yaml:"maximum_amount"`
	Active           *bool   `yaml:"active"`
}

type seedFile struct {
	Categories []SeedCategory `yaml:"categories"`
}

// LoadCategorySeed reads the YAML seed file. A missing file yields no categories.
func LoadCategorySeed(path string) ([]SeedCategory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseCategorySeed(data)
}

func ParseCategorySeed(data []byte) ([]SeedCategory, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for i, c := range f.Categories {
		if c.Name == "" {
			return nil, fmt.Errorf("seed category #%d has no name", i+1)
		}
		if c.MaximumAmount != nil {
			if _, err := decimal.NewFromString(*c.MaximumAmount); err != nil {
				return nil, fmt.Errorf("seed category %q: invalid maximum_amount: %w", c.Name, err)
			}
		}
	}
	return f.Categories, nil
}
