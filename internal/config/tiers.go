package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/transfa/supporter-service/internal/domain"
)

type tierFile struct {
	Tiers []domain.Tier `yaml:"tiers"`
}

// LoadTierTable reads the tier table from a YAML file. An empty path returns
// the built-in table.
//
//	tiers:
//	  - name: Basic
//	    price: $10
//	    api: No API
//	    daily_messages: 0
func LoadTierTable(path string) (*domain.TierTable, error) {
	if strings.TrimSpace(path) == "" {
		return domain.DefaultTierTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiers file: %w", err)
	}
	var file tierFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tiers file %s: %w", path, err)
	}
	table, err := domain.NewTierTable(file.Tiers)
	if err != nil {
		return nil, fmt.Errorf("tiers file %s: %w", path, err)
	}
	return table, nil
}
