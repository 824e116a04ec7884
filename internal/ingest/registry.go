package ingest

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed config/funders.yaml
var fundersYAML embed.FS

// Registry holds the configured funders and the federal category list.
type Registry struct {
	Funders []FunderConfig `yaml:"funders"`
	Federal FederalConfig  `yaml:"federal"`
}

// FunderConfig defines one scraped funder page.
type FunderConfig struct {
	Slug       string            `yaml:"slug"`
	Name       string            `yaml:"name"`
	FunderType string            `yaml:"funder_type,omitempty"` // default Foundation
	PageURL    string            `yaml:"page_url"`
	Selectors  map[string]string `yaml:"selectors,omitempty"` // advisory hints
	Active     bool              `yaml:"active"`

	// Per-funder overrides; zero means package default.
	KeywordThreshold    int     `yaml:"keyword_threshold,omitempty"`
	SimilarityThreshold float64 `yaml:"similarity_threshold,omitempty"`
}

// FederalConfig defines the Grants.gov category sweep.
type FederalConfig struct {
	Enabled    bool     `yaml:"enabled"`
	FunderSlug string   `yaml:"funder_slug"`
	FunderName string   `yaml:"funder_name"`
	Categories []string `yaml:"categories"`
	Rows       int      `yaml:"rows,omitempty"` // default 50
}

// LoadRegistry reads the embedded funders.yaml, falling back to the given
// path for local development. Environment variables in the YAML are expanded.
func LoadRegistry(path string) (*Registry, error) {
	data, err := fundersYAML.ReadFile("config/funders.yaml")
	if err != nil {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load registry: %w", err)
		}
	}

	expanded := os.ExpandEnv(string(data))

	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}

	if reg.Federal.Rows == 0 {
		reg.Federal.Rows = 50
	}

	return &reg, nil
}

// ActiveFunders filters the registry down to funders eligible for a run.
func (r *Registry) ActiveFunders() []FunderConfig {
	var out []FunderConfig
	for _, f := range r.Funders {
		if f.Active && f.PageURL != "" {
			out = append(out, f)
		}
	}
	return out
}
