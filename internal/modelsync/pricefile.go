package modelsync

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/corralhq/corral/pkg/faults"
	"github.com/corralhq/corral/pkg/models"
)

// priceFileEntry is one model row in a price file.
type priceFileEntry struct {
	Provider      string   `yaml:"provider"`
	ModelID       string   `yaml:"model_id"`
	DisplayName   string   `yaml:"display_name,omitempty"`
	InputPrice    float64  `yaml:"input_price"`
	OutputPrice   float64  `yaml:"output_price"`
	ContextWindow int      `yaml:"context_window,omitempty"`
	Capabilities  []string `yaml:"capabilities,omitempty"`
}

// priceFile is the on-disk document shape.
type priceFile struct {
	Models []priceFileEntry `yaml:"models"`
}

// PriceFileProvider serves model records from a community-maintained YAML
// price list on disk. It is never an official source; its records fill the
// gaps official providers leave and lose every merge conflict with them.
type PriceFileProvider struct {
	name     string
	path     string
	priority int
}

// NewPriceFileProvider creates a provider reading the given file. The
// priority ranks it among other unofficial sources.
func NewPriceFileProvider(name, path string, priority int) *PriceFileProvider {
	return &PriceFileProvider{name: name, path: path, priority: priority}
}

// Name implements Provider.
func (p *PriceFileProvider) Name() string { return p.name }

// IsOfficialSource implements Provider.
func (p *PriceFileProvider) IsOfficialSource() bool { return false }

// Priority implements Provider.
func (p *PriceFileProvider) Priority() int { return p.priority }

// SupportsStreaming implements Provider.
func (p *PriceFileProvider) SupportsStreaming() bool { return false }

// FetchModels parses the price file. Rows missing a provider or model id
// are rejected rather than silently skipped.
func (p *PriceFileProvider) FetchModels(ctx context.Context) ([]models.ModelInfo, error) {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read price file: %w", err)
	}

	var doc priceFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, faults.Wrap(faults.Validation, err, "parse price file %s", p.path)
	}

	out := make([]models.ModelInfo, 0, len(doc.Models))
	for i, entry := range doc.Models {
		if entry.Provider == "" || entry.ModelID == "" {
			return nil, faults.New(faults.Validation, "price file %s: row %d missing provider or model_id", p.path, i)
		}
		out = append(out, models.ModelInfo{
			Provider:      entry.Provider,
			ModelID:       entry.ModelID,
			DisplayName:   entry.DisplayName,
			InputPrice:    entry.InputPrice,
			OutputPrice:   entry.OutputPrice,
			ContextWindow: entry.ContextWindow,
			Capabilities:  entry.Capabilities,
		})
	}
	return out, nil
}

// HealthCheck verifies the price file exists.
func (p *PriceFileProvider) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(p.path); err != nil {
		return fmt.Errorf("price file health check: %w", err)
	}
	return nil
}
