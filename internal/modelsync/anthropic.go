package modelsync

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/corralhq/corral/pkg/models"
)

// AnthropicConfig configures the official Anthropic provider.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// UseAWSBedrock indicates whether to reach the API through AWS Bedrock.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
}

// AnthropicProvider fetches the model list from the Anthropic API. It is
// the official source for anthropic models, so its records win merges.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates the provider from config.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		ctx := context.Background()

		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}

		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	return &AnthropicProvider{client: anthropic.NewClient(opts...)}, nil
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// IsOfficialSource implements Provider.
func (p *AnthropicProvider) IsOfficialSource() bool { return true }

// Priority implements Provider.
func (p *AnthropicProvider) Priority() int { return 0 }

// SupportsStreaming implements Provider. The models endpoint serves full
// snapshots only.
func (p *AnthropicProvider) SupportsStreaming() bool { return false }

// FetchModels lists models from the API and fills in prices from the
// published per-family rates, since the models endpoint does not carry
// pricing.
func (p *AnthropicProvider) FetchModels(ctx context.Context) ([]models.ModelInfo, error) {
	var out []models.ModelInfo

	pager := p.client.Models.ListAutoPaging(ctx, anthropic.ModelListParams{})
	for pager.Next() {
		m := pager.Current()
		info := models.ModelInfo{
			Provider:      "anthropic",
			ModelID:       m.ID,
			DisplayName:   m.DisplayName,
			ContextWindow: 200_000,
			Capabilities:  []string{"tools", "vision"},
		}
		info.InputPrice, info.OutputPrice = familyPricing(m.ID)
		out = append(out, info)
	}
	if err := pager.Err(); err != nil {
		return nil, fmt.Errorf("list anthropic models: %w", err)
	}
	return out, nil
}

// HealthCheck verifies the API is reachable by requesting one model.
func (p *AnthropicProvider) HealthCheck(ctx context.Context) error {
	_, err := p.client.Models.List(ctx, anthropic.ModelListParams{
		Limit: anthropic.Int(1),
	})
	if err != nil {
		return fmt.Errorf("anthropic health check: %w", err)
	}
	return nil
}

// familyPricing maps a model id onto the published dollars-per-million-token
// rates for its family. Unknown families report zero and rely on other
// sources to supply pricing.
func familyPricing(modelID string) (input, output float64) {
	families := []struct {
		prefix string
		input  float64
		output float64
	}{
		{"claude-opus-4", 15.0, 75.0},
		{"claude-sonnet-4", 3.0, 15.0},
		{"claude-haiku-4", 1.0, 5.0},
		{"claude-3-7-sonnet", 3.0, 15.0},
		{"claude-3-5-sonnet", 3.0, 15.0},
		{"claude-3-5-haiku", 0.8, 4.0},
		{"claude-3-opus", 15.0, 75.0},
		{"claude-3-haiku", 0.25, 1.25},
	}
	for _, f := range families {
		if strings.HasPrefix(modelID, f.prefix) {
			return f.input, f.output
		}
	}
	return 0, 0
}
