package modelsync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/corralhq/corral/pkg/faults"
)

func writePriceFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prices.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write price file: %v", err)
	}
	return path
}

func TestPriceFileProvider_Fetch(t *testing.T) {
	path := writePriceFile(t, `
models:
  - provider: anthropic
    model_id: claude-sonnet-4-20250514
    display_name: Claude Sonnet 4
    input_price: 3.0
    output_price: 15.0
    context_window: 200000
    capabilities: [tools, vision]
  - provider: openai
    model_id: gpt-4o
    input_price: 2.5
    output_price: 10.0
`)

	p := NewPriceFileProvider("community", path, 1)
	if p.IsOfficialSource() {
		t.Error("price file provider claims to be official")
	}

	records, err := p.FetchModels(context.Background())
	if err != nil {
		t.Fatalf("FetchModels failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Key() != "anthropic/claude-sonnet-4-20250514" || records[0].InputPrice != 3.0 {
		t.Errorf("records[0] = %+v", records[0])
	}
	if records[0].ContextWindow != 200000 || len(records[0].Capabilities) != 2 {
		t.Errorf("records[0] = %+v", records[0])
	}

	if err := p.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func TestPriceFileProvider_MissingModelID(t *testing.T) {
	path := writePriceFile(t, `
models:
  - provider: anthropic
    input_price: 3.0
`)

	_, err := NewPriceFileProvider("community", path, 1).FetchModels(context.Background())
	if !faults.IsKind(err, faults.Validation) {
		t.Errorf("got %v, want Validation", err)
	}
}

func TestPriceFileProvider_FileMissing(t *testing.T) {
	p := NewPriceFileProvider("community", filepath.Join(t.TempDir(), "absent.yaml"), 1)

	if _, err := p.FetchModels(context.Background()); err == nil {
		t.Error("FetchModels succeeded on a missing file")
	}
	if err := p.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck succeeded on a missing file")
	}
}
