package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/solvient/problem-engine/internal/models"
	"github.com/solvient/problem-engine/internal/storage"
)

const validCatalog = `
operators:
  - name: analyze
    description: Analyze the input.
    input_type: generic
    output_type: analysis
  - name: passthrough
    description: Return the input unchanged.
    input_type: generic
    output_type: generic
    builtin: passthrough

flows:
  - name: general_analysis
    problem_type: analysis
    base_price: 5.0
    price_per_complexity: 0.1
    steps:
      - operator: analyze
`

func writeCatalogFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write catalog file: %v", err)
	}
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "analysis.yaml", validCatalog)
	writeCatalogFile(t, dir, "ignored.txt", "not yaml")

	loader := NewLoader(dir)
	if err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(loader.Operators()) != 2 {
		t.Errorf("expected 2 operators, got %d", len(loader.Operators()))
	}
	if len(loader.Flows()) != 1 {
		t.Errorf("expected 1 flow, got %d", len(loader.Flows()))
	}

	analyze := loader.GetOperator("analyze")
	if analyze == nil {
		t.Fatal("analyze operator not found")
	}
	if analyze.OutputType != "analysis" {
		t.Errorf("expected output_type analysis, got %s", analyze.OutputType)
	}

	pt := loader.GetOperator("passthrough")
	if pt == nil || pt.Builtin != "passthrough" {
		t.Error("passthrough builtin tag not loaded")
	}

	flow := loader.GetFlow("general_analysis")
	if flow == nil {
		t.Fatal("general_analysis flow not found")
	}
	if flow.ProblemType != "analysis" {
		t.Errorf("expected problem_type analysis, got %s", flow.ProblemType)
	}
	if flow.BasePrice != 5.0 || flow.PricePerComplexity != 0.1 {
		t.Errorf("unexpected pricing: base %v per %v", flow.BasePrice, flow.PricePerComplexity)
	}
	if len(flow.Steps) != 1 || flow.Steps[0].OperatorName != "analyze" {
		t.Errorf("unexpected steps: %v", flow.Steps)
	}
}

func TestLoadRejectsFlowWithoutSteps(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "bad.yaml", `
flows:
  - name: empty
    problem_type: x
    steps: []
`)

	loader := NewLoader(dir)
	if err := loader.Load(); err == nil {
		t.Error("expected error for flow without steps")
	}
}

func TestLoadRejectsUnnamedOperator(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "bad.yaml", `
operators:
  - description: no name
`)

	loader := NewLoader(dir)
	if err := loader.Load(); err == nil {
		t.Error("expected error for unnamed operator")
	}
}

func TestLoadMissingDir(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "absent"))
	if err := loader.Load(); err == nil {
		t.Error("expected error for missing directory")
	}
}

// syncRepo records catalog upserts
type syncRepo struct {
	storage.Repository

	operators map[string]*models.Operator
	flows     map[string]*models.Flow
}

func (r *syncRepo) UpsertOperator(ctx context.Context, op *models.Operator) error {
	r.operators[op.Name] = op
	return nil
}

func (r *syncRepo) UpsertFlow(ctx context.Context, f *models.Flow) error {
	r.flows[f.Name] = f
	return nil
}

func (r *syncRepo) GetOperator(ctx context.Context, name string) (*models.Operator, error) {
	return r.operators[name], nil
}

func TestSyncUpsertsCatalog(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "analysis.yaml", validCatalog)

	loader := NewLoader(dir)
	if err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	repo := &syncRepo{
		operators: make(map[string]*models.Operator),
		flows:     make(map[string]*models.Flow),
	}
	if err := loader.Sync(context.Background(), repo); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if len(repo.operators) != 2 {
		t.Errorf("expected 2 operators upserted, got %d", len(repo.operators))
	}
	if repo.flows["general_analysis"] == nil {
		t.Error("flow not upserted")
	}
}

func TestSyncRejectsUnknownStepOperator(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "bad.yaml", `
flows:
  - name: broken
    problem_type: x
    steps:
      - operator: ghost
`)

	loader := NewLoader(dir)
	if err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	repo := &syncRepo{
		operators: make(map[string]*models.Operator),
		flows:     make(map[string]*models.Flow),
	}
	if err := loader.Sync(context.Background(), repo); err == nil {
		t.Error("expected error for unknown step operator")
	}
}
