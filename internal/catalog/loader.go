package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/solvient/problem-engine/internal/models"
	"github.com/solvient/problem-engine/internal/storage"
)

// catalogFile is the on-disk shape of one catalog YAML document
type catalogFile struct {
	Operators []models.Operator `yaml:"operators"`
	Flows     []models.Flow     `yaml:"flows"`
}

// Loader reads operator and flow definitions from a directory of YAML
// files and syncs them into the repository at startup.
type Loader struct {
	mu        sync.RWMutex
	dir       string
	operators map[string]*models.Operator
	flows     map[string]*models.Flow
}

// NewLoader creates a loader for the given catalog directory
func NewLoader(dir string) *Loader {
	return &Loader{
		dir:       dir,
		operators: make(map[string]*models.Operator),
		flows:     make(map[string]*models.Flow),
	}
}

// Load parses every .yaml/.yml file in the catalog directory. Later
// files override earlier definitions with the same name.
func (l *Loader) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.operators = make(map[string]*models.Operator)
	l.flows = make(map[string]*models.Flow)

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("failed to read catalog directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(l.dir, entry.Name())
		if err := l.loadFile(path); err != nil {
			return fmt.Errorf("failed to load catalog file %s: %w", entry.Name(), err)
		}
		loaded++
	}

	slog.Info("catalog loaded",
		"dir", l.dir,
		"files", loaded,
		"operators", len(l.operators),
		"flows", len(l.flows),
	)

	return nil
}

func (l *Loader) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}

	for i := range file.Operators {
		op := file.Operators[i]
		if err := validateOperator(&op); err != nil {
			return err
		}
		l.operators[op.Name] = &op
	}

	for i := range file.Flows {
		f := file.Flows[i]
		if err := validateFlow(&f); err != nil {
			return err
		}
		l.flows[f.Name] = &f
	}

	return nil
}

func validateOperator(op *models.Operator) error {
	if op.Name == "" {
		return fmt.Errorf("operator name is required")
	}
	return nil
}

func validateFlow(f *models.Flow) error {
	if f.Name == "" {
		return fmt.Errorf("flow name is required")
	}
	if f.ProblemType == "" {
		return fmt.Errorf("flow %s: problem_type is required", f.Name)
	}
	if len(f.Steps) == 0 {
		return fmt.Errorf("flow %s: at least one step is required", f.Name)
	}
	for i, step := range f.Steps {
		if step.OperatorName == "" {
			return fmt.Errorf("flow %s: step %d has no operator", f.Name, i)
		}
	}
	return nil
}

// Operators returns the loaded operators
func (l *Loader) Operators() []*models.Operator {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*models.Operator, 0, len(l.operators))
	for _, op := range l.operators {
		out = append(out, op)
	}
	return out
}

// Flows returns the loaded flows
func (l *Loader) Flows() []*models.Flow {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*models.Flow, 0, len(l.flows))
	for _, f := range l.flows {
		out = append(out, f)
	}
	return out
}

// GetFlow returns a loaded flow by name, nil when absent
func (l *Loader) GetFlow(name string) *models.Flow {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.flows[name]
}

// GetOperator returns a loaded operator by name, nil when absent
func (l *Loader) GetOperator(name string) *models.Operator {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.operators[name]
}

// Sync upserts the loaded catalog into the repository. Every flow step
// must reference a known operator; the check runs against the combined
// set of loaded and already-persisted operators.
func (l *Loader) Sync(ctx context.Context, repo storage.Repository) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, op := range l.operators {
		if err := repo.UpsertOperator(ctx, op); err != nil {
			return fmt.Errorf("failed to sync operator %s: %w", op.Name, err)
		}
	}

	for _, f := range l.flows {
		for _, step := range f.Steps {
			if _, ok := l.operators[step.OperatorName]; ok {
				continue
			}
			existing, err := repo.GetOperator(ctx, step.OperatorName)
			if err != nil {
				return fmt.Errorf("failed to check operator %s: %w", step.OperatorName, err)
			}
			if existing == nil {
				return fmt.Errorf("flow %s references unknown operator %s", f.Name, step.OperatorName)
			}
		}

		if err := repo.UpsertFlow(ctx, f); err != nil {
			return fmt.Errorf("failed to sync flow %s: %w", f.Name, err)
		}
	}

	slog.Info("catalog synced", "operators", len(l.operators), "flows", len(l.flows))

	return nil
}
