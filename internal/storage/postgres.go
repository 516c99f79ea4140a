package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solvient/problem-engine/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int32
	MaxIdleConns int32
	MaxLifetime  time.Duration
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	} else {
		poolConfig.MaxConns = 25
	}

	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	} else {
		poolConfig.MinConns = 5
	}

	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// --- Problems ---

const problemColumns = `id, client_id, type, payload, context, status, price, payment_status, flow_name, result, error, created_at, updated_at`

// CreateProblem inserts a new problem record
func (r *PostgresRepository) CreateProblem(ctx context.Context, p *models.Problem) error {
	contextJSON, err := json.Marshal(p.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	query := `
		INSERT INTO problems (id, client_id, type, payload, context, status, price, payment_status, flow_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.pool.Exec(ctx, query,
		p.ID,
		p.ClientID,
		p.Type,
		[]byte(p.Payload),
		contextJSON,
		string(p.Status),
		p.Price,
		string(p.PaymentStatus),
		nullString(p.FlowName),
		p.CreatedAt,
		p.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create problem: %w", err)
	}

	return nil
}

// GetProblem retrieves a problem by ID
func (r *PostgresRepository) GetProblem(ctx context.Context, id string) (*models.Problem, error) {
	query := fmt.Sprintf(`SELECT %s FROM problems WHERE id = $1`, problemColumns)

	p, err := scanProblem(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get problem: %w", err)
	}

	return p, nil
}

// ListProblems returns problems matching filters, newest first
func (r *PostgresRepository) ListProblems(ctx context.Context, filters models.ProblemFilters) ([]*models.Problem, error) {
	query := fmt.Sprintf(`SELECT %s FROM problems WHERE 1=1`, problemColumns)
	args := make([]interface{}, 0)
	argNum := 1

	if filters.ClientID > 0 {
		query += fmt.Sprintf(" AND client_id = $%d", argNum)
		args = append(args, filters.ClientID)
		argNum++
	}

	if filters.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argNum)
		args = append(args, filters.Type)
		argNum++
	}

	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(filters.Status))
		argNum++
	}

	query += " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filters.Limit)
		argNum++
	}

	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filters.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list problems: %w", err)
	}
	defer rows.Close()

	var problems []*models.Problem
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan problem: %w", err)
		}
		problems = append(problems, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating problems: %w", err)
	}

	return problems, nil
}

// MarkPaid confirms payment for a priced problem
func (r *PostgresRepository) MarkPaid(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE problems
		SET payment_status = $2, status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`

	result, err := r.pool.Exec(ctx, query, id,
		string(models.PaymentConfirmed),
		string(models.StatusPaid),
		string(models.StatusPriced),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark problem paid: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// ClaimProblem is the compare-and-set claim guarding at-most-one execution
func (r *PostgresRepository) ClaimProblem(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE problems
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3 AND payment_status = $4
	`

	result, err := r.pool.Exec(ctx, query, id,
		string(models.StatusExecuting),
		string(models.StatusPaid),
		string(models.PaymentConfirmed),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim problem: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// FailProblem moves a problem to FAILED with an error description.
// Terminal states are sticky: an already-terminal row is left untouched.
func (r *PostgresRepository) FailProblem(ctx context.Context, id, errMsg string) error {
	query := `
		UPDATE problems
		SET status = $2, error = $3, result = NULL, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ($4, $5)
	`

	_, err := r.pool.Exec(ctx, query, id,
		string(models.StatusFailed),
		errMsg,
		string(models.StatusCompleted),
		string(models.StatusFailed),
	)
	if err != nil {
		return fmt.Errorf("failed to fail problem: %w", err)
	}

	return nil
}

// CompleteProblem records terminal success and books revenue in one transaction
func (r *PostgresRepository) CompleteProblem(ctx context.Context, id string, result json.RawMessage, entry *models.RevenueEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	updateQuery := `
		UPDATE problems
		SET status = $2, result = $3, error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`

	res, err := tx.Exec(ctx, updateQuery, id,
		string(models.StatusCompleted),
		[]byte(result),
		string(models.StatusExecuting),
	)
	if err != nil {
		return fmt.Errorf("failed to complete problem: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("problem not executing: %s", id)
	}

	insertQuery := `
		INSERT INTO revenue_entries (id, problem_id, amount, currency, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := tx.Exec(ctx, insertQuery, entry.ID, entry.ProblemID, entry.Amount, entry.Currency, entry.CreatedAt); err != nil {
		return fmt.Errorf("failed to book revenue: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit completion: %w", err)
	}

	return nil
}

// GetStalePaid returns ids of confirmed problems that never reached a worker
func (r *PostgresRepository) GetStalePaid(ctx context.Context, olderThan time.Duration) ([]string, error) {
	query := `
		SELECT id FROM problems
		WHERE status = $1 AND payment_status = $2 AND updated_at < NOW() - $3::interval
		ORDER BY updated_at ASC
	`

	interval := fmt.Sprintf("%d seconds", int(olderThan.Seconds()))
	rows, err := r.pool.Query(ctx, query, string(models.StatusPaid), string(models.PaymentConfirmed), interval)
	if err != nil {
		return nil, fmt.Errorf("failed to get stale paid problems: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan problem id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// --- Catalog ---

// UpsertFlow creates or replaces a flow definition
func (r *PostgresRepository) UpsertFlow(ctx context.Context, f *models.Flow) error {
	stepsJSON, err := json.Marshal(f.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	query := `
		INSERT INTO flows (name, problem_type, base_price, price_per_complexity, steps)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE
		SET problem_type = EXCLUDED.problem_type,
		    base_price = EXCLUDED.base_price,
		    price_per_complexity = EXCLUDED.price_per_complexity,
		    steps = EXCLUDED.steps
	`

	if _, err := r.pool.Exec(ctx, query, f.Name, f.ProblemType, f.BasePrice, f.PricePerComplexity, stepsJSON); err != nil {
		return fmt.Errorf("failed to upsert flow: %w", err)
	}

	return nil
}

// UpsertOperator creates or updates an operator descriptor.
// Execution counters are preserved on update.
func (r *PostgresRepository) UpsertOperator(ctx context.Context, op *models.Operator) error {
	query := `
		INSERT INTO operators (name, description, input_type, output_type, builtin)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE
		SET description = EXCLUDED.description,
		    input_type = EXCLUDED.input_type,
		    output_type = EXCLUDED.output_type,
		    builtin = EXCLUDED.builtin
	`

	if _, err := r.pool.Exec(ctx, query, op.Name, op.Description, op.InputType, op.OutputType, nullString(op.Builtin)); err != nil {
		return fmt.Errorf("failed to upsert operator: %w", err)
	}

	return nil
}

// GetFlow retrieves a flow by name
func (r *PostgresRepository) GetFlow(ctx context.Context, name string) (*models.Flow, error) {
	query := `
		SELECT name, problem_type, base_price, price_per_complexity, steps
		FROM flows
		WHERE name = $1
	`

	f, err := scanFlow(r.pool.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get flow: %w", err)
	}

	return f, nil
}

// GetFlowByProblemType returns the flow for a problem type. When several
// flows declare the same type the lexicographically first name wins, which
// keeps selection stable across calls.
func (r *PostgresRepository) GetFlowByProblemType(ctx context.Context, problemType string) (*models.Flow, error) {
	query := `
		SELECT name, problem_type, base_price, price_per_complexity, steps
		FROM flows
		WHERE problem_type = $1
		ORDER BY name ASC
		LIMIT 1
	`

	f, err := scanFlow(r.pool.QueryRow(ctx, query, problemType))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get flow by problem type: %w", err)
	}

	return f, nil
}

// ListFlows returns all flow definitions
func (r *PostgresRepository) ListFlows(ctx context.Context) ([]*models.Flow, error) {
	query := `
		SELECT name, problem_type, base_price, price_per_complexity, steps
		FROM flows
		ORDER BY name ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	defer rows.Close()

	var flows []*models.Flow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}
		flows = append(flows, f)
	}

	return flows, rows.Err()
}

// GetOperator retrieves an operator by name
func (r *PostgresRepository) GetOperator(ctx context.Context, name string) (*models.Operator, error) {
	query := `
		SELECT name, description, input_type, output_type, builtin, success_count, fail_count
		FROM operators
		WHERE name = $1
	`

	op, err := scanOperator(r.pool.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get operator: %w", err)
	}

	return op, nil
}

// ListOperators returns all operator descriptors
func (r *PostgresRepository) ListOperators(ctx context.Context) ([]*models.Operator, error) {
	query := `
		SELECT name, description, input_type, output_type, builtin, success_count, fail_count
		FROM operators
		ORDER BY name ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list operators: %w", err)
	}
	defer rows.Close()

	var operators []*models.Operator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operator: %w", err)
		}
		operators = append(operators, op)
	}

	return operators, rows.Err()
}

// IncrementOperatorSuccess bumps the success counter with a single atomic update
func (r *PostgresRepository) IncrementOperatorSuccess(ctx context.Context, name string) error {
	query := `UPDATE operators SET success_count = success_count + 1 WHERE name = $1`

	if _, err := r.pool.Exec(ctx, query, name); err != nil {
		return fmt.Errorf("failed to increment success count: %w", err)
	}

	return nil
}

// IncrementOperatorFailure bumps the failure counter with a single atomic update
func (r *PostgresRepository) IncrementOperatorFailure(ctx context.Context, name string) error {
	query := `UPDATE operators SET fail_count = fail_count + 1 WHERE name = $1`

	if _, err := r.pool.Exec(ctx, query, name); err != nil {
		return fmt.Errorf("failed to increment fail count: %w", err)
	}

	return nil
}

// --- Revenue ---

// RevenueTotal sums all booked revenue
func (r *PostgresRepository) RevenueTotal(ctx context.Context) (float64, error) {
	var total float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM revenue_entries`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum revenue: %w", err)
	}

	return total, nil
}

// --- API Clients ---

// GetClientByApiKey retrieves an API client by its key
func (r *PostgresRepository) GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error) {
	query := `
		SELECT id, name, api_key, is_active, created_at, last_used_at, permissions, metadata
		FROM api_clients
		WHERE api_key = $1
	`

	var client models.ApiClient
	var lastUsedAt sql.NullTime
	var permissionsJSON, metadataJSON []byte

	err := r.pool.QueryRow(ctx, query, apiKey).Scan(
		&client.ID,
		&client.Name,
		&client.ApiKey,
		&client.IsActive,
		&client.CreatedAt,
		&lastUsedAt,
		&permissionsJSON,
		&metadataJSON,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get api client: %w", err)
	}

	if lastUsedAt.Valid {
		client.LastUsedAt = &lastUsedAt.Time
	}

	if permissionsJSON != nil {
		if err := json.Unmarshal(permissionsJSON, &client.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &client.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &client, nil
}

// UpdateClientLastUsed updates the last_used_at timestamp for a client
func (r *PostgresRepository) UpdateClientLastUsed(ctx context.Context, apiKey string) error {
	query := `UPDATE api_clients SET last_used_at = NOW() WHERE api_key = $1`

	if _, err := r.pool.Exec(ctx, query, apiKey); err != nil {
		return fmt.Errorf("failed to update client last_used_at: %w", err)
	}

	return nil
}

// --- Scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProblem(row rowScanner) (*models.Problem, error) {
	var p models.Problem
	var statusStr, paymentStr string
	var flowName, errMsg sql.NullString
	var payloadJSON, contextJSON, resultJSON []byte

	err := row.Scan(
		&p.ID,
		&p.ClientID,
		&p.Type,
		&payloadJSON,
		&contextJSON,
		&statusStr,
		&p.Price,
		&paymentStr,
		&flowName,
		&resultJSON,
		&errMsg,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = models.ProblemStatus(statusStr)
	p.PaymentStatus = models.PaymentStatus(paymentStr)
	p.FlowName = flowName.String
	p.Error = errMsg.String
	p.Payload = json.RawMessage(payloadJSON)
	if resultJSON != nil {
		p.Result = json.RawMessage(resultJSON)
	}

	if contextJSON != nil {
		if err := json.Unmarshal(contextJSON, &p.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal context: %w", err)
		}
	}

	return &p, nil
}

func scanFlow(row rowScanner) (*models.Flow, error) {
	var f models.Flow
	var stepsJSON []byte

	if err := row.Scan(&f.Name, &f.ProblemType, &f.BasePrice, &f.PricePerComplexity, &stepsJSON); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stepsJSON, &f.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	return &f, nil
}

func scanOperator(row rowScanner) (*models.Operator, error) {
	var op models.Operator
	var builtin sql.NullString

	if err := row.Scan(&op.Name, &op.Description, &op.InputType, &op.OutputType, &builtin, &op.SuccessCount, &op.FailCount); err != nil {
		return nil, err
	}

	op.Builtin = builtin.String
	return &op, nil
}

// nullString maps "" to SQL NULL
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
