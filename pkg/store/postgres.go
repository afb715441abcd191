package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aegisgrid/mandate/pkg/contracts"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	sequence BIGINT NOT NULL UNIQUE,
	incident_id TEXT NOT NULL,
	playbook_id TEXT NOT NULL,
	step_id TEXT,
	policy JSONB NOT NULL,
	status TEXT NOT NULL,
	signatures JSONB NOT NULL,
	prev_hash TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	reject_reason TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	authorized_at TIMESTAMPTZ,
	executed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_decisions_incident ON decisions(incident_id);
CREATE TABLE IF NOT EXISTS receipts (
	receipt_id TEXT PRIMARY KEY,
	decision_id TEXT NOT NULL,
	sequence BIGINT NOT NULL UNIQUE,
	receipt_hash TEXT NOT NULL,
	prev_receipt_hash TEXT NOT NULL DEFAULT '',
	authorized_at TIMESTAMPTZ NOT NULL
);
`

// MigratePostgres creates the decision and receipt tables if absent.
func MigratePostgres(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// PostgresDecisionStore implements DecisionStore on PostgreSQL.
type PostgresDecisionStore struct {
	db *sql.DB
}

// NewPostgresDecisionStore wraps db as a DecisionStore.
func NewPostgresDecisionStore(db *sql.DB) *PostgresDecisionStore {
	return &PostgresDecisionStore{db: db}
}

const pgDecisionColumns = `id, sequence, incident_id, playbook_id, step_id, policy, status, signatures, prev_hash, content_hash, reject_reason, created_at, authorized_at, executed_at`

func (s *PostgresDecisionStore) Create(ctx context.Context, d *contracts.Decision) error {
	policyJSON, _ := json.Marshal(d.Policy)
	sigsJSON, _ := json.Marshal(d.Signatures)
	_, err := s.db.ExecContext(ctx, `INSERT INTO decisions
		(id, sequence, incident_id, playbook_id, step_id, policy, status, signatures, prev_hash, content_hash, reject_reason, created_at, authorized_at, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		d.ID, d.Sequence, d.IncidentID, d.PlaybookID, nullIfEmpty(d.StepID),
		string(policyJSON), string(d.Status), string(sigsJSON), d.PrevHash, d.ContentHash,
		nullIfEmpty(d.RejectReason), d.CreatedAt, d.AuthorizedAt, d.ExecutedAt)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanPGDecision(row rowScanner) (*contracts.Decision, error) {
	var d contracts.Decision
	var policyJSON, status, sigsJSON string
	var stepID, rejectReason sql.NullString
	var authorizedAt, executedAt sql.NullTime
	err := row.Scan(&d.ID, &d.Sequence, &d.IncidentID, &d.PlaybookID, &stepID,
		&policyJSON, &status, &sigsJSON, &d.PrevHash, &d.ContentHash,
		&rejectReason, &d.CreatedAt, &authorizedAt, &executedAt)
	if err != nil {
		return nil, err
	}
	d.StepID = stepID.String
	d.Status = contracts.DecisionStatus(status)
	d.RejectReason = rejectReason.String
	if err := json.Unmarshal([]byte(policyJSON), &d.Policy); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	if err := json.Unmarshal([]byte(sigsJSON), &d.Signatures); err != nil {
		return nil, fmt.Errorf("decode signatures: %w", err)
	}
	if authorizedAt.Valid {
		t := authorizedAt.Time
		d.AuthorizedAt = &t
	}
	if executedAt.Valid {
		t := executedAt.Time
		d.ExecutedAt = &t
	}
	return &d, nil
}

func (s *PostgresDecisionStore) Get(ctx context.Context, id string) (*contracts.Decision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pgDecisionColumns+` FROM decisions WHERE id = $1`, id)
	d, err := scanPGDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.NewNotFound("decision %s not found", id)
	}
	return d, err
}

func (s *PostgresDecisionStore) Update(ctx context.Context, d *contracts.Decision) error {
	sigsJSON, _ := json.Marshal(d.Signatures)
	res, err := s.db.ExecContext(ctx, `UPDATE decisions SET
		status = $1, signatures = $2, content_hash = $3, reject_reason = $4, authorized_at = $5, executed_at = $6
		WHERE id = $7`,
		string(d.Status), string(sigsJSON), d.ContentHash, nullIfEmpty(d.RejectReason),
		d.AuthorizedAt, d.ExecutedAt, d.ID)
	if err != nil {
		return fmt.Errorf("update decision: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return contracts.NewNotFound("decision %s not found", d.ID)
	}
	return nil
}

func (s *PostgresDecisionStore) List(ctx context.Context, f contracts.DecisionFilter) ([]*contracts.Decision, error) {
	query := `SELECT ` + pgDecisionColumns + ` FROM decisions WHERE 1=1`
	args := []any{}
	n := 0
	arg := func(v any) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}
	if f.Status != "" {
		query += ` AND status = ` + arg(string(f.Status))
	}
	if f.IncidentID != "" {
		query += ` AND incident_id = ` + arg(f.IncidentID)
	}
	if f.PlaybookID != "" {
		query += ` AND playbook_id = ` + arg(f.PlaybookID)
	}
	query += ` ORDER BY sequence DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += ` OFFSET ` + arg(f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Decision
	for rows.Next() {
		d, err := scanPGDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresDecisionStore) Chain(ctx context.Context) ([]*contracts.Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pgDecisionColumns+` FROM decisions ORDER BY sequence ASC`)
	if err != nil {
		return nil, fmt.Errorf("query decision chain: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Decision
	for rows.Next() {
		d, err := scanPGDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresDecisionStore) Head(ctx context.Context) (*contracts.Decision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pgDecisionColumns+` FROM decisions ORDER BY sequence DESC LIMIT 1`)
	d, err := scanPGDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

// PostgresReceiptStore implements ReceiptStore on PostgreSQL.
type PostgresReceiptStore struct {
	db *sql.DB
}

// NewPostgresReceiptStore wraps db as a ReceiptStore.
func NewPostgresReceiptStore(db *sql.DB) *PostgresReceiptStore {
	return &PostgresReceiptStore{db: db}
}

func (s *PostgresReceiptStore) Append(ctx context.Context, r *contracts.Receipt) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO receipts
		(receipt_id, decision_id, sequence, receipt_hash, prev_receipt_hash, authorized_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ReceiptID, r.DecisionID, r.Sequence, r.ReceiptHash, r.PrevReceiptHash, r.AuthorizedAt)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

func (s *PostgresReceiptStore) GetByDecision(ctx context.Context, decisionID string) (*contracts.Receipt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT receipt_id, decision_id, sequence, receipt_hash, prev_receipt_hash, authorized_at
		FROM receipts WHERE decision_id = $1`, decisionID)
	var r contracts.Receipt
	err := row.Scan(&r.ReceiptID, &r.DecisionID, &r.Sequence, &r.ReceiptHash, &r.PrevReceiptHash, &r.AuthorizedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.NewNotFound("receipt for decision %s not found", decisionID)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresReceiptStore) List(ctx context.Context) ([]*contracts.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT receipt_id, decision_id, sequence, receipt_hash, prev_receipt_hash, authorized_at
		FROM receipts ORDER BY sequence ASC`)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Receipt
	for rows.Next() {
		var r contracts.Receipt
		if err := rows.Scan(&r.ReceiptID, &r.DecisionID, &r.Sequence, &r.ReceiptHash, &r.PrevReceiptHash, &r.AuthorizedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *PostgresReceiptStore) Last(ctx context.Context) (*contracts.Receipt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT receipt_id, decision_id, sequence, receipt_hash, prev_receipt_hash, authorized_at
		FROM receipts ORDER BY sequence DESC LIMIT 1`)
	var r contracts.Receipt
	err := row.Scan(&r.ReceiptID, &r.DecisionID, &r.Sequence, &r.ReceiptHash, &r.PrevReceiptHash, &r.AuthorizedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
