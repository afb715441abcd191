package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aegisgrid/mandate/pkg/contracts"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and migrates) a SQLite database at path. Use ":memory:"
// for an ephemeral store.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids table locks.
	db.SetMaxOpenConns(1)
	return db, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ministries (
	id TEXT PRIMARY KEY,
	code TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	jurisdiction TEXT,
	status TEXT NOT NULL,
	contact JSON,
	key_id TEXT,
	public_key TEXT,
	quorum JSON,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS key_records (
	key_id TEXT PRIMARY KEY,
	ministry_id TEXT NOT NULL,
	public_key TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	superseded_by TEXT,
	revoked_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_key_records_ministry ON key_records(ministry_id);
CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	sequence INTEGER NOT NULL UNIQUE,
	incident_id TEXT NOT NULL,
	playbook_id TEXT NOT NULL,
	step_id TEXT,
	policy JSON NOT NULL,
	status TEXT NOT NULL,
	signatures JSON NOT NULL,
	prev_hash TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	reject_reason TEXT,
	created_at TEXT NOT NULL,
	authorized_at TEXT,
	executed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_decisions_incident ON decisions(incident_id);
CREATE TABLE IF NOT EXISTS receipts (
	receipt_id TEXT PRIMARY KEY,
	decision_id TEXT NOT NULL,
	sequence INTEGER NOT NULL UNIQUE,
	receipt_hash TEXT NOT NULL,
	prev_receipt_hash TEXT NOT NULL DEFAULT '',
	authorized_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_entries (
	entry_id TEXT PRIMARY KEY,
	sequence INTEGER NOT NULL UNIQUE,
	event_type TEXT NOT NULL,
	payload JSON NOT NULL,
	timestamp TEXT NOT NULL,
	prev_hash TEXT NOT NULL DEFAULT '',
	entry_hash TEXT NOT NULL
);
`

// MigrateSQLite creates the schema if it does not exist.
func MigrateSQLite(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SQLiteMinistryStore persists ministries and key records in SQLite.
type SQLiteMinistryStore struct {
	db *sql.DB
}

// NewSQLiteMinistryStore wraps db as a MinistryStore.
func NewSQLiteMinistryStore(db *sql.DB) *SQLiteMinistryStore {
	return &SQLiteMinistryStore{db: db}
}

func (s *SQLiteMinistryStore) Create(ctx context.Context, m *contracts.Ministry) error {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM ministries WHERE code = ?`, m.Code).Scan(&count); err != nil {
		return fmt.Errorf("check ministry code: %w", err)
	}
	if count > 0 {
		return contracts.NewDuplicate("ministry code %q already registered", m.Code)
	}

	contactJSON, _ := json.Marshal(m.Contact)
	quorumJSON, _ := json.Marshal(m.Quorum)
	_, err := s.db.ExecContext(ctx, `INSERT INTO ministries
		(id, code, name, type, jurisdiction, status, contact, key_id, public_key, quorum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Code, m.Name, string(m.Type), m.Jurisdiction, string(m.Status),
		string(contactJSON), m.KeyID, m.PublicKey, string(quorumJSON),
		fmtTime(m.CreatedAt), fmtTime(m.UpdatedAt))
	if err != nil {
		// The pre-check races concurrent inserts; the UNIQUE constraint is
		// the authority.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return contracts.NewDuplicate("ministry %s (code %q) conflicts with an existing record", m.ID, m.Code)
		}
		return fmt.Errorf("insert ministry: %w", err)
	}
	return nil
}

const ministryColumns = `id, code, name, type, jurisdiction, status, contact, key_id, public_key, quorum, created_at, updated_at`

func scanMinistry(row *sql.Row) (*contracts.Ministry, error) {
	var m contracts.Ministry
	var typ, status, contactJSON, quorumJSON, createdAt, updatedAt string
	var jurisdiction, keyID, publicKey sql.NullString
	err := row.Scan(&m.ID, &m.Code, &m.Name, &typ, &jurisdiction, &status,
		&contactJSON, &keyID, &publicKey, &quorumJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	m.Type = contracts.MinistryType(typ)
	m.Status = contracts.MinistryStatus(status)
	m.Jurisdiction = jurisdiction.String
	m.KeyID = keyID.String
	m.PublicKey = publicKey.String
	if contactJSON != "" && contactJSON != "null" {
		if err := json.Unmarshal([]byte(contactJSON), &m.Contact); err != nil {
			return nil, fmt.Errorf("decode contact: %w", err)
		}
	}
	if quorumJSON != "" && quorumJSON != "null" {
		if err := json.Unmarshal([]byte(quorumJSON), &m.Quorum); err != nil {
			return nil, fmt.Errorf("decode quorum: %w", err)
		}
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteMinistryStore) Get(ctx context.Context, id string) (*contracts.Ministry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ministryColumns+` FROM ministries WHERE id = ?`, id)
	m, err := scanMinistry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.NewNotFound("ministry %s not found", id)
	}
	return m, err
}

func (s *SQLiteMinistryStore) GetByCode(ctx context.Context, code string) (*contracts.Ministry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ministryColumns+` FROM ministries WHERE code = ?`, code)
	m, err := scanMinistry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.NewNotFound("ministry code %q not found", code)
	}
	return m, err
}

func (s *SQLiteMinistryStore) Update(ctx context.Context, m *contracts.Ministry) error {
	contactJSON, _ := json.Marshal(m.Contact)
	quorumJSON, _ := json.Marshal(m.Quorum)
	res, err := s.db.ExecContext(ctx, `UPDATE ministries SET
		name = ?, type = ?, jurisdiction = ?, status = ?, contact = ?,
		key_id = ?, public_key = ?, quorum = ?, updated_at = ?
		WHERE id = ?`,
		m.Name, string(m.Type), m.Jurisdiction, string(m.Status), string(contactJSON),
		m.KeyID, m.PublicKey, string(quorumJSON), fmtTime(m.UpdatedAt), m.ID)
	if err != nil {
		return fmt.Errorf("update ministry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return contracts.NewNotFound("ministry %s not found", m.ID)
	}
	return nil
}

func (s *SQLiteMinistryStore) AppendKeyRecord(ctx context.Context, r *contracts.KeyRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO key_records
		(key_id, ministry_id, public_key, status, created_at, superseded_by, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.KeyID, r.MinistryID, r.PublicKey, string(r.Status),
		fmtTime(r.CreatedAt), r.SupersededBy, fmtTimePtr(r.RevokedAt))
	if err != nil {
		return fmt.Errorf("insert key record: %w", err)
	}
	return nil
}

func (s *SQLiteMinistryStore) UpdateKeyRecord(ctx context.Context, r *contracts.KeyRecord) error {
	res, err := s.db.ExecContext(ctx, `UPDATE key_records SET
		status = ?, superseded_by = ?, revoked_at = ? WHERE key_id = ? AND ministry_id = ?`,
		string(r.Status), r.SupersededBy, fmtTimePtr(r.RevokedAt), r.KeyID, r.MinistryID)
	if err != nil {
		return fmt.Errorf("update key record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return contracts.NewNotFound("key record %s not found for ministry %s", r.KeyID, r.MinistryID)
	}
	return nil
}

func (s *SQLiteMinistryStore) KeyHistory(ctx context.Context, ministryID string) ([]*contracts.KeyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key_id, ministry_id, public_key, status, created_at, superseded_by, revoked_at
		FROM key_records WHERE ministry_id = ? ORDER BY created_at ASC`, ministryID)
	if err != nil {
		return nil, fmt.Errorf("query key records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.KeyRecord
	for rows.Next() {
		var r contracts.KeyRecord
		var status, createdAt string
		var supersededBy, revokedAt sql.NullString
		if err := rows.Scan(&r.KeyID, &r.MinistryID, &r.PublicKey, &status, &createdAt, &supersededBy, &revokedAt); err != nil {
			return nil, err
		}
		r.Status = contracts.KeyStatus(status)
		r.SupersededBy = supersededBy.String
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if r.RevokedAt, err = parseTimePtr(revokedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// SQLiteDecisionStore persists decisions in SQLite.
type SQLiteDecisionStore struct {
	db *sql.DB
}

// NewSQLiteDecisionStore wraps db as a DecisionStore.
func NewSQLiteDecisionStore(db *sql.DB) *SQLiteDecisionStore {
	return &SQLiteDecisionStore{db: db}
}

const decisionColumns = `id, sequence, incident_id, playbook_id, step_id, policy, status, signatures, prev_hash, content_hash, reject_reason, created_at, authorized_at, executed_at`

func (s *SQLiteDecisionStore) Create(ctx context.Context, d *contracts.Decision) error {
	policyJSON, _ := json.Marshal(d.Policy)
	sigsJSON, _ := json.Marshal(d.Signatures)
	_, err := s.db.ExecContext(ctx, `INSERT INTO decisions
		(id, sequence, incident_id, playbook_id, step_id, policy, status, signatures, prev_hash, content_hash, reject_reason, created_at, authorized_at, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Sequence, d.IncidentID, d.PlaybookID, d.StepID, string(policyJSON),
		string(d.Status), string(sigsJSON), d.PrevHash, d.ContentHash, d.RejectReason,
		fmtTime(d.CreatedAt), fmtTimePtr(d.AuthorizedAt), fmtTimePtr(d.ExecutedAt))
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*contracts.Decision, error) {
	var d contracts.Decision
	var policyJSON, status, sigsJSON, createdAt string
	var stepID, rejectReason, authorizedAt, executedAt sql.NullString
	err := row.Scan(&d.ID, &d.Sequence, &d.IncidentID, &d.PlaybookID, &stepID,
		&policyJSON, &status, &sigsJSON, &d.PrevHash, &d.ContentHash,
		&rejectReason, &createdAt, &authorizedAt, &executedAt)
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
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if d.AuthorizedAt, err = parseTimePtr(authorizedAt); err != nil {
		return nil, err
	}
	if d.ExecutedAt, err = parseTimePtr(executedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLiteDecisionStore) Get(ctx context.Context, id string) (*contracts.Decision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE id = ?`, id)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.NewNotFound("decision %s not found", id)
	}
	return d, err
}

func (s *SQLiteDecisionStore) Update(ctx context.Context, d *contracts.Decision) error {
	sigsJSON, _ := json.Marshal(d.Signatures)
	res, err := s.db.ExecContext(ctx, `UPDATE decisions SET
		status = ?, signatures = ?, content_hash = ?, reject_reason = ?, authorized_at = ?, executed_at = ?
		WHERE id = ?`,
		string(d.Status), string(sigsJSON), d.ContentHash, d.RejectReason,
		fmtTimePtr(d.AuthorizedAt), fmtTimePtr(d.ExecutedAt), d.ID)
	if err != nil {
		return fmt.Errorf("update decision: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return contracts.NewNotFound("decision %s not found", d.ID)
	}
	return nil
}

func (s *SQLiteDecisionStore) List(ctx context.Context, f contracts.DecisionFilter) ([]*contracts.Decision, error) {
	query := `SELECT ` + decisionColumns + ` FROM decisions WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.IncidentID != "" {
		query += ` AND incident_id = ?`
		args = append(args, f.IncidentID)
	}
	if f.PlaybookID != "" {
		query += ` AND playbook_id = ?`
		args = append(args, f.PlaybookID)
	}
	query += ` ORDER BY sequence DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	} else {
		query += ` LIMIT -1`
	}
	if f.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteDecisionStore) Chain(ctx context.Context) ([]*contracts.Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions ORDER BY sequence ASC`)
	if err != nil {
		return nil, fmt.Errorf("query decision chain: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteDecisionStore) Head(ctx context.Context) (*contracts.Decision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions ORDER BY sequence DESC LIMIT 1`)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

// SQLiteReceiptStore persists the receipt chain in SQLite.
type SQLiteReceiptStore struct {
	db *sql.DB
}

// NewSQLiteReceiptStore wraps db as a ReceiptStore.
func NewSQLiteReceiptStore(db *sql.DB) *SQLiteReceiptStore {
	return &SQLiteReceiptStore{db: db}
}

func (s *SQLiteReceiptStore) Append(ctx context.Context, r *contracts.Receipt) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO receipts
		(receipt_id, decision_id, sequence, receipt_hash, prev_receipt_hash, authorized_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ReceiptID, r.DecisionID, r.Sequence, r.ReceiptHash, r.PrevReceiptHash, fmtTime(r.AuthorizedAt))
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

func scanReceipt(row rowScanner) (*contracts.Receipt, error) {
	var r contracts.Receipt
	var authorizedAt string
	err := row.Scan(&r.ReceiptID, &r.DecisionID, &r.Sequence, &r.ReceiptHash, &r.PrevReceiptHash, &authorizedAt)
	if err != nil {
		return nil, err
	}
	if r.AuthorizedAt, err = parseTime(authorizedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteReceiptStore) GetByDecision(ctx context.Context, decisionID string) (*contracts.Receipt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT receipt_id, decision_id, sequence, receipt_hash, prev_receipt_hash, authorized_at
		FROM receipts WHERE decision_id = ?`, decisionID)
	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.NewNotFound("receipt for decision %s not found", decisionID)
	}
	return r, err
}

func (s *SQLiteReceiptStore) List(ctx context.Context) ([]*contracts.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT receipt_id, decision_id, sequence, receipt_hash, prev_receipt_hash, authorized_at
		FROM receipts ORDER BY sequence ASC`)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteReceiptStore) Last(ctx context.Context) (*contracts.Receipt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT receipt_id, decision_id, sequence, receipt_hash, prev_receipt_hash, authorized_at
		FROM receipts ORDER BY sequence DESC LIMIT 1`)
	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// SQLiteAuditStore persists the audit chain in SQLite.
type SQLiteAuditStore struct {
	db *sql.DB
}

// NewSQLiteAuditStore wraps db as an AuditStore.
func NewSQLiteAuditStore(db *sql.DB) *SQLiteAuditStore {
	return &SQLiteAuditStore{db: db}
}

func (s *SQLiteAuditStore) Append(ctx context.Context, e *contracts.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_entries
		(entry_id, sequence, event_type, payload, timestamp, prev_hash, entry_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.EntryID, e.Sequence, string(e.EventType), string(e.Payload),
		fmtTime(e.Timestamp), e.PrevHash, e.EntryHash)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func scanAuditEntry(row rowScanner) (*contracts.AuditEntry, error) {
	var e contracts.AuditEntry
	var eventType, payload, timestamp string
	err := row.Scan(&e.EntryID, &e.Sequence, &eventType, &payload, &timestamp, &e.PrevHash, &e.EntryHash)
	if err != nil {
		return nil, err
	}
	e.EventType = contracts.AuditEventType(eventType)
	e.Payload = json.RawMessage(payload)
	if e.Timestamp, err = parseTime(timestamp); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteAuditStore) List(ctx context.Context, limit, offset int) ([]*contracts.AuditEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT entry_id, sequence, event_type, payload, timestamp, prev_hash, entry_hash
		FROM audit_entries ORDER BY sequence ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteAuditStore) Last(ctx context.Context) (*contracts.AuditEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT entry_id, sequence, event_type, payload, timestamp, prev_hash, entry_hash
		FROM audit_entries ORDER BY sequence DESC LIMIT 1`)
	e, err := scanAuditEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}
