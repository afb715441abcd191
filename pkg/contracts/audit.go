package contracts

import (
	"encoding/json"
	"time"
)

// AuditEventType is the closed set of lifecycle events the audit log records.
type AuditEventType string

const (
	AuditKeyIssued          AuditEventType = "KEY_ISSUED"
	AuditKeyRotated         AuditEventType = "KEY_ROTATED"
	AuditKeyRevoked         AuditEventType = "KEY_REVOKED"
	AuditMinistryRegistered AuditEventType = "MINISTRY_REGISTERED"
	AuditMinistryUpdated    AuditEventType = "MINISTRY_UPDATED"
	AuditDecisionCreated    AuditEventType = "DECISION_CREATED"
	AuditSignatureSubmitted AuditEventType = "SIGNATURE_SUBMITTED"
	AuditSignatureRejected  AuditEventType = "SIGNATURE_REJECTED"
	AuditDecisionAuthorized AuditEventType = "DECISION_AUTHORIZED"
	AuditDecisionRejected   AuditEventType = "DECISION_REJECTED"
	AuditDecisionExecuted   AuditEventType = "DECISION_EXECUTED"
)

// AuditPayload is implemented by every typed audit event payload. Keeping the
// set closed (rather than ad-hoc string-keyed maps) makes entries parseable
// long after the fact.
type AuditPayload interface {
	AuditEventType() AuditEventType
}

// KeyEventPayload records a key lifecycle event on a ministry.
type KeyEventPayload struct {
	Event      AuditEventType `json:"event"`
	MinistryID string         `json:"ministry_id"`
	KeyID      string         `json:"key_id,omitempty"`
	NewKeyID   string         `json:"new_key_id,omitempty"`
}

func (p KeyEventPayload) AuditEventType() AuditEventType { return p.Event }

// MinistryEventPayload records registration or mutation of a ministry.
type MinistryEventPayload struct {
	Event      AuditEventType `json:"event"`
	MinistryID string         `json:"ministry_id"`
	Code       string         `json:"code,omitempty"`
}

func (p MinistryEventPayload) AuditEventType() AuditEventType { return p.Event }

// DecisionEventPayload records a decision lifecycle transition.
type DecisionEventPayload struct {
	Event      AuditEventType `json:"event"`
	DecisionID string         `json:"decision_id"`
	IncidentID string         `json:"incident_id,omitempty"`
	Status     DecisionStatus `json:"status,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

func (p DecisionEventPayload) AuditEventType() AuditEventType { return p.Event }

// SignatureEventPayload records a signature submission attempt, accepted or
// not. Outcome carries the rejection kind for refused submissions.
type SignatureEventPayload struct {
	Event      AuditEventType `json:"event"`
	DecisionID string         `json:"decision_id"`
	MinistryID string         `json:"ministry_id"`
	KeyID      string         `json:"key_id,omitempty"`
	Outcome    string         `json:"outcome,omitempty"`
}

func (p SignatureEventPayload) AuditEventType() AuditEventType { return p.Event }

// AuditEntry is an immutable, hash-chained record of a lifecycle event.
// EntryHash = sha256(PrevHash || EventType || JCS(Payload) || Timestamp).
type AuditEntry struct {
	EntryID   string          `json:"entry_id"`
	Sequence  uint64          `json:"sequence"`
	EventType AuditEventType  `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	PrevHash  string          `json:"prev_hash"`
	EntryHash string          `json:"entry_hash"`
}
