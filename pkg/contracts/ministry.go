package contracts

import "time"

// MinistryType categorizes a registered signing authority.
type MinistryType string

const (
	MinistryGovernment        MinistryType = "government"
	MinistryMilitary          MinistryType = "military"
	MinistryRegulatory        MinistryType = "regulatory"
	MinistryEmergencyServices MinistryType = "emergency_services"
	MinistryUtility           MinistryType = "utility"
)

// ValidMinistryType reports whether t is one of the enumerated ministry types.
func ValidMinistryType(t MinistryType) bool {
	switch t {
	case MinistryGovernment, MinistryMilitary, MinistryRegulatory,
		MinistryEmergencyServices, MinistryUtility:
		return true
	}
	return false
}

// MinistryStatus is the lifecycle state of a ministry's signing capability.
type MinistryStatus string

const (
	MinistryActive     MinistryStatus = "active"
	MinistryKeyRevoked MinistryStatus = "key_revoked"
)

// Contact identifies the human point of contact for a ministry.
type Contact struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// QuorumOverride lets a ministry tighten the conditions under which its
// signatures count. Constraint is a CEL expression over the action being
// authorized; an empty constraint imposes nothing.
type QuorumOverride struct {
	MinThreshold int    `json:"min_threshold,omitempty"`
	Constraint   string `json:"constraint,omitempty"`
}

// Ministry is a registered stakeholder entity authorized to sign decisions.
// The active key pair is mutated only through rotation, revocation and
// reissue; historical keys live on as KeyRecords.
type Ministry struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Code         string          `json:"code"`
	Type         MinistryType    `json:"type"`
	Jurisdiction string          `json:"jurisdiction,omitempty"`
	Status       MinistryStatus  `json:"status"`
	Contact      *Contact        `json:"contact,omitempty"`
	KeyID        string          `json:"key_id,omitempty"`
	PublicKey    string          `json:"public_key,omitempty"`
	Quorum       *QuorumOverride `json:"quorum,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// KeyStatus is the lifecycle state of a historical key record.
type KeyStatus string

const (
	KeyActive  KeyStatus = "active"
	KeyRotated KeyStatus = "rotated"
	KeyRevoked KeyStatus = "revoked"
)

// KeyRecord is the immutable history entry for a ministry key. Records are
// append-only; a superseded record points forward to its successor.
type KeyRecord struct {
	KeyID        string     `json:"key_id"`
	MinistryID   string     `json:"ministry_id"`
	PublicKey    string     `json:"public_key"`
	Status       KeyStatus  `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	SupersededBy string     `json:"superseded_by,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}
