package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// JurisdictionProfile carries per-jurisdiction policy defaults: the quorum
// shape new decisions default to and key handling requirements for the
// ministries operating there.
type JurisdictionProfile struct {
	Name         string         `yaml:"name" json:"name"`
	Code         string         `yaml:"code" json:"code"`
	Quorum       QuorumDefaults `yaml:"quorum" json:"quorum"`
	CryptoPolicy CryptoPolicy   `yaml:"crypto_policy" json:"crypto_policy"`
	Retention    Retention      `yaml:"retention" json:"retention"`
}

// QuorumDefaults sets the default M-of-N shape for decisions created under
// the jurisdiction.
type QuorumDefaults struct {
	DefaultThreshold int      `yaml:"default_threshold" json:"default_threshold"`
	MinSigners       int      `yaml:"min_signers" json:"min_signers"`
	MandatoryTypes   []string `yaml:"mandatory_types,omitempty" json:"mandatory_types,omitempty"`
}

// CryptoPolicy defines key handling requirements.
type CryptoPolicy struct {
	KeyRotationDays int  `yaml:"key_rotation_days" json:"key_rotation_days"`
	RequireHSM      bool `yaml:"require_hsm,omitempty" json:"require_hsm,omitempty"`
}

// Retention defines how long decision and audit records are kept.
type Retention struct {
	DecisionDays int `yaml:"decision_days" json:"decision_days"`
	AuditLogDays int `yaml:"audit_log_days" json:"audit_log_days"`
}

// LoadProfile loads a jurisdiction profile YAML by code. It searches the
// profiles directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*JurisdictionProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile JurisdictionProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}
	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles directory.
func LoadAllProfiles(profilesDir string) (map[string]*JurisdictionProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*JurisdictionProfile, len(matches))
	for _, path := range matches {
		base := filepath.Base(path)
		code := strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		p, err := LoadProfile(profilesDir, code)
		if err != nil {
			return nil, err
		}
		profiles[p.Code] = p
	}
	return profiles, nil
}
