// Package crypto implements the Ed25519 signing and verification primitives
// used for ministry sign-offs. Signatures always cover the JCS canonical form
// of the payload so a byte-identical payload is recoverable at audit time.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/aegisgrid/mandate/pkg/canonicalize"
	"github.com/aegisgrid/mandate/pkg/contracts"
)

// KeyPair holds a freshly generated signing key. The private half never
// leaves the caller; the registry persists only the public key.
type KeyPair struct {
	KeyID      string
	PublicKey  string // hex
	PrivateKey ed25519.PrivateKey
}

// GenerateKeyPair creates a new Ed25519 key pair with a unique key id.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &KeyPair{
		KeyID:      "key-" + uuid.New().String(),
		PublicKey:  hex.EncodeToString(pub),
		PrivateKey: priv,
	}, nil
}

// SigningPayload is the canonical structure a ministry signs when approving a
// decision. Everything the signature attests to lives here.
type SigningPayload struct {
	DecisionID string                `json:"decision_id"`
	ActionType string                `json:"action_type"`
	Scope      contracts.ActionScope `json:"scope"`
	MinistryID string                `json:"ministry_id"`
}

// PayloadBytes returns the canonical bytes of the signing payload.
func PayloadBytes(p SigningPayload) ([]byte, error) {
	return canonicalize.JCS(p)
}

// Sign produces a hex-encoded Ed25519 signature over the canonical payload.
func Sign(priv ed25519.PrivateKey, p SigningPayload) (string, error) {
	msg, err := PayloadBytes(p)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ed25519.Sign(priv, msg)), nil
}

// Verify checks a hex-encoded signature against a hex-encoded public key over
// the canonical payload bytes.
func Verify(pubKeyHex, sigHex string, p SigningPayload) (bool, error) {
	msg, err := PayloadBytes(p)
	if err != nil {
		return false, err
	}
	return VerifyBytes(pubKeyHex, sigHex, msg)
}

// VerifyBytes checks a hex-encoded signature over raw message bytes.
func VerifyBytes(pubKeyHex, sigHex string, msg []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size: %d", len(pubKey))
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), msg, sig), nil
}
