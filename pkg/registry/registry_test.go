package registry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisgrid/mandate/pkg/audit"
	"github.com/aegisgrid/mandate/pkg/contracts"
	"github.com/aegisgrid/mandate/pkg/store"
)

func newTestRegistry() (*Registry, *audit.Log) {
	auditLog := audit.NewLog(store.NewMemoryAuditStore())
	return New(store.NewMemoryMinistryStore(), auditLog), auditLog
}

func register(t *testing.T, r *Registry, code string) *Registration {
	t.Helper()
	reg, err := r.Register(context.Background(), RegisterParams{
		Name: "Ministry " + code,
		Code: code,
		Type: contracts.MinistryGovernment,
	})
	require.NoError(t, err)
	return reg
}

func TestRegister(t *testing.T) {
	r, auditLog := newTestRegistry()
	reg := register(t, r, "MOD")

	assert.NotEmpty(t, reg.Ministry.ID)
	assert.Equal(t, contracts.MinistryActive, reg.Ministry.Status)
	assert.NotEmpty(t, reg.Ministry.KeyID)
	assert.NotEmpty(t, reg.Ministry.PublicKey)
	assert.NotEmpty(t, reg.PrivateKey)

	history, err := r.KeyHistory(context.Background(), reg.Ministry.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, contracts.KeyActive, history[0].Status)

	entries, err := auditLog.List(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, contracts.AuditMinistryRegistered, entries[0].EventType)
	assert.Equal(t, contracts.AuditKeyIssued, entries[1].EventType)
}

func TestRegister_Validation(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, RegisterParams{Code: "X", Type: contracts.MinistryUtility})
	assert.True(t, contracts.IsValidation(err))

	_, err = r.Register(ctx, RegisterParams{Name: "X", Type: contracts.MinistryUtility})
	assert.True(t, contracts.IsValidation(err))

	_, err = r.Register(ctx, RegisterParams{Name: "X", Code: "X", Type: "circus"})
	assert.True(t, contracts.IsValidation(err))
}

func TestRegister_DuplicateCode(t *testing.T) {
	r, _ := newTestRegistry()
	register(t, r, "MOD")

	_, err := r.Register(context.Background(), RegisterParams{
		Name: "Other", Code: "MOD", Type: contracts.MinistryMilitary,
	})
	assert.True(t, contracts.IsDuplicate(err))
}

func TestUpdate_MergesFields(t *testing.T) {
	r, _ := newTestRegistry()
	reg := register(t, r, "MOD")
	ctx := context.Background()

	name := "Renamed Ministry"
	jur := "north"
	m, err := r.Update(ctx, reg.Ministry.ID, UpdateParams{
		Name:         &name,
		Jurisdiction: &jur,
		Quorum:       &contracts.QuorumOverride{MinThreshold: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed Ministry", m.Name)
	assert.Equal(t, "north", m.Jurisdiction)
	require.NotNil(t, m.Quorum)
	assert.Equal(t, 2, m.Quorum.MinThreshold)
	// Untouched fields survive.
	assert.Equal(t, "MOD", m.Code)
	assert.Equal(t, reg.Ministry.KeyID, m.KeyID)
}

func TestUpdate_RejectsEmptyName(t *testing.T) {
	r, _ := newTestRegistry()
	reg := register(t, r, "MOD")

	empty := ""
	_, err := r.Update(context.Background(), reg.Ministry.ID, UpdateParams{Name: &empty})
	assert.True(t, contracts.IsValidation(err))
}

func TestRotateKey(t *testing.T) {
	r, _ := newTestRegistry()
	reg := register(t, r, "MOD")
	ctx := context.Background()

	rot, err := r.RotateKey(ctx, reg.Ministry.ID)
	require.NoError(t, err)
	assert.Equal(t, reg.Ministry.KeyID, rot.OldKeyID)
	assert.NotEqual(t, rot.OldKeyID, rot.NewKeyID)

	m, err := r.Get(ctx, reg.Ministry.ID)
	require.NoError(t, err)
	assert.Equal(t, rot.NewKeyID, m.KeyID)
	assert.Equal(t, contracts.MinistryActive, m.Status)

	history, err := r.KeyHistory(ctx, reg.Ministry.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, contracts.KeyRotated, history[0].Status)
	assert.Equal(t, rot.NewKeyID, history[0].SupersededBy)
	assert.Equal(t, contracts.KeyActive, history[1].Status)
}

func TestRevokeKey(t *testing.T) {
	r, _ := newTestRegistry()
	reg := register(t, r, "MOD")
	ctx := context.Background()

	rev, err := r.RevokeKey(ctx, reg.Ministry.ID)
	require.NoError(t, err)
	assert.Equal(t, reg.Ministry.KeyID, rev.RevokedKeyID)

	m, err := r.Get(ctx, reg.Ministry.ID)
	require.NoError(t, err)
	assert.Empty(t, m.KeyID)
	assert.Empty(t, m.PublicKey)
	assert.Equal(t, contracts.MinistryKeyRevoked, m.Status)

	history, err := r.KeyHistory(ctx, reg.Ministry.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, contracts.KeyRevoked, history[0].Status)
	assert.NotNil(t, history[0].RevokedAt)

	// Nothing left to revoke or rotate.
	_, err = r.RevokeKey(ctx, reg.Ministry.ID)
	assert.True(t, contracts.IsInvalidState(err))
	_, err = r.RotateKey(ctx, reg.Ministry.ID)
	assert.True(t, contracts.IsInvalidState(err))
}

func TestReissueKey(t *testing.T) {
	r, _ := newTestRegistry()
	reg := register(t, r, "MOD")
	ctx := context.Background()

	// Reissue is only for ministries without an active key.
	_, err := r.ReissueKey(ctx, reg.Ministry.ID)
	assert.True(t, contracts.IsInvalidState(err))

	_, err = r.RevokeKey(ctx, reg.Ministry.ID)
	require.NoError(t, err)

	rot, err := r.ReissueKey(ctx, reg.Ministry.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, rot.NewKeyID)

	m, err := r.Get(ctx, reg.Ministry.ID)
	require.NoError(t, err)
	assert.Equal(t, rot.NewKeyID, m.KeyID)
	assert.Equal(t, contracts.MinistryActive, m.Status)
}

func TestActiveKey(t *testing.T) {
	r, _ := newTestRegistry()
	reg := register(t, r, "MOD")
	ctx := context.Background()

	keyID, pub, err := r.ActiveKey(ctx, reg.Ministry.ID)
	require.NoError(t, err)
	assert.Equal(t, reg.Ministry.KeyID, keyID)
	assert.Equal(t, reg.Ministry.PublicKey, pub)

	_, err = r.RevokeKey(ctx, reg.Ministry.ID)
	require.NoError(t, err)
	keyID, _, err = r.ActiveKey(ctx, reg.Ministry.ID)
	require.NoError(t, err)
	assert.Empty(t, keyID)

	_, _, err = r.ActiveKey(ctx, "min-unknown")
	assert.True(t, contracts.IsNotFound(err))
}

type failingAuditStore struct{}

func (failingAuditStore) Append(context.Context, *contracts.AuditEntry) error {
	return errors.New("audit storage down")
}

func (failingAuditStore) List(context.Context, int, int) ([]*contracts.AuditEntry, error) {
	return nil, errors.New("audit storage down")
}

func (failingAuditStore) Last(context.Context) (*contracts.AuditEntry, error) {
	return nil, errors.New("audit storage down")
}

func TestRegister_AuditFailureIsLoggedNotSwallowed(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	auditLog := audit.NewLog(failingAuditStore{})
	r := New(store.NewMemoryMinistryStore(), auditLog).WithLogger(logger)

	reg := register(t, r, "MOD")
	assert.NotEmpty(t, reg.Ministry.ID)
	assert.Contains(t, buf.String(), "audit append failed")
}
