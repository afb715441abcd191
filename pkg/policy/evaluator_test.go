package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisgrid/mandate/pkg/contracts"
)

func staticResolver(keys map[string]string) KeyResolver {
	return func(_ context.Context, ministryID string) (string, error) {
		key, ok := keys[ministryID]
		if !ok {
			return "", contracts.NewNotFound("ministry %s not found", ministryID)
		}
		return key, nil
	}
}

func sig(ministryID, keyID string) contracts.Signature {
	return contracts.Signature{MinistryID: ministryID, KeyID: keyID}
}

func TestEvaluate_ThresholdMet(t *testing.T) {
	p := contracts.DecisionPolicy{Threshold: 2, Required: 3, Signers: []string{"a", "b", "c"}}
	resolve := staticResolver(map[string]string{"a": "ka", "b": "kb", "c": "kc"})

	eval, err := Evaluate(context.Background(), p, []contracts.Signature{
		sig("a", "ka"), sig("c", "kc"),
	}, resolve)
	require.NoError(t, err)
	assert.True(t, eval.Authorized)
	assert.Equal(t, 2, eval.ValidCount)
	assert.Equal(t, []string{"a", "c"}, eval.Signed)
	assert.Equal(t, []string{"b"}, eval.Missing)
}

func TestEvaluate_BelowThreshold(t *testing.T) {
	p := contracts.DecisionPolicy{Threshold: 2, Required: 3, Signers: []string{"a", "b", "c"}}
	resolve := staticResolver(map[string]string{"a": "ka", "b": "kb", "c": "kc"})

	eval, err := Evaluate(context.Background(), p, []contracts.Signature{sig("b", "kb")}, resolve)
	require.NoError(t, err)
	assert.False(t, eval.Authorized)
	assert.Equal(t, 1, eval.ValidCount)
}

func TestEvaluate_DedupesPerMinistry(t *testing.T) {
	p := contracts.DecisionPolicy{Threshold: 2, Required: 2, Signers: []string{"a", "b"}}
	resolve := staticResolver(map[string]string{"a": "ka", "b": "kb"})

	eval, err := Evaluate(context.Background(), p, []contracts.Signature{
		sig("a", "ka"), sig("a", "ka"), sig("a", "ka"),
	}, resolve)
	require.NoError(t, err)
	assert.False(t, eval.Authorized)
	assert.Equal(t, 1, eval.ValidCount)
}

func TestEvaluate_IgnoresIneligibleSigners(t *testing.T) {
	p := contracts.DecisionPolicy{Threshold: 1, Required: 1, Signers: []string{"a"}}
	resolve := staticResolver(map[string]string{"a": "ka", "z": "kz"})

	eval, err := Evaluate(context.Background(), p, []contracts.Signature{sig("z", "kz")}, resolve)
	require.NoError(t, err)
	assert.False(t, eval.Authorized)
	assert.Zero(t, eval.ValidCount)
}

func TestEvaluate_StaleKeyStopsCounting(t *testing.T) {
	p := contracts.DecisionPolicy{Threshold: 2, Required: 2, Signers: []string{"a", "b"}}
	// Ministry a signed with ka but has since rotated to ka2.
	resolve := staticResolver(map[string]string{"a": "ka2", "b": "kb"})

	eval, err := Evaluate(context.Background(), p, []contracts.Signature{
		sig("a", "ka"), sig("b", "kb"),
	}, resolve)
	require.NoError(t, err)
	assert.False(t, eval.Authorized)
	assert.Equal(t, 1, eval.ValidCount)
	assert.Equal(t, []string{"b"}, eval.Signed)
	assert.Equal(t, []string{"a"}, eval.Missing)
}

func TestEvaluate_RevokedKeyStopsCounting(t *testing.T) {
	p := contracts.DecisionPolicy{Threshold: 1, Required: 1, Signers: []string{"a"}}
	// Revoked ministries resolve to an empty key id.
	resolve := staticResolver(map[string]string{"a": ""})

	eval, err := Evaluate(context.Background(), p, []contracts.Signature{sig("a", "ka")}, resolve)
	require.NoError(t, err)
	assert.False(t, eval.Authorized)
}

func TestEvaluate_UnknownMinistrySkipped(t *testing.T) {
	p := contracts.DecisionPolicy{Threshold: 1, Required: 2, Signers: []string{"a", "gone"}}
	resolve := staticResolver(map[string]string{"a": "ka"})

	eval, err := Evaluate(context.Background(), p, []contracts.Signature{
		sig("gone", "kx"), sig("a", "ka"),
	}, resolve)
	require.NoError(t, err)
	assert.True(t, eval.Authorized)
	assert.Equal(t, 1, eval.ValidCount)
}

func TestEvaluate_ResolverFailurePropagates(t *testing.T) {
	p := contracts.DecisionPolicy{Threshold: 1, Required: 1, Signers: []string{"a"}}
	resolve := func(_ context.Context, _ string) (string, error) {
		return "", errors.New("store offline")
	}

	_, err := Evaluate(context.Background(), p, []contracts.Signature{sig("a", "ka")}, resolve)
	assert.Error(t, err)
}
