package ledger

import (
	"context"
	"crypto/ed25519"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisgrid/mandate/pkg/audit"
	"github.com/aegisgrid/mandate/pkg/contracts"
	"github.com/aegisgrid/mandate/pkg/crypto"
	"github.com/aegisgrid/mandate/pkg/policy"
	"github.com/aegisgrid/mandate/pkg/registry"
	"github.com/aegisgrid/mandate/pkg/store"
)

type fixture struct {
	ledger   *Ledger
	registry *registry.Registry
	audit    *audit.Log

	// private keys by ministry id, updated on rotation
	keys map[string]ed25519.PrivateKey
	ids  []string
}

func newFixture(t *testing.T, ministries int) *fixture {
	t.Helper()
	auditLog := audit.NewLog(store.NewMemoryAuditStore())
	reg := registry.New(store.NewMemoryMinistryStore(), auditLog)
	scopes, err := policy.NewScopeEvaluator()
	require.NoError(t, err)

	f := &fixture{
		ledger: New(store.NewMemoryDecisionStore(), store.NewMemoryReceiptStore(),
			reg, scopes, auditLog, slog.Default()),
		registry: reg,
		audit:    auditLog,
		keys:     make(map[string]ed25519.PrivateKey),
	}

	codes := []string{"MOD", "MOI", "MOE", "MOH", "MOJ"}
	for i := 0; i < ministries; i++ {
		r, err := reg.Register(context.Background(), registry.RegisterParams{
			Name: "Ministry " + codes[i], Code: codes[i], Type: contracts.MinistryGovernment,
		})
		require.NoError(t, err)
		f.keys[r.Ministry.ID] = r.PrivateKey
		f.ids = append(f.ids, r.Ministry.ID)
	}
	return f
}

func (f *fixture) createDecision(t *testing.T, threshold int, prevHash string) *contracts.Decision {
	t.Helper()
	d, err := f.ledger.Create(context.Background(), CreateParams{
		IncidentID: "inc-1",
		PlaybookID: "pb-flood",
		StepID:     "step-1",
		Policy: contracts.DecisionPolicy{
			Threshold: threshold,
			Required:  len(f.ids),
			Signers:   append([]string(nil), f.ids...),
		},
		PrevHash: prevHash,
	})
	require.NoError(t, err)
	return d
}

func (f *fixture) sign(t *testing.T, decisionID, ministryID, actionType string, scope contracts.ActionScope) SubmitParams {
	t.Helper()
	ctx := context.Background()
	m, err := f.registry.Get(ctx, ministryID)
	require.NoError(t, err)
	sig, err := crypto.Sign(f.keys[ministryID], crypto.SigningPayload{
		DecisionID: decisionID,
		ActionType: actionType,
		Scope:      scope,
		MinistryID: ministryID,
	})
	require.NoError(t, err)
	return SubmitParams{
		DecisionID: decisionID,
		MinistryID: ministryID,
		Signature:  sig,
		KeyID:      m.KeyID,
		ActionType: actionType,
		Scope:      scope,
	}
}

func TestCreate_FirstDecision(t *testing.T) {
	f := newFixture(t, 2)
	d := f.createDecision(t, 2, "")

	assert.Equal(t, uint64(1), d.Sequence)
	assert.Equal(t, contracts.DecisionPending, d.Status)
	assert.Empty(t, d.PrevHash)
	assert.NotEmpty(t, d.ContentHash)
}

func TestCreate_ChainLinkage(t *testing.T) {
	f := newFixture(t, 2)
	d1 := f.createDecision(t, 2, "")
	d2 := f.createDecision(t, 2, d1.ContentHash)

	assert.Equal(t, uint64(2), d2.Sequence)
	assert.Equal(t, d1.ContentHash, d2.PrevHash)
}

func TestCreate_ChainLinkErrors(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	// Empty chain refuses a previous hash.
	_, err := f.ledger.Create(ctx, CreateParams{
		IncidentID: "inc-1", PlaybookID: "pb-1",
		Policy:   contracts.DecisionPolicy{Threshold: 1, Required: 2, Signers: f.ids},
		PrevHash: "bogus",
	})
	assert.True(t, contracts.IsChainLink(err))

	d1 := f.createDecision(t, 1, "")

	// Non-head hash refused.
	_, err = f.ledger.Create(ctx, CreateParams{
		IncidentID: "inc-1", PlaybookID: "pb-1",
		Policy:   contracts.DecisionPolicy{Threshold: 1, Required: 2, Signers: f.ids},
		PrevHash: "not-" + d1.ContentHash,
	})
	assert.True(t, contracts.IsChainLink(err))

	// Missing hash on a non-empty chain refused.
	_, err = f.ledger.Create(ctx, CreateParams{
		IncidentID: "inc-1", PlaybookID: "pb-1",
		Policy: contracts.DecisionPolicy{Threshold: 1, Required: 2, Signers: f.ids},
	})
	assert.True(t, contracts.IsChainLink(err))
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	_, err := f.ledger.Create(ctx, CreateParams{
		PlaybookID: "pb-1",
		Policy:     contracts.DecisionPolicy{Threshold: 1, Required: 2, Signers: f.ids},
	})
	assert.True(t, contracts.IsValidation(err))

	_, err = f.ledger.Create(ctx, CreateParams{
		IncidentID: "inc-1",
		Policy:     contracts.DecisionPolicy{Threshold: 1, Required: 2, Signers: f.ids},
	})
	assert.True(t, contracts.IsValidation(err))

	// Unregistered signer.
	_, err = f.ledger.Create(ctx, CreateParams{
		IncidentID: "inc-1", PlaybookID: "pb-1",
		Policy: contracts.DecisionPolicy{Threshold: 1, Required: 2, Signers: []string{f.ids[0], "min-ghost"}},
	})
	assert.True(t, contracts.IsValidation(err))
}

func TestReject(t *testing.T) {
	f := newFixture(t, 2)
	d := f.createDecision(t, 2, "")

	rejected, err := f.ledger.Reject(context.Background(), d.ID, "incident stood down")
	require.NoError(t, err)
	assert.Equal(t, contracts.DecisionRejected, rejected.Status)
	assert.Equal(t, "incident stood down", rejected.RejectReason)

	// Terminal: no further transitions, no signatures.
	_, err = f.ledger.Reject(context.Background(), d.ID, "again")
	assert.True(t, contracts.IsInvalidState(err))
	_, err = f.ledger.Submit(context.Background(), f.sign(t, d.ID, f.ids[0], "act", contracts.ActionScope{}))
	assert.True(t, contracts.IsInvalidState(err))
}

func TestMarkExecuted_RequiresAuthorized(t *testing.T) {
	f := newFixture(t, 1)
	d := f.createDecision(t, 1, "")
	ctx := context.Background()

	_, err := f.ledger.MarkExecuted(ctx, d.ID)
	assert.True(t, contracts.IsInvalidState(err))

	res, err := f.ledger.Submit(ctx, f.sign(t, d.ID, f.ids[0], "act", contracts.ActionScope{}))
	require.NoError(t, err)
	require.Equal(t, contracts.DecisionAuthorized, res.Decision.Status)

	executed, err := f.ledger.MarkExecuted(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.DecisionExecuted, executed.Status)
	assert.NotNil(t, executed.ExecutedAt)

	_, err = f.ledger.MarkExecuted(ctx, d.ID)
	assert.True(t, contracts.IsInvalidState(err))
}

func TestAuthorize_ReDrive(t *testing.T) {
	f := newFixture(t, 1)
	d := f.createDecision(t, 1, "")
	ctx := context.Background()

	// Below threshold: refused.
	_, err := f.ledger.Authorize(ctx, d.ID)
	assert.True(t, contracts.IsInvalidState(err))
}

func TestChainAndReceipts(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	d1 := f.createDecision(t, 1, "")
	d2 := f.createDecision(t, 1, d1.ContentHash)

	_, err := f.ledger.Submit(ctx, f.sign(t, d2.ID, f.ids[0], "act", contracts.ActionScope{}))
	require.NoError(t, err)
	_, err = f.ledger.Submit(ctx, f.sign(t, d1.ID, f.ids[0], "act", contracts.ActionScope{}))
	require.NoError(t, err)

	chain, err := f.ledger.Chain(ctx)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, d1.ID, chain[0].ID)
	assert.Equal(t, d2.ID, chain[1].ID)

	// Receipts chain in authorization order, which here differs from
	// creation order.
	receipts, err := f.ledger.Receipts(ctx)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	assert.Equal(t, d2.ID, receipts[0].DecisionID)
	assert.Equal(t, d1.ID, receipts[1].DecisionID)
	assert.Equal(t, uint64(1), receipts[0].Sequence)
	assert.Equal(t, uint64(2), receipts[1].Sequence)
	assert.Empty(t, receipts[0].PrevReceiptHash)
	assert.Equal(t, receipts[0].ReceiptHash, receipts[1].PrevReceiptHash)
}

func TestContentHash_StableAcrossLifecycle(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	d := f.createDecision(t, 1, "")
	created := d.ContentHash

	_, err := f.ledger.Submit(ctx, f.sign(t, d.ID, f.ids[0], "act", contracts.ActionScope{}))
	require.NoError(t, err)

	got, err := f.ledger.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got.ContentHash)

	recomputed, err := ContentHash(got)
	require.NoError(t, err)
	assert.Equal(t, created, recomputed)
}
