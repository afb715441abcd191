package verifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisgrid/mandate/pkg/audit"
	"github.com/aegisgrid/mandate/pkg/contracts"
	"github.com/aegisgrid/mandate/pkg/crypto"
	"github.com/aegisgrid/mandate/pkg/ledger"
	"github.com/aegisgrid/mandate/pkg/merkle"
	"github.com/aegisgrid/mandate/pkg/policy"
	"github.com/aegisgrid/mandate/pkg/registry"
	"github.com/aegisgrid/mandate/pkg/store"
)

// buildLedger creates N chained decisions, authorizing each with a single
// 1-of-1 signature, and returns the persisted chain and receipts.
func buildLedger(t *testing.T, n int) ([]*contracts.Decision, []*contracts.Receipt) {
	t.Helper()
	ctx := context.Background()

	auditLog := audit.NewLog(store.NewMemoryAuditStore())
	reg := registry.New(store.NewMemoryMinistryStore(), auditLog)
	scopes, err := policy.NewScopeEvaluator()
	require.NoError(t, err)
	led := ledger.New(store.NewMemoryDecisionStore(), store.NewMemoryReceiptStore(),
		reg, scopes, auditLog, nil)

	r, err := reg.Register(ctx, registry.RegisterParams{
		Name: "Ministry of Defence", Code: "MOD", Type: contracts.MinistryGovernment,
	})
	require.NoError(t, err)
	priv := r.PrivateKey

	prevHash := ""
	for i := 0; i < n; i++ {
		d, err := led.Create(ctx, ledger.CreateParams{
			IncidentID: "inc-1",
			PlaybookID: "pb-1",
			Policy: contracts.DecisionPolicy{
				Threshold: 1, Required: 1, Signers: []string{r.Ministry.ID},
			},
			PrevHash: prevHash,
		})
		require.NoError(t, err)
		prevHash = d.ContentHash

		sig, err := crypto.Sign(priv, crypto.SigningPayload{
			DecisionID: d.ID, ActionType: "act", MinistryID: r.Ministry.ID,
		})
		require.NoError(t, err)
		_, err = led.Submit(ctx, ledger.SubmitParams{
			DecisionID: d.ID,
			MinistryID: r.Ministry.ID,
			Signature:  sig,
			KeyID:      r.Ministry.KeyID,
			ActionType: "act",
		})
		require.NoError(t, err)
	}

	chain, err := led.Chain(ctx)
	require.NoError(t, err)
	receipts, err := led.Receipts(ctx)
	require.NoError(t, err)
	return chain, receipts
}

func byID(decisions []*contracts.Decision) map[string]*contracts.Decision {
	m := make(map[string]*contracts.Decision, len(decisions))
	for _, d := range decisions {
		m[d.ID] = d
	}
	return m
}

func TestVerifyChain_Clean(t *testing.T) {
	chain, _ := buildLedger(t, 5)
	res := VerifyChain(chain)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestVerifyChain_Empty(t *testing.T) {
	res := VerifyChain(nil)
	assert.True(t, res.Valid)
}

func TestVerifyChain_MutatedMiddleDecision(t *testing.T) {
	chain, _ := buildLedger(t, 5)
	chain[2].IncidentID = "inc-FORGED"

	res := VerifyChain(chain)
	assert.False(t, res.Valid)
	// One break: the persisted content hash of the mutated decision no
	// longer matches recomputation. Links stay consistent because hashes
	// were persisted before the mutation.
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], chain[2].ID)
	assert.Contains(t, res.Errors[0], "does not match recomputed")
}

func TestVerifyChain_BrokenLink(t *testing.T) {
	chain, _ := buildLedger(t, 4)
	chain[2].PrevHash = "severed"
	// Keep the stored ContentHash consistent with the forged link so the
	// link break is the only finding on entry 2; entry 3 then breaks too.
	h, err := ledger.ContentHash(chain[2])
	require.NoError(t, err)
	chain[2].ContentHash = h

	res := VerifyChain(chain)
	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0], "previous hash")
	assert.Contains(t, res.Errors[1], "previous hash")
}

func TestVerifyChain_ForgedLinkReportsOnItsOwnDecision(t *testing.T) {
	chain, _ := buildLedger(t, 5)
	chain[2].PrevHash = "severed"

	res := VerifyChain(chain)
	assert.False(t, res.Valid)
	// The forged link breaks the linkage and the content hash of decision 2
	// only; decisions 3 and 4 still link to persisted hashes and stay clean.
	require.Len(t, res.Errors, 2)
	for _, e := range res.Errors {
		assert.Contains(t, e, chain[2].ID)
	}
	assert.Contains(t, res.Errors[0], "previous hash")
	assert.Contains(t, res.Errors[1], "does not match recomputed")
}

func TestVerifyChain_FirstDecisionWithPrevHash(t *testing.T) {
	chain, _ := buildLedger(t, 1)
	chain[0].PrevHash = "phantom"

	res := VerifyChain(chain)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "first decision")
}

func TestVerifyReceipts_Clean(t *testing.T) {
	chain, receipts := buildLedger(t, 4)
	res := VerifyReceipts(receipts, byID(chain))
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestVerifyReceipts_TamperedSignatureSet(t *testing.T) {
	chain, receipts := buildLedger(t, 3)
	decisions := byID(chain)
	decisions[receipts[1].DecisionID].Signatures[0].Value = "00ff"

	res := VerifyReceipts(receipts, decisions)
	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], receipts[1].ReceiptID)
}

func TestVerifyReceipts_BrokenLink(t *testing.T) {
	chain, receipts := buildLedger(t, 3)
	receipts[1].PrevReceiptHash = "severed"

	res := VerifyReceipts(receipts, byID(chain))
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Errors)
}

func TestComputeSovereignHash(t *testing.T) {
	_, receipts := buildLedger(t, 4)
	hashes := make([]string, len(receipts))
	for i, r := range receipts {
		hashes[i] = r.ReceiptHash
	}

	root := ComputeSovereignHash(hashes)
	assert.Equal(t, merkle.Root(hashes), root)
	assert.NotEmpty(t, root)

	// Reordering receipts changes the sovereign hash.
	swapped := append([]string(nil), hashes...)
	swapped[0], swapped[1] = swapped[1], swapped[0]
	assert.NotEqual(t, root, ComputeSovereignHash(swapped))
}
