package api

import (
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/aegisgrid/mandate/pkg/audit"
	"github.com/aegisgrid/mandate/pkg/config"
	"github.com/aegisgrid/mandate/pkg/contracts"
	"github.com/aegisgrid/mandate/pkg/ledger"
	"github.com/aegisgrid/mandate/pkg/merkle"
	"github.com/aegisgrid/mandate/pkg/registry"
	"github.com/aegisgrid/mandate/pkg/verifier"
)

// Server exposes the registry, ledger and audit trail over HTTP.
type Server struct {
	registry *registry.Registry
	ledger   *ledger.Ledger
	audit    *audit.Log
	logger   *slog.Logger
	profiles map[string]*config.JurisdictionProfile
}

// NewServer creates the HTTP surface over the given services.
func NewServer(reg *registry.Registry, led *ledger.Ledger, auditLog *audit.Log, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{registry: reg, ledger: led, audit: auditLog, logger: logger}
}

// WithProfiles attaches the loaded jurisdiction profiles so clients can fetch
// the quorum and crypto-policy defaults of the jurisdiction they operate in.
func (s *Server) WithProfiles(profiles map[string]*config.JurisdictionProfile) *Server {
	s.profiles = profiles
	return s
}

// Routes builds the route table. Middleware (request IDs, rate limiting,
// auth, idempotency) is layered on by the caller.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/ministries", s.handleMinistries)
	mux.HandleFunc("/api/v1/ministries/{id}", s.handleMinistry)
	mux.HandleFunc("/api/v1/ministries/{id}/keys", s.handleKeyHistory)
	mux.HandleFunc("/api/v1/ministries/{id}/keys/rotate", s.handleRotateKey)
	mux.HandleFunc("/api/v1/ministries/{id}/keys/revoke", s.handleRevokeKey)
	mux.HandleFunc("/api/v1/ministries/{id}/keys/reissue", s.handleReissueKey)
	mux.HandleFunc("/api/v1/decisions", s.handleDecisions)
	mux.HandleFunc("/api/v1/decisions/{id}", s.handleDecision)
	mux.HandleFunc("/api/v1/decisions/{id}/signatures", s.handleSubmitSignature)
	mux.HandleFunc("/api/v1/decisions/{id}/reject", s.handleReject)
	mux.HandleFunc("/api/v1/decisions/{id}/executed", s.handleExecuted)
	mux.HandleFunc("/api/v1/chain", s.handleChain)
	mux.HandleFunc("/api/v1/chain/receipts/{decisionID}/proof", s.handleInclusionProof)
	mux.HandleFunc("/api/v1/audit", s.handleAudit)
	mux.HandleFunc("/api/v1/profiles", s.handleProfiles)
	mux.HandleFunc("/api/v1/profiles/{code}", s.handleProfile)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

type registerMinistryRequest struct {
	Code         string                    `json:"code"`
	Name         string                    `json:"name"`
	Type         contracts.MinistryType    `json:"type"`
	Jurisdiction string                    `json:"jurisdiction"`
	Contact      *contracts.Contact        `json:"contact"`
	Quorum       *contracts.QuorumOverride `json:"quorum"`
}

type registerMinistryResponse struct {
	Ministry *contracts.Ministry `json:"ministry"`
	// PrivateKey is returned exactly once at registration; it is never
	// persisted server-side.
	PrivateKey string `json:"private_key"`
}

func (s *Server) handleMinistries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req registerMinistryRequest
	if err := DecodeValidated(r, "ministry-register", &req); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	reg, err := s.registry.Register(r.Context(), registry.RegisterParams{
		Name:         req.Name,
		Code:         req.Code,
		Type:         req.Type,
		Jurisdiction: req.Jurisdiction,
		Contact:      req.Contact,
		Quorum:       req.Quorum,
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	s.logger.Info("ministry registered",
		"ministry_id", reg.Ministry.ID, "code", reg.Ministry.Code)
	WriteJSON(w, http.StatusCreated, registerMinistryResponse{
		Ministry:   reg.Ministry,
		PrivateKey: hex.EncodeToString(reg.PrivateKey),
	})
}

type updateMinistryRequest struct {
	Name         *string                   `json:"name"`
	Jurisdiction *string                   `json:"jurisdiction"`
	Contact      *contracts.Contact        `json:"contact"`
	Quorum       *contracts.QuorumOverride `json:"quorum"`
}

func (s *Server) handleMinistry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		m, err := s.registry.Get(r.Context(), id)
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, m)

	case http.MethodPatch:
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		var req updateMinistryRequest
		if err := DecodeValidated(r, "ministry-update", &req); err != nil {
			WriteBadRequest(w, err.Error())
			return
		}
		m, err := s.registry.Update(r.Context(), id, registry.UpdateParams{
			Name:         req.Name,
			Jurisdiction: req.Jurisdiction,
			Contact:      req.Contact,
			Quorum:       req.Quorum,
		})
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, m)

	default:
		WriteMethodNotAllowed(w)
	}
}

func (s *Server) handleKeyHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	records, err := s.registry.KeyHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"keys": records})
}

type rotationResponse struct {
	OldKeyID     string `json:"old_key_id,omitempty"`
	NewKeyID     string `json:"new_key_id"`
	NewPublicKey string `json:"new_public_key"`
	PrivateKey   string `json:"private_key"`
}

func (s *Server) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	id := r.PathValue("id")
	rot, err := s.registry.RotateKey(r.Context(), id)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	s.logger.Info("ministry key rotated",
		"ministry_id", id, "old_key_id", rot.OldKeyID, "new_key_id", rot.NewKeyID)
	WriteJSON(w, http.StatusOK, rotationResponse{
		OldKeyID:     rot.OldKeyID,
		NewKeyID:     rot.NewKeyID,
		NewPublicKey: rot.NewPublicKey,
		PrivateKey:   hex.EncodeToString(rot.PrivateKey),
	})
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	id := r.PathValue("id")
	rev, err := s.registry.RevokeKey(r.Context(), id)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	s.logger.Warn("ministry key revoked", "ministry_id", id, "key_id", rev.RevokedKeyID)
	WriteJSON(w, http.StatusOK, map[string]string{"revoked_key_id": rev.RevokedKeyID})
}

func (s *Server) handleReissueKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	id := r.PathValue("id")
	rot, err := s.registry.ReissueKey(r.Context(), id)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	s.logger.Info("ministry key reissued", "ministry_id", id, "new_key_id", rot.NewKeyID)
	WriteJSON(w, http.StatusOK, rotationResponse{
		NewKeyID:     rot.NewKeyID,
		NewPublicKey: rot.NewPublicKey,
		PrivateKey:   hex.EncodeToString(rot.PrivateKey),
	})
}

type createDecisionRequest struct {
	IncidentID string                   `json:"incident_id"`
	PlaybookID string                   `json:"playbook_id"`
	StepID     string                   `json:"step_id"`
	Policy     contracts.DecisionPolicy `json:"policy"`
	PrevHash   string                   `json:"prev_decision_hash"`
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		var req createDecisionRequest
		if err := DecodeValidated(r, "decision-create", &req); err != nil {
			WriteBadRequest(w, err.Error())
			return
		}
		d, err := s.ledger.Create(r.Context(), ledger.CreateParams{
			IncidentID: req.IncidentID,
			PlaybookID: req.PlaybookID,
			StepID:     req.StepID,
			Policy:     req.Policy,
			PrevHash:   req.PrevHash,
		})
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusCreated, d)

	case http.MethodGet:
		f := contracts.DecisionFilter{
			Status:     contracts.DecisionStatus(r.URL.Query().Get("status")),
			IncidentID: r.URL.Query().Get("incident_id"),
			PlaybookID: r.URL.Query().Get("playbook_id"),
		}
		f.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
		f.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
		decisions, err := s.ledger.List(r.Context(), f)
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"decisions": decisions})

	default:
		WriteMethodNotAllowed(w)
	}
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	d, err := s.ledger.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, d)
}

type submitSignatureRequest struct {
	MinistryID string                `json:"ministry_id"`
	KeyID      string                `json:"key_id"`
	ActionType string                `json:"action_type"`
	Scope      contracts.ActionScope `json:"scope"`
	Signature  string                `json:"signature"`
}

type submitSignatureResponse struct {
	Decision   *contracts.Decision `json:"decision"`
	Evaluation any                 `json:"evaluation"`
	Replayed   bool                `json:"replayed,omitempty"`
}

func (s *Server) handleSubmitSignature(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	decisionID := r.PathValue("id")

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req submitSignatureRequest
	if err := DecodeValidated(r, "signature-submit", &req); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	res, err := s.ledger.Submit(r.Context(), ledger.SubmitParams{
		DecisionID: decisionID,
		MinistryID: req.MinistryID,
		KeyID:      req.KeyID,
		ActionType: req.ActionType,
		Scope:      req.Scope,
		Signature:  req.Signature,
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	WriteJSON(w, status, submitSignatureResponse{
		Decision:   res.Decision,
		Evaluation: res.Evaluation,
		Replayed:   res.Replayed,
	})
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	decisionID := r.PathValue("id")

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req rejectRequest
	if err := DecodeValidated(r, "decision-reject", &req); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	d, err := s.ledger.Reject(r.Context(), decisionID, req.Reason)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, d)
}

func (s *Server) handleExecuted(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	d, err := s.ledger.MarkExecuted(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, d)
}

// chainEntry is one decision in the chain view, reduced to its linkage
// fields.
type chainEntry struct {
	DecisionID  string                   `json:"decision_id"`
	Sequence    uint64                   `json:"sequence"`
	Status      contracts.DecisionStatus `json:"status"`
	PrevHash    string                   `json:"prev_decision_hash"`
	ContentHash string                   `json:"content_hash"`
}

type chainResponse struct {
	Length        int                  `json:"length"`
	Decisions     []chainEntry         `json:"decisions"`
	ChainValid    bool                 `json:"chain_valid"`
	ChainErrors   []string             `json:"chain_errors,omitempty"`
	ReceiptCount  int                  `json:"receipt_count"`
	Receipts      []*contracts.Receipt `json:"receipts"`
	ReceiptsValid bool                 `json:"receipts_valid"`
	ReceiptErrors []string             `json:"receipt_errors,omitempty"`
	SovereignHash string               `json:"sovereign_hash"`
}

// handleChain returns the ordered decision chain and receipt chain with their
// hash-link fields, verifies both, and reports the sovereign hash over all
// receipts in issuance order.
func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	decisions, err := s.ledger.Chain(r.Context())
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	receipts, err := s.ledger.Receipts(r.Context())
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	byID := make(map[string]*contracts.Decision, len(decisions))
	entries := make([]chainEntry, len(decisions))
	for i, d := range decisions {
		byID[d.ID] = d
		entries[i] = chainEntry{
			DecisionID:  d.ID,
			Sequence:    d.Sequence,
			Status:      d.Status,
			PrevHash:    d.PrevHash,
			ContentHash: d.ContentHash,
		}
	}
	hashes := make([]string, len(receipts))
	for i, rec := range receipts {
		hashes[i] = rec.ReceiptHash
	}

	chainRes := verifier.VerifyChain(decisions)
	receiptRes := verifier.VerifyReceipts(receipts, byID)

	WriteJSON(w, http.StatusOK, chainResponse{
		Length:        len(decisions),
		Decisions:     entries,
		ChainValid:    chainRes.Valid,
		ChainErrors:   chainRes.Errors,
		ReceiptCount:  len(receipts),
		Receipts:      receipts,
		ReceiptsValid: receiptRes.Valid,
		ReceiptErrors: receiptRes.Errors,
		SovereignHash: verifier.ComputeSovereignHash(hashes),
	})
}

type inclusionProofResponse struct {
	DecisionID string                 `json:"decision_id"`
	Receipt    *contracts.Receipt     `json:"receipt"`
	Proof      *merkle.InclusionProof `json:"proof"`
	Root       string                 `json:"root"`
}

// handleInclusionProof returns a Merkle inclusion proof tying one decision's
// receipt into the current sovereign hash.
func (s *Server) handleInclusionProof(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	decisionID := r.PathValue("decisionID")

	receipts, err := s.ledger.Receipts(r.Context())
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	index := -1
	for i, rec := range receipts {
		if rec.DecisionID == decisionID {
			index = i
			break
		}
	}
	if index < 0 {
		WriteNotFound(w, "no receipt recorded for decision "+decisionID)
		return
	}

	hashes := make([]string, len(receipts))
	for i, rec := range receipts {
		hashes[i] = rec.ReceiptHash
	}
	tree := merkle.Build(hashes)
	WriteJSON(w, http.StatusOK, inclusionProofResponse{
		DecisionID: decisionID,
		Receipt:    receipts[index],
		Proof:      tree.Prove(index),
		Root:       tree.Root,
	})
}

type auditResponse struct {
	Entries     []*contracts.AuditEntry `json:"entries"`
	TrailValid  bool                    `json:"trail_valid"`
	TrailErrors []string                `json:"trail_errors,omitempty"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := s.audit.List(r.Context(), limit, offset)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	// Verification always runs over the complete trail; a paginated window
	// cannot anchor its first prev_hash.
	full := entries
	if limit > 0 || offset > 0 {
		full, err = s.audit.List(r.Context(), 0, 0)
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
	}
	valid, verrs := audit.Verify(full)

	WriteJSON(w, http.StatusOK, auditResponse{
		Entries:     entries,
		TrailValid:  valid,
		TrailErrors: verrs,
	})
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	out := make([]*config.JurisdictionProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	WriteJSON(w, http.StatusOK, map[string]any{"profiles": out})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	code := strings.ToLower(r.PathValue("code"))
	p, ok := s.profiles[code]
	if !ok {
		WriteNotFound(w, "no jurisdiction profile for code "+code)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
