package http

import (
	"encoding/json"
	"net/http"
	"time"

	"coverpool/internal/domain/claims"
	"coverpool/internal/idempotency"
	"coverpool/internal/ledger"

	"github.com/gin-gonic/gin"
)

type SubmitClaimRequest struct {
	PolicyRef   string `json:"policy_ref" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
	EvidenceRef string `json:"evidence_ref"`
}

func (s *Server) handleSubmitClaim(c *gin.Context) {
	principal, ok := PrincipalFromContext(c)
	if !ok {
		return
	}

	requestID := RequestID(c)
	if requestID != "" {
		if cached, hit := s.idem.Get(requestID); hit {
			c.Header("X-Idempotent-Replay", "true")
			c.Data(cached.Status, "application/json", cached.Body)
			return
		}
	}

	var req SubmitClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		WriteErrorCode(c, http.StatusBadRequest, "INVALID_BODY", "malformed request body")
		return
	}

	claimID, err := s.ledger.Submit(c.Request.Context(), ledger.SubmitInput{
		Claimant:    principal.Subject,
		PolicyRef:   req.PolicyRef,
		Amount:      req.Amount,
		EvidenceRef: req.EvidenceRef,
	})
	if err != nil {
		WriteError(c, err)
		return
	}
	s.metrics.IncClaim("submitted")

	claim, err := s.ledger.GetClaim(claimID)
	if err != nil {
		WriteError(c, err)
		return
	}
	resp := ToClaimResponse(claim)
	if requestID != "" {
		if body, err := json.Marshal(resp); err == nil {
			s.idem.Set(requestID, idempotency.StoredResponse{Status: http.StatusCreated, Body: body})
		}
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleGetClaim(c *gin.Context) {
	claim, err := s.ledger.GetClaim(c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, ToClaimResponse(claim))
}

func (s *Server) handleListClaims(c *gin.Context) {
	principal, ok := PrincipalFromContext(c)
	if !ok {
		return
	}
	claimant := c.Query("claimant")
	if claimant == "" {
		claimant = principal.Subject
	}
	// Listing someone else's claims needs the operator permission.
	if claimant != principal.Subject {
		if err := s.authz.Require(principal, claims.PermClaimOverride); err != nil {
			WriteError(c, err)
			return
		}
	}
	list := s.ledger.ListClaimsByClaimant(claimant)
	out := make([]ClaimResponse, 0, len(list))
	for _, claim := range list {
		out = append(out, ToClaimResponse(claim))
	}
	c.JSON(http.StatusOK, gin.H{"claims": out})
}

// handleRetryPayout nudges an Investigating claim whose earlier payout
// attempt failed, typically on insufficient liquidity.
func (s *Server) handleRetryPayout(c *gin.Context) {
	if err := s.ledger.Payout(c.Request.Context(), c.Param("id")); err != nil {
		s.metrics.IncPayout("failed")
		WriteError(c, err)
		return
	}
	s.metrics.IncPayout("settled")
	s.refreshPoolGauges()
	claim, err := s.ledger.GetClaim(c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, ToClaimResponse(claim))
}

type OverrideRequest struct {
	Decision string `json:"decision" binding:"required"`
}

func (s *Server) handleOverrideClaim(c *gin.Context) {
	principal, ok := PrincipalFromContext(c)
	if !ok {
		return
	}
	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		WriteErrorCode(c, http.StatusBadRequest, "INVALID_BODY", "malformed request body")
		return
	}
	if err := s.ledger.ManualOverride(c.Request.Context(), c.Param("id"), req.Decision, principal.Subject); err != nil {
		WriteError(c, err)
		return
	}
	s.refreshPoolGauges()
	claim, err := s.ledger.GetClaim(c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, ToClaimResponse(claim))
}

type VerificationResponse struct {
	ID          string `json:"id"`
	ClaimID     string `json:"claim_id"`
	EvidenceRef string `json:"evidence_ref"`
	Authority   string `json:"authority"`
	Status      string `json:"status"`
	Result      bool   `json:"result"`
	CreatedAt   string `json:"created_at"`
	ExpiresAt   string `json:"expires_at"`
}

func toVerificationResponse(req claims.VerificationRequest) VerificationResponse {
	return VerificationResponse{
		ID:          req.ID,
		ClaimID:     req.ClaimID,
		EvidenceRef: req.EvidenceRef,
		Authority:   req.Authority,
		Status:      string(req.Status),
		Result:      req.Result,
		CreatedAt:   req.CreatedAt.UTC().Format(time.RFC3339Nano),
		ExpiresAt:   req.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
}

func (s *Server) handleGetVerification(c *gin.Context) {
	req, err := s.verifier.Get(c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, toVerificationResponse(req))
}

type RespondRequest struct {
	Result *bool `json:"result" binding:"required"`
}

func (s *Server) handleRespondVerification(c *gin.Context) {
	principal, ok := PrincipalFromContext(c)
	if !ok {
		return
	}
	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		WriteErrorCode(c, http.StatusBadRequest, "INVALID_BODY", "malformed request body")
		return
	}
	if err := s.verifier.Respond(c.Request.Context(), c.Param("id"), principal.Subject, *req.Result); err != nil {
		WriteError(c, err)
		return
	}
	s.refreshPoolGauges()
	out, err := s.verifier.Get(c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, toVerificationResponse(out))
}

// handleCheckTimeout is callable by any authenticated principal; timeout
// resolution does not depend on who noticed the expiry.
func (s *Server) handleCheckTimeout(c *gin.Context) {
	resolved, err := s.verifier.CheckTimeout(c.Request.Context(), c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": resolved})
}

type ApprovalResponse struct {
	ID        string   `json:"id"`
	ClaimID   string   `json:"claim_id"`
	Recipient string   `json:"recipient"`
	Asset     string   `json:"asset"`
	Amount    int64    `json:"amount"`
	Approvals []string `json:"approvals"`
	Executed  bool     `json:"executed"`
	CreatedAt string   `json:"created_at"`
}

func toApprovalResponse(tx claims.ApprovalTransaction) ApprovalResponse {
	return ApprovalResponse{
		ID:        tx.ID,
		ClaimID:   tx.ClaimID,
		Recipient: tx.Recipient,
		Asset:     string(tx.Asset),
		Amount:    tx.Amount,
		Approvals: tx.Approvals,
		Executed:  tx.Executed,
		CreatedAt: tx.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

type CreateApprovalRequest struct {
	Recipient string `json:"recipient" binding:"required"`
	Asset     string `json:"asset" binding:"required"`
	Amount    int64  `json:"amount" binding:"required"`
	ClaimID   string `json:"claim_id" binding:"required"`
}

// handleCreateApproval opens an approval transaction outside the
// escalation path, e.g. for payouts initiated by an external system.
func (s *Server) handleCreateApproval(c *gin.Context) {
	var req CreateApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		WriteErrorCode(c, http.StatusBadRequest, "INVALID_BODY", "malformed request body")
		return
	}
	txID, err := s.quorum.CreateRequest(c.Request.Context(), req.Recipient, claims.Asset(req.Asset), req.Amount, req.ClaimID)
	if err != nil {
		WriteError(c, err)
		return
	}
	tx, err := s.quorum.Get(txID)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toApprovalResponse(tx))
}

func (s *Server) handleGetApproval(c *gin.Context) {
	tx, err := s.quorum.Get(c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, toApprovalResponse(tx))
}

func (s *Server) handleApprove(c *gin.Context) {
	principal, ok := PrincipalFromContext(c)
	if !ok {
		return
	}
	if err := s.quorum.Approve(c.Request.Context(), c.Param("id"), principal.Subject); err != nil {
		s.metrics.IncApproval("rejected")
		WriteError(c, err)
		return
	}
	s.metrics.IncApproval("signed")
	s.refreshPoolGauges()
	tx, err := s.quorum.Get(c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, toApprovalResponse(tx))
}

type SignerRequest struct {
	Signer string `json:"signer" binding:"required"`
}

func (s *Server) handleAddSigner(c *gin.Context) {
	principal, ok := PrincipalFromContext(c)
	if !ok {
		return
	}
	var req SignerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		WriteErrorCode(c, http.StatusBadRequest, "INVALID_BODY", "malformed request body")
		return
	}
	if err := s.quorum.AddSigner(c.Request.Context(), principal.Subject, req.Signer); err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signers": s.quorum.SignerCount(), "threshold": s.quorum.Threshold()})
}

func (s *Server) handleRemoveSigner(c *gin.Context) {
	principal, ok := PrincipalFromContext(c)
	if !ok {
		return
	}
	if err := s.quorum.RemoveSigner(c.Request.Context(), principal.Subject, c.Param("id")); err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signers": s.quorum.SignerCount(), "threshold": s.quorum.Threshold()})
}

type ThresholdRequest struct {
	Threshold int `json:"threshold" binding:"required"`
}

func (s *Server) handleChangeThreshold(c *gin.Context) {
	principal, ok := PrincipalFromContext(c)
	if !ok {
		return
	}
	var req ThresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		WriteErrorCode(c, http.StatusBadRequest, "INVALID_BODY", "malformed request body")
		return
	}
	if err := s.quorum.ChangeThreshold(c.Request.Context(), principal.Subject, req.Threshold); err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signers": s.quorum.SignerCount(), "threshold": s.quorum.Threshold()})
}

type DepositRequest struct {
	Asset  string `json:"asset" binding:"required"`
	Amount int64  `json:"amount" binding:"required"`
}

func (s *Server) handleDeposit(c *gin.Context) {
	principal, ok := PrincipalFromContext(c)
	if !ok {
		return
	}
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		WriteErrorCode(c, http.StatusBadRequest, "INVALID_BODY", "malformed request body")
		return
	}
	asset := claims.Asset(req.Asset)
	if err := s.pool.Deposit(c.Request.Context(), asset, req.Amount, principal.Subject); err != nil {
		WriteError(c, err)
		return
	}
	s.refreshPoolGauges()
	c.JSON(http.StatusOK, gin.H{
		"asset":   req.Asset,
		"balance": s.pool.Balance(asset),
	})
}

type EmergencyWithdrawRequest struct {
	Asset  string `json:"asset" binding:"required"`
	Amount int64  `json:"amount" binding:"required"`
	To     string `json:"to" binding:"required"`
}

func (s *Server) handleEmergencyWithdraw(c *gin.Context) {
	principal, ok := PrincipalFromContext(c)
	if !ok {
		return
	}
	var req EmergencyWithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		WriteErrorCode(c, http.StatusBadRequest, "INVALID_BODY", "malformed request body")
		return
	}
	asset := claims.Asset(req.Asset)
	if err := s.pool.EmergencyWithdraw(c.Request.Context(), principal.Subject, asset, req.Amount, req.To); err != nil {
		WriteError(c, err)
		return
	}
	s.refreshPoolGauges()
	c.JSON(http.StatusOK, gin.H{
		"asset":   req.Asset,
		"balance": s.pool.Balance(asset),
	})
}

func (s *Server) handlePoolBalance(c *gin.Context) {
	asset := claims.Asset(c.Query("asset"))
	if asset == "" {
		WriteErrorCode(c, http.StatusBadRequest, "INVALID_ARGUMENT", "asset query parameter required")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"asset":     string(asset),
		"balance":   s.pool.Balance(asset),
		"deposited": s.pool.CumulativeDeposited(asset),
		"paid":      s.pool.CumulativePaid(asset),
	})
}

func (s *Server) handlePoolUtilization(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"utilization": s.pool.Utilization()})
}

func (s *Server) handleAuditTrail(c *gin.Context) {
	claimID := c.Param("id")
	if _, err := s.ledger.GetClaim(claimID); err != nil {
		WriteError(c, err)
		return
	}
	events := s.audit.ListByEntity("claim", claimID)
	c.JSON(http.StatusOK, gin.H{"events": events})
}
