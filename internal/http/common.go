package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"coverpool/internal/domain/claims"

	"github.com/gin-gonic/gin"
)

const (
	principalKey = "principal"
	requestIDKey = "request_id"
)

type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type ClaimResponse struct {
	ID                 string  `json:"id"`
	Claimant           string  `json:"claimant"`
	PolicyRef          string  `json:"policy_ref"`
	Asset              string  `json:"asset"`
	Amount             int64   `json:"amount"`
	EvidenceRef        string  `json:"evidence_ref"`
	Status             string  `json:"status"`
	RequiresEscalation bool    `json:"requires_escalation"`
	Authority          string  `json:"authority,omitempty"`
	VerificationID     string  `json:"verification_id,omitempty"`
	ApprovalTxID       string  `json:"approval_tx_id,omitempty"`
	SubmittedAt        string  `json:"submitted_at"`
	ResolvedAt         *string `json:"resolved_at,omitempty"`
}

func ToClaimResponse(c claims.Claim) ClaimResponse {
	resp := ClaimResponse{
		ID:                 c.ID,
		Claimant:           c.Claimant,
		PolicyRef:          c.PolicyRef,
		Asset:              string(c.Asset),
		Amount:             c.Amount,
		EvidenceRef:        c.EvidenceRef,
		Status:             string(c.Status),
		RequiresEscalation: c.RequiresEscalation,
		Authority:          c.Authority,
		VerificationID:     c.VerificationID,
		ApprovalTxID:       c.ApprovalTxID,
		SubmittedAt:        c.SubmittedAt.UTC().Format(time.RFC3339Nano),
	}
	if c.ResolvedAt != nil {
		formatted := c.ResolvedAt.UTC().Format(time.RFC3339Nano)
		resp.ResolvedAt = &formatted
	}
	return resp
}

type Authenticator interface {
	Authenticate(*gin.Context) (claims.Principal, error)
}

func AuthMiddleware(authenticator Authenticator, authorizer claims.Authorizer, permission string, requireRequestID bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authenticator == nil || authorizer == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Code: "INTERNAL", Message: "auth misconfigured"})
			return
		}
		principal, err := authenticator.Authenticate(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Code: "UNAUTHORIZED", Message: "authentication failed"})
			return
		}
		if err := authorizer.Require(principal, permission); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Code: "FORBIDDEN", Message: "forbidden"})
			return
		}
		c.Set(principalKey, principal)
		requestID := strings.TrimSpace(c.GetHeader("X-Request-ID"))
		if requestID != "" {
			c.Set(requestIDKey, requestID)
		}
		if requireRequestID && requestID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: "MISSING_REQUEST_ID", Message: "X-Request-ID required"})
			return
		}
		c.Next()
	}
}

func PrincipalFromContext(c *gin.Context) (claims.Principal, bool) {
	value, ok := c.Get(principalKey)
	if !ok {
		WriteErrorCode(c, http.StatusInternalServerError, "INTERNAL", "principal missing")
		return claims.Principal{}, false
	}
	principal, ok := value.(claims.Principal)
	if !ok {
		WriteErrorCode(c, http.StatusInternalServerError, "INTERNAL", "principal invalid")
		return claims.Principal{}, false
	}
	return principal, true
}

func RequestID(c *gin.Context) string {
	if value, ok := c.Get(requestIDKey); ok {
		if requestID, ok := value.(string); ok {
			return strings.TrimSpace(requestID)
		}
	}
	return strings.TrimSpace(c.GetHeader("X-Request-ID"))
}

func WriteError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, claims.ErrUnauthorized):
		WriteErrorCode(c, http.StatusForbidden, "FORBIDDEN", "forbidden")
	case errors.Is(err, claims.ErrNotFound):
		WriteErrorCode(c, http.StatusNotFound, "NOT_FOUND", "not found")
	case errors.Is(err, claims.ErrInvalidPolicy):
		WriteErrorCode(c, http.StatusBadRequest, "INVALID_POLICY", "policy inactive or unknown")
	case errors.Is(err, claims.ErrAmountExceedsCoverage):
		WriteErrorCode(c, http.StatusBadRequest, "AMOUNT_EXCEEDS_COVERAGE", "amount exceeds policy coverage")
	case errors.Is(err, claims.ErrInvalidEvidence):
		WriteErrorCode(c, http.StatusBadRequest, "INVALID_EVIDENCE", "evidence reference required")
	case errors.Is(err, claims.ErrClaimFinalized):
		WriteErrorCode(c, http.StatusConflict, "CLAIM_FINALIZED", "claim is terminal")
	case errors.Is(err, claims.ErrRequestNotPending):
		WriteErrorCode(c, http.StatusConflict, "REQUEST_NOT_PENDING", "request already resolved")
	case errors.Is(err, claims.ErrRequestExpired):
		WriteErrorCode(c, http.StatusConflict, "REQUEST_EXPIRED", "request past its timeout horizon")
	case errors.Is(err, claims.ErrAlreadyApproved):
		WriteErrorCode(c, http.StatusConflict, "ALREADY_APPROVED", "approver already signed")
	case errors.Is(err, claims.ErrThresholdUnreachable):
		WriteErrorCode(c, http.StatusConflict, "THRESHOLD_UNREACHABLE", "signer set cannot satisfy threshold")
	case errors.Is(err, claims.ErrInsufficientLiquidity):
		WriteErrorCode(c, http.StatusConflict, "INSUFFICIENT_LIQUIDITY", "pool balance below requested amount")
	case errors.Is(err, claims.ErrInvalidArgument):
		WriteErrorCode(c, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid argument")
	default:
		WriteErrorCode(c, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func WriteErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Code: code, Message: message})
}
