package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgerline/compliance_service/internal/domain/entities"
	"github.com/ledgerline/compliance_service/internal/domain/repositories"
	"github.com/ledgerline/compliance_service/internal/domain/services/compliance"
	"github.com/ledgerline/compliance_service/internal/domain/services/verification"
)

// ComplianceHandler exposes the compliance engine over HTTP.
type ComplianceHandler struct {
	service *compliance.Service
	logger  *zap.Logger
}

// NewComplianceHandler creates a compliance handler.
func NewComplianceHandler(service *compliance.Service, logger *zap.Logger) *ComplianceHandler {
	return &ComplianceHandler{service: service, logger: logger}
}

type transactionRequest struct {
	Amount string `json:"amount" binding:"required"`
	Kind   string `json:"kind" binding:"required"`
}

func (r *transactionRequest) parse() (decimal.Decimal, entities.TransactionKind, bool) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil || !amount.IsPositive() {
		return decimal.Decimal{}, "", false
	}
	kind := entities.TransactionKind(r.Kind)
	for _, k := range entities.AllTransactionKinds {
		if kind == k {
			return amount, kind, true
		}
	}
	return decimal.Decimal{}, "", false
}

// RegisterUser creates the compliance record for a newly eligible user.
func (h *ComplianceHandler) RegisterUser(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	state, err := h.service.RegisterUser(c.Request.Context(), userID)
	if err != nil {
		requestLog(c, h.logger).Error("failed to register user", zap.Error(err))
		respondInternalError(c)
		return
	}
	c.JSON(http.StatusCreated, state)
}

// GetUserState returns the user's current compliance record.
func (h *ComplianceHandler) GetUserState(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	state, err := h.service.GetUserState(c.Request.Context(), userID)
	if err != nil {
		if err == repositories.ErrUserNotFound {
			respondNotFound(c, "user not found")
			return
		}
		requestLog(c, h.logger).Error("failed to load user state", zap.Error(err))
		respondInternalError(c)
		return
	}
	c.JSON(http.StatusOK, state)
}

// EvaluateTransaction renders a gate verdict without recording usage.
func (h *ComplianceHandler) EvaluateTransaction(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "amount and kind are required", nil)
		return
	}
	amount, kind, ok := req.parse()
	if !ok {
		respondBadRequest(c, "amount must be a positive decimal and kind a known transaction kind", nil)
		return
	}

	decision, err := h.service.EvaluateTransaction(c.Request.Context(), userID, amount, kind)
	if err != nil {
		requestLog(c, h.logger).Error("failed to evaluate transaction", zap.Error(err))
		respondInternalError(c)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// CommitTransaction records a settled transaction against the user's limits.
func (h *ComplianceHandler) CommitTransaction(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "amount and kind are required", nil)
		return
	}
	amount, kind, ok := req.parse()
	if !ok {
		respondBadRequest(c, "amount must be a positive decimal and kind a known transaction kind", nil)
		return
	}

	event, err := h.service.CommitTransaction(c.Request.Context(), userID, amount, kind)
	if err != nil {
		switch err {
		case repositories.ErrUserNotFound:
			respondNotFound(c, "user not found")
		case repositories.ErrLimitConflict:
			respondConflict(c, "daily limit reached by a concurrent transaction")
		default:
			requestLog(c, h.logger).Error("failed to commit transaction", zap.Error(err))
			respondInternalError(c)
		}
		return
	}
	c.JSON(http.StatusCreated, event)
}

type screeningRequest struct {
	Address string  `json:"address" binding:"required"`
	Amount  *string `json:"amount,omitempty"`
}

// ScreenCounterparty screens an external address for AML risk.
func (h *ComplianceHandler) ScreenCounterparty(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	var req screeningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "address is required", nil)
		return
	}

	var amount *decimal.Decimal
	if req.Amount != nil {
		parsed, err := decimal.NewFromString(*req.Amount)
		if err != nil {
			respondBadRequest(c, "amount must be a decimal", nil)
			return
		}
		amount = &parsed
	}

	result, err := h.service.ScreenCounterparty(c.Request.Context(), userID, req.Address, amount)
	if err != nil {
		requestLog(c, h.logger).Error("failed to screen counterparty", zap.Error(err))
		respondInternalError(c)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetRiskScore returns the user's composite risk score.
func (h *ComplianceHandler) GetRiskScore(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	score, err := h.service.GetRiskScore(c.Request.Context(), userID)
	if err != nil {
		if err == repositories.ErrUserNotFound {
			respondNotFound(c, "user not found")
			return
		}
		requestLog(c, h.logger).Error("failed to score user", zap.Error(err))
		respondInternalError(c)
		return
	}
	c.JSON(http.StatusOK, score)
}

// GetUnusualPatterns reports behavioral patterns in recent deposits.
func (h *ComplianceHandler) GetUnusualPatterns(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	report, err := h.service.GetUnusualPatterns(c.Request.Context(), userID)
	if err != nil {
		if err == repositories.ErrUserNotFound {
			respondNotFound(c, "user not found")
			return
		}
		requestLog(c, h.logger).Error("failed to detect patterns", zap.Error(err))
		respondInternalError(c)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetVerificationRecommendation returns the advisor's verdict for the user.
func (h *ComplianceHandler) GetVerificationRecommendation(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	rec, err := h.service.GetVerificationRecommendation(c.Request.Context(), userID)
	if err != nil {
		if err == repositories.ErrUserNotFound {
			respondNotFound(c, "user not found")
			return
		}
		requestLog(c, h.logger).Error("failed to build recommendation", zap.Error(err))
		respondInternalError(c)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type verificationRequest struct {
	Type string `json:"type" binding:"required"`
}

// RequestVerification starts a verification for the user.
func (h *ComplianceHandler) RequestVerification(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	var req verificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "type is required", nil)
		return
	}

	outcome, err := h.service.RequestVerification(c.Request.Context(), userID, entities.VerificationType(req.Type))
	if err != nil {
		if err == repositories.ErrUserNotFound {
			respondNotFound(c, "user not found")
			return
		}
		respondBadRequest(c, err.Error(), nil)
		return
	}
	c.JSON(http.StatusAccepted, outcome)
}

type completeVerificationRequest struct {
	Documents []entities.VerificationDocument `json:"documents"`
}

// CompleteVerification resolves the user's pending verification.
func (h *ComplianceHandler) CompleteVerification(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	var req completeVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body", nil)
		return
	}

	outcome, err := h.service.CompleteVerification(c.Request.Context(), userID, req.Documents)
	if err != nil {
		switch err {
		case repositories.ErrUserNotFound:
			respondNotFound(c, "user not found")
		case verification.ErrNoPendingVerification:
			respondConflict(c, "no verification pending")
		case verification.ErrDocumentsRequired:
			respondBadRequest(c, "document verification requires at least one document", nil)
		default:
			requestLog(c, h.logger).Error("failed to complete verification", zap.Error(err))
			respondInternalError(c)
		}
		return
	}
	c.JSON(http.StatusOK, outcome)
}

type flagRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// FlagDeposit marks a settled deposit for manual review.
func (h *ComplianceHandler) FlagDeposit(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	eventID, err := uuid.Parse(c.Param("event_id"))
	if err != nil {
		respondBadRequest(c, "invalid event id", nil)
		return
	}

	var req flagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "reason is required", nil)
		return
	}

	if err := h.service.FlagDeposit(c.Request.Context(), userID, eventID, req.Reason); err != nil {
		if err == repositories.ErrDepositNotFound {
			respondNotFound(c, "deposit event not found")
			return
		}
		requestLog(c, h.logger).Error("failed to flag deposit", zap.Error(err))
		respondInternalError(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flagged": true})
}

// UnflagDeposit clears a review flag.
func (h *ComplianceHandler) UnflagDeposit(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("event_id"))
	if err != nil {
		respondBadRequest(c, "invalid event id", nil)
		return
	}

	if err := h.service.UnflagDeposit(c.Request.Context(), eventID); err != nil {
		if err == repositories.ErrDepositNotFound {
			respondNotFound(c, "deposit event not found")
			return
		}
		requestLog(c, h.logger).Error("failed to unflag deposit", zap.Error(err))
		respondInternalError(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flagged": false})
}

// GetComplianceLog pages through the user's audit trail.
func (h *ComplianceHandler) GetComplianceLog(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	limit := parseIntQuery(c, "limit", 50)
	offset := parseIntQuery(c, "offset", 0)

	entries, err := h.service.GetComplianceLog(c.Request.Context(), userID, limit, offset)
	if err != nil {
		requestLog(c, h.logger).Error("failed to list compliance log", zap.Error(err))
		respondInternalError(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "limit": limit, "offset": offset})
}
