package handler

import (
	"errors"
	"strconv"
	"time"

	"tutorledger/internal/config"
	"tutorledger/internal/model"
	"tutorledger/internal/repository"
	"tutorledger/internal/service"
	"tutorledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

type Handler struct {
	cfg            *config.Config
	ledgerService  *service.LedgerService
	webhookService *service.WebhookService
	refundService  *service.RefundService
	invoiceService *service.InvoiceService
	outboxRepo     *repository.OutboxRepository
}

func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	ledger := service.NewLedgerService(db, cfg)
	return &Handler{
		cfg:            cfg,
		ledgerService:  ledger,
		webhookService: service.NewWebhookService(db, cfg, ledger),
		refundService:  service.NewRefundService(db, cfg, ledger),
		invoiceService: service.NewInvoiceService(db, cfg),
		outboxRepo:     repository.NewOutboxRepository(db),
	}
}

// GetBalance returns the student's current credit balance.
// GET /api/v1/wallet/balance?student_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	studentID := c.Query("student_id")
	if studentID == "" {
		response.ParamError(c, "student_id is required")
		return
	}

	balance, err := h.ledgerService.Balance(c.Request.Context(), studentID)
	if err != nil {
		response.ServerError(c)
		return
	}

	response.Success(c, gin.H{
		"student_id": studentID,
		"balance":    balance,
	})
}

// AuditBalance compares the cached balance against the transaction sum.
// GET /api/v1/wallet/audit?student_id=xxx
func (h *Handler) AuditBalance(c *gin.Context) {
	studentID := c.Query("student_id")
	if studentID == "" {
		response.ParamError(c, "student_id is required")
		return
	}

	audit, err := h.ledgerService.Audit(c.Request.Context(), studentID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			response.BusinessError(c, response.CodeWalletNotFound, "wallet not found")
			return
		}
		response.ServerError(c)
		return
	}

	response.Success(c, audit)
}

type SpendCreditsRequest struct {
	StudentID      string `json:"student_id" binding:"required"`
	Amount         int64  `json:"amount" binding:"required,gt=0"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
	Description    string `json:"description"`
	BookingID      string `json:"booking_id"`
}

// SpendCredits debits a wallet for a booked session.
// POST /api/v1/credits/spend
func (h *Handler) SpendCredits(c *gin.Context) {
	var req SpendCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	entry := &service.LedgerEntry{
		StudentID:      req.StudentID,
		Amount:         req.Amount,
		Reason:         model.ReasonUsage,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.BookingID != "" {
		entry.BookingID = &req.BookingID
	}

	result, err := h.ledgerService.SpendCredits(c.Request.Context(), entry)
	if err != nil {
		h.renderLedgerError(c, model.ReasonUsage, err)
		return
	}

	creditOperations.WithLabelValues(model.ReasonUsage, ledgerOutcome(result)).Inc()
	response.Success(c, result)
}

type AddCreditsRequest struct {
	StudentID      string `json:"student_id" binding:"required"`
	Amount         int64  `json:"amount" binding:"required,gt=0"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
	Description    string `json:"description"`
	ExpiresAt      string `json:"expires_at"`
}

// AddCredits credits a wallet outside the payment flow, for manual
// grants and approved credit requests.
// POST /api/v1/credits/add
func (h *Handler) AddCredits(c *gin.Context) {
	var req AddCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	reason := req.Reason
	switch reason {
	case "":
		reason = model.ReasonCreditAddition
	case model.ReasonCreditAddition, model.ReasonCreditRequest:
	default:
		response.ParamError(c, "unsupported reason: "+reason)
		return
	}

	entry := &service.LedgerEntry{
		StudentID:      req.StudentID,
		Amount:         req.Amount,
		Reason:         reason,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.ExpiresAt != "" {
		expiresAt, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			response.ParamError(c, "expires_at must be RFC3339")
			return
		}
		entry.ExpiresAt = &expiresAt
	}

	result, err := h.ledgerService.AddCredits(c.Request.Context(), entry)
	if err != nil {
		h.renderLedgerError(c, reason, err)
		return
	}

	creditOperations.WithLabelValues(reason, ledgerOutcome(result)).Inc()
	response.Success(c, result)
}

// GetHistory lists a student's ledger entries, newest first.
// GET /api/v1/credits/history?student_id=xxx&page=1&page_size=20
func (h *Handler) GetHistory(c *gin.Context) {
	studentID := c.Query("student_id")
	if studentID == "" {
		response.ParamError(c, "student_id is required")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	transactions, total, err := h.ledgerService.History(c.Request.Context(), studentID, page, pageSize)
	if err != nil {
		response.ServerError(c)
		return
	}

	response.Success(c, gin.H{
		"list":      transactions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

type RefundRequest struct {
	BookingID string `json:"booking_id" binding:"required"`
	Reason    string `json:"reason"`
}

// RefundBooking returns the credits of a cancelled booking.
// POST /api/v1/refund/execute
func (h *Handler) RefundBooking(c *gin.Context) {
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.refundService.RefundBooking(c.Request.Context(), req.BookingID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrBookingNotFound):
			response.BusinessError(c, response.CodeBookingNotFound, "booking not found")
		case errors.Is(err, service.ErrBookingNotCancelled):
			response.BusinessError(c, response.CodeBookingNotCancelled, "booking is not cancelled")
		case errors.Is(err, repository.ErrConflictRetryExhausted):
			response.BusinessError(c, response.CodeConflictRetry, "operation conflicted, please retry")
		default:
			response.ServerError(c)
		}
		creditOperations.WithLabelValues(model.ReasonRefund, outcomeError).Inc()
		return
	}

	outcome := outcomeApplied
	if result.AlreadyRefunded {
		outcome = outcomeIdempotent
	}
	creditOperations.WithLabelValues(model.ReasonRefund, outcome).Inc()
	response.Success(c, result)
}

type IssueInvoiceRequest struct {
	PaymentID string `json:"payment_id" binding:"required"`
}

// IssueInvoice issues (or returns the existing) invoice for a completed
// payment.
// POST /api/v1/invoice/issue
func (h *Handler) IssueInvoice(c *gin.Context) {
	var req IssueInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	invoice, err := h.invoiceService.IssueForPayment(c.Request.Context(), req.PaymentID, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrPaymentNotFound):
			response.BusinessError(c, response.CodePaymentNotFound, "payment not found")
		case errors.Is(err, service.ErrPaymentNotCompleted):
			response.BusinessError(c, response.CodeBusinessError, "payment is not completed")
		default:
			response.ServerError(c)
		}
		return
	}

	response.Success(c, invoice)
}

// NextInvoiceNumber claims and returns the next invoice number for the
// current calendar month. Numbers are dense per month; a claimed number
// is spent even if the caller never uses it elsewhere.
// POST /api/v1/invoice/next
func (h *Handler) NextInvoiceNumber(c *gin.Context) {
	number, err := h.invoiceService.NextInvoiceNumber(c.Request.Context(), time.Now())
	if err != nil {
		if errors.Is(err, repository.ErrConflictRetryExhausted) {
			response.BusinessError(c, response.CodeConflictRetry, "operation conflicted, please retry")
			return
		}
		response.ServerError(c)
		return
	}

	response.Success(c, gin.H{"number": number})
}

// RequeueOutbox flips parked outbox messages back to pending, for
// operators recovering from a broker outage.
// POST /api/v1/outbox/requeue
func (h *Handler) RequeueOutbox(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 {
		limit = 100
	}

	requeued, err := h.outboxRepo.RequeueFailed(c.Request.Context(), limit)
	if err != nil {
		response.ServerError(c)
		return
	}

	response.Success(c, gin.H{"requeued": requeued})
}

func (h *Handler) renderLedgerError(c *gin.Context, reason string, err error) {
	switch {
	case errors.Is(err, repository.ErrInsufficientCredits):
		creditOperations.WithLabelValues(reason, outcomeRejected).Inc()
		response.BusinessError(c, response.CodeInsufficientCredits, "insufficient credits")
	case errors.Is(err, service.ErrInvalidAmount):
		creditOperations.WithLabelValues(reason, outcomeRejected).Inc()
		response.ParamError(c, "amount must be greater than zero")
	case errors.Is(err, repository.ErrConflictRetryExhausted):
		creditOperations.WithLabelValues(reason, outcomeError).Inc()
		response.BusinessError(c, response.CodeConflictRetry, "operation conflicted, please retry")
	default:
		creditOperations.WithLabelValues(reason, outcomeError).Inc()
		response.ServerError(c)
	}
}

func ledgerOutcome(result *service.LedgerResult) string {
	if result.AlreadyApplied {
		return outcomeIdempotent
	}
	return outcomeApplied
}
