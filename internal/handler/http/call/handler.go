package call

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"consultcall-backend/internal/domain"
	"consultcall-backend/internal/middleware"
	callsvc "consultcall-backend/internal/service/call"
	"consultcall-backend/pkg/constants"
	"consultcall-backend/pkg/pagination"
	"consultcall-backend/pkg/response"
)

// Handler handles consultation call HTTP requests
type Handler struct {
	callService *callsvc.Service
}

// NewHandler creates a new call handler
func NewHandler(callService *callsvc.Service) *Handler {
	return &Handler{
		callService: callService,
	}
}

// RequestCallRequest represents a call request. Both fields are optional.
type RequestCallRequest struct {
	RoomID   string          `json:"room_id" binding:"omitempty,max=64"`
	Metadata domain.Metadata `json:"metadata"`
}

// ResumeCallRequest carries an optional reconnect note
type ResumeCallRequest struct {
	Note string `json:"note"`
}

// RequestCall opens a waiting call for the patient
// POST /v1/calls/request
func (h *Handler) RequestCall(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	var req RequestCallRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.ValidationError(c, err.Error())
		return
	}

	call, err := h.callService.RequestCall(c.Request.Context(), caller, callsvc.RequestCallInput{
		RoomID:   req.RoomID,
		Metadata: req.Metadata,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, call)
}

// ListWaiting returns the unclaimed queue
// GET /v1/calls/waiting
func (h *Handler) ListWaiting(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	calls, err := h.callService.ListWaitingCalls(c.Request.Context(), caller)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"calls": calls,
		"count": len(calls),
	})
}

// GetCallHistory returns the caller's calls, newest first
// GET /v1/calls/history?page=1&limit=20
func (h *Handler) GetCallHistory(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	params, err := pagination.ParsePaginationParams(
		c.DefaultQuery("page", "1"),
		c.DefaultQuery("limit", "20"),
	)
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	calls, total, err := h.callService.GetUserCallHistory(c.Request.Context(), caller, params.Limit, params.Offset)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, pagination.BuildPaginationResponse(params, total, calls))
}

// GetCall returns one call to its parties
// GET /v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	h.withCall(c, h.callService.GetCall)
}

// ClaimCall assigns the call to the calling doctor
// POST /v1/calls/:id/claim
func (h *Handler) ClaimCall(c *gin.Context) {
	h.withCall(c, h.callService.ClaimCall)
}

// StartCall marks media as flowing
// POST /v1/calls/:id/start
func (h *Handler) StartCall(c *gin.Context) {
	h.withCall(c, h.callService.StartCall)
}

// ResumeCall records a reconnect
// POST /v1/calls/:id/resume
func (h *Handler) ResumeCall(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	callID, ok := callIDOrAbort(c)
	if !ok {
		return
	}

	var req ResumeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.ValidationError(c, err.Error())
		return
	}
	if len([]rune(req.Note)) > constants.MaxResumeNoteLength {
		response.ValidationError(c, "note must be at most 500 characters")
		return
	}

	call, err := h.callService.ResumeCall(c.Request.Context(), callID, caller, req.Note)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, call)
}

// EndCall terminates the call
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	h.withCall(c, h.callService.EndCall)
}

// GetMetrics returns the aggregate call snapshot
// GET /v1/metrics/calls
func (h *Handler) GetMetrics(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	snapshot, err := h.callService.MetricsSnapshot(c.Request.Context(), caller)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, snapshot)
}

type callOp func(ctx context.Context, callID uuid.UUID, caller domain.Caller) (*domain.Call, error)

func (h *Handler) withCall(c *gin.Context, op callOp) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	callID, ok := callIDOrAbort(c)
	if !ok {
		return
	}

	call, err := op(c.Request.Context(), callID, caller)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, call)
}

func callerOrAbort(c *gin.Context) (domain.Caller, bool) {
	caller, ok := middleware.CallerFromContext(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return domain.Caller{}, false
	}
	return caller, true
}

func callIDOrAbort(c *gin.Context) (uuid.UUID, bool) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return uuid.Nil, false
	}
	return callID, true
}
