package doctor

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"consultcall-backend/internal/middleware"
	"consultcall-backend/internal/service/availability"
	"consultcall-backend/pkg/response"
)

// Handler handles doctor availability HTTP requests
type Handler struct {
	availabilityService *availability.Service
}

// NewHandler creates a new doctor handler
func NewHandler(availabilityService *availability.Service) *Handler {
	return &Handler{
		availabilityService: availabilityService,
	}
}

// SetAvailabilityRequest flips the caller's availability
type SetAvailabilityRequest struct {
	IsAvailable *bool `json:"is_available" binding:"required"`
}

// SetAvailability updates the calling doctor's flag
// PATCH /v1/doctors/me/availability
func (h *Handler) SetAvailability(c *gin.Context) {
	caller, ok := middleware.CallerFromContext(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	var req SetAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "is_available is required")
		return
	}

	out, err := h.availabilityService.SetAvailability(c.Request.Context(), caller, *req.IsAvailable)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, out)
}

// ListAvailable returns doctors currently flagged available
// GET /v1/doctors/available
func (h *Handler) ListAvailable(c *gin.Context) {
	out, err := h.availabilityService.ListAvailable(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, out)
}
