package ice

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"consultcall-backend/pkg/iceconfig"
)

// Handler serves the ICE server list. The list is built once at startup.
type Handler struct {
	servers *iceconfig.Response
}

// NewHandler creates a new ICE handler
func NewHandler(servers *iceconfig.Response) *Handler {
	return &Handler{servers: servers}
}

// GetICEServers returns {"iceServers": [...]} unwrapped, so it can be handed
// straight to RTCPeerConnection
// GET /v1/ice, GET /v1/config/ice
func (h *Handler) GetICEServers(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, h.servers)
}
