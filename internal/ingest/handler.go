package ingest

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"cvsearch-backend/internal/shared/server/respond"
)

// Handler exposes failed tasks to operators.
type Handler struct {
	Failures FailureStore
	Token    string
}

// NewHandler constructs a Handler. Requests must present token in X-Ops-Token.
func NewHandler(failures FailureStore, token string) *Handler {
	return &Handler{Failures: failures, Token: token}
}

// RegisterRoutes attaches ops routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ops/ingestion-failures", h.listFailures)
}

func (h *Handler) listFailures(c *gin.Context) {
	presented := strings.TrimSpace(c.GetHeader("X-Ops-Token"))
	if h.Token == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(h.Token)) != 1 {
		respond.Error(c, http.StatusForbidden, "forbidden", "ops token required", nil)
		return
	}

	limit := 100
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}

	failures, err := h.Failures.List(c.Request.Context(), limit)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list ingestion failures", nil)
		return
	}
	respond.JSON(c, http.StatusOK, failures)
}
