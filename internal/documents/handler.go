package documents

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cvsearch-backend/internal/shared/metrics"
	"cvsearch-backend/internal/shared/server/middleware"
	"cvsearch-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches document routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/documents/search", h.search)
	rg.GET("/documents", h.list)
}

func (h *Handler) search(c *gin.Context) {
	ownerID := middleware.OwnerIDFromContext(c)
	metrics.IncSearchRequests()

	docs, err := h.Svc.Search(c.Request.Context(), c.Query("q"), ownerID, queryInt(c, "limit", DefaultSearchLimit))
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to search documents", nil)
		return
	}
	c.Set("resultCount", len(docs))

	respond.JSON(c, http.StatusOK, toResponses(docs))
}

func (h *Handler) list(c *gin.Context) {
	ownerID := middleware.OwnerIDFromContext(c)

	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	docs, err := h.Svc.List(c.Request.Context(), ownerID, queryInt(c, "limit", 20), offset)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list documents", nil)
		}
		return
	}

	respond.JSON(c, http.StatusOK, toResponses(docs))
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}
