package uploads

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"cvsearch-backend/internal/shared/server/middleware"
	"cvsearch-backend/internal/shared/server/respond"
)

// multipartOverhead leaves room for form boundaries and the title field.
const multipartOverhead = 1 << 20

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches upload routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, mw ...gin.HandlerFunc) {
	handlers := append(append([]gin.HandlerFunc{}, mw...), h.upload)
	rg.POST("/documents", handlers...)
}

func (h *Handler) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.Svc.MaxBytes+multipartOverhead)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Error(c, http.StatusRequestEntityTooLarge, "validation_error", "file exceeds upload limit", nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	defer file.Close()

	accepted, err := h.Svc.Accept(c.Request.Context(), Upload{
		OwnerID:     middleware.OwnerIDFromContext(c),
		FileName:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Title:       c.PostForm("title"),
		RequestID:   middleware.RequestIDFromContext(c),
		Body:        file,
	})
	if err != nil {
		var vErr *ValidationError
		switch {
		case errors.Is(err, ErrTooLarge):
			respond.Error(c, http.StatusRequestEntityTooLarge, "validation_error", err.Error(), nil)
		case errors.As(err, &vErr):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), gin.H{"field": vErr.Field})
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to accept upload", nil)
		}
		return
	}

	c.Set("taskId", accepted.TaskID)
	respond.JSON(c, http.StatusAccepted, accepted)
}
