package conversations

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat-backend/internal/documents"
	"docchat-backend/internal/shared/server/middleware"
	"docchat-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches conversation routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents/:documentId/conversations", h.create)
	rg.GET("/documents/:documentId/conversations/:conversationId", h.get)
	rg.DELETE("/documents/:documentId/conversations/:conversationId", h.delete)
}

func (h *Handler) create(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	conv, err := h.Svc.Start(c.Request.Context(), userID, c.Param("documentId"))
	if err != nil {
		writeError(c, err, "failed to create conversation")
		return
	}
	respond.Created(c, CreatedResponse{ConversationID: conv.ID})
}

func (h *Handler) get(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	doc, conv, err := h.Svc.Load(c.Request.Context(), userID, c.Param("documentId"), c.Param("conversationId"))
	if err != nil {
		writeError(c, err, "failed to fetch conversation")
		return
	}
	respond.OK(c, DetailResponse{
		Document:     documents.ToResponse(doc),
		Conversation: ToResponse(conv),
	})
}

func (h *Handler) delete(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	if err := h.Svc.Delete(c.Request.Context(), userID, c.Param("documentId"), c.Param("conversationId")); err != nil {
		writeError(c, err, "failed to delete conversation")
		return
	}
	respond.NoContent(c)
}

func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, documents.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "conversation not found", nil)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, documents.ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
