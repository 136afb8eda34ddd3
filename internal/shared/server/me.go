package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat-backend/internal/documents"
	"docchat-backend/internal/shared/server/middleware"
	"docchat-backend/internal/shared/server/respond"
	"docchat-backend/internal/shared/telemetry"
)

// DocumentLister lists the caller's documents for the /me summary.
type DocumentLister interface {
	List(ctx context.Context, ownerID string) ([]documents.Document, error)
}

type meResponse struct {
	UserID    string           `json:"userId"`
	Email     string           `json:"email,omitempty"`
	Name      string           `json:"name,omitempty"`
	Picture   string           `json:"picture,omitempty"`
	Documents *documentSummary `json:"documents,omitempty"`
}

type documentSummary struct {
	Total    int                      `json:"total"`
	ByStatus map[documents.Status]int `json:"byStatus"`
}

// registerMeRoutes attaches the /me endpoint. docs may be nil, in which
// case the response carries the identity only.
func registerMeRoutes(rg *gin.RouterGroup, docs DocumentLister) {
	rg.GET("/me", func(c *gin.Context) { meHandler(c, docs) })
}

func meHandler(c *gin.Context, docs DocumentLister) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
		return
	}

	resp := meResponse{
		UserID:  userID,
		Email:   middleware.UserEmailFromContext(c),
		Name:    middleware.UserNameFromContext(c),
		Picture: middleware.UserPictureFromContext(c),
	}
	if docs != nil {
		list, err := docs.List(c.Request.Context(), userID)
		if err != nil {
			// Identity is still served; the summary is best effort.
			telemetry.Warn("me.documents.failed", map[string]any{
				"user_id":    userID,
				"request_id": middleware.RequestIDFromContext(c),
				"error":      err.Error(),
			})
		} else {
			summary := &documentSummary{Total: len(list), ByStatus: make(map[documents.Status]int)}
			for _, doc := range list {
				summary.ByStatus[doc.Status]++
			}
			resp.Documents = summary
		}
	}

	respond.OK(c, resp)
}
