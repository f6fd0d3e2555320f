package rest

import (
	"net/http"

	mw "github.com/decantapp/decant/server/middleware"
	"github.com/decantapp/decant/server/social/feed"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// FeedHandler serves the viewer's home feed.
type FeedHandler struct {
	feed   *feed.Service
	logger *zap.Logger
}

// NewFeedHandler creates a FeedHandler.
func NewFeedHandler(svc *feed.Service, logger *zap.Logger) *FeedHandler {
	return &FeedHandler{feed: svc, logger: logger}
}

// GetFeed handles GET /api/feed.
func (h *FeedHandler) GetFeed(c *gin.Context) {
	viewerID := mw.GetUserID(c)
	limit, offset := pageParams(c, 0, 100)

	items, err := h.feed.Build(c.Request.Context(), viewerID, limit, offset)
	if err != nil {
		h.logger.Error("feed build failed",
			zap.Int64("viewer_id", viewerID),
			zap.Error(err))
		visibilityError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items":  items,
		"offset": offset,
	})
}
