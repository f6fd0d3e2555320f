package rest

import (
	"net/http"
	"time"

	mw "github.com/decantapp/decant/server/middleware"
	"github.com/decantapp/decant/server/model"
	"github.com/decantapp/decant/server/social/visibility"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CommentHandler serves the comments section of an entry. Reads and
// writes share one gate: the viewer must see the entry at all (404
// otherwise) and then clear the resolved comments tier (403 otherwise).
type CommentHandler struct {
	db     *gorm.DB
	engine *visibility.Engine
	logger *zap.Logger
}

// NewCommentHandler creates a CommentHandler.
func NewCommentHandler(db *gorm.DB, engine *visibility.Engine, logger *zap.Logger) *CommentHandler {
	return &CommentHandler{db: db, engine: engine, logger: logger}
}

// gateComments runs the entry gate then the comments gate. It writes the
// response on failure; ok reports whether the handler should continue.
func (h *CommentHandler) gateComments(c *gin.Context) (model.Entry, bool) {
	entry, ok := loadEntry(c, h.db)
	if !ok {
		return entry, false
	}
	ctx := c.Request.Context()
	viewerID := mw.GetUserID(c)

	allowed, err := h.engine.CanViewEntry(ctx, viewerID, entry.OwnerID, visibility.Tier(entry.EntryPrivacy))
	if err != nil {
		visibilityError(c, err)
		return entry, false
	}
	if !allowed {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return entry, false
	}

	start := time.Now()
	canComment, err := h.engine.CanAccessComments(ctx, viewerID, entryView(entry))
	if err != nil {
		mw.RecordVisibilityCheck("access_comments", "error", ServiceName, time.Since(start))
		h.logger.Error("comments gate failed",
			zap.Int64("entry_id", entry.ID),
			zap.Int64("viewer_id", viewerID),
			zap.Error(err))
		visibilityError(c, err)
		return entry, false
	}
	if !canComment {
		mw.RecordVisibilityCheck("access_comments", "denied", ServiceName, time.Since(start))
		c.JSON(http.StatusForbidden, gin.H{"error": "comments are restricted"})
		return entry, false
	}
	mw.RecordVisibilityCheck("access_comments", "allowed", ServiceName, time.Since(start))
	return entry, true
}

type commentItem struct {
	ID        int64      `json:"id"`
	Author    publicUser `json:"author"`
	Body      string     `json:"body"`
	CreatedAt time.Time  `json:"created_at"`
}

// ListComments handles GET /api/entries/:id/comments, oldest first.
func (h *CommentHandler) ListComments(c *gin.Context) {
	entry, ok := h.gateComments(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	limit, offset := pageParams(c, 50, 200)

	var comments []model.EntryComment
	if err := h.db.WithContext(ctx).
		Where("entry_id = ?", entry.ID).
		Order("created_at asc, id asc").
		Limit(limit).Offset(offset).
		Find(&comments).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	authorIDs := make([]int64, 0, len(comments))
	seen := map[int64]bool{}
	for _, cm := range comments {
		if !seen[cm.AuthorID] {
			seen[cm.AuthorID] = true
			authorIDs = append(authorIDs, cm.AuthorID)
		}
	}
	authors := map[int64]model.User{}
	if len(authorIDs) > 0 {
		var users []model.User
		if err := h.db.WithContext(ctx).Where("id IN ?", authorIDs).Find(&users).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		for _, u := range users {
			authors[u.ID] = u
		}
	}

	items := make([]commentItem, 0, len(comments))
	for _, cm := range comments {
		items = append(items, commentItem{
			ID:        cm.ID,
			Author:    toPublicUser(authors[cm.AuthorID]),
			Body:      cm.Body,
			CreatedAt: cm.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"comments": items,
		"limit":    limit,
		"offset":   offset,
	})
}

type createCommentBody struct {
	Body string `json:"body" binding:"required,max=2000"`
}

// CreateComment handles POST /api/entries/:id/comments.
func (h *CommentHandler) CreateComment(c *gin.Context) {
	var body createCommentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entry, ok := h.gateComments(c)
	if !ok {
		return
	}
	comment := model.EntryComment{
		EntryID:  entry.ID,
		AuthorID: mw.GetUserID(c),
		Body:     body.Body,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&comment).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"comment": comment})
}
