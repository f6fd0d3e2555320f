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
	"gorm.io/gorm/clause"
)

// ReactionHandler serves entry reactions. One reaction per user per
// entry; reacting again replaces the kind.
type ReactionHandler struct {
	db     *gorm.DB
	engine *visibility.Engine
	logger *zap.Logger
}

// NewReactionHandler creates a ReactionHandler.
func NewReactionHandler(db *gorm.DB, engine *visibility.Engine, logger *zap.Logger) *ReactionHandler {
	return &ReactionHandler{db: db, engine: engine, logger: logger}
}

// gateView runs the entry gate shared by both reaction handlers.
func (h *ReactionHandler) gateView(c *gin.Context) (model.Entry, bool) {
	entry, ok := loadEntry(c, h.db)
	if !ok {
		return entry, false
	}
	allowed, err := h.engine.CanViewEntry(c.Request.Context(), mw.GetUserID(c),
		entry.OwnerID, visibility.Tier(entry.EntryPrivacy))
	if err != nil {
		visibilityError(c, err)
		return entry, false
	}
	if !allowed {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return entry, false
	}
	return entry, true
}

type reactBody struct {
	Kind string `json:"kind" binding:"required,max=24"`
}

// React handles POST /api/entries/:id/reactions.
func (h *ReactionHandler) React(c *gin.Context) {
	var body reactBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entry, ok := h.gateView(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	viewerID := mw.GetUserID(c)

	start := time.Now()
	allowed, err := h.engine.CanReact(ctx, viewerID, entry.OwnerID, visibility.Tier(entry.EntryPrivacy))
	if err != nil {
		mw.RecordVisibilityCheck("react", "error", ServiceName, time.Since(start))
		h.logger.Error("reaction gate failed",
			zap.Int64("entry_id", entry.ID),
			zap.Int64("viewer_id", viewerID),
			zap.Error(err))
		visibilityError(c, err)
		return
	}
	if !allowed {
		mw.RecordVisibilityCheck("react", "denied", ServiceName, time.Since(start))
		c.JSON(http.StatusForbidden, gin.H{"error": "reactions are restricted"})
		return
	}
	mw.RecordVisibilityCheck("react", "allowed", ServiceName, time.Since(start))

	reaction := model.EntryReaction{
		EntryID: entry.ID,
		UserID:  viewerID,
		Kind:    body.Kind,
	}
	if err := h.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "created_at"}),
	}).Create(&reaction).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": body.Kind})
}

// Unreact handles DELETE /api/entries/:id/reactions. Only the caller's
// own reaction is removable.
func (h *ReactionHandler) Unreact(c *gin.Context) {
	entry, ok := h.gateView(c)
	if !ok {
		return
	}
	res := h.db.WithContext(c.Request.Context()).
		Where("entry_id = ? AND user_id = ?", entry.ID, mw.GetUserID(c)).
		Delete(&model.EntryReaction{})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no reaction"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
