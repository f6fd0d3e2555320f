package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	mw "github.com/decantapp/decant/server/middleware"
	"github.com/decantapp/decant/server/model"
	"github.com/decantapp/decant/server/social/visibility"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ServiceName labels HTTP and visibility metrics emitted by this server.
const ServiceName = "decant-api"

// EntryHandler serves journal entries to viewers. Entries are written by
// the journaling surface; everything here is read-side and gated by the
// visibility engine.
type EntryHandler struct {
	db     *gorm.DB
	engine *visibility.Engine
	logger *zap.Logger
}

// NewEntryHandler creates an EntryHandler.
func NewEntryHandler(db *gorm.DB, engine *visibility.Engine, logger *zap.Logger) *EntryHandler {
	return &EntryHandler{db: db, engine: engine, logger: logger}
}

// visibilityError maps engine failures onto transport codes. A failed
// relationship lookup is retryable, so it answers 503 instead of denying
// or letting the entry through.
func visibilityError(c *gin.Context, err error) {
	if errors.Is(err, visibility.ErrRelationshipLookup) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func entryView(e model.Entry) visibility.EntryView {
	return visibility.EntryView{
		OwnerID:         e.OwnerID,
		EntryPrivacy:    visibility.Tier(e.EntryPrivacy),
		CommentsPrivacy: visibility.Tier(e.CommentsPrivacy),
		CommentsScope:   visibility.CommentsScope(e.CommentsScope),
	}
}

// loadEntry fetches an entry by the :id route param. A missing row and a
// malformed id both answer the caller; ok reports whether the handler
// should continue.
func loadEntry(c *gin.Context, db *gorm.DB) (model.Entry, bool) {
	var entry model.Entry
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return entry, false
	}
	err = db.WithContext(c.Request.Context()).First(&entry, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return entry, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return entry, false
	}
	return entry, true
}

// GetEntry handles GET /api/entries/:id. A denied viewer gets the same
// 404 as a missing entry.
func (h *EntryHandler) GetEntry(c *gin.Context) {
	entry, ok := loadEntry(c, h.db)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	viewerID := mw.GetUserID(c)

	start := time.Now()
	allowed, err := h.engine.CanViewEntry(ctx, viewerID, entry.OwnerID, visibility.Tier(entry.EntryPrivacy))
	if err != nil {
		mw.RecordVisibilityCheck("view_entry", "error", ServiceName, time.Since(start))
		h.logger.Error("entry visibility check failed",
			zap.Int64("entry_id", entry.ID),
			zap.Int64("viewer_id", viewerID),
			zap.Error(err))
		visibilityError(c, err)
		return
	}
	if !allowed {
		mw.RecordVisibilityCheck("view_entry", "denied", ServiceName, time.Since(start))
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	mw.RecordVisibilityCheck("view_entry", "allowed", ServiceName, time.Since(start))

	var owner model.User
	if err := h.db.WithContext(ctx).First(&owner, entry.OwnerID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	rel, err := h.engine.Classify(ctx, viewerID, entry.OwnerID)
	if err != nil {
		visibilityError(c, err)
		return
	}

	view := entryView(entry)
	canComment, err := h.engine.CanAccessComments(ctx, viewerID, view)
	if err != nil {
		visibilityError(c, err)
		return
	}
	canReact, err := h.engine.CanReact(ctx, viewerID, entry.OwnerID, view.EntryPrivacy)
	if err != nil {
		visibilityError(c, err)
		return
	}

	reactions, err := reactionCounts(ctx, h.db, entry.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	var commentCount int64
	if err := h.db.WithContext(ctx).Model(&model.EntryComment{}).
		Where("entry_id = ?", entry.ID).Count(&commentCount).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	var mine model.EntryReaction
	myReaction := ""
	err = h.db.WithContext(ctx).
		Where("entry_id = ? AND user_id = ?", entry.ID, viewerID).
		First(&mine).Error
	if err == nil {
		myReaction = mine.Kind
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entry":        entry,
		"owner":        toPublicUser(owner),
		"relationship": rel,
		// Clients must not re-derive the legacy comments scope; the
		// resolved tier ships with the entry.
		"comments_privacy_effective": visibility.ResolveCommentsPrivacy(view),
		"reaction_counts":            reactions,
		"comment_count":              commentCount,
		"my_reaction":                myReaction,
		"can_comment":                canComment,
		"can_react":                  canReact,
	})
}

// ListUserEntries handles GET /api/users/:id/entries. The tier set is
// resolved once and pushed into the query; a blocked pair answers like
// the user does not exist.
func (h *EntryHandler) ListUserEntries(c *gin.Context) {
	ownerID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	ctx := c.Request.Context()
	viewerID := mw.GetUserID(c)

	var owner model.User
	err = h.db.WithContext(ctx).Where("id = ? AND status = 1", ownerID).First(&owner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	start := time.Now()
	tiers, err := h.engine.VisibleTiersFor(ctx, viewerID, ownerID)
	if err != nil {
		mw.RecordVisibilityCheck("list_entries", "error", ServiceName, time.Since(start))
		visibilityError(c, err)
		return
	}
	if tiers == nil {
		mw.RecordVisibilityCheck("list_entries", "denied", ServiceName, time.Since(start))
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	mw.RecordVisibilityCheck("list_entries", "allowed", ServiceName, time.Since(start))

	limit, offset := pageParams(c, 20, 100)
	var entries []model.Entry
	if err := h.db.WithContext(ctx).
		Where("owner_id = ? AND entry_privacy IN ?", ownerID, tierValues(tiers)).
		Order("created_at desc, id desc").
		Limit(limit).Offset(offset).
		Find(&entries).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"owner":   toPublicUser(owner),
		"entries": entries,
		"limit":   limit,
		"offset":  offset,
	})
}

func reactionCounts(ctx context.Context, db *gorm.DB, entryID int64) (map[string]int64, error) {
	var rows []struct {
		Kind  string
		Count int64
	}
	if err := db.WithContext(ctx).Model(&model.EntryReaction{}).
		Select("kind, count(*) as count").
		Where("entry_id = ?", entryID).
		Group("kind").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Kind] = r.Count
	}
	return counts, nil
}

// pageParams reads limit/offset query params with a default and a cap.
func pageParams(c *gin.Context, def, max int) (int, int) {
	limit := def
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > max {
		limit = max
	}
	offset := 0
	if raw := c.Query("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			offset = v
		}
	}
	return limit, offset
}
