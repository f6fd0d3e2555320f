package rest

import (
	"errors"
	"net/http"
	"strconv"

	mw "github.com/decantapp/decant/server/middleware"
	"github.com/decantapp/decant/server/model"
	"github.com/decantapp/decant/server/social/visibility"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ProfileHandler serves user profiles and the self profile.
type ProfileHandler struct {
	db     *gorm.DB
	engine *visibility.Engine
}

// NewProfileHandler creates a ProfileHandler.
func NewProfileHandler(db *gorm.DB, engine *visibility.Engine) *ProfileHandler {
	return &ProfileHandler{db: db, engine: engine}
}

// publicUser is the projection of a user shown to other users.
type publicUser struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

func toPublicUser(u model.User) publicUser {
	return publicUser{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
}

func publicUsers(us []model.User) []publicUser {
	out := make([]publicUser, 0, len(us))
	for _, u := range us {
		out = append(out, toPublicUser(u))
	}
	return out
}

// Me handles GET /api/me/profile.
func (h *ProfileHandler) Me(c *gin.Context) {
	var user model.User
	if err := h.db.WithContext(c.Request.Context()).
		First(&user, mw.GetUserID(c)).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

type updateProfileBody struct {
	DisplayName *string `json:"display_name" binding:"omitempty,max=64"`
	Bio         *string `json:"bio" binding:"omitempty,max=512"`
	AvatarURL   *string `json:"avatar_url" binding:"omitempty,max=255"`
}

// UpdateMe handles PUT /api/me/profile. Absent fields stay untouched; empty
// strings clear.
func (h *ProfileHandler) UpdateMe(c *gin.Context) {
	var body updateProfileBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if body.DisplayName != nil {
		updates["display_name"] = *body.DisplayName
	}
	if body.Bio != nil {
		updates["bio"] = *body.Bio
	}
	if body.AvatarURL != nil {
		updates["avatar_url"] = *body.AvatarURL
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	if err := h.db.WithContext(c.Request.Context()).Model(&model.User{}).
		Where("id = ?", mw.GetUserID(c)).Updates(updates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// GetUser handles GET /api/users/:id. Blocked pairs and banned or
// missing users all answer 404.
func (h *ProfileHandler) GetUser(c *gin.Context) {
	ownerID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	ctx := c.Request.Context()
	viewerID := mw.GetUserID(c)

	var user model.User
	err = h.db.WithContext(ctx).Where("id = ? AND status = 1", ownerID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	tiers, err := h.engine.VisibleTiersFor(ctx, viewerID, ownerID)
	if err != nil {
		visibilityError(c, err)
		return
	}
	if tiers == nil {
		// Blocked in either direction: answer like the user is gone.
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	rel, err := h.engine.Classify(ctx, viewerID, ownerID)
	if err != nil {
		visibilityError(c, err)
		return
	}

	var entryCount int64
	if err := h.db.WithContext(ctx).Model(&model.Entry{}).
		Where("owner_id = ? AND entry_privacy IN ?", ownerID, tierValues(tiers)).
		Count(&entryCount).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	friends, err := h.engine.AcceptedFriendIDs(ctx, ownerID)
	if err != nil {
		visibilityError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":         toPublicUser(user),
		"bio":          user.Bio,
		"relationship": rel,
		"entry_count":  entryCount,
		"friend_count": len(friends),
	})
}

func tierValues(tiers []visibility.Tier) []string {
	out := make([]string, len(tiers))
	for i, t := range tiers {
		out[i] = string(t)
	}
	return out
}
