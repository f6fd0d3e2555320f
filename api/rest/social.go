package rest

import (
	"errors"
	"net/http"
	"strconv"

	mw "github.com/decantapp/decant/server/middleware"
	"github.com/decantapp/decant/server/social/relation"
	"github.com/gin-gonic/gin"
)

// SocialHandler exposes the friend-request lifecycle and block list.
type SocialHandler struct {
	relations *relation.Service
}

// NewSocialHandler creates a SocialHandler.
func NewSocialHandler(relations *relation.Service) *SocialHandler {
	return &SocialHandler{relations: relations}
}

type friendRequestBody struct {
	RecipientID int64 `json:"recipient_id" binding:"required"`
}

// SendFriendRequest handles POST /api/social/requests.
func (h *SocialHandler) SendFriendRequest(c *gin.Context) {
	var body friendRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, err := h.relations.Request(c.Request.Context(), mw.GetUserID(c), body.RecipientID)
	if err != nil {
		relationError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"request": req})
}

// AcceptRequest handles POST /api/social/requests/:id/accept.
func (h *SocialHandler) AcceptRequest(c *gin.Context) {
	requestID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	req, err := h.relations.Accept(c.Request.Context(), mw.GetUserID(c), requestID)
	if err != nil {
		relationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

// DeclineRequest handles DELETE /api/social/requests/:id.
// The recipient declines; the requester withdraws.
func (h *SocialHandler) DeclineRequest(c *gin.Context) {
	requestID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	if err := h.relations.Decline(c.Request.Context(), mw.GetUserID(c), requestID); err != nil {
		relationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListFriends handles GET /api/social/friends.
func (h *SocialHandler) ListFriends(c *gin.Context) {
	friends, err := h.relations.Friends(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": publicUsers(friends)})
}

// ListIncoming handles GET /api/social/requests.
func (h *SocialHandler) ListIncoming(c *gin.Context) {
	pending, err := h.relations.IncomingPending(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": pending})
}

// Overview handles GET /api/social/overview: friends plus incoming
// pending requests in one round trip.
func (h *SocialHandler) Overview(c *gin.Context) {
	ov, err := h.relations.Overview(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"friends": publicUsers(ov.Friends),
		"pending": ov.Pending,
	})
}

// MarkRequestsSeen handles POST /api/social/requests/seen.
func (h *SocialHandler) MarkRequestsSeen(c *gin.Context) {
	n, err := h.relations.MarkSeen(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// Unfriend handles DELETE /api/social/friends/:id.
func (h *SocialHandler) Unfriend(c *gin.Context) {
	otherID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	if err := h.relations.Unfriend(c.Request.Context(), mw.GetUserID(c), otherID); err != nil {
		relationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Block handles POST /api/social/blocks/:id.
func (h *SocialHandler) Block(c *gin.Context) {
	otherID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	if err := h.relations.Block(c.Request.Context(), mw.GetUserID(c), otherID); err != nil {
		relationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Unblock handles DELETE /api/social/blocks/:id.
func (h *SocialHandler) Unblock(c *gin.Context) {
	otherID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	if err := h.relations.Unblock(c.Request.Context(), mw.GetUserID(c), otherID); err != nil {
		relationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// relationError maps service sentinels onto status codes. A blocked
// pair answers exactly like a missing user so the block itself stays
// invisible.
func relationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, relation.ErrSelfRelation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot target yourself"})
	case errors.Is(err, relation.ErrEdgeExists):
		c.JSON(http.StatusConflict, gin.H{"error": "request or friendship already exists"})
	case errors.Is(err, relation.ErrPairBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "try again"})
	case errors.Is(err, relation.ErrUserNotFound),
		errors.Is(err, relation.ErrBlocked):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, relation.ErrRequestNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
	case errors.Is(err, relation.ErrNotFriends):
		c.JSON(http.StatusNotFound, gin.H{"error": "not friends"})
	case errors.Is(err, relation.ErrNotBlocked):
		c.JSON(http.StatusNotFound, gin.H{"error": "no block to remove"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
