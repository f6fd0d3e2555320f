package rest

import (
	"net/http"
	"strconv"

	"github.com/decantapp/decant/server/audit"
	"github.com/decantapp/decant/server/hook"
	"github.com/decantapp/decant/server/model"
	"github.com/decantapp/decant/server/scheduler"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db     *gorm.DB
	sched  *scheduler.Scheduler
	audit  *audit.Service
	hooks  *hook.HookCenter
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	db *gorm.DB,
	sched *scheduler.Scheduler,
	auditSvc *audit.Service,
	hooks *hook.HookCenter,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{db: db, sched: sched, audit: auditSvc, hooks: hooks, logger: logger}
}

// Metrics returns server health counters.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	ctx := c.Request.Context()
	counts := gin.H{}
	for name, q := range map[string]*gorm.DB{
		"users":            h.db.WithContext(ctx).Model(&model.User{}),
		"entries":          h.db.WithContext(ctx).Model(&model.Entry{}),
		"friendships":      h.db.WithContext(ctx).Model(&model.FriendRequest{}).Where("status = ?", model.FriendStatusAccepted),
		"pending_requests": h.db.WithContext(ctx).Model(&model.FriendRequest{}).Where("status = ?", model.FriendStatusPending),
		"blocks":           h.db.WithContext(ctx).Model(&model.UserBlock{}),
	} {
		var n int64
		if err := q.Count(&n).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
			return
		}
		counts[name] = n
	}
	counts["scheduler_tasks"] = h.sched.ListTickers()
	c.JSON(http.StatusOK, counts)
}

// BanUser bans or unbans a user.
// POST /api/admin/users/:id/ban
func (h *AdminHandler) BanUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req struct {
		Ban bool `json:"ban"`
	}
	_ = c.ShouldBindJSON(&req)

	status := 1
	if req.Ban {
		status = 0
	}
	result := h.db.WithContext(c.Request.Context()).
		Model(&model.User{}).Where("id = ?", userID).Update("status", status)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	if req.Ban {
		// Live sessions survive until they expire; login is refused from now on.
		h.hooks.Trigger(c.Request.Context(), hook.OnUserBanned, hook.RelationEvent{OtherID: userID})
		h.logger.Info("admin banned user", zap.Int64("user_id", userID))
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": status})
}

// RecentAudit returns recent audit log rows, optionally filtered.
// GET /api/admin/audit?action=&actor_id=&limit=
func (h *AdminHandler) RecentAudit(c *gin.Context) {
	var actorID int64
	if raw := c.Query("actor_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid actor_id"})
			return
		}
		actorID = v
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}
	logs, err := h.audit.Recent(c.Request.Context(), c.Query("action"), actorID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}

// ListSchedulerTasks returns names of all registered ticker tasks.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.ListTickers()})
}

// RemoveSchedulerTask stops a ticker task by name.
// DELETE /api/admin/scheduler/:name
func (h *AdminHandler) RemoveSchedulerTask(c *gin.Context) {
	name := c.Param("name")
	if !h.sched.Remove(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	h.logger.Info("admin removed scheduler task", zap.String("task", name))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// WARNING: if adminKey is empty all admin endpoints are disabled (503) so the
// server cannot be accidentally deployed without protection. Set a non-empty
// server.admin_key in config to enable admin routes.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
