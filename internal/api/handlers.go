package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"openhr/internal/models"
	"openhr/internal/security"
	"openhr/internal/sync"
)

const statusCacheTTL = 30 * time.Second

func (s *Server) health(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	checks := gin.H{}
	healthy := true

	if s.db != nil && s.db.Pool != nil {
		if err := s.db.Pool.Ping(ctx); err != nil {
			checks["database"] = "down"
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}
	if s.redis != nil {
		if err := s.redis.RDB().Ping(ctx).Err(); err != nil {
			checks["redis"] = "down"
		} else {
			checks["redis"] = "ok"
		}
	}

	status := 200
	if !healthy {
		status = 503
	}
	c.JSON(status, gin.H{"healthy": healthy, "checks": checks})
}

func (s *Server) triggerSync(c *gin.Context) {
	guildID := c.Param("guild_id")
	if _, err := security.ParseSnowflake(guildID); err != nil {
		c.JSON(400, errorBody("invalid_guild_id", "guild id must be a discord snowflake"))
		return
	}

	// a sync runs to completion once started, even if the caller hangs up
	result := s.service.SyncGuild(context.WithoutCancel(c.Request.Context()), guildID)

	status := 200
	if !result.Success {
		status = 502
	}
	c.JSON(status, result)
}

func (s *Server) getSyncStatus(c *gin.Context) {
	guildID := c.Param("guild_id")
	if _, err := security.ParseSnowflake(guildID); err != nil {
		c.JSON(400, errorBody("invalid_guild_id", "guild id must be a discord snowflake"))
		return
	}

	cacheKey := fmt.Sprintf("guild:%s:status", guildID)
	if cached, ok := s.cacheGet(cacheKey); ok {
		c.JSON(200, cached)
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	status, err := s.tracker.GetStatus(ctx, guildID)
	if err != nil {
		s.log.Error("sync_status_lookup_failed", "guild_id", guildID, "error", err)
		c.JSON(500, errorBody("internal_error", "failed to load sync status"))
		return
	}
	if status == nil {
		c.JSON(404, errorBody("not_found", "guild has never been synced"))
		return
	}

	s.cacheSet(cacheKey, status)
	c.JSON(200, status)
}

func (s *Server) listMembers(c *gin.Context) {
	guildID := c.Param("guild_id")
	if _, err := security.ParseSnowflake(guildID); err != nil {
		c.JSON(400, errorBody("invalid_guild_id", "guild id must be a discord snowflake"))
		return
	}

	query := c.Query("q")
	if len(query) > 100 {
		c.JSON(400, errorBody("invalid_query", "search query too long"))
		return
	}
	skip := parseIntDefault(c.Query("skip"), 0)
	if skip < 0 {
		skip = 0
	}
	take := parseIntDefault(c.Query("take"), 50)

	cacheKey := fmt.Sprintf("guild:%s:members:%s:%d:%d", guildID, query, skip, take)
	if cached, ok := s.cacheGet(cacheKey); ok {
		c.JSON(200, cached)
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	members, total, err := s.store.ListMembers(ctx, guildID, query, skip, take)
	if err != nil {
		s.log.Error("member_list_failed", "guild_id", guildID, "error", err)
		c.JSON(500, errorBody("internal_error", "failed to list members"))
		return
	}
	if members == nil {
		members = []models.GuildMember{}
	}

	body := gin.H{"members": members, "total": total, "skip": skip, "take": take}
	s.cacheSet(cacheKey, body)
	c.JSON(200, body)
}

type linkRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (s *Server) linkMember(c *gin.Context) {
	guildID := c.Param("guild_id")
	discordID := c.Param("discord_id")
	if _, err := security.ParseSnowflake(guildID); err != nil {
		c.JSON(400, errorBody("invalid_guild_id", "guild id must be a discord snowflake"))
		return
	}
	if _, err := security.ParseSnowflake(discordID); err != nil {
		c.JSON(400, errorBody("invalid_discord_id", "discord id must be a discord snowflake"))
		return
	}

	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, errorBody("invalid_body", "user_id is required"))
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	// remember the previous owner; a placeholder left behind gets merged
	prevUserID, err := s.store.FindMemberUserID(ctx, discordID, guildID)
	if err != nil {
		s.log.Error("member_lookup_failed", "guild_id", guildID, "discord_id", discordID, "error", err)
		c.JSON(500, errorBody("internal_error", "failed to load member"))
		return
	}

	if !s.setLink(ctx, c, guildID, discordID, &req.UserID) {
		return
	}
	s.mergeOrphanedPlaceholder(ctx, prevUserID, req.UserID)
	s.cacheInvalidate(fmt.Sprintf("guild:%s:", guildID))
	c.JSON(200, gin.H{"linked": true, "user_id": req.UserID})
}

func (s *Server) unlinkMember(c *gin.Context) {
	guildID := c.Param("guild_id")
	discordID := c.Param("discord_id")
	if _, err := security.ParseSnowflake(guildID); err != nil {
		c.JSON(400, errorBody("invalid_guild_id", "guild id must be a discord snowflake"))
		return
	}
	if _, err := security.ParseSnowflake(discordID); err != nil {
		c.JSON(400, errorBody("invalid_discord_id", "discord id must be a discord snowflake"))
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	if !s.setLink(ctx, c, guildID, discordID, nil) {
		return
	}
	s.cacheInvalidate(fmt.Sprintf("guild:%s:", guildID))
	c.JSON(200, gin.H{"linked": false})
}

// setLink writes the mirror link and replies with the error response itself
// when the update fails. Returns true when the caller should send the
// success body.
func (s *Server) setLink(ctx context.Context, c *gin.Context, guildID, discordID string, userID *string) bool {
	err := s.store.SetMemberLink(ctx, guildID, discordID, userID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, sync.ErrMemberNotFound):
		c.JSON(404, errorBody("not_found", "member not found in guild mirror"))
		return false
	default:
		s.log.Error("member_link_update_failed",
			"guild_id", guildID, "discord_id", discordID, "error", err)
		c.JSON(500, errorBody("internal_error", "failed to update member link"))
		return false
	}
}

// mergeOrphanedPlaceholder folds a placeholder user into the real account a
// member was just linked to. Non-placeholder previous owners are left alone.
func (s *Server) mergeOrphanedPlaceholder(ctx context.Context, prevUserID, newUserID string) {
	if s.reconciler == nil || prevUserID == "" || prevUserID == newUserID {
		return
	}
	err := s.reconciler.MergePlaceholder(ctx, prevUserID, newUserID)
	switch {
	case err == nil:
	case errors.Is(err, sync.ErrNotPlaceholder), errors.Is(err, sync.ErrUserNotFound):
		// previous owner is a real user or already gone
	default:
		s.log.Error("placeholder_merge_failed",
			"placeholder_id", prevUserID, "user_id", newUserID, "error", err)
	}
}

func (s *Server) cacheGet(key string) (any, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(key)
}

func (s *Server) cacheSet(key string, value any) {
	if s.cache == nil {
		return
	}
	s.cache.SetWithTTL(key, value, statusCacheTTL)
}

func (s *Server) cacheInvalidate(prefix string) {
	if s.cache == nil {
		return
	}
	s.cache.InvalidateByPrefix(prefix)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
