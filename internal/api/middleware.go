package api

import (
	"crypto/subtle"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
)

const (
	rateLimitWindow   = time.Minute
	rateLimitRequests = 60
)

func (s *Server) corsMiddleware() gin.HandlerFunc {
	allowed := map[string]bool{}
	for _, o := range s.cfg.CORSOrigins {
		o = strings.TrimSpace(o)
		if o != "" {
			allowed[o] = true
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowed["*"] || allowed[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Key")
			c.Header("Access-Control-Max-Age", "86400")
		}
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("http_request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// rateLimitMiddleware enforces a sliding window per client IP backed by a
// redis sorted set. When redis is unavailable it degrades to the in-process
// token bucket store instead of failing open.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if s.redis == nil {
			if !s.fallback.Allow(ip) {
				c.Header("Retry-After", "60")
				c.AbortWithStatusJSON(429, errorBody("rate_limited", "too many requests"))
				return
			}
			c.Next()
			return
		}

		key := fmt.Sprintf("ratelimit:%s", ip)
		now := time.Now()
		windowStart := now.Add(-rateLimitWindow)

		rdb := s.redis.RDB()
		pipe := rdb.Pipeline()
		pipe.ZRemRangeByScore(c.Request.Context(), key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
		countCmd := pipe.ZCard(c.Request.Context(), key)
		pipe.ZAdd(c.Request.Context(), key, goredis.Z{
			Score:  float64(now.UnixNano()),
			Member: strconv.FormatInt(now.UnixNano(), 10),
		})
		pipe.Expire(c.Request.Context(), key, rateLimitWindow)
		_, err := pipe.Exec(c.Request.Context())
		if err != nil {
			if !s.fallback.Allow(ip) {
				c.Header("Retry-After", "60")
				c.AbortWithStatusJSON(429, errorBody("rate_limited", "too many requests"))
				return
			}
			c.Next()
			return
		}

		if countCmd.Val() >= rateLimitRequests {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(429, errorBody("rate_limited", "too many requests"))
			return
		}
		c.Next()
	}
}

func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader("X-Admin-Key")
		if s.cfg.AdminSecretKey == "" ||
			subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.AdminSecretKey)) != 1 {
			c.AbortWithStatusJSON(401, errorBody("unauthorized", "invalid admin key"))
			return
		}
		c.Next()
	}
}

func errorBody(code, message string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": message}}
}
