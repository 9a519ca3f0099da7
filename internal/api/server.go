package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"openhr/internal/cache"
	"openhr/internal/config"
	"openhr/internal/db"
	"openhr/internal/redis"
	"openhr/internal/security"
	"openhr/internal/sync"
)

type Server struct {
	log      *slog.Logger
	cfg      config.Config
	db       *db.DB
	redis    *redis.Client
	cache    *cache.Cache
	store      sync.Store
	service    *sync.Service
	tracker    *sync.StatusTracker
	reconciler *sync.Reconciler
	router     *gin.Engine
	fallback   *security.LimiterStore
}

func NewServer(
	log *slog.Logger,
	cfg config.Config,
	dbConn *db.DB,
	redisClient *redis.Client,
	memCache *cache.Cache,
	store sync.Store,
	service *sync.Service,
	tracker *sync.StatusTracker,
	reconciler *sync.Reconciler,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		log:        log,
		cfg:        cfg,
		db:         dbConn,
		redis:      redisClient,
		cache:      memCache,
		store:      store,
		service:    service,
		tracker:    tracker,
		reconciler: reconciler,
		router:     gin.New(),
		// fallback limiter when redis is unreachable: 1 req/s, burst 30
		fallback: security.NewLimiterStore(rate.Limit(1), 30, 10*time.Minute),
	}

	r := s.router
	r.Use(gin.Recovery())
	r.Use(s.corsMiddleware())
	r.Use(s.loggingMiddleware())
	r.Use(s.rateLimitMiddleware())

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", s.health)
		v1.GET("/guilds/:guild_id/sync-status", s.getSyncStatus)
		v1.GET("/guilds/:guild_id/members", s.listMembers)

		// permission checks live here; the sync core trusts its caller
		admin := v1.Group("/admin")
		admin.Use(s.adminAuthMiddleware())
		{
			admin.POST("/guilds/:guild_id/sync", s.triggerSync)
			admin.POST("/guilds/:guild_id/members/:discord_id/link", s.linkMember)
			admin.DELETE("/guilds/:guild_id/members/:discord_id/link", s.unlinkMember)
		}
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), 10*time.Second)
}
