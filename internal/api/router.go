// Package api serves the Telegram webhook, the operator REST surface and the
// operator websocket.
//
// Message payloads (REST history, new_message and message_sent frames) carry
// "sender": "lead" for the Telegram user and "sender": "manager" for an
// operator reply. Timestamps are RFC 3339 in UTC.
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"gitlab.com/timkado/api/leads-router/internal/auth"
	"gitlab.com/timkado/api/leads-router/internal/identity"
	"gitlab.com/timkado/api/leads-router/internal/realtime"
	"gitlab.com/timkado/api/leads-router/internal/usecase"
)

// Options are the HTTP-facing knobs from config.
type Options struct {
	WebhookSecret    string
	WebhookRateLimit float64
	WebhookBurst     int
	AllowedOrigins   []string
	PingInterval     time.Duration
}

// Deps are the services the handlers call.
type Deps struct {
	Inbound   *usecase.InboundProcessor
	Lifecycle *usecase.LifecycleService
	Relay     *usecase.Relay
	Stats     *usecase.StatsService
	Hub       *realtime.Hub
	Auth      *auth.Authenticator
}

// NewRouter builds the gin engine with every route.
func NewRouter(d Deps, opts Options) *gin.Engine {
	engine := gin.New()
	engine.Use(RequestID(), Recovery(), RequestLogger(), corsMiddleware(opts.AllowedOrigins))

	engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Telegram leads router"})
	})
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	webhook := &webhookHandler{inbound: d.Inbound}
	webhookGroup := engine.Group("/webhook", WebhookSecret(opts.WebhookSecret))
	if opts.WebhookRateLimit > 0 {
		webhookGroup.Use(NewIPRateLimiter(rate.Limit(opts.WebhookRateLimit), opts.WebhookBurst).RateLimit())
	}
	webhookGroup.POST("/:bot_identifier", webhook.handle)

	ws := &wsHandler{auth: d.Auth, hub: d.Hub, relay: d.Relay, pingInterval: opts.PingInterval}
	engine.GET("/ws", ws.serve)

	authed := engine.Group("", RequireAuth(d.Auth), RequireRole(identity.RoleAdmin, identity.RoleManager))

	authed.GET("/auth/me", func(c *gin.Context) {
		id := callerIdentity(c)
		c.JSON(http.StatusOK, gin.H{"id": id.OperatorID, "username": id.Username, "role": id.Role})
	})

	leads := &leadHandler{lifecycle: d.Lifecycle, relay: d.Relay}
	leadRoutes := authed.Group("/leads")
	leadRoutes.GET("", leads.list)
	leadRoutes.GET("/:id", leads.get)
	leadRoutes.GET("/:id/messages", leads.messages)
	leadRoutes.POST("/:id/messages", leads.send)
	leadRoutes.POST("/:id/read", leads.markRead)
	leadRoutes.POST("/:id/close", leads.close)
	// Paths used by the existing operator web client.
	leadRoutes.PUT("/:id/mark-read", leads.markRead)
	leadRoutes.PUT("/:id/close", leads.close)
	messageRoutes := authed.Group("/messages")
	messageRoutes.GET("/:id", leads.messages)
	messageRoutes.POST("/:id/send", leads.send)

	stats := &statsHandler{stats: d.Stats}
	statsRoutes := authed.Group("/stats")
	statsRoutes.GET("/overview", stats.overview)
	statsRoutes.GET("/daily", stats.daily)
	statsRoutes.GET("/managers", RequireRole(identity.RoleAdmin), stats.managers)
	statsRoutes.GET("/last24hours", RequireRole(identity.RoleAdmin), stats.last24Hours)

	return engine
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", headerRequestID},
		ExposeHeaders: []string{"Content-Length", headerRequestID},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}
