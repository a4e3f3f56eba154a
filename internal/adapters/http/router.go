package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ptkim-ran/webrtc-signalling-server/internal/adapters/signal"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/app"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/config"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/turncred"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware assigns every browser a stable peer identity via
// the "ct" cookie. The WS handler reads it back as the peer id.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *signal.SignalWSController, turn *turncred.Generator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("SignalSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	// Client bootstrap: the browser UI reads its constants from here
	// instead of hardcoding them.
	api.GET("/config", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"roomCapacity":  cfg.RoomCapacity,
			"channelCount":  cfg.ChannelCount,
			"iceDebounceMs": cfg.ICEDebounce.Milliseconds(),
			"stunUrls":      cfg.StunURLs,
		})
	})

	api.GET("/turn-credentials", func(c *gin.Context) {
		if turn == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "turn not configured"})
			return
		}
		c.JSON(http.StatusOK, turn.Generate())
	})

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, roomListing(ctl.Orch.Registry))
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("peer", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	return r
}

func roomListing(reg *app.Registry) gin.H {
	rooms := reg.Rooms()
	return gin.H{"rooms": rooms, "count": len(rooms)}
}
