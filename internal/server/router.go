package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/edulite/auth-service/internal/auth"

	"github.com/gin-gonic/gin"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

func NewRouter(authHandler *auth.Handler, db Pinger, requestTimeoutAfter time.Duration, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(recovery(logger), requestLogger(logger), requestTimeout(requestTimeoutAfter))

	r.GET("/health", health(db))
	authHandler.Routes(r)
	return r
}

func health(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
