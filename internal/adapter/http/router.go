package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evgenyvinnik/checkout-api/internal/adapter/http/middleware"
	"github.com/evgenyvinnik/checkout-api/internal/logging"
)

func NewRouter(h *OrderHandler, th *TokenHandler, authz *middleware.Authz) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.MetricsMiddleware())

	l := logging.New("http")
	r.Use(middleware.Logging(l))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})
	// Prometheus endpoint (scraped by Prometheus)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/v1/token", th.IssueToken)

	v1 := r.Group("/v1")
	{
		v1.POST("/orders", authz.Require("orders.write"), h.Checkout)
		v1.GET("/orders/:id", authz.Require("orders.read"), h.GetOrderByID)
		v1.POST("/orders/:id/cancel", authz.Require("orders.write"), h.CancelOrder)
		v1.PUT("/orders/:id/status", authz.Require("orders.admin"), h.UpdateStatus)
		v1.GET("/retention/stats", authz.Require("orders.admin"), h.RetentionStats)
	}

	return r
}
