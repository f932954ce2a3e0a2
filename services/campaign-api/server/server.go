package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/tenantcast/pkg/metrics"
)

func NewHTTPServer(addr string, h *Handlers) *http.Server {
	r := gin.New()
	r.Use(gin.Recovery(), Observability())

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/docs", h.SwaggerUI)
	r.GET("/docs/openapi.yaml", h.OpenAPI)

	auth := r.Group("/auth/otp")
	auth.POST("/request", h.RequestOTP)
	auth.POST("/verify", h.VerifyOTP)

	hooks := r.Group("/webhooks")
	hooks.GET("/gateway", h.VerifyWebhook)
	hooks.POST("/gateway", h.ReceiveWebhook)

	camps := r.Group("/campaigns", RequireTenant())
	if h.RequireSession {
		camps.Use(RequireSession(h.Sessions))
	}
	camps.POST("/:id/activate", h.ActivateCampaign)
	camps.POST("/:id/pause", h.PauseCampaign)
	camps.POST("/:id/resume", h.ResumeCampaign)
	camps.POST("/:id/retrigger", h.RetriggerCampaign)
	camps.GET("/:id/runs", h.ListRuns)

	return &http.Server{
		Addr:    addr,
		Handler: r,
	}
}
