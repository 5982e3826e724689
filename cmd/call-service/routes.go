package main

import (
	"time"

	"github.com/gin-gonic/gin"

	callHandler "consultcall-backend/internal/handler/http/call"
	doctorHandler "consultcall-backend/internal/handler/http/doctor"
	iceHandler "consultcall-backend/internal/handler/http/ice"
	wsHandler "consultcall-backend/internal/handler/ws"
	"consultcall-backend/internal/domain"
	"consultcall-backend/internal/middleware"
	"consultcall-backend/pkg/jwt"
	"consultcall-backend/pkg/metrics"
)

// routerDeps is everything newRouter wires. RateLimiter and DBPool are
// optional; nil skips the middleware.
type routerDeps struct {
	ServiceName    string
	AllowedOrigins []string
	RequestTimeout time.Duration

	JWT        *jwt.JWTManager
	Revocation middleware.RevocationChecker
	Metrics    *metrics.Metrics

	RateLimiter *middleware.RateLimiter
	DBPool      *middleware.DBPoolLimiter

	Calls     *callHandler.Handler
	Doctors   *doctorHandler.Handler
	ICE       *iceHandler.Handler
	Signaling *wsHandler.SignalingHub
}

func newRouter(d routerDeps) *gin.Engine {
	router := gin.New() // Don't use Default() to have full control

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware(d.AllowedOrigins))
	router.Use(middleware.NewPrometheusMiddleware(d.Metrics).Handler())

	router.GET("/health", middleware.HealthCheck(d.ServiceName))
	router.GET("/metrics", middleware.MetricsHandler(d.Metrics))

	auth := middleware.AuthMiddleware(d.JWT, d.Revocation)

	v1 := router.Group("/v1")

	// ICE config is public so clients can prepare a peer connection before login
	v1.GET("/ice", d.ICE.GetICEServers)
	v1.GET("/config/ice", d.ICE.GetICEServers)

	// The socket outlives any request timeout
	v1.GET("/signaling/ws", auth, d.Signaling.ServeWS)

	api := v1.Group("")
	api.Use(auth)
	if d.RateLimiter != nil {
		api.Use(d.RateLimiter.Middleware())
	}
	api.Use(middleware.NewTimeoutMiddleware(d.RequestTimeout, d.Metrics).Middleware())
	if d.DBPool != nil {
		api.Use(d.DBPool.Middleware())
	}

	patients := middleware.RequireRole(domain.RolePatient)
	doctors := middleware.RequireRole(domain.RoleDoctor)

	calls := api.Group("/calls")
	{
		calls.POST("/request", patients, d.Calls.RequestCall)
		calls.GET("/waiting", doctors, d.Calls.ListWaiting)
		calls.GET("/history", d.Calls.GetCallHistory)
		calls.GET("/:id", d.Calls.GetCall)
		calls.POST("/:id/claim", doctors, d.Calls.ClaimCall)
		calls.POST("/:id/start", d.Calls.StartCall)
		calls.POST("/:id/resume", d.Calls.ResumeCall)
		calls.POST("/:id/end", d.Calls.EndCall)
	}

	api.GET("/metrics/calls", doctors, d.Calls.GetMetrics)

	drs := api.Group("/doctors")
	{
		drs.PATCH("/me/availability", doctors, d.Doctors.SetAvailability)
		drs.GET("/available", d.Doctors.ListAvailable)
	}

	return router
}
