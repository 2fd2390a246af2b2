// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"campusride/internal/http/handlers"
	"campusride/internal/http/middleware"
	"campusride/internal/infra"
	"campusride/internal/modules/driver"
	"campusride/internal/modules/location"
	"campusride/internal/modules/matching"
	"campusride/internal/modules/pricing"
	"campusride/internal/modules/ride"
	"campusride/internal/modules/wallet"
	"campusride/internal/realtime"
)

type Deps struct {
	Verifier infra.TokenVerifier
	Rides    *ride.Service
	Drivers  *driver.Service
	Wallet   *wallet.Service
	Pricing  *pricing.Service
	Matching *matching.Service
	Location *location.Service
	Registry realtime.Registry
	Logger   *slog.Logger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logging(d.Logger), middleware.Recovery(d.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.Auth(d.Verifier)

	ws := handlers.NewWSHandler(d.Registry, d.Drivers, d.Location, d.Logger)
	r.GET("/ws", auth, ws.Serve)

	api := r.Group("/api", auth)

	rideHandler := handlers.NewRideHandler(d.Rides, d.Drivers)
	api.POST("/rides/estimate", rideHandler.Estimate)
	api.POST("/rides", middleware.RequireRole(infra.RoleStudent), rideHandler.Request)
	api.GET("/rides/active", rideHandler.Active)
	api.GET("/rides/history", rideHandler.History)
	api.GET("/rides/:id", rideHandler.Get)
	api.POST("/rides/:id/cancel", rideHandler.Cancel)
	api.POST("/rides/:id/rate", middleware.RequireRole(infra.RoleStudent), rideHandler.Rate)

	driverHandler := handlers.NewDriverHandler(d.Drivers, d.Rides, d.Wallet, d.Matching)
	api.GET("/drivers/nearby", driverHandler.Nearby)

	locationHandler := handlers.NewLocationHandler(d.Location, d.Drivers)

	drv := api.Group("/driver", middleware.RequireRole(infra.RoleDriver))
	drv.POST("/register", driverHandler.Register)
	drv.GET("/me", driverHandler.Me)
	drv.POST("/online", driverHandler.SetOnline)
	drv.POST("/location", locationHandler.Update)
	drv.GET("/rides/pending", driverHandler.Pending)
	drv.POST("/rides/:id/accept", driverHandler.Accept)
	drv.POST("/rides/:id/arrived", driverHandler.Arrived)
	drv.POST("/rides/:id/start", driverHandler.Start)
	drv.POST("/rides/:id/complete", driverHandler.Complete)
	drv.GET("/earnings", driverHandler.Earnings)
	drv.GET("/wallet", driverHandler.Wallet)
	drv.GET("/wallet/transactions", driverHandler.Transactions)

	adminHandler := handlers.NewAdminHandler(d.Pricing, d.Drivers, d.Wallet, d.Rides)
	admin := api.Group("/admin", middleware.RequireRole(infra.RoleAdmin))
	admin.GET("/settings", adminHandler.Settings)
	admin.PUT("/settings", adminHandler.UpdateSettings)
	admin.GET("/fixed-routes", adminHandler.FixedRoutes)
	admin.POST("/fixed-routes", adminHandler.CreateFixedRoute)
	admin.POST("/fixed-routes/:id/active", adminHandler.SetFixedRouteActive)
	admin.GET("/drivers", adminHandler.Drivers)
	admin.POST("/drivers/:id/approve", adminHandler.Approve)
	admin.POST("/drivers/:id/suspend", adminHandler.Suspend)
	admin.POST("/drivers/:id/unlock", adminHandler.Unlock)
	admin.POST("/drivers/:id/wallet/topup", adminHandler.TopUp)
	admin.POST("/drivers/:id/wallet/adjust", adminHandler.Adjust)
	admin.GET("/drivers/:id/wallet/transactions", adminHandler.Transactions)
	admin.POST("/settlement/daily", adminHandler.DailySettlement)
	admin.GET("/rides", adminHandler.Rides)
	admin.POST("/rides/:id/cancel", rideHandler.Cancel)
	admin.GET("/stats", adminHandler.Stats)

	return r
}
