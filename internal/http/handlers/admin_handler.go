// README: Admin handlers for pricing, fixed routes, driver approval and wallet operations.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"campusride/internal/modules/driver"
	"campusride/internal/modules/pricing"
	"campusride/internal/modules/ride"
	"campusride/internal/modules/wallet"
	"campusride/internal/types"
)

type AdminHandler struct {
	pricing *pricing.Service
	drivers *driver.Service
	wallet  *wallet.Service
	rides   *ride.Service
}

func NewAdminHandler(pricingSvc *pricing.Service, drivers *driver.Service, wallets *wallet.Service, rides *ride.Service) *AdminHandler {
	return &AdminHandler{pricing: pricingSvc, drivers: drivers, wallet: wallets, rides: rides}
}

// Rides lists rides across the platform, optionally filtered by status.
func (h *AdminHandler) Rides(c *gin.Context) {
	rides, err := h.rides.List(c.Request.Context(), ride.Status(c.Query("status")), queryInt(c, "limit", 0))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if rides == nil {
		rides = []*ride.Ride{}
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": rides})
}

type statsResp struct {
	ride.Stats
	CommissionRate float64 `json:"commission_rate"`
}

func (h *AdminHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	st, err := h.rides.Stats(ctx)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	settings, err := h.pricing.Settings(ctx)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, statsResp{Stats: st, CommissionRate: settings.CommissionRate})
}

func (h *AdminHandler) Settings(c *gin.Context) {
	s, err := h.pricing.Settings(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s)
}

func (h *AdminHandler) UpdateSettings(c *gin.Context) {
	var req pricing.Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	s, err := h.pricing.UpdateSettings(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s)
}

func (h *AdminHandler) FixedRoutes(c *gin.Context) {
	routes, err := h.pricing.ListFixedRoutes(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if routes == nil {
		routes = []pricing.FixedRoute{}
	}
	writeJSON(c, http.StatusOK, gin.H{"fixed_routes": routes})
}

type fixedRouteReq struct {
	Name            string   `json:"name"`
	Pickup          pointReq `json:"pickup"`
	Dropoff         pointReq `json:"dropoff"`
	ToleranceMeters float64  `json:"tolerance_radius_meters"`
	FixedPrice      float64  `json:"fixed_price"`
}

func (h *AdminHandler) CreateFixedRoute(c *gin.Context) {
	var req fixedRouteReq
	if !bindJSON(c, &req) {
		return
	}
	r, err := h.pricing.CreateFixedRoute(c.Request.Context(), pricing.CreateFixedRouteCommand{
		Name:            req.Name,
		Pickup:          req.Pickup.point(),
		Dropoff:         req.Dropoff.point(),
		ToleranceMeters: req.ToleranceMeters,
		FixedPrice:      req.FixedPrice,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

type activeReq struct {
	Active bool `json:"active"`
}

func (h *AdminHandler) SetFixedRouteActive(c *gin.Context) {
	var req activeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.pricing.SetFixedRouteActive(c.Request.Context(), types.ID(c.Param("id")), req.Active); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"id": c.Param("id"), "active": req.Active})
}

func (h *AdminHandler) Drivers(c *gin.Context) {
	list, err := h.drivers.List(c.Request.Context(), driver.ListFilter{
		OnlineOnly:      c.Query("online") == "true",
		PendingApproval: c.Query("pending") == "true",
		Limit:           queryInt(c, "limit", 0),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if list == nil {
		list = []*driver.Driver{}
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": list})
}

func (h *AdminHandler) Approve(c *gin.Context) {
	h.driverAction(c, h.drivers.Approve)
}

func (h *AdminHandler) Suspend(c *gin.Context) {
	h.driverAction(c, h.drivers.Suspend)
}

// Unlock force-clears a stuck current ride lock.
func (h *AdminHandler) Unlock(c *gin.Context) {
	h.driverAction(c, h.drivers.ForceClearLock)
}

func (h *AdminHandler) driverAction(c *gin.Context, action func(context.Context, types.ID) (*driver.Driver, error)) {
	d, err := action(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

type walletReq struct {
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
}

func (h *AdminHandler) TopUp(c *gin.Context) {
	var req walletReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	w, err := h.wallet.TopUp(c.Request.Context(), types.ID(c.Param("id")), req.Amount, req.Description)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, w)
}

func (h *AdminHandler) Adjust(c *gin.Context) {
	var req walletReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	w, err := h.wallet.Adjust(c.Request.Context(), types.ID(c.Param("id")), req.Amount, req.Description)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, w)
}

func (h *AdminHandler) Transactions(c *gin.Context) {
	writeTransactions(c, h.wallet, types.ID(c.Param("id")))
}

// DailySettlement settles every driver's due commission. Running it twice
// in a row settles nothing the second time.
func (h *AdminHandler) DailySettlement(c *gin.Context) {
	res, err := h.wallet.SettleAll(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}
