// README: Driver handlers for registration, availability, dispatch actions and wallet views.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"campusride/internal/http/middleware"
	"campusride/internal/modules/driver"
	"campusride/internal/modules/matching"
	"campusride/internal/modules/ride"
	"campusride/internal/modules/wallet"
	"campusride/internal/types"
)

type DriverHandler struct {
	drivers  *driver.Service
	rides    *ride.Service
	wallet   *wallet.Service
	matching *matching.Service
}

func NewDriverHandler(drivers *driver.Service, rides *ride.Service, wallets *wallet.Service, matchingSvc *matching.Service) *DriverHandler {
	return &DriverHandler{drivers: drivers, rides: rides, wallet: wallets, matching: matchingSvc}
}

type registerReq struct {
	VehicleType   string `json:"vehicle_type"`
	VehicleNumber string `json:"vehicle_number"`
	LicenseNumber string `json:"license_number"`
}

func (h *DriverHandler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	d, err := h.drivers.Register(c.Request.Context(), driver.RegisterCommand{
		UserID:        types.ID(middleware.CallerUID(c)),
		VehicleType:   req.VehicleType,
		VehicleNumber: req.VehicleNumber,
		LicenseNumber: req.LicenseNumber,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, d)
}

func (h *DriverHandler) Me(c *gin.Context) {
	d, ok := callerDriver(c, h.drivers)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, d)
}

type onlineReq struct {
	Online *bool `json:"online"`
}

// SetOnline sets availability explicitly, or toggles it when the body has no
// "online" field.
func (h *DriverHandler) SetOnline(c *gin.Context) {
	d, ok := callerDriver(c, h.drivers)
	if !ok {
		return
	}
	var req onlineReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	var err error
	if req.Online == nil {
		d, err = h.drivers.Toggle(c.Request.Context(), d.ID)
	} else {
		d, err = h.drivers.SetOnline(c.Request.Context(), d.ID, *req.Online)
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (h *DriverHandler) Pending(c *gin.Context) {
	if _, ok := callerDriver(c, h.drivers); !ok {
		return
	}
	rides, err := h.rides.Pending(c.Request.Context(), queryInt(c, "limit", 0))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if rides == nil {
		rides = []*ride.Ride{}
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": rides})
}

func (h *DriverHandler) Accept(c *gin.Context) {
	d, ok := callerDriver(c, h.drivers)
	if !ok {
		return
	}
	r, err := h.rides.Accept(c.Request.Context(), ride.AcceptCommand{RideID: types.ID(c.Param("id")), DriverID: d.ID})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *DriverHandler) Arrived(c *gin.Context) {
	h.progress(c, h.rides.Arrived)
}

func (h *DriverHandler) Start(c *gin.Context) {
	h.progress(c, h.rides.Start)
}

func (h *DriverHandler) progress(c *gin.Context, step func(context.Context, ride.DriverCommand) (*ride.Ride, error)) {
	d, ok := callerDriver(c, h.drivers)
	if !ok {
		return
	}
	r, err := step(c.Request.Context(), ride.DriverCommand{RideID: types.ID(c.Param("id")), DriverID: d.ID})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

// Complete reports success once the ride is completed even if the
// commission deduction failed; that failure is logged and surfaced as a
// warning.
func (h *DriverHandler) Complete(c *gin.Context) {
	d, ok := callerDriver(c, h.drivers)
	if !ok {
		return
	}
	r, err := h.rides.Complete(c.Request.Context(), ride.DriverCommand{RideID: types.ID(c.Param("id")), DriverID: d.ID})
	if err != nil && r == nil {
		writeServiceError(c, err)
		return
	}
	if err != nil {
		_ = c.Error(err)
		writeJSON(c, http.StatusOK, gin.H{"ride": r, "warning": "commission deduction pending"})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride": r})
}

func (h *DriverHandler) Earnings(c *gin.Context) {
	d, ok := callerDriver(c, h.drivers)
	if !ok {
		return
	}
	e, err := h.rides.DriverEarnings(c.Request.Context(), d.ID, time.Now().UTC())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, e)
}

func (h *DriverHandler) Wallet(c *gin.Context) {
	d, ok := callerDriver(c, h.drivers)
	if !ok {
		return
	}
	w, err := h.wallet.Get(c.Request.Context(), d.ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, w)
}

func (h *DriverHandler) Transactions(c *gin.Context) {
	d, ok := callerDriver(c, h.drivers)
	if !ok {
		return
	}
	writeTransactions(c, h.wallet, d.ID)
}

func writeTransactions(c *gin.Context, wallets *wallet.Service, driverID types.ID) {
	txs, err := wallets.Transactions(c.Request.Context(), driverID, queryInt(c, "limit", 0))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if txs == nil {
		txs = []wallet.Transaction{}
	}
	writeJSON(c, http.StatusOK, gin.H{"transactions": txs})
}

// Nearby lists eligible drivers around lat/lng, for the student map view.
func (h *DriverHandler) Nearby(c *gin.Context) {
	lat, okLat := queryFloat(c, "lat")
	lng, okLng := queryFloat(c, "lng")
	if !okLat || !okLng {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	radius, _ := queryFloat(c, "radius_km")
	found, err := h.matching.NearbyDrivers(c.Request.Context(), types.Point{Lat: lat, Lng: lng}, radius)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": found})
}
