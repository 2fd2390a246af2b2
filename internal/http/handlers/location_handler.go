// README: Location handler for driver position updates over HTTP.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"campusride/internal/modules/driver"
	"campusride/internal/modules/location"
	"campusride/internal/types"
)

type LocationHandler struct {
	location *location.Service
	drivers  *driver.Service
}

func NewLocationHandler(svc *location.Service, drivers *driver.Service) *LocationHandler {
	return &LocationHandler{location: svc, drivers: drivers}
}

type locationUpdateReq struct {
	Lat     *float64 `json:"lat" binding:"required"`
	Lng     *float64 `json:"lng" binding:"required"`
	Heading *float64 `json:"heading"`
}

func (r locationUpdateReq) point() (types.Point, bool) {
	if r.Lat == nil || r.Lng == nil {
		return types.Point{}, false
	}
	return types.Point{Lat: *r.Lat, Lng: *r.Lng}, true
}

// Update records the calling driver's position. Throttled updates still
// return 200 with status "throttled".
func (h *LocationHandler) Update(c *gin.Context) {
	d, ok := callerDriver(c, h.drivers)
	if !ok {
		return
	}
	var req locationUpdateReq
	if !bindJSON(c, &req) {
		return
	}
	p, _ := req.point()
	out, err := h.location.Update(c.Request.Context(), d.ID, p, req.Heading)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": out})
}
