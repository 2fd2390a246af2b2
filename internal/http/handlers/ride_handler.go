// README: Ride handlers shared by students, drivers and admins.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"campusride/internal/modules/driver"
	"campusride/internal/modules/ride"
	"campusride/internal/types"
)

type RideHandler struct {
	rides   *ride.Service
	drivers *driver.Service
}

func NewRideHandler(rides *ride.Service, drivers *driver.Service) *RideHandler {
	return &RideHandler{rides: rides, drivers: drivers}
}

type estimateReq struct {
	Pickup  pointReq `json:"pickup"`
	Dropoff pointReq `json:"dropoff"`
}

func (h *RideHandler) Estimate(c *gin.Context) {
	var req estimateReq
	if !bindJSON(c, &req) {
		return
	}
	est, err := h.rides.EstimateFare(c.Request.Context(), req.Pickup.point(), req.Dropoff.point())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, est)
}

type requestRideReq struct {
	Pickup  locationReq `json:"pickup"`
	Dropoff locationReq `json:"dropoff"`
}

// Request creates a ride for the calling student.
func (h *RideHandler) Request(c *gin.Context) {
	actor, ok := callerActor(c, h.drivers)
	if !ok {
		return
	}
	var req requestRideReq
	if !bindJSON(c, &req) {
		return
	}
	r, err := h.rides.RequestRide(c.Request.Context(), ride.RequestCommand{
		StudentID: actor.ID,
		Pickup:    req.Pickup.location(),
		Dropoff:   req.Dropoff.location(),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

func (h *RideHandler) Get(c *gin.Context) {
	actor, ok := callerActor(c, h.drivers)
	if !ok {
		return
	}
	r, err := h.rides.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if !canView(actor, r) {
		writeError(c, http.StatusForbidden, ride.ErrForbidden.Error())
		return
	}
	writeJSON(c, http.StatusOK, r)
}

// canView allows participants, admins, and drivers looking at an open request.
func canView(a ride.Actor, r *ride.Ride) bool {
	switch a.Type {
	case ride.ActorAdmin:
		return true
	case ride.ActorDriver:
		return r.AssignedTo(a.ID) || r.Status == ride.StatusRequested
	default:
		return r.StudentID == a.ID
	}
}

func (h *RideHandler) Active(c *gin.Context) {
	actor, ok := callerActor(c, h.drivers)
	if !ok {
		return
	}
	r, err := h.rides.Active(c.Request.Context(), actor)
	if err != nil {
		if errors.Is(err, ride.ErrNotFound) {
			writeJSON(c, http.StatusOK, gin.H{"ride": nil})
			return
		}
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride": r})
}

func (h *RideHandler) History(c *gin.Context) {
	actor, ok := callerActor(c, h.drivers)
	if !ok {
		return
	}
	rides, err := h.rides.History(c.Request.Context(), actor, queryInt(c, "limit", 0))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if rides == nil {
		rides = []*ride.Ride{}
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": rides})
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *RideHandler) Cancel(c *gin.Context) {
	actor, ok := callerActor(c, h.drivers)
	if !ok {
		return
	}
	var req cancelReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	r, err := h.rides.Cancel(c.Request.Context(), ride.CancelCommand{
		RideID: types.ID(c.Param("id")),
		Actor:  actor,
		Reason: req.Reason,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

type rateReq struct {
	Rating int    `json:"rating"`
	Review string `json:"review"`
}

func (h *RideHandler) Rate(c *gin.Context) {
	actor, ok := callerActor(c, h.drivers)
	if !ok {
		return
	}
	if actor.Type != ride.ActorStudent {
		writeError(c, http.StatusForbidden, ride.ErrForbidden.Error())
		return
	}
	var req rateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	r, err := h.rides.Rate(c.Request.Context(), ride.RateCommand{
		RideID:    types.ID(c.Param("id")),
		StudentID: actor.ID,
		Rating:    req.Rating,
		Review:    req.Review,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}
