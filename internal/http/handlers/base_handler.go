// README: Base handler utilities (JSON helpers, caller resolution, error mapping).
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"campusride/internal/http/middleware"
	"campusride/internal/infra"
	"campusride/internal/modules/driver"
	"campusride/internal/modules/location"
	"campusride/internal/modules/matching"
	"campusride/internal/modules/pricing"
	"campusride/internal/modules/ride"
	"campusride/internal/modules/wallet"
	"campusride/internal/routing"
	"campusride/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// Coordinates are pointers so an omitted lat or lng fails binding instead
// of decoding as 0.
type pointReq struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lng *float64 `json:"lng" binding:"required"`
}

func (p pointReq) point() types.Point {
	return types.Point{Lat: *p.Lat, Lng: *p.Lng}
}

type locationReq struct {
	Lat     *float64 `json:"lat" binding:"required"`
	Lng     *float64 `json:"lng" binding:"required"`
	Address string   `json:"address"`
}

func (l locationReq) location() types.Location {
	return types.Location{Lat: *l.Lat, Lng: *l.Lng, Address: l.Address}
}

// bindJSON decodes the body into v and writes a 400 when it is malformed or
// fails its binding rules.
func bindJSON(c *gin.Context, v any) bool {
	err := c.ShouldBindJSON(v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fieldPath(fe.Namespace()))
		}
		writeError(c, http.StatusBadRequest, "validation: missing or invalid "+strings.Join(fields, ", "))
		return false
	}
	writeError(c, http.StatusBadRequest, "invalid json")
	return false
}

// fieldPath turns "estimateReq.Pickup.Lat" into "pickup.lat".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ToLower(ns)
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeServiceError maps module errors to status codes. Unknown errors are
// attached to the context for the access log and reported as 500.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ride.ErrBadRequest), errors.Is(err, pricing.ErrBadRequest),
		errors.Is(err, wallet.ErrBadRequest), errors.Is(err, driver.ErrBadRequest),
		errors.Is(err, matching.ErrBadRequest), errors.Is(err, location.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ride.ErrForbidden), errors.Is(err, driver.ErrNotApproved),
		errors.Is(err, driver.ErrWalletRestricted):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, ride.ErrNotFound), errors.Is(err, driver.ErrNotFound),
		errors.Is(err, wallet.ErrNotFound), errors.Is(err, pricing.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ride.ErrInvalidState), errors.Is(err, ride.ErrConflict),
		errors.Is(err, ride.ErrDriverBusy), errors.Is(err, ride.ErrActiveRide),
		errors.Is(err, ride.ErrAlreadyRated), errors.Is(err, driver.ErrAlreadyRegistered),
		errors.Is(err, driver.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, routing.ErrUnavailable):
		writeError(c, http.StatusServiceUnavailable, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// callerDriver resolves the driver record of the authenticated user.
func callerDriver(c *gin.Context, drivers *driver.Service) (*driver.Driver, bool) {
	d, err := drivers.GetByUser(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if errors.Is(err, driver.ErrNotFound) {
		writeError(c, http.StatusForbidden, "forbidden: caller is not a registered driver")
		return nil, false
	}
	if err != nil {
		writeServiceError(c, err)
		return nil, false
	}
	return d, true
}

// callerActor maps the authenticated caller to a ride actor. Drivers are
// identified by their driver record, everyone else by user id.
func callerActor(c *gin.Context, drivers *driver.Service) (ride.Actor, bool) {
	uid := types.ID(middleware.CallerUID(c))
	switch middleware.CallerRole(c) {
	case infra.RoleAdmin:
		return ride.Actor{Type: ride.ActorAdmin, ID: uid}, true
	case infra.RoleDriver:
		d, ok := callerDriver(c, drivers)
		if !ok {
			return ride.Actor{}, false
		}
		return ride.Actor{Type: ride.ActorDriver, ID: d.ID}, true
	default:
		return ride.Actor{Type: ride.ActorStudent, ID: uid}, true
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}

func queryFloat(c *gin.Context, key string) (float64, bool) {
	v, err := strconv.ParseFloat(c.Query(key), 64)
	return v, err == nil
}
