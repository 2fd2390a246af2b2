// README: Driver profile, dispatch lock and wallet snapshot.
package driver

import (
	"time"

	"campusride/internal/modules/wallet"
	"campusride/internal/types"
)

type Driver struct {
	ID            types.ID  `json:"id"`
	UserID        types.ID  `json:"user_id"`
	VehicleType   string    `json:"vehicle_type"`
	VehicleNumber string    `json:"vehicle_number"`
	LicenseNumber string    `json:"license_number"`
	IsApproved    bool      `json:"is_approved"`
	IsOnline      bool      `json:"is_online"`
	CurrentRideID *types.ID `json:"current_ride_id,omitempty"`

	WalletBalance          float64       `json:"wallet_balance"`
	WalletStatus           wallet.Status `json:"wallet_status"`
	MinimumRequiredBalance float64       `json:"minimum_required_balance"`
	TotalCommissionDue     float64       `json:"total_commission_due"`
	TotalCommissionPaid    float64       `json:"total_commission_paid"`

	TotalRides    int     `json:"total_rides"`
	TotalEarnings float64 `json:"total_earnings"`
	Rating        float64 `json:"rating"`

	Location          *types.Point `json:"location,omitempty"`
	Heading           *float64     `json:"heading,omitempty"`
	LocationUpdatedAt *time.Time   `json:"location_updated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const DefaultRating = 5.0

// Available reports whether the driver may be offered a new ride. The
// radius check is left to the caller.
func (d *Driver) Available() bool {
	return d.IsOnline && d.IsApproved && d.WalletStatus != wallet.StatusRestricted && d.CurrentRideID == nil
}

func (d *Driver) Wallet() wallet.Wallet {
	return wallet.Wallet{
		DriverID:               d.ID,
		Balance:                d.WalletBalance,
		Status:                 d.WalletStatus,
		MinimumRequiredBalance: d.MinimumRequiredBalance,
		TotalCommissionDue:     d.TotalCommissionDue,
		TotalCommissionPaid:    d.TotalCommissionPaid,
		IsOnline:               d.IsOnline,
		UpdatedAt:              d.UpdatedAt,
	}
}

type RegisterCommand struct {
	UserID        types.ID
	VehicleType   string
	VehicleNumber string
	LicenseNumber string
}

type ListFilter struct {
	OnlineOnly      bool
	PendingApproval bool
	Limit           int
}
