// README: Driver service: registration, approval and the online/offline gate.
package driver

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"campusride/internal/modules/wallet"
	"campusride/internal/types"
)

var (
	ErrNotFound          = errors.New("driver not found")
	ErrBadRequest        = errors.New("bad request")
	ErrAlreadyRegistered = errors.New("driver already registered")
	ErrNotApproved       = errors.New("driver not approved yet")
	ErrWalletRestricted  = errors.New("wallet restricted, top up to go online")
	ErrConflict          = errors.New("driver state changed concurrently")
)

type Store interface {
	Create(ctx context.Context, d *Driver) error
	Get(ctx context.Context, id types.ID) (*Driver, error)
	GetByUser(ctx context.Context, userID types.ID) (*Driver, error)
	List(ctx context.Context, f ListFilter) ([]*Driver, error)
	// SetApproved updates approval; revoking it also takes the driver offline.
	SetApproved(ctx context.Context, id types.ID, approved bool, at time.Time) error
	// SetOnline going online only succeeds for approved drivers whose wallet
	// is active; it reports false otherwise.
	SetOnline(ctx context.Context, id types.ID, online bool, at time.Time) (bool, error)
	// ClearLock clears current_ride_id only if it still equals rideID.
	ClearLock(ctx context.Context, id, rideID types.ID, at time.Time) (bool, error)
	UpdateLocation(ctx context.Context, id types.ID, p types.Point, heading *float64, at time.Time) error
}

type Service struct {
	store          Store
	minimumBalance float64
	logger         *slog.Logger
	now            func() time.Time
}

func NewService(store Store, minimumBalance float64, logger *slog.Logger) *Service {
	return &Service{store: store, minimumBalance: minimumBalance, logger: logger, now: time.Now}
}

func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*Driver, error) {
	if cmd.UserID == "" || strings.TrimSpace(cmd.VehicleNumber) == "" || strings.TrimSpace(cmd.LicenseNumber) == "" {
		return nil, ErrBadRequest
	}
	if _, err := s.store.GetByUser(ctx, cmd.UserID); err == nil {
		return nil, ErrAlreadyRegistered
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := s.now()
	d := &Driver{
		ID:                     types.NewID(),
		UserID:                 cmd.UserID,
		VehicleType:            strings.TrimSpace(cmd.VehicleType),
		VehicleNumber:          strings.TrimSpace(cmd.VehicleNumber),
		LicenseNumber:          strings.TrimSpace(cmd.LicenseNumber),
		WalletStatus:           wallet.StatusActive,
		MinimumRequiredBalance: s.minimumBalance,
		Rating:                 DefaultRating,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, err
	}
	s.logger.Info("driver_registered", "driver_id", d.ID, "user_id", d.UserID)
	return d, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Driver, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) GetByUser(ctx context.Context, userID types.ID) (*Driver, error) {
	return s.store.GetByUser(ctx, userID)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Driver, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	return s.store.List(ctx, f)
}

func (s *Service) Approve(ctx context.Context, id types.ID) (*Driver, error) {
	if err := s.store.SetApproved(ctx, id, true, s.now()); err != nil {
		return nil, err
	}
	s.logger.Info("driver_approved", "driver_id", id)
	return s.store.Get(ctx, id)
}

func (s *Service) Suspend(ctx context.Context, id types.ID) (*Driver, error) {
	if err := s.store.SetApproved(ctx, id, false, s.now()); err != nil {
		return nil, err
	}
	s.logger.Info("driver_suspended", "driver_id", id)
	return s.store.Get(ctx, id)
}

// SetOnline applies the online gate atomically in the store and, when it
// refuses, reloads the driver to report why.
func (s *Service) SetOnline(ctx context.Context, id types.ID, online bool) (*Driver, error) {
	ok, err := s.store.SetOnline(ctx, id, online, s.now())
	if err != nil {
		return nil, err
	}
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		switch {
		case !d.IsApproved:
			return nil, ErrNotApproved
		case d.WalletStatus == wallet.StatusRestricted:
			return nil, ErrWalletRestricted
		default:
			return nil, ErrConflict
		}
	}
	s.logger.Info("driver_online_changed", "driver_id", id, "is_online", online)
	return d, nil
}

func (s *Service) Toggle(ctx context.Context, id types.ID) (*Driver, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.SetOnline(ctx, id, !d.IsOnline)
}

// ForceClearLock releases a stuck dispatch lock. The clear is conditional on
// the lock still holding the ride observed here.
func (s *Service) ForceClearLock(ctx context.Context, id types.ID) (*Driver, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.CurrentRideID == nil {
		return d, nil
	}
	rideID := *d.CurrentRideID
	ok, err := s.store.ClearLock(ctx, id, rideID, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	s.logger.Warn("driver_lock_force_cleared", "driver_id", id, "ride_id", rideID)
	return s.store.Get(ctx, id)
}

func (s *Service) UpdateLocation(ctx context.Context, id types.ID, p types.Point, heading *float64, at time.Time) error {
	if !p.Valid() {
		return ErrBadRequest
	}
	return s.store.UpdateLocation(ctx, id, p, heading, at)
}
