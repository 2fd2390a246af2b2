// README: Firebase Realtime Database mirror of accepted driver positions.
package location

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"

	"campusride/internal/types"
)

// rtdbDriverEntry is the document stored under driver_locations/{driverID}.
type rtdbDriverEntry struct {
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Heading   *float64 `json:"heading,omitempty"`
	Status    string   `json:"status"`
	Timestamp int64    `json:"timestamp"`
}

// RTDBMirror lets mobile clients listen to driver_locations/{driverID}
// directly instead of going through the API.
type RTDBMirror struct {
	client *db.Client
	root   string
}

// NewRTDBMirror connects to the database at databaseURL. If credentialsFile is
// empty, application-default credentials are used.
func NewRTDBMirror(ctx context.Context, databaseURL, credentialsFile string) (*RTDBMirror, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{DatabaseURL: databaseURL}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase app: %w", err)
	}
	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase RTDB client: %w", err)
	}
	return &RTDBMirror{client: client, root: "driver_locations"}, nil
}

func (m *RTDBMirror) Publish(ctx context.Context, u Update) error {
	ref := m.client.NewRef(m.root).Child(string(u.DriverID))
	return ref.Set(ctx, rtdbDriverEntry{
		Lat:       u.Point.Lat,
		Lng:       u.Point.Lng,
		Heading:   u.Heading,
		Status:    "online",
		Timestamp: u.At.UnixMilli(),
	})
}

// Remove deletes the driver's entry, used when the driver goes offline.
func (m *RTDBMirror) Remove(ctx context.Context, driverID types.ID) error {
	return m.client.NewRef(m.root).Child(string(driverID)).Delete(ctx)
}
