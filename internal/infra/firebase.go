// README: Firebase Admin SDK initialisation and token verifier.
package infra

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// Caller roles carried in token claims.
const (
	RoleStudent = "student"
	RoleDriver  = "driver"
	RoleAdmin   = "admin"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the verified caller used by downstream middleware.
type Identity struct {
	UID  string
	Role string
}

// TokenVerifier verifies a raw bearer token and returns the caller identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// firebaseVerifier is backed by the Firebase Admin SDK. The role comes from
// the "role" custom claim and defaults to student.
type firebaseVerifier struct {
	client *auth.Client
}

// NewFirebaseVerifier creates a TokenVerifier using the Firebase Admin SDK.
// If credentialsFile is non-empty it is used as the service-account JSON path;
// otherwise application-default credentials are used.
func NewFirebaseVerifier(ctx context.Context, projectID, credentialsFile string) (TokenVerifier, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Auth: %w", err)
	}
	return &firebaseVerifier{client: client}, nil
}

func (v *firebaseVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	t, err := v.client.VerifyIDToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	role, _ := t.Claims["role"].(string)
	return &Identity{UID: t.UID, Role: normalizeRole(role)}, nil
}

func normalizeRole(role string) string {
	switch role {
	case RoleDriver, RoleAdmin:
		return role
	default:
		return RoleStudent
	}
}
