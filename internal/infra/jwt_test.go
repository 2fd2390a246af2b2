package infra

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTVerifier_RoundTrip(t *testing.T) {
	token, err := SignJWT("s3cret", "user-1", RoleDriver, time.Minute)
	require.NoError(t, err)

	id, err := NewJWTVerifier("s3cret").Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, &Identity{UID: "user-1", Role: RoleDriver}, id)
}

func TestJWTVerifier_UnknownRoleIsStudent(t *testing.T) {
	token, err := SignJWT("s3cret", "user-2", "superuser", time.Minute)
	require.NoError(t, err)

	id, err := NewJWTVerifier("s3cret").Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, RoleStudent, id.Role)
}

func TestJWTVerifier_Rejects(t *testing.T) {
	good, err := SignJWT("s3cret", "user-1", RoleAdmin, time.Minute)
	require.NoError(t, err)
	expired, err := SignJWT("s3cret", "user-1", RoleAdmin, -time.Minute)
	require.NoError(t, err)
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	noSub, err := SignJWT("s3cret", "", RoleAdmin, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", good + "x"},
		{"expired", expired},
		{"missing expiry", noExp},
		{"missing subject", noSub},
		{"garbage", "not-a-jwt"},
	}
	v := NewJWTVerifier("s3cret")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
