package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Role is the single role carried by an authenticated user.
type Role string

const (
	RoleRadiologist Role = "radiologist"
	RoleDoctor      Role = "doctor"
	RolePatient     Role = "patient"
)

// ParseRole accepts the three known roles.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleRadiologist, RoleDoctor, RolePatient:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	UserRoleKey contextKey = "user_role"
)

// Identity is the caller resolved from a bearer token or dev headers. For
// doctors and patients UserID is also the id of their directory record.
type Identity struct {
	UserID uuid.UUID
	Role   Role
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, id.UserID)
	return context.WithValue(ctx, UserRoleKey, id.Role)
}

// IdentityFromContext returns the caller, or false for anonymous requests.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	uid, ok := ctx.Value(UserIDKey).(uuid.UUID)
	if !ok {
		return Identity{}, false
	}
	role, _ := ctx.Value(UserRoleKey).(Role)
	return Identity{UserID: uid, Role: role}, true
}

func UserIDFromContext(ctx context.Context) uuid.UUID {
	uid, _ := ctx.Value(UserIDKey).(uuid.UUID)
	return uid
}

func RoleFromContext(ctx context.Context) Role {
	role, _ := ctx.Value(UserRoleKey).(Role)
	return role
}
