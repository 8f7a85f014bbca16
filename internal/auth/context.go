package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/straye-as/pipeline-engine/internal/domain"
)

// UserContext holds authenticated user information
type UserContext struct {
	UserID      uuid.UUID
	DisplayName string
	Email       string
	Roles       []domain.UserRoleType
	TenantID    uuid.UUID
}

type contextKey string

const userContextKey contextKey = "userContext"

// WithUserContext adds user context to the context
func WithUserContext(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// FromContext extracts user context from the context
func FromContext(ctx context.Context) (*UserContext, bool) {
	user, ok := ctx.Value(userContextKey).(*UserContext)
	return user, ok
}

// HasRole checks if user has a specific role
func (u *UserContext) HasRole(role domain.UserRoleType) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole checks if user has any of the specified roles
func (u *UserContext) HasAnyRole(roles ...domain.UserRoleType) bool {
	for _, role := range roles {
		if u.HasRole(role) {
			return true
		}
	}
	return false
}

// RolesAsStrings returns roles as a slice of strings
func (u *UserContext) RolesAsStrings() []string {
	result := make([]string, len(u.Roles))
	for i, role := range u.Roles {
		result[i] = string(role)
	}
	return result
}

// TenantFromContext returns the tenant of the authenticated user.
// ok is false for system callers without a user context or tenant.
func TenantFromContext(ctx context.Context) (uuid.UUID, bool) {
	user, ok := FromContext(ctx)
	if !ok || user.TenantID == uuid.Nil {
		return uuid.Nil, false
	}
	return user.TenantID, true
}

// ActorFromContext returns the acting user id, or nil for system callers
func ActorFromContext(ctx context.Context) *uuid.UUID {
	user, ok := FromContext(ctx)
	if !ok || user.UserID == uuid.Nil {
		return nil
	}
	id := user.UserID
	return &id
}

// SystemUser returns the identity used for API key callers and background jobs
func SystemUser(tenantID uuid.UUID) *UserContext {
	return &UserContext{
		DisplayName: "System",
		Roles:       []domain.UserRoleType{domain.RoleAdmin, domain.RoleAPIService},
		TenantID:    tenantID,
	}
}
