package auth

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/aitalentmarketplace/gateway/internal/apierror"
)

// Platform roles known to the gateway.
const (
	RoleAdmin      = "admin"
	RoleEmployer   = "employer"
	RoleFreelancer = "freelancer"
)

// RoleAuthorizer checks a verified identity against a route's allowed-role set.
type RoleAuthorizer struct {
	logger *slog.Logger
}

func NewRoleAuthorizer(logger *slog.Logger) *RoleAuthorizer {
	return &RoleAuthorizer{logger: logger}
}

// Authorize succeeds when the identity's role is in allowedRoles.
// An empty allowedRoles set admits any authenticated caller.
func (a *RoleAuthorizer) Authorize(identity *Identity, allowedRoles []string) error {
	if identity == nil {
		return apierror.Authentication("User not authenticated")
	}

	if len(allowedRoles) == 0 {
		return nil
	}

	for _, role := range allowedRoles {
		if identity.Role == role {
			a.logger.Debug("Authorization granted",
				"request_id", identity.RequestID,
				"user_id", identity.ID,
				"role", identity.Role,
			)
			return nil
		}
	}

	return apierror.Authorization(fmt.Sprintf(
		"Access denied. Required roles: %s. Your role: %s",
		strings.Join(allowedRoles, ", "), identity.Role,
	))
}
