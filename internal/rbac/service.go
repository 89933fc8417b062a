package rbac

import (
	"context"
)

// Service answers permission questions from the static capability table.
type Service struct {
	table Table
}

// NewService builds Service. A nil table falls back to DefaultTable.
func NewService(table Table) *Service {
	if table == nil {
		table = DefaultTable()
	}
	return &Service{table: table}
}

// EffectivePermissions returns the permissions granted to role.
func (s *Service) EffectivePermissions(_ context.Context, role string) ([]string, error) {
	return s.table.Permissions(role), nil
}

// Allows reports whether role holds every permission in perms.
func (s *Service) Allows(role string, perms ...string) bool {
	return hasAllPermissions(s.table.Permissions(role), normalizePermissions(perms))
}

// Roles lists the configured roles.
func (s *Service) Roles() []string {
	return s.table.Roles()
}
