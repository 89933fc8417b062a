package rbac

import (
	"sort"
	"strings"

	"github.com/odyssey-erp/matledger/internal/shared"
)

// Role names as issued by the upstream gateway.
const (
	RoleStorekeeper = "storekeeper"
	RoleManager     = "manager"
	RoleDirector    = "director"
	RoleCustomer    = "customer"
)

var readScopes = []string{
	shared.PermStockView,
	shared.PermScrapLogView,
	shared.PermUnitsView,
}

// Table maps a role to the operations it may invoke. Unknown roles get nothing.
type Table map[string][]string

// DefaultTable is the capability table of the material accounting API.
func DefaultTable() Table {
	return Table{
		RoleStorekeeper: shared.InventoryScopes(),
		RoleManager:     append(append([]string{}, readScopes...), shared.PermReceiptDraft),
		RoleDirector:    append(append([]string{}, readScopes...), shared.PermThresholdsEdit, shared.PermAuditView),
		RoleCustomer:    nil,
	}
}

// Permissions returns the sorted permission list of role.
func (t Table) Permissions(role string) []string {
	perms := t[normalizeRole(role)]
	out := append([]string(nil), perms...)
	sort.Strings(out)
	return out
}

// Roles lists the configured role names.
func (t Table) Roles() []string {
	roles := make([]string, 0, len(t))
	for role := range t {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
