package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/matledger/internal/platform/httpx"
	"github.com/odyssey-erp/matledger/internal/shared"
)

// PermissionsHandler exposes the capability table to clients deciding what to show.
type PermissionsHandler struct {
	service *Service
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(service *Service) *PermissionsHandler {
	return &PermissionsHandler{service: service}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/me/permissions", h.myPermissions)
	r.Get("/roles", h.listRoles)
}

type permissionsResponse struct {
	Operator    string   `json:"operator"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

func (h *PermissionsHandler) myPermissions(w http.ResponseWriter, r *http.Request) {
	op, ok := shared.OperatorFromContext(r.Context())
	if !ok || op.Role == "" {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	perms, err := h.service.EffectivePermissions(r.Context(), op.Role)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, permissionsResponse{Operator: op.Login, Role: op.Role, Permissions: perms})
}

func (h *PermissionsHandler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles := h.service.Roles()
	out := make(map[string][]string, len(roles))
	for _, role := range roles {
		perms, _ := h.service.EffectivePermissions(r.Context(), role)
		out[role] = perms
	}
	httpx.JSON(w, http.StatusOK, out)
}
