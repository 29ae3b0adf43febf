package handler

import (
	"net/http"

	"github.com/koopa0/system-design/14-procurement-hub/internal/auth"
	apperrors "github.com/koopa0/system-design/14-procurement-hub/pkg/errors"
)

type permissionsRequest struct {
	Permissions map[string]bool `json:"permissions"`
}

type permissionsResponse struct {
	Role        string             `json:"role"`
	Permissions auth.PermissionSet `json:"permissions"`
}

// getPermissions 角色權限表；只能看自己的角色，elevated 可看全部
func (h *Handler) getPermissions(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	role := r.PathValue("role")
	if role != sess.Role && sess.Role != h.Permissions.ElevatedRole() {
		h.errorResponse(w, r, apperrors.ErrPermissionDenied)
		return
	}

	h.jsonResponse(w, http.StatusOK, permissionsResponse{
		Role:        role,
		Permissions: h.Permissions.Snapshot(role),
	})
}

// updatePermissions 覆寫角色權限（僅 elevated）
//
// PUT /api/v1/permissions/{role}
// Body: {"permissions": {"supply:read": true, "supply:write": false}}
func (h *Handler) updatePermissions(w http.ResponseWriter, r *http.Request) {
	var req permissionsRequest
	if err := decodeJSON(r, w, &req); err != nil {
		h.errorResponse(w, r, err)
		return
	}

	role := r.PathValue("role")
	if err := h.Permissions.Update(r.Context(), currentSession(r).Role, role, req.Permissions); err != nil {
		h.errorResponse(w, r, err)
		return
	}

	h.jsonResponse(w, http.StatusOK, permissionsResponse{
		Role:        role,
		Permissions: h.Permissions.Snapshot(role),
	})
}
