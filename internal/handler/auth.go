package handler

import (
	"net/http"
	"strings"

	apperrors "github.com/koopa0/system-design/14-procurement-hub/pkg/errors"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// login 驗證帳密並建立 session
//
// POST /api/v1/auth/login
// Body: {"username": "alice", "password": "..."}
// Response: session_id 同時寫進 cookie，WebSocket 可用 ?session_id= 帶入
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, w, &req); err != nil {
		h.errorResponse(w, r, err)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		h.errorResponse(w, r, apperrors.Invalid("username and password are required"))
		return
	}

	id, err := h.Authenticator.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}

	sess, err := h.Sessions.Create(r.Context(), id.Username, id.Role)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.CookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	h.logger.InfoContext(r.Context(), "user logged in", "username", sess.Username, "role", sess.Role)
	h.jsonResponse(w, http.StatusOK, map[string]any{
		"session_id":  sess.ID,
		"username":    sess.Username,
		"role":        sess.Role,
		"permissions": h.Permissions.Permissions(sess.Role),
	})
}

// logout 刪除 session；沒有 session 也回成功
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if id := h.sessionID(r); id != "" {
		if err := h.Sessions.Delete(r.Context(), id); err != nil {
			h.errorResponse(w, r, err)
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookie,
	})
	h.jsonResponse(w, http.StatusOK, map[string]bool{"logged_out": true})
}

// me 目前登入者與其權限
func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	h.jsonResponse(w, http.StatusOK, map[string]any{
		"username":    sess.Username,
		"role":        sess.Role,
		"permissions": h.Permissions.Permissions(sess.Role),
	})
}
