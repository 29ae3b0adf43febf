package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/system-design/14-procurement-hub/internal/session"
	apperrors "github.com/koopa0/system-design/14-procurement-hub/pkg/errors"
	"github.com/koopa0/system-design/14-procurement-hub/pkg/logger"
)

type sessionKey struct{}

// currentSession 取得 requireSession 放入的 session
func currentSession(r *http.Request) *session.Session {
	sess, _ := r.Context().Value(sessionKey{}).(*session.Session)
	return sess
}

// requestID 沿用客戶端的 X-Request-ID，沒有就產生一個
func (h *Handler) requestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	}
}

// loggerMiddleware 記錄請求日誌
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以捕獲狀態碼
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next(ww, r)

		h.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	}
}

// recoverer 恢復 panic
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.ErrorContext(r.Context(), "panic recovered", "error", err, "path", r.URL.Path)
				h.errorResponse(w, r, apperrors.New(apperrors.ErrCodeInternal, "internal server error"))
			}
		}()
		next(w, r)
	}
}

// sessionID 依序從 cookie、X-Session-ID、Bearer token 取得
func (h *Handler) sessionID(r *http.Request) string {
	if cookie, err := r.Cookie(h.CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if id := r.Header.Get("X-Session-ID"); id != "" {
		return id
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// requireSession 驗證 session 並放進 context
func (h *Handler) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := h.sessionID(r)
		if id == "" {
			h.errorResponse(w, r, apperrors.ErrSessionNotFound)
			return
		}

		sess, err := h.Sessions.Get(r.Context(), id)
		if err != nil {
			h.errorResponse(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey{}, sess)
		ctx = logger.WithUserID(ctx, sess.Username)
		next(w, r.WithContext(ctx))
	}
}

// requirePermission 檢查固定權限；必須在 requireSession 之後
func (h *Handler) requirePermission(perm string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.authorize(r, perm); err != nil {
			h.errorResponse(w, r, err)
			return
		}
		next(w, r)
	}
}

func (h *Handler) authorize(r *http.Request, perm string) error {
	sess := currentSession(r)
	if sess == nil {
		return apperrors.ErrSessionNotFound
	}
	if !h.Permissions.Allowed(sess.Role, perm) {
		return apperrors.ErrPermissionDenied.WithDetails(perm)
	}
	return nil
}

// responseWriter 包裝以捕獲狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}
