// Package handler 提供 HTTP API。
//
// 回應格式：
//
//	成功 {"success": true, "data": ...}
//	失敗 {"success": false, "code": "NOT_FOUND", "message": "..."}
//
// 所有錯誤都在這一層轉成上述格式；上游錯誤只回通用訊息，細節寫進日誌。
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/koopa0/system-design/14-procurement-hub/internal/auth"
	"github.com/koopa0/system-design/14-procurement-hub/internal/broadcast"
	"github.com/koopa0/system-design/14-procurement-hub/internal/cache"
	"github.com/koopa0/system-design/14-procurement-hub/internal/game"
	"github.com/koopa0/system-design/14-procurement-hub/internal/realtime"
	"github.com/koopa0/system-design/14-procurement-hub/internal/record"
	"github.com/koopa0/system-design/14-procurement-hub/internal/session"
	apperrors "github.com/koopa0/system-design/14-procurement-hub/pkg/errors"
)

const maxBodyBytes = 1 << 20

// Publisher 發佈資料變更（由 broadcast.Bus 實作）
type Publisher interface {
	Publish(topic, action string, payload any) broadcast.ChangeEvent
}

// Deps Handler 依賴
type Deps struct {
	Authenticator auth.Authenticator
	Sessions      session.Store
	Permissions   *auth.Resolver
	Records       record.Store
	Cache         *cache.TwoTier
	Bus           Publisher
	Games         *game.Registry
	Hub           *realtime.Hub // nil 時不提供 /ws
	CookieName    string
	SecureCookie  bool
}

// Handler HTTP 請求處理器
type Handler struct {
	Deps
	logger  *slog.Logger
	started time.Time
	now     func() time.Time
}

// NewHandler 創建 HTTP 處理器
func NewHandler(deps Deps, logger *slog.Logger) *Handler {
	if deps.CookieName == "" {
		deps.CookieName = "sid"
	}
	return &Handler{
		Deps:    deps,
		logger:  logger,
		started: time.Now(),
		now:     time.Now,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈：request id -> 恢復 -> 日誌 -> 業務處理
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.requestID(h.recoverer(h.loggerMiddleware(handler)))
	}
	authed := func(handler http.HandlerFunc) http.HandlerFunc {
		return wrap(h.requireSession(handler))
	}
	play := func(handler http.HandlerFunc) http.HandlerFunc {
		return authed(h.requirePermission(auth.PermGamesPlay, handler))
	}

	// 登入
	mux.HandleFunc("POST /api/v1/auth/login", wrap(h.login))
	mux.HandleFunc("POST /api/v1/auth/logout", wrap(h.logout))
	mux.HandleFunc("GET /api/v1/auth/me", authed(h.me))

	// 採購紀錄
	mux.HandleFunc("GET /api/v1/records/{kind}", authed(h.listRecords))
	mux.HandleFunc("POST /api/v1/records/{kind}", authed(h.createRecord))
	mux.HandleFunc("GET /api/v1/records/{kind}/{id}", authed(h.getRecord))
	mux.HandleFunc("PUT /api/v1/records/{kind}/{id}", authed(h.updateRecord))
	mux.HandleFunc("DELETE /api/v1/records/{kind}/{id}", authed(h.deleteRecord))
	mux.HandleFunc("GET /api/v1/dashboard/{fy}", authed(h.requirePermission(auth.PermDashboardRead, h.dashboard)))
	mux.HandleFunc("GET /api/v1/public/homepage/{fy}", wrap(h.homepage))

	// 權限
	mux.HandleFunc("GET /api/v1/permissions/{role}", authed(h.getPermissions))
	mux.HandleFunc("PUT /api/v1/permissions/{role}", authed(h.updatePermissions))

	// 遊戲
	mux.HandleFunc("GET /api/v1/games/{kind}", play(h.listGames))
	mux.HandleFunc("POST /api/v1/games/{kind}", play(h.createGame))
	mux.HandleFunc("GET /api/v1/games/{kind}/{id}", play(h.getGame))
	mux.HandleFunc("POST /api/v1/games/{kind}/{id}/join", play(h.joinGame))
	mux.HandleFunc("POST /api/v1/games/{kind}/{id}/start", play(h.startGame))
	mux.HandleFunc("POST /api/v1/games/{kind}/{id}/abandon", play(h.abandonGame))
	mux.HandleFunc("POST /api/v1/games/chess/{id}/move", play(h.chessMove))
	mux.HandleFunc("POST /api/v1/games/tictactoe/{id}/move", play(h.tictactoeMove))
	mux.HandleFunc("POST /api/v1/games/ludo/{id}/roll", play(h.ludoRoll))
	mux.HandleFunc("POST /api/v1/games/ludo/{id}/move", play(h.ludoMove))
	mux.HandleFunc("POST /api/v1/games/uno/{id}/play", play(h.unoPlay))
	mux.HandleFunc("POST /api/v1/games/uno/{id}/draw", play(h.unoDraw))

	// WebSocket 不經過日誌中間件（連線期間不會回傳）
	if h.Hub != nil {
		mux.HandleFunc("GET /ws", h.Hub.ServeWS)
	}

	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	h.jsonResponse(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// stats 快取、遊戲與連線統計
func (h *Handler) stats(w http.ResponseWriter, _ *http.Request) {
	out := map[string]any{}
	if h.Cache != nil {
		out["cache"] = h.Cache.Stats()
	}
	if h.Games != nil {
		out["games"] = h.Games.Stats()
	}
	if h.Hub != nil {
		out["realtime"] = h.Hub.Stats()
	}
	h.jsonResponse(w, http.StatusOK, out)
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// errorResponse 錯誤轉成 {success:false, code, message}
func (h *Handler) errorResponse(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(envelope{
		Code:    apperrors.Code(err),
		Message: apperrors.PublicMessage(err),
	}); encErr != nil {
		h.logger.Error("failed to encode error response", "error", encErr)
	}
}

// decodeJSON 解析請求內容；空內容視為零值
func decodeJSON(r *http.Request, w http.ResponseWriter, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.Invalid("invalid request body: %v", err)
	}
	return nil
}
