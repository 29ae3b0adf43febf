package handler

import (
	"net/http"

	"github.com/koopa0/system-design/14-procurement-hub/internal/game"
)

type chessMoveRequest struct {
	From game.Square `json:"from"`
	To   game.Square `json:"to"`
}

type tictactoeMoveRequest struct {
	Position int `json:"position"`
}

type ludoMoveRequest struct {
	Piece int `json:"piece"`
}

type unoPlayRequest struct {
	CardIndex int    `json:"card_index"`
	Color     string `json:"color,omitempty"`
}

// player 目前登入者即玩家名稱
func player(r *http.Request) string {
	return currentSession(r).Username
}

func (h *Handler) gameKind(r *http.Request) (game.Kind, error) {
	return game.ParseKind(r.PathValue("kind"))
}

// gameResult 統一處理遊戲操作的回傳
func (h *Handler) gameResult(w http.ResponseWriter, r *http.Request, status int, view any, err error) {
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}
	h.jsonResponse(w, status, view)
}

// listGames GET /api/v1/games/{kind}
func (h *Handler) listGames(w http.ResponseWriter, r *http.Request) {
	kind, err := h.gameKind(r)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, h.Games.List(kind))
}

// createGame POST /api/v1/games/{kind}，建立者即第一位玩家
func (h *Handler) createGame(w http.ResponseWriter, r *http.Request) {
	kind, err := h.gameKind(r)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}
	view, err := h.Games.Create(kind, player(r))
	h.gameResult(w, r, http.StatusCreated, view, err)
}

func (h *Handler) getGame(w http.ResponseWriter, r *http.Request) {
	kind, err := h.gameKind(r)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}
	view, err := h.Games.Get(kind, r.PathValue("id"), player(r))
	h.gameResult(w, r, http.StatusOK, view, err)
}

func (h *Handler) joinGame(w http.ResponseWriter, r *http.Request) {
	kind, err := h.gameKind(r)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}
	view, err := h.Games.Join(kind, r.PathValue("id"), player(r))
	h.gameResult(w, r, http.StatusOK, view, err)
}

// startGame POST /api/v1/games/{kind}/{id}/start
// Body（可省略）: {"fill_with_bots": true, "difficulty": "hard", "max_players": 4}
func (h *Handler) startGame(w http.ResponseWriter, r *http.Request) {
	kind, err := h.gameKind(r)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}

	var opts game.StartOptions
	if err := decodeJSON(r, w, &opts); err != nil {
		h.errorResponse(w, r, err)
		return
	}

	view, err := h.Games.Start(kind, r.PathValue("id"), player(r), opts)
	h.gameResult(w, r, http.StatusOK, view, err)
}

func (h *Handler) abandonGame(w http.ResponseWriter, r *http.Request) {
	kind, err := h.gameKind(r)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}
	if err := h.Games.Abandon(kind, r.PathValue("id"), player(r)); err != nil {
		h.errorResponse(w, r, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, map[string]string{"status": string(game.StatusAbandoned)})
}

func (h *Handler) chessMove(w http.ResponseWriter, r *http.Request) {
	var req chessMoveRequest
	if err := decodeJSON(r, w, &req); err != nil {
		h.errorResponse(w, r, err)
		return
	}
	view, err := h.Games.ChessMove(r.PathValue("id"), player(r), req.From, req.To)
	h.gameResult(w, r, http.StatusOK, view, err)
}

func (h *Handler) tictactoeMove(w http.ResponseWriter, r *http.Request) {
	var req tictactoeMoveRequest
	if err := decodeJSON(r, w, &req); err != nil {
		h.errorResponse(w, r, err)
		return
	}
	view, err := h.Games.TicTacToeMove(r.PathValue("id"), player(r), req.Position)
	h.gameResult(w, r, http.StatusOK, view, err)
}

func (h *Handler) ludoRoll(w http.ResponseWriter, r *http.Request) {
	view, err := h.Games.LudoRoll(r.PathValue("id"), player(r))
	h.gameResult(w, r, http.StatusOK, view, err)
}

func (h *Handler) ludoMove(w http.ResponseWriter, r *http.Request) {
	var req ludoMoveRequest
	if err := decodeJSON(r, w, &req); err != nil {
		h.errorResponse(w, r, err)
		return
	}
	view, err := h.Games.LudoMove(r.PathValue("id"), player(r), req.Piece)
	h.gameResult(w, r, http.StatusOK, view, err)
}

func (h *Handler) unoPlay(w http.ResponseWriter, r *http.Request) {
	var req unoPlayRequest
	if err := decodeJSON(r, w, &req); err != nil {
		h.errorResponse(w, r, err)
		return
	}
	view, err := h.Games.UnoPlay(r.PathValue("id"), player(r), req.CardIndex, req.Color)
	h.gameResult(w, r, http.StatusOK, view, err)
}

func (h *Handler) unoDraw(w http.ResponseWriter, r *http.Request) {
	view, err := h.Games.UnoDraw(r.PathValue("id"), player(r))
	h.gameResult(w, r, http.StatusOK, view, err)
}
