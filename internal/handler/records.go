package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/koopa0/system-design/14-procurement-hub/internal/auth"
	"github.com/koopa0/system-design/14-procurement-hub/internal/broadcast"
	"github.com/koopa0/system-design/14-procurement-hub/internal/record"
	apperrors "github.com/koopa0/system-design/14-procurement-hub/pkg/errors"
)

// 變更動作
const (
	actionCreated = "created"
	actionUpdated = "updated"
	actionDeleted = "deleted"
)

// overview 儀表板與首頁的摘要
type overview struct {
	FinancialYear string              `json:"financial_year"`
	Counts        map[record.Kind]int `json:"counts"`
	Total         int                 `json:"total"`
	GeneratedAt   string              `json:"generated_at"`
}

// recordKind 解析路徑上的種類並檢查權限
func (h *Handler) recordKind(r *http.Request, write bool) (record.Kind, error) {
	kind, err := record.ParseKind(r.PathValue("kind"))
	if err != nil {
		return "", err
	}
	perm := auth.ReadPermission(string(kind))
	if write {
		perm = auth.WritePermission(string(kind))
	}
	if err := h.authorize(r, perm); err != nil {
		return "", err
	}
	return kind, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.Invalid("invalid record id: %q", r.PathValue("id"))
	}
	return id, nil
}

// financialYear 取 query 的 financial_year，未提供時用當前年度
func (h *Handler) financialYear(r *http.Request) (string, error) {
	fy := r.URL.Query().Get("financial_year")
	if fy == "" {
		return record.FinancialYearOf(h.now()), nil
	}
	if err := record.ValidateFinancialYear(fy); err != nil {
		return "", err
	}
	return fy, nil
}

// listRecords 某年度的紀錄，走一般快取
//
// GET /api/v1/records/{kind}?financial_year=2024-25
func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	kind, err := h.recordKind(r, false)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}
	fy, err := h.financialYear(r)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}

	key := broadcast.Topic(string(kind), fy)
	if cached, ok := h.Cache.General.Get(key); ok {
		w.Header().Set("X-Cache", "HIT")
		h.jsonResponse(w, http.StatusOK, cached)
		return
	}

	rows, err := h.Records.List(r.Context(), kind, fy)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}

	h.Cache.General.Set(key, rows)
	w.Header().Set("X-Cache", "MISS")
	h.jsonResponse(w, http.StatusOK, rows)
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	kind, err := h.recordKind(r, false)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}

	rec, err := h.Records.Get(r.Context(), kind, id)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, rec)
}

// createRecord 新增紀錄並廣播
//
// POST /api/v1/records/{kind}
// Body: 該種類的欄位，financial_year 必填；serial_no 省略時自動編號
func (h *Handler) createRecord(w http.ResponseWriter, r *http.Request) {
	kind, err := h.recordKind(r, true)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}

	rec := record.New(kind)
	if err := decodeJSON(r, w, rec); err != nil {
		h.errorResponse(w, r, err)
		return
	}
	record.Header(rec).ID = 0

	created, err := h.Records.Create(r.Context(), rec)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}

	h.publish(kind, record.Header(created).FinancialYear, actionCreated, created)
	h.jsonResponse(w, http.StatusCreated, created)
}

// updateRecord 覆寫紀錄；換年度時兩個年度都會廣播
func (h *Handler) updateRecord(w http.ResponseWriter, r *http.Request) {
	kind, err := h.recordKind(r, true)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}

	previous, err := h.Records.Get(r.Context(), kind, id)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}

	rec := record.New(kind)
	if err := decodeJSON(r, w, rec); err != nil {
		h.errorResponse(w, r, err)
		return
	}
	record.Header(rec).ID = id

	updated, err := h.Records.Update(r.Context(), rec)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}

	fy := record.Header(updated).FinancialYear
	if old := record.Header(previous).FinancialYear; old != fy {
		h.publish(kind, old, actionDeleted, previous)
	}
	h.publish(kind, fy, actionUpdated, updated)
	h.jsonResponse(w, http.StatusOK, updated)
}

func (h *Handler) deleteRecord(w http.ResponseWriter, r *http.Request) {
	kind, err := h.recordKind(r, true)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}

	deleted, err := h.Records.Delete(r.Context(), kind, id)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}

	h.publish(kind, record.Header(deleted).FinancialYear, actionDeleted, deleted)
	h.jsonResponse(w, http.StatusOK, deleted)
}

// publish 寫入成功後才廣播；Bus 同時讓相關快取失效
func (h *Handler) publish(kind record.Kind, fy, action string, payload any) {
	if h.Bus == nil {
		h.Cache.Invalidate(broadcast.DerivedKeys(broadcast.Topic(string(kind), fy))...)
		return
	}
	h.Bus.Publish(broadcast.Topic(string(kind), fy), action, payload)
}

// dashboard 登入後的年度摘要，走一般快取
//
// GET /api/v1/dashboard/{fy}
func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	h.serveOverview(w, r, broadcast.DashboardKey, h.Cache.General.Get, h.Cache.General.Set)
}

// homepage 公開的年度摘要，不需登入，走公開快取
//
// GET /api/v1/public/homepage/{fy}
func (h *Handler) homepage(w http.ResponseWriter, r *http.Request) {
	h.serveOverview(w, r, broadcast.HomepageKey, h.Cache.Public.Get, h.Cache.Public.Set)
}

func (h *Handler) serveOverview(
	w http.ResponseWriter,
	r *http.Request,
	keyOf func(string) string,
	get func(string) (any, bool),
	set func(string, any),
) {
	fy := r.PathValue("fy")
	if err := record.ValidateFinancialYear(fy); err != nil {
		h.errorResponse(w, r, err)
		return
	}

	key := keyOf(fy)
	if cached, ok := get(key); ok {
		w.Header().Set("X-Cache", "HIT")
		h.jsonResponse(w, http.StatusOK, cached)
		return
	}

	counts, err := h.Records.Count(r.Context(), fy)
	if err != nil {
		h.errorResponse(w, r, err)
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	out := overview{
		FinancialYear: fy,
		Counts:        counts,
		Total:         total,
		GeneratedAt:   h.now().UTC().Format(time.RFC3339),
	}

	set(key, out)
	w.Header().Set("X-Cache", "MISS")
	h.jsonResponse(w, http.StatusOK, out)
}
