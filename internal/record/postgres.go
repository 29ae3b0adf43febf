package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/koopa0/system-design/14-procurement-hub/pkg/errors"
)

const baseColumns = "id, serial_no, financial_year, created_at, updated_at"

// PostgresStore 以 PostgreSQL 保存紀錄。
//
// 每種紀錄一張表，欄位由 columns() 決定，SQL 依此組出來；
// 表名與欄位名都來自程式常數，不會混入使用者輸入。
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore 建立 PostgreSQL 儲存
func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// scanTargets 共用欄位在前，專屬欄位在後
func scanTargets(r Record) []any {
	b := r.base()
	targets := []any{&b.ID, &b.SerialNo, &b.FinancialYear, &b.CreatedAt, &b.UpdatedAt}
	for _, c := range r.columns() {
		targets = append(targets, c.ptr)
	}
	return targets
}

func selectList(kind Kind) string {
	return baseColumns + ", " + strings.Join(Columns(kind), ", ")
}

// upstream 記錄細節，回傳不含 SQL 的錯誤
func (s *PostgresStore) upstream(err error, op string, kind Kind) error {
	s.logger.Error("資料庫操作失敗", "op", op, "kind", kind, "error", err)
	return apperrors.Upstream(err, op+" "+string(kind))
}

func (s *PostgresStore) List(ctx context.Context, kind Kind, fy string) ([]Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE financial_year = $1 ORDER BY serial_no, id`,
		selectList(kind), kind.table())

	rows, err := s.pool.Query(ctx, query, fy)
	if err != nil {
		return nil, s.upstream(err, "list", kind)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		r := New(kind)
		if err := rows.Scan(scanTargets(r)...); err != nil {
			return nil, s.upstream(err, "scan", kind)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.upstream(err, "list", kind)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, kind Kind, id int64) (Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, selectList(kind), kind.table())

	r := New(kind)
	err := s.pool.QueryRow(ctx, query, id).Scan(scanTargets(r)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrRecordNotFound
	}
	if err != nil {
		return nil, s.upstream(err, "get", kind)
	}
	return r, nil
}

// Create 插入紀錄；serial_no 為 0 時由子查詢取年度最大值加一
func (s *PostgresStore) Create(ctx context.Context, r Record) (Record, error) {
	if err := Validate(r); err != nil {
		return nil, err
	}

	kind := r.Kind()
	b := r.base()
	cols := r.columns()

	names := make([]string, 0, len(cols)+2)
	values := make([]string, 0, len(cols)+2)
	args := make([]any, 0, len(cols)+2)

	args = append(args, b.SerialNo, b.FinancialYear)
	names = append(names, "serial_no", "financial_year")
	values = append(values,
		fmt.Sprintf("COALESCE(NULLIF($1::int, 0), (SELECT COALESCE(MAX(serial_no), 0) + 1 FROM %s WHERE financial_year = $2))", kind.table()),
		"$2")
	for i, c := range cols {
		names = append(names, c.name)
		values = append(values, fmt.Sprintf("$%d", i+3))
		args = append(args, c.ptr)
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING %s`,
		kind.table(), strings.Join(names, ", "), strings.Join(values, ", "), selectList(kind))

	created := New(kind)
	if err := s.pool.QueryRow(ctx, query, args...).Scan(scanTargets(created)...); err != nil {
		return nil, s.upstream(err, "create", kind)
	}
	return created, nil
}

// Update 覆寫整筆紀錄；serial_no 為 0 時保留原值
func (s *PostgresStore) Update(ctx context.Context, r Record) (Record, error) {
	if err := Validate(r); err != nil {
		return nil, err
	}

	kind := r.Kind()
	b := r.base()
	cols := r.columns()

	sets := []string{
		"serial_no = COALESCE(NULLIF($2::int, 0), serial_no)",
		"financial_year = $3",
		"updated_at = now()",
	}
	args := []any{b.ID, b.SerialNo, b.FinancialYear}
	for i, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", c.name, i+4))
		args = append(args, c.ptr)
	}

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1 RETURNING %s`,
		kind.table(), strings.Join(sets, ", "), selectList(kind))

	updated := New(kind)
	err := s.pool.QueryRow(ctx, query, args...).Scan(scanTargets(updated)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrRecordNotFound
	}
	if err != nil {
		return nil, s.upstream(err, "update", kind)
	}
	return updated, nil
}

func (s *PostgresStore) Delete(ctx context.Context, kind Kind, id int64) (Record, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 RETURNING %s`, kind.table(), selectList(kind))

	deleted := New(kind)
	err := s.pool.QueryRow(ctx, query, id).Scan(scanTargets(deleted)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrRecordNotFound
	}
	if err != nil {
		return nil, s.upstream(err, "delete", kind)
	}
	return deleted, nil
}

// Count 一次查詢取得四種紀錄的筆數
func (s *PostgresStore) Count(ctx context.Context, fy string) (map[Kind]int, error) {
	parts := make([]string, len(Kinds))
	for i, k := range Kinds {
		parts[i] = fmt.Sprintf(`SELECT '%s' AS kind, count(*) FROM %s WHERE financial_year = $1`, k, k.table())
	}

	rows, err := s.pool.Query(ctx, strings.Join(parts, " UNION ALL "), fy)
	if err != nil {
		return nil, s.upstream(err, "count", "all")
	}
	defer rows.Close()

	counts := make(map[Kind]int, len(Kinds))
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, s.upstream(err, "count", "all")
		}
		counts[Kind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, s.upstream(err, "count", "all")
	}
	return counts, nil
}
