// Package backup 每日將當年度紀錄匯出成 Excel。
//
// 每種紀錄一個檔案：<dir>/<kind>-<YYYY-MM-DD>.xlsx。
// 匯出後刪除超過保留天數的舊檔。排程獨立於請求處理，
// 匯出失敗只記錄日誌，不影響服務。
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/koopa0/system-design/14-procurement-hub/internal/record"
)

const dateLayout = "2006-01-02"

// Source 匯出資料來源（由 record.Store 實作）
type Source interface {
	List(ctx context.Context, kind record.Kind, fy string) ([]record.Record, error)
}

// Options 匯出設定
type Options struct {
	Dir           string
	Hour          int // 每日執行的時刻（本地時間）
	RetentionDays int
}

// Exporter 每日匯出器
type Exporter struct {
	source Source
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New 建立匯出器
func New(source Source, opts Options, logger *slog.Logger) *Exporter {
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 20
	}
	return &Exporter{
		source: source,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// FileName 匯出檔名
func FileName(kind record.Kind, day time.Time) string {
	return fmt.Sprintf("%s-%s.xlsx", kind, day.Format(dateLayout))
}

// Run 匯出當年度所有種類並清理舊檔，回傳寫出的檔案路徑
func (e *Exporter) Run(ctx context.Context) ([]string, error) {
	now := e.now()
	fy := record.FinancialYearOf(now)

	if err := os.MkdirAll(e.opts.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	var written []string
	for _, kind := range record.Kinds {
		rows, err := e.source.List(ctx, kind, fy)
		if err != nil {
			return written, fmt.Errorf("list %s: %w", kind, err)
		}

		path := filepath.Join(e.opts.Dir, FileName(kind, now))
		if err := writeWorkbook(path, kind, rows); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	removed, err := e.Prune(now)
	if err != nil {
		return written, err
	}

	e.logger.Info("備份完成", "financial_year", fy, "files", len(written), "pruned", removed)
	return written, nil
}

// writeWorkbook 一種紀錄一個工作表
func writeWorkbook(path string, kind record.Kind, rows []record.Record) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := string(kind)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := []any{"id", "serial_no", "financial_year"}
	for _, c := range record.Columns(kind) {
		header = append(header, c)
	}
	header = append(header, "created_at", "updated_at")
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, r := range rows {
		b := record.Header(r)
		row := []any{b.ID, b.SerialNo, b.FinancialYear}
		for _, v := range record.Values(r) {
			row = append(row, cellValue(v))
		}
		row = append(row, cellValue(b.CreatedAt), cellValue(b.UpdatedAt))

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// cellValue 時間一律寫成文字，零值留空
func cellValue(v any) any {
	t, ok := v.(time.Time)
	if !ok {
		return v
	}
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// Prune 刪除超過保留天數的匯出檔；日期取自檔名
func (e *Exporter) Prune(now time.Time) (int, error) {
	entries, err := os.ReadDir(e.opts.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read backup dir: %w", err)
	}

	cutoff := startOfDay(now).AddDate(0, 0, -e.opts.RetentionDays)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		day, ok := exportDate(entry.Name())
		if !ok || !day.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(e.opts.Dir, entry.Name())); err != nil {
			e.logger.Warn("刪除舊備份失敗", "file", entry.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// exportDate 解析 <kind>-YYYY-MM-DD.xlsx 的日期；不符合格式的檔案不處理
func exportDate(name string) (time.Time, bool) {
	base, ok := strings.CutSuffix(name, ".xlsx")
	if !ok || len(base) < len(dateLayout)+2 {
		return time.Time{}, false
	}
	kind := base[:len(base)-len(dateLayout)-1]
	if _, err := record.ParseKind(kind); err != nil {
		return time.Time{}, false
	}
	day, err := time.ParseInLocation(dateLayout, base[len(base)-len(dateLayout):], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// NextRun 下一次執行時間（今天的 hour 已過就排明天）
func NextRun(now time.Time, hour int) time.Time {
	next := startOfDay(now).Add(time.Duration(hour) * time.Hour)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start 啟動每日排程
func (e *Exporter) Start() {
	e.wg.Add(1)
	go e.loop()
}

func (e *Exporter) loop() {
	defer e.wg.Done()

	for {
		next := NextRun(e.now(), e.opts.Hour)
		timer := time.NewTimer(time.Until(next))
		e.logger.Debug("下一次備份", "at", next)

		select {
		case <-timer.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := e.Run(ctx); err != nil {
				e.logger.Error("備份失敗", "error", err)
			}
			cancel()
		case <-e.stopCh:
			timer.Stop()
			return
		}
	}
}

// Stop 停止排程並等待進行中的匯出結束
func (e *Exporter) Stop() {
	e.once.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}
