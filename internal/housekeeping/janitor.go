// Package housekeeping 定期清理過期資料：
// 結束的遊戲、過期的快取項目、過期的 session。
package housekeeping

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task 一項清理工作，回傳移除數量
type Task struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// Counter 包裝不會失敗的清理函數
func Counter(name string, fn func() int) Task {
	return Task{
		Name: name,
		Run:  func(context.Context) (int, error) { return fn(), nil },
	}
}

// Janitor 定期執行所有清理工作
type Janitor struct {
	interval time.Duration
	tasks    []Task
	logger   *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewJanitor 建立清理器
func NewJanitor(interval time.Duration, logger *slog.Logger, tasks ...Task) *Janitor {
	return &Janitor{
		interval: interval,
		tasks:    tasks,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start 啟動清理 goroutine
func (j *Janitor) Start() {
	j.wg.Add(1)
	go j.loop()
}

func (j *Janitor) loop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.RunOnce(context.Background())
		case <-j.stopCh:
			return
		}
	}
}

// RunOnce 依序執行每項工作；單項失敗不影響其他項目
func (j *Janitor) RunOnce(ctx context.Context) map[string]int {
	results := make(map[string]int, len(j.tasks))
	for _, task := range j.tasks {
		n, err := task.Run(ctx)
		if err != nil {
			j.logger.Error("清理失敗", "task", task.Name, "error", err)
			continue
		}
		results[task.Name] = n
		if n > 0 {
			j.logger.Info("清理完成", "task", task.Name, "removed", n)
		}
	}
	return results
}

// Stop 停止清理器（可重複呼叫）
func (j *Janitor) Stop() {
	j.once.Do(func() { close(j.stopCh) })
	j.wg.Wait()
}
