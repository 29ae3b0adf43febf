package housekeeping_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-procurement-hub/internal/cache"
	"github.com/koopa0/system-design/14-procurement-hub/internal/game"
	"github.com/koopa0/system-design/14-procurement-hub/internal/housekeeping"
	"github.com/koopa0/system-design/14-procurement-hub/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopEmitter struct{}

func (nopEmitter) EmitToRoom(string, string, any) {}

// TestRunOnce 三種清理一起跑，失敗的工作不影響其他工作
func TestRunOnce(t *testing.T) {
	now := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	registry := game.NewRegistry(nopEmitter{}, testLogger(), game.WithClock(clock))
	_, err := registry.Create(game.KindTicTacToe, "alice")
	require.NoError(t, err)
	require.Equal(t, 1, registry.AbandonPlayer("alice"))

	caches := cache.NewTwoTier(cache.Options{
		GeneralWindow: time.Minute, GeneralCapacity: 10,
		PublicWindow: time.Minute, PublicCapacity: 10,
	})
	caches.General.WithClock(clock)
	caches.General.Set("supply-2024-25", "rows")

	sessions := session.NewMemoryStore(session.Lifetime{
		InactivityTimeout: 30 * time.Second,
		MaxLifetime:       time.Hour,
	}).WithClock(clock)
	_, err = sessions.Create(context.Background(), "alice", "clerk")
	require.NoError(t, err)

	j := housekeeping.NewJanitor(time.Minute, testLogger(),
		housekeeping.Counter("games", registry.Sweep),
		housekeeping.Counter("cache", caches.Sweep),
		housekeeping.Task{Name: "sessions", Run: sessions.Sweep},
		housekeeping.Task{Name: "broken", Run: func(context.Context) (int, error) {
			return 0, errors.New("boom")
		}},
	)

	// 遊戲還沒到寬限期，快取與 session 已過期
	now = now.Add(2 * time.Minute)
	results := j.RunOnce(context.Background())
	assert.Equal(t, 0, results["games"])
	assert.Equal(t, 1, results["cache"])
	assert.Equal(t, 1, results["sessions"])
	assert.NotContains(t, results, "broken")

	now = now.Add(3 * time.Minute)
	results = j.RunOnce(context.Background())
	assert.Equal(t, 1, results["games"])
	assert.Equal(t, 0, registry.Stats()["total_games"])
}

// TestStartStop 啟動後依週期執行，Stop 可重複呼叫
func TestStartStop(t *testing.T) {
	var runs atomic.Int32
	j := housekeeping.NewJanitor(10*time.Millisecond, testLogger(),
		housekeeping.Counter("tick", func() int {
			runs.Add(1)
			return 0
		}),
	)
	j.Start()

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	j.Stop()
	j.Stop()

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}
