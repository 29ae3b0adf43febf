package auth_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/koopa0/system-design/14-procurement-hub/internal/auth"
	apperrors "github.com/koopa0/system-design/14-procurement-hub/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memPermStore 記憶體版本的權限儲存
type memPermStore struct {
	mu      sync.Mutex
	data    map[string]auth.PermissionSet
	failErr error
}

func (m *memPermStore) LoadAll(context.Context) (map[string]auth.PermissionSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	out := make(map[string]auth.PermissionSet, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out, nil
}

func (m *memPermStore) Save(_ context.Context, role string, perms auth.PermissionSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	if m.data == nil {
		m.data = make(map[string]auth.PermissionSet)
	}
	m.data[role] = perms
	return nil
}

// TestResolver_Allowed 測試權限判斷
func TestResolver_Allowed(t *testing.T) {
	r := auth.NewResolver("super_admin", map[string]map[string]bool{
		"clerk": {"supply:read": true, "supply:write": true, "bill:write": false},
	}, nil, testLogger())

	tests := []struct {
		name string
		role string
		perm string
		want bool
	}{
		{"enabled", "clerk", "supply:write", true},
		{"disabled", "clerk", "bill:write", false},
		{"missing", "clerk", "demand:read", false},
		{"unknown role", "guest", "supply:read", false},
		{"elevated bypass", "super_admin", "anything:at-all", true},
		{"empty role", "", "supply:read", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Allowed(tt.role, tt.perm))
		})
	}

	assert.Equal(t, []string{"supply:read", "supply:write"}, r.Permissions("clerk"))
}

// TestResolver_Update 只有 elevated 角色能更新
func TestResolver_Update(t *testing.T) {
	ctx := context.Background()
	store := &memPermStore{}
	r := auth.NewResolver("super_admin", nil, store, testLogger())

	err := r.Update(ctx, "clerk", "clerk", map[string]bool{"supply:read": true})
	assert.True(t, apperrors.IsForbidden(err))
	assert.False(t, r.Allowed("clerk", "supply:read"))

	err = r.Update(ctx, "super_admin", "super_admin", map[string]bool{})
	assert.True(t, apperrors.IsInvalid(err))

	require.NoError(t, r.Update(ctx, "super_admin", "clerk", map[string]bool{"supply:read": true}))
	assert.True(t, r.Allowed("clerk", "supply:read"))
	assert.True(t, store.data["clerk"]["supply:read"])

	// 持久化失敗時不改記憶體
	store.failErr = errors.New("db down")
	err = r.Update(ctx, "super_admin", "clerk", map[string]bool{})
	assert.True(t, apperrors.IsUpstream(err))
	assert.True(t, r.Allowed("clerk", "supply:read"))
}

// TestResolver_Load 從儲存載入覆蓋預設值
func TestResolver_Load(t *testing.T) {
	store := &memPermStore{data: map[string]auth.PermissionSet{
		"viewer": {"bill:read": true},
	}}
	r := auth.NewResolver("super_admin", map[string]map[string]bool{
		"viewer": {"supply:read": true},
	}, store, testLogger())

	require.NoError(t, r.Load(context.Background()))
	assert.True(t, r.Allowed("viewer", "bill:read"))
	assert.False(t, r.Allowed("viewer", "supply:read"))
}

// TestPassword 測試 argon2id 雜湊與驗證
func TestPassword(t *testing.T) {
	hash, err := auth.HashPassword("correct horse battery")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=2$"))

	ok, err := auth.VerifyPassword("correct horse battery", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = auth.VerifyPassword("wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = auth.VerifyPassword("x", "$bcrypt$whatever")
	assert.Error(t, err)
	_, err = auth.VerifyPassword("x", "$argon2id$v=19$m=1,t=1,p=1$!!$!!")
	assert.Error(t, err)
}
