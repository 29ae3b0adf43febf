// Package auth 提供身分驗證與角色權限解析。
package auth

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	apperrors "github.com/koopa0/system-design/14-procurement-hub/pkg/errors"
)

// 常用權限名稱
const (
	PermGamesPlay     = "games:play"
	PermDashboardRead = "dashboard:read"
)

// ReadPermission 紀錄種類的讀取權限名稱
func ReadPermission(kind string) string { return kind + ":read" }

// WritePermission 紀錄種類的寫入權限名稱
func WritePermission(kind string) string { return kind + ":write" }

// PermissionSet 權限名稱 → 是否啟用
type PermissionSet map[string]bool

// PermissionStore 權限持久化（可選）
type PermissionStore interface {
	LoadAll(ctx context.Context) (map[string]PermissionSet, error)
	Save(ctx context.Context, role string, perms PermissionSet) error
}

// Resolver 角色權限解析器
//
// 讀多寫少：讀用 RLock，只有 Update 需要寫鎖。
// elevated 角色略過所有檢查。
type Resolver struct {
	elevated string
	store    PermissionStore
	logger   *slog.Logger

	mu    sync.RWMutex
	roles map[string]PermissionSet
}

// NewResolver 建立權限解析器
func NewResolver(elevatedRole string, defaults map[string]map[string]bool, store PermissionStore, logger *slog.Logger) *Resolver {
	r := &Resolver{
		elevated: elevatedRole,
		store:    store,
		logger:   logger,
		roles:    make(map[string]PermissionSet),
	}
	for role, perms := range defaults {
		r.roles[role] = clonePerms(perms)
	}
	return r
}

// Load 從持久化載入權限，覆蓋預設值
func (r *Resolver) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	all, err := r.store.LoadAll(ctx)
	if err != nil {
		return apperrors.Upstream(err, "load permissions")
	}

	r.mu.Lock()
	for role, perms := range all {
		r.roles[role] = clonePerms(perms)
	}
	r.mu.Unlock()

	r.logger.Info("permissions loaded", "roles", len(all))
	return nil
}

// ElevatedRole 回傳略過檢查的角色名稱
func (r *Resolver) ElevatedRole() string {
	return r.elevated
}

// Allowed 檢查角色是否具備權限
func (r *Resolver) Allowed(role, perm string) bool {
	if role != "" && role == r.elevated {
		return true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles[role][perm]
}

// Permissions 回傳角色已啟用的權限（排序後）
func (r *Resolver) Permissions(role string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	perms := make([]string, 0, len(r.roles[role]))
	for name, enabled := range r.roles[role] {
		if enabled {
			perms = append(perms, name)
		}
	}
	sort.Strings(perms)
	return perms
}

// Snapshot 回傳角色完整的權限表（含停用項目）
func (r *Resolver) Snapshot(role string) PermissionSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clonePerms(r.roles[role])
}

// Update 更新角色權限；只有 elevated 角色可以呼叫
func (r *Resolver) Update(ctx context.Context, actorRole, role string, perms map[string]bool) error {
	if actorRole != r.elevated {
		return apperrors.ErrPermissionDenied.WithDetails("only " + r.elevated + " may update permissions")
	}
	if role == "" {
		return apperrors.Invalid("role is required")
	}
	if role == r.elevated {
		return apperrors.Invalid("elevated role permissions are implicit")
	}

	next := clonePerms(perms)
	if r.store != nil {
		if err := r.store.Save(ctx, role, next); err != nil {
			return apperrors.Upstream(err, "save permissions")
		}
	}

	r.mu.Lock()
	r.roles[role] = next
	r.mu.Unlock()

	r.logger.Info("permissions updated", "role", role, "count", len(next))
	return nil
}

func clonePerms(in map[string]bool) PermissionSet {
	out := make(PermissionSet, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
