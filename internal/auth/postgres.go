package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/koopa0/system-design/14-procurement-hub/pkg/errors"
)

// Identity 已驗證的使用者
type Identity struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Authenticator 帳密驗證介面
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (Identity, error)
}

// PostgresAuthenticator 從 users 表驗證帳密
type PostgresAuthenticator struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresAuthenticator 建立驗證器
func NewPostgresAuthenticator(pool *pgxpool.Pool, logger *slog.Logger) *PostgresAuthenticator {
	return &PostgresAuthenticator{pool: pool, logger: logger}
}

// Authenticate 驗證帳密；帳號不存在與密碼錯誤回傳同一個錯誤
func (a *PostgresAuthenticator) Authenticate(ctx context.Context, username, password string) (Identity, error) {
	var hash, role string
	err := a.pool.QueryRow(ctx,
		`SELECT password_hash, role FROM users WHERE username = $1 AND active`,
		username,
	).Scan(&hash, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return Identity{}, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		a.logger.Error("query user failed", "username", username, "error", err)
		return Identity{}, apperrors.Upstream(err, "authenticate")
	}

	ok, err := VerifyPassword(password, hash)
	if err != nil {
		a.logger.Warn("stored password hash unreadable", "username", username, "error", err)
		return Identity{}, apperrors.ErrInvalidCredentials
	}
	if !ok {
		return Identity{}, apperrors.ErrInvalidCredentials
	}

	return Identity{Username: username, Role: role}, nil
}

// CreateUser 新增使用者（管理工具與測試用）
func (a *PostgresAuthenticator) CreateUser(ctx context.Context, username, password, role string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	_, err = a.pool.Exec(ctx,
		`INSERT INTO users (username, password_hash, role) VALUES ($1, $2, $3)
		 ON CONFLICT (username) DO UPDATE SET password_hash = EXCLUDED.password_hash, role = EXCLUDED.role`,
		username, hash, role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// PostgresPermissionStore role_permissions 表
type PostgresPermissionStore struct {
	pool *pgxpool.Pool
}

// NewPostgresPermissionStore 建立權限儲存
func NewPostgresPermissionStore(pool *pgxpool.Pool) *PostgresPermissionStore {
	return &PostgresPermissionStore{pool: pool}
}

// LoadAll 載入全部角色權限
func (s *PostgresPermissionStore) LoadAll(ctx context.Context) (map[string]PermissionSet, error) {
	rows, err := s.pool.Query(ctx, `SELECT role, permission, enabled FROM role_permissions`)
	if err != nil {
		return nil, fmt.Errorf("query role_permissions: %w", err)
	}
	defer rows.Close()

	result := make(map[string]PermissionSet)
	for rows.Next() {
		var role, perm string
		var enabled bool
		if err := rows.Scan(&role, &perm, &enabled); err != nil {
			return nil, fmt.Errorf("scan role_permissions: %w", err)
		}
		if result[role] == nil {
			result[role] = make(PermissionSet)
		}
		result[role][perm] = enabled
	}
	return result, rows.Err()
}

// Save 以交易覆寫單一角色的權限
func (s *PostgresPermissionStore) Save(ctx context.Context, role string, perms PermissionSet) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role = $1`, role); err != nil {
		return fmt.Errorf("clear role_permissions: %w", err)
	}

	batch := &pgx.Batch{}
	for perm, enabled := range perms {
		batch.Queue(`INSERT INTO role_permissions (role, permission, enabled) VALUES ($1, $2, $3)`, role, perm, enabled)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert role_permissions: %w", err)
	}

	return tx.Commit(ctx)
}
