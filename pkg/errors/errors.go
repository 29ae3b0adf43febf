// Package errors 提供應用程式錯誤處理
//
// 錯誤分類：
//   - NOT_FOUND：session、遊戲、紀錄不存在
//   - FORBIDDEN：角色、權限或回合不符
//   - CONFLICT：遊戲已滿、重複加入、位置已佔用、已擲骰
//   - INVALID_INPUT：格式錯誤、越界
//   - UPSTREAM_ERROR：資料庫或外部服務失敗
//
// 所有錯誤在 HTTP 邊界轉成 {success, code, message}，不會有錯誤越過邊界。
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// 定義錯誤碼
const (
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeForbidden 權限或回合不符
	ErrCodeForbidden = "FORBIDDEN"
	// ErrCodeUnauthorized 未登入或 session 失效
	ErrCodeUnauthorized = "UNAUTHORIZED"
	// ErrCodeConflict 狀態衝突
	ErrCodeConflict = "CONFLICT"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeUpstream 上游服務失敗
	ErrCodeUpstream = "UPSTREAM_ERROR"
	// ErrCodeUnavailable 服務不可用
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 添加詳細資訊（回傳副本，預定義錯誤不會被修改）
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// NotFound 建立 NOT_FOUND 錯誤
func NotFound(format string, args ...any) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf(format, args...))
}

// Forbidden 建立 FORBIDDEN 錯誤
func Forbidden(format string, args ...any) *AppError {
	return New(ErrCodeForbidden, fmt.Sprintf(format, args...))
}

// Conflict 建立 CONFLICT 錯誤
func Conflict(format string, args ...any) *AppError {
	return New(ErrCodeConflict, fmt.Sprintf(format, args...))
}

// Invalid 建立 INVALID_INPUT 錯誤
func Invalid(format string, args ...any) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf(format, args...))
}

// Upstream 包裝上游（資料庫、Redis、NATS）錯誤
func Upstream(err error, message string) *AppError {
	return Wrap(err, ErrCodeUpstream, message)
}

// 預定義錯誤
var (
	// ErrSessionNotFound session 不存在或已過期
	ErrSessionNotFound = New(ErrCodeUnauthorized, "session not found or expired")

	// ErrInvalidCredentials 帳號或密碼錯誤
	ErrInvalidCredentials = New(ErrCodeUnauthorized, "invalid username or password")

	// ErrRecordNotFound 紀錄不存在
	ErrRecordNotFound = New(ErrCodeNotFound, "record not found")

	// ErrGameNotFound 遊戲不存在
	ErrGameNotFound = New(ErrCodeNotFound, "game not found")

	// ErrGameFull 遊戲人數已滿
	ErrGameFull = New(ErrCodeConflict, "game is full")

	// ErrAlreadyJoined 玩家已在遊戲中
	ErrAlreadyJoined = New(ErrCodeConflict, "player already joined")

	// ErrNotYourTurn 非玩家回合
	ErrNotYourTurn = New(ErrCodeForbidden, "not your turn")

	// ErrNotPlaying 遊戲不在進行中
	ErrNotPlaying = New(ErrCodeConflict, "game is not in progress")

	// ErrPermissionDenied 權限不足
	ErrPermissionDenied = New(ErrCodeForbidden, "permission denied")
)

// codeOf 取得錯誤碼，非 AppError 視為內部錯誤
func codeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	return err != nil && codeOf(err) == ErrCodeNotFound
}

// IsForbidden 檢查是否為權限錯誤
func IsForbidden(err error) bool {
	return err != nil && codeOf(err) == ErrCodeForbidden
}

// IsConflict 檢查是否為衝突錯誤
func IsConflict(err error) bool {
	return err != nil && codeOf(err) == ErrCodeConflict
}

// IsInvalid 檢查是否為輸入錯誤
func IsInvalid(err error) bool {
	return err != nil && codeOf(err) == ErrCodeInvalidInput
}

// IsUpstream 檢查是否為上游錯誤
func IsUpstream(err error) bool {
	return err != nil && codeOf(err) == ErrCodeUpstream
}

// Code 回傳錯誤碼
func Code(err error) string {
	return codeOf(err)
}

// HTTPStatus 將錯誤碼對應到 HTTP 狀態碼
func HTTPStatus(err error) int {
	switch codeOf(err) {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeUpstream:
		return http.StatusBadGateway
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage 回傳可以給客戶端看的訊息；上游與內部錯誤只回通用訊息
func PublicMessage(err error) string {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return "internal server error"
	}
	switch appErr.Code {
	case ErrCodeUpstream:
		return "upstream service failure"
	case ErrCodeInternal:
		return "internal server error"
	}
	return appErr.Message
}
