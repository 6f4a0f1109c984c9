// Package errors 提供應用程式錯誤處理
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeInvalidRoom 試場不存在於該場次
	ErrCodeInvalidRoom = "INVALID_ROOM"
	// ErrCodeRoomFull 試場座位已滿
	ErrCodeRoomFull = "ROOM_FULL"
	// ErrCodeAlreadyAssigned 考生已有座位
	ErrCodeAlreadyAssigned = "STUDENT_ALREADY_ASSIGNED"
	// ErrCodeNotAssigned 考生沒有座位
	ErrCodeNotAssigned = "STUDENT_NOT_ASSIGNED"
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeUnavailable 服務不可用
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
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

// WithDetails 添加詳細資訊
//
// 返回副本而非修改自身，預定義錯誤（如 ErrStudentAlreadyAssigned）
// 會被多個請求共用，就地修改會造成資料競爭。
func (e *AppError) WithDetails(details string) *AppError {
	clone := *e
	clone.Details = details
	return &clone
}

// 預定義錯誤
var (
	// ErrInvalidRoom 試場不存在
	ErrInvalidRoom = New(ErrCodeInvalidRoom, "room does not exist in this exam")

	// ErrRoomFull 試場已滿
	ErrRoomFull = New(ErrCodeRoomFull, "room capacity is saturated")

	// ErrStudentAlreadyAssigned 考生已被分配座位
	ErrStudentAlreadyAssigned = New(ErrCodeAlreadyAssigned, "student already has a seat in this exam")

	// ErrStudentNotAssigned 考生未被分配座位
	ErrStudentNotAssigned = New(ErrCodeNotAssigned, "student has no seat in this exam")

	// ErrExamNotFound 場次不存在
	ErrExamNotFound = New(ErrCodeNotFound, "exam not found")

	// ErrEntryNotFound 座位記錄不存在
	ErrEntryNotFound = New(ErrCodeNotFound, "roster entry not found")

	// ErrDatabaseUnavailable 資料庫不可用
	ErrDatabaseUnavailable = New(ErrCodeUnavailable, "database service unavailable")
)

// IsInvalidRoom 檢查是否為試場不存在錯誤
func IsInvalidRoom(err error) bool {
	return hasCode(err, ErrCodeInvalidRoom)
}

// IsRoomFull 檢查是否為試場已滿錯誤
func IsRoomFull(err error) bool {
	return hasCode(err, ErrCodeRoomFull)
}

// IsAlreadyAssigned 檢查是否為考生重複分配錯誤
func IsAlreadyAssigned(err error) bool {
	return hasCode(err, ErrCodeAlreadyAssigned)
}

// IsNotAssigned 檢查是否為考生未分配錯誤
func IsNotAssigned(err error) bool {
	return hasCode(err, ErrCodeNotAssigned)
}

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// hasCode 檢查錯誤鏈中是否包含指定錯誤碼
func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
