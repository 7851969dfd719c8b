// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, event, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	ErrCodeDuplicateRegistration = "DUPLICATE_REGISTRATION"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeEventNotFound         = "EVENT_NOT_FOUND"
	ErrCodeValidationFailed      = "VALIDATION_FAILED"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
)

// NewInvalidCredentialsError は認証失敗エラーを生成する。
// アカウント列挙攻撃を防ぐため、未登録メール・パスワード専用
// 認証情報なし・パスワード不一致のいずれの場合も同一メッセージを返す。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewDuplicateRegistrationError はメールアドレス重複登録エラーを生成する。
func NewDuplicateRegistrationError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateRegistration,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスで登録してください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
// セッションが存在しない、または期限切れの場合に返す。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewEventNotFoundError はイベント未検出エラーを生成する。
// 他ユーザーのイベントの存在を漏らさないため、
// 所有権違反の場合も外部にはこのエラーを返す。
func NewEventNotFoundError(eventID string) *APIError {
	return &APIError{
		Code:     ErrCodeEventNotFound,
		Message:  fmt.Sprintf("指定されたイベントが見つかりません: %s", eventID),
		Category: "event",
		Action:   "イベントIDを確認してください。",
	}
}

// NewValidationFailedError は入力検証エラーを生成する。
func NewValidationFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("入力内容に誤りがあります: %s", reason),
		Category: "validation",
		Action:   "入力内容を修正して再度お試しください。",
	}
}
