// Package model はドメインモデルを定義する。
package model

import "time"

// NoEmailSentinel はメールアドレスを提供しないIdPでユーザーを
// 自動作成する際に使用するプレースホルダー。
const NoEmailSentinel = "no-email"

// User はサービス利用ユーザーを表す。
// ローカル登録されたユーザーはPasswordHashを持ち、
// 外部IdP経由で自動作成されたユーザーはIdentityレコードを持つ。
// 少なくともどちらか一方が存在することが不変条件。
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string // ローカル登録ユーザーのみ。bcryptハッシュ。
	AvatarURL    string // IdPから提供された場合のみ。
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasLocalCredential はローカルパスワードで認証可能かどうかを返す。
func (u *User) HasLocalCredential() bool {
	return u.PasswordHash != ""
}

// Identity は外部IdPとの紐付け情報を表す。
// 複数のIdP（GitHub, Google等）に対応可能な構造。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
// トークン（ID）は暗号的に安全な乱数から生成され、
// ログアウトまたは期限切れ後に再利用されることはない。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired はセッションが期限切れかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
