// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/eventman/internal/model"
)

// ErrDuplicateKey は一意制約違反を表す。
// ローカル登録のメールアドレス重複、および外部IdPの
// 並行プロビジョニング競合の検出に使用する。
// 呼び出し側はerrors.Isで判定し、「登録済み」または
// 「既存レコードの再取得」として扱う。致命的エラーではない。
var ErrDuplicateKey = errors.New("duplicate key")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はユーザーをメールアドレスで検索する。
	// 同一メールを持つユーザーが複数いる場合はローカル認証ユーザーを優先する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はローカル登録ユーザーを作成する。
	// メールアドレスの一意制約違反の場合はErrDuplicateKeyを返す。
	Create(ctx context.Context, user *model.User) error

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	// identityの一意制約違反の場合はErrDuplicateKeyを返す。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。対象がなくてもエラーにしない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// EventRepository はイベントデータの永続化インターフェース。
// 所有権の検証はサービス層の責務であり、FindByIDは所有者に関わらず取得する。
type EventRepository interface {
	// FindByID は指定IDのイベントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Event, error)

	// ListByOwnerID は所有者のイベント一覧を日付降順で返す。
	ListByOwnerID(ctx context.Context, ownerID string) ([]*model.Event, error)

	// Create はイベントを作成する。
	Create(ctx context.Context, event *model.Event) error

	// Update はイベントを更新する。
	Update(ctx context.Context, event *model.Event) error

	// DeleteByID は指定IDのイベントを削除する。
	DeleteByID(ctx context.Context, id string) error
}
