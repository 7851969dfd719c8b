package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/eventman/internal/model"
	"github.com/hitoshi/eventman/internal/repository"
)

// ストラテジー名
const (
	StrategyLocal     = "local"
	StrategyFederated = "federated"
)

// 認証失敗の内部理由。外部向けレスポンスでは区別せず、
// アカウント列挙防止のため単一の認証失敗メッセージに畳み込む。
var (
	// ErrUnknownIdentity は該当ユーザーが存在しない場合のエラー。
	ErrUnknownIdentity = errors.New("unknown identity")
	// ErrNoLocalCredential は外部IdP専用ユーザーがローカル認証を試みた場合のエラー。
	ErrNoLocalCredential = errors.New("identity has no local credential")
	// ErrBadCredential はパスワード不一致のエラー。
	ErrBadCredential = errors.New("bad credential")
	// ErrUnknownStrategy は未登録のストラテジー名が指定された場合のエラー。
	ErrUnknownStrategy = errors.New("unknown credential strategy")
)

// Credentials は認証ストラテジーへの入力を表す。
// ストラテジーごとに1つの実装を持ち、Strategy()のタグでディスパッチされる。
type Credentials interface {
	Strategy() string
}

// LocalCredentials はメールアドレスとパスワードによるローカル認証の入力。
type LocalCredentials struct {
	Email    string
	Password string
}

// Strategy はストラテジータグを返す。
func (LocalCredentials) Strategy() string { return StrategyLocal }

// FederatedProfile は外部IdPのコールバックで取得したプロフィール。
// IdP側で認証が完了していることを前提とし、本コアでは再検証しない。
type FederatedProfile struct {
	Provider       string // "github" 等
	ProviderUserID string
	Login          string // プロバイダー上のハンドル名
	DisplayName    string
	Email          string // IdPが提供しない場合は空
	AvatarURL      string
}

// Strategy はストラテジータグを返す。
func (FederatedProfile) Strategy() string { return StrategyFederated }

// CredentialStrategy は認証情報からユーザーを検証する能力を表す。
type CredentialStrategy interface {
	// VerifyCredentials は認証情報を検証し、認証済みユーザーを返す。
	// 予期される失敗（未登録・パスワード不一致等）はsentinelエラーで返し、
	// panicや未分類のエラーにしない。
	VerifyCredentials(ctx context.Context, creds Credentials) (*model.User, error)
}

// Resolver はストラテジータグでCredentialStrategyをディスパッチする。
type Resolver struct {
	strategies map[string]CredentialStrategy
}

// NewResolver はResolverを生成する。
func NewResolver(local, federated CredentialStrategy) *Resolver {
	return &Resolver{
		strategies: map[string]CredentialStrategy{
			StrategyLocal:     local,
			StrategyFederated: federated,
		},
	}
}

// Verify は認証情報のストラテジータグに対応するストラテジーで検証を行う。
func (r *Resolver) Verify(ctx context.Context, creds Credentials) (*model.User, error) {
	strategy, ok := r.strategies[creds.Strategy()]
	if !ok || strategy == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, creds.Strategy())
	}
	return strategy.VerifyCredentials(ctx, creds)
}

// LocalStrategy はメールアドレスとパスワードによるローカル認証ストラテジー。
type LocalStrategy struct {
	users  repository.UserRepository
	hasher *PasswordHasher
}

// NewLocalStrategy はLocalStrategyを生成する。
func NewLocalStrategy(users repository.UserRepository, hasher *PasswordHasher) *LocalStrategy {
	return &LocalStrategy{users: users, hasher: hasher}
}

// VerifyCredentials はメールアドレスとパスワードを検証する。
// 失敗理由はsentinelエラーで区別して返すが、呼び出し側は
// 外部向けレスポンスで理由を区別してはならない。
func (s *LocalStrategy) VerifyCredentials(ctx context.Context, creds Credentials) (*model.User, error) {
	local, ok := creds.(LocalCredentials)
	if !ok {
		return nil, fmt.Errorf("%w: local strategy requires LocalCredentials", ErrUnknownStrategy)
	}

	user, err := s.users.FindByEmail(ctx, local.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		return nil, ErrUnknownIdentity
	}
	if !user.HasLocalCredential() {
		return nil, ErrNoLocalCredential
	}

	match, err := s.hasher.Verify(local.Password, user.PasswordHash)
	if err != nil {
		// ハッシュ破損はデータ整合性の問題。認証失敗と区別してログに残す。
		slog.Error("stored password hash is malformed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if !match {
		return nil, ErrBadCredential
	}

	return user, nil
}

// AvatarURLValidator はIdP提供のアバターURLの安全性を事前検証する。
type AvatarURLValidator interface {
	ValidateURL(rawURL string) error
}

// FederatedStrategy は外部IdPのプロフィールによる認証ストラテジー。
// IdP側のコールバック成功をもって認証済みとみなし、未登録ユーザーは自動作成する。
type FederatedStrategy struct {
	users      repository.UserRepository
	identities repository.IdentityRepository
	avatars    AvatarURLValidator
}

// NewFederatedStrategy はFederatedStrategyを生成する。
// avatarsはnil可。nilの場合はアバターURLを検証せずに破棄する。
func NewFederatedStrategy(users repository.UserRepository, identities repository.IdentityRepository, avatars AvatarURLValidator) *FederatedStrategy {
	return &FederatedStrategy{users: users, identities: identities, avatars: avatars}
}

// VerifyCredentials はIdPプロフィールを既存ユーザーに解決する。
// 未登録の場合はユーザーとidentityを自動作成する。
// 同一provider_user_idに対して常に同一ユーザーを返す（冪等）。
func (s *FederatedStrategy) VerifyCredentials(ctx context.Context, creds Credentials) (*model.User, error) {
	profile, ok := creds.(FederatedProfile)
	if !ok {
		return nil, fmt.Errorf("%w: federated strategy requires FederatedProfile", ErrUnknownStrategy)
	}

	identity, err := s.identities.FindByProviderAndProviderUserID(ctx, profile.Provider, profile.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	if identity != nil {
		user, err := s.users.FindByID(ctx, identity.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user for identity: %w", err)
		}
		if user == nil {
			// identityが残っているのにユーザーが存在しないのはストア不整合
			return nil, fmt.Errorf("identity %s references missing user %s", identity.ID, identity.UserID)
		}
		return user, nil
	}

	// 未登録ユーザーの自動作成
	user, err := s.provision(ctx, profile)
	if err == nil {
		return user, nil
	}

	// 並行コールバック競合: 一意制約違反は「既に作成済み」として再取得する
	if errors.Is(err, repository.ErrDuplicateKey) {
		identity, findErr := s.identities.FindByProviderAndProviderUserID(ctx, profile.Provider, profile.ProviderUserID)
		if findErr != nil {
			return nil, fmt.Errorf("failed to refetch identity after conflict: %w", findErr)
		}
		if identity == nil {
			return nil, fmt.Errorf("identity conflict but no identity found: %w", err)
		}
		user, findErr := s.users.FindByID(ctx, identity.UserID)
		if findErr != nil {
			return nil, fmt.Errorf("failed to refetch user after conflict: %w", findErr)
		}
		if user == nil {
			return nil, fmt.Errorf("identity %s references missing user %s", identity.ID, identity.UserID)
		}
		return user, nil
	}

	return nil, err
}

// provision はIdPプロフィールから新規ユーザーとidentityを作成する。
func (s *FederatedStrategy) provision(ctx context.Context, profile FederatedProfile) (*model.User, error) {
	now := time.Now()

	user := &model.User{
		ID:        uuid.New().String(),
		Name:      defaultName(profile),
		Email:     defaultEmail(profile),
		AvatarURL: s.safeAvatarURL(profile.AvatarURL),
		CreatedAt: now,
		UpdatedAt: now,
	}

	identity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       profile.Provider,
		ProviderUserID: profile.ProviderUserID,
		CreatedAt:      now,
	}

	if err := s.users.CreateWithIdentity(ctx, user, identity); err != nil {
		return nil, err
	}

	slog.Info("new user provisioned from federated login",
		slog.String("user_id", user.ID),
		slog.String("provider", profile.Provider),
	)

	return user, nil
}

// defaultName は表示名の候補リストから最初の非空文字列を選ぶ。
func defaultName(profile FederatedProfile) string {
	for _, candidate := range []string{profile.DisplayName, profile.Login, profile.ProviderUserID} {
		if candidate != "" {
			return candidate
		}
	}
	return "unknown"
}

// defaultEmail はIdPがメールアドレスを提供しない場合にsentinel値を返す。
func defaultEmail(profile FederatedProfile) string {
	if profile.Email != "" {
		return profile.Email
	}
	return model.NoEmailSentinel
}

// safeAvatarURL は検証を通過したアバターURLのみを返す。
// 検証に失敗したURLは警告ログを出して破棄する。
func (s *FederatedStrategy) safeAvatarURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	if s.avatars == nil {
		return ""
	}
	if err := s.avatars.ValidateURL(rawURL); err != nil {
		slog.Warn("avatar URL rejected",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return rawURL
}

// compile-time interface checks
var _ CredentialStrategy = (*LocalStrategy)(nil)
var _ CredentialStrategy = (*FederatedStrategy)(nil)
