// Package auth は認証ストラテジー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/eventman/internal/model"
	"github.com/hitoshi/eventman/internal/repository"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// MetricsRecorder は認証イベントのメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordRegistration()
	RecordLoginSuccess(strategy string)
	RecordLoginFailure(strategy, reason string)
	RecordSessionCreated()
}

// Service は認証に関するビジネスロジックを提供する。
// 資格情報の検証はResolver経由でストラテジーに委譲し、
// セッションの発行・解決・破棄を担う。
type Service struct {
	resolver    *Resolver
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	hasher      *PasswordHasher
	metrics     MetricsRecorder
	config      ServiceConfig
}

// NewService はServiceを生成する。metricsはnil可。
func NewService(
	resolver *Resolver,
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	hasher *PasswordHasher,
	metrics MetricsRecorder,
	config ServiceConfig,
) *Service {
	return &Service{
		resolver:    resolver,
		oauth:       oauth,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		hasher:      hasher,
		metrics:     metrics,
		config:      config,
	}
}

// Register はローカルユーザーを登録する。
// メールアドレスが既に登録済みの場合はDUPLICATE_REGISTRATIONエラーを返す。
// 重複チェックはストアの一意制約が最終的な正であり、
// 並行登録競合による制約違反も同じエラーとして扱う。
func (s *Service) Register(ctx context.Context, name, email, password string) (*model.User, error) {
	if name == "" || email == "" {
		return nil, model.NewValidationFailedError("名前とメールアドレスは必須です")
	}
	if err := ValidatePassword(password); err != nil {
		return nil, model.NewValidationFailedError(fmt.Sprintf("パスワードは%d文字以上%dバイト以下で指定してください", MinPasswordLength, MaxPasswordLength))
	}

	hashed, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: hashed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, model.NewDuplicateRegistrationError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordRegistration()
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
	)

	return user, nil
}

// Login はメールアドレスとパスワードでローカル認証を行い、セッションを発行する。
// 未登録・パスワード専用認証情報なし・パスワード不一致のいずれの失敗も
// 外部には単一のINVALID_CREDENTIALSとして返す（アカウント列挙防止）。
// 内部理由はログとメトリクスにのみ記録する。
func (s *Service) Login(ctx context.Context, email, password string) (*model.Session, error) {
	user, err := s.resolver.Verify(ctx, LocalCredentials{Email: email, Password: password})
	if err != nil {
		reason := failureReason(err)
		if reason == "" {
			// 予期される認証失敗ではない（ストア障害・ハッシュ破損等）
			return nil, fmt.Errorf("local credential verification failed: %w", err)
		}

		if s.metrics != nil {
			s.metrics.RecordLoginFailure(StrategyLocal, reason)
		}
		slog.Info("local login rejected",
			slog.String("reason", reason),
		)
		return nil, model.NewInvalidCredentialsError()
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordLoginSuccess(StrategyLocal)
	}
	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("strategy", StrategyLocal),
	)

	return session, nil
}

// GetLoginURL は外部IdPの認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback は外部IdPのコールバックを処理し、セッションを発行する。
// 未登録ユーザーの場合はストラテジー側で自動作成される。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	profile, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordLoginFailure(StrategyFederated, "exchange_failed")
		}
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	user, err := s.resolver.Verify(ctx, *profile)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordLoginFailure(StrategyFederated, "resolve_failed")
		}
		return nil, fmt.Errorf("failed to resolve federated identity: %w", err)
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordLoginSuccess(StrategyFederated)
	}
	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("strategy", StrategyFederated),
		slog.String("provider", profile.Provider),
	)

	return session, nil
}

// Logout はセッションを破棄する。冪等であり、
// 既に無効なトークンのログアウトはエラーにしない。
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	if err := s.sessionRepo.DeleteByID(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// ResolveSession はセッショントークンを認証済みユーザーに解決する。
// トークンが存在しない、または期限切れの場合は(nil, nil)を返す。
// セッションが参照するユーザーが既に存在しない場合（ストア不整合）は
// 宙に浮いたセッションを破棄した上で未認証として扱う。
func (s *Service) ResolveSession(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}
	// リポジトリ側でも期限切れは除外されるが、取得後の経過時間に依存しないようここでも判定する
	if session.Expired(time.Now()) {
		return nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		slog.Warn("session references missing user, dropping session",
			slog.String("user_id", session.UserID),
		)
		if err := s.sessionRepo.DeleteByID(ctx, token); err != nil {
			slog.Error("failed to drop dangling session",
				slog.String("error", err.Error()),
			)
		}
		return nil, nil
	}

	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	token, err := generateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:        token,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordSessionCreated()
	}

	return session, nil
}

// failureReason は予期される認証失敗をメトリクス用のラベルに変換する。
// 予期される失敗でない場合は空文字列を返す。
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownIdentity):
		return "unknown_identity"
	case errors.Is(err, ErrNoLocalCredential):
		return "no_local_credential"
	case errors.Is(err, ErrBadCredential):
		return "bad_credential"
	default:
		return ""
	}
}

// generateSessionToken は暗号的に安全なセッショントークンを生成する。
func generateSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
