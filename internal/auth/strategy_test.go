package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hitoshi/eventman/internal/model"
	"github.com/hitoshi/eventman/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn           func(ctx context.Context, id string) (*model.User, error)
	findByEmailFn        func(ctx context.Context, email string) (*model.User, error)
	createFn             func(ctx context.Context, user *model.User) error
	createWithIdentityFn func(ctx context.Context, user *model.User, identity *model.Identity) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	if m.createWithIdentityFn != nil {
		return m.createWithIdentityFn(ctx, user, identity)
	}
	return nil
}

type mockIdentityRepo struct {
	findByProviderFn func(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

func (m *mockIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	if m.findByProviderFn != nil {
		return m.findByProviderFn(ctx, provider, providerUserID)
	}
	return nil, nil
}

type mockAvatarValidator struct {
	validateFn func(rawURL string) error
}

func (m *mockAvatarValidator) ValidateURL(rawURL string) error {
	if m.validateFn != nil {
		return m.validateFn(rawURL)
	}
	return nil
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.IdentityRepository = (*mockIdentityRepo)(nil)
var _ AvatarURLValidator = (*mockAvatarValidator)(nil)

// --- ローカルストラテジー ---

func localUserFixture(t *testing.T, hasher *PasswordHasher, password string) *model.User {
	t.Helper()
	hash, err := hasher.Hash(password)
	if err != nil {
		t.Fatalf("failed to hash fixture password: %v", err)
	}
	return &model.User{
		ID:           "user-1",
		Email:        "ann@example.com",
		Name:         "Ann",
		PasswordHash: hash,
	}
}

func TestLocalStrategy_CorrectPassword_ReturnsUser(t *testing.T) {
	hasher := NewPasswordHasher(testBcryptCost)
	user := localUserFixture(t, hasher, "secret1")

	users := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			if email == "ann@example.com" {
				return user, nil
			}
			return nil, nil
		},
	}

	s := NewLocalStrategy(users, hasher)
	got, err := s.VerifyCredentials(context.Background(), LocalCredentials{
		Email:    "ann@example.com",
		Password: "secret1",
	})
	if err != nil {
		t.Fatalf("VerifyCredentials() error = %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("user ID = %q, want %q", got.ID, user.ID)
	}
}

func TestLocalStrategy_UnknownEmail_ReturnsUnknownIdentity(t *testing.T) {
	hasher := NewPasswordHasher(testBcryptCost)
	users := &mockUserRepo{}

	s := NewLocalStrategy(users, hasher)
	_, err := s.VerifyCredentials(context.Background(), LocalCredentials{
		Email:    "nobody@example.com",
		Password: "whatever",
	})
	if !errors.Is(err, ErrUnknownIdentity) {
		t.Errorf("expected ErrUnknownIdentity, got %v", err)
	}
}

func TestLocalStrategy_FederatedOnlyUser_ReturnsNoLocalCredential(t *testing.T) {
	hasher := NewPasswordHasher(testBcryptCost)
	users := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			// 外部IdP専用ユーザー（パスワードハッシュなし）
			return &model.User{ID: "user-2", Email: email, Name: "Fed"}, nil
		},
	}

	s := NewLocalStrategy(users, hasher)
	_, err := s.VerifyCredentials(context.Background(), LocalCredentials{
		Email:    "fed@example.com",
		Password: "whatever",
	})
	if !errors.Is(err, ErrNoLocalCredential) {
		t.Errorf("expected ErrNoLocalCredential, got %v", err)
	}
}

func TestLocalStrategy_WrongPassword_ReturnsBadCredential(t *testing.T) {
	hasher := NewPasswordHasher(testBcryptCost)
	user := localUserFixture(t, hasher, "secret1")

	users := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return user, nil
		},
	}

	s := NewLocalStrategy(users, hasher)
	_, err := s.VerifyCredentials(context.Background(), LocalCredentials{
		Email:    "ann@example.com",
		Password: "wrong",
	})
	if !errors.Is(err, ErrBadCredential) {
		t.Errorf("expected ErrBadCredential, got %v", err)
	}
}

func TestLocalStrategy_MalformedStoredHash_ReturnsError(t *testing.T) {
	hasher := NewPasswordHasher(testBcryptCost)
	users := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: "user-3", Email: email, PasswordHash: "broken"}, nil
		},
	}

	s := NewLocalStrategy(users, hasher)
	_, err := s.VerifyCredentials(context.Background(), LocalCredentials{
		Email:    "ann@example.com",
		Password: "secret1",
	})
	// ハッシュ破損は認証失敗ではなくデータ整合性エラー
	if !errors.Is(err, ErrMalformedHash) {
		t.Errorf("expected ErrMalformedHash, got %v", err)
	}
}

// --- 外部IdPストラテジー ---

func TestFederatedStrategy_ExistingIdentity_ReturnsSameUser(t *testing.T) {
	existing := &model.User{ID: "user-10", Name: "Fed User", Email: "fed@example.com"}

	users := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			if id == "user-10" {
				return existing, nil
			}
			return nil, nil
		},
	}
	identities := &mockIdentityRepo{
		findByProviderFn: func(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
			return &model.Identity{ID: "ident-1", UserID: "user-10", Provider: provider, ProviderUserID: providerUserID}, nil
		},
	}

	s := NewFederatedStrategy(users, identities, nil)

	// 同一provider_user_idのコールバックは常に同一ユーザーに解決される（冪等）
	for i := 0; i < 3; i++ {
		got, err := s.VerifyCredentials(context.Background(), FederatedProfile{
			Provider:       "github",
			ProviderUserID: "gh-42",
		})
		if err != nil {
			t.Fatalf("VerifyCredentials() error = %v", err)
		}
		if got.ID != "user-10" {
			t.Errorf("user ID = %q, want %q", got.ID, "user-10")
		}
	}
}

func TestFederatedStrategy_NewIdentity_ProvisionsUser(t *testing.T) {
	var createdUser *model.User
	var createdIdentity *model.Identity

	users := &mockUserRepo{
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
			createdUser = user
			createdIdentity = identity
			return nil
		},
	}
	identities := &mockIdentityRepo{}

	s := NewFederatedStrategy(users, identities, &mockAvatarValidator{})
	got, err := s.VerifyCredentials(context.Background(), FederatedProfile{
		Provider:       "github",
		ProviderUserID: "gh-99",
		Login:          "octocat",
		DisplayName:    "The Octocat",
		Email:          "octo@example.com",
		AvatarURL:      "https://avatars.example.com/u/99",
	})
	if err != nil {
		t.Fatalf("VerifyCredentials() error = %v", err)
	}

	if createdUser == nil {
		t.Fatal("expected user to be provisioned")
	}
	if got.ID != createdUser.ID {
		t.Errorf("returned user ID = %q, want %q", got.ID, createdUser.ID)
	}
	if createdUser.Name != "The Octocat" {
		t.Errorf("user name = %q, want %q", createdUser.Name, "The Octocat")
	}
	if createdUser.Email != "octo@example.com" {
		t.Errorf("user email = %q, want %q", createdUser.Email, "octo@example.com")
	}
	if createdUser.AvatarURL != "https://avatars.example.com/u/99" {
		t.Errorf("avatar URL = %q, want %q", createdUser.AvatarURL, "https://avatars.example.com/u/99")
	}
	if createdUser.PasswordHash != "" {
		t.Error("provisioned user must not have a password hash")
	}

	if createdIdentity == nil {
		t.Fatal("expected identity to be created")
	}
	if createdIdentity.Provider != "github" || createdIdentity.ProviderUserID != "gh-99" {
		t.Errorf("identity = %+v, want provider github / gh-99", createdIdentity)
	}
	if createdIdentity.UserID != createdUser.ID {
		t.Errorf("identity user ID = %q, want %q", createdIdentity.UserID, createdUser.ID)
	}
}

func TestFederatedStrategy_NameFallsBackToLogin(t *testing.T) {
	var createdUser *model.User
	users := &mockUserRepo{
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
			createdUser = user
			return nil
		},
	}

	s := NewFederatedStrategy(users, &mockIdentityRepo{}, nil)
	_, err := s.VerifyCredentials(context.Background(), FederatedProfile{
		Provider:       "github",
		ProviderUserID: "gh-7",
		Login:          "octocat",
	})
	if err != nil {
		t.Fatalf("VerifyCredentials() error = %v", err)
	}

	// 表示名がない場合はハンドル名にフォールバックする
	if createdUser.Name != "octocat" {
		t.Errorf("user name = %q, want %q", createdUser.Name, "octocat")
	}
}

func TestFederatedStrategy_MissingEmail_UsesSentinel(t *testing.T) {
	var createdUser *model.User
	users := &mockUserRepo{
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
			createdUser = user
			return nil
		},
	}

	s := NewFederatedStrategy(users, &mockIdentityRepo{}, nil)
	_, err := s.VerifyCredentials(context.Background(), FederatedProfile{
		Provider:       "github",
		ProviderUserID: "gh-8",
		Login:          "no-mail-user",
	})
	if err != nil {
		t.Fatalf("VerifyCredentials() error = %v", err)
	}

	if createdUser.Email != model.NoEmailSentinel {
		t.Errorf("user email = %q, want sentinel %q", createdUser.Email, model.NoEmailSentinel)
	}
}

func TestFederatedStrategy_RejectedAvatarURL_IsDropped(t *testing.T) {
	var createdUser *model.User
	users := &mockUserRepo{
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
			createdUser = user
			return nil
		},
	}
	validator := &mockAvatarValidator{
		validateFn: func(rawURL string) error {
			return errors.New("blocked host")
		},
	}

	s := NewFederatedStrategy(users, &mockIdentityRepo{}, validator)
	_, err := s.VerifyCredentials(context.Background(), FederatedProfile{
		Provider:       "github",
		ProviderUserID: "gh-9",
		Login:          "sneaky",
		AvatarURL:      "http://169.254.169.254/latest",
	})
	if err != nil {
		t.Fatalf("VerifyCredentials() error = %v", err)
	}

	if createdUser.AvatarURL != "" {
		t.Errorf("rejected avatar URL should be dropped, got %q", createdUser.AvatarURL)
	}
}

func TestFederatedStrategy_ProvisionConflict_RefetchesExistingUser(t *testing.T) {
	existing := &model.User{ID: "user-20", Name: "Winner"}

	var findCalls int
	identities := &mockIdentityRepo{
		findByProviderFn: func(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
			findCalls++
			if findCalls == 1 {
				// 初回検索時点では未登録
				return nil, nil
			}
			// 競合解決のための再検索では、並行コールバックが作成済み
			return &model.Identity{ID: "ident-20", UserID: "user-20"}, nil
		},
	}
	users := &mockUserRepo{
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
			return fmt.Errorf("insert conflict: %w", repository.ErrDuplicateKey)
		},
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			if id == "user-20" {
				return existing, nil
			}
			return nil, nil
		},
	}

	s := NewFederatedStrategy(users, identities, nil)
	got, err := s.VerifyCredentials(context.Background(), FederatedProfile{
		Provider:       "github",
		ProviderUserID: "gh-20",
		Login:          "racer",
	})
	if err != nil {
		t.Fatalf("VerifyCredentials() error = %v", err)
	}
	if got.ID != "user-20" {
		t.Errorf("user ID = %q, want %q (existing user from concurrent callback)", got.ID, "user-20")
	}
}

// --- Resolver ---

func TestResolver_DispatchesByStrategyTag(t *testing.T) {
	hasher := NewPasswordHasher(testBcryptCost)
	user := localUserFixture(t, hasher, "secret1")

	users := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return user, nil
		},
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return user, nil
		},
	}
	identities := &mockIdentityRepo{
		findByProviderFn: func(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
			return &model.Identity{ID: "ident-1", UserID: user.ID}, nil
		},
	}

	r := NewResolver(
		NewLocalStrategy(users, hasher),
		NewFederatedStrategy(users, identities, nil),
	)

	if _, err := r.Verify(context.Background(), LocalCredentials{Email: "ann@example.com", Password: "secret1"}); err != nil {
		t.Errorf("local dispatch failed: %v", err)
	}
	if _, err := r.Verify(context.Background(), FederatedProfile{Provider: "github", ProviderUserID: "gh-1"}); err != nil {
		t.Errorf("federated dispatch failed: %v", err)
	}
}

type unknownCredentials struct{}

func (unknownCredentials) Strategy() string { return "unknown" }

func TestResolver_UnknownStrategy_ReturnsError(t *testing.T) {
	r := NewResolver(nil, nil)

	_, err := r.Verify(context.Background(), unknownCredentials{})
	if !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("expected ErrUnknownStrategy, got %v", err)
	}
}
