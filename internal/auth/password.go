package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultBcryptCost はbcryptハッシュのデフォルトコストパラメータ。
	DefaultBcryptCost = 10

	// MinPasswordLength はパスワードの最小文字数。
	MinPasswordLength = 6

	// MaxPasswordLength はパスワードの最大バイト数。
	// bcryptは72バイトで切り詰めるため、入力時点で制限する。
	MaxPasswordLength = 72
)

// ErrPasswordTooShort はパスワードが短すぎる場合のエラー。
var ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinPasswordLength)

// ErrPasswordTooLong はパスワードが長すぎる場合のエラー。
var ErrPasswordTooLong = fmt.Errorf("password must be at most %d bytes", MaxPasswordLength)

// ErrMalformedHash は保存済みハッシュがbcrypt形式として不正な場合のエラー。
// データ整合性の問題であり、単なる認証失敗として扱ってはならない。
var ErrMalformedHash = errors.New("stored password hash is malformed")

// PasswordHasher はbcryptによるパスワードの一方向ハッシュ化と検証を提供する。
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher はPasswordHasherを生成する。
// costが0以下の場合はDefaultBcryptCostを使用する。
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost <= 0 {
		cost = DefaultBcryptCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash は平文パスワードをbcryptでハッシュ化する。
// ソルトは乱数生成されるため、同一平文でも毎回異なるハッシュを返す。
func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	if err := ValidatePassword(plaintext); err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify は平文パスワードと保存済みハッシュを照合する。
// 不一致の場合は(false, nil)を返し、エラーにはしない。
// 保存済みハッシュがbcrypt形式として不正な場合のみErrMalformedHashを返す。
// bcryptの比較は定数時間で行われる。
func (h *PasswordHasher) Verify(plaintext, hashed string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plaintext))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	// 不一致以外のエラーはハッシュ自体の異常
	return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
}

// ValidatePassword はパスワードが要件を満たすかを検証する。
func ValidatePassword(plaintext string) error {
	if len(plaintext) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(plaintext) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}
