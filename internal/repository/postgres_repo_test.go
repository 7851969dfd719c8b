package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

// 各PostgresリポジトリがInterfaceを満たすことを検証
func TestPostgresUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
}

func TestPostgresIdentityRepo_ImplementsInterface(t *testing.T) {
	var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
}

func TestPostgresSessionRepo_ImplementsInterface(t *testing.T) {
	var _ SessionRepository = (*PostgresSessionRepo)(nil)
}

func TestPostgresEventRepo_ImplementsInterface(t *testing.T) {
	var _ EventRepository = (*PostgresEventRepo)(nil)
}

// 各コンストラクタが正しく初期化されることを検証
func TestNewRepos_Initialize(t *testing.T) {
	if NewPostgresUserRepo(nil) == nil {
		t.Error("expected non-nil user repo")
	}
	if NewPostgresIdentityRepo(nil) == nil {
		t.Error("expected non-nil identity repo")
	}
	if NewPostgresSessionRepo(nil) == nil {
		t.Error("expected non-nil session repo")
	}
	if NewPostgresEventRepo(nil) == nil {
		t.Error("expected non-nil event repo")
	}
}

// unique_violation（23505）のみがErrDuplicateKey判定の対象になることを検証
func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "unique_violation",
			err:  &pq.Error{Code: "23505"},
			want: true,
		},
		{
			name: "ラップされたunique_violation",
			err:  fmt.Errorf("insert failed: %w", &pq.Error{Code: "23505"}),
			want: true,
		},
		{
			name: "foreign_key_violation",
			err:  &pq.Error{Code: "23503"},
			want: false,
		},
		{
			name: "pq以外のエラー",
			err:  errors.New("connection refused"),
			want: false,
		},
		{
			name: "nil",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.want {
				t.Errorf("isUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}
