// Package event はイベント管理のドメインロジックを提供する。
package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/eventman/internal/model"
	"github.com/hitoshi/eventman/internal/repository"
	"github.com/hitoshi/eventman/internal/security"
)

// Input はイベントの作成・更新の入力。
type Input struct {
	Name        string
	Location    string
	Date        time.Time
	Description string
}

// Notifier はイベントの作成・更新を所有者に通知する。
// 通知は補助機能であり、失敗してもイベント操作自体は成功する。
type Notifier interface {
	NotifyEventCreated(user *model.User, event *model.Event)
	NotifyEventUpdated(user *model.User, event *model.Event)
}

// MetricsRecorder はイベント操作のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordEventCreated()
	RecordOwnershipDenial(operation string)
}

// Service はイベント管理のサービス層。
// 全ての読み取り・更新・削除は所有者本人にのみ許可され、
// 所有権違反は外部向けには存在しないイベントと区別されない。
type Service struct {
	eventRepo repository.EventRepository
	sanitizer security.ContentSanitizerService
	notifier  Notifier
	metrics   MetricsRecorder
}

// NewService はServiceの新しいインスタンスを生成する。
// notifierとmetricsはnil可。
func NewService(
	eventRepo repository.EventRepository,
	sanitizer security.ContentSanitizerService,
	notifier Notifier,
	metrics MetricsRecorder,
) *Service {
	return &Service{
		eventRepo: eventRepo,
		sanitizer: sanitizer,
		notifier:  notifier,
		metrics:   metrics,
	}
}

// CreateEvent はイベントを作成する。
// 所有者は認証済みユーザーに固定され、リクエスト側から指定できない。
func (s *Service) CreateEvent(ctx context.Context, owner *model.User, input Input) (*model.Event, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	now := time.Now()
	event := &model.Event{
		ID:          uuid.New().String(),
		OwnerID:     owner.ID,
		Name:        input.Name,
		Location:    input.Location,
		Date:        input.Date,
		Description: s.sanitizeDescription(input.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.eventRepo.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("イベントの作成に失敗しました: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordEventCreated()
	}
	if s.notifier != nil {
		s.notifier.NotifyEventCreated(owner, event)
	}

	slog.Info("event created",
		slog.String("event_id", event.ID),
		slog.String("owner_id", owner.ID),
	)

	return event, nil
}

// GetEvent は指定IDのイベントを取得する。
func (s *Service) GetEvent(ctx context.Context, userID, eventID string) (*model.Event, error) {
	return s.authorizedEvent(ctx, userID, eventID, "get")
}

// ListEvents はユーザーが所有するイベント一覧を日付降順で返す。
// 他ユーザーのイベントは決して含まれない。
func (s *Service) ListEvents(ctx context.Context, userID string) ([]*model.Event, error) {
	events, err := s.eventRepo.ListByOwnerID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("イベント一覧の取得に失敗しました: %w", err)
	}
	return events, nil
}

// UpdateEvent はイベントを更新する。所有者のみ更新でき、所有者は変更できない。
func (s *Service) UpdateEvent(ctx context.Context, user *model.User, eventID string, input Input) (*model.Event, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	event, err := s.authorizedEvent(ctx, user.ID, eventID, "update")
	if err != nil {
		return nil, err
	}

	event.Name = input.Name
	event.Location = input.Location
	event.Date = input.Date
	event.Description = s.sanitizeDescription(input.Description)
	event.UpdatedAt = time.Now()

	if err := s.eventRepo.Update(ctx, event); err != nil {
		return nil, fmt.Errorf("イベントの更新に失敗しました: %w", err)
	}

	if s.notifier != nil {
		s.notifier.NotifyEventUpdated(user, event)
	}

	slog.Info("event updated",
		slog.String("event_id", event.ID),
		slog.String("owner_id", user.ID),
	)

	return event, nil
}

// DeleteEvent はイベントを削除する。所有者のみ削除できる。
func (s *Service) DeleteEvent(ctx context.Context, userID, eventID string) error {
	if _, err := s.authorizedEvent(ctx, userID, eventID, "delete"); err != nil {
		return err
	}

	if err := s.eventRepo.DeleteByID(ctx, eventID); err != nil {
		return fmt.Errorf("イベントの削除に失敗しました: %w", err)
	}

	slog.Info("event deleted",
		slog.String("event_id", eventID),
		slog.String("owner_id", userID),
	)

	return nil
}

// authorizedEvent はイベントを取得し、所有権を検証する。
// 不存在と所有権違反はいずれも外部向けにはEVENT_NOT_FOUNDになる。
// 所有権違反のみ内部ログとメトリクスに記録する。
func (s *Service) authorizedEvent(ctx context.Context, userID, eventID, operation string) (*model.Event, error) {
	event, err := s.eventRepo.FindByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗しました: %w", err)
	}

	switch Authorize(event, userID) {
	case DecisionAllow:
		return event, nil
	case DecisionDenied:
		if s.metrics != nil {
			s.metrics.RecordOwnershipDenial(operation)
		}
		slog.Warn("event access denied",
			slog.String("event_id", eventID),
			slog.String("user_id", userID),
			slog.String("operation", operation),
		)
		return nil, model.NewEventNotFoundError(eventID)
	default:
		return nil, model.NewEventNotFoundError(eventID)
	}
}

// sanitizeDescription は説明文のHTMLをサニタイズする。
func (s *Service) sanitizeDescription(raw string) string {
	if s.sanitizer == nil {
		return raw
	}
	return s.sanitizer.Sanitize(raw)
}

// validateInput はイベント入力を検証する。
func validateInput(input Input) error {
	if input.Name == "" {
		return model.NewValidationFailedError("イベント名は必須です")
	}
	if input.Date.IsZero() {
		return model.NewValidationFailedError("開催日は必須です")
	}
	return nil
}
