package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eventman/internal/event"
	"github.com/hitoshi/eventman/internal/middleware"
	"github.com/hitoshi/eventman/internal/model"
)

// --- モック定義 ---

type mockEventService struct {
	createFn func(ctx context.Context, owner *model.User, input event.Input) (*model.Event, error)
	getFn    func(ctx context.Context, userID, eventID string) (*model.Event, error)
	listFn   func(ctx context.Context, userID string) ([]*model.Event, error)
	updateFn func(ctx context.Context, user *model.User, eventID string, input event.Input) (*model.Event, error)
	deleteFn func(ctx context.Context, userID, eventID string) error
}

func (m *mockEventService) CreateEvent(ctx context.Context, owner *model.User, input event.Input) (*model.Event, error) {
	if m.createFn != nil {
		return m.createFn(ctx, owner, input)
	}
	return nil, nil
}

func (m *mockEventService) GetEvent(ctx context.Context, userID, eventID string) (*model.Event, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, eventID)
	}
	return nil, nil
}

func (m *mockEventService) ListEvents(ctx context.Context, userID string) ([]*model.Event, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockEventService) UpdateEvent(ctx context.Context, user *model.User, eventID string, input event.Input) (*model.Event, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, user, eventID, input)
	}
	return nil, nil
}

func (m *mockEventService) DeleteEvent(ctx context.Context, userID, eventID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, eventID)
	}
	return nil
}

// compile-time interface check
var _ EventServiceInterface = (*mockEventService)(nil)

// authedRequest はコンテキストに認証済みユーザーを注入したリクエストを作る。
// chiのURLパラメータが必要な場合はroutePatternとURLを合わせる。
func authedRequest(method, target string, body string, user *model.User) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	return req.WithContext(middleware.ContextWithUser(req.Context(), user))
}

// withURLParam はchiのURLパラメータをリクエストコンテキストに設定する。
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func eventFixture(id, ownerID string) *model.Event {
	return &model.Event{
		ID:          id,
		OwnerID:     ownerID,
		Name:        "打ち合わせ",
		Location:    "会議室A",
		Date:        time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC),
		Description: "<p>議題の確認</p>",
	}
}

// --- テスト ---

func TestEventHandler_CreateEvent_Success(t *testing.T) {
	user := &model.User{ID: "user-1", Name: "Ann"}
	svc := &mockEventService{
		createFn: func(ctx context.Context, owner *model.User, input event.Input) (*model.Event, error) {
			if owner.ID != "user-1" {
				t.Errorf("owner ID = %q, want user-1", owner.ID)
			}
			if input.Name != "打ち合わせ" {
				t.Errorf("input name = %q", input.Name)
			}
			ev := eventFixture("event-1", owner.ID)
			ev.Name = input.Name
			return ev, nil
		},
	}
	h := NewEventHandler(svc)

	body := `{"name":"打ち合わせ","location":"会議室A","date":"2026-10-01T10:00:00Z","description":"<p>議題の確認</p>"}`
	req := authedRequest(http.MethodPost, "/api/events", body, user)
	w := httptest.NewRecorder()

	h.CreateEvent(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	var got eventResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.ID != "event-1" || got.OwnerID != "user-1" {
		t.Errorf("unexpected response: %+v", got)
	}
}

func TestEventHandler_CreateEvent_ValidationError_Returns400(t *testing.T) {
	user := &model.User{ID: "user-1"}
	svc := &mockEventService{
		createFn: func(ctx context.Context, owner *model.User, input event.Input) (*model.Event, error) {
			return nil, model.NewValidationFailedError("イベント名は必須です")
		},
	}
	h := NewEventHandler(svc)

	req := authedRequest(http.MethodPost, "/api/events", `{"name":""}`, user)
	w := httptest.NewRecorder()

	h.CreateEvent(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestEventHandler_CreateEvent_InvalidJSON_Returns400(t *testing.T) {
	user := &model.User{ID: "user-1"}
	h := NewEventHandler(&mockEventService{})

	req := authedRequest(http.MethodPost, "/api/events", "{invalid", user)
	w := httptest.NewRecorder()

	h.CreateEvent(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestEventHandler_CreateEvent_NoUser_Returns401(t *testing.T) {
	h := NewEventHandler(&mockEventService{
		createFn: func(ctx context.Context, owner *model.User, input event.Input) (*model.Event, error) {
			t.Fatal("service should not be called without a user")
			return nil, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(`{"name":"x"}`))
	w := httptest.NewRecorder()

	h.CreateEvent(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestEventHandler_GetEvent_Success(t *testing.T) {
	user := &model.User{ID: "user-1"}
	svc := &mockEventService{
		getFn: func(ctx context.Context, userID, eventID string) (*model.Event, error) {
			if userID != "user-1" || eventID != "event-1" {
				t.Errorf("unexpected args: %s %s", userID, eventID)
			}
			return eventFixture("event-1", "user-1"), nil
		},
	}
	h := NewEventHandler(svc)

	req := withURLParam(authedRequest(http.MethodGet, "/api/events/event-1", "", user), "id", "event-1")
	w := httptest.NewRecorder()

	h.GetEvent(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var got eventResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.ID != "event-1" {
		t.Errorf("id = %q, want event-1", got.ID)
	}
}

func TestEventHandler_GetEvent_NotFound_Returns404(t *testing.T) {
	user := &model.User{ID: "user-1"}
	svc := &mockEventService{
		getFn: func(ctx context.Context, userID, eventID string) (*model.Event, error) {
			// 他人のイベントも存在しないイベントも同じエラー
			return nil, model.NewEventNotFoundError(eventID)
		},
	}
	h := NewEventHandler(svc)

	req := withURLParam(authedRequest(http.MethodGet, "/api/events/event-x", "", user), "id", "event-x")
	w := httptest.NewRecorder()

	h.GetEvent(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}

	var errResp apiErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if errResp.Code != model.ErrCodeEventNotFound {
		t.Errorf("code = %q, want %q", errResp.Code, model.ErrCodeEventNotFound)
	}
}

func TestEventHandler_ListEvents_ReturnsOwnedEvents(t *testing.T) {
	user := &model.User{ID: "user-1"}
	svc := &mockEventService{
		listFn: func(ctx context.Context, userID string) ([]*model.Event, error) {
			return []*model.Event{
				eventFixture("event-1", userID),
				eventFixture("event-2", userID),
			}, nil
		},
	}
	h := NewEventHandler(svc)

	req := authedRequest(http.MethodGet, "/api/events", "", user)
	w := httptest.NewRecorder()

	h.ListEvents(w, req)

	var got eventListResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got.Events) != 2 {
		t.Errorf("events count = %d, want 2", len(got.Events))
	}
}

func TestEventHandler_ListEvents_Empty_ReturnsEmptyArray(t *testing.T) {
	user := &model.User{ID: "user-1"}
	svc := &mockEventService{
		listFn: func(ctx context.Context, userID string) ([]*model.Event, error) {
			return nil, nil
		},
	}
	h := NewEventHandler(svc)

	req := authedRequest(http.MethodGet, "/api/events", "", user)
	w := httptest.NewRecorder()

	h.ListEvents(w, req)

	// nullではなく空配列を返す
	if !strings.Contains(w.Body.String(), `"events":[]`) {
		t.Errorf("body = %q, want empty events array", w.Body.String())
	}
}

func TestEventHandler_UpdateEvent_Success(t *testing.T) {
	user := &model.User{ID: "user-1"}
	svc := &mockEventService{
		updateFn: func(ctx context.Context, u *model.User, eventID string, input event.Input) (*model.Event, error) {
			ev := eventFixture(eventID, u.ID)
			ev.Name = input.Name
			return ev, nil
		},
	}
	h := NewEventHandler(svc)

	body := `{"name":"名称変更","location":"会議室B","date":"2026-10-02T10:00:00Z"}`
	req := withURLParam(authedRequest(http.MethodPut, "/api/events/event-1", body, user), "id", "event-1")
	w := httptest.NewRecorder()

	h.UpdateEvent(w, req)

	var got eventResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.Name != "名称変更" {
		t.Errorf("name = %q, want 名称変更", got.Name)
	}
}

func TestEventHandler_UpdateEvent_NotOwned_Returns404(t *testing.T) {
	user := &model.User{ID: "user-2"}
	svc := &mockEventService{
		updateFn: func(ctx context.Context, u *model.User, eventID string, input event.Input) (*model.Event, error) {
			return nil, model.NewEventNotFoundError(eventID)
		},
	}
	h := NewEventHandler(svc)

	body := `{"name":"乗っ取り","date":"2026-10-02T10:00:00Z"}`
	req := withURLParam(authedRequest(http.MethodPut, "/api/events/event-1", body, user), "id", "event-1")
	w := httptest.NewRecorder()

	h.UpdateEvent(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestEventHandler_DeleteEvent_Success_Returns204(t *testing.T) {
	user := &model.User{ID: "user-1"}
	var deletedID string
	svc := &mockEventService{
		deleteFn: func(ctx context.Context, userID, eventID string) error {
			deletedID = eventID
			return nil
		},
	}
	h := NewEventHandler(svc)

	req := withURLParam(authedRequest(http.MethodDelete, "/api/events/event-1", "", user), "id", "event-1")
	w := httptest.NewRecorder()

	h.DeleteEvent(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if deletedID != "event-1" {
		t.Errorf("deleted ID = %q, want event-1", deletedID)
	}
}

func TestEventHandler_DeleteEvent_NotFound_Returns404(t *testing.T) {
	user := &model.User{ID: "user-1"}
	svc := &mockEventService{
		deleteFn: func(ctx context.Context, userID, eventID string) error {
			return model.NewEventNotFoundError(eventID)
		},
	}
	h := NewEventHandler(svc)

	req := withURLParam(authedRequest(http.MethodDelete, "/api/events/event-x", "", user), "id", "event-x")
	w := httptest.NewRecorder()

	h.DeleteEvent(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestEventHandler_ServiceError_Returns500(t *testing.T) {
	user := &model.User{ID: "user-1"}
	svc := &mockEventService{
		listFn: func(ctx context.Context, userID string) ([]*model.Event, error) {
			return nil, errors.New("db down")
		},
	}
	h := NewEventHandler(svc)

	req := authedRequest(http.MethodGet, "/api/events", "", user)
	w := httptest.NewRecorder()

	h.ListEvents(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}

	var errResp apiErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if errResp.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", errResp.Code)
	}
	// 内部エラーの詳細はレスポンスに含めない
	if strings.Contains(errResp.Message, "db down") {
		t.Error("internal error detail should not leak to clients")
	}
}
