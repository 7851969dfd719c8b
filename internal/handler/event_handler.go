package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/eventman/internal/event"
	"github.com/hitoshi/eventman/internal/middleware"
	"github.com/hitoshi/eventman/internal/model"
)

// EventServiceInterface はイベントハンドラーが必要とするサービスインターフェース。
type EventServiceInterface interface {
	CreateEvent(ctx context.Context, owner *model.User, input event.Input) (*model.Event, error)
	GetEvent(ctx context.Context, userID, eventID string) (*model.Event, error)
	ListEvents(ctx context.Context, userID string) ([]*model.Event, error)
	UpdateEvent(ctx context.Context, user *model.User, eventID string, input event.Input) (*model.Event, error)
	DeleteEvent(ctx context.Context, userID, eventID string) error
}

// EventHandler はイベント管理のHTTPハンドラー。
// 全エンドポイントはセッションミドルウェアの内側に配置される前提で、
// リクエストコンテキストから認証済みユーザーを取得する。
type EventHandler struct {
	service EventServiceInterface
}

// NewEventHandler はEventHandlerを生成する。
func NewEventHandler(service EventServiceInterface) *EventHandler {
	return &EventHandler{service: service}
}

// eventRequest はイベント作成・更新リクエストのボディ。
// owner_idは受け付けない。所有者は常に認証済みユーザー。
type eventRequest struct {
	Name        string    `json:"name"`
	Location    string    `json:"location"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
}

// eventResponse はイベント情報のAPIレスポンス。
type eventResponse struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Location    string    `json:"location"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// eventListResponse はイベント一覧のAPIレスポンス。
type eventListResponse struct {
	Events []eventResponse `json:"events"`
}

// CreateEvent はイベント作成を処理する。
// POST /api/events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	input, ok := decodeEventInput(w, r)
	if !ok {
		return
	}

	created, err := h.service.CreateEvent(r.Context(), user, input)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toEventResponse(created))
}

// GetEvent はイベント詳細を取得する。
// GET /api/events/:id
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	eventID := chi.URLParam(r, "id")

	found, err := h.service.GetEvent(r.Context(), user.ID, eventID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toEventResponse(found))
}

// ListEvents は認証済みユーザーが所有するイベント一覧を返す。
// GET /api/events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	events, err := h.service.ListEvents(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := eventListResponse{Events: make([]eventResponse, len(events))}
	for i, ev := range events {
		resp.Events[i] = toEventResponse(ev)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// UpdateEvent はイベント更新を処理する。
// PUT /api/events/:id
func (h *EventHandler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	eventID := chi.URLParam(r, "id")

	input, ok := decodeEventInput(w, r)
	if !ok {
		return
	}

	updated, err := h.service.UpdateEvent(r.Context(), user, eventID, input)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toEventResponse(updated))
}

// DeleteEvent はイベント削除を処理する。
// DELETE /api/events/:id
func (h *EventHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	eventID := chi.URLParam(r, "id")

	if err := h.service.DeleteEvent(r.Context(), user.ID, eventID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- ヘルパー関数 ---

// decodeEventInput はリクエストボディをevent.Inputにデコードする。
// デコード失敗時はエラーレスポンスを書き込みfalseを返す。
func decodeEventInput(w http.ResponseWriter, r *http.Request) (event.Input, bool) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return event.Input{}, false
	}
	return event.Input{
		Name:        req.Name,
		Location:    req.Location,
		Date:        req.Date,
		Description: req.Description,
	}, true
}

// toEventResponse はmodel.EventからAPIレスポンスに変換する。
func toEventResponse(ev *model.Event) eventResponse {
	return eventResponse{
		ID:          ev.ID,
		OwnerID:     ev.OwnerID,
		Name:        ev.Name,
		Location:    ev.Location,
		Date:        ev.Date,
		Description: ev.Description,
		CreatedAt:   ev.CreatedAt,
		UpdatedAt:   ev.UpdatedAt,
	}
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// invalidRequestError はリクエストボディ解析失敗時のエラーを生成する。
func invalidRequestError() *model.APIError {
	return &model.APIError{
		Code:     model.ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidCredentials, model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeDuplicateRegistration:
		return http.StatusConflict
	case model.ErrCodeEventNotFound:
		return http.StatusNotFound
	case model.ErrCodeValidationFailed, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
