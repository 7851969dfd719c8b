package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/eventman/internal/middleware"
	"github.com/hitoshi/eventman/internal/model"
	"github.com/hitoshi/eventman/internal/security"
)

// avatarFetchTimeout はアバター画像取得のタイムアウト。
const avatarFetchTimeout = 10 * time.Second

// avatarMaxBytes はプロキシするアバター画像の最大サイズ（1MB）。
const avatarMaxBytes = 1 << 20

// AvatarHandler は外部IdPのアバター画像をプロキシ配信するHTTPハンドラー。
// 画像の取得にはSSRF防止機能付きのHTTPクライアントを使用する。
type AvatarHandler struct {
	guard security.SSRFGuardService
}

// NewAvatarHandler はAvatarHandlerを生成する。
func NewAvatarHandler(guard security.SSRFGuardService) *AvatarHandler {
	return &AvatarHandler{guard: guard}
}

// GetAvatar は認証済みユーザーのアバター画像を取得して返す。
// アバターURLが未設定の場合は404を返す。
// GET /api/users/me/avatar
func (h *AvatarHandler) GetAvatar(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if user.AvatarURL == "" {
		http.Error(w, "avatar not set", http.StatusNotFound)
		return
	}

	// 保存時にも検証済みだが、取得直前にも再検証する
	if err := h.guard.ValidateURL(user.AvatarURL); err != nil {
		slog.Warn("avatar URL rejected",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "avatar not available", http.StatusNotFound)
		return
	}

	client := h.guard.NewSafeClient(avatarFetchTimeout)

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, user.AvatarURL, nil)
	if err != nil {
		slog.Error("failed to build avatar request", slog.String("error", err.Error()))
		http.Error(w, "avatar not available", http.StatusBadGateway)
		return
	}

	resp, err := client.Do(req)
	if err != nil {
		slog.Warn("failed to fetch avatar",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "avatar not available", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		http.Error(w, "avatar not available", http.StatusBadGateway)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		http.Error(w, "avatar not available", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")

	if _, err := io.Copy(w, io.LimitReader(resp.Body, avatarMaxBytes)); err != nil {
		slog.Warn("failed to stream avatar", slog.String("error", err.Error()))
	}
}
