package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/koopa0/watch-party/internal/limiter"
	"github.com/koopa0/watch-party/internal/protocol"
	"github.com/koopa0/watch-party/internal/room"
)

// Handler HTTP 請求處理器
//
// 房間生命週期 API 與 WebSocket 入口的外層門面。
// 生命週期 API 只產生識別資訊、不建立 actor：
// 房間狀態的真正生滅跟著 WebSocket 連線走。
type Handler struct {
	directory *room.Directory
	limits    *limiter.FixedWindow
	logger    *slog.Logger
}

// NewHandler 建立 HTTP 處理器
func NewHandler(directory *room.Directory, limits *limiter.FixedWindow, logger *slog.Logger) *Handler {
	return &Handler{
		directory: directory,
		limits:    limits,
		logger:    logger,
	}
}

// Routes 設定路由
//
// WebSocket 路由不經過中間件鏈：包裝過的 ResponseWriter
// 不支援 Hijack，會讓協議升級失敗。
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// 房間生命週期 API
	mux.HandleFunc("POST /api/rooms/create", wrap(h.createRoom))
	mux.HandleFunc("GET /api/rooms/{room_id}/validate", wrap(h.validateRoom))
	mux.HandleFunc("GET /api/rooms", wrap(h.listRooms))

	// WebSocket 入口
	mux.HandleFunc("GET /ws/{room_id}", h.ServeWS)

	// 健康檢查與統計
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

// createRoom 建立房間
//
// 回應只發出一次 hostToken：遺失即無法重取，
// 呼叫端應自行保存。
func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	info := h.directory.CreateRoom(r.Host)

	h.logger.Info("房間已建立",
		"room_id", info.RoomID,
		"expires_at", info.ExpiresAt)

	h.jsonResponse(w, map[string]any{
		"roomId":     info.RoomID,
		"createdAt":  info.CreatedAt.UTC().Format(time.RFC3339),
		"expiresAt":  info.ExpiresAt.UTC().Format(time.RFC3339),
		"hostToken":  info.HostToken,
		"connectUrl": info.ConnectURL,
		"shareUrl":   info.ShareURL,
		"management": map[string]any{
			"validateUrl":     "/api/rooms/" + info.RoomID + "/validate",
			"maxParticipants": room.DefaultMaxParticipants,
			"autoExpire":      room.Expiry.String(),
		},
	}, http.StatusCreated)
}

// validateRoom 驗證房間 ID 格式
//
// 純格式檢查，不觸及目錄：分享連結在房間 actor
// 建立之前就要能被前端預先驗證。
func (h *Handler) validateRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")
	valid := protocol.ValidateRoomID(roomID)

	message := "Room ID format is valid"
	if !valid {
		message = "Invalid room ID format"
	}

	h.jsonResponse(w, map[string]any{
		"roomId":  roomID,
		"valid":   valid,
		"message": message,
		"format":  protocol.RoomIDFormat,
		"example": protocol.RoomIDExample,
	}, http.StatusOK)
}

// listRooms 列出活躍房間
func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms := h.directory.List()

	h.jsonResponse(w, map[string]any{
		"rooms": rooms,
		"total": len(rooms),
	}, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status":  "healthy",
		"service": "watch-party",
		"time":    time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"rooms":        h.directory.Stats(),
		"rate_limiter": h.limits.Stats(),
		"time":         time.Now().Unix(),
	}, http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
