package protocol

import (
	"encoding/json"
	"time"
)

// 系統設計問題：
//   如何定義一個瀏覽器端與伺服器端共用的訊息協定，
//   並保證所有使用者輸入在廣播前都經過驗證與消毒？
//
// 核心挑戰：
//   1. 封閉型別集：未知的訊息型別必須被明確拒絕，而非靜默忽略
//   2. 輸入邊界：訊息長度、欄位長度、原始訊框大小都有硬上限
//   3. XSS 防護：任何會被回放到其他客戶端畫面的字串都必須轉義
//   4. 時鐘容忍：客戶端時間戳記允許與伺服器時鐘有 ±1 小時偏差
//
// 設計方案：
//   ✅ 封閉的 type 常數集 + 封閉的錯誤碼集
//   ✅ 驗證與消毒分離：驗證回報原因，消毒靜默中和
//   ✅ 先檢查訊框大小，再解析 JSON（便宜的檢查先做）

// 訊息與欄位限制
//
// 容量規劃：
//   - 聊天訊息：1000 字元（足夠一般聊天，防止洗版）
//   - userId / username：50 字元
//   - 原始訊框：5000 位元組（JSON 解析前的長度檢查）
const (
	MaxMessageLength  = 1000
	MaxUserIDLength   = 50
	MaxUsernameLength = 50
	MaxFrameSize      = 5000

	// TimestampTolerance 客戶端時間戳記與伺服器時鐘的容許偏差
	TimestampTolerance = time.Hour
)

// 客戶端訊息型別
const (
	TypePing             = "ping"
	TypeJoinRoom         = "join_room"
	TypeLeaveRoom        = "leave_room"
	TypeSendMessage      = "send_message"
	TypeCountdownRequest = "countdown_request"
)

// 伺服器訊息型別
const (
	TypePong           = "pong"
	TypeRoomJoined     = "room_joined"
	TypeRoomLeft       = "room_left"
	TypeMessage        = "message"
	TypeUserJoined     = "user_joined"
	TypeUserLeft       = "user_left"
	TypeError          = "error"
	TypeCountdownStart = "countdown_start"
)

// ErrorCode 協定層錯誤碼（封閉集合）
type ErrorCode string

const (
	CodeRateLimited      ErrorCode = "RATE_LIMITED"
	CodeInvalidRoomID    ErrorCode = "INVALID_ROOM_ID"
	CodeInvalidMessage   ErrorCode = "INVALID_MESSAGE"
	CodeMessageTooLarge  ErrorCode = "MESSAGE_TOO_LARGE"
	CodeTimestampInvalid ErrorCode = "TIMESTAMP_INVALID"

	// CodeXSSDetected 保留給未來的主動拒絕策略。
	// 目前的策略是消毒中和（sanitize）而非拒絕，所以此碼尚未使用。
	CodeXSSDetected ErrorCode = "XSS_DETECTED"
)

// WebSocket 關閉碼
const (
	CloseNormal          = 1000 // 正常關閉
	CloseInvalidData     = 1003 // 協定違規（如無效的房間 ID）
	ClosePolicyViolation = 1008 // 策略違規（如連線被限流）
)

// ClientMessage 客戶端訊息
//
// Data 保留為 json.RawMessage：
//   外層先驗證 type 與 timestamp，內層欄位由各型別的
//   Process 函式再解析，避免一次定義巨大的聯集結構。
type ClientMessage struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ServerMessage 伺服器訊息
//
// 錯誤訊息採統一信封：type="error" 時 Code / Message / Context
// 位於頂層，與一般訊息的 Data 欄位並存（omitempty 互斥呈現）。
type ServerMessage struct {
	Type      string         `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Data      any            `json:"data,omitempty"`
	Code      ErrorCode      `json:"code,omitempty"`
	Message   string         `json:"message,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// Identity 一個 Session 所綁定的使用者身份
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// now 取得毫秒時間戳記（伺服器訊息一律使用毫秒 epoch）
func now() int64 {
	return time.Now().UnixMilli()
}

// NewErrorMessage 建立統一錯誤信封
func NewErrorMessage(code ErrorCode, message string, context map[string]any) ServerMessage {
	return ServerMessage{
		Type:      TypeError,
		Timestamp: now(),
		Code:      code,
		Message:   message,
		Context:   context,
	}
}

// NewPong 建立 pong 回應
func NewPong() ServerMessage {
	return ServerMessage{Type: TypePong, Timestamp: now()}
}

// NewRoomJoined 建立加入成功通知（只回給加入者本人）
func NewRoomJoined(roomID string, participantCount int, userID string) ServerMessage {
	return ServerMessage{
		Type:      TypeRoomJoined,
		Timestamp: now(),
		Data: map[string]any{
			"roomId":           roomID,
			"participantCount": participantCount,
			"yourUserId":       SanitizeHTML(userID),
		},
	}
}

// NewRoomLeft 建立退出確認（只回給退出者本人）
func NewRoomLeft(roomID string) ServerMessage {
	return ServerMessage{
		Type:      TypeRoomLeft,
		Timestamp: now(),
		Data:      map[string]any{"roomId": roomID},
	}
}

// NewUserJoined 建立使用者加入廣播
//
// 身份欄位在此（出口處）統一轉義；儲存的身份保持原始字串。
func NewUserJoined(user Identity) ServerMessage {
	return ServerMessage{
		Type:      TypeUserJoined,
		Timestamp: now(),
		Data: map[string]any{
			"userId":   SanitizeHTML(user.UserID),
			"username": SanitizeHTML(user.Username),
		},
	}
}

// NewUserLeft 建立使用者離開廣播
func NewUserLeft(user Identity) ServerMessage {
	return ServerMessage{
		Type:      TypeUserLeft,
		Timestamp: now(),
		Data: map[string]any{
			"userId":   SanitizeHTML(user.UserID),
			"username": SanitizeHTML(user.Username),
		},
	}
}

// NewChatMessage 建立聊天訊息廣播（含消毒）
//
// 三個欄位都會被回放到其他客戶端的畫面上，
// 所以一律經過 HTML 轉義，這裡是最後一道防線。
func NewChatMessage(message, userID, username string) ServerMessage {
	return ServerMessage{
		Type:      TypeMessage,
		Timestamp: now(),
		Data: map[string]any{
			"message":  SanitizeHTML(message),
			"userId":   SanitizeHTML(userID),
			"username": SanitizeHTML(username),
		},
	}
}

// NewCountdownStart 建立倒數開始廣播
//
// 客戶端以 startAt（未來的絕對時間點）為基準排程本地倒數，
// 而非以收到訊息的時刻為基準，藉此抵銷各客戶端的傳輸抖動。
func NewCountdownStart(startAt, serverSentAt, durationMs, playLabelMs int64, initiatorID string) ServerMessage {
	return ServerMessage{
		Type:      TypeCountdownStart,
		Timestamp: now(),
		Data: map[string]any{
			"startAt":      startAt,
			"serverSentAt": serverSentAt,
			"durationMs":   durationMs,
			"playLabelMs":  playLabelMs,
			"initiatorId":  SanitizeHTML(initiatorID),
		},
	}
}

// Encode 將伺服器訊息序列化為 JSON 訊框
func Encode(msg ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}
