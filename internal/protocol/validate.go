package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ValidationResult 驗證結果
//
// Valid 為 false 時，Code 與 Reason 描述失敗原因，
// 呼叫端可以直接用它們組出統一錯誤信封。
type ValidationResult struct {
	Valid  bool
	Code   ErrorCode
	Reason string
}

func invalid(code ErrorCode, reason string) ValidationResult {
	return ValidationResult{Valid: false, Code: code, Reason: reason}
}

// knownClientTypes 客戶端訊息型別的封閉集合
var knownClientTypes = map[string]bool{
	TypePing:             true,
	TypeJoinRoom:         true,
	TypeLeaveRoom:        true,
	TypeSendMessage:      true,
	TypeCountdownRequest: true,
}

// ValidateClientMessage 驗證客戶端訊息的外層結構
//
// 檢查順序（由便宜到昂貴）：
//   1. type 必須屬於已知集合
//   2. timestamp 必須存在且在伺服器時鐘 ±1 小時內
//
// 內層 data 欄位由各型別的 Process 函式負責，
// 這裡只保證「這是一則格式上說得通的訊息」。
func ValidateClientMessage(msg *ClientMessage, serverNow time.Time) ValidationResult {
	if msg.Type == "" {
		return invalid(CodeInvalidMessage, "message type is required")
	}
	if !knownClientTypes[msg.Type] {
		return invalid(CodeInvalidMessage, fmt.Sprintf("Unknown message type: %s", msg.Type))
	}

	if msg.Timestamp == 0 {
		return invalid(CodeTimestampInvalid, "timestamp is required")
	}
	drift := serverNow.Sub(time.UnixMilli(msg.Timestamp))
	if drift > TimestampTolerance || drift < -TimestampTolerance {
		return invalid(CodeTimestampInvalid, "timestamp outside acceptable range")
	}

	return ValidationResult{Valid: true}
}

// JoinRoomData join_room 的資料欄位
type JoinRoomData struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// ProcessJoinRoom 驗證 join_room 的資料
//
// userId 為必填且 ≤50 字元；username 選填且 ≤50 字元。
// username 缺省時以 userId 前綴產生預設名稱，
// 確保廣播出去的身份永遠有可顯示的名字。
//
// 回傳的身份保留原始字串：HTML 轉義統一發生在
// 訊息建構函式（出口），存一次、轉義一次，不會重複轉義。
func ProcessJoinRoom(raw json.RawMessage) (Identity, error) {
	var data JoinRoomData
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return Identity{}, fmt.Errorf("invalid join_room data")
		}
	}

	if data.UserID == "" {
		return Identity{}, fmt.Errorf("userId is required for join_room")
	}
	if len(data.UserID) > MaxUserIDLength {
		return Identity{}, fmt.Errorf("userId too long")
	}
	if len(data.Username) > MaxUsernameLength {
		return Identity{}, fmt.Errorf("username too long")
	}

	username := data.Username
	if username == "" {
		username = "User-" + truncate(data.UserID, 6)
	}
	return Identity{UserID: data.UserID, Username: username}, nil
}

// SendMessageData send_message 的資料欄位
//
// userId / username 允許缺省：實際的身份解析
// （payload → 已儲存身份 → 匿名備援）由房間 actor 決定。
type SendMessageData struct {
	Message  string `json:"message"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
}

// ProcessSendMessage 驗證 send_message 的資料
//
// 回傳的欄位尚未消毒：消毒統一發生在 NewChatMessage，
// 避免身份備援邏輯介入後出現「漏消毒」的路徑。
func ProcessSendMessage(raw json.RawMessage) (SendMessageData, error) {
	var data SendMessageData
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return SendMessageData{}, fmt.Errorf("invalid send_message data")
		}
	}

	if strings.TrimSpace(data.Message) == "" {
		return SendMessageData{}, fmt.Errorf("message content is required")
	}
	if len(data.Message) > MaxMessageLength {
		return SendMessageData{}, fmt.Errorf("message too long")
	}
	if len(data.UserID) > MaxUserIDLength {
		return SendMessageData{}, fmt.Errorf("userId too long")
	}
	if len(data.Username) > MaxUsernameLength {
		return SendMessageData{}, fmt.Errorf("username too long")
	}

	return data, nil
}

// CountdownRequestData countdown_request 的資料欄位
type CountdownRequestData struct {
	DurationMs  int64 `json:"durationMs,omitempty"`
	PlayLabelMs int64 `json:"playLabelMs,omitempty"`
}

// 倒數參數邊界
const (
	MinCountdownDurationMs     = 1000
	MaxCountdownDurationMs     = 30000
	DefaultCountdownDurationMs = 5000

	MinPlayLabelMs     = 500
	MaxPlayLabelMs     = 5000
	DefaultPlayLabelMs = 3000
)

// ProcessCountdownRequest 解析並夾制倒數參數
//
// 超出範圍的值一律夾回邊界而非拒絕：倒數是協調多人的操作，
// 拒絕單一參與者的請求只會讓整個房間等待。
func ProcessCountdownRequest(raw json.RawMessage) CountdownRequestData {
	var data CountdownRequestData
	if len(raw) > 0 {
		// 解析失敗視同未提供參數，落回預設值
		_ = json.Unmarshal(raw, &data)
	}

	if data.DurationMs == 0 {
		data.DurationMs = DefaultCountdownDurationMs
	}
	data.DurationMs = clamp(data.DurationMs, MinCountdownDurationMs, MaxCountdownDurationMs)

	if data.PlayLabelMs == 0 {
		data.PlayLabelMs = DefaultPlayLabelMs
	}
	data.PlayLabelMs = clamp(data.PlayLabelMs, MinPlayLabelMs, MaxPlayLabelMs)

	return data
}

func clamp(v, min, max int64) int64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
