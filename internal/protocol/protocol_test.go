package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/watch-party/internal/protocol"
)

// decode 將伺服器訊息編碼後解回通用結構，驗證線上格式
func decode(t *testing.T, msg protocol.ServerMessage) map[string]any {
	t.Helper()

	raw, err := protocol.Encode(msg)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

// TestErrorEnvelope 錯誤信封的欄位位於頂層
func TestErrorEnvelope(t *testing.T) {
	out := decode(t, protocol.NewErrorMessage(
		protocol.CodeRateLimited, "Too many messages, please slow down",
		map[string]any{"remainingAttempts": 0}))

	assert.Equal(t, "error", out["type"])
	assert.Equal(t, "RATE_LIMITED", out["code"])
	assert.Equal(t, "Too many messages, please slow down", out["message"])
	assert.NotZero(t, out["timestamp"])

	context, ok := out["context"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(0), context["remainingAttempts"])

	// 錯誤信封不帶 data 欄位
	_, hasData := out["data"]
	assert.False(t, hasData)
}

// TestErrorEnvelopeOmitsEmptyContext context 為 nil 時整個欄位省略
func TestErrorEnvelopeOmitsEmptyContext(t *testing.T) {
	out := decode(t, protocol.NewErrorMessage(protocol.CodeInvalidMessage, "Invalid JSON format", nil))

	_, hasContext := out["context"]
	assert.False(t, hasContext)
}

// TestChatMessageSanitizedAtOutput 聊天訊息的三個欄位都在出口轉義
func TestChatMessageSanitizedAtOutput(t *testing.T) {
	out := decode(t, protocol.NewChatMessage(
		"<script>alert(1)</script>", `<img src=x>`, "a&b"))

	data := out["data"].(map[string]any)
	assert.Equal(t, "&lt;script&gt;alert(1)&lt;&#x2F;script&gt;", data["message"])
	assert.Equal(t, "&lt;img src=x&gt;", data["userId"])
	assert.Equal(t, "a&amp;b", data["username"])
}

// TestUserJoinedSanitized 身份廣播在出口轉義
func TestUserJoinedSanitized(t *testing.T) {
	out := decode(t, protocol.NewUserJoined(protocol.Identity{
		UserID:   "<u>",
		Username: `"Bob"`,
	}))

	data := out["data"].(map[string]any)
	assert.Equal(t, "user_joined", out["type"])
	assert.Equal(t, "&lt;u&gt;", data["userId"])
	assert.Equal(t, "&quot;Bob&quot;", data["username"])
}

// TestRoomJoinedShape room_joined 帶回房間與自己的身份
func TestRoomJoinedShape(t *testing.T) {
	out := decode(t, protocol.NewRoomJoined("A1B2-C3D4-E5F6", 3, "user-1"))

	data := out["data"].(map[string]any)
	assert.Equal(t, "room_joined", out["type"])
	assert.Equal(t, "A1B2-C3D4-E5F6", data["roomId"])
	assert.Equal(t, float64(3), data["participantCount"])
	assert.Equal(t, "user-1", data["yourUserId"])
}

// TestCountdownStartShape countdown_start 的排程欄位
func TestCountdownStartShape(t *testing.T) {
	out := decode(t, protocol.NewCountdownStart(1700000002000, 1700000000000, 5000, 3000, "host-1"))

	data := out["data"].(map[string]any)
	assert.Equal(t, "countdown_start", out["type"])
	assert.Equal(t, float64(1700000002000), data["startAt"])
	assert.Equal(t, float64(1700000000000), data["serverSentAt"])
	assert.Equal(t, float64(5000), data["durationMs"])
	assert.Equal(t, float64(3000), data["playLabelMs"])
	assert.Equal(t, "host-1", data["initiatorId"])
}

// TestPongShape pong 只有型別與時間戳記
func TestPongShape(t *testing.T) {
	out := decode(t, protocol.NewPong())

	assert.Equal(t, "pong", out["type"])
	assert.NotZero(t, out["timestamp"])
	_, hasData := out["data"]
	assert.False(t, hasData)
}
