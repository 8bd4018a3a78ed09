package server_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/watch-party/internal/limiter"
	"github.com/koopa0/watch-party/internal/protocol"
	"github.com/koopa0/watch-party/internal/room"
	"github.com/koopa0/watch-party/internal/server"
)

// testLogger 測試用的靜默日誌
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer 啟動完整路由的測試服務器
func newTestServer(t *testing.T, connLimit int) (*httptest.Server, *room.Directory) {
	t.Helper()

	logger := testLogger()
	limits := limiter.New(time.Minute, map[limiter.Purpose]int{
		limiter.PurposeConnection: connLimit,
		limiter.PurposeMessage:    1000,
	})
	t.Cleanup(limits.Stop)

	conns := room.NewConnectionService(logger)
	directory := room.NewDirectory(conns, limits, logger)
	handler := server.NewHandler(directory, limits, logger)

	ts := httptest.NewServer(handler.Routes())
	t.Cleanup(ts.Close)

	return ts, directory
}

// getJSON 發送請求並解碼 JSON 回應
func getJSON(t *testing.T, method, url string) (int, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

// TestCreateRoomEndpoint 測試房間建立 API
func TestCreateRoomEndpoint(t *testing.T) {
	ts, directory := newTestServer(t, 100)

	status, body := getJSON(t, http.MethodPost, ts.URL+"/api/rooms/create")
	require.Equal(t, http.StatusCreated, status)

	roomID, _ := body["roomId"].(string)
	assert.True(t, protocol.ValidateRoomID(roomID))

	hostToken, _ := body["hostToken"].(string)
	assert.True(t, strings.HasPrefix(hostToken, "host_"))

	assert.Contains(t, body["connectUrl"], "/ws/"+roomID)
	assert.Contains(t, body["shareUrl"], "/join/"+roomID)

	createdAt, err := time.Parse(time.RFC3339, body["createdAt"].(string))
	require.NoError(t, err)
	expiresAt, err := time.Parse(time.RFC3339, body["expiresAt"].(string))
	require.NoError(t, err)
	assert.Equal(t, 3*time.Hour, expiresAt.Sub(createdAt))

	management, ok := body["management"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/api/rooms/"+roomID+"/validate", management["validateUrl"])
	assert.Equal(t, float64(10), management["maxParticipants"])

	// 純生成：建立 API 不產生房間 actor
	_, found := directory.Lookup(roomID)
	assert.False(t, found)
}

// TestValidateRoomEndpoint 測試格式驗證 API
func TestValidateRoomEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, 100)

	tests := []struct {
		name      string
		roomID    string
		wantValid bool
	}{
		{name: "valid id", roomID: "A1B2-C3D4-E5F6", wantValid: true},
		{name: "lowercase id", roomID: "a1b2-c3d4-e5f6", wantValid: false},
		{name: "garbage", roomID: "nope", wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := getJSON(t, http.MethodGet, ts.URL+"/api/rooms/"+tt.roomID+"/validate")

			require.Equal(t, http.StatusOK, status)
			assert.Equal(t, tt.roomID, body["roomId"])
			assert.Equal(t, tt.wantValid, body["valid"])
			assert.NotEmpty(t, body["format"])
			assert.NotEmpty(t, body["example"])
		})
	}
}

// TestListRoomsEndpoint 測試房間列表 API
func TestListRoomsEndpoint(t *testing.T) {
	ts, directory := newTestServer(t, 100)

	status, body := getJSON(t, http.MethodGet, ts.URL+"/api/rooms")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), body["total"])

	// 解析出一個活躍房間後再查
	directory.Resolve("AAAA-BBBB-CCCC")

	status, body = getJSON(t, http.MethodGet, ts.URL+"/api/rooms")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["total"])

	rooms, ok := body["rooms"].([]any)
	require.True(t, ok)
	require.Len(t, rooms, 1)
	first := rooms[0].(map[string]any)
	assert.Equal(t, "AAAA-BBBB-CCCC", first["roomId"])
}

// TestHealthEndpoint 測試健康檢查
func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, 100)

	status, body := getJSON(t, http.MethodGet, ts.URL+"/health")

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "watch-party", body["service"])
}

// TestStatsEndpoint 測試統計端點
func TestStatsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, 100)

	status, body := getJSON(t, http.MethodGet, ts.URL+"/stats")

	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "rooms")
	assert.Contains(t, body, "rate_limiter")
}

// TestWSRequiresUpgrade 非升級請求得到 426
func TestWSRequiresUpgrade(t *testing.T) {
	ts, _ := newTestServer(t, 100)

	status, body := getJSON(t, http.MethodGet, ts.URL+"/ws/A1B2-C3D4-E5F6")

	require.Equal(t, http.StatusUpgradeRequired, status)
	assert.Equal(t, "Expected WebSocket", body["error"])
}

// TestWSConnectionRateLimited 連線限流在握手前生效
func TestWSConnectionRateLimited(t *testing.T) {
	ts, _ := newTestServer(t, 1)

	// 第一次嘗試用掉唯一的額度（升級檢查在限流之後）
	status, _ := getJSON(t, http.MethodGet, ts.URL+"/ws/A1B2-C3D4-E5F6")
	require.Equal(t, http.StatusUpgradeRequired, status)

	status, body := getJSON(t, http.MethodGet, ts.URL+"/ws/A1B2-C3D4-E5F6")
	require.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "error", body["type"])
	assert.Equal(t, "RATE_LIMITED", body["code"])
	assert.Equal(t, "Too many connection attempts", body["message"])
}
