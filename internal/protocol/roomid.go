package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// 房間 ID 與主持人權杖
//
// 設計考量：
//   1. 房間 ID 要能口頭轉述、貼進聊天室：三組四字元、大寫英數
//   2. 唯一性靠機率而非協調：36^12 的空間對此規模綽綽有餘，
//      不做存在性檢查（無共享儲存可查）
//   3. 主持人權杖是不透明的能力字串，至少 128 位元熵，
//      只在建立房間時回傳一次

// roomIDCharset 房間 ID 字元集（A-Z、0-9，共 36 個符號）
const roomIDCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RoomIDFormat 房間 ID 格式說明（給驗證 API 的回應用）
const (
	RoomIDFormat  = "XXXX-XXXX-XXXX (A-Z, 0-9)"
	RoomIDExample = "A1B2-C3D4-E5F6"
)

var roomIDPattern = regexp.MustCompile(`^[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// GenerateRoomID 產生新的房間 ID
//
// 使用 crypto/rand 做均勻抽樣；讀取失敗時退回時間戳記衍生值
// （啟動早期 entropy pool 未就緒的極端情況）。
func GenerateRoomID() string {
	segments := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		segments = append(segments, randomString(4, roomIDCharset))
	}
	return strings.Join(segments, "-")
}

// GenerateHostToken 產生主持人權杖（128 位元熵）
func GenerateHostToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("host_%d", time.Now().UnixNano())
	}
	return "host_" + hex.EncodeToString(b)
}

// ValidateRoomID 檢查房間 ID 格式
//
// 純格式檢查：與該名稱的房間 actor 是否存在無關。
func ValidateRoomID(roomID string) bool {
	return roomIDPattern.MatchString(roomID)
}

// randomString 以 crypto/rand 產生指定字元集的隨機字串
//
// 取模會帶來極小的分佈偏差（256 % 36 != 0），
// 對 ID 生成無安全影響，不值得 rejection sampling 的成本。
func randomString(length int, charset string) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		for i := range b {
			b[i] = charset[int(time.Now().UnixNano())%len(charset)]
		}
		return string(b)
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}
