package room

import (
	"time"

	"github.com/google/uuid"
)

// Session 一條活著的連線
//
// 連線本身不帶身份：身份（userId/username）在 join_room
// 成功後才由房間 actor 記錄，而且記錄在房間這一側 ——
// session 的所有可變狀態都由房間的互斥鎖序列化，
// session 結構自身保持唯讀。
type Session struct {
	// ID 診斷用識別字，與使用者身份無關
	ID string

	// Remote 客戶端識別字（IP），限流器以此為鍵
	Remote string

	// ConnectedAt 連線建立時間
	ConnectedAt time.Time

	transport Transport
}

// NewSession 建立 session
func NewSession(transport Transport, remote string) *Session {
	return &Session{
		ID:          uuid.NewString(),
		Remote:      remote,
		ConnectedAt: time.Now(),
		transport:   transport,
	}
}

// Transport 取得底層連線
func (s *Session) Transport() Transport {
	return s.transport
}
