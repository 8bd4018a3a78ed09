package room

import (
	"log/slog"

	"github.com/koopa0/watch-party/internal/protocol"
)

// ConnectionService 連線層的傳送原語
//
// 系統設計考量：
//
//  1. 送出即檢測（send-then-prune）：
//     不主動探測對端健康，送失敗的連線直接視為死亡，
//     由呼叫端從 session 集合剪除。機會式自癒，
//     比主動心跳探測便宜得多。
//
//  2. 快照廣播：
//     Broadcast 收到的是 session 集合的快照（呼叫端在鎖內複製），
//     迭代期間的集合變動不會造成失效迭代器問題；
//     失敗名單交回呼叫端在鎖內移除。
type ConnectionService struct {
	logger *slog.Logger
}

// NewConnectionService 建立連線服務
func NewConnectionService(logger *slog.Logger) *ConnectionService {
	return &ConnectionService{logger: logger}
}

// Send 對單一 session 送出訊息
//
// 回傳 false 表示連線已不可用（未就緒或寫入失敗），
// 呼叫端應將其從房間移除。
func (c *ConnectionService) Send(s *Session, msg protocol.ServerMessage) bool {
	data, err := protocol.Encode(msg)
	if err != nil {
		c.logger.Error("序列化伺服器訊息失敗", "error", err, "type", msg.Type)
		return false
	}
	return c.sendRaw(s, data)
}

// sendRaw 送出已序列化的訊框
func (c *ConnectionService) sendRaw(s *Session, data []byte) bool {
	t := s.Transport()
	if !t.Alive() {
		return false
	}
	if err := t.Send(data); err != nil {
		c.logger.Warn("送出訊息失敗", "session_id", s.ID, "error", err)
		return false
	}
	return true
}

// Broadcast 對快照中的每個 session 送出同一則訊息
//
// exclude 不為 nil 時跳過該 session（例如 user_joined 不回送給加入者）。
// 回傳成功數與失敗的 session 名單；失敗者不重試。
func (c *ConnectionService) Broadcast(snapshot []*Session, msg protocol.ServerMessage, exclude *Session) (sent int, failed []*Session) {
	data, err := protocol.Encode(msg)
	if err != nil {
		c.logger.Error("序列化廣播訊息失敗", "error", err, "type", msg.Type)
		return 0, nil
	}

	for _, s := range snapshot {
		if s == exclude {
			continue
		}
		if c.sendRaw(s, data) {
			sent++
		} else {
			failed = append(failed, s)
		}
	}
	return sent, failed
}

// Close 安全地關閉連線
func (c *ConnectionService) Close(s *Session, code int, reason string) {
	if err := s.Transport().Close(code, reason); err != nil {
		c.logger.Debug("關閉連線失敗", "session_id", s.ID, "error", err)
	}
}
