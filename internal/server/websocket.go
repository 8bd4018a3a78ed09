package server

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koopa0/watch-party/internal/limiter"
	"github.com/koopa0/watch-party/internal/protocol"
	"github.com/koopa0/watch-party/internal/room"
)

// WebSocket 傳輸層
//
// 系統設計考量：
//
//  1. 讀寫分離：
//     每條連線一個 writePump goroutine，讀取留在 ServeWS 的
//     goroutine。gorilla/websocket 只允許一個並發寫者，
//     所有寫入都經過緩衝 channel 匯流到 writePump。
//
//  2. 非阻塞送出：
//     緩衝滿了就回報失敗，讓房間 actor 把這條連線剪除。
//     一個讀得慢的對端不能拖住整個房間的廣播迴圈。
//
//  3. 刻意不做伺服器端閒置逾時：
//     客戶端會送應用層 ping，伺服器只回 pong、不據此斷線，
//     也不設讀取期限。這是已知且被記錄的強健性缺口，
//     補上它時不能改變「ping 只換 pong、無其他副作用」的契約。

const (
	// sendBufferSize 每條連線的送出佇列長度
	sendBufferSize = 64

	// writeWait 單次寫入的期限
	writeWait = 10 * time.Second

	// readLimit 傳輸層讀取上限。
	// 高於協定的 MaxFrameSize：協定層的超長訊框要能收進來、
	// 用便宜的長度檢查回 MESSAGE_TOO_LARGE，而不是被傳輸層默默斷線。
	readLimit = 64 * 1024
)

var (
	errTransportClosed = errors.New("連線已關閉")
	errSendBufferFull  = errors.New("送出佇列已滿")
)

// wsTransport room.Transport 的 gorilla/websocket 實作
type wsTransport struct {
	conn   *websocket.Conn
	logger *slog.Logger

	send      chan []byte
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

func newWSTransport(conn *websocket.Conn, logger *slog.Logger) *wsTransport {
	return &wsTransport{
		conn:   conn,
		logger: logger,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// Send 將訊框排入送出佇列（非阻塞）
func (t *wsTransport) Send(data []byte) error {
	if t.closed.Load() {
		return errTransportClosed
	}
	select {
	case t.send <- data:
		return nil
	case <-t.done:
		return errTransportClosed
	default:
		return errSendBufferFull
	}
}

// Alive 回報連線是否仍可寫入
func (t *wsTransport) Alive() bool {
	return !t.closed.Load()
}

// Close 送出關閉訊框並關閉底層連線（可重複呼叫）
func (t *wsTransport) Close(code int, reason string) error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)

		deadline := time.Now().Add(time.Second)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), deadline)

		close(t.done)
		_ = t.conn.Close()
	})
	return nil
}

// writePump 將佇列中的訊框寫入連線
//
// 寫入失敗即關閉：之後的 Send 都會失敗，
// 房間 actor 會在下一次廣播時把這條連線剪除。
func (t *wsTransport) writePump() {
	defer t.Close(protocol.CloseNormal, "")

	for {
		select {
		case data := <-t.send:
			if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

			// 順手清空佇列中累積的訊框（批次寫入）
			n := len(t.send)
			for i := 0; i < n; i++ {
				if err := t.conn.WriteMessage(websocket.TextMessage, <-t.send); err != nil {
					return
				}
			}

		case <-t.done:
			return
		}
	}
}

// upgrader WebSocket 升級器
//
// 來源檢查放行所有 origin：客戶端是瀏覽器擴充功能
// （chrome-extension:// 來源），無法用同源策略限制。
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS 處理 /ws/{room_id} 的串流連線
//
// 握手順序：
//   1. 連線限流（升級前，HTTP 429 拒絕，可重試）
//   2. 必須是升級請求（否則 HTTP 426）
//   3. 升級後驗證房間 ID 格式 —— 失敗時在訊框內回
//      INVALID_ROOM_ID，再以 1003（協定違規）關閉
//   4. 解析房間 actor、註冊 session、進入讀取迴圈
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")
	clientIP := clientIPFrom(r)

	if !h.limits.Allow(limiter.PurposeConnection, clientIP) {
		h.logger.Warn("連線嘗試被限流", "remote", clientIP, "room_id", roomID)
		h.jsonResponse(w, protocol.NewErrorMessage(
			protocol.CodeRateLimited, "Too many connection attempts",
			map[string]any{
				"remainingAttempts": h.limits.Remaining(limiter.PurposeConnection, clientIP),
			}), http.StatusTooManyRequests)
		return
	}

	if !websocket.IsWebSocketUpgrade(r) {
		h.jsonResponse(w, map[string]any{
			"error":   "Expected WebSocket",
			"message": "This endpoint only accepts WebSocket connections",
			"roomId":  roomID,
		}, http.StatusUpgradeRequired)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket 升級失敗", "error", err, "remote", clientIP)
		return
	}
	conn.SetReadLimit(readLimit)

	transport := newWSTransport(conn, h.logger)
	go transport.writePump()

	// 房間 ID 格式錯誤：升級已完成，在訊框內回報後以協定違規碼關閉
	if !protocol.ValidateRoomID(roomID) {
		if data, err := protocol.Encode(protocol.NewErrorMessage(
			protocol.CodeInvalidRoomID, "Invalid room ID format", nil)); err == nil {
			_ = transport.Send(data)
		}
		// 給 writePump 一點時間送出錯誤訊框
		time.Sleep(50 * time.Millisecond)
		_ = transport.Close(protocol.CloseInvalidData, "invalid room id")
		return
	}

	session := room.NewSession(transport, clientIP)

	// 解析與註冊：撞上「房間剛被釋放」的競態時重新解析
	var rm *room.Room
	for {
		rm = h.directory.Resolve(roomID)
		if rm.Register(session) {
			break
		}
	}

	h.logger.Info("WebSocket 連線建立",
		"room_id", roomID,
		"session_id", session.ID,
		"remote", clientIP)

	h.readLoop(conn, rm, session, transport)
}

// readLoop 連線的讀取迴圈
//
// 傳輸層的關閉與錯誤都收斂到同一條出口：
// CleanupConnection 是冪等的，重複進入也不會重複廣播 user_left。
func (h *Handler) readLoop(conn *websocket.Conn, rm *room.Room, session *room.Session, transport *wsTransport) {
	defer func() {
		rm.CleanupConnection(session)
		_ = transport.Close(protocol.CloseNormal, "")
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("WebSocket 讀取錯誤",
					"room_id", rm.ID, "session_id", session.ID, "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		rm.HandleFrame(session, data)
	}
}

// clientIPFrom 取得客戶端識別字（限流鍵）
//
// 反向代理之後以 X-Forwarded-For 為準，否則退回連線來源位址。
func clientIPFrom(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
