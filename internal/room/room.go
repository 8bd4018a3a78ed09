package room

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/koopa0/watch-party/internal/limiter"
	"github.com/koopa0/watch-party/internal/protocol"
)

// 系統設計問題：
//   如何讓同一個房間內的事件處理不出現資料競爭，
//   同時讓不同房間完全平行執行？
//
// 核心挑戰：
//   1. 序列化：session 集合與身份表的每次變動都必須一次一件
//   2. 隔離：一個壞掉的對端、一筆畸形的訊息，不能波及同房其他人
//   3. 回收：session 集合清空時，房間的記憶體狀態要整個釋放
//   4. 廣播：O(session 數) 的同步迴圈，任何 session 都不能讓它卡住
//
// 設計方案：
//   ✅ 每房間一把互斥鎖 - 房間即序列化單元，房間之間互不相干
//   ✅ 送出失敗即剪除 - 機會式自癒，不重試、不探測
//   ✅ 所有協定錯誤就地回應 error 訊框，actor 永不崩潰
//   ✅ 清理路徑冪等 - close、error、leave_room 三處共用同一段邏輯

// 房間參數
const (
	// DefaultMaxParticipants 單一房間的最大參與人數
	DefaultMaxParticipants = 10

	// Expiry 房間的名義壽命（只記錄，不由 actor 主動強制）
	Expiry = 3 * time.Hour

	// CountdownDebounce 倒數請求的防抖視窗：
	// 視窗內的重複請求靜默丟棄（不回應、不廣播）
	CountdownDebounce = 3000 * time.Millisecond

	// CountdownLead 廣播 countdown_start 到實際起跑點的提前量，
	// 給所有客戶端足夠的時間收到訊息並對齊 startAt
	CountdownLead = 2000 * time.Millisecond
)

// Room 房間 actor
//
// 一個房間名稱對應至多一個 Room 實例（由 Directory 保證）。
// 所有可變狀態都在 mu 之下，對外的每個操作都是一個
// 原子的事件處理步驟 —— 等價於單執行緒 actor 逐一消化信箱。
type Room struct {
	ID              string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	MaxParticipants int

	conns  *ConnectionService
	limits *limiter.FixedWindow
	logger *slog.Logger

	// onEmpty 在 session 集合清空、房間釋放後呼叫（通知 Directory 移除）
	onEmpty func(*Room)

	mu            sync.Mutex
	sessions      map[*Session]struct{}
	identities    map[*Session]*protocol.Identity
	lastCountdown time.Time
	released      bool
}

// NewRoom 建立房間 actor
func NewRoom(id string, conns *ConnectionService, limits *limiter.FixedWindow, logger *slog.Logger, onEmpty func(*Room)) *Room {
	now := time.Now()
	return &Room{
		ID:              id,
		CreatedAt:       now,
		ExpiresAt:       now.Add(Expiry),
		MaxParticipants: DefaultMaxParticipants,
		conns:           conns,
		limits:          limits,
		logger:          logger.With("room_id", id),
		onEmpty:         onEmpty,
		sessions:        make(map[*Session]struct{}),
		identities:      make(map[*Session]*protocol.Identity),
	}
}

// Register 註冊一條新連線
//
// 回傳 false 表示房間已被釋放（最後一人離開與新連線抵達的競態），
// 呼叫端應向 Directory 重新解析一次拿到新的實例。
func (r *Room) Register(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return false
	}
	r.sessions[s] = struct{}{}

	r.logger.Info("連線已註冊",
		"session_id", s.ID,
		"remote", s.Remote,
		"sessions", len(r.sessions))
	return true
}

// ParticipantCount 回傳目前的 session 數
//
// session 集合的大小就是參與人數的唯一真相，
// 沒有另外維護的計數器可以失去同步。
func (r *Room) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Identity 回傳 session 目前綁定的身份（未 join 時為 nil）
func (r *Room) Identity(s *Session) *protocol.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identities[s]
}

// HandleFrame 處理一個來自客戶端的原始訊框
//
// 檢查順序（由便宜到昂貴，見錯誤處理設計）：
//   1. 訊框長度 —— 在 JSON 解析之前
//   2. JSON 解析
//   3. 外層結構驗證（type / timestamp）
//   4. 訊息限流（違規時就地回 RATE_LIMITED，連線不關）
//   5. 依型別分派
//
// 任何失敗都只影響發送者本人：回一個 error 訊框，
// actor 繼續運轉，同房其他 session 不受影響。
func (r *Room) HandleFrame(s *Session, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("處理訊框時發生 panic", "session_id", s.ID, "panic", rec)
			r.conns.Send(s, protocol.NewErrorMessage(
				protocol.CodeInvalidMessage, "Message processing error", nil))
		}
	}()

	if len(raw) > protocol.MaxFrameSize {
		r.conns.Send(s, protocol.NewErrorMessage(
			protocol.CodeMessageTooLarge, "Message too large", nil))
		return
	}

	var msg protocol.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.conns.Send(s, protocol.NewErrorMessage(
			protocol.CodeInvalidMessage, "Invalid JSON format", nil))
		return
	}

	if vr := protocol.ValidateClientMessage(&msg, time.Now()); !vr.Valid {
		r.conns.Send(s, protocol.NewErrorMessage(vr.Code, vr.Reason, nil))
		return
	}

	if !r.limits.Allow(limiter.PurposeMessage, s.Remote) {
		r.conns.Send(s, protocol.NewErrorMessage(
			protocol.CodeRateLimited, "Too many messages, please slow down",
			map[string]any{
				"remainingAttempts": r.limits.Remaining(limiter.PurposeMessage, s.Remote),
			}))
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		r.conns.Send(s, protocol.NewPong())
	case protocol.TypeJoinRoom:
		r.handleJoin(s, msg.Data)
	case protocol.TypeSendMessage:
		r.handleSendMessage(s, msg.Data)
	case protocol.TypeLeaveRoom:
		r.handleLeave(s)
	case protocol.TypeCountdownRequest:
		r.handleCountdown(s, msg.Data)
	}
}

// handleJoin 處理 join_room
//
// 流程：驗證資料 → 容量檢查 → 綁定身份 →
// 回 room_joined 給加入者 → 廣播 user_joined 給其他人。
func (r *Room) handleJoin(s *Session, data json.RawMessage) {
	user, err := protocol.ProcessJoinRoom(data)
	if err != nil {
		r.conns.Send(s, protocol.NewErrorMessage(
			protocol.CodeInvalidMessage, err.Error(), nil))
		return
	}

	r.mu.Lock()
	if len(r.sessions) > r.MaxParticipants {
		r.mu.Unlock()
		r.conns.Send(s, protocol.NewErrorMessage(
			protocol.CodeInvalidMessage, "Room is full or join failed", nil))
		return
	}
	r.identities[s] = &user
	count := len(r.sessions)
	r.mu.Unlock()

	r.conns.Send(s, protocol.NewRoomJoined(r.ID, count, user.UserID))
	r.broadcast(protocol.NewUserJoined(user), s)

	r.logger.Info("使用者加入房間",
		"session_id", s.ID,
		"user_id", user.UserID,
		"participants", count)
}

// handleSendMessage 處理 send_message
//
// 身份解析優先序：payload 提供的 userId/username → 此 session
// 已儲存的身份 → 匿名備援。這是刻意保留的寬鬆綁定：
// 客戶端可以宣稱任何 userId（身份偽冒的已知風險，見 DESIGN.md）。
// 廣播對象包含發送者本人（聊天室的回音確認）。
func (r *Room) handleSendMessage(s *Session, data json.RawMessage) {
	msg, err := protocol.ProcessSendMessage(data)
	if err != nil {
		r.conns.Send(s, protocol.NewErrorMessage(
			protocol.CodeInvalidMessage, err.Error(), nil))
		return
	}

	r.mu.Lock()
	stored := r.identities[s]
	r.mu.Unlock()

	userID := msg.UserID
	if userID == "" {
		if stored != nil {
			userID = stored.UserID
		} else {
			userID = "anonymous"
		}
	}
	username := msg.Username
	if username == "" {
		if stored != nil && stored.Username != "" {
			username = stored.Username
		} else {
			username = "Anonymous"
		}
	}

	sent, pruned := r.broadcast(protocol.NewChatMessage(msg.Message, userID, username), nil)
	r.logger.Debug("聊天訊息已廣播", "user_id", userID, "sent", sent, "pruned", pruned)
}

// handleLeave 處理 leave_room
//
// 清掉這條 session 的成員資格、對其他人廣播 user_left、
// 回 room_left 給請求者。連線本身不強制關閉 ——
// 對端可能還想收尾，真正的關閉交給傳輸層事件。
func (r *Room) handleLeave(s *Session) {
	identity, present, empty := r.remove(s)
	if present && identity != nil {
		r.broadcast(protocol.NewUserLeft(*identity), nil)
	}

	r.conns.Send(s, protocol.NewRoomLeft(r.ID))

	if empty {
		r.release()
	}
}

// handleCountdown 處理 countdown_request
//
// 防抖：3 秒內的重複請求靜默丟棄，這是協定中唯二
// 「合法的沉默」之一（另一個是訊息限流的錯誤回應不廣播）。
// startAt 是未來的絕對時間點，客戶端以它為基準排程本地倒數，
// 抵銷各自的網路延遲差。
func (r *Room) handleCountdown(s *Session, data json.RawMessage) {
	req := protocol.ProcessCountdownRequest(data)

	r.mu.Lock()
	now := time.Now()
	if !r.lastCountdown.IsZero() && now.Sub(r.lastCountdown) < CountdownDebounce {
		r.mu.Unlock()
		r.logger.Debug("倒數請求落在防抖視窗內，丟棄", "session_id", s.ID)
		return
	}
	r.lastCountdown = now

	initiator := "anonymous"
	if id := r.identities[s]; id != nil {
		initiator = id.UserID
	}
	r.mu.Unlock()

	r.broadcast(protocol.NewCountdownStart(
		now.Add(CountdownLead).UnixMilli(),
		now.UnixMilli(),
		req.DurationMs,
		req.PlayLabelMs,
		initiator,
	), nil)

	r.logger.Info("倒數已廣播",
		"initiator", initiator,
		"duration_ms", req.DurationMs,
		"play_label_ms", req.PlayLabelMs)
}

// CleanupConnection 傳輸層關閉或出錯時的統一清理
//
// 身份查詢 → 移除 session → 通知剩餘對端 → 空房間偵測，
// 一氣呵成且冪等：close 與 error 兩條路徑重複呼叫也不會
// 重複廣播 user_left 或重複釋放房間。
func (r *Room) CleanupConnection(s *Session) {
	identity, present, empty := r.remove(s)
	if !present {
		return
	}

	if identity != nil {
		r.broadcast(protocol.NewUserLeft(*identity), nil)
	}

	r.logger.Info("連線已清理",
		"session_id", s.ID,
		"had_identity", identity != nil,
		"remaining", r.ParticipantCount())

	if empty {
		r.release()
	}
}

// remove 自集合移除 session，回傳其身份、是否原本在集合內、移除後是否清空
func (r *Room) remove(s *Session) (identity *protocol.Identity, present bool, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, present = r.sessions[s]
	identity = r.identities[s]
	delete(r.sessions, s)
	delete(r.identities, s)
	return identity, present, present && len(r.sessions) == 0
}

// broadcast 對目前的 session 集合廣播
//
// 在鎖內取快照、在鎖外送出：迭代期間的集合變動不會互相干擾。
// 送失敗的 session 靜默剪除（user_left 交給它自己的關閉事件），
// 回傳送達數與剪除數作為診斷資料。
func (r *Room) broadcast(msg protocol.ServerMessage, exclude *Session) (sent, pruned int) {
	r.mu.Lock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.Unlock()

	sent, failed := r.conns.Broadcast(snapshot, msg, exclude)
	if len(failed) == 0 {
		return sent, 0
	}

	r.mu.Lock()
	for _, dead := range failed {
		delete(r.sessions, dead)
		delete(r.identities, dead)
	}
	empty := len(r.sessions) == 0
	r.mu.Unlock()

	r.logger.Warn("廣播時剪除失效連線", "pruned", len(failed), "sent", sent)

	if empty {
		r.release()
	}
	return sent, len(failed)
}

// release 釋放空房間
//
// 競態防護：確認集合仍為空才標記 released；
// 標記之後 Register 一律失敗，新連線會重新解析到新實例。
func (r *Room) release() {
	r.mu.Lock()
	if r.released || len(r.sessions) > 0 {
		r.mu.Unlock()
		return
	}
	r.released = true
	r.mu.Unlock()

	r.logger.Info("房間已清空，釋放狀態")

	if r.onEmpty != nil {
		r.onEmpty(r)
	}
}
