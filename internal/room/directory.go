package room

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/koopa0/watch-party/internal/limiter"
	"github.com/koopa0/watch-party/internal/protocol"
)

// Directory 房間目錄
//
// 系統設計考量：
//
//  1. 這是唯一的跨房間共享結構：
//     名稱 → actor 的映射，必須在多條連線同時首次觸及
//     同一個新房間名稱時，仍然只產生一個 actor 實例。
//
//  2. 惰性生命週期：
//     房間「概念上」在 createRoom 時就存在，但 actor 狀態
//     直到第一條連線抵達才建立，session 集合清空即拆除。
//     建立房間的 HTTP 呼叫完全不碰這個映射。
//
//  3. 觀察者只讀：
//     列表與統計走讀鎖，不會改動任何 actor 狀態。
type Directory struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	conns  *ConnectionService
	limits *limiter.FixedWindow
	logger *slog.Logger
}

// NewDirectory 建立房間目錄
func NewDirectory(conns *ConnectionService, limits *limiter.FixedWindow, logger *slog.Logger) *Directory {
	return &Directory{
		rooms:  make(map[string]*Room),
		conns:  conns,
		limits: limits,
		logger: logger,
	}
}

// CreateInfo createRoom 的結果
type CreateInfo struct {
	RoomID     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	HostToken  string
	ConnectURL string
	ShareURL   string
}

// CreateRoom 建立新房間的識別資訊
//
// 純生成、不落地：只產生 ID 與權杖，不建立 actor、不做 I/O。
// 唯一性靠 36^12 的空間機率保證，不做存在性檢查。
// 主持人權杖只在這裡回傳一次，之後無法重新取得。
func (d *Directory) CreateRoom(host string) CreateInfo {
	roomID := protocol.GenerateRoomID()
	now := time.Now()

	scheme := "wss"
	shareScheme := "https"
	if strings.HasPrefix(host, "localhost") || strings.HasPrefix(host, "127.0.0.1") {
		scheme = "ws"
		shareScheme = "http"
	}

	return CreateInfo{
		RoomID:     roomID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(Expiry),
		HostToken:  protocol.GenerateHostToken(),
		ConnectURL: fmt.Sprintf("%s://%s/ws/%s", scheme, host, roomID),
		ShareURL:   fmt.Sprintf("%s://%s/join/%s", shareScheme, host, roomID),
	}
}

// Resolve 解析房間名稱對應的 actor，不存在則建立
//
// 寫鎖之下的 get-or-create：同名的並發首次觸及
// 只會有一個勝出，其餘拿到同一個實例。
func (d *Directory) Resolve(roomID string) *Room {
	d.mu.Lock()
	defer d.mu.Unlock()

	if r, exists := d.rooms[roomID]; exists {
		return r
	}

	r := NewRoom(roomID, d.conns, d.limits, d.logger, d.release)
	d.rooms[roomID] = r

	d.logger.Info("房間 actor 已建立", "room_id", roomID)
	return r
}

// Lookup 查詢既存的 actor（不建立）
func (d *Directory) Lookup(roomID string) (*Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, exists := d.rooms[roomID]
	return r, exists
}

// release 空房間的回收回呼
//
// 只在映射仍指向同一個實例時移除：釋放與重建之間的競態下，
// 舊實例的回收不能誤刪新實例。
func (d *Directory) release(r *Room) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if current, exists := d.rooms[r.ID]; exists && current == r {
		delete(d.rooms, r.ID)
		d.logger.Info("房間已自目錄移除", "room_id", r.ID)
	}
}

// Info 單一房間的觀察快照
type Info struct {
	RoomID       string    `json:"roomId"`
	Participants int       `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// List 列出所有活躍房間（只讀觀察者）
func (d *Directory) List() []Info {
	d.mu.RLock()
	snapshot := make([]*Room, 0, len(d.rooms))
	for _, r := range d.rooms {
		snapshot = append(snapshot, r)
	}
	d.mu.RUnlock()

	infos := make([]Info, 0, len(snapshot))
	for _, r := range snapshot {
		infos = append(infos, Info{
			RoomID:       r.ID,
			Participants: r.ParticipantCount(),
			CreatedAt:    r.CreatedAt,
			ExpiresAt:    r.ExpiresAt,
		})
	}
	return infos
}

// Stats 聚合統計（只讀觀察者）
func (d *Directory) Stats() map[string]any {
	infos := d.List()

	totalSessions := 0
	for _, info := range infos {
		totalSessions += info.Participants
	}

	avg := 0.0
	if len(infos) > 0 {
		avg = float64(totalSessions) / float64(len(infos))
	}

	return map[string]any{
		"total_rooms":    len(infos),
		"total_sessions": totalSessions,
		"avg_sessions":   avg,
	}
}
