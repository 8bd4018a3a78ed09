package limiter

import (
	"fmt"
	"sync"
	"time"
)

// 系統設計問題：
//   如何在不引入外部依賴的前提下，防止單一客戶端
//   以高頻連線或訊息灌爆聊天房間？
//
// 核心挑戰：
//   1. 雙用途：連線嘗試與訊息發送的限額不同，互不干擾
//   2. 記憶體回收：一次性的訪客會留下永遠不再使用的計數器
//   3. 並發安全：限流器是跨房間共享的少數結構之一
//
// 設計方案：
//   ✅ 固定視窗計數器 - O(1) 判斷、記憶體占用固定
//   ✅ 以 "<purpose>-<identifier>" 為鍵，用途之間天然隔離
//   ✅ 背景清理 goroutine 回收過期紀錄
//
// 取捨說明：
//   固定視窗在視窗邊界允許短暫的雙倍流量（59 秒 + 61 秒各打滿），
//   對聊天場景可接受；需要精確限流時才值得滑動視窗的成本。
//   狀態存在行程記憶體內：重啟歸零、多行程不共享，
//   這是此系統規模下刻意接受的擴展上限。

// Purpose 限流用途
type Purpose string

const (
	PurposeConnection Purpose = "connection"
	PurposeMessage    Purpose = "message"
)

// 預設限額
const (
	DefaultWindow            = time.Minute
	DefaultConnectionsPerMin = 5
	DefaultMessagesPerMin    = 30
)

// record 單一識別字的視窗計數
type record struct {
	count       int
	windowStart time.Time
}

// FixedWindow 固定視窗限流器
type FixedWindow struct {
	mu      sync.Mutex
	window  time.Duration
	limits  map[Purpose]int
	records map[string]*record

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New 建立固定視窗限流器並啟動清理 goroutine
func New(window time.Duration, limits map[Purpose]int) *FixedWindow {
	l := &FixedWindow{
		window:  window,
		limits:  limits,
		records: make(map[string]*record),
		stopCh:  make(chan struct{}),
	}

	l.wg.Add(1)
	go l.cleanupLoop()

	return l
}

// NewDefault 以預設限額建立限流器（5 連線/分、30 訊息/分）
func NewDefault() *FixedWindow {
	return New(DefaultWindow, map[Purpose]int{
		PurposeConnection: DefaultConnectionsPerMin,
		PurposeMessage:    DefaultMessagesPerMin,
	})
}

// key 組合限流鍵
func key(purpose Purpose, identifier string) string {
	return fmt.Sprintf("%s-%s", purpose, identifier)
}

// Allow 檢查並記錄一次請求
//
// 每次呼叫：視窗已過期則先歸零，接著遞增，
// 計數超過（嚴格大於）限額才算被限流 —
// 所以限額 30 時第 30 次仍放行、第 31 次被擋。
func (l *FixedWindow) Allow(purpose Purpose, identifier string) bool {
	limit, ok := l.limits[purpose]
	if !ok {
		return true // 未設限的用途一律放行
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	k := key(purpose, identifier)

	r, exists := l.records[k]
	if !exists || now.Sub(r.windowStart) >= l.window {
		r = &record{windowStart: now}
		l.records[k] = r
	}

	r.count++
	return r.count <= limit
}

// Remaining 回傳目前視窗內剩餘的額度（用於錯誤回應的提示）
func (l *FixedWindow) Remaining(purpose Purpose, identifier string) int {
	limit, ok := l.limits[purpose]
	if !ok {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	r, exists := l.records[key(purpose, identifier)]
	if !exists || time.Since(r.windowStart) >= l.window {
		return limit
	}

	remaining := limit - r.count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Stats 回傳限流器統計（監控用）
func (l *FixedWindow) Stats() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()

	return map[string]any{
		"tracked_identifiers": len(l.records),
		"window_seconds":      int(l.window.Seconds()),
	}
}

// cleanupLoop 定期回收過期紀錄
func (l *FixedWindow) cleanupLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

// cleanup 移除已超過一個完整視窗未活動的紀錄
func (l *FixedWindow) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for k, r := range l.records {
		if now.Sub(r.windowStart) >= 2*l.window {
			delete(l.records, k)
		}
	}
}

// Stop 停止限流器的背景清理
func (l *FixedWindow) Stop() {
	close(l.stopCh)
	l.wg.Wait()
}
