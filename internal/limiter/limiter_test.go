package limiter_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/watch-party/internal/limiter"
)

// TestAllowWithinLimit 限額內全數放行，超過限額才被擋
func TestAllowWithinLimit(t *testing.T) {
	l := limiter.New(time.Minute, map[limiter.Purpose]int{
		limiter.PurposeMessage: 3,
	})
	defer l.Stop()

	assert.True(t, l.Allow(limiter.PurposeMessage, "client-a"))
	assert.True(t, l.Allow(limiter.PurposeMessage, "client-a"))
	assert.True(t, l.Allow(limiter.PurposeMessage, "client-a"))

	// 第 4 次（嚴格超過限額）才被限流
	assert.False(t, l.Allow(limiter.PurposeMessage, "client-a"))
	assert.False(t, l.Allow(limiter.PurposeMessage, "client-a"))
}

// TestIdentifiersIsolated 不同識別字的配額互不影響
func TestIdentifiersIsolated(t *testing.T) {
	l := limiter.New(time.Minute, map[limiter.Purpose]int{
		limiter.PurposeMessage: 1,
	})
	defer l.Stop()

	assert.True(t, l.Allow(limiter.PurposeMessage, "client-a"))
	assert.False(t, l.Allow(limiter.PurposeMessage, "client-a"))

	assert.True(t, l.Allow(limiter.PurposeMessage, "client-b"))
}

// TestPurposesIsolated 同一識別字的連線與訊息配額各自獨立
func TestPurposesIsolated(t *testing.T) {
	l := limiter.New(time.Minute, map[limiter.Purpose]int{
		limiter.PurposeConnection: 1,
		limiter.PurposeMessage:    1,
	})
	defer l.Stop()

	assert.True(t, l.Allow(limiter.PurposeConnection, "client-a"))
	assert.False(t, l.Allow(limiter.PurposeConnection, "client-a"))

	// 連線配額用盡不影響訊息配額
	assert.True(t, l.Allow(limiter.PurposeMessage, "client-a"))
}

// TestWindowReset 視窗過期後配額重置
func TestWindowReset(t *testing.T) {
	l := limiter.New(50*time.Millisecond, map[limiter.Purpose]int{
		limiter.PurposeMessage: 1,
	})
	defer l.Stop()

	assert.True(t, l.Allow(limiter.PurposeMessage, "client-a"))
	assert.False(t, l.Allow(limiter.PurposeMessage, "client-a"))

	time.Sleep(60 * time.Millisecond)

	assert.True(t, l.Allow(limiter.PurposeMessage, "client-a"))
}

// TestUnknownPurposeAllowed 未設限的用途一律放行
func TestUnknownPurposeAllowed(t *testing.T) {
	l := limiter.New(time.Minute, map[limiter.Purpose]int{})
	defer l.Stop()

	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow(limiter.PurposeMessage, "client-a"))
	}
}

// TestRemaining 剩餘額度回報
func TestRemaining(t *testing.T) {
	l := limiter.New(time.Minute, map[limiter.Purpose]int{
		limiter.PurposeMessage: 3,
	})
	defer l.Stop()

	// 尚無紀錄時回報完整額度
	assert.Equal(t, 3, l.Remaining(limiter.PurposeMessage, "client-a"))

	l.Allow(limiter.PurposeMessage, "client-a")
	assert.Equal(t, 2, l.Remaining(limiter.PurposeMessage, "client-a"))

	l.Allow(limiter.PurposeMessage, "client-a")
	l.Allow(limiter.PurposeMessage, "client-a")
	l.Allow(limiter.PurposeMessage, "client-a") // 超額的一次

	// 不會出現負值
	assert.Equal(t, 0, l.Remaining(limiter.PurposeMessage, "client-a"))
}

// TestDefaultLimits 預設限額：連線 5/分、訊息 30/分
func TestDefaultLimits(t *testing.T) {
	l := limiter.NewDefault()
	defer l.Stop()

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow(limiter.PurposeConnection, "client-a"), "第 %d 次連線應放行", i+1)
	}
	assert.False(t, l.Allow(limiter.PurposeConnection, "client-a"))

	for i := 0; i < 30; i++ {
		require.True(t, l.Allow(limiter.PurposeMessage, "client-a"), "第 %d 則訊息應放行", i+1)
	}
	assert.False(t, l.Allow(limiter.PurposeMessage, "client-a"))
}

// TestConcurrentAllow 並發呼叫下計數仍然精確
func TestConcurrentAllow(t *testing.T) {
	l := limiter.New(time.Minute, map[limiter.Purpose]int{
		limiter.PurposeMessage: 50,
	})
	defer l.Stop()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow(limiter.PurposeMessage, "shared") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

// TestStats 統計回報追蹤中的識別字數
func TestStats(t *testing.T) {
	l := limiter.New(time.Minute, map[limiter.Purpose]int{
		limiter.PurposeMessage: 10,
	})
	defer l.Stop()

	for i := 0; i < 4; i++ {
		l.Allow(limiter.PurposeMessage, fmt.Sprintf("client-%d", i))
	}

	stats := l.Stats()
	assert.Equal(t, 4, stats["tracked_identifiers"])
	assert.Equal(t, 60, stats["window_seconds"])
}
