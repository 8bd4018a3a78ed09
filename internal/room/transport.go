package room

// Transport 對單一連線的最小抽象
//
// 房間 actor 只依賴這三個操作，不認識底層是 gorilla/websocket
// 還是測試用的假連線。Send 必須是非阻塞或有界阻塞的：
// 廣播迴圈會對每個 session 依序呼叫 Send，
// 任何一個慢速對端都不能拖住整個房間。
type Transport interface {
	// Send 嘗試送出一個文字訊框；失敗代表此連線應被剪除
	Send(data []byte) error

	// Close 以指定的關閉碼與原因安全地關閉連線（可重複呼叫）
	Close(code int, reason string) error

	// Alive 回報連線是否仍可寫入
	Alive() bool
}
