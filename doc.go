// Package watchparty 提供了一個多人同步觀影的即時協調服務。
//
// 實現了一個以「房間」為單位的聊天與播放同步中繼站，包含以下核心功能：
//
// # 房間目錄與生命週期
//
// 房間是短生命週期的邀請制空間：
//   - HTTP API 產生房間 ID 與主持人權杖（純生成、不落地）
//   - 房間 actor 在第一條 WebSocket 連線抵達時惰性建立
//   - 最後一條連線離開時 actor 立即拆除
//   - 同一個房間名稱在任何時刻至多對應一個 actor 實例
//
// # 訊息協定
//
// 瀏覽器端與伺服器端共用一套封閉的 JSON 訊息協定：
//   - 心跳（ping/pong）
//   - 加入與離開（join_room / leave_room）
//   - 聊天廣播（send_message → message）
//   - 同步倒數（countdown_request → countdown_start）
//   - 統一錯誤信封（封閉的錯誤碼集合）
//
// # 輸入防禦
//
// 所有客戶端輸入在進入房間前都經過多層檢查：
//   - 原始訊框大小上限（JSON 解析前的便宜檢查）
//   - 訊息型別與時間戳記驗證
//   - 欄位長度上限
//   - 出口處統一 HTML 轉義，防止 XSS 經廣播擴散
//
// # 速率限制
//
// 行程內的固定視窗限流器，同時保護兩個面向：
//   - 連線嘗試：每來源每分鐘 5 次（握手前拒絕）
//   - 聊天訊息：每 session 每分鐘 30 則（訊框內回報，連線不中斷）
//
// # 併發模型
//
// 每個房間是一個獨立的 actor：
//   - 房間內所有狀態變更由房間鎖序列化
//   - 不同房間之間完全平行，無共享狀態
//   - 廣播採「快照後送出、失敗靜默剪除」策略，
//     單一慢速對端不影響其他參與者
//
// # 配置選項
//
// 支援多種運行時配置：
//   - -port：服務監聽端口（預設 8080）
//   - -log-level：日誌級別（debug/info/warn/error）
//   - -log-format：日誌格式（text/json）
//
// # 架構設計
//
// 系統採用分層架構設計：
//   - server 層：HTTP 門面與 WebSocket 傳輸
//   - room 層：房間 actor、目錄與連線服務
//   - protocol 層：訊息協定、驗證與消毒
//   - limiter 層：固定視窗速率限制
//
// 每層都有明確的職責邊界，透過介面進行交互，便於測試與擴展。
package watchparty
