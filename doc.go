// Package examsync 提供監考系統的即時同步核心。
//
// 實現了一個支援多場次、多監考端的即時狀態同步服務器，包含以下核心功能：
//
// # 連接註冊表
//
// 追蹤所有存活的 WebSocket 連接與其訂閱元數據：
//   - 連接註冊與註銷
//   - 場次訂閱範圍管理（一連接至多訂閱一場次）
//   - 快照式安全迭代
//
// # 心跳監測
//
// 集中式的連接活性檢測：
//   - 固定週期探測（預設 30 秒）
//   - 連續兩輪未回應即驅逐（處理半開連接）
//   - 生命週期綁定 Hub，關閉時不殘留計時器
//
// # 事件扇出
//
// notify-then-pull 的變更通知機制：
//   - 通知不攜帶業務資料，客戶端收到後重拉快照
//   - 範圍廣播（只送訂閱者）與全域訊號並存
//   - 單連接發送失敗就地吞掉，不影響其餘投遞
//
// # 名冊異動引擎
//
// 不變量檢查下的座位分配：
//   - 場次級互斥鎖，不同場次互不阻塞
//   - 容量不變量：成功分配數永不超過試場容量
//   - 唯一不變量：一考生一場次至多一座位
//   - 成功後才廣播，失敗異動無通知
//
// # 使用範例
//
// 啟動服務器：
//
//	registry := internal.NewRegistry()
//	hub := internal.NewHub(registry, cfg, logger)
//	roster := internal.NewRoster(store, hub, nil, logger)
//	handler := internal.NewHandler(roster, assembler, hub, logger)
//
//	mux.Handle("/", handler.Routes())
//	mux.HandleFunc("/ws", hub.ServeWS)
//
// 客戶端訂閱場次：
//
//	{"type": "SUBSCRIBE", "examId": "E1"}
//
// # 架構設計
//
// 系統採用分層架構設計：
//   - Handler 層：座位異動與快照 API
//   - Roster 層：不變量檢查與異動串行化
//   - Hub 層：連接管理、心跳與事件扇出
//   - Storage 層：Memory / PostgreSQL / Redis 快取
//
// 每層都有明確的職責邊界，透過介面進行交互，便於測試與擴展。
//
// # 配置選項
//
// 支援多種運行時配置：
//   - -config：YAML 配置檔路徑
//   - -port：服務監聽端口（覆蓋配置檔）
//   - storage.driver：memory / postgres
//   - hub.probe_interval：心跳探測間隔
package examsync
