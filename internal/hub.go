package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何把座位異動即時同步給所有正在看同一場次的監考端？
//
// 核心挑戰：
//   1. 扇出：一次狀態變更要送達訂閱該場次的所有連接
//   2. 失敗隔離：單一連接的發送失敗不能中斷對其餘連接的投遞
//   3. 無確認投遞：通道是盡力而為的，不能為了可靠性引入逐一 ACK
//
// 設計方案：
//   ✅ notify-then-pull - 通知不帶資料，客戶端收到後重拉快照，
//      繞開消息排序與部分投遞的一致性問題
//   ✅ 每連接緩衝 channel + 非阻塞發送 - 慢客戶端只丟自己的通知
//   ✅ 集中式心跳（Monitor）- 單一 ticker 探測全部連接

// wsPath 唯一允許的升級路徑
const wsPath = "/ws"

// Hub WebSocket 連接中心
//
// 擁有連接註冊表與心跳監測器的生命週期。由組合根顯式構造並
// 注入給需要廣播的協作者，不透過全域變數取用。
type Hub struct {
	registry *Registry
	monitor  *Monitor
	logger   *slog.Logger
	upgrader websocket.Upgrader

	probeInterval  time.Duration
	sendBuffer     int
	writeTimeout   time.Duration
	maxMessageSize int64
}

// NewHub 創建並啟動 Hub
func NewHub(registry *Registry, cfg *Config, logger *slog.Logger) *Hub {
	hub := &Hub{
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		probeInterval:  cfg.Hub.ProbeInterval,
		sendBuffer:     cfg.Hub.SendBuffer,
		writeTimeout:   cfg.Hub.WriteTimeout,
		maxMessageSize: cfg.Hub.MaxMessageSize,
	}

	hub.monitor = NewMonitor(registry, hub.probeInterval, logger)
	hub.monitor.Start()

	return hub
}

// ServeWS 處理 WebSocket 升級請求
//
// 只接受固定路徑；其餘路徑一律拒絕並立即關閉底層傳輸。
// 身份欄位（role、user id）由前置的認證協作者驗證後附在
// 請求標頭上，連接建立後不再接受客戶端修改。
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != wsPath {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	role := r.Header.Get("X-Role")
	userID := r.Header.Get("X-User-ID")

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	conn := NewConn(sock, role, userID, h.sendBuffer)
	h.registry.Register(conn)

	go h.writePump(conn)
	go h.readPump(conn)

	h.logger.Info("WebSocket 連接建立",
		"conn_id", conn.ID,
		"role", role,
		"user_id", userID)
}

// BroadcastAll 向所有連接廣播事件
func (h *Hub) BroadcastAll(event EventName, payload map[string]any) {
	message, err := encodeEvent(event, "", payload)
	if err != nil {
		h.logger.Error("序列化事件失敗", "event", event, "error", err)
		return
	}

	h.deliver(nil, event, message)
}

// BroadcastScoped 只向訂閱了指定場次的連接廣播事件
//
// 未訂閱任何場次的連接不會收到範圍事件：避免把變更洪流
// 灌給閒置的客戶端。
func (h *Hub) BroadcastScoped(examID string, event EventName, payload map[string]any) {
	message, err := encodeEvent(event, examID, payload)
	if err != nil {
		h.logger.Error("序列化事件失敗", "event", event, "error", err)
		return
	}

	h.deliver(func(c *Conn) bool {
		return c.Subscription() == examID && examID != ""
	}, event, message)
}

// SignalChange 發送全域變更訊號
//
// 刻意廣播給「所有」連接而非只給訂閱者：儀表板總覽只關心
// 「有東西變了」，場次畫面自行按 examId 過濾。以頻寬換取
// 對訂閱狀態錯誤的韌性。
func (h *Hub) SignalChange(examID string) {
	payload := map[string]any{}
	message, err := encodeEvent(EventDataChanged, examID, payload)
	if err != nil {
		h.logger.Error("序列化事件失敗", "error", err)
		return
	}

	h.deliver(nil, EventDataChanged, message)
}

// deliver 投遞序列化後的消息
//
// 失敗語義：單連接發送失敗（緩衝滿、管道斷裂）就地吞掉，
// 絕不中斷對其餘連接的投遞，也不重試。漏掉的客戶端由下一次
// 變更通知或自身輪詢補回。
func (h *Hub) deliver(filter func(*Conn) bool, event EventName, message []byte) {
	h.registry.ForEach(filter, func(c *Conn) {
		if !c.trySend(message) {
			h.logger.Warn("連接緩衝區滿，丟棄事件",
				"conn_id", c.ID,
				"event", event)
		}
	})
}

// readPump 讀取客戶端入站消息
//
// 讀取超時由集中式心跳兜底：Monitor 每個週期發 ping，
// 這裡的 pong 處理器負責重新點亮存活標記並延長讀取期限。
func (h *Hub) readPump(conn *Conn) {
	defer func() {
		h.registry.Remove(conn)
		conn.closeTransport()
		h.logger.Info("WebSocket 連接關閉", "conn_id", conn.ID)
	}()

	readWait := h.probeInterval*2 + 10*time.Second

	conn.sock.SetReadLimit(h.maxMessageSize)
	if err := conn.sock.SetReadDeadline(time.Now().Add(readWait)); err != nil {
		h.logger.Error("設置讀取期限失敗", "error", err)
	}

	conn.sock.SetPongHandler(func(string) error {
		conn.MarkAlive()
		return conn.sock.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		messageType, message, err := conn.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket 讀取錯誤",
					"conn_id", conn.ID,
					"error", err)
			}
			break
		}

		if messageType == websocket.TextMessage {
			h.handleMessage(conn, message)
		}
	}
}

// writePump 寫入消息到客戶端
//
// 所有寫入集中在這一個 goroutine（gorilla 連接不允許並發寫）。
// 廣播端只負責把消息塞進 Send channel。
func (h *Hub) writePump(conn *Conn) {
	defer conn.sock.Close()

	for message := range conn.Send {
		if err := conn.sock.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
			h.logger.Error("設置寫入期限失敗", "error", err)
		}

		if err := conn.sock.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}

		// 批量發送隊列中的消息
		n := len(conn.Send)
		for i := 0; i < n; i++ {
			if err := conn.sock.WriteMessage(websocket.TextMessage, <-conn.Send); err != nil {
				return
			}
		}
	}

	// Send channel 已關閉，優雅關閉連接
	deadline := time.Now().Add(time.Second)
	if err := conn.sock.SetWriteDeadline(deadline); err == nil {
		_ = conn.sock.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
}

// handleMessage 處理客戶端入站消息
//
// 格式錯誤或未知類型的消息靜默丟棄（只記 debug）：通道是
// 盡力而為的，損壞的客戶端不能影響 Hub。
func (h *Hub) handleMessage(conn *Conn, message []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		h.logger.Debug("解析入站消息失敗",
			"conn_id", conn.ID,
			"error", err)
		return
	}

	switch msg.Type {
	case msgSubscribe:
		if msg.ExamID != nil {
			h.registry.SetSubscription(conn, *msg.ExamID)
		}
		// 身份欄位只在認證階段沒有附上時補登一次，之後的
		// SUBSCRIBE 不能再改寫
		conn.adoptIdentity(msg.Role, msg.UserID)

		h.logger.Debug("連接訂閱場次",
			"conn_id", conn.ID,
			"exam_id", conn.Subscription())

	case msgUnsubscribe:
		examID := ""
		if msg.ExamID != nil {
			examID = *msg.ExamID
		}
		if h.registry.ClearSubscriptionIf(conn, examID) {
			h.logger.Debug("連接取消訂閱", "conn_id", conn.ID, "exam_id", examID)
		}

	default:
		h.logger.Debug("收到未知消息類型",
			"conn_id", conn.ID,
			"type", msg.Type)
	}
}

// Stats 取得連接統計
func (h *Hub) Stats() map[string]any {
	byExam := make(map[string]int)
	total := 0

	h.registry.ForEach(nil, func(c *Conn) {
		total++
		if examID := c.Subscription(); examID != "" {
			byExam[examID]++
		}
	})

	return map[string]any{
		"total_connections": total,
		"by_exam":           byExam,
	}
}

// Stop 停止 Hub
//
// 先停心跳再關連接；正在進行中的廣播允許部分投遞。
func (h *Hub) Stop() {
	h.monitor.Stop()

	h.registry.ForEach(nil, func(c *Conn) {
		h.registry.Remove(c)
		c.closeTransport()
	})

	h.logger.Info("WebSocket Hub 已停止")
}
