package internal

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何追蹤大量監考端連接與它們各自關注的場次？
//
// 核心挑戰：
//   1. 連接元數據：每個連接攜帶可變的訂閱範圍（場次 ID）
//   2. 並發安全：連接/斷線/改訂閱與廣播迭代同時發生
//   3. 生命週期：連接由註冊表獨佔擁有，傳輸關閉即銷毀
//
// 設計方案：
//   ✅ RWMutex 保護的連接 map - 註冊/註銷低頻走寫鎖，迭代走讀鎖
//   ✅ 快照後迭代 - 廣播不在持鎖狀態下做網絡 I/O
//   ✅ closed 標記與發送同鎖 - 快照中的連接被驅逐後，遲到的
//      投遞靜默丟棄而不是打在已關閉的 channel 上

// Conn 一條監考端連接
//
// 由 Registry 獨佔擁有。訂閱範圍（ExamID）是連接上唯一
// 允許客戶端事後修改的欄位；身份欄位（Role、UserID）在
// 連接建立時由外部認證協作者確定，之後不再變更。
type Conn struct {
	ID string

	sock *websocket.Conn
	Send chan []byte

	mu     sync.Mutex
	examID string // 訂閱的場次，空字串表示未訂閱
	role   string
	userID string
	alive  bool
	closed bool
}

// NewConn 創建連接
//
// role 與 userID 來自升級請求上已通過認證的身份資訊。
func NewConn(sock *websocket.Conn, role, userID string, sendBuffer int) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Conn{
		ID:     uuid.NewString(),
		sock:   sock,
		Send:   make(chan []byte, sendBuffer),
		role:   role,
		userID: userID,
		alive:  true,
	}
}

// Subscription 取得目前訂閱的場次，空字串表示未訂閱
func (c *Conn) Subscription() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.examID
}

// Role 取得連接的角色
func (c *Conn) Role() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// UserID 取得連接的用戶 ID
func (c *Conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// adoptIdentity 補登身份欄位
//
// 身份在認證時確定後即不可變；只有認證協作者沒有附上身份
// 的舊版客戶端，才允許在第一次 SUBSCRIBE 時補登。
func (c *Conn) adoptIdentity(role, userID *string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if role != nil && c.role == "" {
		c.role = *role
	}
	if userID != nil && c.userID == "" {
		c.userID = *userID
	}
}

// MarkAlive 標記連接存活（收到 pong 時調用）
func (c *Conn) MarkAlive() {
	c.mu.Lock()
	c.alive = true
	c.mu.Unlock()
}

// sweepAlive 讀取並清除存活標記，返回清除前的值
//
// 心跳監測專用：每個探測週期開始時調用，存活標記由下一個
// pong 重新點亮。
func (c *Conn) sweepAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.alive
	c.alive = false
	return was
}

// trySend 非阻塞發送
//
// 緩衝滿時丟棄並返回 false。單一慢速客戶端不能拖慢對其餘
// 連接的廣播；漏掉的通知由下一次變更或客戶端輪詢補回。
//
// 發送與 closed 檢查必須在同一臨界區：廣播迭代的是鎖外快照，
// 快照中的連接可能已被心跳驅逐並關閉了 Send channel，檢查與
// 發送之間若不互斥，就會打在已關閉的 channel 上。
func (c *Conn) trySend(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.Send <- message:
		return true
	default:
		return false
	}
}

// ping 發送心跳探測幀
func (c *Conn) ping(timeout time.Duration) error {
	if c.sock == nil {
		return nil
	}
	return c.sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

// closeTransport 關閉底層傳輸，重複調用是 no-op
//
// closed 的設置與 close(Send) 在同一臨界區內完成，與 trySend
// 的檢查互斥。
func (c *Conn) closeTransport() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
	c.mu.Unlock()

	if c.sock != nil {
		c.sock.Close()
	}
}

// Registry 連接註冊表
//
// 只做內存簿記，沒有業務邏輯、沒有 I/O。訂閱範圍不驗證
// 場次是否存在（註冊表屬於傳輸層）。
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewRegistry 創建連接註冊表
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Conn),
	}
}

// Register 註冊連接，對同一連接重複調用是冪等的
func (r *Registry) Register(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID] = conn
}

// Remove 移除連接，重複移除是 no-op
func (r *Registry) Remove(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if actual, exists := r.conns[conn.ID]; exists && actual == conn {
		delete(r.conns, conn.ID)
	}
}

// SetSubscription 覆寫連接的訂閱範圍，空字串表示取消訂閱
func (r *Registry) SetSubscription(conn *Conn, examID string) {
	conn.mu.Lock()
	conn.examID = examID
	conn.mu.Unlock()
}

// ClearSubscriptionIf 只在目前訂閱等於 examID 時清除
//
// UNSUBSCRIBE 帶場次比對，防止跨客戶端競爭清掉別人剛設好
// 的訂閱。比對與清除必須在同一臨界區內完成。
func (r *Registry) ClearSubscriptionIf(conn *Conn, examID string) bool {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	if conn.examID != examID {
		return false
	}
	conn.examID = ""
	return true
}

// ForEach 迭代符合條件的連接
//
// 先在讀鎖下做快照，再在鎖外調用 fn：
//   - 迭代期間允許並發的註冊/移除
//   - fn 內的發送不持有註冊表鎖
func (r *Registry) ForEach(filter func(*Conn) bool, fn func(*Conn)) {
	r.mu.RLock()
	snapshot := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		if filter == nil || filter(conn) {
			snapshot = append(snapshot, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range snapshot {
		fn(conn)
	}
}

// Count 取得目前連接數
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
