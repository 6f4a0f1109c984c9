package internal

import (
	"log/slog"
	"sync"
	"time"
)

// Monitor 心跳監測器
//
// 狀態機（每連接）：
//
//	ALIVE → (發出探測) → AWAITING → (收到 pong) → ALIVE
//	                     AWAITING → (下個週期仍未回應) → EVICTED
//
// 系統設計考量：
//
//  1. 為什麼需要主動探測？
//     半開連接（網絡中斷、瀏覽器崩潰）不會觸發 close 事件，
//     讀取端永遠等不到錯誤。不探測就永遠佔著記憶體與 goroutine。
//
//  2. 兩段式判定：
//     - 每個週期：先驅逐上一輪未回應的連接，再清除全部存活
//       標記並發送新一輪探測
//     - 連接要被驅逐，必須連續錯過整整一個探測週期
//
//  3. 生命週期：
//     綁定 Hub 的生命週期，Hub 關閉時必須停止計時器，
//     避免殘留的 ticker goroutine。
type Monitor struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMonitor 創建心跳監測器（尚未啟動）
func NewMonitor(registry *Registry, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		registry: registry,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start 啟動監測循環
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop 停止監測循環並等待其結束
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// loop 監測循環
func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Tick()
		case <-m.stopCh:
			return
		}
	}
}

// Tick 執行一輪探測（公開方法供測試使用）
//
// 順序要求：先驅逐、後清標記。反過來會把這一輪才標記的
// 連接當成上一輪未回應的直接踢掉。
func (m *Monitor) Tick() {
	// 驅逐上一輪未回應的連接
	var evicted []*Conn
	m.registry.ForEach(nil, func(c *Conn) {
		if !c.sweepAlive() {
			evicted = append(evicted, c)
		}
	})

	for _, c := range evicted {
		m.registry.Remove(c)
		c.closeTransport()
		m.logger.Info("心跳逾時，驅逐連接",
			"conn_id", c.ID,
			"exam_id", c.Subscription())
	}

	// 對剩餘連接發送新一輪探測
	//
	// sweepAlive 已在上面把所有存活標記清為 false，
	// 收到 pong 的連接會在下一輪之前重新標記。
	m.registry.ForEach(nil, func(c *Conn) {
		if err := c.ping(m.interval / 2); err != nil {
			m.logger.Debug("發送探測失敗",
				"conn_id", c.ID,
				"error", err)
		}
	})
}
