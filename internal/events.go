package internal

import (
	"encoding/json"
	"time"
)

// EventName 出站事件名稱
//
// 封閉集合：消費端以 event 欄位分發，新增事件必須同步更新前端的
// 對應表，因此不允許任意字串。
//
// 通知不攜帶業務資料（notify-then-pull）：
//   - 事件只表示「某個範圍內的狀態變了」
//   - 客戶端收到後透過快照 API 重新拉取
//   - 丟失或亂序的通知只損失一次刷新，不會造成畫面與狀態不一致
type EventName string

const (
	// EventDataChanged 全域變更訊號（不分場次，儀表板用）
	EventDataChanged EventName = "DATA_CHANGED"
	// EventExamUpdated 場次資料變更
	EventExamUpdated EventName = "EXAM_UPDATED"
	// EventSeatStatusUpdated 座位狀態變更
	EventSeatStatusUpdated EventName = "SEAT_STATUS_UPDATED"
	// EventAttendanceUpdated 出席狀態變更
	EventAttendanceUpdated EventName = "ATTENDANCE_UPDATED"
	// EventTransferRequestUpdated 調位申請變更
	EventTransferRequestUpdated EventName = "TRANSFER_REQUEST_UPDATED"
	// EventIncidentCreated 新事件記錄
	EventIncidentCreated EventName = "INCIDENT_CREATED"
	// EventMessageUpdated 訊息變更
	EventMessageUpdated EventName = "MESSAGE_UPDATED"
)

// 入站消息類型
const (
	msgSubscribe   = "SUBSCRIBE"
	msgUnsubscribe = "UNSUBSCRIBE"
)

// inboundMessage 客戶端入站消息
//
// 欄位使用指針區分「未提供」與「提供空值」：
// SUBSCRIBE 只覆蓋有提供的欄位，未提供的保持不變。
type inboundMessage struct {
	Type   string  `json:"type"`
	ExamID *string `json:"examId,omitempty"`
	Role   *string `json:"role,omitempty"`
	UserID *string `json:"userId,omitempty"`
}

// encodeEvent 序列化出站事件
//
// 每次廣播只序列化一次，所有連接共用同一份位元組
// （序列化成本與連接數無關）。
func encodeEvent(name EventName, examID string, payload map[string]any) ([]byte, error) {
	msg := make(map[string]any, len(payload)+3)
	for k, v := range payload {
		msg[k] = v
	}
	msg["event"] = name
	msg["ts"] = time.Now().UnixMilli()
	if examID != "" {
		msg["examId"] = examID
	}

	return json.Marshal(msg)
}
