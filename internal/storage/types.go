// Package storage 實現監考名冊的各種存儲後端
//
// 存儲架構演進：
//   V1：Memory（單機、開發測試）
//   V2：PostgreSQL（持久化、生產環境）
//   V3：PostgreSQL + Redis 快照快取（讀取加速）
package storage

import "time"

// Exam 考試場次
//
// Hub 本身不擁有場次資料，只以 ID 作為訂閱範圍的鍵。
// 這裡的結構是存儲協作者的資料模型。
type Exam struct {
	ID        string    `json:"exam_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Room 試場
//
// 數據模型設計：
//   - Capacity：固定座位數（正整數），座位以索引 1..Capacity 隱含表示
//   - Index：試場在場次內的顯示順序
//   - 座位不單獨建表：座位是否被佔用由 RosterEntry 決定
//     → 避免座位表與名冊表的雙寫一致性問題
type Room struct {
	ID       string `json:"room_id"`
	ExamID   string `json:"exam_id"`
	Label    string `json:"label"`
	Index    int    `json:"index"`
	Capacity int    `json:"capacity"`
}

// RosterEntry 座位分配記錄
//
// 不變量（由存儲層的唯一約束與名冊引擎的鎖共同保證）：
//   - 同一場次內，一個考生至多出現在一筆記錄
//   - 同一 (場次, 試場, 座位索引) 至多存在一筆記錄
//
// 記錄建立後不可變更，只能刪除後重建。
type RosterEntry struct {
	ID          string    `json:"entry_id"`
	ExamID      string    `json:"exam_id"`
	RoomID      string    `json:"room_id"`
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name"`
	SeatIndex   int       `json:"seat_index"`
	AssignedAt  time.Time `json:"assigned_at"`
}

// Student 考生（加入名冊時的輸入資料）
type Student struct {
	ID   string `json:"student_id"`
	Name string `json:"student_name"`
}
