package storage

import "context"

// Store 定義名冊存儲接口
//
// 系統設計考量：
//
//  1. 讀寫模式：
//     - 讀多寫少（快照查詢頻繁，座位異動偶發）
//     - 快照讀取可由 Redis 快取層加速（Cache-Aside）
//
//  2. 一致性：
//     - 座位異動：強一致性（唯一約束在存儲層兜底）
//     - 快照讀取：最終一致性（允許落後一次變更通知）
//
//  3. 並發：
//     - Store 實現必須可被多個 goroutine 同時調用
//     - 容量檢查 + 寫入的原子性由上層名冊引擎的場次鎖保證，
//       存儲層只負責單筆操作的原子性與唯一約束
type Store interface {
	// CreateExam 建立場次
	CreateExam(ctx context.Context, exam *Exam) error

	// GetExam 讀取場次，不存在時返回 ErrExamNotFound
	GetExam(ctx context.Context, examID string) (*Exam, error)

	// CreateRoom 建立試場
	CreateRoom(ctx context.Context, room *Room) error

	// GetRoom 讀取場次內的試場，不存在時返回 ErrInvalidRoom
	GetRoom(ctx context.Context, examID, roomID string) (*Room, error)

	// ListRooms 列出場次內的所有試場，依 Index 排序
	ListRooms(ctx context.Context, examID string) ([]*Room, error)

	// FindEntryByStudent 查詢考生在場次內的座位記錄，
	// 不存在時返回 ErrEntryNotFound
	FindEntryByStudent(ctx context.Context, examID, studentID string) (*RosterEntry, error)

	// ListEntriesByRoom 列出試場內的座位記錄，依 SeatIndex 排序
	ListEntriesByRoom(ctx context.Context, examID, roomID string) ([]*RosterEntry, error)

	// ListEntriesByExam 列出場次內的所有座位記錄
	ListEntriesByExam(ctx context.Context, examID string) ([]*RosterEntry, error)

	// CreateEntry 建立座位記錄
	//
	// 唯一約束：
	//   - (exam_id, student_id) 衝突 → ErrStudentAlreadyAssigned
	//   - (exam_id, room_id, seat_index) 衝突 → ErrRoomFull 由上層判定，
	//     存儲層返回 ErrSeatTaken 級別的衝突時同樣映射為重複分配
	CreateEntry(ctx context.Context, entry *RosterEntry) error

	// DeleteEntryByStudent 刪除考生在場次內的座位記錄並返回被刪除的記錄，
	// 不存在時返回 ErrEntryNotFound
	DeleteEntryByStudent(ctx context.Context, examID, studentID string) (*RosterEntry, error)
}

// Cache 快照快取接口
//
// 為什麼定義接口？
//   - 便於測試（可用 Mock 替代真實 Redis）
//   - 解耦具體實現（支持不同 Redis 庫）
//   - 簡化 API（只暴露需要的方法）
type Cache interface {
	// Get 讀取快取值，未命中時返回 (nil, nil)
	Get(ctx context.Context, key string) ([]byte, error)

	// Set 寫入快取值
	Set(ctx context.Context, key string, value []byte) error

	// Del 刪除快取值，鍵不存在為 no-op
	Del(ctx context.Context, key string) error
}
